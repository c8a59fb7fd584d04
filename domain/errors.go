package domain

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors for validation failures.
var (
	ErrEpisodeBodyEmpty  = errors.New("episode body is empty")
	ErrUnknownSource     = errors.New("unknown ingest source")
	ErrWorkspaceRequired = errors.New("workspace ID is required")
	ErrSpaceNameRequired = errors.New("space name is required")
	ErrSpaceNameTooLong  = errors.New("space name exceeds 100 characters")
	ErrSpaceDescTooLong  = errors.New("space description exceeds 1000 characters")
	ErrSpaceNameTaken    = errors.New("space name already in use for this workspace")
	ErrSpaceNotFound     = errors.New("space not found")
	ErrInvalidPagination = errors.New("invalid page/limit")
)

// ValidationError wraps a sentinel with the offending field/value. Surfaced
// as HTTP 400 (spec §7).
type ValidationError struct {
	Field   string
	Value   string
	Wrapped error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s: %s (value=%q)", e.Wrapped, e.Field, e.Value)
}

func (e *ValidationError) Unwrap() error { return e.Wrapped }

// NewValidationError creates a ValidationError.
func NewValidationError(field, value string, wrapped error) *ValidationError {
	return &ValidationError{Field: field, Value: value, Wrapped: wrapped}
}

// AuthError surfaces as HTTP 401/403 (spec §7).
type AuthError struct {
	Reason  string
	Status  int // 401 or 403
	Wrapped error
}

func (e *AuthError) Error() string {
	if e.Wrapped != nil {
		return fmt.Sprintf("auth: %s: %v", e.Reason, e.Wrapped)
	}
	return fmt.Sprintf("auth: %s", e.Reason)
}

func (e *AuthError) Unwrap() error { return e.Wrapped }

func NewAuthError(reason string, status int) *AuthError {
	return &AuthError{Reason: reason, Status: status}
}

// StoreError wraps a graph/vector/relational store failure. A job carrying
// one fails; the queue entry's status becomes FAILED (spec §7).
type StoreError struct {
	Op      string
	Wrapped error
}

func (e *StoreError) Error() string { return fmt.Sprintf("store: %s: %v", e.Op, e.Wrapped) }
func (e *StoreError) Unwrap() error { return e.Wrapped }

func NewStoreError(op string, wrapped error) *StoreError {
	return &StoreError{Op: op, Wrapped: wrapped}
}

// AdapterError wraps an embedding/LLM adapter failure. Fatal for the
// current step unless a documented fallback exists (spec §7).
type AdapterError struct {
	Adapter string
	Wrapped error
}

func (e *AdapterError) Error() string { return fmt.Sprintf("adapter(%s): %v", e.Adapter, e.Wrapped) }
func (e *AdapterError) Unwrap() error { return e.Wrapped }

func NewAdapterError(adapter string, wrapped error) *AdapterError {
	return &AdapterError{Adapter: adapter, Wrapped: wrapped}
}

// ParseError wraps an unparseable LLM response envelope. Callers apply the
// documented conservative fallback (spec §7).
type ParseError struct {
	Stage   string
	Wrapped error
}

func (e *ParseError) Error() string { return fmt.Sprintf("parse(%s): %v", e.Stage, e.Wrapped) }
func (e *ParseError) Unwrap() error { return e.Wrapped }

func NewParseError(stage string, wrapped error) *ParseError {
	return &ParseError{Stage: stage, Wrapped: wrapped}
}

// CancellationError marks a job cancelled mid-flight; the entry becomes
// FAILED("cancelled") with no retry (spec §7).
type CancellationError struct{}

func (e *CancellationError) Error() string { return "cancelled" }

var ErrCancelled = &CancellationError{}

// SchemaInitError is logged but non-fatal: the caller may proceed if the
// expected indexes already exist (spec §4.1).
type SchemaInitError struct {
	Wrapped error
}

func (e *SchemaInitError) Error() string { return fmt.Sprintf("schema init: %v", e.Wrapped) }
func (e *SchemaInitError) Unwrap() error { return e.Wrapped }

// StatusCode maps a domain error to an HTTP status code for cmd/api.
func StatusCode(err error) int {
	var ve *ValidationError
	var ae *AuthError
	switch {
	case errors.As(err, &ve):
		return http.StatusBadRequest
	case errors.As(err, &ae):
		if ae.Status != 0 {
			return ae.Status
		}
		return http.StatusUnauthorized
	case errors.Is(err, ErrSpaceNotFound):
		return http.StatusNotFound
	case err == nil:
		return http.StatusOK
	default:
		return http.StatusInternalServerError
	}
}
