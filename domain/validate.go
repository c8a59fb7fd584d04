package domain

import (
	"strings"
	"unicode/utf8"
)

const (
	maxSpaceNameLen = 100
	maxSpaceDescLen = 1000
)

// KnownSources enumerates the ingest sources this core recognises up
// front. ValidateIngestRequest does not consult it; it only rejects an
// empty source.
var KnownSources = map[string]bool{
	"chat":        true,
	"document":    true,
	"integration": true,
	"api":         true,
}

// ValidateIngestRequest checks a POST /ingest body before it is queued
// (spec §6: "Validation errors: HTTP 400 with error body. ... Missing
// workspace: 400").
func ValidateIngestRequest(req IngestRequest) error {
	if strings.TrimSpace(req.EpisodeBody) == "" {
		return NewValidationError("episodeBody", req.EpisodeBody, ErrEpisodeBodyEmpty)
	}
	if req.Source == "" {
		return NewValidationError("source", req.Source, ErrUnknownSource)
	}
	if req.WorkspaceID == "" {
		return NewValidationError("workspaceId", req.WorkspaceID, ErrWorkspaceRequired)
	}
	if req.Type != "" && req.Type != IngestConversation && req.Type != IngestDocument {
		return NewValidationError("type", string(req.Type), ErrUnknownSource)
	}
	return nil
}

// ValidateSpace checks a Space create/update payload (spec §6: "name
// length ≤ 100, description ≤ 1000").
func ValidateSpace(s Space) error {
	name := strings.TrimSpace(s.Name)
	if name == "" {
		return NewValidationError("name", s.Name, ErrSpaceNameRequired)
	}
	if utf8.RuneCountInString(name) > maxSpaceNameLen {
		return NewValidationError("name", s.Name, ErrSpaceNameTooLong)
	}
	if utf8.RuneCountInString(s.Description) > maxSpaceDescLen {
		return NewValidationError("description", s.Description, ErrSpaceDescTooLong)
	}
	if s.WorkspaceID == "" {
		return NewValidationError("workspaceId", s.WorkspaceID, ErrWorkspaceRequired)
	}
	return nil
}

// ValidatePagination checks page/limit query params for GET /ingest/logs.
func ValidatePagination(page, limit int) error {
	if page < 1 || limit < 1 || limit > 500 {
		return NewValidationError("page/limit", "", ErrInvalidPagination)
	}
	return nil
}
