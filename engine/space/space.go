// Package space implements C10: CRUD over user-defined Spaces, manual and
// LLM-driven assignment of statements to them, and the growth-threshold
// trigger that schedules space-pattern analysis (spec §4.10).
package space

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jmagar/core-sub000/domain"
	"github.com/jmagar/core-sub000/engine/llm"
)

// GrowthThreshold is the statement-count delta that fires a
// space-pattern-analysis trigger (spec §4.10).
const GrowthThreshold = 100

const (
	methodManual = "manual"
	methodLLM    = "llm"
)

// GraphStore is the C1 surface C10 needs.
type GraphStore interface {
	SaveSpace(ctx context.Context, sp domain.Space) error
	GetSpacesForWorkspace(ctx context.Context, workspaceID string) ([]domain.Space, error)
	GetSpaceByName(ctx context.Context, workspaceID, name string) (domain.Space, bool, error)
	GetSpaceByUUID(ctx context.Context, spaceUUID string) (domain.Space, bool, error)
	AssignStatementToSpace(ctx context.Context, statementUUID, spaceUUID, method string) error
	RemoveStatementFromSpace(ctx context.Context, statementUUID, spaceUUID string) error
	GetSpaceStatements(ctx context.Context, spaceUUID, userID string) ([]domain.Statement, error)
	GetValidStatements(ctx context.Context, userID string) ([]domain.Statement, error)
	DeleteSpace(ctx context.Context, spaceUUID string) error
	MarkSpaceAnalyzed(ctx context.Context, spaceUUID string, expectedCount, newCount int) (bool, error)
}

// Generator is the C2 surface: one low-complexity call per batch of
// statements pending LLM-driven space assignment.
type Generator interface {
	Generate(ctx context.Context, opts llm.GenerateOpts) (llm.GenerateResult, error)
}

// Service runs C10's CRUD, assignment, and trigger operations.
type Service struct {
	store GraphStore
	gen   Generator
}

func New(store GraphStore, gen Generator) *Service {
	return &Service{store: store, gen: gen}
}

// nowFunc is overridden in tests for deterministic timestamps.
var nowFunc = time.Now

// CreateSpace validates params, enforces per-workspace name uniqueness
// (spec §3 "name unique per workspaceId"), and persists a new Space.
func (s *Service) CreateSpace(ctx context.Context, sp domain.Space, newUUID func() string) (domain.Space, error) {
	if err := domain.ValidateSpace(sp); err != nil {
		return domain.Space{}, err
	}

	if _, taken, err := s.store.GetSpaceByName(ctx, sp.WorkspaceID, sp.Name); err != nil {
		return domain.Space{}, fmt.Errorf("space: check name: %w", err)
	} else if taken {
		return domain.Space{}, domain.NewValidationError("name", sp.Name, domain.ErrSpaceNameTaken)
	}

	now := nowFunc()
	sp.UUID = newUUID()
	sp.IsActive = true
	sp.CreatedAt = now
	sp.UpdatedAt = now
	if err := s.store.SaveSpace(ctx, sp); err != nil {
		return domain.Space{}, fmt.Errorf("space: save: %w", err)
	}
	return sp, nil
}

// UpdateSpace changes a Space's name/description, re-checking name
// uniqueness only when the name actually changes.
func (s *Service) UpdateSpace(ctx context.Context, spaceUUID, name, description string) (domain.Space, error) {
	sp, ok, err := s.store.GetSpaceByUUID(ctx, spaceUUID)
	if err != nil {
		return domain.Space{}, fmt.Errorf("space: lookup: %w", err)
	}
	if !ok {
		return domain.Space{}, domain.ErrSpaceNotFound
	}

	updated := sp
	updated.Name = name
	updated.Description = description
	if err := domain.ValidateSpace(updated); err != nil {
		return domain.Space{}, err
	}

	if updated.Name != sp.Name {
		if _, taken, err := s.store.GetSpaceByName(ctx, sp.WorkspaceID, updated.Name); err != nil {
			return domain.Space{}, fmt.Errorf("space: check name: %w", err)
		} else if taken {
			return domain.Space{}, domain.NewValidationError("name", updated.Name, domain.ErrSpaceNameTaken)
		}
	}

	updated.UpdatedAt = nowFunc()
	if err := s.store.SaveSpace(ctx, updated); err != nil {
		return domain.Space{}, fmt.Errorf("space: save: %w", err)
	}
	return updated, nil
}

// DeleteSpace soft-deletes a Space; the store scrubs its uuid from every
// Statement's spaceIds (spec §8 invariant 7).
func (s *Service) DeleteSpace(ctx context.Context, spaceUUID string) error {
	if _, ok, err := s.store.GetSpaceByUUID(ctx, spaceUUID); err != nil {
		return fmt.Errorf("space: lookup: %w", err)
	} else if !ok {
		return domain.ErrSpaceNotFound
	}
	return s.store.DeleteSpace(ctx, spaceUUID)
}

// AssignStatement manually assigns one statement to a space, recording
// spaceAssignmentMethod=manual (spec §4.10).
func (s *Service) AssignStatement(ctx context.Context, statementUUID, spaceUUID string) error {
	return s.store.AssignStatementToSpace(ctx, statementUUID, spaceUUID, methodManual)
}

// RemoveStatement unassigns one statement from a space.
func (s *Service) RemoveStatement(ctx context.Context, statementUUID, spaceUUID string) error {
	return s.store.RemoveStatementFromSpace(ctx, statementUUID, spaceUUID)
}

// GetStatements returns every valid statement currently assigned to a
// space.
func (s *Service) GetStatements(ctx context.Context, spaceUUID, userID string) ([]domain.Statement, error) {
	return s.store.GetSpaceStatements(ctx, spaceUUID, userID)
}

// AssignmentResult summarizes one AssignUnassignedStatements pass.
type AssignmentResult struct {
	Assigned int
	Usage    domain.TokenUsage
}

type assignmentVerdict struct {
	StatementID int    `json:"statementId"`
	SpaceID     string `json:"spaceId"`
}

// AssignUnassignedStatements runs C10's background LLM-driven assignment
// pass: every valid statement in workspaceID with no spaceIds yet is
// offered to the model against the workspace's active spaces, and
// accepted verdicts are recorded with spaceAssignmentMethod=llm.
func (s *Service) AssignUnassignedStatements(ctx context.Context, userID, workspaceID string) (AssignmentResult, error) {
	var res AssignmentResult

	spaces, err := s.store.GetSpacesForWorkspace(ctx, workspaceID)
	if err != nil {
		return res, fmt.Errorf("space: list spaces: %w", err)
	}
	if len(spaces) == 0 {
		return res, nil
	}

	statements, err := s.store.GetValidStatements(ctx, userID)
	if err != nil {
		return res, fmt.Errorf("space: list statements: %w", err)
	}
	var pending []domain.Statement
	for _, st := range statements {
		if len(st.SpaceIDs) == 0 {
			pending = append(pending, st)
		}
	}
	if len(pending) == 0 {
		return res, nil
	}

	genRes, err := s.gen.Generate(ctx, llm.GenerateOpts{
		Complexity: llm.ComplexityLow,
		System:     assignmentSystemPrompt,
		Prompt:     buildAssignmentPrompt(spaces, pending),
	})
	if err != nil {
		return res, fmt.Errorf("space: generate: %w", err)
	}
	res.Usage.Add(genRes.Usage)

	var verdicts []assignmentVerdict
	if err := llm.ParseEnvelopeJSON(genRes.Text, &verdicts); err != nil {
		// Conservative fallback: leave every pending statement unassigned,
		// matching the resolver conservatism rule elsewhere in the engine.
		return res, nil
	}

	validSpace := make(map[string]bool, len(spaces))
	for _, sp := range spaces {
		validSpace[sp.UUID] = true
	}

	for _, v := range verdicts {
		if v.StatementID < 0 || v.StatementID >= len(pending) || v.SpaceID == "" || !validSpace[v.SpaceID] {
			continue
		}
		if err := s.store.AssignStatementToSpace(ctx, pending[v.StatementID].UUID, v.SpaceID, methodLLM); err != nil {
			return res, fmt.Errorf("space: assign %s: %w", pending[v.StatementID].UUID, err)
		}
		res.Assigned++
	}
	return res, nil
}

// CheckGrowthTrigger compares a space's current statement count against
// its last-analysed baseline and, if the trigger condition holds
// (spec §4.10: delta ≥ GrowthThreshold, or never analysed), atomically
// claims the trigger via a compare-and-set on the baseline counter. A
// true result means this call won the race and the caller should now run
// pattern analysis; a concurrent caller that loses the race sees false.
func (s *Service) CheckGrowthTrigger(ctx context.Context, spaceUUID, userID string) (bool, error) {
	sp, ok, err := s.store.GetSpaceByUUID(ctx, spaceUUID)
	if err != nil {
		return false, fmt.Errorf("space: lookup: %w", err)
	}
	if !ok {
		return false, domain.ErrSpaceNotFound
	}

	statements, err := s.store.GetSpaceStatements(ctx, spaceUUID, userID)
	if err != nil {
		return false, fmt.Errorf("space: statements: %w", err)
	}
	current := len(statements)

	neverAnalyzed := sp.LastPatternTrigger == nil
	delta := current - sp.StatementCountAtLastTrigger
	if !neverAnalyzed && delta < GrowthThreshold {
		return false, nil
	}

	return s.store.MarkSpaceAnalyzed(ctx, spaceUUID, sp.StatementCountAtLastTrigger, current)
}

const assignmentSystemPrompt = `You assign newly created facts to the user-defined topic spaces they belong to, if any. Each space has a name and description; a fact belongs to a space when it clearly falls within that space's topic. A fact with no clear matching space should be left unassigned. Respond only with the requested <output> JSON array.`

func buildAssignmentPrompt(spaces []domain.Space, statements []domain.Statement) string {
	var b strings.Builder
	b.WriteString("Spaces:\n")
	for _, sp := range spaces {
		fmt.Fprintf(&b, "- %s: %q — %s\n", sp.UUID, sp.Name, sp.Description)
	}
	b.WriteString("\nFacts to assign:\n")
	for i, st := range statements {
		fmt.Fprintf(&b, "%d. %s\n", i, st.Fact)
	}
	b.WriteString("\nRespond with <output>[{\"statementId\": <int>, \"spaceId\": \"<space uuid or empty for no match>\"}, ...]</output>\n")
	return b.String()
}
