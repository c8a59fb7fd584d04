// Package statementresolve implements C8: collecting candidate statements
// that might duplicate, contradict, or precede a batch of newly
// extracted triples, then asking the model to adjudicate (spec §4.8).
package statementresolve

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jmagar/core-sub000/domain"
	"github.com/jmagar/core-sub000/engine/llm"
)

const semanticThreshold = 0.85

// GraphStore is the C1 surface C8 needs across all four candidate phases.
type GraphStore interface {
	FindContradictoryStatements(ctx context.Context, subjectID, predicateID, userID string) ([]domain.Statement, error)
	FindStatementsWithSameSubjectObject(ctx context.Context, subjectID, objectID, userID, excludePredicateID string) ([]domain.Statement, error)
	FindSimilarStatements(ctx context.Context, embedding []float32, userID string, limit int, threshold float32) ([]domain.Statement, error)
	GetEpisodeStatements(ctx context.Context, episodeUUID string) ([]domain.Statement, error)
	GetTripleForStatement(ctx context.Context, statementUUID string) (domain.Triple, error)
}

// Generator is the C2 surface: one low-complexity adjudication call.
type Generator interface {
	Generate(ctx context.Context, opts llm.GenerateOpts) (llm.GenerateResult, error)
}

// NewTriple is one fully-resolved (entities already substituted) triple
// pending statement resolution, carrying the fact embedding C6 step 5
// already computed.
type NewTriple struct {
	domain.Triple
	FactEmbedding []float32
	ValidAt       time.Time
}

// Resolution is C8's output: the final triple set to persist (some
// replaced by the existing statement they duplicate), the statement uuids
// to invalidate, and accrued token usage.
type Resolution struct {
	Triples    []domain.Triple
	Invalidate []string
	Usage      domain.TokenUsage
}

// Resolver runs C8's candidate-collection + LLM adjudication pass.
type Resolver struct {
	store GraphStore
	gen   Generator
}

func New(store GraphStore, gen Generator) *Resolver {
	return &Resolver{store: store, gen: gen}
}

type adjudicationVerdict struct {
	StatementID    int      `json:"statementId"`
	IsDuplicate    bool     `json:"isDuplicate"`
	DuplicateID    string   `json:"duplicateId"`
	Contradictions []string `json:"contradictions"`
}

// Resolve runs C8 over a batch of new triples belonging to one episode.
// previousEpisodeUUIDs feeds phase 3's prior-episode candidate lookup.
func (r *Resolver) Resolve(ctx context.Context, userID string, previousEpisodeUUIDs []string, triples []NewTriple) (Resolution, error) {
	res := Resolution{Triples: make([]domain.Triple, len(triples))}
	for i, t := range triples {
		res.Triples[i] = t.Triple
	}

	candidatesByUUID := make(map[string]domain.Statement)
	for _, t := range triples {
		cands, err := r.collectCandidates(ctx, userID, t, previousEpisodeUUIDs)
		if err != nil {
			return res, err
		}
		for _, c := range cands {
			candidatesByUUID[c.UUID] = c
		}
	}

	if len(candidatesByUUID) == 0 {
		return res, nil
	}

	candidateTriples := make(map[string]domain.Triple, len(candidatesByUUID))
	for uuid := range candidatesByUUID {
		triple, err := r.store.GetTripleForStatement(ctx, uuid)
		if err != nil {
			return res, fmt.Errorf("statementresolve: hydrate candidate %s: %w", uuid, err)
		}
		candidateTriples[uuid] = triple
	}

	genRes, err := r.gen.Generate(ctx, llm.GenerateOpts{
		Complexity: llm.ComplexityLow,
		System:     adjudicationSystemPrompt,
		Prompt:     buildAdjudicationPrompt(triples, candidatesByUUID, candidateTriples),
	})
	if err != nil {
		return res, fmt.Errorf("statementresolve: generate: %w", err)
	}
	res.Usage.Add(genRes.Usage)

	var verdicts []adjudicationVerdict
	if err := llm.ParseEnvelopeJSON(genRes.Text, &verdicts); err != nil {
		// Conservative fallback: add every new triple unmodified, no
		// invalidations (spec §4.8).
		return res, nil
	}

	invalidateSet := make(map[string]bool)
	for _, v := range verdicts {
		if v.StatementID < 0 || v.StatementID >= len(triples) {
			continue
		}
		if v.IsDuplicate && v.DuplicateID != "" {
			res.Triples[v.StatementID].StatementID = v.DuplicateID
		}
		for _, c := range v.Contradictions {
			invalidateSet[c] = true
		}
	}
	for uuid := range invalidateSet {
		res.Invalidate = append(res.Invalidate, uuid)
	}

	return res, nil
}

func (r *Resolver) collectCandidates(ctx context.Context, userID string, t NewTriple, previousEpisodeUUIDs []string) ([]domain.Statement, error) {
	seen := make(map[string]bool)
	var out []domain.Statement
	add := func(stmts []domain.Statement) {
		for _, s := range stmts {
			if !seen[s.UUID] {
				seen[s.UUID] = true
				out = append(out, s)
			}
		}
	}

	// Phase 1a: exact (subject, predicate) match — direct contradiction.
	contradictory, err := r.store.FindContradictoryStatements(ctx, t.SubjectID, t.PredicateID, userID)
	if err != nil {
		return nil, fmt.Errorf("statementresolve: phase1a: %w", err)
	}
	add(contradictory)

	// Phase 1b: same (subject, object), different predicate — dimensional
	// contradiction.
	sameSubObj, err := r.store.FindStatementsWithSameSubjectObject(ctx, t.SubjectID, t.ObjectID, userID, t.PredicateID)
	if err != nil {
		return nil, fmt.Errorf("statementresolve: phase1b: %w", err)
	}
	add(sameSubObj)

	// Phase 2: semantic similarity over factEmbedding.
	if len(t.FactEmbedding) > 0 {
		similar, err := r.store.FindSimilarStatements(ctx, t.FactEmbedding, userID, 10, semanticThreshold)
		if err != nil {
			return nil, fmt.Errorf("statementresolve: phase2: %w", err)
		}
		add(similar)
	}

	// Phase 3: statements attached to previous episodes.
	for _, epUUID := range previousEpisodeUUIDs {
		stmts, err := r.store.GetEpisodeStatements(ctx, epUUID)
		if err != nil {
			return nil, fmt.Errorf("statementresolve: phase3(%s): %w", epUUID, err)
		}
		add(stmts)
	}

	return out, nil
}

const adjudicationSystemPrompt = `You adjudicate newly extracted facts against a user's existing statements. For each new fact, classify it as: a Duplicate of an existing statement (same meaning), a Contradiction/Superseding Evolution (mutually exclusive, or a state replacement like a job or location change — invalidate the old statement(s)), or a Progression/Temporal sequence (both facts can be true — keep both, no invalidation). Respond only with the requested <output> JSON array.`

func buildAdjudicationPrompt(triples []NewTriple, candidates map[string]domain.Statement, candidateTriples map[string]domain.Triple) string {
	var b strings.Builder
	b.WriteString("New facts:\n")
	for i, t := range triples {
		fmt.Fprintf(&b, "%d. %s\n", i, t.Fact)
	}
	b.WriteString("\nExisting candidate statements:\n")
	for uuid, s := range candidates {
		triple := candidateTriples[uuid]
		fmt.Fprintf(&b, "- %s: %q (%s %s %s)\n", uuid, s.Fact, triple.SubjectName, triple.PredicateName, triple.ObjectName)
	}
	b.WriteString("\nRespond with <output>[{\"statementId\": <new fact index>, \"isDuplicate\": bool, \"duplicateId\": \"<existing uuid or empty>\", \"contradictions\": [\"<uuid>\", ...]}, ...]</output>\n")
	return b.String()
}
