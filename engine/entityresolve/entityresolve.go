// Package entityresolve implements C7: deduplicating entities extracted
// from one episode against the existing graph before persistence (spec
// §4.7).
package entityresolve

import (
	"context"
	"fmt"
	"strings"

	"github.com/jmagar/core-sub000/domain"
	"github.com/jmagar/core-sub000/engine/llm"
)

const (
	candidateLimit      = 5
	similarityThreshold = 0.7
)

// GraphStore is the C1 surface C7 needs: similarity search for ordinary
// entities, exact-name matching for the universal Predicate role.
type GraphStore interface {
	FindSimilarEntities(ctx context.Context, embedding []float32, userID string, limit int, threshold float32) ([]domain.Entity, error)
	FindExactPredicateMatches(ctx context.Context, predicateName, userID string) ([]domain.Entity, error)
}

// Generator is the C2 surface: one low-complexity dedup verdict call.
type Generator interface {
	Generate(ctx context.Context, opts llm.GenerateOpts) (llm.GenerateResult, error)
}

// Extracted is one in-memory entity produced by C6 step 4, carrying the
// name embedding computed in that step's batched call.
type Extracted struct {
	Name          string
	Type          string // "" for untyped, "Predicate" for predicates
	NameEmbedding []float32
}

// Result is C7's output: every extracted name resolved to a uuid (either
// an existing entity's or a freshly minted one), plus the subset of
// freshly minted entities the caller still needs to persist.
type Result struct {
	ResolvedIDs map[string]string
	NewEntities []domain.Entity
	Usage       domain.TokenUsage
}

// Resolver runs C7's candidate search + LLM dedup pass.
type Resolver struct {
	store GraphStore
	gen   Generator
}

func New(store GraphStore, gen Generator) *Resolver {
	return &Resolver{store: store, gen: gen}
}

type candidateSet struct {
	entity     Extracted
	candidates []domain.Entity
}

type verdict struct {
	ID           int    `json:"id"`
	Name         string `json:"name"`
	DuplicateIdx int    `json:"duplicate_idx"`
}

// Resolve runs C7 over every distinct extracted entity name. newUUID
// mints identifiers for entities judged new; it's a parameter (rather
// than a direct uuid.New call) so tests can supply deterministic ids.
func (r *Resolver) Resolve(ctx context.Context, userID string, entities []Extracted, newUUID func() string) (Result, error) {
	res := Result{ResolvedIDs: make(map[string]string, len(entities))}

	var sets []candidateSet
	for _, e := range entities {
		if _, ok := res.ResolvedIDs[e.Name]; ok {
			continue
		}

		var candidates []domain.Entity
		var err error
		if e.Type == "Predicate" {
			candidates, err = r.store.FindExactPredicateMatches(ctx, e.Name, userID)
		} else {
			candidates, err = r.store.FindSimilarEntities(ctx, e.NameEmbedding, userID, candidateLimit, similarityThreshold)
			candidates = filterByType(candidates, e.Type)
		}
		if err != nil {
			return res, fmt.Errorf("entityresolve: candidate search for %q: %w", e.Name, err)
		}

		// Predicate rule: an identical predicate name is always a
		// duplicate regardless of context (spec §4.7, predicates are
		// universal) — no LLM call needed.
		if e.Type == "Predicate" {
			res.resolveDirect(e, candidates, newUUID, userID)
			continue
		}

		if len(candidates) == 0 {
			res.resolveAsNew(e, newUUID, userID)
			continue
		}
		sets = append(sets, candidateSet{entity: e, candidates: candidates})
	}

	if len(sets) == 0 {
		return res, nil
	}

	genRes, err := r.gen.Generate(ctx, llm.GenerateOpts{
		Complexity: llm.ComplexityLow,
		System:     dedupSystemPrompt,
		Prompt:     buildDedupPrompt(sets),
	})
	if err != nil {
		return res, fmt.Errorf("entityresolve: generate: %w", err)
	}
	res.Usage.Add(genRes.Usage)

	var verdicts []verdict
	if err := llm.ParseEnvelopeJSON(genRes.Text, &verdicts); err != nil {
		// Conservative fallback: unparseable output keeps every triple
		// unmodified, i.e. every pending entity is treated as new.
		for _, s := range sets {
			res.resolveAsNew(s.entity, newUUID, userID)
		}
		return res, nil
	}

	resolved := make(map[int]bool, len(sets))
	for _, v := range verdicts {
		if v.ID < 0 || v.ID >= len(sets) {
			continue
		}
		s := sets[v.ID]
		resolved[v.ID] = true
		if v.DuplicateIdx >= 0 && v.DuplicateIdx < len(s.candidates) {
			res.ResolvedIDs[s.entity.Name] = s.candidates[v.DuplicateIdx].UUID
			continue
		}
		res.resolveAsNew(s.entity, newUUID, userID)
	}
	// Anything the model silently dropped still needs a resolution;
	// conservative default is new, same as an unparseable response.
	for i, s := range sets {
		if !resolved[i] {
			res.resolveAsNew(s.entity, newUUID, userID)
		}
	}

	return res, nil
}

func (res *Result) resolveDirect(e Extracted, candidates []domain.Entity, newUUID func() string, userID string) {
	if len(candidates) > 0 {
		res.ResolvedIDs[e.Name] = candidates[0].UUID
		return
	}
	res.resolveAsNew(e, newUUID, userID)
}

func (res *Result) resolveAsNew(e Extracted, newUUID func() string, userID string) {
	id := newUUID()
	res.ResolvedIDs[e.Name] = id
	res.NewEntities = append(res.NewEntities, domain.Entity{
		UUID:          id,
		Name:          e.Name,
		Type:          e.Type,
		UserID:        userID,
		NameEmbedding: e.NameEmbedding,
	})
}

func filterByType(candidates []domain.Entity, typ string) []domain.Entity {
	if typ == "" {
		return candidates
	}
	out := make([]domain.Entity, 0, len(candidates))
	for _, c := range candidates {
		if c.Type == typ {
			out = append(out, c)
		}
	}
	return out
}

const dedupSystemPrompt = `You resolve newly extracted entities against existing candidates from the same user's knowledge graph. For each listed entity, decide whether it refers to the same real-world thing as one of its numbered candidates, or is genuinely new. Respond only with the requested <output> JSON array.`

func buildDedupPrompt(sets []candidateSet) string {
	var b strings.Builder
	b.WriteString("Entities to resolve:\n")
	for i, s := range sets {
		fmt.Fprintf(&b, "%d. %q\n", i, s.entity.Name)
		for j, c := range s.candidates {
			fmt.Fprintf(&b, "   candidate[%d]: %s\n", j, c.Name)
		}
	}
	b.WriteString("\nRespond with <output>[{\"id\": <int>, \"name\": \"<entity name>\", \"duplicate_idx\": <candidate index or -1 for new>}, ...]</output>\n")
	return b.String()
}
