// Package ingest implements C6: the pure orchestration that turns one
// IngestRequest into persisted Episode/Entity/Statement graph state,
// calling out to C1 (graph store), C2 (embedding/generation), C7
// (entity resolution), and C8 (statement resolution) in the order spec
// §4.6 specifies.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jmagar/core-sub000/domain"
	"github.com/jmagar/core-sub000/engine/entityresolve"
	"github.com/jmagar/core-sub000/engine/llm"
	"github.com/jmagar/core-sub000/engine/statementresolve"
	"github.com/jmagar/core-sub000/pkg/fn"
)

// defaultEpisodeWindow is spec §4.6 step 1's DEFAULT_EPISODE_WINDOW.
const defaultEpisodeWindow = 5

// relatedEpisodeLimit/relatedStatementLimit/relatedMemoryThreshold are
// spec §4.6's "related memories" fan-out
// parameters (up to 5 episodes and 10 statements at cosine >= 0.75).
const (
	relatedEpisodeLimit     = 5
	relatedStatementLimit   = 10
	relatedMemoryThreshold  = 0.75
)

// EpisodeStore is the C1 surface for episode/entity/statement lifecycle
// beyond what C7/C8's own interfaces already cover.
type EpisodeStore interface {
	GetRecentEpisodes(ctx context.Context, userID, source, sessionID, referenceTime string, limit int) ([]domain.Episode, error)
	SaveEpisode(ctx context.Context, e domain.Episode) error
	SaveEntity(ctx context.Context, e domain.Entity) error
	SaveTriple(ctx context.Context, episodeUUID string, st domain.Statement) error
	InvalidateStatements(ctx context.Context, statementIDs []string, invalidatedBy string) error
}

// RelatedMemoryStore backs the "related memories" fragment handed into
// normalization.
type RelatedMemoryStore interface {
	SearchEpisodesByEmbedding(ctx context.Context, embedding []float32, userID string, limit int, threshold float32) ([]domain.Episode, error)
	FindSimilarStatements(ctx context.Context, embedding []float32, userID string, limit int, threshold float32) ([]domain.Statement, error)
}

// Embedder is C2's vector-generation surface.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Generator is C2's completion surface.
type Generator interface {
	Generate(ctx context.Context, opts llm.GenerateOpts) (llm.GenerateResult, error)
}

// Deps wires every adapter/store/resolver the pipeline depends on.
type Deps struct {
	Episodes         EpisodeStore
	RelatedMemory    RelatedMemoryStore
	Embedder         Embedder
	Generator        Generator
	EntityResolver   *entityresolve.Resolver
	StatementResolver *statementresolve.Resolver
	Metrics          *Metrics
	Logger           *slog.Logger
	NewUUID          func() string
}

func (d Deps) log() *slog.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return slog.Default()
}

func (d Deps) newUUID() string {
	if d.NewUUID != nil {
		return d.NewUUID()
	}
	return domain.NewID()
}

// errNothingToRemember signals the normalization sentinel (spec §4.6
// step 2): the job succeeds with zero statements and no persisted
// episode, not a pipeline failure.
var errNothingToRemember = fmt.Errorf("ingest: %s", domain.NothingToRemember)

// state threads accumulated pipeline data across C6's eight steps.
type state struct {
	req              domain.IngestRequest
	userID           string
	previousEpisodes []domain.Episode
	sessionContext   string
	relatedMemories  string
	episode          domain.Episode
	extractedNames   []string
	entities         []entityresolve.Extracted
	rawTriples       []rawTriple
	newTriples       []statementresolve.NewTriple
	resolvedEntities entityresolve.Result
	resolution       statementresolve.Resolution
	usage            domain.TokenUsage
}

type rawTriple struct {
	Source     string         `json:"source"`
	Predicate  string         `json:"predicate"`
	Target     string         `json:"target"`
	Fact       string         `json:"fact"`
	Attributes domain.Attributes `json:"attributes,omitempty"`
}

// Run executes C6's full pipeline for one IngestRequest and returns the
// IngestOutput the queue entry is finalized with.
func Run(ctx context.Context, deps Deps, req domain.IngestRequest) (*domain.IngestOutput, error) {
	start := time.Now()
	st := state{req: req, userID: req.UserID}
	log := deps.log()

	stages := fn.Pipeline(
		traced("context-retrieval", deps, contextRetrievalStage(deps)),
		traced("normalization", deps, normalizationStage(deps)),
		traced("episode-creation", deps, episodeCreationStage(deps)),
		traced("entity-extraction", deps, entityExtractionStage(deps)),
		traced("statement-extraction", deps, statementExtractionStage(deps)),
		traced("entity-resolution", deps, entityResolutionStage(deps)),
		traced("statement-resolution", deps, statementResolutionStage(deps)),
		traced("persistence", deps, persistenceStage(deps)),
	)

	result := stages(ctx, st)
	if result.IsErr() {
		_, err := result.Unwrap()
		if err == errNothingToRemember {
			log.Info("ingest: nothing to remember", "user_id", req.UserID)
			return &domain.IngestOutput{StatementsCreated: 0}, nil
		}
		if deps.Metrics != nil {
			deps.Metrics.RecordFailure()
		}
		return nil, err
	}

	final, _ := result.Unwrap()
	if deps.Metrics != nil {
		deps.Metrics.RecordSuccess(time.Since(start), final.usage)
	}

	return &domain.IngestOutput{
		EpisodeUUID:           final.episode.UUID,
		StatementsCreated:     len(final.resolution.Triples),
		StatementsInvalidated: len(final.resolution.Invalidate),
		Tokens:                final.usage,
	}, nil
}

// traced wraps one step with the teacher's entry/exit logging pattern
// plus a per-step latency observation (spec §4.11's "per-step latency
// histograms").
func traced(name string, deps Deps, stage fn.Stage[state, state]) fn.Stage[state, state] {
	log := deps.log()
	metrics := deps.Metrics
	return func(ctx context.Context, s state) fn.Result[state] {
		log.Info("ingest.stage.enter", "stage", name)
		start := time.Now()
		result := stage(ctx, s)
		dur := time.Since(start)
		if metrics != nil {
			metrics.ObserveStage(name, dur)
		}
		log.Info("ingest.stage.exit", "stage", name, "duration", dur)
		return result
	}
}

// contextRetrievalStage is spec §4.6 step 1, with the "related memories"
// fan-out (spec's explicit fan-out point) run alongside it rather than
// strictly before, since the two use disjoint state fields.
func contextRetrievalStage(deps Deps) fn.Stage[state, state] {
	return func(ctx context.Context, s state) fn.Result[state] {
		refTime := s.req.ReferenceTime
		if refTime.IsZero() {
			refTime = time.Now().UTC()
		}
		episodes, err := deps.Episodes.GetRecentEpisodes(ctx, s.userID, s.req.Source, s.req.SessionID, refTime.Format(time.RFC3339Nano), defaultEpisodeWindow)
		if err != nil {
			return fn.Err[state](fmt.Errorf("context retrieval: %w", err))
		}
		s.previousEpisodes = episodes
		if s.req.SessionID != "" {
			s.sessionContext = serializeSessionContext(episodes)
		}

		bodyEmbedding, err := deps.Embedder.Embed(ctx, s.req.EpisodeBody)
		if err != nil {
			return fn.Err[state](fmt.Errorf("related memories embed: %w", err))
		}
		relatedEpisodes, err := deps.RelatedMemory.SearchEpisodesByEmbedding(ctx, bodyEmbedding, s.userID, relatedEpisodeLimit, relatedMemoryThreshold)
		if err != nil {
			return fn.Err[state](fmt.Errorf("related episodes: %w", err))
		}
		relatedStatements, err := deps.RelatedMemory.FindSimilarStatements(ctx, bodyEmbedding, s.userID, relatedStatementLimit, relatedMemoryThreshold)
		if err != nil {
			return fn.Err[state](fmt.Errorf("related statements: %w", err))
		}
		s.relatedMemories = formatRelatedMemories(relatedEpisodes, relatedStatements)

		return fn.Ok(s)
	}
}

func serializeSessionContext(episodes []domain.Episode) string {
	var b strings.Builder
	for _, e := range episodes {
		fmt.Fprintf(&b, "[%s] %s\n", e.ValidAt.Format(time.RFC3339), e.Content)
	}
	return b.String()
}

func formatRelatedMemories(episodes []domain.Episode, statements []domain.Statement) string {
	if len(episodes) == 0 && len(statements) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("## Related memories\n")
	for _, e := range episodes {
		fmt.Fprintf(&b, "- episode: %s\n", e.Content)
	}
	for _, s := range statements {
		fmt.Fprintf(&b, "- fact: %s\n", s.Fact)
	}
	return b.String()
}

// normalizationStage is spec §4.6 step 2.
func normalizationStage(deps Deps) fn.Stage[state, state] {
	return func(ctx context.Context, s state) fn.Result[state] {
		res, err := deps.Generator.Generate(ctx, llm.GenerateOpts{
			Complexity: llm.ComplexityHigh,
			System:     normalizationSystemPrompt(s.req.Type),
			Prompt:     buildNormalizationPrompt(s),
		})
		if err != nil {
			return fn.Err[state](fmt.Errorf("normalization: %w", err))
		}
		s.usage.Add(res.Usage)

		// A completion missing the <output> wrapper falls back to the raw
		// trimmed text rather than failing the job (spec §4.2, §7): an
		// empty or NOTHING_TO_REMEMBER result either way short-circuits
		// to the zero-statement/COMPLETED path below.
		content, err := llm.ParseEnvelope(res.Text)
		if err != nil {
			content = res.Text
		}
		content = strings.TrimSpace(content)
		if content == "" || content == domain.NothingToRemember {
			return fn.Err[state](errNothingToRemember)
		}
		s.episode.Content = content
		return fn.Ok(s)
	}
}

// episodeCreationStage is spec §4.6 step 3.
func episodeCreationStage(deps Deps) fn.Stage[state, state] {
	return func(ctx context.Context, s state) fn.Result[state] {
		embedding, err := deps.Embedder.Embed(ctx, s.episode.Content)
		if err != nil {
			return fn.Err[state](fmt.Errorf("episode embedding: %w", err))
		}
		refTime := s.req.ReferenceTime
		if refTime.IsZero() {
			refTime = time.Now().UTC()
		}
		s.episode.UUID = deps.newUUID()
		s.episode.OriginalContent = s.req.EpisodeBody
		s.episode.ContentEmbedding = embedding
		s.episode.Source = s.req.Source
		s.episode.CreatedAt = time.Now().UTC()
		s.episode.ValidAt = refTime
		s.episode.UserID = s.userID
		s.episode.SessionID = s.req.SessionID
		s.episode.Metadata = stringifyMetadata(s.req.Metadata)
		return fn.Ok(s)
	}
}

func stringifyMetadata(m map[string]any) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = fmt.Sprintf("%v", v)
	}
	return out
}

// entityExtractionStage is spec §4.6 step 4.
func entityExtractionStage(deps Deps) fn.Stage[state, state] {
	return func(ctx context.Context, s state) fn.Result[state] {
		res, err := deps.Generator.Generate(ctx, llm.GenerateOpts{
			Complexity: llm.ComplexityHigh,
			System:     entityExtractionSystemPrompt,
			Prompt:     buildEntityExtractionPrompt(s),
		})
		if err != nil {
			return fn.Err[state](fmt.Errorf("entity extraction: %w", err))
		}
		s.usage.Add(res.Usage)

		var names []string
		if err := llm.ParseEnvelopeJSON(res.Text, &names); err != nil {
			return fn.Err[state](fmt.Errorf("entity extraction: %w", err))
		}
		s.extractedNames = names

		embeddings, err := deps.Embedder.EmbedBatch(ctx, names)
		if err != nil {
			return fn.Err[state](fmt.Errorf("entity name embed: %w", err))
		}
		entities := make([]entityresolve.Extracted, len(names))
		for i, n := range names {
			entities[i] = entityresolve.Extracted{Name: n, NameEmbedding: embeddings[i]}
		}
		s.entities = entities
		return fn.Ok(s)
	}
}

// statementExtractionStage is spec §4.6 step 5, including the three
// batched embedding calls spec §5 names as the pipeline's one other
// explicit fan-out point (predicate names, the constant "Predicate"
// type token, fact texts).
func statementExtractionStage(deps Deps) fn.Stage[state, state] {
	return func(ctx context.Context, s state) fn.Result[state] {
		res, err := deps.Generator.Generate(ctx, llm.GenerateOpts{
			Complexity: llm.ComplexityHigh,
			System:     statementExtractionSystemPrompt,
			Prompt:     buildStatementExtractionPrompt(s),
		})
		if err != nil {
			return fn.Err[state](fmt.Errorf("statement extraction: %w", err))
		}
		s.usage.Add(res.Usage)

		var raw []rawTriple
		if err := llm.ParseEnvelopeJSON(res.Text, &raw); err != nil {
			return fn.Err[state](fmt.Errorf("statement extraction: %w", err))
		}

		available := make(map[string]bool, len(s.extractedNames))
		for _, n := range s.extractedNames {
			available[strings.ToLower(n)] = true
		}

		var kept []rawTriple
		predicateSeen := make(map[string]bool)
		var predicateNames []string
		for _, t := range raw {
			if strings.EqualFold(t.Source, t.Target) {
				continue // self-loops rejected (spec §4.6 step 5)
			}
			if !available[strings.ToLower(t.Source)] || !available[strings.ToLower(t.Target)] {
				continue // source/target must match an available entity name
			}
			kept = append(kept, t)
			if !predicateSeen[t.Predicate] {
				predicateSeen[t.Predicate] = true
				predicateNames = append(predicateNames, t.Predicate)
			}
		}
		s.rawTriples = kept

		facts := make([]string, len(kept))
		for i, t := range kept {
			facts[i] = t.Fact
		}

		type embedBatch struct {
			vecs [][]float32
			err  error
		}
		results := fn.FanOut(
			func() embedBatch { v, err := deps.Embedder.EmbedBatch(ctx, predicateNames); return embedBatch{v, err} },
			func() embedBatch { v, err := deps.Embedder.EmbedBatch(ctx, []string{"Predicate"}); return embedBatch{v, err} },
			func() embedBatch { v, err := deps.Embedder.EmbedBatch(ctx, facts); return embedBatch{v, err} },
		)
		for _, r := range results {
			if r.err != nil {
				return fn.Err[state](fmt.Errorf("statement extraction embed: %w", r.err))
			}
		}
		predicateEmbeddings, typeTokenEmbedding, factEmbeddings := results[0].vecs, results[1].vecs[0], results[2].vecs

		predicateIndex := make(map[string]int, len(predicateNames))
		for i, n := range predicateNames {
			predicateIndex[n] = i
		}
		for _, n := range predicateNames {
			s.entities = append(s.entities, entityresolve.Extracted{
				Name:          n,
				Type:          "Predicate",
				NameEmbedding: avgWithTypeToken(predicateEmbeddings[predicateIndex[n]], typeTokenEmbedding),
			})
		}

		newTriples := make([]statementresolve.NewTriple, len(kept))
		for i, t := range kept {
			validAt := s.episode.ValidAt
			if t.Attributes != nil {
				if ts, ok := t.Attributes.EventDate(); ok {
					validAt = ts
				}
			}
			newTriples[i] = statementresolve.NewTriple{
				Triple: domain.Triple{
					SubjectName:   t.Source,
					PredicateName: t.Predicate,
					ObjectName:    t.Target,
					Fact:          t.Fact,
					Attributes:    t.Attributes,
				},
				FactEmbedding: factEmbeddings[i],
			}
			newTriples[i].ValidAt = validAt
		}
		s.newTriples = newTriples
		return fn.Ok(s)
	}
}

// avgWithTypeToken blends a predicate name embedding with the constant
// "Predicate" type-token embedding, matching spec §4.6 step 5's
// three-way batched embed (names + type token + facts) feeding a single
// vector per predicate entity.
func avgWithTypeToken(name, typeToken []float32) []float32 {
	if len(name) == 0 {
		return typeToken
	}
	if len(typeToken) != len(name) {
		return name
	}
	out := make([]float32, len(name))
	for i := range name {
		out[i] = (name[i] + typeToken[i]) / 2
	}
	return out
}

// entityResolutionStage is spec §4.6 step 6 / §4.7.
func entityResolutionStage(deps Deps) fn.Stage[state, state] {
	return func(ctx context.Context, s state) fn.Result[state] {
		resolved, err := deps.EntityResolver.Resolve(ctx, s.userID, s.entities, deps.newUUID)
		if err != nil {
			return fn.Err[state](fmt.Errorf("entity resolution: %w", err))
		}
		s.usage.Add(resolved.Usage)
		s.resolvedEntities = resolved

		for i, t := range s.newTriples {
			s.newTriples[i].SubjectID = resolved.ResolvedIDs[t.SubjectName]
			s.newTriples[i].ObjectID = resolved.ResolvedIDs[t.ObjectName]
			s.newTriples[i].PredicateID = resolved.ResolvedIDs[t.PredicateName]
		}
		return fn.Ok(s)
	}
}

// statementResolutionStage is spec §4.6 step 7 / §4.8.
func statementResolutionStage(deps Deps) fn.Stage[state, state] {
	return func(ctx context.Context, s state) fn.Result[state] {
		prevUUIDs := make([]string, len(s.previousEpisodes))
		for i, e := range s.previousEpisodes {
			prevUUIDs[i] = e.UUID
		}
		resolution, err := deps.StatementResolver.Resolve(ctx, s.userID, prevUUIDs, s.newTriples)
		if err != nil {
			return fn.Err[state](fmt.Errorf("statement resolution: %w", err))
		}
		s.usage.Add(resolution.Usage)
		s.resolution = resolution
		return fn.Ok(s)
	}
}

// persistenceStage is spec §4.6 step 8: sequential upserts, then a
// batched invalidation. Deliberately sequential (no fn.ParMap) to avoid
// within-user write races, per spec §5.
func persistenceStage(deps Deps) fn.Stage[state, state] {
	return func(ctx context.Context, s state) fn.Result[state] {
		if err := deps.Episodes.SaveEpisode(ctx, s.episode); err != nil {
			return fn.Err[state](fmt.Errorf("persist episode: %w", err))
		}
		for _, e := range s.resolvedEntities.NewEntities {
			if err := deps.Episodes.SaveEntity(ctx, e); err != nil {
				return fn.Err[state](fmt.Errorf("persist entity %s: %w", e.Name, err))
			}
		}
		for i, t := range s.resolution.Triples {
			if t.StatementID != "" {
				continue // duplicate: reuse the existing statement, nothing new to persist
			}
			st := domain.Statement{
				UUID:        deps.newUUID(),
				Fact:        t.Fact,
				ValidAt:     s.newTriples[i].ValidAt,
				CreatedAt:   time.Now().UTC(),
				Attributes:  t.Attributes,
				UserID:      s.userID,
				SubjectID:   t.SubjectID,
				PredicateID: t.PredicateID,
				ObjectID:    t.ObjectID,
			}
			if len(s.newTriples) > i {
				st.FactEmbedding = s.newTriples[i].FactEmbedding
			}
			if err := deps.Episodes.SaveTriple(ctx, s.episode.UUID, st); err != nil {
				return fn.Err[state](fmt.Errorf("persist statement: %w", err))
			}
		}
		if len(s.resolution.Invalidate) > 0 {
			if err := deps.Episodes.InvalidateStatements(ctx, s.resolution.Invalidate, s.episode.UUID); err != nil {
				return fn.Err[state](fmt.Errorf("invalidate statements: %w", err))
			}
		}
		return fn.Ok(s)
	}
}
