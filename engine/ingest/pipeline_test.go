package ingest

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/jmagar/core-sub000/domain"
	"github.com/jmagar/core-sub000/engine/entityresolve"
	"github.com/jmagar/core-sub000/engine/llm"
	"github.com/jmagar/core-sub000/engine/statementresolve"
)

type fakeEpisodeStore struct {
	saved         []domain.Episode
	savedEntities []domain.Entity
	savedTriples  []domain.Statement
	invalidated   []string
	invalidatedBy string
}

func (f *fakeEpisodeStore) GetRecentEpisodes(_ context.Context, _, _, _, _ string, _ int) ([]domain.Episode, error) {
	return nil, nil
}
func (f *fakeEpisodeStore) SaveEpisode(_ context.Context, e domain.Episode) error {
	f.saved = append(f.saved, e)
	return nil
}
func (f *fakeEpisodeStore) SaveEntity(_ context.Context, e domain.Entity) error {
	f.savedEntities = append(f.savedEntities, e)
	return nil
}
func (f *fakeEpisodeStore) SaveTriple(_ context.Context, _ string, st domain.Statement) error {
	f.savedTriples = append(f.savedTriples, st)
	return nil
}
func (f *fakeEpisodeStore) InvalidateStatements(_ context.Context, ids []string, invalidatedBy string) error {
	f.invalidated = append(f.invalidated, ids...)
	f.invalidatedBy = invalidatedBy
	return nil
}

type fakeRelatedMemoryStore struct{}

func (f *fakeRelatedMemoryStore) SearchEpisodesByEmbedding(_ context.Context, _ []float32, _ string, _ int, _ float32) ([]domain.Episode, error) {
	return nil, nil
}
func (f *fakeRelatedMemoryStore) FindSimilarStatements(_ context.Context, _ []float32, _ string, _ int, _ float32) ([]domain.Statement, error) {
	return nil, nil
}

type fakeEmbedder struct{}

func (f *fakeEmbedder) Embed(_ context.Context, _ string) ([]float32, error) {
	return []float32{0.1, 0.2}, nil
}
func (f *fakeEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{0.1, 0.2}
	}
	return out, nil
}

type fakeEntityGraphStore struct{}

func (f *fakeEntityGraphStore) FindSimilarEntities(_ context.Context, _ []float32, _ string, _ int, _ float32) ([]domain.Entity, error) {
	return nil, nil
}
func (f *fakeEntityGraphStore) FindExactPredicateMatches(_ context.Context, _, _ string) ([]domain.Entity, error) {
	return nil, nil
}

type fakeStatementGraphStore struct{}

func (f *fakeStatementGraphStore) FindContradictoryStatements(_ context.Context, _, _, _ string) ([]domain.Statement, error) {
	return nil, nil
}
func (f *fakeStatementGraphStore) FindStatementsWithSameSubjectObject(_ context.Context, _, _, _, _ string) ([]domain.Statement, error) {
	return nil, nil
}
func (f *fakeStatementGraphStore) FindSimilarStatements(_ context.Context, _ []float32, _ string, _ int, _ float32) ([]domain.Statement, error) {
	return nil, nil
}
func (f *fakeStatementGraphStore) GetEpisodeStatements(_ context.Context, _ string) ([]domain.Statement, error) {
	return nil, nil
}
func (f *fakeStatementGraphStore) GetTripleForStatement(_ context.Context, _ string) (domain.Triple, error) {
	return domain.Triple{}, nil
}

// scriptedGenerator dispatches a canned <output> response per stage by
// sniffing a distinctive phrase from that stage's system prompt.
type scriptedGenerator struct {
	normalization string
	// noEnvelope, when set, returns the normalization text unwrapped
	// (no <output> tag) to exercise the raw-text fallback path.
	noEnvelope bool
}

func (g *scriptedGenerator) Generate(_ context.Context, opts llm.GenerateOpts) (llm.GenerateResult, error) {
	switch {
	case strings.Contains(opts.System, "third-person memory statement"):
		if g.noEnvelope {
			return llm.GenerateResult{Text: g.normalization}, nil
		}
		return llm.GenerateResult{Text: "<output>" + g.normalization + "</output>"}, nil
	case strings.Contains(opts.System, "distinct named entity"):
		return llm.GenerateResult{Text: `<output>["Alice", "Acme"]</output>`}, nil
	case strings.Contains(opts.System, "(source, predicate, target) triple"):
		return llm.GenerateResult{Text: `<output>[{"source":"Alice","predicate":"works_at","target":"Acme","fact":"Alice works at Acme."}]</output>`}, nil
	}
	return llm.GenerateResult{Text: "<output>[]</output>"}, nil
}

func idSeq(prefix string) func() string {
	n := 0
	return func() string {
		n++
		return prefix + string(rune('0'+n))
	}
}

func testDeps(gen *scriptedGenerator) (Deps, *fakeEpisodeStore) {
	episodes := &fakeEpisodeStore{}
	deps := Deps{
		Episodes:      episodes,
		RelatedMemory: &fakeRelatedMemoryStore{},
		Embedder:      &fakeEmbedder{},
		Generator:     gen,
		EntityResolver:    entityresolve.New(&fakeEntityGraphStore{}, gen),
		StatementResolver: statementresolve.New(&fakeStatementGraphStore{}, gen),
		Logger:        slog.New(slog.NewTextHandler(io.Discard, nil)),
		NewUUID:       idSeq("id"),
	}
	return deps, episodes
}

func TestRunHappyPath(t *testing.T) {
	gen := &scriptedGenerator{normalization: "Alice works at Acme."}
	deps, episodes := testDeps(gen)

	req := domain.IngestRequest{
		EpisodeBody: "alice just told me she works at acme",
		Source:      "chat",
		UserID:      "user-1",
		WorkspaceID: "ws-1",
	}
	out, err := Run(context.Background(), deps, req)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if out.EpisodeUUID == "" {
		t.Fatalf("Run() EpisodeUUID empty")
	}
	if out.StatementsCreated != 1 {
		t.Fatalf("StatementsCreated = %d, want 1", out.StatementsCreated)
	}
	if out.StatementsInvalidated != 0 {
		t.Fatalf("StatementsInvalidated = %d, want 0", out.StatementsInvalidated)
	}
	if len(episodes.saved) != 1 {
		t.Fatalf("saved episodes = %d, want 1", len(episodes.saved))
	}
	if len(episodes.savedEntities) != 3 {
		t.Fatalf("saved entities = %d, want 3 (Alice, Acme, works_at predicate)", len(episodes.savedEntities))
	}
	if len(episodes.savedTriples) != 1 {
		t.Fatalf("saved triples = %d, want 1", len(episodes.savedTriples))
	}
}

func TestRunNothingToRememberShortCircuits(t *testing.T) {
	gen := &scriptedGenerator{normalization: domain.NothingToRemember}
	deps, episodes := testDeps(gen)

	req := domain.IngestRequest{
		EpisodeBody: "ok thanks!",
		Source:      "chat",
		UserID:      "user-1",
		WorkspaceID: "ws-1",
	}
	out, err := Run(context.Background(), deps, req)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if out.StatementsCreated != 0 || out.EpisodeUUID != "" {
		t.Fatalf("Run() = %+v, want empty output", out)
	}
	if len(episodes.saved) != 0 {
		t.Fatalf("saved episodes = %d, want 0", len(episodes.saved))
	}
}

func TestRunNormalizationFallsBackToRawText(t *testing.T) {
	gen := &scriptedGenerator{normalization: "Alice works at Acme.", noEnvelope: true}
	deps, episodes := testDeps(gen)

	req := domain.IngestRequest{
		EpisodeBody: "alice just told me she works at acme",
		Source:      "chat",
		UserID:      "user-1",
		WorkspaceID: "ws-1",
	}
	out, err := Run(context.Background(), deps, req)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if out.EpisodeUUID == "" {
		t.Fatalf("Run() EpisodeUUID empty, want raw-text fallback to produce an episode")
	}
	if len(episodes.saved) != 1 || episodes.saved[0].Content != "Alice works at Acme." {
		t.Fatalf("saved episodes = %+v, want one episode with the raw fallback content", episodes.saved)
	}
}

func TestRunNormalizationRawEmptyShortCircuits(t *testing.T) {
	gen := &scriptedGenerator{normalization: "", noEnvelope: true}
	deps, episodes := testDeps(gen)

	req := domain.IngestRequest{
		EpisodeBody: "ok thanks!",
		Source:      "chat",
		UserID:      "user-1",
		WorkspaceID: "ws-1",
	}
	out, err := Run(context.Background(), deps, req)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if out.StatementsCreated != 0 || out.EpisodeUUID != "" {
		t.Fatalf("Run() = %+v, want empty output for empty raw fallback", out)
	}
	if len(episodes.saved) != 0 {
		t.Fatalf("saved episodes = %d, want 0", len(episodes.saved))
	}
}
