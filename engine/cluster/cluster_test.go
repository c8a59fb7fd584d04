package cluster

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/jmagar/core-sub000/domain"
	"github.com/jmagar/core-sub000/engine/llm"
)

type fakeStore struct {
	valid        []domain.Statement
	unclustered  []domain.Statement
	entityIDs    map[string][3]string // statementID -> subject,predicate,object
	entities     map[string]domain.Entity
	embeddings   map[string][]float32
	byCluster    map[string][]domain.Statement
	clusters     map[string]domain.Cluster
	assigned     map[string]string // statementID -> clusterID
	splits       int
	clearedCalls int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		entityIDs:  make(map[string][3]string),
		entities:   make(map[string]domain.Entity),
		embeddings: make(map[string][]float32),
		byCluster:  make(map[string][]domain.Statement),
		clusters:   make(map[string]domain.Cluster),
		assigned:   make(map[string]string),
	}
}

func (f *fakeStore) GetValidStatements(_ context.Context, _ string) ([]domain.Statement, error) {
	return f.valid, nil
}
func (f *fakeStore) GetUnclusteredStatements(_ context.Context, _ string) ([]domain.Statement, error) {
	return f.unclustered, nil
}
func (f *fakeStore) GetStatementsByCluster(_ context.Context, clusterUUID string) ([]domain.Statement, error) {
	return f.byCluster[clusterUUID], nil
}
func (f *fakeStore) GetStatementEntityIDs(_ context.Context, statementID string) (string, string, string, error) {
	ids := f.entityIDs[statementID]
	return ids[0], ids[1], ids[2], nil
}
func (f *fakeStore) GetEntitiesByIDs(_ context.Context, ids []string) ([]domain.Entity, error) {
	out := make([]domain.Entity, 0, len(ids))
	for _, id := range ids {
		if e, ok := f.entities[id]; ok {
			out = append(out, e)
		}
	}
	return out, nil
}
func (f *fakeStore) GetStatementEmbeddings(_ context.Context, ids []string) (map[string][]float32, error) {
	out := make(map[string][]float32, len(ids))
	for _, id := range ids {
		if v, ok := f.embeddings[id]; ok {
			out[id] = v
		}
	}
	return out, nil
}
func (f *fakeStore) SaveCluster(_ context.Context, c domain.Cluster) error {
	f.clusters[c.UUID] = c
	return nil
}
func (f *fakeStore) AssignStatementToCluster(_ context.Context, statementUUID, clusterUUID string) error {
	f.assigned[statementUUID] = clusterUUID
	return nil
}
func (f *fakeStore) RecordSplit(_ context.Context, _ string, _ int, _ []string, _ []int) error {
	f.splits++
	return nil
}
func (f *fakeStore) GetClustersForUser(_ context.Context, _ string) ([]domain.Cluster, error) {
	out := make([]domain.Cluster, 0, len(f.clusters))
	for _, c := range f.clusters {
		out = append(out, c)
	}
	return out, nil
}
func (f *fakeStore) ClearAllClusters(_ context.Context, _ string) error {
	f.clearedCalls++
	f.clusters = make(map[string]domain.Cluster)
	return nil
}

type fakeGenerator struct{ text string }

func (f *fakeGenerator) Generate(_ context.Context, _ llm.GenerateOpts) (llm.GenerateResult, error) {
	return llm.GenerateResult{Text: f.text}, nil
}

func testEngine(store *fakeStore, gen Generator) *Engine {
	return New(store, gen, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

// buildClique makes n statements that all share one entity, so the
// similarity graph connects them into a single community.
func buildClique(n int, sharedEntity string) []domain.Statement {
	now := time.Now()
	statements := make([]domain.Statement, n)
	for i := 0; i < n; i++ {
		statements[i] = domain.Statement{
			UUID:      idFor("s", i),
			CreatedAt: now.Add(time.Duration(i) * time.Second),
			ValidAt:   now,
			SubjectID: sharedEntity,
			ObjectID:  idFor("o", i),
		}
	}
	return statements
}

func idFor(prefix string, i int) string {
	return prefix + string(rune('0'+i))
}

func TestPerformClusteringCompleteCreatesClusterAboveMinSize(t *testing.T) {
	store := newFakeStore()
	store.valid = buildClique(MinClusterSize, "shared-entity")
	for _, s := range store.valid {
		store.embeddings[s.UUID] = []float32{1, 0}
	}
	store.entities["shared-entity"] = domain.Entity{UUID: "shared-entity", Name: "Acme"}

	e := testEngine(store, &fakeGenerator{text: `<output>{"name":"Acme facts","description":"facts about Acme"}</output>`})

	n := 0
	newUUID := func() string { n++; return idFor("c", n) }

	res, err := e.PerformClustering(context.Background(), "user-1", true, newUUID)
	if err != nil {
		t.Fatalf("PerformClustering() error = %v", err)
	}
	if res.ClustersCreated != 1 {
		t.Fatalf("ClustersCreated = %d, want 1", res.ClustersCreated)
	}
	if len(store.assigned) != MinClusterSize {
		t.Fatalf("assigned = %d, want %d", len(store.assigned), MinClusterSize)
	}
	if store.clearedCalls != 1 {
		t.Fatalf("clearedCalls = %d, want 1 (forceComplete)", store.clearedCalls)
	}
	for _, c := range store.clusters {
		if c.NeedsNaming {
			t.Fatalf("cluster left unnamed: %+v", c)
		}
		if c.Name != "Acme facts" {
			t.Fatalf("Name = %q, want %q", c.Name, "Acme facts")
		}
	}
}

func TestPerformClusteringDropsUndersizedGroups(t *testing.T) {
	store := newFakeStore()
	store.valid = buildClique(MinClusterSize-1, "shared-entity")
	for _, s := range store.valid {
		store.embeddings[s.UUID] = []float32{1, 0}
	}

	e := testEngine(store, &fakeGenerator{text: `<output>{}</output>`})
	res, err := e.PerformClustering(context.Background(), "user-1", true, func() string { return "c1" })
	if err != nil {
		t.Fatalf("PerformClustering() error = %v", err)
	}
	if res.ClustersCreated != 0 {
		t.Fatalf("ClustersCreated = %d, want 0 (below MinClusterSize)", res.ClustersCreated)
	}
	if len(store.assigned) != 0 {
		t.Fatalf("assigned = %d, want 0", len(store.assigned))
	}
}

func TestPerformClusteringIncrementalUsesUnclusteredOnly(t *testing.T) {
	store := newFakeStore()
	store.clusters["existing"] = domain.Cluster{UUID: "existing", UserID: "user-1"}
	store.unclustered = buildClique(MinClusterSize, "shared-entity")
	for _, s := range store.unclustered {
		store.embeddings[s.UUID] = []float32{1, 0}
	}

	e := testEngine(store, &fakeGenerator{text: `<output>{"name":"n","description":"d"}</output>`})
	res, err := e.PerformClustering(context.Background(), "user-1", false, func() string { return "new-cluster" })
	if err != nil {
		t.Fatalf("PerformClustering() error = %v", err)
	}
	if res.ClustersCreated != 1 {
		t.Fatalf("ClustersCreated = %d, want 1", res.ClustersCreated)
	}
	if store.clearedCalls != 0 {
		t.Fatalf("clearedCalls = %d, want 0 (incremental run)", store.clearedCalls)
	}
}

func TestRunLeidenSingleComponentOneCommunity(t *testing.T) {
	graph := map[[2]int]float64{
		{0, 1}: 2, {1, 2}: 2, {0, 2}: 2,
	}
	assignment := runLeiden(graph, 3)
	if assignment[0] != assignment[1] || assignment[1] != assignment[2] {
		t.Fatalf("assignment = %v, want all equal", assignment)
	}
}

func TestRunLeidenDisjointPairsSeparateCommunities(t *testing.T) {
	graph := map[[2]int]float64{
		{0, 1}: 2,
		{2, 3}: 2,
	}
	assignment := runLeiden(graph, 4)
	if assignment[0] != assignment[1] {
		t.Fatalf("pair (0,1) split across communities: %v", assignment)
	}
	if assignment[2] != assignment[3] {
		t.Fatalf("pair (2,3) split across communities: %v", assignment)
	}
	if assignment[0] == assignment[2] {
		t.Fatalf("disjoint pairs merged into one community: %v", assignment)
	}
}

func TestCosineSimilarityIdenticalVectors(t *testing.T) {
	if got := cosineSimilarity([]float32{1, 2, 3}, []float32{1, 2, 3}); got < 0.999 {
		t.Fatalf("cosineSimilarity() = %v, want ~1", got)
	}
}

func TestCosineSimilarityOrthogonalVectors(t *testing.T) {
	if got := cosineSimilarity([]float32{1, 0}, []float32{0, 1}); got > 0.001 || got < -0.001 {
		t.Fatalf("cosineSimilarity() = %v, want ~0", got)
	}
}
