// Package cluster implements C9: grouping a user's valid statements into
// thematic/social/activity clusters via a hand-rolled community-detection
// pass, then naming and evolving those clusters over time (spec §4.9).
//
// No Neo4j GDS plugin is available in this deployment (confirmed absent
// from every example repo's go.mod), so the projection and the Leiden-style
// optimization both run in process memory rather than inside the store —
// see leiden.go.
package cluster

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmagar/core-sub000/domain"
	"github.com/jmagar/core-sub000/engine/llm"
)

// Tunables from spec §4.9. LeidenMaxLevels defaults to the runtime value
// the spec explicitly allows (10) rather than the spec's stated baseline
// (5); deeper levels only matter for very large clusters and the extra
// passes are cheap once the similarity graph already fits in memory.
const (
	MinClusterSize    = 10
	LeidenGamma       = 0.7
	LeidenMaxLevels   = 10
	LeidenTolerance   = 0.001
	CohesionThreshold = 0.6
)

// GraphStore is the C1 surface C9 needs: statement retrieval by validity/
// cluster state, entity ID hydration for top-term summaries, embedding
// retrieval for centroids, and Cluster node persistence.
type GraphStore interface {
	GetValidStatements(ctx context.Context, userID string) ([]domain.Statement, error)
	GetUnclusteredStatements(ctx context.Context, userID string) ([]domain.Statement, error)
	GetStatementsByCluster(ctx context.Context, clusterUUID string) ([]domain.Statement, error)
	GetStatementEntityIDs(ctx context.Context, statementID string) (subjectID, predicateID, objectID string, err error)
	GetEntitiesByIDs(ctx context.Context, ids []string) ([]domain.Entity, error)
	GetStatementEmbeddings(ctx context.Context, statementUUIDs []string) (map[string][]float32, error)
	SaveCluster(ctx context.Context, c domain.Cluster) error
	AssignStatementToCluster(ctx context.Context, statementUUID, clusterUUID string) error
	RecordSplit(ctx context.Context, parentUUID string, originalSize int, childUUIDs []string, childSizes []int) error
	GetClustersForUser(ctx context.Context, userID string) ([]domain.Cluster, error)
	ClearAllClusters(ctx context.Context, userID string) error
}

// Generator is the C2 surface: one high-complexity naming call per
// cluster that needs one.
type Generator interface {
	Generate(ctx context.Context, opts llm.GenerateOpts) (llm.GenerateResult, error)
}

// Engine runs C9's similarity-graph construction, community detection,
// naming, and drift evolution passes.
type Engine struct {
	store  GraphStore
	gen    Generator
	logger *slog.Logger
}

func New(store GraphStore, gen Generator, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{store: store, gen: gen, logger: logger}
}

// nowFunc is overridden in tests for deterministic timestamps.
var nowFunc = time.Now

// Result summarizes one performClustering run.
type Result struct {
	ClustersCreated int
	ClustersEvolved int
	LowCohesion     []string
	Usage           domain.TokenUsage
}

// member is one statement loaded into the in-memory similarity graph,
// enriched with the entity ids and embedding the graph construction and
// cohesion passes both need.
type member struct {
	statement domain.Statement
	subject   string
	predicate string
	object    string
	embedding []float32
}

// PerformClustering runs C9's scheduling rule (spec §4.9 "Scheduling"):
// forceComplete or an empty cluster set triggers a full re-cluster of
// every valid statement; otherwise only unclustered statements are
// admitted to the similarity graph, followed by drift detection and
// evolution over every existing cluster.
func (e *Engine) PerformClustering(ctx context.Context, userID string, forceComplete bool, newUUID func() string) (Result, error) {
	existing, err := e.store.GetClustersForUser(ctx, userID)
	if err != nil {
		return Result{}, fmt.Errorf("cluster: list existing: %w", err)
	}

	complete := forceComplete || len(existing) == 0
	e.logger.Info("clustering pass starting", "user_id", userID, "complete", complete, "existing_clusters", len(existing))
	if complete {
		if err := e.store.ClearAllClusters(ctx, userID); err != nil {
			return Result{}, fmt.Errorf("cluster: clear all: %w", err)
		}
	}

	var statements []domain.Statement
	if complete {
		statements, err = e.store.GetValidStatements(ctx, userID)
	} else {
		statements, err = e.store.GetUnclusteredStatements(ctx, userID)
	}
	if err != nil {
		return Result{}, fmt.Errorf("cluster: load statements: %w", err)
	}

	res := Result{}
	if len(statements) > 0 {
		members, err := e.loadMembers(ctx, statements)
		if err != nil {
			return res, err
		}

		graph := buildSimilarityGraph(members)
		assignment := runLeiden(graph, len(members))

		created, err := e.finalizeClusters(ctx, userID, members, assignment, newUUID)
		if err != nil {
			return res, err
		}
		res.ClustersCreated = created
	}

	namingUsage, err := e.nameClusters(ctx, userID)
	if err != nil {
		return res, err
	}
	res.Usage.Add(namingUsage)

	if !complete {
		lowCohesion, evolved, evolveUsage, err := e.detectAndEvolveDrift(ctx, userID, newUUID)
		if err != nil {
			return res, err
		}
		res.LowCohesion = lowCohesion
		res.ClustersEvolved = evolved
		res.Usage.Add(evolveUsage)
	}

	e.logger.Info("clustering pass finished", "user_id", userID, "created", res.ClustersCreated, "evolved", res.ClustersEvolved, "low_cohesion", len(res.LowCohesion))
	return res, nil
}

func (e *Engine) loadMembers(ctx context.Context, statements []domain.Statement) ([]member, error) {
	ids := make([]string, len(statements))
	for i, s := range statements {
		ids[i] = s.UUID
	}
	embeddings, err := e.store.GetStatementEmbeddings(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("cluster: load embeddings: %w", err)
	}

	members := make([]member, 0, len(statements))
	for _, s := range statements {
		subj, pred, obj := s.SubjectID, s.PredicateID, s.ObjectID
		if subj == "" && pred == "" && obj == "" {
			subj, pred, obj, err = e.store.GetStatementEntityIDs(ctx, s.UUID)
			if err != nil {
				return nil, fmt.Errorf("cluster: entity ids for %s: %w", s.UUID, err)
			}
		}
		members = append(members, member{
			statement: s,
			subject:   subj,
			predicate: pred,
			object:    obj,
			embedding: embeddings[s.UUID],
		})
	}
	return members, nil
}

// finalizeClusters groups members by the community index runLeiden
// assigned them, drops undersized groups, reuses a permanent clusterId
// already present in a group (earliest created), mints a fresh one
// otherwise, and materializes Cluster node metadata for newly minted ids
// (spec §4.9 "Cluster finalisation"/"Cluster metadata").
func (e *Engine) finalizeClusters(ctx context.Context, userID string, members []member, assignment []int, newUUID func() string) (int, error) {
	groups := make(map[int][]member)
	for i, m := range members {
		groups[assignment[i]] = append(groups[assignment[i]], m)
	}

	created := 0
	for _, group := range groups {
		if len(group) < MinClusterSize {
			continue
		}

		clusterID := ""
		var earliest time.Time
		for _, m := range group {
			if m.statement.ClusterID == "" {
				continue
			}
			if clusterID == "" || m.statement.CreatedAt.Before(earliest) {
				clusterID = m.statement.ClusterID
				earliest = m.statement.CreatedAt
			}
		}

		isNew := clusterID == ""
		if isNew {
			clusterID = newUUID()
		}

		for _, m := range group {
			if m.statement.ClusterID == clusterID {
				continue
			}
			if err := e.store.AssignStatementToCluster(ctx, m.statement.UUID, clusterID); err != nil {
				return created, fmt.Errorf("cluster: assign %s: %w", m.statement.UUID, err)
			}
		}

		if !isNew {
			continue
		}

		meta, err := e.buildClusterMetadata(ctx, clusterID, userID, group)
		if err != nil {
			return created, err
		}
		if err := e.store.SaveCluster(ctx, meta); err != nil {
			return created, fmt.Errorf("cluster: save %s: %w", clusterID, err)
		}
		created++
	}
	return created, nil
}

func (e *Engine) buildClusterMetadata(ctx context.Context, clusterID, userID string, group []member) (domain.Cluster, error) {
	subjectIDs, predicateIDs, objectIDs := make([]string, 0, len(group)), make([]string, 0, len(group)), make([]string, 0, len(group))
	var centroid []float32
	embeddingCount := 0
	for _, m := range group {
		if m.subject != "" {
			subjectIDs = append(subjectIDs, m.subject)
		}
		if m.predicate != "" {
			predicateIDs = append(predicateIDs, m.predicate)
		}
		if m.object != "" {
			objectIDs = append(objectIDs, m.object)
		}
		if len(m.embedding) == 0 {
			continue
		}
		centroid = accumulate(centroid, m.embedding)
		embeddingCount++
	}
	if embeddingCount > 0 {
		scale(centroid, 1.0/float32(embeddingCount))
	}

	topSubjects, err := e.topEntityNames(ctx, subjectIDs)
	if err != nil {
		return domain.Cluster{}, err
	}
	topPredicates, err := e.topEntityNames(ctx, predicateIDs)
	if err != nil {
		return domain.Cluster{}, err
	}
	topObjects, err := e.topEntityNames(ctx, objectIDs)
	if err != nil {
		return domain.Cluster{}, err
	}

	now := nowFunc()
	return domain.Cluster{
		UUID:             clusterID,
		AspectType:       domain.AspectThematic,
		Size:             len(group),
		ClusterEmbedding: centroid,
		EmbeddingCount:   embeddingCount,
		TopSubjects:      topSubjects,
		TopPredicates:    topPredicates,
		TopObjects:       topObjects,
		NeedsNaming:      true,
		UserID:           userID,
		CreatedAt:        now,
		UpdatedAt:        now,
	}, nil
}

// topEntityNames hydrates entity ids and returns up to the 10 most
// frequent names (spec §4.9 "top-10 frequencies ... by entity name").
func (e *Engine) topEntityNames(ctx context.Context, ids []string) ([]string, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	entities, err := e.store.GetEntitiesByIDs(ctx, dedupe(ids))
	if err != nil {
		return nil, fmt.Errorf("cluster: hydrate entities: %w", err)
	}
	names := make(map[string]string, len(entities))
	for _, ent := range entities {
		names[ent.UUID] = ent.Name
	}

	counts := make(map[string]int)
	for _, id := range ids {
		if name, ok := names[id]; ok {
			counts[name]++
		}
	}
	return topN(counts, 10), nil
}

func dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

func accumulate(sum, v []float32) []float32 {
	if sum == nil {
		sum = make([]float32, len(v))
	}
	for i, x := range v {
		sum[i] += x
	}
	return sum
}

func scale(v []float32, factor float32) {
	for i := range v {
		v[i] *= factor
	}
}
