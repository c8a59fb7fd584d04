package cluster

import (
	"context"
	"fmt"

	"github.com/jmagar/core-sub000/domain"
)

// detectAndEvolveDrift computes cohesion for every existing cluster
// (mean cosine similarity between member factEmbeddings and the
// cluster's centroid), flags clusters below CohesionThreshold, and
// splits the large ones (spec §4.9 "Drift detection"/"Cluster split
// evolution").
func (e *Engine) detectAndEvolveDrift(ctx context.Context, userID string, newUUID func() string) ([]string, int, domain.TokenUsage, error) {
	clusters, err := e.store.GetClustersForUser(ctx, userID)
	if err != nil {
		return nil, 0, domain.TokenUsage{}, fmt.Errorf("cluster: list for drift check: %w", err)
	}

	var lowCohesion []string
	evolved := 0
	for _, c := range clusters {
		if c.Evolved || len(c.ClusterEmbedding) == 0 {
			continue
		}
		statements, err := e.store.GetStatementsByCluster(ctx, c.UUID)
		if err != nil {
			return lowCohesion, evolved, domain.TokenUsage{}, fmt.Errorf("cluster: members of %s: %w", c.UUID, err)
		}
		if len(statements) == 0 {
			continue
		}

		ids := make([]string, len(statements))
		for i, s := range statements {
			ids[i] = s.UUID
		}
		embeddings, err := e.store.GetStatementEmbeddings(ctx, ids)
		if err != nil {
			return lowCohesion, evolved, domain.TokenUsage{}, fmt.Errorf("cluster: embeddings for %s: %w", c.UUID, err)
		}

		cohesion := meanCohesion(embeddings, c.ClusterEmbedding)
		if cohesion >= CohesionThreshold {
			continue
		}
		lowCohesion = append(lowCohesion, c.UUID)

		if len(statements) < 2*MinClusterSize {
			continue
		}
		split, err := e.splitCluster(ctx, userID, c, statements, newUUID)
		if err != nil {
			return lowCohesion, evolved, domain.TokenUsage{}, err
		}
		if split {
			evolved++
		}
	}

	return lowCohesion, evolved, domain.TokenUsage{}, nil
}

func meanCohesion(embeddings map[string][]float32, centroid []float32) float64 {
	if len(embeddings) == 0 {
		return 1
	}
	var sum float64
	n := 0
	for _, v := range embeddings {
		if len(v) == 0 {
			continue
		}
		sum += cosineSimilarity(v, centroid)
		n++
	}
	if n == 0 {
		return 1
	}
	return sum / float64(n)
}

// splitCluster rebuilds a local similarity subgraph restricted to one
// cluster's statements, re-runs the same Leiden pass, finalizes
// sub-clusters, folds any orphan (undersized) group into the largest
// surviving sub-cluster, and records the SPLIT_INTO provenance. If the
// split yields at most one valid child, the original cluster is left
// untouched (spec §4.9). split reports whether the cluster was split.
func (e *Engine) splitCluster(ctx context.Context, userID string, parent domain.Cluster, statements []domain.Statement, newUUID func() string) (split bool, err error) {
	members, err := e.loadMembers(ctx, statements)
	if err != nil {
		return false, err
	}

	graph := buildSimilarityGraph(members)
	assignment := runLeiden(graph, len(members))

	groups := make(map[int][]member)
	for i, m := range members {
		groups[assignment[i]] = append(groups[assignment[i]], m)
	}

	var survivors [][]member
	var orphans []member
	for _, g := range groups {
		if len(g) >= MinClusterSize {
			survivors = append(survivors, g)
		} else {
			orphans = append(orphans, g...)
		}
	}
	if len(survivors) <= 1 {
		return false, nil
	}
	if len(orphans) > 0 {
		largest := 0
		for i, g := range survivors {
			if len(g) > len(survivors[largest]) {
				largest = i
			}
		}
		survivors[largest] = append(survivors[largest], orphans...)
	}

	childUUIDs := make([]string, 0, len(survivors))
	childSizes := make([]int, 0, len(survivors))
	for _, g := range survivors {
		childID := newUUID()
		for _, m := range g {
			if err := e.store.AssignStatementToCluster(ctx, m.statement.UUID, childID); err != nil {
				return false, fmt.Errorf("cluster: assign split member %s: %w", m.statement.UUID, err)
			}
		}
		meta, err := e.buildClusterMetadata(ctx, childID, userID, g)
		if err != nil {
			return false, err
		}
		meta.AspectType = parent.AspectType
		if err := e.store.SaveCluster(ctx, meta); err != nil {
			return false, fmt.Errorf("cluster: save split child %s: %w", childID, err)
		}
		childUUIDs = append(childUUIDs, childID)
		childSizes = append(childSizes, len(g))
	}

	if err := e.store.RecordSplit(ctx, parent.UUID, parent.Size, childUUIDs, childSizes); err != nil {
		return false, fmt.Errorf("cluster: record split of %s: %w", parent.UUID, err)
	}

	now := nowFunc()
	parent.Evolved = true
	parent.EvolvedAt = &now
	parent.UpdatedAt = now
	if err := e.store.SaveCluster(ctx, parent); err != nil {
		return false, err
	}
	return true, nil
}
