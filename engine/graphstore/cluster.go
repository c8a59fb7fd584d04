package graphstore

import (
	"context"

	"github.com/jmagar/core-sub000/domain"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j/dbtype"
)

func clusterToMap(c domain.Cluster) map[string]any {
	m := map[string]any{
		"uuid":            c.UUID,
		"name":            c.Name,
		"description":     c.Description,
		"aspect_type":     string(c.AspectType),
		"size":            int64(c.Size),
		"embedding_count": int64(c.EmbeddingCount),
		"cohesion_score":  c.CohesionScore,
		"top_subjects":    c.TopSubjects,
		"top_predicates":  c.TopPredicates,
		"top_objects":     c.TopObjects,
		"needs_naming":    c.NeedsNaming,
		"evolved":         c.Evolved,
		"user_id":         c.UserID,
		"created_at":      c.CreatedAt.Format(rfc3339),
		"updated_at":      c.UpdatedAt.Format(rfc3339),
	}
	if c.EvolvedAt != nil {
		m["evolved_at"] = c.EvolvedAt.Format(rfc3339)
	}
	return m
}

func clusterFromProps(props map[string]any) domain.Cluster {
	return domain.Cluster{
		UUID:           strProp(props, "uuid"),
		Name:           strProp(props, "name"),
		Description:    strProp(props, "description"),
		AspectType:     domain.AspectType(strProp(props, "aspect_type")),
		Size:           intProp(props, "size"),
		EmbeddingCount: intProp(props, "embedding_count"),
		CohesionScore:  floatProp(props, "cohesion_score"),
		TopSubjects:    stringSliceProp(props, "top_subjects"),
		TopPredicates:  stringSliceProp(props, "top_predicates"),
		TopObjects:     stringSliceProp(props, "top_objects"),
		NeedsNaming:    boolProp(props, "needs_naming"),
		Evolved:        boolProp(props, "evolved"),
		EvolvedAt:      timePtrProp(props, "evolved_at"),
		UserID:         strProp(props, "user_id"),
		CreatedAt:      timeProp(props, "created_at"),
		UpdatedAt:      timeProp(props, "updated_at"),
	}
}

// SaveCluster idempotently creates or updates a Cluster node.
func (s *Store) SaveCluster(ctx context.Context, c domain.Cluster) error {
	sess := s.session(ctx)
	defer sess.Close(ctx)

	cypher := `MERGE (n:Cluster {uuid: $uuid}) SET n += $props`
	_, err := sess.Run(ctx, cypher, map[string]any{"uuid": c.UUID, "props": clusterToMap(c)})
	return err
}

// AssignStatementToCluster sets Statement.cluster_id, the denormalized
// pointer the rest of the pipeline reads (spec §4.9 step: "statements
// belong to at most one cluster").
func (s *Store) AssignStatementToCluster(ctx context.Context, statementUUID, clusterUUID string) error {
	sess := s.session(ctx)
	defer sess.Close(ctx)

	cypher := `MATCH (s:Statement {uuid: $sid}) SET s.cluster_id = $cid`
	_, err := sess.Run(ctx, cypher, map[string]any{"sid": statementUUID, "cid": clusterUUID})
	return err
}

// RecordSplit creates a SPLIT_INTO edge from an evolved parent cluster to
// each child produced when cohesion drifts below threshold, carrying the
// edge's own reason/size metadata (spec §4.9 "Cluster split evolution").
// childUUIDs and childSizes are parallel slices.
func (s *Store) RecordSplit(ctx context.Context, parentUUID string, originalSize int, childUUIDs []string, childSizes []int) error {
	sess := s.session(ctx)
	defer sess.Close(ctx)

	_, err := sess.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		for i, childID := range childUUIDs {
			cypher := `MATCH (p:Cluster {uuid: $parentID}), (c:Cluster {uuid: $childID})
				MERGE (p)-[r:SPLIT_INTO]->(c)
				ON CREATE SET r.uuid = $edgeID, r.createdAt = $now,
					r.reason = $reason, r.originalSize = $originalSize, r.newSize = $newSize`
			if _, err := tx.Run(ctx, cypher, map[string]any{
				"parentID": parentUUID, "childID": childID, "edgeID": domain.NewID(), "now": nowStr(),
				"reason": "low_cohesion", "originalSize": int64(originalSize), "newSize": int64(childSizes[i]),
			}); err != nil {
				return nil, err
			}
		}
		return nil, nil
	})
	return err
}

// UpsertSimilarEdge writes a scratch SIMILAR_TO edge between two
// statements. engine/cluster does not call it: the clustering pass
// builds its similarity graph and runs community detection entirely in
// process memory (no Neo4j GDS plugin is available in this deployment).
func (s *Store) UpsertSimilarEdge(ctx context.Context, aUUID, bUUID string, weight float64) error {
	sess := s.session(ctx)
	defer sess.Close(ctx)

	cypher := `MATCH (a:Statement {uuid: $a}), (b:Statement {uuid: $b})
		MERGE (a)-[r:SIMILAR_TO]-(b)
		SET r.weight = $weight`
	_, err := sess.Run(ctx, cypher, map[string]any{"a": aUUID, "b": bUUID, "weight": weight})
	return err
}

// DropSimilarEdges removes every scratch SIMILAR_TO edge touching a
// user's statements.
func (s *Store) DropSimilarEdges(ctx context.Context, userID string) error {
	sess := s.session(ctx)
	defer sess.Close(ctx)

	cypher := `MATCH (a:Statement {user_id: $userID})-[r:SIMILAR_TO]-(:Statement)
		DELETE r`
	_, err := sess.Run(ctx, cypher, map[string]any{"userID": userID})
	return err
}

// GetClustersForUser lists every Cluster belonging to a user, newest first.
func (s *Store) GetClustersForUser(ctx context.Context, userID string) ([]domain.Cluster, error) {
	sess := s.session(ctx)
	defer sess.Close(ctx)

	cypher := `MATCH (c:Cluster {user_id: $userID}) RETURN c ORDER BY c.created_at DESC`
	result, err := sess.Run(ctx, cypher, map[string]any{"userID": userID})
	if err != nil {
		return nil, err
	}
	var out []domain.Cluster
	for result.Next(ctx) {
		node, _, err := neo4j.GetRecordValue[dbtype.Node](result.Record(), "c")
		if err != nil {
			return nil, err
		}
		out = append(out, clusterFromProps(node.Props))
	}
	return out, nil
}

// GetUnclusteredStatements returns valid statements with no cluster_id
// yet, the input to an incremental clustering pass (spec §4.9
// scheduling).
func (s *Store) GetUnclusteredStatements(ctx context.Context, userID string) ([]domain.Statement, error) {
	sess := s.session(ctx)
	defer sess.Close(ctx)

	cypher := `MATCH (s:Statement {user_id: $userID})
		WHERE s.invalid_at IS NULL AND s.cluster_id IS NULL
		RETURN s`
	result, err := sess.Run(ctx, cypher, map[string]any{"userID": userID})
	if err != nil {
		return nil, err
	}
	return collectStatements(ctx, result)
}

// ClearAllClusters deletes every Cluster node for a user and unsets
// cluster_id on all their statements, the reset a forced-complete
// clustering pass performs before re-running (spec §4.9 scheduling).
func (s *Store) ClearAllClusters(ctx context.Context, userID string) error {
	sess := s.session(ctx)
	defer sess.Close(ctx)

	_, err := sess.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		if _, err := tx.Run(ctx, `MATCH (s:Statement {user_id: $userID}) SET s.cluster_id = NULL`, map[string]any{"userID": userID}); err != nil {
			return nil, err
		}
		_, err := tx.Run(ctx, `MATCH (c:Cluster {user_id: $userID}) DETACH DELETE c`, map[string]any{"userID": userID})
		return nil, err
	})
	return err
}

func boolProp(props map[string]any, key string) bool {
	b, _ := props[key].(bool)
	return b
}
