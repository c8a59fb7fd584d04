package graphstore

import (
	"context"

	"github.com/jmagar/core-sub000/domain"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j/dbtype"
)

func statementToMap(st domain.Statement) map[string]any {
	m := map[string]any{
		"uuid":       st.UUID,
		"fact":       st.Fact,
		"created_at": st.CreatedAt.Format(rfc3339),
		"valid_at":   st.ValidAt.Format(rfc3339),
		"attributes": toJSON(st.Attributes),
		"user_id":    st.UserID,
		"space":      st.Space,
		"space_ids":  st.SpaceIDs,
		"cluster_id": st.ClusterID,
	}
	if st.InvalidAt != nil {
		m["invalid_at"] = st.InvalidAt.Format(rfc3339)
		m["invalidated_by"] = st.InvalidatedBy
	}
	return m
}

func statementFromProps(props map[string]any) domain.Statement {
	return domain.Statement{
		UUID:          strProp(props, "uuid"),
		Fact:          strProp(props, "fact"),
		CreatedAt:     timeProp(props, "created_at"),
		ValidAt:       timeProp(props, "valid_at"),
		InvalidAt:     timePtrProp(props, "invalid_at"),
		InvalidatedBy: strProp(props, "invalidated_by"),
		Attributes:    jsonProp(props, "attributes"),
		UserID:        strProp(props, "user_id"),
		Space:         strProp(props, "space"),
		SpaceIDs:      stringSliceProp(props, "space_ids"),
		ClusterID:     strProp(props, "cluster_id"),
	}
}

func collectStatements(ctx context.Context, result neo4j.ResultWithContext) ([]domain.Statement, error) {
	var out []domain.Statement
	for result.Next(ctx) {
		node, _, err := neo4j.GetRecordValue[dbtype.Node](result.Record(), "s")
		if err != nil {
			return nil, err
		}
		out = append(out, statementFromProps(node.Props))
	}
	return out, nil
}

// SaveTriple persists a resolved Statement plus its HAS_SUBJECT/
// HAS_PREDICATE/HAS_OBJECT edges to already-saved Entities, and a
// HAS_PROVENANCE edge from the originating Episode (spec §4.6 step 8).
// Caller must have already called SaveEpisode/SaveEntity for all three
// participants.
func (s *Store) SaveTriple(ctx context.Context, episodeUUID string, st domain.Statement) error {
	sess := s.session(ctx)
	defer sess.Close(ctx)

	_, err := sess.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		cypher := `MERGE (n:Statement {uuid: $uuid}) SET n += $props`
		if _, err := tx.Run(ctx, cypher, map[string]any{"uuid": st.UUID, "props": statementToMap(st)}); err != nil {
			return nil, err
		}

		edges := []struct {
			relType string
			otherID string
		}{
			{"HAS_SUBJECT", st.SubjectID},
			{"HAS_PREDICATE", st.PredicateID},
			{"HAS_OBJECT", st.ObjectID},
		}
		for _, e := range edges {
			cypher := `MATCH (s:Statement {uuid: $sid}), (n:Entity {uuid: $eid})
				MERGE (s)-[r:` + e.relType + `]->(n)
				ON CREATE SET r.uuid = $edgeID, r.createdAt = $now`
			if _, err := tx.Run(ctx, cypher, map[string]any{
				"sid": st.UUID, "eid": e.otherID, "edgeID": domain.NewID(), "now": nowStr(),
			}); err != nil {
				return nil, err
			}
		}

		cypher = `MATCH (ep:Episode {uuid: $epID}), (s:Statement {uuid: $sid})
			MERGE (ep)-[r:HAS_PROVENANCE]->(s)
			ON CREATE SET r.uuid = $edgeID, r.createdAt = $now`
		_, err := tx.Run(ctx, cypher, map[string]any{
			"epID": episodeUUID, "sid": st.UUID, "edgeID": domain.NewID(), "now": nowStr(),
		})
		return nil, err
	})
	return err
}

// FindContradictoryStatements returns valid statements sharing the exact
// (subject, predicate) pair — phase 1a candidates (spec §4.8).
func (s *Store) FindContradictoryStatements(ctx context.Context, subjectID, predicateID, userID string) ([]domain.Statement, error) {
	sess := s.session(ctx)
	defer sess.Close(ctx)

	cypher := `MATCH (s:Statement {user_id: $userID})-[:HAS_SUBJECT]->(:Entity {uuid: $subjectID})
		MATCH (s)-[:HAS_PREDICATE]->(:Entity {uuid: $predicateID})
		WHERE s.invalid_at IS NULL
		RETURN s`
	result, err := sess.Run(ctx, cypher, map[string]any{"subjectID": subjectID, "predicateID": predicateID, "userID": userID})
	if err != nil {
		return nil, err
	}
	return collectStatements(ctx, result)
}

// FindStatementsWithSameSubjectObject returns valid statements sharing
// (subject, object) but a different predicate — phase 1b candidates
// (spec §4.8).
func (s *Store) FindStatementsWithSameSubjectObject(ctx context.Context, subjectID, objectID, userID string, excludePredicateID string) ([]domain.Statement, error) {
	sess := s.session(ctx)
	defer sess.Close(ctx)

	cypher := `MATCH (s:Statement {user_id: $userID})-[:HAS_SUBJECT]->(:Entity {uuid: $subjectID})
		MATCH (s)-[:HAS_OBJECT]->(:Entity {uuid: $objectID})
		MATCH (s)-[:HAS_PREDICATE]->(p:Entity)
		WHERE s.invalid_at IS NULL AND ($excludePredicateID = '' OR p.uuid <> $excludePredicateID)
		RETURN s`
	result, err := sess.Run(ctx, cypher, map[string]any{
		"subjectID": subjectID, "objectID": objectID, "userID": userID, "excludePredicateID": excludePredicateID,
	})
	if err != nil {
		return nil, err
	}
	return collectStatements(ctx, result)
}

// GetTripleForStatement hydrates the Subject/Predicate/Object entity
// names for one statement, used to present candidates to the resolver LLM.
func (s *Store) GetTripleForStatement(ctx context.Context, statementUUID string) (domain.Triple, error) {
	sess := s.session(ctx)
	defer sess.Close(ctx)

	cypher := `MATCH (s:Statement {uuid: $sid})-[:HAS_SUBJECT]->(subj:Entity)
		MATCH (s)-[:HAS_PREDICATE]->(pred:Entity)
		MATCH (s)-[:HAS_OBJECT]->(obj:Entity)
		RETURN s.fact AS fact, subj.name AS subjectName, subj.uuid AS subjectID,
		       pred.name AS predicateName, pred.uuid AS predicateID,
		       obj.name AS objectName, obj.uuid AS objectID`
	result, err := sess.Run(ctx, cypher, map[string]any{"sid": statementUUID})
	if err != nil {
		return domain.Triple{}, err
	}
	if !result.Next(ctx) {
		return domain.Triple{}, nil
	}
	rec := result.Record()
	get := func(k string) string { v, _ := rec.Get(k); s, _ := v.(string); return s }
	return domain.Triple{
		Fact:          get("fact"),
		SubjectName:   get("subjectName"),
		SubjectID:     get("subjectID"),
		PredicateName: get("predicateName"),
		PredicateID:   get("predicateID"),
		ObjectName:    get("objectName"),
		ObjectID:      get("objectID"),
		StatementID:   statementUUID,
	}, nil
}

// InvalidateStatements bulk-sets invalidAt/invalidatedBy on a set of
// statements in a single store call (spec §4.1/§4.4/§4.6).
func (s *Store) InvalidateStatements(ctx context.Context, statementIDs []string, invalidatedBy string) error {
	if len(statementIDs) == 0 {
		return nil
	}
	sess := s.session(ctx)
	defer sess.Close(ctx)

	cypher := `MATCH (s:Statement) WHERE s.uuid IN $ids AND s.invalid_at IS NULL
		SET s.invalid_at = $now, s.invalidated_by = $invalidatedBy`
	_, err := sess.Run(ctx, cypher, map[string]any{
		"ids": statementIDs, "now": nowStr(), "invalidatedBy": invalidatedBy,
	})
	return err
}

// GetStatementsForEntity returns every valid statement referencing an
// entity in any of the three triple roles. The clustering
// similarity-graph builder does not use it; it reads each statement's
// entity ids through GetStatementEntityIDs.
func (s *Store) GetStatementsForEntity(ctx context.Context, entityID, userID string) ([]domain.Statement, error) {
	sess := s.session(ctx)
	defer sess.Close(ctx)

	cypher := `MATCH (s:Statement {user_id: $userID})-[:HAS_SUBJECT|HAS_PREDICATE|HAS_OBJECT]->(:Entity {uuid: $entityID})
		WHERE s.invalid_at IS NULL
		RETURN DISTINCT s`
	result, err := sess.Run(ctx, cypher, map[string]any{"entityID": entityID, "userID": userID})
	if err != nil {
		return nil, err
	}
	return collectStatements(ctx, result)
}

// GetValidStatements returns every currently-valid statement for a user,
// the input to a full clustering pass (spec §4.9).
func (s *Store) GetValidStatements(ctx context.Context, userID string) ([]domain.Statement, error) {
	sess := s.session(ctx)
	defer sess.Close(ctx)

	cypher := `MATCH (s:Statement {user_id: $userID}) WHERE s.invalid_at IS NULL RETURN s`
	result, err := sess.Run(ctx, cypher, map[string]any{"userID": userID})
	if err != nil {
		return nil, err
	}
	return collectStatements(ctx, result)
}

// GetStatementsByCluster returns every valid statement currently assigned
// to a cluster, the membership a cohesion/drift check or a split
// evolution pass needs to re-load (spec §4.9).
func (s *Store) GetStatementsByCluster(ctx context.Context, clusterUUID string) ([]domain.Statement, error) {
	sess := s.session(ctx)
	defer sess.Close(ctx)

	cypher := `MATCH (s:Statement {cluster_id: $clusterID}) WHERE s.invalid_at IS NULL RETURN s`
	result, err := sess.Run(ctx, cypher, map[string]any{"clusterID": clusterUUID})
	if err != nil {
		return nil, err
	}
	return collectStatements(ctx, result)
}

// GetStatementEntityIDs returns the (subjectID, predicateID, objectID)
// triple for a statement, used by the similarity-graph builder to
// determine shared entities without re-fetching names.
func (s *Store) GetStatementEntityIDs(ctx context.Context, statementID string) (subjectID, predicateID, objectID string, err error) {
	sess := s.session(ctx)
	defer sess.Close(ctx)

	cypher := `MATCH (s:Statement {uuid: $sid})-[:HAS_SUBJECT]->(subj:Entity)
		MATCH (s)-[:HAS_PREDICATE]->(pred:Entity)
		MATCH (s)-[:HAS_OBJECT]->(obj:Entity)
		RETURN subj.uuid AS subjectID, pred.uuid AS predicateID, obj.uuid AS objectID`
	result, err := sess.Run(ctx, cypher, map[string]any{"sid": statementID})
	if err != nil {
		return "", "", "", err
	}
	if !result.Next(ctx) {
		return "", "", "", nil
	}
	rec := result.Record()
	get := func(k string) string { v, _ := rec.Get(k); s, _ := v.(string); return s }
	return get("subjectID"), get("predicateID"), get("objectID"), nil
}
