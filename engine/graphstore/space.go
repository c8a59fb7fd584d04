package graphstore

import (
	"context"

	"github.com/jmagar/core-sub000/domain"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j/dbtype"
)

func spaceToMap(sp domain.Space) map[string]any {
	m := map[string]any{
		"uuid":                            sp.UUID,
		"name":                            sp.Name,
		"description":                     sp.Description,
		"user_id":                         sp.UserID,
		"workspace_id":                    sp.WorkspaceID,
		"is_active":                       sp.IsActive,
		"statement_count_at_last_trigger": int64(sp.StatementCountAtLastTrigger),
		"created_at":                      sp.CreatedAt.Format(rfc3339),
		"updated_at":                      sp.UpdatedAt.Format(rfc3339),
	}
	if sp.LastPatternTrigger != nil {
		m["last_pattern_trigger"] = sp.LastPatternTrigger.Format(rfc3339)
	}
	return m
}

func spaceFromProps(props map[string]any) domain.Space {
	return domain.Space{
		UUID:                        strProp(props, "uuid"),
		Name:                        strProp(props, "name"),
		Description:                 strProp(props, "description"),
		UserID:                      strProp(props, "user_id"),
		WorkspaceID:                 strProp(props, "workspace_id"),
		IsActive:                    boolProp(props, "is_active"),
		StatementCountAtLastTrigger: intProp(props, "statement_count_at_last_trigger"),
		LastPatternTrigger:          timePtrProp(props, "last_pattern_trigger"),
		CreatedAt:                   timeProp(props, "created_at"),
		UpdatedAt:                   timeProp(props, "updated_at"),
	}
}

// SaveSpace idempotently creates or updates a Space node.
func (s *Store) SaveSpace(ctx context.Context, sp domain.Space) error {
	sess := s.session(ctx)
	defer sess.Close(ctx)

	cypher := `MERGE (n:Space {uuid: $uuid}) SET n += $props`
	_, err := sess.Run(ctx, cypher, map[string]any{"uuid": sp.UUID, "props": spaceToMap(sp)})
	return err
}

// GetSpacesForWorkspace lists active Spaces in a workspace.
func (s *Store) GetSpacesForWorkspace(ctx context.Context, workspaceID string) ([]domain.Space, error) {
	sess := s.session(ctx)
	defer sess.Close(ctx)

	cypher := `MATCH (sp:Space {workspace_id: $wsID, is_active: true}) RETURN sp ORDER BY sp.created_at ASC`
	result, err := sess.Run(ctx, cypher, map[string]any{"wsID": workspaceID})
	if err != nil {
		return nil, err
	}
	var out []domain.Space
	for result.Next(ctx) {
		node, _, err := neo4j.GetRecordValue[dbtype.Node](result.Record(), "sp")
		if err != nil {
			return nil, err
		}
		out = append(out, spaceFromProps(node.Props))
	}
	return out, nil
}

// GetSpaceByName finds a Space by exact name within a workspace, used to
// enforce uniqueness on creation (spec §4.1 ErrSpaceNameTaken).
func (s *Store) GetSpaceByName(ctx context.Context, workspaceID, name string) (domain.Space, bool, error) {
	sess := s.session(ctx)
	defer sess.Close(ctx)

	cypher := `MATCH (sp:Space {workspace_id: $wsID, name: $name}) RETURN sp LIMIT 1`
	result, err := sess.Run(ctx, cypher, map[string]any{"wsID": workspaceID, "name": name})
	if err != nil {
		return domain.Space{}, false, err
	}
	if !result.Next(ctx) {
		return domain.Space{}, false, nil
	}
	node, _, err := neo4j.GetRecordValue[dbtype.Node](result.Record(), "sp")
	if err != nil {
		return domain.Space{}, false, err
	}
	return spaceFromProps(node.Props), true, nil
}

// GetSpaceByUUID fetches one Space, used by updateSpace/deleteSpace and
// the growth-trigger check to read current counters before writing them
// back.
func (s *Store) GetSpaceByUUID(ctx context.Context, spaceUUID string) (domain.Space, bool, error) {
	sess := s.session(ctx)
	defer sess.Close(ctx)

	cypher := `MATCH (sp:Space {uuid: $spid}) RETURN sp LIMIT 1`
	result, err := sess.Run(ctx, cypher, map[string]any{"spid": spaceUUID})
	if err != nil {
		return domain.Space{}, false, err
	}
	if !result.Next(ctx) {
		return domain.Space{}, false, nil
	}
	node, _, err := neo4j.GetRecordValue[dbtype.Node](result.Record(), "sp")
	if err != nil {
		return domain.Space{}, false, err
	}
	return spaceFromProps(node.Props), true, nil
}

// AssignStatementToSpace appends a spaceID into Statement.space_ids and
// stamps the assignment method/timestamp (spec §4.10). The space's
// growth-trigger counters are bookkept separately by MarkSpaceAnalyzed,
// since "current count" and "count at last analysis" are distinct
// fields with distinct update points.
func (s *Store) AssignStatementToSpace(ctx context.Context, statementUUID, spaceUUID, method string) error {
	sess := s.session(ctx)
	defer sess.Close(ctx)

	cypher := `MATCH (st:Statement {uuid: $sid})
		SET st.space_ids = CASE WHEN $spid IN coalesce(st.space_ids, [])
				THEN st.space_ids ELSE coalesce(st.space_ids, []) + $spid END,
			st.last_space_assignment = $now,
			st.space_assignment_method = $method`
	_, err := sess.Run(ctx, cypher, map[string]any{"sid": statementUUID, "spid": spaceUUID, "now": nowStr(), "method": method})
	return err
}

// RemoveStatementFromSpace pulls a spaceID out of Statement.space_ids.
func (s *Store) RemoveStatementFromSpace(ctx context.Context, statementUUID, spaceUUID string) error {
	sess := s.session(ctx)
	defer sess.Close(ctx)

	cypher := `MATCH (st:Statement {uuid: $sid})
		SET st.space_ids = [x IN coalesce(st.space_ids, []) WHERE x <> $spid]`
	_, err := sess.Run(ctx, cypher, map[string]any{"sid": statementUUID, "spid": spaceUUID})
	return err
}

// GetSpaceStatements returns every currently-valid statement assigned to
// a space, the C10 contract's getSpaceStatements and also the live
// "currentStatementCount" input to the growth-trigger check.
func (s *Store) GetSpaceStatements(ctx context.Context, spaceUUID, userID string) ([]domain.Statement, error) {
	sess := s.session(ctx)
	defer sess.Close(ctx)

	cypher := `MATCH (s:Statement {user_id: $userID}) WHERE $spaceID IN coalesce(s.space_ids, []) AND s.invalid_at IS NULL RETURN s`
	result, err := sess.Run(ctx, cypher, map[string]any{"spaceID": spaceUUID, "userID": userID})
	if err != nil {
		return nil, err
	}
	return collectStatements(ctx, result)
}

// DeleteSpace soft-deletes a Space and scrubs its uuid from every
// Statement's space_ids (spec §8 invariant 7).
func (s *Store) DeleteSpace(ctx context.Context, spaceUUID string) error {
	sess := s.session(ctx)
	defer sess.Close(ctx)

	_, err := sess.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		if _, err := tx.Run(ctx, `MATCH (sp:Space {uuid: $spid}) SET sp.is_active = false`, map[string]any{"spid": spaceUUID}); err != nil {
			return nil, err
		}
		cypher := `MATCH (s:Statement) WHERE $spid IN coalesce(s.space_ids, [])
			SET s.space_ids = [x IN s.space_ids WHERE x <> $spid]`
		_, err := tx.Run(ctx, cypher, map[string]any{"spid": spaceUUID})
		return nil, err
	})
	return err
}

// MarkSpaceAnalyzed records that a pattern-analysis pass just ran,
// resetting the growth-trigger baseline. The write is guarded by a
// compare-and-set on the counter the caller read before starting the
// analysis, so two concurrent triggers for the same space can't both
// reset the baseline and double-count the next window (spec §4.10
// "update both counters atomically ... to prevent double-firing under
// concurrency"). ok is false if the space's counter had already moved.
func (s *Store) MarkSpaceAnalyzed(ctx context.Context, spaceUUID string, expectedCount, newCount int) (ok bool, err error) {
	sess := s.session(ctx)
	defer sess.Close(ctx)

	cypher := `MATCH (sp:Space {uuid: $spid})
		WHERE sp.statement_count_at_last_trigger = $expected
		SET sp.statement_count_at_last_trigger = $newCount, sp.last_pattern_trigger = $now
		RETURN count(sp) AS updated`
	result, err := sess.Run(ctx, cypher, map[string]any{
		"spid": spaceUUID, "expected": int64(expectedCount), "newCount": int64(newCount), "now": nowStr(),
	})
	if err != nil {
		return false, err
	}
	if !result.Next(ctx) {
		return false, nil
	}
	updated, _, err := neo4j.GetRecordValue[int64](result.Record(), "updated")
	if err != nil {
		return false, err
	}
	return updated > 0, nil
}
