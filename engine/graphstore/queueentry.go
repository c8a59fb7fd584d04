package graphstore

import (
	"context"
	"encoding/json"

	"github.com/jmagar/core-sub000/domain"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j/dbtype"
)

func queueEntryToMap(e domain.IngestionQueueEntry) map[string]any {
	m := map[string]any{
		"uuid":         e.ID,
		"workspace_id": e.WorkspaceID,
		"space_id":     e.SpaceID,
		"priority":     int64(e.Priority),
		"data":         toJSON(e.Data),
		"error":        e.Error,
		"status":       string(e.Status),
		"created_at":   e.CreatedAt.Format(rfc3339),
		"updated_at":   e.UpdatedAt.Format(rfc3339),
	}
	if e.Output != nil {
		m["output"] = toJSON(e.Output)
	}
	return m
}

func queueEntryFromProps(props map[string]any) domain.IngestionQueueEntry {
	e := domain.IngestionQueueEntry{
		ID:          strProp(props, "uuid"),
		WorkspaceID: strProp(props, "workspace_id"),
		SpaceID:     strProp(props, "space_id"),
		Priority:    intProp(props, "priority"),
		Error:       strProp(props, "error"),
		Status:      domain.QueueStatus(strProp(props, "status")),
		CreatedAt:   timeProp(props, "created_at"),
		UpdatedAt:   timeProp(props, "updated_at"),
	}
	if s, ok := props["data"].(string); ok && s != "" {
		_ = json.Unmarshal([]byte(s), &e.Data)
	}
	if s, ok := props["output"].(string); ok && s != "" {
		var out domain.IngestOutput
		if json.Unmarshal([]byte(s), &out) == nil {
			e.Output = &out
		}
	}
	return e
}

// SaveQueueEntry idempotently creates or updates an IngestionQueueEntry
// node. Called before enqueue (status PENDING) per spec §4.5's
// record-before-enqueue contract.
func (s *Store) SaveQueueEntry(ctx context.Context, e domain.IngestionQueueEntry) error {
	sess := s.session(ctx)
	defer sess.Close(ctx)

	cypher := `MERGE (n:IngestionQueueEntry {uuid: $uuid}) SET n += $props`
	_, err := sess.Run(ctx, cypher, map[string]any{"uuid": e.ID, "props": queueEntryToMap(e)})
	return err
}

// UpdateQueueEntryStatus overwrites the entry's status and error (and
// output, when non-nil). It does not check the prior status; the
// PENDING -> PROCESSING -> (COMPLETED|FAILED) order (spec §3's
// IngestionQueueEntry invariant) comes from the order in which
// engine/queue's Registry calls it.
func (s *Store) UpdateQueueEntryStatus(ctx context.Context, id string, status domain.QueueStatus, output *domain.IngestOutput, errMsg string) error {
	sess := s.session(ctx)
	defer sess.Close(ctx)

	props := map[string]any{
		"status":  string(status),
		"error":   errMsg,
		"updated": nowFunc().Format(rfc3339),
	}
	if output != nil {
		props["output"] = toJSON(output)
	}
	cypher := `MATCH (n:IngestionQueueEntry {uuid: $uuid})
		SET n.status = $status, n.error = $error, n.updated_at = $updated`
	if output != nil {
		cypher += `, n.output = $output`
	}
	params := map[string]any{"uuid": id, "status": props["status"], "error": props["error"], "updated": props["updated"]}
	if output != nil {
		params["output"] = props["output"]
	}
	_, err := sess.Run(ctx, cypher, params)
	return err
}

// GetQueueEntry fetches one IngestionQueueEntry by id.
func (s *Store) GetQueueEntry(ctx context.Context, id string) (domain.IngestionQueueEntry, bool, error) {
	sess := s.session(ctx)
	defer sess.Close(ctx)

	cypher := `MATCH (n:IngestionQueueEntry {uuid: $uuid}) RETURN n LIMIT 1`
	result, err := sess.Run(ctx, cypher, map[string]any{"uuid": id})
	if err != nil {
		return domain.IngestionQueueEntry{}, false, err
	}
	if !result.Next(ctx) {
		return domain.IngestionQueueEntry{}, false, nil
	}
	node, _, err := neo4j.GetRecordValue[dbtype.Node](result.Record(), "n")
	if err != nil {
		return domain.IngestionQueueEntry{}, false, err
	}
	return queueEntryFromProps(node.Props), true, nil
}

// ListQueueEntries returns a page of a workspace's IngestionQueueEntry
// rows, newest first (spec §4.12's GET /ingest/logs).
func (s *Store) ListQueueEntries(ctx context.Context, workspaceID string, page, limit int) ([]domain.IngestionQueueEntry, error) {
	sess := s.session(ctx)
	defer sess.Close(ctx)

	if limit <= 0 {
		limit = 20
	}
	if page < 1 {
		page = 1
	}
	cypher := `MATCH (n:IngestionQueueEntry {workspace_id: $wsID})
		RETURN n ORDER BY n.created_at DESC SKIP $skip LIMIT $limit`
	result, err := sess.Run(ctx, cypher, map[string]any{
		"wsID":  workspaceID,
		"skip":  int64((page - 1) * limit),
		"limit": int64(limit),
	})
	if err != nil {
		return nil, err
	}
	var out []domain.IngestionQueueEntry
	for result.Next(ctx) {
		node, _, err := neo4j.GetRecordValue[dbtype.Node](result.Record(), "n")
		if err != nil {
			return nil, err
		}
		out = append(out, queueEntryFromProps(node.Props))
	}
	return out, nil
}
