package graphstore

import (
	"context"

	"github.com/jmagar/core-sub000/domain"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j/dbtype"
)

func documentToMap(d domain.Document) map[string]any {
	return map[string]any{
		"uuid":                  d.UUID,
		"title":                 d.Title,
		"original_content":      d.OriginalContent,
		"source":                d.Source,
		"user_id":               d.UserID,
		"session_id":            d.SessionID,
		"version":               int64(d.Version),
		"content_hash":          d.ContentHash,
		"chunk_hashes":          d.ChunkHashes,
		"previous_version_uuid": d.PreviousVersionUUID,
		"total_chunks":          int64(d.TotalChunks),
		"created_at":            d.CreatedAt.Format(rfc3339),
		"updated_at":            d.UpdatedAt.Format(rfc3339),
	}
}

func documentFromProps(props map[string]any) domain.Document {
	return domain.Document{
		UUID:                strProp(props, "uuid"),
		Title:               strProp(props, "title"),
		OriginalContent:     strProp(props, "original_content"),
		Source:              strProp(props, "source"),
		UserID:              strProp(props, "user_id"),
		SessionID:           strProp(props, "session_id"),
		Version:             intProp(props, "version"),
		ContentHash:         strProp(props, "content_hash"),
		ChunkHashes:         stringSliceProp(props, "chunk_hashes"),
		PreviousVersionUUID: strProp(props, "previous_version_uuid"),
		TotalChunks:         intProp(props, "total_chunks"),
		CreatedAt:           timeProp(props, "created_at"),
		UpdatedAt:           timeProp(props, "updated_at"),
	}
}

// SaveDocument idempotently creates or updates a Document node.
func (s *Store) SaveDocument(ctx context.Context, d domain.Document) error {
	sess := s.session(ctx)
	defer sess.Close(ctx)

	cypher := `MERGE (n:Document {uuid: $uuid}) SET n += $props`
	_, err := sess.Run(ctx, cypher, map[string]any{"uuid": d.UUID, "props": documentToMap(d)})
	return err
}

// LinkDocumentVersions creates the PREVIOUS_VERSION edge from a new
// Document version back to the one it supersedes (spec §4.4 re-ingestion
// versioning).
func (s *Store) LinkDocumentVersions(ctx context.Context, newUUID, previousUUID string) error {
	sess := s.session(ctx)
	defer sess.Close(ctx)

	cypher := `MATCH (n:Document {uuid: $newID}), (p:Document {uuid: $prevID})
		MERGE (n)-[r:PREVIOUS_VERSION]->(p)
		ON CREATE SET r.uuid = $edgeID, r.createdAt = $now`
	_, err := sess.Run(ctx, cypher, map[string]any{
		"newID": newUUID, "prevID": previousUUID, "edgeID": domain.NewID(), "now": nowStr(),
	})
	return err
}

// GetLatestDocumentVersion returns the most recent Document for a
// (userID, sessionID) pair, the entry point for C4's diff decision.
func (s *Store) GetLatestDocumentVersion(ctx context.Context, userID, sessionID string) (domain.Document, bool, error) {
	sess := s.session(ctx)
	defer sess.Close(ctx)

	cypher := `MATCH (d:Document {user_id: $userID, session_id: $sessionID})
		RETURN d ORDER BY d.version DESC LIMIT 1`
	result, err := sess.Run(ctx, cypher, map[string]any{"userID": userID, "sessionID": sessionID})
	if err != nil {
		return domain.Document{}, false, err
	}
	if !result.Next(ctx) {
		return domain.Document{}, false, nil
	}
	node, _, err := neo4j.GetRecordValue[dbtype.Node](result.Record(), "d")
	if err != nil {
		return domain.Document{}, false, err
	}
	return documentFromProps(node.Props), true, nil
}

// GetDocumentChunks returns the Episode chunks owned by a Document,
// ordered by chunkIndex, for chunk-level diffing (spec §4.4).
func (s *Store) GetDocumentChunks(ctx context.Context, docUUID string) ([]domain.Episode, error) {
	sess := s.session(ctx)
	defer sess.Close(ctx)

	cypher := `MATCH (d:Document {uuid: $docID})-[r:CONTAINS_CHUNK]->(e:Episode)
		RETURN e ORDER BY r.chunkIndex ASC`
	result, err := sess.Run(ctx, cypher, map[string]any{"docID": docUUID})
	if err != nil {
		return nil, err
	}
	var out []domain.Episode
	for result.Next(ctx) {
		node, _, err := neo4j.GetRecordValue[dbtype.Node](result.Record(), "e")
		if err != nil {
			return nil, err
		}
		out = append(out, episodeFromProps(node.Props))
	}
	return out, nil
}
