package graphstore

import (
	"context"
	"sort"

	"github.com/jmagar/core-sub000/domain"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j/dbtype"
)

func episodeToMap(e domain.Episode) map[string]any {
	return map[string]any{
		"uuid":             e.UUID,
		"content":          e.Content,
		"original_content": e.OriginalContent,
		"source":           e.Source,
		"created_at":       e.CreatedAt.Format(rfc3339),
		"valid_at":         e.ValidAt.Format(rfc3339),
		"labels":           e.Labels,
		"user_id":          e.UserID,
		"space":            e.Space,
		"session_id":       e.SessionID,
		"metadata":         toJSON(e.Metadata),
	}
}

const rfc3339 = "2006-01-02T15:04:05.999999999Z07:00"

func episodeFromProps(props map[string]any) domain.Episode {
	return domain.Episode{
		UUID:            strProp(props, "uuid"),
		Content:         strProp(props, "content"),
		OriginalContent: strProp(props, "original_content"),
		Source:          strProp(props, "source"),
		CreatedAt:       timeProp(props, "created_at"),
		ValidAt:         timeProp(props, "valid_at"),
		Labels:          stringSliceProp(props, "labels"),
		UserID:          strProp(props, "user_id"),
		Space:           strProp(props, "space"),
		SessionID:       strProp(props, "session_id"),
		Metadata:        mapStringStringProp(props, "metadata"),
	}
}

// SaveEpisode idempotently creates or updates an Episode node.
func (s *Store) SaveEpisode(ctx context.Context, e domain.Episode) error {
	sess := s.session(ctx)
	defer sess.Close(ctx)

	cypher := `MERGE (n:Episode {uuid: $uuid}) SET n += $props`
	_, err := sess.Run(ctx, cypher, map[string]any{"uuid": e.UUID, "props": episodeToMap(e)})
	return err
}

// LinkEpisodeToDocument creates a Document-CONTAINS_CHUNK{chunkIndex}->Episode edge.
func (s *Store) LinkEpisodeToDocument(ctx context.Context, episodeUUID, docUUID string, chunkIndex int) error {
	sess := s.session(ctx)
	defer sess.Close(ctx)

	cypher := `MATCH (d:Document {uuid: $docID}), (e:Episode {uuid: $epID})
		MERGE (d)-[r:CONTAINS_CHUNK]->(e)
		SET r.chunkIndex = $idx, r.uuid = $edgeID, r.createdAt = $now`
	_, err := sess.Run(ctx, cypher, map[string]any{
		"docID": docUUID, "epID": episodeUUID, "idx": chunkIndex,
		"edgeID": domain.NewID(), "now": nowStr(),
	})
	return err
}

// GetRecentEpisodes fetches the limit most recent prior episodes for
// (userId, source, sessionId, validAt <= referenceTime) and returns them
// oldest first (spec §4.6 step 1).
func (s *Store) GetRecentEpisodes(ctx context.Context, userID, source, sessionID string, referenceTime string, limit int) ([]domain.Episode, error) {
	sess := s.session(ctx)
	defer sess.Close(ctx)

	cypher := `MATCH (e:Episode {user_id: $userID, source: $source})
		WHERE ($sessionID = '' OR e.session_id = $sessionID) AND e.valid_at <= $refTime
		RETURN e ORDER BY e.valid_at DESC LIMIT $limit`
	result, err := sess.Run(ctx, cypher, map[string]any{
		"userID": userID, "source": source, "sessionID": sessionID,
		"refTime": referenceTime, "limit": int64(limit),
	})
	if err != nil {
		return nil, err
	}

	var episodes []domain.Episode
	for result.Next(ctx) {
		node, _, err := neo4j.GetRecordValue[dbtype.Node](result.Record(), "e")
		if err != nil {
			return nil, err
		}
		episodes = append(episodes, episodeFromProps(node.Props))
	}
	// Oldest-first for session context serialization (spec §4.6 step 1).
	sort.Slice(episodes, func(i, j int) bool { return episodes[i].ValidAt.Before(episodes[j].ValidAt) })
	return episodes, nil
}

// GetEpisodeStatements returns every Statement provenanced by the given episode.
func (s *Store) GetEpisodeStatements(ctx context.Context, episodeUUID string) ([]domain.Statement, error) {
	sess := s.session(ctx)
	defer sess.Close(ctx)

	cypher := `MATCH (e:Episode {uuid: $epID})-[:HAS_PROVENANCE]->(s:Statement)
		RETURN DISTINCT s`
	result, err := sess.Run(ctx, cypher, map[string]any{"epID": episodeUUID})
	if err != nil {
		return nil, err
	}
	return collectStatements(ctx, result)
}

func nowStr() string { return nowFunc().Format(rfc3339) }
