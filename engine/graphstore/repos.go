package graphstore

import (
	"context"

	"github.com/jmagar/core-sub000/domain"
	"github.com/jmagar/core-sub000/pkg/repo"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j/dbtype"
)

// nodeFromRecord extracts the single node bound to key and decodes it
// with decode, the shared adapter every repo.Neo4jRepo[T,ID] below uses
// as its fromRecord callback.
func nodeFromRecord[T any](key string, decode func(map[string]any) T) func(*neo4j.Record) (T, error) {
	return func(rec *neo4j.Record) (T, error) {
		var zero T
		node, _, err := neo4j.GetRecordValue[dbtype.Node](rec, key)
		if err != nil {
			return zero, err
		}
		return decode(node.Props), nil
	}
}

// episodes, entities, statements, and documents expose plain keyed
// Get/List/Delete through pkg/repo.Neo4jRepo for the four primary node
// kinds (spec §3.2); the relationship-shaped reads/writes in
// episode.go/entity.go/statement.go/document.go stay hand-written Cypher
// since Neo4jRepo's generic CRUD has no notion of edges.
func (s *Store) episodes() *repo.Neo4jRepo[domain.Episode, string] {
	return repo.NewNeo4jRepo[domain.Episode, string](s.driver, "Episode",
		episodeToMap, nodeFromRecord("n", episodeFromProps),
		repo.WithIDKey[domain.Episode, string]("uuid"))
}

func (s *Store) entities() *repo.Neo4jRepo[domain.Entity, string] {
	return repo.NewNeo4jRepo[domain.Entity, string](s.driver, "Entity",
		entityToMap, nodeFromRecord("n", entityFromProps),
		repo.WithIDKey[domain.Entity, string]("uuid"))
}

func (s *Store) statements() *repo.Neo4jRepo[domain.Statement, string] {
	return repo.NewNeo4jRepo[domain.Statement, string](s.driver, "Statement",
		statementToMap, nodeFromRecord("n", statementFromProps),
		repo.WithIDKey[domain.Statement, string]("uuid"))
}

func (s *Store) documents() *repo.Neo4jRepo[domain.Document, string] {
	return repo.NewNeo4jRepo[domain.Document, string](s.driver, "Document",
		documentToMap, nodeFromRecord("n", documentFromProps),
		repo.WithIDKey[domain.Document, string]("uuid"))
}

// GetEpisode fetches one Episode by uuid.
func (s *Store) GetEpisode(ctx context.Context, id string) (domain.Episode, error) { return s.episodes().Get(ctx, id) }

// GetEntity fetches one Entity by uuid.
func (s *Store) GetEntity(ctx context.Context, id string) (domain.Entity, error) { return s.entities().Get(ctx, id) }

// GetStatement fetches one Statement by uuid.
func (s *Store) GetStatement(ctx context.Context, id string) (domain.Statement, error) {
	return s.statements().Get(ctx, id)
}

// GetDocument fetches one Document by uuid.
func (s *Store) GetDocument(ctx context.Context, id string) (domain.Document, error) {
	return s.documents().Get(ctx, id)
}

// DeleteEntity removes an Entity node (and its edges, via Neo4j's
// implicit DETACH semantics are NOT applied here — callers invalidate
// statements before deleting their participants).
func (s *Store) DeleteEntity(ctx context.Context, id string) error { return s.entities().Delete(ctx, id) }
