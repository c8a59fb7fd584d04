package graphstore

import (
	"context"

	"github.com/jmagar/core-sub000/domain"
	"github.com/jmagar/core-sub000/engine/vectorstore"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j/dbtype"
)

// CombinedStore is the single C1 capability the rest of the pipeline
// depends on: structural Cypher operations (Store) plus vector-ANN
// similarity search (vectorstore.Store), composed so callers never touch
// either backend directly. Every similarity query follows the same
// shape — search Qdrant for IDs/scores, then hydrate full nodes from
// Neo4j — since Qdrant carries no relationship data and Neo4j carries
// no vector index.
type CombinedStore struct {
	Graph  *Store
	Vector *vectorstore.Store
}

func NewCombinedStore(graph *Store, vector *vectorstore.Store) *CombinedStore {
	return &CombinedStore{Graph: graph, Vector: vector}
}

// EnsureSchema bootstraps both backends. Cheap to call repeatedly: Graph's
// half is sync.Once-guarded and Vector's half checks collection existence
// before creating.
func (c *CombinedStore) EnsureSchema(ctx context.Context, embeddingDims int) error {
	if err := c.Graph.EnsureSchema(ctx); err != nil {
		return &domain.SchemaInitError{Wrapped: err}
	}
	if err := c.Vector.EnsureSchema(ctx, embeddingDims); err != nil {
		return &domain.SchemaInitError{Wrapped: err}
	}
	return nil
}

// FindSimilarEntities searches by nameEmbedding and hydrates matching
// Entity nodes, used by C7 entity resolution (spec §4.7).
func (c *CombinedStore) FindSimilarEntities(ctx context.Context, embedding []float32, userID string, limit int, threshold float32) ([]domain.Entity, error) {
	hits, err := c.Vector.Search(ctx, vectorstore.KindEntity, embedding, userID, limit, threshold)
	if err != nil {
		return nil, err
	}
	return c.Graph.GetEntitiesByIDs(ctx, hitIDs(hits))
}

// FindSimilarStatements searches by factEmbedding and hydrates matching
// Statement nodes, used by C8 statement resolution and by C6's
// related-memories lookup (spec §4.8/§4.6).
func (c *CombinedStore) FindSimilarStatements(ctx context.Context, embedding []float32, userID string, limit int, threshold float32) ([]domain.Statement, error) {
	hits, err := c.Vector.Search(ctx, vectorstore.KindStatement, embedding, userID, limit, threshold)
	if err != nil {
		return nil, err
	}
	ids := hitIDs(hits)
	if len(ids) == 0 {
		return nil, nil
	}
	sess := c.Graph.session(ctx)
	defer sess.Close(ctx)
	result, err := sess.Run(ctx, `MATCH (s:Statement) WHERE s.uuid IN $ids RETURN s`, map[string]any{"ids": ids})
	if err != nil {
		return nil, err
	}
	return collectStatements(ctx, result)
}

// SearchEpisodesByEmbedding searches by contentEmbedding and hydrates
// matching Episode nodes, used by C6's related-memories lookup on every
// pipeline run (spec §4.6 step 1).
func (c *CombinedStore) SearchEpisodesByEmbedding(ctx context.Context, embedding []float32, userID string, limit int, threshold float32) ([]domain.Episode, error) {
	hits, err := c.Vector.Search(ctx, vectorstore.KindEpisode, embedding, userID, limit, threshold)
	if err != nil {
		return nil, err
	}
	ids := hitIDs(hits)
	if len(ids) == 0 {
		return nil, nil
	}
	sess := c.Graph.session(ctx)
	defer sess.Close(ctx)
	result, err := sess.Run(ctx, `MATCH (e:Episode) WHERE e.uuid IN $ids RETURN e`, map[string]any{"ids": ids})
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

// FindExactPredicateMatches, FindContradictoryStatements,
// FindStatementsWithSameSubjectObject, GetEpisodeStatements, and
// GetTripleForStatement are pure-Cypher lookups with no vector
// component; they pass straight through to Graph so C7/C8 only ever
// need to depend on CombinedStore, never on Store directly.

func (c *CombinedStore) FindExactPredicateMatches(ctx context.Context, predicateName, userID string) ([]domain.Entity, error) {
	return c.Graph.FindExactPredicateMatches(ctx, predicateName, userID)
}

func (c *CombinedStore) FindContradictoryStatements(ctx context.Context, subjectID, predicateID, userID string) ([]domain.Statement, error) {
	return c.Graph.FindContradictoryStatements(ctx, subjectID, predicateID, userID)
}

func (c *CombinedStore) FindStatementsWithSameSubjectObject(ctx context.Context, subjectID, objectID, userID, excludePredicateID string) ([]domain.Statement, error) {
	return c.Graph.FindStatementsWithSameSubjectObject(ctx, subjectID, objectID, userID, excludePredicateID)
}

func (c *CombinedStore) GetEpisodeStatements(ctx context.Context, episodeUUID string) ([]domain.Statement, error) {
	return c.Graph.GetEpisodeStatements(ctx, episodeUUID)
}

func (c *CombinedStore) GetTripleForStatement(ctx context.Context, statementUUID string) (domain.Triple, error) {
	return c.Graph.GetTripleForStatement(ctx, statementUUID)
}

// GetValidStatements, GetUnclusteredStatements, GetStatementEntityIDs,
// GetEntitiesByIDs, and the Cluster/Space CRUD methods below are likewise
// pure-Cypher and pass straight through, so C9/C10 depend on CombinedStore
// alone.

func (c *CombinedStore) GetValidStatements(ctx context.Context, userID string) ([]domain.Statement, error) {
	return c.Graph.GetValidStatements(ctx, userID)
}

func (c *CombinedStore) GetUnclusteredStatements(ctx context.Context, userID string) ([]domain.Statement, error) {
	return c.Graph.GetUnclusteredStatements(ctx, userID)
}

func (c *CombinedStore) GetStatementsByCluster(ctx context.Context, clusterUUID string) ([]domain.Statement, error) {
	return c.Graph.GetStatementsByCluster(ctx, clusterUUID)
}

func (c *CombinedStore) GetStatementEntityIDs(ctx context.Context, statementID string) (subjectID, predicateID, objectID string, err error) {
	return c.Graph.GetStatementEntityIDs(ctx, statementID)
}

func (c *CombinedStore) GetEntitiesByIDs(ctx context.Context, ids []string) ([]domain.Entity, error) {
	return c.Graph.GetEntitiesByIDs(ctx, ids)
}

func (c *CombinedStore) SaveCluster(ctx context.Context, cl domain.Cluster) error {
	return c.Graph.SaveCluster(ctx, cl)
}

func (c *CombinedStore) AssignStatementToCluster(ctx context.Context, statementUUID, clusterUUID string) error {
	return c.Graph.AssignStatementToCluster(ctx, statementUUID, clusterUUID)
}

func (c *CombinedStore) RecordSplit(ctx context.Context, parentUUID string, originalSize int, childUUIDs []string, childSizes []int) error {
	return c.Graph.RecordSplit(ctx, parentUUID, originalSize, childUUIDs, childSizes)
}

func (c *CombinedStore) GetClustersForUser(ctx context.Context, userID string) ([]domain.Cluster, error) {
	return c.Graph.GetClustersForUser(ctx, userID)
}

func (c *CombinedStore) ClearAllClusters(ctx context.Context, userID string) error {
	return c.Graph.ClearAllClusters(ctx, userID)
}

// GetStatementEmbeddings fetches Statement.factEmbedding vectors by UUID
// from the vector store, since Neo4j never carries the embedding itself
// (spec §6 storage split). Missing IDs are silently dropped.
func (c *CombinedStore) GetStatementEmbeddings(ctx context.Context, statementUUIDs []string) (map[string][]float32, error) {
	return c.Vector.GetVectors(ctx, vectorstore.KindStatement, statementUUIDs)
}

func (c *CombinedStore) SaveSpace(ctx context.Context, sp domain.Space) error {
	return c.Graph.SaveSpace(ctx, sp)
}

func (c *CombinedStore) GetSpacesForWorkspace(ctx context.Context, workspaceID string) ([]domain.Space, error) {
	return c.Graph.GetSpacesForWorkspace(ctx, workspaceID)
}

func (c *CombinedStore) GetSpaceByName(ctx context.Context, workspaceID, name string) (domain.Space, bool, error) {
	return c.Graph.GetSpaceByName(ctx, workspaceID, name)
}

func (c *CombinedStore) GetSpaceByUUID(ctx context.Context, spaceUUID string) (domain.Space, bool, error) {
	return c.Graph.GetSpaceByUUID(ctx, spaceUUID)
}

func (c *CombinedStore) AssignStatementToSpace(ctx context.Context, statementUUID, spaceUUID, method string) error {
	return c.Graph.AssignStatementToSpace(ctx, statementUUID, spaceUUID, method)
}

func (c *CombinedStore) RemoveStatementFromSpace(ctx context.Context, statementUUID, spaceUUID string) error {
	return c.Graph.RemoveStatementFromSpace(ctx, statementUUID, spaceUUID)
}

func (c *CombinedStore) GetSpaceStatements(ctx context.Context, spaceUUID, userID string) ([]domain.Statement, error) {
	return c.Graph.GetSpaceStatements(ctx, spaceUUID, userID)
}

func (c *CombinedStore) DeleteSpace(ctx context.Context, spaceUUID string) error {
	return c.Graph.DeleteSpace(ctx, spaceUUID)
}

func (c *CombinedStore) MarkSpaceAnalyzed(ctx context.Context, spaceUUID string, expectedCount, newCount int) (bool, error) {
	return c.Graph.MarkSpaceAnalyzed(ctx, spaceUUID, expectedCount, newCount)
}

// GetRecentEpisodes, SaveEpisode, SaveEntity, SaveTriple, and
// InvalidateStatements are pure-Cypher episode/entity/statement lifecycle
// operations; passed through so C6's pipeline depends on CombinedStore
// alone, same as every other engine package.

func (c *CombinedStore) GetRecentEpisodes(ctx context.Context, userID, source, sessionID, referenceTime string, limit int) ([]domain.Episode, error) {
	return c.Graph.GetRecentEpisodes(ctx, userID, source, sessionID, referenceTime, limit)
}

func (c *CombinedStore) SaveEpisode(ctx context.Context, e domain.Episode) error {
	return c.Graph.SaveEpisode(ctx, e)
}

func (c *CombinedStore) SaveEntity(ctx context.Context, e domain.Entity) error {
	return c.Graph.SaveEntity(ctx, e)
}

func (c *CombinedStore) SaveTriple(ctx context.Context, episodeUUID string, st domain.Statement) error {
	return c.Graph.SaveTriple(ctx, episodeUUID, st)
}

func (c *CombinedStore) InvalidateStatements(ctx context.Context, statementIDs []string, invalidatedBy string) error {
	return c.Graph.InvalidateStatements(ctx, statementIDs, invalidatedBy)
}

// SaveQueueEntry, UpdateQueueEntryStatus, GetQueueEntry, and
// ListQueueEntries back C5's queue.Registry and C12's /ingest/logs
// endpoints; pure-Cypher, passed through unchanged.

func (c *CombinedStore) SaveQueueEntry(ctx context.Context, e domain.IngestionQueueEntry) error {
	return c.Graph.SaveQueueEntry(ctx, e)
}

func (c *CombinedStore) UpdateQueueEntryStatus(ctx context.Context, id string, status domain.QueueStatus, output *domain.IngestOutput, errMsg string) error {
	return c.Graph.UpdateQueueEntryStatus(ctx, id, status, output, errMsg)
}

func (c *CombinedStore) GetQueueEntry(ctx context.Context, id string) (domain.IngestionQueueEntry, bool, error) {
	return c.Graph.GetQueueEntry(ctx, id)
}

func (c *CombinedStore) ListQueueEntries(ctx context.Context, workspaceID string, page, limit int) ([]domain.IngestionQueueEntry, error) {
	return c.Graph.ListQueueEntries(ctx, workspaceID, page, limit)
}

// SaveDocument, LinkDocumentVersions, GetLatestDocumentVersion,
// GetDocumentChunks, and LinkEpisodeToDocument back C3/C4's document
// versioning; pure-Cypher, passed through unchanged.

func (c *CombinedStore) SaveDocument(ctx context.Context, d domain.Document) error {
	return c.Graph.SaveDocument(ctx, d)
}

func (c *CombinedStore) LinkDocumentVersions(ctx context.Context, newUUID, previousUUID string) error {
	return c.Graph.LinkDocumentVersions(ctx, newUUID, previousUUID)
}

func (c *CombinedStore) GetLatestDocumentVersion(ctx context.Context, userID, sessionID string) (domain.Document, bool, error) {
	return c.Graph.GetLatestDocumentVersion(ctx, userID, sessionID)
}

func (c *CombinedStore) GetDocumentChunks(ctx context.Context, docUUID string) ([]domain.Episode, error) {
	return c.Graph.GetDocumentChunks(ctx, docUUID)
}

func (c *CombinedStore) LinkEpisodeToDocument(ctx context.Context, episodeUUID, docUUID string, chunkIndex int) error {
	return c.Graph.LinkEpisodeToDocument(ctx, episodeUUID, docUUID, chunkIndex)
}

func hitIDs(hits []vectorstore.Hit) []string {
	ids := make([]string, len(hits))
	for i, h := range hits {
		ids[i] = h.ID
	}
	return ids
}
