// This file implements C3+C4: chunking, version-diffing, and re-ingesting
// whole documents, layered on top of C6's per-episode pipeline in
// pipeline.go (spec §4.3-§4.4).
package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/jmagar/core-sub000/domain"
	"github.com/jmagar/core-sub000/engine/chunker"
	"github.com/jmagar/core-sub000/engine/differ"
)

// DocumentStore is the C1 surface C3/C4 need beyond EpisodeStore: the
// Document version chain and its chunk-to-episode linkage.
type DocumentStore interface {
	SaveDocument(ctx context.Context, d domain.Document) error
	LinkDocumentVersions(ctx context.Context, newUUID, previousUUID string) error
	GetLatestDocumentVersion(ctx context.Context, userID, sessionID string) (domain.Document, bool, error)
	GetDocumentChunks(ctx context.Context, docUUID string) ([]domain.Episode, error)
	LinkEpisodeToDocument(ctx context.Context, episodeUUID, docUUID string, chunkIndex int) error
	GetEpisodeStatements(ctx context.Context, episodeUUID string) ([]domain.Statement, error)
}

// DocumentRequest is one document-upsert call (spec §4.3/§4.4). A document
// is versioned per (UserID, SessionID): re-submitting the same pair with
// changed content produces a new version linked back to the one it
// supersedes.
type DocumentRequest struct {
	Title         string
	Content       string
	Source        string
	UserID        string
	WorkspaceID   string
	SessionID     string
	SpaceID       string
	ReferenceTime time.Time
}

// DocumentResult summarizes one UpsertDocument call.
type DocumentResult struct {
	Document              domain.Document
	Strategy              differ.Strategy
	ChunksIngested        int
	StatementsInvalidated int
	Usage                 domain.TokenUsage
}

// UpsertDocument chunks req.Content (C3), decides a re-ingestion strategy
// against the document's previous version if any (C4's decision table),
// and acts on it: a brand-new document or a full reingest chunks
// everything, a chunk-level diff only re-ingests the chunks that changed
// and invalidates statements the new content no longer supports, and a
// skip is a no-op beyond returning the unchanged prior version.
func UpsertDocument(ctx context.Context, deps Deps, docs DocumentStore, req DocumentRequest) (*DocumentResult, error) {
	log := deps.log()

	chunked := chunker.Chunk(req.Content, chunker.DefaultConfig())

	prior, _, err := docs.GetLatestDocumentVersion(ctx, req.UserID, req.SessionID)
	if err != nil {
		return nil, fmt.Errorf("document: lookup prior version: %w", err)
	}

	decision := differ.Decide(prior, chunked.ContentHash, chunked.ChunkHashes)
	res := &DocumentResult{Strategy: decision.Strategy}

	if decision.Strategy == differ.StrategySkipProcessing {
		res.Document = prior
		log.Info("document.upsert", "strategy", decision.Strategy, "uuid", prior.UUID)
		return res, nil
	}

	now := time.Now().UTC()
	doc := domain.Document{
		UUID:            deps.newUUID(),
		Title:           req.Title,
		OriginalContent: req.Content,
		Source:          req.Source,
		UserID:          req.UserID,
		SessionID:       req.SessionID,
		Version:         decision.NewVersion,
		ContentHash:     chunked.ContentHash,
		ChunkHashes:     chunked.ChunkHashes,
		TotalChunks:     chunked.TotalChunks,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if prior.Version != 0 {
		doc.PreviousVersionUUID = prior.UUID
	}

	// Save the Document node before linking anything to it: both
	// LinkDocumentVersions and LinkEpisodeToDocument MATCH it by uuid.
	if err := docs.SaveDocument(ctx, doc); err != nil {
		return nil, fmt.Errorf("document: save: %w", err)
	}
	if doc.PreviousVersionUUID != "" {
		if err := docs.LinkDocumentVersions(ctx, doc.UUID, doc.PreviousVersionUUID); err != nil {
			return nil, fmt.Errorf("document: link versions: %w", err)
		}
	}

	chunksToIngest := chunked.Chunks
	if decision.Strategy == differ.StrategyChunkLevelDiff {
		changed := make(map[int]bool, len(decision.ChangedChunks))
		for _, i := range decision.ChangedChunks {
			changed[i] = true
		}
		chunksToIngest = nil
		for _, c := range chunked.Chunks {
			if changed[c.Index] {
				chunksToIngest = append(chunksToIngest, c)
			}
		}
	}

	refTime := req.ReferenceTime
	if refTime.IsZero() {
		refTime = now
	}

	for _, c := range chunksToIngest {
		out, err := Run(ctx, deps, domain.IngestRequest{
			EpisodeBody:   c.Text,
			ReferenceTime: refTime,
			Source:        req.Source,
			SpaceID:       req.SpaceID,
			SessionID:     req.SessionID,
			Name:          req.Title,
			Type:          domain.IngestDocument,
			UserID:        req.UserID,
			WorkspaceID:   req.WorkspaceID,
		})
		if err != nil {
			return nil, fmt.Errorf("document: ingest chunk %d: %w", c.Index, err)
		}
		res.Usage.Add(out.Tokens)
		if out.EpisodeUUID == "" {
			continue // NOTHING_TO_REMEMBER: no episode persisted for this chunk
		}
		if err := docs.LinkEpisodeToDocument(ctx, out.EpisodeUUID, doc.UUID, c.Index); err != nil {
			return nil, fmt.Errorf("document: link chunk %d: %w", c.Index, err)
		}
		res.ChunksIngested++
	}

	if decision.Strategy == differ.StrategyChunkLevelDiff && prior.Version != 0 {
		invalidated, err := invalidateStaleStatements(ctx, deps, docs, prior, doc, decision.ChangedChunks, req.Content)
		if err != nil {
			return nil, fmt.Errorf("document: cross-version invalidation: %w", err)
		}
		res.StatementsInvalidated = invalidated
	}

	res.Document = doc
	log.Info("document.upsert", "uuid", doc.UUID, "strategy", decision.Strategy,
		"version", doc.Version, "chunks_ingested", res.ChunksIngested)
	return res, nil
}

// invalidateStaleStatements applies C4's cross-version rule: every
// statement sourced from a prior-version chunk that changed is kept only
// if it still scores above the cosine threshold against the new document
// text (spec §4.4), embedding errors invalidating conservatively.
// Invalidated statements are stamped invalidatedBy = doc.UUID, the new
// version, per §4.4 and scenario S3 — not the prior version being replaced.
func invalidateStaleStatements(ctx context.Context, deps Deps, docs DocumentStore, prior, doc domain.Document, changedChunks []int, newContent string) (int, error) {
	priorChunks, err := docs.GetDocumentChunks(ctx, prior.UUID)
	if err != nil {
		return 0, fmt.Errorf("prior chunks: %w", err)
	}
	changed := make(map[int]bool, len(changedChunks))
	for _, i := range changedChunks {
		changed[i] = true
	}

	newDocEmbedding, embedErr := deps.Embedder.Embed(ctx, newContent)

	var stale []string
	for i, ep := range priorChunks {
		if !changed[i] {
			continue
		}
		statements, err := docs.GetEpisodeStatements(ctx, ep.UUID)
		if err != nil {
			return 0, fmt.Errorf("chunk %d statements: %w", i, err)
		}
		for _, st := range statements {
			if differ.ShouldInvalidate(st.FactEmbedding, newDocEmbedding, embedErr) {
				stale = append(stale, st.UUID)
			}
		}
	}
	if len(stale) == 0 {
		return 0, nil
	}
	if err := deps.Episodes.InvalidateStatements(ctx, stale, doc.UUID); err != nil {
		return 0, fmt.Errorf("invalidate: %w", err)
	}
	return len(stale), nil
}
