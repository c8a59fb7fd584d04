// Package differ implements C4: deciding whether a re-ingested document
// needs a full re-ingest, a chunk-level diff, or can be skipped, and the
// version-chain bookkeeping and cross-version statement invalidation
// that follow from that decision (spec §4.4).
package differ

import (
	"context"
	"math"

	"github.com/jmagar/core-sub000/domain"
	"github.com/jmagar/core-sub000/engine/chunker"
)

// Strategy is the decision table's outcome.
type Strategy string

const (
	StrategyNewDocument    Strategy = "new_document"
	StrategySkipProcessing Strategy = "skip_processing"
	StrategyChunkLevelDiff Strategy = "chunk_level_diff"
	StrategyFullReingest   Strategy = "full_reingest"
)

// Decision is the differ's output for one re-ingest attempt.
type Decision struct {
	Strategy      Strategy
	NewVersion    int
	ChangedChunks []int // indices into the new chunk set, only set for chunk_level_diff
}

// Decide applies spec §4.4's decision table. prior is the zero Document
// (Version == 0) when there's no previous version for this
// (sessionID,userID) pair.
func Decide(prior domain.Document, newContentHash string, newChunkHashes []string) Decision {
	if prior.Version == 0 {
		return Decision{Strategy: StrategyNewDocument, NewVersion: 1}
	}
	if prior.ContentHash == newContentHash {
		return Decision{Strategy: StrategySkipProcessing, NewVersion: prior.Version}
	}

	changed := changedIndices(prior.ChunkHashes, newChunkHashes)
	total := len(prior.ChunkHashes)
	if len(newChunkHashes) > total {
		total = len(newChunkHashes)
	}
	var changePct float64
	if total > 0 {
		changePct = float64(len(changed)) / float64(total) * 100
	}

	docTokens := estimateDocTokens(newChunkHashes, prior)
	strategy := classify(docTokens, changePct)

	return Decision{
		Strategy:      strategy,
		NewVersion:    prior.Version + 1,
		ChangedChunks: changed,
	}
}

// classify implements the table in spec §4.4.
func classify(docTokens int, changePct float64) Strategy {
	switch {
	case docTokens < 5000:
		return StrategyFullReingest
	case docTokens < 50000:
		if changePct < 20 {
			return StrategyChunkLevelDiff
		}
		return StrategyFullReingest
	default:
		if changePct < 30 {
			return StrategyChunkLevelDiff
		}
		return StrategyFullReingest
	}
}

// changedIndices returns positions where old and new chunk hashes
// differ, including positions present on only one side (spec §4.4).
func changedIndices(old, new []string) []int {
	n := len(old)
	if len(new) > n {
		n = len(new)
	}
	var changed []int
	for i := 0; i < n; i++ {
		var o, nw string
		if i < len(old) {
			o = old[i]
		}
		if i < len(new) {
			nw = new[i]
		}
		if o != nw {
			changed = append(changed, i)
		}
	}
	return changed
}

// estimateDocTokens approximates overall document size from its chunk
// count by assuming the target chunk size — good enough to place a
// document in the right size bucket without re-tokenizing the whole
// original content a second time. Coarsens the size bands to multiples
// of the target chunk size, so exact-threshold boundaries (e.g. a
// document sized at precisely 4999 vs 5000 tokens) aren't independently
// reachable from chunk count alone; see DESIGN.md.
func estimateDocTokens(chunkHashes []string, prior domain.Document) int {
	n := len(chunkHashes)
	if n == 0 {
		n = prior.TotalChunks
	}
	return n * chunker.DefaultConfig().Target
}

// Embedder computes an embedding for a text, the one adapter call the
// cross-version invalidation rule needs from C2.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// CosineSimilarity returns the cosine similarity of two equal-length
// vectors, or -1 (never exceeds the invalidation threshold) if the
// lengths mismatch.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return -1
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return -1
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// invalidationThreshold is spec §4.4's conservative cosine cutoff:
// statements scoring below this against the new document text are
// invalidated.
const invalidationThreshold = 0.75

// ShouldInvalidate reports whether a statement's factEmbedding has
// drifted far enough from the new document embedding to be invalidated
// (spec §4.4's cross-version rule). embedErr != nil invalidates
// conservatively, per spec.
func ShouldInvalidate(factEmbedding, newDocEmbedding []float32, embedErr error) bool {
	if embedErr != nil {
		return true
	}
	return CosineSimilarity(factEmbedding, newDocEmbedding) < invalidationThreshold
}
