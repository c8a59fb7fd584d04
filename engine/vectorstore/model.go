// Package vectorstore is the half of C1 that serves vector ANN search over
// Entity.nameEmbedding, Statement.factEmbedding, and Episode.contentEmbedding.
// It is the sole owner of all Qdrant operations, mirroring the teacher's
// engine/semantic package one collection-kind-parameter removed.
package vectorstore

// Kind identifies which embedding dimension a point belongs to. Each kind
// gets its own Qdrant collection so a single store process can serve all
// three vector indexes spec §6 requires.
type Kind string

const (
	KindEntity    Kind = "entity"
	KindStatement Kind = "statement"
	KindEpisode   Kind = "episode"
)

// Record is a single embedding to upsert.
type Record struct {
	ID        string
	Embedding []float32
	UserID    string
	Payload   map[string]any
}

// Hit is a single similarity search result.
type Hit struct {
	ID      string
	Score   float32
	UserID  string
	Payload map[string]string
}
