// Package domain defines the core knowledge-graph types, sentinel errors,
// and validation shared by every component of the ingestion core
// (configuration loading lives in cmd/api and cmd/worker). It acts as the validation gate at pipeline entry points,
// the same role the teacher's engine/domain package plays for vehicle data.
package domain

import "time"

// IngestType distinguishes chat/text episodes from whole documents; the
// normalization prompt in C6 step 2 varies by this.
type IngestType string

const (
	IngestConversation IngestType = "CONVERSATION"
	IngestDocument     IngestType = "DOCUMENT"
)

// NothingToRemember is the sentinel the normalization LLM call returns
// when an episode carries no durable fact worth graphing.
const NothingToRemember = "NOTHING_TO_REMEMBER"

// Attributes is the free-form per-statement payload. It is stored as an
// opaque JSON blob at the graph-store boundary (spec §9 "Dynamic map
// attributes on nodes") but exposes typed accessors to the pipeline.
type Attributes map[string]any

// EventDate parses attrs["event_date"] as ISO-8601 (RFC3339, falling back
// to a date-only form). Unparseable or absent values return the zero time
// and ok=false, per spec §9's resolution of the event_date ambiguity.
func (a Attributes) EventDate() (time.Time, bool) {
	raw, _ := a["event_date"].(string)
	if raw == "" {
		return time.Time{}, false
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, true
	}
	if t, err := time.Parse("2006-01-02", raw); err == nil {
		return t, true
	}
	return time.Time{}, false
}

func (a Attributes) Duration() string         { s, _ := a["duration"].(string); return s }
func (a Attributes) TemporalContext() string  { s, _ := a["temporal_context"].(string); return s }
func (a Attributes) Confidence() (float64, bool) {
	switch v := a["confidence"].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	}
	return 0, false
}
func (a Attributes) Source() string { s, _ := a["source"].(string); return s }

// Episode is the source document of knowledge: a message, document chunk,
// or integration payload belonging to one user.
type Episode struct {
	UUID             string
	Content          string // normalized
	OriginalContent  string
	ContentEmbedding []float32
	Source           string
	Metadata         map[string]string
	CreatedAt        time.Time
	ValidAt          time.Time
	Labels           []string
	UserID           string
	Space            string
	SessionID        string
}

// Entity is a subject/object/predicate participant in a Statement.
type Entity struct {
	UUID          string
	Name          string
	Type          string // "" for untyped entities, "Predicate" for predicate entities
	Attributes    map[string]string
	NameEmbedding []float32
	TypeEmbedding []float32
	CreatedAt     time.Time
	UserID        string
	Space         string
}

// IsPredicate reports whether this entity plays the universal Predicate role.
func (e Entity) IsPredicate() bool { return e.Type == "Predicate" }

// Statement is a reified fact linking a Subject, Predicate, and Object
// Entity, anchored to its originating Episode.
type Statement struct {
	UUID          string
	Fact          string
	FactEmbedding []float32
	CreatedAt     time.Time
	ValidAt       time.Time
	InvalidAt     *time.Time
	InvalidatedBy string // Episode or Document uuid
	Attributes    Attributes
	UserID        string
	Space         string
	SpaceIDs      []string
	ClusterID     string

	// Triple references, populated by resolution/persistence.
	SubjectID   string
	PredicateID string
	ObjectID    string
}

// IsValid reports whether the statement currently holds (invalidAt is nil).
func (s Statement) IsValid() bool { return s.InvalidAt == nil }

// Triple is the in-memory extraction/resolution unit before it becomes a
// persisted Statement: a subject/predicate/object name triple plus the
// natural-language fact and attributes.
type Triple struct {
	SubjectName   string
	PredicateName string
	ObjectName    string
	Fact          string
	Attributes    Attributes

	// Resolved identifiers, filled in by C7/C8.
	SubjectID   string
	PredicateID string
	ObjectID    string
	StatementID string
}

// Document is a container for a chunk chain, versioned per (sessionID,userID).
type Document struct {
	UUID                string
	Title               string
	OriginalContent     string
	Source              string
	UserID              string
	SessionID           string
	Version             int
	ContentHash         string // 16 hex chars of SHA-256
	ChunkHashes          []string
	PreviousVersionUUID string
	TotalChunks         int
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// AspectType classifies what a Cluster is organized around.
type AspectType string

const (
	AspectThematic AspectType = "thematic"
	AspectSocial   AspectType = "social"
	AspectActivity AspectType = "activity"
)

// Cluster is a community of statements discovered by C9.
type Cluster struct {
	UUID             string
	Name             string
	Description      string
	AspectType       AspectType
	Size             int
	ClusterEmbedding []float32
	EmbeddingCount   int
	CohesionScore    float64
	TopSubjects      []string
	TopPredicates    []string
	TopObjects       []string
	NeedsNaming      bool
	Evolved          bool
	EvolvedAt        *time.Time
	UserID           string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Space is a user-defined topic.
type Space struct {
	UUID                        string
	Name                        string
	Description                 string
	UserID                      string
	WorkspaceID                 string
	IsActive                    bool
	StatementCountAtLastTrigger int
	LastPatternTrigger          *time.Time
	CreatedAt                   time.Time
	UpdatedAt                   time.Time
}

// QueueStatus is the IngestionQueueEntry lifecycle state.
type QueueStatus string

const (
	StatusPending    QueueStatus = "PENDING"
	StatusProcessing QueueStatus = "PROCESSING"
	StatusCompleted  QueueStatus = "COMPLETED"
	StatusFailed     QueueStatus = "FAILED"
)

// IngestionQueueEntry is the externally-visible job record for one ingest.
type IngestionQueueEntry struct {
	ID          string
	WorkspaceID string
	SpaceID     string
	Priority    int
	Data        IngestRequest
	Output      *IngestOutput
	Error       string
	Status      QueueStatus
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// IngestRequest is the POST /ingest request body.
type IngestRequest struct {
	EpisodeBody   string            `json:"episodeBody"`
	ReferenceTime time.Time         `json:"referenceTime"`
	Metadata      map[string]any    `json:"metadata"`
	Source        string            `json:"source"`
	SpaceID       string            `json:"spaceId,omitempty"`
	SessionID     string            `json:"sessionId,omitempty"`
	Name          string            `json:"name,omitempty"`
	Type          IngestType        `json:"type,omitempty"`
	UserID        string            `json:"-"`
	WorkspaceID   string            `json:"-"`
}

// IngestOutput is what the pipeline returns on success.
type IngestOutput struct {
	EpisodeUUID       string         `json:"episodeUuid,omitempty"`
	StatementsCreated int            `json:"statementsCreated"`
	StatementsInvalidated int        `json:"statementsInvalidated"`
	Tokens            TokenUsage     `json:"tokens"`
}

// TokenUsage tracks {high,low} x {input,output,total} token accounting (C11).
type TokenUsage struct {
	HighInput  int `json:"highInput"`
	HighOutput int `json:"highOutput"`
	LowInput   int `json:"lowInput"`
	LowOutput  int `json:"lowOutput"`
}

func (t TokenUsage) HighTotal() int { return t.HighInput + t.HighOutput }
func (t TokenUsage) LowTotal() int  { return t.LowInput + t.LowOutput }

func (t *TokenUsage) Add(other TokenUsage) {
	t.HighInput += other.HighInput
	t.HighOutput += other.HighOutput
	t.LowInput += other.LowInput
	t.LowOutput += other.LowOutput
}

// IngestJob is the message body carried over the per-user queue (C5).
type IngestJob struct {
	QueueID string        `json:"queueId"`
	UserID  string        `json:"userId"`
	SpaceID string        `json:"spaceId,omitempty"`
	Body    IngestRequest `json:"body"`
}
