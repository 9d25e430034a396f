package storage

import (
	"context"
	"time"

	"github.com/dshills/threadqa-mcp/pkg/types"
)

// Storage defines the interface for persisting and querying the message archive
type Storage interface {
	// Message operations
	UpsertMessage(ctx context.Context, msg *types.Message) error
	GetMessage(ctx context.Context, id string) (*types.Message, error)
	GetMessages(ctx context.Context, ids []string) ([]*types.Message, error)
	MessagesInThread(ctx context.Context, rootID string) ([]*types.Message, error)
	ListMessages(ctx context.Context, limit, offset int) ([]*types.Message, error)

	// Embedding operations
	UpsertEmbedding(ctx context.Context, embedding *Embedding) error
	GetEmbedding(ctx context.Context, messageID string) (*Embedding, error)

	// Search operations
	SearchVector(ctx context.Context, vector []float32, threshold float64, limit int, filters *SearchFilters) ([]VectorResult, error)
	SearchText(ctx context.Context, query string, limit, offset int, filters *SearchFilters) ([]TextResult, error)
	CountText(ctx context.Context, query string, filters *SearchFilters) (int, error)

	// Author and thread aggregates
	RebuildAuthors(ctx context.Context) (int, error)
	RebuildThreads(ctx context.Context) (int, error)
	GetThread(ctx context.Context, rootID string) (*Thread, error)
	UpdateThreadSummary(ctx context.Context, rootID, summary string, proposals []string) error

	// Status operations
	GetStatus(ctx context.Context) (*ArchiveStatus, error)

	// Database operations
	Close() error
	BeginTx(ctx context.Context) (Tx, error)
}

// Tx represents a database transaction
type Tx interface {
	Commit() error
	Rollback() error
	Storage // Embed Storage interface for transaction operations
}

// Embedding represents a stored vector embedding for a message
type Embedding struct {
	MessageID string
	Vector    []byte // Serialized float32 array
	Dimension int
	Provider  string
	Model     string
	CreatedAt time.Time
}

// Author aggregates posting activity per author name
type Author struct {
	Name         string
	Email        string
	MessageCount int
	FirstSeen    time.Time
	LastSeen     time.Time
}

// Thread aggregates a conversation rooted at one message
type Thread struct {
	RootID           string
	Subject          string
	MessageCount     int
	ParticipantCount int
	FirstAt          time.Time
	LastAt           time.Time
	Summary          string
	ProposalNumbers  []string
}

// SearchFilters contains filters for narrowing search results
type SearchFilters struct {
	DateFrom   *time.Time // Inclusive lower bound on sent time
	DateTo     *time.Time // Inclusive upper bound on sent time
	Author     string     // Case-insensitive substring of the author name
	MessageIDs []string   // Restrict to these messages (thread-scoped search)
}

// FromTypesFilters converts caller filters to storage filters
func FromTypesFilters(f types.Filters) *SearchFilters {
	if f.IsZero() {
		return nil
	}
	return &SearchFilters{
		DateFrom: f.DateFrom,
		DateTo:   f.DateTo,
		Author:   f.Author,
	}
}

// VectorResult represents a result from vector similarity search
type VectorResult struct {
	Message    *types.Message
	Similarity float64
}

// TextResult represents a result from full-text search
type TextResult struct {
	Message *types.Message
	Rank    float64 // Negated BM25: larger is better, unbounded
}

// ArchiveStatus contains statistics about the archive
type ArchiveStatus struct {
	MessagesCount   int          `json:"messages_count"`
	ThreadsCount    int          `json:"threads_count"`
	AuthorsCount    int          `json:"authors_count"`
	EmbeddingsCount int          `json:"embeddings_count"`
	SchemaVersion   string       `json:"schema_version"`
	IndexSizeMB     float64      `json:"index_size_mb"`
	OldestMessage   time.Time    `json:"oldest_message"`
	NewestMessage   time.Time    `json:"newest_message"`
	Health          HealthStatus `json:"health"`
}

// HealthStatus represents the health of the archive index
type HealthStatus struct {
	DatabaseAccessible  bool `json:"database_accessible"`
	EmbeddingsAvailable bool `json:"embeddings_available"`
	FTSIndexesBuilt     bool `json:"fts_indexes_built"`
}
