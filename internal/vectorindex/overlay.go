package vectorindex

import (
	"context"

	"github.com/dshills/threadqa-mcp/internal/storage"
	"github.com/dshills/threadqa-mcp/pkg/types"
)

// Archive is the read side of the SQLite archive
type Archive interface {
	SearchText(ctx context.Context, query string, limit, offset int, filters *storage.SearchFilters) ([]storage.TextResult, error)
	MessagesInThread(ctx context.Context, rootID string) ([]*types.Message, error)
}

// VectorSearcher answers similarity queries
type VectorSearcher interface {
	SearchVector(ctx context.Context, vector []float32, threshold float64, limit int, filters *storage.SearchFilters) ([]storage.VectorResult, error)
}

// Overlay reads text and threads from the archive and vectors from another index
type Overlay struct {
	Archive
	vectors VectorSearcher
}

// NewOverlay routes SearchVector to vectors and everything else to archive
func NewOverlay(archive Archive, vectors VectorSearcher) *Overlay {
	return &Overlay{Archive: archive, vectors: vectors}
}

func (o *Overlay) SearchVector(ctx context.Context, vector []float32, threshold float64, limit int, filters *storage.SearchFilters) ([]storage.VectorResult, error) {
	return o.vectors.SearchVector(ctx, vector, threshold, limit, filters)
}
