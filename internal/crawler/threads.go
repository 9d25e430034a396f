package crawler

import (
	"context"
	"fmt"

	"github.com/dshills/threadqa-mcp/internal/parser"
	"github.com/dshills/threadqa-mcp/pkg/types"
)

// MessageLoader loads stored messages by ID, skipping unknown IDs
type MessageLoader interface {
	GetMessages(ctx context.Context, ids []string) ([]*types.Message, error)
}

// ResolveThreads assigns thread fields to crawled messages. Parents that
// are not among them are loaded from the archive so a reply to a thread
// crawled earlier joins that thread. Loaded parents are not modified.
func ResolveThreads(ctx context.Context, messages []*types.Message, loader MessageLoader) error {
	present := make(map[string]bool, len(messages))
	for _, m := range messages {
		present[m.ID] = true
	}

	var missing []string
	asked := make(map[string]bool)
	for _, m := range messages {
		if m.ParentID == "" || present[m.ParentID] || asked[m.ParentID] {
			continue
		}
		asked[m.ParentID] = true
		missing = append(missing, m.ParentID)
	}

	all := messages
	if len(missing) > 0 && loader != nil {
		stored, err := loader.GetMessages(ctx, missing)
		if err != nil {
			return fmt.Errorf("failed to load parent messages: %w", err)
		}
		all = make([]*types.Message, 0, len(stored)+len(messages))
		for _, m := range stored {
			// Copies keep ReconstructThreads from touching the loader's values
			parent := *m
			all = append(all, &parent)
		}
		all = append(all, messages...)
	}

	parser.ReconstructThreads(all)
	return nil
}
