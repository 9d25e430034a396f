// Package threads widens retrieval hits with the conversations around them.
package threads

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/dshills/threadqa-mcp/internal/storage"
	"github.com/dshills/threadqa-mcp/pkg/types"
)

const (
	// DefaultSmallThreadLimit is the largest thread included in full
	DefaultSmallThreadLimit = 30
	// DefaultRelevantLimit caps in-thread similarity hits for large threads
	DefaultRelevantLimit = 10
	// DefaultRelevantThreshold is the similarity floor inside a large thread
	DefaultRelevantThreshold = 0.1
	// DefaultConcurrency bounds parallel thread fetches
	DefaultConcurrency = 4
)

// Store is the slice of storage the expander reads from
type Store interface {
	MessagesInThread(ctx context.Context, rootID string) ([]*types.Message, error)
	SearchVector(ctx context.Context, vector []float32, threshold float64, limit int, filters *storage.SearchFilters) ([]storage.VectorResult, error)
}

// Config tunes expansion
type Config struct {
	SmallThreadLimit  int
	RelevantLimit     int
	RelevantThreshold float64
	Concurrency       int
}

// DefaultConfig returns the standard expansion settings
func DefaultConfig() Config {
	return Config{
		SmallThreadLimit:  DefaultSmallThreadLimit,
		RelevantLimit:     DefaultRelevantLimit,
		RelevantThreshold: DefaultRelevantThreshold,
		Concurrency:       DefaultConcurrency,
	}
}

// Expander adds thread context to merged matches
type Expander struct {
	store Store
	cfg   Config
}

// NewExpander creates an Expander; zero config fields take defaults
func NewExpander(store Store, cfg Config) *Expander {
	d := DefaultConfig()
	if cfg.SmallThreadLimit <= 0 {
		cfg.SmallThreadLimit = d.SmallThreadLimit
	}
	if cfg.RelevantLimit <= 0 {
		cfg.RelevantLimit = d.RelevantLimit
	}
	if cfg.RelevantThreshold <= 0 {
		cfg.RelevantThreshold = d.RelevantThreshold
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = d.Concurrency
	}
	return &Expander{store: store, cfg: cfg}
}

// thread is one fetched conversation
type thread struct {
	messages []*types.Message
	byID     map[string]*types.Message
	large    bool
	relevant []*types.Message // Large threads only
	failed   bool
}

// Expand returns the seeds followed by their thread context, without duplicates.
//
// Small threads are included whole in chronological order. A large thread
// contributes its root, the messages most similar to queryVector, and each
// seed's direct parent. A nil queryVector yields no similarity hits.
// Fetch failures are logged and leave only the seed.
func (e *Expander) Expand(ctx context.Context, seeds []types.ScoredMessage, queryVector []float32) []types.ScoredMessage {
	roots := make([]string, 0, len(seeds))
	seenRoot := make(map[string]struct{}, len(seeds))
	for _, s := range seeds {
		if s.ThreadRootID == "" {
			continue
		}
		if _, ok := seenRoot[s.ThreadRootID]; ok {
			continue
		}
		seenRoot[s.ThreadRootID] = struct{}{}
		roots = append(roots, s.ThreadRootID)
	}

	fetched := make([]*thread, len(roots))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.Concurrency)
	for i, root := range roots {
		g.Go(func() error {
			fetched[i] = e.loadThread(gctx, root, queryVector)
			return nil
		})
	}
	_ = g.Wait()

	threads := make(map[string]*thread, len(roots))
	for i, root := range roots {
		threads[root] = fetched[i]
	}

	out := make([]types.ScoredMessage, 0, len(seeds)*2)
	included := make(map[string]struct{}, len(seeds)*2)
	add := func(m types.ScoredMessage) {
		if _, ok := included[m.ID]; ok {
			return
		}
		included[m.ID] = struct{}{}
		out = append(out, m)
	}
	addContext := func(m *types.Message) {
		if m != nil {
			add(types.ScoredMessage{Message: *m})
		}
	}

	for _, s := range seeds {
		add(s)
	}

	for _, s := range seeds {
		t := threads[s.ThreadRootID]
		if t == nil || t.failed {
			continue
		}
		if !t.large {
			for _, m := range t.messages {
				addContext(m)
			}
			continue
		}
		addContext(t.byID[s.ThreadRootID])
		for _, m := range t.relevant {
			addContext(m)
		}
		if s.ParentID != "" {
			addContext(t.byID[s.ParentID])
		}
	}

	return out
}

// loadThread fetches a thread and, when it is large, its relevant subset
func (e *Expander) loadThread(ctx context.Context, root string, queryVector []float32) *thread {
	logger := zerolog.Ctx(ctx)

	messages, err := e.store.MessagesInThread(ctx, root)
	if err != nil {
		logger.Warn().Err(err).Str("thread_root_id", root).Msg("thread_fetch_failed")
		return &thread{failed: true}
	}

	t := &thread{
		messages: messages,
		byID:     make(map[string]*types.Message, len(messages)),
		large:    len(messages) > e.cfg.SmallThreadLimit,
	}
	for _, m := range messages {
		t.byID[m.ID] = m
	}
	if !t.large || len(queryVector) == 0 {
		return t
	}

	relevant, err := e.relevantInThread(ctx, t, queryVector)
	if err != nil {
		logger.Warn().Err(err).Str("thread_root_id", root).Msg("thread_relevance_failed")
		return &thread{failed: true}
	}
	t.relevant = relevant
	return t
}

// relevantInThread runs a similarity search restricted to the thread's messages
func (e *Expander) relevantInThread(ctx context.Context, t *thread, queryVector []float32) ([]*types.Message, error) {
	ids := make([]string, len(t.messages))
	for i, m := range t.messages {
		ids[i] = m.ID
	}

	hits, err := e.store.SearchVector(ctx, queryVector, e.cfg.RelevantThreshold, e.cfg.RelevantLimit,
		&storage.SearchFilters{MessageIDs: ids})
	if err != nil {
		return nil, fmt.Errorf("search thread: %w", err)
	}

	relevant := make([]*types.Message, 0, len(hits))
	for _, h := range hits {
		if len(relevant) == e.cfg.RelevantLimit {
			break
		}
		if h.Message == nil {
			continue
		}
		// Only messages of this thread, whatever the store returned
		if m, ok := t.byID[h.Message.ID]; ok {
			relevant = append(relevant, m)
		}
	}
	return relevant, nil
}
