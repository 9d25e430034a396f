package threads

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/threadqa-mcp/internal/storage"
	"github.com/dshills/threadqa-mcp/pkg/types"
)

var t0 = time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

// mockStore serves threads from memory and counts calls
type mockStore struct {
	mu          sync.Mutex
	threads     map[string][]*types.Message
	fetchErr    map[string]error
	fetches     map[string]int
	searchFunc  func(vector []float32, threshold float64, limit int, filters *storage.SearchFilters) ([]storage.VectorResult, error)
	searchCalls int
}

func newMockStore() *mockStore {
	return &mockStore{
		threads:  map[string][]*types.Message{},
		fetchErr: map[string]error{},
		fetches:  map[string]int{},
	}
}

func (m *mockStore) MessagesInThread(ctx context.Context, rootID string) ([]*types.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fetches[rootID]++
	if err := m.fetchErr[rootID]; err != nil {
		return nil, err
	}
	return m.threads[rootID], nil
}

func (m *mockStore) SearchVector(ctx context.Context, vector []float32, threshold float64, limit int, filters *storage.SearchFilters) ([]storage.VectorResult, error) {
	m.mu.Lock()
	m.searchCalls++
	m.mu.Unlock()
	if m.searchFunc != nil {
		return m.searchFunc(vector, threshold, limit, filters)
	}
	return nil, nil
}

// makeThread builds a chain root <- r1 <- r2 ... with n messages
func makeThread(root string, n int) []*types.Message {
	msgs := make([]*types.Message, n)
	for i := 0; i < n; i++ {
		id := root
		parent := ""
		if i > 0 {
			id = fmt.Sprintf("%s-r%d", root, i)
			parent = msgs[i-1].ID
		}
		msgs[i] = &types.Message{
			ID:           id,
			ParentID:     parent,
			ThreadRootID: root,
			ThreadDepth:  i,
			SentAt:       t0.Add(time.Duration(i) * time.Minute),
		}
	}
	return msgs
}

func seed(m *types.Message, score float64) types.ScoredMessage {
	return types.ScoredMessage{Message: *m, Score: score}
}

func ids(msgs []types.ScoredMessage) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.ID
	}
	return out
}

func assertUnique(t *testing.T, msgs []types.ScoredMessage) {
	t.Helper()
	seen := map[string]bool{}
	for _, m := range msgs {
		assert.False(t, seen[m.ID], "duplicate %s", m.ID)
		seen[m.ID] = true
	}
}

func TestExpand_SmallThreadIncludedOnce(t *testing.T) {
	store := newMockStore()
	thread := makeThread("root", 5)
	store.threads["root"] = thread

	seeds := []types.ScoredMessage{seed(thread[3], 0.9), seed(thread[1], 0.5)}
	out := NewExpander(store, Config{}).Expand(context.Background(), seeds, []float32{1})

	assert.Equal(t, []string{"root-r3", "root-r1", "root", "root-r2", "root-r4"}, ids(out))
	assertUnique(t, out)
	assert.Equal(t, 1, store.fetches["root"], "thread fetched once per request")
	assert.Equal(t, 0, store.searchCalls)

	// Seeds keep their hybrid scores, expansion messages start at zero
	assert.Equal(t, 0.9, out[0].Score)
	assert.Equal(t, 0.0, out[2].Score)
}

func TestExpand_BoundaryThreadIsSmall(t *testing.T) {
	store := newMockStore()
	thread := makeThread("root", DefaultSmallThreadLimit)
	store.threads["root"] = thread

	out := NewExpander(store, Config{}).Expand(context.Background(), []types.ScoredMessage{seed(thread[10], 1)}, []float32{1})
	assert.Len(t, out, DefaultSmallThreadLimit)
	assert.Equal(t, 0, store.searchCalls)
}

func TestExpand_LargeThread(t *testing.T) {
	store := newMockStore()
	thread := makeThread("big", 80)
	store.threads["big"] = thread

	var gotFilters *storage.SearchFilters
	var gotThreshold float64
	var gotLimit int
	store.searchFunc = func(vector []float32, threshold float64, limit int, filters *storage.SearchFilters) ([]storage.VectorResult, error) {
		gotFilters, gotThreshold, gotLimit = filters, threshold, limit
		// Return more than asked, including a foreign message
		results := []storage.VectorResult{{Message: &types.Message{ID: "elsewhere"}, Similarity: 0.99}}
		for i := 40; i < 55; i++ {
			results = append(results, storage.VectorResult{Message: thread[i], Similarity: 0.5})
		}
		return results, nil
	}

	seedMsg := thread[60]
	out := NewExpander(store, Config{}).Expand(context.Background(), []types.ScoredMessage{seed(seedMsg, 0.7)}, []float32{1})

	require.NotNil(t, gotFilters)
	assert.Len(t, gotFilters.MessageIDs, 80)
	assert.Equal(t, DefaultRelevantThreshold, gotThreshold)
	assert.Equal(t, DefaultRelevantLimit, gotLimit)

	assert.Equal(t, "big-r60", out[0].ID)
	assert.LessOrEqual(t, len(out)-1, 12, "large thread adds at most 12 beyond the seed")
	assert.Equal(t, 12, len(out)-1)
	assert.Equal(t, "big", out[1].ID, "root follows the seed")
	assert.Equal(t, "big-r59", out[len(out)-1].ID, "direct parent is included")
	assert.NotContains(t, ids(out), "elsewhere")
	assertUnique(t, out)
}

func TestExpand_LargeThreadWithoutQueryVector(t *testing.T) {
	store := newMockStore()
	thread := makeThread("big", 40)
	store.threads["big"] = thread

	out := NewExpander(store, Config{}).Expand(context.Background(), []types.ScoredMessage{seed(thread[20], 0.7)}, nil)

	assert.Equal(t, []string{"big-r20", "big", "big-r19"}, ids(out))
	assert.Equal(t, 0, store.searchCalls)
}

func TestExpand_FetchFailureKeepsSeed(t *testing.T) {
	store := newMockStore()
	store.fetchErr["broken"] = errors.New("database is locked")
	good := makeThread("good", 3)
	store.threads["good"] = good

	brokenSeed := &types.Message{ID: "broken-r1", ThreadRootID: "broken", SentAt: t0}
	out := NewExpander(store, Config{}).Expand(context.Background(),
		[]types.ScoredMessage{seed(brokenSeed, 0.9), seed(good[2], 0.4)}, []float32{1})

	assert.Equal(t, []string{"broken-r1", "good-r2", "good", "good-r1"}, ids(out))
}

func TestExpand_RelevanceFailureKeepsSeed(t *testing.T) {
	store := newMockStore()
	thread := makeThread("big", 50)
	store.threads["big"] = thread
	store.searchFunc = func(vector []float32, threshold float64, limit int, filters *storage.SearchFilters) ([]storage.VectorResult, error) {
		return nil, errors.New("search failed")
	}

	out := NewExpander(store, Config{}).Expand(context.Background(), []types.ScoredMessage{seed(thread[30], 1)}, []float32{1})
	assert.Equal(t, []string{"big-r30"}, ids(out))
}

func TestExpand_SeedWithoutThread(t *testing.T) {
	store := newMockStore()
	orphan := &types.Message{ID: "orphan", SentAt: t0}

	out := NewExpander(store, Config{}).Expand(context.Background(), []types.ScoredMessage{seed(orphan, 0.3)}, nil)
	assert.Equal(t, []string{"orphan"}, ids(out))
	assert.Empty(t, store.fetches)
}

func TestExpand_ManyThreadsConcurrently(t *testing.T) {
	store := newMockStore()
	var seeds []types.ScoredMessage
	for i := 0; i < 12; i++ {
		root := fmt.Sprintf("t%02d", i)
		thread := makeThread(root, 3)
		store.threads[root] = thread
		seeds = append(seeds, seed(thread[1], float64(12-i)))
	}

	out := NewExpander(store, Config{Concurrency: 2}).Expand(context.Background(), seeds, []float32{1})

	assert.Len(t, out, 36)
	assertUnique(t, out)
	// Seeds come first in merged order
	for i := 0; i < 12; i++ {
		assert.Equal(t, fmt.Sprintf("t%02d-r1", i), out[i].ID)
	}
	for root, n := range store.fetches {
		assert.Equal(t, 1, n, root)
	}
}

func TestExpand_Empty(t *testing.T) {
	out := NewExpander(newMockStore(), Config{}).Expand(context.Background(), nil, nil)
	assert.Empty(t, out)
}
