package indexer

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/threadqa-mcp/internal/embedder"
	"github.com/dshills/threadqa-mcp/internal/llm"
	"github.com/dshills/threadqa-mcp/internal/storage"
	"github.com/dshills/threadqa-mcp/internal/vectorindex"
	"github.com/dshills/threadqa-mcp/pkg/types"
)

var t0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

// mockEmbedder implements embedder.Embedder for testing
type mockEmbedder struct {
	dimension  int
	batchErr   error
	batchCalls int
	texts      []string
	mu         sync.Mutex
}

func newMockEmbedder() *mockEmbedder {
	return &mockEmbedder{dimension: 8}
}

func (m *mockEmbedder) GenerateEmbedding(ctx context.Context, req embedder.EmbeddingRequest) (*embedder.Embedding, error) {
	resp, err := m.GenerateBatch(ctx, embedder.BatchEmbeddingRequest{Texts: []string{req.Text}})
	if err != nil {
		return nil, err
	}
	return resp.Embeddings[0], nil
}

func (m *mockEmbedder) GenerateBatch(ctx context.Context, req embedder.BatchEmbeddingRequest) (*embedder.BatchEmbeddingResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.batchCalls++
	if m.batchErr != nil {
		return nil, m.batchErr
	}
	m.texts = append(m.texts, req.Texts...)

	embeddings := make([]*embedder.Embedding, len(req.Texts))
	for i := range req.Texts {
		vector := make([]float32, m.dimension)
		for j := range vector {
			vector[j] = 0.5
		}
		embeddings[i] = &embedder.Embedding{
			Vector:    vector,
			Dimension: m.dimension,
			Provider:  "mock",
			Model:     "test-v1",
		}
	}
	return &embedder.BatchEmbeddingResponse{Embeddings: embeddings, Provider: "mock", Model: "test-v1"}, nil
}

func (m *mockEmbedder) Dimension() int   { return m.dimension }
func (m *mockEmbedder) Provider() string { return "mock" }
func (m *mockEmbedder) Model() string    { return "test-v1" }
func (m *mockEmbedder) Close() error     { return nil }

func (m *mockEmbedder) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.batchCalls
}

// mockSummarizer implements llm.Provider
type mockSummarizer struct {
	mu       sync.Mutex
	text     string
	failFor  string
	requests []llm.CompletionRequest
}

func (m *mockSummarizer) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.Completion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, req)
	if m.failFor != "" && strings.Contains(req.User, m.failFor) {
		return nil, errors.New("model unavailable")
	}
	return &llm.Completion{Text: m.text, Model: "small"}, nil
}

func (m *mockSummarizer) Name() string { return "mock" }

type mockMirror struct {
	points []vectorindex.Point
	err    error
}

func (m *mockMirror) Upsert(ctx context.Context, points []vectorindex.Point) error {
	if m.err != nil {
		return m.err
	}
	m.points = append(m.points, points...)
	return nil
}

// setupTestStorage creates an in-memory SQLite database for testing
func setupTestStorage(t testing.TB) *storage.SQLiteStorage {
	t.Helper()

	store, err := storage.NewSQLiteStorage(":memory:")
	require.NoError(t, err, "Failed to create test storage")
	t.Cleanup(func() { _ = store.Close() })

	return store
}

func testMessages() []*types.Message {
	return []*types.Message{
		{
			ID: "<r1@x>", Subject: "Coroutines", AuthorName: "Jane Doe", SentAt: t0,
			BodyNewContent: "Should frames be heap allocated? See P2300R7.", ThreadRootID: "<r1@x>",
		},
		{
			ID: "<a1@x>", ParentID: "<r1@x>", Subject: "Re: Coroutines", AuthorName: "John Smith",
			SentAt: t0.Add(time.Hour), BodyNewContent: "Not always.", ThreadRootID: "<r1@x>", ThreadDepth: 1,
		},
		{
			ID: "<r2@x>", Subject: "Modules", AuthorName: "Unknown", SentAt: t0.Add(2 * time.Hour),
			BodyClean: "Header units?", ThreadRootID: "<r2@x>",
		},
	}
}

func TestNew(t *testing.T) {
	store := setupTestStorage(t)
	idx := New(store, newMockEmbedder())

	require.NotNil(t, idx)
	assert.NotNil(t, idx.parser)
	assert.Nil(t, idx.mirror)
	assert.Nil(t, idx.summarizer)
	assert.Greater(t, idx.workers, 0)
}

func TestConfigNormalize(t *testing.T) {
	var nilCfg *Config
	cfg := nilCfg.normalize()
	assert.Equal(t, DefaultBatchSize, cfg.BatchSize)
	assert.Greater(t, cfg.Workers, 0)

	cfg = (&Config{BatchSize: 500, Workers: 3}).normalize()
	assert.Equal(t, embedder.MaxBatchSize, cfg.BatchSize)
	assert.Equal(t, 3, cfg.Workers)
}

func TestIngest_StoresMessagesAndEmbeddings(t *testing.T) {
	ctx := context.Background()
	store := setupTestStorage(t)
	emb := newMockEmbedder()
	idx := New(store, emb)

	stats, err := idx.Ingest(ctx, testMessages(), &Config{BatchSize: 2, Workers: 2})
	require.NoError(t, err)

	assert.Equal(t, 3, stats.MessagesParsed)
	assert.Equal(t, 3, stats.MessagesStored)
	assert.Equal(t, 3, stats.EmbeddingsCreated)
	assert.Equal(t, 0, stats.EmbeddingsFailed)
	assert.Equal(t, 2, stats.AuthorsCount, "Unknown is not an author")
	assert.Equal(t, 2, stats.ThreadsCount)
	assert.Equal(t, 2, emb.calls())
	assert.Contains(t, emb.texts, "Coroutines\n\nShould frames be heap allocated? See P2300R7.")
	assert.Contains(t, emb.texts, "Modules\n\nHeader units?")

	for _, m := range testMessages() {
		stored, err := store.GetEmbedding(ctx, m.ID)
		require.NoError(t, err, m.ID)
		assert.Equal(t, 8, stored.Dimension)
		assert.Equal(t, "mock", stored.Provider)
		assert.Len(t, storage.DeserializeVector(stored.Vector), 8)
	}

	thread, err := store.GetThread(ctx, "<r1@x>")
	require.NoError(t, err)
	assert.Equal(t, 2, thread.MessageCount)
	assert.Equal(t, 2, thread.ParticipantCount)
	assert.Equal(t, "Coroutines", thread.Subject)
	assert.Empty(t, thread.Summary)
}

func TestIngest_SkipsUnchangedMessages(t *testing.T) {
	ctx := context.Background()
	store := setupTestStorage(t)
	emb := newMockEmbedder()
	idx := New(store, emb)

	_, err := idx.Ingest(ctx, testMessages(), nil)
	require.NoError(t, err)
	require.Equal(t, 1, emb.calls())

	stats, err := idx.Ingest(ctx, testMessages(), nil)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.EmbeddingsSkipped)
	assert.Equal(t, 0, stats.EmbeddingsCreated)
	assert.Equal(t, 3, stats.MessagesStored)
	assert.Equal(t, 1, emb.calls())

	// An edited body is embedded again
	edited := testMessages()
	edited[1].BodyNewContent = "Sometimes."
	stats, err = idx.Ingest(ctx, edited, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.EmbeddingsCreated)
	assert.Equal(t, 2, stats.EmbeddingsSkipped)

	stats, err = idx.Ingest(ctx, edited, &Config{Force: true})
	require.NoError(t, err)
	assert.Equal(t, 3, stats.EmbeddingsCreated)
	assert.Equal(t, 0, stats.EmbeddingsSkipped)
}

func TestIngest_EmbeddingFailureStillStoresMessages(t *testing.T) {
	ctx := context.Background()
	store := setupTestStorage(t)
	emb := newMockEmbedder()
	emb.batchErr = errors.New("provider down")
	idx := New(store, emb)

	stats, err := idx.Ingest(ctx, testMessages(), nil)
	require.NoError(t, err)

	assert.Equal(t, 3, stats.MessagesStored)
	assert.Equal(t, 3, stats.EmbeddingsFailed)
	assert.Equal(t, 0, stats.EmbeddingsCreated)
	require.Len(t, stats.ErrorMessages, 1)
	assert.Contains(t, stats.ErrorMessages[0], "provider down")

	_, err = store.GetMessage(ctx, "<r1@x>")
	require.NoError(t, err)
	_, err = store.GetEmbedding(ctx, "<r1@x>")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestIngest_ContextCancellation(t *testing.T) {
	store := setupTestStorage(t)
	idx := New(store, newMockEmbedder())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := idx.Ingest(ctx, testMessages(), &Config{Force: true})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestIngest_RejectsConcurrentRun(t *testing.T) {
	store := setupTestStorage(t)
	idx := New(store, newMockEmbedder())

	require.True(t, idx.lock.TryAcquire())
	_, err := idx.Ingest(context.Background(), testMessages(), nil)
	assert.ErrorIs(t, err, ErrIngestInProgress)

	idx.lock.Release()
	_, err = idx.Ingest(context.Background(), testMessages(), nil)
	assert.NoError(t, err)
}

func TestIngest_MirrorsVectors(t *testing.T) {
	store := setupTestStorage(t)
	mirror := &mockMirror{}
	idx := New(store, newMockEmbedder(), WithVectorMirror(mirror))

	_, err := idx.Ingest(context.Background(), testMessages(), &Config{BatchSize: 2})
	require.NoError(t, err)

	require.Len(t, mirror.points, 3)
	assert.Equal(t, "<r1@x>", mirror.points[0].Message.ID)
	assert.Len(t, mirror.points[0].Vector, 8)
}

func TestIngest_MirrorFailure(t *testing.T) {
	store := setupTestStorage(t)
	mirror := &mockMirror{err: errors.New("qdrant unreachable")}
	idx := New(store, newMockEmbedder(), WithVectorMirror(mirror))

	_, err := idx.Ingest(context.Background(), testMessages(), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "qdrant unreachable")
}

func TestIngest_Summaries(t *testing.T) {
	ctx := context.Background()
	store := setupTestStorage(t)
	summarizer := &mockSummarizer{text: "  Jane asks about frame allocation.  ", failFor: "Thread subject: Modules"}
	idx := New(store, newMockEmbedder(), WithSummarizer(summarizer))

	stats, err := idx.Ingest(ctx, testMessages(), &Config{Summarize: true})
	require.NoError(t, err)

	assert.Equal(t, 1, stats.SummariesWritten)
	require.Len(t, summarizer.requests, 2)
	for _, req := range summarizer.requests {
		assert.Equal(t, llm.TierSmall, req.Tier)
		assert.Equal(t, SummaryMaxTokens, req.MaxTokens)
	}

	thread, err := store.GetThread(ctx, "<r1@x>")
	require.NoError(t, err)
	assert.Equal(t, "Jane asks about frame allocation.", thread.Summary)
	assert.Equal(t, []string{"P2300R7"}, thread.ProposalNumbers)

	other, err := store.GetThread(ctx, "<r2@x>")
	require.NoError(t, err)
	assert.Empty(t, other.Summary)
}

func TestIngest_SummarizeWithoutProvider(t *testing.T) {
	store := setupTestStorage(t)
	idx := New(store, newMockEmbedder())

	stats, err := idx.Ingest(context.Background(), testMessages(), &Config{Summarize: true})
	require.NoError(t, err)
	assert.Equal(t, 0, stats.SummariesWritten)
}

func TestIngestPath(t *testing.T) {
	dir := t.TempDir()
	jsonl := `{"message_id":"<p1@x>","subject":"Reflection","author_name":"Ann","date":"2024-04-01T10:00:00Z","body_new_content":"Static reflection when?"}
{"message_id":"<p2@x>","in_reply_to":"<p1@x>","subject":"Re: Reflection","author_name":"Bob","date":"2024-04-01T11:00:00Z","body_new_content":"C++26."}
{"subject":"no id"}
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "crawl.jsonl"), []byte(jsonl), 0o644))

	ctx := context.Background()
	store := setupTestStorage(t)
	idx := New(store, newMockEmbedder())

	stats, err := idx.IngestPath(ctx, dir, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.ParseErrors)
	assert.Equal(t, 2, stats.MessagesStored)

	reply, err := store.GetMessage(ctx, "<p2@x>")
	require.NoError(t, err)
	assert.Equal(t, "<p1@x>", reply.ThreadRootID)
	assert.Equal(t, 1, reply.ThreadDepth)
}

func TestIngestPath_Missing(t *testing.T) {
	idx := New(setupTestStorage(t), newMockEmbedder())
	_, err := idx.IngestPath(context.Background(), filepath.Join(t.TempDir(), "missing.jsonl"), nil)
	assert.Error(t, err)
}

func TestEmbeddingText(t *testing.T) {
	assert.Equal(t, "Subj\n\nnew", EmbeddingText(&types.Message{Subject: "Subj", BodyNewContent: "new", BodyClean: "clean"}))
	assert.Equal(t, "Subj\n\nclean", EmbeddingText(&types.Message{Subject: "Subj", BodyClean: "clean"}))
	assert.Equal(t, "Subj", EmbeddingText(&types.Message{Subject: "Subj"}))
}

func TestSplitBatches(t *testing.T) {
	msgs := testMessages()
	assert.Len(t, splitBatches(msgs, 2), 2)
	assert.Len(t, splitBatches(msgs, 3), 1)
	assert.Empty(t, splitBatches(nil, 3))
}

func TestThreadRoots(t *testing.T) {
	msgs := append(testMessages(), &types.Message{ID: "<orphan@x>"})
	assert.Equal(t, []string{"<orphan@x>", "<r1@x>", "<r2@x>"}, threadRoots(msgs))
}
