package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// seedVectors stores three messages with 3-dimensional embeddings
func seedVectors(t *testing.T, storage *SQLiteStorage) {
	t.Helper()
	ctx := context.Background()

	vectors := map[string][]float32{
		"<same@x>":  {1, 0, 0},
		"<close@x>": {0.8, 0.6, 0},
		"<far@x>":   {0, 1, 0},
	}
	offsets := map[string]time.Duration{"<same@x>": 0, "<close@x>": time.Hour, "<far@x>": 2 * time.Hour}

	for id, vec := range vectors {
		msg := testMessage(id, "<same@x>", offsets[id])
		if id == "<far@x>" {
			msg.AuthorName = "John Smith"
		}
		require.NoError(t, storage.UpsertMessage(ctx, msg))
		require.NoError(t, storage.UpsertEmbedding(ctx, &Embedding{
			MessageID: id,
			Vector:    SerializeVector(vec),
			Dimension: len(vec),
			Provider:  "test",
			Model:     "test",
		}))
	}
}

func TestSearchVector_Threshold(t *testing.T) {
	storage := setupTestDB(t)
	defer storage.Close()
	seedVectors(t, storage)

	results, err := storage.SearchVector(context.Background(), []float32{1, 0, 0}, 0.25, 10, nil)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "<same@x>", results[0].Message.ID)
	assert.InDelta(t, 1.0, results[0].Similarity, 1e-6)
	assert.Equal(t, "<close@x>", results[1].Message.ID)
	assert.InDelta(t, 0.8, results[1].Similarity, 1e-6)
}

func TestSearchVector_Limit(t *testing.T) {
	storage := setupTestDB(t)
	defer storage.Close()
	seedVectors(t, storage)

	results, err := storage.SearchVector(context.Background(), []float32{1, 0, 0}, 0, 1, nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "<same@x>", results[0].Message.ID)

	results, err = storage.SearchVector(context.Background(), []float32{1, 0, 0}, 0, 0, nil)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestSearchVector_MessageIDFilter(t *testing.T) {
	storage := setupTestDB(t)
	defer storage.Close()
	seedVectors(t, storage)
	ctx := context.Background()

	results, err := storage.SearchVector(ctx, []float32{1, 0, 0}, 0.1, 10, &SearchFilters{MessageIDs: []string{"<close@x>", "<far@x>"}})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "<close@x>", results[0].Message.ID)

	// An explicit empty set matches nothing
	results, err = storage.SearchVector(ctx, []float32{1, 0, 0}, 0.1, 10, &SearchFilters{MessageIDs: []string{}})
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestSearchVector_DimensionMismatch(t *testing.T) {
	storage := setupTestDB(t)
	defer storage.Close()
	seedVectors(t, storage)

	results, err := storage.SearchVector(context.Background(), []float32{1, 0, 0, 0}, 0.1, 10, nil)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestSearchText(t *testing.T) {
	storage := setupTestDB(t)
	defer storage.Close()
	ctx := context.Background()

	a := testMessage("<a@x>", "<a@x>", 0)
	a.Subject = "Modules and header units"
	a.BodyClean = "Header units interact badly with macros."
	b := testMessage("<b@x>", "<b@x>", time.Hour)
	b.Subject = "Coroutine allocation elision"
	b.BodyClean = "Coroutine frames are heap allocated unless elided."
	require.NoError(t, storage.UpsertMessage(ctx, a))
	require.NoError(t, storage.UpsertMessage(ctx, b))

	results, err := storage.SearchText(ctx, "Why was coroutine elision rejected?", 15, 0, nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "<b@x>", results[0].Message.ID)
	assert.Greater(t, results[0].Rank, 0.0)

	count, err := storage.CountText(ctx, "coroutine OR header", nil)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	// Paging past the end yields nothing
	results, err = storage.SearchText(ctx, "coroutine", 15, 1, nil)
	require.NoError(t, err)
	assert.Empty(t, results)

	_, err = storage.SearchText(ctx, "? !", 15, 0, nil)
	assert.ErrorIs(t, err, ErrEmptyQuery)
}

func TestSearchText_UpdateReindexes(t *testing.T) {
	storage := setupTestDB(t)
	defer storage.Close()
	ctx := context.Background()

	msg := testMessage("<a@x>", "<a@x>", 0)
	msg.BodyClean = "concepts"
	require.NoError(t, storage.UpsertMessage(ctx, msg))

	msg.BodyClean = "reflection"
	msg.Subject = "Static reflection"
	require.NoError(t, storage.UpsertMessage(ctx, msg))

	count, err := storage.CountText(ctx, "concepts", nil)
	require.NoError(t, err)
	assert.Equal(t, 0, count)

	count, err = storage.CountText(ctx, "reflection", nil)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestSearchFilters(t *testing.T) {
	storage := setupTestDB(t)
	defer storage.Close()
	seedVectors(t, storage)
	ctx := context.Background()

	from := baseTime.Add(30 * time.Minute)
	to := baseTime.Add(90 * time.Minute)

	tests := []struct {
		name    string
		filters *SearchFilters
		want    int
	}{
		{"no filters", nil, 3},
		{"date from", &SearchFilters{DateFrom: &from}, 2},
		{"date to", &SearchFilters{DateTo: &to}, 2},
		{"date range", &SearchFilters{DateFrom: &from, DateTo: &to}, 1},
		{"author substring case-insensitive", &SearchFilters{Author: "SMITH"}, 1},
		{"author no match", &SearchFilters{Author: "nobody"}, 0},
		{"author wildcard is literal", &SearchFilters{Author: "%"}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			count, err := storage.CountText(ctx, "coroutine", tt.filters)
			require.NoError(t, err)
			assert.Equal(t, tt.want, count)
		})
	}
}

func TestSanitizeFTSQuery(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"", ""},
		{"coroutine", `"coroutine"`},
		{"Why was P1234R1 rejected?", `"p1234r1" OR "rejected"`},
		{`NEAR(a b) AND "x" OR *`, `"near"`},
		{"modules modules Modules", `"modules"`},
		{"std::expected<T, E>", `"std" OR "expected"`},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.want, sanitizeFTSQuery(tt.input))
		})
	}
}

func TestVectorSerialization(t *testing.T) {
	vec := []float32{0.5, -1.25, 3.0, 0}
	assert.Equal(t, vec, DeserializeVector(SerializeVector(vec)))
	assert.Len(t, SerializeVector(vec), 16)
}

func TestCosineSimilarity(t *testing.T) {
	assert.InDelta(t, 1.0, CosineSimilarity([]float32{1, 2}, []float32{2, 4}), 1e-9)
	assert.InDelta(t, 0.0, CosineSimilarity([]float32{1, 0}, []float32{0, 1}), 1e-9)
	assert.InDelta(t, -1.0, CosineSimilarity([]float32{1, 0}, []float32{-1, 0}), 1e-9)
	assert.Equal(t, 0.0, CosineSimilarity([]float32{1}, []float32{1, 2}))
	assert.Equal(t, 0.0, CosineSimilarity([]float32{0, 0}, []float32{1, 2}))
}
