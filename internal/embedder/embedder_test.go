package embedder

import (
	"context"
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContentHash(t *testing.T) {
	tests := []struct {
		name string
		text string
		want string
	}{
		{
			name: "empty string",
			text: "",
			want: "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855",
		},
		{
			name: "simple text",
			text: "hello world",
			want: "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ContentHash(tt.text))
		})
	}
}

func TestValidateTexts(t *testing.T) {
	tests := []struct {
		name    string
		texts   []string
		wantErr error
	}{
		{"single text", []string{"test text"}, nil},
		{"batch", []string{"a", "b"}, nil},
		{"single empty", []string{""}, ErrEmptyText},
		{"single whitespace", []string{" \n\t"}, ErrEmptyText},
		{"no texts", nil, ErrInvalidInput},
		{"blank in batch", []string{"a", ""}, ErrInvalidInput},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateTexts(tt.texts...)
			if tt.wantErr == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tt.wantErr)
			}
		})
	}
}

func TestCache(t *testing.T) {
	cache := NewCache(2)

	emb := &Embedding{Vector: []float32{1, 2, 3}, Dimension: 3, Provider: "test", Model: "m"}
	cache.Set("m", "first", emb)

	got, ok := cache.Get("m", "first")
	require.True(t, ok)
	assert.Equal(t, emb.Vector, got.Vector)
	assert.Equal(t, ContentHash("first"), got.Hash)

	// Entries are scoped to the model
	_, ok = cache.Get("other-model", "first")
	assert.False(t, ok)

	// Neither the stored input nor a returned copy aliases the cache
	emb.Vector[1] = 42
	got.Vector[0] = 99
	again, _ := cache.Get("m", "first")
	assert.Equal(t, []float32{1, 2, 3}, again.Vector)

	cache.Set("m", "second", emb)
	cache.Set("m", "third", emb)
	assert.Equal(t, 2, cache.Len())
	_, ok = cache.Get("m", "first")
	assert.False(t, ok, "oldest entry should be evicted")

	cache.Purge()
	assert.Equal(t, 0, cache.Len())
}

func TestCache_NilIsEmpty(t *testing.T) {
	var cache *Cache
	cache.Set("m", "text", &Embedding{Vector: []float32{1}})

	_, ok := cache.Get("m", "text")
	assert.False(t, ok)
	assert.Zero(t, cache.Len())
	cache.Purge()
}

func TestTruncateInput(t *testing.T) {
	short := "short text"
	assert.Equal(t, short, TruncateInput(short))

	exact := strings.Repeat("a", MaxInputChars)
	assert.Equal(t, exact, TruncateInput(exact))

	long := strings.Repeat("a", MaxInputChars+500)
	assert.Len(t, TruncateInput(long), MaxInputChars)

	// Multi-byte text is cut on character boundaries
	wide := strings.Repeat("é", MaxInputChars+1)
	truncated := TruncateInput(wide)
	assert.True(t, utf8.ValidString(truncated))
	assert.Equal(t, MaxInputChars, utf8.RuneCountInString(truncated))
}

func TestProviderError(t *testing.T) {
	cause := errors.New("connection refused")
	err := error(&ProviderError{Provider: ProviderOpenAI, Err: cause})

	assert.ErrorIs(t, err, ErrProviderFailed)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "openai")
	assert.Contains(t, err.Error(), "connection refused")

	var perr *ProviderError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, ProviderOpenAI, perr.Provider)
}

// recordingEmbedder captures the text it was asked to embed
type recordingEmbedder struct {
	LocalProvider
	lastText string
}

func (r *recordingEmbedder) GenerateEmbedding(ctx context.Context, req EmbeddingRequest) (*Embedding, error) {
	r.lastText = req.Text
	return r.LocalProvider.GenerateEmbedding(ctx, req)
}

func TestEmbed_TruncatesBeforeSubmission(t *testing.T) {
	rec := &recordingEmbedder{LocalProvider: LocalProvider{model: DefaultLocalModel}}

	vec, err := Embed(context.Background(), rec, strings.Repeat("word ", 10000))
	require.NoError(t, err)
	assert.Len(t, vec, LocalDimension)
	assert.Equal(t, MaxInputChars, utf8.RuneCountInString(rec.lastText))
}
