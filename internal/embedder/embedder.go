package embedder

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

var (
	ErrInvalidInput      = errors.New("invalid input")
	ErrProviderFailed    = errors.New("embedding provider failed")
	ErrUnsupportedModel  = errors.New("unsupported model")
	ErrEmptyText         = errors.New("text cannot be empty")
	ErrBatchTooLarge     = errors.New("batch size exceeds limit")
	ErrNoProviderEnabled = errors.New("no embedding provider configured")
)

// MaxInputChars is the longest text submitted to a provider; longer input is truncated
const MaxInputChars = 32000

// ProviderError reports a failed or unreadable embedding call.
// It matches ErrProviderFailed under errors.Is.
type ProviderError struct {
	Provider string
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s: %s: %v", ErrProviderFailed, e.Provider, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

func (e *ProviderError) Is(target error) bool {
	return target == ErrProviderFailed
}

func providerError(provider string, format string, args ...interface{}) *ProviderError {
	return &ProviderError{Provider: provider, Err: fmt.Errorf(format, args...)}
}

// Embedder turns message and query text into vectors.
// Implementations must be safe for concurrent use: the indexer embeds
// batches from several goroutines.
type Embedder interface {
	GenerateEmbedding(ctx context.Context, req EmbeddingRequest) (*Embedding, error)
	GenerateBatch(ctx context.Context, req BatchEmbeddingRequest) (*BatchEmbeddingResponse, error)

	// Dimension is the length of every vector this embedder returns
	Dimension() int
	Provider() string
	Model() string
	Close() error
}

// Embedding is one vector plus where it came from. Provider and Model are
// stored alongside the vector so re-ingest can tell stale vectors apart.
type Embedding struct {
	Vector    []float32
	Dimension int
	Provider  string
	Model     string
	Hash      string // ContentHash of the embedded text
}

// EmbeddingRequest asks for one vector. Model overrides the provider default.
type EmbeddingRequest struct {
	Text  string
	Model string
}

// BatchEmbeddingRequest asks for up to MaxBatchSize vectors in one call
type BatchEmbeddingRequest struct {
	Texts []string
	Model string
}

// BatchEmbeddingResponse holds vectors in request order
type BatchEmbeddingResponse struct {
	Embeddings []*Embedding
	Provider   string
	Model      string
}

// Embed truncates text and returns its vector
func Embed(ctx context.Context, e Embedder, text string) ([]float32, error) {
	emb, err := e.GenerateEmbedding(ctx, EmbeddingRequest{Text: TruncateInput(text)})
	if err != nil {
		return nil, err
	}
	return emb.Vector, nil
}

// TruncateInput cuts text to at most MaxInputChars characters
func TruncateInput(text string) string {
	if len(text) <= MaxInputChars || utf8.RuneCountInString(text) <= MaxInputChars {
		return text
	}
	runes := []rune(text)
	return string(runes[:MaxInputChars])
}

// validateTexts rejects empty batches and blank texts
func validateTexts(texts ...string) error {
	if len(texts) == 0 {
		return fmt.Errorf("%w: no texts provided", ErrInvalidInput)
	}
	for i, text := range texts {
		if strings.TrimSpace(text) != "" {
			continue
		}
		if len(texts) == 1 {
			return ErrEmptyText
		}
		return fmt.Errorf("%w: text at index %d is empty", ErrInvalidInput, i)
	}
	return nil
}
