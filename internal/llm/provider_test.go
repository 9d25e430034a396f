package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/threadqa-mcp/internal/resilience"
)

func chatServer(t *testing.T, handler func(w http.ResponseWriter, req openai.ChatCompletionRequest)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		var req openai.ChatCompletionRequest
		if !assert.NoError(t, json.NewDecoder(r.Body).Decode(&req)) {
			writeError(w, http.StatusBadRequest)
			return
		}
		handler(w, req)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func writeCompletion(w http.ResponseWriter, model, content string) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"id":     "chatcmpl-1",
		"object": "chat.completion",
		"model":  model,
		"choices": []map[string]any{{
			"index":         0,
			"message":       map[string]string{"role": "assistant", "content": content},
			"finish_reason": "stop",
		}},
	})
}

func writeError(w http.ResponseWriter, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]string{"message": http.StatusText(status), "type": "server_error"},
	})
}

func fastExecutor() *resilience.Executor {
	return resilience.NewExecutor(resilience.Config{
		RetryMaxAttempts:    3,
		RetryInitialBackoff: time.Millisecond,
		RetryMaxBackoff:     2 * time.Millisecond,
		BreakerEnabled:      true,
		BreakerMinRequests:  100,
	})
}

func TestNewClient_Defaults(t *testing.T) {
	c, err := NewClient(Config{APIKey: "k"}, nil)
	require.NoError(t, err)
	assert.Equal(t, ProviderGroq, c.Name())
	assert.Equal(t, GroqSmallModel, c.Model(TierSmall))
	assert.Equal(t, GroqComplexModel, c.Model(TierComplex))

	c, err = NewClient(Config{Provider: "Anthropic", APIKey: "k", ComplexModel: "custom"}, nil)
	require.NoError(t, err)
	assert.Equal(t, ProviderAnthropic, c.Name())
	assert.Equal(t, AnthropicSmallModel, c.Model(TierSmall))
	assert.Equal(t, "custom", c.Model(TierComplex))
}

func TestNewClient_Errors(t *testing.T) {
	_, err := NewClient(Config{Provider: "groq"}, nil)
	require.ErrorIs(t, err, ErrNoAPIKey)

	_, err = NewClient(Config{Provider: "mystery", APIKey: "k"}, nil)
	require.ErrorIs(t, err, ErrUnknownProvider)
}

func TestComplete_SendsPromptAndTierModel(t *testing.T) {
	srv := chatServer(t, func(w http.ResponseWriter, req openai.ChatCompletionRequest) {
		assert.Equal(t, GroqComplexModel, req.Model)
		assert.Equal(t, 1500, req.MaxTokens)
		assert.InDelta(t, 0.2, req.Temperature, 1e-6)
		if !assert.Len(t, req.Messages, 2) {
			writeError(w, http.StatusBadRequest)
			return
		}
		assert.Equal(t, openai.ChatMessageRoleSystem, req.Messages[0].Role)
		assert.Equal(t, "sys", req.Messages[0].Content)
		assert.Equal(t, openai.ChatMessageRoleUser, req.Messages[1].Role)
		assert.Equal(t, "usr", req.Messages[1].Content)
		writeCompletion(w, req.Model, "answer text")
	})

	c, err := NewClient(Config{APIKey: "k", BaseURL: srv.URL}, fastExecutor())
	require.NoError(t, err)

	out, err := c.Complete(context.Background(), CompletionRequest{
		System: "sys", User: "usr", Tier: TierComplex, MaxTokens: 1500, Temperature: 0.2,
	})
	require.NoError(t, err)
	assert.Equal(t, "answer text", out.Text)
	assert.Equal(t, GroqComplexModel, out.Model)
}

func TestComplete_ZeroTemperatureIsSent(t *testing.T) {
	srv := chatServer(t, func(w http.ResponseWriter, req openai.ChatCompletionRequest) {
		assert.Greater(t, req.Temperature, float32(0))
		assert.InDelta(t, 0, req.Temperature, 1e-6)
		writeCompletion(w, req.Model, "deterministic")
	})

	c, err := NewClient(Config{APIKey: "k", BaseURL: srv.URL}, fastExecutor())
	require.NoError(t, err)

	out, err := c.Complete(context.Background(), CompletionRequest{User: "usr", Temperature: 0})
	require.NoError(t, err)
	assert.Equal(t, "deterministic", out.Text)
}

func TestComplete_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := chatServer(t, func(w http.ResponseWriter, req openai.ChatCompletionRequest) {
		if calls.Add(1) < 3 {
			writeError(w, http.StatusServiceUnavailable)
			return
		}
		writeCompletion(w, req.Model, "recovered")
	})

	c, err := NewClient(Config{APIKey: "k", BaseURL: srv.URL}, fastExecutor())
	require.NoError(t, err)

	out, err := c.Complete(context.Background(), CompletionRequest{User: "q"})
	require.NoError(t, err)
	assert.Equal(t, "recovered", out.Text)
	assert.Equal(t, int32(3), calls.Load())
}

func TestComplete_DoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := chatServer(t, func(w http.ResponseWriter, req openai.ChatCompletionRequest) {
		calls.Add(1)
		writeError(w, http.StatusBadRequest)
	})

	c, err := NewClient(Config{APIKey: "k", BaseURL: srv.URL}, fastExecutor())
	require.NoError(t, err)

	_, err = c.Complete(context.Background(), CompletionRequest{User: "q"})
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestComplete_NoChoicesIsEmptyText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"x","object":"chat.completion","model":"m","choices":[]}`))
	}))
	defer srv.Close()

	c, err := NewClient(Config{APIKey: "k", BaseURL: srv.URL}, nil)
	require.NoError(t, err)

	out, err := c.Complete(context.Background(), CompletionRequest{User: "q"})
	require.NoError(t, err)
	assert.Empty(t, out.Text)
}

func TestClassify(t *testing.T) {
	assert.True(t, Classify(&openai.APIError{HTTPStatusCode: 429}).Retryable)
	assert.True(t, Classify(&openai.APIError{HTTPStatusCode: 502}).Retryable)
	assert.False(t, Classify(&openai.APIError{HTTPStatusCode: 401}).Retryable)
	assert.False(t, Classify(&openai.APIError{HTTPStatusCode: 401}).RecordFailure)
	assert.True(t, Classify(&openai.RequestError{HTTPStatusCode: 500}).Retryable)
	assert.False(t, Classify(context.Canceled).RecordFailure)
}
