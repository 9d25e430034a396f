package llm

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/dshills/threadqa-mcp/internal/resilience"
)

// Provider names accepted by LLM_PROVIDER
const (
	ProviderGroq      = "groq"
	ProviderAnthropic = "anthropic"
)

// OpenAI-compatible endpoints and default models per tier
const (
	GroqBaseURL           = "https://api.groq.com/openai/v1"
	GroqSmallModel        = "llama-3.1-8b-instant"
	GroqComplexModel      = "llama-3.3-70b-versatile"
	AnthropicBaseURL      = "https://api.anthropic.com/v1/"
	AnthropicSmallModel   = "claude-haiku-4-5"
	AnthropicComplexModel = "claude-sonnet-4-5"
)

// Tier selects between the fast model and the stronger one
type Tier string

const (
	TierSmall   Tier = "small"
	TierComplex Tier = "complex"
)

var (
	// ErrNoAPIKey is returned when the selected provider has no key configured
	ErrNoAPIKey = errors.New("llm: API key not set")
	// ErrUnknownProvider is returned for an unsupported LLM_PROVIDER value
	ErrUnknownProvider = errors.New("llm: unknown provider")
)

// CompletionRequest is one system+user exchange
type CompletionRequest struct {
	System      string
	User        string
	Tier        Tier
	MaxTokens   int
	Temperature float32
}

// Completion is the model's reply and the model that produced it
type Completion struct {
	Text  string
	Model string
}

// Provider completes prompts against a language model
type Provider interface {
	Complete(ctx context.Context, req CompletionRequest) (*Completion, error)
	Name() string
}

// Config configures an OpenAI-compatible chat provider
type Config struct {
	Provider     string // groq or anthropic
	APIKey       string
	BaseURL      string // Overrides the provider default
	SmallModel   string
	ComplexModel string
	HTTPTimeout  time.Duration
}

// Client implements Provider over any OpenAI-compatible chat completions API
type Client struct {
	name       string
	client     *openai.Client
	httpClient *http.Client
	models     map[Tier]string
	executor   *resilience.Executor
}

// NewClient creates a chat client. A nil executor disables retry and circuit breaking.
func NewClient(cfg Config, executor *resilience.Executor) (*Client, error) {
	name := strings.ToLower(strings.TrimSpace(cfg.Provider))
	if name == "" {
		name = ProviderGroq
	}

	var baseURL, smallModel, complexModel string
	switch name {
	case ProviderGroq:
		baseURL, smallModel, complexModel = GroqBaseURL, GroqSmallModel, GroqComplexModel
	case ProviderAnthropic:
		baseURL, smallModel, complexModel = AnthropicBaseURL, AnthropicSmallModel, AnthropicComplexModel
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, cfg.Provider)
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w for %s", ErrNoAPIKey, name)
	}
	if cfg.BaseURL != "" {
		baseURL = cfg.BaseURL
	}
	if cfg.SmallModel != "" {
		smallModel = cfg.SmallModel
	}
	if cfg.ComplexModel != "" {
		complexModel = cfg.ComplexModel
	}
	timeout := cfg.HTTPTimeout
	if timeout <= 0 {
		timeout = 90 * time.Second
	}

	httpClient := &http.Client{Timeout: timeout}
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	clientCfg.BaseURL = strings.TrimRight(baseURL, "/")
	clientCfg.HTTPClient = httpClient

	return &Client{
		name:       name,
		client:     openai.NewClientWithConfig(clientCfg),
		httpClient: httpClient,
		models:     map[Tier]string{TierSmall: smallModel, TierComplex: complexModel},
		executor:   executor,
	}, nil
}

// Name returns the provider name
func (c *Client) Name() string {
	return c.name
}

// Model returns the model used for a tier
func (c *Client) Model(tier Tier) string {
	if m, ok := c.models[tier]; ok {
		return m
	}
	return c.models[TierSmall]
}

// Complete sends one chat completion. Empty choices yield an empty Text, not an error.
func (c *Client) Complete(ctx context.Context, req CompletionRequest) (*Completion, error) {
	model := c.Model(req.Tier)
	temperature := req.Temperature
	if temperature == 0 {
		// go-openai omits a zero temperature, which the API reads as its default
		temperature = math.SmallestNonzeroFloat32
	}
	chatReq := openai.ChatCompletionRequest{
		Model:       model,
		MaxTokens:   req.MaxTokens,
		Temperature: temperature,
	}
	if req.System != "" {
		chatReq.Messages = append(chatReq.Messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.System,
		})
	}
	chatReq.Messages = append(chatReq.Messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: req.User,
	})

	var resp openai.ChatCompletionResponse
	call := func(ctx context.Context) error {
		var err error
		resp, err = c.client.CreateChatCompletion(ctx, chatReq)
		return err
	}

	var err error
	if c.executor != nil {
		err = c.executor.Execute(ctx, "llm."+c.name, call, Classify)
	} else {
		err = call(ctx)
	}
	if err != nil {
		return nil, fmt.Errorf("%s chat completion: %w", c.name, err)
	}

	out := &Completion{Model: resp.Model}
	if out.Model == "" {
		out.Model = model
	}
	if len(resp.Choices) > 0 {
		out.Text = resp.Choices[0].Message.Content
	}
	return out, nil
}

// Close releases idle connections
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

// Classify decides whether a chat error is worth retrying against the same provider
func Classify(err error) resilience.ErrorClassification {
	if class, ok := resilience.ClassifyTransport(err); ok {
		return class
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return resilience.ErrorClassification{
			Retryable:     resilience.IsRetryableStatus(apiErr.HTTPStatusCode),
			RecordFailure: apiErr.HTTPStatusCode == 429 || apiErr.HTTPStatusCode >= 500,
		}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return resilience.ErrorClassification{
			Retryable:     resilience.IsRetryableStatus(reqErr.HTTPStatusCode),
			RecordFailure: reqErr.HTTPStatusCode == 429 || reqErr.HTTPStatusCode >= 500,
		}
	}

	return resilience.ErrorClassification{Retryable: false, RecordFailure: true}
}
