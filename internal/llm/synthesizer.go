package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/dshills/threadqa-mcp/internal/metrics"
	"github.com/dshills/threadqa-mcp/pkg/types"
)

const (
	// ComplexThreadThreshold is the number of distinct threads that selects the complex tier
	ComplexThreadThreshold = 3
	// DefaultMaxTokens bounds the answer length
	DefaultMaxTokens = 1500
	// DefaultTemperature keeps answers close to the context
	DefaultTemperature = 0.2
	// DefaultTimeout bounds one synthesis, retries included
	DefaultTimeout = 60 * time.Second

	// EmptyResponseText replaces a blank model reply
	EmptyResponseText = "The model returned an empty response. Please try again."
)

// SystemPrompt instructs the model how to answer from archive context
const SystemPrompt = `You answer questions about a standards committee mailing list archive.

Rules:
- Answer only from the messages in the provided context. If the context does not contain the answer, say so plainly.
- Attribute every claim to its author and date, for example "Jane Doe (2024-03-01) argued that ...".
- Quote short passages directly when the exact wording matters.
- Keep the answer focused and factual. Do not speculate beyond the context.
- End with a "Sources" section listing the messages you relied on by their [n] number, author and date.`

// ErrSynthesisFailed is matched by every SynthesisError
var ErrSynthesisFailed = errors.New("answer synthesis failed")

// SynthesisError reports a failed model call. The request may be retried later.
type SynthesisError struct {
	Provider string
	Tier     Tier
	Err      error
}

func (e *SynthesisError) Error() string {
	return fmt.Sprintf("answer synthesis failed (%s, %s tier): %v", e.Provider, e.Tier, e.Err)
}

func (e *SynthesisError) Unwrap() error {
	return e.Err
}

// Is makes errors.Is(err, ErrSynthesisFailed) hold
func (e *SynthesisError) Is(target error) bool {
	return target == ErrSynthesisFailed
}

// Retryable reports that the caller may try the same request again
func (e *SynthesisError) Retryable() bool {
	return true
}

// Answer is a synthesized reply
type Answer struct {
	Text  string
	Model string
	Tier  Tier
}

// SynthesizerConfig tunes answer synthesis
type SynthesizerConfig struct {
	MaxTokens   int
	Temperature *float32 // Nil for DefaultTemperature; 0 is honored
	Timeout     time.Duration
}

// DefaultSynthesizerConfig returns the standard synthesis settings
func DefaultSynthesizerConfig() SynthesizerConfig {
	return SynthesizerConfig{
		MaxTokens:   DefaultMaxTokens,
		Temperature: Temperature(DefaultTemperature),
		Timeout:     DefaultTimeout,
	}
}

// Synthesizer turns assembled context into an answer
type Synthesizer struct {
	provider Provider
	cfg      SynthesizerConfig
	metrics  *metrics.Metrics
}

// NewSynthesizer creates a synthesizer; zero config fields take defaults
func NewSynthesizer(provider Provider, cfg SynthesizerConfig, m *metrics.Metrics) *Synthesizer {
	def := DefaultSynthesizerConfig()
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = def.MaxTokens
	}
	if cfg.Temperature == nil || *cfg.Temperature < 0 {
		cfg.Temperature = def.Temperature
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	return &Synthesizer{provider: provider, cfg: cfg, metrics: m}
}

// Temperature returns a pointer for SynthesizerConfig.Temperature
func Temperature(t float32) *float32 {
	return &t
}

// SelectTier picks the complex tier when the merged matches span enough threads
func SelectTier(merged []types.ScoredMessage) Tier {
	roots := make(map[string]struct{})
	for i := range merged {
		if root := merged[i].ThreadRootID; root != "" {
			roots[root] = struct{}{}
		}
	}
	if len(roots) >= ComplexThreadThreshold {
		return TierComplex
	}
	return TierSmall
}

// BuildUserPrompt places the context ahead of the question
func BuildUserPrompt(contextText, question string) string {
	var b strings.Builder
	b.WriteString("Context messages:\n\n")
	b.WriteString(contextText)
	b.WriteString("\n\n===\n\nQuestion: ")
	b.WriteString(strings.TrimSpace(question))
	return b.String()
}

// Synthesize asks the model to answer question from contextText.
// The tier comes from the merged matches, before thread expansion.
func (s *Synthesizer) Synthesize(ctx context.Context, question, contextText string, merged []types.ScoredMessage) (*Answer, error) {
	tier := SelectTier(merged)

	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	completion, err := s.provider.Complete(ctx, CompletionRequest{
		System:      SystemPrompt,
		User:        BuildUserPrompt(contextText, question),
		Tier:        tier,
		MaxTokens:   s.cfg.MaxTokens,
		Temperature: *s.cfg.Temperature,
	})
	if err != nil {
		s.metrics.RecordLLM(string(tier), "error")
		zerolog.Ctx(ctx).Error().
			Err(err).
			Str("provider", s.provider.Name()).
			Str("tier", string(tier)).
			Msg("synthesis_failed")
		return nil, &SynthesisError{Provider: s.provider.Name(), Tier: tier, Err: err}
	}

	text := strings.TrimSpace(completion.Text)
	status := "ok"
	if text == "" {
		text = EmptyResponseText
		status = "empty"
	}
	s.metrics.RecordLLM(string(tier), status)

	return &Answer{Text: text, Model: completion.Model, Tier: tier}, nil
}
