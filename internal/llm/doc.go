// Package llm synthesizes cited answers with an OpenAI-compatible chat model.
//
// Two providers are supported, both reached through go-openai:
//
//   - groq (default): llama-3.1-8b-instant and llama-3.3-70b-versatile
//   - anthropic: claude-haiku-4-5 and claude-sonnet-4-5
//
// The provider is chosen by configuration only. Calls go through a
// resilience.Executor, so 429, 5xx and transport failures are retried
// against the same provider and a failing provider trips a circuit breaker.
//
// Any failure reaching the Synthesizer is reported as *SynthesisError:
//
//	answer, err := synth.Synthesize(ctx, question, assembled.Text, merged)
//	if errors.Is(err, llm.ErrSynthesisFailed) {
//	    // 503, try again later
//	}
package llm
