// Package embedder turns message text into vectors for similarity search.
//
// Three providers are available: OpenAI (and any OpenAI-compatible
// endpoint), Jina AI through its OpenAI-compatible API, and a local
// feature-hashing embedder that works offline.
//
// # Basic Usage
//
//	emb, err := embedder.NewFromEnv()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer emb.Close()
//
//	vec, err := embedder.Embed(ctx, emb, "Why was P2300 delayed to C++26?")
//
// Input longer than MaxInputChars characters is truncated before it is sent.
//
// # Batch Processing
//
// Ingest embeds up to MaxBatchSize texts per call:
//
//	resp, err := emb.GenerateBatch(ctx, embedder.BatchEmbeddingRequest{
//	    Texts: texts,
//	})
//
// # Provider Selection
//
//  1. If EMBEDDING_PROVIDER is set → use specified provider
//  2. Else if OPENAI_API_KEY is set → use OpenAI (OPENAI_BASE_URL optional)
//  3. Else if JINA_API_KEY is set → use Jina AI
//  4. Else → local provider (offline mode)
//
// Query vectors and stored vectors must come from the same provider and
// model; storage skips embeddings whose dimension differs from the query.
//
// # Caching
//
// Every provider consults an LRU cache keyed by model and the SHA-256 of
// the text. A batch only sends the texts that missed.
//
// # Error Handling
//
// Transient failures (transport errors, 408, 429, 5xx) are retried with
// exponential backoff; other errors are final. A call that still
// fails, or a response that cannot be read as one vector per input,
// returns *ProviderError:
//
//	if errors.Is(err, embedder.ErrProviderFailed) {
//	    // degrade: continue without a query vector
//	}
package embedder
