// Package searcher finds the archived messages most relevant to a question.
//
// Retrieval runs two branches at the same time:
//
//   - vector: embed the question, then cosine search with a 0.25 floor
//   - lexical: FTS5 BM25 search over subject, body and author
//
// Each branch returns at most 15 matches. A branch that fails (embedding
// error, storage error, timeout) is logged, counted in
// threadqa_retrieval_degraded_total and treated as empty, so a question can
// still be answered from the other branch.
//
//	r := searcher.NewRetriever(store, emb, searcher.DefaultConfig(), m)
//	got := r.Retrieve(ctx, "Why was P2300 delayed?", types.Filters{})
//	merged := searcher.Merge(got.Vector, got.Lexical, searcher.DefaultMergeConfig())
//
// # Hybrid Score
//
// Merge combines the branches per message:
//
//	score = similarity*0.6 + rank/max(maxRank, 1)*0.4
//
// where maxRank is the best lexical rank in this result set. A message found
// by one branch only gets that branch's term. The list is sorted by score,
// ties keep insertion order (vector matches, then lexical-only matches), and
// the top 10 are kept.
package searcher
