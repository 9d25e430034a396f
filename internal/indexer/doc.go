// Package indexer ingests archive exports into the message store.
//
// An ingest run parses a crawler JSONL file, an mbox file or a directory of
// them, reconstructs threads, embeds each message as its subject followed by
// its new content, and writes messages and vectors one transaction per batch:
//
//	idx := indexer.New(store, emb, indexer.WithSummarizer(client))
//	stats, err := idx.IngestPath(ctx, "archive/", &indexer.Config{Summarize: true})
//
// Embedding batches run on a bounded errgroup pool. Writes are sequential
// because SQLite has a single writer. A batch whose embedding call fails is
// still stored, without vectors, so lexical search keeps working.
//
// Messages whose subject, body and embedding model are unchanged since the
// last run are not embedded again unless Config.Force is set.
//
// After the write the author and thread aggregates are rebuilt. With
// Config.Summarize and a summarizer, each touched thread gets an LLM summary
// from the small model tier and the list of proposal numbers it mentions.
//
// IndexLock rejects a second concurrent run on the same Indexer. FileLock
// does the same across processes sharing a database path.
package indexer
