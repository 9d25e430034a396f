// Package storage provides SQLite-based persistence for the message archive.
//
// The storage layer manages:
//   - Archived messages with their thread placement
//   - Vector embeddings per message
//   - An FTS5 full-text index over subject, body and author
//   - Author and thread aggregates, including LLM thread summaries
//
// # Database Schema
//
// Tables:
//   - messages: One row per archived post (sent_at in unix seconds)
//   - messages_fts: FTS5 external-content index kept in sync by triggers
//   - embeddings: Little-endian float32 vectors keyed by message ID
//   - authors: Posting counts and first/last activity per author
//   - threads: Per-root statistics, summary and proposal numbers
//
// # Basic Usage
//
//	db, err := storage.NewSQLiteStorage("threadqa.db")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer db.Close()
//
//	err = db.UpsertMessage(ctx, &types.Message{ID: "<a@x>", SentAt: sent})
//
// # Search
//
// Vector search returns messages with cosine similarity at or above a floor:
//
//	hits, err := db.SearchVector(ctx, queryVec, 0.25, 10, filters)
//
// Text search pages through BM25 matches. Rank is the negated BM25 score so
// larger is better:
//
//	hits, err := db.SearchText(ctx, "coroutine allocation", 15, 0, filters)
//
// SearchFilters narrows both searches by date range, author substring, or an
// explicit set of message IDs (used for thread-restricted search).
//
// # Transactions
//
// Use transactions for atomic ingestion batches:
//
//	tx, err := db.BeginTx(ctx)
//	if err != nil {
//	    return err
//	}
//	defer tx.Rollback()
//
//	for _, msg := range batch {
//	    if err := tx.UpsertMessage(ctx, msg); err != nil {
//	        return err
//	    }
//	}
//	return tx.Commit()
//
// # Build Modes
//
// With the sqlite_vec tag (mattn/go-sqlite3, CGO) similarity runs in SQL.
// The default purego build (modernc.org/sqlite) scores vectors in Go.
package storage
