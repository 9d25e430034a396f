package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dshills/threadqa-mcp/pkg/types"
)

var (
	// ErrNotFound is returned when a requested entity doesn't exist
	ErrNotFound = errors.New("not found")
	// ErrInvalidMessage is returned when a message cannot be stored
	ErrInvalidMessage = errors.New("invalid message")
	// ErrEmptyQuery is returned when a text query has no searchable terms
	ErrEmptyQuery = errors.New("empty search query")
)

// maxIDsPerQuery keeps IN (...) lists under SQLite's host parameter limit
const maxIDsPerQuery = 500

// SQLiteStorage implements the Storage interface using SQLite
type SQLiteStorage struct {
	db   *sql.DB
	path string
}

// openDatabase opens a SQLite database with appropriate settings
func openDatabase(dbPath string) (*sql.DB, error) {
	db, err := sql.Open(DriverName, dbPath)
	if err != nil {
		return nil, err
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	// Set connection pool settings
	db.SetMaxOpenConns(1) // SQLite benefits from single writer
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	return db, nil
}

// NewSQLiteStorage creates a new SQLite storage instance
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	db, err := openDatabase(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := ApplyMigrations(context.Background(), db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply migrations: %w", err)
	}

	return &SQLiteStorage{db: db, path: dbPath}, nil
}

// Close closes the database connection
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// BeginTx starts a new transaction
func (s *SQLiteStorage) BeginTx(ctx context.Context) (Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &sqliteTx{tx: tx, storage: s}, nil
}

// querier is an interface that both *sql.DB and *sql.Tx implement
type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// sqliteTx wraps a SQL transaction
type sqliteTx struct {
	tx      *sql.Tx
	storage *SQLiteStorage
}

func (t *sqliteTx) Commit() error {
	return t.tx.Commit()
}

func (t *sqliteTx) Rollback() error {
	return t.tx.Rollback()
}

// querier returns the transaction querier
func (t *sqliteTx) querier() querier {
	return t.tx
}

// querier returns the DB querier
func (s *SQLiteStorage) querier() querier {
	return s.db
}

// Message operations

const messageColumns = `m.id, m.parent_id, m.references_json, m.subject, m.author_name, m.author_email,
		m.sent_at, m.body_clean, m.body_new_content, m.source_url, m.month_period,
		m.thread_root_id, m.thread_depth`

// rowScanner is satisfied by *sql.Row and *sql.Rows
type rowScanner interface {
	Scan(dest ...interface{}) error
}

// scanMessage reads messageColumns followed by any extra destinations
func scanMessage(row rowScanner, extra ...interface{}) (*types.Message, error) {
	var msg types.Message
	var refsJSON string
	var sentAt int64

	dest := []interface{}{
		&msg.ID, &msg.ParentID, &refsJSON, &msg.Subject, &msg.AuthorName, &msg.AuthorEmail,
		&sentAt, &msg.BodyClean, &msg.BodyNewContent, &msg.SourceURL, &msg.MonthPeriod,
		&msg.ThreadRootID, &msg.ThreadDepth,
	}
	dest = append(dest, extra...)

	if err := row.Scan(dest...); err != nil {
		return nil, err
	}

	msg.SentAt = time.Unix(sentAt, 0).UTC()
	if refsJSON != "" && refsJSON != "[]" {
		if err := json.Unmarshal([]byte(refsJSON), &msg.References); err != nil {
			return nil, fmt.Errorf("decode references for %s: %w", msg.ID, err)
		}
	}
	return &msg, nil
}

// upsertMessageWithQuerier is the internal implementation that uses a querier
func (s *SQLiteStorage) upsertMessageWithQuerier(ctx context.Context, q querier, msg *types.Message) error {
	if msg == nil || strings.TrimSpace(msg.ID) == "" {
		return fmt.Errorf("%w: message ID is required", ErrInvalidMessage)
	}
	if msg.SentAt.IsZero() {
		return fmt.Errorf("%w: %s has no date", ErrInvalidMessage, msg.ID)
	}

	refs := msg.References
	if refs == nil {
		refs = []string{}
	}
	refsJSON, err := json.Marshal(refs)
	if err != nil {
		return fmt.Errorf("encode references: %w", err)
	}

	query := `
		INSERT INTO messages (id, parent_id, references_json, subject, author_name, author_email,
		                      sent_at, body_clean, body_new_content, source_url, month_period,
		                      thread_root_id, thread_depth, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
		ON CONFLICT(id) DO UPDATE SET
			parent_id = excluded.parent_id,
			references_json = excluded.references_json,
			subject = excluded.subject,
			author_name = excluded.author_name,
			author_email = excluded.author_email,
			sent_at = excluded.sent_at,
			body_clean = excluded.body_clean,
			body_new_content = excluded.body_new_content,
			source_url = excluded.source_url,
			month_period = excluded.month_period,
			thread_root_id = excluded.thread_root_id,
			thread_depth = excluded.thread_depth,
			updated_at = CURRENT_TIMESTAMP
	`
	_, err = q.ExecContext(ctx, query,
		msg.ID, msg.ParentID, string(refsJSON), msg.Subject, msg.AuthorName, msg.AuthorEmail,
		msg.SentAt.Unix(), msg.BodyClean, msg.BodyNewContent, msg.SourceURL, msg.MonthPeriod,
		msg.ThreadRootID, msg.ThreadDepth)
	if err != nil {
		return fmt.Errorf("failed to upsert message %s: %w", msg.ID, err)
	}
	return nil
}

func (s *SQLiteStorage) UpsertMessage(ctx context.Context, msg *types.Message) error {
	return s.upsertMessageWithQuerier(ctx, s.querier(), msg)
}

// getMessageWithQuerier is the internal implementation that uses a querier
func (s *SQLiteStorage) getMessageWithQuerier(ctx context.Context, q querier, id string) (*types.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages m WHERE m.id = ?`
	msg, err := scanMessage(q.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return msg, nil
}

func (s *SQLiteStorage) GetMessage(ctx context.Context, id string) (*types.Message, error) {
	return s.getMessageWithQuerier(ctx, s.querier(), id)
}

// getMessagesWithQuerier loads messages by ID, preserving the order of ids.
// Unknown IDs are skipped.
func (s *SQLiteStorage) getMessagesWithQuerier(ctx context.Context, q querier, ids []string) ([]*types.Message, error) {
	if len(ids) == 0 {
		return []*types.Message{}, nil
	}

	byID := make(map[string]*types.Message, len(ids))
	for start := 0; start < len(ids); start += maxIDsPerQuery {
		end := start + maxIDsPerQuery
		if end > len(ids) {
			end = len(ids)
		}
		batch := ids[start:end]

		query := `SELECT ` + messageColumns + ` FROM messages m WHERE m.id IN (` + placeholders(len(batch)) + `)`
		rows, err := q.QueryContext(ctx, query, stringArgs(batch)...)
		if err != nil {
			return nil, fmt.Errorf("failed to load messages: %w", err)
		}
		for rows.Next() {
			msg, err := scanMessage(rows)
			if err != nil {
				_ = rows.Close()
				return nil, err
			}
			byID[msg.ID] = msg
		}
		err = rows.Err()
		_ = rows.Close()
		if err != nil {
			return nil, err
		}
	}

	messages := make([]*types.Message, 0, len(byID))
	for _, id := range ids {
		if msg, ok := byID[id]; ok {
			messages = append(messages, msg)
			delete(byID, id) // Duplicate IDs in the input yield one message
		}
	}
	return messages, nil
}

func (s *SQLiteStorage) GetMessages(ctx context.Context, ids []string) ([]*types.Message, error) {
	return s.getMessagesWithQuerier(ctx, s.querier(), ids)
}

// messagesInThreadWithQuerier is the internal implementation that uses a querier
func (s *SQLiteStorage) messagesInThreadWithQuerier(ctx context.Context, q querier, rootID string) ([]*types.Message, error) {
	query := `
		SELECT ` + messageColumns + `
		FROM messages m
		WHERE m.thread_root_id = ? OR m.id = ?
		ORDER BY m.sent_at ASC, m.thread_depth ASC, m.id ASC
	`
	return queryMessages(ctx, q, query, rootID, rootID)
}

func (s *SQLiteStorage) MessagesInThread(ctx context.Context, rootID string) ([]*types.Message, error) {
	return s.messagesInThreadWithQuerier(ctx, s.querier(), rootID)
}

func (s *SQLiteStorage) listMessagesWithQuerier(ctx context.Context, q querier, limit, offset int) ([]*types.Message, error) {
	if limit <= 0 {
		limit = -1 // SQLite: no limit
	}
	if offset < 0 {
		offset = 0
	}
	query := `SELECT ` + messageColumns + ` FROM messages m ORDER BY m.sent_at ASC, m.id ASC LIMIT ? OFFSET ?`
	return queryMessages(ctx, q, query, limit, offset)
}

func (s *SQLiteStorage) ListMessages(ctx context.Context, limit, offset int) ([]*types.Message, error) {
	return s.listMessagesWithQuerier(ctx, s.querier(), limit, offset)
}

// queryMessages runs a query selecting messageColumns and collects the rows
func queryMessages(ctx context.Context, q querier, query string, args ...interface{}) ([]*types.Message, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer func() { _ = rows.Close() }()

	messages := make([]*types.Message, 0)
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

// Embedding operations

// upsertEmbeddingWithQuerier is the internal implementation that uses a querier
func (s *SQLiteStorage) upsertEmbeddingWithQuerier(ctx context.Context, q querier, embedding *Embedding) error {
	query := `
		INSERT INTO embeddings (message_id, vector, dimension, provider, model, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(message_id) DO UPDATE SET
			vector = excluded.vector,
			dimension = excluded.dimension,
			provider = excluded.provider,
			model = excluded.model,
			created_at = excluded.created_at
	`
	now := time.Now().UTC()
	_, err := q.ExecContext(ctx, query,
		embedding.MessageID, embedding.Vector, embedding.Dimension,
		embedding.Provider, embedding.Model, now.Unix())
	if err != nil {
		return fmt.Errorf("failed to upsert embedding for %s: %w", embedding.MessageID, err)
	}
	embedding.CreatedAt = now.Truncate(time.Second)
	return nil
}

func (s *SQLiteStorage) UpsertEmbedding(ctx context.Context, embedding *Embedding) error {
	return s.upsertEmbeddingWithQuerier(ctx, s.querier(), embedding)
}

func (s *SQLiteStorage) getEmbeddingWithQuerier(ctx context.Context, q querier, messageID string) (*Embedding, error) {
	query := `
		SELECT message_id, vector, dimension, provider, model, created_at
		FROM embeddings
		WHERE message_id = ?
	`
	var emb Embedding
	var createdAt int64
	err := q.QueryRowContext(ctx, query, messageID).Scan(
		&emb.MessageID, &emb.Vector, &emb.Dimension, &emb.Provider, &emb.Model, &createdAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	emb.CreatedAt = time.Unix(createdAt, 0).UTC()
	return &emb, nil
}

func (s *SQLiteStorage) GetEmbedding(ctx context.Context, messageID string) (*Embedding, error) {
	return s.getEmbeddingWithQuerier(ctx, s.querier(), messageID)
}

// Search operations

func (s *SQLiteStorage) SearchVector(ctx context.Context, vector []float32, threshold float64, limit int, filters *SearchFilters) ([]VectorResult, error) {
	return searchVector(ctx, s.querier(), vector, threshold, limit, filters)
}

func (s *SQLiteStorage) SearchText(ctx context.Context, query string, limit, offset int, filters *SearchFilters) ([]TextResult, error) {
	return searchText(ctx, s.querier(), query, limit, offset, filters)
}

func (s *SQLiteStorage) CountText(ctx context.Context, query string, filters *SearchFilters) (int, error) {
	return countText(ctx, s.querier(), query, filters)
}

// Author and thread aggregates

// rebuildAuthorsWithQuerier recomputes the authors table from messages
func (s *SQLiteStorage) rebuildAuthorsWithQuerier(ctx context.Context, q querier) (int, error) {
	if _, err := q.ExecContext(ctx, `DELETE FROM authors`); err != nil {
		return 0, fmt.Errorf("failed to clear authors: %w", err)
	}

	result, err := q.ExecContext(ctx, `
		INSERT INTO authors (name, email, message_count, first_seen, last_seen)
		SELECT author_name, MAX(author_email), COUNT(*), MIN(sent_at), MAX(sent_at)
		FROM messages
		WHERE author_name <> '' AND author_name <> 'Unknown'
		GROUP BY author_name
	`)
	if err != nil {
		return 0, fmt.Errorf("failed to rebuild authors: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

func (s *SQLiteStorage) RebuildAuthors(ctx context.Context) (int, error) {
	return s.rebuildAuthorsWithQuerier(ctx, s.querier())
}

// rebuildThreadsWithQuerier recomputes thread statistics, keeping summaries
func (s *SQLiteStorage) rebuildThreadsWithQuerier(ctx context.Context, q querier) (int, error) {
	result, err := q.ExecContext(ctx, `
		INSERT INTO threads (root_id, subject, message_count, participant_count, first_at, last_at)
		SELECT m.thread_root_id,
		       COALESCE((SELECT r.subject FROM messages r WHERE r.id = m.thread_root_id), MIN(m.subject)),
		       COUNT(*),
		       COUNT(DISTINCT NULLIF(m.author_name, '')),
		       MIN(m.sent_at),
		       MAX(m.sent_at)
		FROM messages m
		WHERE m.thread_root_id <> ''
		GROUP BY m.thread_root_id
		ON CONFLICT(root_id) DO UPDATE SET
			subject = excluded.subject,
			message_count = excluded.message_count,
			participant_count = excluded.participant_count,
			first_at = excluded.first_at,
			last_at = excluded.last_at
	`)
	if err != nil {
		return 0, fmt.Errorf("failed to rebuild threads: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

func (s *SQLiteStorage) RebuildThreads(ctx context.Context) (int, error) {
	return s.rebuildThreadsWithQuerier(ctx, s.querier())
}

func (s *SQLiteStorage) getThreadWithQuerier(ctx context.Context, q querier, rootID string) (*Thread, error) {
	query := `
		SELECT root_id, subject, message_count, participant_count,
		       COALESCE(first_at, 0), COALESCE(last_at, 0), summary, proposal_numbers
		FROM threads
		WHERE root_id = ?
	`
	var t Thread
	var firstAt, lastAt int64
	var proposalsJSON string
	err := q.QueryRowContext(ctx, query, rootID).Scan(
		&t.RootID, &t.Subject, &t.MessageCount, &t.ParticipantCount,
		&firstAt, &lastAt, &t.Summary, &proposalsJSON,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	t.FirstAt = time.Unix(firstAt, 0).UTC()
	t.LastAt = time.Unix(lastAt, 0).UTC()
	if err := json.Unmarshal([]byte(proposalsJSON), &t.ProposalNumbers); err != nil {
		return nil, fmt.Errorf("decode proposal numbers for %s: %w", rootID, err)
	}
	return &t, nil
}

func (s *SQLiteStorage) GetThread(ctx context.Context, rootID string) (*Thread, error) {
	return s.getThreadWithQuerier(ctx, s.querier(), rootID)
}

func (s *SQLiteStorage) updateThreadSummaryWithQuerier(ctx context.Context, q querier, rootID, summary string, proposals []string) error {
	if proposals == nil {
		proposals = []string{}
	}
	proposalsJSON, err := json.Marshal(proposals)
	if err != nil {
		return err
	}
	result, err := q.ExecContext(ctx,
		`UPDATE threads SET summary = ?, proposal_numbers = ? WHERE root_id = ?`,
		summary, string(proposalsJSON), rootID)
	if err != nil {
		return fmt.Errorf("failed to update thread summary: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStorage) UpdateThreadSummary(ctx context.Context, rootID, summary string, proposals []string) error {
	return s.updateThreadSummaryWithQuerier(ctx, s.querier(), rootID, summary, proposals)
}

// Status operations

// GetStatus retrieves archive statistics and health
func (s *SQLiteStorage) GetStatus(ctx context.Context) (*ArchiveStatus, error) {
	status := &ArchiveStatus{}

	counts := []struct {
		query string
		dest  *int
	}{
		{"SELECT COUNT(*) FROM messages", &status.MessagesCount},
		{"SELECT COUNT(*) FROM threads", &status.ThreadsCount},
		{"SELECT COUNT(*) FROM authors", &status.AuthorsCount},
		{"SELECT COUNT(*) FROM embeddings", &status.EmbeddingsCount},
	}
	for _, c := range counts {
		if err := s.db.QueryRowContext(ctx, c.query).Scan(c.dest); err != nil {
			return nil, fmt.Errorf("failed to count (%s): %w", c.query, err)
		}
	}

	if status.MessagesCount > 0 {
		var oldest, newest int64
		err := s.db.QueryRowContext(ctx, "SELECT MIN(sent_at), MAX(sent_at) FROM messages").Scan(&oldest, &newest)
		if err != nil {
			return nil, err
		}
		status.OldestMessage = time.Unix(oldest, 0).UTC()
		status.NewestMessage = time.Unix(newest, 0).UTC()
	}

	version, err := currentSchemaVersion(ctx, s.db)
	if err != nil {
		return nil, err
	}
	status.SchemaVersion = version.String()

	// Calculate database size
	var pageCount, pageSize int
	err = s.db.QueryRowContext(ctx, "PRAGMA page_count").Scan(&pageCount)
	if err == nil {
		_ = s.db.QueryRowContext(ctx, "PRAGMA page_size").Scan(&pageSize)
		status.IndexSizeMB = float64(pageCount*pageSize) / (1024 * 1024)
	}

	var ftsName string
	ftsErr := s.db.QueryRowContext(ctx,
		"SELECT name FROM sqlite_master WHERE type='table' AND name='messages_fts'").Scan(&ftsName)

	status.Health = HealthStatus{
		DatabaseAccessible:  true,
		EmbeddingsAvailable: status.EmbeddingsCount > 0,
		FTSIndexesBuilt:     ftsErr == nil,
	}

	return status, nil
}

// Path returns the database file path the storage was opened with
func (s *SQLiteStorage) Path() string {
	return s.path
}

// placeholders returns "?,?,...,?" with n markers
func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func stringArgs(values []string) []interface{} {
	args := make([]interface{}, len(values))
	for i, v := range values {
		args[i] = v
	}
	return args
}

// Transaction implementations

func (t *sqliteTx) UpsertMessage(ctx context.Context, msg *types.Message) error {
	return t.storage.upsertMessageWithQuerier(ctx, t.querier(), msg)
}

func (t *sqliteTx) GetMessage(ctx context.Context, id string) (*types.Message, error) {
	return t.storage.getMessageWithQuerier(ctx, t.querier(), id)
}

func (t *sqliteTx) GetMessages(ctx context.Context, ids []string) ([]*types.Message, error) {
	return t.storage.getMessagesWithQuerier(ctx, t.querier(), ids)
}

func (t *sqliteTx) MessagesInThread(ctx context.Context, rootID string) ([]*types.Message, error) {
	return t.storage.messagesInThreadWithQuerier(ctx, t.querier(), rootID)
}

func (t *sqliteTx) ListMessages(ctx context.Context, limit, offset int) ([]*types.Message, error) {
	return t.storage.listMessagesWithQuerier(ctx, t.querier(), limit, offset)
}

func (t *sqliteTx) UpsertEmbedding(ctx context.Context, embedding *Embedding) error {
	return t.storage.upsertEmbeddingWithQuerier(ctx, t.querier(), embedding)
}

func (t *sqliteTx) GetEmbedding(ctx context.Context, messageID string) (*Embedding, error) {
	return t.storage.getEmbeddingWithQuerier(ctx, t.querier(), messageID)
}

func (t *sqliteTx) SearchVector(ctx context.Context, vector []float32, threshold float64, limit int, filters *SearchFilters) ([]VectorResult, error) {
	return searchVector(ctx, t.querier(), vector, threshold, limit, filters)
}

func (t *sqliteTx) SearchText(ctx context.Context, query string, limit, offset int, filters *SearchFilters) ([]TextResult, error) {
	return searchText(ctx, t.querier(), query, limit, offset, filters)
}

func (t *sqliteTx) CountText(ctx context.Context, query string, filters *SearchFilters) (int, error) {
	return countText(ctx, t.querier(), query, filters)
}

func (t *sqliteTx) RebuildAuthors(ctx context.Context) (int, error) {
	return t.storage.rebuildAuthorsWithQuerier(ctx, t.querier())
}

func (t *sqliteTx) RebuildThreads(ctx context.Context) (int, error) {
	return t.storage.rebuildThreadsWithQuerier(ctx, t.querier())
}

func (t *sqliteTx) GetThread(ctx context.Context, rootID string) (*Thread, error) {
	return t.storage.getThreadWithQuerier(ctx, t.querier(), rootID)
}

func (t *sqliteTx) UpdateThreadSummary(ctx context.Context, rootID, summary string, proposals []string) error {
	return t.storage.updateThreadSummaryWithQuerier(ctx, t.querier(), rootID, summary, proposals)
}

func (t *sqliteTx) GetStatus(ctx context.Context) (*ArchiveStatus, error) {
	// Single-connection pool: a status query outside the tx would block on it
	return nil, errors.New("status is not available inside a transaction")
}

func (t *sqliteTx) Close() error {
	// Transactions don't close the underlying connection
	return nil
}

func (t *sqliteTx) BeginTx(ctx context.Context) (Tx, error) {
	// SQLite does not support true nested transactions
	return nil, errors.New("nested transactions not supported")
}
