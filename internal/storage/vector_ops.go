package storage

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"sort"
	"strings"
	"unicode"
)

// searchVector performs vector similarity search using cosine similarity.
// Only messages whose similarity is at least threshold are returned.
func searchVector(ctx context.Context, q querier, queryVector []float32, threshold float64, limit int, filters *SearchFilters) ([]VectorResult, error) {
	if limit <= 0 || len(queryVector) == 0 || filters.matchesNothing() {
		return []VectorResult{}, nil
	}

	var candidates []candidate
	var err error
	// Use optimized SQL-based search when sqlite-vec is available
	if VectorExtensionAvailable {
		candidates, err = searchVectorOptimized(ctx, q, queryVector, threshold, limit, filters)
	} else {
		// Fall back to Go-based computation for purego builds
		candidates, err = searchVectorFallback(ctx, q, queryVector, threshold, limit, filters)
	}
	if err != nil {
		return nil, err
	}

	return hydrateVectorResults(ctx, q, candidates)
}

// searchVectorOptimized uses sqlite-vec extension for SQL-based vector similarity search
func searchVectorOptimized(ctx context.Context, q querier, queryVector []float32, threshold float64, limit int, filters *SearchFilters) ([]candidate, error) {
	queryVectorBlob := serializeVector(queryVector)

	// vec_distance_cosine returns distance (lower is better)
	query := `
		SELECT m.id, 1.0 - vec_distance_cosine(e.vector, ?) AS similarity
		FROM messages m
		INNER JOIN embeddings e ON e.message_id = m.id
		WHERE e.dimension = ?
	`
	args := []interface{}{queryVectorBlob, len(queryVector)}
	query, args = applyMessageFilters(query, args, filters)

	query += " AND (1.0 - vec_distance_cosine(e.vector, ?)) >= ?"
	args = append(args, queryVectorBlob, threshold)

	query += " ORDER BY similarity DESC, m.sent_at ASC, m.id ASC LIMIT ?"
	args = append(args, limit)

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to execute vector search: %w", err)
	}
	defer func() { _ = rows.Close() }()

	candidates := make([]candidate, 0, limit)
	for rows.Next() {
		var c candidate
		if err := rows.Scan(&c.messageID, &c.score); err != nil {
			return nil, fmt.Errorf("failed to scan result: %w", err)
		}
		candidates = append(candidates, c)
	}
	return candidates, rows.Err()
}

// searchVectorFallback performs vector search using Go-based cosine similarity computation
func searchVectorFallback(ctx context.Context, q querier, queryVector []float32, threshold float64, limit int, filters *SearchFilters) ([]candidate, error) {
	query := `
		SELECT m.id, e.vector
		FROM messages m
		INNER JOIN embeddings e ON e.message_id = m.id
		WHERE e.dimension = ?
	`
	args := []interface{}{len(queryVector)}
	query, args = applyMessageFilters(query, args, filters)
	query += " ORDER BY m.sent_at ASC, m.id ASC"

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query embeddings: %w", err)
	}
	defer func() { _ = rows.Close() }()

	candidates, err := computeSimilarityScores(rows, queryVector, threshold)
	if err != nil {
		return nil, err
	}

	sortCandidates(candidates)
	if len(candidates) > limit {
		candidates = candidates[:limit]
	}
	return candidates, nil
}

// hydrateVectorResults loads the messages behind ranked candidates
func hydrateVectorResults(ctx context.Context, q querier, candidates []candidate) ([]VectorResult, error) {
	if len(candidates) == 0 {
		return []VectorResult{}, nil
	}

	ids := make([]string, len(candidates))
	for i, c := range candidates {
		ids[i] = c.messageID
	}

	rows, err := q.QueryContext(ctx,
		`SELECT `+messageColumns+` FROM messages m WHERE m.id IN (`+placeholders(len(ids))+`)`,
		stringArgs(ids)...)
	if err != nil {
		return nil, fmt.Errorf("failed to load vector hits: %w", err)
	}
	defer func() { _ = rows.Close() }()

	byID := make(map[string]VectorResult, len(ids))
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		byID[msg.ID] = VectorResult{Message: msg}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	results := make([]VectorResult, 0, len(candidates))
	for _, c := range candidates {
		r, ok := byID[c.messageID]
		if !ok {
			continue
		}
		r.Similarity = clampUnit(c.score)
		results = append(results, r)
	}
	return results, nil
}

// searchText performs BM25 full-text search using FTS5
func searchText(ctx context.Context, q querier, query string, limit, offset int, filters *SearchFilters) ([]TextResult, error) {
	sanitized := sanitizeFTSQuery(query)
	if sanitized == "" {
		return nil, ErrEmptyQuery
	}
	if limit <= 0 || filters.matchesNothing() {
		return []TextResult{}, nil
	}
	if offset < 0 {
		offset = 0
	}

	// Subject matches weigh more than body or author matches
	sqlQuery := `
		SELECT ` + messageColumns + `, bm25(messages_fts, 2.0, 1.0, 0.5) AS score
		FROM messages_fts
		INNER JOIN messages m ON m.rowid = messages_fts.rowid
		WHERE messages_fts MATCH ?
	`
	args := []interface{}{sanitized}
	sqlQuery, args = applyMessageFilters(sqlQuery, args, filters)

	// BM25 is lower-is-better
	sqlQuery += " ORDER BY score ASC, m.sent_at ASC, m.id ASC LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	rows, err := q.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to execute FTS search: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return collectTextResults(rows)
}

// countText returns the total number of lexical matches for query
func countText(ctx context.Context, q querier, query string, filters *SearchFilters) (int, error) {
	sanitized := sanitizeFTSQuery(query)
	if sanitized == "" {
		return 0, ErrEmptyQuery
	}
	if filters.matchesNothing() {
		return 0, nil
	}

	sqlQuery := `
		SELECT COUNT(*)
		FROM messages_fts
		INNER JOIN messages m ON m.rowid = messages_fts.rowid
		WHERE messages_fts MATCH ?
	`
	args := []interface{}{sanitized}
	sqlQuery, args = applyMessageFilters(sqlQuery, args, filters)

	var count int
	if err := q.QueryRowContext(ctx, sqlQuery, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count FTS matches: %w", err)
	}
	return count, nil
}

// Helper functions

// matchesNothing reports whether the filters exclude every message
func (f *SearchFilters) matchesNothing() bool {
	return f != nil && f.MessageIDs != nil && len(f.MessageIDs) == 0
}

// applyMessageFilters adds WHERE clause filters on the messages alias m
func applyMessageFilters(query string, args []interface{}, filters *SearchFilters) (string, []interface{}) {
	if filters == nil {
		return query, args
	}

	if filters.DateFrom != nil {
		query += " AND m.sent_at >= ?"
		args = append(args, filters.DateFrom.Unix())
	}

	if filters.DateTo != nil {
		query += " AND m.sent_at <= ?"
		args = append(args, filters.DateTo.Unix())
	}

	if author := strings.TrimSpace(filters.Author); author != "" {
		query += ` AND LOWER(m.author_name) LIKE ? ESCAPE '\'`
		args = append(args, "%"+escapeLike(strings.ToLower(author))+"%")
	}

	if len(filters.MessageIDs) > 0 {
		query += " AND m.id IN (" + placeholders(len(filters.MessageIDs)) + ")"
		args = append(args, stringArgs(filters.MessageIDs)...)
	}

	return query, args
}

// escapeLike escapes LIKE wildcards so the author filter is a literal substring
func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

// computeSimilarityScores processes rows and computes cosine similarity
func computeSimilarityScores(rows *sql.Rows, queryVector []float32, threshold float64) ([]candidate, error) {
	candidates := make([]candidate, 0, 256)

	for rows.Next() {
		var messageID string
		var vectorBlob []byte
		if err := rows.Scan(&messageID, &vectorBlob); err != nil {
			return nil, err
		}

		vector := deserializeVector(vectorBlob)
		if len(vector) != len(queryVector) {
			continue // Dimension mismatch, skip
		}

		similarity := cosineSimilarity(queryVector, vector)
		if similarity < threshold {
			continue
		}

		candidates = append(candidates, candidate{messageID: messageID, score: similarity})
	}

	return candidates, rows.Err()
}

// collectTextResults converts BM25 scores into larger-is-better ranks
func collectTextResults(rows *sql.Rows) ([]TextResult, error) {
	results := make([]TextResult, 0)

	for rows.Next() {
		var score float64
		msg, err := scanMessage(rows, &score)
		if err != nil {
			return nil, err
		}
		results = append(results, TextResult{Message: msg, Rank: -score})
	}

	return results, rows.Err()
}

// serializeVector converts a float32 slice to a byte blob (little-endian)
func serializeVector(vector []float32) []byte {
	blob := make([]byte, len(vector)*4)
	for i, v := range vector {
		binary.LittleEndian.PutUint32(blob[i*4:], math.Float32bits(v))
	}
	return blob
}

// deserializeVector converts a byte blob back to a float32 slice
func deserializeVector(blob []byte) []float32 {
	vector := make([]float32, len(blob)/4)
	for i := range vector {
		bits := binary.LittleEndian.Uint32(blob[i*4:])
		vector[i] = math.Float32frombits(bits)
	}
	return vector
}

// cosineSimilarity computes the cosine similarity between two vectors
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}

	var dotProduct, normA, normB float64
	for i := range a {
		dotProduct += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return dotProduct / (math.Sqrt(normA) * math.Sqrt(normB))
}

func clampUnit(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// candidate represents a message with its similarity score
type candidate struct {
	messageID string
	score     float64
}

// sortCandidates sorts candidates by score in descending order, keeping scan order on ties
func sortCandidates(candidates []candidate) {
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].score > candidates[j].score
	})
}

// Words too common to discriminate between messages
var ftsStopWords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "as": {}, "at": {}, "be": {}, "by": {},
	"did": {}, "do": {}, "does": {}, "for": {}, "from": {}, "how": {}, "in": {},
	"is": {}, "it": {}, "of": {}, "on": {}, "or": {}, "the": {}, "to": {}, "was": {},
	"were": {}, "what": {}, "when": {}, "which": {}, "who": {}, "why": {}, "with": {},
}

// sanitizeFTSQuery turns free text into an FTS5 OR-query of quoted terms.
// Quoting every term neutralizes FTS5 operators and syntax characters.
func sanitizeFTSQuery(query string) string {
	words := strings.FieldsFunc(strings.ToLower(query), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_'
	})

	seen := make(map[string]struct{}, len(words))
	terms := make([]string, 0, len(words))
	for _, w := range words {
		if len([]rune(w)) < 2 {
			continue
		}
		if _, stop := ftsStopWords[w]; stop {
			continue
		}
		if _, dup := seen[w]; dup {
			continue
		}
		seen[w] = struct{}{}
		terms = append(terms, `"`+w+`"`)
	}

	return strings.Join(terms, " OR ")
}

// SerializeVector is an exported helper for callers storing embeddings
func SerializeVector(vector []float32) []byte {
	return serializeVector(vector)
}

// DeserializeVector is an exported helper for testing
func DeserializeVector(blob []byte) []float32 {
	return deserializeVector(blob)
}

// CosineSimilarity is an exported helper for testing
func CosineSimilarity(a, b []float32) float64 {
	return cosineSimilarity(a, b)
}
