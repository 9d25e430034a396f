// Package vectorindex mirrors message embeddings into Qdrant and serves
// similarity search from it, hydrating hits from the SQLite archive.
package vectorindex

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
	"github.com/rs/zerolog"

	"github.com/dshills/threadqa-mcp/internal/storage"
	"github.com/dshills/threadqa-mcp/pkg/types"
)

// Payload keys stored with every point
const (
	payloadMessageID = "message_id"
	payloadRootID    = "thread_root_id"
	payloadSentAt    = "sent_at"
	payloadAuthor    = "author_lower"
)

// authorOverfetch widens the Qdrant query when the author filter is applied after hydration
const authorOverfetch = 4

// pointsAPI is the subset of *qdrant.Client used here
type pointsAPI interface {
	CollectionExists(ctx context.Context, collectionName string) (bool, error)
	CreateCollection(ctx context.Context, request *qdrant.CreateCollection) error
	Upsert(ctx context.Context, request *qdrant.UpsertPoints) (*qdrant.UpdateResult, error)
	Query(ctx context.Context, request *qdrant.QueryPoints) ([]*qdrant.ScoredPoint, error)
	Close() error
}

// MessageLoader hydrates message IDs returned by Qdrant
type MessageLoader interface {
	GetMessages(ctx context.Context, ids []string) ([]*types.Message, error)
}

// Point is one message vector to mirror
type Point struct {
	Message *types.Message
	Vector  []float32
}

// Qdrant stores and searches message vectors in one collection
type Qdrant struct {
	client     pointsAPI
	collection string
	loader     MessageLoader

	ensureMu sync.Mutex
	ensured  bool
}

// NewQdrant connects to Qdrant over gRPC
func NewQdrant(host string, port int, collection string, loader MessageLoader) (*Qdrant, error) {
	if host == "" {
		host = "localhost"
	}
	client, err := qdrant.NewClient(&qdrant.Config{
		Host: host,
		Port: port,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Qdrant client: %w", err)
	}
	return newQdrant(client, collection, loader), nil
}

func newQdrant(client pointsAPI, collection string, loader MessageLoader) *Qdrant {
	return &Qdrant{client: client, collection: collection, loader: loader}
}

// PointID derives a stable UUID from a message ID
func PointID(messageID string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(messageID)).String()
}

// EnsureCollection creates the collection with cosine distance when missing
func (q *Qdrant) EnsureCollection(ctx context.Context, dimension int) error {
	q.ensureMu.Lock()
	defer q.ensureMu.Unlock()
	if q.ensured {
		return nil
	}

	exists, err := q.client.CollectionExists(ctx, q.collection)
	if err != nil {
		return fmt.Errorf("failed to check collection existence: %w", err)
	}
	if !exists {
		zerolog.Ctx(ctx).Info().Str("collection", q.collection).Int("dimension", dimension).Msg("qdrant_collection_create")
		err := q.client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: q.collection,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     uint64(dimension),
				Distance: qdrant.Distance_Cosine,
			}),
		})
		if err != nil {
			return fmt.Errorf("failed to create collection: %w", err)
		}
	}
	q.ensured = true
	return nil
}

// Upsert writes points, creating the collection on first use
func (q *Qdrant) Upsert(ctx context.Context, points []Point) error {
	if len(points) == 0 {
		return nil
	}
	if err := q.EnsureCollection(ctx, len(points[0].Vector)); err != nil {
		return err
	}

	qdrantPoints := make([]*qdrant.PointStruct, 0, len(points))
	for _, p := range points {
		if p.Message == nil || len(p.Vector) == 0 {
			continue
		}
		qdrantPoints = append(qdrantPoints, &qdrant.PointStruct{
			Id:      qdrant.NewID(PointID(p.Message.ID)),
			Vectors: qdrant.NewVectors(p.Vector...),
			Payload: qdrant.NewValueMap(map[string]any{
				payloadMessageID: p.Message.ID,
				payloadRootID:    p.Message.ThreadRootID,
				payloadSentAt:    p.Message.SentAt.Unix(),
				payloadAuthor:    strings.ToLower(p.Message.AuthorName),
			}),
		})
	}

	_, err := q.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: q.collection,
		Wait:           qdrant.PtrOf(true),
		Points:         qdrantPoints,
	})
	if err != nil {
		return fmt.Errorf("failed to upsert points: %w", err)
	}
	return nil
}

// SearchVector has the same contract as storage.SQLiteStorage.SearchVector
func (q *Qdrant) SearchVector(ctx context.Context, vector []float32, threshold float64, limit int, filters *storage.SearchFilters) ([]storage.VectorResult, error) {
	if limit <= 0 || len(vector) == 0 {
		return []storage.VectorResult{}, nil
	}
	if filters != nil && filters.MessageIDs != nil && len(filters.MessageIDs) == 0 {
		return []storage.VectorResult{}, nil
	}

	author := ""
	if filters != nil {
		author = strings.ToLower(strings.TrimSpace(filters.Author))
	}
	fetch := limit
	if author != "" {
		fetch = limit * authorOverfetch
	}

	req := &qdrant.QueryPoints{
		CollectionName: q.collection,
		Query:          qdrant.NewQuery(vector...),
		Limit:          qdrant.PtrOf(uint64(fetch)),
		ScoreThreshold: qdrant.PtrOf(float32(threshold)),
		WithPayload:    qdrant.NewWithPayload(true),
		Filter:         buildFilter(filters),
	}

	points, err := q.client.Query(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("failed to search points: %w", err)
	}

	ids := make([]string, 0, len(points))
	scores := make(map[string]float64, len(points))
	for _, p := range points {
		id := payloadString(p.GetPayload(), payloadMessageID)
		if id == "" {
			continue
		}
		if _, dup := scores[id]; dup {
			continue
		}
		ids = append(ids, id)
		scores[id] = clampUnit(float64(p.GetScore()))
	}
	if len(ids) == 0 {
		return []storage.VectorResult{}, nil
	}

	messages, err := q.loader.GetMessages(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to hydrate messages: %w", err)
	}

	results := make([]storage.VectorResult, 0, limit)
	for _, m := range messages {
		if author != "" && !strings.Contains(strings.ToLower(m.AuthorName), author) {
			continue
		}
		results = append(results, storage.VectorResult{Message: m, Similarity: scores[m.ID]})
		if len(results) == limit {
			break
		}
	}
	return results, nil
}

// Close closes the gRPC connection
func (q *Qdrant) Close() error {
	return q.client.Close()
}

func buildFilter(filters *storage.SearchFilters) *qdrant.Filter {
	if filters == nil {
		return nil
	}

	var must []*qdrant.Condition
	if filters.DateFrom != nil || filters.DateTo != nil {
		r := &qdrant.Range{}
		if filters.DateFrom != nil {
			r.Gte = qdrant.PtrOf(float64(filters.DateFrom.Unix()))
		}
		if filters.DateTo != nil {
			r.Lte = qdrant.PtrOf(float64(filters.DateTo.Unix()))
		}
		must = append(must, qdrant.NewRange(payloadSentAt, r))
	}
	if len(filters.MessageIDs) > 0 {
		must = append(must, qdrant.NewMatchKeywords(payloadMessageID, filters.MessageIDs...))
	}

	if len(must) == 0 {
		return nil
	}
	return &qdrant.Filter{Must: must}
}

func payloadString(payload map[string]*qdrant.Value, key string) string {
	v, ok := payload[key]
	if !ok || v == nil {
		return ""
	}
	return v.GetStringValue()
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
