package vectorindex

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/qdrant/go-client/qdrant"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/threadqa-mcp/internal/storage"
	"github.com/dshills/threadqa-mcp/pkg/types"
)

type fakePoints struct {
	exists      bool
	created     []*qdrant.CreateCollection
	upserts     []*qdrant.UpsertPoints
	lastQuery   *qdrant.QueryPoints
	queryResult []*qdrant.ScoredPoint
	queryErr    error
}

func (f *fakePoints) CollectionExists(ctx context.Context, name string) (bool, error) {
	return f.exists, nil
}

func (f *fakePoints) CreateCollection(ctx context.Context, req *qdrant.CreateCollection) error {
	f.created = append(f.created, req)
	f.exists = true
	return nil
}

func (f *fakePoints) Upsert(ctx context.Context, req *qdrant.UpsertPoints) (*qdrant.UpdateResult, error) {
	f.upserts = append(f.upserts, req)
	return &qdrant.UpdateResult{}, nil
}

func (f *fakePoints) Query(ctx context.Context, req *qdrant.QueryPoints) ([]*qdrant.ScoredPoint, error) {
	f.lastQuery = req
	return f.queryResult, f.queryErr
}

func (f *fakePoints) Close() error { return nil }

type fakeLoader struct {
	messages map[string]*types.Message
}

func (l *fakeLoader) GetMessages(ctx context.Context, ids []string) ([]*types.Message, error) {
	out := make([]*types.Message, 0, len(ids))
	for _, id := range ids {
		if m, ok := l.messages[id]; ok {
			out = append(out, m)
		}
	}
	return out, nil
}

func scoredPoint(messageID string, score float32) *qdrant.ScoredPoint {
	return &qdrant.ScoredPoint{
		Id:      qdrant.NewID(PointID(messageID)),
		Score:   score,
		Payload: qdrant.NewValueMap(map[string]any{payloadMessageID: messageID}),
	}
}

func testLoader() *fakeLoader {
	return &fakeLoader{messages: map[string]*types.Message{
		"<a@x>": {ID: "<a@x>", AuthorName: "Jane Doe"},
		"<b@x>": {ID: "<b@x>", AuthorName: "John Smith"},
	}}
}

func TestPointID_Stable(t *testing.T) {
	assert.Equal(t, PointID("<a@x>"), PointID("<a@x>"))
	assert.NotEqual(t, PointID("<a@x>"), PointID("<b@x>"))
	assert.Len(t, PointID("<a@x>"), 36)
}

func TestUpsert_CreatesCollectionOnce(t *testing.T) {
	fake := &fakePoints{}
	q := newQdrant(fake, "messages", testLoader())
	ctx := context.Background()

	msg := &types.Message{ID: "<a@x>", ThreadRootID: "<a@x>", AuthorName: "Jane Doe", SentAt: time.Unix(1700000000, 0)}
	require.NoError(t, q.Upsert(ctx, []Point{{Message: msg, Vector: []float32{1, 0, 0}}}))
	require.NoError(t, q.Upsert(ctx, []Point{{Message: msg, Vector: []float32{0, 1, 0}}}))

	require.Len(t, fake.created, 1)
	assert.Equal(t, uint64(3), fake.created[0].GetVectorsConfig().GetParams().GetSize())
	require.Len(t, fake.upserts, 2)

	point := fake.upserts[0].Points[0]
	assert.Equal(t, PointID("<a@x>"), point.GetId().GetUuid())
	assert.Equal(t, "<a@x>", point.Payload[payloadMessageID].GetStringValue())
	assert.Equal(t, "jane doe", point.Payload[payloadAuthor].GetStringValue())
	assert.Equal(t, int64(1700000000), point.Payload[payloadSentAt].GetIntegerValue())

	assert.NoError(t, q.Upsert(ctx, nil))
}

func TestSearchVector_HydratesInScoreOrder(t *testing.T) {
	fake := &fakePoints{exists: true, queryResult: []*qdrant.ScoredPoint{
		scoredPoint("<b@x>", 0.9),
		scoredPoint("<a@x>", 0.5),
		scoredPoint("<gone@x>", 0.4),
	}}
	q := newQdrant(fake, "messages", testLoader())

	results, err := q.SearchVector(context.Background(), []float32{1, 0}, 0.25, 15, nil)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "<b@x>", results[0].Message.ID)
	assert.InDelta(t, 0.9, results[0].Similarity, 1e-6)
	assert.Equal(t, "<a@x>", results[1].Message.ID)

	assert.Equal(t, uint64(15), fake.lastQuery.GetLimit())
	assert.InDelta(t, 0.25, fake.lastQuery.GetScoreThreshold(), 1e-6)
	assert.Nil(t, fake.lastQuery.Filter)
}

func TestSearchVector_Filters(t *testing.T) {
	fake := &fakePoints{exists: true, queryResult: []*qdrant.ScoredPoint{
		scoredPoint("<b@x>", 0.9),
		scoredPoint("<a@x>", 0.5),
	}}
	q := newQdrant(fake, "messages", testLoader())
	from := time.Unix(1700000000, 0)

	results, err := q.SearchVector(context.Background(), []float32{1, 0}, 0.1, 5, &storage.SearchFilters{
		DateFrom:   &from,
		Author:     "JANE",
		MessageIDs: []string{"<a@x>", "<b@x>"},
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "<a@x>", results[0].Message.ID)

	assert.Equal(t, uint64(5*authorOverfetch), fake.lastQuery.GetLimit())
	require.NotNil(t, fake.lastQuery.Filter)
	assert.Len(t, fake.lastQuery.Filter.Must, 2)
}

func TestSearchVector_EmptyInputs(t *testing.T) {
	fake := &fakePoints{exists: true}
	q := newQdrant(fake, "messages", testLoader())
	ctx := context.Background()

	results, err := q.SearchVector(ctx, nil, 0.1, 5, nil)
	require.NoError(t, err)
	assert.Empty(t, results)

	results, err = q.SearchVector(ctx, []float32{1}, 0.1, 5, &storage.SearchFilters{MessageIDs: []string{}})
	require.NoError(t, err)
	assert.Empty(t, results)
	assert.Nil(t, fake.lastQuery, "no query for an empty ID restriction")
}

func TestSearchVector_Error(t *testing.T) {
	fake := &fakePoints{exists: true, queryErr: errors.New("unavailable")}
	q := newQdrant(fake, "messages", testLoader())

	_, err := q.SearchVector(context.Background(), []float32{1}, 0.1, 5, nil)
	assert.Error(t, err)
}

type fakeArchive struct{ textCalls int }

func (a *fakeArchive) SearchText(ctx context.Context, query string, limit, offset int, filters *storage.SearchFilters) ([]storage.TextResult, error) {
	a.textCalls++
	return nil, nil
}

func (a *fakeArchive) MessagesInThread(ctx context.Context, rootID string) ([]*types.Message, error) {
	return nil, nil
}

func TestOverlay_RoutesVectorSearch(t *testing.T) {
	fake := &fakePoints{exists: true, queryResult: []*qdrant.ScoredPoint{scoredPoint("<a@x>", 0.7)}}
	archive := &fakeArchive{}
	o := NewOverlay(archive, newQdrant(fake, "messages", testLoader()))

	results, err := o.SearchVector(context.Background(), []float32{1}, 0.1, 5, nil)
	require.NoError(t, err)
	require.Len(t, results, 1)

	_, err = o.SearchText(context.Background(), "query", 15, 0, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, archive.textCalls)
}
