package crawler

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/threadqa-mcp/pkg/types"
)

type mockLoader struct {
	messages map[string]*types.Message
	asked    []string
	err      error
}

func (m *mockLoader) GetMessages(_ context.Context, ids []string) ([]*types.Message, error) {
	m.asked = append(m.asked, ids...)
	if m.err != nil {
		return nil, m.err
	}
	var out []*types.Message
	for _, id := range ids {
		if msg, ok := m.messages[id]; ok {
			out = append(out, msg)
		}
	}
	return out, nil
}

func TestResolveThreads_JoinsStoredThread(t *testing.T) {
	stored := &types.Message{ID: "<b>", ParentID: "<a>", ThreadRootID: "<a>", ThreadDepth: 1}
	loader := &mockLoader{messages: map[string]*types.Message{"<b>": stored}}

	reply := &types.Message{ID: "<c>", ParentID: "<b>"}
	nested := &types.Message{ID: "<d>", ParentID: "<c>"}
	orphan := &types.Message{ID: "<e>", ParentID: "<gone>"}
	fresh := &types.Message{ID: "<f>"}

	require.NoError(t, ResolveThreads(context.Background(), []*types.Message{nested, reply, orphan, fresh}, loader))

	assert.ElementsMatch(t, []string{"<b>", "<gone>"}, loader.asked)

	assert.Equal(t, "<a>", reply.ThreadRootID)
	assert.Equal(t, 2, reply.ThreadDepth)
	assert.Equal(t, "<a>", nested.ThreadRootID)
	assert.Equal(t, 3, nested.ThreadDepth)
	assert.Equal(t, "<e>", orphan.ThreadRootID)
	assert.Equal(t, 0, orphan.ThreadDepth)
	assert.Equal(t, "<f>", fresh.ThreadRootID)

	assert.Equal(t, 1, stored.ThreadDepth)
}

func TestResolveThreads_WithinBatch(t *testing.T) {
	root := &types.Message{ID: "<a>"}
	reply := &types.Message{ID: "<b>", ParentID: "<a>"}
	loader := &mockLoader{}

	require.NoError(t, ResolveThreads(context.Background(), []*types.Message{reply, root}, loader))
	assert.Empty(t, loader.asked)
	assert.Equal(t, "<a>", reply.ThreadRootID)
	assert.Equal(t, 1, reply.ThreadDepth)
}

func TestResolveThreads_LoaderError(t *testing.T) {
	loader := &mockLoader{err: errors.New("database closed")}
	err := ResolveThreads(context.Background(), []*types.Message{{ID: "<b>", ParentID: "<a>"}}, loader)
	assert.ErrorContains(t, err, "database closed")
}
