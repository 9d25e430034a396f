package cache

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestMemory(t *testing.T) *Memory {
	t.Helper()
	m, err := NewMemory(Config{Size: 10})
	require.NoError(t, err)
	return m
}

func TestMemory_SetGet(t *testing.T) {
	m := newTestMemory(t)
	ctx := context.Background()

	_, ok, err := m.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	value := []byte("cached answer")
	require.NoError(t, m.Set(ctx, "k", value, 0))
	value[0] = 'X'

	got, ok, err := m.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "cached answer", string(got))

	got[0] = 'Y'
	again, _, _ := m.Get(ctx, "k")
	assert.Equal(t, "cached answer", string(again))
}

func TestMemory_Expiry(t *testing.T) {
	m := newTestMemory(t)
	ctx := context.Background()
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }

	require.NoError(t, m.Set(ctx, "k", []byte("v"), time.Minute))

	now = now.Add(59 * time.Second)
	_, ok, _ := m.Get(ctx, "k")
	assert.True(t, ok)

	now = now.Add(time.Second)
	_, ok, _ = m.Get(ctx, "k")
	assert.False(t, ok)
	assert.Equal(t, 0, m.Len())
}

func TestMemory_Eviction(t *testing.T) {
	m := newTestMemory(t)
	ctx := context.Background()
	for i := 0; i < 15; i++ {
		require.NoError(t, m.Set(ctx, string(rune('a'+i)), []byte("v"), 0))
	}
	assert.Equal(t, 10, m.Len())
	_, ok, _ := m.Get(ctx, "a")
	assert.False(t, ok)
}

func TestMemory_IncrConcurrent(t *testing.T) {
	m := newTestMemory(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := m.Incr(ctx, "window")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	n, err := m.Incr(ctx, "window")
	require.NoError(t, err)
	assert.Equal(t, int64(51), n)

	n, err = m.Incr(ctx, "other")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestMemory_Closed(t *testing.T) {
	m := newTestMemory(t)
	require.NoError(t, m.Close())

	_, _, err := m.Get(context.Background(), "k")
	assert.ErrorIs(t, err, ErrClosed)
	_, err = m.Incr(context.Background(), "k")
	assert.ErrorIs(t, err, ErrClosed)
}

func TestMemory_CanceledContext(t *testing.T) {
	m := newTestMemory(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := m.Set(ctx, "k", []byte("v"), 0)
	assert.ErrorIs(t, err, context.Canceled)
}
