package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/threadqa-mcp/internal/cache"
)

type failingStore struct{ incrCalls int }

func (f *failingStore) Get(context.Context, string) ([]byte, bool, error) {
	return nil, false, errors.New("down")
}
func (f *failingStore) Set(context.Context, string, []byte, time.Duration) error {
	return errors.New("down")
}
func (f *failingStore) Incr(context.Context, string) (int64, error) {
	f.incrCalls++
	return 0, errors.New("down")
}

func newStore(t *testing.T) *cache.Memory {
	t.Helper()
	m, err := cache.NewMemory(cache.Config{})
	require.NoError(t, err)
	return m
}

func TestWindow_LimitsPerKey(t *testing.T) {
	w := NewWindow(newStore(t), 3)
	now := time.Date(2024, 3, 1, 12, 0, 10, 0, time.UTC)
	w.now = func() time.Time { return now }
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		d := w.Allow(ctx, "1.2.3.4")
		require.True(t, d.Allowed, "request %d", i)
		assert.Equal(t, 2-i, d.Remaining)
	}

	d := w.Allow(ctx, "1.2.3.4")
	assert.False(t, d.Allowed)
	assert.Equal(t, 50*time.Second, d.RetryAfter)

	assert.True(t, w.Allow(ctx, "5.6.7.8").Allowed, "other clients are independent")

	now = now.Add(time.Minute)
	assert.True(t, w.Allow(ctx, "1.2.3.4").Allowed, "next window resets")
}

func TestWindow_FailsOpen(t *testing.T) {
	store := &failingStore{}
	w := NewWindow(store, 1)

	for i := 0; i < 5; i++ {
		assert.True(t, w.Allow(context.Background(), "k").Allowed)
	}
	assert.Equal(t, 5, store.incrCalls)
}

func TestTokenBucket(t *testing.T) {
	tb := NewTokenBucket(2)
	ctx := context.Background()

	assert.True(t, tb.Allow(ctx, "k").Allowed)
	assert.True(t, tb.Allow(ctx, "k").Allowed)

	d := tb.Allow(ctx, "k")
	assert.False(t, d.Allowed)
	assert.Greater(t, d.RetryAfter, time.Duration(0))

	assert.True(t, tb.Allow(ctx, "other").Allowed)
}

func TestNew(t *testing.T) {
	l, err := New(BackendWindow, 10, newStore(t))
	require.NoError(t, err)
	assert.IsType(t, &Window{}, l)

	l, err = New(BackendToken, 10, nil)
	require.NoError(t, err)
	assert.IsType(t, &TokenBucket{}, l)

	_, err = New(BackendWindow, 10, nil)
	assert.Error(t, err)

	_, err = New("bogus", 10, nil)
	assert.Error(t, err)
}
