// Package ratelimit limits requests per client.
//
// Two backends exist. The window backend counts requests per fixed minute
// using the cache's atomic Incr and fails open when the cache errors. The
// token backend keeps one golang.org/x/time/rate bucket per client.
package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/dshills/threadqa-mcp/internal/cache"
)

// Backend names accepted by RATE_LIMIT_BACKEND
const (
	BackendWindow = "window"
	BackendToken  = "token"
)

// DefaultPerMinute is the default request budget per client
const DefaultPerMinute = 20

// Decision is the outcome of one Allow call
type Decision struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration // Zero when allowed
}

// Limiter decides whether a client may make another request
type Limiter interface {
	Allow(ctx context.Context, key string) Decision
}

// New builds the limiter for a backend name
func New(backend string, perMinute int, store cache.Store) (Limiter, error) {
	switch backend {
	case BackendWindow, "":
		if store == nil {
			return nil, fmt.Errorf("ratelimit: window backend needs a cache store")
		}
		return NewWindow(store, perMinute), nil
	case BackendToken:
		return NewTokenBucket(perMinute), nil
	default:
		return nil, fmt.Errorf("ratelimit: unknown backend %q", backend)
	}
}

// Window is a fixed one-minute window counter kept in a cache.Store
type Window struct {
	store  cache.Store
	limit  int
	window time.Duration
	now    func() time.Time
}

// NewWindow creates a fixed-window limiter allowing perMinute requests per key
func NewWindow(store cache.Store, perMinute int) *Window {
	if perMinute <= 0 {
		perMinute = DefaultPerMinute
	}
	return &Window{
		store:  store,
		limit:  perMinute,
		window: time.Minute,
		now:    time.Now,
	}
}

// Allow counts the request in the current window. A cache failure allows the request.
func (w *Window) Allow(ctx context.Context, key string) Decision {
	now := w.now()
	bucket := now.UnixNano() / int64(w.window)
	count, err := w.store.Incr(ctx, "ratelimit:"+key+":"+strconv.FormatInt(bucket, 10))
	if err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Str("client", key).Msg("rate_limit_cache_failed")
		return Decision{Allowed: true, Remaining: w.limit}
	}

	if count > int64(w.limit) {
		windowEnd := time.Unix(0, (bucket+1)*int64(w.window))
		return Decision{Allowed: false, RetryAfter: windowEnd.Sub(now)}
	}
	return Decision{Allowed: true, Remaining: w.limit - int(count)}
}

// TokenBucket keeps an independent token bucket per key.
// Idle buckets are evicted after ten minutes.
type TokenBucket struct {
	mu       sync.Mutex
	limiters *expirable.LRU[string, *rate.Limiter]
	rps      rate.Limit
	burst    int
}

// NewTokenBucket refills perMinute tokens per minute with a burst of perMinute
func NewTokenBucket(perMinute int) *TokenBucket {
	if perMinute <= 0 {
		perMinute = DefaultPerMinute
	}
	return &TokenBucket{
		limiters: expirable.NewLRU[string, *rate.Limiter](100000, nil, 10*time.Minute),
		rps:      rate.Limit(float64(perMinute) / 60),
		burst:    perMinute,
	}
}

func (t *TokenBucket) get(key string) *rate.Limiter {
	t.mu.Lock()
	defer t.mu.Unlock()
	if l, ok := t.limiters.Get(key); ok {
		// Re-adding refreshes the idle timer
		t.limiters.Add(key, l)
		return l
	}
	l := rate.NewLimiter(t.rps, t.burst)
	t.limiters.Add(key, l)
	return l
}

// Allow takes one token for key without blocking
func (t *TokenBucket) Allow(ctx context.Context, key string) Decision {
	l := t.get(key)
	r := l.Reserve()
	if !r.OK() {
		return Decision{Allowed: false, RetryAfter: time.Minute}
	}
	if delay := r.Delay(); delay > 0 {
		r.Cancel()
		return Decision{Allowed: false, RetryAfter: delay}
	}
	return Decision{Allowed: true, Remaining: int(l.Tokens())}
}
