// Package cache provides the in-process response cache and the atomic
// counters behind the fixed-window rate limiter.
package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/hashicorp/golang-lru/v2/expirable"
)

const (
	// DefaultSize is the maximum number of cached responses
	DefaultSize = 1000
	// DefaultTTL is how long a response stays cached
	DefaultTTL = time.Hour
	// DefaultCounterTTL is how long an idle counter is kept
	DefaultCounterTTL = 2 * time.Minute
	// maxCounters bounds the number of live rate-limit windows
	maxCounters = 100000
)

// ErrClosed is returned after Close
var ErrClosed = errors.New("cache: closed")

// Store is the cache contract used by the pipeline and the rate limiter.
// Implementations must be safe for concurrent use.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Incr atomically increments key and returns the new value
	Incr(ctx context.Context, key string) (int64, error)
}

// entry is a cached value with its own expiry
type entry struct {
	value     []byte
	expiresAt time.Time
}

// Memory is an LRU-bounded Store living in process memory
type Memory struct {
	values   *lru.Cache[string, *entry]
	counters *expirable.LRU[string, int64]
	ttl      time.Duration

	mu     sync.Mutex // Serializes Incr
	closed bool
	now    func() time.Time
}

// Config sizes a Memory store
type Config struct {
	Size       int
	TTL        time.Duration // Default TTL for Set calls with ttl <= 0
	CounterTTL time.Duration
}

// NewMemory creates an in-memory store; zero fields take defaults
func NewMemory(cfg Config) (*Memory, error) {
	if cfg.Size <= 0 {
		cfg.Size = DefaultSize
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.CounterTTL <= 0 {
		cfg.CounterTTL = DefaultCounterTTL
	}

	values, err := lru.New[string, *entry](cfg.Size)
	if err != nil {
		return nil, fmt.Errorf("failed to create response cache: %w", err)
	}

	return &Memory{
		values:   values,
		counters: expirable.NewLRU[string, int64](maxCounters, nil, cfg.CounterTTL),
		ttl:      cfg.TTL,
		now:      time.Now,
	}, nil
}

// Get returns a copy of the value for key, if present and not expired
func (m *Memory) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if err := m.check(ctx); err != nil {
		return nil, false, err
	}

	e, ok := m.values.Get(key)
	if !ok {
		return nil, false, nil
	}
	if !m.now().Before(e.expiresAt) {
		m.values.Remove(key)
		return nil, false, nil
	}

	out := make([]byte, len(e.value))
	copy(out, e.value)
	return out, true, nil
}

// Set stores a copy of value; ttl <= 0 uses the configured default
func (m *Memory) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := m.check(ctx); err != nil {
		return err
	}
	if ttl <= 0 {
		ttl = m.ttl
	}

	stored := make([]byte, len(value))
	copy(stored, value)
	m.values.Add(key, &entry{value: stored, expiresAt: m.now().Add(ttl)})
	return nil
}

// Incr atomically increments key, starting from zero
func (m *Memory) Incr(ctx context.Context, key string) (int64, error) {
	if err := m.check(ctx); err != nil {
		return 0, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	n, _ := m.counters.Get(key)
	n++
	m.counters.Add(key, n)
	return n, nil
}

// Len returns the number of cached responses, expired ones included
func (m *Memory) Len() int {
	return m.values.Len()
}

// Purge drops every cached response. Counters are kept.
func (m *Memory) Purge() {
	m.values.Purge()
}

// Close releases the store. Later calls fail with ErrClosed.
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.values.Purge()
	m.counters.Purge()
	return nil
}

func (m *Memory) check(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	closed := m.closed
	m.mu.Unlock()
	if closed {
		return ErrClosed
	}
	return nil
}
