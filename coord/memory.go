package coord

import (
	"context"
	"sync"
	"time"
)

// Memory is an in-process Cache. It backs tests and single-worker runs; a
// multi-worker deployment must use the NATS-backed cache instead.
type Memory struct {
	mu  sync.Mutex
	m   map[string]memEntry
	rev uint64
	now func() time.Time
}

type memEntry struct {
	value   []byte
	rev     uint64
	expires time.Time // zero: never
}

// NewMemory returns an empty in-process cache.
func NewMemory() *Memory {
	return &Memory{m: make(map[string]memEntry), now: time.Now}
}

// SetClock pins the cache's clock; tests use this to exercise expiry.
func (c *Memory) SetClock(now func() time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}

// live returns the entry for key if present and unexpired. Callers hold mu.
func (c *Memory) live(key string) (memEntry, bool) {
	e, ok := c.m[key]
	if !ok {
		return memEntry{}, false
	}
	if !e.expires.IsZero() && !c.now().Before(e.expires) {
		delete(c.m, key)
		return memEntry{}, false
	}
	return e, true
}

func (c *Memory) store(key string, value []byte, ttl time.Duration) uint64 {
	c.rev++
	e := memEntry{value: append([]byte(nil), value...), rev: c.rev}
	if ttl > 0 {
		e.expires = c.now().Add(ttl)
	}
	c.m[key] = e
	return c.rev
}

func (c *Memory) Get(_ context.Context, key string) (Entry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.live(key)
	if !ok {
		return Entry{}, ErrKeyNotFound
	}
	return Entry{Value: append([]byte(nil), e.value...), Revision: e.rev}, nil
}

func (c *Memory) Put(_ context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.store(key, value, ttl)
	return nil
}

func (c *Memory) Create(_ context.Context, key string, value []byte, ttl time.Duration) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.live(key); ok {
		return 0, ErrKeyExists
	}
	return c.store(key, value, ttl), nil
}

func (c *Memory) Update(_ context.Context, key string, value []byte, rev uint64, ttl time.Duration) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.live(key)
	if !ok {
		return 0, ErrKeyNotFound
	}
	if e.rev != rev {
		return 0, ErrRevisionMismatch
	}
	return c.store(key, value, ttl), nil
}

func (c *Memory) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.m, key)
	return nil
}
