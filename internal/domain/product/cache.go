package product

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/go-faster/errors"
)

// NopCache never stores anything.
type NopCache struct{}

func (NopCache) Fetch(context.Context, string, any) (int64, bool, error) { return 0, false, nil }
func (NopCache) Store(context.Context, int64, string, any) error { return nil }
func (NopCache) Invalidate(context.Context) error { return nil }

type memEntry struct {
	data      []byte
	expiresAt time.Time
}

// MemoryCache is a process-local TTL cache. Values are stored as JSON so
// callers never share mutable state with the cache. Expired entries are
// swept by Store at most once per TTL.
type MemoryCache struct {
	ttl time.Duration
	now func() time.Time

	mu        sync.Mutex
	gen       int64
	nextSweep time.Time
	entries   map[string]memEntry
}

// NewMemoryCache creates a MemoryCache whose entries live for ttl.
func NewMemoryCache(ttl time.Duration) *MemoryCache {
	return &MemoryCache{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]memEntry),
	}
}

// Fetch implements Cache.
func (c *MemoryCache) Fetch(_ context.Context, key string, dst any) (int64, bool, error) {
	c.mu.Lock()
	gen := c.gen
	e, ok := c.entries[key]
	if ok && !c.now().Before(e.expiresAt) {
		delete(c.entries, key)
		ok = false
	}
	c.mu.Unlock()
	if !ok {
		return gen, false, nil
	}
	if err := json.Unmarshal(e.data, dst); err != nil {
		return gen, false, errors.Wrapf(err, "decode %s", key)
	}
	return gen, true, nil
}

// Store implements Cache. Values loaded under an older generation are dropped.
func (c *MemoryCache) Store(_ context.Context, gen int64, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return errors.Wrapf(err, "encode %s", key)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen {
		return nil
	}
	now := c.now()
	if !now.Before(c.nextSweep) {
		c.sweep(now)
	}
	c.entries[key] = memEntry{data: data, expiresAt: now.Add(c.ttl)}
	return nil
}

func (c *MemoryCache) sweep(now time.Time) {
	for k, e := range c.entries {
		if !now.Before(e.expiresAt) {
			delete(c.entries, k)
		}
	}
	c.nextSweep = now.Add(c.ttl)
}

// Len returns the number of stored entries, expired ones included.
func (c *MemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Invalidate implements Cache.
func (c *MemoryCache) Invalidate(context.Context) error {
	c.mu.Lock()
	c.gen++
	clear(c.entries)
	c.mu.Unlock()
	return nil
}
