// Package cache implements the process-wide response cache: a TTL store
// with at-most-one-generation-per-key coalescing. Unrelated keys never
// serialize on each other.
package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/askmill/askmill/internal/core"
)

type entry struct {
	result    core.RAGResult
	expiresAt time.Time
}

// Stats is a point-in-time snapshot of cache behavior.
type Stats struct {
	Hits      int64 `json:"hits"`
	Misses    int64 `json:"misses"`
	Coalesced int64 `json:"coalesced"`
}

type ResponseCache struct {
	mu      sync.RWMutex
	entries map[string]entry
	ttl     time.Duration
	group   singleflight.Group
	now     func() time.Time

	hits      atomic.Int64
	misses    atomic.Int64
	coalesced atomic.Int64
}

var _ core.ResponseCache = (*ResponseCache)(nil)

func New(ttl time.Duration) *ResponseCache {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &ResponseCache{
		entries: make(map[string]entry),
		ttl:     ttl,
		now:     time.Now,
	}
}

// Get is a plain lookup. Expired entries behave as misses and are lazily
// dropped.
func (c *ResponseCache) Get(key string) (core.RAGResult, bool) {
	c.mu.RLock()
	ent, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok {
		return core.RAGResult{}, false
	}
	if c.now().After(ent.expiresAt) {
		c.mu.Lock()
		// Re-check under the write lock; another writer may have refreshed it.
		if ent2, ok2 := c.entries[key]; ok2 && c.now().After(ent2.expiresAt) {
			delete(c.entries, key)
		}
		c.mu.Unlock()
		return core.RAGResult{}, false
	}
	return ent.result, true
}

// Put stores a result produced outside GetOrGenerate (the streaming path).
func (c *ResponseCache) Put(key string, result core.RAGResult) {
	c.mu.Lock()
	c.entries[key] = entry{result: result, expiresAt: c.now().Add(c.ttl)}
	c.mu.Unlock()
}

// GetOrGenerate returns the cached result for key or runs generate exactly
// once across all concurrent callers of the key. Waiters share the result
// or the error; a failed generation stores nothing, so the key is released
// for the next caller.
func (c *ResponseCache) GetOrGenerate(ctx context.Context, key string, generate func(ctx context.Context) (core.RAGResult, error)) (core.RAGResult, bool, error) {
	if result, ok := c.Get(key); ok {
		c.hits.Add(1)
		return result, true, nil
	}

	v, err, shared := c.group.Do(key, func() (any, error) {
		// A generation may have finished between the lookup and joining
		// the flight.
		if result, ok := c.Get(key); ok {
			return result, nil
		}
		result, err := generate(ctx)
		if err != nil {
			return nil, err
		}
		c.Put(key, result)
		return result, nil
	})
	if err != nil {
		return core.RAGResult{}, false, err
	}

	if shared {
		c.coalesced.Add(1)
	} else {
		c.misses.Add(1)
	}
	return v.(core.RAGResult), shared, nil
}

func (c *ResponseCache) Stats() Stats {
	return Stats{
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Coalesced: c.coalesced.Load(),
	}
}
