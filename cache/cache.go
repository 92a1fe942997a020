// Package cache memoizes expensive reads for a TTL and collapses
// concurrent identical requests into one fetch.
package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

type entry[V any] struct {
	value   V
	fetched time.Time
}

// Cache is a TTL cache with single-flight fetches. The zero value is not
// usable; create one with New.
type Cache[K comparable, V any] struct {
	mu      sync.RWMutex
	entries map[K]entry[V]
	epoch   uint64 // bumped by every invalidation
	ttl     time.Duration
	now     func() time.Time
	group   singleflight.Group
}

// New creates a cache whose entries expire after ttl. A ttl <= 0 keeps
// entries until they are invalidated.
func New[K comparable, V any](ttl time.Duration) *Cache[K, V] {
	return &Cache[K, V]{entries: make(map[K]entry[V]), ttl: ttl, now: time.Now}
}

func (c *Cache[K, V]) fresh(e entry[V]) bool {
	return c.ttl <= 0 || c.now().Sub(e.fetched) < c.ttl
}

// Peek returns a cached value without fetching.
func (c *Cache[K, V]) Peek(key K) (V, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[key]
	if !ok || !c.fresh(e) {
		var zero V
		return zero, false
	}
	return e.value, true
}

// Get returns the cached value for key or calls fetch. Concurrent callers
// for the same key share one fetch and its result. The fetch runs detached
// from any single caller's cancellation; a caller whose ctx ends stops
// waiting and gets ctx.Err().
func (c *Cache[K, V]) Get(ctx context.Context, key K, fetch func(ctx context.Context) (V, error)) (V, error) {
	if v, ok := c.Peek(key); ok {
		return v, nil
	}

	c.mu.RLock()
	epoch := c.epoch
	c.mu.RUnlock()

	fetchCtx := context.WithoutCancel(ctx)
	ch := c.group.DoChan(flightKey(epoch, key), func() (any, error) {
		v, err := fetch(fetchCtx)
		if err != nil {
			return v, err
		}
		c.mu.Lock()
		// A fetch that raced an invalidation may hold stale data.
		if c.epoch == epoch {
			c.entries[key] = entry[V]{value: v, fetched: c.now()}
		}
		c.mu.Unlock()
		return v, nil
	})

	select {
	case <-ctx.Done():
		var zero V
		return zero, ctx.Err()
	case res := <-ch:
		v, _ := res.Val.(V)
		return v, res.Err
	}
}

// Invalidate drops key. A fetch already in flight for key is not joined by
// later callers and does not repopulate the cache.
func (c *Cache[K, V]) Invalidate(key K) {
	c.mu.Lock()
	delete(c.entries, key)
	c.epoch++
	c.mu.Unlock()
}

// InvalidateAll drops every entry.
func (c *Cache[K, V]) InvalidateAll() {
	c.mu.Lock()
	c.entries = make(map[K]entry[V])
	c.epoch++
	c.mu.Unlock()
}

// Len reports the number of cached entries, fresh or not.
func (c *Cache[K, V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// flightKey scopes in-flight fetches to an invalidation epoch so callers
// arriving after an invalidation start a fresh fetch.
func flightKey[K comparable](epoch uint64, k K) string {
	return fmt.Sprintf("%d|%v", epoch, k)
}
