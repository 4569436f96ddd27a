// Package cache provides the tiered caches backing the scoring
// pipeline: serialized model artifacts, reference tables, and batch
// sequence counters.
package cache

import (
	"container/list"
	"context"
	"fmt"
	"sync"
	"time"
)

// LRUCache is a thread-safe LRU cache with per-entry TTL. It is the
// community-tier cache and the L1 of the two-phase pro-tier cache.
// Model artifacts dominate its contents, so the default capacity is
// sized for artifact documents rather than small reference rows.
type LRUCache struct {
	mu       sync.RWMutex
	maxSize  int
	items    map[string]*list.Element
	order    *list.List // front = most recently used
	counters map[string]*counterEntry
}

type lruEntry struct {
	key       string
	value     []byte
	expiresAt time.Time
}

type counterEntry struct {
	count     int64
	expiresAt time.Time // zero = never expires
}

// NewLRUCache creates a cache holding at most maxSize entries.
func NewLRUCache(maxSize int) *LRUCache {
	if maxSize <= 0 {
		maxSize = 10000
	}
	return &LRUCache{
		maxSize:  maxSize,
		items:    make(map[string]*list.Element),
		order:    list.New(),
		counters: make(map[string]*counterEntry),
	}
}

func tenantKey(tenantID, key string) string {
	return tenantID + ":" + key
}

// Get returns the value for the tenant's key, nil if absent or expired.
func (c *LRUCache) Get(ctx context.Context, tenantID string, key string) ([]byte, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("tenantID is required")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[tenantKey(tenantID, key)]
	if !ok {
		return nil, nil
	}
	entry := elem.Value.(*lruEntry)
	if time.Now().After(entry.expiresAt) {
		c.evict(elem)
		return nil, nil
	}
	c.order.MoveToFront(elem)
	return entry.value, nil
}

// Set stores the value under the tenant's key with the given TTL,
// evicting least-recently-used entries when over capacity.
func (c *LRUCache) Set(ctx context.Context, tenantID string, key string, value []byte, ttl time.Duration) error {
	if tenantID == "" {
		return fmt.Errorf("tenantID is required")
	}
	fullKey := tenantKey(tenantID, key)

	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[fullKey]; ok {
		entry := elem.Value.(*lruEntry)
		entry.value = value
		entry.expiresAt = time.Now().Add(ttl)
		c.order.MoveToFront(elem)
		return nil
	}

	c.items[fullKey] = c.order.PushFront(&lruEntry{
		key:       fullKey,
		value:     value,
		expiresAt: time.Now().Add(ttl),
	})
	for c.order.Len() > c.maxSize {
		if oldest := c.order.Back(); oldest != nil {
			c.evict(oldest)
		}
	}
	return nil
}

// Delete removes the tenant's key if present.
func (c *LRUCache) Delete(ctx context.Context, tenantID string, key string) error {
	if tenantID == "" {
		return fmt.Errorf("tenantID is required")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if elem, ok := c.items[tenantKey(tenantID, key)]; ok {
		c.evict(elem)
	}
	return nil
}

// GetArtifact retrieves cached model artifact bytes for a rule.
func (c *LRUCache) GetArtifact(ctx context.Context, tenantID string, rule string) ([]byte, error) {
	return c.Get(ctx, tenantID, artifactKey(rule))
}

// SetArtifact caches model artifact bytes for a rule.
func (c *LRUCache) SetArtifact(ctx context.Context, tenantID string, rule string, data []byte, ttl time.Duration) error {
	return c.Set(ctx, tenantID, artifactKey(rule), data, ttl)
}

// IncrementCounter atomically increments a counter. A non-positive
// window makes the counter persistent for the process lifetime, which
// is how batch sequence numbers are issued on the community tier.
func (c *LRUCache) IncrementCounter(ctx context.Context, tenantID string, key string, window time.Duration) (int64, error) {
	if tenantID == "" {
		return 0, fmt.Errorf("tenantID is required")
	}
	fullKey := tenantKey(tenantID, "counter:"+key)

	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	entry, ok := c.counters[fullKey]
	expired := ok && !entry.expiresAt.IsZero() && now.After(entry.expiresAt)

	if !ok || expired {
		entry = &counterEntry{count: 1}
		if window > 0 {
			entry.expiresAt = now.Add(window)
		}
		c.counters[fullKey] = entry
		return 1, nil
	}

	entry.count++
	return entry.count, nil
}

// Ping always succeeds for the in-process cache.
func (c *LRUCache) Ping(ctx context.Context) error {
	return nil
}

// Close drops all entries.
func (c *LRUCache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[string]*list.Element)
	c.order = list.New()
	c.counters = make(map[string]*counterEntry)
	return nil
}

// Stats reports occupancy against capacity.
func (c *LRUCache) Stats() (size int, capacity int) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.order.Len(), c.maxSize
}

// evict removes an element; callers hold the write lock.
func (c *LRUCache) evict(elem *list.Element) {
	c.order.Remove(elem)
	delete(c.items, elem.Value.(*lruEntry).key)
}
