// Package cache implements the bounded, TTL-expiring LRU map used as the
// substrate for endpoint health caching and adapter-level memoization
// (spec.md §4.1). It follows the teacher SDK's house style of a small,
// single-purpose struct with an explicit constructor and plain Go fields
// rather than a generic "cache library" — container/list backs the access
// order, the same approach used for the pack's own LRU experiments
// (zJUNAIDz go-concurrency/cache).
//
// Concurrency: a Cache is not safe for concurrent use. Callers sharing a
// Cache across goroutines must provide their own mutual exclusion; no
// correctness requirement in this package depends on a background timer or
// internal lock (spec.md §4.1, "Concurrency").
package cache

import (
	"container/list"
	"time"

	"github.com/cygnus-wealth/sol-transport/obsmetrics"
)

// EvictionCallback is invoked when an entry leaves the cache because it was
// the least-recently-used victim of a Set, or because of an explicit Delete.
type EvictionCallback[V any] func(key string, value V)

// ExpirationCallback is invoked when a Get or Has discovers that an entry's
// TTL has already elapsed.
type ExpirationCallback[V any] func(key string, value V)

// Config configures a Cache at construction time.
type Config[V any] struct {
	MaxEntries        int
	DefaultExpiration time.Duration
	OnEvict           EvictionCallback[V]
	OnExpire          ExpirationCallback[V]

	// Now, if set, replaces time.Now for the life of the cache. Tests use
	// this to advance logical time deterministically (spec.md §8 scenario 2).
	Now func() time.Time

	// Metrics, if set, mirrors every hit/miss into the shared Prometheus
	// registry alongside the cache's own Stats() counters.
	Metrics *obsmetrics.Registry
}

type entry[V any] struct {
	key         string
	value       V
	expiresAt   time.Time
	lastAccess  time.Time
	accessCount uint64
	elem        *list.Element
}

// Stats reports the cumulative counters described in spec.md §4.1.
type Stats struct {
	Size              int
	MaxEntries        int
	Hits              uint64
	Misses            uint64
	Evictions         uint64
	Expirations       uint64
	HitRate           float64
	AverageAccessCount float64
}

// Cache is a bounded, least-recently-used map with per-entry expiration.
type Cache[V any] struct {
	maxEntries int
	defaultTTL time.Duration
	onEvict    EvictionCallback[V]
	onExpire   ExpirationCallback[V]
	now        func() time.Time
	metrics    *obsmetrics.Registry

	order   *list.List // front = most recently used
	entries map[string]*entry[V]

	hits, misses, evictions, expirations uint64
}

func New[V any](cfg Config[V]) *Cache[V] {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Cache[V]{
		maxEntries: cfg.MaxEntries,
		defaultTTL: cfg.DefaultExpiration,
		onEvict:    cfg.OnEvict,
		onExpire:   cfg.OnExpire,
		now:        now,
		metrics:    cfg.Metrics,
		order:      list.New(),
		entries:    make(map[string]*entry[V]),
	}
}

func (c *Cache[V]) recordHit() {
	c.hits++
	if c.metrics != nil {
		c.metrics.CacheHits.Inc()
	}
}

func (c *Cache[V]) recordMiss() {
	c.misses++
	if c.metrics != nil {
		c.metrics.CacheMisses.Inc()
	}
}

// Get returns the value for k and true, or the zero value and false if k is
// absent or expired. A successful Get refreshes last-accessed time, bumps the
// access count, and moves k to the most-recently-used end of the order list.
func (c *Cache[V]) Get(k string) (V, bool) {
	e, ok := c.entries[k]
	if !ok {
		c.recordMiss()
		var zero V
		return zero, false
	}
	if c.isExpired(e) {
		c.removeExpired(e)
		c.recordMiss()
		var zero V
		return zero, false
	}
	e.lastAccess = c.now()
	e.accessCount++
	c.order.MoveToFront(e.elem)
	c.recordHit()
	return e.value, true
}

// Has reports presence without disturbing access order, but still observes
// expiration (spec.md §4.1).
func (c *Cache[V]) Has(k string) bool {
	e, ok := c.entries[k]
	if !ok {
		c.recordMiss()
		return false
	}
	if c.isExpired(e) {
		c.removeExpired(e)
		c.recordMiss()
		return false
	}
	c.recordHit()
	return true
}

// Set inserts or overwrites k. If ttl is zero the cache's DefaultExpiration
// is used. Inserting a new key when the cache is already at MaxEntries
// evicts the least-recently-used entry first.
func (c *Cache[V]) Set(k string, v V, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	now := c.now()

	if e, ok := c.entries[k]; ok {
		e.value = v
		e.expiresAt = now.Add(ttl)
		e.lastAccess = now
		c.order.MoveToFront(e.elem)
		return
	}

	if c.maxEntries > 0 && len(c.entries) >= c.maxEntries {
		c.evictLRU()
	}

	e := &entry[V]{
		key:        k,
		value:      v,
		expiresAt:  now.Add(ttl),
		lastAccess: now,
	}
	e.elem = c.order.PushFront(e)
	c.entries[k] = e
}

// Delete removes k, invoking the eviction callback if present and k existed.
func (c *Cache[V]) Delete(k string) {
	e, ok := c.entries[k]
	if !ok {
		return
	}
	c.order.Remove(e.elem)
	delete(c.entries, k)
	if c.onEvict != nil {
		c.onEvict(k, e.value)
	}
}

// Cleanup sweeps every entry whose expiration has passed and returns the
// count removed. It is optional: no correctness requirement in this package
// depends on it being called (spec.md §4.1).
func (c *Cache[V]) Cleanup() int {
	removed := 0
	now := c.now()
	for key, e := range c.entries {
		if !e.expiresAt.After(now) {
			c.order.Remove(e.elem)
			delete(c.entries, key)
			c.expirations++
			if c.onExpire != nil {
				c.onExpire(key, e.value)
			}
			removed++
		}
	}
	return removed
}

// Stats reports the cache's current size and cumulative counters.
func (c *Cache[V]) Stats() Stats {
	s := Stats{
		Size:        len(c.entries),
		MaxEntries:  c.maxEntries,
		Hits:        c.hits,
		Misses:      c.misses,
		Evictions:   c.evictions,
		Expirations: c.expirations,
	}
	if total := s.Hits + s.Misses; total > 0 {
		s.HitRate = float64(s.Hits) / float64(total)
	}
	if s.Size > 0 {
		var sum uint64
		for _, e := range c.entries {
			sum += e.accessCount
		}
		s.AverageAccessCount = float64(sum) / float64(s.Size)
	}
	return s
}

// Keys returns the current key set in most-recently-used-first order. It
// exists mainly so tests can assert the access-order invariant of spec.md §8
// without reaching into unexported fields.
func (c *Cache[V]) Keys() []string {
	keys := make([]string, 0, c.order.Len())
	for el := c.order.Front(); el != nil; el = el.Next() {
		keys = append(keys, el.Value.(*entry[V]).key)
	}
	return keys
}

func (c *Cache[V]) isExpired(e *entry[V]) bool {
	return !e.expiresAt.After(c.now())
}

// removeExpired deletes an entry discovered stale on a read path and fires
// the expiration callback. The eviction callback is deliberately NOT fired
// here: expiration and eviction are distinct events (spec.md §4.1).
func (c *Cache[V]) removeExpired(e *entry[V]) {
	c.order.Remove(e.elem)
	delete(c.entries, e.key)
	c.expirations++
	if c.onExpire != nil {
		c.onExpire(e.key, e.value)
	}
}

// evictLRU drops the least-recently-used entry to make room for an insert.
//
// Open question (spec.md §9): if OnEvict panics or otherwise misbehaves
// during an insert-triggered eviction, the source's observed behavior aborts
// the insert after the victim is already gone. This implementation instead
// chooses the cleaner semantics the spec explicitly permits as an
// alternative: the evicted entry is removed first, the callback runs on a
// best-effort basis via a deferred recover, and the subsequent insert always
// proceeds. A callback panic never corrupts cache state.
func (c *Cache[V]) evictLRU() {
	back := c.order.Back()
	if back == nil {
		return
	}
	e := back.Value.(*entry[V])
	c.order.Remove(back)
	delete(c.entries, e.key)
	c.evictions++
	if c.onEvict != nil {
		c.safeEvict(e.key, e.value)
	}
}

func (c *Cache[V]) safeEvict(key string, value V) {
	defer func() { _ = recover() }()
	c.onEvict(key, value)
}
