// Package cache provides a bounded in-memory cache whose entries go stale
// at an expiry time or on explicit invalidation.
package cache

import (
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// State is the freshness of a cached value.
type State int

const (
	// StateStale means the entry is absent, expired, or was invalidated.
	// Readers must refetch.
	StateStale State = iota
	// StateFresh means the entry may be served without refetching.
	StateFresh
)

func (s State) String() string {
	if s == StateFresh {
		return "fresh"
	}
	return "stale"
}

// Entry is a cached value and the time it stops being fresh.
type Entry[V any] struct {
	Value     V
	ExpiresAt time.Time
}

// Fresh reports whether the entry is still servable at now.
func (e Entry[V]) Fresh(now time.Time) bool {
	return now.Before(e.ExpiresAt)
}

type options struct {
	now func() time.Time
}

// Option configures a Cache.
type Option func(*options)

// WithNow sets the time source used for expiry checks.
func WithNow(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// Cache is a size-bounded LRU with per-entry expiry.
//
// Thread-safety: all methods are safe for concurrent use.
type Cache[K comparable, V any] struct {
	entries *lru.Cache[K, Entry[V]]
	ttl     time.Duration
	now     func() time.Time
}

// New creates a cache holding at most size entries, each fresh for ttl
// after Set.
func New[K comparable, V any](size int, ttl time.Duration, opts ...Option) (*Cache[K, V], error) {
	if ttl <= 0 {
		return nil, fmt.Errorf("cache: ttl must be positive, got %s", ttl)
	}
	entries, err := lru.New[K, Entry[V]](size)
	if err != nil {
		return nil, fmt.Errorf("cache: %w", err)
	}

	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return &Cache[K, V]{entries: entries, ttl: ttl, now: o.now}, nil
}

// Get returns the value for key if it is fresh. Expired entries are
// evicted on read.
func (c *Cache[K, V]) Get(key K) (V, bool) {
	e, ok := c.entries.Get(key)
	if !ok {
		var zero V
		return zero, false
	}
	if !e.Fresh(c.now()) {
		c.entries.Remove(key)
		var zero V
		return zero, false
	}
	return e.Value, true
}

// Peek returns the entry for key regardless of freshness, without touching
// recency.
func (c *Cache[K, V]) Peek(key K) (Entry[V], bool) {
	return c.entries.Peek(key)
}

// State reports whether key would be served by Get.
func (c *Cache[K, V]) State(key K) State {
	e, ok := c.entries.Peek(key)
	if ok && e.Fresh(c.now()) {
		return StateFresh
	}
	return StateStale
}

// Set stores value under key, fresh for the cache ttl.
func (c *Cache[K, V]) Set(key K, value V) Entry[V] {
	return c.SetUntil(key, value, c.now().Add(c.ttl))
}

// SetUntil stores value under key, fresh until expiresAt.
func (c *Cache[K, V]) SetUntil(key K, value V, expiresAt time.Time) Entry[V] {
	e := Entry[V]{Value: value, ExpiresAt: expiresAt}
	c.entries.Add(key, e)
	return e
}

// Invalidate drops key and reports whether it was present.
func (c *Cache[K, V]) Invalidate(key K) bool {
	return c.entries.Remove(key)
}

// InvalidateAll drops every key matching match and returns how many were
// dropped.
func (c *Cache[K, V]) InvalidateAll(match func(K) bool) int {
	n := 0
	for _, k := range c.entries.Keys() {
		if match(k) && c.entries.Remove(k) {
			n++
		}
	}
	return n
}

// Len returns the number of entries, fresh or not.
func (c *Cache[K, V]) Len() int {
	return c.entries.Len()
}

// Purge drops every entry.
func (c *Cache[K, V]) Purge() {
	c.entries.Purge()
}
