package cache

import (
	"sync"
	"time"
)

// Cache is a typed key/value cache with per-entry TTL
type Cache[V any] interface {
	// Get retrieves a value from the cache
	// Returns the value and true if found and not expired
	Get(key string) (V, bool)

	// Set stores a value in the cache with the specified TTL
	Set(key string, value V, ttl time.Duration)

	// GetOrSet gets a value or computes and caches it if not found.
	// A compute error is returned as is and nothing is cached.
	GetOrSet(key string, ttl time.Duration, compute func() (V, error)) (V, error)

	Delete(key string)
	Clear()

	// Size returns the number of items currently in the cache, expired ones included
	Size() int

	// Stop shuts down the cleanup goroutine
	Stop()
}

type cacheItem[V any] struct {
	value      V
	expiration time.Time
}

// InMemoryCache is a thread-safe in-memory cache implementation
type InMemoryCache[V any] struct {
	items           map[string]*cacheItem[V]
	mu              sync.RWMutex
	now             func() time.Time
	cleanupInterval time.Duration
	stopCleanup     chan struct{}
	stopOnce        sync.Once
}

// Option configures an InMemoryCache
type Option func(*options)

type options struct {
	now func() time.Time
}

// WithClock replaces time.Now for expiration checks
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

// NewInMemoryCache creates a new in-memory cache.
// A positive cleanupInterval starts a goroutine removing expired items, Stop ends it.
func NewInMemoryCache[V any](cleanupInterval time.Duration, opts ...Option) *InMemoryCache[V] {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}

	cache := &InMemoryCache[V]{
		items:           make(map[string]*cacheItem[V]),
		now:             o.now,
		cleanupInterval: cleanupInterval,
		stopCleanup:     make(chan struct{}),
	}

	if cleanupInterval > 0 {
		go cache.startCleanup()
	}

	return cache
}

func (c *InMemoryCache[V]) expired(item *cacheItem[V]) bool {
	return c.now().After(item.expiration)
}

// Get retrieves a value from the cache
func (c *InMemoryCache[V]) Get(key string) (V, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	item, found := c.items[key]
	if !found || c.expired(item) {
		var zero V
		return zero, false
	}

	return item.value, true
}

// Set stores a value in the cache with the specified TTL
func (c *InMemoryCache[V]) Set(key string, value V, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items[key] = &cacheItem[V]{
		value:      value,
		expiration: c.now().Add(ttl),
	}
}

// GetOrSet gets a value or computes and caches it if not found.
// compute runs under the write lock so concurrent misses on one key compute once.
func (c *InMemoryCache[V]) GetOrSet(key string, ttl time.Duration, compute func() (V, error)) (V, error) {
	c.mu.RLock()
	item, found := c.items[key]
	if found && !c.expired(item) {
		c.mu.RUnlock()
		return item.value, nil
	}
	c.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()

	// Double-check after acquiring write lock
	item, found = c.items[key]
	if found && !c.expired(item) {
		return item.value, nil
	}

	value, err := compute()
	if err != nil {
		var zero V
		return zero, err
	}

	c.items[key] = &cacheItem[V]{
		value:      value,
		expiration: c.now().Add(ttl),
	}

	return value, nil
}

// Delete removes a specific key from the cache
func (c *InMemoryCache[V]) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.items, key)
}

// Clear removes all items from the cache
func (c *InMemoryCache[V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items = make(map[string]*cacheItem[V])
}

// Size returns the number of items currently in the cache
func (c *InMemoryCache[V]) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return len(c.items)
}

// Stop stops the cleanup goroutine, calling it more than once is safe
func (c *InMemoryCache[V]) Stop() {
	c.stopOnce.Do(func() {
		close(c.stopCleanup)
	})
}

func (c *InMemoryCache[V]) startCleanup() {
	ticker := time.NewTicker(c.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.cleanup()
		case <-c.stopCleanup:
			return
		}
	}
}

// cleanup removes all expired items from the cache
func (c *InMemoryCache[V]) cleanup() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for key, item := range c.items {
		if now.After(item.expiration) {
			delete(c.items, key)
		}
	}
}
