package cache

import (
	"sync"
	"time"
)

// Options configures a Cache
type Options struct {
	// TTL is the default lifetime of an entry, zero means entries never expire
	TTL time.Duration
	// CleanupInterval controls how often expired entries are purged
	CleanupInterval time.Duration
	// MaxItems bounds the number of entries, zero means unbounded
	MaxItems int
}

type item[V any] struct {
	value      V
	expiration int64
}

func (it item[V]) expired(now int64) bool {
	return it.expiration > 0 && now > it.expiration
}

// Cache is a thread-safe in-memory cache with expiration
type Cache[V any] struct {
	mu        sync.RWMutex
	items     map[string]item[V]
	opts      Options
	onEvicted func(string, V)
	stop      chan struct{}
	closeOnce sync.Once
}

// New creates a cache and starts its cleanup loop when CleanupInterval > 0
func New[V any](opts Options) *Cache[V] {
	c := &Cache[V]{
		items: make(map[string]item[V]),
		opts:  opts,
		stop:  make(chan struct{}),
	}

	if opts.CleanupInterval > 0 {
		go c.cleanupLoop()
	}

	return c
}

// Set adds an item with the default TTL
func (c *Cache[V]) Set(key string, value V) {
	c.SetWithExpiration(key, value, c.opts.TTL)
}

// SetWithExpiration adds an item with a specific lifetime
func (c *Cache[V]) SetWithExpiration(key string, value V, d time.Duration) {
	var exp int64
	if d > 0 {
		exp = time.Now().Add(d).UnixNano()
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.items[key]; !exists && c.opts.MaxItems > 0 && len(c.items) >= c.opts.MaxItems {
		c.evictOldest()
	}

	c.items[key] = item[V]{value: value, expiration: exp}
}

// Get retrieves an item from the cache
func (c *Cache[V]) Get(key string) (V, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	it, found := c.items[key]
	if !found || it.expired(time.Now().UnixNano()) {
		var zero V
		return zero, false
	}

	return it.value, true
}

// Delete removes an item from the cache
func (c *Cache[V]) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if it, found := c.items[key]; found && c.onEvicted != nil {
		c.onEvicted(key, it.value)
	}
	delete(c.items, key)
}

// Flush removes all items from the cache
func (c *Cache[V]) Flush() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.onEvicted != nil {
		for k, it := range c.items {
			c.onEvicted(k, it.value)
		}
	}
	c.items = make(map[string]item[V])
}

// Count returns the number of items in the cache (including expired items)
func (c *Cache[V]) Count() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return len(c.items)
}

// SetOnEvicted sets the callback to be called when an item is evicted
func (c *Cache[V]) SetOnEvicted(f func(string, V)) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.onEvicted = f
}

// Close stops the cleanup loop
func (c *Cache[V]) Close() {
	c.closeOnce.Do(func() { close(c.stop) })
}

func (c *Cache[V]) cleanupLoop() {
	ticker := time.NewTicker(c.opts.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			c.deleteExpired()
		}
	}
}

func (c *Cache[V]) deleteExpired() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now().UnixNano()
	for k, it := range c.items {
		if it.expired(now) {
			if c.onEvicted != nil {
				c.onEvicted(k, it.value)
			}
			delete(c.items, k)
		}
	}
}

// evictOldest removes the entry closest to expiry. Caller holds the lock.
func (c *Cache[V]) evictOldest() {
	var oldestKey string
	var oldest int64
	first := true

	for k, it := range c.items {
		if first || it.expiration < oldest {
			oldestKey = k
			oldest = it.expiration
			first = false
		}
	}

	if first {
		return
	}
	if c.onEvicted != nil {
		c.onEvicted(oldestKey, c.items[oldestKey].value)
	}
	delete(c.items, oldestKey)
}
