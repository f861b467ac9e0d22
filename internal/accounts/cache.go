package accounts

import (
	"errors"
	"sync"
	"time"

	"github.com/bradfitz/gomemcache/memcache"
)

// Cache stores serialized account records.
type Cache interface {
	Get(key string) ([]byte, bool, error)
	Set(key string, value []byte, ttl time.Duration) error
	Delete(key string) error
}

type cacheEntry struct {
	value   []byte
	expires time.Time
}

// MemoryCache is an in-process Cache with per-entry expiry.
type MemoryCache struct {
	mu    sync.RWMutex
	items map[string]cacheEntry
	now   func() time.Time
}

// NewMemoryCache returns an empty MemoryCache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{items: make(map[string]cacheEntry), now: time.Now}
}

// Get returns the value when present and not expired.
func (c *MemoryCache) Get(key string) ([]byte, bool, error) {
	now := c.now()

	c.mu.RLock()
	entry, ok := c.items[key]
	c.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}
	if !now.Before(entry.expires) {
		c.mu.Lock()
		if current, ok := c.items[key]; ok && !now.Before(current.expires) {
			delete(c.items, key)
		}
		c.mu.Unlock()
		return nil, false, nil
	}
	return entry.value, true, nil
}

// Set stores value for ttl.
func (c *MemoryCache) Set(key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	c.items[key] = cacheEntry{value: value, expires: c.now().Add(ttl)}
	c.mu.Unlock()
	return nil
}

// Delete drops key.
func (c *MemoryCache) Delete(key string) error {
	c.mu.Lock()
	delete(c.items, key)
	c.mu.Unlock()
	return nil
}

// MemcacheCache stores entries in memcached.
type MemcacheCache struct {
	client *memcache.Client
}

// NewMemcacheCache connects to the comma separated memcached servers.
func NewMemcacheCache(servers ...string) *MemcacheCache {
	client := memcache.New(servers...)
	client.Timeout = 200 * time.Millisecond
	return &MemcacheCache{client: client}
}

// Get implements Cache.
func (c *MemcacheCache) Get(key string) ([]byte, bool, error) {
	item, err := c.client.Get(key)
	if err != nil {
		if errors.Is(err, memcache.ErrCacheMiss) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return item.Value, true, nil
}

// Set implements Cache. Memcached expirations have one second granularity.
func (c *MemcacheCache) Set(key string, value []byte, ttl time.Duration) error {
	seconds := int32(ttl / time.Second)
	if seconds < 1 {
		seconds = 1
	}
	return c.client.Set(&memcache.Item{Key: key, Value: value, Expiration: seconds})
}

// Delete implements Cache.
func (c *MemcacheCache) Delete(key string) error {
	err := c.client.Delete(key)
	if errors.Is(err, memcache.ErrCacheMiss) {
		return nil
	}
	return err
}
