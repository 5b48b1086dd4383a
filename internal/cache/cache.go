// Package cache is a small TTL cache for derived read models.
package cache

import (
	"time"

	"github.com/dgraph-io/ristretto"
)

// Cache wraps a ristretto cache with a fixed TTL. Every entry costs 1, so
// maxCost is the entry budget.
type Cache struct {
	c   *ristretto.Cache
	ttl time.Duration
}

// New creates a Cache holding up to maxCost entries for ttl each.
func New(maxCost int64, ttl time.Duration) (*Cache, error) {
	c, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 1e5,
		MaxCost:     maxCost,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &Cache{c: c, ttl: ttl}, nil
}

func (c *Cache) Get(key string) (any, bool) { return c.c.Get(key) }

// Set stores val. Writes are buffered; a Get right after Set may still miss.
func (c *Cache) Set(key string, val any) { c.c.SetWithTTL(key, val, 1, c.ttl) }

func (c *Cache) Del(key string) { c.c.Del(key) }

// Wait blocks until buffered writes are applied.
func (c *Cache) Wait() { c.c.Wait() }

// Close stops the cache's background goroutines.
func (c *Cache) Close() { c.c.Close() }
