package embedcache

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

const (
	DefaultSize = 1000
	DefaultTTL  = 60 * time.Minute
)

// Cache is a bounded, TTL-expiring map from normalized query text to its
// embedding. Safe for concurrent use; vectors are copied on the way in and out
// so callers can never mutate a shared entry.
type Cache struct {
	lru *expirable.LRU[string, []float32]
}

func New(size int, ttl time.Duration) *Cache {
	if size <= 0 {
		size = DefaultSize
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{lru: expirable.NewLRU[string, []float32](size, nil, ttl)}
}

func (c *Cache) Get(key string) ([]float32, bool) {
	v, ok := c.lru.Get(key)
	if !ok {
		return nil, false
	}
	return clone(v), true
}

func (c *Cache) Add(key string, vector []float32) {
	if len(vector) == 0 {
		return
	}
	c.lru.Add(key, clone(vector))
}

func (c *Cache) Len() int {
	return c.lru.Len()
}

func (c *Cache) Purge() {
	c.lru.Purge()
}

// Noop never stores anything.
type Noop struct{}

func (Noop) Get(string) ([]float32, bool) { return nil, false }
func (Noop) Add(string, []float32)        {}

func clone(v []float32) []float32 {
	out := make([]float32, len(v))
	copy(out, v)
	return out
}
