package cache

import (
	"sync"
	"time"
)

// Cache is a mutex-guarded map whose entries expire lazily on read.
type Cache struct {
	mu  sync.RWMutex
	ttl time.Duration
	now func() time.Time
	m   map[string]entry
}
type entry struct {
	val any
	exp time.Time
}

func New(ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = 5 * time.Second
	}

	return &Cache{
		ttl: ttl,
		now: time.Now,
		m:   make(map[string]entry),
	}
}

// WithClock swaps the time source; tests use it to step past expiry.
func (c *Cache) WithClock(now func() time.Time) *Cache {
	c.mu.Lock()
	c.now = now
	c.mu.Unlock()
	return c
}

func (c *Cache) Get(key string) (any, bool) {
	c.mu.RLock()
	now := c.now()
	e, ok := c.m[key]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}

	if !now.Before(e.exp) {
		c.mu.Lock()
		delete(c.m, key)
		c.mu.Unlock()
		return nil, false
	}

	return e.val, true
}

func (c *Cache) Set(key string, val any) {
	c.SetWithTTL(key, val, c.ttl)
}

func (c *Cache) SetWithTTL(key string, val any, ttl time.Duration) {
	c.mu.Lock()
	c.m[key] = entry{val: val, exp: c.now().Add(ttl)}
	c.mu.Unlock()
}

func (c *Cache) Delete(key string) {
	c.mu.Lock()
	delete(c.m, key)
	c.mu.Unlock()
}

// Sweep drops every expired entry and reports how many were removed.
func (c *Cache) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	n := 0
	for k, e := range c.m {
		if !now.Before(e.exp) {
			delete(c.m, k)
			n++
		}
	}
	return n
}
