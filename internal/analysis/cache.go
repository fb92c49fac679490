package analysis

import (
	"container/list"
	"sync"
	"time"
)

// Cache is a thread-safe LRU with per-entry TTL, bounding both how many
// reports are held and how long each stays valid.
type Cache struct {
	mu      sync.Mutex
	entries map[string]*list.Element
	order   *list.List // front = most recently used
	maxSize int
	ttl     time.Duration
	now     func() time.Time
}

type cacheEntry struct {
	key     string
	report  *Report
	savedAt time.Time
}

// NewCache creates a Cache holding at most maxSize entries for up to ttl.
func NewCache(maxSize int, ttl time.Duration) *Cache {
	if maxSize <= 0 {
		maxSize = 50
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Cache{
		entries: make(map[string]*list.Element),
		order:   list.New(),
		maxSize: maxSize,
		ttl:     ttl,
		now:     time.Now,
	}
}

// SetClock replaces the cache clock; tests pin it.
func (c *Cache) SetClock(now func() time.Time) { c.now = now }

// Get returns the cached report for key, or nil on miss or expiry. A hit
// refreshes the entry's LRU position.
func (c *Cache) Get(key string) *Report {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[key]
	if !ok {
		return nil
	}
	e := el.Value.(*cacheEntry)
	if c.now().Sub(e.savedAt) >= c.ttl {
		c.order.Remove(el)
		delete(c.entries, key)
		return nil
	}
	c.order.MoveToFront(el)
	return e.report
}

// Set stores a report under key, evicting the least recently used entry
// when the cache is full.
func (c *Cache) Set(key string, r *Report) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.entries[key]; ok {
		e := el.Value.(*cacheEntry)
		e.report = r
		e.savedAt = c.now()
		c.order.MoveToFront(el)
		return
	}

	el := c.order.PushFront(&cacheEntry{key: key, report: r, savedAt: c.now()})
	c.entries[key] = el

	for c.order.Len() > c.maxSize {
		oldest := c.order.Back()
		c.order.Remove(oldest)
		delete(c.entries, oldest.Value.(*cacheEntry).key)
	}
}

// Len returns the number of live entries, counting expired ones until they
// are touched.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}
