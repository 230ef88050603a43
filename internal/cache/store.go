package cache

import (
	"container/list"
	"context"
	"fmt"
	"sync"
	"time"
)

// Store is the externally-owned translation cache the engine warms. The
// engine never manages eviction or TTL itself.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
	// Prioritize marks an entry as prefetched so the store can favor it.
	Prioritize(ctx context.Context, key, kind string) error
}

// Key builds the cache key for a translation.
func Key(sourceLang, targetLang, context, text string) string {
	return fmt.Sprintf("%s:%s:%s:%s", sourceLang, targetLang, context, text)
}

// entry is a single cached translation.
type entry struct {
	key      string
	value    []byte
	kind     string
	storedAt time.Time
}

// LRU is an in-memory reference Store with least-recently-used eviction.
type LRU struct {
	mu       sync.RWMutex
	capacity int
	items    map[string]*list.Element
	order    *list.List

	hits      int64
	misses    int64
	evictions int64
}

// NewLRU creates an LRU store holding at most capacity entries.
func NewLRU(capacity int) *LRU {
	if capacity <= 0 {
		capacity = 1024
	}
	return &LRU{
		capacity: capacity,
		items:    make(map[string]*list.Element),
		order:    list.New(),
	}
}

// Get retrieves a cached translation.
func (c *LRU) Get(ctx context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[key]
	if !ok {
		c.misses++
		return nil, false, nil
	}
	c.order.MoveToFront(elem)
	c.hits++
	return elem.Value.(*entry).value, true, nil
}

// Set stores a translation, evicting the least recently used entry when
// full.
func (c *LRU) Set(ctx context.Context, key string, value []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[key]; ok {
		c.order.MoveToFront(elem)
		e := elem.Value.(*entry)
		e.value = value
		e.storedAt = time.Now()
		return nil
	}

	elem := c.order.PushFront(&entry{key: key, value: value, storedAt: time.Now()})
	c.items[key] = elem

	if c.order.Len() > c.capacity {
		c.evictOldest()
	}
	return nil
}

// Prioritize moves an entry to the front of the eviction order and tags
// it with the prefetch kind.
func (c *LRU) Prioritize(ctx context.Context, key, kind string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[key]
	if !ok {
		return fmt.Errorf("cache: prioritize %q: not found", key)
	}
	elem.Value.(*entry).kind = kind
	c.order.MoveToFront(elem)
	return nil
}

func (c *LRU) evictOldest() {
	elem := c.order.Back()
	if elem == nil {
		return
	}
	c.order.Remove(elem)
	delete(c.items, elem.Value.(*entry).key)
	c.evictions++
}

// Stats summarizes cache effectiveness.
type Stats struct {
	Items     int
	Capacity  int
	Hits      int64
	Misses    int64
	Evictions int64
}

// FillRatio returns how full the cache is, in [0,1].
func (s Stats) FillRatio() float64 {
	if s.Capacity == 0 {
		return 0
	}
	return float64(s.Items) / float64(s.Capacity)
}

// HitRate returns the fraction of lookups served from cache.
func (s Stats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

// Stats returns current counters.
func (c *LRU) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Stats{
		Items:     c.order.Len(),
		Capacity:  c.capacity,
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
	}
}
