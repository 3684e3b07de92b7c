// ABOUTME: Bounded TTL set of Matrix event IDs the bridge has already handled
// ABOUTME: Expired entries are pruned lazily from the oldest end on each insert

package dedupe

import (
	"container/list"
	"sync"
	"time"
)

const (
	DefaultTTL     = 10 * time.Minute
	DefaultMaxSize = 4096
)

type entry struct {
	key  string
	seen time.Time
}

// Cache remembers recently seen keys. The list is kept in time order, oldest
// at the front, so pruning and eviction only ever touch the front.
type Cache struct {
	mu      sync.Mutex
	index   map[string]*list.Element
	order   *list.List
	ttl     time.Duration
	maxSize int
	now     func() time.Time
}

// New creates a cache. Non-positive arguments select the defaults.
func New(ttl time.Duration, maxSize int) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	return &Cache{
		index:   make(map[string]*list.Element),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		now:     time.Now,
	}
}

// First records key and reports whether this is the first sighting within
// the TTL. A repeat sighting does not extend the window.
func (c *Cache) First(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	c.pruneLocked(now)

	if _, ok := c.index[key]; ok {
		return false
	}

	if c.order.Len() >= c.maxSize {
		c.removeLocked(c.order.Front())
	}
	c.index[key] = c.order.PushBack(&entry{key: key, seen: now})
	return true
}

// Seen reports whether key was recorded within the TTL, without recording it.
func (c *Cache) Seen(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.index[key]
	if !ok {
		return false
	}
	e, _ := el.Value.(*entry)
	return c.now().Sub(e.seen) < c.ttl
}

// Len returns the number of live entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.pruneLocked(c.now())
	return c.order.Len()
}

func (c *Cache) pruneLocked(now time.Time) {
	for el := c.order.Front(); el != nil; el = c.order.Front() {
		e, _ := el.Value.(*entry)
		if now.Sub(e.seen) < c.ttl {
			return
		}
		c.removeLocked(el)
	}
}

func (c *Cache) removeLocked(el *list.Element) {
	if el == nil {
		return
	}
	e, _ := el.Value.(*entry)
	c.order.Remove(el)
	delete(c.index, e.key)
}
