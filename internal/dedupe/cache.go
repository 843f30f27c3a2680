// ABOUTME: Thread-safe TTL cache for suppressing replayed wire messages.
// ABOUTME: Long-poll rounds are at-least-once; the cache makes appends exactly-once.

package dedupe

import (
	"container/list"
	"sync"
	"time"
)

// entry stores the timestamp and list element for a cached key.
type entry struct {
	at   time.Time
	elem *list.Element
}

// Cache tracks wire-message keys already folded into a synthetic history.
// Entries expire after a TTL and the oldest entry is evicted once the cache
// reaches its size bound, so an arbitrarily long conversation cannot grow
// the cache without limit.
type Cache struct {
	mu      sync.Mutex
	seen    map[string]*entry
	order   *list.List // keys in insertion order, oldest at front
	ttl     time.Duration
	maxSize int
}

// New creates a dedupe cache with the given TTL and maximum size.
func New(ttl time.Duration, maxSize int) *Cache {
	return &Cache{
		seen:    make(map[string]*entry),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
	}
}

// Seen atomically checks whether key was recorded within the TTL and
// records it if not. Returns true for a duplicate, false for a new key.
// Expired entries are swept opportunistically on each call; there is no
// background goroutine to shut down.
func (c *Cache) Seen(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	c.sweepLocked(now)

	if e, ok := c.seen[key]; ok && now.Sub(e.at) < c.ttl {
		e.at = now
		c.order.MoveToBack(e.elem)
		return true
	}

	if len(c.seen) >= c.maxSize {
		c.evictOldestLocked()
	}
	c.seen[key] = &entry{at: now, elem: c.order.PushBack(key)}
	return false
}

// Len returns the number of live entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.seen)
}

// sweepLocked drops expired entries from the front of the order list.
// Entries are refreshed on access, so the front is always the stalest.
func (c *Cache) sweepLocked(now time.Time) {
	for {
		front := c.order.Front()
		if front == nil {
			return
		}
		key := front.Value.(string)
		e := c.seen[key]
		if e == nil || now.Sub(e.at) < c.ttl {
			return
		}
		c.order.Remove(front)
		delete(c.seen, key)
	}
}

// evictOldestLocked removes the oldest entry to make room for a new one.
func (c *Cache) evictOldestLocked() {
	front := c.order.Front()
	if front == nil {
		return
	}
	delete(c.seen, front.Value.(string))
	c.order.Remove(front)
}
