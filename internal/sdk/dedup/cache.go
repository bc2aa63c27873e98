// Package dedup implements the sliding-TTL LRU cache used to suppress
// duplicate assignment/exposure events, grounded on util.cache.Cache: a
// capacity-bounded, access-order doubly linked list where both a fresh Get
// and every Put refresh an entry's recency and expiry, and the true least-
// recently-used entry (not merely the oldest-inserted one) is evicted when
// the cache is full. A third-party LRU library (e.g. hashicorp/golang-lru)
// covers capacity eviction but none expose the "refresh TTL on Get" sliding
// semantics this dedup check requires, so the linked-list bookkeeping below
// is the hand-rolled part; everything else in the SDK still reaches for
// third-party libraries.
package dedup

import (
	"container/list"
	"sync"
	"time"
)

type entry struct {
	key        string
	lastAccess time.Time
}

// Cache is a fixed-capacity, sliding-TTL, access-order cache of string keys.
// It answers "have I seen this key within the last TTL" without storing any
// value beyond presence.
type Cache struct {
	mu       sync.Mutex
	ttl      time.Duration
	capacity int
	ll       *list.List
	index    map[string]*list.Element
	now      func() time.Time
}

// New constructs a Cache holding up to capacity keys, each valid for ttl
// after its most recent access.
func New(capacity int, ttl time.Duration) *Cache {
	return &Cache{
		ttl:      ttl,
		capacity: capacity,
		ll:       list.New(),
		index:    make(map[string]*list.Element),
		now:      time.Now,
	}
}

// Contains reports whether key is present and unexpired, refreshing its
// recency (sliding the TTL forward) on a hit and lazily evicting it if it
// has expired.
func (c *Cache) Contains(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.index[key]
	if !ok {
		return false
	}

	e := el.Value.(*entry)
	if c.now().Sub(e.lastAccess) > c.ttl {
		c.removeElement(el)
		return false
	}

	e.lastAccess = c.now()
	c.ll.MoveToFront(el)
	return true
}

// Add records key as seen, refreshing its recency if already present or
// inserting it and evicting the true least-recently-used entry if the
// cache is at capacity.
func (c *Cache) Add(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.index[key]; ok {
		el.Value.(*entry).lastAccess = c.now()
		c.ll.MoveToFront(el)
		return
	}

	if c.capacity > 0 && c.ll.Len() >= c.capacity {
		oldest := c.ll.Back()
		if oldest != nil {
			c.removeElement(oldest)
		}
	}

	el := c.ll.PushFront(&entry{key: key, lastAccess: c.now()})
	c.index[key] = el
}

// Len returns the number of keys currently stored, including any not yet
// lazily expired.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ll.Len()
}

func (c *Cache) removeElement(el *list.Element) {
	c.ll.Remove(el)
	delete(c.index, el.Value.(*entry).key)
}
