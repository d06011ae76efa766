package tlsfp

import (
	"container/list"
	"sync"
	"time"
)

const (
	defaultCacheCapacity = 10_000
	entryTTL             = 24 * time.Hour
)

type cacheEntry struct {
	digest         string
	classification string
	lastSeen       time.Time
}

// Cache is an LRU mapping a fingerprint digest to its last-seen
// classification, bounded to at most defaultCacheCapacity entries with
// entries expiring after 24h of inactivity (spec §4.2).
type Cache struct {
	mu       sync.Mutex
	capacity int
	ll       *list.List
	index    map[string]*list.Element
}

// NewCache constructs an empty fingerprint cache.
func NewCache() *Cache {
	return &Cache{
		capacity: defaultCacheCapacity,
		ll:       list.New(),
		index:    make(map[string]*list.Element),
	}
}

// Get returns the last-seen classification for digest, if present and not
// expired; touching it marks it most-recently-used.
func (c *Cache) Get(digest string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.index[digest]
	if !ok {
		return "", false
	}
	entry := el.Value.(*cacheEntry)
	if time.Since(entry.lastSeen) > entryTTL {
		c.ll.Remove(el)
		delete(c.index, digest)
		return "", false
	}
	c.ll.MoveToFront(el)
	return entry.classification, true
}

// Set records/updates the classification for digest.
func (c *Cache) Set(digest, classification string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.index[digest]; ok {
		entry := el.Value.(*cacheEntry)
		entry.classification = classification
		entry.lastSeen = time.Now()
		c.ll.MoveToFront(el)
		return
	}

	entry := &cacheEntry{digest: digest, classification: classification, lastSeen: time.Now()}
	el := c.ll.PushFront(entry)
	c.index[digest] = el

	if c.ll.Len() > c.capacity {
		oldest := c.ll.Back()
		if oldest != nil {
			c.ll.Remove(oldest)
			delete(c.index, oldest.Value.(*cacheEntry).digest)
		}
	}
}

// Len reports the current entry count (test/ops visibility).
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ll.Len()
}
