// Package modelcache keeps an in-memory record of which downloaded
// models are currently loaded, evicting the least-recently-used entry
// once the configured byte budget would otherwise be exceeded. An
// entry pinned by an active job is never evicted.
package modelcache

import (
	"container/list"
	"sync"
)

// Key identifies one loaded-model instance.
type Key struct {
	Name      string
	Device    string
	Precision string
}

type entry struct {
	key     Key
	bytes   int64
	refs    int
	element *list.Element
}

// Cache is a byte-budgeted, reference-counted LRU over loaded models.
type Cache struct {
	mu        sync.Mutex
	budget    int64
	used      int64
	entries   map[Key]*entry
	lru       *list.List
	onEvict   func(Key)
}

// New creates a Cache with the given byte budget.
func New(budgetBytes int64) *Cache {
	return &Cache{
		budget:  budgetBytes,
		entries: make(map[Key]*entry),
		lru:     list.New(),
	}
}

// OnEvict registers a callback invoked (outside the cache's lock) when
// an entry is evicted, so the caller can release the underlying
// recognition model instance.
func (c *Cache) OnEvict(fn func(Key)) {
	c.onEvict = fn
}

// Acquire marks key as in-use (pinning it against eviction), inserting
// it with the given size if not already present, and evicting
// least-recently-used unpinned entries while the budget would
// otherwise be exceeded and at least one entry remains. A single
// model larger than the whole budget is still admitted once the cache
// has been evicted down to nothing — the cache never refuses the
// entry currently being inserted, it only ever evicts others to make
// room for it.
func (c *Cache) Acquire(key Key, sizeBytes int64) error {
	c.mu.Lock()

	if e, ok := c.entries[key]; ok {
		e.refs++
		c.lru.MoveToFront(e.element)
		c.mu.Unlock()
		return nil
	}

	var evicted []Key
	for c.used+sizeBytes > c.budget && len(c.entries) > 0 {
		victim := c.evictOneLocked()
		if victim == nil {
			break // every remaining entry is pinned by an active job
		}
		evicted = append(evicted, *victim)
	}

	e := &entry{key: key, bytes: sizeBytes, refs: 1}
	e.element = c.lru.PushFront(key)
	c.entries[key] = e
	c.used += sizeBytes
	c.mu.Unlock()

	if c.onEvict != nil {
		for _, k := range evicted {
			c.onEvict(k)
		}
	}
	return nil
}

// Release drops one reference to key. The entry becomes eligible for
// eviction once its reference count reaches zero, but is not evicted
// immediately — it stays warm until budget pressure requires it.
func (c *Cache) Release(key Key) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok || e.refs == 0 {
		return
	}
	e.refs--
}

// evictOneLocked evicts the least-recently-used entry with a zero
// reference count, returning its key, or nil if none is evictable.
func (c *Cache) evictOneLocked() *Key {
	for el := c.lru.Back(); el != nil; el = el.Prev() {
		key := el.Value.(Key)
		e := c.entries[key]
		if e.refs == 0 {
			c.lru.Remove(el)
			delete(c.entries, key)
			c.used -= e.bytes
			return &key
		}
	}
	return nil
}

// Forget drops every unpinned entry for the named model, regardless of
// device/precision. Used when a model's on-disk directory disappears
// out from under the service, so a later Acquire doesn't hand back a
// stale cache hit for files that no longer exist.
func (c *Cache) Forget(name string) {
	c.mu.Lock()
	var evicted []Key
	for key, e := range c.entries {
		if key.Name != name || e.refs != 0 {
			continue
		}
		c.lru.Remove(e.element)
		delete(c.entries, key)
		c.used -= e.bytes
		evicted = append(evicted, key)
	}
	c.mu.Unlock()

	if c.onEvict != nil {
		for _, k := range evicted {
			c.onEvict(k)
		}
	}
}

// Used returns the current total bytes accounted for by cached entries.
func (c *Cache) Used() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.used
}
