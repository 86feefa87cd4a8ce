package application

import "container/list"

// DefaultOfflineCacheCapacity is the number of decoded offline tiles a handler keeps.
const DefaultOfflineCacheCapacity = 10

type cacheEntry[K comparable, V any] struct {
	key   K
	value V
}

// OfflineCache is a bounded cache of decoded offline tile payloads.
// Entries are evicted in insertion order. Reading an entry does not promote it.
// It is owned by one handler and is not safe for concurrent use.
type OfflineCache[K comparable, V any] struct {
	capacity int
	items    map[K]*list.Element
	order    *list.List
	onEvict  func(key K)
}

// NewOfflineCache creates a cache holding at most capacity entries.
// A capacity below 1 falls back to DefaultOfflineCacheCapacity.
func NewOfflineCache[K comparable, V any](capacity int) *OfflineCache[K, V] {
	if capacity < 1 {
		capacity = DefaultOfflineCacheCapacity
	}
	return &OfflineCache[K, V]{
		capacity: capacity,
		items:    make(map[K]*list.Element),
		order:    list.New(),
	}
}

// OnEvict registers a function called for every evicted key.
func (c *OfflineCache[K, V]) OnEvict(fn func(key K)) {
	c.onEvict = fn
}

// Get returns the payload stored under key.
func (c *OfflineCache[K, V]) Get(key K) (V, bool) {
	elem, ok := c.items[key]
	if !ok {
		var zero V
		return zero, false
	}
	return elem.Value.(*cacheEntry[K, V]).value, true
}

// Put stores a payload. Replacing an existing key keeps its insertion position.
// When the cache is full the oldest entries are evicted until one slot is free.
func (c *OfflineCache[K, V]) Put(key K, value V) {
	if elem, ok := c.items[key]; ok {
		elem.Value.(*cacheEntry[K, V]).value = value
		return
	}

	for c.order.Len() >= c.capacity {
		oldest := c.order.Front()
		ent := c.order.Remove(oldest).(*cacheEntry[K, V])
		delete(c.items, ent.key)
		if c.onEvict != nil {
			c.onEvict(ent.key)
		}
	}

	c.items[key] = c.order.PushBack(&cacheEntry[K, V]{key: key, value: value})
}

// Delete removes key from the cache.
func (c *OfflineCache[K, V]) Delete(key K) bool {
	elem, ok := c.items[key]
	if !ok {
		return false
	}
	c.order.Remove(elem)
	delete(c.items, key)
	return true
}

// Len returns the number of cached entries.
func (c *OfflineCache[K, V]) Len() int {
	return c.order.Len()
}

// Capacity returns the maximum number of entries.
func (c *OfflineCache[K, V]) Capacity() int {
	return c.capacity
}

// Keys returns the cached keys, oldest first.
func (c *OfflineCache[K, V]) Keys() []K {
	keys := make([]K, 0, c.order.Len())
	for e := c.order.Front(); e != nil; e = e.Next() {
		keys = append(keys, e.Value.(*cacheEntry[K, V]).key)
	}
	return keys
}

// Clear drops all entries.
func (c *OfflineCache[K, V]) Clear() {
	c.items = make(map[K]*list.Element)
	c.order.Init()
}
