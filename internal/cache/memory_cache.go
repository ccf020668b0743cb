// Package cache provides a size-weighted in-memory LRU cache that reports
// every removed entry to an optional Listener.
package cache

import (
	"container/list"
	"fmt"
	"iter"
)

type entry[K comparable, V any] struct {
	key   K
	value V
	size  int64
}

// Stats are cumulative counters since construction.
type Stats struct {
	Hits      uint64
	Misses    uint64
	Evictions uint64
}

// Cache is a capacity-bounded LRU cache where every entry carries a size.
// Used capacity always equals the sum of live entry sizes.
// Concurrent access must be guarded by the caller.
type Cache[K comparable, V any] struct {
	capacity int64
	used     int64
	items    map[K]*list.Element
	lruList  *list.List // front is most recently used
	listener Listener[K, V]
	stats    Stats
}

// New creates a cache holding at most capacity total size. listener may be
// nil.
func New[K comparable, V any](capacity int64, listener Listener[K, V]) (*Cache[K, V], error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("%w: capacity %d", ErrCapacity, capacity)
	}
	return &Cache[K, V]{
		capacity: capacity,
		items:    make(map[K]*list.Element),
		lruList:  list.New(),
		listener: listener,
	}, nil
}

// SetListener replaces the listener; nil removes entries silently.
func (c *Cache[K, V]) SetListener(listener Listener[K, V]) {
	c.listener = listener
}

func (c *Cache[K, V]) Capacity() int64     { return c.capacity }
func (c *Cache[K, V]) UsedCapacity() int64 { return c.used }
func (c *Cache[K, V]) Len() int            { return c.lruList.Len() }
func (c *Cache[K, V]) Stats() Stats        { return c.stats }

// SetCapacity changes the bound. Shrinking evicts immediately.
func (c *Cache[K, V]) SetCapacity(capacity int64) error {
	if capacity <= 0 {
		return fmt.Errorf("%w: capacity %d", ErrCapacity, capacity)
	}
	c.capacity = capacity
	c.notifyAll(c.evict(nil))
	return nil
}

func (c *Cache[K, V]) ContainsKey(key K) bool {
	_, ok := c.items[key]
	return ok
}

// Get returns the value for key and marks it most recently used.
func (c *Cache[K, V]) Get(key K) (V, bool) {
	elem, ok := c.items[key]
	if !ok {
		c.stats.Misses++
		var zero V
		return zero, false
	}
	c.stats.Hits++
	c.lruList.MoveToFront(elem)
	return elem.Value.(*entry[K, V]).value, true
}

// Peek returns the value for key without touching its recency.
func (c *Cache[K, V]) Peek(key K) (V, bool) {
	elem, ok := c.items[key]
	if !ok {
		var zero V
		return zero, false
	}
	return elem.Value.(*entry[K, V]).value, true
}

// Put inserts or replaces key. A replaced value is reported to the listener
// as removed. Least recently used entries are then evicted until the cache
// fits its capacity; the entry just put is never evicted, so an entry larger
// than the whole capacity is kept alone.
func (c *Cache[K, V]) Put(key K, value V, size int64) error {
	if size <= 0 {
		return fmt.Errorf("%w: size %d for key %v", ErrCapacity, size, key)
	}

	var removed []*entry[K, V]
	elem, ok := c.items[key]
	if ok {
		ent := elem.Value.(*entry[K, V])
		removed = append(removed, &entry[K, V]{key: ent.key, value: ent.value, size: ent.size})
		c.used -= ent.size
		ent.value = value
		ent.size = size
		c.lruList.MoveToFront(elem)
	} else {
		elem = c.lruList.PushFront(&entry[K, V]{key: key, value: value, size: size})
		c.items[key] = elem
	}
	c.used += size

	removed = append(removed, c.evict(elem)...)
	c.notifyAll(removed)
	return nil
}

// Remove deletes key and reports it to the listener.
func (c *Cache[K, V]) Remove(key K) bool {
	elem, ok := c.items[key]
	if !ok {
		return false
	}
	ent := c.unlink(elem)
	c.notifyAll([]*entry[K, V]{ent})
	return true
}

// Clear empties the cache, reporting entries from least to most recently
// used.
func (c *Cache[K, V]) Clear() {
	removed := make([]*entry[K, V], 0, c.lruList.Len())
	for elem := c.lruList.Back(); elem != nil; elem = elem.Prev() {
		removed = append(removed, elem.Value.(*entry[K, V]))
	}
	c.items = make(map[K]*list.Element)
	c.lruList = list.New()
	c.used = 0
	c.notifyAll(removed)
}

// Keys yields live keys from least to most recently used. The cache must
// not be mutated during iteration.
func (c *Cache[K, V]) Keys() iter.Seq[K] {
	return func(yield func(K) bool) {
		for elem := c.lruList.Back(); elem != nil; elem = elem.Prev() {
			if !yield(elem.Value.(*entry[K, V]).key) {
				return
			}
		}
	}
}

// evict drops least recently used entries while over capacity, stopping
// at keep.
func (c *Cache[K, V]) evict(keep *list.Element) []*entry[K, V] {
	var evicted []*entry[K, V]
	for c.used > c.capacity {
		oldest := c.lruList.Back()
		if oldest == nil || oldest == keep {
			break
		}
		evicted = append(evicted, c.unlink(oldest))
		c.stats.Evictions++
	}
	return evicted
}

func (c *Cache[K, V]) unlink(elem *list.Element) *entry[K, V] {
	ent := c.lruList.Remove(elem).(*entry[K, V])
	delete(c.items, ent.key)
	c.used -= ent.size
	return ent
}

// notifyAll runs after accounting is settled, so a listener that faults or
// reads the cache sees consistent state.
func (c *Cache[K, V]) notifyAll(removed []*entry[K, V]) {
	listener := c.listener
	if listener == nil {
		return
	}
	for _, ent := range removed {
		Notify(listener, ent.key, ent.value)
	}
}
