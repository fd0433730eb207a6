package cache

import (
	"container/list"
	"context"
	"sort"
	"sync"
)

// lruEntry links the cache key and the entry to the list element.
type lruEntry struct {
	key   string
	size  int64
	value *Entry
	// pinned entries count toward the quota but are never evicted.
	pinned bool
}

// InMemoryQuotaLRU implements Store with a hard memory limit and LRU policy.
type InMemoryQuotaLRU struct {
	mutex sync.Mutex
	// Doubly linked list for LRU order
	lru   *list.List
	cache map[string]*list.Element
	// Hard memory limit in bytes
	maxBytes int64
	// Current total size of all stored items
	currentBytes int64
}

// NewInMemoryQuotaLRU creates a new InMemoryQuotaLRU cache.
// maxMB is the memory limit in megabytes.
func NewInMemoryQuotaLRU(maxMB int) *InMemoryQuotaLRU {
	return &InMemoryQuotaLRU{
		lru:      list.New(),
		cache:    make(map[string]*list.Element),
		maxBytes: int64(maxMB) * 1024 * 1024,
	}
}

// Get returns a copy of the entry and moves it to the front of the list (MRU).
func (lru *InMemoryQuotaLRU) Get(_ context.Context, key string) (*Entry, bool, error) {
	lru.mutex.Lock()
	defer lru.mutex.Unlock()

	element, ok := lru.cache[key]
	if !ok {
		return nil, false, nil
	}
	lru.lru.MoveToFront(element)
	return element.Value.(*lruEntry).value.Clone(), true, nil
}

// Set adds or updates an entry, triggering eviction if the hard memory limit is hit.
// Overwriting a pinned entry keeps it pinned.
func (lru *InMemoryQuotaLRU) Set(_ context.Context, key string, entry *Entry) error {
	lru.set(key, entry, false)
	return nil
}

// SetPinned stores an entry that eviction never removes. Only Delete, or
// deleting the whole generation, drops it.
func (lru *InMemoryQuotaLRU) SetPinned(_ context.Context, key string, entry *Entry) error {
	lru.set(key, entry, true)
	return nil
}

func (lru *InMemoryQuotaLRU) set(key string, entry *Entry, pin bool) {
	stored := entry.Clone()
	// compute before acquiring lock
	itemSize := stored.Size()

	lru.mutex.Lock()
	defer lru.mutex.Unlock()

	if element, ok := lru.cache[key]; ok {
		oldEntry := element.Value.(*lruEntry)
		lru.currentBytes -= oldEntry.size
		oldEntry.size = itemSize
		oldEntry.value = stored
		oldEntry.pinned = oldEntry.pinned || pin
		lru.currentBytes += itemSize
		lru.lru.MoveToFront(element)
	} else {
		newEntry := &lruEntry{key: key, size: itemSize, value: stored, pinned: pin}
		element := lru.lru.PushFront(newEntry)
		lru.cache[key] = element
		lru.currentBytes += itemSize
	}
	lru.evictLocked()
}

// evictLocked drops unpinned entries, least recently used first, until the
// store fits its quota or only pinned entries are left.
func (lru *InMemoryQuotaLRU) evictLocked() {
	element := lru.lru.Back()
	for lru.currentBytes > lru.maxBytes && element != nil {
		prev := element.Prev()
		if evictedEntry := element.Value.(*lruEntry); !evictedEntry.pinned {
			lru.lru.Remove(element)
			delete(lru.cache, evictedEntry.key)
			lru.currentBytes -= evictedEntry.size
		}
		element = prev
	}
}

// Delete removes an entry from the cache.
func (lru *InMemoryQuotaLRU) Delete(_ context.Context, key string) error {
	lru.mutex.Lock()
	defer lru.mutex.Unlock()

	if element, ok := lru.cache[key]; ok {
		evictedEntry := lru.lru.Remove(element).(*lruEntry)
		delete(lru.cache, evictedEntry.key)
		lru.currentBytes -= evictedEntry.size
	}
	return nil
}

// Keys returns the stored keys in sorted order.
func (lru *InMemoryQuotaLRU) Keys(_ context.Context) ([]string, error) {
	lru.mutex.Lock()
	keys := make([]string, 0, len(lru.cache))
	for key := range lru.cache {
		keys = append(keys, key)
	}
	lru.mutex.Unlock()

	sort.Strings(keys)
	return keys, nil
}

// MemoryRegistry keeps every generation in process memory, each with its own quota.
type MemoryRegistry struct {
	mutex  sync.Mutex
	maxMB  int
	stores map[string]*InMemoryQuotaLRU
}

// NewMemoryRegistry creates a registry whose generations are capped at maxMB each.
func NewMemoryRegistry(maxMB int) *MemoryRegistry {
	return &MemoryRegistry{
		maxMB:  maxMB,
		stores: make(map[string]*InMemoryQuotaLRU),
	}
}

func (r *MemoryRegistry) Open(_ context.Context, name string) (Store, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	store, ok := r.stores[name]
	if !ok {
		store = NewInMemoryQuotaLRU(r.maxMB)
		r.stores[name] = store
	}
	return store, nil
}

func (r *MemoryRegistry) Names(_ context.Context) ([]string, error) {
	r.mutex.Lock()
	names := make([]string, 0, len(r.stores))
	for name := range r.stores {
		names = append(names, name)
	}
	r.mutex.Unlock()

	sort.Strings(names)
	return names, nil
}

func (r *MemoryRegistry) Delete(_ context.Context, name string) (bool, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if _, ok := r.stores[name]; !ok {
		return false, nil
	}
	delete(r.stores, name)
	return true, nil
}

// Close is a no-op for in-memory, but required by the interface.
func (r *MemoryRegistry) Close() error {
	return nil
}
