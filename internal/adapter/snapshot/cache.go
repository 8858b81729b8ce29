package snapshot

import (
	"errors"
	"sync"

	"github.com/couchcryptid/ensemble-features/internal/domain"
	"github.com/couchcryptid/ensemble-features/internal/observability"
)

// CachedLoader wraps a SeriesSource with an in-memory LRU cache keyed by path.
// Derivation reads each snapshot for two consecutive steps, so a capacity of
// twice the model count keeps every repeat read a hit. Read failures are
// remembered for the life of the loader, so a corrupt snapshot is opened and
// counted once however many groups need it.
type CachedLoader struct {
	inner   domain.SeriesSource
	cache   *lruCache
	metrics *observability.Metrics

	mu     sync.Mutex
	failed map[string]error
}

// NewCachedLoader creates a cache decorator around a series source.
func NewCachedLoader(inner domain.SeriesSource, maxEntries int, metrics *observability.Metrics) *CachedLoader {
	if maxEntries < 1 {
		maxEntries = 1
	}
	return &CachedLoader{
		inner:   inner,
		cache:   newLRUCache(maxEntries),
		metrics: metrics,
		failed:  make(map[string]error),
	}
}

func (c *CachedLoader) Series(file domain.SnapshotFile) (domain.RunSeries, error) {
	if s, ok := c.cache.get(file.Path); ok {
		c.metrics.SeriesCache.WithLabelValues("hit").Inc()
		return s, nil
	}
	c.mu.Lock()
	err, failed := c.failed[file.Path]
	c.mu.Unlock()
	if failed {
		c.metrics.SeriesCache.WithLabelValues("hit").Inc()
		return domain.RunSeries{}, err
	}

	c.metrics.SeriesCache.WithLabelValues("miss").Inc()
	s, err := c.inner.Series(file)
	if err != nil {
		var readErr *domain.SnapshotReadError
		if errors.As(err, &readErr) {
			c.metrics.SnapshotReadErrors.Inc()
		}
		c.mu.Lock()
		c.failed[file.Path] = err
		c.mu.Unlock()
		return s, err
	}
	c.cache.put(file.Path, s)
	return s, nil
}

// lruCache is a simple thread-safe LRU cache for parsed series.
type lruCache struct {
	maxEntries int
	mu         sync.Mutex
	entries    map[string]*entry
	head       *entry // most recently used
	tail       *entry // least recently used
}

type entry struct {
	key   string
	value domain.RunSeries
	prev  *entry
	next  *entry
}

func newLRUCache(maxEntries int) *lruCache {
	return &lruCache{
		maxEntries: maxEntries,
		entries:    make(map[string]*entry),
	}
}

func (c *lruCache) get(key string) (domain.RunSeries, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return domain.RunSeries{}, false
	}
	c.moveToFront(e)
	return e.value, true
}

func (c *lruCache) put(key string, value domain.RunSeries) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[key]; ok {
		e.value = value
		c.moveToFront(e)
		return
	}

	e := &entry{key: key, value: value}
	c.entries[key] = e
	c.addToFront(e)

	if len(c.entries) > c.maxEntries {
		c.evictTail()
	}
}

func (c *lruCache) size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *lruCache) moveToFront(e *entry) {
	if e == c.head {
		return
	}
	c.remove(e)
	c.addToFront(e)
}

func (c *lruCache) addToFront(e *entry) {
	e.next = c.head
	e.prev = nil
	if c.head != nil {
		c.head.prev = e
	}
	c.head = e
	if c.tail == nil {
		c.tail = e
	}
}

func (c *lruCache) remove(e *entry) {
	if e.prev != nil {
		e.prev.next = e.next
	} else {
		c.head = e.next
	}
	if e.next != nil {
		e.next.prev = e.prev
	} else {
		c.tail = e.prev
	}
}

func (c *lruCache) evictTail() {
	if c.tail == nil {
		return
	}
	delete(c.entries, c.tail.key)
	c.remove(c.tail)
}
