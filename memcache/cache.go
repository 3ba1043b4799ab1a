/*
WEFT
github.com/weftlabs/weft
*/

// Package memcache is an in-process LRU cache with per-item TTLs, a byte
// budget and hit/miss accounting. Entries are evicted least recently
// used first whenever the byte budget or the item cap is exceeded;
// expired entries are dropped lazily on access and by a background
// sweeper.
package memcache

import (
	"reflect"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

const (
	DefaultMaxBytes        = 10 << 20
	DefaultMaxItems        = 1000
	DefaultTTL             = time.Hour
	DefaultCleanupInterval = 5 * time.Second
)

// Stats is a point-in-time snapshot of cache activity. Evictions counts
// every entry the cache dropped on its own; Expired is the subset
// dropped because the TTL ran out.
type Stats struct {
	Hits      int64
	Misses    int64
	Evictions int64
	Expired   int64
	Bytes     int64
	Items     int
}

// Options configure a Cache. Zero fields fall back to the package
// defaults.
type Options struct {
	MaxBytes        int64
	MaxItems        int
	TTL             time.Duration
	CleanupInterval time.Duration
}

// DefaultCacheOptions returns the stock limits: 10 MiB, 1000 items, one
// hour TTL, five second sweep.
func DefaultCacheOptions() *Options {
	return &Options{
		MaxBytes:        DefaultMaxBytes,
		MaxItems:        DefaultMaxItems,
		TTL:             DefaultTTL,
		CleanupInterval: DefaultCleanupInterval,
	}
}

type entry[V any] struct {
	value     V
	expiresAt time.Time
	ttl       time.Duration
	size      int64
}

func (e *entry[V]) expired(now time.Time) bool {
	return now.After(e.expiresAt)
}

type evictReason int

const (
	reasonDelete evictReason = iota
	reasonCapacity
	reasonExpired
)

// Cache is a thread-safe LRU cache keyed by string. Construct with New;
// the zero value is not usable.
type Cache[V any] struct {
	mu     sync.Mutex
	lru    *lru.Cache[string, *entry[V]]
	bytes  int64
	stats  Stats
	reason evictReason // why the in-flight lru removal happened

	maxBytes int64
	ttl      time.Duration

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// New builds a cache with the given limits and starts its background
// sweeper. Call Close to stop the sweeper.
func New[V any](opts *Options) *Cache[V] {
	if opts == nil {
		opts = DefaultCacheOptions()
	}
	maxBytes := opts.MaxBytes
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	maxItems := opts.MaxItems
	if maxItems <= 0 {
		maxItems = DefaultMaxItems
	}
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	interval := opts.CleanupInterval
	if interval <= 0 {
		interval = DefaultCleanupInterval
	}

	c := &Cache[V]{
		maxBytes: maxBytes,
		ttl:      ttl,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	backing, err := lru.NewWithEvict(maxItems, c.onEvict)
	if err != nil {
		panic(err)
	}
	c.lru = backing

	go c.runSweeper(interval)
	return c
}

// Close stops the background sweeper. The cache stays usable; expiry
// then happens only on access.
func (c *Cache[V]) Close() {
	c.stopOnce.Do(func() {
		close(c.stop)
		<-c.done
	})
}

// Put stores value under key with the default TTL and an estimated byte
// cost.
func (c *Cache[V]) Put(key string, value V) {
	c.PutSized(key, value, 0, 0)
}

// PutTTL stores value with an explicit lifetime. Nonpositive ttl means
// the cache default.
func (c *Cache[V]) PutTTL(key string, value V, ttl time.Duration) {
	c.PutSized(key, value, ttl, 0)
}

// PutSized stores value with an explicit lifetime and byte cost. Zero
// size means estimated. Storing may evict older entries until the byte
// budget holds again.
func (c *Cache[V]) PutSized(key string, value V, ttl time.Duration, size int64) {
	if ttl <= 0 {
		ttl = c.ttl
	}
	if size <= 0 {
		size = estimateSize(value)
	}
	e := &entry[V]{
		value:     value,
		expiresAt: time.Now().Add(ttl),
		ttl:       ttl,
		size:      size,
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	// Replacing a key updates in place, so settle its old byte cost here.
	if old, ok := c.lru.Peek(key); ok {
		c.bytes -= old.size
	}
	c.reason = reasonCapacity
	c.lru.Add(key, e)
	c.bytes += size

	for c.bytes > c.maxBytes && c.lru.Len() > 0 {
		c.lru.RemoveOldest()
	}
}

// Get returns the live value for key. A hit refreshes both the entry's
// recency and its TTL window; an expired entry is dropped and counted as
// a miss.
func (c *Cache[V]) Get(key string) (V, bool) {
	var zero V
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.lru.Get(key)
	if !ok {
		c.stats.Misses++
		return zero, false
	}
	if e.expired(now) {
		c.reason = reasonExpired
		c.lru.Remove(key)
		c.stats.Misses++
		return zero, false
	}
	e.expiresAt = now.Add(e.ttl)
	c.stats.Hits++
	return e.value, true
}

// Contains reports whether key holds a live entry. It neither refreshes
// recency nor drops the entry when expired.
func (c *Cache[V]) Contains(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.lru.Peek(key)
	return ok && !e.expired(time.Now())
}

// Remove drops key and reports whether it was present. Deliberate
// removals do not count as evictions.
func (c *Cache[V]) Remove(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.reason = reasonDelete
	return c.lru.Remove(key)
}

// Clear drops every entry and resets the statistics.
func (c *Cache[V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.reason = reasonDelete
	c.lru.Purge()
	c.bytes = 0
	c.stats = Stats{}
}

// Len returns the number of entries currently held, expired or not.
func (c *Cache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// Stats returns a snapshot of the counters.
func (c *Cache[V]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.stats
	s.Bytes = c.bytes
	s.Items = c.lru.Len()
	return s
}

// onEvict runs inside lru mutations made under mu; it must not lock.
func (c *Cache[V]) onEvict(_ string, e *entry[V]) {
	c.bytes -= e.size
	switch c.reason {
	case reasonCapacity:
		c.stats.Evictions++
	case reasonExpired:
		c.stats.Evictions++
		c.stats.Expired++
	}
}

func (c *Cache[V]) runSweeper(interval time.Duration) {
	defer close(c.done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			c.sweep(time.Now())
		}
	}
}

// sweep drops entries expired as of now, then re-enforces the byte
// budget oldest first.
func (c *Cache[V]) sweep(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, key := range c.lru.Keys() {
		e, ok := c.lru.Peek(key)
		if !ok || !e.expired(now) {
			continue
		}
		c.reason = reasonExpired
		c.lru.Remove(key)
	}

	c.reason = reasonCapacity
	for c.bytes > c.maxBytes && c.lru.Len() > 0 {
		c.lru.RemoveOldest()
	}
}

// estimateSize is the shallow cost model behind the byte budget: strings
// and byte slices cost their length, everything else its in-memory size.
func estimateSize[V any](value V) int64 {
	switch v := any(value).(type) {
	case string:
		return int64(len(v)) + 1
	case []byte:
		return int64(len(v))
	default:
		if t := reflect.TypeOf(value); t != nil {
			return int64(t.Size())
		}
		// nil interface value
		return 16
	}
}
