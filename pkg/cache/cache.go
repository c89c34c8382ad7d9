// Package cache provides a bounded in-memory response cache with LRU
// eviction and TTL expiry. Only completed blocking responses are cached;
// streamed output and errors never enter the cache.
package cache

import (
	"container/list"
	"log/slog"
	"sync"
	"time"

	"github.com/chorus-llm/chorus/pkg/api"
)

// DefaultCapacity bounds the entry count when no capacity is configured.
const DefaultCapacity = 1024

// DefaultTTL is applied when no TTL is configured.
const DefaultTTL = 5 * time.Minute

// Options configures a Cache.
type Options struct {
	// Capacity is the maximum entry count (default DefaultCapacity).
	Capacity int

	// TTL is the entry lifetime (default DefaultTTL).
	TTL time.Duration

	// SweepInterval is how often expired entries are removed in the
	// background. Zero disables the sweeper; expired entries are then
	// only dropped lazily on access.
	SweepInterval time.Duration

	Logger *slog.Logger
}

type entry struct {
	key       uint64
	resp      api.ChatResponse
	expiresAt time.Time
	lruElem   *list.Element
}

// Stats is a point-in-time counter snapshot.
type Stats struct {
	Hits      uint64
	Misses    uint64
	Evictions uint64
	Expired   uint64
	Size      int
}

// Cache is a fixed-capacity LRU with per-entry TTL. Safe for concurrent
// use. Close stops the background sweeper.
type Cache struct {
	mu       sync.Mutex
	entries  map[uint64]*entry
	lruList  *list.List // front = most recently used
	capacity int
	ttl      time.Duration
	stats    Stats
	logger   *slog.Logger

	stop     chan struct{}
	stopOnce sync.Once
}

// New creates a cache and starts its sweeper when an interval is set.
func New(opts Options) *Cache {
	if opts.Capacity <= 0 {
		opts.Capacity = DefaultCapacity
	}
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	c := &Cache{
		entries:  make(map[uint64]*entry),
		lruList:  list.New(),
		capacity: opts.Capacity,
		ttl:      opts.TTL,
		logger:   logger,
		stop:     make(chan struct{}),
	}
	if opts.SweepInterval > 0 {
		go c.sweepLoop(opts.SweepInterval)
	}
	return c
}

// Get returns the cached response for a request, if present and fresh.
// A hit refreshes the entry's LRU position but not its TTL.
func (c *Cache) Get(req *api.ChatRequest) (*api.ChatResponse, bool) {
	key := Key(req)

	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		c.stats.Misses++
		return nil, false
	}
	if time.Now().After(e.expiresAt) {
		c.removeLocked(e)
		c.stats.Expired++
		c.stats.Misses++
		return nil, false
	}

	c.lruList.MoveToFront(e.lruElem)
	c.stats.Hits++
	resp := e.resp
	return &resp, true
}

// Put stores a completed response. Streamed requests are refused: their
// responses were assembled chunk by chunk on the client side and a replay
// would not reproduce the stream.
func (c *Cache) Put(req *api.ChatRequest, resp *api.ChatResponse) {
	if req.Stream || resp == nil {
		return
	}
	key := Key(req)

	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[key]; ok {
		e.resp = *resp
		e.expiresAt = time.Now().Add(c.ttl)
		c.lruList.MoveToFront(e.lruElem)
		return
	}

	for len(c.entries) >= c.capacity {
		c.evictOldestLocked()
	}

	e := &entry{key: key, resp: *resp, expiresAt: time.Now().Add(c.ttl)}
	e.lruElem = c.lruList.PushFront(e)
	c.entries[key] = e
}

// Invalidate drops the entry for a request, if present.
func (c *Cache) Invalidate(req *api.ChatRequest) {
	key := Key(req)

	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[key]; ok {
		c.removeLocked(e)
	}
}

// Purge drops every entry.
func (c *Cache) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[uint64]*entry)
	c.lruList.Init()
}

// Stats returns a snapshot of the cache counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.stats
	s.Size = len(c.entries)
	return s
}

// Close stops the background sweeper. The cache remains usable.
func (c *Cache) Close() {
	c.stopOnce.Do(func() { close(c.stop) })
}

func (c *Cache) sweepLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if n := c.sweep(); n > 0 {
				c.logger.Debug("cache sweep removed expired entries", "count", n)
			}
		case <-c.stop:
			return
		}
	}
}

// sweep removes every expired entry and reports how many were dropped.
func (c *Cache) sweep() int {
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for _, e := range c.entries {
		if now.After(e.expiresAt) {
			c.removeLocked(e)
			c.stats.Expired++
			removed++
		}
	}
	return removed
}

func (c *Cache) evictOldestLocked() {
	oldest := c.lruList.Back()
	if oldest == nil {
		return
	}
	c.removeLocked(oldest.Value.(*entry))
	c.stats.Evictions++
}

func (c *Cache) removeLocked(e *entry) {
	c.lruList.Remove(e.lruElem)
	delete(c.entries, e.key)
}
