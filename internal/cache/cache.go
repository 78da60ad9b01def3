// Package cache provides a persistent LRU response cache with TTL expiry.
package cache

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"assistgate/internal/domain"
)

// Entry is a single cached response
type Entry struct {
	Key         string              `json:"key"`
	Response    domain.ChatResponse `json:"response"`
	CreatedAt   time.Time           `json:"created_at"`
	LastAccess  time.Time           `json:"last_access"`
	AccessCount int64               `json:"access_count"`
	SizeBytes   int64               `json:"size_bytes"`

	// seq orders entries by insertion, breaking LRU ties
	seq int64
}

// Stats holds cache counters
type Stats struct {
	Hits          int64   `json:"hits"`
	Misses        int64   `json:"misses"`
	TotalRequests int64   `json:"total_requests"`
	HitRate       float64 `json:"hit_rate"`
	Evictions     int64   `json:"evictions"`
	Expirations   int64   `json:"expirations"`
	Entries       int     `json:"entries"`
	SizeBytes     int64   `json:"size_bytes"`
	MaxEntries    int     `json:"max_entries"`
	MaxSizeBytes  int64   `json:"max_size_bytes"`
}

// Options configures a Cache
type Options struct {
	Path          string
	TTL           time.Duration
	MaxEntries    int
	MaxSizeBytes  int64
	FlushInterval time.Duration
	SweepInterval time.Duration
	Logger        *slog.Logger
	Now           func() time.Time // overridable for tests
}

// Cache is an in-memory LRU cache persisted to a JSON snapshot file
type Cache struct {
	mu      sync.Mutex
	entries map[string]*Entry
	size    int64
	seq     int64
	dirty   bool

	hits        int64
	misses      int64
	evictions   int64
	expirations int64

	path          string
	ttl           time.Duration
	maxEntries    int
	maxSize       int64
	flushInterval time.Duration
	sweepInterval time.Duration
	logger        *slog.Logger
	now           func() time.Time
}

// New creates a cache and loads any persisted snapshot from disk.
// A missing or corrupt snapshot file yields an empty cache.
func New(opts Options) *Cache {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.TTL <= 0 {
		opts.TTL = 24 * time.Hour
	}

	c := &Cache{
		entries:       make(map[string]*Entry),
		path:          opts.Path,
		ttl:           opts.TTL,
		maxEntries:    opts.MaxEntries,
		maxSize:       opts.MaxSizeBytes,
		flushInterval: opts.FlushInterval,
		sweepInterval: opts.SweepInterval,
		logger:        opts.Logger,
		now:           opts.Now,
	}
	c.loadSnapshot()
	return c
}

// Get returns the cached response for a key, if present and fresh.
// A hit bumps the entry's access count and recency; an expired entry is
// removed and counts as a miss. An absent key is a normal outcome.
func (c *Cache) Get(key string) (*domain.ChatResponse, bool) {
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		c.misses++
		return nil, false
	}
	if now.Sub(entry.CreatedAt) > c.ttl {
		c.removeLocked(key)
		c.expirations++
		c.misses++
		c.dirty = true
		return nil, false
	}

	entry.LastAccess = now
	entry.AccessCount++
	c.hits++
	c.dirty = true

	resp := entry.Response
	return &resp, true
}

// Put stores a response, evicting least-recently-used entries until the
// entry-count and aggregate-size budgets hold. A response larger than
// the whole size budget is not cached.
func (c *Cache) Put(key string, resp *domain.ChatResponse) {
	size := int64(len(resp.Content))
	now := c.now()

	if c.maxSize > 0 && size > c.maxSize {
		c.logger.Warn("response exceeds cache size budget, not caching",
			"size_bytes", size, "max_size_bytes", c.maxSize)
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if old, ok := c.entries[key]; ok {
		c.size -= old.SizeBytes
	}

	c.seq++
	c.entries[key] = &Entry{
		Key:        key,
		Response:   *resp,
		CreatedAt:  now,
		LastAccess: now,
		SizeBytes:  size,
		seq:        c.seq,
	}
	c.size += size
	c.dirty = true

	c.evictLocked()
}

// evictLocked removes least-recently-used entries until both budgets
// hold. Ties on LastAccess fall to the earlier-inserted entry.
func (c *Cache) evictLocked() {
	for c.overBudgetLocked() {
		var oldest *Entry
		for _, entry := range c.entries {
			if oldest == nil ||
				entry.LastAccess.Before(oldest.LastAccess) ||
				(entry.LastAccess.Equal(oldest.LastAccess) && entry.seq < oldest.seq) {
				oldest = entry
			}
		}
		if oldest == nil {
			return
		}
		c.removeLocked(oldest.Key)
		c.evictions++
	}
}

func (c *Cache) overBudgetLocked() bool {
	if c.maxEntries > 0 && len(c.entries) > c.maxEntries {
		return true
	}
	if c.maxSize > 0 && c.size > c.maxSize {
		return true
	}
	return false
}

func (c *Cache) removeLocked(key string) {
	if entry, ok := c.entries[key]; ok {
		c.size -= entry.SizeBytes
		delete(c.entries, key)
	}
}

// Prune removes all expired entries, re-applies the budget eviction and
// returns how many entries were removed
func (c *Cache) Prune() int {
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	before := len(c.entries)
	for key, entry := range c.entries {
		if now.Sub(entry.CreatedAt) > c.ttl {
			c.removeLocked(key)
			c.expirations++
		}
	}
	c.evictLocked()

	removed := before - len(c.entries)
	if removed > 0 {
		c.dirty = true
	}
	return removed
}

// Clear removes all entries
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[string]*Entry)
	c.size = 0
	c.dirty = true
}

// Stats returns a snapshot of the cache counters
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	total := c.hits + c.misses
	rate := 0.0
	if total > 0 {
		rate = float64(c.hits) / float64(total)
	}
	return Stats{
		Hits:          c.hits,
		Misses:        c.misses,
		TotalRequests: total,
		HitRate:       rate,
		Evictions:     c.evictions,
		Expirations:   c.expirations,
		Entries:       len(c.entries),
		SizeBytes:     c.size,
		MaxEntries:    c.maxEntries,
		MaxSizeBytes:  c.maxSize,
	}
}

// Len returns the number of entries
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Run drives the background flush and sweep loops until the context is
// cancelled, then performs a final flush. Persistence runs off the
// request path; request handling never blocks on disk I/O.
func (c *Cache) Run(ctx context.Context) {
	flushInterval := c.flushInterval
	if flushInterval <= 0 {
		flushInterval = 60 * time.Second
	}
	sweepInterval := c.sweepInterval
	if sweepInterval <= 0 {
		sweepInterval = 10 * time.Minute
	}

	flush := time.NewTicker(flushInterval)
	defer flush.Stop()
	sweep := time.NewTicker(sweepInterval)
	defer sweep.Stop()

	for {
		select {
		case <-ctx.Done():
			c.Flush()
			return
		case <-flush.C:
			c.Flush()
		case <-sweep.C:
			if removed := c.Prune(); removed > 0 {
				c.logger.Info("cache sweep removed expired entries", "removed", removed)
			}
		}
	}
}
