package cache

import (
	"container/list"
	"context"
	"hash/fnv"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

const shardCount = 32

type shard struct {
	mutex    sync.RWMutex
	entries  map[string]*Entry
	inflight map[string]*Writer
}

// Cache is a concurrent, size-bounded response cache.
type Cache struct {
	shards [shardCount]*shard
	config atomic.Pointer[RuntimeConfiguration]

	// admission serializes insertion, eviction and Reload.
	admission sync.Mutex
	bytes     atomic.Int64
	count     atomic.Int64

	// lru orders stored entries from most (front) to least recently used.
	lruMutex sync.Mutex
	lru      *list.List

	hits       atomic.Int64
	misses     atomic.Int64
	stores     atomic.Int64
	rejections atomic.Int64
	evictions  atomic.Int64

	now    func() time.Time
	logger *slog.Logger
}

// Option customizes a Cache.
type Option func(*Cache)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

func New(cfg RuntimeConfiguration, logger *slog.Logger, opts ...Option) *Cache {
	if logger == nil {
		logger = slog.Default()
	}

	c := &Cache{
		now:    time.Now,
		logger: logger,
		lru:    list.New(),
	}
	for i := range c.shards {
		c.shards[i] = &shard{
			entries:  make(map[string]*Entry),
			inflight: make(map[string]*Writer),
		}
	}
	for _, opt := range opts {
		opt(c)
	}

	c.config.Store(&cfg)
	return c
}

func (c *Cache) shard(key string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return c.shards[h.Sum32()%shardCount]
}

// Configuration returns the limits in effect.
func (c *Cache) Configuration() RuntimeConfiguration {
	return *c.config.Load()
}

// Lookup returns the entry for key if it is complete, fresh, and within the
// current limits. Entries failing the last two checks are evicted.
func (c *Cache) Lookup(key string) (*Entry, bool) {
	sh := c.shard(key)
	sh.mutex.RLock()
	e := sh.entries[key]
	sh.mutex.RUnlock()

	if e == nil {
		c.misses.Add(1)
		return nil, false
	}

	cfg := c.config.Load()
	if !e.Fresh(c.now()) || cfg.check(e.Size()) != nil {
		c.remove(e)
		c.misses.Add(1)
		return nil, false
	}

	c.touch(e)
	c.hits.Add(1)
	return e, true
}

// BeginPopulate reserves key for a new entry. declaredLength is the response
// Content-Length, or -1 when unknown. The returned Writer must be committed or
// aborted.
func (c *Cache) BeginPopulate(key string, declaredLength int64, meta Meta) (*Writer, error) {
	if declaredLength >= 0 {
		if err := c.config.Load().check(declaredLength); err != nil {
			c.rejections.Add(1)
			return nil, err
		}
	}

	sh := c.shard(key)
	sh.mutex.Lock()
	defer sh.mutex.Unlock()

	if _, busy := sh.inflight[key]; busy {
		return nil, ErrPopulationInFlight
	}

	w := newWriter(c, key, declaredLength, meta)
	sh.inflight[key] = w
	return w, nil
}

// Wait blocks until the population in flight for key finishes or ctx is done,
// then looks key up. Without a population in flight it is a plain Lookup.
func (c *Cache) Wait(ctx context.Context, key string) (*Entry, bool) {
	sh := c.shard(key)
	sh.mutex.RLock()
	w := sh.inflight[key]
	sh.mutex.RUnlock()

	if w != nil {
		select {
		case <-w.Done():
		case <-ctx.Done():
			return nil, false
		}
	}
	return c.Lookup(key)
}

// InFlight reports whether key is being populated.
func (c *Cache) InFlight(key string) bool {
	sh := c.shard(key)
	sh.mutex.RLock()
	defer sh.mutex.RUnlock()
	_, ok := sh.inflight[key]
	return ok
}

// insert stores e, evicting least recently used entries until it fits.
func (c *Cache) insert(e *Entry) error {
	c.admission.Lock()
	defer c.admission.Unlock()

	cfg := c.config.Load()
	if err := cfg.check(e.Size()); err != nil {
		return err
	}

	sh := c.shard(e.key)
	sh.mutex.RLock()
	old := sh.entries[e.key]
	sh.mutex.RUnlock()
	if old != nil {
		c.remove(old)
	}

	if cfg.MaxSize > 0 {
		c.evictLocked(cfg.MaxSize - e.Size())
	}

	// Linked and counted before it becomes visible, so a concurrent remove
	// always finds it in the list.
	c.lruMutex.Lock()
	e.element = c.lru.PushFront(e)
	c.lruMutex.Unlock()
	c.bytes.Add(e.Size())
	c.count.Add(1)

	sh.mutex.Lock()
	sh.entries[e.key] = e
	sh.mutex.Unlock()

	c.stores.Add(1)
	return nil
}

// touch marks e as the most recently used entry.
func (c *Cache) touch(e *Entry) {
	c.lruMutex.Lock()
	if e.element != nil {
		c.lru.MoveToFront(e.element)
	}
	c.lruMutex.Unlock()
}

func (c *Cache) unlink(e *Entry) {
	c.lruMutex.Lock()
	if e.element != nil {
		c.lru.Remove(e.element)
		e.element = nil
	}
	c.lruMutex.Unlock()
}

func (c *Cache) oldest() *Entry {
	c.lruMutex.Lock()
	defer c.lruMutex.Unlock()

	back := c.lru.Back()
	if back == nil {
		return nil
	}
	return back.Value.(*Entry)
}

// evictLocked removes least recently used entries until at most target bytes
// are stored. The admission mutex must be held.
func (c *Cache) evictLocked(target int64) {
	for c.bytes.Load() > target {
		e := c.oldest()
		if e == nil {
			return
		}

		if !c.remove(e) {
			c.unlink(e)
			continue
		}
		c.evictions.Add(1)
		c.logger.Debug("Evicted cache entry",
			slog.String("key", e.key),
			slog.Int64("size", e.Size()))
	}
}

// remove deletes e if it is still the entry stored under its key.
func (c *Cache) remove(e *Entry) bool {
	sh := c.shard(e.key)
	sh.mutex.Lock()
	if sh.entries[e.key] != e {
		sh.mutex.Unlock()
		return false
	}
	delete(sh.entries, e.key)
	sh.mutex.Unlock()

	c.unlink(e)
	c.bytes.Add(-e.Size())
	c.count.Add(-1)
	return true
}

func (c *Cache) all() []*Entry {
	out := make([]*Entry, 0, c.count.Load())
	for _, sh := range c.shards {
		sh.mutex.RLock()
		for _, e := range sh.entries {
			out = append(out, e)
		}
		sh.mutex.RUnlock()
	}
	return out
}

// Reload swaps the limits. Entries that violate the new limits are evicted,
// then least recently used entries until MaxSize holds. It returns false when
// cfg equals the limits in effect.
func (c *Cache) Reload(cfg RuntimeConfiguration) bool {
	c.admission.Lock()
	defer c.admission.Unlock()

	if *c.config.Load() == cfg {
		return false
	}
	c.config.Store(&cfg)

	removed := 0
	for _, e := range c.all() {
		if cfg.check(e.Size()) != nil && c.remove(e) {
			removed++
		}
	}
	c.evictions.Add(int64(removed))

	if cfg.MaxSize > 0 {
		c.evictLocked(cfg.MaxSize)
	}

	c.logger.Info("Cache configuration reloaded",
		slog.Int64("max_size", cfg.MaxSize),
		slog.Int64("max_file_size", cfg.MaxFileSize),
		slog.Int("evicted", removed))
	return true
}

// Sweep removes expired entries and returns how many were removed.
func (c *Cache) Sweep() int {
	now := c.now()
	removed := 0
	for _, e := range c.all() {
		if !e.Fresh(now) && c.remove(e) {
			removed++
		}
	}
	c.evictions.Add(int64(removed))
	return removed
}

// Purge removes every entry.
func (c *Cache) Purge() {
	c.admission.Lock()
	defer c.admission.Unlock()

	for _, e := range c.all() {
		c.remove(e)
	}
}

// Size returns the number of stored entries.
func (c *Cache) Size() int64 {
	return c.count.Load()
}

// Bytes returns the stored body bytes.
func (c *Cache) Bytes() int64 {
	return c.bytes.Load()
}

// Stats is a point-in-time view of the cache.
type Stats struct {
	Entries     int64 `json:"entries"`
	Bytes       int64 `json:"bytes"`
	MaxSize     int64 `json:"max_size"`
	MaxFileSize int64 `json:"max_file_size"`
	InFlight    int   `json:"in_flight"`
	Hits        int64 `json:"hits"`
	Misses      int64 `json:"misses"`
	Stores      int64 `json:"stores"`
	Rejections  int64 `json:"rejections"`
	Evictions   int64 `json:"evictions"`
}

func (c *Cache) Stats() Stats {
	cfg := c.config.Load()

	inflight := 0
	for _, sh := range c.shards {
		sh.mutex.RLock()
		inflight += len(sh.inflight)
		sh.mutex.RUnlock()
	}

	return Stats{
		Entries:     c.count.Load(),
		Bytes:       c.bytes.Load(),
		MaxSize:     cfg.MaxSize,
		MaxFileSize: cfg.MaxFileSize,
		InFlight:    inflight,
		Hits:        c.hits.Load(),
		Misses:      c.misses.Load(),
		Stores:      c.stores.Load(),
		Rejections:  c.rejections.Load(),
		Evictions:   c.evictions.Load(),
	}
}
