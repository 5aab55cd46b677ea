package cache

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/l0p7/pagectrl/internal/metrics"
)

// ContentCache is a namespaced cache of rendered pages with lazy expiration:
// an entry is only served when it was created at or after the freshness
// timestamp supplied by the caller. A disabled cache misses on every read and
// ignores every write.
type ContentCache struct {
	name      string
	namespace string
	enabled   bool
	store     Store
	logger    *slog.Logger
	metrics   *metrics.Recorder

	// lastModified is the cache-wide freshness timestamp in unix nanoseconds.
	lastModified atomic.Int64
}

// Options configures a ContentCache.
type Options struct {
	Name      string
	Namespace string
	Enabled   bool
	Store     Store
	Logger    *slog.Logger
	Metrics   *metrics.Recorder
}

// NewContentCache wires a content cache over the supplied store. A nil store
// falls back to the in-memory backend.
func NewContentCache(opts Options) *ContentCache {
	store := opts.Store
	if store == nil {
		store = NewMemory()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	c := &ContentCache{
		name:      opts.Name,
		namespace: opts.Namespace,
		enabled:   opts.Enabled,
		store:     store,
		logger:    logger.With(slog.String("cache", opts.Name)),
		metrics:   opts.Metrics,
	}
	c.lastModified.Store(time.Now().UnixNano())
	return c
}

func (c *ContentCache) Name() string      { return c.name }
func (c *ContentCache) Namespace() string { return c.namespace }
func (c *ContentCache) Enabled() bool     { return c.enabled }

// Get returns the entry stored under key when it is not older than freshness.
func (c *ContentCache) Get(ctx context.Context, key string, freshness time.Time) (Entry, bool) {
	if !c.enabled {
		return Entry{}, false
	}
	start := time.Now()
	entry, ok := c.load(ctx, key)
	switch {
	case !ok:
		c.logger.Debug("cache miss", slog.String("key", key))
		c.metrics.ObserveCacheLookup(c.name, metrics.CacheLookupMiss, time.Since(start))
		return Entry{}, false
	case !entry.FreshSince(freshness):
		c.logger.Debug("cache hit expired", slog.String("key", key), slog.Time("created_at", entry.CreatedAt), slog.Time("freshness", freshness))
		c.metrics.ObserveCacheLookup(c.name, metrics.CacheLookupStale, time.Since(start))
		return Entry{}, false
	}
	c.logger.Debug("cache hit", slog.String("key", key))
	c.metrics.ObserveCacheLookup(c.name, metrics.CacheLookupHit, time.Since(start))
	return entry, true
}

// GetUnchecked returns the entry stored under key without a freshness check.
// It is used where clears already invalidate synchronously.
func (c *ContentCache) GetUnchecked(ctx context.Context, key string) (Entry, bool) {
	if !c.enabled {
		return Entry{}, false
	}
	start := time.Now()
	entry, ok := c.load(ctx, key)
	outcome := metrics.CacheLookupMiss
	if ok {
		outcome = metrics.CacheLookupHit
	}
	c.logger.Debug("cache lookup", slog.String("key", key), slog.Bool("hit", ok))
	c.metrics.ObserveCacheLookup(c.name, outcome, time.Since(start))
	return entry, ok
}

// Put inserts or replaces the entry under key. A zero CreatedAt is stamped
// with the current time.
func (c *ContentCache) Put(ctx context.Context, key string, entry Entry) error {
	if !c.enabled {
		return nil
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	start := time.Now()
	err := c.store.Put(ctx, key, entry)
	outcome := metrics.CacheStoreStored
	if err != nil {
		outcome = metrics.CacheStoreError
		c.logger.Error("cache put failed", slog.String("key", key), slog.Any("error", err))
	} else {
		c.logger.Debug("cache put", slog.String("key", key), slog.Int("bytes", len(entry.Content)))
	}
	c.metrics.ObserveCacheStore(c.name, outcome, time.Since(start))
	return err
}

// Remove drops a single entry.
func (c *ContentCache) Remove(ctx context.Context, key string) {
	if !c.enabled {
		return
	}
	if err := c.store.Delete(ctx, key); err != nil {
		c.logger.Error("cache remove failed", slog.String("key", key), slog.Any("error", err))
		return
	}
	c.logger.Debug("cache remove", slog.String("key", key))
}

// ClearWeblog physically removes every entry belonging to one weblog.
func (c *ContentCache) ClearWeblog(ctx context.Context, weblog string) {
	if !c.enabled {
		return
	}
	c.clearPrefix(ctx, WeblogPrefix(c.namespace, weblog), "weblog")
}

// Clear removes every entry in this cache's namespace.
func (c *ContentCache) Clear(ctx context.Context) {
	if !c.enabled {
		return
	}
	c.clearPrefix(ctx, c.namespace+":", "all")
}

// LastModified is the cache-wide freshness timestamp.
func (c *ContentCache) LastModified() time.Time {
	return time.Unix(0, c.lastModified.Load())
}

// Touch advances the cache-wide freshness timestamp. Earlier values are ignored.
func (c *ContentCache) Touch(at time.Time) {
	next := at.UnixNano()
	for {
		current := c.lastModified.Load()
		if next <= current {
			return
		}
		if c.lastModified.CompareAndSwap(current, next) {
			return
		}
	}
}

func (c *ContentCache) Size(ctx context.Context) (int64, error) {
	return c.store.Size(ctx)
}

func (c *ContentCache) Close(ctx context.Context) error {
	return c.store.Close(ctx)
}

func (c *ContentCache) load(ctx context.Context, key string) (Entry, bool) {
	entry, ok, err := c.store.Get(ctx, key)
	if err != nil {
		c.logger.Warn("cache get failed", slog.String("key", key), slog.Any("error", err))
		return Entry{}, false
	}
	return entry, ok
}

func (c *ContentCache) clearPrefix(ctx context.Context, prefix, scope string) {
	start := time.Now()
	if err := c.store.DeletePrefix(ctx, prefix); err != nil {
		c.logger.Error("cache clear failed", slog.String("prefix", prefix), slog.Any("error", err))
		return
	}
	c.logger.Debug("cache clear", slog.String("prefix", prefix))
	c.metrics.ObserveCacheClear(c.name, scope, time.Since(start))
}
