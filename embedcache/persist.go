package embedcache

import (
	"container/list"
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/poiesic/knowmesh/core"
	"github.com/poiesic/knowmesh/storage"
)

func unknownModel(model string) error {
	return fmt.Errorf("%w: %q", ErrUnknownModel, model)
}

// Load replaces the in-memory state with the persisted cache. Expired and
// stale-version entries are skipped and scheduled for deletion. A corrupted
// store is discarded and the cache starts empty; that is logged, not returned.
func (c *Cache) Load(ctx context.Context) error {
	if c.repo == nil {
		return nil
	}

	var loaded []core.CacheEntry
	var stale []string
	err := c.repo.LoadEntries(ctx, func(e core.CacheEntry) error {
		if !c.live(e) {
			stale = append(stale, e.Key)
			return nil
		}
		loaded = append(loaded, e)
		return nil
	})
	if errors.Is(err, storage.ErrCorrupted) {
		c.logger.Warn("embedding cache snapshot unreadable, rebuilding from scratch", "err", err)
		if err := c.repo.ClearEntries(ctx); err != nil {
			c.logger.Warn("failed to clear corrupted embedding cache", "err", err)
		}
		c.reset(nil, nil)
		return nil
	}
	if err != nil {
		return err
	}

	slices.SortStableFunc(loaded, func(a, b core.CacheEntry) int {
		return a.Timestamp.Compare(b.Timestamp)
	})
	c.reset(loaded, stale)
	c.logger.Info("embedding cache loaded", "entries", len(loaded), "stale", len(stale))
	return nil
}

func (c *Cache) reset(entries []core.CacheEntry, stale []string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[string]*list.Element, len(entries))
	c.order.Init()
	c.dims = make(map[string]int)
	c.dirty = make(map[string]struct{})
	c.removed = make(map[string]struct{}, len(stale))
	for _, key := range stale {
		c.removed[key] = struct{}{}
	}
	for _, e := range entries {
		c.insertLocked(e)
	}
	c.evictLocked()
	c.metrics.CacheEntries.Set(float64(len(c.entries)))
}

// Flush writes entries added since the last flush and deletes evicted ones.
// On failure the pending work is kept for the next attempt.
func (c *Cache) Flush(ctx context.Context) error {
	if c.repo == nil {
		return nil
	}
	c.flushMu.Lock()
	defer c.flushMu.Unlock()

	c.mu.Lock()
	puts := make([]core.CacheEntry, 0, len(c.dirty))
	for key := range c.dirty {
		if el, ok := c.entries[key]; ok {
			puts = append(puts, *el.Value.(*core.CacheEntry))
		}
	}
	deletes := make([]string, 0, len(c.removed))
	for key := range c.removed {
		deletes = append(deletes, key)
	}
	c.dirty = make(map[string]struct{})
	c.removed = make(map[string]struct{})
	c.mu.Unlock()

	if len(puts) == 0 && len(deletes) == 0 {
		return nil
	}

	err := c.repo.DeleteEntries(ctx, deletes...)
	if err == nil {
		err = c.repo.PutEntries(ctx, puts...)
	}
	if err != nil {
		c.requeue(puts, deletes)
		c.logger.Warn("failed to flush embedding cache", "entries", len(puts), "deletes", len(deletes), "err", err)
		return err
	}
	c.logger.Debug("embedding cache flushed", "entries", len(puts), "deletes", len(deletes))
	return nil
}

func (c *Cache) requeue(puts []core.CacheEntry, deletes []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, e := range puts {
		if _, ok := c.entries[e.Key]; ok {
			c.dirty[e.Key] = struct{}{}
		}
	}
	for _, key := range deletes {
		if _, ok := c.entries[key]; !ok {
			c.removed[key] = struct{}{}
		}
	}
}

// maybeFlushLocked starts a background flush once enough entries are dirty.
func (c *Cache) maybeFlushLocked() {
	if c.repo == nil || c.cfg.FlushThreshold == 0 || len(c.dirty) < c.cfg.FlushThreshold {
		return
	}
	if !c.flushing.CompareAndSwap(false, true) {
		return
	}
	c.bg.Add(1)
	go func() {
		defer c.bg.Done()
		defer c.flushing.Store(false)
		// Errors are logged by Flush and retried on the next one.
		_ = c.Flush(context.Background())
	}()
}

// Purge drops every expired or stale-version entry and returns how many.
func (c *Cache) Purge() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	purged := 0
	for el := c.order.Front(); el != nil; {
		next := el.Next()
		if !c.live(*el.Value.(*core.CacheEntry)) {
			c.removeLocked(el)
			purged++
		}
		el = next
	}
	if purged > 0 {
		c.evictions.Add(uint64(purged))
		c.metrics.CacheEvictions.Add(float64(purged))
		c.metrics.CacheEntries.Set(float64(len(c.entries)))
	}
	return purged
}

// Close waits for background flushes and writes the remaining state.
func (c *Cache) Close(ctx context.Context) error {
	c.bg.Wait()
	return c.Flush(ctx)
}
