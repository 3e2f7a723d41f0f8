package search

import (
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/poiesic/knowmesh/core"
)

// resultCache holds ranked responses per (enhanced query, filters, resolved
// context). It is
// bounded: once over size, the entries closest to expiry (the oldest, since
// all share one TTL) are dropped.
type resultCache struct {
	mu    sync.Mutex
	cache *cache.Cache
	size  int
}

func newResultCache(size int, ttl time.Duration) *resultCache {
	return &resultCache{cache: cache.New(ttl, 2*ttl), size: size}
}

// resultKey identifies a ranking. The enhanced query only carries file
// basenames and the latest recent queries, so the resolved active node ids
// and every recent query are part of the key too.
func resultKey(enhanced string, f core.Filters, active map[string]struct{}, recent []string) string {
	tags := slices.Clone(f.Tags)
	slices.Sort(tags)
	ids := slices.Sorted(maps.Keys(active))
	queries := make([]string, 0, len(recent))
	for _, q := range recent {
		if q = core.NormalizeText(q); q != "" {
			queries = append(queries, q)
		}
	}
	slices.Sort(queries)
	signature := fmt.Sprintf("%s\x00%s\x00%s\x00%d\x00%d\x00%g\x00%d\x00%s\x00%s",
		enhanced, strings.Join(tags, ","), f.PathPrefix,
		f.ModifiedAfter.UnixNano(), f.ModifiedBefore.UnixNano(), f.MinRelevance, f.MaxResults,
		strings.Join(ids, "\x1f"), strings.Join(queries, "\x1f"))
	return fmt.Sprintf("%016x", core.IDFromContent(signature))
}

func (c *resultCache) get(key string) (Response, bool) {
	v, ok := c.cache.Get(key)
	if !ok {
		return Response{}, false
	}
	return v.(Response).clone(), true
}

func (c *resultCache) set(key string, resp Response) {
	if c.size == 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache.SetDefault(key, resp.clone())
	for c.cache.ItemCount() > c.size {
		oldest, oldestExp := "", int64(0)
		for k, item := range c.cache.Items() {
			if oldest == "" || item.Expiration < oldestExp {
				oldest, oldestExp = k, item.Expiration
			}
		}
		if oldest == "" {
			// Everything left has expired but not been collected yet.
			c.cache.DeleteExpired()
			return
		}
		c.cache.Delete(oldest)
	}
}

func (c *resultCache) flush() {
	c.cache.Flush()
}

func (c *resultCache) len() int {
	return c.cache.ItemCount()
}
