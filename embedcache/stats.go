package embedcache

// Stats is a snapshot of cache activity.
type Stats struct {
	Entries        int
	Hits           uint64
	Misses         uint64
	Fallbacks      uint64
	ProviderCalls  uint64
	ProviderErrors uint64
	Evictions      uint64
	Tokens         uint64
	Cost           float64
}

// HitRate returns hits over lookups, or zero before the first lookup.
func (s Stats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

// Stats returns a snapshot of cache activity.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	entries := len(c.entries)
	c.mu.Unlock()

	tokens := c.tokensUsed.Load()
	return Stats{
		Entries:        entries,
		Hits:           c.hits.Load(),
		Misses:         c.misses.Load(),
		Fallbacks:      c.fallbacks.Load(),
		ProviderCalls:  c.providerCalls.Load(),
		ProviderErrors: c.providerErrors.Load(),
		Evictions:      c.evictions.Load(),
		Tokens:         tokens,
		Cost:           float64(tokens) / 1000 * c.cfg.CostPer1KTokens,
	}
}
