package embedcache

import (
	"container/list"
	"context"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/jonboulle/clockwork"
	"github.com/poiesic/knowmesh/ai"
	"github.com/poiesic/knowmesh/core"
	"github.com/poiesic/knowmesh/metrics"
	"github.com/poiesic/knowmesh/storage"
	"golang.org/x/sync/singleflight"
)

// Embedding is the result of a cache lookup.
type Embedding struct {
	Vector []float32
	Model  string
	Tokens int

	// Cached reports the vector was served from the cache.
	Cached bool

	// Degraded reports a fallback vector derived from a content hash. It
	// has the right dimension but no semantic meaning.
	Degraded bool
}

// Cache memoizes text embeddings per model with TTL, versioning and
// oldest-first eviction, and falls back to deterministic hash vectors when
// the provider is unavailable.
type Cache struct {
	cfg          Config
	defaultModel string
	providers    map[string]ai.Embedder
	guard        *guard
	repo         storage.EmbeddingCacheRepository
	tokens       ai.TokenCounter
	clock        clockwork.Clock
	metrics      *metrics.Collector
	logger       *slog.Logger
	flight       singleflight.Group

	mu      sync.Mutex
	entries map[string]*list.Element // values are *core.CacheEntry
	order   *list.List               // oldest first
	dims    map[string]int           // observed vector size per model
	dirty   map[string]struct{}
	removed map[string]struct{}

	flushMu  sync.Mutex
	flushing atomic.Bool
	bg       sync.WaitGroup

	hits, misses, fallbacks       atomic.Uint64
	providerCalls, providerErrors atomic.Uint64
	evictions, tokensUsed         atomic.Uint64
}

// New creates a cache in front of embedder, whose model becomes the default.
func New(embedder ai.Embedder, opts ...Option) (*Cache, error) {
	if embedder == nil {
		return nil, ErrEmbedderRequired
	}
	c := &Cache{
		cfg:          DefaultConfig(),
		defaultModel: embedder.Model(),
		providers:    map[string]ai.Embedder{embedder.Model(): embedder},
		tokens:       ai.ApproxTokenCounter{},
		clock:        clockwork.NewRealClock(),
		metrics:      metrics.NewCollector(""),
		logger:       slog.Default().With("component", "embedding-cache"),
		entries:      make(map[string]*list.Element),
		order:        list.New(),
		dims:         make(map[string]int),
		dirty:        make(map[string]struct{}),
		removed:      make(map[string]struct{}),
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	c.guard = newGuard(c.cfg, c.logger)
	return c, nil
}

// DefaultModel returns the model used when callers pass an empty model name.
func (c *Cache) DefaultModel() string {
	return c.defaultModel
}

// GetEmbedding returns the embedding of text under model, serving it from
// the cache when a live entry exists. Provider failures are recovered with a
// degraded fallback vector; the only errors are an unknown model, empty
// text, or the caller's context ending.
func (c *Cache) GetEmbedding(ctx context.Context, text, model string) (Embedding, error) {
	model, provider, err := c.provider(model)
	if err != nil {
		return Embedding{}, err
	}
	input, tokens, err := c.prepare(text)
	if err != nil {
		return Embedding{}, err
	}
	key := core.CacheKey(input, model)

	if entry, ok := c.lookup(key); ok {
		c.recordHit()
		return Embedding{Vector: entry.Vector, Model: model, Tokens: entry.Tokens, Cached: true}, nil
	}
	c.recordMiss()

	if err := ctx.Err(); err != nil {
		return Embedding{}, err
	}
	// Waiting on the channel lets the caller leave when ctx ends even if
	// the provider does not honor it.
	ch := c.flight.DoChan(key, func() (any, error) {
		if entry, ok := c.lookup(key); ok {
			return entry.Vector, nil
		}
		vectors, err := c.embed(ctx, provider, []string{input}, c.dimension(model, 0))
		if err != nil {
			return nil, err
		}
		c.tokensUsed.Add(uint64(tokens))
		c.metrics.ProviderTokens.Add(float64(tokens))
		c.store(key, model, vectors[0], tokens)
		return vectors[0], nil
	})
	select {
	case <-ctx.Done():
		return Embedding{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return Embedding{}, ctxErr
			}
			return c.fallback(input, model, tokens, res.Err), nil
		}
		return Embedding{Vector: slices.Clone(res.Val.([]float32)), Model: model, Tokens: tokens}, nil
	}
}

// GetBatchEmbeddings embeds texts in order. Cache hits are served directly;
// only the distinct misses are sent to the provider, in a single call.
func (c *Cache) GetBatchEmbeddings(ctx context.Context, texts []string, model string) ([]Embedding, error) {
	model, provider, err := c.provider(model)
	if err != nil {
		return nil, err
	}

	type pending struct {
		key     string
		input   string
		tokens  int
		indices []int
	}
	results := make([]Embedding, len(texts))
	byKey := make(map[string]*pending)
	var misses []*pending

	for i, text := range texts {
		input, tokens, err := c.prepare(text)
		if err != nil {
			return nil, err
		}
		key := core.CacheKey(input, model)
		if entry, ok := c.lookup(key); ok {
			c.recordHit()
			results[i] = Embedding{Vector: entry.Vector, Model: model, Tokens: entry.Tokens, Cached: true}
			continue
		}
		c.recordMiss()
		if p, ok := byKey[key]; ok {
			p.indices = append(p.indices, i)
			continue
		}
		p := &pending{key: key, input: input, tokens: tokens, indices: []int{i}}
		byKey[key] = p
		misses = append(misses, p)
	}
	if len(misses) == 0 {
		return results, nil
	}

	inputs := make([]string, len(misses))
	for i, p := range misses {
		inputs[i] = p.input
	}
	vectors, err := c.embed(ctx, provider, inputs, c.dimension(model, 0))
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		for _, p := range misses {
			fb := c.fallback(p.input, model, p.tokens, err)
			for _, i := range p.indices {
				results[i] = fb
				results[i].Vector = slices.Clone(fb.Vector)
			}
		}
		return results, nil
	}

	for j, p := range misses {
		c.tokensUsed.Add(uint64(p.tokens))
		c.metrics.ProviderTokens.Add(float64(p.tokens))
		c.store(p.key, model, vectors[j], p.tokens)
		for _, i := range p.indices {
			results[i] = Embedding{Vector: slices.Clone(vectors[j]), Model: model, Tokens: p.tokens}
		}
	}
	return results, nil
}

// Dimension returns the vector size of model: the observed size of its real
// embeddings, or the configured fallback dimension.
func (c *Cache) Dimension(model string) int {
	if model == "" {
		model = c.defaultModel
	}
	return c.dimension(model, c.cfg.FallbackDimension)
}

// ObserveDimension records size as model's vector size unless one is known
// already. Seed it from stored vectors so fallbacks made before the first
// provider call stay comparable.
func (c *Cache) ObserveDimension(model string, size int) {
	if model == "" {
		model = c.defaultModel
	}
	if size <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.dims[model]; !ok {
		c.dims[model] = size
	}
}

func (c *Cache) dimension(model string, otherwise int) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if d, ok := c.dims[model]; ok {
		return d
	}
	return otherwise
}

func (c *Cache) provider(model string) (string, ai.Embedder, error) {
	if model == "" {
		model = c.defaultModel
	}
	p, ok := c.providers[model]
	if !ok {
		return "", nil, unknownModel(model)
	}
	return model, p, nil
}

// prepare normalizes text and cuts it to the token budget.
// Prepare normalizes text and truncates it to the token budget, exactly as
// before every provider call.
func (c *Cache) Prepare(text string) (string, error) {
	input, _, err := c.prepare(text)
	return input, err
}

func (c *Cache) prepare(text string) (string, int, error) {
	input := core.NormalizeText(text)
	if input == "" {
		return "", 0, ErrEmptyText
	}
	input = c.tokens.Truncate(input, c.cfg.TokenBudget)
	return input, c.tokens.Count(input), nil
}

func (c *Cache) fallback(input, model string, tokens int, cause error) Embedding {
	c.fallbacks.Add(1)
	c.metrics.EmbeddingLookups.WithLabelValues(metrics.ResultFallback).Inc()
	c.logger.Warn("embedding provider unavailable, using fallback vector", "model", model, "err", cause)
	return Embedding{
		Vector:   core.FallbackVector(input, c.Dimension(model)),
		Model:    model,
		Tokens:   tokens,
		Degraded: true,
	}
}

// lookup returns a copy of the live entry for key. Expired or stale-version
// entries are dropped on the way.
func (c *Cache) lookup(key string) (core.CacheEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[key]
	if !ok {
		return core.CacheEntry{}, false
	}
	entry := el.Value.(*core.CacheEntry)
	if !c.live(*entry) {
		c.removeLocked(el)
		c.evictions.Add(1)
		c.metrics.CacheEvictions.Inc()
		return core.CacheEntry{}, false
	}
	out := *entry
	out.Vector = slices.Clone(entry.Vector)
	return out, true
}

func (c *Cache) live(e core.CacheEntry) bool {
	return e.Version == c.cfg.Version && c.clock.Since(e.Timestamp) < c.cfg.TTL
}

func (c *Cache) store(key, model string, vector []float32, tokens int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.entries[key]; ok {
		c.order.Remove(el)
		delete(c.entries, key)
	}
	c.insertLocked(core.CacheEntry{
		Key:       key,
		Model:     model,
		Vector:    slices.Clone(vector),
		Tokens:    tokens,
		Timestamp: c.clock.Now(),
		Version:   c.cfg.Version,
	})
	c.dirty[key] = struct{}{}
	delete(c.removed, key)
	c.evictLocked()
	c.metrics.CacheEntries.Set(float64(len(c.entries)))
	c.maybeFlushLocked()
}

func (c *Cache) insertLocked(entry core.CacheEntry) {
	c.entries[entry.Key] = c.order.PushBack(&entry)
	if _, ok := c.dims[entry.Model]; !ok {
		c.dims[entry.Model] = len(entry.Vector)
	}
}

func (c *Cache) removeLocked(el *list.Element) {
	entry := c.order.Remove(el).(*core.CacheEntry)
	delete(c.entries, entry.Key)
	delete(c.dirty, entry.Key)
	c.removed[entry.Key] = struct{}{}
}

// evictLocked drops the oldest entries until the cache fits MaxEntries.
func (c *Cache) evictLocked() {
	for c.order.Len() > c.cfg.MaxEntries {
		c.removeLocked(c.order.Front())
		c.evictions.Add(1)
		c.metrics.CacheEvictions.Inc()
	}
}

func (c *Cache) recordHit() {
	c.hits.Add(1)
	c.metrics.EmbeddingLookups.WithLabelValues(metrics.ResultHit).Inc()
}

func (c *Cache) recordMiss() {
	c.misses.Add(1)
	c.metrics.EmbeddingLookups.WithLabelValues(metrics.ResultMiss).Inc()
}
