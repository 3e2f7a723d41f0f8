package search

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/panjf2000/ants/v2"
	"github.com/patrickmn/go-cache"
	"github.com/poiesic/knowmesh/core"
	"github.com/poiesic/knowmesh/embedcache"
	"github.com/poiesic/knowmesh/graph"
	"github.com/poiesic/knowmesh/metrics"
)

// Response is the outcome of one search.
type Response struct {
	Query         string
	EnhancedQuery string
	Intent        Intent
	Results       []core.SearchResult
	Insights      []core.Insight

	// Degraded reports the query embedding was a fallback vector, so the
	// semantic scores carry no meaning.
	Degraded bool

	// Partial reports the search hit the deadline; Results holds what was
	// scored in time, possibly nothing.
	Partial bool

	// Cached reports the response was served from the result cache.
	Cached bool
}

func (r Response) clone() Response {
	r.Results = slices.Clone(r.Results)
	for i := range r.Results {
		res := &r.Results[i]
		res.Tags = slices.Clone(res.Tags)
		res.Highlights = slices.Clone(res.Highlights)
		res.Related = slices.Clone(res.Related)
	}
	r.Insights = slices.Clone(r.Insights)
	return r
}

// Engine ranks network nodes against queries.
type Engine struct {
	cfg        Config
	embeddings *embedcache.Cache
	network    *graph.Network
	pool       *ants.Pool
	results    *resultCache
	feedback   *cache.Cache // normalized query -> feedbackRecord
	clock      clockwork.Clock
	metrics    *metrics.Collector
	logger     *slog.Logger
}

// New creates a search engine over network, embedding queries through
// embeddings. Call Release when done.
func New(embeddings *embedcache.Cache, network *graph.Network, opts ...Option) (*Engine, error) {
	if embeddings == nil {
		return nil, ErrEmbeddingCacheRequired
	}
	if network == nil {
		return nil, ErrNetworkRequired
	}

	e := &Engine{
		cfg:        DefaultConfig(),
		embeddings: embeddings,
		network:    network,
		clock:      clockwork.NewRealClock(),
		metrics:    metrics.NewCollector(""),
		logger:     slog.Default().With("component", "search"),
	}
	for _, opt := range opts {
		if err := opt(e); err != nil {
			return nil, err
		}
	}

	pool, err := ants.NewPool(e.cfg.Workers)
	if err != nil {
		return nil, fmt.Errorf("failed to create scoring pool: %w", err)
	}
	e.pool = pool
	e.results = newResultCache(e.cfg.QueryCacheSize, e.cfg.QueryCacheTTL)
	e.feedback = cache.New(e.cfg.FeedbackTTL, 2*e.cfg.FeedbackTTL)
	return e, nil
}

// Release releases the scoring workers.
func (e *Engine) Release() {
	e.pool.Release()
}

// Invalidate drops every cached result set. Call it after the node set
// changes.
func (e *Engine) Invalidate() {
	e.results.flush()
}

// Search ranks nodes against query. An empty query yields no results and a
// clarify insight. Provider outages degrade the response instead of failing
// it. Reaching the deadline, the engine's Timeout or the caller's, yields a
// partial response; caller cancellation is the only error.
func (e *Engine) Search(ctx context.Context, query string, filters core.Filters, sc core.SearchContext) (Response, error) {
	return e.SearchWithMonitor(ctx, query, filters, sc, nil)
}

// SearchWithMonitor is Search with a monitor receiving callbacks at each
// stage.
func (e *Engine) SearchWithMonitor(ctx context.Context, query string, filters core.Filters, sc core.SearchContext, monitor SearchMonitor) (Response, error) {
	if monitor == nil {
		monitor = &noopMonitor{}
	}
	defer metrics.ObserveSince(e.metrics.SearchDuration, time.Now())
	e.metrics.Searches.Inc()
	monitor.Start(query)

	now := e.clock.Now()
	if core.NormalizeText(query) == "" {
		resp := Response{}
		e.addInsight(&resp, core.ClarifyQuery{}, 1, 0.5, now)
		monitor.Finish(resp.Results, resp.Insights)
		return resp, nil
	}

	ctx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()

	// 1. Enhance the query with context
	enhanced, intent := enhanceQuery(query, sc)
	monitor.AfterQueryEnhancement(enhanced, intent)

	active := e.activeNodes(sc.ActiveFiles)
	key := resultKey(enhanced, filters, active, sc.RecentQueries)
	if resp, ok := e.results.get(key); ok {
		e.metrics.QueryCacheHits.Inc()
		monitor.CacheHit(enhanced)
		resp.Query = query
		resp.Cached = true
		e.remember(query, sc.ActiveFiles, resp.Results)
		monitor.Finish(resp.Results, resp.Insights)
		return resp, nil
	}

	// 2. Embed the enhanced query and recent queries
	embedding, err := e.embeddings.GetEmbedding(ctx, enhanced, "")
	if errors.Is(err, context.DeadlineExceeded) {
		e.metrics.SearchPartial.Inc()
		e.logger.Warn("search deadline reached before the query was embedded", "query", query)
		resp := Response{Query: query, EnhancedQuery: enhanced, Intent: intent, Results: []core.SearchResult{}, Partial: true}
		monitor.AfterScoring(0, 0, 0, true)
		monitor.Finish(resp.Results, resp.Insights)
		return resp, nil
	}
	if err != nil {
		return Response{}, fmt.Errorf("failed to embed query: %w", err)
	}
	monitor.AfterQueryEmbedding(embedding.Degraded)

	scx := &scoringContext{
		query:   embedding.Vector,
		active:  active,
		recent:  e.recentVectors(ctx, sc.RecentQueries),
		filters: filters,
		minRel:  e.cfg.MinRelevance,
		now:     now,
	}
	if filters.MinRelevance > 0 {
		scx.minRel = filters.MinRelevance
	}
	maxResults := e.cfg.MaxResults
	if filters.MaxResults > 0 {
		maxResults = filters.MaxResults
	}

	// 3. Score every node in parallel
	scored, candidates, skipped, partial, err := e.score(ctx, scx)
	if err != nil {
		return Response{}, err
	}
	monitor.AfterScoring(candidates, len(scored), skipped, partial)
	if skipped > 0 {
		e.logger.Warn("nodes skipped for dimension mismatch", "count", skipped, "dimension", len(scx.query))
	}
	if partial {
		e.metrics.SearchPartial.Inc()
		e.logger.Warn("search deadline reached, returning partial results", "scored", len(scored), "candidates", candidates)
	}

	// 4. Rank and decorate
	slices.SortFunc(scored, func(a, b scoredNode) int {
		if c := cmp.Compare(b.result.CombinedScore, a.result.CombinedScore); c != 0 {
			return c
		}
		return strings.Compare(a.result.NodeID, b.result.NodeID)
	})
	if len(scored) > maxResults {
		scored = scored[:maxResults]
	}

	resp := Response{
		Query:         query,
		EnhancedQuery: enhanced,
		Intent:        intent,
		Results:       make([]core.SearchResult, len(scored)),
		Degraded:      embedding.Degraded,
		Partial:       partial,
	}
	for i, s := range scored {
		res := s.result
		res.Snippet, res.Highlights = snippet(s.content, query, e.cfg.SnippetLength)
		for _, rel := range e.network.Related(res.NodeID, e.cfg.MaxRelated) {
			res.Related = append(res.Related, core.RelatedNode{NodeID: rel.NodeID, Weight: rel.Weight})
		}
		resp.Results[i] = res
	}

	// 5. Insights about the result set
	switch {
	case len(resp.Results) == 0:
		e.addInsight(&resp, core.BroadenQuery{Query: query}, 0.9, 0.5, now)
	case resp.Results[0].SemanticScore < e.cfg.ClarifyBelow:
		e.addInsight(&resp, core.ClarifyQuery{Query: query, TopScore: resp.Results[0].SemanticScore}, 0.7, 0.4, now)
	}
	if resp.Degraded {
		e.addInsight(&resp, core.DegradedResults{Reason: "embedding provider unavailable"}, 1, 0.3, now)
	}
	slices.SortStableFunc(resp.Insights, func(a, b core.Insight) int {
		return cmp.Compare(b.Score(), a.Score())
	})

	if !resp.Partial && !resp.Degraded {
		e.results.set(key, resp)
	}
	e.remember(query, sc.ActiveFiles, resp.Results)
	monitor.Finish(resp.Results, resp.Insights)
	return resp, nil
}

func (e *Engine) addInsight(resp *Response, detail core.InsightDetail, confidence, value float64, now time.Time) {
	insight, err := core.NewInsight(detail, confidence, value, now)
	if err != nil {
		e.logger.Error("failed to build search insight", "kind", detail.Kind(), "err", err)
		return
	}
	resp.Insights = append(resp.Insights, insight)
}

// activeNodes resolves active files, given as node ids or source paths, to
// the ids of indexed nodes.
func (e *Engine) activeNodes(files []string) map[string]struct{} {
	active := make(map[string]struct{}, len(files))
	for _, f := range files {
		if id, ok := e.resolve(f); ok {
			active[id] = struct{}{}
		}
	}
	return active
}

func (e *Engine) resolve(ref string) (string, bool) {
	if e.network.HasNode(ref) {
		return ref, true
	}
	if id := core.NodeIDFromPath(ref); e.network.HasNode(id) {
		return id, true
	}
	return "", false
}

// recentVectors embeds recent queries. Failures and fallback vectors are
// left out; they would only add noise.
func (e *Engine) recentVectors(ctx context.Context, queries []string) [][]float32 {
	texts := make([]string, 0, len(queries))
	for _, q := range queries {
		if q = core.NormalizeText(q); q != "" {
			texts = append(texts, q)
		}
	}
	if len(texts) == 0 {
		return nil
	}
	embeddings, err := e.embeddings.GetBatchEmbeddings(ctx, texts, "")
	if err != nil {
		e.logger.Warn("failed to embed recent queries", "count", len(texts), "err", err)
		return nil
	}
	out := make([][]float32, 0, len(embeddings))
	for _, emb := range embeddings {
		if !emb.Degraded {
			out = append(out, emb.Vector)
		}
	}
	return out
}

type scoredNode struct {
	result  core.SearchResult
	content string
}

// score rates every node. When ctx reaches its deadline first, whatever was
// scored so far is returned with partial set. Cancellation is an error.
func (e *Engine) score(ctx context.Context, scx *scoringContext) (scored []scoredNode, candidates, skipped int, partial bool, err error) {
	nodes := e.network.Nodes()
	if len(nodes) == 0 {
		return nil, 0, 0, false, nil
	}

	work, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		mu        sync.Mutex
		closed    bool
		processed int
		wg        sync.WaitGroup
	)
	chunk := (len(nodes) + e.cfg.Workers - 1) / e.cfg.Workers
	for start := 0; start < len(nodes); start += chunk {
		part := nodes[start:min(start+chunk, len(nodes))]
		wg.Add(1)
		submitErr := e.pool.Submit(func() {
			defer wg.Done()
			for _, node := range part {
				if work.Err() != nil {
					return
				}
				s, matched, mismatch := e.scoreNode(node, scx)
				mu.Lock()
				if !closed {
					processed++
					if matched {
						candidates++
					}
					if mismatch {
						skipped++
					}
					if s != nil {
						scored = append(scored, *s)
					}
				}
				mu.Unlock()
			}
		})
		if submitErr != nil {
			wg.Done()
			cancel()
			wg.Wait()
			return nil, 0, 0, false, fmt.Errorf("failed to submit scoring task: %w", submitErr)
		}
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-work.Done():
	}

	mu.Lock()
	defer mu.Unlock()
	closed = true
	if err := ctx.Err(); errors.Is(err, context.Canceled) {
		return nil, 0, 0, false, err
	}
	return slices.Clone(scored), candidates, skipped, processed < len(nodes), nil
}

// scoreNode returns the scored result, or nil when the node is filtered out
// or not relevant enough. mismatch reports an incomparable embedding.
func (e *Engine) scoreNode(node core.Node, scx *scoringContext) (s *scoredNode, matched, mismatch bool) {
	if !scx.filters.Match(node) {
		return nil, false, false
	}
	semantic, err := core.CosineSimilarity(scx.query, node.Vector)
	if err != nil {
		if !errors.Is(err, core.ErrInvalidDimension) {
			e.logger.Debug("node not comparable", "node", node.ID, "err", err)
		}
		return nil, true, true
	}
	if semantic <= scx.minRel {
		return nil, true, false
	}

	contextScore := contextScore(node, e.network.Neighbors(node.ID), scx)
	temporal := e.cfg.temporalScore(lastModified(node), scx.now)
	return &scoredNode{
		result: core.SearchResult{
			NodeID:        node.ID,
			Path:          node.Path,
			Tags:          node.Tags,
			SemanticScore: semantic,
			ContextScore:  contextScore,
			TemporalScore: temporal,
			CombinedScore: e.cfg.combine(semantic, contextScore, temporal),
		},
		content: node.Content,
	}, true, false
}
