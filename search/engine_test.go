package search

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/poiesic/knowmesh/ai/mock"
	"github.com/poiesic/knowmesh/core"
	"github.com/poiesic/knowmesh/embedcache"
	"github.com/poiesic/knowmesh/graph"
	"github.com/poiesic/knowmesh/metrics"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)

// queryVector is what every text starting with "find" embeds to.
var queryVector = []float32{1, 0, 0, 0}

// Vectors with exact cosine similarity against queryVector.
var bySimilarity = map[float64][]float32{
	0.9: {9, 3, 3, 1},
	0.8: {8, 6, 0, 0},
	0.5: {5, 5, 5, 5},
	0.4: {4, 8, 4, 2},
	0.3: {3, 9, 3, 1},
	0.1: {1, 9, 3, 3},
	0.0: {0, 1, 0, 0},
}

type fixture struct {
	engine   *Engine
	network  *graph.Network
	embedder *mock.MockEmbedder
	metrics  *metrics.Collector
	clock    clockwork.FakeClock
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{
		embedder: mock.NewMockEmbedder(),
		metrics:  metrics.NewCollector(""),
		clock:    clockwork.NewFakeClockAt(epoch),
	}
	f.embedder.Dimensions = 4
	f.embedder.EmbedTextFunc = func(ctx context.Context, text string) ([]float32, error) {
		if strings.HasPrefix(text, "find") {
			return queryVector, nil
		}
		return bySimilarity[0.0], nil
	}

	cache, err := embedcache.New(f.embedder, embedcache.WithClock(f.clock))
	require.NoError(t, err)
	f.network, err = graph.New(graph.WithClock(f.clock))
	require.NoError(t, err)

	base := []Option{WithClock(f.clock), WithMetrics(f.metrics)}
	f.engine, err = New(cache, f.network, append(base, opts...)...)
	require.NoError(t, err)
	t.Cleanup(f.engine.Release)
	return f
}

func (f *fixture) addNode(t *testing.T, id string, vector []float32, tags ...string) {
	t.Helper()
	require.NoError(t, f.network.UpsertNode(context.Background(), core.Node{
		ID:           id,
		Path:         "/notes/" + id + ".md",
		Content:      "Unrelated opening. How to find nodes in the mesh. Closing words.",
		Vector:       vector,
		Model:        "mock-embedding",
		Tags:         tags,
		LastModified: epoch,
	}))
}

// semanticOnly holds context and temporal scores out of the ranking.
func semanticOnly() Config {
	cfg := DefaultConfig()
	cfg.SemanticWeight, cfg.ContextWeight, cfg.TemporalWeight = 0.6, 0.4, 0
	return cfg
}

func TestNew(t *testing.T) {
	embedder := mock.NewMockEmbedder()
	cache, err := embedcache.New(embedder)
	require.NoError(t, err)
	network, err := graph.New()
	require.NoError(t, err)

	t.Run("valid configuration", func(t *testing.T) {
		e, err := New(cache, network)
		require.NoError(t, err)
		e.Release()
	})

	t.Run("with nil logger falls back to default", func(t *testing.T) {
		e, err := New(cache, network, WithLogger(nil))
		require.NoError(t, err)
		e.Release()
	})

	t.Run("nil embedding cache", func(t *testing.T) {
		_, err := New(nil, network)
		assert.Equal(t, ErrEmbeddingCacheRequired, err)
	})

	t.Run("nil network", func(t *testing.T) {
		_, err := New(cache, nil)
		assert.Equal(t, ErrNetworkRequired, err)
	})

	t.Run("weights must sum to one", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.TemporalWeight = 0.5
		_, err := New(cache, network, WithConfig(cfg))
		assert.ErrorIs(t, err, ErrInvalidConfig)
	})
}

func TestSearch_MinRelevanceCut(t *testing.T) {
	f := newFixture(t, WithConfig(semanticOnly()))
	for i, s := range []float64{0.9, 0.8, 0.5, 0.3, 0.1} {
		f.addNode(t, fmt.Sprintf("n%d", i+1), bySimilarity[s])
	}

	resp, err := f.engine.Search(context.Background(), "find nodes", core.Filters{}, core.SearchContext{})
	require.NoError(t, err)

	require.Len(t, resp.Results, 3)
	want := []float64{0.9, 0.8, 0.5}
	for i, r := range resp.Results {
		assert.Equal(t, fmt.Sprintf("n%d", i+1), r.NodeID)
		assert.InDelta(t, want[i], r.SemanticScore, 1e-12)
		assert.Zero(t, r.ContextScore)
		assert.InDelta(t, 0.6*want[i], r.CombinedScore, 1e-12)
	}
	assert.Empty(t, resp.Insights)
	assert.False(t, resp.Degraded)
	assert.False(t, resp.Partial)
	assert.Equal(t, "find nodes", resp.EnhancedQuery)
}

func TestSearch_DeterministicOrder(t *testing.T) {
	f := newFixture(t)
	f.addNode(t, "b", bySimilarity[0.8])
	f.addNode(t, "a", bySimilarity[0.8])
	f.addNode(t, "c", bySimilarity[0.9])
	f.addNode(t, "d", bySimilarity[0.5])

	resp, err := f.engine.Search(context.Background(), "find nodes", core.Filters{}, core.SearchContext{})
	require.NoError(t, err)

	var ids []string
	for i, r := range resp.Results {
		ids = append(ids, r.NodeID)
		if i > 0 {
			assert.GreaterOrEqual(t, resp.Results[i-1].CombinedScore, r.CombinedScore)
		}
	}
	assert.Equal(t, []string{"c", "a", "b", "d"}, ids)
}

func TestSearch_EmptyQuery(t *testing.T) {
	f := newFixture(t)
	f.addNode(t, "a", bySimilarity[0.9])

	resp, err := f.engine.Search(context.Background(), "  \t ", core.Filters{}, core.SearchContext{})
	require.NoError(t, err)
	assert.Empty(t, resp.Results)
	require.Len(t, resp.Insights, 1)
	assert.Equal(t, core.InsightClarifyQuery, resp.Insights[0].Kind())
	assert.Zero(t, f.embedder.CallCount())
}

func TestSearch_Insights(t *testing.T) {
	t.Run("no results suggests broadening", func(t *testing.T) {
		f := newFixture(t)
		f.addNode(t, "a", bySimilarity[0.1])

		resp, err := f.engine.Search(context.Background(), "find nothing", core.Filters{}, core.SearchContext{})
		require.NoError(t, err)
		assert.Empty(t, resp.Results)
		require.Len(t, resp.Insights, 1)
		assert.Equal(t, core.BroadenQuery{Query: "find nothing"}, resp.Insights[0].Detail)
	})

	t.Run("weak top match suggests clarifying", func(t *testing.T) {
		f := newFixture(t)
		f.addNode(t, "a", bySimilarity[0.4])

		resp, err := f.engine.Search(context.Background(), "find vague", core.Filters{}, core.SearchContext{})
		require.NoError(t, err)
		require.Len(t, resp.Results, 1)
		require.Len(t, resp.Insights, 1)
		detail, ok := resp.Insights[0].Detail.(core.ClarifyQuery)
		require.True(t, ok)
		assert.InDelta(t, 0.4, detail.TopScore, 1e-12)
	})
}

func TestSearch_ContextScore(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addNode(t, "linked", bySimilarity[0.8])
	f.addNode(t, "alone", bySimilarity[0.8])
	f.addNode(t, "active", bySimilarity[0.0])
	require.NoError(t, f.network.AdjustWeight(ctx, "active", "linked", 0.5))

	resp, err := f.engine.Search(ctx, "find nodes", core.Filters{}, core.SearchContext{
		ActiveFiles:   []string{"active", "/not/indexed.go"},
		RecentQueries: []string{"find earlier"},
	})
	require.NoError(t, err)
	require.Len(t, resp.Results, 2)

	// Both match the recent query perfectly; only one neighbours the active file.
	assert.Equal(t, "linked", resp.Results[0].NodeID)
	assert.InDelta(t, 0.5*1+0.5*0.8, resp.Results[0].ContextScore, 1e-9)
	assert.Equal(t, "alone", resp.Results[1].NodeID)
	assert.InDelta(t, 0.5*0.8, resp.Results[1].ContextScore, 1e-9)
	assert.Contains(t, resp.EnhancedQuery, "active")
	assert.Contains(t, resp.EnhancedQuery, "find earlier")
}

func TestTemporalScore(t *testing.T) {
	cfg := DefaultConfig()
	tests := []struct {
		name string
		age  time.Duration
		want float64
	}{
		{"just modified", 0, 1},
		{"half the fresh window", 84 * time.Hour, 0.75},
		{"end of fresh window", 7 * 24 * time.Hour, 0.5},
		{"one half-life later", 35 * 24 * time.Hour, 0.25},
		{"floored", 1000 * 24 * time.Hour, 0.1},
		{"modified in the future", -time.Hour, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, cfg.temporalScore(epoch.Add(-tt.age), epoch), 1e-9)
		})
	}
	assert.Equal(t, 0.1, cfg.temporalScore(time.Time{}, epoch))
}

func TestSearch_Filters(t *testing.T) {
	f := newFixture(t)
	f.addNode(t, "go1", bySimilarity[0.9], "golang")
	f.addNode(t, "go2", bySimilarity[0.5], "golang")
	f.addNode(t, "py", bySimilarity[0.8], "python")
	ctx := context.Background()

	resp, err := f.engine.Search(ctx, "find code", core.Filters{Tags: []string{"golang"}}, core.SearchContext{})
	require.NoError(t, err)
	require.Len(t, resp.Results, 2)
	assert.Equal(t, "go1", resp.Results[0].NodeID)

	resp, err = f.engine.Search(ctx, "find code", core.Filters{MinRelevance: 0.6}, core.SearchContext{})
	require.NoError(t, err)
	assert.Len(t, resp.Results, 2)

	resp, err = f.engine.Search(ctx, "find code", core.Filters{MaxResults: 1}, core.SearchContext{})
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "go1", resp.Results[0].NodeID)

	resp, err = f.engine.Search(ctx, "find code", core.Filters{PathPrefix: "/elsewhere"}, core.SearchContext{})
	require.NoError(t, err)
	assert.Empty(t, resp.Results)
}

func TestSearch_SnippetHighlightsAndRelated(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addNode(t, "a", bySimilarity[0.9])
	f.addNode(t, "b", bySimilarity[0.1])
	require.NoError(t, f.network.AdjustWeight(ctx, "a", "b", 0.8))

	resp, err := f.engine.Search(ctx, "find the nodes", core.Filters{}, core.SearchContext{})
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)

	r := resp.Results[0]
	assert.Equal(t, "How to find nodes in the mesh.", r.Snippet)
	require.Len(t, r.Highlights, 2)
	assert.Equal(t, "find", r.Snippet[r.Highlights[0].Start:r.Highlights[0].End])
	assert.Equal(t, "nodes", r.Snippet[r.Highlights[1].Start:r.Highlights[1].End])
	require.Len(t, r.Related, 1)
	assert.Equal(t, "b", r.Related[0].NodeID)
	assert.InDelta(t, 0.8, r.Related[0].Weight, 1e-9)
}

func TestSearch_ResultCache(t *testing.T) {
	f := newFixture(t)
	f.addNode(t, "a", bySimilarity[0.9])
	ctx := context.Background()

	first, err := f.engine.Search(ctx, "find nodes", core.Filters{}, core.SearchContext{})
	require.NoError(t, err)
	assert.False(t, first.Cached)
	calls := f.embedder.CallCount()

	second, err := f.engine.Search(ctx, "find nodes", core.Filters{}, core.SearchContext{})
	require.NoError(t, err)
	assert.True(t, second.Cached)
	assert.Equal(t, first.Results, second.Results)
	assert.Equal(t, calls, f.embedder.CallCount())
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.QueryCacheHits))

	// Other filters are another entry.
	third, err := f.engine.Search(ctx, "find nodes", core.Filters{MaxResults: 3}, core.SearchContext{})
	require.NoError(t, err)
	assert.False(t, third.Cached)

	f.engine.Invalidate()
	fourth, err := f.engine.Search(ctx, "find nodes", core.Filters{}, core.SearchContext{})
	require.NoError(t, err)
	assert.False(t, fourth.Cached)
}

func TestSearch_ResultCacheKeyedOnResolvedContext(t *testing.T) {
	f := newFixture(t, WithConfig(semanticOnly()))
	ctx := context.Background()
	f.addNode(t, "x", bySimilarity[0.8])
	f.addNode(t, "y", bySimilarity[0.8])
	for dir, linked := range map[string]string{"/p1": "x", "/p2": "y"} {
		path := dir + "/README.md"
		id := core.NodeIDFromPath(path)
		require.NoError(t, f.network.UpsertNode(ctx, core.Node{
			ID: id, Path: path, Content: "readme", Vector: bySimilarity[0.0], Model: "mock-embedding", LastModified: epoch,
		}))
		require.NoError(t, f.network.AdjustWeight(ctx, id, linked, 0.5))
	}

	tests := []struct {
		name   string
		first  core.SearchContext
		second core.SearchContext
		top    [2]string
	}{
		{
			name:   "same basename in another directory",
			first:  core.SearchContext{ActiveFiles: []string{"/p1/README.md"}},
			second: core.SearchContext{ActiveFiles: []string{"/p2/README.md"}},
			top:    [2]string{"x", "y"},
		},
		{
			name:   "older recent query differs",
			first:  core.SearchContext{ActiveFiles: []string{"/p1/README.md"}, RecentQueries: []string{"find alpha", "find b", "find c"}},
			second: core.SearchContext{ActiveFiles: []string{"/p1/README.md"}, RecentQueries: []string{"find omega", "find b", "find c"}},
			top:    [2]string{"x", "x"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f.engine.Invalidate()
			first, err := f.engine.Search(ctx, "find notes", core.Filters{}, tt.first)
			require.NoError(t, err)
			require.NotEmpty(t, first.Results)
			assert.Equal(t, tt.top[0], first.Results[0].NodeID)

			second, err := f.engine.Search(ctx, "find notes", core.Filters{}, tt.second)
			require.NoError(t, err)
			assert.Equal(t, first.EnhancedQuery, second.EnhancedQuery)
			assert.False(t, second.Cached)
			require.NotEmpty(t, second.Results)
			assert.Equal(t, tt.top[1], second.Results[0].NodeID)
		})
	}
}

func TestResultCache_Bounded(t *testing.T) {
	rc := newResultCache(2, time.Minute)
	for i := 0; i < 5; i++ {
		rc.set(fmt.Sprintf("k%d", i), Response{Query: fmt.Sprint(i)})
	}
	assert.Equal(t, 2, rc.len())
	_, ok := rc.get("k4")
	assert.True(t, ok)
}

func TestSearch_DegradedProvider(t *testing.T) {
	f := newFixture(t)
	f.addNode(t, "a", bySimilarity[0.9])
	f.embedder.EmbedTextFunc = func(ctx context.Context, text string) ([]float32, error) {
		return nil, errors.New("connection refused")
	}

	resp, err := f.engine.Search(context.Background(), "find nodes", core.Filters{}, core.SearchContext{})
	require.NoError(t, err)
	assert.True(t, resp.Degraded)

	var kinds []core.InsightKind
	for _, in := range resp.Insights {
		kinds = append(kinds, in.Kind())
	}
	assert.Contains(t, kinds, core.InsightDegradedResults)

	again, err := f.engine.Search(context.Background(), "find nodes", core.Filters{}, core.SearchContext{})
	require.NoError(t, err)
	assert.False(t, again.Cached, "degraded responses are not cached")
}

func TestSearch_PartialOnDeadline(t *testing.T) {
	f := newFixture(t)
	for i := 0; i < 20; i++ {
		f.addNode(t, fmt.Sprintf("n%02d", i), bySimilarity[0.9])
	}
	// Embed the query once so the expired search still reaches scoring.
	_, err := f.engine.Search(context.Background(), "find nodes", core.Filters{}, core.SearchContext{})
	require.NoError(t, err)
	f.engine.Invalidate()
	f.engine.cfg.Timeout = -time.Second

	resp, err := f.engine.Search(context.Background(), "find nodes", core.Filters{}, core.SearchContext{})
	require.NoError(t, err)
	assert.True(t, resp.Partial)
	assert.Less(t, len(resp.Results), 20)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.SearchPartial))
}

func TestSearch_CallerDeadlineIsPartial(t *testing.T) {
	f := newFixture(t)
	f.addNode(t, "a", bySimilarity[0.9])
	_, err := f.engine.Search(context.Background(), "find nodes", core.Filters{}, core.SearchContext{})
	require.NoError(t, err)
	f.engine.Invalidate()

	ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()
	resp, err := f.engine.Search(ctx, "find nodes", core.Filters{}, core.SearchContext{})
	require.NoError(t, err)
	assert.True(t, resp.Partial)
	assert.Empty(t, resp.Results)
}

func TestSearch_TimeoutCoversQueryEmbedding(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Timeout = 50 * time.Millisecond
	f := newFixture(t, WithConfig(cfg))
	f.addNode(t, "a", bySimilarity[0.9])

	// A provider that never honors the context.
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })
	f.embedder.EmbedTextFunc = func(ctx context.Context, text string) ([]float32, error) {
		<-release
		return queryVector, nil
	}

	start := time.Now()
	resp, err := f.engine.Search(context.Background(), "find nodes", core.Filters{}, core.SearchContext{})
	require.NoError(t, err)
	assert.Less(t, time.Since(start), time.Second)
	assert.True(t, resp.Partial)
	assert.Empty(t, resp.Results)
	assert.Equal(t, "find nodes", resp.Query)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.SearchPartial))

	again, err := f.engine.Search(context.Background(), "find nodes", core.Filters{}, core.SearchContext{})
	require.NoError(t, err)
	assert.False(t, again.Cached, "partial responses are not cached")
}

func TestSearch_CallerCancellation(t *testing.T) {
	f := newFixture(t)
	f.addNode(t, "a", bySimilarity[0.9])
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.engine.Search(ctx, "find nodes", core.Filters{}, core.SearchContext{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSearchWithMonitor(t *testing.T) {
	f := newFixture(t)
	f.addNode(t, "a", bySimilarity[0.9])

	monitor := &testMonitor{}
	_, err := f.engine.SearchWithMonitor(context.Background(), "find nodes", core.Filters{}, core.SearchContext{}, monitor)
	require.NoError(t, err)

	assert.True(t, monitor.startCalled)
	assert.Equal(t, 1, monitor.scored)
	assert.True(t, monitor.finishCalled)
}

// testMonitor is a simple test implementation of SearchMonitor
type testMonitor struct {
	startCalled  bool
	scored       int
	finishCalled bool
}

func (m *testMonitor) Start(query string) {
	m.startCalled = true
}

func (m *testMonitor) AfterQueryEnhancement(enhanced string, intent Intent) {}

func (m *testMonitor) AfterQueryEmbedding(degraded bool) {}

func (m *testMonitor) AfterScoring(candidates, scored, skipped int, partial bool) {
	m.scored = scored
}

func (m *testMonitor) CacheHit(enhanced string) {}

func (m *testMonitor) Finish(results []core.SearchResult, insights []core.Insight) {
	m.finishCalled = true
}
