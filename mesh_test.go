package knowmesh

import (
	"context"
	"errors"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/poiesic/knowmesh/ai/mock"
	"github.com/poiesic/knowmesh/config"
	"github.com/poiesic/knowmesh/core"
	"github.com/poiesic/knowmesh/embedcache"
	"github.com/poiesic/knowmesh/ingestion"
	"github.com/poiesic/knowmesh/predict"
	"github.com/poiesic/knowmesh/reembed"
	"github.com/poiesic/knowmesh/search"
	"github.com/poiesic/knowmesh/storage/badger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)

// topicEmbedder maps texts onto one axis per topic so rankings are exact.
func topicEmbedder() *mock.MockEmbedder {
	embedder := mock.NewMockEmbedder()
	embedder.Dimensions = 4
	embedder.EmbedTextFunc = func(ctx context.Context, text string) ([]float32, error) {
		switch {
		case strings.Contains(text, "badger"):
			return []float32{1, 0, 0, 0}, nil
		case strings.Contains(text, "prometheus"):
			return []float32{0, 1, 0, 0}, nil
		default:
			return []float32{0, 0, 1, 0}, nil
		}
	}
	return embedder
}

var docs = []core.SourceDocument{
	{ID: "storage", Path: "/notes/storage.md", Content: "badger keeps the embedding cache", LastModified: epoch},
	{ID: "metrics", Path: "/notes/metrics.md", Content: "prometheus scrapes the metrics endpoint", LastModified: epoch},
	{ID: "misc", Path: "/notes/misc.md", Content: "groceries and errands", LastModified: epoch},
}

func openTest(t *testing.T, opts ...Option) *Mesh {
	t.Helper()
	base := []Option{
		InMemory(),
		WithEmbedder(topicEmbedder()),
		WithClock(clockwork.NewFakeClockAt(epoch)),
	}
	m, err := Open(context.Background(), append(base, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close(context.Background()) })
	return m
}

func TestOpen_RequiresPath(t *testing.T) {
	_, err := Open(context.Background(), WithEmbedder(topicEmbedder()))
	assert.ErrorIs(t, err, ErrPathRequired)

	_, err = Open(context.Background(), InMemory(), WithEmbedder(topicEmbedder()), WithFlushInterval(0))
	assert.Error(t, err)
}

func TestMesh_IndexAndSearch(t *testing.T) {
	m := openTest(t)
	ctx := context.Background()

	report, err := m.Index(ctx, docs...)
	require.NoError(t, err)
	assert.Equal(t, 3, report.Indexed)

	resp, err := m.Search(ctx, "badger", core.Filters{}, core.SearchContext{})
	require.NoError(t, err)
	require.NotEmpty(t, resp.Results)
	assert.Equal(t, "storage", resp.Results[0].NodeID)
	assert.False(t, resp.Degraded)

	stats := m.Stats()
	assert.Equal(t, 3, stats.Network.Nodes)
	assert.GreaterOrEqual(t, stats.Cache.Entries, 3)
	assert.Equal(t, 0.5, stats.Accuracy)
}

func TestMesh_SearchCacheInvalidatedByIndex(t *testing.T) {
	m := openTest(t)
	ctx := context.Background()

	_, err := m.Index(ctx, docs[1:]...)
	require.NoError(t, err)
	first, err := m.Search(ctx, "badger", core.Filters{}, core.SearchContext{})
	require.NoError(t, err)
	assert.Empty(t, first.Results)

	_, err = m.Index(ctx, docs[0])
	require.NoError(t, err)
	second, err := m.Search(ctx, "badger", core.Filters{}, core.SearchContext{})
	require.NoError(t, err)
	assert.False(t, second.Cached)
	require.Len(t, second.Results, 1)
	assert.Equal(t, "storage", second.Results[0].NodeID)
}

func TestMesh_IndexAsync(t *testing.T) {
	m := openTest(t)
	ctx := context.Background()

	_, err := m.Index(ctx, docs[1:]...)
	require.NoError(t, err)
	first, err := m.Search(ctx, "badger", core.Filters{}, core.SearchContext{})
	require.NoError(t, err)
	assert.Empty(t, first.Results)

	reports := make(chan ingestion.Report, 1)
	require.NoError(t, m.IndexAsync(func(r ingestion.Report, err error) {
		assert.NoError(t, err)
		reports <- r
	}, docs[0]))
	select {
	case r := <-reports:
		assert.Equal(t, 1, r.Indexed)
	case <-time.After(time.Second):
		t.Fatal("async indexing did not finish")
	}

	second, err := m.Search(ctx, "badger", core.Filters{}, core.SearchContext{})
	require.NoError(t, err)
	assert.False(t, second.Cached)
	require.Len(t, second.Results, 1)
	assert.Equal(t, "storage", second.Results[0].NodeID)

	require.NoError(t, m.Close(ctx))
	assert.ErrorIs(t, m.IndexAsync(nil, docs[0]), ErrClosed)
}

func TestMesh_Remove(t *testing.T) {
	m := openTest(t)
	ctx := context.Background()

	_, err := m.Index(ctx, docs...)
	require.NoError(t, err)
	report, err := m.Remove(ctx, "storage")
	require.NoError(t, err)
	assert.Equal(t, 1, report.Removed)
	assert.False(t, m.Network().HasNode("storage"))
}

func TestMesh_SearchFeedbackReinforces(t *testing.T) {
	m := openTest(t)
	ctx := context.Background()
	_, err := m.Index(ctx, docs...)
	require.NoError(t, err)

	sc := core.SearchContext{ActiveFiles: []string{"metrics"}}
	_, err = m.Search(ctx, "badger", core.Filters{}, sc)
	require.NoError(t, err)

	require.NoError(t, m.RecordSearchFeedback(ctx, "badger", "storage", search.OutcomeHelpful))
	assert.Greater(t, m.Network().Weight("metrics", "storage"), 0.0)
}

func TestMesh_PredictionFlow(t *testing.T) {
	m := openTest(t)
	ctx := context.Background()
	_, err := m.Index(ctx, docs...)
	require.NoError(t, err)

	require.NoError(t, m.Network().ReinforcePath(ctx, []string{"storage", "metrics"}, 1))

	manifest, err := m.PreloadResources(ctx, "storage")
	require.NoError(t, err)
	assert.Equal(t, []string{"metrics"}, manifest.NodeIDs)
	again, err := m.PreloadResources(ctx, "storage")
	require.NoError(t, err)
	assert.Equal(t, manifest.CacheKey, again.CacheKey)

	require.NoError(t, m.UpdateContext(ctx, core.WorkContext{
		Task:        "tune badger compaction",
		ActiveFiles: []string{"storage", "misc"},
	}))
	insights, err := m.ProactiveInsights(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, insights)

	require.NoError(t, m.RecordPredictionFeedback(insights[0].ID, predict.OutcomeHelpful))
	assert.InDelta(t, 0.6, m.Stats().Accuracy, 1e-9)
	assert.Equal(t, 1, m.Stats().Patterns)
	assert.Equal(t, 1, m.Stats().Preloads)
}

func TestMesh_Reembed(t *testing.T) {
	embedder := topicEmbedder()
	m := openTest(t, WithEmbedder(embedder))
	ctx := context.Background()
	_, err := m.Index(ctx, docs...)
	require.NoError(t, err)

	result, err := m.Reembed(ctx)
	require.NoError(t, err)
	assert.Zero(t, result.Reembedded, "nodes already on the model are skipped")

	cfg := reembed.DefaultConfig()
	cfg.Force = true
	result, err = m.Reembed(ctx, reembed.WithConfig(cfg))
	require.NoError(t, err)
	assert.Equal(t, 3, result.Reembedded)
}

func TestMesh_ReembedAppliesTokenBudget(t *testing.T) {
	embedder := topicEmbedder()
	topic := embedder.EmbedTextFunc
	var (
		mu     sync.Mutex
		inputs []string
	)
	embedder.EmbedTextFunc = func(ctx context.Context, text string) ([]float32, error) {
		mu.Lock()
		inputs = append(inputs, text)
		mu.Unlock()
		return topic(ctx, text)
	}
	cacheCfg := embedcache.DefaultConfig()
	cacheCfg.TokenBudget = 2
	m := openTest(t, WithEmbedder(embedder), WithCacheConfig(cacheCfg))
	ctx := context.Background()

	_, err := m.Index(ctx, docs...)
	require.NoError(t, err)
	mu.Lock()
	indexed := slices.Clone(inputs)
	inputs = nil
	mu.Unlock()

	cfg := reembed.DefaultConfig()
	cfg.Force = true
	result, err := m.Reembed(ctx, reembed.WithConfig(cfg))
	require.NoError(t, err)
	assert.Equal(t, 3, result.Reembedded)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, inputs, 3)
	assert.Subset(t, indexed, inputs, "re-embedding sends what indexing sent")
	for _, in := range inputs {
		assert.LessOrEqual(t, len(in), 8)
	}
}

func TestMesh_ScheduledFlush(t *testing.T) {
	clock := clockwork.NewFakeClockAt(epoch)
	m := openTest(t, WithClock(clock))
	ctx := context.Background()

	_, err := m.Index(ctx, docs...)
	require.NoError(t, err)
	_, err = m.repos.Graph.GetNode(ctx, "storage")
	require.Error(t, err, "indexing alone writes nothing")

	require.Eventually(t, func() bool {
		clock.Advance(time.Minute)
		_, err := m.repos.Graph.GetNode(ctx, "storage")
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)
}

func TestMesh_Close(t *testing.T) {
	m, err := Open(context.Background(), InMemory(), WithEmbedder(topicEmbedder()))
	require.NoError(t, err)

	require.NoError(t, m.Close(context.Background()))
	require.NoError(t, m.Close(context.Background()), "close is idempotent")

	_, err = m.Search(context.Background(), "badger", core.Filters{}, core.SearchContext{})
	assert.ErrorIs(t, err, ErrClosed)
	_, err = m.Index(context.Background(), docs...)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestMesh_PersistsAcrossReopen(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "db")
	ctx := context.Background()

	m, err := Open(ctx, WithPath(dir), WithEmbedder(topicEmbedder()))
	require.NoError(t, err)
	_, err = m.Index(ctx, docs...)
	require.NoError(t, err)
	require.NoError(t, m.Network().ReinforcePath(ctx, []string{"storage", "metrics"}, 1))
	require.NoError(t, m.UpdateContext(ctx, core.WorkContext{Task: "write notes"}))
	require.NoError(t, m.Close(ctx))

	embedder := topicEmbedder()
	m, err = Open(ctx, WithPath(dir), WithEmbedder(embedder))
	require.NoError(t, err)
	defer m.Close(ctx)

	assert.Equal(t, 3, m.Network().NodeCount())
	assert.InDelta(t, 0.45, m.Network().Weight("storage", "metrics"), 0.01)
	assert.Len(t, m.Predictor().Patterns(), 1)

	// Document embeddings come from the persisted cache.
	_, err = m.Index(ctx, docs...)
	require.NoError(t, err)
	assert.Zero(t, embedder.CallCount())
}

func TestMesh_FallbackDimensionFromStoredNodes(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "db")
	ctx := context.Background()

	// Nodes written straight to the network leave the embedding cache empty.
	m, err := Open(ctx, WithPath(dir), WithEmbedder(topicEmbedder()))
	require.NoError(t, err)
	require.NoError(t, m.Network().UpsertNode(ctx, core.Node{
		ID: "stored", Path: "/notes/stored.md", Content: "badger notes",
		Vector: []float32{1, 0, 0, 0}, Model: "mock-embedding", LastModified: epoch,
	}))
	require.NoError(t, m.Close(ctx))

	embedder := topicEmbedder()
	embedder.EmbedTextFunc = func(ctx context.Context, text string) ([]float32, error) {
		return nil, errors.New("connection refused")
	}
	m, err = Open(ctx, WithPath(dir), WithEmbedder(embedder))
	require.NoError(t, err)
	defer m.Close(ctx)

	assert.Equal(t, 4, m.Cache().Dimension(""))
	emb, err := m.Cache().GetEmbedding(ctx, "anything about badger", "")
	require.NoError(t, err)
	assert.True(t, emb.Degraded)
	assert.Len(t, emb.Vector, 4)
}

func TestMesh_SchemaMismatchDiscardsState(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "db")
	ctx := context.Background()

	m, err := Open(ctx, WithPath(dir), WithEmbedder(topicEmbedder()))
	require.NoError(t, err)
	_, err = m.Index(ctx, docs...)
	require.NoError(t, err)
	require.NoError(t, m.Close(ctx))

	backend, err := badger.OpenBackend(dir, false)
	require.NoError(t, err)
	require.NoError(t, badger.NewMetaRepository(backend).SetSchemaVersion(ctx, SchemaVersion+1))
	require.NoError(t, backend.Close())

	m, err = Open(ctx, WithPath(dir), WithEmbedder(topicEmbedder()))
	require.NoError(t, err)
	defer m.Close(ctx)
	assert.Zero(t, m.Network().NodeCount())
	assert.Zero(t, m.Stats().Cache.Entries)

	version, found, err := m.repos.Meta.SchemaVersion(ctx)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, SchemaVersion, version)
}

func TestFromConfig(t *testing.T) {
	cfg := config.Default()
	cfg.DataDir = t.TempDir()
	cfg.Graph.LearningRate = 0.5

	m, err := Open(context.Background(), FromConfig(cfg), WithEmbedder(topicEmbedder()))
	require.NoError(t, err)
	defer m.Close(context.Background())

	assert.Equal(t, 0.5, m.Network().Config().LearningRate)
}
