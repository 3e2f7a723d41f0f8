package embedcache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	dgbadger "github.com/dgraph-io/badger/v4"
	"github.com/jonboulle/clockwork"
	"github.com/poiesic/knowmesh/ai/mock"
	"github.com/poiesic/knowmesh/core"
	"github.com/poiesic/knowmesh/metrics"
	"github.com/poiesic/knowmesh/storage"
	"github.com/poiesic/knowmesh/storage/badger"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)

func newTestCache(t *testing.T, opts ...Option) (*Cache, *mock.MockEmbedder, clockwork.FakeClock) {
	t.Helper()
	embedder := mock.NewMockEmbedder()
	embedder.Dimensions = 16
	clock := clockwork.NewFakeClockAt(epoch)
	c, err := New(embedder, append([]Option{WithClock(clock)}, opts...)...)
	require.NoError(t, err)
	return c, embedder, clock
}

func newRepos(t *testing.T) (*storage.Repositories, *badger.Backend) {
	t.Helper()
	repos, backend, err := badger.NewMemoryRepositories()
	require.NoError(t, err)
	t.Cleanup(func() { backend.Close() })
	return repos, backend
}

func TestGetEmbedding_CachedRoundTrip(t *testing.T) {
	m := metrics.NewCollector("")
	c, embedder, _ := newTestCache(t, WithMetrics(m))
	ctx := context.Background()

	first, err := c.GetEmbedding(ctx, "hello   world", "")
	require.NoError(t, err)
	assert.False(t, first.Cached)
	assert.False(t, first.Degraded)
	assert.Equal(t, "mock-embedding", first.Model)

	second, err := c.GetEmbedding(ctx, "hello world", "mock-embedding")
	require.NoError(t, err)
	assert.True(t, second.Cached)
	assert.Equal(t, first.Vector, second.Vector, "cached vectors must be bit-identical")
	assert.Equal(t, 1, embedder.CallCount())

	// Callers get copies.
	second.Vector[0] = 42
	third, err := c.GetEmbedding(ctx, "hello world", "")
	require.NoError(t, err)
	assert.Equal(t, first.Vector, third.Vector)

	stats := c.Stats()
	assert.Equal(t, uint64(2), stats.Hits)
	assert.Equal(t, uint64(1), stats.Misses)
	assert.Equal(t, 1, stats.Entries)
	assert.Greater(t, stats.Tokens, uint64(0))
	assert.InDelta(t, 2.0/3.0, stats.HitRate(), 1e-9)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.EmbeddingLookups.WithLabelValues(metrics.ResultHit)))
}

func TestGetEmbedding_Errors(t *testing.T) {
	c, _, _ := newTestCache(t)
	ctx := context.Background()

	_, err := c.GetEmbedding(ctx, "text", "other-model")
	assert.ErrorIs(t, err, ErrUnknownModel)

	_, err = c.GetEmbedding(ctx, "  \n ", "")
	assert.ErrorIs(t, err, ErrEmptyText)

	_, err = New(nil)
	assert.ErrorIs(t, err, ErrEmbedderRequired)
}

func TestGetEmbedding_FallbackOnProviderFailure(t *testing.T) {
	c, embedder, _ := newTestCache(t)
	ctx := context.Background()

	t.Run("before any real vector uses the configured dimension", func(t *testing.T) {
		embedder.FailWith(errors.New("connection refused"))
		defer embedder.FailWith(nil)

		emb, err := c.GetEmbedding(ctx, "first text", "")
		require.NoError(t, err)
		assert.True(t, emb.Degraded)
		assert.False(t, emb.Cached)
		assert.Len(t, emb.Vector, DefaultConfig().FallbackDimension)
	})

	_, err := c.GetEmbedding(ctx, "warm up", "")
	require.NoError(t, err)

	embedder.FailWith(errors.New("connection refused"))
	a, err := c.GetEmbedding(ctx, "some text", "")
	require.NoError(t, err)
	b, err := c.GetEmbedding(ctx, "some text", "")
	require.NoError(t, err)

	assert.True(t, a.Degraded)
	assert.Len(t, a.Vector, 16, "fallback matches the real dimension once known")
	assert.Equal(t, a.Vector, b.Vector, "fallback is deterministic")
	assert.False(t, b.Cached, "fallback vectors are never cached")

	embedder.FailWith(nil)
	recovered, err := c.GetEmbedding(ctx, "some text", "")
	require.NoError(t, err)
	assert.False(t, recovered.Degraded)
	assert.NotEqual(t, a.Vector, recovered.Vector)
	assert.Equal(t, uint64(3), c.Stats().Fallbacks)
}

func TestObserveDimension(t *testing.T) {
	tests := []struct {
		name    string
		observe []int
		want    int
	}{
		{"seeds the fallback size", []int{6}, 6},
		{"first size wins", []int{6, 12}, 6},
		{"non-positive sizes are ignored", []int{0, -3}, DefaultConfig().FallbackDimension},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, embedder, _ := newTestCache(t)
			for _, size := range tt.observe {
				c.ObserveDimension("", size)
			}
			assert.Equal(t, tt.want, c.Dimension(embedder.Model()))

			embedder.FailWith(errors.New("connection refused"))
			emb, err := c.GetEmbedding(context.Background(), "before any real vector", "")
			require.NoError(t, err)
			assert.True(t, emb.Degraded)
			assert.Len(t, emb.Vector, tt.want)
		})
	}
}

func TestGetEmbedding_ContextCanceled(t *testing.T) {
	c, embedder, _ := newTestCache(t)
	embedder.EmbedTextsFunc = func(ctx context.Context, texts []string) ([][]float32, error) {
		return nil, ctx.Err()
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.GetEmbedding(ctx, "text", "")
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, c.Stats().Fallbacks)
}

func TestGetEmbedding_ReturnsWhenContextEnds(t *testing.T) {
	c, embedder, _ := newTestCache(t)
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })
	// The provider ignores its context.
	embedder.EmbedTextsFunc = func(ctx context.Context, texts []string) ([][]float32, error) {
		<-release
		return [][]float32{make([]float32, 16)}, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	start := time.Now()
	_, err := c.GetEmbedding(ctx, "slow text", "")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
	assert.Zero(t, c.Stats().Fallbacks)
}

func TestGetEmbedding_CircuitBreakerOpens(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BreakerFailures = 2
	cfg.BreakerTimeout = time.Hour
	c, embedder, _ := newTestCache(t, WithConfig(cfg))
	embedder.FailWith(errors.New("503"))
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		emb, err := c.GetEmbedding(ctx, fmt.Sprintf("text %d", i), "")
		require.NoError(t, err)
		assert.True(t, emb.Degraded)
	}
	assert.Equal(t, 2, embedder.CallCount(), "open breaker short-circuits the provider")
	assert.Equal(t, uint64(5), c.Stats().ProviderErrors)
}

func TestGetEmbedding_TTLExpiry(t *testing.T) {
	c, embedder, clock := newTestCache(t)
	ctx := context.Background()

	_, err := c.GetEmbedding(ctx, "text", "")
	require.NoError(t, err)

	clock.Advance(7*24*time.Hour - time.Second)
	emb, err := c.GetEmbedding(ctx, "text", "")
	require.NoError(t, err)
	assert.True(t, emb.Cached)

	clock.Advance(time.Second)
	emb, err = c.GetEmbedding(ctx, "text", "")
	require.NoError(t, err)
	assert.False(t, emb.Cached)
	assert.Equal(t, 2, embedder.CallCount())
}

func TestGetEmbedding_EvictsOldestFirst(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxEntries = 2
	c, embedder, clock := newTestCache(t, WithConfig(cfg))
	ctx := context.Background()

	for _, text := range []string{"one", "two", "three"} {
		_, err := c.GetEmbedding(ctx, text, "")
		require.NoError(t, err)
		clock.Advance(time.Minute)
	}
	assert.Equal(t, 2, c.Stats().Entries)
	assert.Equal(t, uint64(1), c.Stats().Evictions)

	calls := embedder.CallCount()
	emb, err := c.GetEmbedding(ctx, "three", "")
	require.NoError(t, err)
	assert.True(t, emb.Cached)
	emb, err = c.GetEmbedding(ctx, "one", "")
	require.NoError(t, err)
	assert.False(t, emb.Cached, "oldest entry was evicted")
	assert.Equal(t, calls+1, embedder.CallCount())
}

func TestGetEmbedding_TruncatesToTokenBudget(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TokenBudget = 2
	c, embedder, _ := newTestCache(t, WithConfig(cfg))
	var seen []string
	embedder.EmbedTextsFunc = func(ctx context.Context, texts []string) ([][]float32, error) {
		seen = append(seen, texts...)
		out := make([][]float32, len(texts))
		for i := range texts {
			out[i] = []float32{1, 0}
		}
		return out, nil
	}

	emb, err := c.GetEmbedding(context.Background(), "abcdefghijklmnop", "")
	require.NoError(t, err)
	assert.Equal(t, []string{"abcdefgh"}, seen)
	assert.Equal(t, 2, emb.Tokens)

	// Same prefix within the budget shares the entry.
	emb, err = c.GetEmbedding(context.Background(), "abcdefghXYZ", "")
	require.NoError(t, err)
	assert.True(t, emb.Cached)
}

func TestGetEmbedding_ConcurrentMissesShareOneCall(t *testing.T) {
	c, embedder, _ := newTestCache(t)
	gate := make(chan struct{})
	embedder.EmbedTextsFunc = func(ctx context.Context, texts []string) ([][]float32, error) {
		<-gate
		return [][]float32{{0.6, 0.8}}, nil
	}

	var wg sync.WaitGroup
	results := make([]Embedding, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			emb, err := c.GetEmbedding(context.Background(), "shared", "")
			assert.NoError(t, err)
			results[i] = emb
		}(i)
	}
	time.Sleep(20 * time.Millisecond)
	close(gate)
	wg.Wait()

	assert.Equal(t, 1, embedder.CallCount())
	for _, r := range results {
		assert.Equal(t, []float32{0.6, 0.8}, r.Vector)
	}
}

func TestGetBatchEmbeddings(t *testing.T) {
	c, embedder, _ := newTestCache(t)
	ctx := context.Background()

	warm, err := c.GetEmbedding(ctx, "cached", "")
	require.NoError(t, err)

	results, err := c.GetBatchEmbeddings(ctx, []string{"cached", "new a", "new b", "new a"}, "")
	require.NoError(t, err)
	require.Len(t, results, 4)

	assert.True(t, results[0].Cached)
	assert.Equal(t, warm.Vector, results[0].Vector)
	assert.False(t, results[1].Cached)
	assert.Equal(t, results[1].Vector, results[3].Vector)
	assert.Equal(t, 2, embedder.CallCount(), "one call for the warm-up, one for the batch")
	assert.Equal(t, 3, embedder.TextsEmbedded(), "only distinct misses are sent")

	results, err = c.GetBatchEmbeddings(ctx, []string{"new a", "new b"}, "")
	require.NoError(t, err)
	assert.True(t, results[0].Cached)
	assert.True(t, results[1].Cached)
	assert.Equal(t, 2, embedder.CallCount())

	t.Run("provider failure degrades only the misses", func(t *testing.T) {
		embedder.FailWith(errors.New("down"))
		defer embedder.FailWith(nil)

		results, err := c.GetBatchEmbeddings(ctx, []string{"new a", "brand new"}, "")
		require.NoError(t, err)
		assert.True(t, results[0].Cached)
		assert.False(t, results[0].Degraded)
		assert.True(t, results[1].Degraded)
	})

	t.Run("empty text", func(t *testing.T) {
		_, err := c.GetBatchEmbeddings(ctx, []string{"ok", ""}, "")
		assert.ErrorIs(t, err, ErrEmptyText)
	})
}

func TestPersistence_FlushAndLoad(t *testing.T) {
	repos, _ := newRepos(t)
	ctx := context.Background()

	c1, embedder1, _ := newTestCache(t, WithRepository(repos.Cache))
	first, err := c1.GetEmbedding(ctx, "persist me", "")
	require.NoError(t, err)
	require.NoError(t, c1.Close(ctx))
	assert.Equal(t, 1, embedder1.CallCount())

	c2, embedder2, _ := newTestCache(t, WithRepository(repos.Cache))
	require.NoError(t, c2.Load(ctx))
	emb, err := c2.GetEmbedding(ctx, "persist me", "")
	require.NoError(t, err)
	assert.True(t, emb.Cached)
	assert.Equal(t, first.Vector, emb.Vector)
	assert.Zero(t, embedder2.CallCount())
	assert.Equal(t, 16, c2.Dimension(""))
}

func TestPersistence_VersionMismatchInvalidates(t *testing.T) {
	repos, _ := newRepos(t)
	ctx := context.Background()

	c1, _, _ := newTestCache(t, WithRepository(repos.Cache))
	_, err := c1.GetEmbedding(ctx, "versioned", "")
	require.NoError(t, err)
	require.NoError(t, c1.Flush(ctx))

	cfg := DefaultConfig()
	cfg.Version = 2
	c2, _, _ := newTestCache(t, WithRepository(repos.Cache), WithConfig(cfg))
	require.NoError(t, c2.Load(ctx))
	assert.Zero(t, c2.Stats().Entries)

	// The stale entry is deleted on the next flush.
	require.NoError(t, c2.Flush(ctx))
	count := 0
	require.NoError(t, repos.Cache.LoadEntries(ctx, func(core.CacheEntry) error { count++; return nil }))
	assert.Zero(t, count)
}

func TestPersistence_CorruptSnapshotIsDiscarded(t *testing.T) {
	repos, backend := newRepos(t)
	ctx := context.Background()

	require.NoError(t, backend.Batch(ctx, func(wb *dgbadger.WriteBatch) error {
		return wb.Set([]byte("emb:garbage"), []byte{0xFF, 0xFF})
	}))

	c, _, _ := newTestCache(t, WithRepository(repos.Cache))
	require.NoError(t, c.Load(ctx))
	assert.Zero(t, c.Stats().Entries)

	require.NoError(t, repos.Cache.LoadEntries(ctx, func(core.CacheEntry) error { return nil }))

	_, err := c.GetEmbedding(ctx, "rebuilt", "")
	require.NoError(t, err)
	require.NoError(t, c.Flush(ctx))
}

func TestPurge(t *testing.T) {
	c, _, clock := newTestCache(t)
	ctx := context.Background()

	_, err := c.GetEmbedding(ctx, "old", "")
	require.NoError(t, err)
	clock.Advance(6 * 24 * time.Hour)
	_, err = c.GetEmbedding(ctx, "new", "")
	require.NoError(t, err)
	clock.Advance(2 * 24 * time.Hour)

	assert.Equal(t, 1, c.Purge())
	assert.Equal(t, 1, c.Stats().Entries)
}

func TestConfigValidate(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())

	cfg := DefaultConfig()
	cfg.MaxEntries = 0
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)

	_, err := New(mock.NewMockEmbedder(), WithConfig(cfg))
	assert.ErrorIs(t, err, ErrInvalidConfig)
}
