package ingestion

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/poiesic/knowmesh/ai"
	"github.com/poiesic/knowmesh/ai/mock"
	"github.com/poiesic/knowmesh/core"
	"github.com/poiesic/knowmesh/embedcache"
	"github.com/poiesic/knowmesh/graph"
	"github.com/poiesic/knowmesh/storage"
	"github.com/poiesic/knowmesh/storage/badger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)

type fixture struct {
	pipeline *Pipeline
	network  *graph.Network
	embedder *mock.MockEmbedder
	repos    *storage.Repositories
	clock    clockwork.FakeClock
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	repos, backend, err := badger.NewMemoryRepositories()
	require.NoError(t, err)
	t.Cleanup(func() { backend.Close() })

	f := &fixture{
		embedder: mock.NewMockEmbedder(),
		repos:    repos,
		clock:    clockwork.NewFakeClockAt(epoch),
	}
	f.embedder.Dimensions = 8
	cache, err := embedcache.New(f.embedder, embedcache.WithClock(f.clock))
	require.NoError(t, err)
	f.network, err = graph.New(graph.WithClock(f.clock))
	require.NoError(t, err)

	base := []Option{WithClock(f.clock), WithCheckpoints(repos.Checkpoints), WithPoolSize(2)}
	f.pipeline, err = NewPipeline(f.network, cache, append(base, opts...)...)
	require.NoError(t, err)
	t.Cleanup(f.pipeline.Release)
	return f
}

func doc(path, content string, modified time.Time, tags ...string) core.SourceDocument {
	return core.SourceDocument{Path: path, Content: content, LastModified: modified, Tags: tags}
}

// fakeSource serves a fixed change feed and records the checkpoints it was asked for.
type fakeSource struct {
	mu    sync.Mutex
	docs  []core.SourceDocument
	err   error
	since []time.Time
}

func (s *fakeSource) Name() string { return "fake" }

func (s *fakeSource) ListChangedNodes(ctx context.Context, since time.Time) ([]core.SourceDocument, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.since = append(s.since, since)
	if s.err != nil {
		return nil, s.err
	}
	var out []core.SourceDocument
	for _, d := range s.docs {
		if !d.LastModified.Before(since) {
			out = append(out, d)
		}
	}
	return out, nil
}

func TestNewPipeline(t *testing.T) {
	cache, err := embedcache.New(mock.NewMockEmbedder())
	require.NoError(t, err)
	network, err := graph.New()
	require.NoError(t, err)

	t.Run("valid", func(t *testing.T) {
		p, err := NewPipeline(network, cache, WithLogger(nil))
		require.NoError(t, err)
		p.Release()
	})

	t.Run("nil network", func(t *testing.T) {
		_, err := NewPipeline(nil, cache)
		assert.Equal(t, ErrNetworkRequired, err)
	})

	t.Run("nil embedding cache", func(t *testing.T) {
		_, err := NewPipeline(network, nil)
		assert.Equal(t, ErrEmbeddingCacheRequired, err)
	})

	t.Run("invalid batch size", func(t *testing.T) {
		_, err := NewPipeline(network, cache, WithBatchSize(0))
		assert.Error(t, err)
	})
}

func TestIndex(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	report, err := f.pipeline.Index(ctx,
		doc("/notes/a.md", "alpha notes", epoch.Add(-time.Hour), "work"),
		doc("/notes/b.md", "beta notes", epoch),
		doc("/notes/empty.md", "   \n", epoch),
		core.SourceDocument{Content: "no identity"},
	)
	require.NoError(t, err)
	assert.Equal(t, Report{Indexed: 2, Skipped: 2}, report)

	node, err := f.network.Node(core.NodeIDFromPath("/notes/a.md"))
	require.NoError(t, err)
	assert.Equal(t, "/notes/a.md", node.Path)
	assert.Equal(t, "alpha notes", node.Content)
	assert.Len(t, node.Vector, 8)
	assert.Equal(t, "mock-embedding", node.Model)
	assert.False(t, node.Degraded)
	assert.Equal(t, []string{"work"}, node.Tags)
	assert.Equal(t, epoch.Add(-time.Hour), node.LastModified)
	assert.Equal(t, epoch, node.IndexedAt)
}

func TestIndex_ExplicitID(t *testing.T) {
	f := newFixture(t)
	_, err := f.pipeline.Index(context.Background(), core.SourceDocument{ID: "doc-1", Content: "hello"})
	require.NoError(t, err)
	assert.True(t, f.network.HasNode("doc-1"))
}

func TestIndex_Batches(t *testing.T) {
	f := newFixture(t, WithBatchSize(2))
	docs := make([]core.SourceDocument, 5)
	for i := range docs {
		docs[i] = doc("/notes/"+string(rune('a'+i))+".md", "document "+string(rune('a'+i)), epoch)
	}

	report, err := f.pipeline.Index(context.Background(), docs...)
	require.NoError(t, err)
	assert.Equal(t, 5, report.Indexed)
	assert.Equal(t, 5, f.network.NodeCount())
	assert.Equal(t, 5, f.embedder.TextsEmbedded())
}

func TestIndex_ProviderDownDegrades(t *testing.T) {
	f := newFixture(t)
	f.embedder.FailWith(errors.New("provider down"))

	report, err := f.pipeline.Index(context.Background(), doc("/notes/a.md", "alpha", epoch))
	require.NoError(t, err)
	assert.Equal(t, 1, report.Indexed)
	assert.Equal(t, 1, report.Degraded)

	node, err := f.network.Node(core.NodeIDFromPath("/notes/a.md"))
	require.NoError(t, err)
	assert.True(t, node.Degraded)
	assert.NotEmpty(t, node.Vector)
}

func TestIndex_Tagging(t *testing.T) {
	tagger := mock.NewMockTagger()
	f := newFixture(t, WithTagger(tagger), WithMaxTags(2))

	report, err := f.pipeline.Index(context.Background(),
		doc("/notes/limits.md", "Rate limiting protects shared services", epoch, "ops"))
	require.NoError(t, err)
	assert.Equal(t, 1, report.Tagged)
	assert.Equal(t, 1, tagger.CallCount())

	node, err := f.network.Node(core.NodeIDFromPath("/notes/limits.md"))
	require.NoError(t, err)
	assert.Equal(t, []string{"ops", "rate", "limiting"}, node.Tags)
}

func TestIndex_TaggingFailureIsNotFatal(t *testing.T) {
	tagger := mock.NewMockTagger()
	tagger.ExtractTagsFunc = func(ctx context.Context, text string) ([]ai.ExtractedTag, error) {
		return nil, errors.New("llm unavailable")
	}
	f := newFixture(t, WithTagger(tagger))

	report, err := f.pipeline.Index(context.Background(), doc("/notes/a.md", "alpha", epoch, "kept"))
	require.NoError(t, err)
	assert.Equal(t, Report{Indexed: 1}, report)

	node, err := f.network.Node(core.NodeIDFromPath("/notes/a.md"))
	require.NoError(t, err)
	assert.Equal(t, []string{"kept"}, node.Tags)
}

func TestIndexAsync(t *testing.T) {
	f := newFixture(t)
	reports := make(chan Report, 1)
	require.NoError(t, f.pipeline.IndexAsync(func(r Report, err error) {
		assert.NoError(t, err)
		reports <- r
	}, doc("/notes/a.md", "alpha", epoch), doc("/notes/empty.md", "", epoch)))

	select {
	case r := <-reports:
		assert.Equal(t, Report{Indexed: 1, Skipped: 1}, r)
	case <-time.After(time.Second):
		t.Fatal("async indexing did not finish")
	}
	assert.True(t, f.network.HasNode(core.NodeIDFromPath("/notes/a.md")))
}

func TestIndexAsync_ReleaseWaits(t *testing.T) {
	f := newFixture(t)
	release := make(chan struct{})
	f.embedder.EmbedTextsFunc = func(ctx context.Context, texts []string) ([][]float32, error) {
		<-release
		out := make([][]float32, len(texts))
		for i := range out {
			out[i] = []float32{1, 0, 0}
		}
		return out, nil
	}
	require.NoError(t, f.pipeline.IndexAsync(nil, doc("/notes/a.md", "alpha", epoch)))

	go func() {
		time.Sleep(20 * time.Millisecond)
		close(release)
	}()
	f.pipeline.Release()
	assert.True(t, f.network.HasNode(core.NodeIDFromPath("/notes/a.md")), "queued documents finish before release returns")
}

func TestRemove(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.pipeline.Index(ctx, doc("/notes/a.md", "alpha", epoch), doc("/notes/b.md", "beta", epoch))
	require.NoError(t, err)
	a, b := core.NodeIDFromPath("/notes/a.md"), core.NodeIDFromPath("/notes/b.md")
	require.NoError(t, f.network.ReinforcePath(ctx, []string{a, b}, 1))

	report, err := f.pipeline.Remove(ctx, a, "unknown")
	require.NoError(t, err)
	assert.Equal(t, 1, report.Removed)
	assert.False(t, f.network.HasNode(a))
	assert.Zero(t, f.network.EdgeCount(), "incident edges go with the node")
}

func TestSync_AdvancesCheckpoint(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	src := &fakeSource{docs: []core.SourceDocument{
		doc("/notes/a.md", "alpha", epoch.Add(-2*time.Hour)),
		doc("/notes/b.md", "beta", epoch.Add(-time.Hour)),
	}}

	report, err := f.pipeline.Sync(ctx, src)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Indexed)

	checkpoint, err := f.repos.Checkpoints.LoadCheckpoint(ctx, "fake")
	require.NoError(t, err)
	require.NotNil(t, checkpoint)
	assert.Equal(t, epoch.Add(-time.Hour), checkpoint.Since)
	assert.Equal(t, epoch, checkpoint.UpdatedAt)

	src.docs = append(src.docs, doc("/notes/c.md", "gamma", epoch.Add(time.Hour)))
	report, err = f.pipeline.Sync(ctx, src)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Indexed, "b sits on the checkpoint and is revisited, a is not")
	assert.Equal(t, []time.Time{{}, epoch.Add(-time.Hour)}, src.since)
	assert.Equal(t, 3, f.network.NodeCount())

	checkpoint, err = f.repos.Checkpoints.LoadCheckpoint(ctx, "fake")
	require.NoError(t, err)
	assert.Equal(t, epoch.Add(time.Hour), checkpoint.Since)
}

func TestSync_FailureKeepsCheckpoint(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	src := &fakeSource{err: errors.New("source offline")}

	_, err := f.pipeline.Sync(ctx, src)
	require.Error(t, err)

	checkpoint, err := f.repos.Checkpoints.LoadCheckpoint(ctx, "fake")
	require.NoError(t, err)
	assert.Nil(t, checkpoint)
}

func TestSync_Requirements(t *testing.T) {
	cache, err := embedcache.New(mock.NewMockEmbedder())
	require.NoError(t, err)
	network, err := graph.New()
	require.NoError(t, err)
	p, err := NewPipeline(network, cache)
	require.NoError(t, err)
	defer p.Release()

	_, err = p.Sync(context.Background(), &fakeSource{})
	assert.ErrorIs(t, err, ErrCheckpointRepositoryRequired)
	_, err = p.Sync(context.Background(), nil)
	assert.ErrorIs(t, err, ErrSourceRequired)
}
