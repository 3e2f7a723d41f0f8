package ingestion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/panjf2000/ants/v2"
	"github.com/poiesic/knowmesh/ai"
	"github.com/poiesic/knowmesh/core"
	"github.com/poiesic/knowmesh/embedcache"
	"github.com/poiesic/knowmesh/graph"
	"github.com/poiesic/knowmesh/storage"
)

const (
	// DefaultBatchSize is the number of documents embedded per cache call.
	DefaultBatchSize = 32

	// DefaultMaxTags caps the tags added per document by the tagger.
	DefaultMaxTags = 5

	asyncDrainTimeout = 30 * time.Second
)

// DefaultPoolSize returns the default worker count for tagging and async
// indexing.
func DefaultPoolSize() int {
	return max(runtime.NumCPU()/2, 1)
}

// ContentSource is a change feed of documents.
type ContentSource interface {
	// Name identifies the source in checkpoints and logs.
	Name() string

	// ListChangedNodes returns documents modified at or after since.
	ListChangedNodes(ctx context.Context, since time.Time) ([]core.SourceDocument, error)
}

// Report summarizes one index, sync or removal run.
type Report struct {
	Indexed  int
	Degraded int // indexed with a fallback vector
	Tagged   int
	Skipped  int // documents without content or identity
	Removed  int
}

func (r *Report) add(o Report) {
	r.Indexed += o.Indexed
	r.Degraded += o.Degraded
	r.Tagged += o.Tagged
	r.Skipped += o.Skipped
	r.Removed += o.Removed
}

// Pipeline orchestrates the indexing of source documents into the network.
type Pipeline struct {
	network     *graph.Network
	checkpoints storage.CheckpointRepository
	asyncPool   *ants.Pool
	tagPool     *ants.Pool
	embedProc   processor
	tagProc     processor
	tagger      ai.Tagger
	model       string
	maxTags     int
	batchSize   int
	clock       clockwork.Clock
	logger      *slog.Logger
}

// Option configures a Pipeline.
type Option func(*Pipeline) error

// WithPoolSize sets the worker pool size for tagging and async indexing.
// Default is runtime.NumCPU() / 2, with a minimum of 1.
func WithPoolSize(size int) Option {
	return func(p *Pipeline) error {
		if size < 1 {
			size = 1
		}
		p.releasePools()
		return p.newPools(size)
	}
}

// WithTagger enables LLM tag extraction during indexing.
func WithTagger(tagger ai.Tagger) Option {
	return func(p *Pipeline) error {
		p.tagger = tagger
		return nil
	}
}

// WithMaxTags caps how many extracted tags are added to a node.
// Default is 5; 0 means no cap.
func WithMaxTags(n int) Option {
	return func(p *Pipeline) error {
		if n < 0 {
			return fmt.Errorf("max tags must not be negative: %d", n)
		}
		p.maxTags = n
		return nil
	}
}

// WithBatchSize sets how many documents are embedded per provider call.
// Default is 32.
func WithBatchSize(n int) Option {
	return func(p *Pipeline) error {
		if n < 1 {
			return fmt.Errorf("batch size must be positive: %d", n)
		}
		p.batchSize = n
		return nil
	}
}

// WithModel embeds documents with model instead of the cache's default.
func WithModel(model string) Option {
	return func(p *Pipeline) error {
		p.model = model
		return nil
	}
}

// WithCheckpoints enables Sync by persisting per-source progress in repo.
func WithCheckpoints(repo storage.CheckpointRepository) Option {
	return func(p *Pipeline) error {
		p.checkpoints = repo
		return nil
	}
}

// WithClock sets the clock used for index and checkpoint timestamps.
func WithClock(clock clockwork.Clock) Option {
	return func(p *Pipeline) error {
		if clock != nil {
			p.clock = clock
		}
		return nil
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) error {
		if logger == nil {
			logger = slog.Default()
		}
		p.logger = logger.With("component", "ingestion")
		return nil
	}
}

// NewPipeline creates a pipeline indexing into network through embeddings.
// Call Release when done.
func NewPipeline(network *graph.Network, embeddings *embedcache.Cache, opts ...Option) (*Pipeline, error) {
	if network == nil {
		return nil, ErrNetworkRequired
	}
	if embeddings == nil {
		return nil, ErrEmbeddingCacheRequired
	}

	p := &Pipeline{
		network:   network,
		maxTags:   DefaultMaxTags,
		batchSize: DefaultBatchSize,
		clock:     clockwork.NewRealClock(),
		logger:    slog.Default().With("component", "ingestion"),
	}
	if err := p.newPools(DefaultPoolSize()); err != nil {
		return nil, err
	}

	// Apply options (may override defaults)
	for _, opt := range opts {
		if err := opt(p); err != nil {
			p.Release()
			return nil, err
		}
	}

	// Processors are built after options so they get the final config.
	p.embedProc = newEmbeddingProcessor(embeddings, p.model, p.logger)
	if p.tagger != nil {
		p.tagProc = newTagProcessor(p.tagger, p.tagPool, p.maxTags, p.logger)
	}
	return p, nil
}

func (p *Pipeline) newPools(size int) error {
	asyncPool, err := ants.NewPool(size)
	if err != nil {
		return err
	}
	tagPool, err := ants.NewPool(size)
	if err != nil {
		asyncPool.Release()
		return err
	}
	p.asyncPool, p.tagPool = asyncPool, tagPool
	return nil
}

func (p *Pipeline) releasePools() {
	if p.asyncPool != nil {
		if err := p.asyncPool.ReleaseTimeout(asyncDrainTimeout); err != nil && !errors.Is(err, ants.ErrPoolClosed) {
			p.logger.Warn("async indexing still running at release", "err", err)
		}
	}
	if p.tagPool != nil {
		p.tagPool.Release()
	}
}

// Index embeds, tags and upserts docs in batches. Documents without content
// or identity are skipped. An embedding failure stops the run; upsert
// failures are collected and returned together.
func (p *Pipeline) Index(ctx context.Context, docs ...core.SourceDocument) (Report, error) {
	var report Report
	batch := make([]*pending, 0, p.batchSize)
	for _, doc := range docs {
		item, ok := p.prepare(doc)
		if !ok {
			report.Skipped++
			continue
		}
		batch = append(batch, item)
		if len(batch) == p.batchSize {
			r, err := p.indexBatch(ctx, batch)
			report.add(r)
			if err != nil {
				return report, err
			}
			batch = batch[:0]
		}
	}
	if len(batch) > 0 {
		r, err := p.indexBatch(ctx, batch)
		report.add(r)
		if err != nil {
			return report, err
		}
	}
	p.logger.Info("indexed documents",
		"indexed", report.Indexed, "degraded", report.Degraded,
		"tagged", report.Tagged, "skipped", report.Skipped)
	return report, nil
}

func (p *Pipeline) prepare(doc core.SourceDocument) (*pending, bool) {
	if strings.TrimSpace(doc.Content) == "" {
		p.logger.Debug("skipping empty document", "path", doc.Path)
		return nil, false
	}
	id := doc.ID
	if id == "" && doc.Path != "" {
		id = core.NodeIDFromPath(doc.Path)
	}
	if id == "" {
		p.logger.Debug("skipping document without id or path")
		return nil, false
	}
	return &pending{
		doc: doc,
		node: core.Node{
			ID:           id,
			Path:         doc.Path,
			Content:      doc.Content,
			Tags:         append([]string(nil), doc.Tags...),
			LastModified: doc.LastModified,
		},
	}, true
}

func (p *Pipeline) indexBatch(ctx context.Context, batch []*pending) (Report, error) {
	var report Report
	if err := p.embedProc.process(ctx, batch); err != nil {
		return report, err
	}
	if p.tagProc != nil {
		if err := p.tagProc.process(ctx, batch); err != nil {
			return report, err
		}
	}

	now := p.clock.Now()
	var errs []error
	for _, item := range batch {
		item.node.IndexedAt = now
		if err := p.network.UpsertNode(ctx, item.node); err != nil {
			errs = append(errs, fmt.Errorf("failed to upsert %s: %w", item.node.ID, err))
			continue
		}
		report.Indexed++
		if item.node.Degraded {
			report.Degraded++
		}
		if item.tagged {
			report.Tagged++
		}
	}
	return report, errors.Join(errs...)
}

// IndexAsync indexes docs on the worker pool and returns once they are
// queued. done, when set, receives the outcome; errors are logged either way.
// Release waits for queued work.
func (p *Pipeline) IndexAsync(done func(Report, error), docs ...core.SourceDocument) error {
	docs = append([]core.SourceDocument(nil), docs...)
	return p.asyncPool.Submit(func() {
		report, err := p.Index(context.Background(), docs...)
		if err != nil {
			p.logger.Error("error indexing documents", "err", err)
		}
		if done != nil {
			done(report, err)
		}
	})
}

// Remove deletes nodes, and their edges, from the network. Unknown ids are
// ignored.
func (p *Pipeline) Remove(ctx context.Context, ids ...string) (Report, error) {
	var report Report
	var errs []error
	for _, id := range ids {
		err := p.network.RemoveNode(ctx, id)
		switch {
		case err == nil:
			report.Removed++
		case errors.Is(err, graph.ErrNodeNotFound):
		default:
			errs = append(errs, err)
		}
	}
	if report.Removed > 0 {
		p.logger.Info("removed nodes", "removed", report.Removed)
	}
	return report, errors.Join(errs...)
}

// Sync indexes everything src changed since its last checkpoint and then
// advances the checkpoint to the newest modification time seen. The
// checkpoint stays put when indexing fails.
func (p *Pipeline) Sync(ctx context.Context, src ContentSource) (Report, error) {
	if src == nil {
		return Report{}, ErrSourceRequired
	}
	if p.checkpoints == nil {
		return Report{}, ErrCheckpointRepositoryRequired
	}

	name := src.Name()
	var since time.Time
	checkpoint, err := p.checkpoints.LoadCheckpoint(ctx, name)
	if err != nil {
		return Report{}, fmt.Errorf("failed to load checkpoint for %s: %w", name, err)
	}
	if checkpoint != nil {
		since = checkpoint.Since
	}

	docs, err := src.ListChangedNodes(ctx, since)
	if err != nil {
		return Report{}, fmt.Errorf("failed to list changes from %s: %w", name, err)
	}
	p.logger.Info("syncing source", "source", name, "since", since, "documents", len(docs))

	report, err := p.Index(ctx, docs...)
	if err != nil {
		return report, err
	}

	latest := since
	for _, doc := range docs {
		if doc.LastModified.After(latest) {
			latest = doc.LastModified
		}
	}
	err = p.checkpoints.SaveCheckpoint(ctx, &core.Checkpoint{
		Source:    name,
		Since:     latest,
		UpdatedAt: p.clock.Now(),
	})
	if err != nil {
		return report, fmt.Errorf("failed to save checkpoint for %s: %w", name, err)
	}
	return report, nil
}

// Release releases resources including worker pools.
// The pipeline should not be used after calling Release.
func (p *Pipeline) Release() {
	p.releasePools()
}
