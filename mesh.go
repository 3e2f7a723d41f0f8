// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package knowmesh

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/jonboulle/clockwork"
	"github.com/poiesic/knowmesh/ai"
	"github.com/poiesic/knowmesh/ai/openai"
	"github.com/poiesic/knowmesh/config"
	"github.com/poiesic/knowmesh/core"
	"github.com/poiesic/knowmesh/embedcache"
	"github.com/poiesic/knowmesh/graph"
	"github.com/poiesic/knowmesh/ingestion"
	"github.com/poiesic/knowmesh/metrics"
	"github.com/poiesic/knowmesh/predict"
	"github.com/poiesic/knowmesh/reembed"
	"github.com/poiesic/knowmesh/search"
	"github.com/poiesic/knowmesh/storage"
	"github.com/poiesic/knowmesh/storage/badger"
)

// SchemaVersion is the layout of persisted state. Stores written with a
// different version are discarded on open.
const SchemaVersion uint32 = 1

// Mesh owns every service and the storage behind them.
type Mesh struct {
	backend  *badger.Backend
	repos    *storage.Repositories
	provider ai.AIProvider
	embedder ai.Embedder

	cache    *embedcache.Cache
	network  *graph.Network
	search   *search.Engine
	predict  *predict.Engine
	pipeline *ingestion.Pipeline

	scheduler gocron.Scheduler
	metrics   *metrics.Collector
	clock     clockwork.Clock
	base      *slog.Logger
	logger    *slog.Logger

	closeOnce sync.Once
	closeErr  error
	closed    chan struct{}
}

// Option configures Open.
type Option func(*options) error

type options struct {
	path          string
	inMemory      bool
	aiConfig      *ai.Config
	embedder      ai.Embedder
	tagger        ai.Tagger
	autoTag       bool
	cacheConfig   embedcache.Config
	graphConfig   graph.Config
	searchConfig  search.Config
	predictConfig predict.Config
	poolSize      int
	batchSize     int
	flushInterval time.Duration
	clock         clockwork.Clock
	metrics       *metrics.Collector
	logger        *slog.Logger
}

// WithPath stores state in the badger directory at path.
func WithPath(path string) Option {
	return func(o *options) error {
		o.path = path
		return nil
	}
}

// InMemory keeps all state in memory. Nothing survives Close.
func InMemory() Option {
	return func(o *options) error {
		o.inMemory = true
		return nil
	}
}

// WithAIConfig configures the OpenAI-compatible provider used when no
// embedder is injected.
func WithAIConfig(cfg *ai.Config) Option {
	return func(o *options) error {
		o.aiConfig = cfg
		return nil
	}
}

// WithEmbedder uses e instead of building a provider from the AI config.
func WithEmbedder(e ai.Embedder) Option {
	return func(o *options) error {
		o.embedder = e
		return nil
	}
}

// WithTagger enables auto-tagging during indexing with t.
func WithTagger(t ai.Tagger) Option {
	return func(o *options) error {
		o.tagger = t
		return nil
	}
}

// WithAutoTag enables auto-tagging through the provider's tagger.
func WithAutoTag(enabled bool) Option {
	return func(o *options) error {
		o.autoTag = enabled
		return nil
	}
}

// WithCacheConfig sets the embedding cache tunables.
func WithCacheConfig(cfg embedcache.Config) Option {
	return func(o *options) error {
		o.cacheConfig = cfg
		return nil
	}
}

// WithGraphConfig sets the network tunables.
func WithGraphConfig(cfg graph.Config) Option {
	return func(o *options) error {
		o.graphConfig = cfg
		return nil
	}
}

// WithSearchConfig sets the search tunables.
func WithSearchConfig(cfg search.Config) Option {
	return func(o *options) error {
		o.searchConfig = cfg
		return nil
	}
}

// WithPredictConfig sets the predictive engine tunables.
func WithPredictConfig(cfg predict.Config) Option {
	return func(o *options) error {
		o.predictConfig = cfg
		return nil
	}
}

// WithIngestion sizes the indexing pipeline.
func WithIngestion(poolSize, batchSize int) Option {
	return func(o *options) error {
		o.poolSize, o.batchSize = poolSize, batchSize
		return nil
	}
}

// WithFlushInterval sets how often the cache and graph are flushed and the
// cache purged. Default is one minute.
func WithFlushInterval(d time.Duration) Option {
	return func(o *options) error {
		if d <= 0 {
			return fmt.Errorf("flush interval must be positive, got %v", d)
		}
		o.flushInterval = d
		return nil
	}
}

// WithClock sets the clock shared by every service.
func WithClock(clock clockwork.Clock) Option {
	return func(o *options) error {
		if clock != nil {
			o.clock = clock
		}
		return nil
	}
}

// WithMetrics shares a collector across every service.
func WithMetrics(m *metrics.Collector) Option {
	return func(o *options) error {
		if m != nil {
			o.metrics = m
		}
		return nil
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) error {
		if logger == nil {
			logger = slog.Default()
		}
		o.logger = logger
		return nil
	}
}

// FromConfig applies a loaded configuration file.
func FromConfig(cfg *config.Config) Option {
	return func(o *options) error {
		o.path = cfg.DatabasePath()
		o.aiConfig = cfg.AIConfig()
		o.autoTag = cfg.AI.AutoTag
		o.cacheConfig = cfg.CacheConfig()
		o.graphConfig = cfg.GraphConfig()
		o.searchConfig = cfg.SearchConfig()
		o.predictConfig = cfg.PredictConfig()
		o.poolSize = cfg.Ingestion.PoolSize
		o.batchSize = cfg.Ingestion.BatchSize
		o.flushInterval = cfg.Predict.FlushInterval
		return nil
	}
}

// Open opens the store, loads persisted state and starts the background
// tasks. Close must be called to release it.
func Open(ctx context.Context, opts ...Option) (*Mesh, error) {
	o := &options{
		aiConfig:      ai.DefaultConfig(),
		cacheConfig:   embedcache.DefaultConfig(),
		graphConfig:   graph.DefaultConfig(),
		searchConfig:  search.DefaultConfig(),
		predictConfig: predict.DefaultConfig(),
		poolSize:      ingestion.DefaultPoolSize(),
		batchSize:     ingestion.DefaultBatchSize,
		flushInterval: time.Minute,
		clock:         clockwork.NewRealClock(),
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(o); err != nil {
			return nil, err
		}
	}
	if o.path == "" && !o.inMemory {
		return nil, ErrPathRequired
	}
	if o.metrics == nil {
		o.metrics = metrics.NewCollector("")
	}

	backend, err := badger.OpenBackend(o.path, o.inMemory)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	m := &Mesh{
		backend: backend,
		repos:   badger.NewRepositories(backend),
		metrics: o.metrics,
		clock:   o.clock,
		base:    o.logger,
		logger:  o.logger.With("component", "mesh"),
		closed:  make(chan struct{}),
	}
	if err := m.build(ctx, o); err != nil {
		m.release(ctx)
		return nil, err
	}
	return m, nil
}

func (m *Mesh) build(ctx context.Context, o *options) error {
	if err := m.checkSchema(ctx); err != nil {
		return err
	}

	tagger := o.tagger
	tokens := ai.TokenCounter(ai.ApproxTokenCounter{})
	m.embedder = o.embedder
	if m.embedder == nil {
		provider, err := openai.NewProvider(o.aiConfig)
		if err != nil {
			return fmt.Errorf("failed to create AI provider: %w", err)
		}
		m.provider = provider
		m.embedder = provider.Embedder()
		if o.autoTag && tagger == nil {
			tagger = provider.Tagger()
		}
		tokens = ai.NewTokenCounter(o.aiConfig.TokenEncoding)
	}

	var err error
	m.cache, err = embedcache.New(m.embedder,
		embedcache.WithConfig(o.cacheConfig),
		embedcache.WithRepository(m.repos.Cache),
		embedcache.WithTokenCounter(tokens),
		embedcache.WithClock(o.clock),
		embedcache.WithMetrics(o.metrics),
		embedcache.WithLogger(o.logger),
	)
	if err != nil {
		return fmt.Errorf("failed to create embedding cache: %w", err)
	}
	m.network, err = graph.New(
		graph.WithConfig(o.graphConfig),
		graph.WithRepository(m.repos.Graph),
		graph.WithClock(o.clock),
		graph.WithMetrics(o.metrics),
		graph.WithLogger(o.logger),
	)
	if err != nil {
		return fmt.Errorf("failed to create network: %w", err)
	}
	if err := m.cache.Load(ctx); err != nil {
		return fmt.Errorf("failed to load embedding cache: %w", err)
	}
	if err := m.network.Load(ctx); err != nil {
		return err
	}
	m.seedDimension()

	m.search, err = search.New(m.cache, m.network,
		search.WithConfig(o.searchConfig),
		search.WithClock(o.clock),
		search.WithMetrics(o.metrics),
		search.WithLogger(o.logger),
	)
	if err != nil {
		return fmt.Errorf("failed to create search engine: %w", err)
	}
	m.predict, err = predict.New(m.network,
		predict.WithConfig(o.predictConfig),
		predict.WithSearch(m.search),
		predict.WithRepository(m.repos.Patterns),
		predict.WithLoader(predict.WarmEmbeddings(m.cache)),
		predict.WithClock(o.clock),
		predict.WithMetrics(o.metrics),
		predict.WithLogger(o.logger),
	)
	if err != nil {
		return fmt.Errorf("failed to create predictive engine: %w", err)
	}

	pipelineOpts := []ingestion.Option{
		ingestion.WithPoolSize(o.poolSize),
		ingestion.WithBatchSize(o.batchSize),
		ingestion.WithCheckpoints(m.repos.Checkpoints),
		ingestion.WithClock(o.clock),
		ingestion.WithLogger(o.logger),
	}
	if tagger != nil {
		pipelineOpts = append(pipelineOpts, ingestion.WithTagger(tagger))
	}
	m.pipeline, err = ingestion.NewPipeline(m.network, m.cache, pipelineOpts...)
	if err != nil {
		return fmt.Errorf("failed to create ingestion pipeline: %w", err)
	}

	if err := m.predict.Start(ctx); err != nil {
		return fmt.Errorf("failed to start predictive engine: %w", err)
	}
	return m.startScheduler(o.flushInterval)
}

// checkSchema discards persisted state written under another schema
// version, or whose version record cannot be read.
func (m *Mesh) checkSchema(ctx context.Context) error {
	version, found, err := m.repos.Meta.SchemaVersion(ctx)
	switch {
	case errors.Is(err, storage.ErrCorrupted):
		m.logger.Warn("schema version unreadable, discarding persisted state", "err", err)
	case err != nil:
		return fmt.Errorf("failed to read schema version: %w", err)
	case !found:
		return m.repos.Meta.SetSchemaVersion(ctx, SchemaVersion)
	case version == SchemaVersion:
		return nil
	default:
		m.logger.Warn("schema version mismatch, discarding persisted state",
			"found", version, "expected", SchemaVersion)
	}

	err = errors.Join(
		m.repos.Cache.ClearEntries(ctx),
		m.repos.Graph.ClearGraph(ctx),
		m.repos.Patterns.ClearPatterns(ctx),
	)
	if err != nil {
		return fmt.Errorf("failed to discard persisted state: %w", err)
	}
	return m.repos.Meta.SetSchemaVersion(ctx, SchemaVersion)
}

func (m *Mesh) startScheduler(interval time.Duration) error {
	s, err := gocron.NewScheduler(
		gocron.WithLocation(time.UTC),
		gocron.WithClock(m.clock),
	)
	if err != nil {
		return fmt.Errorf("failed to create scheduler: %w", err)
	}
	_, err = s.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(m.maintain),
		gocron.WithName("store-flush"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		_ = s.Shutdown()
		return fmt.Errorf("failed to schedule flush: %w", err)
	}
	s.Start()
	m.scheduler = s
	return nil
}

// seedDimension tells the cache the vector size of stored nodes on the
// default model, for fallbacks made before the provider first answers.
func (m *Mesh) seedDimension() {
	model := m.cache.DefaultModel()
	for _, n := range m.network.Nodes() {
		if !n.Degraded && n.Model == model {
			m.cache.ObserveDimension(model, len(n.Vector))
			return
		}
	}
}

// maintain purges expired cache entries and flushes dirty state.
func (m *Mesh) maintain() {
	ctx := context.Background()
	if n := m.cache.Purge(); n > 0 {
		m.logger.Debug("purged embedding cache", "entries", n)
	}
	if err := m.Flush(ctx); err != nil {
		m.logger.Warn("periodic flush failed", "err", err)
	}
}

// Flush writes dirty cache entries, graph changes and patterns.
func (m *Mesh) Flush(ctx context.Context) error {
	return errors.Join(
		m.cache.Flush(ctx),
		m.network.Flush(ctx),
		m.predict.FlushPatterns(ctx),
	)
}

// Close stops the background tasks, flushes every service and closes the
// store. It is safe to call more than once.
func (m *Mesh) Close(ctx context.Context) error {
	m.closeOnce.Do(func() {
		close(m.closed)
		m.closeErr = m.release(ctx)
	})
	return m.closeErr
}

func (m *Mesh) release(ctx context.Context) error {
	var errs []error
	if m.scheduler != nil {
		if err := m.scheduler.Shutdown(); err != nil {
			errs = append(errs, fmt.Errorf("scheduler: %w", err))
		}
	}
	if m.predict != nil {
		// Stop flushes the patterns.
		if err := m.predict.Stop(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if m.pipeline != nil {
		m.pipeline.Release()
	}
	if m.search != nil {
		m.search.Release()
	}
	if m.cache != nil {
		if err := m.cache.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if m.network != nil {
		if err := m.network.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if m.provider != nil {
		if err := m.provider.Close(); err != nil {
			m.logger.Error("error closing AI provider", "err", err)
		}
	}
	if err := m.backend.Close(); err != nil {
		m.logger.Error("error closing backend storage", "err", err)
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (m *Mesh) isClosed() bool {
	select {
	case <-m.closed:
		return true
	default:
		return false
	}
}

// Cache returns the embedding cache.
func (m *Mesh) Cache() *embedcache.Cache { return m.cache }

// Network returns the synaptic network.
func (m *Mesh) Network() *graph.Network { return m.network }

// SearchEngine returns the search engine.
func (m *Mesh) SearchEngine() *search.Engine { return m.search }

// Predictor returns the predictive engine.
func (m *Mesh) Predictor() *predict.Engine { return m.predict }

// Pipeline returns the indexing pipeline.
func (m *Mesh) Pipeline() *ingestion.Pipeline { return m.pipeline }

// Metrics returns the shared collector.
func (m *Mesh) Metrics() *metrics.Collector { return m.metrics }

// Search ranks nodes against query.
func (m *Mesh) Search(ctx context.Context, query string, filters core.Filters, sc core.SearchContext) (search.Response, error) {
	if m.isClosed() {
		return search.Response{}, ErrClosed
	}
	return m.search.Search(ctx, query, filters, sc)
}

// RecordSearchFeedback reinforces or weakens the edges behind a result.
func (m *Mesh) RecordSearchFeedback(ctx context.Context, query, nodeID string, outcome search.Outcome) error {
	if m.isClosed() {
		return ErrClosed
	}
	return m.search.RecordSearchFeedback(ctx, query, nodeID, outcome)
}

// UpdateContext records what the user is working on.
func (m *Mesh) UpdateContext(ctx context.Context, wc core.WorkContext) error {
	if m.isClosed() {
		return ErrClosed
	}
	return m.predict.UpdateContext(ctx, wc)
}

// ProactiveInsights generates and ranks insights for the current context.
func (m *Mesh) ProactiveInsights(ctx context.Context) ([]core.Insight, error) {
	if m.isClosed() {
		return nil, ErrClosed
	}
	return m.predict.GenerateProactiveInsights(ctx)
}

// PreloadResources returns the preload manifest for nodeID.
func (m *Mesh) PreloadResources(ctx context.Context, nodeID string) (core.PreloadManifest, error) {
	if m.isClosed() {
		return core.PreloadManifest{}, ErrClosed
	}
	return m.predict.PreloadResources(ctx, nodeID)
}

// RecordPredictionFeedback grades an issued insight.
func (m *Mesh) RecordPredictionFeedback(insightID string, outcome predict.Outcome) error {
	if m.isClosed() {
		return ErrClosed
	}
	return m.predict.RecordPredictionFeedback(insightID, outcome)
}

// Index embeds and stores documents.
func (m *Mesh) Index(ctx context.Context, docs ...core.SourceDocument) (ingestion.Report, error) {
	if m.isClosed() {
		return ingestion.Report{}, ErrClosed
	}
	report, err := m.pipeline.Index(ctx, docs...)
	if report.Indexed > 0 {
		m.search.Invalidate()
	}
	return report, err
}

// IndexAsync queues docs for indexing and returns at once. done, when set,
// receives the outcome. Close waits for queued documents.
func (m *Mesh) IndexAsync(done func(ingestion.Report, error), docs ...core.SourceDocument) error {
	if m.isClosed() {
		return ErrClosed
	}
	return m.pipeline.IndexAsync(func(report ingestion.Report, err error) {
		if report.Indexed > 0 {
			m.search.Invalidate()
		}
		if done != nil {
			done(report, err)
		}
	}, docs...)
}

// Remove deletes nodes and their edges.
func (m *Mesh) Remove(ctx context.Context, ids ...string) (ingestion.Report, error) {
	if m.isClosed() {
		return ingestion.Report{}, ErrClosed
	}
	report, err := m.pipeline.Remove(ctx, ids...)
	if report.Removed > 0 {
		m.search.Invalidate()
	}
	return report, err
}

// Sync indexes everything src changed since its last checkpoint.
func (m *Mesh) Sync(ctx context.Context, src ingestion.ContentSource) (ingestion.Report, error) {
	if m.isClosed() {
		return ingestion.Report{}, ErrClosed
	}
	report, err := m.pipeline.Sync(ctx, src)
	if report.Indexed > 0 {
		m.search.Invalidate()
	}
	return report, err
}

// Reembed moves every node onto the mesh's embedding model.
func (m *Mesh) Reembed(ctx context.Context, opts ...reembed.Option) (reembed.Result, error) {
	if m.isClosed() {
		return reembed.Result{}, ErrClosed
	}
	opts = append([]reembed.Option{
		reembed.WithClock(m.clock),
		reembed.WithLogger(m.base),
		reembed.WithTextPreparer(m.cache),
	}, opts...)
	r, err := reembed.NewReembedder(m.network, m.embedder, opts...)
	if err != nil {
		return reembed.Result{}, err
	}
	result, err := r.Run(ctx)
	if result.Reembedded > 0 {
		m.search.Invalidate()
	}
	return result, err
}
