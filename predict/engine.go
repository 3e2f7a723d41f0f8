package predict

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/jonboulle/clockwork"
	"github.com/panjf2000/ants/v2"
	"github.com/patrickmn/go-cache"
	"github.com/poiesic/knowmesh/core"
	"github.com/poiesic/knowmesh/graph"
	"github.com/poiesic/knowmesh/metrics"
	"github.com/poiesic/knowmesh/search"
	"github.com/poiesic/knowmesh/storage"
)

// Engine turns work context and network structure into proactive insights
// and preload manifests.
type Engine struct {
	cfg     Config
	network *graph.Network
	search  *search.Engine
	repo    storage.PatternRepository
	loader  Loader
	clock   clockwork.Clock
	metrics *metrics.Collector
	logger  *slog.Logger
	pool    *ants.Pool

	mu       sync.Mutex
	current  *core.WorkContext
	patterns map[core.PatternKey]core.TemporalPattern
	dirty    map[core.PatternKey]struct{}
	latest   []core.Insight
	debounce clockwork.Timer

	preloadMu sync.Mutex
	preloads  map[string]*preload // cache key -> entry

	accMu    sync.Mutex
	accuracy float64
	byKind   map[core.InsightKind]float64
	issued   *cache.Cache // insight id -> kind

	lifeMu    sync.Mutex
	scheduler gocron.Scheduler
	stopped   bool

	bgCtx  context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a predictive engine over network. Call Stop when done.
func New(network *graph.Network, opts ...Option) (*Engine, error) {
	if network == nil {
		return nil, ErrNetworkRequired
	}
	e := &Engine{
		cfg:      DefaultConfig(),
		network:  network,
		clock:    clockwork.NewRealClock(),
		metrics:  metrics.NewCollector(""),
		logger:   slog.Default().With("component", "predict"),
		patterns: make(map[core.PatternKey]core.TemporalPattern),
		dirty:    make(map[core.PatternKey]struct{}),
		preloads: make(map[string]*preload),
		byKind:   make(map[core.InsightKind]float64),
	}
	for _, opt := range opts {
		if err := opt(e); err != nil {
			return nil, err
		}
	}
	if e.loader == nil {
		e.loader = touchNodes
	}

	pool, err := ants.NewPool(e.cfg.PreloadWorkers)
	if err != nil {
		return nil, fmt.Errorf("failed to create preload pool: %w", err)
	}
	e.pool = pool
	e.accuracy = e.cfg.InitialAccuracy
	e.issued = cache.New(e.cfg.FeedbackRetention, e.cfg.FeedbackRetention)
	e.bgCtx, e.cancel = context.WithCancel(context.Background())
	e.metrics.PredictionAccuracy.Set(e.accuracy)
	return e, nil
}

// Start loads persisted patterns and schedules the background refresh,
// purge and flush jobs.
func (e *Engine) Start(ctx context.Context) error {
	e.lifeMu.Lock()
	defer e.lifeMu.Unlock()
	if e.scheduler != nil {
		return ErrAlreadyStarted
	}
	if err := e.loadPatterns(ctx); err != nil {
		return err
	}

	scheduler, err := gocron.NewScheduler(gocron.WithLocation(time.UTC), gocron.WithClock(e.clock))
	if err != nil {
		return fmt.Errorf("failed to create scheduler: %w", err)
	}
	jobs := []struct {
		name     string
		interval time.Duration
		task     func()
	}{
		{"insight-refresh", e.cfg.RefreshInterval, e.refresh},
		{"preload-purge", e.cfg.PurgeInterval, func() { e.PurgePreloads() }},
		{"pattern-flush", e.cfg.FlushInterval, func() {
			if err := e.FlushPatterns(e.bgCtx); err != nil {
				e.logger.Warn("pattern flush failed", "err", err)
			}
		}},
	}
	for _, job := range jobs {
		_, err := scheduler.NewJob(
			gocron.DurationJob(job.interval),
			gocron.NewTask(job.task),
			gocron.WithName(job.name),
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
		)
		if err != nil {
			_ = scheduler.Shutdown()
			return fmt.Errorf("failed to schedule %s: %w", job.name, err)
		}
	}
	scheduler.Start()
	e.scheduler = scheduler
	e.logger.Info("predictive engine started",
		"refresh", e.cfg.RefreshInterval, "purge", e.cfg.PurgeInterval)
	return nil
}

// Stop cancels in-flight preloads, stops the scheduler and flushes
// patterns. It is safe to call more than once.
func (e *Engine) Stop(ctx context.Context) error {
	e.lifeMu.Lock()
	if e.stopped {
		e.lifeMu.Unlock()
		return nil
	}
	e.stopped = true
	scheduler := e.scheduler
	e.lifeMu.Unlock()

	e.mu.Lock()
	if e.debounce != nil {
		e.debounce.Stop()
	}
	e.mu.Unlock()

	e.cancel()
	var errs []error
	if scheduler != nil {
		if err := scheduler.Shutdown(); err != nil {
			errs = append(errs, fmt.Errorf("scheduler shutdown: %w", err))
		}
	}
	e.wg.Wait()
	e.pool.Release()
	if err := e.FlushPatterns(ctx); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// UpdateContext records what the user is working on. The matching temporal
// pattern is reinforced, and a change of focus schedules an insight refresh
// after the debounce delay.
func (e *Engine) UpdateContext(ctx context.Context, wc core.WorkContext) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := core.ValidateWorkContext(wc); err != nil {
		return err
	}
	if wc.Timestamp.IsZero() {
		wc.Timestamp = e.clock.Now()
	}
	wc.ActiveFiles = append([]string(nil), wc.ActiveFiles...)

	e.mu.Lock()
	defer e.mu.Unlock()
	e.observeLocked(wc)

	changed := e.current == nil || !e.current.SameFocus(wc)
	e.current = &wc
	if !changed {
		return nil
	}
	if e.debounce != nil {
		e.debounce.Stop()
	}
	e.debounce = e.clock.AfterFunc(e.cfg.Debounce, e.refresh)
	e.logger.Debug("work context changed", "task", wc.Task, "project", wc.Project, "files", len(wc.ActiveFiles))
	return nil
}

// CurrentContext returns the latest work context, if any.
func (e *Engine) CurrentContext() (core.WorkContext, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.current == nil {
		return core.WorkContext{}, false
	}
	wc := *e.current
	wc.ActiveFiles = append([]string(nil), wc.ActiveFiles...)
	return wc, true
}

// refresh regenerates insights in the background. Nothing happens until a
// context has been set.
func (e *Engine) refresh() {
	if e.bgCtx.Err() != nil {
		return
	}
	if _, ok := e.CurrentContext(); !ok {
		return
	}
	if _, err := e.GenerateProactiveInsights(e.bgCtx); err != nil && !errors.Is(err, context.Canceled) {
		e.logger.Warn("insight refresh failed", "err", err)
	}
}
