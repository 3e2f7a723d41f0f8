package predict

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/poiesic/knowmesh/metrics"
	"github.com/poiesic/knowmesh/search"
	"github.com/poiesic/knowmesh/storage"
)

// Config holds the prediction tunables.
type Config struct {
	// ConfidenceStep nudges a pattern's confidence up on every observation.
	ConfidenceStep float64

	// MinPatternFrequency observations make a time slot worth suggesting.
	MinPatternFrequency uint64

	// ExpansionRelevance is the semantic score above which a node is
	// suggested as context expansion.
	ExpansionRelevance float64
	MaxExpansions      int
	MaxMissingLinks    int

	// MaxInsights is how many ranked insights are kept.
	MaxInsights int

	// Debounce delays regeneration after a significant context change.
	Debounce time.Duration

	PreloadValidity   time.Duration
	PreloadPerNode    time.Duration // load time estimate per node
	PreloadWorkers    int
	RefreshInterval   time.Duration
	PurgeInterval     time.Duration
	FlushInterval     time.Duration
	InitialAccuracy   float64
	FeedbackRetention time.Duration // how long issued insights accept feedback
}

// DefaultConfig returns the default tunables.
func DefaultConfig() Config {
	return Config{
		ConfidenceStep:      0.1,
		MinPatternFrequency: 2,
		ExpansionRelevance:  0.6,
		MaxExpansions:       5,
		MaxMissingLinks:     5,
		MaxInsights:         10,
		Debounce:            100 * time.Millisecond,
		PreloadValidity:     30 * time.Minute,
		PreloadPerNode:      50 * time.Millisecond,
		PreloadWorkers:      4,
		RefreshInterval:     5 * time.Minute,
		PurgeInterval:       30 * time.Minute,
		FlushInterval:       time.Minute,
		InitialAccuracy:     0.5,
		FeedbackRetention:   time.Hour,
	}
}

// Validate checks the tunables.
func (c Config) Validate() error {
	switch {
	case c.ConfidenceStep <= 0 || c.ConfidenceStep > 1:
		return fmt.Errorf("%w: ConfidenceStep must be within (0,1]", ErrInvalidConfig)
	case c.ExpansionRelevance < 0 || c.ExpansionRelevance > 1:
		return fmt.Errorf("%w: ExpansionRelevance must be within [0,1]", ErrInvalidConfig)
	case c.MaxInsights < 1 || c.MaxExpansions < 0 || c.MaxMissingLinks < 0:
		return fmt.Errorf("%w: insight limits out of range", ErrInvalidConfig)
	case c.Debounce < 0 || c.PreloadValidity <= 0 || c.PreloadPerNode < 0:
		return fmt.Errorf("%w: durations out of range", ErrInvalidConfig)
	case c.PreloadWorkers < 1:
		return fmt.Errorf("%w: PreloadWorkers must be positive", ErrInvalidConfig)
	case c.RefreshInterval <= 0 || c.PurgeInterval <= 0 || c.FlushInterval <= 0:
		return fmt.Errorf("%w: intervals must be positive", ErrInvalidConfig)
	case c.InitialAccuracy < 0 || c.InitialAccuracy > 1:
		return fmt.Errorf("%w: InitialAccuracy must be within [0,1]", ErrInvalidConfig)
	case c.FeedbackRetention <= 0:
		return fmt.Errorf("%w: FeedbackRetention must be positive", ErrInvalidConfig)
	}
	return nil
}

// Option configures an Engine.
type Option func(*Engine) error

// WithConfig replaces the tunables.
func WithConfig(cfg Config) Option {
	return func(e *Engine) error {
		if err := cfg.Validate(); err != nil {
			return err
		}
		e.cfg = cfg
		return nil
	}
}

// WithSearch enables context-expansion insights through s.
func WithSearch(s *search.Engine) Option {
	return func(e *Engine) error {
		e.search = s
		return nil
	}
}

// WithRepository persists temporal patterns through repo.
func WithRepository(repo storage.PatternRepository) Option {
	return func(e *Engine) error {
		e.repo = repo
		return nil
	}
}

// WithLoader sets how preloaded nodes are warmed.
func WithLoader(loader Loader) Option {
	return func(e *Engine) error {
		if loader != nil {
			e.loader = loader
		}
		return nil
	}
}

// WithClock sets the clock driving timestamps, debouncing and the scheduler.
func WithClock(clock clockwork.Clock) Option {
	return func(e *Engine) error {
		if clock != nil {
			e.clock = clock
		}
		return nil
	}
}

// WithMetrics records prediction activity on m.
func WithMetrics(m *metrics.Collector) Option {
	return func(e *Engine) error {
		if m != nil {
			e.metrics = m
		}
		return nil
	}
}

// WithLogger sets the logger. Nil falls back to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) error {
		if logger == nil {
			logger = slog.Default()
		}
		e.logger = logger.With("component", "predict")
		return nil
	}
}
