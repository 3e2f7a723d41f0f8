package search

import (
	"fmt"
	"log/slog"
	"math"
	"runtime"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/poiesic/knowmesh/metrics"
)

// Config holds the ranking tunables.
type Config struct {
	// MinRelevance drops nodes whose semantic score does not exceed it.
	MinRelevance float64
	MaxResults   int

	// Score weights; they must sum to 1.
	SemanticWeight float64
	ContextWeight  float64
	TemporalWeight float64

	// Temporal score: linear from 1.0 to 0.5 over FreshWindow, then halving
	// every HalfLife, never below TemporalFloor.
	FreshWindow   time.Duration
	HalfLife      time.Duration
	TemporalFloor float64

	// ClarifyBelow emits a clarify insight when the top semantic score is lower.
	ClarifyBelow float64

	MaxRelated    int
	SnippetLength int

	// QueryCacheSize bounds the ranked-result cache; entries live QueryCacheTTL.
	QueryCacheSize int
	QueryCacheTTL  time.Duration

	// FeedbackTTL is how long a query's result set accepts feedback.
	FeedbackTTL time.Duration

	// Timeout bounds a whole search; on expiry the results scored so far are
	// returned.
	Timeout time.Duration
	Workers int
}

// DefaultConfig returns the default tunables.
func DefaultConfig() Config {
	return Config{
		MinRelevance:   0.3,
		MaxResults:     10,
		SemanticWeight: 0.6,
		ContextWeight:  0.3,
		TemporalWeight: 0.1,
		FreshWindow:    7 * 24 * time.Hour,
		HalfLife:       28 * 24 * time.Hour,
		TemporalFloor:  0.1,
		ClarifyBelow:   0.5,
		MaxRelated:     5,
		SnippetLength:  240,
		QueryCacheSize: 256,
		QueryCacheTTL:  5 * time.Minute,
		FeedbackTTL:    30 * time.Minute,
		Timeout:        2 * time.Second,
		Workers:        max(runtime.NumCPU(), 2),
	}
}

// Validate checks the tunables.
func (c Config) Validate() error {
	switch {
	case c.MinRelevance < -1 || c.MinRelevance > 1:
		return fmt.Errorf("%w: MinRelevance must be within [-1,1]", ErrInvalidConfig)
	case c.MaxResults < 1:
		return fmt.Errorf("%w: MaxResults must be positive", ErrInvalidConfig)
	case c.SemanticWeight < 0 || c.ContextWeight < 0 || c.TemporalWeight < 0:
		return fmt.Errorf("%w: score weights must not be negative", ErrInvalidConfig)
	case math.Abs(c.SemanticWeight+c.ContextWeight+c.TemporalWeight-1) > 1e-9:
		return fmt.Errorf("%w: score weights must sum to 1", ErrInvalidConfig)
	case c.FreshWindow <= 0 || c.HalfLife <= 0:
		return fmt.Errorf("%w: FreshWindow and HalfLife must be positive", ErrInvalidConfig)
	case c.TemporalFloor < 0 || c.TemporalFloor > 0.5:
		return fmt.Errorf("%w: TemporalFloor must be within [0,0.5]", ErrInvalidConfig)
	case c.MaxRelated < 0 || c.SnippetLength < 1:
		return fmt.Errorf("%w: MaxRelated and SnippetLength out of range", ErrInvalidConfig)
	case c.QueryCacheSize < 0 || c.QueryCacheTTL <= 0 || c.FeedbackTTL <= 0:
		return fmt.Errorf("%w: cache limits out of range", ErrInvalidConfig)
	case c.Timeout <= 0 || c.Workers < 1:
		return fmt.Errorf("%w: Timeout and Workers must be positive", ErrInvalidConfig)
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

// WithClock sets the clock used for temporal scoring.
func WithClock(clock clockwork.Clock) Option {
	return func(e *Engine) error {
		if clock != nil {
			e.clock = clock
		}
		return nil
	}
}

// WithMetrics records search activity on m.
func WithMetrics(m *metrics.Collector) Option {
	return func(e *Engine) error {
		if m != nil {
			e.metrics = m
		}
		return nil
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) error {
		if logger == nil {
			logger = slog.Default()
		}
		e.logger = logger.With("component", "search")
		return nil
	}
}
