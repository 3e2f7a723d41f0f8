package embedcache

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/poiesic/knowmesh/ai"
	"github.com/poiesic/knowmesh/metrics"
	"github.com/poiesic/knowmesh/storage"
)

// Config holds the cache tunables.
type Config struct {
	// TTL after which an entry is no longer served. Default: 7 days.
	TTL time.Duration

	// MaxEntries bounds the cache; the oldest entries are evicted beyond it.
	MaxEntries int

	// Version is stamped on every entry. Entries with another version are
	// treated as absent, so bumping it invalidates the whole cache.
	Version uint32

	// TokenBudget truncates input text before embedding. Default: 8191.
	TokenBudget int

	// FallbackDimension is used for fallback vectors when no real vector of
	// the model has been seen yet. Default: 768.
	FallbackDimension int

	// CostPer1KTokens prices provider usage for the stats.
	CostPer1KTokens float64

	// RequestsPerSecond limits provider calls; zero disables limiting.
	RequestsPerSecond float64
	Burst             int

	// BreakerFailures consecutive provider failures open the circuit for
	// BreakerTimeout, during which lookups fall back without calling out.
	BreakerFailures uint32
	BreakerTimeout  time.Duration

	// FlushThreshold dirty entries trigger a background flush. Zero disables.
	FlushThreshold int
}

// DefaultConfig returns the default tunables.
func DefaultConfig() Config {
	return Config{
		TTL:               7 * 24 * time.Hour,
		MaxEntries:        10000,
		Version:           1,
		TokenBudget:       8191,
		FallbackDimension: 768,
		CostPer1KTokens:   0.0001,
		RequestsPerSecond: 0,
		Burst:             1,
		BreakerFailures:   5,
		BreakerTimeout:    30 * time.Second,
		FlushThreshold:    256,
	}
}

// Validate checks the tunables.
func (c Config) Validate() error {
	switch {
	case c.TTL <= 0:
		return fmt.Errorf("%w: TTL must be positive", ErrInvalidConfig)
	case c.MaxEntries < 1:
		return fmt.Errorf("%w: MaxEntries must be positive", ErrInvalidConfig)
	case c.TokenBudget < 1:
		return fmt.Errorf("%w: TokenBudget must be positive", ErrInvalidConfig)
	case c.FallbackDimension < 1:
		return fmt.Errorf("%w: FallbackDimension must be positive", ErrInvalidConfig)
	case c.CostPer1KTokens < 0:
		return fmt.Errorf("%w: CostPer1KTokens must not be negative", ErrInvalidConfig)
	case c.RequestsPerSecond < 0:
		return fmt.Errorf("%w: RequestsPerSecond must not be negative", ErrInvalidConfig)
	case c.FlushThreshold < 0:
		return fmt.Errorf("%w: FlushThreshold must not be negative", ErrInvalidConfig)
	}
	return nil
}

// Option configures a Cache.
type Option func(*Cache) error

// WithConfig replaces the tunables.
func WithConfig(cfg Config) Option {
	return func(c *Cache) error {
		if err := cfg.Validate(); err != nil {
			return err
		}
		c.cfg = cfg
		return nil
	}
}

// WithEmbedder registers an additional provider under its model name.
func WithEmbedder(e ai.Embedder) Option {
	return func(c *Cache) error {
		if e == nil {
			return ErrEmbedderRequired
		}
		c.providers[e.Model()] = e
		return nil
	}
}

// WithRepository persists the cache through repo.
func WithRepository(repo storage.EmbeddingCacheRepository) Option {
	return func(c *Cache) error {
		c.repo = repo
		return nil
	}
}

// WithTokenCounter sets the counter used for budgeting and cost tracking.
func WithTokenCounter(tc ai.TokenCounter) Option {
	return func(c *Cache) error {
		if tc != nil {
			c.tokens = tc
		}
		return nil
	}
}

// WithClock sets the clock used for timestamps and expiry.
func WithClock(clock clockwork.Clock) Option {
	return func(c *Cache) error {
		if clock != nil {
			c.clock = clock
		}
		return nil
	}
}

// WithMetrics records cache activity on m.
func WithMetrics(m *metrics.Collector) Option {
	return func(c *Cache) error {
		if m != nil {
			c.metrics = m
		}
		return nil
	}
}

// WithLogger sets the logger. Nil falls back to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(c *Cache) error {
		if logger == nil {
			logger = slog.Default()
		}
		c.logger = logger.With("component", "embedding-cache")
		return nil
	}
}
