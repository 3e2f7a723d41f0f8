package graph

import (
	"fmt"
	"log/slog"

	"github.com/jonboulle/clockwork"
	"github.com/poiesic/knowmesh/metrics"
	"github.com/poiesic/knowmesh/storage"
)

// Config holds the network tunables.
type Config struct {
	// LearningRate scales every Hebbian update. Default: 0.3.
	LearningRate float64

	// DecayPerDay is the factor applied to an edge weight per idle day. Default: 0.98.
	DecayPerDay float64

	// Co-activations whose prior weight is below SurpriseThreshold have their
	// increment multiplied by SurpriseBoost.
	SurpriseThreshold float64
	SurpriseBoost     float64

	// Edge state thresholds: weak below Established, strong above Strong.
	EstablishedThreshold float64
	StrongThreshold      float64

	// PredictThreshold is the minimum effective weight of a predicted neighbour.
	PredictThreshold float64
	MaxPredictions   int

	// HubMinDegree is the weighted out-degree from which a node is a hub.
	HubMinDegree float64
	MaxHubs      int
	MaxIslands   int
}

// DefaultConfig returns the default tunables.
func DefaultConfig() Config {
	return Config{
		LearningRate:         0.3,
		DecayPerDay:          0.98,
		SurpriseThreshold:    0.1,
		SurpriseBoost:        1.5,
		EstablishedThreshold: 0.3,
		StrongThreshold:      0.7,
		PredictThreshold:     0.3,
		MaxPredictions:       10,
		HubMinDegree:         2.0,
		MaxHubs:              5,
		MaxIslands:           10,
	}
}

// Validate checks the tunables.
func (c Config) Validate() error {
	switch {
	case c.LearningRate <= 0 || c.LearningRate > 1:
		return fmt.Errorf("%w: LearningRate must be within (0,1]", ErrInvalidConfig)
	case c.DecayPerDay <= 0 || c.DecayPerDay > 1:
		return fmt.Errorf("%w: DecayPerDay must be within (0,1]", ErrInvalidConfig)
	case c.SurpriseThreshold < 0 || c.SurpriseThreshold > 1:
		return fmt.Errorf("%w: SurpriseThreshold must be within [0,1]", ErrInvalidConfig)
	case c.SurpriseBoost < 1:
		return fmt.Errorf("%w: SurpriseBoost must be at least 1", ErrInvalidConfig)
	case c.EstablishedThreshold <= 0 || c.StrongThreshold >= 1 || c.EstablishedThreshold > c.StrongThreshold:
		return fmt.Errorf("%w: need 0 < EstablishedThreshold <= StrongThreshold < 1", ErrInvalidConfig)
	case c.PredictThreshold < 0 || c.PredictThreshold > 1:
		return fmt.Errorf("%w: PredictThreshold must be within [0,1]", ErrInvalidConfig)
	case c.MaxPredictions < 1 || c.MaxHubs < 0 || c.MaxIslands < 0:
		return fmt.Errorf("%w: limits must not be negative", ErrInvalidConfig)
	case c.HubMinDegree <= 0:
		return fmt.Errorf("%w: HubMinDegree must be positive", ErrInvalidConfig)
	}
	return nil
}

// Option configures a Network.
type Option func(*Network) error

// WithConfig replaces the tunables.
func WithConfig(cfg Config) Option {
	return func(n *Network) error {
		if err := cfg.Validate(); err != nil {
			return err
		}
		n.cfg = cfg
		return nil
	}
}

// WithRepository persists the network through repo.
func WithRepository(repo storage.GraphRepository) Option {
	return func(n *Network) error {
		n.repo = repo
		return nil
	}
}

// WithClock sets the clock used for reinforcement timestamps and decay.
func WithClock(clock clockwork.Clock) Option {
	return func(n *Network) error {
		if clock != nil {
			n.clock = clock
		}
		return nil
	}
}

// WithMetrics records network activity on m.
func WithMetrics(m *metrics.Collector) Option {
	return func(n *Network) error {
		if m != nil {
			n.metrics = m
		}
		return nil
	}
}

// WithLogger sets the logger. Nil falls back to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(n *Network) error {
		if logger == nil {
			logger = slog.Default()
		}
		n.logger = logger.With("component", "synaptic-network")
		return nil
	}
}
