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


package reembed

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/poiesic/knowmesh/ai"
	"github.com/poiesic/knowmesh/core"
	"github.com/poiesic/knowmesh/graph"
)

// Config holds configuration for the reembedding operation.
type Config struct {
	// BatchSize is the number of nodes to embed per provider call
	BatchSize int

	// ReportInterval is how often to report progress (number of nodes)
	ReportInterval int

	// MaxRetries is the maximum number of attempts per batch
	MaxRetries int

	// RetryDelay is the base delay for exponential backoff
	RetryDelay time.Duration

	// MaxRetryDelay caps a single backoff wait
	MaxRetryDelay time.Duration

	// Force re-embeds nodes already embedded with the target model
	Force bool
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		BatchSize:      DefaultBatchSize,
		ReportInterval: 100,
		MaxRetries:     3,
		RetryDelay:     1 * time.Second,
		MaxRetryDelay:  30 * time.Second,
	}
}

// Validate checks the settings.
func (c Config) Validate() error {
	switch {
	case c.BatchSize <= 0:
		return fmt.Errorf("%w: BatchSize must be positive", ErrInvalidConfig)
	case c.ReportInterval <= 0:
		return fmt.Errorf("%w: ReportInterval must be positive", ErrInvalidConfig)
	case c.MaxRetries <= 0:
		return fmt.Errorf("%w: %w", ErrInvalidConfig, ErrInvalidMaxAttempts)
	case c.RetryDelay < 0 || c.MaxRetryDelay < 0:
		return fmt.Errorf("%w: retry delays must not be negative", ErrInvalidConfig)
	}
	return nil
}

// Result summarizes a run.
type Result struct {
	Total      int // nodes in the network
	Reembedded int
	Skipped    int // already on the target model, or without content
	Elapsed    time.Duration
}

// Reembedder orchestrates the reembedding of all nodes in a network.
type Reembedder struct {
	network   *graph.Network
	embedder  ai.Embedder
	config    Config
	progress  io.Writer
	clock     clockwork.Clock
	logger    *slog.Logger
	preparer  TextPreparer
	processor *BatchProcessor
}

// Option configures a Reembedder.
type Option func(*Reembedder) error

// WithConfig replaces the settings.
func WithConfig(cfg Config) Option {
	return func(r *Reembedder) error {
		if err := cfg.Validate(); err != nil {
			return err
		}
		r.config = cfg
		return nil
	}
}

// WithProgress writes progress output to w (typically os.Stderr).
func WithProgress(w io.Writer) Option {
	return func(r *Reembedder) error {
		r.progress = w
		return nil
	}
}

// WithClock sets the clock used for progress timing.
func WithClock(clock clockwork.Clock) Option {
	return func(r *Reembedder) error {
		if clock != nil {
			r.clock = clock
		}
		return nil
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(r *Reembedder) error {
		if logger == nil {
			logger = slog.Default()
		}
		r.logger = logger.With("component", "reembed")
		return nil
	}
}

// WithTextPreparer sets how node content becomes provider input. Pass the
// embedding cache so re-embedding applies its normalization and token budget.
func WithTextPreparer(p TextPreparer) Option {
	return func(r *Reembedder) error {
		r.preparer = p
		return nil
	}
}

// NewReembedder creates a reembedder moving network onto embedder's model.
func NewReembedder(network *graph.Network, embedder ai.Embedder, opts ...Option) (*Reembedder, error) {
	if network == nil {
		return nil, ErrNetworkRequired
	}
	if embedder == nil {
		return nil, ErrEmbedderRequired
	}
	r := &Reembedder{
		network:  network,
		embedder: embedder,
		config:   DefaultConfig(),
		progress: io.Discard,
		clock:    clockwork.NewRealClock(),
		logger:   slog.Default().With("component", "reembed"),
	}
	for _, opt := range opts {
		if err := opt(r); err != nil {
			return nil, err
		}
	}
	r.processor = NewBatchProcessor(network, embedder, Backoff{
		Attempts:  r.config.MaxRetries,
		BaseDelay: r.config.RetryDelay,
		MaxDelay:  r.config.MaxRetryDelay,
		Logger:    r.logger,
	}).WithPreparer(r.preparer)
	return r, nil
}

// selects reports whether n needs re-embedding.
func (r *Reembedder) selects(n core.Node) bool {
	if strings.TrimSpace(n.Content) == "" {
		return false
	}
	return r.config.Force || n.Degraded || n.Model != r.embedder.Model()
}

// Run re-embeds every node that is not already on the target model, or all
// of them with Force. A failed batch stops the run; earlier batches stay
// applied.
func (r *Reembedder) Run(ctx context.Context) (Result, error) {
	iterator := NewNodeIterator(r.network, r.config.BatchSize, r.selects)
	nodes := iterator.Nodes()
	result := Result{Total: r.network.NodeCount()}
	result.Skipped = max(result.Total-len(nodes), 0)

	if len(nodes) == 0 {
		fmt.Fprintf(r.progress, "Nothing to reembed (%d nodes already on %s)\n", result.Total, r.embedder.Model())
		return result, nil
	}

	fmt.Fprintf(r.progress, "Starting reembedding of %d nodes with %s (batch size: %d)\n",
		len(nodes), r.embedder.Model(), r.config.BatchSize)
	r.logger.Info("reembedding nodes", "nodes", len(nodes), "model", r.embedder.Model())

	tracker := NewProgressTracker(r.progress, r.clock, len(nodes), r.config.ReportInterval)
	tracker.Start()

	err := iterator.forEach(ctx, nodes, func(batch []core.Node) error {
		if err := r.processor.Process(ctx, batch); err != nil {
			return fmt.Errorf("failed to process batch: %w", err)
		}
		tracker.Add(len(batch))
		return nil
	})
	result.Reembedded = tracker.Current()
	result.Elapsed = tracker.Elapsed()
	if err != nil {
		return result, err
	}

	tracker.Finish()
	rate := 0.0
	if result.Elapsed > 0 {
		rate = float64(result.Reembedded) / result.Elapsed.Seconds()
	}
	fmt.Fprintf(r.progress, "Reembedding complete. Processed %d nodes in %v (%.1f nodes/sec)\n",
		result.Reembedded, result.Elapsed.Round(time.Second), rate)
	return result, nil
}
