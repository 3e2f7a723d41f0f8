package embedcache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/poiesic/knowmesh/ai"
	"github.com/poiesic/knowmesh/core"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

// guard wraps provider calls with a rate limiter and a circuit breaker.
type guard struct {
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
}

func newGuard(cfg Config, logger *slog.Logger) *guard {
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	burst := max(cfg.Burst, 1)

	settings := gobreaker.Settings{
		Name:    "embedding-provider",
		Timeout: cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return cfg.BreakerFailures > 0 && counts.ConsecutiveFailures >= cfg.BreakerFailures
		},
		// The caller giving up says nothing about provider health.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change", "breaker", name, "from", from.String(), "to", to.String())
		},
	}

	return &guard{
		limiter: rate.NewLimiter(limit, burst),
		breaker: gobreaker.NewCircuitBreaker(settings),
	}
}

// embed calls the provider for a batch of inputs and checks the response
// shape. dim is the expected vector size, or zero if unknown.
func (c *Cache) embed(ctx context.Context, provider ai.Embedder, inputs []string, dim int) ([][]float32, error) {
	if err := c.guard.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	start := time.Now()
	res, err := c.guard.breaker.Execute(func() (interface{}, error) {
		return provider.EmbedTexts(ctx, inputs)
	})
	c.metrics.ProviderDuration.Observe(time.Since(start).Seconds())
	c.metrics.ProviderCalls.Inc()
	c.providerCalls.Add(1)

	if err == nil {
		err = checkVectors(res.([][]float32), len(inputs), dim)
	}
	if err != nil {
		c.metrics.ProviderErrors.Inc()
		c.providerErrors.Add(1)
		return nil, fmt.Errorf("%w: %w", ErrProviderUnavailable, err)
	}
	return res.([][]float32), nil
}

func checkVectors(vectors [][]float32, want, dim int) error {
	if len(vectors) != want {
		return fmt.Errorf("provider returned %d vectors for %d inputs", len(vectors), want)
	}
	for i, v := range vectors {
		if len(v) == 0 {
			return fmt.Errorf("provider returned an empty vector at index %d: %w", i, core.ErrEmptyVector)
		}
		if dim == 0 {
			dim = len(v)
		}
		if len(v) != dim {
			return fmt.Errorf("%w: provider returned %d dimensions, expected %d", core.ErrInvalidDimension, len(v), dim)
		}
	}
	return nil
}
