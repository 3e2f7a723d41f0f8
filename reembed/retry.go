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
	"errors"
	"log/slog"
	"time"
)

// Backoff retries an operation with exponential backoff.
type Backoff struct {
	// Attempts is the maximum number of attempts (must be > 0).
	Attempts int

	// BaseDelay is the wait after the first failure; it doubles on each retry.
	BaseDelay time.Duration

	// MaxDelay caps a single wait. Zero means uncapped.
	MaxDelay time.Duration

	Logger *slog.Logger
}

// Do runs operation until it succeeds, attempts run out or ctx is done.
// Context errors from the operation are returned without retrying.
// Returns the error from the last attempt if all attempts fail.
func (b Backoff) Do(ctx context.Context, operation func(ctx context.Context) error) error {
	if b.Attempts <= 0 {
		return ErrInvalidMaxAttempts
	}
	logger := b.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var lastErr error
	for attempt := 1; attempt <= b.Attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = operation(ctx)
		if lastErr == nil {
			if attempt > 1 {
				logger.Debug("operation succeeded after retry", "attempt", attempt)
			}
			return nil
		}
		if errors.Is(lastErr, context.Canceled) || errors.Is(lastErr, context.DeadlineExceeded) {
			return lastErr
		}
		logger.Debug("operation failed, will retry", "attempt", attempt, "maxAttempts", b.Attempts, "error", lastErr)

		// Don't sleep after the last attempt
		if attempt == b.Attempts {
			break
		}

		timer := time.NewTimer(b.delay(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return lastErr
}

// delay returns BaseDelay * 2^(attempt-1), capped at MaxDelay.
func (b Backoff) delay(attempt int) time.Duration {
	d := b.BaseDelay
	for i := 1; i < attempt; i++ {
		d *= 2
		if b.MaxDelay > 0 && d >= b.MaxDelay {
			return b.MaxDelay
		}
	}
	if b.MaxDelay > 0 && d > b.MaxDelay {
		return b.MaxDelay
	}
	return d
}
