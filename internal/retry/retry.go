// Package retry runs gateway calls again after transient failures, waiting
// with exponential backoff and jitter between attempts.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jpillora/backoff"

	"perpbot/internal/ports"
)

// Config controls the number of attempts and the delay between them.
type Config struct {
	MaxAttempts int // Including the first call
	MinDelay    time.Duration
	MaxDelay    time.Duration
	Factor      float64
	Jitter      bool

	// RetryIf decides whether an error is worth another attempt.
	// Nil uses IsTransient.
	RetryIf func(error) bool
	// OnRetry is called before each wait.
	OnRetry func(attempt int, err error, delay time.Duration)
}

// DefaultConfig suits idempotent market data reads.
func DefaultConfig() Config {
	return Config{MaxAttempts: 3, MinDelay: 200 * time.Millisecond, MaxDelay: 5 * time.Second, Factor: 2, Jitter: true}
}

// CloseConfig is used for reduce-only closes, which must get through.
func CloseConfig() Config {
	return Config{MaxAttempts: 5, MinDelay: 100 * time.Millisecond, MaxDelay: 3 * time.Second, Factor: 2, Jitter: true}
}

// IsTransient reports whether err is a timeout, rate limit or connectivity failure.
func IsTransient(err error) bool {
	return errors.Is(err, ports.ErrTimeout) ||
		errors.Is(err, ports.ErrRateLimited) ||
		errors.Is(err, ports.ErrExchangeUnavailable) ||
		errors.Is(err, ports.ErrConnectionFailed) ||
		errors.Is(err, context.DeadlineExceeded)
}

// Do calls fn until it succeeds, returns a permanent error, runs out of
// attempts, or ctx is done. The last error is returned wrapped with the
// attempt count.
func Do(ctx context.Context, cfg Config, fn func(ctx context.Context) error) error {
	attempts := cfg.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	retryIf := cfg.RetryIf
	if retryIf == nil {
		retryIf = IsTransient
	}
	b := &backoff.Backoff{Min: cfg.MinDelay, Max: cfg.MaxDelay, Factor: cfg.Factor, Jitter: cfg.Jitter}

	var err error
	for attempt := 1; ; attempt++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			if err != nil {
				return fmt.Errorf("%w: %w", ports.ErrContextCanceled, err)
			}
			return fmt.Errorf("%w: %w", ports.ErrContextCanceled, ctxErr)
		}

		err = fn(ctx)
		if err == nil {
			return nil
		}
		if attempt >= attempts || !retryIf(err) {
			if attempt > 1 {
				return fmt.Errorf("after %d attempts: %w", attempt, err)
			}
			return err
		}

		delay := b.Duration()
		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt, err, delay)
		}
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("%w: %w", ports.ErrContextCanceled, err)
		case <-timer.C:
		}
	}
}
