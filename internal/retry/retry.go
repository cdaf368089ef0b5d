// Package retry provides exponential-backoff retry helpers for
// operations that fail due to transient errors, grounded in the
// teacher's pkg/retry package and generalized from its ErrorType-specific
// predicates to lnxerrors.IsTransient.
package retry

import (
	"context"
	"math/rand"
	"time"

	"github.com/lnxdrive/lnxdrive/internal/lnxerrors"
	"github.com/lnxdrive/lnxdrive/internal/lnxlog"
)

// Func is an operation that can be retried.
type Func func() error

// FuncWithResult is a retryable operation that also produces a result.
type FuncWithResult[T any] func() (T, error)

// ShouldRetry decides whether an error is worth retrying. Defaults to
// lnxerrors.IsTransient.
type ShouldRetry func(error) bool

// Config holds the backoff schedule, per spec.md §4.I: 1, 2, 4, 8, 16
// second delays (InitialDelay doubling via Multiplier). MaxRetries counts
// retries after the first call, so op runs at most MaxRetries+1 times.
type Config struct {
	MaxRetries   int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	Jitter       float64 // fraction of the current delay added as random jitter
	ShouldRetry  ShouldRetry
}

// DefaultConfig is the spec.md §4.I sync-engine retry schedule: five
// retries, after 1/2/4/8/16 seconds, for transient errors.
func DefaultConfig() Config {
	return Config{
		MaxRetries:   5,
		InitialDelay: 1 * time.Second,
		MaxDelay:     16 * time.Second,
		Multiplier:   2.0,
		Jitter:       0.1,
		ShouldRetry:  lnxerrors.IsTransient,
	}
}

// Do retries op with exponential backoff until it succeeds, a
// non-retryable error is returned, ctx is cancelled, or MaxRetries is
// exhausted.
func Do(ctx context.Context, op Func, cfg Config) error {
	_, err := DoWithResult(ctx, func() (struct{}, error) {
		return struct{}{}, op()
	}, cfg)
	return err
}

// DoWithResult is Do for an operation that also returns a value.
func DoWithResult[T any](ctx context.Context, op FuncWithResult[T], cfg Config) (T, error) {
	log := lnxlog.NewLogContext("retry").WithMethod("DoWithResult").Logger()
	shouldRetry := cfg.ShouldRetry
	if shouldRetry == nil {
		shouldRetry = lnxerrors.IsTransient
	}

	var result T
	var err error
	delay := cfg.InitialDelay

	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		result, err = op()
		if err == nil {
			return result, nil
		}

		if !shouldRetry(err) || attempt == cfg.MaxRetries {
			return result, err
		}

		jitter := time.Duration(rand.Float64() * cfg.Jitter * float64(delay))
		actualDelay := delay + jitter

		log.Warn().Err(err).Int("attempt", attempt+1).Int("maxRetries", cfg.MaxRetries).
			Dur("delay", actualDelay).Msg("operation failed, retrying")

		select {
		case <-time.After(actualDelay):
		case <-ctx.Done():
			return result, ctx.Err()
		}

		delay = time.Duration(float64(delay) * cfg.Multiplier)
		if delay > cfg.MaxDelay {
			delay = cfg.MaxDelay
		}
	}

	return result, err
}
