// Package reliability wraps the flaky parts of file access. Scans retry
// transient per-file I/O with exponential backoff, and tail sessions put
// a circuit breaker in front of files that keep failing.
package reliability

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"math/rand"
	"time"
)

// ErrRetriesExceeded wraps the last attempt's error once the budget is
// spent.
var ErrRetriesExceeded = errors.New("retries exceeded")

const (
	DefaultMaxRetries     = 3
	DefaultInitialBackoff = 100 * time.Millisecond
	DefaultMaxBackoff     = 5 * time.Second
	DefaultMultiplier     = 2.0
)

// RetryConfig controls Retry.
type RetryConfig struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Multiplier     float64
	Jitter         bool
}

// DefaultRetryConfig returns the backoff schedule used for per-file
// reads during a scan.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:     DefaultMaxRetries,
		InitialBackoff: DefaultInitialBackoff,
		MaxBackoff:     DefaultMaxBackoff,
		Multiplier:     DefaultMultiplier,
		Jitter:         true,
	}
}

func (c RetryConfig) withDefaults() RetryConfig {
	if c.MaxRetries <= 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = DefaultInitialBackoff
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = DefaultMaxBackoff
	}
	if c.Multiplier <= 1 {
		c.Multiplier = DefaultMultiplier
	}
	return c
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying. Retry returns it on the
// next attempt boundary without waiting out the backoff schedule.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Retry runs fn until it succeeds, fails permanently, or the attempt
// budget is spent. The wait between attempts grows by Multiplier up to
// MaxBackoff, with optional jitter to keep concurrent retries from
// synchronizing.
func Retry(ctx context.Context, cfg RetryConfig, fn func(ctx context.Context) error) error {
	cfg = cfg.withDefaults()

	var lastErr error
	backoff := cfg.InitialBackoff
	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if !isRetryable(err) {
			return err
		}
		if attempt == cfg.MaxRetries {
			break
		}

		if attempt > 0 {
			backoff = time.Duration(float64(backoff) * cfg.Multiplier)
			if backoff > cfg.MaxBackoff {
				backoff = cfg.MaxBackoff
			}
		}
		wait := backoff
		if cfg.Jitter {
			wait = addJitter(wait)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
	return fmt.Errorf("%w: %v", ErrRetriesExceeded, lastErr)
}

// isRetryable classifies an error as transient. Missing files and
// permission failures do not heal on a retry loop's timescale.
func isRetryable(err error) bool {
	var perm *permanentError
	if errors.As(err, &perm) {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, fs.ErrNotExist) || errors.Is(err, fs.ErrPermission) {
		return false
	}
	return true
}

// addJitter spreads d by up to ±20%.
func addJitter(d time.Duration) time.Duration {
	spread := (rand.Float64() - 0.5) * 0.4 * float64(d)
	return time.Duration(float64(d) + spread)
}
