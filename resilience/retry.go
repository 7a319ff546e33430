package resilience

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"time"
)

// RetryConfig controls Retry.
type RetryConfig struct {
	// MaxAttempts counts the first call. Values below 1 mean one call.
	MaxAttempts int
	// InitialBackoff is the wait before the first retry. Zero retries at once,
	// which is what failover to another instance wants.
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	BackoffFactor  float64
	// Jitter is the +/- fraction applied to each backoff.
	Jitter float64
	// RetryIf decides whether an error is worth another attempt.
	RetryIf func(error) bool
	// OnRetry runs before each retry with the zero-based attempt that failed.
	OnRetry func(attempt int, err error, backoff time.Duration)
}

// DefaultRetryConfig is three attempts with exponential backoff from 100ms.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:    3,
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     10 * time.Second,
		BackoffFactor:  2,
		Jitter:         0.1,
		RetryIf:        DefaultRetryIf,
	}
}

// DefaultRetryIf retries everything but context errors.
func DefaultRetryIf(err error) bool {
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

// Retry calls fn with the zero-based attempt index until it succeeds,
// RetryIf refuses the error, attempts run out or ctx ends. The index lets
// the caller pick a different target per attempt. On exhaustion the last
// error is returned.
func Retry[T any](ctx context.Context, cfg RetryConfig, fn func(attempt int) (T, error)) (T, error) {
	var zero T
	attempts := max(cfg.MaxAttempts, 1)
	retryIf := cfg.RetryIf
	if retryIf == nil {
		retryIf = DefaultRetryIf
	}

	var err error
	for attempt := range attempts {
		if cerr := ctx.Err(); cerr != nil {
			return zero, cerr
		}

		var result T
		result, err = fn(attempt)
		if err == nil {
			return result, nil
		}
		if attempt == attempts-1 || !retryIf(err) {
			break
		}

		wait := backoff(attempt, cfg)
		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt, err, wait)
		}
		if wait > 0 {
			if serr := sleep(ctx, wait); serr != nil {
				return zero, serr
			}
		}
	}
	return zero, err
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// backoff is InitialBackoff * factor^attempt, jittered and capped.
func backoff(attempt int, cfg RetryConfig) time.Duration {
	if cfg.InitialBackoff <= 0 {
		return 0
	}
	factor := cfg.BackoffFactor
	if factor <= 0 {
		factor = 2
	}
	maxWait := cfg.MaxBackoff
	if maxWait <= 0 {
		maxWait = 10 * time.Second
	}

	d := float64(cfg.InitialBackoff) * math.Pow(factor, float64(attempt))
	if cfg.Jitter > 0 {
		d += (rand.Float64()*2 - 1) * d * cfg.Jitter
	}
	d = math.Min(d, float64(maxWait))
	if d < 0 {
		d = float64(cfg.InitialBackoff)
	}
	return time.Duration(d)
}
