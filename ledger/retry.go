// ABOUTME: Opt-in retry with exponential backoff for callers of write intents.
// ABOUTME: The remote client itself never retries; operators choose to via this helper.
package ledger

import (
	"context"
	"errors"
	"time"
)

// RetryConfig controls WithRetry.
type RetryConfig struct {
	MaxAttempts int           // total attempts including the first (default 3)
	InitialWait time.Duration // pause after the first failure (default 500ms)
	MaxWait     time.Duration // cap on any single pause (default 30s, 0 = uncapped)
	Multiplier  float64       // growth per pause; values below 1 keep it constant
}

// DefaultRetryConfig is used by the CLI --retries flag.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 3,
		InitialWait: 500 * time.Millisecond,
		MaxWait:     30 * time.Second,
		Multiplier:  2.0,
	}
}

func (c RetryConfig) nextWait(prev time.Duration) time.Duration {
	next := prev
	if c.Multiplier > 1 {
		next = time.Duration(float64(prev) * c.Multiplier)
	}
	if c.MaxWait > 0 && next > c.MaxWait {
		next = c.MaxWait
	}
	return next
}

// Retryable reports whether err is worth another attempt: network failures
// and 5xx responses. Auth, access, missing-resource and validation errors
// are final.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrNetworkUnavailable) {
		return true
	}
	var re *RemoteError
	return errors.As(err, &re) && re.Status >= 500
}

// WithRetry calls fn until it succeeds, fails with a non-retryable error,
// or MaxAttempts is reached. Failures come back as *SyncError carrying the
// attempt count; cancellation returns ctx.Err().
func WithRetry[T any](ctx context.Context, cfg RetryConfig, op string, fn func() (T, error)) (T, error) {
	var zero T
	attempts := max(cfg.MaxAttempts, 1)
	wait := cfg.InitialWait

	for attempt := 1; ; attempt++ {
		result, err := fn()
		if err == nil {
			return result, nil
		}
		if attempt >= attempts || !Retryable(err) {
			return zero, &SyncError{Op: op, Err: err, Retries: attempt}
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, ctx.Err()
		case <-timer.C:
		}
		wait = cfg.nextWait(wait)
	}
}
