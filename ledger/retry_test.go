// ABOUTME: Tests for opt-in retry with exponential backoff.
// ABOUTME: Verifies retry behavior and which remote failures are retryable.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestDefaultRetryConfig(t *testing.T) {
	cfg := DefaultRetryConfig()

	if cfg.MaxAttempts != 3 {
		t.Errorf("MaxAttempts = %d, want 3", cfg.MaxAttempts)
	}
	if cfg.InitialWait != 500*time.Millisecond {
		t.Errorf("InitialWait = %v, want 500ms", cfg.InitialWait)
	}
	if cfg.MaxWait != 30*time.Second {
		t.Errorf("MaxWait = %v, want 30s", cfg.MaxWait)
	}
	if cfg.Multiplier != 2.0 {
		t.Errorf("Multiplier = %v, want 2.0", cfg.Multiplier)
	}
}

func TestRemoteConfigRetryFallback(t *testing.T) {
	if got := (RemoteConfig{}).GetRetryConfig(); got != DefaultRetryConfig() {
		t.Errorf("empty retry config = %+v, want defaults", got)
	}
	custom := RetryConfig{MaxAttempts: 7, InitialWait: time.Millisecond, MaxWait: time.Second, Multiplier: 3}
	if got := (RemoteConfig{Retry: custom}).GetRetryConfig(); got != custom {
		t.Errorf("custom retry config = %+v, want %+v", got, custom)
	}

	partial := (RemoteConfig{Retry: RetryConfig{InitialWait: time.Millisecond}}).GetRetryConfig()
	want := DefaultRetryConfig()
	want.InitialWait = time.Millisecond
	if partial != want {
		t.Errorf("partial retry config = %+v, want %+v", partial, want)
	}
}

func TestSyncerConfigRefreshIntervalDefault(t *testing.T) {
	for _, d := range []time.Duration{0, -time.Second} {
		if got := (SyncerConfig{RefreshInterval: d}).refreshInterval(); got != DefaultRefreshInterval {
			t.Errorf("interval %v -> %v, want %v", d, got, DefaultRefreshInterval)
		}
	}
	if got := (SyncerConfig{RefreshInterval: time.Second}).refreshInterval(); got != time.Second {
		t.Errorf("configured interval = %v, want 1s", got)
	}
}

func TestRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil error", nil, false},
		{"network failure", ErrNetworkUnavailable, true},
		{"wrapped network", fmt.Errorf("get records: %w", ErrNetworkUnavailable), true},
		{"server error", &RemoteError{Status: 502}, true},
		{"unauthorized", &RemoteError{Status: 401}, false},
		{"forbidden", &RemoteError{Status: 403}, false},
		{"not found", &RemoteError{Status: 404}, false},
		{"validation", &ValidationError{Problems: []string{"x"}}, false},
		{"access denied", ErrAccessDenied, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Retryable(tt.err); got != tt.want {
				t.Errorf("Retryable(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestWithRetry_SuccessFirstAttempt(t *testing.T) {
	cfg := RetryConfig{MaxAttempts: 3, InitialWait: time.Millisecond}
	attempts := 0

	result, err := WithRetry(context.Background(), cfg, "write", func() (string, error) {
		attempts++
		return "ok", nil
	})

	if err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if result != "ok" {
		t.Errorf("result = %q, want %q", result, "ok")
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1", attempts)
	}
}

func TestWithRetry_SuccessAfterRetries(t *testing.T) {
	cfg := RetryConfig{MaxAttempts: 3, InitialWait: time.Millisecond, Multiplier: 1.0}
	attempts := 0

	result, err := WithRetry(context.Background(), cfg, "write", func() (int, error) {
		attempts++
		if attempts < 3 {
			return 0, &RemoteError{Status: 503}
		}
		return 42, nil
	})

	if err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if result != 42 {
		t.Errorf("result = %d, want 42", result)
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
}

func TestWithRetry_ExhaustedRetries(t *testing.T) {
	cfg := RetryConfig{MaxAttempts: 3, InitialWait: time.Millisecond, Multiplier: 1.0}
	attempts := 0

	_, err := WithRetry(context.Background(), cfg, "write", func() (string, error) {
		attempts++
		return "", ErrNetworkUnavailable
	})

	if err == nil {
		t.Fatal("expected error after exhausted retries")
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}

	var syncErr *SyncError
	if !errors.As(err, &syncErr) {
		t.Fatal("expected *SyncError")
	}
	if syncErr.Op != "write" {
		t.Errorf("Op = %q, want %q", syncErr.Op, "write")
	}
	if syncErr.Retries != 3 {
		t.Errorf("Retries = %d, want 3", syncErr.Retries)
	}
	if !errors.Is(err, ErrNetworkUnavailable) {
		t.Errorf("expected ErrNetworkUnavailable in chain, got %v", err)
	}
}

func TestWithRetry_NonRetryableError(t *testing.T) {
	cfg := RetryConfig{MaxAttempts: 3, InitialWait: time.Millisecond}
	attempts := 0

	_, err := WithRetry(context.Background(), cfg, "write", func() (string, error) {
		attempts++
		return "", &RemoteError{Status: 403, Message: "forbidden"}
	})

	if err == nil {
		t.Fatal("expected error")
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1 (should not retry non-retryable)", attempts)
	}
	if !errors.Is(err, ErrAccessDenied) {
		t.Errorf("expected ErrAccessDenied, got %v", err)
	}
}

func TestWithRetry_ContextCanceled(t *testing.T) {
	cfg := RetryConfig{MaxAttempts: 5, InitialWait: 100 * time.Millisecond, Multiplier: 1.0}
	ctx, cancel := context.WithCancel(context.Background())

	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := WithRetry(ctx, cfg, "write", func() (string, error) {
		return "", ErrNetworkUnavailable
	})

	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}
