package reliability

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"testing"
	"time"
)

func TestRetry_Success(t *testing.T) {
	attempts := 0
	fn := func(ctx context.Context) error {
		attempts++
		if attempts < 3 {
			return errors.New("temporary error")
		}
		return nil
	}

	cfg := RetryConfig{
		MaxRetries:     5,
		InitialBackoff: 10 * time.Millisecond,
		Multiplier:     2.0,
	}

	if err := Retry(context.Background(), cfg, fn); err != nil {
		t.Errorf("Retry() error = %v, want nil", err)
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
}

func TestRetry_RetriesExceeded(t *testing.T) {
	attempts := 0
	fn := func(ctx context.Context) error {
		attempts++
		return errors.New("persistent error")
	}

	cfg := RetryConfig{
		MaxRetries:     3,
		InitialBackoff: time.Millisecond,
	}

	err := Retry(context.Background(), cfg, fn)
	if !errors.Is(err, ErrRetriesExceeded) {
		t.Errorf("expected ErrRetriesExceeded, got %v", err)
	}
	if attempts != 4 { // initial attempt + 3 retries
		t.Errorf("attempts = %d, want 4", attempts)
	}
}

func TestRetry_PermanentStopsImmediately(t *testing.T) {
	sentinel := errors.New("bad profile")
	attempts := 0
	fn := func(ctx context.Context) error {
		attempts++
		return Permanent(sentinel)
	}

	cfg := RetryConfig{
		MaxRetries:     5,
		InitialBackoff: time.Millisecond,
	}

	err := Retry(context.Background(), cfg, fn)
	if !errors.Is(err, sentinel) {
		t.Errorf("expected the wrapped error to surface, got %v", err)
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1", attempts)
	}
}

func TestRetry_MissingFileNotRetried(t *testing.T) {
	attempts := 0
	fn := func(ctx context.Context) error {
		attempts++
		return fmt.Errorf("read sample: %w", fs.ErrNotExist)
	}

	err := Retry(context.Background(), RetryConfig{MaxRetries: 5, InitialBackoff: time.Millisecond}, fn)
	if !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("expected fs.ErrNotExist to surface, got %v", err)
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1", attempts)
	}
}

func TestRetry_PermissionDeniedNotRetried(t *testing.T) {
	attempts := 0
	fn := func(ctx context.Context) error {
		attempts++
		return fs.ErrPermission
	}

	err := Retry(context.Background(), RetryConfig{MaxRetries: 5, InitialBackoff: time.Millisecond}, fn)
	if !errors.Is(err, fs.ErrPermission) {
		t.Errorf("expected fs.ErrPermission to surface, got %v", err)
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1", attempts)
	}
}

func TestRetry_ContextCanceled(t *testing.T) {
	attempts := 0
	fn := func(ctx context.Context) error {
		attempts++
		return errors.New("error")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Retry(ctx, RetryConfig{MaxRetries: 5, InitialBackoff: 100 * time.Millisecond}, fn)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1", attempts)
	}
}

func TestRetry_BackoffGrows(t *testing.T) {
	var attempts []time.Time
	fn := func(ctx context.Context) error {
		attempts = append(attempts, time.Now())
		if len(attempts) < 3 {
			return errors.New("error")
		}
		return nil
	}

	cfg := RetryConfig{
		MaxRetries:     5,
		InitialBackoff: 50 * time.Millisecond,
		Multiplier:     2.0,
		MaxBackoff:     500 * time.Millisecond,
	}

	if err := Retry(context.Background(), cfg, fn); err != nil {
		t.Errorf("Retry() error = %v", err)
	}
	if len(attempts) != 3 {
		t.Fatalf("expected 3 attempts, got %d", len(attempts))
	}

	interval1 := attempts[1].Sub(attempts[0])
	interval2 := attempts[2].Sub(attempts[1])
	if interval2 < interval1 {
		t.Errorf("backoff did not increase: interval1=%v, interval2=%v", interval1, interval2)
	}
}

func TestAddJitter_StaysNearBase(t *testing.T) {
	base := 100 * time.Millisecond
	for i := 0; i < 100; i++ {
		got := addJitter(base)
		if got < 80*time.Millisecond || got > 120*time.Millisecond {
			t.Fatalf("jittered value %v outside ±20%% of %v", got, base)
		}
	}
}

func BenchmarkRetry(b *testing.B) {
	fn := func(ctx context.Context) error {
		return nil
	}
	cfg := RetryConfig{MaxRetries: 3, InitialBackoff: time.Millisecond}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = Retry(context.Background(), cfg, fn)
	}
}
