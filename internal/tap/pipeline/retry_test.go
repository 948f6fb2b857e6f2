package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/janovincze/hermes/internal/tap/source"
)

func fastRetryPolicy(maxAttempts int) RetryPolicy {
	return RetryPolicy{
		MaxAttempts:     maxAttempts,
		InitialInterval: time.Millisecond,
		MaxInterval:     4 * time.Millisecond,
		Multiplier:      2.0,
	}
}

func transientErr(msg string) error {
	return source.NewError(source.KindTransient, "read", errors.New(msg))
}

func TestRetryerSucceedsFirstAttempt(t *testing.T) {
	retryer := NewRetryer(fastRetryPolicy(3), nil)

	calls := 0
	err := retryer.Execute(context.Background(), func(context.Context) error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestRetryerRetriesTransient(t *testing.T) {
	retryer := NewRetryer(fastRetryPolicy(3), nil)

	calls := 0
	err := retryer.Execute(context.Background(), func(context.Context) error {
		calls++
		if calls < 3 {
			return transientErr("connection reset")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestRetryerExhaustsAttempts(t *testing.T) {
	retryer := NewRetryer(fastRetryPolicy(3), nil)

	calls := 0
	err := retryer.Execute(context.Background(), func(context.Context) error {
		calls++
		return transientErr("still down")
	})
	if err == nil {
		t.Fatal("Execute() error = nil, want exhaustion error")
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}

	var retryErr *RetryError
	if !errors.As(err, &retryErr) {
		t.Fatalf("error %T, want *RetryError", err)
	}
	if retryErr.Attempts != 3 {
		t.Errorf("Attempts = %d, want 3", retryErr.Attempts)
	}
	if source.KindOf(err) != source.KindTransient {
		t.Errorf("KindOf(err) = %v, want the wrapped kind to survive", source.KindOf(err))
	}
}

func TestRetryerDoesNotRetryFatal(t *testing.T) {
	retryer := NewRetryer(fastRetryPolicy(5), nil)

	calls := 0
	err := retryer.Execute(context.Background(), func(context.Context) error {
		calls++
		return source.NewError(source.KindFatal, "read", errors.New("unauthorized"))
	})
	if err == nil {
		t.Fatal("Execute() error = nil, want error")
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1 for a fatal error", calls)
	}
}

func TestRetryerDoesNotRetryContextCancel(t *testing.T) {
	retryer := NewRetryer(fastRetryPolicy(5), nil)

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := retryer.Execute(ctx, func(context.Context) error {
		calls++
		cancel()
		return context.Canceled
	})
	if err == nil {
		t.Fatal("Execute() error = nil, want error")
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1 after cancellation", calls)
	}
}

func TestCalculateBackoff(t *testing.T) {
	retryer := NewRetryer(RetryPolicy{
		MaxAttempts:     5,
		InitialInterval: time.Second,
		MaxInterval:     4 * time.Second,
		Multiplier:      2.0,
	}, nil)

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 4 * time.Second}, // capped
	}

	for _, tt := range tests {
		if got := retryer.calculateBackoff(tt.attempt); got != tt.want {
			t.Errorf("calculateBackoff(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestCalculateBackoffJitterBounds(t *testing.T) {
	retryer := NewRetryer(RetryPolicy{
		MaxAttempts:     3,
		InitialInterval: 100 * time.Millisecond,
		MaxInterval:     time.Second,
		Multiplier:      2.0,
		Jitter:          true,
	}, nil)

	for i := 0; i < 100; i++ {
		got := retryer.calculateBackoff(1)
		if got < 75*time.Millisecond || got > 125*time.Millisecond {
			t.Fatalf("calculateBackoff(1) = %v, want within ±25%% of 100ms", got)
		}
	}
}
