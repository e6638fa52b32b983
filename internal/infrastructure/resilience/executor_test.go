package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"
)

// quickConfig retries fast with the breaker off.
func quickConfig(attempts int) Config {
	return Config{
		RetryMaxAttempts:    attempts,
		RetryInitialBackoff: time.Millisecond,
		RetryMaxBackoff:     2 * time.Millisecond,
		RetryMultiplier:     2,
	}
}

func TestExecuteRetriesOnlyRetryableFailures(t *testing.T) {
	errOverloaded := errors.New("model overloaded")
	errBadInput := errors.New("bad input")

	tests := []struct {
		name         string
		failures     []error
		wantErr      error
		wantAttempts int
	}{
		{name: "recovers after transient failures", failures: []error{errOverloaded, errOverloaded}, wantAttempts: 3},
		{name: "gives up after max attempts", failures: []error{errOverloaded, errOverloaded, errOverloaded, errOverloaded}, wantErr: errOverloaded, wantAttempts: 3},
		{name: "permanent failure is returned at once", failures: []error{errBadInput}, wantErr: errBadInput, wantAttempts: 1},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			exec := NewExecutor(quickConfig(3), nil)
			attempts := 0
			err := exec.Execute(context.Background(), "op", func(context.Context) error {
				attempts++
				if attempts <= len(tc.failures) {
					return tc.failures[attempts-1]
				}
				return nil
			}, func(err error) ErrorClassification {
				return ErrorClassification{Retryable: errors.Is(err, errOverloaded), RecordFailure: true}
			})
			if tc.wantErr == nil && err != nil {
				t.Fatalf("expected success, got %v", err)
			}
			if tc.wantErr != nil && !errors.Is(err, tc.wantErr) {
				t.Fatalf("expected %v, got %v", tc.wantErr, err)
			}
			if attempts != tc.wantAttempts {
				t.Fatalf("attempts = %d, want %d", attempts, tc.wantAttempts)
			}
		})
	}
}

func TestExecuteWithoutClassifierTreatsErrorsAsPermanent(t *testing.T) {
	attempts := 0
	err := NewExecutor(quickConfig(3), nil).Execute(context.Background(), "op", func(context.Context) error {
		attempts++
		return errors.New("boom")
	}, nil)
	if err == nil || attempts != 1 {
		t.Fatalf("expected a single failed attempt, got %d attempts and %v", attempts, err)
	}
}

func TestExecuteOpensCircuitAfterFailures(t *testing.T) {
	exec := NewExecutor(Config{
		RetryMaxAttempts:        1,
		RetryInitialBackoff:     1 * time.Millisecond,
		RetryMaxBackoff:         1 * time.Millisecond,
		RetryMultiplier:         2,
		BreakerEnabled:          true,
		BreakerMinRequests:      2,
		BreakerFailureRatio:     0.5,
		BreakerOpenTimeout:      50 * time.Millisecond,
		BreakerHalfOpenMaxCalls: 1,
	}, nil)

	errTemp := errors.New("temporary")
	classifier := func(error) ErrorClassification {
		return ErrorClassification{
			Retryable:     false,
			RecordFailure: true,
		}
	}

	for i := 0; i < 2; i++ {
		err := exec.Execute(context.Background(), "op", func(context.Context) error {
			return errTemp
		}, classifier)
		if !errors.Is(err, errTemp) {
			t.Fatalf("expected temporary error on iteration %d, got %v", i, err)
		}
	}

	err := exec.Execute(context.Background(), "op", func(context.Context) error {
		t.Fatalf("circuit should be open and must not call operation")
		return nil
	}, classifier)
	if !errors.Is(err, gobreaker.ErrOpenState) {
		t.Fatalf("expected open state error, got %v", err)
	}
}

func TestExecuteTimesOutSlowAttemptAndRetries(t *testing.T) {
	cfg := quickConfig(2)
	cfg.AttemptTimeout = 10 * time.Millisecond
	exec := NewExecutor(cfg, nil)

	attempts := 0
	err := exec.Execute(context.Background(), "slow", func(ctx context.Context) error {
		attempts++
		if attempts == 1 {
			<-ctx.Done()
			return ctx.Err()
		}
		return nil
	}, func(err error) ErrorClassification {
		return ErrorClassification{Retryable: errors.Is(err, ErrAttemptTimeout), RecordFailure: true}
	})
	if err != nil {
		t.Fatalf("expected second attempt to succeed, got %v", err)
	}
	if attempts != 2 {
		t.Fatalf("expected 2 attempts, got %d", attempts)
	}
}

func TestExecuteStopsWhenCallerCancels(t *testing.T) {
	exec := NewExecutor(quickConfig(5), nil)

	ctx, cancel := context.WithCancel(context.Background())
	attempts := 0
	err := exec.Execute(ctx, "op", func(context.Context) error {
		attempts++
		cancel()
		return errors.New("backend unavailable")
	}, func(error) ErrorClassification {
		return ErrorClassification{Retryable: true, RecordFailure: true}
	})
	if err == nil {
		t.Fatalf("expected error after cancellation")
	}
	if attempts != 1 {
		t.Fatalf("cancelled caller must not be retried, got %d attempts", attempts)
	}
	if errors.Is(err, ErrAttemptTimeout) {
		t.Fatalf("caller cancellation is not an attempt timeout: %v", err)
	}
}

func TestBackoffGrowsAndCaps(t *testing.T) {
	cfg := Config{
		RetryMaxAttempts:    5,
		RetryInitialBackoff: 100 * time.Millisecond,
		RetryMaxBackoff:     350 * time.Millisecond,
		RetryMultiplier:     2,
	}.normalize()
	want := []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 350 * time.Millisecond, 350 * time.Millisecond}
	for i, w := range want {
		if got := cfg.backoff(i + 1); got != w {
			t.Fatalf("backoff(%d) = %s, want %s", i+1, got, w)
		}
	}
}

func TestFullJitterStaysInRange(t *testing.T) {
	jitter := fullJitter(0.5)
	for i := 0; i < 100; i++ {
		got := jitter(100 * time.Millisecond)
		if got < 50*time.Millisecond || got > 100*time.Millisecond {
			t.Fatalf("jittered wait %s outside [50ms, 100ms]", got)
		}
	}
	if got := fullJitter(0)(time.Second); got != time.Second {
		t.Fatalf("zero jitter must be exact, got %s", got)
	}
}

type retryCounter struct {
	ops []string
}

func (r *retryCounter) ObserveRetry(operation string) {
	r.ops = append(r.ops, operation)
}

func TestExecuteReportsRetries(t *testing.T) {
	counter := &retryCounter{}
	exec := NewExecutor(quickConfig(3), nil).WithRetryObserver(counter)

	err := exec.Execute(context.Background(), "classify", func(context.Context) error {
		return errors.New("overloaded")
	}, func(error) ErrorClassification {
		return ErrorClassification{Retryable: true, RecordFailure: true}
	})
	if err == nil {
		t.Fatalf("expected final failure")
	}
	if len(counter.ops) != 2 || counter.ops[0] != "classify" {
		t.Fatalf("expected 2 retries of classify, got %v", counter.ops)
	}
}
