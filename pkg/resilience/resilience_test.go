package resilience

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

var errBroker = errors.New("broker unavailable")

func TestCircuitBreakerLifecycle(t *testing.T) {
	var transitions []string
	cb := NewCircuitBreaker("kafka", CircuitBreakerConfig{
		FailureThreshold: 2,
		ResetTimeout:     time.Minute,
		OnStateChange: func(name string, from, to State) {
			transitions = append(transitions, from.String()+"->"+to.String())
		},
	})
	now := time.Unix(1_700_000_000, 0)
	cb.now = func() time.Time { return now }

	fail := func() error { return errBroker }
	ok := func() error { return nil }

	for i := 0; i < 2; i++ {
		if err := cb.Execute(fail); !errors.Is(err, errBroker) {
			t.Fatalf("attempt %d: %v", i, err)
		}
	}
	if cb.GetState() != StateOpen {
		t.Fatalf("state = %s, want open", cb.GetState())
	}

	calls := 0
	err := cb.Execute(func() error { calls++; return nil })
	if !errors.Is(err, ErrCircuitOpen) || calls != 0 {
		t.Fatalf("open breaker must short-circuit: err=%v calls=%d", err, calls)
	}

	now = now.Add(time.Minute)
	if err := cb.Execute(fail); !errors.Is(err, errBroker) {
		t.Fatalf("probe: %v", err)
	}
	if cb.GetState() != StateOpen {
		t.Fatalf("failed probe must reopen, state = %s", cb.GetState())
	}

	now = now.Add(time.Minute)
	if err := cb.Execute(ok); err != nil {
		t.Fatalf("probe: %v", err)
	}
	if cb.GetState() != StateClosed {
		t.Fatalf("state = %s, want closed", cb.GetState())
	}

	want := []string{"closed->open", "open->half-open", "half-open->open", "open->half-open", "half-open->closed"}
	if len(transitions) != len(want) {
		t.Fatalf("transitions = %v, want %v", transitions, want)
	}
	for i := range want {
		if transitions[i] != want[i] {
			t.Errorf("transition %d = %s, want %s", i, transitions[i], want[i])
		}
	}
}

func TestHalfOpenAllowsOneProbe(t *testing.T) {
	cb := NewCircuitBreaker("x", CircuitBreakerConfig{FailureThreshold: 1, ResetTimeout: time.Second})
	now := time.Unix(0, 0)
	cb.now = func() time.Time { return now }
	cb.Execute(func() error { return errBroker })
	now = now.Add(time.Second)

	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- cb.Execute(func() error { <-release; return nil })
	}()
	for cb.GetState() != StateHalfOpen {
		time.Sleep(time.Millisecond)
	}
	if err := cb.Execute(func() error { return nil }); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("second probe must be rejected, got %v", err)
	}
	close(release)
	if err := <-done; err != nil {
		t.Fatal(err)
	}
	if cb.GetState() != StateClosed {
		t.Errorf("state = %s after successful probe", cb.GetState())
	}
}

func TestRetry(t *testing.T) {
	fast := RetryConfig{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond}
	tests := []struct {
		name      string
		failures  int32
		retryable func(error) bool
		wantCalls int32
		wantErr   bool
	}{
		{"first try", 0, nil, 1, false},
		{"recovers", 2, nil, 3, false},
		{"exhausted", 5, nil, 3, true},
		{"permanent", 5, func(error) bool { return false }, 1, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			cfg := fast
			cfg.Retryable = tt.retryable
			err := Retry(context.Background(), "op", cfg, func() error {
				if calls.Add(1) <= tt.failures {
					return errBroker
				}
				return nil
			})
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v", err)
			}
			if err != nil && !errors.Is(err, errBroker) {
				t.Errorf("error does not wrap cause: %v", err)
			}
			if calls.Load() != tt.wantCalls {
				t.Errorf("calls = %d, want %d", calls.Load(), tt.wantCalls)
			}
		})
	}
}

func TestRetryStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := RetryConfig{MaxAttempts: 10, InitialDelay: time.Hour}
	errc := make(chan error, 1)
	go func() {
		errc <- Retry(ctx, "op", cfg, func() error { return errBroker })
	}()
	cancel()
	select {
	case err := <-errc:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("retry ignored cancellation")
	}
}

func TestComputeDelayCapped(t *testing.T) {
	cfg := RetryConfig{InitialDelay: time.Second, MaxDelay: 3 * time.Second, Multiplier: 2, JitterFraction: 0.1}
	if d := computeDelay(1, cfg); d < 900*time.Millisecond || d > 1100*time.Millisecond {
		t.Errorf("first delay = %v", d)
	}
	if d := computeDelay(10, cfg); d != 3*time.Second {
		t.Errorf("delay not capped: %v", d)
	}
}

func TestWithTimeout(t *testing.T) {
	err := WithTimeout(context.Background(), 10*time.Millisecond, "scan", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}

	if err := WithTimeout(context.Background(), time.Second, "scan", func(ctx context.Context) error { return errBroker }); !errors.Is(err, errBroker) {
		t.Errorf("fn error lost: %v", err)
	}

	parent, cancel := context.WithCancel(context.Background())
	cancel()
	err = WithTimeout(parent, time.Second, "scan", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected parent cancellation, got %v", err)
	}

	if err := WithTimeout(context.Background(), 0, "scan", func(ctx context.Context) error { return nil }); err != nil {
		t.Errorf("zero timeout: %v", err)
	}
}
