package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

func fastPolicy(attempts int) Policy {
	return Policy{
		MaxAttempts:  attempts,
		InitialDelay: time.Millisecond,
		Multiplier:   2.0,
		MaxDelay:     5 * time.Millisecond,
	}
}

func TestDo_SucceedsAfterTransientFailures(t *testing.T) {
	calls := 0
	err := fastPolicy(3).Do(context.Background(), func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("connection reset")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected success on third attempt, got %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls)
	}
}

func TestDo_ExhaustionSurfacesTypedFailure(t *testing.T) {
	boom := errors.New("boom")
	calls := 0
	err := fastPolicy(3).Do(context.Background(), func(ctx context.Context) error {
		calls++
		return boom
	})
	if !errors.Is(err, ErrAttemptsExhausted) {
		t.Fatalf("expected ErrAttemptsExhausted, got %v", err)
	}
	if !errors.Is(err, boom) {
		t.Fatalf("expected last error to be wrapped, got %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected bounded attempts, got %d", calls)
	}
}

func TestDo_PermanentErrorAbortsImmediately(t *testing.T) {
	calls := 0
	fatal := Permanent(errors.New("unauthorized"))
	err := fastPolicy(5).Do(context.Background(), func(ctx context.Context) error {
		calls++
		return fatal
	})
	if calls != 1 {
		t.Fatalf("fatal error must not be retried, got %d attempts", calls)
	}
	if !IsPermanent(err) {
		t.Fatalf("expected permanent error, got %v", err)
	}
}

func TestDo_ClassifierMarksFatal(t *testing.T) {
	p := fastPolicy(5)
	p.Classify = func(err error) bool { return false }

	calls := 0
	_ = p.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return errors.New("anything")
	})
	if calls != 1 {
		t.Fatalf("classifier fatal must not retry, got %d attempts", calls)
	}
}

func TestDo_ContextCancelStopsRetries(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	p := Policy{MaxAttempts: 10, InitialDelay: 50 * time.Millisecond, Multiplier: 1}
	errCh := make(chan error, 1)
	go func() {
		errCh <- p.Do(ctx, func(ctx context.Context) error {
			calls++
			return errors.New("transient")
		})
	}()
	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Do did not return after cancellation")
	}
}

func TestDelay_CappedAndGrowing(t *testing.T) {
	p := Policy{InitialDelay: 10 * time.Millisecond, Multiplier: 2, MaxDelay: 35 * time.Millisecond}
	if d := p.delay(1); d != 10*time.Millisecond {
		t.Fatalf("attempt 1: got %v", d)
	}
	if d := p.delay(2); d != 20*time.Millisecond {
		t.Fatalf("attempt 2: got %v", d)
	}
	if d := p.delay(4); d != 35*time.Millisecond {
		t.Fatalf("attempt 4 should hit cap, got %v", d)
	}
}
