package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestLinearSchedule(t *testing.T) {
	l := &linear{step: 5 * time.Second}
	for i, want := range []time.Duration{5 * time.Second, 10 * time.Second, 15 * time.Second} {
		if got := l.NextBackOff(); got != want {
			t.Fatalf("wait %d = %v, want %v", i+1, got, want)
		}
	}
	l.Reset()
	if got := l.NextBackOff(); got != 5*time.Second {
		t.Fatalf("after reset = %v", got)
	}
}

func TestDoSucceedsAfterFailures(t *testing.T) {
	p := Policy{MaxAttempts: 3, Delay: time.Millisecond}
	var waits []time.Duration
	attempts, err := p.Do(context.Background(), func(attempt int) error {
		if attempt < 3 {
			return errors.New("flaky")
		}
		return nil
	}, func(err error, attempt int, wait time.Duration) {
		waits = append(waits, wait)
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if attempts != 3 {
		t.Fatalf("attempts = %d", attempts)
	}
	if len(waits) != 2 || waits[0] != time.Millisecond || waits[1] != 2*time.Millisecond {
		t.Fatalf("unexpected waits %v", waits)
	}
}

func TestDoStopsAtCeiling(t *testing.T) {
	p := Policy{MaxAttempts: 3, Delay: time.Millisecond}
	boom := errors.New("down")
	attempts, err := p.Do(context.Background(), func(int) error { return boom }, nil)
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v", err)
	}
	if attempts != 3 {
		t.Fatalf("attempts = %d, want 3", attempts)
	}
}

func TestDoPermanentStopsEarly(t *testing.T) {
	p := Policy{MaxAttempts: 5, Delay: time.Millisecond}
	bad := errors.New("bad request")
	attempts, err := p.Do(context.Background(), func(int) error { return Permanent(bad) }, nil)
	if !errors.Is(err, bad) {
		t.Fatalf("err = %v", err)
	}
	if attempts != 1 {
		t.Fatalf("attempts = %d, want 1", attempts)
	}
}

func TestDoZeroAttemptsRunsOnce(t *testing.T) {
	attempts, _ := Policy{}.Do(context.Background(), func(int) error { return errors.New("x") }, nil)
	if attempts != 1 {
		t.Fatalf("attempts = %d", attempts)
	}
}
