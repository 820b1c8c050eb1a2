package engine

import (
	"context"
	"testing"
	"time"
)

func TestBackoffIntervalGrowth(t *testing.T) {
	p := BackoffPolicy{Initial: time.Second, Multiplier: 2, MaxInterval: time.Minute}

	if got := p.Interval(0); got != time.Second {
		t.Errorf("attempt 0: expected 1s, got %v", got)
	}
	if got := p.Interval(1); got != 2*time.Second {
		t.Errorf("attempt 1: expected 2s, got %v", got)
	}
	if got := p.Interval(3); got != 8*time.Second {
		t.Errorf("attempt 3: expected 8s, got %v", got)
	}
}

func TestBackoffIntervalCapped(t *testing.T) {
	p := BackoffPolicy{Initial: time.Second, Multiplier: 2, MaxInterval: 5 * time.Second}

	if got := p.Interval(10); got != 5*time.Second {
		t.Errorf("expected cap at 5s, got %v", got)
	}
}

func TestBackoffFixedIntervalWhenMultiplierOne(t *testing.T) {
	p := BackoffPolicy{Initial: 100 * time.Millisecond, Multiplier: 1}

	for attempt := 0; attempt < 4; attempt++ {
		if got := p.Interval(attempt); got != 100*time.Millisecond {
			t.Errorf("attempt %d: expected fixed 100ms, got %v", attempt, got)
		}
	}
}

func TestBackoffJitterBounded(t *testing.T) {
	p := BackoffPolicy{Initial: 100 * time.Millisecond, Multiplier: 1, Jitter: 0.25}

	for i := 0; i < 50; i++ {
		got := p.Interval(0)
		if got < 100*time.Millisecond || got > 125*time.Millisecond {
			t.Fatalf("jittered interval out of bounds: %v", got)
		}
	}
}

func TestBackoffSleepCancellable(t *testing.T) {
	p := BackoffPolicy{Initial: 10 * time.Second, Multiplier: 1}
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- p.Sleep(ctx, 0) }()
	cancel()

	select {
	case err := <-done:
		if err == nil {
			t.Error("expected context error from cancelled sleep")
		}
	case <-time.After(time.Second):
		t.Fatal("cancelled sleep did not return promptly")
	}
}
