package relay

import (
	"testing"
	"time"
)

func TestBackoffGrowth(t *testing.T) {
	base := 2 * time.Second
	max := time.Minute

	if got := backoff(base, max, 0); got != 2*time.Second {
		t.Fatalf("attempt 0: got %s", got)
	}
	if got := backoff(base, max, 1); got != 4*time.Second {
		t.Fatalf("attempt 1: got %s", got)
	}
	if got := backoff(base, max, 3); got != 16*time.Second {
		t.Fatalf("attempt 3: got %s", got)
	}
}

func TestBackoffCap(t *testing.T) {
	base := 2 * time.Second
	max := 10 * time.Second

	for attempt := 3; attempt < 60; attempt++ {
		if got := backoff(base, max, attempt); got != max {
			t.Fatalf("attempt %d: expected cap %s, got %s", attempt, max, got)
		}
	}
}

func TestBackoffZeroBase(t *testing.T) {
	if got := backoff(0, time.Minute, 0); got != time.Second {
		t.Fatalf("expected 1s default base, got %s", got)
	}
}

func TestSleepCancelled(t *testing.T) {
	done := make(chan struct{})
	close(done)
	if sleep(done, time.Hour) {
		t.Fatal("closed done channel must abort the sleep")
	}
}

func TestSleepElapses(t *testing.T) {
	if !sleep(make(chan struct{}), time.Millisecond) {
		t.Fatal("sleep must report completion")
	}
}
