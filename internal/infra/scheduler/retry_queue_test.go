package scheduler

import (
	"testing"
	"time"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestQueue(cfg RetryConfig) (*RetryQueue, *fakeClock) {
	clock := &fakeClock{t: time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)}
	rq := NewRetryQueue(cfg)
	rq.now = clock.now
	return rq, clock
}

// ─── Retry Queue Tests ──────────────────────────────────────────────────────

func TestRetryQueue_ScheduleAndDrain(t *testing.T) {
	rq, clock := newTestQueue(RetryConfig{MaxRetries: 3, BaseDelay: time.Second, MaxDelay: time.Minute})

	if !rq.ScheduleRetry(RetryEntry{UserID: "alice", Error: "timeout"}) {
		t.Fatal("expected ScheduleRetry to succeed for first retry")
	}
	if rq.Len() != 1 {
		t.Fatalf("expected 1 pending retry, got %d", rq.Len())
	}
	if ready := rq.DrainReady(); len(ready) != 0 {
		t.Fatalf("expected nothing ready before backoff, got %d", len(ready))
	}

	clock.advance(time.Second)
	ready := rq.DrainReady()
	if len(ready) != 1 {
		t.Fatalf("expected 1 ready retry, got %d", len(ready))
	}
	if ready[0].UserID != "alice" {
		t.Errorf("got user %q, want alice", ready[0].UserID)
	}
	if ready[0].Attempt != 1 {
		t.Errorf("attempt = %d, want 1", ready[0].Attempt)
	}
	if rq.Len() != 0 {
		t.Errorf("expected empty queue after drain, got %d", rq.Len())
	}
}

func TestRetryQueue_MaxRetriesExhausted(t *testing.T) {
	rq, clock := newTestQueue(RetryConfig{MaxRetries: 2, BaseDelay: time.Second, MaxDelay: time.Minute})

	entry := RetryEntry{UserID: "bob"}
	for i := 0; i < 2; i++ {
		if !rq.ScheduleRetry(entry) {
			t.Fatalf("retry %d should be scheduled", i+1)
		}
		clock.advance(time.Hour)
		next, ok := rq.NextReady()
		if !ok {
			t.Fatalf("retry %d should be ready", i+1)
		}
		entry = *next
	}

	if rq.ScheduleRetry(entry) {
		t.Error("third retry should be rejected")
	}
	stats := rq.RetryStats()
	if stats.TotalRetries != 2 || stats.TotalExhausted != 1 {
		t.Errorf("stats = %+v, want 2 retries and 1 exhausted", stats)
	}
}

func TestRetryQueue_Backoff(t *testing.T) {
	rq, _ := newTestQueue(RetryConfig{MaxRetries: 10, BaseDelay: time.Second, MaxDelay: 5 * time.Second})

	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 5 * time.Second, 5 * time.Second}
	for i, w := range want {
		if got := rq.Backoff(i + 1); got != w {
			t.Errorf("Backoff(%d) = %v, want %v", i+1, got, w)
		}
	}
}

func TestRetryQueue_EarliestFirstAndDedup(t *testing.T) {
	rq, clock := newTestQueue(RetryConfig{MaxRetries: 5, BaseDelay: time.Second, MaxDelay: time.Minute})

	rq.ScheduleRetry(RetryEntry{UserID: "late", Attempt: 2}) // third attempt: 4s
	rq.ScheduleRetry(RetryEntry{UserID: "early"})            // first attempt: 1s
	rq.ScheduleRetry(RetryEntry{UserID: "early"})            // already pending
	if rq.Len() != 2 {
		t.Fatalf("expected 2 pending users, got %d", rq.Len())
	}

	clock.advance(10 * time.Second)
	ready := rq.DrainReady()
	if len(ready) != 2 || ready[0].UserID != "early" || ready[1].UserID != "late" {
		t.Errorf("unexpected drain order: %+v", ready)
	}
}

func TestRetryQueue_Forget(t *testing.T) {
	rq, clock := newTestQueue(RetryConfig{MaxRetries: 5, BaseDelay: time.Second, MaxDelay: time.Minute})
	rq.ScheduleRetry(RetryEntry{UserID: "a"})
	rq.ScheduleRetry(RetryEntry{UserID: "b"})

	rq.Forget("a")
	rq.Forget("missing")
	clock.advance(time.Minute)

	ready := rq.DrainReady()
	if len(ready) != 1 || ready[0].UserID != "b" {
		t.Errorf("expected only b after Forget, got %+v", ready)
	}
}
