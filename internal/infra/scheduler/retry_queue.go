package scheduler

import (
	"container/heap"
	"sync"
	"time"
)

// ─── Retry Queue ────────────────────────────────────────────────────────────
// Users whose sweep failed are re-queued with exponential backoff. The heap
// is ordered by NextRetry so the next due user is always at the root.

// RetryConfig configures the retry queue behavior.
type RetryConfig struct {
	MaxRetries int           // attempts before the user is left to the next sweep
	BaseDelay  time.Duration // initial backoff delay (doubles each retry)
	MaxDelay   time.Duration // cap on backoff delay
}

// DefaultRetryConfig returns production retry defaults.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries: 5,
		BaseDelay:  5 * time.Second,
		MaxDelay:   5 * time.Minute,
	}
}

// RetryEntry tracks a failed user's retry state.
type RetryEntry struct {
	UserID    string
	Attempt   int       // retries scheduled so far
	NextRetry time.Time // earliest time this can be retried
	FailedAt  time.Time // when the last failure occurred
	Error     string    // last failure reason
}

type retryHeap []RetryEntry

func (h retryHeap) Len() int { return len(h) }
func (h retryHeap) Less(i, j int) bool {
	if h[i].NextRetry.Equal(h[j].NextRetry) {
		return h[i].UserID < h[j].UserID
	}
	return h[i].NextRetry.Before(h[j].NextRetry)
}
func (h retryHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *retryHeap) Push(x any)   { *h = append(*h, x.(RetryEntry)) }
func (h *retryHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// RetryQueue schedules per-user sweep retries. A user is queued at most once.
type RetryQueue struct {
	mu      sync.Mutex
	config  RetryConfig
	items   retryHeap
	pending map[string]bool
	now     func() time.Time

	// Stats
	totalRetries   int64
	totalExhausted int64
}

// NewRetryQueue creates an empty retry queue.
func NewRetryQueue(cfg RetryConfig) *RetryQueue {
	def := DefaultRetryConfig()
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = def.MaxRetries
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = def.BaseDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = def.MaxDelay
	}
	if cfg.MaxDelay < cfg.BaseDelay {
		cfg.MaxDelay = cfg.BaseDelay
	}
	return &RetryQueue{
		config:  cfg,
		pending: make(map[string]bool),
		now:     time.Now,
	}
}

// Backoff returns the delay before the given retry attempt (1-based).
func (rq *RetryQueue) Backoff(attempt int) time.Duration {
	delay := rq.config.BaseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= rq.config.MaxDelay {
			return rq.config.MaxDelay
		}
	}
	return delay
}

// ScheduleRetry queues a failed user with exponential backoff. It returns
// false once the user has exceeded MaxRetries. A user already pending keeps
// its existing slot.
func (rq *RetryQueue) ScheduleRetry(entry RetryEntry) bool {
	rq.mu.Lock()
	defer rq.mu.Unlock()

	if rq.pending[entry.UserID] {
		return true
	}
	entry.Attempt++
	if entry.Attempt > rq.config.MaxRetries {
		rq.totalExhausted++
		return false
	}

	now := rq.now()
	entry.FailedAt = now
	entry.NextRetry = now.Add(rq.Backoff(entry.Attempt))
	heap.Push(&rq.items, entry)
	rq.pending[entry.UserID] = true
	rq.totalRetries++
	return true
}

// NextReady pops the next user whose NextRetry has passed, if any.
func (rq *RetryQueue) NextReady() (*RetryEntry, bool) {
	rq.mu.Lock()
	defer rq.mu.Unlock()

	if len(rq.items) == 0 || rq.now().Before(rq.items[0].NextRetry) {
		return nil, false
	}
	entry := heap.Pop(&rq.items).(RetryEntry)
	delete(rq.pending, entry.UserID)
	return &entry, true
}

// DrainReady pops every ready user, earliest first.
func (rq *RetryQueue) DrainReady() []RetryEntry {
	var ready []RetryEntry
	for {
		entry, ok := rq.NextReady()
		if !ok {
			break
		}
		ready = append(ready, *entry)
	}
	return ready
}

// Forget drops a user from the queue, e.g. after a full sweep succeeded for it.
func (rq *RetryQueue) Forget(userID string) {
	rq.mu.Lock()
	defer rq.mu.Unlock()
	if !rq.pending[userID] {
		return
	}
	for i, e := range rq.items {
		if e.UserID == userID {
			heap.Remove(&rq.items, i)
			break
		}
	}
	delete(rq.pending, userID)
}

// Len returns the number of users pending retry.
func (rq *RetryQueue) Len() int {
	rq.mu.Lock()
	defer rq.mu.Unlock()
	return len(rq.items)
}

// RetryStats holds retry queue statistics.
type RetryStats struct {
	PendingRetries int   `json:"pending_retries"`
	TotalRetries   int64 `json:"total_retries"`
	TotalExhausted int64 `json:"total_exhausted"` // exceeded MaxRetries
}

// RetryStats returns current retry queue statistics.
func (rq *RetryQueue) RetryStats() RetryStats {
	rq.mu.Lock()
	defer rq.mu.Unlock()
	return RetryStats{
		PendingRetries: len(rq.items),
		TotalRetries:   rq.totalRetries,
		TotalExhausted: rq.totalExhausted,
	}
}
