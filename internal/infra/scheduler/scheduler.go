// Package scheduler runs the periodic engagement sweep. Users whose sweep
// failed are retried individually with exponential backoff until the next
// full sweep picks them up again.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ─── Configuration ──────────────────────────────────────────────────────────

// SweepAllFunc sweeps every user and returns the ids that failed.
type SweepAllFunc func(ctx context.Context) (failed []string, err error)

// SweepUserFunc sweeps a single user.
type SweepUserFunc func(ctx context.Context, userID string) error

// Config configures a Scheduler.
type Config struct {
	Interval   time.Duration // between full sweeps (default 1h)
	RetryPoll  time.Duration // how often the retry queue is drained (default 1s)
	RunOnStart bool          // sweep immediately when Run starts
	Retry      RetryConfig

	SweepAll  SweepAllFunc
	SweepUser SweepUserFunc

	Logger *slog.Logger
}

// DefaultConfig returns production scheduler defaults.
func DefaultConfig() Config {
	return Config{
		Interval:   time.Hour,
		RetryPoll:  time.Second,
		RunOnStart: true,
		Retry:      DefaultRetryConfig(),
	}
}

// ─── Scheduler ──────────────────────────────────────────────────────────────

// Stats is a snapshot of scheduler activity.
type Stats struct {
	Runs      int64      `json:"runs"`
	LastRun   time.Time  `json:"last_run"`
	LastError string     `json:"last_error,omitempty"`
	Retry     RetryStats `json:"retry"`
}

// Scheduler triggers sweeps on a fixed interval. Runs never overlap.
type Scheduler struct {
	cfg    Config
	retry  *RetryQueue
	logger *slog.Logger

	runMu sync.Mutex // serializes sweeps and retries

	mu      sync.Mutex
	runs    int64
	lastRun time.Time
	lastErr string
}

// New creates a scheduler. SweepAll is required; without SweepUser failed
// users simply wait for the next full sweep.
func New(cfg Config) (*Scheduler, error) {
	if cfg.SweepAll == nil {
		return nil, errors.New("scheduler: SweepAll is required")
	}
	def := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.RetryPoll <= 0 {
		cfg.RetryPoll = def.RetryPoll
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Scheduler{
		cfg:    cfg,
		retry:  NewRetryQueue(cfg.Retry),
		logger: cfg.Logger.With("component", "scheduler"),
	}, nil
}

// Run blocks until ctx is cancelled, sweeping every Interval and draining
// the retry queue every RetryPoll.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info("scheduler started", "interval", s.cfg.Interval)
	if s.cfg.RunOnStart {
		_ = s.RunNow(ctx)
	}

	sweep := time.NewTicker(s.cfg.Interval)
	defer sweep.Stop()
	poll := time.NewTicker(s.cfg.RetryPoll)
	defer poll.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped")
			return nil
		case <-sweep.C:
			_ = s.RunNow(ctx)
		case <-poll.C:
			s.RetryReady(ctx)
		}
	}
}

// RunNow performs one full sweep and queues the users that failed.
func (s *Scheduler) RunNow(ctx context.Context) error {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	failed, err := s.cfg.SweepAll(ctx)

	s.mu.Lock()
	s.runs++
	s.lastRun = time.Now()
	s.lastErr = ""
	if err != nil {
		s.lastErr = err.Error()
	}
	s.mu.Unlock()

	if err != nil {
		s.logger.Error("sweep failed", "error", err)
		return err
	}
	if s.cfg.SweepUser == nil {
		return nil
	}
	for _, userID := range failed {
		s.retry.Forget(userID)
		if !s.retry.ScheduleRetry(RetryEntry{UserID: userID, Error: "sweep failed"}) {
			s.logger.Warn("user retries exhausted", "user", userID)
		}
	}
	return nil
}

// RetryReady sweeps every user whose backoff has elapsed. A user that fails
// again is re-queued with a longer delay.
func (s *Scheduler) RetryReady(ctx context.Context) int {
	if s.cfg.SweepUser == nil {
		return 0
	}
	s.runMu.Lock()
	defer s.runMu.Unlock()

	ready := s.retry.DrainReady()
	for _, entry := range ready {
		if ctx.Err() != nil {
			return len(ready)
		}
		if err := s.cfg.SweepUser(ctx, entry.UserID); err != nil {
			entry.Error = err.Error()
			if !s.retry.ScheduleRetry(entry) {
				s.logger.Warn("user retries exhausted", "user", entry.UserID, "error", err)
			}
			continue
		}
		s.logger.Debug("sweep retry succeeded", "user", entry.UserID, "attempt", entry.Attempt)
	}
	return len(ready)
}

// Stats returns a snapshot of scheduler activity.
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{
		Runs:      s.runs,
		LastRun:   s.lastRun,
		LastError: s.lastErr,
		Retry:     s.retry.RetryStats(),
	}
}
