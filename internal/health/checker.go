// Package health provides periodic health checks with optional recovery.
package health

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/limber-app/limber/internal/domain"
)

// DefaultInterval is how often checks run when Config.Interval is zero.
const DefaultInterval = 60 * time.Second

// Check defines a single health check with optional recovery action.
type Check struct {
	Name      string
	CheckFn   func(ctx context.Context) error
	RecoverFn func(ctx context.Context) error
}

// Status represents the result of a health check.
type Status struct {
	Name      string    `json:"name"`
	Healthy   bool      `json:"healthy"`
	Error     string    `json:"error,omitempty"`
	CheckedAt time.Time `json:"checked_at"`
}

// Config configures a Checker.
type Config struct {
	Interval time.Duration
	// Timeout bounds a single check. Default 5s.
	Timeout time.Duration
	// DataDir, when set, must exist and be a directory.
	DataDir string
	// OnResult is called after every check, e.g. to export a gauge.
	OnResult func(name string, healthy bool)
	Logger   *slog.Logger
}

// Checker runs periodic health checks with auto-recovery.
type Checker struct {
	mu       sync.RWMutex
	checks   []Check
	statuses []Status
	interval time.Duration
	timeout  time.Duration
	onResult func(string, bool)
	logger   *slog.Logger
}

// NewChecker creates a checker that pings the progress store and, when
// DataDir is set, verifies the data directory.
func NewChecker(store domain.ProgressStore, cfg Config) *Checker {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	c := &Checker{
		interval: cfg.Interval,
		timeout:  cfg.Timeout,
		onResult: cfg.OnResult,
		logger:   cfg.Logger.With("component", "health"),
	}
	c.Add(Check{
		Name:    "store",
		CheckFn: store.Ping,
	})
	if cfg.DataDir != "" {
		dir := cfg.DataDir
		c.Add(Check{
			Name: "data_dir",
			CheckFn: func(ctx context.Context) error {
				return checkDataDir(dir)
			},
			RecoverFn: func(ctx context.Context) error {
				return os.MkdirAll(dir, 0o755)
			},
		})
	}
	return c
}

// Add registers another check. Call before Run.
func (c *Checker) Add(check Check) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checks = append(c.checks, check)
}

// Run starts the health check loop. Call in a goroutine.
func (c *Checker) Run(ctx context.Context) {
	c.RunOnce(ctx)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.RunOnce(ctx)
		}
	}
}

// RunOnce runs every check once and stores the results.
func (c *Checker) RunOnce(ctx context.Context) {
	c.mu.RLock()
	checks := make([]Check, len(c.checks))
	copy(checks, c.checks)
	c.mu.RUnlock()

	statuses := make([]Status, len(checks))
	for i, check := range checks {
		s := Status{
			Name:      check.Name,
			CheckedAt: time.Now(),
		}
		if err := c.run(ctx, check.CheckFn); err != nil {
			s.Error = err.Error()
			c.logger.Warn("health check failed", "check", check.Name, "error", err)
			if check.RecoverFn != nil {
				if rerr := c.run(ctx, check.RecoverFn); rerr != nil {
					c.logger.Warn("health recovery failed", "check", check.Name, "error", rerr)
				}
			}
		} else {
			s.Healthy = true
		}
		if c.onResult != nil {
			c.onResult(s.Name, s.Healthy)
		}
		statuses[i] = s
	}

	c.mu.Lock()
	c.statuses = statuses
	c.mu.Unlock()
}

func (c *Checker) run(ctx context.Context, fn func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	return fn(ctx)
}

// Statuses returns the latest health check results.
func (c *Checker) Statuses() []Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	result := make([]Status, len(c.statuses))
	copy(result, c.statuses)
	return result
}

// IsHealthy returns true if all checks pass.
func (c *Checker) IsHealthy() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, s := range c.statuses {
		if !s.Healthy {
			return false
		}
	}
	return true
}

// ─── Check Implementations ──────────────────────────────────────────────────

func checkDataDir(dir string) error {
	info, err := os.Stat(dir)
	if err != nil {
		return fmt.Errorf("check data dir: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("data path %s is not a directory", dir)
	}
	return nil
}
