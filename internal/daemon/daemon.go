package daemon

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/limber-app/limber/internal/api"
	"github.com/limber-app/limber/internal/app/engagement"
	"github.com/limber-app/limber/internal/dateutil"
	"github.com/limber-app/limber/internal/domain"
	"github.com/limber-app/limber/internal/health"
	"github.com/limber-app/limber/internal/infra/eventbus"
	"github.com/limber-app/limber/internal/infra/memstore"
	"github.com/limber-app/limber/internal/infra/metrics"
	"github.com/limber-app/limber/internal/infra/postgres"
	"github.com/limber-app/limber/internal/infra/redisstore"
	"github.com/limber-app/limber/internal/infra/scheduler"
	"github.com/limber-app/limber/internal/infra/sqlite"
	"github.com/limber-app/limber/pkg/retry"
)

// Daemon is the core Limber runtime. It wires together all services.
type Daemon struct {
	Config Config
	Logger *slog.Logger

	Store  domain.ProgressStore
	Bus    *eventbus.Bus
	Relay  *eventbus.RedisRelay
	Engine *engagement.Engine
	Inbox  *engagement.Inbox

	Server    *api.Server
	Health    *health.Checker
	Scheduler *scheduler.Scheduler

	redis   redis.UniversalClient // owned relay client, nil when shared with the store
	logFile io.Closer
	cancel  context.CancelFunc
}

// New creates and initializes a Daemon from the config file.
func New(ctx context.Context) (*Daemon, error) {
	cfg, err := LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	return NewWithConfig(ctx, cfg)
}

// NewWithConfig creates a Daemon with the given configuration. Nothing is
// started until Serve.
func NewWithConfig(ctx context.Context, cfg Config) (*Daemon, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger, logFile, err := NewLogger(cfg.Logging)
	if err != nil {
		return nil, err
	}
	d := &Daemon{Config: cfg, Logger: logger, logFile: logFile}

	store, err := OpenStore(ctx, cfg.Store, logger)
	if err != nil {
		d.Close()
		return nil, fmt.Errorf("open store: %w", err)
	}
	d.Store = store

	d.Bus = eventbus.New(eventbus.Config{
		Async:   cfg.Events.Async,
		Workers: cfg.Events.Workers,
		Logger:  logger,
	})
	if _, err := metrics.Attach(d.Bus); err != nil {
		d.Close()
		return nil, err
	}
	if cfg.Events.RedisRelay {
		client := d.relayClient()
		d.Relay = eventbus.NewRedisRelay(client, cfg.Events.RedisChannel, logger)
		d.Bus.SetRelay(d.Relay)
	}

	engCfg, err := engineConfig(cfg, logger, d.Bus)
	if err != nil {
		d.Close()
		return nil, err
	}
	d.Engine, err = engagement.New(d.Store, engCfg)
	if err != nil {
		d.Close()
		return nil, fmt.Errorf("create engine: %w", err)
	}

	d.Server = api.NewServer(d.Engine, logger)
	d.Server.SetTimeout(parseDuration(cfg.API.RequestTimeout, api.DefaultRequestTimeout))
	if cfg.Telemetry.Prometheus {
		d.Server.EnableMetrics()
	}

	if log, ok := d.Store.(domain.EventLog); ok && cfg.Events.Inbox {
		d.Inbox = engagement.NewInbox(log, engCfg.Now, logger)
		if err := d.Inbox.Attach(d.Bus); err != nil {
			d.Close()
			return nil, err
		}
		d.Server.SetInbox(d.Inbox)
	}

	d.Health = health.NewChecker(d.Store, health.Config{
		Interval: parseDuration(cfg.Health.Interval, health.DefaultInterval),
		DataDir:  sqliteDir(cfg.Store),
		OnResult: metrics.SetHealth,
		Logger:   logger,
	})
	if d.redis != nil {
		client := d.redis
		d.Health.Add(health.Check{
			Name:    "redis_relay",
			CheckFn: func(ctx context.Context) error { return client.Ping(ctx).Err() },
		})
	}
	d.Server.SetHealth(d.Health)

	if cfg.Scheduler.Enabled {
		d.Scheduler, err = scheduler.New(scheduler.Config{
			Interval:   parseDuration(cfg.Scheduler.Interval, time.Hour),
			RunOnStart: true,
			Retry: scheduler.RetryConfig{
				MaxRetries: cfg.Scheduler.MaxRetries,
				BaseDelay:  parseDuration(cfg.Scheduler.RetryBaseDelay, 5*time.Second),
			},
			SweepAll:  d.sweepAll,
			SweepUser: d.sweepUser,
			Logger:    logger,
		})
		if err != nil {
			d.Close()
			return nil, err
		}
	}

	return d, nil
}

// engineConfig translates the daemon config into an engine config.
func engineConfig(cfg Config, logger *slog.Logger, bus domain.EventPublisher) (engagement.Config, error) {
	cal, err := dateutil.Load(cfg.Engine.Timezone)
	if err != nil {
		return engagement.Config{}, err
	}

	rewards := engagement.DefaultRewardCatalog()
	for i := range rewards {
		if rewards[i].ID == domain.FlexSavesID && cfg.Rewards.FlexSavesPerMonth > 0 {
			rewards[i].MaxUses = cfg.Rewards.FlexSavesPerMonth
		}
	}

	challenges := engagement.ChallengeConfig{
		Targets:         mergeCategories(engagement.DefaultTargets(), categoryMap(cfg.Challenges.Targets)),
		RedemptionHours: mergeCategories(engagement.DefaultRedemptionHours(), categoryMap(cfg.Challenges.RedemptionHours)),
		RecencyWindow:   mergeCategories(engagement.DefaultRecencyWindow(), categoryMap(cfg.Challenges.RecencyWindow)),
	}
	if cfg.Challenges.TemplatesFile != "" {
		challenges.Templates, err = loadTemplates(cfg.Challenges.TemplatesFile)
		if err != nil {
			return engagement.Config{}, err
		}
	}

	return engagement.Config{
		Calendar:          cal,
		Now:               time.Now,
		Logger:            logger,
		Bus:               bus,
		Rewards:           rewards,
		Challenges:        challenges,
		DriftTolerance:    cfg.Engine.DriftTolerance,
		MaxUpdateAttempts: cfg.Engine.MaxUpdateAttempts,
		StoreTimeout:      parseDuration(cfg.Engine.StoreTimeout, 5*time.Second),
		SweepConcurrency:  cfg.Engine.SweepConcurrency,
		OnConflict:        metrics.ObserveConflict,
	}, nil
}

// OpenStore opens the progress store selected by cfg.Driver. Network
// stores are retried with backoff while the server is unreachable.
func OpenStore(ctx context.Context, cfg StoreConfig, logger *slog.Logger) (domain.ProgressStore, error) {
	switch cfg.Driver {
	case "sqlite", "":
		return sqlite.Open(sqliteDir(cfg))
	case "postgres":
		pg := postgres.DefaultConfig()
		pg.DSN = cfg.PostgresDSN
		if cfg.PostgresMaxConns > 0 {
			pg.MaxConns = cfg.PostgresMaxConns
		}
		if _, err := pg.PoolConfig(); err != nil {
			return nil, err
		}
		return connect(ctx, storeRetrier(logger, cfg.Driver), func(ctx context.Context) (*postgres.Store, error) {
			return postgres.Open(ctx, pg)
		})
	case "redis":
		rc := redisstore.DefaultConfig()
		rc.Addr = cfg.RedisAddr
		rc.Password = cfg.RedisPassword
		rc.DB = cfg.RedisDB
		return connect(ctx, storeRetrier(logger, cfg.Driver), func(ctx context.Context) (*redisstore.Store, error) {
			return redisstore.Open(ctx, rc)
		})
	case "memory":
		return memstore.New(), nil
	default:
		return nil, fmt.Errorf("%w: %q", domain.ErrUnknownDriver, cfg.Driver)
	}
}

func storeRetrier(logger *slog.Logger, driver string) *retry.Retrier {
	return retry.StoreRetrier(func(attempt int, err error, delay time.Duration) {
		logger.Warn("store unavailable, retrying", "driver", driver, "attempt", attempt, "delay", delay, "error", err)
	})
}

// connect runs open under r and returns the first store it yields.
func connect[S domain.ProgressStore](ctx context.Context, r *retry.Retrier, open func(context.Context) (S, error)) (domain.ProgressStore, error) {
	var store S
	err := r.Do(ctx, func(ctx context.Context) error {
		s, err := open(ctx)
		if err != nil {
			return err
		}
		store = s
		return nil
	})
	if err != nil {
		return nil, err
	}
	return store, nil
}

func sqliteDir(cfg StoreConfig) string {
	if cfg.Driver != "sqlite" && cfg.Driver != "" {
		return ""
	}
	if cfg.Dir != "" {
		return cfg.Dir
	}
	return limberHome()
}

// relayClient shares the store's Redis client when there is one.
func (d *Daemon) relayClient() redis.UniversalClient {
	if rs, ok := d.Store.(*redisstore.Store); ok {
		return rs.Client()
	}
	d.redis = redis.NewClient(&redis.Options{
		Addr:     d.Config.Store.RedisAddr,
		Password: d.Config.Store.RedisPassword,
		DB:       d.Config.Store.RedisDB,
	})
	return d.redis
}

// NewLogger builds the slog logger described by cfg. The returned closer is
// non-nil when logs go to a file.
func NewLogger(cfg LoggingConfig) (*slog.Logger, io.Closer, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(cfg.Level))); err != nil {
		level = slog.LevelInfo
	}

	var (
		w      io.Writer = os.Stderr
		closer io.Closer
	)
	if cfg.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.File), 0o755); err != nil {
			return nil, nil, fmt.Errorf("create log dir: %w", err)
		}
		f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file: %w", err)
		}
		w, closer = f, f
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler), closer, nil
}

// ─── Sweep ──────────────────────────────────────────────────────────────────

func (d *Daemon) sweepAll(ctx context.Context) ([]string, error) {
	start := time.Now()
	report, err := d.Engine.Sweep(ctx)
	metrics.ObserveSweep(time.Since(start), report.Users, report.Failed)
	return report.FailedUsers, err
}

func (d *Daemon) sweepUser(ctx context.Context, userID string) error {
	_, err := d.Engine.SweepUser(ctx, userID)
	return err
}

// ─── Lifecycle ──────────────────────────────────────────────────────────────

// Serve starts the HTTP server and background services and blocks until
// ctx is cancelled or a signal arrives.
func (d *Daemon) Serve(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	defer cancel()

	addr := fmt.Sprintf("%s:%d", d.Config.API.Host, d.Config.API.Port)
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      d.Server.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 2 * time.Minute,
		IdleTimeout:  2 * time.Minute,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		d.Health.Run(gctx)
		return nil
	})
	if d.Scheduler != nil {
		g.Go(func() error { return d.Scheduler.Run(gctx) })
	}
	if d.Relay != nil {
		g.Go(func() error { return d.Relay.Listen(gctx, d.Bus) })
	}
	g.Go(func() error {
		d.Logger.Info("limber serving", "addr", "http://"+addr, "store", d.Config.Store.Driver)
		if d.Config.Telemetry.Prometheus {
			d.Logger.Info("metrics enabled", "addr", "http://"+addr+"/metrics")
		}
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	err := g.Wait()
	d.Logger.Info("limber stopped")
	return err
}

// Close shuts down all daemon resources.
func (d *Daemon) Close() {
	if d.cancel != nil {
		d.cancel()
	}
	if d.Bus != nil {
		_ = d.Bus.Close()
	}
	if d.redis != nil {
		_ = d.redis.Close()
	}
	if d.Store != nil {
		_ = d.Store.Close()
	}
	if d.logFile != nil {
		_ = d.logFile.Close()
	}
}
