// Package postgres keeps progress records in PostgreSQL for deployments
// where several daemons share one database.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/limber-app/limber/internal/domain"
)

// Config holds PostgreSQL connection configuration.
type Config struct {
	DSN               string
	MaxConns          int32
	MinConns          int32
	MaxConnLifetime   time.Duration
	MaxConnIdleTime   time.Duration
	HealthCheckPeriod time.Duration
}

// DefaultConfig returns pool defaults; DSN must still be set.
func DefaultConfig() Config {
	return Config{
		MaxConns:          10,
		MinConns:          1,
		MaxConnLifetime:   time.Hour,
		MaxConnIdleTime:   30 * time.Minute,
		HealthCheckPeriod: time.Minute,
	}
}

// PoolConfig returns pgxpool configuration.
func (c Config) PoolConfig() (*pgxpool.Config, error) {
	config, err := pgxpool.ParseConfig(c.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse connection string: %w", err)
	}
	if c.MaxConns > 0 {
		config.MaxConns = c.MaxConns
	}
	config.MinConns = c.MinConns
	if c.MaxConnLifetime > 0 {
		config.MaxConnLifetime = c.MaxConnLifetime
	}
	if c.MaxConnIdleTime > 0 {
		config.MaxConnIdleTime = c.MaxConnIdleTime
	}
	if c.HealthCheckPeriod > 0 {
		config.HealthCheckPeriod = c.HealthCheckPeriod
	}
	return config, nil
}

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS user_progress (
		user_id    TEXT PRIMARY KEY,
		version    BIGINT NOT NULL,
		data       JSONB NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS activity_history (
		id               BIGSERIAL PRIMARY KEY,
		user_id          TEXT NOT NULL,
		occurred_at      TIMESTAMPTZ NOT NULL,
		duration_minutes INTEGER NOT NULL,
		area             TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE INDEX IF NOT EXISTS idx_activity_user ON activity_history(user_id, occurred_at)`,
	`CREATE TABLE IF NOT EXISTS events (
		id         TEXT PRIMARY KEY,
		user_id    TEXT NOT NULL,
		type       TEXT NOT NULL,
		payload    JSONB NOT NULL,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_events_user ON events(user_id, created_at DESC)`,
}

// Store implements domain.ProgressStore and domain.EventLog on pgx.
type Store struct {
	pool *pgxpool.Pool
}

// Open connects, pings and migrates.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	poolConfig, err := cfg.PoolConfig()
	if err != nil {
		return nil, err
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	s := &Store{pool: pool}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	for _, m := range migrations {
		if _, err := s.pool.Exec(ctx, m); err != nil {
			return fmt.Errorf("migration failed: %w\nSQL: %s", err, m)
		}
	}
	return nil
}

// Load implements domain.ProgressStore.
func (s *Store) Load(ctx context.Context, userID string) (domain.UserProgress, error) {
	var (
		p       domain.UserProgress
		version int64
	)
	err := s.pool.QueryRow(ctx,
		`SELECT version, data FROM user_progress WHERE user_id = $1`, userID,
	).Scan(&version, &p)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.NewUserProgress(userID), nil
	}
	if err != nil {
		return domain.UserProgress{}, fmt.Errorf("load progress %s: %w", userID, err)
	}
	p.UserID = userID
	p.Version = version
	p.EnsureMaps()
	return p, nil
}

// Save implements domain.ProgressStore.
func (s *Store) Save(ctx context.Context, p *domain.UserProgress) error {
	next := *p
	next.Version = p.Version + 1
	next.UpdatedAt = time.Now().UTC()

	var (
		sql  string
		args []any
	)
	if p.Version == 0 {
		sql = `INSERT INTO user_progress (user_id, version, data, updated_at)
			VALUES ($1, $2, $3, $4) ON CONFLICT (user_id) DO NOTHING`
		args = []any{p.UserID, next.Version, next, next.UpdatedAt}
	} else {
		sql = `UPDATE user_progress SET version = $2, data = $3, updated_at = $4
			WHERE user_id = $1 AND version = $5`
		args = []any{p.UserID, next.Version, next, next.UpdatedAt, p.Version}
	}

	tag, err := s.pool.Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("save progress %s: %w", p.UserID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrVersionConflict
	}
	p.Version = next.Version
	p.UpdatedAt = next.UpdatedAt
	return nil
}

// LoadActivityHistory implements domain.ProgressStore.
func (s *Store) LoadActivityHistory(ctx context.Context, userID string) ([]domain.ActivityRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT occurred_at, duration_minutes, area FROM activity_history
		 WHERE user_id = $1 ORDER BY occurred_at, id`, userID)
	if err != nil {
		return nil, fmt.Errorf("load activity %s: %w", userID, err)
	}
	history, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.ActivityRecord, error) {
		var rec domain.ActivityRecord
		err := row.Scan(&rec.Date, &rec.DurationMinutes, &rec.Area)
		return rec, err
	})
	if err != nil {
		return nil, fmt.Errorf("load activity %s: %w", userID, err)
	}
	return history, nil
}

// AppendActivity implements domain.ProgressStore.
func (s *Store) AppendActivity(ctx context.Context, userID string, rec domain.ActivityRecord) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO activity_history (user_id, occurred_at, duration_minutes, area)
		 VALUES ($1, $2, $3, $4)`,
		userID, rec.Date, rec.DurationMinutes, rec.Area)
	if err != nil {
		return fmt.Errorf("append activity %s: %w", userID, err)
	}
	return nil
}

// ListUsers implements domain.ProgressStore.
func (s *Store) ListUsers(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT user_id FROM user_progress ORDER BY user_id`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

// AppendEvent implements domain.EventLog.
func (s *Store) AppendEvent(ctx context.Context, rec domain.EventRecord) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO events (id, user_id, type, payload, created_at)
		 VALUES ($1, $2, $3, $4, $5) ON CONFLICT (id) DO NOTHING`,
		rec.ID, rec.UserID, string(rec.Type), string(rec.Payload), rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	return nil
}

// ListEvents implements domain.EventLog.
func (s *Store) ListEvents(ctx context.Context, userID string, limit int) ([]domain.EventRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, type, payload::text, created_at FROM events
		 WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list events %s: %w", userID, err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.EventRecord, error) {
		var (
			rec     domain.EventRecord
			typ     string
			payload string
		)
		err := row.Scan(&rec.ID, &rec.UserID, &typ, &payload, &rec.CreatedAt)
		rec.Type = domain.EventType(typ)
		rec.Payload = []byte(payload)
		return rec, err
	})
}

// Ping implements domain.ProgressStore.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close implements domain.ProgressStore.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}
