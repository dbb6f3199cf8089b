// Package redisstore keeps progress records in Redis. Version checks use
// WATCH/MULTI so concurrent daemons never overwrite each other.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/limber-app/limber/internal/domain"
)

// Key prefixes for namespacing Redis keys.
const (
	PrefixProgress = "limber:progress:"
	PrefixActivity = "limber:activity:"
	PrefixEvents   = "limber:events:"
	KeyUsers       = "limber:users"
)

// maxEvents bounds the per-user inbox list.
const maxEvents = 500

// Config holds Redis connection configuration.
type Config struct {
	Addr         string
	Password     string
	DB           int
	PoolSize     int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultConfig returns local defaults.
func DefaultConfig() Config {
	return Config{
		Addr:         "localhost:6379",
		PoolSize:     10,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	}
}

// Store implements domain.ProgressStore and domain.EventLog on Redis.
type Store struct {
	client redis.UniversalClient
}

// Open connects and pings Redis.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", cfg.Addr, err)
	}
	return &Store{client: client}, nil
}

// New wraps an existing client.
func New(client redis.UniversalClient) *Store {
	return &Store{client: client}
}

// Client exposes the underlying client so the event relay can share it.
func (s *Store) Client() redis.UniversalClient { return s.client }

type stored struct {
	Version int64           `json:"version"`
	Data    json.RawMessage `json:"data"`
}

// Load implements domain.ProgressStore.
func (s *Store) Load(ctx context.Context, userID string) (domain.UserProgress, error) {
	raw, err := s.client.Get(ctx, PrefixProgress+userID).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.NewUserProgress(userID), nil
	}
	if err != nil {
		return domain.UserProgress{}, fmt.Errorf("load progress %s: %w", userID, err)
	}
	return decode(userID, raw)
}

func decode(userID string, raw []byte) (domain.UserProgress, error) {
	var rec stored
	if err := json.Unmarshal(raw, &rec); err != nil {
		return domain.UserProgress{}, fmt.Errorf("decode progress %s: %w", userID, err)
	}
	var p domain.UserProgress
	if err := json.Unmarshal(rec.Data, &p); err != nil {
		return domain.UserProgress{}, fmt.Errorf("decode progress %s: %w", userID, err)
	}
	p.UserID = userID
	p.Version = rec.Version
	p.EnsureMaps()
	return p, nil
}

// Save implements domain.ProgressStore.
func (s *Store) Save(ctx context.Context, p *domain.UserProgress) error {
	key := PrefixProgress + p.UserID

	next := *p
	next.Version = p.Version + 1
	next.UpdatedAt = time.Now().UTC()
	data, err := json.Marshal(next)
	if err != nil {
		return fmt.Errorf("encode progress %s: %w", p.UserID, err)
	}
	payload, err := json.Marshal(stored{Version: next.Version, Data: data})
	if err != nil {
		return fmt.Errorf("encode progress %s: %w", p.UserID, err)
	}

	txf := func(tx *redis.Tx) error {
		current, err := currentVersion(ctx, tx, key)
		if err != nil {
			return err
		}
		if current != p.Version {
			return domain.ErrVersionConflict
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, payload, 0)
			pipe.SAdd(ctx, KeyUsers, p.UserID)
			return nil
		})
		return err
	}

	err = s.client.Watch(ctx, txf, key)
	if errors.Is(err, redis.TxFailedErr) {
		return domain.ErrVersionConflict
	}
	if err != nil {
		if errors.Is(err, domain.ErrVersionConflict) {
			return err
		}
		return fmt.Errorf("save progress %s: %w", p.UserID, err)
	}

	p.Version = next.Version
	p.UpdatedAt = next.UpdatedAt
	return nil
}

func currentVersion(ctx context.Context, tx *redis.Tx, key string) (int64, error) {
	raw, err := tx.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	var rec stored
	if err := json.Unmarshal(raw, &rec); err != nil {
		return 0, fmt.Errorf("decode stored version: %w", err)
	}
	return rec.Version, nil
}

// LoadActivityHistory implements domain.ProgressStore.
// Records live in a sorted set scored by unix milliseconds.
func (s *Store) LoadActivityHistory(ctx context.Context, userID string) ([]domain.ActivityRecord, error) {
	members, err := s.client.ZRange(ctx, PrefixActivity+userID, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("load activity %s: %w", userID, err)
	}
	history := make([]domain.ActivityRecord, 0, len(members))
	for _, m := range members {
		var rec activityMember
		if err := json.Unmarshal([]byte(m), &rec); err != nil {
			return nil, fmt.Errorf("decode activity %s: %w", userID, err)
		}
		history = append(history, rec.ActivityRecord)
	}
	return history, nil
}

// activityMember carries a nonce so identical sessions stay distinct set members.
type activityMember struct {
	domain.ActivityRecord
	Nonce string `json:"nonce"`
}

// AppendActivity implements domain.ProgressStore.
func (s *Store) AppendActivity(ctx context.Context, userID string, rec domain.ActivityRecord) error {
	key := PrefixActivity + userID
	seq, err := s.client.Incr(ctx, key+":seq").Result()
	if err != nil {
		return fmt.Errorf("append activity %s: %w", userID, err)
	}
	member, err := json.Marshal(activityMember{ActivityRecord: rec, Nonce: strconv.FormatInt(seq, 10)})
	if err != nil {
		return fmt.Errorf("encode activity: %w", err)
	}
	err = s.client.ZAdd(ctx, key, redis.Z{Score: float64(rec.Date.UnixMilli()), Member: member}).Err()
	if err != nil {
		return fmt.Errorf("append activity %s: %w", userID, err)
	}
	return nil
}

// ListUsers implements domain.ProgressStore.
func (s *Store) ListUsers(ctx context.Context) ([]string, error) {
	users, err := s.client.SMembers(ctx, KeyUsers).Result()
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	return users, nil
}

// AppendEvent implements domain.EventLog. The inbox is a capped list.
func (s *Store) AppendEvent(ctx context.Context, rec domain.EventRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	key := PrefixEvents + rec.UserID
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LPush(ctx, key, data)
		pipe.LTrim(ctx, key, 0, maxEvents-1)
		return nil
	})
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
	items, err := s.client.LRange(ctx, PrefixEvents+userID, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("list events %s: %w", userID, err)
	}
	out := make([]domain.EventRecord, 0, len(items))
	for _, item := range items {
		var rec domain.EventRecord
		if err := json.Unmarshal([]byte(item), &rec); err != nil {
			return nil, fmt.Errorf("decode event: %w", err)
		}
		out = append(out, rec)
	}
	return out, nil
}

// Ping implements domain.ProgressStore.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close implements domain.ProgressStore.
func (s *Store) Close() error {
	return s.client.Close()
}
