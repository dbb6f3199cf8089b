package engagement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/limber-app/limber/internal/domain"
	"github.com/limber-app/limber/pkg/retry"
)

// errNoChange tells Updater.Update that the mutator left the record as it
// was, so no save is needed.
var errNoChange = errors.New("no change")

// Updater owns every read-modify-write of a UserProgress record.
// Each attempt loads the latest record, repairs it, applies the mutator and
// saves with a version check. Version conflicts are retried with backoff.
type Updater struct {
	store      domain.ProgressStore
	rewards    []domain.RewardDef
	retrier    *retry.Retrier
	timeout    time.Duration
	now        func() time.Time
	logger     *slog.Logger
	onConflict func()
}

// UpdaterConfig configures an Updater.
type UpdaterConfig struct {
	Rewards     []domain.RewardDef
	MaxAttempts int
	Timeout     time.Duration
	Now         func() time.Time
	Logger      *slog.Logger
	// OnConflict runs once per version conflict.
	OnConflict func()
}

// NewUpdater creates an Updater over store.
func NewUpdater(store domain.ProgressStore, cfg UpdaterConfig) *Updater {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.OnConflict == nil {
		cfg.OnConflict = func() {}
	}
	isConflict := func(err error) bool { return errors.Is(err, domain.ErrVersionConflict) }
	return &Updater{
		store:      store,
		rewards:    cfg.Rewards,
		retrier:    retry.ConflictRetrier(cfg.MaxAttempts, isConflict),
		timeout:    cfg.Timeout,
		now:        cfg.Now,
		logger:     cfg.Logger.With("component", "updater"),
		onConflict: cfg.OnConflict,
	}
}

func (u *Updater) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if u.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, u.timeout)
}

// Update applies mutate to the latest record and saves it. It returns the
// committed record. A mutator returning errNoChange skips the save; any
// other mutator error aborts the update unchanged.
func (u *Updater) Update(ctx context.Context, userID string, mutate func(p *domain.UserProgress) error) (domain.UserProgress, error) {
	if userID == "" {
		return domain.UserProgress{}, domain.ErrUserIDRequired
	}

	var committed domain.UserProgress
	err := u.retrier.Do(ctx, func(ctx context.Context) error {
		ctx, cancel := u.withTimeout(ctx)
		defer cancel()

		p, err := u.store.Load(ctx, userID)
		if err != nil {
			return retry.Permanent(fmt.Errorf("%w: %w", domain.ErrStoreUnavailable, err))
		}
		p.UserID = userID
		p.EnsureMaps()
		repaired := RepairRewards(u.rewards, &p, u.now())

		err = mutate(&p)
		switch {
		case errors.Is(err, errNoChange):
			if !repaired {
				committed = p
				return nil
			}
		case err != nil:
			return retry.Permanent(err)
		}

		if err := u.store.Save(ctx, &p); err != nil {
			if errors.Is(err, domain.ErrVersionConflict) {
				u.onConflict()
				u.logger.Debug("version conflict, retrying", "user", userID, "version", p.Version)
				return err
			}
			return retry.Permanent(fmt.Errorf("%w: %w", domain.ErrStoreUnavailable, err))
		}
		committed = p
		return nil
	})
	if errors.Is(err, domain.ErrVersionConflict) {
		return domain.UserProgress{}, fmt.Errorf("%w: user %s", domain.ErrTooManyConflicts, userID)
	}
	if err != nil {
		return domain.UserProgress{}, err
	}
	return committed, nil
}

// Read returns the repaired record without saving it. Store failures
// degrade to a default record and are logged.
func (u *Updater) Read(ctx context.Context, userID string) domain.UserProgress {
	ctx, cancel := u.withTimeout(ctx)
	defer cancel()

	p, err := u.store.Load(ctx, userID)
	if err != nil {
		u.logger.Warn("progress unavailable, using defaults", "user", userID, "error", err)
		p = domain.NewUserProgress(userID)
	}
	p.UserID = userID
	p.EnsureMaps()
	RepairRewards(u.rewards, &p, u.now())
	return p
}

// History returns the activity history, or nil when the store fails.
func (u *Updater) History(ctx context.Context, userID string) []domain.ActivityRecord {
	history, err := u.loadHistory(ctx, userID)
	if err != nil {
		u.logger.Warn("activity history unavailable", "user", userID, "error", err)
		return nil
	}
	return history
}

func (u *Updater) loadHistory(ctx context.Context, userID string) ([]domain.ActivityRecord, error) {
	ctx, cancel := u.withTimeout(ctx)
	defer cancel()
	return u.store.LoadActivityHistory(ctx, userID)
}

// Snapshot loads the record and the history concurrently.
func (u *Updater) Snapshot(ctx context.Context, userID string) (domain.UserProgress, []domain.ActivityRecord) {
	var (
		p       domain.UserProgress
		history []domain.ActivityRecord
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		p = u.Read(gctx, userID)
		return nil
	})
	g.Go(func() error {
		history = u.History(gctx, userID)
		return nil
	})
	_ = g.Wait()
	return p, history
}

// AppendActivity writes one history record.
func (u *Updater) AppendActivity(ctx context.Context, userID string, rec domain.ActivityRecord) error {
	ctx, cancel := u.withTimeout(ctx)
	defer cancel()
	if err := u.store.AppendActivity(ctx, userID, rec); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrStoreUnavailable, err)
	}
	return nil
}

// Users lists every stored user.
func (u *Updater) Users(ctx context.Context) ([]string, error) {
	ctx, cancel := u.withTimeout(ctx)
	defer cancel()
	users, err := u.store.ListUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrStoreUnavailable, err)
	}
	return users, nil
}
