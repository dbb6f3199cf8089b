// Package engagement implements the Limber progression engine: the streak
// tracker, the challenge pools, XP levels and level-gated rewards.
// Every write goes through Updater, which retries on version conflicts.
package engagement

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/limber-app/limber/internal/dateutil"
	"github.com/limber-app/limber/internal/domain"
)

// Config wires an Engine. Zero values fall back to the defaults.
type Config struct {
	Calendar dateutil.Calendar
	Now      func() time.Time
	Logger   *slog.Logger
	Bus      domain.EventPublisher

	Rewards    []domain.RewardDef
	Challenges ChallengeConfig

	// DriftTolerance is how far the stored streak may differ from the
	// derived one before Initialize corrects it.
	DriftTolerance    int
	MaxUpdateAttempts int
	StoreTimeout      time.Duration
	// SweepConcurrency bounds how many users Sweep processes at once.
	SweepConcurrency int
	OnConflict       func()
}

// Engine composes the managers behind one facade.
type Engine struct {
	Streaks    *StreakTracker
	Challenges *ChallengeEngine
	Rewards    *RewardManager
	Levels     LevelManager

	updater   *Updater
	cal       dateutil.Calendar
	now       func() time.Time
	bus       domain.EventPublisher
	logger    *slog.Logger
	sweepConc int
}

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, domain.Event) {}

// New creates an engine over store. Catalogs are validated up front.
func New(store domain.ProgressStore, cfg Config) (*Engine, error) {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Bus == nil {
		cfg.Bus = nopPublisher{}
	}
	if cfg.Rewards == nil {
		cfg.Rewards = DefaultRewardCatalog()
	}
	if cfg.Challenges.Templates == nil {
		cfg.Challenges.Templates = DefaultChallengeTemplates()
	}
	if cfg.SweepConcurrency <= 0 {
		cfg.SweepConcurrency = 4
	}
	if err := ValidateRewardCatalog(cfg.Rewards); err != nil {
		return nil, err
	}
	if err := ValidateTemplates(cfg.Challenges.Templates); err != nil {
		return nil, err
	}

	updater := NewUpdater(store, UpdaterConfig{
		Rewards:     cfg.Rewards,
		MaxAttempts: cfg.MaxUpdateAttempts,
		Timeout:     cfg.StoreTimeout,
		Now:         cfg.Now,
		Logger:      cfg.Logger,
		OnConflict:  cfg.OnConflict,
	})
	levels := NewLevelManager(cfg.Logger)
	rewards := NewRewardManager(cfg.Rewards, updater, cfg.Calendar, cfg.Now, cfg.Logger)

	return &Engine{
		Streaks:    NewStreakTracker(updater, cfg.Calendar, cfg.Now, cfg.Bus, cfg.Logger, cfg.DriftTolerance),
		Challenges: NewChallengeEngine(updater, rewards, levels, cfg.Calendar, cfg.Now, cfg.Bus, cfg.Logger, cfg.Challenges),
		Rewards:    rewards,
		Levels:     levels,
		updater:    updater,
		cal:        cfg.Calendar,
		now:        cfg.Now,
		bus:        cfg.Bus,
		logger:     cfg.Logger.With("component", "engine"),
		sweepConc:  cfg.SweepConcurrency,
	}, nil
}

// Calendar returns the engine's calendar.
func (e *Engine) Calendar() dateutil.Calendar {
	return e.cal
}

// Initialize prepares a user for a session: the streak is validated and
// the challenge pools are brought up to date.
func (e *Engine) Initialize(ctx context.Context, userID string) (StreakCache, error) {
	sc, err := e.Streaks.Initialize(ctx, userID)
	if err != nil {
		return StreakCache{}, err
	}
	if _, err := e.Challenges.Refresh(ctx, userID); err != nil {
		return StreakCache{}, err
	}
	return sc, nil
}

// ─── Sessions ───────────────────────────────────────────────────────────────

// SessionInput describes one completed stretching session. At wins over
// Date; a bare Date is stamped with the current time of day.
type SessionInput struct {
	At              time.Time `json:"at,omitempty"`
	Date            string    `json:"date,omitempty"`
	DurationMinutes int       `json:"duration_minutes" validate:"gte=0,lte=1440"`
	Area            string    `json:"area" validate:"max=64"`
}

// SessionResult is the outcome of LogSession.
type SessionResult struct {
	Date       string            `json:"date"`
	Streak     CompletionResult  `json:"streak"`
	Challenges RefreshResult     `json:"challenges"`
	Refilled   []string          `json:"refilled,omitempty"`
	Statistics domain.Statistics `json:"statistics"`
}

func (e *Engine) sessionTime(in SessionInput) (time.Time, error) {
	if !in.At.IsZero() {
		return in.At, nil
	}
	now := e.now()
	if in.Date == "" {
		return now, nil
	}
	day, err := e.cal.ParseDate(in.Date)
	if err != nil {
		return time.Time{}, err
	}
	clock := e.cal.In(now)
	return time.Date(day.Year(), day.Month(), day.Day(), clock.Hour(), clock.Minute(), clock.Second(), 0, e.cal.Location()), nil
}

// LogSession records a completed session: the streak is updated, the
// session is appended to the history, then statistics, refills and
// challenges are updated together.
func (e *Engine) LogSession(ctx context.Context, userID string, in SessionInput) (SessionResult, error) {
	if userID == "" {
		return SessionResult{}, domain.ErrUserIDRequired
	}
	if err := validate.Struct(in); err != nil {
		return SessionResult{}, fmt.Errorf("invalid session: %w", err)
	}
	at, err := e.sessionTime(in)
	if err != nil {
		return SessionResult{}, err
	}
	res := SessionResult{Date: e.cal.DateString(at)}

	// The first session a process sees for a user checks the stored streak
	// before building on it.
	if _, cached := e.Streaks.Snapshot(userID); !cached {
		if _, err := e.Streaks.Initialize(ctx, userID); err != nil {
			return SessionResult{}, fmt.Errorf("initialize streak: %w", err)
		}
	}

	res.Streak, err = e.Streaks.RecordCompletion(ctx, userID, res.Date)
	if err != nil {
		return SessionResult{}, fmt.Errorf("record completion: %w", err)
	}
	rec := domain.ActivityRecord{Date: at, DurationMinutes: in.DurationMinutes, Area: in.Area}
	if err := e.updater.AppendActivity(ctx, userID, rec); err != nil {
		return SessionResult{}, fmt.Errorf("append activity: %w", err)
	}

	history, ok := e.Challenges.history(ctx, userID)
	committed, err := e.updater.Update(ctx, userID, func(p *domain.UserProgress) error {
		now := e.now()
		p.Statistics.TotalRoutines++
		p.Statistics.TotalMinutes += in.DurationMinutes
		res.Refilled = e.Rewards.RefillAll(p, now)
		res.Challenges = e.Challenges.refresh(p, history, ok, now)
		return nil
	})
	if err != nil {
		return SessionResult{}, fmt.Errorf("update challenges: %w", err)
	}
	res.Statistics = committed.Statistics

	e.logger.Info("session logged", "user", userID, "date", res.Date, "minutes", in.DurationMinutes, "area", in.Area)
	e.Challenges.publishCompleted(ctx, userID, res.Challenges.Completed)
	return res, nil
}

// ─── Rewards ────────────────────────────────────────────────────────────────

// RewardUseResult is returned by UseReward.
type RewardUseResult struct {
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	Remaining int    `json:"remaining"`
}

// UseReward spends one credit of a consumable. Flex saves are spent as a
// freeze on yesterday.
func (e *Engine) UseReward(ctx context.Context, userID, id string) (RewardUseResult, error) {
	if _, ok := findRewardDef(e.Rewards.Catalog(), id); !ok {
		return RewardUseResult{}, fmt.Errorf("%w: %s", domain.ErrRewardNotFound, id)
	}
	if id == domain.FlexSavesID {
		fr, err := e.Streaks.ApplyFreeze(ctx, userID)
		if err != nil {
			return RewardUseResult{}, err
		}
		return RewardUseResult{Success: fr.Success, Message: fr.Message, Remaining: fr.RemainingFreezes}, nil
	}

	used, err := e.Rewards.Use(ctx, userID, id)
	if err != nil {
		return RewardUseResult{}, err
	}
	res := RewardUseResult{Success: used, Message: "Reward used"}
	if !used {
		res.Message = "Reward is locked or has no uses left"
	}
	res.Remaining = e.updater.Read(ctx, userID).Rewards[id].Uses
	return res, nil
}

// RefillReward refills a consumable when a refill is due.
func (e *Engine) RefillReward(ctx context.Context, userID, id string) (bool, error) {
	if _, ok := findRewardDef(e.Rewards.Catalog(), id); !ok {
		return false, fmt.Errorf("%w: %s", domain.ErrRewardNotFound, id)
	}
	return e.Rewards.Refill(ctx, userID, id)
}

// ─── Read Model ─────────────────────────────────────────────────────────────

// ProgressView is the combined read model of a user.
type ProgressView struct {
	UserID           string             `json:"user_id"`
	Statistics       domain.Statistics  `json:"statistics"`
	XPToNextLevel    int64              `json:"xp_to_next_level"`
	LevelProgressPct float64            `json:"level_progress_pct"`
	Streak           StreakStatus       `json:"streak"`
	Challenges       []domain.Challenge `json:"challenges"`
	Rewards          []domain.Reward    `json:"rewards"`
	Settings         map[string]bool    `json:"settings"`
}

// Progress returns the user's full read model. Store failures degrade to
// defaults.
func (e *Engine) Progress(ctx context.Context, userID string) ProgressView {
	p := e.updater.Read(ctx, userID)
	now := e.now()
	return ProgressView{
		UserID:           userID,
		Statistics:       p.Statistics,
		XPToNextLevel:    XPToNextLevel(p.Statistics.CurrentXP),
		LevelProgressPct: ProgressPct(p.Statistics.CurrentXP),
		Streak:           e.Streaks.Status(ctx, userID),
		Challenges:       e.Challenges.sorted(p, now),
		Rewards:          e.Rewards.List(ctx, userID),
		Settings:         p.Settings,
	}
}

// ─── Sweep ──────────────────────────────────────────────────────────────────

// SweepReport summarizes one Sweep.
type SweepReport struct {
	Users     int `json:"users"`
	Broken    int `json:"broken"`
	Healed    int `json:"healed"`
	Expired   int `json:"expired"`
	Created   int `json:"created"`
	Completed int `json:"completed"`
	Refilled  int `json:"refilled"`
	Failed    int `json:"failed"`
	// FailedUsers lists the users counted in Failed, sorted.
	FailedUsers []string `json:"failed_users,omitempty"`
}

// Sweep runs the periodic pass for every stored user: broken streaks are
// zeroed, drifted streaks corrected, consumables refilled and challenge
// pools refreshed. A failing user is logged and skipped. Every step is
// idempotent, so an interrupted sweep is simply run again.
func (e *Engine) Sweep(ctx context.Context) (SweepReport, error) {
	users, err := e.updater.Users(ctx)
	if err != nil {
		return SweepReport{}, err
	}

	var (
		mu     sync.Mutex
		report = SweepReport{Users: len(users)}
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.sweepConc)
	for _, userID := range users {
		g.Go(func() error {
			if gctx.Err() != nil {
				return gctx.Err()
			}
			part, err := e.SweepUser(gctx, userID)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				e.logger.Warn("sweep failed for user", "user", userID, "error", err)
				report.Failed++
				report.FailedUsers = append(report.FailedUsers, userID)
				return nil
			}
			report.Broken += part.Broken
			report.Healed += part.Healed
			report.Expired += part.Expired
			report.Created += part.Created
			report.Completed += part.Completed
			report.Refilled += part.Refilled
			return nil
		})
	}
	err = g.Wait()
	slices.Sort(report.FailedUsers)
	if err != nil {
		return report, err
	}
	e.logger.Info("sweep finished",
		"users", report.Users,
		"broken", report.Broken,
		"healed", report.Healed,
		"created", report.Created,
		"expired", report.Expired,
		"failed", report.Failed,
	)
	return report, nil
}

// SweepUser runs the periodic pass for one user.
func (e *Engine) SweepUser(ctx context.Context, userID string) (SweepReport, error) {
	var part SweepReport
	check, err := e.Streaks.CheckStreak(ctx, userID)
	if err != nil {
		return part, err
	}
	if check.Broken && check.PreviousStreak > 0 {
		part.Broken = 1
	}
	if _, healed, err := e.Streaks.initialize(ctx, userID); err != nil {
		return part, err
	} else if healed {
		part.Healed = 1
	}

	history, ok := e.Challenges.history(ctx, userID)
	var res RefreshResult
	var refilled []string
	_, err = e.updater.Update(ctx, userID, func(p *domain.UserProgress) error {
		now := e.now()
		refilled = e.Rewards.RefillAll(p, now)
		res = e.Challenges.refresh(p, history, ok, now)
		return nil
	})
	if err != nil {
		return part, err
	}
	e.Challenges.publishCompleted(ctx, userID, res.Completed)
	part.Expired = len(res.Expired)
	part.Created = len(res.Created)
	part.Completed = len(res.Completed)
	part.Refilled = len(refilled)
	return part, nil
}
