package engagement

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/limber-app/limber/internal/dateutil"
	"github.com/limber-app/limber/internal/domain"
)

// StreakCache is the tracker's in-memory view of one user's streak.
type StreakCache struct {
	UserID             string    `json:"user_id"`
	CurrentStreak      int       `json:"current_streak"`
	BestStreak         int       `json:"best_streak"`
	LastCompletionDate string    `json:"last_completion_date,omitempty"`
	ActivityDates      []string  `json:"activity_dates"`
	FrozenDates        []string  `json:"frozen_dates"`
	RefreshedAt        time.Time `json:"refreshed_at"`
}

// CompletionResult is returned by RecordCompletion.
type CompletionResult struct {
	CurrentStreak int  `json:"current_streak"`
	Incremented   bool `json:"incremented"`
}

// FreezeResult is returned by ApplyFreeze.
type FreezeResult struct {
	Success          bool   `json:"success"`
	Message          string `json:"message"`
	CurrentStreak    int    `json:"current_streak"`
	RemainingFreezes int    `json:"remaining_freezes"`
}

// CheckResult is returned by CheckStreak.
type CheckResult struct {
	Broken         bool `json:"broken"`
	PreviousStreak int  `json:"previous_streak"`
	CurrentStreak  int  `json:"current_streak"`
}

// StreakStatus is the read model served to clients.
type StreakStatus struct {
	CurrentStreak      int      `json:"current_streak"`
	BestStreak         int      `json:"best_streak"`
	IsBroken           bool     `json:"is_broken"`
	CanFreeze          bool     `json:"can_freeze"`
	FreezesRemaining   int      `json:"freezes_remaining"`
	LastCompletionDate string   `json:"last_completion_date,omitempty"`
	FrozenDates        []string `json:"frozen_dates"`
}

// StreakTracker maintains the consecutive-day streak.
// A day is covered when it has activity or a freeze. A streak only breaks
// after two uncovered days in a row.
type StreakTracker struct {
	updater   *Updater
	cal       dateutil.Calendar
	now       func() time.Time
	bus       domain.EventPublisher
	logger    *slog.Logger
	tolerance int

	mu    sync.RWMutex
	cache map[string]StreakCache
}

// NewStreakTracker creates a streak tracker. Drift between the stored and
// derived streak larger than tolerance is corrected by Initialize.
func NewStreakTracker(updater *Updater, cal dateutil.Calendar, now func() time.Time, bus domain.EventPublisher, logger *slog.Logger, tolerance int) *StreakTracker {
	return &StreakTracker{
		updater:   updater,
		cal:       cal,
		now:       now,
		bus:       bus,
		logger:    logger.With("component", "streak"),
		tolerance: max(tolerance, 0),
		cache:     make(map[string]StreakCache),
	}
}

// ─── Coverage ───────────────────────────────────────────────────────────────

// coverage is the set of covered days for one user.
type coverage struct {
	activity map[string]bool
	frozen   map[string]bool
}

func (c coverage) covered(date string) bool {
	return c.activity[date] || c.frozen[date]
}

func (c coverage) union() map[string]bool {
	out := make(map[string]bool, len(c.activity)+len(c.frozen))
	for d := range c.activity {
		out[d] = true
	}
	for d := range c.frozen {
		out[d] = true
	}
	return out
}

// coverageOf builds the covered sets from the history, the tracker's own
// date list and the flex save applications. Days on or before a user reset
// no longer count.
func (t *StreakTracker) coverageOf(p domain.UserProgress, history []domain.ActivityRecord) coverage {
	c := coverage{activity: make(map[string]bool), frozen: make(map[string]bool)}
	add := func(set map[string]bool, raw string) {
		d, err := t.cal.Normalize(raw)
		if err != nil {
			t.logger.Warn("skipping malformed date", "user", p.UserID, "date", raw)
			return
		}
		if d > p.StreakResetDate {
			set[d] = true
		}
	}
	for _, rec := range history {
		add(c.activity, t.cal.DateString(rec.Date))
	}
	for _, d := range p.StreakDates {
		add(c.activity, d)
	}
	for _, d := range p.Rewards[domain.FlexSavesID].AppliedDates {
		add(c.frozen, d)
	}
	return c
}

// ComputeStreak returns the length of the run of covered days ending at the
// most recent covered day. A most recent day in the future counts as today.
// The run must end today or yesterday, otherwise the streak is 0.
func ComputeStreak(cal dateutil.Calendar, covered map[string]bool, today string) int {
	latest := ""
	for d, ok := range covered {
		if ok && d > latest {
			latest = d
		}
	}
	if latest == "" {
		return 0
	}
	if latest > today {
		latest = today
	}
	if latest != today && latest != cal.MustAddDays(today, -1) {
		return 0
	}
	n := 1
	for d := cal.MustAddDays(latest, -1); covered[d]; d = cal.MustAddDays(d, -1) {
		n++
	}
	return n
}

func (t *StreakTracker) isBroken(c coverage, today string) bool {
	for i := 0; i <= 2; i++ {
		if c.covered(t.cal.MustAddDays(today, -i)) {
			return false
		}
	}
	return true
}

// ─── Cache ──────────────────────────────────────────────────────────────────

func (t *StreakTracker) remember(p domain.UserProgress, c coverage) StreakCache {
	sc := StreakCache{
		UserID:             p.UserID,
		CurrentStreak:      p.Statistics.CurrentStreak,
		BestStreak:         p.Statistics.BestStreak,
		LastCompletionDate: p.Statistics.LastCompletionDate,
		ActivityDates:      sortedKeys(c.activity),
		FrozenDates:        sortedKeys(c.frozen),
		RefreshedAt:        t.now(),
	}
	t.mu.Lock()
	t.cache[p.UserID] = sc
	t.mu.Unlock()
	return sc
}

// Snapshot returns the cached streak for a user, if Initialize or a write
// has populated it.
func (t *StreakTracker) Snapshot(userID string) (StreakCache, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	sc, ok := t.cache[userID]
	return sc, ok
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k, ok := range m {
		if ok {
			out = append(out, k)
		}
	}
	slices.Sort(out)
	return out
}

// ─── Operations ─────────────────────────────────────────────────────────────

// Initialize derives the streak from stored coverage and corrects the stored
// value when it has drifted. A derived 0 inside the grace window keeps the
// stored streak so a freeze can still save it.
func (t *StreakTracker) Initialize(ctx context.Context, userID string) (StreakCache, error) {
	sc, _, err := t.initialize(ctx, userID)
	return sc, err
}

// derive returns the streak coverage supports and whether the stored value
// must be replaced by it.
func (t *StreakTracker) derive(p domain.UserProgress, c coverage, today string) (int, bool) {
	derived := ComputeStreak(t.cal, c.union(), today)
	if derived == 0 && !t.isBroken(c, today) {
		return derived, false
	}
	return derived, abs(derived-p.Statistics.CurrentStreak) > t.tolerance
}

// initialize is Initialize that also reports whether a correction was saved.
func (t *StreakTracker) initialize(ctx context.Context, userID string) (StreakCache, bool, error) {
	p, history := t.updater.Snapshot(ctx, userID)
	today := t.cal.Today(t.now())
	c := t.coverageOf(p, history)
	if _, drifted := t.derive(p, c, today); !drifted {
		return t.remember(p, c), false, nil
	}

	var stored, derived int
	corrected := false
	committed, err := t.updater.Update(ctx, userID, func(p *domain.UserProgress) error {
		corrected = false
		stored = p.Statistics.CurrentStreak
		var drifted bool
		derived, drifted = t.derive(*p, t.coverageOf(*p, history), today)
		if !drifted {
			return errNoChange
		}
		p.Statistics.CurrentStreak = derived
		p.Statistics.BestStreak = max(p.Statistics.BestStreak, derived)
		corrected = true
		return nil
	})
	if err != nil {
		return StreakCache{}, false, err
	}
	if corrected {
		t.logger.Warn("streak drift corrected", "user", userID, "stored", stored, "derived", derived)
		t.bus.Publish(ctx, domain.StreakUpdated{UserID: userID})
	}
	return t.remember(committed, t.coverageOf(committed, history)), corrected, nil
}

// RecordCompletion counts a completed session on date (today when empty).
// Recording a day that is already covered by activity is a no-op. A past
// date is backfilled and the streak recomputed up to today.
func (t *StreakTracker) RecordCompletion(ctx context.Context, userID, date string) (CompletionResult, error) {
	if date == "" {
		date = t.cal.Today(t.now())
	}
	date, err := t.cal.Normalize(date)
	if err != nil {
		return CompletionResult{}, err
	}
	today := t.cal.Today(t.now())
	if date > today {
		date = today
	}
	yesterday := t.cal.MustAddDays(date, -1)
	history := t.updater.History(ctx, userID)

	var (
		res    CompletionResult
		events []domain.Event
	)
	committed, err := t.updater.Update(ctx, userID, func(p *domain.UserProgress) error {
		res, events = CompletionResult{}, nil
		c := t.coverageOf(*p, history)
		prev := p.Statistics.CurrentStreak
		if c.activity[date] {
			res.CurrentStreak = prev
			return errNoChange
		}

		next := 1
		switch {
		case date < today:
			// A backfilled day is recounted with the rest of the coverage.
			// Inside the grace window the run ending two days ago still
			// counts.
			union := c.union()
			union[date] = true
			next = ComputeStreak(t.cal, union, today)
			if next == 0 && !t.isBroken(coverage{activity: union}, today) {
				next = ComputeStreak(t.cal, union, t.cal.MustAddDays(today, -1))
			}
		case c.covered(yesterday):
			next = prev + 1
		case prev > 0:
			events = append(events, domain.StreakBroken{UserID: userID, CurrentStreak: 1})
		}
		if p.StreakResetDate >= date {
			p.StreakResetDate = yesterday
		}

		s := &p.Statistics
		s.CurrentStreak = next
		s.BestStreak = max(s.BestStreak, next)
		if date > s.LastCompletionDate {
			s.LastCompletionDate = date
		}
		p.AddStreakDate(date)

		res = CompletionResult{CurrentStreak: next, Incremented: next > prev}
		if res.Incremented {
			events = append(events, domain.StreakMaintained{UserID: userID, CurrentStreak: next, Increment: 1})
		}
		events = append(events, domain.StreakUpdated{UserID: userID})
		return nil
	})
	if err != nil {
		return CompletionResult{}, err
	}
	t.remember(committed, t.coverageOf(committed, history))
	for _, e := range events {
		t.bus.Publish(ctx, e)
	}
	if res.Incremented {
		t.logger.Info("streak extended", "user", userID, "date", date, "streak", res.CurrentStreak)
	}
	return res, nil
}

// freezeBlocker returns why a freeze cannot be applied, or "" when it can.
func (t *StreakTracker) freezeBlocker(p domain.UserProgress, c coverage, yesterday string) string {
	saves := p.Rewards[domain.FlexSavesID]
	switch {
	case c.frozen[yesterday]:
		return "Yesterday is already frozen"
	case c.activity[yesterday]:
		return "Yesterday already has activity"
	case !saves.Unlocked || saves.Uses <= 0:
		return "No flex saves remaining"
	case p.Statistics.CurrentStreak <= 0:
		return "No active streak to protect"
	}
	return ""
}

// CanApplyFreeze reports whether a freeze would cover yesterday.
func (t *StreakTracker) CanApplyFreeze(ctx context.Context, userID string) bool {
	p, history := t.updater.Snapshot(ctx, userID)
	yesterday := t.cal.MustAddDays(t.cal.Today(t.now()), -1)
	return t.freezeBlocker(p, t.coverageOf(p, history), yesterday) == ""
}

// ApplyFreeze spends one flex save to cover yesterday and recomputes the
// streak over activity and frozen days. One freeze covers one day.
func (t *StreakTracker) ApplyFreeze(ctx context.Context, userID string) (FreezeResult, error) {
	now := t.now()
	today := t.cal.Today(now)
	yesterday := t.cal.MustAddDays(today, -1)
	history := t.updater.History(ctx, userID)

	var res FreezeResult
	committed, err := t.updater.Update(ctx, userID, func(p *domain.UserProgress) error {
		c := t.coverageOf(*p, history)
		saves := p.Rewards[domain.FlexSavesID]
		if msg := t.freezeBlocker(*p, c, yesterday); msg != "" {
			res = FreezeResult{Message: msg, CurrentStreak: p.Statistics.CurrentStreak, RemainingFreezes: saves.Uses}
			return errNoChange
		}

		consume(&saves, yesterday, now)
		p.Rewards[domain.FlexSavesID] = saves
		c.frozen[yesterday] = true

		streak := ComputeStreak(t.cal, c.union(), today)
		p.Statistics.CurrentStreak = streak
		p.Statistics.BestStreak = max(p.Statistics.BestStreak, streak)
		res = FreezeResult{
			Success:          true,
			Message:          "Streak saved",
			CurrentStreak:    streak,
			RemainingFreezes: saves.Uses,
		}
		return nil
	})
	if err != nil {
		return FreezeResult{}, err
	}
	t.remember(committed, t.coverageOf(committed, history))
	if res.Success {
		t.logger.Info("streak frozen", "user", userID, "date", yesterday, "remaining", res.RemainingFreezes)
		t.bus.Publish(ctx, domain.StreakSaved{UserID: userID, CurrentStreak: res.CurrentStreak, FreezesRemaining: res.RemainingFreezes})
		t.bus.Publish(ctx, domain.StreakUpdated{UserID: userID})
	}
	return res, nil
}

// IsBroken reports whether none of today, yesterday and the day before is
// covered.
func (t *StreakTracker) IsBroken(ctx context.Context, userID string) bool {
	p, history := t.updater.Snapshot(ctx, userID)
	return t.isBroken(t.coverageOf(p, history), t.cal.Today(t.now()))
}

// CheckStreak zeroes a stored streak once the grace window has passed.
func (t *StreakTracker) CheckStreak(ctx context.Context, userID string) (CheckResult, error) {
	today := t.cal.Today(t.now())
	history := t.updater.History(ctx, userID)

	var res CheckResult
	committed, err := t.updater.Update(ctx, userID, func(p *domain.UserProgress) error {
		c := t.coverageOf(*p, history)
		prev := p.Statistics.CurrentStreak
		res = CheckResult{Broken: t.isBroken(c, today), PreviousStreak: prev, CurrentStreak: prev}
		if !res.Broken || prev == 0 {
			return errNoChange
		}
		p.Statistics.CurrentStreak = 0
		res.CurrentStreak = 0
		return nil
	})
	if err != nil {
		return CheckResult{}, err
	}
	t.remember(committed, t.coverageOf(committed, history))
	if res.Broken && res.PreviousStreak > 0 {
		t.logger.Info("streak broken", "user", userID, "previous", res.PreviousStreak)
		t.bus.Publish(ctx, domain.StreakBroken{UserID: userID, CurrentStreak: 0})
		t.bus.Publish(ctx, domain.StreakUpdated{UserID: userID})
	}
	return res, nil
}

// ResetStreak clears the streak at the user's request. Coverage up to and
// including today stops counting.
func (t *StreakTracker) ResetStreak(ctx context.Context, userID string) error {
	today := t.cal.Today(t.now())
	committed, err := t.updater.Update(ctx, userID, func(p *domain.UserProgress) error {
		p.Statistics.CurrentStreak = 0
		p.StreakResetDate = today
		return nil
	})
	if err != nil {
		return err
	}
	t.remember(committed, t.coverageOf(committed, nil))
	t.logger.Info("streak reset by user", "user", userID)
	t.bus.Publish(ctx, domain.StreakBroken{UserID: userID, CurrentStreak: 0, UserReset: true})
	t.bus.Publish(ctx, domain.StreakUpdated{UserID: userID})
	return nil
}

// Status returns the streak read model.
func (t *StreakTracker) Status(ctx context.Context, userID string) StreakStatus {
	p, history := t.updater.Snapshot(ctx, userID)
	today := t.cal.Today(t.now())
	c := t.coverageOf(p, history)
	sc := t.remember(p, c)
	return StreakStatus{
		CurrentStreak:      sc.CurrentStreak,
		BestStreak:         sc.BestStreak,
		IsBroken:           t.isBroken(c, today),
		CanFreeze:          t.freezeBlocker(p, c, t.cal.MustAddDays(today, -1)) == "",
		FreezesRemaining:   p.Rewards[domain.FlexSavesID].Uses,
		LastCompletionDate: sc.LastCompletionDate,
		FrozenDates:        sc.FrozenDates,
	}
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
