package engagement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/limber-app/limber/internal/dateutil"
	"github.com/limber-app/limber/internal/domain"
)

// ChallengeConfig is the static challenge catalog and its tuning.
type ChallengeConfig struct {
	Templates       []domain.ChallengeTemplate
	Targets         map[domain.ChallengeCategory]int
	RedemptionHours map[domain.ChallengeCategory]int
	RecencyWindow   map[domain.ChallengeCategory]int
	// Rand drives template selection. Tests pass a seeded source.
	Rand *rand.Rand
}

// ClaimResult is returned by Claim. Failed claims carry a Message and
// leave the record untouched. An unknown ID also returns
// domain.ErrChallengeNotFound.
type ClaimResult struct {
	Success   bool            `json:"success"`
	Message   string          `json:"message"`
	XPEarned  int64           `json:"xp_earned"`
	Late      bool            `json:"late"`
	LeveledUp bool            `json:"leveled_up"`
	NewLevel  int             `json:"new_level"`
	Unlocked  []domain.Reward `json:"unlocked,omitempty"`
}

// RefreshResult summarizes one expire, top-up and progress pass.
type RefreshResult struct {
	Expired   []string           `json:"expired"`
	Created   []domain.Challenge `json:"created"`
	Completed []domain.Challenge `json:"completed"`
}

// ChallengeEngine maintains each user's pool of time-boxed challenges.
type ChallengeEngine struct {
	updater *Updater
	rewards *RewardManager
	levels  LevelManager
	cal     dateutil.Calendar
	now     func() time.Time
	bus     domain.EventPublisher
	logger  *slog.Logger

	templates  []domain.ChallengeTemplate
	targets    map[domain.ChallengeCategory]int
	redemption map[domain.ChallengeCategory]int
	recency    map[domain.ChallengeCategory]int

	rngMu sync.Mutex
	rng   *rand.Rand
}

// NewChallengeEngine creates a challenge engine. Empty catalog fields fall
// back to the defaults.
func NewChallengeEngine(updater *Updater, rewards *RewardManager, levels LevelManager, cal dateutil.Calendar, now func() time.Time, bus domain.EventPublisher, logger *slog.Logger, cfg ChallengeConfig) *ChallengeEngine {
	if cfg.Templates == nil {
		cfg.Templates = DefaultChallengeTemplates()
	}
	if cfg.Targets == nil {
		cfg.Targets = DefaultTargets()
	}
	if cfg.RedemptionHours == nil {
		cfg.RedemptionHours = DefaultRedemptionHours()
	}
	if cfg.RecencyWindow == nil {
		cfg.RecencyWindow = DefaultRecencyWindow()
	}
	if cfg.Rand == nil {
		cfg.Rand = rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), rand.Uint64()))
	}
	return &ChallengeEngine{
		updater:    updater,
		rewards:    rewards,
		levels:     levels,
		cal:        cal,
		now:        now,
		bus:        bus,
		logger:     logger.With("component", "challenges"),
		templates:  cfg.Templates,
		targets:    cfg.Targets,
		redemption: cfg.RedemptionHours,
		recency:    cfg.RecencyWindow,
		rng:        cfg.Rand,
	}
}

func (e *ChallengeEngine) redemptionHours(cat domain.ChallengeCategory) int {
	if h, ok := e.redemption[cat]; ok && h > 0 {
		return h
	}
	return 24
}

// ─── Pool Regeneration ──────────────────────────────────────────────────────

// cycleEnded reports whether cat's period rolled over between last and now.
// Special challenges have no cycle.
func (e *ChallengeEngine) cycleEnded(cat domain.ChallengeCategory, last, now time.Time) bool {
	if cat == domain.CategorySpecial {
		return false
	}
	if last.IsZero() {
		return true
	}
	switch cat {
	case domain.CategoryDaily:
		return !e.cal.IsSameDay(last, now)
	case domain.CategoryWeekly:
		return !e.cal.IsSameWeek(last, now)
	case domain.CategoryMonthly:
		return !e.cal.IsSameMonth(last, now)
	}
	return false
}

// openCount counts challenges still in play: active or awaiting a claim
// inside their window.
func openCount(p domain.UserProgress, cat domain.ChallengeCategory, now time.Time) int {
	n := 0
	for _, c := range p.Challenges {
		if c.Category != cat {
			continue
		}
		if s := domain.DeriveStatus(c, now); s == domain.StatusActive || s == domain.StatusCompleted {
			n++
		}
	}
	return n
}

// ensure tops up every category pool in p. Pools only grow when their
// cycle has ended or on first initialization, so claiming never refills
// a pool mid-cycle. At a boundary only challenges still inside their claim
// window survive.
func (e *ChallengeEngine) ensure(p *domain.UserProgress, now time.Time) []domain.Challenge {
	var created []domain.Challenge
	for _, cat := range domain.Categories {
		first := !p.InitializedCategories[cat]
		ended := e.cycleEnded(cat, p.LastDailyChallengeCheck, now)

		if ended && !first {
			for id, c := range p.Challenges {
				if c.Category == cat && !c.ClaimableAt(now) {
					delete(p.Challenges, id)
				}
			}
		}

		missing := e.targets[cat] - openCount(*p, cat, now)
		if (ended || first) && missing > 0 {
			for _, tmpl := range e.selectTemplates(*p, cat, missing) {
				c := e.newChallenge(tmpl, now)
				p.Challenges[c.ID] = c
				e.rememberTemplate(p, cat, tmpl.ID)
				created = append(created, c.Clone())
			}
		}
		p.InitializedCategories[cat] = true
	}
	p.LastDailyChallengeCheck = now
	return created
}

// selectTemplates picks n templates for cat. Templates used recently or
// already in the pool are avoided until the catalog runs short.
func (e *ChallengeEngine) selectTemplates(p domain.UserProgress, cat domain.ChallengeCategory, n int) []domain.ChallengeTemplate {
	present := make(map[string]bool)
	for _, c := range p.Challenges {
		if c.Category == cat {
			present[c.TemplateID] = true
		}
	}
	recent := p.RecentTemplates[cat]

	var fresh, stale, inPool []domain.ChallengeTemplate
	for _, tmpl := range e.templates {
		if tmpl.Category != cat {
			continue
		}
		switch {
		case present[tmpl.ID]:
			inPool = append(inPool, tmpl)
		case slices.Contains(recent, tmpl.ID):
			stale = append(stale, tmpl)
		default:
			fresh = append(fresh, tmpl)
		}
	}

	e.rngMu.Lock()
	defer e.rngMu.Unlock()
	picked := pickUniqueTemplates(e.rng, fresh, n, nil)
	if len(picked) < n {
		picked = pickUniqueTemplates(e.rng, stale, n, picked)
	}
	if len(picked) < n {
		picked = pickUniqueTemplates(e.rng, inPool, n, picked)
	}
	return picked
}

// pickUniqueTemplates shuffles pool and appends to picked until it holds n
// templates, taking types not yet picked first.
func pickUniqueTemplates(rng *rand.Rand, pool []domain.ChallengeTemplate, n int, picked []domain.ChallengeTemplate) []domain.ChallengeTemplate {
	shuffled := slices.Clone(pool)
	rng.Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})

	seen := make(map[domain.ChallengeType]bool)
	used := make(map[string]bool)
	for _, tmpl := range picked {
		seen[tmpl.Type] = true
		used[tmpl.ID] = true
	}
	for _, tmpl := range shuffled {
		if len(picked) >= n {
			break
		}
		if !seen[tmpl.Type] {
			seen[tmpl.Type] = true
			used[tmpl.ID] = true
			picked = append(picked, tmpl)
		}
	}
	for _, tmpl := range shuffled {
		if len(picked) >= n {
			break
		}
		if !used[tmpl.ID] {
			used[tmpl.ID] = true
			picked = append(picked, tmpl)
		}
	}
	return picked
}

func (e *ChallengeEngine) rememberTemplate(p *domain.UserProgress, cat domain.ChallengeCategory, id string) {
	window := e.recency[cat]
	if window <= 0 {
		return
	}
	recent := append(p.RecentTemplates[cat], id)
	if len(recent) > window {
		recent = recent[len(recent)-window:]
	}
	p.RecentTemplates[cat] = recent
}

// newChallenge instantiates tmpl for the cycle containing now.
func (e *ChallengeEngine) newChallenge(tmpl domain.ChallengeTemplate, now time.Time) domain.Challenge {
	var start, end time.Time
	switch tmpl.Category {
	case domain.CategoryDaily:
		start, end = e.cal.StartOfDay(now), e.cal.EndOfDay(now)
	case domain.CategoryWeekly:
		start, end = e.cal.StartOfWeek(now), e.cal.EndOfWeek(now)
	case domain.CategoryMonthly:
		start, end = e.cal.StartOfMonth(now), e.cal.EndOfMonth(now)
	default:
		d := tmpl.Duration
		if d <= 0 {
			d = DefaultSpecialDuration
		}
		start, end = now, now.Add(d)
	}
	c := domain.Challenge{
		ID:          tmpl.ID + "-" + uuid.NewString()[:8],
		TemplateID:  tmpl.ID,
		Title:       tmpl.Title,
		Description: tmpl.Description,
		Category:    tmpl.Category,
		Type:        tmpl.Type,
		Variant:     tmpl.Variant,
		Area:        tmpl.Area,
		Requirement: tmpl.Requirement,
		XP:          tmpl.XP,
		StartDate:   start,
		EndDate:     end,
	}
	c.RefreshStatus(now)
	return c
}

// ─── Passes ─────────────────────────────────────────────────────────────────

// refresh runs expiry, top-up and, when history is known, progress over p.
func (e *ChallengeEngine) refresh(p *domain.UserProgress, history []domain.ActivityRecord, haveHistory bool, now time.Time) RefreshResult {
	res := RefreshResult{
		Expired: e.ExpireChallenges(p, now),
		Created: e.ensure(p, now),
	}
	if haveHistory {
		res.Completed = e.updateAll(p, history, now)
	}
	return res
}

func (e *ChallengeEngine) history(ctx context.Context, userID string) ([]domain.ActivityRecord, bool) {
	history, err := e.updater.loadHistory(ctx, userID)
	if err != nil {
		e.logger.Warn("activity history unavailable, progress not updated", "user", userID, "error", err)
		return nil, false
	}
	return history, true
}

func (e *ChallengeEngine) publishCompleted(ctx context.Context, userID string, completed []domain.Challenge) {
	for _, c := range completed {
		e.logger.Info("challenge completed", "user", userID, "challenge", c.ID)
		e.bus.Publish(ctx, domain.ChallengeCompleted{UserID: userID, Challenge: c})
	}
}

// Refresh expires stale challenges, tops up the pools and recomputes
// progress in one update.
func (e *ChallengeEngine) Refresh(ctx context.Context, userID string) (RefreshResult, error) {
	history, ok := e.history(ctx, userID)
	var res RefreshResult
	_, err := e.updater.Update(ctx, userID, func(p *domain.UserProgress) error {
		res = e.refresh(p, history, ok, e.now())
		return nil
	})
	if err != nil {
		return RefreshResult{}, err
	}
	if len(res.Created) > 0 {
		e.logger.Info("challenges generated", "user", userID, "count", len(res.Created))
	}
	e.publishCompleted(ctx, userID, res.Completed)
	return res, nil
}

// UpdateUserChallenges expires stale challenges and recomputes progress.
// It returns the challenges completed by this pass.
func (e *ChallengeEngine) UpdateUserChallenges(ctx context.Context, userID string) ([]domain.Challenge, error) {
	history, ok := e.history(ctx, userID)
	if !ok {
		return nil, nil
	}
	var completed []domain.Challenge
	_, err := e.updater.Update(ctx, userID, func(p *domain.UserProgress) error {
		now := e.now()
		e.ExpireChallenges(p, now)
		completed = e.updateAll(p, history, now)
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.publishCompleted(ctx, userID, completed)
	return completed, nil
}

// EnsureChallengeCount expires stale challenges and tops up the pools.
// It returns the created challenges.
func (e *ChallengeEngine) EnsureChallengeCount(ctx context.Context, userID string) ([]domain.Challenge, error) {
	var created []domain.Challenge
	_, err := e.updater.Update(ctx, userID, func(p *domain.UserProgress) error {
		now := e.now()
		e.ExpireChallenges(p, now)
		created = e.ensure(p, now)
		return nil
	})
	return created, err
}

// ─── Claim ──────────────────────────────────────────────────────────────────

// Claim pays out a completed challenge. A claim after the claim window
// still succeeds at half XP, rounded down.
func (e *ChallengeEngine) Claim(ctx context.Context, userID, id string) (ClaimResult, error) {
	var (
		res    ClaimResult
		events []domain.Event
	)
	_, err := e.updater.Update(ctx, userID, func(p *domain.UserProgress) error {
		res, events = ClaimResult{}, nil
		now := e.now()
		c, ok := p.Challenges[id]
		switch {
		case !ok:
			res.Message = "Challenge not found"
			return fmt.Errorf("%w: %s", domain.ErrChallengeNotFound, id)
		case c.Claimed:
			res.Message = "Challenge already claimed"
			return errNoChange
		case !c.Completed:
			res.Message = "Challenge not completed"
			return errNoChange
		}

		xp := c.XP
		late := c.ExpiryDate != nil && now.After(*c.ExpiryDate)
		if late {
			xp /= 2
		}
		completedAt := now
		if c.DateCompleted != nil {
			completedAt = *c.DateCompleted
		}
		claimedAt := now
		c.Claimed = true
		c.ClaimedAt = &claimedAt
		c.History = append(c.History, domain.ChallengeClaim{CompletedDate: completedAt, ClaimedDate: now, XPEarned: xp})
		c.RefreshStatus(now)
		p.Challenges[id] = c

		lr := e.levels.AddXP(*p, xp, SourceChallengeClaim)
		e.levels.Apply(p, lr)
		unlocked := e.rewards.UnlockAt(p, lr.NewLevel)

		res = ClaimResult{
			Success:   true,
			Message:   "Challenge claimed",
			XPEarned:  xp,
			Late:      late,
			LeveledUp: lr.LeveledUp,
			NewLevel:  lr.NewLevel,
			Unlocked:  unlocked,
		}
		events = append(events, domain.ChallengeClaimed{UserID: userID, Challenge: c.Clone(), XPEarned: xp})
		if lr.LeveledUp {
			events = append(events, domain.LevelUp{UserID: userID, OldLevel: lr.OldLevel, NewLevel: lr.NewLevel})
		}
		for _, r := range unlocked {
			events = append(events, domain.RewardUnlocked{UserID: userID, Reward: r})
		}
		return nil
	})
	if errors.Is(err, domain.ErrChallengeNotFound) {
		return res, err
	}
	if err != nil {
		return ClaimResult{}, err
	}
	if res.Success {
		e.logger.Info("challenge claimed", "user", userID, "challenge", id, "xp", res.XPEarned, "late", res.Late)
	}
	for _, ev := range events {
		e.bus.Publish(ctx, ev)
	}
	return res, nil
}

// ─── Reads ──────────────────────────────────────────────────────────────────

var categoryOrder = map[domain.ChallengeCategory]int{
	domain.CategoryDaily:   0,
	domain.CategoryWeekly:  1,
	domain.CategoryMonthly: 2,
	domain.CategorySpecial: 3,
}

// List returns the user's challenges with current statuses, ordered by
// category then end date.
func (e *ChallengeEngine) List(ctx context.Context, userID string) []domain.Challenge {
	return e.sorted(e.updater.Read(ctx, userID), e.now())
}

func (e *ChallengeEngine) sorted(p domain.UserProgress, now time.Time) []domain.Challenge {
	out := make([]domain.Challenge, 0, len(p.Challenges))
	for _, c := range p.Challenges {
		c.RefreshStatus(now)
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Category != b.Category {
			return categoryOrder[a.Category] < categoryOrder[b.Category]
		}
		if !a.EndDate.Equal(b.EndDate) {
			return a.EndDate.Before(b.EndDate)
		}
		return a.ID < b.ID
	})
	return out
}
