package engagement

import (
	"context"
	"log/slog"
	"slices"
	"sort"
	"time"

	"github.com/limber-app/limber/internal/domain"
	"github.com/limber-app/limber/internal/dateutil"
)

// RewardManager owns the reward catalog, level-gated unlocks and
// consumable accounting.
type RewardManager struct {
	catalog []domain.RewardDef
	updater *Updater
	cal     dateutil.Calendar
	now     func() time.Time
	logger  *slog.Logger
}

// NewRewardManager creates a reward manager over catalog.
func NewRewardManager(catalog []domain.RewardDef, updater *Updater, cal dateutil.Calendar, now func() time.Time, logger *slog.Logger) *RewardManager {
	return &RewardManager{
		catalog: catalog,
		updater: updater,
		cal:     cal,
		now:     now,
		logger:  logger.With("component", "rewards"),
	}
}

// Catalog returns the reward definitions.
func (m *RewardManager) Catalog() []domain.RewardDef {
	return m.catalog
}

// ─── Repair ─────────────────────────────────────────────────────────────────

// RepairRewards brings p's rewards in line with the catalog: legacy ids are
// merged into their successor, missing records are created, catalog fields
// are synced, the level is re-derived from XP and reconciled rewards are
// relocked when the level no longer reaches them. Reports whether p changed.
func RepairRewards(catalog []domain.RewardDef, p *domain.UserProgress, now time.Time) bool {
	p.EnsureMaps()
	changed := false

	if lvl := LevelForXP(p.Statistics.CurrentXP); lvl != p.Statistics.Level {
		p.Statistics.Level = lvl
		changed = true
	}
	level := p.Statistics.Level

	for _, def := range catalog {
		for _, legacyID := range def.LegacyIDs {
			legacy, ok := p.Rewards[legacyID]
			if !ok {
				continue
			}
			if current, ok := p.Rewards[def.ID]; ok {
				p.Rewards[def.ID] = mergeRewards(current, legacy)
			} else {
				legacy.ID = def.ID
				p.Rewards[def.ID] = legacy
			}
			delete(p.Rewards, legacyID)
			changed = true
		}

		r, ok := p.Rewards[def.ID]
		if !ok {
			r = domain.Reward{ID: def.ID}
			if level >= def.LevelRequired {
				unlock(&r, def, now)
			}
			changed = true
		}
		if syncRewardDef(&r, def) {
			changed = true
		}
		if !r.Unlocked && level >= def.LevelRequired {
			// Records written before a catalog change can lag behind the level.
			unlock(&r, def, now)
			changed = true
		}
		if def.Reconcile && level < def.LevelRequired {
			if r.Unlocked {
				r.Unlocked = false
				r.UnlockedAt = nil
				changed = true
			}
			if p.Settings[def.ID] {
				p.Settings[def.ID] = false
				changed = true
			}
		}
		p.Rewards[def.ID] = r
	}
	return changed
}

// mergeRewards folds a legacy record into the current one. Uses takes the
// minimum so a duplicate can never mint extra credits.
func mergeRewards(current, legacy domain.Reward) domain.Reward {
	out := current.Clone()
	if legacy.LastUsed.After(out.LastUsed) {
		out.LastUsed = legacy.LastUsed
	}
	if legacy.LastRefill.After(out.LastRefill) {
		out.LastRefill = legacy.LastRefill
	}
	out.Uses = min(current.Uses, legacy.Uses)
	for _, d := range legacy.AppliedDates {
		if !slices.Contains(out.AppliedDates, d) {
			out.AppliedDates = append(out.AppliedDates, d)
		}
	}
	slices.Sort(out.AppliedDates)
	out.Unlocked = current.Unlocked || legacy.Unlocked
	if out.UnlockedAt == nil && legacy.UnlockedAt != nil {
		t := *legacy.UnlockedAt
		out.UnlockedAt = &t
	}
	return out
}

func syncRewardDef(r *domain.Reward, def domain.RewardDef) bool {
	before := *r
	r.Title = def.Title
	r.Description = def.Description
	r.LevelRequired = def.LevelRequired
	r.Type = def.Type
	r.MaxUses = def.MaxUses
	if r.Uses > r.MaxUses {
		r.Uses = r.MaxUses
	}
	if r.Uses < 0 {
		r.Uses = 0
	}
	return before.Title != r.Title || before.Description != r.Description ||
		before.LevelRequired != r.LevelRequired || before.Type != r.Type ||
		before.MaxUses != r.MaxUses || before.Uses != r.Uses
}

func unlock(r *domain.Reward, def domain.RewardDef, now time.Time) {
	r.Unlocked = true
	t := now
	r.UnlockedAt = &t
	if def.Type == domain.RewardConsumable {
		r.Uses = def.MaxUses
		r.LastRefill = now
	}
}

// ─── Unlocks ────────────────────────────────────────────────────────────────

// UnlockAt unlocks every locked reward whose requirement level reaches and
// returns the newly unlocked records.
func (m *RewardManager) UnlockAt(p *domain.UserProgress, level int) []domain.Reward {
	now := m.now()
	var unlocked []domain.Reward
	for _, def := range m.catalog {
		r, ok := p.Rewards[def.ID]
		if !ok {
			r = domain.Reward{ID: def.ID}
			syncRewardDef(&r, def)
		}
		if r.Unlocked || level < def.LevelRequired {
			continue
		}
		unlock(&r, def, now)
		p.Rewards[def.ID] = r
		unlocked = append(unlocked, r.Clone())
	}
	return unlocked
}

// IsUnlocked reports whether the user has unlocked a reward.
func (m *RewardManager) IsUnlocked(ctx context.Context, userID, id string) bool {
	p := m.updater.Read(ctx, userID)
	return p.Rewards[id].Unlocked
}

// List returns the user's rewards ordered by level requirement.
func (m *RewardManager) List(ctx context.Context, userID string) []domain.Reward {
	p := m.updater.Read(ctx, userID)
	out := make([]domain.Reward, 0, len(p.Rewards))
	for _, r := range p.Rewards {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].LevelRequired != out[j].LevelRequired {
			return out[i].LevelRequired < out[j].LevelRequired
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// ─── Consumables ────────────────────────────────────────────────────────────

// consume spends one credit on date. It reports false when none are left.
func consume(r *domain.Reward, date string, now time.Time) bool {
	if !r.IsConsumable() || r.Uses <= 0 {
		return false
	}
	r.Uses--
	r.AppliedDates = append(r.AppliedDates, date)
	r.LastUsed = now
	return true
}

// Use spends one credit of a consumable reward for today.
// Flex saves should be spent through StreakTracker.ApplyFreeze so the
// missed day is covered.
func (m *RewardManager) Use(ctx context.Context, userID, id string) (bool, error) {
	var used bool
	_, err := m.updater.Update(ctx, userID, func(p *domain.UserProgress) error {
		used = false
		r, ok := p.Rewards[id]
		if !ok || !r.Unlocked {
			return errNoChange
		}
		now := m.now()
		if !consume(&r, m.cal.Today(now), now) {
			return errNoChange
		}
		p.Rewards[id] = r
		used = true
		return nil
	})
	if err != nil {
		return false, err
	}
	if used {
		m.logger.Info("reward used", "user", userID, "reward", id)
	}
	return used, nil
}

// refillDue reports whether a consumable may be reset to its maximum.
// Refills happen once per calendar month. A record at zero uses with no
// spend recorded this month is refilled at once.
func (m *RewardManager) refillDue(r domain.Reward, now time.Time) bool {
	if !r.IsConsumable() || !r.Unlocked || r.Uses >= r.MaxUses {
		return false
	}
	if r.LastRefill.IsZero() || !m.cal.IsSameMonth(r.LastRefill, now) {
		return true
	}
	if r.Uses == 0 {
		month := m.cal.In(now).Format("2006-01")
		for _, d := range r.AppliedDates {
			if len(d) >= 7 && d[:7] == month {
				return false
			}
		}
		return true
	}
	return false
}

func (m *RewardManager) refill(r *domain.Reward, now time.Time) {
	r.Uses = r.MaxUses
	r.LastRefill = now
}

// Refill resets a consumable to its maximum when a refill is due.
func (m *RewardManager) Refill(ctx context.Context, userID, id string) (bool, error) {
	var refilled bool
	_, err := m.updater.Update(ctx, userID, func(p *domain.UserProgress) error {
		refilled = false
		r, ok := p.Rewards[id]
		now := m.now()
		if !ok || !m.refillDue(r, now) {
			return errNoChange
		}
		m.refill(&r, now)
		p.Rewards[id] = r
		refilled = true
		return nil
	})
	if err != nil {
		return false, err
	}
	if refilled {
		m.logger.Info("reward refilled", "user", userID, "reward", id)
	}
	return refilled, nil
}

// RefillAll refills every due consumable in p and returns their ids.
func (m *RewardManager) RefillAll(p *domain.UserProgress, now time.Time) []string {
	var ids []string
	for _, def := range m.catalog {
		r, ok := p.Rewards[def.ID]
		if !ok || !m.refillDue(r, now) {
			continue
		}
		m.refill(&r, now)
		p.Rewards[def.ID] = r
		ids = append(ids, def.ID)
	}
	return ids
}

// ─── Settings ───────────────────────────────────────────────────────────────

// SetSetting switches a reward-gated setting. Turning a setting on requires
// the reward to be unlocked.
func (m *RewardManager) SetSetting(ctx context.Context, userID, id string, on bool) (bool, error) {
	if _, ok := findRewardDef(m.catalog, id); !ok {
		return false, domain.ErrRewardNotFound
	}
	var applied bool
	_, err := m.updater.Update(ctx, userID, func(p *domain.UserProgress) error {
		applied = false
		if on && !p.Rewards[id].Unlocked {
			return errNoChange
		}
		if p.Settings[id] == on {
			applied = true
			return errNoChange
		}
		p.Settings[id] = on
		applied = true
		return nil
	})
	return applied, err
}
