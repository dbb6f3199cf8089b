// Package domain holds the pure types of the Limber progression engine.
// The engine turns a log of stretching sessions into streaks, challenges,
// levels and reward unlocks. Nothing in this package touches storage.
package domain

import (
	"maps"
	"slices"
	"time"
)

// DefaultUserID is used by the CLI when no --user flag is given.
const DefaultUserID = "local"

// ─── Statistics ─────────────────────────────────────────────────────────────

// Statistics is the aggregate counter block of a user's progress.
type Statistics struct {
	CurrentStreak      int    `json:"current_streak"`
	BestStreak         int    `json:"best_streak"`
	TotalRoutines      int    `json:"total_routines"`
	TotalMinutes       int    `json:"total_minutes"`
	CurrentXP          int64  `json:"current_xp"`
	Level              int    `json:"level"`
	LastCompletionDate string `json:"last_completion_date,omitempty"` // YYYY-MM-DD
}

// ─── User Progress ──────────────────────────────────────────────────────────

// UserProgress is the root aggregate persisted once per user.
// It is only mutated through the streak, challenge and reward managers.
type UserProgress struct {
	UserID     string     `json:"user_id"`
	Version    int64      `json:"version"` // optimistic concurrency stamp
	Statistics Statistics `json:"statistics"`

	Rewards    map[string]Reward    `json:"rewards"`
	Challenges map[string]Challenge `json:"challenges"`

	LastDailyChallengeCheck time.Time `json:"last_daily_challenge_check"`

	// StreakDates are the calendar days recorded by the streak tracker.
	StreakDates []string `json:"streak_dates,omitempty"`
	// StreakResetDate hides coverage on or before this day after a user reset.
	StreakResetDate string `json:"streak_reset_date,omitempty"`

	RecentTemplates       map[ChallengeCategory][]string `json:"recent_templates,omitempty"`
	InitializedCategories map[ChallengeCategory]bool     `json:"initialized_categories,omitempty"`

	// Settings holds reward-gated feature toggles keyed by reward id.
	Settings map[string]bool `json:"settings,omitempty"`

	UpdatedAt time.Time `json:"updated_at"`
}

// NewUserProgress returns the default-initialized record for a user that has
// never been saved. Rewards are filled in by the reward manager on first read.
func NewUserProgress(userID string) UserProgress {
	return UserProgress{
		UserID:                userID,
		Statistics:            Statistics{Level: 1},
		Rewards:               make(map[string]Reward),
		Challenges:            make(map[string]Challenge),
		RecentTemplates:       make(map[ChallengeCategory][]string),
		InitializedCategories: make(map[ChallengeCategory]bool),
		Settings:              make(map[string]bool),
	}
}

// EnsureMaps replaces nil maps left behind by decoding an older record.
func (p *UserProgress) EnsureMaps() {
	if p.Rewards == nil {
		p.Rewards = make(map[string]Reward)
	}
	if p.Challenges == nil {
		p.Challenges = make(map[string]Challenge)
	}
	if p.RecentTemplates == nil {
		p.RecentTemplates = make(map[ChallengeCategory][]string)
	}
	if p.InitializedCategories == nil {
		p.InitializedCategories = make(map[ChallengeCategory]bool)
	}
	if p.Settings == nil {
		p.Settings = make(map[string]bool)
	}
	if p.Statistics.Level < 1 {
		p.Statistics.Level = 1
	}
}

// Clone returns a deep copy so a mutator can never alias the caller's record.
func (p UserProgress) Clone() UserProgress {
	out := p
	out.StreakDates = slices.Clone(p.StreakDates)
	out.Settings = maps.Clone(p.Settings)
	out.InitializedCategories = maps.Clone(p.InitializedCategories)

	out.Rewards = make(map[string]Reward, len(p.Rewards))
	for id, r := range p.Rewards {
		out.Rewards[id] = r.Clone()
	}
	out.Challenges = make(map[string]Challenge, len(p.Challenges))
	for id, c := range p.Challenges {
		out.Challenges[id] = c.Clone()
	}
	out.RecentTemplates = make(map[ChallengeCategory][]string, len(p.RecentTemplates))
	for cat, ids := range p.RecentTemplates {
		out.RecentTemplates[cat] = slices.Clone(ids)
	}
	return out
}

// HasStreakDate reports whether the tracker already counted the given day.
func (p UserProgress) HasStreakDate(date string) bool {
	_, found := slices.BinarySearch(p.StreakDates, date)
	return found
}

// AddStreakDate inserts a day keeping StreakDates sorted and unique.
func (p *UserProgress) AddStreakDate(date string) bool {
	i, found := slices.BinarySearch(p.StreakDates, date)
	if found {
		return false
	}
	p.StreakDates = slices.Insert(p.StreakDates, i, date)
	return true
}

// ─── Activity History ───────────────────────────────────────────────────────

// ActivityRecord is one completed stretching session. History is append-only.
type ActivityRecord struct {
	Date            time.Time `json:"date"`
	DurationMinutes int       `json:"duration_minutes"`
	Area            string    `json:"area"`
}
