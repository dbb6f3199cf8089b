package domain

import (
	"slices"
	"time"
)

// RewardType distinguishes permanent feature unlocks from spendable credits.
type RewardType string

const (
	RewardAppFeature RewardType = "app_feature"
	RewardConsumable RewardType = "consumable"
)

// FlexSavesID is the consumable spent by streak freezes.
const FlexSavesID = "flex_saves"

// Reward is the per-user record of a catalog reward.
type Reward struct {
	ID            string     `json:"id"`
	Title         string     `json:"title"`
	Description   string     `json:"description,omitempty"`
	LevelRequired int        `json:"level_required"`
	Unlocked      bool       `json:"unlocked"`
	UnlockedAt    *time.Time `json:"unlocked_at,omitempty"`
	Type          RewardType `json:"type"`

	// Consumable accounting. AppliedDates grows by one per use.
	Uses         int       `json:"uses,omitempty"`
	MaxUses      int       `json:"max_uses,omitempty"`
	AppliedDates []string  `json:"applied_dates,omitempty"`
	LastRefill   time.Time `json:"last_refill,omitempty"`
	LastUsed     time.Time `json:"last_used,omitempty"`
}

// IsConsumable reports whether the reward carries spendable uses.
func (r Reward) IsConsumable() bool {
	return r.Type == RewardConsumable
}

// AppliedOn reports whether a credit was spent on the given day.
func (r Reward) AppliedOn(date string) bool {
	return slices.Contains(r.AppliedDates, date)
}

// Clone deep-copies the slice and pointer fields.
func (r Reward) Clone() Reward {
	out := r
	out.AppliedDates = slices.Clone(r.AppliedDates)
	out.UnlockedAt = cloneTime(r.UnlockedAt)
	return out
}

// RewardDef is a read-only reward catalog entry.
type RewardDef struct {
	ID            string     `json:"id" validate:"required"`
	Title         string     `json:"title" validate:"required"`
	Description   string     `json:"description"`
	LevelRequired int        `json:"level_required" validate:"gte=1"`
	Type          RewardType `json:"type" validate:"required,oneof=app_feature consumable"`
	MaxUses       int        `json:"max_uses" validate:"required_if=Type consumable"`
	// Reconcile rewards are re-checked against the level on every read and
	// relocked (with their setting switched off) when the level drops.
	Reconcile bool `json:"reconcile"`
	// LegacyIDs are older catalog ids merged into this one on load.
	LegacyIDs []string `json:"legacy_ids,omitempty"`
}
