package domain

import (
	"slices"
	"time"
)

// ─── Challenge Types ────────────────────────────────────────────────────────

// ChallengeCategory is the recurring cycle a challenge belongs to.
type ChallengeCategory string

const (
	CategoryDaily   ChallengeCategory = "daily"
	CategoryWeekly  ChallengeCategory = "weekly"
	CategoryMonthly ChallengeCategory = "monthly"
	CategorySpecial ChallengeCategory = "special"
)

// Categories lists every category in evaluation order.
var Categories = []ChallengeCategory{CategoryDaily, CategoryWeekly, CategoryMonthly, CategorySpecial}

// ChallengeType selects how progress is measured.
type ChallengeType string

const (
	ChallengeRoutineCount      ChallengeType = "routine_count"
	ChallengeTotalMinutes      ChallengeType = "total_minutes"
	ChallengeDailyMinutes      ChallengeType = "daily_minutes"
	ChallengeStreak            ChallengeType = "streak"
	ChallengeWeeklyConsistency ChallengeType = "weekly_consistency"
	ChallengeAreaVariety       ChallengeType = "area_variety"
	ChallengeSpecificArea      ChallengeType = "specific_area"
)

// ChallengeVariant narrows the activity window of a challenge type.
// It is resolved from the template when the challenge is created.
type ChallengeVariant string

const (
	VariantNone      ChallengeVariant = ""
	VariantMorning   ChallengeVariant = "morning"   // sessions started before 12:00
	VariantAfternoon ChallengeVariant = "afternoon" // 12:00–17:00
	VariantEvening   ChallengeVariant = "evening"   // 17:00 and later
	VariantToday     ChallengeVariant = "today"     // current calendar day only
	VariantAllTime   ChallengeVariant = "all_time"  // whole history, no window
)

// ChallengeStatus is derived, never set by hand. See DeriveStatus.
type ChallengeStatus string

const (
	StatusActive    ChallengeStatus = "ACTIVE"
	StatusCompleted ChallengeStatus = "COMPLETED"
	StatusClaimed   ChallengeStatus = "CLAIMED"
	StatusExpired   ChallengeStatus = "EXPIRED"
)

// ChallengeClaim is one entry of a challenge's claim history.
type ChallengeClaim struct {
	CompletedDate time.Time `json:"completed_date"`
	ClaimedDate   time.Time `json:"claimed_date"`
	XPEarned      int64     `json:"xp_earned"`
}

// Challenge is a per-user instance created from a ChallengeTemplate.
type Challenge struct {
	ID          string            `json:"id"`
	TemplateID  string            `json:"template_id"`
	Title       string            `json:"title"`
	Description string            `json:"description"`
	Category    ChallengeCategory `json:"category"`
	Type        ChallengeType     `json:"type"`
	Variant     ChallengeVariant  `json:"variant,omitempty"`
	Area        string            `json:"area,omitempty"`
	Requirement int               `json:"requirement"`
	Progress    int               `json:"progress"`
	XP          int64             `json:"xp"`

	StartDate time.Time `json:"start_date"`
	EndDate   time.Time `json:"end_date"`

	Completed     bool       `json:"completed"`
	Claimed       bool       `json:"claimed"`
	DateCompleted *time.Time `json:"date_completed,omitempty"`
	ExpiryDate    *time.Time `json:"expiry_date,omitempty"` // end of the claim window
	ClaimedAt     *time.Time `json:"claimed_at,omitempty"`

	Status  ChallengeStatus  `json:"status"`
	History []ChallengeClaim `json:"history,omitempty"`
}

// DeriveStatus is the single source of truth for a challenge's status.
func DeriveStatus(c Challenge, now time.Time) ChallengeStatus {
	switch {
	case c.Claimed:
		return StatusClaimed
	case c.Completed:
		if c.ExpiryDate != nil && now.After(*c.ExpiryDate) {
			return StatusExpired
		}
		return StatusCompleted
	case now.After(c.EndDate):
		return StatusExpired
	default:
		return StatusActive
	}
}

// RefreshStatus recomputes Status from the other fields.
func (c *Challenge) RefreshStatus(now time.Time) {
	c.Status = DeriveStatus(*c, now)
}

// IsFinalized reports whether progress is frozen for this challenge.
func (c Challenge) IsFinalized(now time.Time) bool {
	return c.Completed || c.Claimed || DeriveStatus(c, now) == StatusExpired
}

// AwaitingClaim reports completed-but-unclaimed challenges, whatever the window.
func (c Challenge) AwaitingClaim() bool {
	return c.Completed && !c.Claimed
}

// ClaimableAt reports whether c is completed, unclaimed and still inside
// its claim window at now.
func (c Challenge) ClaimableAt(now time.Time) bool {
	return c.AwaitingClaim() && DeriveStatus(c, now) == StatusCompleted
}

// ProgressPct returns completion percentage (0-100).
func (c Challenge) ProgressPct() float64 {
	if c.Requirement <= 0 {
		return 100.0
	}
	pct := float64(c.Progress) / float64(c.Requirement) * 100.0
	if pct > 100.0 {
		pct = 100.0
	}
	return pct
}

// Clone deep-copies the pointer and slice fields.
func (c Challenge) Clone() Challenge {
	out := c
	out.DateCompleted = cloneTime(c.DateCompleted)
	out.ExpiryDate = cloneTime(c.ExpiryDate)
	out.ClaimedAt = cloneTime(c.ClaimedAt)
	out.History = slices.Clone(c.History)
	return out
}

// ChallengeTemplate is a read-only catalog entry.
type ChallengeTemplate struct {
	ID          string            `json:"id" validate:"required"`
	Title       string            `json:"title" validate:"required"`
	Description string            `json:"description"`
	Category    ChallengeCategory `json:"category" validate:"required,oneof=daily weekly monthly special"`
	Type        ChallengeType     `json:"type" validate:"required"`
	Variant     ChallengeVariant  `json:"variant,omitempty"`
	Area        string            `json:"area,omitempty" validate:"required_if=Type specific_area"`
	Requirement int               `json:"requirement" validate:"gt=0"`
	XP          int64             `json:"xp" validate:"gt=0"`
	// Duration applies to special challenges, which have no calendar cycle.
	Duration time.Duration `json:"duration,omitempty"`
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
