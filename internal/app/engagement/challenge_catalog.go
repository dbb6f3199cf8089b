package engagement

import (
	"fmt"
	"time"

	"github.com/limber-app/limber/internal/domain"
)

// Body areas used by area challenges.
const (
	AreaNeck      = "neck"
	AreaShoulders = "shoulders"
	AreaBack      = "back"
	AreaHips      = "hips"
	AreaLegs      = "legs"
	AreaFullBody  = "full_body"
)

// DefaultSpecialDuration is the lifetime of a special challenge.
const DefaultSpecialDuration = 14 * 24 * time.Hour

// DefaultTargets is the pool size per category.
func DefaultTargets() map[domain.ChallengeCategory]int {
	return map[domain.ChallengeCategory]int{
		domain.CategoryDaily:   3,
		domain.CategoryWeekly:  3,
		domain.CategoryMonthly: 2,
		domain.CategorySpecial: 1,
	}
}

// DefaultRedemptionHours is the claim window per category.
func DefaultRedemptionHours() map[domain.ChallengeCategory]int {
	return map[domain.ChallengeCategory]int{
		domain.CategoryDaily:   24,
		domain.CategoryWeekly:  72,
		domain.CategoryMonthly: 168,
		domain.CategorySpecial: 168,
	}
}

// DefaultRecencyWindow is how many recent templates are avoided per category.
func DefaultRecencyWindow() map[domain.ChallengeCategory]int {
	return map[domain.ChallengeCategory]int{
		domain.CategoryDaily:   6,
		domain.CategoryWeekly:  4,
		domain.CategoryMonthly: 3,
	}
}

// DefaultChallengeTemplates returns the built-in template catalog.
func DefaultChallengeTemplates() []domain.ChallengeTemplate {
	const (
		daily   = domain.CategoryDaily
		weekly  = domain.CategoryWeekly
		monthly = domain.CategoryMonthly
		special = domain.CategorySpecial
	)
	return []domain.ChallengeTemplate{
		// Daily
		{ID: "morning_flexibility", Title: "Morning Flexibility", Description: "Complete a routine before noon", Category: daily, Type: domain.ChallengeRoutineCount, Variant: domain.VariantMorning, Requirement: 1, XP: 50},
		{ID: "afternoon_reset", Title: "Afternoon Reset", Description: "Complete a routine between noon and 5pm", Category: daily, Type: domain.ChallengeRoutineCount, Variant: domain.VariantAfternoon, Requirement: 1, XP: 50},
		{ID: "evening_unwind", Title: "Evening Unwind", Description: "Complete a routine after 5pm", Category: daily, Type: domain.ChallengeRoutineCount, Variant: domain.VariantEvening, Requirement: 1, XP: 50},
		{ID: "daily_double_session", Title: "Double Session", Description: "Complete two routines today", Category: daily, Type: domain.ChallengeRoutineCount, Variant: domain.VariantToday, Requirement: 2, XP: 75},
		{ID: "daily_ten_minutes", Title: "Ten Minute Day", Description: "Stretch for 10 minutes today", Category: daily, Type: domain.ChallengeDailyMinutes, Requirement: 10, XP: 60},
		{ID: "daily_area_variety", Title: "Mix It Up", Description: "Stretch two different areas today", Category: daily, Type: domain.ChallengeAreaVariety, Requirement: 2, XP: 75},
		{ID: "daily_neck_relief", Title: "Neck Relief", Description: "Complete a neck routine", Category: daily, Type: domain.ChallengeSpecificArea, Area: AreaNeck, Requirement: 1, XP: 50},
		{ID: "daily_back_care", Title: "Back Care", Description: "Complete a back routine", Category: daily, Type: domain.ChallengeSpecificArea, Area: AreaBack, Requirement: 1, XP: 50},

		// Weekly
		{ID: "weekly_routines", Title: "Weekly Regular", Description: "Complete 5 routines this week", Category: weekly, Type: domain.ChallengeRoutineCount, Requirement: 5, XP: 150},
		{ID: "weekly_minutes", Title: "Hour of Stretch", Description: "Stretch for 60 minutes this week", Category: weekly, Type: domain.ChallengeTotalMinutes, Requirement: 60, XP: 150},
		{ID: "weekly_consistency", Title: "Consistency Counts", Description: "Stretch on 4 different days this week", Category: weekly, Type: domain.ChallengeWeeklyConsistency, Requirement: 4, XP: 200},
		{ID: "weekly_variety", Title: "Full Coverage", Description: "Stretch 4 different areas this week", Category: weekly, Type: domain.ChallengeAreaVariety, Requirement: 4, XP: 175},
		{ID: "weekly_streak", Title: "Five Day Streak", Description: "Reach a 5 day streak", Category: weekly, Type: domain.ChallengeStreak, Requirement: 5, XP: 200},
		{ID: "weekly_hips", Title: "Hip Opener", Description: "Complete 3 hip routines this week", Category: weekly, Type: domain.ChallengeSpecificArea, Area: AreaHips, Requirement: 3, XP: 150},

		// Monthly
		{ID: "monthly_routines", Title: "Monthly Dedication", Description: "Complete 20 routines this month", Category: monthly, Type: domain.ChallengeRoutineCount, Requirement: 20, XP: 500},
		{ID: "monthly_minutes", Title: "Five Hours", Description: "Stretch for 300 minutes this month", Category: monthly, Type: domain.ChallengeTotalMinutes, Requirement: 300, XP: 500},
		{ID: "monthly_streak", Title: "Two Week Streak", Description: "Reach a 14 day streak", Category: monthly, Type: domain.ChallengeStreak, Requirement: 14, XP: 600},
		{ID: "monthly_explorer", Title: "Explorer", Description: "Stretch 6 different areas this month", Category: monthly, Type: domain.ChallengeAreaVariety, Requirement: 6, XP: 400},

		// Special
		{ID: "first_steps", Title: "First Steps", Description: "Complete 10 routines", Category: special, Type: domain.ChallengeRoutineCount, Variant: domain.VariantAllTime, Requirement: 10, XP: 300, Duration: DefaultSpecialDuration},
		{ID: "century", Title: "Century", Description: "Stretch for 100 minutes in total", Category: special, Type: domain.ChallengeTotalMinutes, Variant: domain.VariantAllTime, Requirement: 100, XP: 300, Duration: DefaultSpecialDuration},
		{ID: "streak_30", Title: "Thirty Days", Description: "Reach a 30 day streak", Category: special, Type: domain.ChallengeStreak, Requirement: 30, XP: 1000, Duration: DefaultSpecialDuration},
	}
}

var knownChallengeTypes = map[domain.ChallengeType]bool{
	domain.ChallengeRoutineCount:      true,
	domain.ChallengeTotalMinutes:      true,
	domain.ChallengeDailyMinutes:      true,
	domain.ChallengeStreak:            true,
	domain.ChallengeWeeklyConsistency: true,
	domain.ChallengeAreaVariety:       true,
	domain.ChallengeSpecificArea:      true,
}

// ValidateTemplates checks every template and that ids are unique.
// Unknown types are rejected here; a stored challenge of an unknown type is
// still tolerated at progress time.
func ValidateTemplates(templates []domain.ChallengeTemplate) error {
	seen := make(map[string]bool, len(templates))
	for _, tmpl := range templates {
		if err := validate.Struct(tmpl); err != nil {
			return fmt.Errorf("%w: template %q: %w", domain.ErrInvalidCatalog, tmpl.ID, err)
		}
		if !knownChallengeTypes[tmpl.Type] {
			return fmt.Errorf("%w: template %q: %w %q", domain.ErrInvalidCatalog, tmpl.ID, domain.ErrUnknownChallengeType, tmpl.Type)
		}
		if seen[tmpl.ID] {
			return fmt.Errorf("%w: duplicate template id %q", domain.ErrInvalidCatalog, tmpl.ID)
		}
		seen[tmpl.ID] = true
	}
	return nil
}
