package engagement

import (
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/limber-app/limber/internal/domain"
)

var validate = validator.New()

// Reward ids referenced by feature gating.
const (
	RewardDarkTheme       = "dark_theme"
	RewardCustomReminders = "custom_reminders"
	RewardPremiumRoutines = "premium_routines"
	RewardRoutineBuilder  = "routine_builder"
	RewardProgressInsight = "progress_insights"
	RewardExtendedTimer   = "extended_sessions"
	RewardGuidedBreathing = "guided_breathing"
	RewardMasterBadge     = "master_badge"
)

// FlexSavesMaxUses is the monthly freeze allowance.
const FlexSavesMaxUses = 2

// DefaultRewardCatalog returns the built-in reward catalog, ordered by level.
func DefaultRewardCatalog() []domain.RewardDef {
	return []domain.RewardDef{
		{ID: RewardDarkTheme, Title: "Dark Theme", Description: "Easy on the eyes for evening sessions", LevelRequired: 2, Type: domain.RewardAppFeature, Reconcile: true},
		{ID: RewardCustomReminders, Title: "Custom Reminders", Description: "Pick your own reminder times", LevelRequired: 3, Type: domain.RewardAppFeature},
		{ID: domain.FlexSavesID, Title: "Flex Saves", Description: "Protect your streak when you miss a day", LevelRequired: 4, Type: domain.RewardConsumable, MaxUses: FlexSavesMaxUses, LegacyIDs: []string{"flex_save", "streak_freeze"}},
		{ID: RewardPremiumRoutines, Title: "Premium Routines", Description: "Unlock the advanced routine library", LevelRequired: 5, Type: domain.RewardAppFeature},
		{ID: RewardRoutineBuilder, Title: "Routine Builder", Description: "Build and save your own routines", LevelRequired: 6, Type: domain.RewardAppFeature},
		{ID: RewardProgressInsight, Title: "Progress Insights", Description: "Weekly charts of minutes and areas", LevelRequired: 7, Type: domain.RewardAppFeature},
		{ID: RewardExtendedTimer, Title: "Extended Sessions", Description: "Sessions longer than 30 minutes", LevelRequired: 8, Type: domain.RewardAppFeature},
		{ID: RewardGuidedBreathing, Title: "Guided Breathing", Description: "Breathing cues between stretches", LevelRequired: 9, Type: domain.RewardAppFeature},
		{ID: RewardMasterBadge, Title: "Flexibility Master", Description: "A badge for reaching level 10", LevelRequired: 10, Type: domain.RewardAppFeature},
	}
}

// ValidateRewardCatalog checks every entry and that no id is used twice,
// counting legacy ids.
func ValidateRewardCatalog(defs []domain.RewardDef) error {
	seen := make(map[string]string, len(defs))
	for _, def := range defs {
		if err := validate.Struct(def); err != nil {
			return fmt.Errorf("%w: reward %q: %w", domain.ErrInvalidCatalog, def.ID, err)
		}
		for _, id := range append([]string{def.ID}, def.LegacyIDs...) {
			if owner, dup := seen[id]; dup {
				return fmt.Errorf("%w: reward id %q used by %q and %q", domain.ErrInvalidCatalog, id, owner, def.ID)
			}
			seen[id] = def.ID
		}
	}
	return nil
}

func findRewardDef(defs []domain.RewardDef, id string) (domain.RewardDef, bool) {
	for _, def := range defs {
		if def.ID == id {
			return def, true
		}
	}
	return domain.RewardDef{}, false
}
