package engagement

import (
	"context"

	"github.com/limber-app/limber/internal/domain"
)

// Older client entry points. Each delegates to the canonical operation.

// UpdateStreak records a completion for today.
//
// Deprecated: use StreakTracker.RecordCompletion.
func (e *Engine) UpdateStreak(ctx context.Context, userID string) (CompletionResult, error) {
	return e.Streaks.RecordCompletion(ctx, userID, "")
}

// UseStreakSave applies a freeze to yesterday.
//
// Deprecated: use StreakTracker.ApplyFreeze.
func (e *Engine) UseStreakSave(ctx context.Context, userID string) (FreezeResult, error) {
	return e.Streaks.ApplyFreeze(ctx, userID)
}

// CheckStreakStatus returns the streak read model.
//
// Deprecated: use StreakTracker.Status.
func (e *Engine) CheckStreakStatus(ctx context.Context, userID string) StreakStatus {
	return e.Streaks.Status(ctx, userID)
}

// GetFlexSaves returns the remaining flex saves.
//
// Deprecated: use RewardManager.List or Engine.Progress.
func (e *Engine) GetFlexSaves(ctx context.Context, userID string) int {
	return e.updater.Read(ctx, userID).Rewards[domain.FlexSavesID].Uses
}

// UpdateChallengeProgress recomputes challenge progress.
//
// Deprecated: use ChallengeEngine.UpdateUserChallenges.
func (e *Engine) UpdateChallengeProgress(ctx context.Context, userID string) ([]domain.Challenge, error) {
	return e.Challenges.UpdateUserChallenges(ctx, userID)
}

// ClaimChallenge claims a completed challenge.
//
// Deprecated: use ChallengeEngine.Claim.
func (e *Engine) ClaimChallenge(ctx context.Context, userID, id string) (ClaimResult, error) {
	return e.Challenges.Claim(ctx, userID, id)
}
