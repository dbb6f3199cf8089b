package engagement

import (
	"log/slog"
	"math"

	"github.com/limber-app/limber/internal/domain"
)

// MaxLevel caps the level curve.
const MaxLevel = 50

// XP sources recorded in logs.
const (
	SourceChallengeClaim = "challenge_claim"
)

// LevelResult is the outcome of LevelManager.AddXP. Callers persist it.
type LevelResult struct {
	NewXP     int64 `json:"new_xp"`
	OldLevel  int   `json:"old_level"`
	NewLevel  int   `json:"new_level"`
	LeveledUp bool  `json:"leveled_up"`
}

// LevelManager converts XP into levels. It never touches storage.
type LevelManager struct {
	logger *slog.Logger
}

// NewLevelManager creates a level manager.
func NewLevelManager(logger *slog.Logger) LevelManager {
	if logger == nil {
		logger = slog.Default()
	}
	return LevelManager{logger: logger.With("component", "levels")}
}

// XPForLevel returns the XP required to reach a given level.
// Uses an exponential curve: 100 * 1.2^(level-1) for level >= 2.
func XPForLevel(level int) int64 {
	if level <= 1 {
		return 0
	}
	return int64(100 * math.Pow(1.2, float64(level-1)))
}

// LevelForXP returns the level for a given XP amount.
func LevelForXP(xp int64) int {
	level := 1
	for level < MaxLevel {
		if xp < XPForLevel(level+1) {
			return level
		}
		level++
	}
	return MaxLevel
}

// AddXP returns the XP and level after adding amount to p. Non-positive
// amounts leave both unchanged.
func (l LevelManager) AddXP(p domain.UserProgress, amount int64, source string) LevelResult {
	old := max(p.Statistics.Level, 1)
	res := LevelResult{NewXP: p.Statistics.CurrentXP, OldLevel: old, NewLevel: old}
	if amount <= 0 {
		return res
	}
	res.NewXP += amount
	res.NewLevel = max(LevelForXP(res.NewXP), old)
	res.LeveledUp = res.NewLevel > old
	if l.logger != nil {
		l.logger.Debug("xp added", "user", p.UserID, "amount", amount, "source", source, "level", res.NewLevel)
	}
	return res
}

// Apply writes a LevelResult into p.
func (LevelManager) Apply(p *domain.UserProgress, res LevelResult) {
	p.Statistics.CurrentXP = res.NewXP
	p.Statistics.Level = res.NewLevel
}

// XPToNextLevel returns XP remaining until the next level.
func XPToNextLevel(xp int64) int64 {
	level := LevelForXP(xp)
	if level >= MaxLevel {
		return 0
	}
	return max(XPForLevel(level+1)-xp, 0)
}

// ProgressPct returns progress toward the next level (0.0–100.0).
func ProgressPct(xp int64) float64 {
	level := LevelForXP(xp)
	if level >= MaxLevel {
		return 100.0
	}
	this, next := XPForLevel(level), XPForLevel(level+1)
	span := next - this
	if span <= 0 {
		return 100.0
	}
	pct := float64(xp-this) / float64(span) * 100.0
	return min(max(pct, 0), 100)
}
