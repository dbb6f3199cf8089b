// Package metrics provides Prometheus metrics for Limber.
// Engine events are counted by subscribing to the event bus; the daemon
// records sweeps, store conflicts and health checks directly.
package metrics

import (
	"context"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/limber-app/limber/internal/domain"
	"github.com/limber-app/limber/internal/infra/eventbus"
)

// ─── Sessions ───────────────────────────────────────────────────────────────

// SessionsLogged counts completed stretching sessions.
var SessionsLogged = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "limber",
	Name:      "sessions_logged_total",
	Help:      "Total stretching sessions logged.",
})

// SessionMinutes tracks session duration in minutes.
var SessionMinutes = promauto.NewHistogram(prometheus.HistogramOpts{
	Namespace: "limber",
	Name:      "session_minutes",
	Help:      "Logged session duration in minutes.",
	Buckets:   []float64{1, 3, 5, 10, 15, 20, 30, 45, 60},
})

// ─── Streaks ────────────────────────────────────────────────────────────────

// StreakEvents counts streak transitions by event type.
var StreakEvents = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "limber",
	Name:      "streak_events_total",
	Help:      "Streak events by type.",
}, []string{"type"})

// StreakLength tracks the streak reached by each extension.
var StreakLength = promauto.NewHistogram(prometheus.HistogramOpts{
	Namespace: "limber",
	Name:      "streak_length_days",
	Help:      "Streak length after each extension.",
	Buckets:   []float64{1, 2, 3, 5, 7, 14, 30, 60, 100},
})

// ─── Challenges ─────────────────────────────────────────────────────────────

// ChallengesCompleted counts completions by category.
var ChallengesCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "limber",
	Name:      "challenges_completed_total",
	Help:      "Challenges completed by category.",
}, []string{"category"})

// ChallengesClaimed counts claims by category and whether they were late.
var ChallengesClaimed = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "limber",
	Name:      "challenges_claimed_total",
	Help:      "Challenges claimed by category.",
}, []string{"category", "late"})

// XPAwarded counts XP paid out by claims.
var XPAwarded = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "limber",
	Name:      "xp_awarded_total",
	Help:      "Total XP awarded.",
})

// ─── Levels & Rewards ───────────────────────────────────────────────────────

// LevelUps counts level-ups by the level reached.
var LevelUps = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "limber",
	Name:      "level_ups_total",
	Help:      "Level-ups by new level.",
}, []string{"level"})

// RewardsUnlocked counts unlocks by reward id.
var RewardsUnlocked = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "limber",
	Name:      "rewards_unlocked_total",
	Help:      "Reward unlocks by reward id.",
}, []string{"reward"})

// ─── Store ──────────────────────────────────────────────────────────────────

// VersionConflicts counts optimistic-concurrency conflicts on save.
var VersionConflicts = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "limber",
	Name:      "store_version_conflicts_total",
	Help:      "Progress saves rejected by a version check.",
})

// ─── Sweep ──────────────────────────────────────────────────────────────────

// SweepDuration tracks how long each periodic sweep takes.
var SweepDuration = promauto.NewHistogram(prometheus.HistogramOpts{
	Namespace: "limber",
	Name:      "sweep_duration_seconds",
	Help:      "Duration of the periodic sweep.",
	Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60},
})

// SweepUsers counts users processed by sweeps, by outcome.
var SweepUsers = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "limber",
	Name:      "sweep_users_total",
	Help:      "Users processed by the periodic sweep.",
}, []string{"outcome"})

// ─── Health ─────────────────────────────────────────────────────────────────

// HealthCheckStatus tracks health check results (1=healthy, 0=unhealthy).
var HealthCheckStatus = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: "limber",
	Name:      "health_check_status",
	Help:      "Health check result per component (1=healthy, 0=unhealthy).",
}, []string{"check"})

// ─── Recording ──────────────────────────────────────────────────────────────

// Observe records one engine event.
func Observe(e domain.Event) {
	switch ev := e.(type) {
	case domain.StreakMaintained:
		StreakEvents.WithLabelValues(string(ev.EventType())).Inc()
		StreakLength.Observe(float64(ev.CurrentStreak))
	case domain.StreakBroken, domain.StreakSaved, domain.StreakUpdated:
		StreakEvents.WithLabelValues(string(ev.EventType())).Inc()
	case domain.ChallengeCompleted:
		ChallengesCompleted.WithLabelValues(string(ev.Challenge.Category)).Inc()
	case domain.ChallengeClaimed:
		late := ev.Challenge.ExpiryDate != nil && ev.Challenge.ClaimedAt != nil && ev.Challenge.ClaimedAt.After(*ev.Challenge.ExpiryDate)
		ChallengesClaimed.WithLabelValues(string(ev.Challenge.Category), strconv.FormatBool(late)).Inc()
		XPAwarded.Add(float64(ev.XPEarned))
	case domain.LevelUp:
		LevelUps.WithLabelValues(strconv.Itoa(ev.NewLevel)).Inc()
	case domain.RewardUnlocked:
		RewardsUnlocked.WithLabelValues(ev.Reward.ID).Inc()
	}
}

// Attach subscribes Observe to every event on bus.
func Attach(bus *eventbus.Bus) (eventbus.Subscription, error) {
	return bus.SubscribeAll(func(_ context.Context, e domain.Event) error {
		Observe(e)
		return nil
	})
}

// ObserveSession records one logged session.
func ObserveSession(minutes int) {
	SessionsLogged.Inc()
	SessionMinutes.Observe(float64(minutes))
}

// ObserveConflict records one version conflict.
func ObserveConflict() {
	VersionConflicts.Inc()
}

// ObserveSweep records one sweep.
func ObserveSweep(d time.Duration, users, failed int) {
	SweepDuration.Observe(d.Seconds())
	SweepUsers.WithLabelValues("ok").Add(float64(max(users-failed, 0)))
	SweepUsers.WithLabelValues("failed").Add(float64(failed))
}

// SetHealth records a health check result.
func SetHealth(check string, healthy bool) {
	v := 0.0
	if healthy {
		v = 1
	}
	HealthCheckStatus.WithLabelValues(check).Set(v)
}
