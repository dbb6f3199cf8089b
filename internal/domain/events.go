package domain

import (
	"encoding/json"
	"time"
)

// EventType names an engine event on the bus.
type EventType string

const (
	EventStreakBroken       EventType = "streak_broken"
	EventStreakSaved        EventType = "streak_saved"
	EventStreakMaintained   EventType = "streak_maintained"
	EventStreakUpdated      EventType = "streak_updated"
	EventChallengeCompleted EventType = "challenge_completed"
	EventChallengeClaimed   EventType = "challenge_claimed"
	EventLevelUp            EventType = "level_up"
	EventRewardUnlocked     EventType = "reward_unlocked"
)

// Event is the closed set of engine events. The unexported marker keeps
// other packages from adding members, so a type switch over the types
// below is exhaustive.
type Event interface {
	EventType() EventType
	Subject() string // user id
	engineEvent()
}

// StreakBroken is emitted when a live streak is lost or reset by the user.
type StreakBroken struct {
	UserID        string `json:"user_id"`
	CurrentStreak int    `json:"current_streak"`
	UserReset     bool   `json:"user_reset"`
}

// StreakSaved is emitted when a freeze bridges yesterday.
type StreakSaved struct {
	UserID           string `json:"user_id"`
	CurrentStreak    int    `json:"current_streak"`
	FreezesRemaining int    `json:"freezes_remaining"`
}

// StreakMaintained is emitted when a completion extends the streak.
type StreakMaintained struct {
	UserID        string `json:"user_id"`
	CurrentStreak int    `json:"current_streak"`
	Increment     int    `json:"increment"`
}

// StreakUpdated carries no payload; observers re-read the streak.
type StreakUpdated struct {
	UserID string `json:"user_id"`
}

// ChallengeCompleted is emitted once per challenge when it first completes.
type ChallengeCompleted struct {
	UserID    string    `json:"user_id"`
	Challenge Challenge `json:"challenge"`
}

// ChallengeClaimed is emitted after a successful claim.
type ChallengeClaimed struct {
	UserID    string    `json:"user_id"`
	Challenge Challenge `json:"challenge"`
	XPEarned  int64     `json:"xp_earned"`
}

// LevelUp is emitted when XP moves the user to a higher level.
type LevelUp struct {
	UserID   string `json:"user_id"`
	OldLevel int    `json:"old_level"`
	NewLevel int    `json:"new_level"`
}

// RewardUnlocked is emitted when a level-gated reward becomes available.
type RewardUnlocked struct {
	UserID string `json:"user_id"`
	Reward Reward `json:"reward"`
}

func (StreakBroken) EventType() EventType       { return EventStreakBroken }
func (StreakSaved) EventType() EventType        { return EventStreakSaved }
func (StreakMaintained) EventType() EventType   { return EventStreakMaintained }
func (StreakUpdated) EventType() EventType      { return EventStreakUpdated }
func (ChallengeCompleted) EventType() EventType { return EventChallengeCompleted }
func (ChallengeClaimed) EventType() EventType   { return EventChallengeClaimed }
func (LevelUp) EventType() EventType            { return EventLevelUp }
func (RewardUnlocked) EventType() EventType     { return EventRewardUnlocked }

func (e StreakBroken) Subject() string       { return e.UserID }
func (e StreakSaved) Subject() string        { return e.UserID }
func (e StreakMaintained) Subject() string   { return e.UserID }
func (e StreakUpdated) Subject() string      { return e.UserID }
func (e ChallengeCompleted) Subject() string { return e.UserID }
func (e ChallengeClaimed) Subject() string   { return e.UserID }
func (e LevelUp) Subject() string            { return e.UserID }
func (e RewardUnlocked) Subject() string     { return e.UserID }

func (StreakBroken) engineEvent()       {}
func (StreakSaved) engineEvent()        {}
func (StreakMaintained) engineEvent()   {}
func (StreakUpdated) engineEvent()      {}
func (ChallengeCompleted) engineEvent() {}
func (ChallengeClaimed) engineEvent()   {}
func (LevelUp) engineEvent()            {}
func (RewardUnlocked) engineEvent()     {}

// EventRecord is an event as stored in the inbox.
type EventRecord struct {
	ID        string          `json:"id"`
	UserID    string          `json:"user_id"`
	Type      EventType       `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}
