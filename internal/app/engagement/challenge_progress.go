package engagement

import (
	"sort"
	"strings"
	"time"

	"github.com/limber-app/limber/internal/domain"
)

// Time-of-day boundaries for routine variants, local hours.
const (
	afternoonStartHour = 12
	eveningStartHour   = 17
)

// inWindow reports whether a session counts toward c.
func (e *ChallengeEngine) inWindow(c domain.Challenge, rec domain.ActivityRecord, now time.Time) bool {
	if rec.Date.After(now) {
		return false
	}
	if c.Variant == domain.VariantAllTime {
		return true
	}
	if rec.Date.Before(c.StartDate) || rec.Date.After(c.EndDate) {
		return false
	}
	hour := e.cal.In(rec.Date).Hour()
	switch c.Variant {
	case domain.VariantMorning:
		return hour < afternoonStartHour
	case domain.VariantAfternoon:
		return hour >= afternoonStartHour && hour < eveningStartHour
	case domain.VariantEvening:
		return hour >= eveningStartHour
	case domain.VariantToday:
		return e.cal.IsSameDay(rec.Date, now)
	}
	return true
}

// measure computes raw progress for c. The bool is false for unknown types.
func (e *ChallengeEngine) measure(p domain.UserProgress, c domain.Challenge, history []domain.ActivityRecord, now time.Time) (int, bool) {
	switch c.Type {
	case domain.ChallengeRoutineCount:
		n := 0
		for _, rec := range history {
			if e.inWindow(c, rec, now) {
				n++
			}
		}
		return n, true

	case domain.ChallengeTotalMinutes:
		total := 0
		for _, rec := range history {
			if e.inWindow(c, rec, now) {
				total += rec.DurationMinutes
			}
		}
		return total, true

	case domain.ChallengeDailyMinutes:
		total := 0
		for _, rec := range history {
			if e.inWindow(c, rec, now) && e.cal.IsSameDay(rec.Date, now) {
				total += rec.DurationMinutes
			}
		}
		return total, true

	case domain.ChallengeStreak:
		return p.Statistics.CurrentStreak, true

	case domain.ChallengeWeeklyConsistency:
		since := e.cal.StartOfWeek(now)
		days := make(map[string]bool)
		for _, rec := range history {
			if !rec.Date.Before(since) && !rec.Date.After(now) {
				days[e.cal.DateString(rec.Date)] = true
			}
		}
		return len(days), true

	case domain.ChallengeAreaVariety:
		areas := make(map[string]bool)
		for _, rec := range history {
			area := strings.ToLower(strings.TrimSpace(rec.Area))
			if area != "" && e.inWindow(c, rec, now) {
				areas[area] = true
			}
		}
		return len(areas), true

	case domain.ChallengeSpecificArea:
		n := 0
		for _, rec := range history {
			if strings.EqualFold(strings.TrimSpace(rec.Area), c.Area) && e.inWindow(c, rec, now) {
				n++
			}
		}
		return n, true
	}
	return 0, false
}

// UpdateProgress recomputes the progress of one challenge from the full
// history. Finalized challenges are returned unchanged. Reaching the
// requirement completes the challenge and opens its claim window.
func (e *ChallengeEngine) UpdateProgress(p domain.UserProgress, c domain.Challenge, history []domain.ActivityRecord, now time.Time) domain.Challenge {
	if c.IsFinalized(now) {
		c.RefreshStatus(now)
		return c
	}
	progress, ok := e.measure(p, c, history, now)
	if !ok {
		e.logger.Warn("unknown challenge type, progress unchanged", "user", p.UserID, "challenge", c.ID, "type", c.Type)
		return c
	}

	c.Progress = min(max(progress, 0), c.Requirement)
	if c.Progress >= c.Requirement {
		completed := now
		expiry := now.Add(time.Duration(e.redemptionHours(c.Category)) * time.Hour)
		c.Completed = true
		c.DateCompleted = &completed
		c.ExpiryDate = &expiry
	}
	c.RefreshStatus(now)
	return c
}

// updateAll runs UpdateProgress over every challenge in p and returns the
// ones completed by this pass.
func (e *ChallengeEngine) updateAll(p *domain.UserProgress, history []domain.ActivityRecord, now time.Time) []domain.Challenge {
	var completed []domain.Challenge
	for _, id := range sortedChallengeIDs(p.Challenges) {
		before := p.Challenges[id]
		after := e.UpdateProgress(*p, before, history, now)
		p.Challenges[id] = after
		if after.Completed && !before.Completed {
			completed = append(completed, after.Clone())
		}
	}
	return completed
}

// ExpireChallenges refreshes every status and returns the ids that have
// just become EXPIRED.
func (e *ChallengeEngine) ExpireChallenges(p *domain.UserProgress, now time.Time) []string {
	var expired []string
	for _, id := range sortedChallengeIDs(p.Challenges) {
		c := p.Challenges[id]
		was := c.Status
		c.RefreshStatus(now)
		p.Challenges[id] = c
		if c.Status == domain.StatusExpired && was != domain.StatusExpired {
			expired = append(expired, id)
		}
	}
	return expired
}

func sortedChallengeIDs(m map[string]domain.Challenge) []string {
	ids := make([]string, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
