package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/limber-app/limber/internal/domain"
)

// ─── Activity History ───────────────────────────────────────────────────────

// AppendActivity records one completed session.
func (d *DB) AppendActivity(ctx context.Context, userID string, rec domain.ActivityRecord) error {
	_, err := d.db.ExecContext(ctx,
		`INSERT INTO activity_history (user_id, occurred_at, duration_minutes, area)
		 VALUES (?, ?, ?, ?)`,
		userID, rec.Date.UnixMilli(), rec.DurationMinutes, rec.Area,
	)
	if err != nil {
		return fmt.Errorf("append activity %s: %w", userID, err)
	}
	return nil
}

// LoadActivityHistory returns the user's sessions, oldest first.
func (d *DB) LoadActivityHistory(ctx context.Context, userID string) ([]domain.ActivityRecord, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT occurred_at, duration_minutes, area FROM activity_history
		 WHERE user_id = ? ORDER BY occurred_at, id`, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("load activity %s: %w", userID, err)
	}
	defer rows.Close()

	var history []domain.ActivityRecord
	for rows.Next() {
		rec, err := scanActivity(rows)
		if err != nil {
			return nil, err
		}
		history = append(history, rec)
	}
	return history, rows.Err()
}

func scanActivity(s scanner) (domain.ActivityRecord, error) {
	var (
		rec domain.ActivityRecord
		ms  int64
	)
	if err := s.Scan(&ms, &rec.DurationMinutes, &rec.Area); err != nil {
		return rec, err
	}
	rec.Date = time.UnixMilli(ms)
	return rec, nil
}
