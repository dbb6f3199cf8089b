package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/limber-app/limber/internal/domain"
)

// ─── Event Inbox ────────────────────────────────────────────────────────────

// AppendEvent stores one published event. Re-inserting an id is a no-op.
func (d *DB) AppendEvent(ctx context.Context, rec domain.EventRecord) error {
	_, err := d.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO events (id, user_id, type, payload, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		rec.ID, rec.UserID, string(rec.Type), string(rec.Payload), rec.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	return nil
}

// ListEvents returns the newest events for a user, newest first.
func (d *DB) ListEvents(ctx context.Context, userID string, limit int) ([]domain.EventRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := d.db.QueryContext(ctx,
		`SELECT id, user_id, type, payload, created_at FROM events
		 WHERE user_id = ? ORDER BY created_at DESC, rowid DESC LIMIT ?`,
		userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list events %s: %w", userID, err)
	}
	defer rows.Close()

	var out []domain.EventRecord
	for rows.Next() {
		var (
			rec     domain.EventRecord
			typ     string
			payload string
			ms      int64
		)
		if err := rows.Scan(&rec.ID, &rec.UserID, &typ, &payload, &ms); err != nil {
			return nil, err
		}
		rec.Type = domain.EventType(typ)
		rec.Payload = []byte(payload)
		rec.CreatedAt = time.UnixMilli(ms)
		out = append(out, rec)
	}
	return out, rows.Err()
}
