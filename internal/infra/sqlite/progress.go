package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/limber-app/limber/internal/domain"
)

// ─── Progress Repository ────────────────────────────────────────────────────

// Load returns the user's progress, or a fresh record when none is stored.
func (d *DB) Load(ctx context.Context, userID string) (domain.UserProgress, error) {
	var (
		version int64
		data    string
	)
	err := d.db.QueryRowContext(ctx,
		`SELECT version, data FROM user_progress WHERE user_id = ?`, userID,
	).Scan(&version, &data)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.NewUserProgress(userID), nil
	}
	if err != nil {
		return domain.UserProgress{}, fmt.Errorf("load progress %s: %w", userID, err)
	}

	var p domain.UserProgress
	if err := json.Unmarshal([]byte(data), &p); err != nil {
		return domain.UserProgress{}, fmt.Errorf("decode progress %s: %w", userID, err)
	}
	p.UserID = userID
	p.Version = version
	p.EnsureMaps()
	return p, nil
}

// Save writes p if the stored version still matches p.Version.
// A zero version means the record must not exist yet.
func (d *DB) Save(ctx context.Context, p *domain.UserProgress) error {
	next := *p
	next.Version = p.Version + 1
	next.UpdatedAt = time.Now().UTC()

	data, err := json.Marshal(next)
	if err != nil {
		return fmt.Errorf("encode progress %s: %w", p.UserID, err)
	}

	var result sql.Result
	if p.Version == 0 {
		result, err = d.db.ExecContext(ctx,
			`INSERT INTO user_progress (user_id, version, data, updated_at)
			 VALUES (?, ?, ?, ?)
			 ON CONFLICT(user_id) DO NOTHING`,
			p.UserID, next.Version, string(data), next.UpdatedAt.Unix(),
		)
	} else {
		result, err = d.db.ExecContext(ctx,
			`UPDATE user_progress SET version = ?, data = ?, updated_at = ?
			 WHERE user_id = ? AND version = ?`,
			next.Version, string(data), next.UpdatedAt.Unix(), p.UserID, p.Version,
		)
	}
	if err != nil {
		return fmt.Errorf("save progress %s: %w", p.UserID, err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return domain.ErrVersionConflict
	}

	p.Version = next.Version
	p.UpdatedAt = next.UpdatedAt
	return nil
}

// ListUsers returns every user id with a stored record.
func (d *DB) ListUsers(ctx context.Context) ([]string, error) {
	rows, err := d.db.QueryContext(ctx, `SELECT user_id FROM user_progress ORDER BY user_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		users = append(users, id)
	}
	return users, rows.Err()
}
