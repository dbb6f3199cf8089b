package domain

import "context"

// ─── Service Interfaces ─────────────────────────────────────────────────────
// These interfaces define boundaries between layers.
// Infrastructure implements them; application layer depends on them.

// ProgressStore is the durable home of UserProgress records and the
// append-only activity history. Implemented by infra/sqlite, infra/postgres,
// infra/redisstore and infra/memstore.
type ProgressStore interface {
	// Load returns the stored record, or NewUserProgress(userID) when none exists.
	Load(ctx context.Context, userID string) (UserProgress, error)

	// Save writes the record atomically. The write only succeeds when the
	// stored version still equals p.Version; otherwise ErrVersionConflict.
	// On success p.Version is incremented to the new stored version.
	Save(ctx context.Context, p *UserProgress) error

	// LoadActivityHistory returns every activity record, oldest first.
	LoadActivityHistory(ctx context.Context, userID string) ([]ActivityRecord, error)

	// AppendActivity adds one record to the history.
	AppendActivity(ctx context.Context, userID string, rec ActivityRecord) error

	// ListUsers returns the ids of every user with a stored record.
	ListUsers(ctx context.Context) ([]string, error)

	Ping(ctx context.Context) error
	Close() error
}

// EventPublisher is the write side of the event bus.
type EventPublisher interface {
	Publish(ctx context.Context, e Event)
}

// EventLog persists published events so clients can poll them later.
type EventLog interface {
	AppendEvent(ctx context.Context, rec EventRecord) error
	ListEvents(ctx context.Context, userID string, limit int) ([]EventRecord, error)
}
