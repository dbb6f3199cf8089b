package engagement

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/limber-app/limber/internal/domain"
	"github.com/limber-app/limber/internal/infra/eventbus"
)

// DefaultInboxLimit is the page size when none is requested.
const DefaultInboxLimit = 50

// Inbox keeps a per-user log of engine events for clients that poll.
// Events are stored as they were published; nothing is filtered.
type Inbox struct {
	log    domain.EventLog
	now    func() time.Time
	logger *slog.Logger
	sub    eventbus.Subscription
}

// NewInbox creates an inbox over log.
func NewInbox(log domain.EventLog, now func() time.Time, logger *slog.Logger) *Inbox {
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Inbox{log: log, now: now, logger: logger.With("component", "inbox")}
}

// Attach subscribes the inbox to every event on bus.
func (in *Inbox) Attach(bus *eventbus.Bus) error {
	sub, err := bus.SubscribeAll(in.Handle)
	if err != nil {
		return fmt.Errorf("attach inbox: %w", err)
	}
	in.sub = sub
	return nil
}

// Detach removes the inbox subscription.
func (in *Inbox) Detach(bus *eventbus.Bus) {
	bus.Unsubscribe(in.sub)
}

// Handle stores one event.
func (in *Inbox) Handle(ctx context.Context, e domain.Event) error {
	payload, err := eventbus.Encode(e)
	if err != nil {
		return err
	}
	rec := domain.EventRecord{
		ID:        uuid.NewString(),
		UserID:    e.Subject(),
		Type:      e.EventType(),
		Payload:   payload,
		CreatedAt: in.now(),
	}
	if err := in.log.AppendEvent(ctx, rec); err != nil {
		return fmt.Errorf("store %s event: %w", rec.Type, err)
	}
	return nil
}

// Recent returns a user's newest events first.
func (in *Inbox) Recent(ctx context.Context, userID string, limit int) ([]domain.EventRecord, error) {
	if limit <= 0 {
		limit = DefaultInboxLimit
	}
	events, err := in.log.ListEvents(ctx, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrStoreUnavailable, err)
	}
	return events, nil
}
