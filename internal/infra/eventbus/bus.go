// Package eventbus delivers engine events to in-process subscribers and,
// optionally, relays them to other instances through Redis pub/sub.
package eventbus

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/limber-app/limber/internal/domain"
)

// ErrClosed is returned by Subscribe calls after Close.
var ErrClosed = errors.New("event bus is closed")

// Handler receives every event it is subscribed to.
type Handler func(ctx context.Context, e domain.Event) error

// Subscription identifies one registered handler. Pass it to Unsubscribe.
type Subscription struct {
	ID        string
	EventType domain.EventType // empty for SubscribeAll
}

type entry struct {
	id string
	fn Handler
}

// Relay forwards locally published events elsewhere.
type Relay interface {
	Relay(ctx context.Context, e domain.Event) error
}

// Config configures a Bus.
type Config struct {
	// Async runs handlers on a bounded worker pool instead of inline.
	Async bool
	// Workers bounds concurrent async handlers. Default 8.
	Workers int
	Logger  *slog.Logger
}

// Bus is an in-memory typed publish/subscribe hub.
type Bus struct {
	mu       sync.RWMutex
	handlers map[domain.EventType][]entry
	all      []entry
	relay    Relay

	async   bool
	workers chan struct{}
	logger  *slog.Logger

	closed bool
	wg     sync.WaitGroup
}

// New creates a bus.
func New(cfg Config) *Bus {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 8
	}
	return &Bus{
		handlers: make(map[domain.EventType][]entry),
		async:    cfg.Async,
		workers:  make(chan struct{}, cfg.Workers),
		logger:   cfg.Logger.With("component", "eventbus"),
	}
}

// SetRelay installs a relay that receives every locally published event.
func (b *Bus) SetRelay(r Relay) {
	b.mu.Lock()
	b.relay = r
	b.mu.Unlock()
}

// Subscribe registers fn for events of type E only.
func Subscribe[E domain.Event](b *Bus, fn func(ctx context.Context, e E) error) (Subscription, error) {
	var zero E
	return b.subscribe(zero.EventType(), func(ctx context.Context, e domain.Event) error {
		typed, ok := e.(E)
		if !ok {
			return nil
		}
		return fn(ctx, typed)
	})
}

// SubscribeAll registers fn for every event.
func (b *Bus) SubscribeAll(fn Handler) (Subscription, error) {
	return b.subscribe("", fn)
}

func (b *Bus) subscribe(t domain.EventType, fn Handler) (Subscription, error) {
	if fn == nil {
		return Subscription{}, errors.New("handler cannot be nil")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return Subscription{}, ErrClosed
	}

	e := entry{id: uuid.NewString(), fn: fn}
	if t == "" {
		b.all = append(b.all, e)
	} else {
		b.handlers[t] = append(b.handlers[t], e)
	}
	b.logger.Debug("subscribed handler", "event_type", t, "subscription", e.id)
	return Subscription{ID: e.id, EventType: t}, nil
}

// Unsubscribe removes a handler. It reports whether the handler was found.
func (b *Bus) Unsubscribe(sub Subscription) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	match := func(e entry) bool { return e.id == sub.ID }
	if sub.EventType == "" {
		n := len(b.all)
		b.all = slices.DeleteFunc(b.all, match)
		return len(b.all) != n
	}
	list := b.handlers[sub.EventType]
	n := len(list)
	list = slices.DeleteFunc(list, match)
	if len(list) == 0 {
		delete(b.handlers, sub.EventType)
	} else {
		b.handlers[sub.EventType] = list
	}
	return len(list) != n
}

// Publish delivers e to local subscribers and the relay. Handler failures
// are logged and never reach the publisher.
func (b *Bus) Publish(ctx context.Context, e domain.Event) {
	relay := b.deliver(ctx, e)
	if relay == nil {
		return
	}
	if err := relay.Relay(ctx, e); err != nil {
		b.logger.Warn("relay failed", "event_type", e.EventType(), "error", err)
	}
}

// deliver runs local handlers only. Relayed events from other instances
// enter here so they are not sent back out.
func (b *Bus) deliver(ctx context.Context, e domain.Event) Relay {
	if e == nil {
		return nil
	}

	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		b.logger.Debug("dropping event on closed bus", "event_type", e.EventType())
		return nil
	}
	targets := make([]entry, 0, len(b.handlers[e.EventType()])+len(b.all))
	targets = append(targets, b.handlers[e.EventType()]...)
	targets = append(targets, b.all...)
	relay := b.relay
	if b.async {
		// Added under the read lock so Close cannot start waiting first.
		b.wg.Add(len(targets))
	}
	b.mu.RUnlock()

	for _, t := range targets {
		if b.async {
			b.runAsync(e, t)
			continue
		}
		b.run(ctx, e, t)
	}
	return relay
}

func (b *Bus) run(ctx context.Context, e domain.Event, t entry) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("handler panicked", "event_type", e.EventType(), "subscription", t.id, "panic", r)
		}
	}()
	start := time.Now()
	if err := t.fn(ctx, e); err != nil {
		b.logger.Error("handler error",
			"event_type", e.EventType(),
			"subscription", t.id,
			"duration", time.Since(start),
			"error", err,
		)
	}
}

func (b *Bus) runAsync(e domain.Event, t entry) {
	go func() {
		defer b.wg.Done()
		b.workers <- struct{}{}
		defer func() { <-b.workers }()
		// The publisher's context may already be cancelled when this runs.
		b.run(context.Background(), e, t)
	}()
}

// Close stops accepting events and waits for queued async handlers to finish.
func (b *Bus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	b.wg.Wait()
	b.logger.Info("event bus closed")
	return nil
}
