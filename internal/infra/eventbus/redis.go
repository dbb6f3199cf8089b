package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/limber-app/limber/internal/domain"
)

// DefaultChannel is the pub/sub channel used when none is configured.
const DefaultChannel = "limber:events"

type envelope struct {
	InstanceID string           `json:"instance_id"`
	Type       domain.EventType `json:"type"`
	UserID     string           `json:"user_id"`
	OccurredAt time.Time        `json:"occurred_at"`
	Payload    json.RawMessage  `json:"payload"`
}

// RedisRelay publishes bus events to a Redis channel and replays events
// published by other instances into the local bus.
type RedisRelay struct {
	client     redis.UniversalClient
	channel    string
	instanceID string
	logger     *slog.Logger
}

// NewRedisRelay creates a relay. An empty channel means DefaultChannel.
func NewRedisRelay(client redis.UniversalClient, channel string, logger *slog.Logger) *RedisRelay {
	if channel == "" {
		channel = DefaultChannel
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisRelay{
		client:     client,
		channel:    channel,
		instanceID: uuid.NewString(),
		logger:     logger.With("component", "eventbus.redis"),
	}
}

// InstanceID identifies this process on the channel.
func (r *RedisRelay) InstanceID() string { return r.instanceID }

// Relay implements Relay.
func (r *RedisRelay) Relay(ctx context.Context, e domain.Event) error {
	data, err := r.marshal(e, r.now())
	if err != nil {
		return err
	}
	if err := r.client.Publish(ctx, r.channel, data).Err(); err != nil {
		return fmt.Errorf("publish to %s: %w", r.channel, err)
	}
	return nil
}

func (r *RedisRelay) now() time.Time { return time.Now().UTC() }

func (r *RedisRelay) marshal(e domain.Event, at time.Time) ([]byte, error) {
	payload, err := Encode(e)
	if err != nil {
		return nil, err
	}
	return json.Marshal(envelope{
		InstanceID: r.instanceID,
		Type:       e.EventType(),
		UserID:     e.Subject(),
		OccurredAt: at,
		Payload:    payload,
	})
}

// unmarshal decodes a channel message. It returns nil for messages this
// instance published itself.
func (r *RedisRelay) unmarshal(raw string) (domain.Event, error) {
	var env envelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		return nil, fmt.Errorf("unmarshal envelope: %w", err)
	}
	if env.InstanceID == r.instanceID {
		return nil, nil
	}
	return Decode(env.Type, env.Payload)
}

// Listen subscribes to the channel and delivers remote events into bus
// until ctx is done.
func (r *RedisRelay) Listen(ctx context.Context, bus *Bus) error {
	sub := r.client.Subscribe(ctx, r.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", r.channel, err)
	}
	r.logger.Info("listening for remote events", "channel", r.channel, "instance", r.instanceID)

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			e, err := r.unmarshal(msg.Payload)
			if err != nil {
				r.logger.Warn("dropping remote event", "error", err)
				continue
			}
			if e != nil {
				bus.deliver(ctx, e)
			}
		}
	}
}
