package eventbus

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/limber-app/limber/internal/domain"
)

type recordingRelay struct {
	mu     sync.Mutex
	events []domain.Event
}

func (r *recordingRelay) Relay(_ context.Context, e domain.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func TestSubscribe_TypedHandlerOnlySeesItsType(t *testing.T) {
	bus := New(Config{})
	defer bus.Close()

	var got []domain.StreakSaved
	_, err := Subscribe(bus, func(_ context.Context, e domain.StreakSaved) error {
		got = append(got, e)
		return nil
	})
	require.NoError(t, err)

	ctx := context.Background()
	bus.Publish(ctx, domain.StreakSaved{UserID: "u1", CurrentStreak: 4, FreezesRemaining: 1})
	bus.Publish(ctx, domain.StreakBroken{UserID: "u1"})

	require.Len(t, got, 1)
	assert.Equal(t, 4, got[0].CurrentStreak)
	assert.Equal(t, 1, got[0].FreezesRemaining)
}

func TestSubscribeAll_AndUnsubscribe(t *testing.T) {
	bus := New(Config{})
	defer bus.Close()

	var count int
	sub, err := bus.SubscribeAll(func(context.Context, domain.Event) error {
		count++
		return nil
	})
	require.NoError(t, err)

	bus.Publish(context.Background(), domain.StreakUpdated{UserID: "u1"})
	bus.Publish(context.Background(), domain.LevelUp{UserID: "u1", OldLevel: 1, NewLevel: 2})
	assert.Equal(t, 2, count)

	assert.True(t, bus.Unsubscribe(sub))
	assert.False(t, bus.Unsubscribe(sub))

	bus.Publish(context.Background(), domain.StreakUpdated{UserID: "u1"})
	assert.Equal(t, 2, count)
}

func TestUnsubscribe_TypedLeavesOthers(t *testing.T) {
	bus := New(Config{})
	defer bus.Close()

	var a, b int
	subA, _ := Subscribe(bus, func(context.Context, domain.StreakUpdated) error { a++; return nil })
	_, _ = Subscribe(bus, func(context.Context, domain.StreakUpdated) error { b++; return nil })

	require.True(t, bus.Unsubscribe(subA))
	bus.Publish(context.Background(), domain.StreakUpdated{UserID: "u1"})

	assert.Equal(t, 0, a)
	assert.Equal(t, 1, b)
}

func TestPublish_FailingHandlerDoesNotBlockOthers(t *testing.T) {
	bus := New(Config{})
	defer bus.Close()

	_, _ = bus.SubscribeAll(func(context.Context, domain.Event) error { return errors.New("boom") })
	_, _ = bus.SubscribeAll(func(context.Context, domain.Event) error { panic("worse") })

	delivered := false
	_, _ = bus.SubscribeAll(func(context.Context, domain.Event) error { delivered = true; return nil })

	bus.Publish(context.Background(), domain.StreakUpdated{UserID: "u1"})
	assert.True(t, delivered)
}

func TestAsyncBus_CloseWaitsForHandlers(t *testing.T) {
	bus := New(Config{Async: true, Workers: 2})

	var n atomic.Int32
	_, _ = bus.SubscribeAll(func(context.Context, domain.Event) error {
		n.Add(1)
		return nil
	})
	for range 10 {
		bus.Publish(context.Background(), domain.StreakUpdated{UserID: "u1"})
	}
	require.NoError(t, bus.Close())
	assert.Equal(t, int32(10), n.Load())

	_, err := bus.SubscribeAll(func(context.Context, domain.Event) error { return nil })
	assert.ErrorIs(t, err, ErrClosed)
}

func TestPublish_ForwardsToRelay(t *testing.T) {
	bus := New(Config{})
	defer bus.Close()
	relay := &recordingRelay{}
	bus.SetRelay(relay)

	bus.Publish(context.Background(), domain.StreakMaintained{UserID: "u1", CurrentStreak: 2, Increment: 1})

	require.Len(t, relay.events, 1)
	assert.Equal(t, domain.EventStreakMaintained, relay.events[0].EventType())

	// Remote deliveries stay local.
	bus.deliver(context.Background(), domain.StreakUpdated{UserID: "u2"})
	assert.Len(t, relay.events, 1)
}

func TestDecode_RoundTripsTypedEvents(t *testing.T) {
	in := domain.ChallengeClaimed{
		UserID:    "u1",
		Challenge: domain.Challenge{ID: "c1", Category: domain.CategoryDaily, XP: 100},
		XPEarned:  50,
	}
	data, err := Encode(in)
	require.NoError(t, err)

	out, err := Decode(domain.EventChallengeClaimed, data)
	require.NoError(t, err)
	assert.Equal(t, in.Challenge.ID, out.(domain.ChallengeClaimed).Challenge.ID)
	assert.Equal(t, int64(50), out.(domain.ChallengeClaimed).XPEarned)

	_, err = Decode("nope", data)
	assert.Error(t, err)
}

func TestRedisRelay_SkipsOwnMessages(t *testing.T) {
	mine := NewRedisRelay(nil, "", nil)
	theirs := NewRedisRelay(nil, "", nil)

	raw, err := mine.marshal(domain.StreakBroken{UserID: "u1", UserReset: true}, mine.now())
	require.NoError(t, err)

	self, err := mine.unmarshal(string(raw))
	require.NoError(t, err)
	assert.Nil(t, self)

	remote, err := theirs.unmarshal(string(raw))
	require.NoError(t, err)
	require.NotNil(t, remote)
	assert.True(t, remote.(domain.StreakBroken).UserReset)
	assert.Equal(t, "u1", remote.Subject())
}
