package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errTransient = errors.New("transient")

func fast(p Policy) *Retrier {
	p.Base, p.Max = time.Millisecond, 2*time.Millisecond
	return New(p)
}

func TestDo_SucceedsAfterTransientErrors(t *testing.T) {
	calls := 0
	err := fast(Policy{Attempts: 5}).Do(context.Background(), func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return errTransient
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDo_GivesUpAfterAttempts(t *testing.T) {
	calls := 0
	err := fast(Policy{Attempts: 4}).Do(context.Background(), func(ctx context.Context) error {
		calls++
		return errTransient
	})

	assert.Equal(t, 4, calls)
	assert.Same(t, errTransient, err)
}

func TestDo_RetryIfRejects(t *testing.T) {
	calls := 0
	r := fast(Policy{RetryIf: func(err error) bool { return errors.Is(err, errTransient) }})
	err := r.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return errors.New("fatal")
	})

	assert.Equal(t, 1, calls)
	assert.EqualError(t, err, "fatal")
}

func TestDo_PermanentStopsAndUnwraps(t *testing.T) {
	calls := 0
	err := fast(Policy{}).Do(context.Background(), func(ctx context.Context) error {
		calls++
		return fmt.Errorf("load: %w", Permanent(errTransient))
	})

	assert.Equal(t, 1, calls)
	assert.Same(t, errTransient, err)
	assert.Nil(t, Permanent(nil))
}

func TestDo_OnRetryReportsEachWait(t *testing.T) {
	var retried []int
	calls := 0
	r := fast(Policy{OnRetry: func(attempt int, err error, delay time.Duration) {
		assert.ErrorIs(t, err, errTransient)
		retried = append(retried, attempt)
	}})
	err := r.Do(context.Background(), func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return errTransient
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, retried)
}

func TestDo_StopsWhenContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	err := New(Policy{}).Do(ctx, func(ctx context.Context) error {
		calls++
		return nil
	})
	assert.Equal(t, 0, calls)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDo_CancelDuringWaitReturnsLastError(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	r := New(Policy{Attempts: 3, Base: time.Hour, OnRetry: func(int, error, time.Duration) { cancel() }})

	err := r.Do(ctx, func(ctx context.Context) error { return errTransient })
	assert.Same(t, errTransient, err)
}

func TestBackoff(t *testing.T) {
	r := New(Policy{Base: 10 * time.Millisecond, Max: 50 * time.Millisecond})

	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 10 * time.Millisecond},
		{2, 20 * time.Millisecond},
		{3, 40 * time.Millisecond},
		{4, 50 * time.Millisecond},
		{40, 50 * time.Millisecond},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, r.Backoff(tc.attempt), "attempt %d", tc.attempt)
	}
}

func TestBackoff_JitterStaysInBand(t *testing.T) {
	r := New(Policy{Base: 100 * time.Millisecond, Jitter: 0.5})
	for i := 0; i < 50; i++ {
		d := r.Backoff(1)
		assert.GreaterOrEqual(t, d, 50*time.Millisecond)
		assert.LessOrEqual(t, d, 150*time.Millisecond)
	}
}

func TestNew_Defaults(t *testing.T) {
	r := New(Policy{Base: time.Second, Max: time.Millisecond})
	assert.Equal(t, 3, r.Attempts())
	assert.Equal(t, time.Second, r.Backoff(3))
}

func TestPresets(t *testing.T) {
	assert.Equal(t, 7, ConflictRetrier(7, nil).Attempts())

	var waits []time.Duration
	r := StoreRetrier(func(_ int, _ error, d time.Duration) { waits = append(waits, d) })
	assert.Equal(t, 5, r.Attempts())
	assert.InDelta(t, float64(200*time.Millisecond), float64(r.Backoff(1)), float64(20*time.Millisecond))
	assert.InDelta(t, float64(5*time.Second), float64(r.Backoff(10)), float64(500*time.Millisecond))
	assert.Empty(t, waits)
}
