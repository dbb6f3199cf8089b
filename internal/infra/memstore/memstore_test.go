package memstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/limber-app/limber/internal/domain"
)

func TestLoad_DefaultRecord(t *testing.T) {
	s := New()
	p, err := s.Load(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, "u1", p.UserID)
	assert.Zero(t, p.Version)
	assert.Equal(t, 1, p.Statistics.Level)
}

func TestSave_VersionCheck(t *testing.T) {
	s := New()
	ctx := context.Background()

	p := domain.NewUserProgress("u1")
	require.NoError(t, s.Save(ctx, &p))
	assert.Equal(t, int64(1), p.Version)

	stale := p
	stale.Version = 0
	assert.ErrorIs(t, s.Save(ctx, &stale), domain.ErrVersionConflict)

	p.Statistics.TotalRoutines = 2
	require.NoError(t, s.Save(ctx, &p))
	assert.Equal(t, int64(2), p.Version)

	ghost := domain.NewUserProgress("ghost")
	ghost.Version = 3
	assert.ErrorIs(t, s.Save(ctx, &ghost), domain.ErrVersionConflict)
}

func TestLoad_ReturnsIsolatedCopy(t *testing.T) {
	s := New()
	ctx := context.Background()

	p := domain.NewUserProgress("u1")
	p.Rewards["flex_saves"] = domain.Reward{ID: "flex_saves", AppliedDates: []string{"2024-01-01"}}
	require.NoError(t, s.Save(ctx, &p))

	// Mutating the caller's copy after save must not reach the store.
	r := p.Rewards["flex_saves"]
	r.AppliedDates[0] = "1999-01-01"

	got, err := s.Load(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, []string{"2024-01-01"}, got.Rewards["flex_saves"].AppliedDates)
}

func TestActivity_SortedByDate(t *testing.T) {
	s := New()
	ctx := context.Background()
	d2 := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	d1 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, s.AppendActivity(ctx, "u1", domain.ActivityRecord{Date: d2}))
	require.NoError(t, s.AppendActivity(ctx, "u1", domain.ActivityRecord{Date: d1}))

	h, err := s.LoadActivityHistory(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, h, 2)
	assert.True(t, h[0].Date.Equal(d1))
}

func TestEvents_NewestFirstAndDeduplicated(t *testing.T) {
	s := New()
	ctx := context.Background()

	require.NoError(t, s.AppendEvent(ctx, domain.EventRecord{ID: "a", UserID: "u1"}))
	require.NoError(t, s.AppendEvent(ctx, domain.EventRecord{ID: "b", UserID: "u1"}))
	require.NoError(t, s.AppendEvent(ctx, domain.EventRecord{ID: "a", UserID: "u1"}))

	got, err := s.ListEvents(ctx, "u1", 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "b", got[0].ID)
}

func TestSetFailure(t *testing.T) {
	s := New()
	boom := errors.New("down")
	s.SetFailure(boom)

	_, err := s.Load(context.Background(), "u1")
	assert.ErrorIs(t, err, boom)
	assert.ErrorIs(t, s.Ping(context.Background()), boom)

	s.SetFailure(nil)
	assert.NoError(t, s.Ping(context.Background()))
}
