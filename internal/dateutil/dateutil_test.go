package dateutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/limber-app/limber/internal/domain"
)

func TestDateString_UsesCalendarZone(t *testing.T) {
	cal := New(time.FixedZone("UTC+5", 5*60*60))

	// 20:30 UTC is already the next day at UTC+5.
	instant := time.Date(2024, 1, 1, 20, 30, 0, 0, time.UTC)
	assert.Equal(t, "2024-01-02", cal.DateString(instant))
	assert.Equal(t, "2024-01-01", New(time.UTC).DateString(instant))
}

func TestNormalize(t *testing.T) {
	cal := New(time.UTC)

	got, err := cal.Normalize("2024-03-05")
	require.NoError(t, err)
	assert.Equal(t, "2024-03-05", got)

	got, err = cal.Normalize(" 2024-03-05T23:10:00-02:00 ")
	require.NoError(t, err)
	assert.Equal(t, "2024-03-06", got)

	_, err = cal.Normalize("05.03.2024")
	assert.ErrorIs(t, err, domain.ErrInvalidDate)
}

func TestAddDays_CrossesMonthAndYear(t *testing.T) {
	cal := New(time.UTC)

	got, err := cal.AddDays("2024-03-01", -1)
	require.NoError(t, err)
	assert.Equal(t, "2024-02-29", got)

	assert.Equal(t, "2025-01-01", cal.MustAddDays("2024-12-31", 1))

	_, err = cal.AddDays("not-a-date", 1)
	assert.ErrorIs(t, err, domain.ErrInvalidDate)
}

func TestWeekStartsOnSunday(t *testing.T) {
	cal := New(time.UTC)

	// 2024-01-03 is a Wednesday.
	wed := time.Date(2024, 1, 3, 15, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2023, 12, 31, 0, 0, 0, 0, time.UTC), cal.StartOfWeek(wed))
	assert.Equal(t, "2024-01-06", cal.DateString(cal.EndOfWeek(wed)))

	sun := time.Date(2024, 1, 7, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, sun, cal.StartOfWeek(sun))
	assert.False(t, cal.IsSameWeek(wed, sun))
	assert.True(t, cal.IsSameWeek(wed, time.Date(2024, 1, 6, 23, 59, 0, 0, time.UTC)))
}

func TestMonthBounds(t *testing.T) {
	cal := New(time.UTC)
	mid := time.Date(2024, 2, 14, 9, 0, 0, 0, time.UTC)

	assert.Equal(t, time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC), cal.StartOfMonth(mid))
	assert.Equal(t, "2024-02-29", cal.DateString(cal.EndOfMonth(mid)))
	assert.True(t, cal.IsSameMonth(mid, time.Date(2024, 2, 29, 23, 0, 0, 0, time.UTC)))
	assert.False(t, cal.IsSameMonth(mid, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)))
}

func TestDaysBetween(t *testing.T) {
	cal := New(time.UTC)
	a := time.Date(2024, 1, 1, 23, 0, 0, 0, time.UTC)
	b := time.Date(2024, 1, 4, 1, 0, 0, 0, time.UTC)

	assert.Equal(t, 3, cal.DaysBetween(a, b))
	assert.Equal(t, -3, cal.DaysBetween(b, a))
	assert.Equal(t, 0, cal.DaysBetween(a, a))
}

func TestLoad(t *testing.T) {
	cal, err := Load("UTC")
	require.NoError(t, err)
	assert.Equal(t, time.UTC, cal.Location())

	_, err = Load("Nowhere/Invalid")
	assert.Error(t, err)
}
