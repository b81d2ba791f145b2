package markethours

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func usCalendar(t *testing.T) *Calendar {
	t.Helper()
	cal, err := New(ModeUS)
	require.NoError(t, err)
	return cal
}

// eastern builds an instant in the calendar's own location so the tests do
// not depend on manual UTC offset arithmetic across DST boundaries.
func eastern(cal *Calendar, year int, month time.Month, day, hour, minute int) time.Time {
	return time.Date(year, month, day, hour, minute, 0, 0, cal.loc)
}

func TestNew(t *testing.T) {
	_, err := New(ModeAlways)
	assert.NoError(t, err)

	_, err = New(ModeUS)
	assert.NoError(t, err)

	_, err = New(Mode("sometimes"))
	assert.Error(t, err)
}

func TestAlwaysMode(t *testing.T) {
	cal, err := New(ModeAlways)
	require.NoError(t, err)

	// Sunday, 3am.
	assert.True(t, cal.IsOpen(time.Date(2024, 3, 10, 3, 0, 0, 0, time.UTC)))
	assert.True(t, cal.NextOpen(time.Now()).IsZero())
	assert.True(t, cal.Snapshot(time.Now()).Open)
}

func TestIsOpenSessionBounds(t *testing.T) {
	cal := usCalendar(t)

	// Wednesday 2024-03-06 is a regular trading day.
	assert.False(t, cal.IsOpen(eastern(cal, 2024, 3, 6, 9, 29)))
	assert.True(t, cal.IsOpen(eastern(cal, 2024, 3, 6, 9, 30)))
	assert.True(t, cal.IsOpen(eastern(cal, 2024, 3, 6, 12, 0)))
	assert.True(t, cal.IsOpen(eastern(cal, 2024, 3, 6, 16, 0)))
	assert.False(t, cal.IsOpen(eastern(cal, 2024, 3, 6, 16, 1)))
}

func TestIsOpenTimezoneConversion(t *testing.T) {
	cal := usCalendar(t)

	// Noon eastern expressed as UTC (EST, so UTC-5 in early March).
	assert.True(t, cal.IsOpen(time.Date(2024, 3, 6, 17, 0, 0, 0, time.UTC)))
	// Midnight UTC is evening eastern.
	assert.False(t, cal.IsOpen(time.Date(2024, 3, 6, 0, 0, 0, 0, time.UTC)))
}

func TestIsOpenWeekend(t *testing.T) {
	cal := usCalendar(t)

	assert.False(t, cal.IsOpen(eastern(cal, 2024, 3, 9, 12, 0)), "saturday")
	assert.False(t, cal.IsOpen(eastern(cal, 2024, 3, 10, 12, 0)), "sunday")
}

func TestIsOpenHolidays(t *testing.T) {
	cal := usCalendar(t)

	assert.False(t, cal.IsOpen(eastern(cal, 2025, 1, 1, 12, 0)), "new year's day")
	assert.False(t, cal.IsOpen(eastern(cal, 2024, 7, 4, 12, 0)), "independence day")
	assert.False(t, cal.IsOpen(eastern(cal, 2024, 12, 25, 12, 0)), "christmas")
	assert.False(t, cal.IsOpen(eastern(cal, 2024, 11, 28, 12, 0)), "thanksgiving 2024")
	assert.False(t, cal.IsOpen(eastern(cal, 2023, 11, 23, 12, 0)), "thanksgiving 2023")

	// Other November Thursdays trade normally.
	assert.True(t, cal.IsOpen(eastern(cal, 2024, 11, 21, 12, 0)))
}

func TestNextOpen(t *testing.T) {
	cal := usCalendar(t)

	t.Run("before the bell on a trading day", func(t *testing.T) {
		got := cal.NextOpen(eastern(cal, 2024, 3, 6, 8, 0))
		assert.True(t, got.Equal(eastern(cal, 2024, 3, 6, 9, 30)))
	})

	t.Run("saturday rolls to monday", func(t *testing.T) {
		got := cal.NextOpen(eastern(cal, 2024, 3, 9, 12, 0))
		assert.True(t, got.Equal(eastern(cal, 2024, 3, 11, 9, 30)))
	})

	t.Run("skips a holiday", func(t *testing.T) {
		// After close on Wednesday July 3rd; Thursday the 4th is closed.
		got := cal.NextOpen(eastern(cal, 2024, 7, 3, 17, 0))
		assert.True(t, got.Equal(eastern(cal, 2024, 7, 5, 9, 30)))
	})
}

func TestSnapshot(t *testing.T) {
	cal := usCalendar(t)

	t.Run("open midday", func(t *testing.T) {
		st := cal.Snapshot(eastern(cal, 2024, 3, 6, 12, 0))
		assert.True(t, st.Open)
		assert.False(t, st.Weekend)
		assert.False(t, st.Holiday)
		assert.Equal(t, 4*time.Hour, st.ToClose)
		assert.True(t, st.NextOpen.IsZero())
	})

	t.Run("weekend", func(t *testing.T) {
		st := cal.Snapshot(eastern(cal, 2024, 3, 9, 12, 0))
		assert.False(t, st.Open)
		assert.True(t, st.Weekend)
		assert.False(t, st.NextOpen.IsZero())
	})

	t.Run("holiday", func(t *testing.T) {
		st := cal.Snapshot(eastern(cal, 2024, 7, 4, 12, 0))
		assert.False(t, st.Open)
		assert.True(t, st.Holiday)
	})
}
