package service

import (
	"testing"
	"time"

	"meetdesk/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCalendarSlotsForDate(t *testing.T) {
	cal := NewCalendar(nil, nil)
	slots := cal.SlotsForDate(testNow)
	assert.Equal(t, []string{"09:00", "11:00", "14:00", "16:00", "18:00"}, slots)

	// Callers get their own copy.
	slots[0] = "changed"
	assert.Equal(t, "09:00", cal.SlotsForDate(testNow)[0])
	assert.Equal(t, "09:00", models.DefaultSlots[0])
}

func TestCalendarStartOf(t *testing.T) {
	loc, err := time.LoadLocation("Europe/Berlin")
	require.NoError(t, err)
	cal := NewCalendar([]string{"10:00", "15:30"}, loc)

	day, err := cal.ParseDay("2026-03-02")
	require.NoError(t, err)

	start, err := cal.StartOf(day, "15:30")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 2, 15, 30, 0, 0, loc), start)
	assert.Equal(t, "2026-03-02", cal.DayKey(start))

	_, err = cal.StartOf(day, "09:00")
	assert.ErrorIs(t, err, ErrUnknownSlot)

	_, err = cal.ParseDay("02.03.2026")
	assert.ErrorIs(t, err, ErrInvalidDate)
}

func TestCalendarNormalizeDay(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	cal := NewCalendar(nil, loc)

	// 03:00 UTC is still the previous evening in New York.
	utc := time.Date(2026, 3, 3, 3, 0, 0, 0, time.UTC)
	day := cal.NormalizeDay(utc)
	assert.Equal(t, time.Date(2026, 3, 2, 0, 0, 0, 0, loc), day)
	assert.Equal(t, "2026-03-02", cal.DayKey(utc))
}
