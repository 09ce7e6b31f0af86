package service

import (
	"fmt"
	"slices"
	"time"

	"meetdesk/internal/models"
)

const slotLayout = "15:04"

// Calendar is the fixed set of bookable start times in one location.
type Calendar struct {
	slots []string
	loc   *time.Location
}

func NewCalendar(slots []string, loc *time.Location) *Calendar {
	if len(slots) == 0 {
		slots = models.DefaultSlots
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Calendar{slots: slices.Clone(slots), loc: loc}
}

// SlotsForDate returns the ordered slot labels. The date does not change the set.
func (c *Calendar) SlotsForDate(time.Time) []string {
	return slices.Clone(c.slots)
}

func (c *Calendar) Contains(slot string) bool {
	return slices.Contains(c.slots, slot)
}

func (c *Calendar) Location() *time.Location {
	return c.loc
}

// NormalizeDay truncates t to midnight in the calendar location.
func (c *Calendar) NormalizeDay(t time.Time) time.Time {
	t = t.In(c.loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, c.loc)
}

func (c *Calendar) DayKey(t time.Time) string {
	return t.In(c.loc).Format(models.DateLayout)
}

func (c *Calendar) ParseDay(raw string) (time.Time, error) {
	day, err := time.ParseInLocation(models.DateLayout, raw, c.loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidDate, raw)
	}
	return day, nil
}

// StartOf combines a day and a slot label into the meeting start time.
func (c *Calendar) StartOf(day time.Time, slot string) (time.Time, error) {
	if !c.Contains(slot) {
		return time.Time{}, fmt.Errorf("%w: %q", ErrUnknownSlot, slot)
	}
	hm, err := time.Parse(slotLayout, slot)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q", ErrUnknownSlot, slot)
	}
	d := c.NormalizeDay(day)
	return time.Date(d.Year(), d.Month(), d.Day(), hm.Hour(), hm.Minute(), 0, 0, c.loc), nil
}
