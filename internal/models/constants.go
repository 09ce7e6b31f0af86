package models

import "time"

const (
	StatusPending   = "pending"
	StatusConfirmed = "confirmed"
	StatusCompleted = "completed"
	StatusCancelled = "cancelled"
)

const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// DateLayout is the day key format used for slot uniqueness and cache keys.
const DateLayout = "2006-01-02"

const (
	// MaxReschedules is the per-meeting reschedule quota for non-admins.
	MaxReschedules = 3

	// MaxMonthlyCancellations is the per-user calendar month cancellation quota.
	MaxMonthlyCancellations = 2

	// DuplicateWindow bounds duplicate submission suppression.
	DuplicateWindow = 120 * time.Second

	// DefaultMaxBookingDays limits how far ahead a meeting can be booked.
	DefaultMaxBookingDays = 90

	// SlotCacheTTL is the default freshness of cached availability.
	SlotCacheTTL = 30 * time.Second

	// DefaultReadTimeout bounds advisory reads.
	DefaultReadTimeout = 5 * time.Second

	// DefaultWriteTimeout bounds authoritative writes including retries.
	DefaultWriteTimeout = 20 * time.Second

	// UnlimitedQuota is reported to admins in place of a remaining count.
	UnlimitedQuota = -1
)

// DefaultSlots is the fixed ordered list of bookable start times.
var DefaultSlots = []string{"09:00", "11:00", "14:00", "16:00", "18:00"}

// ActiveStatuses are the statuses that occupy a slot.
var ActiveStatuses = []string{StatusPending, StatusConfirmed}

// IsActiveStatus reports whether status occupies a slot.
func IsActiveStatus(status string) bool {
	return status == StatusPending || status == StatusConfirmed
}

// IsKnownStatus reports whether status is part of the lifecycle.
func IsKnownStatus(status string) bool {
	switch status {
	case StatusPending, StatusConfirmed, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}
