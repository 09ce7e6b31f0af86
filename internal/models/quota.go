package models

import "time"

// CancellationCounter is the per-user calendar month cancellation tally.
type CancellationCounter struct {
	UserID    string    `json:"user_id"`
	Year      int       `json:"year"`
	Month     int       `json:"month"`
	Count     int       `json:"count"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// QuotaView is the derived remaining quota for an actor.
type QuotaView struct {
	Year                   int  `json:"year"`
	Month                  int  `json:"month"`
	CancellationsUsed      int  `json:"cancellations_used"`
	CancellationLimit      int  `json:"cancellation_limit"`
	RemainingCancellations int  `json:"remaining_cancellations"`
	Unlimited              bool `json:"unlimited"`
}

// Remaining returns limit - used clamped at zero.
func Remaining(limit, used int) int {
	if used >= limit {
		return 0
	}
	return limit - used
}
