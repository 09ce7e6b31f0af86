package models

import "time"

// Slot is one bookable start time on a day.
type Slot struct {
	Label     string `json:"label"`
	Available bool   `json:"available"`
}

// CachedSlots is an availability snapshot kept by a slot cache.
type CachedSlots struct {
	Day       string        `json:"day"`
	Available []string      `json:"available"`
	FetchedAt time.Time     `json:"fetched_at"`
	TTL       time.Duration `json:"ttl"`
}

// Fresh reports whether the snapshot is still within its ttl at now.
func (c *CachedSlots) Fresh(now time.Time) bool {
	if c == nil || c.TTL <= 0 {
		return false
	}
	return now.Sub(c.FetchedAt) < c.TTL
}
