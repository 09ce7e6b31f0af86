package models

import "time"

// Meeting is a scheduled consultation request.
type Meeting struct {
	ID                 string     `json:"id"`
	UserID             string     `json:"user_id"`
	FullName           string     `json:"full_name"`
	Email              string     `json:"email"`
	Phone              string     `json:"phone"`
	ProjectType        string     `json:"project_type"`
	ProjectDescription string     `json:"project_description"`
	Timeline           string     `json:"timeline"`
	Budget             string     `json:"budget"`
	MeetingDate        time.Time  `json:"meeting_date"`
	MeetingDay         string     `json:"meeting_day"` // DateLayout in the scheduling location
	MeetingTime        string     `json:"meeting_time"`
	Status             string     `json:"status"`
	RescheduleCount    int        `json:"reschedule_count"`
	CancelledAt        *time.Time `json:"cancelled_at,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
	Version            int64      `json:"version"`
}

// IsActive reports whether the meeting occupies its slot.
func (m *Meeting) IsActive() bool {
	return IsActiveStatus(m.Status)
}

// MeetingFilter narrows admin listings. Zero values mean no constraint.
type MeetingFilter struct {
	UserID   string
	Statuses []string
	FromDay  string
	ToDay    string
	Limit    int
	Offset   int
}
