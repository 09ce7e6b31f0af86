package events

import (
	"encoding/json"
	"sync"
	"time"

	"meetdesk/internal/models"

	"github.com/rs/zerolog"
)

const (
	EventMeetingCreated     = "meeting_created"
	EventMeetingConfirmed   = "meeting_confirmed"
	EventMeetingCancelled   = "meeting_cancelled"
	EventMeetingCompleted   = "meeting_completed"
	EventMeetingReopened    = "meeting_reopened"
	EventMeetingRescheduled = "meeting_rescheduled"
)

// MeetingEvents lists every meeting event type.
var MeetingEvents = []string{
	EventMeetingCreated,
	EventMeetingConfirmed,
	EventMeetingCancelled,
	EventMeetingCompleted,
	EventMeetingReopened,
	EventMeetingRescheduled,
}

// MeetingEventPayload describes the minimal meeting snapshot for event consumers.
type MeetingEventPayload struct {
	MeetingID       string    `json:"meeting_id"`
	UserID          string    `json:"user_id"`
	FullName        string    `json:"full_name"`
	Email           string    `json:"email"`
	Phone           string    `json:"phone,omitempty"`
	ProjectType     string    `json:"project_type,omitempty"`
	Status          string    `json:"status"`
	MeetingDate     time.Time `json:"meeting_date"`
	MeetingDay      string    `json:"meeting_day"`
	MeetingTime     string    `json:"meeting_time"`
	PreviousDay     string    `json:"previous_day,omitempty"`
	PreviousTime    string    `json:"previous_time,omitempty"`
	RescheduleCount int       `json:"reschedule_count"`
	ChangedBy       string    `json:"changed_by,omitempty"`
	ChangedByAdmin  bool      `json:"changed_by_admin,omitempty"`
}

// NewMeetingEventPayload snapshots m as changed by actor.
func NewMeetingEventPayload(m *models.Meeting, actor models.Actor) MeetingEventPayload {
	return MeetingEventPayload{
		MeetingID:       m.ID,
		UserID:          m.UserID,
		FullName:        m.FullName,
		Email:           m.Email,
		Phone:           m.Phone,
		ProjectType:     m.ProjectType,
		Status:          m.Status,
		MeetingDate:     m.MeetingDate,
		MeetingDay:      m.MeetingDay,
		MeetingTime:     m.MeetingTime,
		RescheduleCount: m.RescheduleCount,
		ChangedBy:       actor.UserID,
		ChangedByAdmin:  actor.IsAdmin,
	}
}

// Event represents a lightweight domain event.
type Event struct {
	ID        int64
	Type      string
	Payload   []byte
	CreatedAt time.Time
	Processed bool
}

// Decode unmarshals the JSON payload into v.
func (e *Event) Decode(v interface{}) error {
	return json.Unmarshal(e.Payload, v)
}

// EventHandler reacts to an event.
type EventHandler func(event *Event) error

// EventBus provides in-process pub/sub for events.
type EventBus struct {
	subscribers map[string][]EventHandler
	mu          sync.RWMutex
	logger      *zerolog.Logger
}

// NewEventBus constructs an empty bus. Handler errors are logged when logger is set.
func NewEventBus(logger *zerolog.Logger) *EventBus {
	return &EventBus{subscribers: make(map[string][]EventHandler), logger: logger}
}

// Subscribe registers a handler for a given event type.
func (b *EventBus) Subscribe(eventType string, handler EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[eventType] = append(b.subscribers[eventType], handler)
}

// SubscribeMany registers the same handler for several event types.
func (b *EventBus) SubscribeMany(eventTypes []string, handler EventHandler) {
	for _, t := range eventTypes {
		b.Subscribe(t, handler)
	}
}

// Publish notifies subscribers of the event type.
func (b *EventBus) Publish(event *Event) {
	b.mu.RLock()
	handlers := append([]EventHandler(nil), b.subscribers[event.Type]...)
	b.mu.RUnlock()

	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	for _, handler := range handlers {
		// Handlers run synchronously; caller decides concurrency model.
		if err := handler(event); err != nil && b.logger != nil {
			b.logger.Warn().Err(err).Str("event_type", event.Type).Msg("event handler failed")
		}
	}
}

// PublishJSON serializes the payload and publishes an event.
func (b *EventBus) PublishJSON(eventType string, payload interface{}) error {
	if b == nil {
		return nil
	}

	event, err := NewJSONEvent(eventType, payload)
	if err != nil {
		return err
	}

	b.Publish(&event)
	return nil
}

// NewJSONEvent builds an Event with JSON payload for manual publishing.
func NewJSONEvent(eventType string, payload interface{}) (Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Event{}, err
	}

	return Event{Type: eventType, Payload: raw, CreatedAt: time.Now()}, nil
}
