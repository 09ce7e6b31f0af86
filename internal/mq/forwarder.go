package mq

import (
	"context"
	"fmt"
	"strings"
	"time"

	"meetdesk/internal/events"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

// MessagePublisher is the part of Publisher the forwarder needs.
type MessagePublisher interface {
	Publish(ctx context.Context, key string, msg amqp.Publishing) error
}

// Forwarder relays meeting events from the in-process bus to the broker.
type Forwarder struct {
	pub     MessagePublisher
	timeout time.Duration
	appID   string
	logger  *zerolog.Logger
}

func NewForwarder(pub MessagePublisher, appID string, logger *zerolog.Logger) *Forwarder {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Forwarder{pub: pub, timeout: 5 * time.Second, appID: appID, logger: logger}
}

// Attach subscribes the forwarder to every meeting event.
func (f *Forwarder) Attach(bus *events.EventBus) {
	bus.SubscribeMany(events.MeetingEvents, f.Handle)
}

// RoutingKey maps meeting_created to meeting.created.
func RoutingKey(eventType string) string {
	return "meeting." + strings.TrimPrefix(eventType, "meeting_")
}

func (f *Forwarder) Handle(event *events.Event) error {
	ctx, cancel := context.WithTimeout(context.Background(), f.timeout)
	defer cancel()

	key := RoutingKey(event.Type)
	err := f.pub.Publish(ctx, key, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    uuid.NewString(),
		Timestamp:    event.CreatedAt,
		Type:         event.Type,
		AppId:        f.appID,
		Body:         event.Payload,
	})
	if err != nil {
		return fmt.Errorf("forward %s: %w", key, err)
	}
	f.logger.Debug().Str("routing_key", key).Msg("event forwarded")
	return nil
}
