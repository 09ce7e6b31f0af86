package mq

import (
	"context"
	"errors"
	"testing"

	"meetdesk/internal/events"
	"meetdesk/internal/models"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type published struct {
	key string
	msg amqp.Publishing
}

type fakePublisher struct {
	sent []published
	err  error
}

func (f *fakePublisher) Publish(_ context.Context, key string, msg amqp.Publishing) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, published{key: key, msg: msg})
	return nil
}

type fakeChannel struct {
	exchange string
	key      string
	body     []byte
	closed   bool
}

func (c *fakeChannel) PublishWithContext(_ context.Context, exchange, key string, _, _ bool, msg amqp.Publishing) error {
	c.exchange, c.key, c.body = exchange, key, msg.Body
	return nil
}

func (c *fakeChannel) Close() error {
	c.closed = true
	return nil
}

func TestRoutingKey(t *testing.T) {
	assert.Equal(t, "meeting.created", RoutingKey(events.EventMeetingCreated))
	assert.Equal(t, "meeting.rescheduled", RoutingKey(events.EventMeetingRescheduled))
}

func TestForwarderRelaysMeetingEvents(t *testing.T) {
	pub := &fakePublisher{}
	bus := events.NewEventBus(nil)
	NewForwarder(pub, "meetdesk", nil).Attach(bus)

	m := &models.Meeting{ID: "m-1", UserID: "u-1", Status: models.StatusCancelled}
	payload := events.NewMeetingEventPayload(m, models.Actor{UserID: "u-1"})
	require.NoError(t, bus.PublishJSON(events.EventMeetingCancelled, payload))
	require.NoError(t, bus.PublishJSON("unrelated", payload))

	require.Len(t, pub.sent, 1)
	got := pub.sent[0]
	assert.Equal(t, "meeting.cancelled", got.key)
	assert.Equal(t, events.EventMeetingCancelled, got.msg.Type)
	assert.Equal(t, "meetdesk", got.msg.AppId)
	assert.Equal(t, amqp.Persistent, got.msg.DeliveryMode)
	assert.NotEmpty(t, got.msg.MessageId)

	var decoded events.MeetingEventPayload
	ev := events.Event{Payload: got.msg.Body}
	require.NoError(t, ev.Decode(&decoded))
	assert.Equal(t, "m-1", decoded.MeetingID)
}

func TestForwarderReturnsPublishError(t *testing.T) {
	pub := &fakePublisher{err: errors.New("channel closed")}
	f := NewForwarder(pub, "meetdesk", nil)

	err := f.Handle(&events.Event{Type: events.EventMeetingCreated, Payload: []byte(`{}`)})
	assert.ErrorContains(t, err, "meeting.created")
}

func TestPublisherPublishJSON(t *testing.T) {
	ch := &fakeChannel{}
	p := &Publisher{ch: ch, exchange: "meetings"}

	require.NoError(t, p.PublishJSON(context.Background(), "meeting.created", map[string]string{"id": "m-1"}))
	assert.Equal(t, "meetings", ch.exchange)
	assert.Equal(t, "meeting.created", ch.key)
	assert.JSONEq(t, `{"id":"m-1"}`, string(ch.body))

	require.NoError(t, p.Close())
	assert.True(t, ch.closed)
}
