package notify

import (
	"errors"
	"strings"
	"testing"

	"meetdesk/internal/events"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockSender struct {
	mock.Mock
}

func (m *mockSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	args := m.Called(c)
	return args.Get(0).(tgbotapi.Message), args.Error(1)
}

func samplePayload() events.MeetingEventPayload {
	return events.MeetingEventPayload{
		MeetingID:   "m-1",
		FullName:    "Ada Lovelace",
		Email:       "ada@example.com",
		Phone:       "+44 20 0000",
		MeetingDay:  "2026-03-10",
		MeetingTime: "09:00",
	}
}

func TestAdminNotifierSendsToEveryChat(t *testing.T) {
	sender := new(mockSender)
	bus := events.NewEventBus(nil)
	NewAdminNotifier(sender, []int64{1, 2}, nil).Attach(bus)

	for _, chatID := range []int64{1, 2} {
		id := chatID
		sender.On("Send", mock.MatchedBy(func(c tgbotapi.Chattable) bool {
			msg, ok := c.(tgbotapi.MessageConfig)
			return ok && msg.ChatID == id && strings.HasPrefix(msg.Text, "New meeting request")
		})).Return(tgbotapi.Message{}, nil).Once()
	}

	require.NoError(t, bus.PublishJSON(events.EventMeetingCreated, samplePayload()))
	sender.AssertExpectations(t)
}

func TestAdminNotifierIgnoresOtherEvents(t *testing.T) {
	sender := new(mockSender)
	bus := events.NewEventBus(nil)
	NewAdminNotifier(sender, []int64{1}, nil).Attach(bus)

	require.NoError(t, bus.PublishJSON(events.EventMeetingConfirmed, samplePayload()))
	sender.AssertNotCalled(t, "Send", mock.Anything)
}

func TestAdminNotifierContinuesAfterFailure(t *testing.T) {
	sender := new(mockSender)
	n := NewAdminNotifier(sender, []int64{1, 2}, nil)

	sender.On("Send", mock.MatchedBy(func(c tgbotapi.Chattable) bool {
		return c.(tgbotapi.MessageConfig).ChatID == 1
	})).Return(tgbotapi.Message{}, errors.New("chat not found")).Once()
	sender.On("Send", mock.MatchedBy(func(c tgbotapi.Chattable) bool {
		return c.(tgbotapi.MessageConfig).ChatID == 2
	})).Return(tgbotapi.Message{}, nil).Once()

	ev, err := events.NewJSONEvent(events.EventMeetingCancelled, samplePayload())
	require.NoError(t, err)

	err = n.Handle(&ev)
	assert.ErrorContains(t, err, "chat not found")
	sender.AssertExpectations(t)
}

func TestFormatEvent(t *testing.T) {
	p := samplePayload()
	p.PreviousDay = "2026-03-09"
	p.PreviousTime = "14:00"
	p.ChangedByAdmin = true

	text := FormatEvent(events.EventMeetingRescheduled, p)
	assert.Contains(t, text, "Meeting rescheduled")
	assert.Contains(t, text, "From: 2026-03-09 14:00")
	assert.Contains(t, text, "When: 2026-03-10 09:00")
	assert.Contains(t, text, "By: admin")

	assert.Empty(t, FormatEvent(events.EventMeetingCompleted, p))
}
