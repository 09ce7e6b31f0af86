package notify

import (
	"errors"
	"fmt"
	"strings"

	"meetdesk/internal/config"
	"meetdesk/internal/events"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
)

// Sender is the subset of the Telegram bot API used for notifications.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// NewBot connects to the Telegram bot API.
func NewBot(cfg config.TelegramConfig) (*tgbotapi.BotAPI, error) {
	bot, err := tgbotapi.NewBotAPI(cfg.BotToken)
	if err != nil {
		return nil, fmt.Errorf("telegram bot: %w", err)
	}
	bot.Debug = cfg.Debug
	return bot, nil
}

// AdminNotifier tells admins about bookings, cancellations and reschedules.
type AdminNotifier struct {
	bot     Sender
	chatIDs []int64
	logger  *zerolog.Logger
}

func NewAdminNotifier(bot Sender, chatIDs []int64, logger *zerolog.Logger) *AdminNotifier {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &AdminNotifier{bot: bot, chatIDs: chatIDs, logger: logger}
}

// Attach subscribes the notifier to the events admins care about.
func (n *AdminNotifier) Attach(bus *events.EventBus) {
	bus.SubscribeMany([]string{
		events.EventMeetingCreated,
		events.EventMeetingCancelled,
		events.EventMeetingRescheduled,
	}, n.Handle)
}

// Handle sends one message per admin chat. A failing chat does not stop the others.
func (n *AdminNotifier) Handle(event *events.Event) error {
	var payload events.MeetingEventPayload
	if err := event.Decode(&payload); err != nil {
		return fmt.Errorf("decode %s: %w", event.Type, err)
	}

	text := FormatEvent(event.Type, payload)
	if text == "" {
		return nil
	}

	var errs []error
	for _, chatID := range n.chatIDs {
		msg := tgbotapi.NewMessage(chatID, text)
		if _, err := n.bot.Send(msg); err != nil {
			n.logger.Warn().Err(err).Int64("chat_id", chatID).Str("event_type", event.Type).Msg("admin notification failed")
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// FormatEvent renders a plain text admin message, or "" for events without one.
func FormatEvent(eventType string, p events.MeetingEventPayload) string {
	var b strings.Builder
	switch eventType {
	case events.EventMeetingCreated:
		b.WriteString("New meeting request\n")
	case events.EventMeetingCancelled:
		b.WriteString("Meeting cancelled\n")
	case events.EventMeetingRescheduled:
		b.WriteString("Meeting rescheduled\n")
	default:
		return ""
	}

	fmt.Fprintf(&b, "%s <%s>\n", p.FullName, p.Email)
	if p.Phone != "" {
		fmt.Fprintf(&b, "Phone: %s\n", p.Phone)
	}
	if p.ProjectType != "" {
		fmt.Fprintf(&b, "Project: %s\n", p.ProjectType)
	}
	if eventType == events.EventMeetingRescheduled && p.PreviousDay != "" {
		fmt.Fprintf(&b, "From: %s %s\n", p.PreviousDay, p.PreviousTime)
	}
	fmt.Fprintf(&b, "When: %s %s\n", p.MeetingDay, p.MeetingTime)
	if p.ChangedByAdmin {
		b.WriteString("By: admin\n")
	}
	fmt.Fprintf(&b, "ID: %s", p.MeetingID)
	return b.String()
}
