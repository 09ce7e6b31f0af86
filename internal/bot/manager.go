package bot

import (
	"bytes"
	"context"
	"fmt"

	"meetdesk/internal/models"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
)

const pendingListLimit = 20

func isManagerCommand(cmd string) bool {
	switch cmd {
	case "pending", "upcoming", "export":
		return true
	}
	return false
}

// handleManagerCommand reports whether the command was a manager command.
func (b *Bot) handleManagerCommand(ctx context.Context, msg *tgbotapi.Message) bool {
	chatID := msg.Chat.ID
	actor := b.actor(msg.From.ID)

	switch msg.Command() {
	case "pending":
		b.listForManager(ctx, chatID, actor, models.MeetingFilter{
			Statuses: []string{models.StatusPending},
			Limit:    pendingListLimit,
		})
	case "upcoming":
		b.listForManager(ctx, chatID, actor, models.MeetingFilter{
			Statuses: models.ActiveStatuses,
			FromDay:  b.now().In(b.opts.Location).Format(models.DateLayout),
			Limit:    pendingListLimit,
		})
	case "export":
		b.exportMeetings(ctx, chatID, actor)
	default:
		return false
	}
	return true
}

func (b *Bot) listForManager(ctx context.Context, chatID int64, actor models.Actor, filter models.MeetingFilter) {
	meetings, err := b.meetings.ListMeetings(ctx, actor, filter)
	if err != nil {
		b.sendMessage(chatID, userMessage(err))
		return
	}
	if len(meetings) == 0 {
		b.sendMessage(chatID, msgNoPending)
		return
	}
	for _, m := range meetings {
		msg := tgbotapi.NewMessage(chatID, formatManagerMeeting(m))
		msg.ReplyMarkup = managerKeyboard(m)
		b.send(msg)
	}
}

func (b *Bot) changeStatus(ctx context.Context, chatID, userID int64, meetingID, to string) {
	meeting, err := b.meetings.ChangeStatus(ctx, b.actor(userID), meetingID, to)
	if err != nil {
		b.sendMessage(chatID, userMessage(err))
		return
	}
	zerolog.Ctx(ctx).Info().Str("meeting_id", meeting.ID).Str("status", to).Int64("manager_id", userID).Msg("status changed from chat")
	b.sendMessage(chatID, "Updated:\n\n"+formatManagerMeeting(meeting))
}

func (b *Bot) exportMeetings(ctx context.Context, chatID int64, actor models.Actor) {
	var buf bytes.Buffer
	if err := b.meetings.ExportMeetings(ctx, actor, models.MeetingFilter{}, &buf); err != nil {
		b.sendMessage(chatID, userMessage(err))
		return
	}
	name := fmt.Sprintf("meetings_%s.xlsx", b.now().In(b.opts.Location).Format("20060102_150405"))
	b.send(tgbotapi.NewDocument(chatID, tgbotapi.FileBytes{Name: name, Bytes: buf.Bytes()}))
}
