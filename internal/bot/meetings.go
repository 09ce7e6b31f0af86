package bot

import (
	"context"
	"fmt"

	"meetdesk/internal/models"
	"meetdesk/internal/service"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

func (b *Bot) showUserMeetings(ctx context.Context, chatID, userID int64) {
	meetings := b.meetings.ListUserMeetings(ctx, b.actor(userID))
	if len(meetings) == 0 {
		b.sendMessage(chatID, msgNoMeetings)
		return
	}
	for _, m := range meetings {
		msg := tgbotapi.NewMessage(chatID, formatMeeting(m))
		if kb := meetingKeyboard(m); kb != nil {
			msg.ReplyMarkup = *kb
		}
		b.send(msg)
	}
}

func (b *Bot) cancelMeeting(ctx context.Context, chatID, userID int64, meetingID string) {
	result, err := b.meetings.CancelMeeting(ctx, b.actor(userID), meetingID)
	if err != nil {
		b.sendMessage(chatID, userMessage(err))
		return
	}

	text := "❌ Meeting cancelled.\n\n" + formatMeeting(result.Meeting)
	if result.RemainingCancellations != models.UnlimitedQuota {
		text += fmt.Sprintf("\nCancellations left this month: %d", result.RemainingCancellations)
	}
	b.sendMessage(chatID, text)
}

func (b *Bot) startReschedule(ctx context.Context, chatID, userID int64, meetingID string) {
	b.setUserState(ctx, userID, &models.UserState{
		Step: StateRescheduleDate,
		Data: map[string]string{"meeting_id": meetingID},
	})
	b.askDate(chatID, "Choose a new day for the meeting:")
}

func (b *Bot) finishReschedule(ctx context.Context, chatID, userID int64, state *models.UserState, slot string) {
	result, err := b.meetings.RescheduleMeeting(ctx, b.actor(userID), state.Get("meeting_id"), service.RescheduleRequest{
		Date: state.Get("date"),
		Time: slot,
	})
	b.clearUserState(ctx, userID)
	if err != nil {
		b.sendMessage(chatID, userMessage(err))
		return
	}

	text := "🔁 Meeting moved.\n\n" + formatMeeting(result.Meeting)
	if result.RemainingReschedules != models.UnlimitedQuota {
		text += fmt.Sprintf("\nReschedules left: %d", result.RemainingReschedules)
	}
	b.showMainMenu(chatID, text)
}
