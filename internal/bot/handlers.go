package bot

import (
	"context"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
)

func (b *Bot) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	userID := msg.From.ID
	chatID := msg.Chat.ID
	text := strings.TrimSpace(msg.Text)

	zerolog.Ctx(ctx).Debug().
		Int64("user_id", userID).
		Str("username", msg.From.UserName).
		Str("text", text).
		Msg("Handling message")

	if msg.IsCommand() && b.isManager(userID) && b.handleManagerCommand(ctx, msg) {
		return
	}

	switch {
	case text == "/start" || text == btnCancel || strings.EqualFold(text, "reset"):
		b.clearUserState(ctx, userID)
		b.showMainMenu(chatID, msgWelcome)
		return
	case text == btnBook || text == "/book":
		b.startBooking(ctx, chatID, userID)
		return
	case text == btnMyMeetings || text == "/meetings":
		b.showUserMeetings(ctx, chatID, userID)
		return
	case text == btnQuota || text == "/quota":
		b.sendMessage(chatID, formatQuota(b.meetings.Quota(ctx, b.actor(userID))))
		return
	case msg.IsCommand() && isManagerCommand(msg.Command()):
		b.sendMessage(chatID, msgManagersOnly)
		return
	}

	state := b.getUserState(ctx, userID)
	if state != nil && b.handleTextStep(ctx, chatID, userID, text, state) {
		return
	}
	b.showMainMenu(chatID, msgUnknownAction)
}

func (b *Bot) handleCallbackQuery(ctx context.Context, callback *tgbotapi.CallbackQuery) {
	if _, err := b.tg.Request(tgbotapi.NewCallback(callback.ID, "")); err != nil {
		zerolog.Ctx(ctx).Debug().Err(err).Msg("callback answer failed")
	}
	if callback.Message == nil {
		return
	}

	data := callback.Data
	userID := callback.From.ID
	chatID := callback.Message.Chat.ID

	switch {
	case strings.HasPrefix(data, cbStatus):
		if !b.isManager(userID) {
			b.sendMessage(chatID, msgManagersOnly)
			return
		}
		to, id, ok := strings.Cut(strings.TrimPrefix(data, cbStatus), ":")
		if ok {
			b.changeStatus(ctx, chatID, userID, id, to)
		}

	case strings.HasPrefix(data, cbDate):
		b.handleDatePicked(ctx, chatID, userID, strings.TrimPrefix(data, cbDate))

	case strings.HasPrefix(data, cbSlot):
		b.handleSlotPicked(ctx, chatID, userID, strings.TrimPrefix(data, cbSlot))

	case data == cbConfirm:
		b.finalizeBooking(ctx, chatID, userID)

	case data == cbAbort:
		b.clearUserState(ctx, userID)
		b.showMainMenu(chatID, msgAborted)

	case strings.HasPrefix(data, cbCancel):
		b.cancelMeeting(ctx, chatID, userID, strings.TrimPrefix(data, cbCancel))

	case strings.HasPrefix(data, cbReschedule):
		b.startReschedule(ctx, chatID, userID, strings.TrimPrefix(data, cbReschedule))
	}
}

func (b *Bot) showMainMenu(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ReplyMarkup = mainMenuKeyboard()
	b.send(msg)
}
