package bot

import (
	"context"
	"fmt"

	"meetdesk/internal/models"
	"meetdesk/internal/service"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
)

func (b *Bot) startBooking(ctx context.Context, chatID, userID int64) {
	b.setUserState(ctx, userID, &models.UserState{Step: StateSelectDate, Data: map[string]string{}})
	b.askDate(chatID, msgChooseDate)
}

func (b *Bot) askDate(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ReplyMarkup = b.dateKeyboard()
	b.send(msg)
}

// handleDatePicked serves both the booking and the reschedule dialogs.
func (b *Bot) handleDatePicked(ctx context.Context, chatID, userID int64, day string) {
	state := b.getUserState(ctx, userID)
	if state == nil || (state.Step != StateSelectDate && state.Step != StateRescheduleDate) {
		b.restart(ctx, chatID, userID)
		return
	}

	slots, err := b.meetings.Slots(ctx, day, true)
	if err != nil {
		b.sendMessage(chatID, userMessage(err))
		return
	}
	free := make([]string, 0, len(slots))
	for _, slot := range slots {
		if slot.Available {
			free = append(free, slot.Label)
		}
	}
	if len(free) == 0 {
		b.askDate(chatID, fmt.Sprintf(msgNoSlots, day))
		return
	}

	next := StateSelectSlot
	if state.Step == StateRescheduleDate {
		next = StateRescheduleSlot
	}
	b.setUserState(ctx, userID, state.With(next, "date", day))

	msg := tgbotapi.NewMessage(chatID, fmt.Sprintf(msgChooseSlot, day))
	msg.ReplyMarkup = slotKeyboard(free)
	b.send(msg)
}

func (b *Bot) handleSlotPicked(ctx context.Context, chatID, userID int64, slot string) {
	state := b.getUserState(ctx, userID)
	switch {
	case state == nil:
		b.restart(ctx, chatID, userID)
	case state.Step == StateSelectSlot:
		b.setUserState(ctx, userID, state.With(StateEnterName, "time", slot))
		b.sendMessage(chatID, msgEnterName)
	case state.Step == StateRescheduleSlot:
		b.finishReschedule(ctx, chatID, userID, state, slot)
	default:
		b.restart(ctx, chatID, userID)
	}
}

// handleTextStep consumes free text for the personal data steps.
func (b *Bot) handleTextStep(ctx context.Context, chatID, userID int64, text string, state *models.UserState) bool {
	switch state.Step {
	case StateEnterName:
		if !b.checkLength(chatID, text, 200, msgEnterName) {
			return true
		}
		b.setUserState(ctx, userID, state.With(StateEnterEmail, "name", text))
		b.sendMessage(chatID, msgEnterEmail)

	case StateEnterEmail:
		if err := b.validate.Var(text, "required,email"); err != nil {
			b.sendMessage(chatID, msgInvalidEmail)
			return true
		}
		b.setUserState(ctx, userID, state.With(StateEnterProject, "email", text))
		b.sendMessage(chatID, msgEnterProject)

	case StateEnterProject:
		if !b.checkLength(chatID, text, 200, msgEnterProject) {
			return true
		}
		b.setUserState(ctx, userID, state.With(StateEnterDescription, "project", text))
		b.sendMessage(chatID, msgEnterDesc)

	case StateEnterDescription:
		if len([]rune(text)) < service.MinDescriptionLength {
			b.sendMessage(chatID, msgDescTooShort)
			return true
		}
		if !b.checkLength(chatID, text, 5000, msgEnterDesc) {
			return true
		}
		next := state.With(StateConfirmation, "description", text)
		b.setUserState(ctx, userID, next)

		msg := tgbotapi.NewMessage(chatID, formatSummary(next))
		msg.ReplyMarkup = confirmKeyboard()
		b.send(msg)

	default:
		return false
	}
	return true
}

// checkLength repeats prompt for empty input and rejects input over limit runes.
func (b *Bot) checkLength(chatID int64, text string, limit int, prompt string) bool {
	n := len([]rune(text))
	switch {
	case n == 0:
		b.sendMessage(chatID, prompt)
		return false
	case n > limit:
		b.sendMessage(chatID, msgTooLong)
		return false
	}
	return true
}

func (b *Bot) finalizeBooking(ctx context.Context, chatID, userID int64) {
	state := b.getUserState(ctx, userID)
	if state == nil || state.Step != StateConfirmation {
		b.restart(ctx, chatID, userID)
		return
	}

	actor := b.actor(userID)
	actor.Email = state.Get("email")
	req := service.BookingRequest{
		FullName:           state.Get("name"),
		Email:              state.Get("email"),
		ProjectType:        state.Get("project"),
		ProjectDescription: state.Get("description"),
		Date:               state.Get("date"),
		Time:               state.Get("time"),
	}
	if err := b.validate.Struct(req); err != nil {
		b.restart(ctx, chatID, userID)
		return
	}

	result, err := b.meetings.BookMeeting(ctx, actor, req)
	if err != nil {
		zerolog.Ctx(ctx).Info().Err(err).Int64("user_id", userID).Msg("booking rejected")
		b.sendMessage(chatID, userMessage(err))
		return
	}
	b.clearUserState(ctx, userID)

	if result.InProgress {
		b.showMainMenu(chatID, msgBookingInProgress)
		return
	}
	text := "✅ Your request is registered. A manager will confirm it soon.\n\n" + formatMeeting(result.Meeting)
	if result.Duplicate {
		text = "ℹ️ This request was already registered.\n\n" + formatMeeting(result.Meeting)
	}
	b.showMainMenu(chatID, text)
}

func (b *Bot) restart(ctx context.Context, chatID, userID int64) {
	b.clearUserState(ctx, userID)
	b.showMainMenu(chatID, msgSessionLost)
}
