package bot

import (
	"meetdesk/internal/models"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

const (
	cbDate       = "date:"
	cbSlot       = "slot:"
	cbConfirm    = "confirm"
	cbAbort      = "abort"
	cbCancel     = "cancel:"
	cbReschedule = "reschedule:"
	cbStatus     = "status:"
)

func mainMenuKeyboard() tgbotapi.ReplyKeyboardMarkup {
	return tgbotapi.NewReplyKeyboard(
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton(btnBook),
			tgbotapi.NewKeyboardButton(btnMyMeetings),
		),
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton(btnQuota),
			tgbotapi.NewKeyboardButton(btnCancel),
		),
	)
}

// dateKeyboard lists the next days starting today, three per row.
func (b *Bot) dateKeyboard() tgbotapi.InlineKeyboardMarkup {
	today := b.now().In(b.opts.Location)
	var rows [][]tgbotapi.InlineKeyboardButton
	var row []tgbotapi.InlineKeyboardButton
	for i := 0; i < b.opts.DatePickerDays; i++ {
		day := today.AddDate(0, 0, i)
		label := day.Format("Mon 02.01")
		row = append(row, tgbotapi.NewInlineKeyboardButtonData(label, cbDate+day.Format(models.DateLayout)))
		if len(row) == 3 {
			rows = append(rows, row)
			row = nil
		}
	}
	if len(row) > 0 {
		rows = append(rows, row)
	}
	rows = append(rows, tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData(btnCancel, cbAbort)))
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

func slotKeyboard(slots []string) tgbotapi.InlineKeyboardMarkup {
	var row []tgbotapi.InlineKeyboardButton
	for _, slot := range slots {
		row = append(row, tgbotapi.NewInlineKeyboardButtonData(slot, cbSlot+slot))
	}
	return tgbotapi.NewInlineKeyboardMarkup(
		row,
		tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData(btnCancel, cbAbort)),
	)
}

func confirmKeyboard() tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(tgbotapi.NewInlineKeyboardRow(
		tgbotapi.NewInlineKeyboardButtonData("✅ Confirm", cbConfirm),
		tgbotapi.NewInlineKeyboardButtonData(btnCancel, cbAbort),
	))
}

func meetingKeyboard(m *models.Meeting) *tgbotapi.InlineKeyboardMarkup {
	if !m.IsActive() {
		return nil
	}
	kb := tgbotapi.NewInlineKeyboardMarkup(tgbotapi.NewInlineKeyboardRow(
		tgbotapi.NewInlineKeyboardButtonData("🔁 Reschedule", cbReschedule+m.ID),
		tgbotapi.NewInlineKeyboardButtonData("❌ Cancel meeting", cbCancel+m.ID),
	))
	return &kb
}

func managerKeyboard(m *models.Meeting) tgbotapi.InlineKeyboardMarkup {
	var row []tgbotapi.InlineKeyboardButton
	switch m.Status {
	case models.StatusPending:
		row = append(row, tgbotapi.NewInlineKeyboardButtonData("✅ Confirm", cbStatus+models.StatusConfirmed+":"+m.ID))
	case models.StatusConfirmed:
		row = append(row, tgbotapi.NewInlineKeyboardButtonData("🏁 Complete", cbStatus+models.StatusCompleted+":"+m.ID))
	}
	row = append(row, tgbotapi.NewInlineKeyboardButtonData("❌ Cancel", cbStatus+models.StatusCancelled+":"+m.ID))
	return tgbotapi.NewInlineKeyboardMarkup(row)
}
