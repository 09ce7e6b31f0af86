package bot

import (
	"errors"
	"fmt"
	"strings"

	"meetdesk/internal/models"
	"meetdesk/internal/service"
)

const (
	btnBook       = "📅 Book a meeting"
	btnMyMeetings = "📋 My meetings"
	btnQuota      = "📊 My quota"
	btnCancel     = "❌ Cancel"

	msgWelcome           = "Welcome! Book a consultation or manage your meetings."
	msgChooseDate        = "Choose a day for the meeting:"
	msgNoSlots           = "There are no free slots on %s. Please pick another day."
	msgChooseSlot        = "Free slots on %s:"
	msgEnterName         = "Your full name:"
	msgEnterEmail        = "Your email address:"
	msgInvalidEmail      = "That does not look like an email address. Please try again."
	msgEnterProject      = "What kind of project is it?"
	msgEnterDesc         = "Describe the project in a few sentences:"
	msgDescTooShort      = "Please give a bit more detail (at least 20 characters)."
	msgBookingInProgress = "⏳ Your request is already being processed."
	msgTooLong           = "That is too long. Please shorten it."
	msgSessionLost       = "The booking session expired. Let's start again."
	msgAborted           = "Cancelled."
	msgNoMeetings        = "You have no meetings yet."
	msgRateLimited       = "⚠️ You are sending messages too often. Please wait a moment."
	msgManagersOnly      = "This command is available to managers only."
	msgNoPending         = "No pending meetings."
	msgUnknownAction     = "Use the menu below."
)

// userMessage turns a booking core error into text for the chat.
func userMessage(err error) string {
	var active *service.ActiveMeetingError
	switch {
	case errors.As(err, &active):
		return "⚠️ You already have an active meeting. Cancel or reschedule it first."
	case errors.Is(err, service.ErrSlotAlreadyTaken):
		return "⚠️ This slot has just been taken. Please choose another one."
	case errors.Is(err, service.ErrRescheduleLimitExceeded):
		return "⚠️ This meeting cannot be rescheduled any more."
	case errors.Is(err, service.ErrCancellationLimitExceeded):
		return "⚠️ You have used all cancellations for this month."
	case errors.Is(err, service.ErrNoOpReschedule):
		return "⚠️ The meeting is already on that day."
	case errors.Is(err, service.ErrPastDate):
		return "⚠️ That day is in the past."
	case errors.Is(err, service.ErrDateTooFar):
		return "⚠️ That day is too far ahead."
	case errors.Is(err, service.ErrMeetingNotFound):
		return "⚠️ Meeting not found."
	case errors.Is(err, service.ErrForbidden):
		return "⚠️ You cannot change this meeting."
	case errors.Is(err, service.ErrInvalidTransition):
		return "⚠️ This change is not possible for the meeting's current status."
	case errors.Is(err, service.ErrMeetingChanged):
		return "⚠️ The meeting was changed meanwhile. Please try again."
	case errors.Is(err, service.ErrUnknownSlot), errors.Is(err, service.ErrInvalidDate):
		return "⚠️ Please pick a day and time from the buttons."
	}
	return "❌ " + service.ErrTemporary.Error()
}

func formatMeeting(m *models.Meeting) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s %s at %s\n", statusIcon(m.Status), m.MeetingDay, m.MeetingTime)
	fmt.Fprintf(&sb, "Status: %s\n", m.Status)
	if m.ProjectType != "" {
		fmt.Fprintf(&sb, "Project: %s\n", m.ProjectType)
	}
	if m.RescheduleCount > 0 {
		fmt.Fprintf(&sb, "Rescheduled: %d time(s)\n", m.RescheduleCount)
	}
	return sb.String()
}

func formatManagerMeeting(m *models.Meeting) string {
	var sb strings.Builder
	sb.WriteString(formatMeeting(m))
	fmt.Fprintf(&sb, "Client: %s <%s>", m.FullName, m.Email)
	if m.Phone != "" {
		fmt.Fprintf(&sb, ", %s", m.Phone)
	}
	if m.ProjectDescription != "" {
		fmt.Fprintf(&sb, "\n%s", m.ProjectDescription)
	}
	return sb.String()
}

func formatSummary(s *models.UserState) string {
	return fmt.Sprintf("Please confirm your request:\n\n📅 %s at %s\n👤 %s\n✉️ %s\n💼 %s\n📝 %s",
		s.Get("date"), s.Get("time"), s.Get("name"), s.Get("email"), s.Get("project"), s.Get("description"))
}

func formatQuota(q models.QuotaView) string {
	if q.Unlimited {
		return "You have no cancellation limit."
	}
	return fmt.Sprintf("Cancellations in %04d-%02d: %d of %d used, %d left.",
		q.Year, q.Month, q.CancellationsUsed, q.CancellationLimit, q.RemainingCancellations)
}

func statusIcon(status string) string {
	switch status {
	case models.StatusPending:
		return "⏳"
	case models.StatusConfirmed:
		return "✅"
	case models.StatusCompleted:
		return "🏁"
	case models.StatusCancelled:
		return "❌"
	}
	return "•"
}
