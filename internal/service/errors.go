package service

import (
	"errors"

	"meetdesk/internal/domain"
)

// Domain errors. Their messages are shown to the actor verbatim.
var (
	ErrActiveMeetingExists       = errors.New("you already have an active meeting, manage or cancel it before booking another one")
	ErrSlotAlreadyTaken          = errors.New("this time slot was just taken, please pick another one")
	ErrRescheduleLimitExceeded   = errors.New("this meeting has reached its reschedule limit")
	ErrCancellationLimitExceeded = errors.New("you have reached the cancellation limit for this month")
	ErrNoOpReschedule            = errors.New("the new date must differ from the current meeting date")
	ErrInvalidTransition         = errors.New("this status change is not allowed")
	ErrForbidden                 = errors.New("you are not allowed to change this meeting")
	ErrMeetingNotFound           = errors.New("meeting not found")
	ErrPastDate                  = errors.New("meetings cannot be booked in the past")
	ErrDateTooFar                = errors.New("this date is too far in the future")
	ErrInvalidDate               = errors.New("invalid meeting date")
	ErrUnknownSlot               = errors.New("unknown time slot")
	ErrMeetingChanged            = errors.New("the meeting was changed by someone else, reload and try again")
)

// ErrTemporary wraps infrastructure failures that survived bounded retries.
var ErrTemporary = errors.New("something went wrong, please try again")

// ActiveMeetingError carries the id of the meeting blocking a new booking.
type ActiveMeetingError struct {
	MeetingID string
}

func (e *ActiveMeetingError) Error() string { return ErrActiveMeetingExists.Error() }

func (e *ActiveMeetingError) Is(target error) bool { return target == ErrActiveMeetingExists }

var domainErrors = []error{
	ErrActiveMeetingExists,
	ErrSlotAlreadyTaken,
	ErrRescheduleLimitExceeded,
	ErrCancellationLimitExceeded,
	ErrNoOpReschedule,
	ErrInvalidTransition,
	ErrForbidden,
	ErrMeetingNotFound,
	ErrPastDate,
	ErrDateTooFar,
	ErrInvalidDate,
	ErrUnknownSlot,
	ErrMeetingChanged,
}

// IsDomainError reports whether err is actionable by the actor.
func IsDomainError(err error) bool {
	for _, target := range domainErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// mapWriteError translates storage errors of an authoritative write.
func mapWriteError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, domain.ErrUniqueViolation):
		return ErrSlotAlreadyTaken
	case errors.Is(err, domain.ErrConcurrentModification):
		return ErrMeetingChanged
	case errors.Is(err, domain.ErrNotFound):
		return ErrMeetingNotFound
	case IsDomainError(err):
		return err
	default:
		return errors.Join(ErrTemporary, err)
	}
}
