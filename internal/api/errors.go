package api

import (
	"errors"
	"net/http"

	"meetdesk/internal/service"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
)

type errorResponse struct {
	Error     string            `json:"error"`
	MeetingID string            `json:"meeting_id,omitempty"`
	Fields    map[string]string `json:"fields,omitempty"`
}

// statusFor maps domain errors to HTTP codes. Anything else is an
// infrastructure failure.
func statusFor(err error) (int, bool) {
	switch {
	case errors.Is(err, service.ErrMeetingNotFound):
		return http.StatusNotFound, true
	case errors.Is(err, service.ErrForbidden):
		return http.StatusForbidden, true
	case errors.Is(err, service.ErrActiveMeetingExists),
		errors.Is(err, service.ErrSlotAlreadyTaken),
		errors.Is(err, service.ErrMeetingChanged):
		return http.StatusConflict, true
	case errors.Is(err, service.ErrRescheduleLimitExceeded),
		errors.Is(err, service.ErrCancellationLimitExceeded):
		return http.StatusTooManyRequests, true
	case errors.Is(err, service.ErrNoOpReschedule),
		errors.Is(err, service.ErrInvalidTransition),
		errors.Is(err, service.ErrPastDate),
		errors.Is(err, service.ErrDateTooFar),
		errors.Is(err, service.ErrInvalidDate),
		errors.Is(err, service.ErrUnknownSlot):
		return http.StatusUnprocessableEntity, true
	}
	return http.StatusServiceUnavailable, false
}

// writeServiceError shows domain messages verbatim and hides everything else
// behind the generic retry message.
func writeServiceError(w http.ResponseWriter, logger *zerolog.Logger, err error) {
	code, domainErr := statusFor(err)
	if !domainErr {
		logger.Error().Err(err).Msg("request failed")
		writeJSON(w, code, errorResponse{Error: service.ErrTemporary.Error()})
		return
	}

	resp := errorResponse{Error: domainMessage(err)}
	var active *service.ActiveMeetingError
	if errors.As(err, &active) {
		resp.MeetingID = active.MeetingID
	}
	writeJSON(w, code, resp)
}

func domainMessage(err error) string {
	var active *service.ActiveMeetingError
	if errors.As(err, &active) {
		return active.Error()
	}
	for _, target := range []error{
		service.ErrMeetingNotFound, service.ErrForbidden, service.ErrActiveMeetingExists,
		service.ErrSlotAlreadyTaken, service.ErrMeetingChanged,
		service.ErrRescheduleLimitExceeded, service.ErrCancellationLimitExceeded,
		service.ErrNoOpReschedule, service.ErrInvalidTransition, service.ErrPastDate,
		service.ErrDateTooFar, service.ErrInvalidDate, service.ErrUnknownSlot,
	} {
		if errors.Is(err, target) {
			return target.Error()
		}
	}
	return err.Error()
}

func writeValidationError(w http.ResponseWriter, err error) {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}
	fields := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		fields[fe.Field()] = fe.Tag()
	}
	writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request", Fields: fields})
}
