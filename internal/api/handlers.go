package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"meetdesk/internal/models"
	"meetdesk/internal/service"
)

type statusRequest struct {
	Status string `json:"status" validate:"required,oneof=pending confirmed completed cancelled"`
}

type meetingsResponse struct {
	Meetings []*models.Meeting `json:"meetings"`
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *HTTPServer) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.ready.Ping(ctx); err != nil {
			s.logger.Warn().Err(err).Msg("readiness check failed")
			writeError(w, http.StatusServiceUnavailable, "not ready")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *HTTPServer) handleSlots(w http.ResponseWriter, r *http.Request) {
	date := strings.TrimSpace(r.URL.Query().Get("date"))
	if date == "" {
		writeError(w, http.StatusBadRequest, "date is required")
		return
	}
	refresh, _ := strconv.ParseBool(r.URL.Query().Get("refresh"))

	slots, err := s.meetings.Slots(r.Context(), date, refresh)
	if err != nil {
		writeServiceError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"date": date, "slots": slots})
}

func (s *HTTPServer) handleBook(w http.ResponseWriter, r *http.Request) {
	actor, _ := actorFrom(r.Context())

	var req service.BookingRequest
	if !s.decode(w, r, &req) {
		return
	}

	result, err := s.meetings.BookMeeting(r.Context(), actor, req)
	if err != nil {
		writeServiceError(w, s.logger, err)
		return
	}
	code := http.StatusCreated
	switch {
	case result.InProgress:
		code = http.StatusAccepted
	case result.Duplicate:
		code = http.StatusOK
	}
	writeJSON(w, code, result)
}

func (s *HTTPServer) handleListOwn(w http.ResponseWriter, r *http.Request) {
	actor, _ := actorFrom(r.Context())
	writeJSON(w, http.StatusOK, meetingsResponse{Meetings: s.meetings.ListUserMeetings(r.Context(), actor)})
}

func (s *HTTPServer) handleGetMeeting(w http.ResponseWriter, r *http.Request) {
	actor, _ := actorFrom(r.Context())
	meeting, err := s.meetings.GetMeeting(r.Context(), actor, r.PathValue("id"))
	if err != nil {
		writeServiceError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, meeting)
}

func (s *HTTPServer) handleReschedule(w http.ResponseWriter, r *http.Request) {
	actor, _ := actorFrom(r.Context())

	var req service.RescheduleRequest
	if !s.decode(w, r, &req) {
		return
	}

	result, err := s.meetings.RescheduleMeeting(r.Context(), actor, r.PathValue("id"), req)
	if err != nil {
		writeServiceError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *HTTPServer) handleCancel(w http.ResponseWriter, r *http.Request) {
	actor, _ := actorFrom(r.Context())
	result, err := s.meetings.CancelMeeting(r.Context(), actor, r.PathValue("id"))
	if err != nil {
		writeServiceError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *HTTPServer) handleQuota(w http.ResponseWriter, r *http.Request) {
	actor, _ := actorFrom(r.Context())
	writeJSON(w, http.StatusOK, s.meetings.Quota(r.Context(), actor))
}

func (s *HTTPServer) handleAdminList(w http.ResponseWriter, r *http.Request) {
	actor, _ := actorFrom(r.Context())
	filter, ok := parseFilter(w, r)
	if !ok {
		return
	}
	meetings, err := s.meetings.ListMeetings(r.Context(), actor, filter)
	if err != nil {
		writeServiceError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, meetingsResponse{Meetings: meetings})
}

func (s *HTTPServer) handleAdminExport(w http.ResponseWriter, r *http.Request) {
	actor, _ := actorFrom(r.Context())
	filter, ok := parseFilter(w, r)
	if !ok {
		return
	}

	var buf bytes.Buffer
	if err := s.meetings.ExportMeetings(r.Context(), actor, filter, &buf); err != nil {
		writeServiceError(w, s.logger, err)
		return
	}

	filename := "meetings_" + time.Now().UTC().Format("20060102_150405") + ".xlsx"
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)
}

func (s *HTTPServer) handleAdminStatus(w http.ResponseWriter, r *http.Request) {
	actor, _ := actorFrom(r.Context())

	var req statusRequest
	if !s.decode(w, r, &req) {
		return
	}

	meeting, err := s.meetings.ChangeStatus(r.Context(), actor, r.PathValue("id"), req.Status)
	if err != nil {
		writeServiceError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, meeting)
}

// decode reads a JSON body into dst and validates it, writing the error
// response itself when it returns false.
func (s *HTTPServer) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	if err := s.validate.Struct(dst); err != nil {
		writeValidationError(w, err)
		return false
	}
	return true
}

func parseFilter(w http.ResponseWriter, r *http.Request) (models.MeetingFilter, bool) {
	q := r.URL.Query()
	filter := models.MeetingFilter{
		UserID:   strings.TrimSpace(q.Get("user_id")),
		Statuses: splitCSV(q.Get("status")),
		FromDay:  strings.TrimSpace(q.Get("from")),
		ToDay:    strings.TrimSpace(q.Get("to")),
	}
	for _, st := range filter.Statuses {
		if !models.IsKnownStatus(st) {
			writeError(w, http.StatusBadRequest, "unknown status "+st)
			return filter, false
		}
	}
	for _, day := range []string{filter.FromDay, filter.ToDay} {
		if day == "" {
			continue
		}
		if _, err := time.Parse(models.DateLayout, day); err != nil {
			writeError(w, http.StatusBadRequest, "invalid date format; expected YYYY-MM-DD")
			return filter, false
		}
	}
	for name, dst := range map[string]*int{"limit": &filter.Limit, "offset": &filter.Offset} {
		raw := q.Get(name)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid "+name)
			return filter, false
		}
		*dst = n
	}
	return filter, true
}

func splitCSV(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
