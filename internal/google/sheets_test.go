package google

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"meetdesk/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"
)

func setupMockServer(t *testing.T) (*http.ServeMux, *MeetingSheet) {
	t.Helper()
	ctx := context.Background()
	mux := http.NewServeMux()
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	srv, err := sheets.NewService(ctx, option.WithEndpoint(server.URL), option.WithoutAuthentication())
	require.NoError(t, err)
	return mux, newMeetingSheet(srv, "meetings_tid", "")
}

func sampleMeeting(id string) *models.Meeting {
	created := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	return &models.Meeting{
		ID:          id,
		UserID:      "u-1",
		FullName:    "Ada Lovelace",
		Email:       "ada@example.com",
		MeetingDay:  "2026-03-10",
		MeetingTime: "09:00",
		Status:      models.StatusConfirmed,
		CreatedAt:   created,
		UpdatedAt:   created.Add(time.Hour),
	}
}

func TestMeetingSheet_TestConnection(t *testing.T) {
	mux, s := setupMockServer(t)
	mux.HandleFunc("/v4/spreadsheets/meetings_tid/values/Meetings!A1", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(sheets.ValueRange{Values: [][]interface{}{{"ID"}}})
	})
	require.NoError(t, s.TestConnection(context.Background()))
}

func TestMeetingSheet_WarmUpCache(t *testing.T) {
	mux, s := setupMockServer(t)
	mux.HandleFunc("/v4/spreadsheets/meetings_tid/values/Meetings!A:A", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(sheets.ValueRange{
			Values: [][]interface{}{{"ID"}, {"m-1"}, {}, {"m-2"}},
		})
	})
	require.NoError(t, s.WarmUpCache(context.Background()))

	row, ok := s.getCachedRow("m-2")
	assert.True(t, ok)
	assert.Equal(t, 4, row)
	_, ok = s.getCachedRow("ID")
	assert.False(t, ok)
}

func TestMeetingSheet_UpsertAppendsUnknownMeeting(t *testing.T) {
	mux, s := setupMockServer(t)
	mux.HandleFunc("/v4/spreadsheets/meetings_tid/values/Meetings!A:A", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(sheets.ValueRange{Values: [][]interface{}{{"ID"}}})
	})
	var appended sheets.ValueRange
	mux.HandleFunc("/v4/spreadsheets/meetings_tid/values/Meetings!A:A:append", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&appended)
		_ = json.NewEncoder(w).Encode(sheets.AppendValuesResponse{
			Updates: &sheets.UpdateValuesResponse{UpdatedRange: "Meetings!A7:L7"},
		})
	})

	require.NoError(t, s.UpsertMeeting(context.Background(), sampleMeeting("m-9")))

	row, ok := s.getCachedRow("m-9")
	assert.True(t, ok)
	assert.Equal(t, 7, row)
	require.Len(t, appended.Values, 1)
	assert.Equal(t, "m-9", appended.Values[0][0])
}

func TestMeetingSheet_UpsertUpdatesCachedRow(t *testing.T) {
	mux, s := setupMockServer(t)
	s.setCachedRow("m-1", 3)
	called := false
	mux.HandleFunc("/v4/spreadsheets/meetings_tid/values/Meetings!A3:L3", func(w http.ResponseWriter, r *http.Request) {
		called = true
		_ = json.NewEncoder(w).Encode(sheets.UpdateValuesResponse{})
	})

	require.NoError(t, s.UpsertMeeting(context.Background(), sampleMeeting("m-1")))
	assert.True(t, called)
}

func TestMeetingSheet_WriteHeader(t *testing.T) {
	mux, s := setupMockServer(t)
	mux.HandleFunc("/v4/spreadsheets/meetings_tid/values/Meetings!A1:L1", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(sheets.UpdateValuesResponse{})
	})
	require.NoError(t, s.WriteHeader(context.Background()))
}

func TestMeetingRowValues(t *testing.T) {
	m := sampleMeeting("m-1")
	m.RescheduleCount = 2
	row := meetingRowValues(m)

	require.Len(t, row, len(meetingHeaders))
	assert.Equal(t, "m-1", row[0])
	assert.Equal(t, "2026-03-10", row[6])
	assert.Equal(t, models.StatusConfirmed, row[8])
	assert.Equal(t, 2, row[9])
	assert.Equal(t, "2026-03-01 10:00:00", row[10])
	assert.Equal(t, "2026-03-01 11:00:00", row[11])
}

func TestRowFromRange(t *testing.T) {
	tests := []struct {
		in   string
		want int
		ok   bool
	}{
		{in: "Meetings!A10:L10", want: 10, ok: true},
		{in: "A2", want: 2, ok: true},
		{in: "Meetings!$A$5:$L$5", want: 5, ok: true},
		{in: "Meetings!A:A", ok: false},
		{in: "", ok: false},
	}
	for _, tt := range tests {
		row, ok := rowFromRange(tt.in)
		assert.Equal(t, tt.ok, ok, tt.in)
		assert.Equal(t, tt.want, row, tt.in)
	}
}

func TestServiceAccountEmail(t *testing.T) {
	path := filepath.Join(t.TempDir(), "creds.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"client_email":"mirror@project.iam.gserviceaccount.com"}`), 0o600))

	email, err := ServiceAccountEmail(path)
	require.NoError(t, err)
	assert.Equal(t, "mirror@project.iam.gserviceaccount.com", email)

	_, err = ServiceAccountEmail(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}
