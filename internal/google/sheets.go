package google

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"meetdesk/internal/models"

	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"
)

const timestampLayout = "2006-01-02 15:04:05"

var errRowNotFound = errors.New("meeting row not found")

var meetingHeaders = []interface{}{
	"ID", "User ID", "Full Name", "Email", "Phone", "Project Type",
	"Day", "Time", "Status", "Reschedules", "Created At", "Updated At",
}

// MeetingSheet mirrors meetings into one tab of a spreadsheet, one row per
// meeting keyed by the id in column A.
type MeetingSheet struct {
	service       *sheets.Service
	spreadsheetID string
	title         string
	rowCache      map[string]int
	cacheMu       sync.RWMutex
}

// NewMeetingSheet authenticates with a service account key file.
func NewMeetingSheet(ctx context.Context, credentialsFile, spreadsheetID, title string) (*MeetingSheet, error) {
	credentialsJSON, err := os.ReadFile(credentialsFile)
	if err != nil {
		return nil, fmt.Errorf("unable to read credentials file: %w", err)
	}

	config, err := google.JWTConfigFromJSON(credentialsJSON, sheets.SpreadsheetsScope)
	if err != nil {
		return nil, fmt.Errorf("unable to parse credentials: %w", err)
	}

	srv, err := sheets.NewService(ctx, option.WithHTTPClient(config.Client(ctx)))
	if err != nil {
		return nil, fmt.Errorf("unable to create Sheets service: %w", err)
	}

	return newMeetingSheet(srv, spreadsheetID, title), nil
}

func newMeetingSheet(srv *sheets.Service, spreadsheetID, title string) *MeetingSheet {
	if title == "" {
		title = "Meetings"
	}
	return &MeetingSheet{
		service:       srv,
		spreadsheetID: spreadsheetID,
		title:         title,
		rowCache:      make(map[string]int),
	}
}

func (s *MeetingSheet) rangeOf(cells string) string {
	return s.title + "!" + cells
}

// TestConnection reads the header cell.
func (s *MeetingSheet) TestConnection(ctx context.Context) error {
	_, err := s.service.Spreadsheets.Values.Get(s.spreadsheetID, s.rangeOf("A1")).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("connection test failed: %w", err)
	}
	return nil
}

// WriteHeader overwrites the first row with column titles.
func (s *MeetingSheet) WriteHeader(ctx context.Context) error {
	_, err := s.service.Spreadsheets.Values.Update(s.spreadsheetID, s.rangeOf("A1:L1"), &sheets.ValueRange{
		Values: [][]interface{}{meetingHeaders},
	}).ValueInputOption("RAW").Context(ctx).Do()
	return err
}

// WarmUpCache rebuilds the row index from the id column.
func (s *MeetingSheet) WarmUpCache(ctx context.Context) error {
	resp, err := s.service.Spreadsheets.Values.Get(s.spreadsheetID, s.rangeOf("A:A")).Context(ctx).Do()
	if err != nil {
		return err
	}

	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	s.rowCache = make(map[string]int)
	for i, row := range resp.Values {
		if id := cellID(row); id != "" && id != "ID" {
			s.rowCache[id] = i + 1
		}
	}
	return nil
}

// UpsertMeeting rewrites the meeting row, appending it when absent.
func (s *MeetingSheet) UpsertMeeting(ctx context.Context, m *models.Meeting) error {
	if m == nil {
		return errors.New("meeting is nil")
	}

	rowIdx, err := s.FindMeetingRow(ctx, m.ID)
	if errors.Is(err, errRowNotFound) {
		return s.AppendMeeting(ctx, m)
	}
	if err != nil {
		return err
	}

	_, err = s.service.Spreadsheets.Values.Update(s.spreadsheetID, s.rangeOf(fmt.Sprintf("A%d:L%d", rowIdx, rowIdx)), &sheets.ValueRange{
		Values: [][]interface{}{meetingRowValues(m)},
	}).ValueInputOption("RAW").Context(ctx).Do()
	return err
}

// AppendMeeting adds a row and caches its position.
func (s *MeetingSheet) AppendMeeting(ctx context.Context, m *models.Meeting) error {
	resp, err := s.service.Spreadsheets.Values.Append(s.spreadsheetID, s.rangeOf("A:A"), &sheets.ValueRange{
		Values: [][]interface{}{meetingRowValues(m)},
	}).ValueInputOption("RAW").InsertDataOption("INSERT_ROWS").Context(ctx).Do()
	if err != nil {
		return err
	}
	if resp.Updates != nil {
		if row, ok := rowFromRange(resp.Updates.UpdatedRange); ok {
			s.setCachedRow(m.ID, row)
		}
	}
	return nil
}

// FindMeetingRow returns the 1-based row holding meetingID.
func (s *MeetingSheet) FindMeetingRow(ctx context.Context, meetingID string) (int, error) {
	if meetingID == "" {
		return 0, errors.New("meeting id is required")
	}
	if row, ok := s.getCachedRow(meetingID); ok {
		return row, nil
	}

	resp, err := s.service.Spreadsheets.Values.Get(s.spreadsheetID, s.rangeOf("A:A")).Context(ctx).Do()
	if err != nil {
		return 0, err
	}
	for i, row := range resp.Values {
		if cellID(row) == meetingID {
			s.setCachedRow(meetingID, i+1)
			return i + 1, nil
		}
	}
	return 0, errRowNotFound
}

func (s *MeetingSheet) getCachedRow(id string) (int, bool) {
	s.cacheMu.RLock()
	defer s.cacheMu.RUnlock()
	row, ok := s.rowCache[id]
	return row, ok
}

func (s *MeetingSheet) setCachedRow(id string, row int) {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	s.rowCache[id] = row
}

// ServiceAccountEmail returns the client_email of a key file, the address the
// spreadsheet must be shared with.
func ServiceAccountEmail(credentialsFile string) (string, error) {
	file, err := os.ReadFile(credentialsFile)
	if err != nil {
		return "", err
	}
	var creds struct {
		ClientEmail string `json:"client_email"`
	}
	if err := json.Unmarshal(file, &creds); err != nil {
		return "", err
	}
	return creds.ClientEmail, nil
}

func cellID(row []interface{}) string {
	if len(row) == 0 {
		return ""
	}
	return strings.TrimSpace(fmt.Sprint(row[0]))
}

// rowFromRange extracts 10 from "Meetings!A10:L10".
func rowFromRange(a1 string) (int, bool) {
	if i := strings.LastIndex(a1, "!"); i >= 0 {
		a1 = a1[i+1:]
	}
	if i := strings.Index(a1, ":"); i >= 0 {
		a1 = a1[:i]
	}
	digits := strings.TrimLeft(a1, "ABCDEFGHIJKLMNOPQRSTUVWXYZ$")
	row, err := strconv.Atoi(digits)
	if err != nil || row <= 0 {
		return 0, false
	}
	return row, true
}

func meetingRowValues(m *models.Meeting) []interface{} {
	return []interface{}{
		m.ID,
		m.UserID,
		m.FullName,
		m.Email,
		m.Phone,
		m.ProjectType,
		m.MeetingDay,
		m.MeetingTime,
		m.Status,
		m.RescheduleCount,
		m.CreatedAt.UTC().Format(timestampLayout),
		formatUpdated(m.UpdatedAt),
	}
}

func formatUpdated(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(timestampLayout)
}
