package export

import (
	"bytes"
	"testing"
	"time"

	"meetdesk/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func TestWriteMeetings(t *testing.T) {
	created := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)
	meetings := []*models.Meeting{
		{ID: "m-1", MeetingDay: "2026-03-02", MeetingTime: "09:00", Status: models.StatusPending, FullName: "Ada", Email: "ada@example.com", CreatedAt: created},
		{ID: "m-2", MeetingDay: "2026-03-03", MeetingTime: "14:00", Status: models.StatusCancelled, FullName: "Alan", Email: "alan@example.com", RescheduleCount: 2, CreatedAt: created},
	}

	var buf bytes.Buffer
	require.NoError(t, WriteMeetings(&buf, meetings, time.UTC))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, []string{SheetName}, f.GetSheetList())

	header, err := f.GetCellValue(SheetName, "A1")
	require.NoError(t, err)
	assert.Equal(t, "ID", header)

	rows, err := f.GetRows(SheetName)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "m-1", rows[1][0])
	assert.Equal(t, "2026-03-03", rows[2][1])
	assert.Equal(t, models.StatusCancelled, rows[2][3])
	assert.Equal(t, "2", rows[2][11])
	assert.Equal(t, "2026-03-01 09:30", rows[1][12])

	pending, err := f.GetCellStyle(SheetName, "D2")
	require.NoError(t, err)
	cancelled, err := f.GetCellStyle(SheetName, "D3")
	require.NoError(t, err)
	assert.NotEqual(t, pending, cancelled)
}

func TestWriteMeetingsEmpty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteMeetings(&buf, nil, nil))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows(SheetName)
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}
