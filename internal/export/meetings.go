package export

import (
	"fmt"
	"io"
	"time"

	"meetdesk/internal/models"

	"github.com/xuri/excelize/v2"
)

const SheetName = "Meetings"

var headers = []string{
	"ID", "Date", "Time", "Status", "Name", "Email", "Phone",
	"Project type", "Description", "Timeline", "Budget", "Reschedules", "Created",
}

var statusColors = map[string]string{
	models.StatusPending:   "#FFEB9C",
	models.StatusConfirmed: "#C6EFCE",
	models.StatusCompleted: "#DDEBF7",
	models.StatusCancelled: "#FFC7CE",
}

// WriteMeetings renders meetings as an XLSX workbook into w. Times are shown
// in loc.
func WriteMeetings(w io.Writer, meetings []*models.Meeting, loc *time.Location) error {
	if loc == nil {
		loc = time.UTC
	}

	f := excelize.NewFile()
	defer f.Close()

	index, err := f.NewSheet(SheetName)
	if err != nil {
		return fmt.Errorf("error creating sheet: %w", err)
	}
	f.SetActiveSheet(index)
	_ = f.DeleteSheet("Sheet1")

	headerStyle, err := f.NewStyle(&excelize.Style{
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"#D9D9D9"}, Pattern: 1},
		Font:      &excelize.Font{Bold: true},
		Alignment: &excelize.Alignment{Horizontal: "center"},
	})
	if err != nil {
		return fmt.Errorf("error creating header style: %w", err)
	}
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(SheetName, cell, h)
	}
	lastHeader, _ := excelize.CoordinatesToCellName(len(headers), 1)
	_ = f.SetCellStyle(SheetName, "A1", lastHeader, headerStyle)

	styles := make(map[string]int, len(statusColors))
	for row, m := range meetings {
		r := row + 2
		values := []interface{}{
			m.ID,
			m.MeetingDay,
			m.MeetingTime,
			m.Status,
			m.FullName,
			m.Email,
			m.Phone,
			m.ProjectType,
			m.ProjectDescription,
			m.Timeline,
			m.Budget,
			m.RescheduleCount,
			m.CreatedAt.In(loc).Format("2006-01-02 15:04"),
		}
		for col, v := range values {
			cell, _ := excelize.CoordinatesToCellName(col+1, r)
			_ = f.SetCellValue(SheetName, cell, v)
		}

		style, err := statusStyle(f, styles, m.Status)
		if err != nil {
			return err
		}
		cell, _ := excelize.CoordinatesToCellName(4, r)
		_ = f.SetCellStyle(SheetName, cell, cell, style)
	}

	_ = f.SetColWidth(SheetName, "A", "A", 38)
	_ = f.SetColWidth(SheetName, "B", "H", 16)
	_ = f.SetColWidth(SheetName, "I", "I", 50)
	_ = f.SetColWidth(SheetName, "J", "M", 16)

	if err := f.Write(w); err != nil {
		return fmt.Errorf("error writing workbook: %w", err)
	}
	return nil
}

func statusStyle(f *excelize.File, cache map[string]int, status string) (int, error) {
	if id, ok := cache[status]; ok {
		return id, nil
	}
	color, ok := statusColors[status]
	if !ok {
		color = "#FFFFFF"
	}
	id, err := f.NewStyle(&excelize.Style{
		Fill:      excelize.Fill{Type: "pattern", Color: []string{color}, Pattern: 1},
		Alignment: &excelize.Alignment{Horizontal: "center"},
	})
	if err != nil {
		return 0, fmt.Errorf("error creating status style: %w", err)
	}
	cache[status] = id
	return id, nil
}
