package stats

import (
	"bytes"
	"fmt"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/unwatchhq/unwatch/internal/models"
)

// XLSXContentType is the media type of an exported workbook.
const XLSXContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// Sheet names in the exported workbook.
const (
	SummarySheet  = "Summary"
	HourlySheet   = "Hourly"
	SessionsSheet = "Sessions"
)

var sessionHeaders = []string{
	"ID", "Start", "End", "Duration (min)", "Focus (min)", "Total (min)",
	"Block Type", "Category", "Mood", "Name",
}

// ExportXLSX renders the derived stats and the underlying sessions as an
// Excel workbook. Times are written in loc (nil means UTC).
func ExportXLSX(derived DerivedStats, sessions []models.FocusSession, loc *time.Location) ([]byte, error) {
	if loc == nil {
		loc = time.UTC
	}

	f := excelize.NewFile()
	// WriteTo needs the file open, so Close runs explicitly at the end.

	if err := f.SetSheetName("Sheet1", SummarySheet); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to rename summary sheet: %w", err)
	}

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#E5EBFF"}, Pattern: 1},
	})
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to create header style: %w", err)
	}

	summaryRows := [][]interface{}{
		{"Metric", "Value"},
		{"Focus %", derived.FocusPercent},
		{"Screen time (min)", derived.ScreenTimeMinutes},
		{"Screen time", FormatDuration(derived.ScreenTimeMinutes)},
		{"Active days", derived.Streak},
	}
	for i, name := range derived.Culprits {
		summaryRows = append(summaryRows, []interface{}{fmt.Sprintf("Culprit #%d", i+1), name})
	}
	if err := writeRows(f, SummarySheet, summaryRows, headerStyle); err != nil {
		f.Close()
		return nil, err
	}

	if _, err := f.NewSheet(HourlySheet); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to create hourly sheet: %w", err)
	}
	hourlyRows := [][]interface{}{{"Hour", "Focus (min)"}}
	for _, h := range derived.Hourly {
		hourlyRows = append(hourlyRows, []interface{}{h.Hour, h.Minutes})
	}
	if err := writeRows(f, HourlySheet, hourlyRows, headerStyle); err != nil {
		f.Close()
		return nil, err
	}

	if _, err := f.NewSheet(SessionsSheet); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to create sessions sheet: %w", err)
	}
	sessionRows := make([][]interface{}, 0, len(sessions)+1)
	header := make([]interface{}, len(sessionHeaders))
	for i, h := range sessionHeaders {
		header[i] = h
	}
	sessionRows = append(sessionRows, header)
	for _, s := range sessions {
		duration := MinutesBetween(s.StartTime, s.EndTime)
		focus := duration
		if s.FocusMinutes != nil {
			focus = min(nonNegative(*s.FocusMinutes), duration)
		}
		total := duration
		if s.TotalMinutes != nil {
			total = nonNegative(*s.TotalMinutes)
		}
		sessionRows = append(sessionRows, []interface{}{
			s.ID,
			s.StartTime.In(loc).Format(time.DateTime),
			s.EndTime.In(loc).Format(time.DateTime),
			duration,
			focus,
			total,
			deref(s.BlockType),
			deref(s.Category),
			deref(s.Mood),
			deref(s.Name),
		})
	}
	if err := writeRows(f, SessionsSheet, sessionRows, headerStyle); err != nil {
		f.Close()
		return nil, err
	}

	var buf bytes.Buffer
	if _, err := f.WriteTo(&buf); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to write workbook: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("failed to close workbook: %w", err)
	}
	return buf.Bytes(), nil
}

// writeRows writes rows starting at A1 and styles the first row as a header.
func writeRows(f *excelize.File, sheet string, rows [][]interface{}, headerStyle int) error {
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return fmt.Errorf("failed to convert coordinates: %w", err)
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return fmt.Errorf("failed to write %s row %d: %w", sheet, i+1, err)
		}
	}
	if len(rows) == 0 || len(rows[0]) == 0 {
		return nil
	}
	last, err := excelize.CoordinatesToCellName(len(rows[0]), 1)
	if err != nil {
		return fmt.Errorf("failed to convert coordinates: %w", err)
	}
	if err := f.SetCellStyle(sheet, "A1", last, headerStyle); err != nil {
		return fmt.Errorf("failed to style %s header: %w", sheet, err)
	}
	return nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
