// Package export 花名册导出为 Excel
package export

import (
	"bytes"
	"fmt"
	"time"

	"wisefido-supervisor/internal/freshness"
	"wisefido-supervisor/internal/models"

	"github.com/xuri/excelize/v2"
)

const (
	RosterSheet     = "Roster"
	AttendanceSheet = "Attendance"
	timeLayout      = "2006-01-02 15:04:05"
)

// RosterHeader 花名册表头
var RosterHeader = []string{
	"Employee ID",
	"Name",
	"Department",
	"Position",
	"Shift",
	"Device Serial",
	"Status",
	"Recently Seen",
	"Last Seen",
	"Heart Rate",
	"SpO2",
	"Temperature",
}

// AttendanceHeader 考勤表头
var AttendanceHeader = []string{
	"Employee ID",
	"Name",
	"Date",
	"Check In",
	"Check Out",
	"Status",
}

// RosterWorkbook 生成花名册 + 考勤两个工作表的 xlsx
// employees 按调用方给定的顺序写入（通常为当前筛选后的视图）
func RosterWorkbook(employees []models.Employee, attendance []models.AttendanceRecord, now time.Time) ([]byte, error) {
	f := excelize.NewFile()
	// Note: WriteTo 需要文件保持打开，不能 defer Close

	index, err := f.NewSheet(RosterSheet)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to create sheet: %w", err)
	}
	if _, err := f.NewSheet(AttendanceSheet); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to create sheet: %w", err)
	}

	// 删除默认的 Sheet1
	f.DeleteSheet("Sheet1")
	f.SetActiveSheet(index)

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{
			Type:    "pattern",
			Color:   []string{"#E6F3FF"},
			Pattern: 1,
		},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
	})
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to create header style: %w", err)
	}

	names := make(map[string]string, len(employees))
	rosterRows := make([][]any, 0, len(employees))
	for _, e := range employees {
		names[e.ID] = e.Name
		rosterRows = append(rosterRows, rosterRow(e, now))
	}

	attendanceRows := make([][]any, 0, len(attendance))
	for _, a := range attendance {
		attendanceRows = append(attendanceRows, []any{
			a.EmployeeID, names[a.EmployeeID], a.Date, formatTime(a.CheckIn), formatTime(a.CheckOut), a.Status,
		})
	}

	if err := writeSheet(f, RosterSheet, RosterHeader, rosterRows, headerStyle); err != nil {
		f.Close()
		return nil, err
	}
	if err := writeSheet(f, AttendanceSheet, AttendanceHeader, attendanceRows, headerStyle); err != nil {
		f.Close()
		return nil, err
	}

	var buf bytes.Buffer
	if _, err := f.WriteTo(&buf); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to write to buffer: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("failed to close file: %w", err)
	}
	return buf.Bytes(), nil
}

func rosterRow(e models.Employee, now time.Time) []any {
	recently := "No"
	if freshness.RecentlySeen(e.LastSeen, now) {
		recently = "Yes"
	}
	row := []any{
		e.ID, e.Name, e.Department, e.Position, e.Shift, e.DeviceSerial,
		string(e.Status), recently, formatTime(e.LastSeen),
		"", "", "",
	}
	if v := e.LatestVital; v != nil {
		if v.HeartRate != nil {
			row[9] = *v.HeartRate
		}
		if v.SpO2 != nil {
			row[10] = *v.SpO2
		}
		if v.Temperature != nil {
			row[11] = *v.Temperature
		}
	}
	return row
}

func writeSheet(f *excelize.File, sheet string, headers []string, rows [][]any, headerStyle int) error {
	for col, header := range headers {
		cell, err := excelize.CoordinatesToCellName(col+1, 1)
		if err != nil {
			return fmt.Errorf("failed to convert coordinates: %w", err)
		}
		if err := f.SetCellValue(sheet, cell, header); err != nil {
			return fmt.Errorf("failed to set header cell %s: %w", cell, err)
		}
		if err := f.SetCellStyle(sheet, cell, cell, headerStyle); err != nil {
			return fmt.Errorf("failed to set header style: %w", err)
		}
		name, err := excelize.ColumnNumberToName(col + 1)
		if err != nil {
			return fmt.Errorf("failed to convert column number: %w", err)
		}
		if err := f.SetColWidth(sheet, name, name, 18); err != nil {
			return fmt.Errorf("failed to set column width: %w", err)
		}
	}

	for rowIdx, values := range rows {
		row := rowIdx + 2 // 第 1 行是表头
		for colIdx, value := range values {
			if value == nil || value == "" {
				continue
			}
			cell, err := excelize.CoordinatesToCellName(colIdx+1, row)
			if err != nil {
				return fmt.Errorf("failed to convert coordinates: %w", err)
			}
			if err := f.SetCellValue(sheet, cell, value); err != nil {
				return fmt.Errorf("failed to set cell value at row %d, col %d: %w", row, colIdx+1, err)
			}
		}
	}

	// 冻结表头
	if err := f.SetPanes(sheet, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	}); err != nil {
		return fmt.Errorf("failed to freeze panes: %w", err)
	}
	return nil
}

func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return ""
	}
	return t.Format(timeLayout)
}
