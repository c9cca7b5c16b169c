package report

import (
	"bytes"
	"fmt"

	"attendance.service/internal/core/model"
	"github.com/jung-kurt/gofpdf"
)

// RenderPDF produces the attendance report for a date range as a PDF.
// Records arrive already scoped and ordered by the service layer.
func RenderPDF(from, to string, records []model.AttendanceRecord) ([]byte, error) {
	pdf := gofpdf.New("L", "mm", "A4", "")
	pdf.AddPage()
	pdf.SetFont("Helvetica", "B", 16)
	pdf.Cell(60, 10, "Attendance Report")
	pdf.Ln(8)
	pdf.SetFont("Helvetica", "", 11)
	pdf.Cell(0, 8, fmt.Sprintf("Period: %s to %s", from, to))
	pdf.Ln(10)

	pdf.SetFont("Helvetica", "B", 10)
	headers := []struct {
		label string
		width float64
	}{
		{"Date", 28},
		{"Employee", 55},
		{"Status", 25},
		{"Check-In", 30},
		{"Check-Out", 30},
		{"Hours", 22},
		{"Overtime", 22},
	}
	for _, h := range headers {
		pdf.CellFormat(h.width, 8, h.label, "1", 0, "L", false, 0, "")
	}
	pdf.Ln(-1)

	pdf.SetFont("Helvetica", "", 10)
	var totalHours, totalOvertime float64
	for i := range records {
		rec := &records[i]
		pdf.CellFormat(28, 7, rec.Date, "1", 0, "L", false, 0, "")
		pdf.CellFormat(55, 7, rec.OwnerID, "1", 0, "L", false, 0, "")
		pdf.CellFormat(25, 7, string(rec.Status), "1", 0, "L", false, 0, "")
		pdf.CellFormat(30, 7, sampleTime(rec.CheckIn), "1", 0, "L", false, 0, "")
		pdf.CellFormat(30, 7, sampleTime(rec.CheckOut), "1", 0, "L", false, 0, "")
		pdf.CellFormat(22, 7, hours(rec.HoursWorked), "1", 0, "R", false, 0, "")
		pdf.CellFormat(22, 7, hours(rec.OvertimeHours), "1", 0, "R", false, 0, "")
		pdf.Ln(-1)

		if rec.HoursWorked != nil {
			totalHours += *rec.HoursWorked
		}
		if rec.OvertimeHours != nil {
			totalOvertime += *rec.OvertimeHours
		}
	}

	pdf.Ln(4)
	pdf.SetFont("Helvetica", "B", 11)
	pdf.Cell(0, 8, fmt.Sprintf("Total hours: %.2f    Total overtime: %.2f    Records: %d", totalHours, totalOvertime, len(records)))

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func sampleTime(s *model.LocationSample) string {
	if s == nil {
		return "-"
	}
	return s.CapturedAt.UTC().Format("15:04:05")
}

func hours(h *float64) string {
	if h == nil {
		return "-"
	}
	return fmt.Sprintf("%.2f", *h)
}
