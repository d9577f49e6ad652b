package services

import (
	"bytes"
	"fmt"
	"io"
	"time"

	"github.com/go-pdf/fpdf"
	"github.com/xuri/excelize/v2"
	"github.com/yeremiapane/restaurant-floor/models"
	"github.com/yeremiapane/restaurant-floor/utils"
)

var workloadHeader = []string{"Staff", "Role", "Active Tables", "Sessions", "Revenue", "Avg Minutes"}

func summaryRows(m models.TableMetrics) [][2]string {
	return [][2]string{
		{"Branch", m.BranchID},
		{"Window", fmt.Sprintf("%s - %s", m.WindowStart.Format(time.RFC3339), m.WindowEnd.Format(time.RFC3339))},
		{"Total tables", fmt.Sprint(m.TotalTables)},
		{"Available", fmt.Sprint(m.Available)},
		{"Occupied", fmt.Sprint(m.Occupied)},
		{"Reserved", fmt.Sprint(m.Reserved)},
		{"Cleaning", fmt.Sprint(m.Cleaning)},
		{"Maintenance", fmt.Sprint(m.Maintenance)},
		{"Occupancy rate", fmt.Sprintf("%.1f%%", m.OccupancyRate*100)},
		{"Average session (min)", fmt.Sprintf("%.1f", m.AverageSessionDuration)},
		{"Total sessions", fmt.Sprint(m.TotalSessions)},
		{"Total revenue", utils.FormatCurrencyIDR(m.TotalRevenue)},
		{"Active staff", fmt.Sprint(m.ActiveStaff)},
	}
}

// WriteMetricsPDF renders report as a one page A4 summary.
func WriteMetricsPDF(w io.Writer, report *models.MetricsReport) error {
	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetTitle("Floor metrics "+report.Metrics.BranchID, true)
	pdf.AddPage()

	pdf.SetFont("Arial", "B", 16)
	pdf.CellFormat(0, 10, "Floor Metrics", "", 1, "C", false, 0, "")
	pdf.Ln(4)

	pdf.SetFont("Arial", "", 11)
	for _, row := range summaryRows(report.Metrics) {
		pdf.CellFormat(60, 7, row[0], "", 0, "L", false, 0, "")
		pdf.CellFormat(0, 7, row[1], "", 1, "L", false, 0, "")
	}

	if len(report.Workloads) > 0 {
		pdf.Ln(6)
		pdf.SetFont("Arial", "B", 10)
		widths := []float64{50, 25, 25, 20, 40, 25}
		for i, h := range workloadHeader {
			pdf.CellFormat(widths[i], 7, h, "1", 0, "C", false, 0, "")
		}
		pdf.Ln(-1)

		pdf.SetFont("Arial", "", 10)
		for _, wl := range report.Workloads {
			cells := []string{
				wl.StaffName,
				wl.Role,
				fmt.Sprint(wl.ActiveTables),
				fmt.Sprint(wl.TotalSessions),
				utils.FormatCurrencyIDR(wl.TotalRevenue),
				fmt.Sprintf("%.1f", wl.AverageSessionTime),
			}
			for i, v := range cells {
				align := "R"
				if i < 2 {
					align = "L"
				}
				pdf.CellFormat(widths[i], 7, v, "1", 0, align, false, 0, "")
			}
			pdf.Ln(-1)
		}
	}

	return pdf.Output(w)
}

// WriteMetricsXLSX renders report as a workbook with a summary sheet and a
// workload sheet.
func WriteMetricsXLSX(w io.Writer, report *models.MetricsReport) error {
	f := excelize.NewFile()
	defer f.Close()

	const summary, workloads = "Summary", "Workloads"
	if err := f.SetSheetName("Sheet1", summary); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}

	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("create style: %w", err)
	}

	for i, row := range summaryRows(report.Metrics) {
		r := i + 1
		if err := f.SetCellValue(summary, fmt.Sprintf("A%d", r), row[0]); err != nil {
			return err
		}
		if err := f.SetCellValue(summary, fmt.Sprintf("B%d", r), row[1]); err != nil {
			return err
		}
	}
	if err := f.SetColWidth(summary, "A", "A", 24); err != nil {
		return err
	}

	if _, err := f.NewSheet(workloads); err != nil {
		return fmt.Errorf("create sheet: %w", err)
	}
	for i, h := range workloadHeader {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		if err := f.SetCellValue(workloads, cell, h); err != nil {
			return err
		}
	}
	if err := f.SetCellStyle(workloads, "A1", "F1", bold); err != nil {
		return err
	}
	for i, wl := range report.Workloads {
		values := []interface{}{wl.StaffName, wl.Role, wl.ActiveTables, wl.TotalSessions, wl.TotalRevenue, wl.AverageSessionTime}
		for j, v := range values {
			cell, _ := excelize.CoordinatesToCellName(j+1, i+2)
			if err := f.SetCellValue(workloads, cell, v); err != nil {
				return err
			}
		}
	}

	return f.Write(w)
}

// RenderMetrics returns the report in the given format, "pdf" or "xlsx".
func RenderMetrics(format string, report *models.MetricsReport) ([]byte, error) {
	var buf bytes.Buffer
	var err error
	switch format {
	case "pdf":
		err = WriteMetricsPDF(&buf, report)
	case "xlsx":
		err = WriteMetricsXLSX(&buf, report)
	default:
		return nil, validationError("unsupported report format %q", format)
	}
	if err != nil {
		return nil, fmt.Errorf("render %s report: %w", format, err)
	}
	return buf.Bytes(), nil
}
