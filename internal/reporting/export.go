// Package reporting renders alert history exports for compliance reviews.
package reporting

import (
	"bytes"
	"fmt"
	"time"

	"github.com/jung-kurt/gofpdf"
	"github.com/xuri/excelize/v2"

	alerts "coldchain-cloud/internal/alerts/domain"
)

// HistoryExport describes one export request.
type HistoryExport struct {
	OrgName string
	From    time.Time
	To      time.Time
	Alerts  []alerts.ActiveAlert
}

// BuildHistoryPDF renders a minimal PDF for an alert history window.
func BuildHistoryPDF(export HistoryExport) ([]byte, error) {
	pdf := gofpdf.New("L", "mm", "A4", "")
	pdf.SetFont("Arial", "", 12)
	pdf.AddPage()

	pdf.Cell(0, 8, "Alert History Report")
	pdf.Ln(10)
	pdf.SetFont("Arial", "", 10)
	if export.OrgName != "" {
		pdf.Cell(0, 6, fmt.Sprintf("Organization: %s", export.OrgName))
		pdf.Ln(5)
	}
	pdf.Cell(0, 6, fmt.Sprintf("Window: %s to %s",
		export.From.Format("2006-01-02"), export.To.Format("2006-01-02")))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Alerts: %d", len(export.Alerts)))
	pdf.Ln(8)

	pdf.SetFont("Arial", "B", 9)
	pdf.CellFormat(45, 6, "Unit", "1", 0, "C", false, 0, "")
	pdf.CellFormat(40, 6, "Site", "1", 0, "C", false, 0, "")
	pdf.CellFormat(35, 6, "Type", "1", 0, "C", false, 0, "")
	pdf.CellFormat(20, 6, "Severity", "1", 0, "C", false, 0, "")
	pdf.CellFormat(40, 6, "Raised", "1", 0, "C", false, 0, "")
	pdf.CellFormat(40, 6, "Resolved", "1", 0, "C", false, 0, "")
	pdf.CellFormat(40, 6, "Acknowledged By", "1", 0, "C", false, 0, "")
	pdf.Ln(-1)
	pdf.SetFont("Arial", "", 9)
	for _, alert := range export.Alerts {
		resolved := "open"
		if alert.ResolvedAt != nil {
			resolved = alert.ResolvedAt.Format(time.RFC3339)
		}
		pdf.CellFormat(45, 6, alert.UnitName, "1", 0, "L", false, 0, "")
		pdf.CellFormat(40, 6, alert.SiteName, "1", 0, "L", false, 0, "")
		pdf.CellFormat(35, 6, alert.Type, "1", 0, "L", false, 0, "")
		pdf.CellFormat(20, 6, string(alert.Severity), "1", 0, "C", false, 0, "")
		pdf.CellFormat(40, 6, alert.RaisedAt.Format(time.RFC3339), "1", 0, "C", false, 0, "")
		pdf.CellFormat(40, 6, resolved, "1", 0, "C", false, 0, "")
		pdf.CellFormat(40, 6, alert.AcknowledgedBy, "1", 0, "L", false, 0, "")
		pdf.Ln(-1)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// BuildHistoryXLSX renders a minimal XLSX for an alert history window.
func BuildHistoryXLSX(export HistoryExport) ([]byte, error) {
	f := excelize.NewFile()
	summarySheet := "summary"
	alertsSheet := "alerts"
	f.SetSheetName("Sheet1", summarySheet)
	f.NewSheet(alertsSheet)

	critical, warning := 0, 0
	for _, alert := range export.Alerts {
		switch alert.Severity {
		case alerts.SeverityCritical:
			critical++
		case alerts.SeverityWarning:
			warning++
		}
	}

	_ = f.SetCellValue(summarySheet, "A1", "Alert History Report")
	_ = f.SetCellValue(summarySheet, "A3", "Organization")
	_ = f.SetCellValue(summarySheet, "B3", export.OrgName)
	_ = f.SetCellValue(summarySheet, "A4", "From")
	_ = f.SetCellValue(summarySheet, "B4", export.From.Format("2006-01-02"))
	_ = f.SetCellValue(summarySheet, "A5", "To")
	_ = f.SetCellValue(summarySheet, "B5", export.To.Format("2006-01-02"))
	_ = f.SetCellValue(summarySheet, "A6", "Total Alerts")
	_ = f.SetCellValue(summarySheet, "B6", len(export.Alerts))
	_ = f.SetCellValue(summarySheet, "A7", "Critical")
	_ = f.SetCellValue(summarySheet, "B7", critical)
	_ = f.SetCellValue(summarySheet, "A8", "Warning")
	_ = f.SetCellValue(summarySheet, "B8", warning)

	headers := []string{"Unit", "Site", "Area", "Type", "Severity", "Title", "Message", "Raised", "Acknowledged", "Acknowledged By", "Resolved"}
	for i, header := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(alertsSheet, cell, header)
	}
	for i, alert := range export.Alerts {
		row := i + 2
		acknowledged := ""
		if alert.AcknowledgedAt != nil {
			acknowledged = alert.AcknowledgedAt.Format(time.RFC3339)
		}
		resolved := ""
		if alert.ResolvedAt != nil {
			resolved = alert.ResolvedAt.Format(time.RFC3339)
		}
		values := []any{
			alert.UnitName, alert.SiteName, alert.AreaName, alert.Type,
			string(alert.Severity), alert.Title, alert.Message,
			alert.RaisedAt.Format(time.RFC3339), acknowledged,
			alert.AcknowledgedBy, resolved,
		}
		for col, value := range values {
			cell, _ := excelize.CoordinatesToCellName(col+1, row)
			_ = f.SetCellValue(alertsSheet, cell, value)
		}
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
