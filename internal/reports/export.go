package reports

import (
	"bytes"
	"fmt"
	"time"

	"github.com/jung-kurt/gofpdf"
	"github.com/xuri/excelize/v2"

	history "irrigation-cloud/internal/history/domain"
)

// BuildWateringXLSX renders watering samples as a spreadsheet.
func BuildWateringXLSX(deviceID string, samples []history.WateringSample) ([]byte, error) {
	file := excelize.NewFile()
	sheet := "Watering"
	index, err := file.NewSheet(sheet)
	if err != nil {
		return nil, err
	}
	file.SetActiveSheet(index)
	_ = file.DeleteSheet("Sheet1")

	headers := []string{"Time", "Plant", "Volume (L)", "Duration (s)"}
	for col, header := range headers {
		cell, err := excelize.CoordinatesToCellName(col+1, 1)
		if err != nil {
			return nil, err
		}
		if err := file.SetCellValue(sheet, cell, header); err != nil {
			return nil, err
		}
	}
	for row, sample := range samples {
		values := []any{
			sample.TS.Format(time.RFC3339),
			sample.PlantID,
			sample.VolumeLiters,
			sample.DurationSeconds,
		}
		for col, value := range values {
			cell, err := excelize.CoordinatesToCellName(col+1, row+2)
			if err != nil {
				return nil, err
			}
			if err := file.SetCellValue(sheet, cell, value); err != nil {
				return nil, err
			}
		}
	}

	var buf bytes.Buffer
	if err := file.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// BuildWateringPDF renders a minimal PDF watering report.
func BuildWateringPDF(deviceID string, from, to time.Time, samples []history.WateringSample) ([]byte, error) {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetFont("Arial", "", 12)
	pdf.AddPage()

	pdf.Cell(0, 8, "Watering Report")
	pdf.Ln(10)
	pdf.SetFont("Arial", "", 10)
	pdf.Cell(0, 6, fmt.Sprintf("Device: %s", deviceID))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Period: %s - %s", from.Format("2006-01-02"), to.Format("2006-01-02")))
	pdf.Ln(8)

	var totalVolume float64
	var totalSeconds int
	for _, sample := range samples {
		totalVolume += sample.VolumeLiters
		totalSeconds += sample.DurationSeconds
	}
	pdf.Cell(0, 6, fmt.Sprintf("Total Volume (L): %.2f", totalVolume))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Total Runtime (s): %d", totalSeconds))
	pdf.Ln(8)

	pdf.SetFont("Arial", "B", 10)
	pdf.CellFormat(50, 6, "Time", "1", 0, "C", false, 0, "")
	pdf.CellFormat(50, 6, "Plant", "1", 0, "C", false, 0, "")
	pdf.CellFormat(40, 6, "Volume (L)", "1", 0, "C", false, 0, "")
	pdf.CellFormat(40, 6, "Duration (s)", "1", 0, "C", false, 0, "")
	pdf.Ln(-1)
	pdf.SetFont("Arial", "", 10)
	for _, sample := range samples {
		pdf.CellFormat(50, 6, sample.TS.Format("2006-01-02 15:04"), "1", 0, "C", false, 0, "")
		pdf.CellFormat(50, 6, sample.PlantID, "1", 0, "C", false, 0, "")
		pdf.CellFormat(40, 6, fmt.Sprintf("%.2f", sample.VolumeLiters), "1", 0, "R", false, 0, "")
		pdf.CellFormat(40, 6, fmt.Sprintf("%d", sample.DurationSeconds), "1", 0, "R", false, 0, "")
		pdf.Ln(-1)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
