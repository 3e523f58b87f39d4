package storage

import (
	"bytes"
	"context"
	"fmt"

	"github.com/xuri/excelize/v2"
)

// ExportPriceList renders the task catalog with its current derived prices as
// an XLSX workbook for the counter staff. Tasks without a pricing snapshot
// appear with empty price cells so stale entries are visible.
func (s *PostgresStore) ExportPriceList(ctx context.Context) ([]byte, error) {
	const operation = "storage.ExportPriceList"

	tasks, err := s.Tasks(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", operation, err)
	}

	f := excelize.NewFile()
	defer f.Close()

	const sheet = "Price List"
	index, err := f.NewSheet(sheet)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to create sheet: %w", operation, err)
	}
	f.DeleteSheet("Sheet1")

	headers := []string{
		"Task", "Category", "Metal", "Karat", "Labor (min)",
		"Base Cost", "Retail", "Wholesale", "Calculated At",
	}
	for col, header := range headers {
		cell, _ := excelize.CoordinatesToCellName(col+1, 1)
		f.SetCellValue(sheet, cell, header)
	}

	for row, task := range tasks {
		data := []interface{}{
			task.Title,
			task.Category,
			task.MetalType,
			task.Karat,
		}
		if task.Pricing != nil {
			data = append(data,
				task.Pricing.TotalLaborMinutes,
				task.Pricing.BaseCost,
				task.Pricing.RetailPrice,
				task.Pricing.WholesalePrice,
				task.Pricing.CalculatedAt.Format("2006-01-02 15:04"),
			)
		} else {
			data = append(data, nil, nil, nil, nil, "never")
		}
		for col, value := range data {
			cell, _ := excelize.CoordinatesToCellName(col+1, row+2)
			f.SetCellValue(sheet, cell, value)
		}
	}

	style, _ := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
	})
	f.SetCellStyle(sheet, "A1", "I1", style)
	f.SetActiveSheet(index)

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, fmt.Errorf("%s: failed to write workbook: %w", operation, err)
	}
	return buf.Bytes(), nil
}
