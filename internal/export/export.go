// Package export writes ledger records to spreadsheets.
package export

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/xuri/excelize/v2"

	"github.com/Lllllllleong/pdfrasterflow/internal/models"
)

// SheetName is the worksheet holding document rows.
const SheetName = "SourceFile"

var documentHeader = []interface{}{
	"id", "identifier", "local_path", "file_size", "page_count", "status",
	"seen_day", "first_seen_at", "updated_at", "error_details",
}

// WriteDocuments writes one row per record to a new workbook at path, replacing any
// existing file.
func WriteDocuments(path string, recs []models.DocumentRecord) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", SheetName); err != nil {
		return fmt.Errorf("failed to name sheet: %w", err)
	}

	if err := f.SetSheetRow(SheetName, "A1", &documentHeader); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	for i, rec := range recs {
		row := []interface{}{
			rec.ID,
			rec.Identifier,
			rec.LocalPath,
			rec.FileSize,
			rec.PageCount,
			string(rec.Status),
			rec.SeenDay,
			rec.FirstSeenAt.Format(models.TimestampLayout),
			rec.UpdatedAt.Format(models.TimestampLayout),
			rec.ErrorDetails,
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(SheetName, cell, &row); err != nil {
			return fmt.Errorf("failed to write row for %s: %w", rec.Identifier, err)
		}
	}

	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("failed to create header style: %w", err)
	}
	lastCol, err := excelize.ColumnNumberToName(len(documentHeader))
	if err != nil {
		return err
	}
	if err := f.SetCellStyle(SheetName, "A1", lastCol+"1", bold); err != nil {
		return fmt.Errorf("failed to style header: %w", err)
	}
	if err := f.AutoFilter(SheetName, fmt.Sprintf("A1:%s%d", lastCol, len(recs)+1), nil); err != nil {
		return fmt.Errorf("failed to add filter: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create export directory: %w", err)
	}
	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("failed to save %s: %w", path, err)
	}
	return nil
}

// ReportPath returns <dir>/Report_<day>.xlsx.
func ReportPath(dir, day string) string {
	return filepath.Join(dir, "Report_"+day+".xlsx")
}
