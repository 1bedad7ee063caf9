// Package report renders recorded runs into spreadsheet files.
package report

import (
	"fmt"

	"github.com/xuri/excelize/v2"

	"github.com/kubev2v/qemu-backup-harness/internal/models"
)

const (
	summarySheet = "Summary"
	casesSheet   = "Cases"
)

// WriteExcel renders a run into an xlsx workbook with a summary sheet and
// one row per case.
func WriteExcel(run *models.Run, path string) error {
	f := excelize.NewFile()
	defer f.Close() //nolint:errcheck

	f.SetSheetName("Sheet1", summarySheet)
	if _, err := f.NewSheet(casesSheet); err != nil {
		return fmt.Errorf("failed to create sheet: %w", err)
	}

	summary := [][]any{
		{"Run ID", run.ID},
		{"Started", run.StartedAt.Format("2006-01-02 15:04:05")},
		{"Finished", run.FinishedAt.Format("2006-01-02 15:04:05")},
		{"Total", len(run.Results)},
		{"Passed", run.Passed()},
		{"Failed", run.Failed()},
		{"Skipped", run.Skipped()},
	}
	for i, row := range summary {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(summarySheet, cell, &row); err != nil {
			return err
		}
	}

	header := []any{"Case", "Status", "Duration (ms)", "Error"}
	if err := f.SetSheetRow(casesSheet, "A1", &header); err != nil {
		return err
	}
	for i, res := range run.Results {
		row := []any{res.Name, string(res.Status), res.Duration.Milliseconds(), res.Error}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(casesSheet, cell, &row); err != nil {
			return err
		}
	}

	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("failed to save report: %w", err)
	}
	return nil
}
