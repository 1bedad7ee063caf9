package v1

import (
	"github.com/kubev2v/qemu-backup-harness/internal/models"
	"github.com/kubev2v/qemu-backup-harness/internal/store"
)

// NewRunReportFromModel converts a recorded run, results included.
func NewRunReportFromModel(run *models.Run) RunReport {
	report := RunReport{
		ID:         run.ID,
		StartedAt:  run.StartedAt,
		FinishedAt: run.FinishedAt,
		Total:      len(run.Results),
		Passed:     run.Passed(),
		Failed:     run.Failed(),
		Cases:      make([]CaseReport, 0, len(run.Results)),
	}
	for _, res := range run.Results {
		report.Cases = append(report.Cases, NewCaseReportFromModel(res))
	}
	return report
}

func NewCaseReportFromModel(res models.CaseResult) CaseReport {
	report := CaseReport{
		Name:       res.Name,
		Status:     string(res.Status),
		DurationMs: res.Duration.Milliseconds(),
	}
	if res.Error != "" {
		e := res.Error
		report.Error = &e
	}
	return report
}

// NewRunReportFromSummary converts a listing row. Case details are not
// loaded for listings.
func NewRunReportFromSummary(s store.RunSummary) RunReport {
	return RunReport{
		ID:         s.ID,
		StartedAt:  s.StartedAt,
		FinishedAt: s.FinishedAt,
		Total:      s.Total,
		Passed:     s.Passed,
		Failed:     s.Failed,
	}
}
