// Package v1 defines the JSON types served by the report API.
package v1

import "time"

// RunReport is one recorded harness run.
type RunReport struct {
	ID         string       `json:"id"`
	StartedAt  time.Time    `json:"started_at"`
	FinishedAt time.Time    `json:"finished_at"`
	Total      int          `json:"total"`
	Passed     int          `json:"passed"`
	Failed     int          `json:"failed"`
	Cases      []CaseReport `json:"cases,omitempty"`
}

// CaseReport is the outcome of a single case within a run.
type CaseReport struct {
	Name       string  `json:"name"`
	Status     string  `json:"status"`
	Error      *string `json:"error,omitempty"`
	DurationMs int64   `json:"duration_ms"`
}

// RunListResponse wraps the run history listing.
type RunListResponse struct {
	Total int         `json:"total"`
	Runs  []RunReport `json:"runs"`
}
