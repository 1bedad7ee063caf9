package models

import (
	"fmt"
	"time"
)

type CaseStatus string

const (
	CaseStatusPassed  CaseStatus = "passed"
	CaseStatusFailed  CaseStatus = "failed"
	CaseStatusSkipped CaseStatus = "skipped"
)

func ParseCaseStatus(s string) (CaseStatus, error) {
	switch s {
	case "passed":
		return CaseStatusPassed, nil
	case "failed":
		return CaseStatusFailed, nil
	case "skipped":
		return CaseStatusSkipped, nil
	default:
		return "", fmt.Errorf("invalid case status: %s", s)
	}
}

// CaseResult is the outcome of a single functional case execution.
type CaseResult struct {
	Name     string
	Status   CaseStatus
	Error    string
	Duration time.Duration
}

// Run groups the case results of one harness invocation.
type Run struct {
	ID         string
	StartedAt  time.Time
	FinishedAt time.Time
	Results    []CaseResult
}

func (r *Run) Passed() int {
	return r.count(CaseStatusPassed)
}

func (r *Run) Failed() int {
	return r.count(CaseStatusFailed)
}

func (r *Run) Skipped() int {
	return r.count(CaseStatusSkipped)
}

func (r *Run) count(status CaseStatus) int {
	n := 0
	for _, res := range r.Results {
		if res.Status == status {
			n++
		}
	}
	return n
}
