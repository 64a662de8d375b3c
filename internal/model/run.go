package model

import "time"

// RunSource names where an ingestion run's items came from.
type RunSource string

const (
	RunSourceAPI  RunSource = "api"
	RunSourceBulk RunSource = "bulk"
)

// RunState is derived from a run's terminal fields.
type RunState string

const (
	RunStateRunning   RunState = "running"
	RunStateSucceeded RunState = "succeeded"
	RunStateFailed    RunState = "failed"
)

// IngestionRun records one ingestion attempt. It is created open and
// finalized exactly once.
type IngestionRun struct {
	ID            int64      `json:"id"`
	Source        RunSource  `json:"source"`
	StartedAt     time.Time  `json:"started_at"`
	FinishedAt    *time.Time `json:"finished_at"`
	ItemsIngested int        `json:"items_ingested"`
	ItemsFailed   int        `json:"items_failed"`
	Success       bool       `json:"success"`
	Details       string     `json:"details"`
}

// State reports running until the run has been finalized.
func (r *IngestionRun) State() RunState {
	switch {
	case r.FinishedAt == nil:
		return RunStateRunning
	case r.Success:
		return RunStateSucceeded
	default:
		return RunStateFailed
	}
}

// Result converts the run into the caller-facing summary.
func (r *IngestionRun) Result() RunResult {
	return RunResult{
		RunID:         r.ID,
		ItemsIngested: r.ItemsIngested,
		ItemsFailed:   r.ItemsFailed,
		Success:       r.Success,
		Details:       r.Details,
	}
}

// IngestionError is an append-only diagnostic entry. RunID is nil when the
// run it belonged to has been deleted.
type IngestionError struct {
	ID             int64     `json:"id"`
	RunID          *int64    `json:"run_id"`
	OccurredAt     time.Time `json:"occurred_at"`
	ReleaseID      string    `json:"release_id"`
	Message        string    `json:"message"`
	PayloadSnippet string    `json:"payload_snippet"`
}

// RunResult is what ingestion operations hand back to callers.
type RunResult struct {
	RunID         int64  `json:"runId"`
	ItemsIngested int    `json:"itemsIngested"`
	ItemsFailed   int    `json:"itemsFailed"`
	Success       bool   `json:"success"`
	Details       string `json:"details"`
}
