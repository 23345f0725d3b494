package api

import (
	"time"

	"github.com/rudolphlogin/feedload/internal/domain"
)

type ExecutionResponse struct {
	ID                 int64   `json:"execution_id"`
	SourceID           int64   `json:"source_id"`
	FeedID             int64   `json:"feed_id"`
	ProcessID          int64   `json:"process_id"`
	WorkflowID         string  `json:"workflow_id"`
	ExecutionDate      *string `json:"execution_date,omitempty"`
	Status             string  `json:"status"`
	PostRunCount       int64   `json:"post_run_count"`
	EligibleForNextRun bool    `json:"eligible_for_next_run"`
	StartedAt          string  `json:"started_at"`
	FinishedAt         *string `json:"finished_at,omitempty"`
}

func newExecutionResponse(rec domain.ExecutionRecord) ExecutionResponse {
	resp := ExecutionResponse{
		ID:                 rec.ID,
		SourceID:           rec.SourceID,
		FeedID:             rec.FeedID,
		ProcessID:          rec.ProcessID,
		WorkflowID:         rec.WorkflowID,
		Status:             string(rec.Status),
		PostRunCount:       rec.PostRunCount,
		EligibleForNextRun: rec.EligibleForNextRun,
		StartedAt:          formatTime(rec.StartedAt),
	}
	if rec.ExecutionDate != nil {
		d := rec.ExecutionDate.Format("2006-01-02")
		resp.ExecutionDate = &d
	}
	if rec.FinishedAt != nil {
		f := formatTime(*rec.FinishedAt)
		resp.FinishedAt = &f
	}
	return resp
}

type ListExecutionsResponse struct {
	Executions []ExecutionResponse `json:"executions"`
}

type CountersResponse struct {
	FeedID    int64  `json:"feed_id"`
	SourceEnv string `json:"source_env"`
	Date      string `json:"date"`
	Success   int64  `json:"success"`
	Failed    int64  `json:"failed"`
	Skipped   int64  `json:"skipped"`
	Files     int64  `json:"files"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
