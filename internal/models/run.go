package models

import "time"

type RunStatus string

const (
	RunStatusCompleted RunStatus = "completed"
	RunStatusMock      RunStatus = "completed (mock)"
)

// RunResult is produced once per run attempt and never changed afterwards.
type RunResult struct {
	Status         RunStatus      `json:"status"`
	Goal           string         `json:"goal"`
	AgentsExecuted []string       `json:"agents_executed"`
	Timestamp      time.Time      `json:"timestamp"`
	Data           map[string]any `json:"data"`
	Note           string         `json:"note,omitempty"`
	Metrics        SessionMetrics `json:"metrics"`
}

func (r *RunResult) IsMock() bool {
	return r.Status == RunStatusMock
}

type SessionMetrics struct {
	TotalTasks       int    `json:"total_tasks"`
	CompletedTasks   int    `json:"completed_tasks"`
	APICalls         int    `json:"api_calls"`
	EstimatedSavings string `json:"estimated_savings"`
}
