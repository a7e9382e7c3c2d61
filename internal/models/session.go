package models

import "time"

// HistoryEntry is the minimal durable record of a past run. Full detail is
// fetched from the backend by SessionID when the entry is viewed.
type HistoryEntry struct {
	SessionID string    `json:"session_id"`
	Goal      string    `json:"goal"`
	Timestamp time.Time `json:"timestamp"`
}

// ViewedSession combines a HistoryEntry with freshly fetched backend detail.
// It is never persisted.
type ViewedSession struct {
	Entry         HistoryEntry
	Result        RunResult
	FinalDocument string
}
