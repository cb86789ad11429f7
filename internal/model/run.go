package model

import "time"

// SyncStatus is the state of a sync run.
type SyncStatus string

const (
	SyncStatusRunning  SyncStatus = "running"
	SyncStatusComplete SyncStatus = "complete"
	SyncStatusSkipped  SyncStatus = "skipped"
	SyncStatusFailed   SyncStatus = "failed"
)

// SyncRun is one entry of the sync-run log.
type SyncRun struct {
	ID            string     `json:"id"`
	Mode          string     `json:"mode"`
	WindowStart   *time.Time `json:"window_start,omitempty"`
	WindowEnd     *time.Time `json:"window_end,omitempty"`
	Status        SyncStatus `json:"status"`
	RawPath       string     `json:"raw_path,omitempty"`
	CanonicalPath string     `json:"canonical_path,omitempty"`
	Inserted      int        `json:"inserted"`
	Duplicates    int        `json:"duplicates"`
	Error         string     `json:"error,omitempty"`
	StartedAt     time.Time  `json:"started_at"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
}
