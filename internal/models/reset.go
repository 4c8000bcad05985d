package models

import (
	"time"
)

// ResetRequest names a corrective reset. Name is the replay key: running the
// same name twice deletes nothing the second time.
type ResetRequest struct {
	Name     string `json:"name"`
	Provider string `json:"provider"`
	Reason   string `json:"reason"`
}

// ResetResult is the ledger row of an executed corrective reset
type ResetResult struct {
	ID             string    `json:"id" db:"id"`
	Name           string    `json:"name" db:"name"`
	Provider       string    `json:"provider" db:"provider"`
	Reason         string    `json:"reason" db:"reason"`
	Removed        int64     `json:"removed" db:"rows_removed"`
	ExecutedAt     time.Time `json:"executedAt" db:"executed_at"`
	AlreadyApplied bool      `json:"alreadyApplied"`
}
