package models

import (
	"time"
)

// Batch is one provider's normalized listings for a job, as delivered by the
// fetch layer
type Batch struct {
	JobID     string              `json:"jobId"`
	Provider  string              `json:"provider"`
	CycleID   string              `json:"cycleId,omitempty"`
	FetchedAt time.Time           `json:"fetchedAt"`
	Listings  []NormalizedListing `json:"listings"`
}

// ListingUpdate pairs a listing with the diffs applied in this cycle
type ListingUpdate struct {
	Listing *Listing    `json:"listing"`
	Diffs   []FieldDiff `json:"diffs,omitempty"`
}

// ChangeSet is the outcome of one reconciliation cycle
type ChangeSet struct {
	JobID       string          `json:"jobId"`
	CycleID     string          `json:"cycleId"`
	Provider    string          `json:"provider"`
	ObservedAt  time.Time       `json:"observedAt"`
	Created     []*Listing      `json:"created"`
	Updated     []ListingUpdate `json:"updated"`
	Reactivated []ListingUpdate `json:"reactivated"`
	Deactivated []*Listing      `json:"deactivated"`
	Unchanged   int             `json:"unchanged"`
}

// IsEmpty reports whether the cycle changed nothing visible
func (c *ChangeSet) IsEmpty() bool {
	return len(c.Created) == 0 && len(c.Updated) == 0 &&
		len(c.Reactivated) == 0 && len(c.Deactivated) == 0
}

// Counts summarizes the change set for logging
func (c *ChangeSet) Counts() map[string]interface{} {
	return map[string]interface{}{
		"created":     len(c.Created),
		"updated":     len(c.Updated),
		"reactivated": len(c.Reactivated),
		"deactivated": len(c.Deactivated),
		"unchanged":   c.Unchanged,
	}
}
