package storage

import (
	"context"
	"time"

	"github.com/listing-scanner/internal/models"
)

// ListingTx is the view of the store a reconciliation cycle works through.
// Every call made on it commits or rolls back together.
type ListingTx interface {
	// LoadListings returns all rows of a job from one provider, active or not
	LoadListings(ctx context.Context, jobID, provider string) ([]*models.Listing, error)
	InsertListings(ctx context.Context, listings []*models.Listing) error
	// UpdateListings writes the mutable columns of existing rows
	UpdateListings(ctx context.Context, listings []*models.Listing) error
	DeactivateListings(ctx context.Context, ids []string, at time.Time) error
	// TouchListings bumps last_seen_at of rows observed unchanged
	TouchListings(ctx context.Context, ids []string, at time.Time) error
	MarkJobCycle(ctx context.Context, jobID string, at time.Time) error
	// AdvanceFetch records fetchedAt as the latest applied fetch of a job's
	// provider. It records nothing and returns false when a later fetch was
	// already applied.
	AdvanceFetch(ctx context.Context, jobID, provider string, fetchedAt time.Time) (bool, error)
}

// CycleStore runs fn atomically for one job. Implementations serialize
// cycles of the same job.
type CycleStore interface {
	WithinCycle(ctx context.Context, jobID string, fn func(tx ListingTx) error) error
}

// ListingQuery narrows a read of a job's listings
type ListingQuery struct {
	Active *bool
	Limit  int
	Offset int
}

// ListingReader serves the UI read layer
type ListingReader interface {
	GetListing(ctx context.Context, id string) (*models.Listing, error)
	GetListingByHash(ctx context.Context, jobID, hash string) (*models.Listing, error)
	ListListings(ctx context.Context, jobID string, q ListingQuery) ([]*models.Listing, error)
}

// JobStore persists jobs
type JobStore interface {
	CreateJob(ctx context.Context, job *models.Job) error
	GetJob(ctx context.Context, id string) (*models.Job, error)
	UpdateJob(ctx context.Context, job *models.Job) error
	// DeleteJob removes the job, its listings and their watch entries
	DeleteJob(ctx context.Context, id string) error
	ListJobsByOwner(ctx context.Context, ownerID string) ([]*models.Job, error)
}

// UserStore persists users
type UserStore interface {
	CreateUser(ctx context.Context, user *models.User) error
	GetUser(ctx context.Context, id string) (*models.User, error)
}

// WatchStore persists watch list entries
type WatchStore interface {
	AddWatch(ctx context.Context, entry *models.WatchEntry) error
	RemoveWatch(ctx context.Context, listingID, userID string) error
	ListWatched(ctx context.Context, userID string) ([]*models.WatchedListing, error)
}

// ResetStore runs corrective resets
type ResetStore interface {
	ResetProvider(ctx context.Context, req models.ResetRequest) (*models.ResetResult, error)
	ListResets(ctx context.Context) ([]*models.ResetResult, error)
}

// Store is everything the services need from persistence
type Store interface {
	CycleStore
	ListingReader
	JobStore
	UserStore
	WatchStore
	ResetStore
}

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

func (q ListingQuery) normalized() ListingQuery {
	if q.Limit <= 0 {
		q.Limit = defaultListLimit
	}
	if q.Limit > maxListLimit {
		q.Limit = maxListLimit
	}
	if q.Offset < 0 {
		q.Offset = 0
	}
	return q
}
