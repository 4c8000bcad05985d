package service

import (
	"context"
	"strings"

	apperrors "github.com/listing-scanner/internal/errors"
	"github.com/listing-scanner/internal/filter"
	"github.com/listing-scanner/internal/geo"
	"github.com/listing-scanner/internal/models"
	"github.com/listing-scanner/internal/storage"
	"github.com/listing-scanner/internal/types"
)

// JobService manages saved searches
type JobService struct {
	store storage.Store
}

// NewJobService creates a job service
func NewJobService(store storage.Store) *JobService {
	return &JobService{store: store}
}

// CreateJob validates and stores a new job
func (s *JobService) CreateJob(ctx context.Context, job *models.Job) error {
	if err := normalizeJob(job); err != nil {
		return err
	}
	return s.store.CreateJob(ctx, job)
}

// GetJob returns a job by id
func (s *JobService) GetJob(ctx context.Context, id string) (*models.Job, error) {
	return s.store.GetJob(ctx, id)
}

// UpdateJob replaces the editable fields of an existing job. Owner and
// creation time are kept from the stored row.
func (s *JobService) UpdateJob(ctx context.Context, job *models.Job) error {
	current, err := s.store.GetJob(ctx, job.ID)
	if err != nil {
		return err
	}
	job.OwnerID = current.OwnerID
	job.CreatedAt = current.CreatedAt
	job.LastCycleAt = current.LastCycleAt
	if err := normalizeJob(job); err != nil {
		return err
	}
	return s.store.UpdateJob(ctx, job)
}

// DeleteJob removes a job together with its listings and watch entries
func (s *JobService) DeleteJob(ctx context.Context, id string) error {
	return s.store.DeleteJob(ctx, id)
}

// ListJobs returns the jobs owned by a user
func (s *JobService) ListJobs(ctx context.Context, ownerID string) ([]*models.Job, error) {
	if _, err := s.store.GetUser(ctx, ownerID); err != nil {
		return nil, err
	}
	return s.store.ListJobsByOwner(ctx, ownerID)
}

// ListListings returns a page of a job's listings
func (s *JobService) ListListings(ctx context.Context, jobID string, q storage.ListingQuery) ([]*models.Listing, error) {
	if _, err := s.store.GetJob(ctx, jobID); err != nil {
		return nil, err
	}
	return s.store.ListListings(ctx, jobID, q)
}

// GetListing returns one listing by id
func (s *JobService) GetListing(ctx context.Context, id string) (*models.Listing, error) {
	return s.store.GetListing(ctx, id)
}

// normalizeJob cleans user input and rejects configurations a cycle could
// not evaluate
func normalizeJob(job *models.Job) error {
	job.Name = strings.TrimSpace(job.Name)
	if job.Name == "" {
		return apperrors.NewValidationError("name", "required")
	}
	if strings.TrimSpace(job.OwnerID) == "" {
		return apperrors.NewValidationError("ownerId", "required")
	}

	job.Providers = lowerUnique(job.Providers)
	job.Filter.Providers = lowerUnique(job.Filter.Providers)

	spec := job.Filter
	if spec.MinPrice != nil && spec.MinPrice.IsNegative() {
		return apperrors.NewValidationError("filter.minPrice", "must not be negative")
	}
	if spec.MinPrice != nil && spec.MaxPrice != nil && spec.MinPrice.GreaterThan(*spec.MaxPrice) {
		return apperrors.NewValidationError("filter.maxPrice", "must not be below minPrice")
	}
	if spec.SpatialPolicy != "" {
		policy := strings.ToLower(spec.SpatialPolicy)
		if types.ParseSpatialPolicy(policy, "") == "" {
			return apperrors.NewValidationError("filter.spatialPolicy", "must be pass or strict")
		}
		job.Filter.SpatialPolicy = policy
	}
	if len(spec.Boundary) > 0 && string(spec.Boundary) != "null" {
		if _, err := filter.ParseBoundary(spec.Boundary); err != nil {
			return apperrors.NewValidationError("filter.boundary", err.Error())
		}
	}

	if d := job.Destination; d != nil && !(geo.Point{Lat: d.Lat, Lng: d.Lng}).Valid() {
		return apperrors.NewValidationError("destination", "not a valid coordinate")
	}
	return nil
}

func lowerUnique(values []string) []string {
	if len(values) == 0 {
		return values
	}
	seen := make(map[string]bool, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.ToLower(strings.TrimSpace(v))
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}
