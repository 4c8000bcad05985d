package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	apperrors "github.com/listing-scanner/internal/errors"
	"github.com/listing-scanner/internal/models"
)

// JobRepository handles job persistence
type JobRepository struct {
	db *PostgresDB
}

// NewJobRepository creates a new job repository
func NewJobRepository(db *PostgresDB) *JobRepository {
	return &JobRepository{db: db}
}

const jobColumns = `id, owner_id, name, providers, crawl_url, crawl_config, filter,
	destination_lat, destination_lng, shared_with, created_at, updated_at, last_cycle_at`

// CreateJob inserts a job
func (r *JobRepository) CreateJob(ctx context.Context, job *models.Job) error {
	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	job.CreatedAt = now
	job.UpdatedAt = now

	crawlConfig, filter, err := marshalJobJSON(job)
	if err != nil {
		return err
	}
	lat, lng := destinationColumns(job.Destination)

	query := `
		INSERT INTO jobs (` + jobColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`
	_, err = r.db.Pool().Exec(ctx, query,
		job.ID,
		job.OwnerID,
		job.Name,
		nonNil(job.Providers),
		job.CrawlURL,
		crawlConfig,
		filter,
		lat,
		lng,
		nonNil(job.SharedWith),
		job.CreatedAt,
		job.UpdatedAt,
		job.LastCycleAt,
	)
	if err != nil {
		switch pgErrorCode(err) {
		case pgForeignKeyViolation:
			return apperrors.NewNotFoundError("user", job.OwnerID)
		case pgUniqueViolation:
			return apperrors.NewConflictError("job already exists: " + job.ID)
		}
		return apperrors.NewPersistenceError("create job", err)
	}
	return nil
}

// GetJob retrieves a job by ID
func (r *JobRepository) GetJob(ctx context.Context, id string) (*models.Job, error) {
	if !isUUID(id) {
		return nil, apperrors.NewNotFoundError("job", id)
	}

	query := `SELECT ` + jobColumns + ` FROM jobs WHERE id = $1`
	job, err := scanJob(r.db.Pool().QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewNotFoundError("job", id)
		}
		return nil, apperrors.NewPersistenceError("get job", err)
	}
	return job, nil
}

// UpdateJob writes the editable fields of a job
func (r *JobRepository) UpdateJob(ctx context.Context, job *models.Job) error {
	if !isUUID(job.ID) {
		return apperrors.NewNotFoundError("job", job.ID)
	}
	job.UpdatedAt = time.Now().UTC()

	crawlConfig, filter, err := marshalJobJSON(job)
	if err != nil {
		return err
	}
	lat, lng := destinationColumns(job.Destination)

	query := `
		UPDATE jobs
		SET name = $2, providers = $3, crawl_url = $4, crawl_config = $5, filter = $6,
			destination_lat = $7, destination_lng = $8, shared_with = $9, updated_at = $10
		WHERE id = $1
	`
	result, err := r.db.Pool().Exec(ctx, query,
		job.ID,
		job.Name,
		nonNil(job.Providers),
		job.CrawlURL,
		crawlConfig,
		filter,
		lat,
		lng,
		nonNil(job.SharedWith),
		job.UpdatedAt,
	)
	if err != nil {
		return apperrors.NewPersistenceError("update job", err)
	}
	if result.RowsAffected() == 0 {
		return apperrors.NewNotFoundError("job", job.ID)
	}
	return nil
}

// DeleteJob deletes a job; listings and watch entries follow by cascade
func (r *JobRepository) DeleteJob(ctx context.Context, id string) error {
	if !isUUID(id) {
		return apperrors.NewNotFoundError("job", id)
	}

	result, err := r.db.Pool().Exec(ctx, `DELETE FROM jobs WHERE id = $1`, id)
	if err != nil {
		return apperrors.NewPersistenceError("delete job", err)
	}
	if result.RowsAffected() == 0 {
		return apperrors.NewNotFoundError("job", id)
	}
	return nil
}

// ListJobsByOwner returns the jobs of a user, newest first
func (r *JobRepository) ListJobsByOwner(ctx context.Context, ownerID string) ([]*models.Job, error) {
	if !isUUID(ownerID) {
		return []*models.Job{}, nil
	}

	query := `SELECT ` + jobColumns + ` FROM jobs WHERE owner_id = $1 ORDER BY created_at DESC`
	rows, err := r.db.Pool().Query(ctx, query, ownerID)
	if err != nil {
		return nil, apperrors.NewPersistenceError("list jobs", err)
	}
	defer rows.Close()

	jobs := []*models.Job{}
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, apperrors.NewPersistenceError("scan job", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewPersistenceError("list jobs", err)
	}
	return jobs, nil
}

func scanJob(row pgx.Row) (*models.Job, error) {
	var (
		job                 models.Job
		crawlConfig, filter []byte
		lat, lng            *float64
	)
	err := row.Scan(
		&job.ID,
		&job.OwnerID,
		&job.Name,
		&job.Providers,
		&job.CrawlURL,
		&crawlConfig,
		&filter,
		&lat,
		&lng,
		&job.SharedWith,
		&job.CreatedAt,
		&job.UpdatedAt,
		&job.LastCycleAt,
	)
	if err != nil {
		return nil, err
	}

	if len(crawlConfig) > 0 {
		if err := json.Unmarshal(crawlConfig, &job.CrawlConfig); err != nil {
			return nil, fmt.Errorf("failed to unmarshal crawl config: %w", err)
		}
	}
	if len(filter) > 0 {
		if err := json.Unmarshal(filter, &job.Filter); err != nil {
			return nil, fmt.Errorf("failed to unmarshal filter: %w", err)
		}
	}
	if lat != nil && lng != nil {
		job.Destination = &models.Coordinate{Lat: *lat, Lng: *lng}
	}
	return &job, nil
}

func marshalJobJSON(job *models.Job) (crawlConfig, filter []byte, err error) {
	if job.CrawlConfig != nil {
		crawlConfig, err = json.Marshal(job.CrawlConfig)
		if err != nil {
			return nil, nil, apperrors.NewValidationError("crawlConfig", err.Error())
		}
	}
	filter, err = json.Marshal(job.Filter)
	if err != nil {
		return nil, nil, apperrors.NewValidationError("filter", err.Error())
	}
	return crawlConfig, filter, nil
}

func destinationColumns(c *models.Coordinate) (lat, lng *float64) {
	if c == nil {
		return nil, nil
	}
	return &c.Lat, &c.Lng
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
