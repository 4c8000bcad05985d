package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	apperrors "github.com/listing-scanner/internal/errors"
	"github.com/listing-scanner/internal/models"
	"github.com/shopspring/decimal"
)

// ListingRepository persists listings and runs reconciliation cycles
type ListingRepository struct {
	db *PostgresDB
}

// NewListingRepository creates a new listing repository
func NewListingRepository(db *PostgresDB) *ListingRepository {
	return &ListingRepository{db: db}
}

const listingColumns = `id, job_id, provider, title, price::text, currency, url, description,
	location_hint, hash, active, change_set, latitude, longitude, distance_km,
	first_seen_at, last_seen_at, deactivated_at, created_at, updated_at`

// WithinCycle runs fn in one transaction holding a transaction-scoped
// advisory lock on the job. Any error rolls back everything fn did.
func (r *ListingRepository) WithinCycle(ctx context.Context, jobID string, fn func(tx ListingTx) error) (err error) {
	tx, err := r.db.Pool().BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return apperrors.NewPersistenceError("begin cycle", err)
	}
	defer func() {
		if err != nil {
			// rollback on a background context so a cancelled ctx still cleans up
			_ = tx.Rollback(context.Background()) // nolint:errcheck // the original error wins
		}
	}()

	if _, err = tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, jobID); err != nil {
		return apperrors.NewPersistenceError("lock job", err)
	}

	if err = fn(&pgListingTx{tx: tx}); err != nil {
		return err
	}

	if err = tx.Commit(ctx); err != nil {
		return apperrors.NewPersistenceError("commit cycle", err)
	}
	return nil
}

// GetListing retrieves a listing by ID
func (r *ListingRepository) GetListing(ctx context.Context, id string) (*models.Listing, error) {
	if !isUUID(id) {
		return nil, apperrors.NewNotFoundError("listing", id)
	}

	query := `SELECT ` + listingColumns + ` FROM listings WHERE id = $1`
	l, err := scanListing(r.db.Pool().QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewNotFoundError("listing", id)
		}
		return nil, apperrors.NewPersistenceError("get listing", err)
	}
	return l, nil
}

// GetListingByHash is the point lookup on the dedup key
func (r *ListingRepository) GetListingByHash(ctx context.Context, jobID, hash string) (*models.Listing, error) {
	if !isUUID(jobID) {
		return nil, apperrors.NewNotFoundError("listing", hash)
	}

	query := `SELECT ` + listingColumns + ` FROM listings WHERE job_id = $1 AND hash = $2`
	l, err := scanListing(r.db.Pool().QueryRow(ctx, query, jobID, hash))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewNotFoundError("listing", hash)
		}
		return nil, apperrors.NewPersistenceError("get listing by hash", err)
	}
	return l, nil
}

// ListListings pages through a job's listings, most recently seen first
func (r *ListingRepository) ListListings(ctx context.Context, jobID string, q ListingQuery) ([]*models.Listing, error) {
	q = q.normalized()
	if !isUUID(jobID) {
		return []*models.Listing{}, nil
	}

	query := `
		SELECT ` + listingColumns + `
		FROM listings
		WHERE job_id = $1 AND ($2::boolean IS NULL OR active = $2)
		ORDER BY last_seen_at DESC, id
		LIMIT $3 OFFSET $4
	`
	rows, err := r.db.Pool().Query(ctx, query, jobID, q.Active, q.Limit, q.Offset)
	if err != nil {
		return nil, apperrors.NewPersistenceError("list listings", err)
	}
	return collectListings(rows)
}

// pgListingTx implements ListingTx on a pgx transaction
type pgListingTx struct {
	tx pgx.Tx
}

func (t *pgListingTx) LoadListings(ctx context.Context, jobID, provider string) ([]*models.Listing, error) {
	query := `
		SELECT ` + listingColumns + `
		FROM listings
		WHERE job_id = $1 AND provider = $2
		ORDER BY first_seen_at, id
		FOR UPDATE
	`
	rows, err := t.tx.Query(ctx, query, jobID, provider)
	if err != nil {
		return nil, apperrors.NewPersistenceError("load listings", err)
	}
	return collectListings(rows)
}

func (t *pgListingTx) InsertListings(ctx context.Context, listings []*models.Listing) error {
	if len(listings) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, l := range listings {
		changeSet, err := marshalChangeSet(l.ChangeSet)
		if err != nil {
			return err
		}
		batch.Queue(`
			INSERT INTO listings (
				id, job_id, provider, title, price, currency, url, description, location_hint,
				hash, active, change_set, latitude, longitude, distance_km,
				first_seen_at, last_seen_at, deactivated_at, created_at, updated_at
			) VALUES ($1, $2, $3, $4, $5::numeric, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)
		`,
			l.ID, l.JobID, l.Provider, l.Title, priceText(l.Price), l.Currency, l.URL, l.Description, l.LocationHint,
			l.Hash, l.Active, changeSet, l.Latitude, l.Longitude, l.DistanceKm,
			l.FirstSeenAt, l.LastSeenAt, l.DeactivatedAt, l.CreatedAt, l.UpdatedAt,
		)
	}
	return sendBatch(ctx, t.tx, batch, "insert listings")
}

func (t *pgListingTx) UpdateListings(ctx context.Context, listings []*models.Listing) error {
	if len(listings) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, l := range listings {
		changeSet, err := marshalChangeSet(l.ChangeSet)
		if err != nil {
			return err
		}
		batch.Queue(`
			UPDATE listings
			SET title = $2, price = $3::numeric, currency = $4, url = $5, description = $6,
				location_hint = $7, active = $8, change_set = $9, latitude = $10, longitude = $11,
				distance_km = $12, last_seen_at = $13, deactivated_at = $14, updated_at = $15
			WHERE id = $1
		`,
			l.ID, l.Title, priceText(l.Price), l.Currency, l.URL, l.Description,
			l.LocationHint, l.Active, changeSet, l.Latitude, l.Longitude,
			l.DistanceKm, l.LastSeenAt, l.DeactivatedAt, l.UpdatedAt,
		)
	}
	return sendBatch(ctx, t.tx, batch, "update listings")
}

func (t *pgListingTx) DeactivateListings(ctx context.Context, ids []string, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := t.tx.Exec(ctx, `
		UPDATE listings
		SET active = FALSE, deactivated_at = $2, updated_at = $2
		WHERE id = ANY($1) AND active
	`, ids, at)
	if err != nil {
		return apperrors.NewPersistenceError("deactivate listings", err)
	}
	return nil
}

func (t *pgListingTx) TouchListings(ctx context.Context, ids []string, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := t.tx.Exec(ctx, `UPDATE listings SET last_seen_at = $2 WHERE id = ANY($1)`, ids, at)
	if err != nil {
		return apperrors.NewPersistenceError("touch listings", err)
	}
	return nil
}

func (t *pgListingTx) MarkJobCycle(ctx context.Context, jobID string, at time.Time) error {
	result, err := t.tx.Exec(ctx, `UPDATE jobs SET last_cycle_at = $2 WHERE id = $1`, jobID, at)
	if err != nil {
		return apperrors.NewPersistenceError("mark job cycle", err)
	}
	if result.RowsAffected() == 0 {
		return apperrors.NewNotFoundError("job", jobID)
	}
	return nil
}

func (t *pgListingTx) AdvanceFetch(ctx context.Context, jobID, provider string, fetchedAt time.Time) (bool, error) {
	var applied time.Time
	err := t.tx.QueryRow(ctx, `
		INSERT INTO provider_fetches (job_id, provider, fetched_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (job_id, provider) DO UPDATE SET fetched_at = EXCLUDED.fetched_at
		WHERE provider_fetches.fetched_at <= EXCLUDED.fetched_at
		RETURNING fetched_at
	`, jobID, provider, fetchedAt).Scan(&applied)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		if pgErrorCode(err) == "23503" {
			return false, apperrors.NewNotFoundError("job", jobID)
		}
		return false, apperrors.NewPersistenceError("advance fetch", err)
	}
	return true, nil
}

func sendBatch(ctx context.Context, tx pgx.Tx, batch *pgx.Batch, operation string) error {
	br := tx.SendBatch(ctx, batch)
	for i := 0; i < batch.Len(); i++ {
		if _, err := br.Exec(); err != nil {
			_ = br.Close()
			if pgErrorCode(err) == pgUniqueViolation {
				return apperrors.NewPersistenceError(operation, fmt.Errorf("duplicate listing hash: %w", err))
			}
			return apperrors.NewPersistenceError(operation, err)
		}
	}
	if err := br.Close(); err != nil {
		return apperrors.NewPersistenceError(operation, err)
	}
	return nil
}

func collectListings(rows pgx.Rows) ([]*models.Listing, error) {
	defer rows.Close()

	listings := []*models.Listing{}
	for rows.Next() {
		l, err := scanListing(rows)
		if err != nil {
			return nil, apperrors.NewPersistenceError("scan listing", err)
		}
		listings = append(listings, l)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewPersistenceError("read listings", err)
	}
	return listings, nil
}

func scanListing(row pgx.Row) (*models.Listing, error) {
	var (
		l         models.Listing
		price     *string
		changeSet []byte
	)
	err := row.Scan(
		&l.ID, &l.JobID, &l.Provider, &l.Title, &price, &l.Currency, &l.URL, &l.Description,
		&l.LocationHint, &l.Hash, &l.Active, &changeSet, &l.Latitude, &l.Longitude, &l.DistanceKm,
		&l.FirstSeenAt, &l.LastSeenAt, &l.DeactivatedAt, &l.CreatedAt, &l.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if price != nil {
		d, err := decimal.NewFromString(*price)
		if err != nil {
			return nil, fmt.Errorf("invalid price %q: %w", *price, err)
		}
		l.Price = &d
	}
	if len(changeSet) > 0 {
		if err := json.Unmarshal(changeSet, &l.ChangeSet); err != nil {
			return nil, fmt.Errorf("failed to unmarshal change set: %w", err)
		}
	}
	return &l, nil
}

func marshalChangeSet(diffs []models.FieldDiff) ([]byte, error) {
	if len(diffs) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(diffs)
	if err != nil {
		return nil, apperrors.NewInternalError("failed to marshal change set", err)
	}
	return data, nil
}

func priceText(p *decimal.Decimal) *string {
	if p == nil {
		return nil
	}
	s := p.String()
	return &s
}
