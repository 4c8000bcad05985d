package storage

import (
	"context"
	"time"

	apperrors "github.com/listing-scanner/internal/errors"
	"github.com/listing-scanner/internal/models"
)

// WatchListRepository persists which users watch which listings
type WatchListRepository struct {
	db *PostgresDB
}

// NewWatchListRepository creates a new watch list repository
func NewWatchListRepository(db *PostgresDB) *WatchListRepository {
	return &WatchListRepository{db: db}
}

// AddWatch adds a watch entry; watching twice updates the note
func (r *WatchListRepository) AddWatch(ctx context.Context, entry *models.WatchEntry) error {
	if !isUUID(entry.ListingID) {
		return apperrors.NewNotFoundError("listing", entry.ListingID)
	}
	if !isUUID(entry.UserID) {
		return apperrors.NewNotFoundError("user", entry.UserID)
	}
	entry.CreatedAt = time.Now().UTC()

	query := `
		INSERT INTO watch_list (listing_id, user_id, note, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (listing_id, user_id) DO UPDATE SET note = EXCLUDED.note
		RETURNING created_at
	`
	err := r.db.Pool().QueryRow(ctx, query, entry.ListingID, entry.UserID, entry.Note, entry.CreatedAt).
		Scan(&entry.CreatedAt)
	if err != nil {
		if pgErrorCode(err) == pgForeignKeyViolation {
			return apperrors.NewNotFoundError("listing or user", entry.ListingID+"/"+entry.UserID)
		}
		return apperrors.NewPersistenceError("add watch", err)
	}
	return nil
}

// RemoveWatch deletes a watch entry
func (r *WatchListRepository) RemoveWatch(ctx context.Context, listingID, userID string) error {
	if !isUUID(listingID) || !isUUID(userID) {
		return apperrors.NewNotFoundError("watch entry", listingID)
	}

	result, err := r.db.Pool().Exec(ctx,
		`DELETE FROM watch_list WHERE listing_id = $1 AND user_id = $2`, listingID, userID)
	if err != nil {
		return apperrors.NewPersistenceError("remove watch", err)
	}
	if result.RowsAffected() == 0 {
		return apperrors.NewNotFoundError("watch entry", listingID)
	}
	return nil
}

// ListWatched returns a user's watched listings, inactive ones included
func (r *WatchListRepository) ListWatched(ctx context.Context, userID string) ([]*models.WatchedListing, error) {
	if !isUUID(userID) {
		return []*models.WatchedListing{}, nil
	}

	query := `
		SELECT w.note, w.created_at,
			l.id, l.job_id, l.provider, l.title, l.price::text, l.currency, l.url, l.description,
			l.location_hint, l.hash, l.active, l.change_set, l.latitude, l.longitude, l.distance_km,
			l.first_seen_at, l.last_seen_at, l.deactivated_at, l.created_at, l.updated_at
		FROM watch_list w
		JOIN listings l ON l.id = w.listing_id
		WHERE w.user_id = $1
		ORDER BY w.created_at DESC
	`
	rows, err := r.db.Pool().Query(ctx, query, userID)
	if err != nil {
		return nil, apperrors.NewPersistenceError("list watched", err)
	}
	defer rows.Close()

	watched := []*models.WatchedListing{}
	for rows.Next() {
		var w models.WatchedListing
		l, err := scanListing(prefixedRow{row: rows, prefix: []any{&w.Note, &w.CreatedAt}})
		if err != nil {
			return nil, apperrors.NewPersistenceError("scan watched listing", err)
		}
		w.ListingID = l.ID
		w.UserID = userID
		w.Listing = l
		watched = append(watched, &w)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewPersistenceError("list watched", err)
	}
	return watched, nil
}

// prefixedRow scans leading columns into prefix before the listing columns
type prefixedRow struct {
	row interface {
		Scan(dest ...any) error
	}
	prefix []any
}

func (p prefixedRow) Scan(dest ...any) error {
	return p.row.Scan(append(p.prefix, dest...)...)
}
