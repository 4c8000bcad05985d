package storage

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	apperrors "github.com/listing-scanner/internal/errors"
	"github.com/listing-scanner/internal/logging"
	"github.com/listing-scanner/internal/models"
)

// ResetRepository runs corrective resets and keeps their ledger
type ResetRepository struct {
	db *PostgresDB
}

// NewResetRepository creates a new reset repository
func NewResetRepository(db *PostgresDB) *ResetRepository {
	return &ResetRepository{db: db}
}

// resetLockKey serializes resets across processes
const resetLockKey = "corrective_reset"

// ResetProvider hard-deletes every listing of a provider, across all jobs,
// and records the count under req.Name. Watch entries of the deleted listings
// go with them. A name already in the ledger is returned as recorded and
// nothing is deleted.
func (r *ResetRepository) ResetProvider(ctx context.Context, req models.ResetRequest) (result *models.ResetResult, err error) {
	if err := validateResetRequest(req); err != nil {
		return nil, err
	}

	tx, err := r.db.Pool().Begin(ctx)
	if err != nil {
		return nil, apperrors.NewPersistenceError("begin reset", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(context.Background()) // nolint:errcheck // the original error wins
		}
	}()

	if _, err = tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, resetLockKey); err != nil {
		return nil, apperrors.NewPersistenceError("lock reset", err)
	}

	existing, err := getReset(ctx, tx, req.Name)
	if err == nil {
		existing.AlreadyApplied = true
		if err = tx.Commit(ctx); err != nil {
			return nil, apperrors.NewPersistenceError("commit reset", err)
		}
		logging.WithFields(map[string]interface{}{
			"reset":    req.Name,
			"provider": existing.Provider,
			"removed":  existing.Removed,
		}).Info("Corrective reset already applied, nothing deleted")
		return existing, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.NewPersistenceError("read reset ledger", err)
	}

	tag, err := tx.Exec(ctx, `DELETE FROM listings WHERE provider = $1`, req.Provider)
	if err != nil {
		return nil, apperrors.NewPersistenceError("delete provider listings", err)
	}

	result = &models.ResetResult{
		ID:         uuid.New().String(),
		Name:       req.Name,
		Provider:   req.Provider,
		Reason:     req.Reason,
		Removed:    tag.RowsAffected(),
		ExecutedAt: time.Now().UTC(),
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO corrective_resets (id, name, provider, reason, rows_removed, executed_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, result.ID, result.Name, result.Provider, result.Reason, result.Removed, result.ExecutedAt)
	if err != nil {
		return nil, apperrors.NewPersistenceError("record reset", err)
	}

	if err = tx.Commit(ctx); err != nil {
		return nil, apperrors.NewPersistenceError("commit reset", err)
	}

	logResetApplied(result)
	return result, nil
}

// ListResets returns the ledger, newest first
func (r *ResetRepository) ListResets(ctx context.Context) ([]*models.ResetResult, error) {
	rows, err := r.db.Pool().Query(ctx, `
		SELECT id, name, provider, reason, rows_removed, executed_at
		FROM corrective_resets
		ORDER BY executed_at DESC
	`)
	if err != nil {
		return nil, apperrors.NewPersistenceError("list resets", err)
	}
	defer rows.Close()

	resets := []*models.ResetResult{}
	for rows.Next() {
		var res models.ResetResult
		if err := rows.Scan(&res.ID, &res.Name, &res.Provider, &res.Reason, &res.Removed, &res.ExecutedAt); err != nil {
			return nil, apperrors.NewPersistenceError("scan reset", err)
		}
		resets = append(resets, &res)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewPersistenceError("list resets", err)
	}
	return resets, nil
}

func getReset(ctx context.Context, tx pgx.Tx, name string) (*models.ResetResult, error) {
	var res models.ResetResult
	err := tx.QueryRow(ctx, `
		SELECT id, name, provider, reason, rows_removed, executed_at
		FROM corrective_resets
		WHERE name = $1
	`, name).Scan(&res.ID, &res.Name, &res.Provider, &res.Reason, &res.Removed, &res.ExecutedAt)
	if err != nil {
		return nil, err
	}
	return &res, nil
}

func validateResetRequest(req models.ResetRequest) error {
	if req.Name == "" {
		return apperrors.NewValidationError("name", "required")
	}
	if req.Provider == "" {
		return apperrors.NewValidationError("provider", "required")
	}
	return nil
}

func logResetApplied(res *models.ResetResult) {
	logging.WithFields(map[string]interface{}{
		"reset":    res.Name,
		"provider": res.Provider,
		"reason":   res.Reason,
		"removed":  res.Removed,
	}).Warn("Corrective reset deleted provider listings")
}
