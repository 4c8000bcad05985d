// Package reconcile merges a provider's listing batch into a job's stored
// listings: new listings are inserted, changed ones diffed, missing ones
// soft-deactivated and returning ones reactivated, all in one transaction.
package reconcile

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	apperrors "github.com/listing-scanner/internal/errors"
	"github.com/listing-scanner/internal/logging"
	"github.com/listing-scanner/internal/models"
	"github.com/listing-scanner/internal/storage"
)

// ErrStaleBatch is returned for a batch fetched before the latest batch
// already applied for the same job and provider
var ErrStaleBatch = errors.New("batch is older than the last applied fetch")

// Engine runs reconciliation cycles. It does not retry; failed cycles are
// reported to the caller with nothing committed.
type Engine struct {
	store  storage.CycleStore
	locker Locker
	now    func() time.Time
	newID  func() string
}

// Option configures an Engine
type Option func(*Engine)

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithIDGenerator overrides how listing and cycle ids are minted
func WithIDGenerator(newID func() string) Option {
	return func(e *Engine) { e.newID = newID }
}

// NewEngine creates an engine. A nil locker gets an in-process LockRegistry.
func NewEngine(store storage.CycleStore, locker Locker, opts ...Option) *Engine {
	if locker == nil {
		locker = NewLockRegistry()
	}
	e := &Engine{
		store:  store,
		locker: locker,
		now:    func() time.Time { return time.Now().UTC() },
		newID:  func() string { return uuid.New().String() },
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Reconcile applies one batch of already enriched and filtered listings. The
// batch must cover everything the provider currently shows for the job:
// active rows of that provider absent from it are deactivated. A batch with a
// FetchedAt before the last applied one fails with ErrStaleBatch and changes
// nothing; batches without FetchedAt are not ordered.
func (e *Engine) Reconcile(ctx context.Context, batch *models.Batch) (*models.ChangeSet, error) {
	if batch == nil || batch.JobID == "" {
		return nil, apperrors.NewValidationError("job_id", "batch has no job")
	}
	if batch.Provider == "" {
		return nil, apperrors.NewValidationError("provider", "batch has no provider")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	cycleID := batch.CycleID
	if cycleID == "" {
		cycleID = e.newID()
	}
	log := logging.FromContext(ctx).WithCycle(batch.JobID, cycleID, batch.Provider)

	release, err := e.locker.Acquire(ctx, batch.JobID)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, apperrors.NewPersistenceError("acquire job lock", err)
	}
	defer release()

	// cancelled while waiting for the lock: nothing has been written yet
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	now := e.now()
	var plan *Plan
	err = e.store.WithinCycle(ctx, batch.JobID, func(tx storage.ListingTx) error {
		if !batch.FetchedAt.IsZero() {
			fresh, err := tx.AdvanceFetch(ctx, batch.JobID, batch.Provider, batch.FetchedAt)
			if err != nil {
				return err
			}
			if !fresh {
				return ErrStaleBatch
			}
		}
		prior, err := tx.LoadListings(ctx, batch.JobID, batch.Provider)
		if err != nil {
			return err
		}
		plan = BuildPlan(batch.JobID, batch.Provider, prior, batch.Listings, now, e.newID)
		return applyPlan(ctx, tx, batch.JobID, plan, now)
	})
	if errors.Is(err, ErrStaleBatch) {
		log.WithField("fetched_at", batch.FetchedAt).Warn("Skipping batch older than the last applied fetch")
		stale := apperrors.NewConflictError("batch fetched at " + batch.FetchedAt.Format(time.RFC3339Nano) + " is older than the last applied fetch")
		stale.Cause = ErrStaleBatch
		return nil, stale
	}
	if err != nil {
		log.WithError(err).Error("Reconciliation cycle rolled back")
		return nil, persistenceError(err)
	}

	cs := plan.ChangeSet(batch, cycleID, now)
	fields := cs.Counts()
	fields["duplicates"] = plan.Duplicates
	log.WithFields(fields).Info("Reconciliation cycle committed")
	return cs, nil
}

func applyPlan(ctx context.Context, tx storage.ListingTx, jobID string, plan *Plan, now time.Time) error {
	if len(plan.Inserts) > 0 {
		if err := tx.InsertListings(ctx, plan.Inserts); err != nil {
			return err
		}
	}

	changed := make([]*models.Listing, 0, len(plan.Updates)+len(plan.Reactivations))
	for _, u := range plan.Updates {
		changed = append(changed, u.Listing)
	}
	for _, u := range plan.Reactivations {
		changed = append(changed, u.Listing)
	}
	if len(changed) > 0 {
		if err := tx.UpdateListings(ctx, changed); err != nil {
			return err
		}
	}

	if len(plan.Deactivations) > 0 {
		ids := make([]string, len(plan.Deactivations))
		for i, l := range plan.Deactivations {
			ids[i] = l.ID
		}
		if err := tx.DeactivateListings(ctx, ids, now); err != nil {
			return err
		}
	}

	if len(plan.Touched) > 0 {
		if err := tx.TouchListings(ctx, plan.Touched, now); err != nil {
			return err
		}
	}

	return tx.MarkJobCycle(ctx, jobID, now)
}

// persistenceError keeps categorized errors from the store and wraps the rest
func persistenceError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var catErr *apperrors.CategorizedError
	if errors.As(err, &catErr) {
		return err
	}
	return apperrors.NewPersistenceError("reconcile cycle", err)
}
