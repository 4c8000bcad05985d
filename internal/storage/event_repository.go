package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/listing-scanner/internal/models"
	"github.com/listing-scanner/internal/types"
	"github.com/shopspring/decimal"
)

// ListingEvent is one row of the listing_events analytics table
type ListingEvent struct {
	JobID      string
	CycleID    string
	Provider   string
	ListingID  string
	Hash       string
	Kind       types.ChangeKind
	Price      *decimal.Decimal
	Currency   string
	Fields     []string // diffed fields for updates and reactivations
	ObservedAt time.Time
}

// EventsFromChangeSet flattens a change set into analytics rows
func EventsFromChangeSet(cs *models.ChangeSet) []ListingEvent {
	events := make([]ListingEvent, 0, len(cs.Created)+len(cs.Updated)+len(cs.Reactivated)+len(cs.Deactivated))

	add := func(l *models.Listing, kind types.ChangeKind, diffs []models.FieldDiff) {
		fields := make([]string, 0, len(diffs))
		for _, d := range diffs {
			fields = append(fields, d.Field)
		}
		events = append(events, ListingEvent{
			JobID:      cs.JobID,
			CycleID:    cs.CycleID,
			Provider:   l.Provider,
			ListingID:  l.ID,
			Hash:       l.Hash,
			Kind:       kind,
			Price:      l.Price,
			Currency:   l.Currency,
			Fields:     fields,
			ObservedAt: cs.ObservedAt,
		})
	}

	for _, l := range cs.Created {
		add(l, types.ChangeCreated, nil)
	}
	for _, u := range cs.Updated {
		add(u.Listing, types.ChangeUpdated, u.Diffs)
	}
	for _, u := range cs.Reactivated {
		add(u.Listing, types.ChangeReactivated, u.Diffs)
	}
	for _, l := range cs.Deactivated {
		add(l, types.ChangeDeactivated, nil)
	}
	return events
}

// ListingEventRepository appends change events to ClickHouse
type ListingEventRepository struct {
	db *ClickHouseDB
}

// NewListingEventRepository creates a new event repository
func NewListingEventRepository(db *ClickHouseDB) *ListingEventRepository {
	return &ListingEventRepository{db: db}
}

// Publish writes the events of a committed change set in one batch
func (r *ListingEventRepository) Publish(ctx context.Context, cs *models.ChangeSet) error {
	events := EventsFromChangeSet(cs)
	if len(events) == 0 {
		return nil
	}

	rows := make([][]interface{}, 0, len(events))
	for _, e := range events {
		rows = append(rows, []interface{}{
			e.JobID,
			e.CycleID,
			e.Provider,
			e.ListingID,
			e.Hash,
			string(e.Kind),
			e.Price,
			e.Currency,
			e.Fields,
			e.ObservedAt,
		})
	}

	err := r.db.InsertRows(ctx, `
		INSERT INTO listing_events (
			job_id, cycle_id, provider, listing_id, hash, kind, price, currency, fields, observed_at
		)
	`, rows)
	if err != nil {
		return fmt.Errorf("failed to write %d listing events: %w", len(rows), err)
	}
	return nil
}

// Name identifies the sink in logs
func (r *ListingEventRepository) Name() string {
	return "clickhouse_events"
}

// CountEvents returns how many events of a kind a job has produced
func (r *ListingEventRepository) CountEvents(ctx context.Context, jobID string, kind types.ChangeKind) (uint64, error) {
	var count uint64
	err := r.db.Conn().QueryRow(ctx,
		`SELECT count() FROM listing_events WHERE job_id = ? AND kind = ?`, jobID, string(kind),
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count events: %w", err)
	}
	return count, nil
}
