package storage

import (
	"testing"

	"github.com/listing-scanner/internal/models"
	"github.com/listing-scanner/internal/types"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventsFromChangeSet(t *testing.T) {
	price := decimal.NewFromInt(900)
	created := newTestListing("a", "job-1", "tutti", "h-a", t0)
	updated := newTestListing("b", "job-1", "tutti", "h-b", t0)
	updated.Price = &price
	reactivated := newTestListing("c", "job-1", "tutti", "h-c", t0)
	deactivated := newTestListing("d", "job-1", "tutti", "h-d", t0)

	cs := &models.ChangeSet{
		JobID:      "job-1",
		CycleID:    "c1",
		Provider:   "tutti",
		ObservedAt: t0,
		Created:    []*models.Listing{created},
		Updated: []models.ListingUpdate{{
			Listing: updated,
			Diffs:   []models.FieldDiff{{Field: "price"}, {Field: "description"}},
		}},
		Reactivated: []models.ListingUpdate{{Listing: reactivated}},
		Deactivated: []*models.Listing{deactivated},
		Unchanged:   7,
	}

	events := EventsFromChangeSet(cs)
	require.Len(t, events, 4)

	kinds := make([]types.ChangeKind, len(events))
	for i, e := range events {
		kinds[i] = e.Kind
		assert.Equal(t, "job-1", e.JobID)
		assert.Equal(t, "c1", e.CycleID)
		assert.Equal(t, t0, e.ObservedAt)
	}
	assert.Equal(t, []types.ChangeKind{
		types.ChangeCreated, types.ChangeUpdated, types.ChangeReactivated, types.ChangeDeactivated,
	}, kinds)

	assert.Equal(t, []string{"price", "description"}, events[1].Fields)
	require.NotNil(t, events[1].Price)
	assert.True(t, price.Equal(*events[1].Price))
	assert.Empty(t, events[0].Fields)
}

func TestEventsFromChangeSet_Empty(t *testing.T) {
	assert.Empty(t, EventsFromChangeSet(&models.ChangeSet{JobID: "job-1", Unchanged: 3}))
}
