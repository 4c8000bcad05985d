package reconcile

import (
	"strconv"
	"time"

	"github.com/listing-scanner/internal/fingerprint"
	"github.com/listing-scanner/internal/models"
	"github.com/shopspring/decimal"
)

// Display fields compared between cycles. Title and URL are part of the
// hash, so a listing whose title or URL changed is a different listing.
const (
	FieldPrice        = "price"
	FieldCurrency     = "currency"
	FieldDescription  = "description"
	FieldLocationHint = "location_hint"
	FieldLatitude     = "latitude"
	FieldLongitude    = "longitude"
	FieldDistanceKm   = "distance_km"
)

// Plan is the set of writes one cycle makes. It is built without touching
// the store so it can be computed and inspected in isolation.
type Plan struct {
	Inserts       []*models.Listing
	Updates       []models.ListingUpdate
	Reactivations []models.ListingUpdate
	Deactivations []*models.Listing
	// Touched holds ids of active rows observed without changes
	Touched []string
	// Duplicates counts incoming listings dropped because an earlier listing
	// of the batch had the same hash
	Duplicates int
}

// IsEmpty reports whether the plan changes any visible state
func (p *Plan) IsEmpty() bool {
	return len(p.Inserts) == 0 && len(p.Updates) == 0 &&
		len(p.Reactivations) == 0 && len(p.Deactivations) == 0
}

// BuildPlan compares the listings of one provider seen in this cycle with
// the rows already stored for the job. prior must contain every row of that
// provider, active or not. newID mints ids for inserted rows.
func BuildPlan(jobID, provider string, prior []*models.Listing, incoming []models.NormalizedListing, now time.Time, newID func() string) *Plan {
	plan := &Plan{}

	byHash := make(map[string]*models.Listing, len(prior))
	for _, row := range prior {
		byHash[row.Hash] = row
	}

	seen := make(map[string]struct{}, len(incoming))
	for _, in := range incoming {
		in.Provider = provider
		hash := fingerprint.Of(in)
		if _, dup := seen[hash]; dup {
			plan.Duplicates++
			continue
		}
		seen[hash] = struct{}{}

		row, ok := byHash[hash]
		if !ok {
			plan.Inserts = append(plan.Inserts, newListing(jobID, hash, in, now, newID()))
			continue
		}

		next := row.Clone()
		diffs := applyDisplayFields(next, in, now)
		next.LastSeenAt = now

		switch {
		case !row.Active:
			next.Active = true
			next.DeactivatedAt = nil
			next.UpdatedAt = now
			plan.Reactivations = append(plan.Reactivations, models.ListingUpdate{Listing: next, Diffs: diffs})
		case len(diffs) > 0:
			next.UpdatedAt = now
			plan.Updates = append(plan.Updates, models.ListingUpdate{Listing: next, Diffs: diffs})
		default:
			plan.Touched = append(plan.Touched, row.ID)
		}
	}

	for _, row := range prior {
		if !row.Active {
			continue
		}
		if _, ok := seen[row.Hash]; ok {
			continue
		}
		gone := row.Clone()
		gone.Active = false
		at := now
		gone.DeactivatedAt = &at
		gone.UpdatedAt = now
		plan.Deactivations = append(plan.Deactivations, gone)
	}

	return plan
}

func newListing(jobID, hash string, in models.NormalizedListing, now time.Time, id string) *models.Listing {
	l := &models.Listing{
		ID:           id,
		JobID:        jobID,
		Provider:     in.Provider,
		Hash:         hash,
		Active:       true,
		FirstSeenAt:  now,
		LastSeenAt:   now,
		CreatedAt:    now,
		UpdatedAt:    now,
		Title:        in.Title,
		URL:          in.URL,
		Description:  in.Description,
		LocationHint: in.LocationHint,
		Currency:     in.Currency,
	}
	l.Price = storedPrice(in.Price)
	if in.HasCoordinates() {
		lat, lng := *in.Latitude, *in.Longitude
		l.Latitude, l.Longitude = &lat, &lng
	}
	if in.DistanceKm != nil {
		d := *in.DistanceKm
		l.DistanceKm = &d
	}
	return l
}

// applyDisplayFields copies the incoming display fields onto row, appends a
// diff to the row's change set for each one that changed and returns the new
// diffs. Coordinates and distance are only replaced by non-nil values: a
// listing that could not be geocoded this cycle keeps its stored position.
func applyDisplayFields(row *models.Listing, in models.NormalizedListing, now time.Time) []models.FieldDiff {
	var diffs []models.FieldDiff
	record := func(field string, from, to *string) bool {
		if equalPtr(from, to) {
			return false
		}
		diffs = append(diffs, models.FieldDiff{Field: field, Old: from, New: to, Timestamp: now})
		return true
	}

	price := storedPrice(in.Price)
	if record(FieldPrice, priceString(row.Price), priceString(price)) {
		row.Price = price
	}
	if record(FieldCurrency, textString(row.Currency), textString(in.Currency)) {
		row.Currency = in.Currency
	}
	if record(FieldDescription, textString(row.Description), textString(in.Description)) {
		row.Description = in.Description
	}
	if record(FieldLocationHint, textString(row.LocationHint), textString(in.LocationHint)) {
		row.LocationHint = in.LocationHint
	}

	if in.HasCoordinates() {
		if record(FieldLatitude, coordString(row.Latitude), coordString(in.Latitude)) {
			v := *in.Latitude
			row.Latitude = &v
		}
		if record(FieldLongitude, coordString(row.Longitude), coordString(in.Longitude)) {
			v := *in.Longitude
			row.Longitude = &v
		}
	}
	if in.DistanceKm != nil {
		if record(FieldDistanceKm, intString(row.DistanceKm), intString(in.DistanceKm)) {
			v := *in.DistanceKm
			row.DistanceKm = &v
		}
	}

	if len(diffs) > 0 {
		row.ChangeSet = append(row.ChangeSet, diffs...)
	}
	return diffs
}

func equalPtr(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func priceString(p *decimal.Decimal) *string {
	if p == nil {
		return nil
	}
	s := p.String()
	return &s
}

// storedPrice rounds p to the scale the store keeps, so an incoming price
// compares equal to the value read back on the next cycle
func storedPrice(p *decimal.Decimal) *decimal.Decimal {
	if p == nil {
		return nil
	}
	v := p.Round(models.PriceScale)
	return &v
}

func textString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// coordinates are compared at 6 decimals, roughly 0.1 m
func coordString(f *float64) *string {
	if f == nil {
		return nil
	}
	s := strconv.FormatFloat(*f, 'f', 6, 64)
	return &s
}

func intString(i *int) *string {
	if i == nil {
		return nil
	}
	s := strconv.Itoa(*i)
	return &s
}

// ChangeSet turns an applied plan into the change set reported for a cycle
func (p *Plan) ChangeSet(batch *models.Batch, cycleID string, observedAt time.Time) *models.ChangeSet {
	return &models.ChangeSet{
		JobID:       batch.JobID,
		CycleID:     cycleID,
		Provider:    batch.Provider,
		ObservedAt:  observedAt,
		Created:     p.Inserts,
		Updated:     p.Updates,
		Reactivated: p.Reactivations,
		Deactivated: p.Deactivations,
		Unchanged:   len(p.Touched),
	}
}
