// Package models provides data models for the listing scanner system.
package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// PriceScale is the number of decimals a stored price keeps
const PriceScale int32 = 2

// MaxPrice is the exclusive upper bound of a storable price
var MaxPrice = decimal.New(1, 12)

// NormalizedListing is one record of a provider batch after markup extraction.
// Stable carries provider-specific identity fields (e.g. the provider's own
// listing id); Attributes carries everything else the provider exposes.
type NormalizedListing struct {
	Provider     string            `json:"provider"`
	Title        string            `json:"title"`
	URL          string            `json:"url"`
	Description  string            `json:"description,omitempty"`
	Price        *decimal.Decimal  `json:"price,omitempty"`
	Currency     string            `json:"currency,omitempty"`
	LocationHint string            `json:"locationHint,omitempty"`
	Latitude     *float64          `json:"latitude,omitempty"`
	Longitude    *float64          `json:"longitude,omitempty"`
	DistanceKm   *int              `json:"distanceKm,omitempty"`
	Stable       map[string]string `json:"stable,omitempty"`
	Attributes   map[string]string `json:"attributes,omitempty"`
}

// HasCoordinates reports whether both latitude and longitude are set
func (l NormalizedListing) HasCoordinates() bool {
	return l.Latitude != nil && l.Longitude != nil
}

// Listing represents a persisted listing row
type Listing struct {
	ID            string           `json:"id" db:"id"`
	JobID         string           `json:"jobId" db:"job_id"`
	Provider      string           `json:"provider" db:"provider"`
	Title         string           `json:"title" db:"title"`
	Price         *decimal.Decimal `json:"price,omitempty" db:"price"`
	Currency      string           `json:"currency,omitempty" db:"currency"`
	URL           string           `json:"url" db:"url"`
	Description   string           `json:"description,omitempty" db:"description"`
	LocationHint  string           `json:"locationHint,omitempty" db:"location_hint"`
	Hash          string           `json:"hash" db:"hash"`
	Active        bool             `json:"active" db:"active"`
	ChangeSet     []FieldDiff      `json:"changeSet,omitempty" db:"change_set"`
	Latitude      *float64         `json:"latitude,omitempty" db:"latitude"`
	Longitude     *float64         `json:"longitude,omitempty" db:"longitude"`
	DistanceKm    *int             `json:"distanceKm,omitempty" db:"distance_km"`
	FirstSeenAt   time.Time        `json:"firstSeenAt" db:"first_seen_at"`
	LastSeenAt    time.Time        `json:"lastSeenAt" db:"last_seen_at"`
	DeactivatedAt *time.Time       `json:"deactivatedAt,omitempty" db:"deactivated_at"`
	CreatedAt     time.Time        `json:"createdAt" db:"created_at"`
	UpdatedAt     time.Time        `json:"updatedAt" db:"updated_at"`
}

// Clone returns a deep copy of the listing
func (l *Listing) Clone() *Listing {
	if l == nil {
		return nil
	}
	c := *l
	if l.Price != nil {
		p := *l.Price
		c.Price = &p
	}
	c.Latitude = cloneFloat(l.Latitude)
	c.Longitude = cloneFloat(l.Longitude)
	if l.DistanceKm != nil {
		d := *l.DistanceKm
		c.DistanceKm = &d
	}
	if l.DeactivatedAt != nil {
		t := *l.DeactivatedAt
		c.DeactivatedAt = &t
	}
	if l.ChangeSet != nil {
		c.ChangeSet = make([]FieldDiff, len(l.ChangeSet))
		copy(c.ChangeSet, l.ChangeSet)
	}
	return &c
}

func cloneFloat(f *float64) *float64 {
	if f == nil {
		return nil
	}
	v := *f
	return &v
}

// FieldDiff records one display field change observed by reconciliation.
// Old and New are nil when the field was absent.
type FieldDiff struct {
	Field     string    `json:"field"`
	Old       *string   `json:"old"`
	New       *string   `json:"new"`
	Timestamp time.Time `json:"timestamp"`
}
