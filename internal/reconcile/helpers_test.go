package reconcile

import (
	"fmt"
	"sync"
	"time"

	"github.com/listing-scanner/internal/models"
	"github.com/shopspring/decimal"
)

var t0 = time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

// sequence mints predictable ids
type sequence struct {
	mu sync.Mutex
	n  int
}

func (s *sequence) next() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n++
	return fmt.Sprintf("id-%03d", s.n)
}

// clock is a settable time source
type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// item builds a normalized tutti listing identified by slug
func item(slug string, price int64) models.NormalizedListing {
	p := decimal.NewFromInt(price)
	return models.NormalizedListing{
		Provider:     "tutti",
		Title:        "Listing " + slug,
		URL:          "https://www.tutti.ch/vi/" + slug,
		Price:        &p,
		Currency:     "CHF",
		LocationHint: "3011 Bern",
	}
}

func withCoords(l models.NormalizedListing, lat, lng float64, km int) models.NormalizedListing {
	l.Latitude, l.Longitude, l.DistanceKm = &lat, &lng, &km
	return l
}

func strPtr(s string) *string {
	return &s
}
