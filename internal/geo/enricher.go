package geo

import (
	"context"
	"errors"
	"strings"

	"github.com/listing-scanner/internal/logging"
	"github.com/listing-scanner/internal/models"
)

// Outcome describes how a listing's coordinates were obtained
type Outcome string

const (
	// OutcomeProvided means the provider already supplied coordinates
	OutcomeProvided Outcome = "provided"
	// OutcomeResolved means the location hint was geocoded
	OutcomeResolved Outcome = "resolved"
	// OutcomeUnresolved means geocoding failed or found nothing
	OutcomeUnresolved Outcome = "unresolved"
	// OutcomeNoHint means there was nothing to geocode
	OutcomeNoHint Outcome = "no_hint"
)

// BatchStats counts enrichment outcomes of one batch
type BatchStats struct {
	Provided   int `json:"provided"`
	Resolved   int `json:"resolved"`
	Unresolved int `json:"unresolved"`
	NoHint     int `json:"noHint"`
}

func (s *BatchStats) add(o Outcome) {
	switch o {
	case OutcomeProvided:
		s.Provided++
	case OutcomeResolved:
		s.Resolved++
	case OutcomeUnresolved:
		s.Unresolved++
	case OutcomeNoHint:
		s.NoHint++
	}
}

// Enricher fills in coordinates and destination distance. It never fails a
// listing: whatever cannot be resolved stays nil.
type Enricher struct {
	geocoder Geocoder
}

// NewEnricher creates an enricher. A nil geocoder only passes provided
// coordinates through.
func NewEnricher(geocoder Geocoder) *Enricher {
	return &Enricher{geocoder: geocoder}
}

// Enrich returns a copy of l with coordinates and distance filled in where possible
func (e *Enricher) Enrich(ctx context.Context, l models.NormalizedListing, destination *Point) (models.NormalizedListing, Outcome) {
	l.DistanceKm = nil

	var outcome Outcome
	if l.HasCoordinates() && (Point{Lat: *l.Latitude, Lng: *l.Longitude}).Valid() {
		outcome = OutcomeProvided
	} else {
		l.Latitude, l.Longitude = nil, nil
		outcome = e.resolve(ctx, &l)
	}

	if destination != nil && l.HasCoordinates() {
		d := DistanceKm(Point{Lat: *l.Latitude, Lng: *l.Longitude}, *destination)
		l.DistanceKm = &d
	}
	return l, outcome
}

func (e *Enricher) resolve(ctx context.Context, l *models.NormalizedListing) Outcome {
	hint := strings.TrimSpace(l.LocationHint)
	if hint == "" || e.geocoder == nil {
		return OutcomeNoHint
	}

	p, err := e.geocoder.Geocode(ctx, hint)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			logging.FromContext(ctx).WithError(err).WithFields(map[string]interface{}{
				"provider": l.Provider,
				"hint":     hint,
			}).Debug("Geocoding failed")
		}
		return OutcomeUnresolved
	}
	if !p.Valid() {
		return OutcomeUnresolved
	}

	lat, lng := p.Lat, p.Lng
	l.Latitude, l.Longitude = &lat, &lng
	return OutcomeResolved
}

// EnrichBatch enriches every listing in order and reports the outcome counts
func (e *Enricher) EnrichBatch(ctx context.Context, listings []models.NormalizedListing, destination *Point) ([]models.NormalizedListing, BatchStats) {
	var stats BatchStats
	out := make([]models.NormalizedListing, len(listings))
	for i, l := range listings {
		enriched, outcome := e.Enrich(ctx, l, destination)
		out[i] = enriched
		stats.add(outcome)
	}
	return out, stats
}
