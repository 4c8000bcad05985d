// Package geo resolves listing locations to coordinates and computes the
// distance to a job's destination.
package geo

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/paulmach/orb"
	orbgeo "github.com/paulmach/orb/geo"
)

// ErrNotFound is returned by a Geocoder that understood the request but has
// no match for the hint
var ErrNotFound = errors.New("geocode: no match")

// Point is a WGS84 coordinate
type Point struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Valid reports whether the point lies within WGS84 bounds
func (p Point) Valid() bool {
	return !math.IsNaN(p.Lat) && !math.IsNaN(p.Lng) &&
		p.Lat >= -90 && p.Lat <= 90 && p.Lng >= -180 && p.Lng <= 180
}

// Orb converts to an orb point, which is (lng, lat)
func (p Point) Orb() orb.Point {
	return orb.Point{p.Lng, p.Lat}
}

func (p Point) String() string {
	return fmt.Sprintf("%.6f,%.6f", p.Lat, p.Lng)
}

// Geocoder resolves a free-text location hint to a point
type Geocoder interface {
	Geocode(ctx context.Context, hint string) (Point, error)
}

// GeocoderFunc adapts a function to the Geocoder interface
type GeocoderFunc func(ctx context.Context, hint string) (Point, error)

// Geocode calls f
func (f GeocoderFunc) Geocode(ctx context.Context, hint string) (Point, error) {
	return f(ctx, hint)
}

// DistanceKm returns the great-circle distance between a and b in whole
// kilometres, rounded half away from zero
func DistanceKm(a, b Point) int {
	meters := orbgeo.DistanceHaversine(a.Orb(), b.Orb())
	return int(math.Round(meters / 1000))
}

// NormalizeHint canonicalizes a location hint for lookups and cache keys
func NormalizeHint(hint string) string {
	return strings.ToLower(strings.Join(strings.Fields(hint), " "))
}

// StaticGeocoder answers from a fixed table keyed by normalized hint.
// Used in development and tests.
type StaticGeocoder map[string]Point

// Geocode implements Geocoder
func (s StaticGeocoder) Geocode(ctx context.Context, hint string) (Point, error) {
	if err := ctx.Err(); err != nil {
		return Point{}, err
	}
	if p, ok := s[NormalizeHint(hint)]; ok {
		return p, nil
	}
	return Point{}, ErrNotFound
}
