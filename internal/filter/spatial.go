package filter

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/listing-scanner/internal/types"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/planar"
)

// ErrNoPolygon is returned for GeoJSON that parses but contains no polygonal geometry
var ErrNoPolygon = errors.New("boundary contains no polygon")

// SpatialFilter keeps listings inside a polygonal boundary
type SpatialFilter struct {
	boundary orb.MultiPolygon
	bound    orb.Bound
	policy   types.SpatialPolicy
}

// ParseBoundary accepts a GeoJSON geometry, Feature or FeatureCollection and
// collects every Polygon and MultiPolygon in it
func ParseBoundary(raw json.RawMessage) (orb.MultiPolygon, error) {
	var probe struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return nil, fmt.Errorf("boundary is not valid JSON: %w", err)
	}

	var geometries []orb.Geometry
	switch probe.Type {
	case "FeatureCollection":
		fc, err := geojson.UnmarshalFeatureCollection(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid feature collection: %w", err)
		}
		for _, f := range fc.Features {
			geometries = append(geometries, f.Geometry)
		}
	case "Feature":
		f, err := geojson.UnmarshalFeature(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid feature: %w", err)
		}
		geometries = append(geometries, f.Geometry)
	default:
		g, err := geojson.UnmarshalGeometry(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid geometry: %w", err)
		}
		geometries = append(geometries, g.Geometry())
	}

	var mp orb.MultiPolygon
	for _, g := range geometries {
		switch geom := g.(type) {
		case orb.Polygon:
			mp = append(mp, geom)
		case orb.MultiPolygon:
			mp = append(mp, geom...)
		}
	}
	if len(mp) == 0 {
		return nil, ErrNoPolygon
	}
	for i, poly := range mp {
		if len(poly) == 0 || len(poly[0]) < 4 {
			return nil, fmt.Errorf("polygon %d has an outer ring with fewer than 4 positions", i)
		}
	}
	return mp, nil
}

// NewSpatialFilter builds a filter over an already parsed boundary
func NewSpatialFilter(boundary orb.MultiPolygon, policy types.SpatialPolicy) *SpatialFilter {
	return &SpatialFilter{boundary: boundary, bound: boundary.Bound(), policy: policy}
}

// Contains reports whether (lat, lng) lies inside the boundary. Points inside
// a hole are outside.
func (s *SpatialFilter) Contains(lat, lng float64) bool {
	p := orb.Point{lng, lat}
	if !s.bound.Contains(p) {
		return false
	}
	return planar.MultiPolygonContains(s.boundary, p)
}

// Evaluate decides for a listing with possibly unresolved coordinates
func (s *SpatialFilter) Evaluate(lat, lng *float64) Decision {
	if lat == nil || lng == nil {
		if s.policy == types.SpatialStrict {
			return Decision{Keep: false, Reason: ReasonUnresolvedLocation}
		}
		return Decision{Keep: true}
	}
	if !s.Contains(*lat, *lng) {
		return Decision{Keep: false, Reason: ReasonOutsideBoundary}
	}
	return Decision{Keep: true}
}
