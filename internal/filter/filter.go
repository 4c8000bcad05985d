// Package filter decides which enriched listings of a batch a job keeps.
// Attribute and spatial predicates compose with AND.
package filter

import (
	"strings"

	"github.com/listing-scanner/internal/models"
	"github.com/listing-scanner/internal/types"
	"github.com/shopspring/decimal"
)

// Exclusion reasons
const (
	ReasonProvider           = "provider_not_allowed"
	ReasonPriceBelowMin      = "price_below_min"
	ReasonPriceAboveMax      = "price_above_max"
	ReasonNoKeyword          = "no_keyword_match"
	ReasonExcludedTerm       = "excluded_term"
	ReasonOutsideBoundary    = "outside_boundary"
	ReasonUnresolvedLocation = "unresolved_location"
	ReasonInvalidBoundary    = "invalid_boundary"
)

// Decision is the verdict for one listing
type Decision struct {
	Keep   bool   `json:"keep"`
	Reason string `json:"reason,omitempty"`
}

// AttributePredicate filters on provider, price and text.
// Listings without a price pass the price bounds.
type AttributePredicate struct {
	MinPrice     *decimal.Decimal
	MaxPrice     *decimal.Decimal
	Keywords     []string
	ExcludeTerms []string
	Providers    []string
}

// Evaluate applies the predicate to a listing
func (p *AttributePredicate) Evaluate(l models.NormalizedListing) Decision {
	if len(p.Providers) > 0 && !containsFold(p.Providers, l.Provider) {
		return Decision{Reason: ReasonProvider}
	}

	if l.Price != nil {
		if p.MinPrice != nil && l.Price.LessThan(*p.MinPrice) {
			return Decision{Reason: ReasonPriceBelowMin}
		}
		if p.MaxPrice != nil && l.Price.GreaterThan(*p.MaxPrice) {
			return Decision{Reason: ReasonPriceAboveMax}
		}
	}

	text := strings.ToLower(l.Title + "\n" + l.Description)
	for _, term := range p.ExcludeTerms {
		if term = strings.ToLower(strings.TrimSpace(term)); term != "" && strings.Contains(text, term) {
			return Decision{Reason: ReasonExcludedTerm}
		}
	}

	if len(p.Keywords) > 0 {
		matched := false
		for _, kw := range p.Keywords {
			if kw = strings.ToLower(strings.TrimSpace(kw)); kw != "" && strings.Contains(text, kw) {
				matched = true
				break
			}
		}
		if !matched {
			return Decision{Reason: ReasonNoKeyword}
		}
	}

	return Decision{Keep: true}
}

// Filter is the compiled filter of one job
type Filter struct {
	attributes  AttributePredicate
	spatial     *SpatialFilter
	boundaryErr error
}

// FromSpec compiles a job's filter spec. A malformed boundary does not fail
// compilation: the filter then excludes every listing and BoundaryError
// reports why.
func FromSpec(spec models.FilterSpec, defaultPolicy types.SpatialPolicy) *Filter {
	f := &Filter{
		attributes: AttributePredicate{
			MinPrice:     spec.MinPrice,
			MaxPrice:     spec.MaxPrice,
			Keywords:     spec.Keywords,
			ExcludeTerms: spec.ExcludeTerms,
			Providers:    spec.Providers,
		},
	}

	if len(spec.Boundary) == 0 || string(spec.Boundary) == "null" {
		return f
	}

	boundary, err := ParseBoundary(spec.Boundary)
	if err != nil {
		f.boundaryErr = err
		return f
	}
	f.spatial = NewSpatialFilter(boundary, types.ParseSpatialPolicy(spec.SpatialPolicy, defaultPolicy))
	return f
}

// BoundaryError returns the parse error of the configured boundary, if any
func (f *Filter) BoundaryError() error {
	return f.boundaryErr
}

// Evaluate applies attribute then spatial predicates
func (f *Filter) Evaluate(l models.NormalizedListing) Decision {
	if f.boundaryErr != nil {
		return Decision{Reason: ReasonInvalidBoundary}
	}
	if d := f.attributes.Evaluate(l); !d.Keep {
		return d
	}
	if f.spatial != nil {
		return f.spatial.Evaluate(l.Latitude, l.Longitude)
	}
	return Decision{Keep: true}
}

// Result is the outcome of filtering a batch
type Result struct {
	Kept     []models.NormalizedListing
	Excluded map[string]int // reason -> count
}

// Apply filters a batch, keeping order
func (f *Filter) Apply(listings []models.NormalizedListing) Result {
	res := Result{Kept: make([]models.NormalizedListing, 0, len(listings)), Excluded: map[string]int{}}
	for _, l := range listings {
		d := f.Evaluate(l)
		if d.Keep {
			res.Kept = append(res.Kept, l)
			continue
		}
		res.Excluded[d.Reason]++
	}
	return res
}

func containsFold(values []string, s string) bool {
	for _, v := range values {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}
