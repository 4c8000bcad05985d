package models

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// Job is a saved search: which providers to poll, where, and how to filter
type Job struct {
	ID          string                 `json:"id" db:"id"`
	OwnerID     string                 `json:"ownerId" db:"owner_id"`
	Name        string                 `json:"name" db:"name"`
	Providers   []string               `json:"providers" db:"providers"`
	CrawlURL    string                 `json:"crawlUrl,omitempty" db:"crawl_url"`
	CrawlConfig map[string]interface{} `json:"crawlConfig,omitempty" db:"crawl_config"`
	Filter      FilterSpec             `json:"filter" db:"filter"`
	Destination *Coordinate            `json:"destination,omitempty"`
	SharedWith  []string               `json:"sharedWith,omitempty" db:"shared_with"`
	CreatedAt   time.Time              `json:"createdAt" db:"created_at"`
	UpdatedAt   time.Time              `json:"updatedAt" db:"updated_at"`
	LastCycleAt *time.Time             `json:"lastCycleAt,omitempty" db:"last_cycle_at"`
}

// AllowsProvider reports whether batches from provider belong to this job.
// A job without a provider list accepts every provider.
func (j *Job) AllowsProvider(provider string) bool {
	if len(j.Providers) == 0 {
		return true
	}
	for _, p := range j.Providers {
		if p == provider {
			return true
		}
	}
	return false
}

// FilterSpec is the JSON-stored filter configuration of a job.
// Boundary holds raw GeoJSON (geometry, Feature or FeatureCollection).
type FilterSpec struct {
	MinPrice      *decimal.Decimal `json:"minPrice,omitempty"`
	MaxPrice      *decimal.Decimal `json:"maxPrice,omitempty"`
	Keywords      []string         `json:"keywords,omitempty"`
	ExcludeTerms  []string         `json:"excludeTerms,omitempty"`
	Providers     []string         `json:"providers,omitempty"`
	Boundary      json.RawMessage  `json:"boundary,omitempty"`
	SpatialPolicy string           `json:"spatialPolicy,omitempty"`
}

// Coordinate is a WGS84 point
type Coordinate struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}
