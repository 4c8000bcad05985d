// Package types provides common type definitions for the listing scanner system.
package types

// ProviderName identifies a listing source (e.g. "anibis", "tutti", "homegate")
type ProviderName string

// ChangeKind classifies what happened to a listing during a reconciliation cycle
type ChangeKind string

const (
	// ChangeCreated is a listing observed for the first time for a job
	ChangeCreated ChangeKind = "created"
	// ChangeUpdated is an active listing whose display fields changed
	ChangeUpdated ChangeKind = "updated"
	// ChangeReactivated is an inactive listing observed again
	ChangeReactivated ChangeKind = "reactivated"
	// ChangeDeactivated is an active listing not observed in the latest cycle
	ChangeDeactivated ChangeKind = "deactivated"
)

// SpatialPolicy decides what a spatial filter does with listings whose
// coordinates could not be resolved
type SpatialPolicy string

const (
	// SpatialPassThrough keeps unresolved listings
	SpatialPassThrough SpatialPolicy = "pass"
	// SpatialStrict drops unresolved listings
	SpatialStrict SpatialPolicy = "strict"
)

// ParseSpatialPolicy maps a config/filter value onto a policy, falling back to
// the given default for empty or unknown values
func ParseSpatialPolicy(value string, fallback SpatialPolicy) SpatialPolicy {
	switch SpatialPolicy(value) {
	case SpatialPassThrough, SpatialStrict:
		return SpatialPolicy(value)
	default:
		return fallback
	}
}

// ServiceError represents a structured error response
type ServiceError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

func (e *ServiceError) Error() string {
	return e.Message
}
