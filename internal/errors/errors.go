package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"

	"github.com/listing-scanner/internal/types"
)

// ErrorCategory represents the category of an error
type ErrorCategory string

const (
	// CategoryValidation represents invalid input (4xx)
	CategoryValidation ErrorCategory = "validation"
	// CategoryNotFound represents missing jobs, listings or users
	CategoryNotFound ErrorCategory = "not_found"
	// CategoryConflict represents uniqueness violations surfaced to callers
	CategoryConflict ErrorCategory = "conflict"
	// CategoryEnrichment represents geocoding/extraction failures (non-fatal)
	CategoryEnrichment ErrorCategory = "enrichment"
	// CategoryFilter represents filter evaluation failures (listing excluded)
	CategoryFilter ErrorCategory = "filter"
	// CategoryPersistence represents database failures that abort a cycle
	CategoryPersistence ErrorCategory = "persistence"
	// CategoryMigration represents schema migration failures (fatal at startup)
	CategoryMigration ErrorCategory = "migration"
	// CategoryCache represents Redis failures
	CategoryCache ErrorCategory = "cache"
	// CategorySystem represents everything else (5xx)
	CategorySystem ErrorCategory = "system"
)

// CategorizedError represents an error with category and HTTP status code
type CategorizedError struct {
	Category   ErrorCategory
	StatusCode int
	Code       string
	Message    string
	Details    map[string]interface{}
	Cause      error
}

// Error implements the error interface
func (e *CategorizedError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause
func (e *CategorizedError) Unwrap() error {
	return e.Cause
}

// ToServiceError converts to a ServiceError
func (e *CategorizedError) ToServiceError() *types.ServiceError {
	return &types.ServiceError{
		Code:    e.Code,
		Message: e.Message,
		Details: e.Details,
	}
}

// NewValidationError creates an invalid input error
func NewValidationError(field string, reason string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryValidation,
		StatusCode: http.StatusBadRequest,
		Code:       "INVALID_INPUT",
		Message:    fmt.Sprintf("invalid %s: %s", field, reason),
		Details: map[string]interface{}{
			"field":  field,
			"reason": reason,
		},
	}
}

// NewNotFoundError creates a not found error
func NewNotFoundError(resource string, id string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryNotFound,
		StatusCode: http.StatusNotFound,
		Code:       "NOT_FOUND",
		Message:    fmt.Sprintf("%s not found: %s", resource, id),
		Details: map[string]interface{}{
			"resource": resource,
			"id":       id,
		},
	}
}

// NewConflictError creates a conflict error
func NewConflictError(message string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryConflict,
		StatusCode: http.StatusConflict,
		Code:       "CONFLICT",
		Message:    message,
	}
}

// NewEnrichmentError wraps a geocoding or extraction failure for one listing
func NewEnrichmentError(provider string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryEnrichment,
		StatusCode: http.StatusUnprocessableEntity,
		Code:       "ENRICHMENT_FAILED",
		Message:    fmt.Sprintf("enrichment failed for provider %s", provider),
		Cause:      cause,
		Details: map[string]interface{}{
			"provider": provider,
		},
	}
}

// NewFilterError reports a filter that cannot be evaluated, typically a
// malformed spatial boundary
func NewFilterError(jobID string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryFilter,
		StatusCode: http.StatusUnprocessableEntity,
		Code:       "FILTER_INVALID",
		Message:    fmt.Sprintf("filter for job %s cannot be evaluated", jobID),
		Cause:      cause,
		Details: map[string]interface{}{
			"jobId": jobID,
		},
	}
}

// NewPersistenceError creates an error that aborts the current cycle
func NewPersistenceError(operation string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryPersistence,
		StatusCode: http.StatusInternalServerError,
		Code:       "PERSISTENCE_ERROR",
		Message:    fmt.Sprintf("database error during %s", operation),
		Cause:      cause,
		Details: map[string]interface{}{
			"operation": operation,
		},
	}
}

// NewMigrationError creates a schema migration error
func NewMigrationError(message string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryMigration,
		StatusCode: http.StatusServiceUnavailable,
		Code:       "MIGRATION_FAILED",
		Message:    message,
		Cause:      cause,
	}
}

// NewCacheError creates a cache error
func NewCacheError(operation string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryCache,
		StatusCode: http.StatusInternalServerError,
		Code:       "CACHE_ERROR",
		Message:    fmt.Sprintf("cache error during %s", operation),
		Cause:      cause,
		Details: map[string]interface{}{
			"operation": operation,
		},
	}
}

// NewInternalError creates an internal server error
func NewInternalError(message string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategorySystem,
		StatusCode: http.StatusInternalServerError,
		Code:       "INTERNAL_ERROR",
		Message:    message,
		Cause:      cause,
	}
}

// Categorize categorizes an existing error
func Categorize(err error) *CategorizedError {
	if err == nil {
		return nil
	}

	var catErr *CategorizedError
	if stderrors.As(err, &catErr) {
		return catErr
	}

	var svcErr *types.ServiceError
	if stderrors.As(err, &svcErr) {
		return categorizeServiceError(svcErr)
	}

	return NewInternalError("unexpected error", err)
}

// categorizeServiceError categorizes a ServiceError
func categorizeServiceError(err *types.ServiceError) *CategorizedError {
	category, status := CategorySystem, http.StatusInternalServerError
	switch err.Code {
	case "INVALID_INPUT":
		category, status = CategoryValidation, http.StatusBadRequest
	case "NOT_FOUND", "JOB_NOT_FOUND", "LISTING_NOT_FOUND", "USER_NOT_FOUND":
		category, status = CategoryNotFound, http.StatusNotFound
	case "CONFLICT":
		category, status = CategoryConflict, http.StatusConflict
	}
	return &CategorizedError{
		Category:   category,
		StatusCode: status,
		Code:       err.Code,
		Message:    err.Message,
		Details:    err.Details,
	}
}

// GetHTTPStatusCode returns the HTTP status code for an error
func GetHTTPStatusCode(err error) int {
	if catErr := Categorize(err); catErr != nil {
		return catErr.StatusCode
	}
	return http.StatusInternalServerError
}

// IsRetryable reports whether the scheduler should run the cycle again later.
// Only infrastructure failures qualify; bad input stays bad.
func IsRetryable(err error) bool {
	catErr := Categorize(err)
	if catErr == nil {
		return false
	}

	switch catErr.Category {
	case CategoryPersistence, CategoryCache:
		return true
	case CategorySystem:
		return catErr.StatusCode == http.StatusServiceUnavailable
	default:
		return false
	}
}

// IsNotFound reports whether err is a not found error
func IsNotFound(err error) bool {
	catErr := Categorize(err)
	return catErr != nil && catErr.Category == CategoryNotFound
}

// IsUserError determines if an error is a user error (4xx)
func IsUserError(err error) bool {
	catErr := Categorize(err)
	if catErr == nil {
		return false
	}

	return catErr.StatusCode >= 400 && catErr.StatusCode < 500
}
