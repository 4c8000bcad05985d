package api

import (
	"encoding/json"
	"net/http"

	apperrors "github.com/listing-scanner/internal/errors"
	"github.com/listing-scanner/internal/types"
)

// ErrorResponse represents an API error response.
type ErrorResponse struct {
	Error types.ServiceError `json:"error"`
}

// respondError sends an error response.
func respondError(w http.ResponseWriter, statusCode int, code, message string, details map[string]interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	response := ErrorResponse{
		Error: types.ServiceError{
			Code:    code,
			Message: message,
			Details: details,
		},
	}

	json.NewEncoder(w).Encode(response)
}

// respondJSON sends a JSON response.
func respondJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// parseJSONBody parses JSON request body.
func parseJSONBody(r *http.Request, v interface{}) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(v)
}

// Common error codes
const (
	ErrCodeInvalidInput       = "INVALID_INPUT"
	ErrCodeNotFound           = "NOT_FOUND"
	ErrCodeUnauthorized       = "UNAUTHORIZED"
	ErrCodeConflict           = "CONFLICT"
	ErrCodeRateLimited        = "RATE_LIMIT_EXCEEDED"
	ErrCodeInternalError      = "INTERNAL_ERROR"
	ErrCodeServiceUnavailable = "SERVICE_UNAVAILABLE"
)

// respondServiceError maps a service error onto a response. Details of
// server-side failures are not exposed.
func respondServiceError(w http.ResponseWriter, err error) {
	status, code, message := mapServiceError(err)
	var details map[string]interface{}
	if status < http.StatusInternalServerError {
		details = apperrors.Categorize(err).Details
	}
	respondError(w, status, code, message, details)
}

// mapServiceError maps service errors to HTTP status codes.
func mapServiceError(err error) (int, string, string) {
	catErr := apperrors.Categorize(err)
	switch catErr.Category {
	case apperrors.CategoryValidation:
		return http.StatusBadRequest, ErrCodeInvalidInput, catErr.Message
	case apperrors.CategoryNotFound:
		return http.StatusNotFound, ErrCodeNotFound, catErr.Message
	case apperrors.CategoryConflict:
		return http.StatusConflict, ErrCodeConflict, catErr.Message
	case apperrors.CategoryFilter, apperrors.CategoryEnrichment:
		return http.StatusUnprocessableEntity, catErr.Code, catErr.Message
	}

	if apperrors.IsRetryable(err) {
		return http.StatusServiceUnavailable, ErrCodeServiceUnavailable, "Temporarily unavailable, retry later"
	}
	return http.StatusInternalServerError, ErrCodeInternalError, "An internal error occurred"
}
