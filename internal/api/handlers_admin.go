package api

import (
	"net/http"

	"github.com/listing-scanner/internal/models"
)

// handleReset handles POST /api/admin/resets. Replaying a reset name
// returns the recorded result with alreadyApplied=true.
func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	var req models.ResetRequest
	if err := parseJSONBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "Invalid request body", nil)
		return
	}

	res, err := s.services.Resets.Reset(r.Context(), req)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	status := http.StatusCreated
	if res.AlreadyApplied {
		status = http.StatusOK
	}
	respondJSON(w, status, res)
}

// handleListResets handles GET /api/admin/resets
func (s *Server) handleListResets(w http.ResponseWriter, r *http.Request) {
	history, err := s.services.Resets.History(r.Context())
	if err != nil {
		respondServiceError(w, err)
		return
	}
	if history == nil {
		history = []*models.ResetResult{}
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"items": history,
		"count": len(history),
	})
}

// handleStats handles GET /api/admin/stats
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if s.services.Stats == nil {
		respondError(w, http.StatusServiceUnavailable, ErrCodeServiceUnavailable, "Cycle statistics are not available", nil)
		return
	}

	respondJSON(w, http.StatusOK, s.services.Stats.GetStats())
}
