package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/listing-scanner/internal/models"
)

// handleCreateUser handles POST /api/users - Create a new user
func (s *Server) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
		Name  string `json:"name"`
	}

	if err := parseJSONBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "Invalid request body", nil)
		return
	}

	if req.Email == "" {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "Email is required", nil)
		return
	}

	user := &models.User{Email: req.Email, Name: req.Name}
	if err := s.services.Users.CreateUser(r.Context(), user); err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, user)
}

// handleGetUser handles GET /api/users/{id} - Get user by ID
func (s *Server) handleGetUser(w http.ResponseWriter, r *http.Request) {
	user, err := s.services.Users.GetUser(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, user)
}

// handleGetWatchlist handles GET /api/users/{id}/watchlist. Deactivated
// listings stay on the list with active=false.
func (s *Server) handleGetWatchlist(w http.ResponseWriter, r *http.Request) {
	watched, err := s.services.Users.Watched(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		respondServiceError(w, err)
		return
	}
	if watched == nil {
		watched = []*models.WatchedListing{}
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"items": watched,
		"count": len(watched),
	})
}

// handleWatch handles POST /api/listings/{id}/watch for the user in X-User-ID
func (s *Server) handleWatch(w http.ResponseWriter, r *http.Request) {
	userID := r.Header.Get("X-User-ID")
	if userID == "" {
		respondError(w, http.StatusUnauthorized, ErrCodeUnauthorized, "X-User-ID header required", nil)
		return
	}

	var req struct {
		Note string `json:"note"`
	}
	if r.ContentLength != 0 {
		if err := parseJSONBody(r, &req); err != nil {
			respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "Invalid request body", nil)
			return
		}
	}

	entry, err := s.services.Users.Watch(r.Context(), userID, mux.Vars(r)["id"], req.Note)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, entry)
}

// handleUnwatch handles DELETE /api/listings/{id}/watch
func (s *Server) handleUnwatch(w http.ResponseWriter, r *http.Request) {
	userID := r.Header.Get("X-User-ID")
	if userID == "" {
		respondError(w, http.StatusUnauthorized, ErrCodeUnauthorized, "X-User-ID header required", nil)
		return
	}

	if err := s.services.Users.Unwatch(r.Context(), userID, mux.Vars(r)["id"]); err != nil {
		respondServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
