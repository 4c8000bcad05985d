package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/listing-scanner/internal/logging"
	"github.com/listing-scanner/internal/models"
	"github.com/listing-scanner/internal/storage"
)

// jobRequest is the editable part of a job
type jobRequest struct {
	OwnerID     string                 `json:"ownerId"`
	Name        string                 `json:"name"`
	Providers   []string               `json:"providers"`
	CrawlURL    string                 `json:"crawlUrl"`
	CrawlConfig map[string]interface{} `json:"crawlConfig"`
	Filter      models.FilterSpec      `json:"filter"`
	Destination *models.Coordinate     `json:"destination"`
	SharedWith  []string               `json:"sharedWith"`
}

func (req *jobRequest) toJob(id string) *models.Job {
	return &models.Job{
		ID:          id,
		OwnerID:     req.OwnerID,
		Name:        req.Name,
		Providers:   req.Providers,
		CrawlURL:    req.CrawlURL,
		CrawlConfig: req.CrawlConfig,
		Filter:      req.Filter,
		Destination: req.Destination,
		SharedWith:  req.SharedWith,
	}
}

// handleCreateJob handles POST /api/jobs. The owner defaults to X-User-ID.
func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	var req jobRequest
	if err := parseJSONBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "Invalid request body", nil)
		return
	}
	if req.OwnerID == "" {
		req.OwnerID = r.Header.Get("X-User-ID")
	}

	job := req.toJob("")
	if err := s.services.Jobs.CreateJob(r.Context(), job); err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, job)
}

// handleGetJob handles GET /api/jobs/{id}
func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.services.Jobs.GetJob(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, job)
}

// handleUpdateJob handles PUT /api/jobs/{id}. The owner cannot be changed.
func (s *Server) handleUpdateJob(w http.ResponseWriter, r *http.Request) {
	var req jobRequest
	if err := parseJSONBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "Invalid request body", nil)
		return
	}

	job := req.toJob(mux.Vars(r)["id"])
	if err := s.services.Jobs.UpdateJob(r.Context(), job); err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, job)
}

// handleDeleteJob handles DELETE /api/jobs/{id}. Listings and their watch
// entries go with the job.
func (s *Server) handleDeleteJob(w http.ResponseWriter, r *http.Request) {
	if err := s.services.Jobs.DeleteJob(r.Context(), mux.Vars(r)["id"]); err != nil {
		respondServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// handleListJobs handles GET /api/users/{id}/jobs
func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := s.services.Jobs.ListJobs(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		respondServiceError(w, err)
		return
	}
	if jobs == nil {
		jobs = []*models.Job{}
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"items": jobs,
		"count": len(jobs),
	})
}

// handleListListings handles GET /api/jobs/{id}/listings?active=&limit=&offset=
// Invalid pagination values fall back to the defaults.
func (s *Server) handleListListings(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	q := storage.ListingQuery{}

	if raw := query.Get("active"); raw != "" {
		active, err := strconv.ParseBool(raw)
		if err != nil {
			respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "active must be true or false", nil)
			return
		}
		q.Active = &active
	}
	if limit, err := strconv.Atoi(query.Get("limit")); err == nil {
		q.Limit = limit
	}
	if offset, err := strconv.Atoi(query.Get("offset")); err == nil {
		q.Offset = offset
	}

	listings, err := s.services.Jobs.ListListings(r.Context(), mux.Vars(r)["id"], q)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	if listings == nil {
		listings = []*models.Listing{}
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"items":  listings,
		"count":  len(listings),
		"limit":  q.Limit,
		"offset": q.Offset,
	})
}

// handleGetListing handles GET /api/listings/{id}
func (s *Server) handleGetListing(w http.ResponseWriter, r *http.Request) {
	listing, err := s.services.Jobs.GetListing(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, listing)
}

// handleSubmitBatch handles POST /api/jobs/{id}/batches. With a queue the
// batch is accepted for a worker; otherwise it is reconciled in the request.
func (s *Server) handleSubmitBatch(w http.ResponseWriter, r *http.Request) {
	if s.config.MaxBatchBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, s.config.MaxBatchBytes)
	}

	var req struct {
		Provider  string                     `json:"provider"`
		CycleID   string                     `json:"cycleId"`
		FetchedAt *time.Time                 `json:"fetchedAt"`
		Listings  []models.NormalizedListing `json:"listings"`
	}
	if err := parseJSONBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "Invalid request body", nil)
		return
	}
	if req.Provider == "" {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "Provider is required", nil)
		return
	}

	batch := &models.Batch{
		JobID:     mux.Vars(r)["id"],
		Provider:  req.Provider,
		CycleID:   req.CycleID,
		FetchedAt: time.Now().UTC(),
		Listings:  req.Listings,
	}
	if req.FetchedAt != nil {
		batch.FetchedAt = *req.FetchedAt
	}
	if batch.CycleID == "" {
		batch.CycleID = uuid.New().String()
	}

	if s.services.Queue != nil {
		// unknown jobs are rejected here rather than dead-lettered later
		if _, err := s.services.Jobs.GetJob(r.Context(), batch.JobID); err != nil {
			respondServiceError(w, err)
			return
		}
		if err := s.services.Queue.Enqueue(r.Context(), batch); err != nil {
			logging.FromContext(r.Context()).WithError(err).Error("Failed to enqueue batch")
			respondServiceError(w, err)
			return
		}
		respondJSON(w, http.StatusAccepted, map[string]interface{}{
			"jobId":    batch.JobID,
			"cycleId":  batch.CycleID,
			"provider": batch.Provider,
			"queued":   len(batch.Listings),
		})
		return
	}

	report, err := s.services.Cycles.RunCycle(r.Context(), batch)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, report)
}
