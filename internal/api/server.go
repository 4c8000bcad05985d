// Package api provides the HTTP API server implementation.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/listing-scanner/internal/logging"
	"github.com/listing-scanner/internal/models"
	"github.com/listing-scanner/internal/service"
	"github.com/listing-scanner/internal/storage"
)

// Service interfaces for dependency injection and testing

// JobServiceInterface defines the job and listing read operations
type JobServiceInterface interface {
	CreateJob(ctx context.Context, job *models.Job) error
	GetJob(ctx context.Context, id string) (*models.Job, error)
	UpdateJob(ctx context.Context, job *models.Job) error
	DeleteJob(ctx context.Context, id string) error
	ListJobs(ctx context.Context, ownerID string) ([]*models.Job, error)
	ListListings(ctx context.Context, jobID string, q storage.ListingQuery) ([]*models.Listing, error)
	GetListing(ctx context.Context, id string) (*models.Listing, error)
}

// UserServiceInterface defines user and watch list operations
type UserServiceInterface interface {
	CreateUser(ctx context.Context, user *models.User) error
	GetUser(ctx context.Context, id string) (*models.User, error)
	Watch(ctx context.Context, userID, listingID, note string) (*models.WatchEntry, error)
	Unwatch(ctx context.Context, userID, listingID string) error
	Watched(ctx context.Context, userID string) ([]*models.WatchedListing, error)
}

// ResetServiceInterface defines corrective reset operations
type ResetServiceInterface interface {
	Reset(ctx context.Context, req models.ResetRequest) (*models.ResetResult, error)
	History(ctx context.Context) ([]*models.ResetResult, error)
}

// CycleRunnerInterface runs a batch synchronously
type CycleRunnerInterface interface {
	RunCycle(ctx context.Context, batch *models.Batch) (*service.CycleReport, error)
}

// BatchEnqueuer hands a batch to the worker queue
type BatchEnqueuer interface {
	Enqueue(ctx context.Context, batch *models.Batch) error
}

// StatsProvider exposes cycle statistics
type StatsProvider interface {
	GetStats() *service.CycleStats
}

// Services bundles what the handlers call. Queue is optional: without it,
// submitted batches are reconciled within the request.
type Services struct {
	Jobs   JobServiceInterface
	Users  UserServiceInterface
	Resets ResetServiceInterface
	Cycles CycleRunnerInterface
	Queue  BatchEnqueuer
	Stats  StatsProvider
}

// Server represents the HTTP API server.
type Server struct {
	router     *mux.Router
	httpServer *http.Server
	services   Services
	config     *ServerConfig
	logger     *logging.Logger
}

// ServerConfig holds server configuration.
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	RequestsPerSec  int // per client, keyed by X-User-ID or remote address
	Burst           int
	MaxBatchBytes   int64
}

// NewServer creates a new API server instance.
func NewServer(config *ServerConfig, services Services, logger *logging.Logger) *Server {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	s := &Server{
		router:   mux.NewRouter(),
		services: services,
		config:   config,
		logger:   logger,
	}

	s.setupRouter()

	return s
}

// setupRouter configures the router with middleware and routes
func (s *Server) setupRouter() {
	rateLimiter := NewRateLimiter(s.config.RequestsPerSec, s.config.Burst)

	// order matters
	s.router.Use(LoggingMiddleware(s.logger))
	s.router.Use(RecoveryMiddleware)
	s.router.Use(CORSMiddleware)
	s.router.Use(RateLimitMiddleware(rateLimiter))
	s.router.Use(CompressionMiddleware)

	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%s", s.config.Host, s.config.Port),
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.IdleTimeout,
	}
}

// setupRoutes configures all API routes.
func (s *Server) setupRoutes() {
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")

	api := s.router.PathPrefix("/api").Subrouter()

	// User endpoints
	api.HandleFunc("/users", s.handleCreateUser).Methods("POST")
	api.HandleFunc("/users/{id}", s.handleGetUser).Methods("GET")
	api.HandleFunc("/users/{id}/jobs", s.handleListJobs).Methods("GET")
	api.HandleFunc("/users/{id}/watchlist", s.handleGetWatchlist).Methods("GET")

	// Job endpoints
	api.HandleFunc("/jobs", s.handleCreateJob).Methods("POST")
	api.HandleFunc("/jobs/{id}", s.handleGetJob).Methods("GET")
	api.HandleFunc("/jobs/{id}", s.handleUpdateJob).Methods("PUT")
	api.HandleFunc("/jobs/{id}", s.handleDeleteJob).Methods("DELETE")
	api.HandleFunc("/jobs/{id}/listings", s.handleListListings).Methods("GET")
	api.HandleFunc("/jobs/{id}/batches", s.handleSubmitBatch).Methods("POST")

	// Listing endpoints
	api.HandleFunc("/listings/{id}", s.handleGetListing).Methods("GET")
	api.HandleFunc("/listings/{id}/watch", s.handleWatch).Methods("POST")
	api.HandleFunc("/listings/{id}/watch", s.handleUnwatch).Methods("DELETE")

	// Admin endpoints
	api.HandleFunc("/admin/resets", s.handleReset).Methods("POST")
	api.HandleFunc("/admin/resets", s.handleListResets).Methods("GET")
	api.HandleFunc("/admin/stats", s.handleStats).Methods("GET")
}

// handleHealth handles health check requests.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "listing-scanner",
	})
}

// Handler returns the routed handler, for embedding and tests
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.logger.Infof("Starting API server on %s", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down API server...")
	return s.httpServer.Shutdown(ctx)
}
