package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	apperrors "github.com/listing-scanner/internal/errors"
	"github.com/listing-scanner/internal/geo"
	"github.com/listing-scanner/internal/logging"
	"github.com/listing-scanner/internal/models"
	"github.com/listing-scanner/internal/provider"
	"github.com/listing-scanner/internal/reconcile"
	"github.com/listing-scanner/internal/service"
	"github.com/listing-scanner/internal/storage"
	"github.com/listing-scanner/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockQueue records enqueued batches and can be told to fail
type mockQueue struct {
	mu      sync.Mutex
	batches []*models.Batch
	err     error
}

func (q *mockQueue) Enqueue(ctx context.Context, batch *models.Batch) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.batches = append(q.batches, batch)
	return nil
}

type testEnv struct {
	server *Server
	store  *storage.MemoryStore
	cycles *service.CycleService
}

func testConfig() *ServerConfig {
	return &ServerConfig{
		Host:           "localhost",
		Port:           "8080",
		ReadTimeout:    10 * time.Second,
		WriteTimeout:   10 * time.Second,
		IdleTimeout:    60 * time.Second,
		RequestsPerSec: 1000,
		Burst:          1000,
		MaxBatchBytes:  1 << 20,
	}
}

func quietLogger() *logging.Logger {
	logger := logging.NewLogger(logging.LevelError, logging.FormatJSON)
	logger.SetOutput(&bytes.Buffer{})
	return logger
}

func newTestEnv(t *testing.T, cfg *ServerConfig, queue BatchEnqueuer) *testEnv {
	t.Helper()
	store := storage.NewMemoryStore()
	geocoder := geo.StaticGeocoder{"3011 bern": {Lat: 46.948, Lng: 7.4474}}
	cycles := service.NewCycleService(store, reconcile.NewEngine(store, nil), geo.NewEnricher(geocoder), provider.Defaults(), types.SpatialPassThrough)

	services := Services{
		Jobs:   service.NewJobService(store),
		Users:  service.NewUserService(store),
		Resets: service.NewResetService(store),
		Cycles: cycles,
		Queue:  queue,
		Stats:  cycles.Monitor(),
	}
	return &testEnv{server: NewServer(cfg, services, quietLogger()), store: store, cycles: cycles}
}

func (e *testEnv) do(t *testing.T, method, path string, body interface{}, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.NewDecoder(w.Body).Decode(v), w.Body.String())
}

func (e *testEnv) createUser(t *testing.T, email string) *models.User {
	t.Helper()
	w := e.do(t, "POST", "/api/users", map[string]string{"email": email, "name": "Anna"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var user models.User
	decode(t, w, &user)
	return &user
}

func (e *testEnv) createJob(t *testing.T, ownerID string) *models.Job {
	t.Helper()
	w := e.do(t, "POST", "/api/jobs", map[string]interface{}{
		"name":      "Bern velos",
		"providers": []string{"tutti"},
	}, "X-User-ID", ownerID)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var job models.Job
	decode(t, w, &job)
	return &job
}

func listingsPayload(slugs ...string) map[string]interface{} {
	items := make([]map[string]interface{}, 0, len(slugs))
	for _, slug := range slugs {
		items = append(items, map[string]interface{}{
			"title":        "Velo " + slug,
			"url":          "https://www.tutti.ch/de/vi/" + slug,
			"price":        "250",
			"locationHint": "3011 Bern",
		})
	}
	return map[string]interface{}{"provider": "tutti", "listings": items}
}

// TestHealthEndpoint tests the health check endpoint
func TestHealthEndpoint(t *testing.T) {
	env := newTestEnv(t, testConfig(), nil)

	w := env.do(t, "GET", "/health", nil)
	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}

	var response map[string]string
	decode(t, w, &response)
	if response["status"] != "healthy" {
		t.Errorf("Expected status 'healthy', got '%s'", response["status"])
	}
	if w.Header().Get("X-Request-ID") == "" {
		t.Error("Expected a request id header")
	}
}

// TestCORSHeaders tests that CORS headers are properly set
func TestCORSHeaders(t *testing.T) {
	env := newTestEnv(t, testConfig(), nil)

	w := env.do(t, "GET", "/health", nil, "Origin", "http://localhost:3000")
	if w.Header().Get("Access-Control-Allow-Origin") == "" {
		t.Error("Expected CORS headers to be set")
	}
}

func TestUsers(t *testing.T) {
	env := newTestEnv(t, testConfig(), nil)
	user := env.createUser(t, "anna@example.ch")
	assert.NotEmpty(t, user.ID)

	w := env.do(t, "GET", "/api/users/"+user.ID, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = env.do(t, "POST", "/api/users", map[string]string{"email": "anna@example.ch"})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = env.do(t, "POST", "/api/users", map[string]string{"email": "not-an-address"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, "POST", "/api/users", map[string]string{"email": "x@example.ch", "tier": "paid"})
	assert.Equal(t, http.StatusBadRequest, w.Code, "unknown fields are rejected")

	w = env.do(t, "GET", "/api/users/missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	var errResp ErrorResponse
	decode(t, w, &errResp)
	assert.Equal(t, ErrCodeNotFound, errResp.Error.Code)
}

func TestJobLifecycle(t *testing.T) {
	env := newTestEnv(t, testConfig(), nil)
	user := env.createUser(t, "anna@example.ch")
	job := env.createJob(t, user.ID)
	assert.Equal(t, user.ID, job.OwnerID)

	w := env.do(t, "PUT", "/api/jobs/"+job.ID, map[string]interface{}{
		"name":      "Bern velos under 300",
		"providers": []string{"TUTTI", "anibis"},
		"filter":    map[string]interface{}{"maxPrice": "300"},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var updated models.Job
	decode(t, w, &updated)
	assert.Equal(t, user.ID, updated.OwnerID, "owner is kept")
	assert.Equal(t, []string{"tutti", "anibis"}, updated.Providers)

	w = env.do(t, "GET", "/api/users/"+user.ID+"/jobs", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list struct {
		Count int `json:"count"`
	}
	decode(t, w, &list)
	assert.Equal(t, 1, list.Count)

	w = env.do(t, "DELETE", "/api/jobs/"+job.ID, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	w = env.do(t, "GET", "/api/jobs/"+job.ID, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCreateJob_Validation(t *testing.T) {
	env := newTestEnv(t, testConfig(), nil)
	user := env.createUser(t, "anna@example.ch")

	tests := []struct {
		name string
		body map[string]interface{}
	}{
		{"missing name", map[string]interface{}{"ownerId": user.ID}},
		{"missing owner", map[string]interface{}{"name": "x"}},
		{"bad boundary", map[string]interface{}{"ownerId": user.ID, "name": "x", "filter": map[string]interface{}{"boundary": map[string]string{"type": "Point"}}}},
		{"bad policy", map[string]interface{}{"ownerId": user.ID, "name": "x", "filter": map[string]interface{}{"spatialPolicy": "maybe"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, "POST", "/api/jobs", tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
		})
	}

	w := env.do(t, "POST", "/api/jobs", map[string]interface{}{"ownerId": "nobody", "name": "x"})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSubmitBatch_StaleFetchConflicts(t *testing.T) {
	env := newTestEnv(t, testConfig(), nil)
	user := env.createUser(t, "anna@example.ch")
	job := env.createJob(t, user.ID)

	newer := listingsPayload("a")
	newer["fetchedAt"] = "2026-03-01T10:00:00Z"
	w := env.do(t, "POST", "/api/jobs/"+job.ID+"/batches", newer)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	older := listingsPayload("a", "b")
	older["fetchedAt"] = "2026-03-01T09:00:00Z"
	w = env.do(t, "POST", "/api/jobs/"+job.ID+"/batches", older)
	assert.Equal(t, http.StatusConflict, w.Code, w.Body.String())

	w = env.do(t, "GET", "/api/jobs/"+job.ID+"/listings", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotContains(t, w.Body.String(), "Velo b")
}

func TestSubmitBatch_Synchronous(t *testing.T) {
	env := newTestEnv(t, testConfig(), nil)
	user := env.createUser(t, "anna@example.ch")
	job := env.createJob(t, user.ID)

	w := env.do(t, "POST", "/api/jobs/"+job.ID+"/batches", listingsPayload("a", "b", "c"))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var report service.CycleReport
	decode(t, w, &report)
	assert.Len(t, report.ChangeSet.Created, 3)
	assert.Equal(t, 3, report.Enrichment.Resolved)

	w = env.do(t, "POST", "/api/jobs/"+job.ID+"/batches", listingsPayload("a", "c"))
	require.Equal(t, http.StatusOK, w.Code)
	decode(t, w, &report)
	assert.Len(t, report.ChangeSet.Deactivated, 1)

	w = env.do(t, "GET", "/api/jobs/"+job.ID+"/listings?active=true", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var page struct {
		Items []models.Listing `json:"items"`
		Count int              `json:"count"`
	}
	decode(t, w, &page)
	assert.Equal(t, 2, page.Count)
	for _, l := range page.Items {
		assert.True(t, l.Active)
	}

	w = env.do(t, "GET", "/api/jobs/"+job.ID+"/listings?active=false", nil)
	decode(t, w, &page)
	assert.Equal(t, 1, page.Count)
	assert.Equal(t, "Velo b", page.Items[0].Title)

	w = env.do(t, "GET", "/api/jobs/"+job.ID+"/listings?active=maybe", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, "GET", "/api/admin/stats", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var stats service.CycleStats
	decode(t, w, &stats)
	assert.Equal(t, int64(2), stats.Succeeded)
	assert.Equal(t, int64(3), stats.Created)
	assert.Equal(t, int64(1), stats.Deactivated)
}

func TestSubmitBatch_Rejections(t *testing.T) {
	env := newTestEnv(t, testConfig(), nil)
	user := env.createUser(t, "anna@example.ch")
	job := env.createJob(t, user.ID)

	w := env.do(t, "POST", "/api/jobs/"+job.ID+"/batches", map[string]interface{}{"listings": []interface{}{}})
	assert.Equal(t, http.StatusBadRequest, w.Code, "provider is required")

	w = env.do(t, "POST", "/api/jobs/"+job.ID+"/batches", map[string]interface{}{"provider": "anibis"})
	assert.Equal(t, http.StatusBadRequest, w.Code, "job does not poll anibis")

	w = env.do(t, "POST", "/api/jobs/missing/batches", listingsPayload("a"))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSubmitBatch_TooLarge(t *testing.T) {
	cfg := testConfig()
	cfg.MaxBatchBytes = 64
	env := newTestEnv(t, cfg, nil)
	user := env.createUser(t, "anna@example.ch")
	job := env.createJob(t, user.ID)

	w := env.do(t, "POST", "/api/jobs/"+job.ID+"/batches", listingsPayload("a", "b", "c"))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSubmitBatch_Queued(t *testing.T) {
	queue := &mockQueue{}
	env := newTestEnv(t, testConfig(), queue)
	user := env.createUser(t, "anna@example.ch")
	job := env.createJob(t, user.ID)

	w := env.do(t, "POST", "/api/jobs/"+job.ID+"/batches", listingsPayload("a", "b"))
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	var resp map[string]interface{}
	decode(t, w, &resp)
	assert.NotEmpty(t, resp["cycleId"])

	require.Len(t, queue.batches, 1)
	assert.Equal(t, job.ID, queue.batches[0].JobID)
	assert.Len(t, queue.batches[0].Listings, 2)

	// nothing is reconciled until a worker picks the batch up
	listings, err := env.store.ListListings(context.Background(), job.ID, storage.ListingQuery{})
	require.NoError(t, err)
	assert.Empty(t, listings)

	w = env.do(t, "POST", "/api/jobs/missing/batches", listingsPayload("a"))
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Len(t, queue.batches, 1)

	queue.err = apperrors.NewCacheError("enqueue batch", errors.New("connection refused"))
	w = env.do(t, "POST", "/api/jobs/"+job.ID+"/batches", listingsPayload("a"))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestWatchList(t *testing.T) {
	env := newTestEnv(t, testConfig(), nil)
	user := env.createUser(t, "anna@example.ch")
	job := env.createJob(t, user.ID)

	w := env.do(t, "POST", "/api/jobs/"+job.ID+"/batches", listingsPayload("a"))
	require.Equal(t, http.StatusOK, w.Code)
	var report service.CycleReport
	decode(t, w, &report)
	listingID := report.ChangeSet.Created[0].ID

	w = env.do(t, "POST", "/api/listings/"+listingID+"/watch", map[string]string{"note": "ask about lights"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = env.do(t, "POST", "/api/listings/"+listingID+"/watch", map[string]string{"note": "ask about lights"}, "X-User-ID", user.ID)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	// the listing disappears from the provider but stays watched
	w = env.do(t, "POST", "/api/jobs/"+job.ID+"/batches", map[string]interface{}{"provider": "tutti", "listings": []interface{}{}})
	require.Equal(t, http.StatusOK, w.Code)

	w = env.do(t, "GET", "/api/users/"+user.ID+"/watchlist", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var watched struct {
		Items []models.WatchedListing `json:"items"`
	}
	decode(t, w, &watched)
	require.Len(t, watched.Items, 1)
	assert.Equal(t, "ask about lights", watched.Items[0].Note)
	assert.False(t, watched.Items[0].Listing.Active)

	w = env.do(t, "DELETE", "/api/listings/"+listingID+"/watch", nil, "X-User-ID", user.ID)
	assert.Equal(t, http.StatusNoContent, w.Code)
	w = env.do(t, "DELETE", "/api/listings/"+listingID+"/watch", nil, "X-User-ID", user.ID)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = env.do(t, "POST", "/api/listings/missing/watch", nil, "X-User-ID", user.ID)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAdminReset(t *testing.T) {
	env := newTestEnv(t, testConfig(), nil)
	user := env.createUser(t, "anna@example.ch")
	job := env.createJob(t, user.ID)
	w := env.do(t, "POST", "/api/jobs/"+job.ID+"/batches", listingsPayload("a", "b"))
	require.Equal(t, http.StatusOK, w.Code)

	req := map[string]string{"name": "tutti-price-fix", "provider": "Tutti", "reason": "prices parsed in cents"}
	w = env.do(t, "POST", "/api/admin/resets", req)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var res models.ResetResult
	decode(t, w, &res)
	assert.Equal(t, int64(2), res.Removed)
	assert.Equal(t, "tutti", res.Provider)

	w = env.do(t, "POST", "/api/admin/resets", req)
	require.Equal(t, http.StatusOK, w.Code)
	decode(t, w, &res)
	assert.True(t, res.AlreadyApplied)

	w = env.do(t, "POST", "/api/admin/resets", map[string]string{"name": "x", "provider": "tutti"})
	assert.Equal(t, http.StatusBadRequest, w.Code, "reason is required")

	w = env.do(t, "GET", "/api/admin/resets", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var history struct {
		Count int `json:"count"`
	}
	decode(t, w, &history)
	assert.Equal(t, 1, history.Count)
}

func TestStats_Unavailable(t *testing.T) {
	env := newTestEnv(t, testConfig(), nil)
	env.server.services.Stats = nil

	w := env.do(t, "GET", "/api/admin/stats", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestRateLimit(t *testing.T) {
	cfg := testConfig()
	cfg.RequestsPerSec = 1
	cfg.Burst = 2
	env := newTestEnv(t, cfg, nil)

	for i := 0; i < 2; i++ {
		w := env.do(t, "GET", "/health", nil, "X-User-ID", "busy")
		require.Equal(t, http.StatusOK, w.Code, fmt.Sprintf("request %d", i))
	}
	w := env.do(t, "GET", "/health", nil, "X-User-ID", "busy")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)

	// other clients have their own bucket
	w = env.do(t, "GET", "/health", nil, "X-User-ID", "calm")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRecoveryMiddleware(t *testing.T) {
	handler := RecoveryMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest("GET", "/", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestMapServiceError(t *testing.T) {
	tests := []struct {
		err    error
		status int
	}{
		{apperrors.NewValidationError("name", "required"), http.StatusBadRequest},
		{apperrors.NewNotFoundError("job", "x"), http.StatusNotFound},
		{apperrors.NewConflictError("taken"), http.StatusConflict},
		{apperrors.NewPersistenceError("commit", errors.New("reset")), http.StatusServiceUnavailable},
		{errors.New("plain"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		status, _, _ := mapServiceError(tt.err)
		assert.Equal(t, tt.status, status, tt.err.Error())
	}
}
