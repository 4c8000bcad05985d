package storage

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/listing-scanner/internal/models"
	"github.com/redis/go-redis/v9"
)

// testContext creates a context with timeout for tests
func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// testRedis starts a miniredis server and a client pointed at it
func testRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

// newTestListing builds an active listing row for job
func newTestListing(id, jobID, provider, hash string, seen time.Time) *models.Listing {
	return &models.Listing{
		ID:          id,
		JobID:       jobID,
		Provider:    provider,
		Title:       "listing " + id,
		URL:         "https://example.ch/" + id,
		Hash:        hash,
		Active:      true,
		FirstSeenAt: seen,
		LastSeenAt:  seen,
		CreatedAt:   seen,
		UpdatedAt:   seen,
	}
}
