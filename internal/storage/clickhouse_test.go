package storage

import (
	"testing"
	"time"

	"github.com/listing-scanner/internal/config"
	"github.com/listing-scanner/internal/models"
	"github.com/listing-scanner/internal/types"
	"github.com/listing-scanner/migrations"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewClickHouseDB(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	cfg := &config.ClickHouseConfig{
		Host:     "localhost",
		Port:     "9000",
		Database: "listing_scanner",
		User:     "default",
		Password: "clickhouse_dev_password",
	}

	db, err := NewClickHouseDB(cfg)
	if err != nil {
		t.Skipf("Skipping test - ClickHouse not available: %v", err)
		return
	}
	defer func() {
		if err := db.Close(); err != nil {
			t.Errorf("Close() error = %v", err)
		}
	}()

	ctx := testContext(t)
	if err := db.Ping(ctx); err != nil {
		t.Fatalf("Ping() error = %v", err)
	}

	require.NoError(t, RunClickHouseMigrations(ctx, db, migrations.ClickHouse, "clickhouse"))

	repo := NewListingEventRepository(db)
	jobID := "it-" + time.Now().Format("150405.000000")
	cs := &models.ChangeSet{
		JobID:      jobID,
		CycleID:    "cycle-1",
		Provider:   "tutti",
		ObservedAt: time.Now().UTC(),
		Created:    []*models.Listing{newTestListing("a", jobID, "tutti", fixedHash('a'), time.Now())},
	}
	require.NoError(t, repo.Publish(ctx, cs))

	n, err := repo.CountEvents(ctx, jobID, types.ChangeCreated)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), n)
}

func TestSplitSQLStatements(t *testing.T) {
	sql := `-- listing events
CREATE TABLE a (
    id String
) ENGINE = MergeTree ORDER BY id;

-- second
ALTER TABLE a ADD COLUMN b String;
SELECT 1`

	got := splitSQLStatements(sql)
	require.Len(t, got, 3)
	assert.Contains(t, got[0], "CREATE TABLE a")
	assert.NotContains(t, got[0], ";")
	assert.NotContains(t, got[0], "listing events")
	assert.Equal(t, "ALTER TABLE a ADD COLUMN b String", got[1])
	assert.Equal(t, "SELECT 1", got[2])

	assert.Empty(t, splitSQLStatements("-- nothing\n\n"))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", truncate("abc", 5))
	assert.Equal(t, "ab...", truncate("abcdef", 2))
}

func fixedHash(c byte) string {
	b := make([]byte, 64)
	for i := range b {
		b[i] = c
	}
	return string(b)
}
