package jobs

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/catalogkit/storefront-scraper/internal/database"
	"github.com/catalogkit/storefront-scraper/internal/ratelimit"
	"github.com/catalogkit/storefront-scraper/internal/session"
)

// setupTestDB connects to the database named by TEST_DB_* env vars, or
// skips when none is configured.
func setupTestDB(t *testing.T) *database.DB {
	t.Helper()

	host := os.Getenv("TEST_DB_HOST")
	if host == "" {
		t.Skip("Test database not configured")
	}
	port, _ := strconv.Atoi(os.Getenv("TEST_DB_PORT"))
	if port == 0 {
		port = 5432
	}

	db, err := database.New(context.Background(), database.Config{
		Host:     host,
		Port:     port,
		User:     os.Getenv("TEST_DB_USER"),
		Password: os.Getenv("TEST_DB_PASSWORD"),
		Database: os.Getenv("TEST_DB_NAME"),
	})
	require.NoError(t, err)
	return db
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// A job interrupted by shutdown must still get a terminal status row.
// The worker's run context is cancelled mid-job, so the final update
// has to survive that cancellation.
func TestRunJobRecordsResultAfterShutdown(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	logg := testLogger()
	manager := NewManager(db, database.NewProductRepository(db), logg)

	created, err := manager.CreateJob(context.Background(), 0, 1)
	require.NoError(t, err)

	claimed, err := manager.claimNext(context.Background())
	require.NoError(t, err)
	require.Equal(t, created.ID, claimed.ID)
	require.Equal(t, StatusRunning, claimed.Status)

	sessions := session.NewManager(session.Config{
		BaseURL:  "http://127.0.0.1:0",
		LoginURL: "http://127.0.0.1:0/login",
		Timeout:  time.Second,
	}, ratelimit.New(1, 0), logg)

	worker := NewWorker(manager, nil, sessions, nil, nil, t.TempDir(), logg)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	worker.runJob(ctx, claimed)

	got, err := manager.GetJob(context.Background(), claimed.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, got.Status)
	assert.NotEmpty(t, got.Error)
	require.NotNil(t, got.CompletedAt)
}
