package db

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// TestStore wraps a Store with test cleanup functionality.
type TestStore struct {
	*Store
	pool      *pgxpool.Pool
	container testcontainers.Container
}

// NewTestStore connects to TEST_DATABASE_URL, or starts a throwaway Postgres
// container when it is unset, and applies migrations. The test is skipped
// when SKIP_DB_TESTS is set or no database can be reached.
func NewTestStore(t *testing.T) *TestStore {
	t.Helper()

	if os.Getenv("SKIP_DB_TESTS") != "" {
		t.Skip("Skipping database test (SKIP_DB_TESTS is set)")
	}

	ctx := context.Background()
	ts := &TestStore{}

	dbURL := os.Getenv("TEST_DATABASE_URL")
	if dbURL == "" {
		container, err := postgres.Run(ctx, "postgres:16-alpine",
			postgres.WithDatabase("walletfeed_test"),
			postgres.WithUsername("test"),
			postgres.WithPassword("test"),
			testcontainers.WithWaitStrategy(
				wait.ForLog("database system is ready to accept connections").
					WithOccurrence(2).
					WithStartupTimeout(60*time.Second),
			),
		)
		if err != nil {
			t.Skipf("Skipping database test: cannot start postgres container: %v", err)
		}
		ts.container = container

		dbURL, err = container.ConnectionString(ctx, "sslmode=disable")
		if err != nil {
			ts.Close()
			t.Fatalf("failed to get connection string: %v", err)
		}
	}

	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		ts.Close()
		t.Skipf("Skipping database test: cannot connect to test database: %v", err)
	}
	ts.pool = pool

	if err := pool.Ping(ctx); err != nil {
		ts.Close()
		t.Skipf("Skipping database test: cannot ping test database: %v", err)
	}

	if err := Migrate(ctx, pool); err != nil {
		ts.Close()
		t.Fatalf("failed to migrate test database: %v", err)
	}

	ts.Store = NewStore(pool, nil)
	return ts
}

// Close releases the pool and the container, if any.
func (ts *TestStore) Close() {
	if ts.pool != nil {
		ts.pool.Close()
	}
	if ts.container != nil {
		_ = ts.container.Terminate(context.Background())
	}
}

// Cleanup removes all data from test tables.
func (ts *TestStore) Cleanup(t *testing.T) {
	t.Helper()

	_, err := ts.pool.Exec(context.Background(), "TRUNCATE TABLE feed_events, outbox, profiles")
	if err != nil {
		t.Fatalf("failed to cleanup test database: %v", err)
	}
}
