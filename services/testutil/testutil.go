package testutil

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/AfshinJalili/libris/libs/schema"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DBIntegrationEnv gates tests that need a live Postgres.
const DBIntegrationEnv = "RUN_DB_INTEGRATION"

// libraryTables lists every table the migrations create, children first.
var libraryTables = []string{"refresh_tokens", "otps", "lendings", "books", "users"}

// OpenDB returns a migrated, empty database pool for t. It skips t unless
// DBIntegrationEnv is set or when the database is unreachable, and wipes
// the tables again once t finishes.
func OpenDB(t testing.TB) *pgxpool.Pool {
	t.Helper()
	if os.Getenv(DBIntegrationEnv) == "" {
		t.Skipf("set %s=1 to run", DBIntegrationEnv)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, testDSN())
	if err != nil {
		t.Skipf("db connection failed: %v", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		t.Skipf("db unreachable: %v", err)
	}
	if _, err := schema.Apply(ctx, pool); err != nil {
		pool.Close()
		t.Fatalf("apply schema: %v", err)
	}
	if err := Truncate(ctx, pool); err != nil {
		pool.Close()
		t.Fatalf("truncate: %v", err)
	}

	t.Cleanup(func() {
		_ = Truncate(context.Background(), pool)
		pool.Close()
	})
	return pool
}

// Truncate empties every libris table.
func Truncate(ctx context.Context, pool *pgxpool.Pool) error {
	for _, table := range libraryTables {
		if _, err := pool.Exec(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("truncate %s: %w", table, err)
		}
	}
	return nil
}

func testDSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		getEnv("POSTGRES_USER", "libris"),
		getEnv("POSTGRES_PASSWORD", "libris"),
		getEnv("POSTGRES_HOST", "localhost"),
		getEnv("POSTGRES_PORT", "5432"),
		getEnv("POSTGRES_DB", "libris_test"),
		getEnv("POSTGRES_SSLMODE", "disable"),
	)
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}
