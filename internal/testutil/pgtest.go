// Package testutil starts the external stores used by integration tests.
package testutil

import (
	"context"
	"database/sql"
	"os"
	"strings"
	"testing"
	"time"

	_ "github.com/lib/pq"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/rohann-max/FINSHIELD/migrations"
)

// PGTest returns a migrated PostgreSQL database plus a cleanup function.
//
//	db, cleanup := testutil.PGTest(t)
//	defer cleanup()
//
// POSTGRES_URL selects an existing database; otherwise a throwaway container
// is started. The test is skipped when neither is available.
func PGTest(t *testing.T) (*sql.DB, func()) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	dbURL := os.Getenv("POSTGRES_URL")
	terminate := func() {}
	if dbURL == "" {
		dbURL, terminate = startPostgres(ctx, t)
	}

	db, err := sql.Open("postgres", dbURL)
	if err == nil {
		err = db.PingContext(ctx)
	}
	if err == nil {
		err = migrations.Up(ctx, db)
	}
	if err != nil {
		if db != nil {
			_ = db.Close()
		}
		terminate()
		t.Fatalf("pgtest: prepare database: %v", err)
	}

	return db, func() {
		truncateAll(db)
		_ = db.Close()
		terminate()
	}
}

func startPostgres(ctx context.Context, t *testing.T) (string, func()) {
	t.Helper()
	ctr, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("finshield_test"),
		postgres.WithUsername("finshield"),
		postgres.WithPassword("finshield"),
		postgres.BasicWaitStrategies(),
	)
	if err != nil {
		t.Skipf("pgtest: POSTGRES_URL not set and container unavailable: %v", err)
	}
	dsn, err := ctr.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		_ = testcontainers.TerminateContainer(ctr)
		t.Fatalf("pgtest: connection string: %v", err)
	}
	return dsn, func() { _ = testcontainers.TerminateContainer(ctr) }
}

// truncateAll empties application tables so a shared POSTGRES_URL database
// starts clean for the next test. The goose version table is kept.
func truncateAll(db *sql.DB) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	tables, err := appTables(ctx, db)
	if err != nil || len(tables) == 0 {
		return
	}
	// Names come from pg_tables, not user input.
	_, _ = db.ExecContext(ctx, "TRUNCATE "+strings.Join(tables, ", ")+" CASCADE") // #nosec G202
}

func appTables(ctx context.Context, db *sql.DB) ([]string, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT tablename FROM pg_tables
		WHERE schemaname = 'public' AND tablename <> 'goose_db_version'
	`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		tables = append(tables, name)
	}
	return tables, rows.Err()
}
