package history

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/rohann-max/FINSHIELD/migrations"
)

// PostgresStore persists the audit log in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed history store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate applies the embedded schema migrations. Deployments may run
// cmd/migrate instead; both record progress in goose_db_version.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	return migrations.Up(ctx, s.db)
}

func (s *PostgresStore) Insert(ctx context.Context, e *Entry) (bool, error) {
	if err := e.Validate(); err != nil {
		return false, err
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO transaction_logs (id, timestamp, amount, merchant, risk_score, decision, reason)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO NOTHING
	`,
		e.ID,
		e.Timestamp,
		e.Amount,
		e.Merchant,
		e.RiskScore,
		e.Decision,
		e.Reason,
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert log entry: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return n == 1, nil
}

func (s *PostgresStore) Recent(ctx context.Context, limit int) ([]*Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, timestamp, amount, merchant, risk_score, decision, reason
		FROM transaction_logs
		ORDER BY timestamp DESC, seq DESC
		LIMIT $1
	`, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to list log entries: %w", err)
	}
	defer func() { _ = rows.Close() }()

	result := make([]*Entry, 0)
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.Timestamp, &e.Amount, &e.Merchant, &e.RiskScore, &e.Decision, &e.Reason); err != nil {
			return nil, fmt.Errorf("failed to scan log entry: %w", err)
		}
		e.Timestamp = e.Timestamp.UTC()
		result = append(result, &e)
	}
	return result, rows.Err()
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
