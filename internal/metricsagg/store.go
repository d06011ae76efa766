package metricsagg

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/lib/pq" // Postgres driver, grounded on cmd/server/main.go's import
)

// PostgresStore persists SignedReports with a uniqueness constraint on
// (window_start, window_end, issuer_key) precluding duplicates (spec.md
// §4.11). The driver import is the teacher's cmd/server/main.go pattern;
// the schema and queries themselves are new (the teacher only imported
// the driver for its side effect, with no schema of its own to adapt).
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore opens a connection pool against dsn and ensures the
// reports table exists.
func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("metricsagg: open: %w", err)
	}
	s := &PostgresStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) migrate() error {
	_, err := s.db.Exec(`
CREATE TABLE IF NOT EXISTS metric_reports (
	window_start TIMESTAMPTZ NOT NULL,
	window_end   TIMESTAMPTZ NOT NULL,
	issuer_key   TEXT NOT NULL,
	report       JSONB NOT NULL,
	signature    BYTEA NOT NULL,
	inserted_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (window_start, window_end, issuer_key)
)`)
	return err
}

// Persist inserts sr, silently ignoring a duplicate-key conflict (the
// uniqueness constraint is the source of truth, not an application-level
// check).
func (s *PostgresStore) Persist(ctx context.Context, sr *SignedReport) error {
	payload, err := json.Marshal(sr.Report)
	if err != nil {
		return fmt.Errorf("metricsagg: marshal report: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
INSERT INTO metric_reports (window_start, window_end, issuer_key, report, signature)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (window_start, window_end, issuer_key) DO NOTHING`,
		sr.Report.WindowStart, sr.Report.WindowEnd, sr.Report.IssuerKey, payload, sr.Signature)
	if err != nil {
		return fmt.Errorf("metricsagg: insert: %w", err)
	}
	return nil
}

// Close releases the underlying connection pool.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}
