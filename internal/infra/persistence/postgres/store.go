// Package postgres persists ledger rows to PostgreSQL through the pgx
// database/sql driver. Rows are stored as JSONB payloads keyed by run and
// work-list index so runs from several hosts can share one database.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver

	"fluxrepair/pkg/domain"
)

var _ domain.PersistentLedger = (*Store)(nil)

const (
	defaultDriver = "pgx"
	defaultDSN    = "postgres://localhost/fluxrepair?sslmode=disable"
)

var (
	sqlOpen = sql.Open
	openMu  sync.Mutex
)

// Store appends outcome rows to the outcomes table.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

// NewStore opens a Postgres-backed ledger using dsn (falls back to defaultDSN)
// and ensures the outcomes table exists.
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		dsn = defaultDSN
	}
	openMu.Lock()
	db, err := sqlOpen(defaultDriver, dsn)
	openMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if err := ensureTable(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func ensureTable(ctx context.Context, db *sql.DB) error {
	ddl := []string{
		`CREATE TABLE IF NOT EXISTS outcomes (
		run_id TEXT NOT NULL,
		row_index INTEGER NOT NULL,
		classification TEXT NOT NULL,
		error_category TEXT NOT NULL DEFAULT '',
		recorded_at TIMESTAMPTZ NOT NULL,
		payload JSONB NOT NULL,
		PRIMARY KEY (run_id, row_index)
	)`,
		`CREATE INDEX IF NOT EXISTS outcomes_classification_idx ON outcomes (run_id, classification)`,
	}
	for _, stmt := range ddl {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure outcomes table: %w", err)
		}
	}
	return nil
}

// Append inserts one row inside its own transaction.
func (s *Store) Append(ctx context.Context, row domain.Outcome) (retErr error) {
	payload, err := json.Marshal(row)
	if err != nil {
		return fmt.Errorf("encode row %d: %w", row.Index, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if retErr != nil {
			_ = tx.Rollback()
		}
	}()
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO outcomes(run_id, row_index, classification, error_category, recorded_at, payload) VALUES($1,$2,$3,$4,$5,$6)`,
		row.RunID, int64(row.Index), string(row.Classification), string(row.ErrorCategory), row.RecordedAt, string(payload)); err != nil {
		return fmt.Errorf("insert row %d: %w", row.Index, err)
	}
	return tx.Commit()
}

// Load returns the rows of runID ordered by index; an empty runID loads the latest run.
func (s *Store) Load(ctx context.Context, runID string) ([]domain.Outcome, error) {
	query := `SELECT payload FROM outcomes`
	var args []any
	if runID != "" {
		query += ` WHERE run_id = $1`
		args = append(args, runID)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select outcomes: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var out []domain.Outcome
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		var o domain.Outcome
		if err := json.Unmarshal(payload, &o); err != nil {
			return nil, fmt.Errorf("decode outcome: %w", err)
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate outcomes: %w", err)
	}
	return domain.SelectRun(out, runID), nil
}

// Close closes the database handle.
func (s *Store) Close() error { return s.db.Close() }

// DB exposes the underlying sql.DB for integration testing hooks.
func (s *Store) DB() *sql.DB { return s.db }

// OverrideSQLOpen swaps the sqlOpen function for tests and returns a restore function.
func OverrideSQLOpen(fn func(driverName, dataSourceName string) (*sql.DB, error)) func() {
	openMu.Lock()
	prev := sqlOpen
	sqlOpen = fn
	openMu.Unlock()
	return func() {
		openMu.Lock()
		sqlOpen = prev
		openMu.Unlock()
	}
}
