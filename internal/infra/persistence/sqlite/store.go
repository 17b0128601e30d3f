// Package sqlite persists ledger rows to an embedded SQLite file, one JSON
// payload per row, so a finished run can be reloaded for later projections.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite" // pure go sqlite driver

	"fluxrepair/pkg/domain"
)

var _ domain.PersistentLedger = (*Store)(nil)

const defaultPath = "fluxrepair.db"

// Store appends outcome rows to the outcomes table.
type Store struct {
	db   *sql.DB
	mu   sync.Mutex
	path string
}

// NewStore opens (creating if needed) the SQLite ledger at path.
func NewStore(path string) (*Store, error) {
	if path == "" {
		path = defaultPath
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
		return nil, fmt.Errorf("create dirs: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// a single writer avoids SQLITE_BUSY under parallel workers
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS outcomes (
		run_id TEXT NOT NULL,
		row_index INTEGER NOT NULL,
		classification TEXT NOT NULL,
		recorded_at TEXT NOT NULL,
		payload BLOB NOT NULL,
		PRIMARY KEY (run_id, row_index)
	)`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create outcomes table: %w", err)
	}
	return &Store{db: db, path: path}, nil
}

// Append inserts one row. Re-recording an experiment of the same run is rejected.
func (s *Store) Append(ctx context.Context, row domain.Outcome) error {
	payload, err := json.Marshal(row)
	if err != nil {
		return fmt.Errorf("encode row %d: %w", row.Index, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO outcomes(run_id, row_index, classification, recorded_at, payload) VALUES(?,?,?,?,?)`,
		row.RunID, row.Index, string(row.Classification), row.RecordedAt.UTC().Format(time.RFC3339Nano), payload)
	if err != nil {
		return fmt.Errorf("insert row %d: %w", row.Index, err)
	}
	return nil
}

// Load returns the rows of runID ordered by index; an empty runID loads the latest run.
func (s *Store) Load(ctx context.Context, runID string) ([]domain.Outcome, error) {
	query := `SELECT payload FROM outcomes`
	var args []any
	if runID != "" {
		query += ` WHERE run_id = ?`
		args = append(args, runID)
	}
	rows, err := s.db.QueryContext(ctx, query+` ORDER BY run_id, row_index`, args...)
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
		return nil, err
	}
	return domain.SelectRun(out, runID), nil
}

// Runs lists the run identifiers stored in the ledger.
func (s *Store) Runs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT run_id FROM outcomes ORDER BY run_id`)
	if err != nil {
		return nil, fmt.Errorf("select runs: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

// Path returns the configured database path.
func (s *Store) Path() string { return s.path }
