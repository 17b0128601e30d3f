// Package memory implements an in-process ledger backend. Rows survive only
// for the lifetime of the process; it is the default for one-shot runs and
// the reference backend in tests.
package memory

import (
	"context"
	"errors"
	"sync"

	"fluxrepair/pkg/domain"
)

var _ domain.PersistentLedger = (*Store)(nil)

// ErrClosed is returned by Append after Close.
var ErrClosed = errors.New("ledger store closed")

// Store keeps appended rows in memory.
type Store struct {
	mu     sync.RWMutex
	rows   []domain.Outcome
	closed bool
}

// NewStore returns an empty in-memory ledger backend.
func NewStore() *Store { return &Store{} }

// Append records a copy of row.
func (s *Store) Append(_ context.Context, row domain.Outcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.rows = append(s.rows, row.Clone())
	return nil
}

// Load returns copies of the rows of runID (latest run when empty).
func (s *Store) Load(_ context.Context, runID string) ([]domain.Outcome, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows := domain.SelectRun(s.rows, runID)
	for i := range rows {
		rows[i] = rows[i].Clone()
	}
	return rows, nil
}

// Close marks the store read-only.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
