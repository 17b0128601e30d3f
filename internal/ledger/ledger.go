// Package ledger holds the append-only record of experiment outcomes for one
// batch run and the aggregate projections computed from it.
package ledger

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"fluxrepair/pkg/domain"
)

// Ledger is the in-process result ledger of a run. Appends are serialised, so
// concurrent workers may share one Ledger. Every appended row is also handed
// to the optional sink for durable storage.
type Ledger struct {
	mu    sync.Mutex
	runID string
	rows  []domain.Outcome
	seen  map[int]struct{}
	sink  domain.LedgerSink
	now   func() time.Time
}

// New returns an empty ledger for runID. sink may be nil.
func New(runID string, sink domain.LedgerSink) *Ledger {
	return &Ledger{
		runID: runID,
		seen:  make(map[int]struct{}),
		sink:  sink,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// RunID returns the run identifier stamped on every row.
func (l *Ledger) RunID() string { return l.runID }

// Append records one outcome. Rows are never modified once appended and an
// experiment index may be recorded only once. The row is kept in memory even
// when the sink fails; the sink error is returned for the caller to report.
func (l *Ledger) Append(ctx context.Context, o domain.Outcome) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, dup := l.seen[o.Index]; dup {
		return fmt.Errorf("ledger: experiment %d already recorded", o.Index)
	}
	row := o.Clone()
	row.RunID = l.runID
	if row.RecordedAt.IsZero() {
		row.RecordedAt = l.now()
	}
	l.rows = append(l.rows, row)
	l.seen[o.Index] = struct{}{}
	if l.sink == nil {
		return nil
	}
	if err := l.sink.Append(ctx, row.Clone()); err != nil {
		return fmt.Errorf("ledger sink: %w", err)
	}
	return nil
}

// Recorded reports whether the experiment with the given index has a row.
func (l *Ledger) Recorded(index int) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.seen[index]
	return ok
}

// Len returns the number of recorded rows.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.rows)
}

// Rows returns copies of all rows ordered by work-list index.
func (l *Ledger) Rows() []domain.Outcome {
	l.mu.Lock()
	out := make([]domain.Outcome, len(l.rows))
	for i, r := range l.rows {
		out[i] = r.Clone()
	}
	l.mu.Unlock()
	SortByIndex(out)
	return out
}

// Close closes the sink, if any.
func (l *Ledger) Close() error {
	if l.sink == nil {
		return nil
	}
	return l.sink.Close()
}

// SortByIndex orders rows by work-list index.
func SortByIndex(rows []domain.Outcome) {
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].Index < rows[j].Index })
}
