package domain

import (
	"context"
	"sort"
	"time"
)

// LedgerSink is the minimal contract of a durable ledger backend. Rows are
// appended one at a time as experiments finish so a crashed batch keeps every
// row recorded before the crash.
type LedgerSink interface {
	Append(ctx context.Context, row Outcome) error
	Close() error
}

// LedgerSource reads back the rows of a run for projections computed after the
// batch, such as recomputing reaction frequencies.
type LedgerSource interface {
	Load(ctx context.Context, runID string) ([]Outcome, error)
}

// PersistentLedger is implemented by backends that can both record and replay rows.
type PersistentLedger interface {
	LedgerSink
	LedgerSource
}

// SelectRun filters rows to one run ordered by work-list index. An empty
// runID selects the run with the most recently recorded row.
func SelectRun(rows []Outcome, runID string) []Outcome {
	if runID == "" {
		var latest time.Time
		for _, r := range rows {
			if runID == "" || r.RecordedAt.After(latest) {
				runID, latest = r.RunID, r.RecordedAt
			}
		}
	}
	out := make([]Outcome, 0, len(rows))
	for _, r := range rows {
		if r.RunID == runID {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out
}
