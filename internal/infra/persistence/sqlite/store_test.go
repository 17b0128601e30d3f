package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"fluxrepair/pkg/domain"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(filepath.Join(t.TempDir(), "nested", "ledger.db"))
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStoreRoundTripAndLatestRun(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	rows := []domain.Outcome{
		{RunID: "run-a", Index: 1, OrgID: "OrgB", Classification: domain.ClassRepairFailedNoSolution, RecordedAt: base},
		{RunID: "run-a", Index: 0, OrgID: "OrgA", Classification: domain.ClassRepairSucceeded, ReactionsAdded: []string{"R1", "R2"}, RecordedAt: base},
		{RunID: "run-b", Index: 0, OrgID: "OrgA", Classification: domain.ClassFeasibleBaseline, RecordedAt: base.Add(time.Minute)},
	}
	for _, r := range rows {
		if err := s.Append(ctx, r); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	got, err := s.Load(ctx, "run-a")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(got) != 2 || got[0].OrgID != "OrgA" || got[1].OrgID != "OrgB" {
		t.Fatalf("unexpected rows: %+v", got)
	}
	if got[0].ReactionsAddedString() != "R1;R2" {
		t.Fatalf("payload not preserved: %v", got[0].ReactionsAdded)
	}
	if !got[0].RecordedAt.Equal(base) {
		t.Fatalf("recorded_at not preserved: %v", got[0].RecordedAt)
	}
	latest, err := s.Load(ctx, "")
	if err != nil {
		t.Fatalf("load latest: %v", err)
	}
	if len(latest) != 1 || latest[0].RunID != "run-b" {
		t.Fatalf("expected latest run-b, got %+v", latest)
	}
	runs, err := s.Runs(ctx)
	if err != nil {
		t.Fatalf("runs: %v", err)
	}
	if len(runs) != 2 || runs[0] != "run-a" || runs[1] != "run-b" {
		t.Fatalf("unexpected runs %v", runs)
	}
}

func TestStoreRejectsDuplicateRow(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	row := domain.Outcome{RunID: "r", Index: 3, RecordedAt: time.Now()}
	if err := s.Append(ctx, row); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := s.Append(ctx, row); err == nil {
		t.Fatalf("expected primary key violation")
	}
}

func TestStoreReopenKeepsRows(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "ledger.db")
	s, err := NewStore(path)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	if err := s.Append(ctx, domain.Outcome{RunID: "r", Index: 0, RecordedAt: time.Now()}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if s.Path() != path {
		t.Fatalf("unexpected path %s", s.Path())
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	reopened, err := NewStore(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer func() { _ = reopened.Close() }()
	rows, err := reopened.Load(ctx, "r")
	if err != nil || len(rows) != 1 {
		t.Fatalf("expected persisted row, got %v (%v)", rows, err)
	}
}
