package core

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"fluxrepair/pkg/domain"
)

func TestPrometheusRecorderServesMetrics(t *testing.T) {
	rec := NewPrometheusRecorder()
	rec.ObserveStage(StageBaseline, true, 20*time.Millisecond)
	rec.ObserveStage(StageRepair, false, time.Second)
	rec.ObserveStage("", true, time.Second)
	rec.ObserveOutcome(domain.Outcome{Classification: domain.ClassRepairSucceeded, ReactionsAdded: []string{"R1", "R2"}})
	rec.ObserveOutcome(domain.Outcome{Classification: domain.ClassError, ErrorCategory: domain.CategoryLoadError})

	srv := httptest.NewServer(rec.Handler())
	defer srv.Close()
	resp, err := srv.Client().Get(srv.URL)
	if err != nil {
		t.Fatalf("scrape: %v", err)
	}
	body, err := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	text := string(body)
	for _, want := range []string{
		`fluxrepair_experiments_total{classification="REPAIR_SUCCEEDED"} 1`,
		`fluxrepair_experiment_errors_total{category="LOAD_ERROR"} 1`,
		`fluxrepair_stage_duration_seconds_count{stage="repair",status="error"} 1`,
		`fluxrepair_repair_reactions_added_sum 2`,
	} {
		if !strings.Contains(text, want) {
			t.Fatalf("metrics output missing %q", want)
		}
	}
	families, err := rec.Registry().Gather()
	if err != nil || len(families) != 4 {
		t.Fatalf("gather: %v (%d families)", err, len(families))
	}
}

func TestJSONTracerWritesLines(t *testing.T) {
	var buf bytes.Buffer
	tracer := NewJSONTracer(&buf)
	_, span := tracer.Start(context.Background(), StageLoad, "OrgA/glucose")
	span.End(nil)
	_, span = tracer.Start(context.Background(), StageVerify, "OrgA/glucose")
	span.End(errors.New("solver crashed"))

	entries := tracer.Entries()
	if len(entries) != 2 || entries[0].Status != "success" || entries[1].Error != "solver crashed" {
		t.Fatalf("unexpected entries %+v", entries)
	}
	scanner := bufio.NewScanner(&buf)
	lines := 0
	for scanner.Scan() {
		var e JSONTraceEntry
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			t.Fatalf("line %d: %v", lines, err)
		}
		if e.Experiment != "OrgA/glucose" || e.EndedAt.Before(e.StartedAt) {
			t.Fatalf("unexpected line %+v", e)
		}
		lines++
	}
	if lines != 2 {
		t.Fatalf("expected 2 lines, got %d", lines)
	}
}

func TestNoopObservability(t *testing.T) {
	ctx := context.Background()
	got, span := noopTracer{}.Start(ctx, StageRepair, "x")
	span.End(errors.New("ignored"))
	if got != ctx {
		t.Fatalf("noop tracer must return the caller context")
	}
	noopMetrics{}.ObserveStage(StageRepair, true, time.Second)
	noopMetrics{}.ObserveOutcome(domain.Outcome{})
}
