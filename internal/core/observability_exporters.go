package core

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"fluxrepair/pkg/domain"
)

// Pipeline stage names used for metrics and trace spans.
const (
	StageLoad     = "load"
	StageBaseline = "baseline"
	StageRepair   = "repair"
	StageVerify   = "verify"
	StagePersist  = "persist"
)

// MetricsRecorder observes stage timings and terminal outcomes.
type MetricsRecorder interface {
	ObserveStage(stage string, success bool, duration time.Duration)
	ObserveOutcome(row domain.Outcome)
}

// Tracer starts spans around pipeline stages.
type Tracer interface {
	Start(ctx context.Context, stage, experiment string) (context.Context, TraceSpan)
}

// TraceSpan ends a span started by a Tracer.
type TraceSpan interface {
	End(err error)
}

type noopMetrics struct{}

func (noopMetrics) ObserveStage(string, bool, time.Duration) {}
func (noopMetrics) ObserveOutcome(domain.Outcome)            {}

type noopTracer struct{}

type noopSpan struct{}

func (noopTracer) Start(ctx context.Context, _, _ string) (context.Context, TraceSpan) {
	return ctx, noopSpan{}
}

func (noopSpan) End(error) {}

// PrometheusRecorder publishes batch counters and stage latencies on a
// dedicated registry.
type PrometheusRecorder struct {
	registry       *prometheus.Registry
	outcomes       *prometheus.CounterVec
	errors         *prometheus.CounterVec
	stages         *prometheus.HistogramVec
	reactionsAdded prometheus.Histogram
}

// NewPrometheusRecorder constructs a recorder with its own registry.
func NewPrometheusRecorder() *PrometheusRecorder {
	r := &PrometheusRecorder{
		registry: prometheus.NewRegistry(),
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fluxrepair",
			Name:      "experiments_total",
			Help:      "Experiments recorded, by terminal classification.",
		}, []string{"classification"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fluxrepair",
			Name:      "experiment_errors_total",
			Help:      "Experiments that did not end in growth, by error category.",
		}, []string{"category"}),
		stages: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "fluxrepair",
			Name:      "stage_duration_seconds",
			Help:      "Duration of pipeline stages.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 4, 9),
		}, []string{"stage", "status"}),
		reactionsAdded: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "fluxrepair",
			Name:      "repair_reactions_added",
			Help:      "Size of applied repair sets.",
			Buckets:   []float64{1, 2, 3, 5, 8, 13, 21, 34},
		}),
	}
	r.registry.MustRegister(r.outcomes, r.errors, r.stages, r.reactionsAdded)
	return r
}

// Registry exposes the underlying registry.
func (r *PrometheusRecorder) Registry() *prometheus.Registry { return r.registry }

// Handler serves the registry in the Prometheus exposition format.
func (r *PrometheusRecorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// ObserveStage records one stage duration.
func (r *PrometheusRecorder) ObserveStage(stage string, success bool, duration time.Duration) {
	if stage == "" {
		return
	}
	status := "error"
	if success {
		status = "success"
	}
	r.stages.WithLabelValues(stage, status).Observe(duration.Seconds())
}

// ObserveOutcome counts one ledger row.
func (r *PrometheusRecorder) ObserveOutcome(row domain.Outcome) {
	r.outcomes.WithLabelValues(string(row.Classification)).Inc()
	if row.ErrorCategory != domain.CategoryNone {
		r.errors.WithLabelValues(string(row.ErrorCategory)).Inc()
	}
	if row.Classification == domain.ClassRepairSucceeded {
		r.reactionsAdded.Observe(float64(row.NumReactionsAdded()))
	}
}

// JSONTraceEntry represents a serialized trace span emitted by JSONTraceTracer.
type JSONTraceEntry struct {
	Stage      string    `json:"stage"`
	Experiment string    `json:"experiment"`
	Status     string    `json:"status"`
	DurationMS float64   `json:"duration_ms"`
	Error      string    `json:"error,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	EndedAt    time.Time `json:"ended_at"`
}

// JSONTraceTracer serializes stage spans to a writer as JSON lines and
// retains them for inspection.
type JSONTraceTracer struct {
	mu      sync.Mutex
	entries []JSONTraceEntry
	enc     *json.Encoder
}

// NewJSONTracer constructs a tracer writing to w; a nil writer only retains spans.
func NewJSONTracer(w io.Writer) *JSONTraceTracer {
	var enc *json.Encoder
	if w != nil {
		enc = json.NewEncoder(w)
	}
	return &JSONTraceTracer{enc: enc}
}

// Entries returns a copy of all recorded spans.
func (t *JSONTraceTracer) Entries() []JSONTraceEntry {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]JSONTraceEntry, len(t.entries))
	copy(out, t.entries)
	return out
}

// Start implements Tracer.
func (t *JSONTraceTracer) Start(ctx context.Context, stage, experiment string) (context.Context, TraceSpan) {
	return ctx, &jsonTraceSpan{
		tracer:     t,
		stage:      stage,
		experiment: experiment,
		started:    time.Now().UTC(),
	}
}

type jsonTraceSpan struct {
	tracer     *JSONTraceTracer
	stage      string
	experiment string
	started    time.Time
}

func (s *jsonTraceSpan) End(err error) {
	status := "success"
	var errMsg string
	if err != nil {
		status = "error"
		errMsg = err.Error()
	}
	ended := time.Now().UTC()
	entry := JSONTraceEntry{
		Stage:      s.stage,
		Experiment: s.experiment,
		Status:     status,
		DurationMS: float64(ended.Sub(s.started)) / float64(time.Millisecond),
		Error:      errMsg,
		StartedAt:  s.started,
		EndedAt:    ended,
	}

	s.tracer.mu.Lock()
	s.tracer.entries = append(s.tracer.entries, entry)
	if s.tracer.enc != nil {
		_ = s.tracer.enc.Encode(entry)
	}
	s.tracer.mu.Unlock()
}
