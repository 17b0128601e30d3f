// Package core runs the batch gap-fill-and-verify pipeline: every experiment
// of a work list is loaded, tested for baseline growth, repaired from the
// universal reaction bank when required, re-tested and recorded as exactly
// one ledger row.
package core

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"fluxrepair/internal/ledger"
	"fluxrepair/internal/modelstore"
	"fluxrepair/internal/network"
	"fluxrepair/internal/solver"
	"fluxrepair/pkg/domain"
)

const cancelledMessage = "batch cancelled"

// Config holds the batch policy.
type Config struct {
	// GrowthThreshold is the objective a model must exceed to grow. Zero
	// selects DefaultGrowthThreshold; negative values are rejected by New.
	GrowthThreshold float64
	// Workers bounds parallel experiments; values below 1 run sequentially.
	Workers int
	// Screen disables repair: infeasible baselines end as REPAIR_NOT_ATTEMPTED.
	Screen              bool
	WriteRepairedModels bool
	SolverTimeout       time.Duration
	Extracellular       []string
}

// Option customises an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger; the default discards output.
func WithLogger(l *zap.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m MetricsRecorder) Option {
	return func(o *Orchestrator) {
		if m != nil {
			o.metrics = m
		}
	}
}

// WithTracer sets the stage tracer.
func WithTracer(t Tracer) Option {
	return func(o *Orchestrator) {
		if t != nil {
			o.tracer = t
		}
	}
}

// WithBank supplies a preloaded reaction bank instead of reading it from the store.
func WithBank(b *domain.Bank) Option {
	return func(o *Orchestrator) {
		if b != nil {
			o.bank = b
			o.bankOnce.Do(func() {})
		}
	}
}

// Orchestrator drives experiments through the pipeline.
type Orchestrator struct {
	store      *modelstore.Store
	oracle     solver.Oracle
	search     solver.RepairSearch
	cfg        Config
	classifier Classifier
	detector   network.ExchangeDetector
	logger     *zap.Logger
	metrics    MetricsRecorder
	tracer     Tracer
	now        func() time.Time

	bankOnce sync.Once
	bank     *domain.Bank
	bankErr  error
}

// Result is what a finished batch hands to the report writers.
type Result struct {
	RunID       string
	Rows        []domain.Outcome
	Summary     ledger.Summary
	Errors      []ledger.ErrorEntry
	Frequencies []ledger.ReactionFrequency
	// SinkErrors counts rows the durable ledger sink failed to store.
	SinkErrors int
}

// New constructs an Orchestrator. search may be nil in screen mode.
func New(store *modelstore.Store, oracle solver.Oracle, search solver.RepairSearch, cfg Config, opts ...Option) (*Orchestrator, error) {
	if store == nil {
		return nil, errors.New("core: model store required")
	}
	if oracle == nil {
		return nil, errors.New("core: feasibility oracle required")
	}
	if search == nil && !cfg.Screen {
		return nil, errors.New("core: repair search required unless screening")
	}
	if cfg.GrowthThreshold < 0 || math.IsNaN(cfg.GrowthThreshold) || math.IsInf(cfg.GrowthThreshold, 0) {
		return nil, fmt.Errorf("core: growth threshold %g must be a finite non-negative number", cfg.GrowthThreshold)
	}
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	o := &Orchestrator{
		store:      store,
		oracle:     solver.WithTimeout(oracle, cfg.SolverTimeout),
		cfg:        cfg,
		classifier: NewClassifier(cfg.GrowthThreshold),
		detector:   network.NewExchangeDetector(cfg.Extracellular),
		logger:     zap.NewNop(),
		metrics:    noopMetrics{},
		tracer:     noopTracer{},
		now:        func() time.Time { return time.Now().UTC() },
	}
	if search != nil {
		o.search = solver.SearchWithTimeout(search, cfg.SolverTimeout)
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// Classifier returns the feasibility classifier in use.
func (o *Orchestrator) Classifier() Classifier { return o.classifier }

// Run processes exps and appends exactly one row per experiment to l. Index
// is reassigned to the work-list position. When ctx is cancelled no new
// experiment is started; the ones never started are recorded as cancelled.
// Run only returns an error for a nil ledger: per-experiment failures end up
// in rows.
func (o *Orchestrator) Run(ctx context.Context, l *ledger.Ledger, exps []domain.Experiment) (Result, error) {
	if l == nil {
		return Result{}, errors.New("core: ledger required")
	}
	started := o.now()
	o.logger.Info("batch started",
		zap.String("run_id", l.RunID()),
		zap.Int("experiments", len(exps)),
		zap.Int("workers", o.cfg.Workers),
		zap.Bool("screen", o.cfg.Screen))

	var (
		sinkMu     sync.Mutex
		sinkErrors int
	)
	// rows are still persisted after cancellation
	persistCtx := context.WithoutCancel(ctx)
	record := func(row domain.Outcome) {
		o.metrics.ObserveOutcome(row)
		o.logRow(row)
		if err := l.Append(persistCtx, row); err != nil {
			sinkMu.Lock()
			sinkErrors++
			sinkMu.Unlock()
			o.logger.Warn("ledger append failed", zap.Int("index", row.Index), zap.Error(err))
		}
	}

	var g errgroup.Group
	g.SetLimit(o.cfg.Workers)
	for i := range exps {
		if ctx.Err() != nil {
			break
		}
		exp := exps[i]
		exp.Index = i
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			record(o.runOne(ctx, l.RunID(), exp))
			return nil
		})
	}
	_ = g.Wait()

	for i, exp := range exps {
		if l.Recorded(i) {
			continue
		}
		exp.Index = i
		row := baseRow(o.store.ResolveKeys(exp))
		row.Classification = domain.ClassError
		row.ErrorCategory = domain.CategorySolverError
		row.ErrorMessage = cancelledMessage
		record(row)
	}

	rows := l.Rows()
	summary := ledger.Summarize(l.RunID(), rows)
	summary.StartedAt = started
	summary.FinishedAt = o.now()
	summary.ElapsedSeconds = summary.FinishedAt.Sub(started).Seconds()
	o.logger.Info("batch finished",
		zap.String("run_id", l.RunID()),
		zap.Int("total", summary.Total),
		zap.Int("grew", summary.Grew),
		zap.Int("repair_attempted", summary.RepairAttempted),
		zap.Float64("elapsed_seconds", summary.ElapsedSeconds))
	return Result{
		RunID:       l.RunID(),
		Rows:        rows,
		Summary:     summary,
		Errors:      ledger.ErrorLog(rows),
		Frequencies: ledger.Frequencies(rows),
		SinkErrors:  sinkErrors,
	}, nil
}

// runOne is the single try, classify, record wrapper: whatever happens while
// processing exp, including a panic, ends as one classified row.
func (o *Orchestrator) runOne(ctx context.Context, runID string, exp domain.Experiment) (row domain.Outcome) {
	start := time.Now()
	exp = o.store.ResolveKeys(exp)
	row = baseRow(exp)
	defer func() {
		if p := recover(); p != nil {
			o.fail(&row, categorize(domain.CategorySolverError, fmt.Errorf("panic while processing %s: %v", exp.Label(), p)))
		}
		row.DurationMS = float64(time.Since(start)) / float64(time.Millisecond)
	}()
	if err := o.process(ctx, runID, exp, &row); err != nil {
		o.fail(&row, err)
	}
	return row
}

func baseRow(exp domain.Experiment) domain.Outcome {
	return domain.Outcome{
		Index:     exp.Index,
		Organism:  exp.Organism,
		OrgID:     exp.OrgID,
		Condition: exp.Condition,
		ModelKey:  exp.ModelKey,
		MediumKey: exp.MediumKey,
	}
}

// fail turns row into an error row. Reactions from an interrupted repair are
// dropped: an error row never reports added reactions.
func (o *Orchestrator) fail(row *domain.Outcome, err error) {
	row.ReactionsAdded = nil
	row.AddedDetails = nil
	row.RepairedModelKey = ""
	row.Classification = domain.ClassError
	row.ErrorCategory = classifyError(err)
	row.ErrorMessage = err.Error()
}

func (o *Orchestrator) process(ctx context.Context, runID string, exp domain.Experiment, row *domain.Outcome) error {
	if o.cfg.Screen {
		exp.RepairRequired = false
	}
	label := exp.Label()
	if exp.OrgID == "" {
		return categorizef(domain.CategoryMissingInput, "work-list row %d has no orgId", exp.Index+1)
	}
	if exp.Defect != "" {
		return categorizef(domain.CategoryLoadError, "work list %s", exp.Defect)
	}

	var (
		model  *domain.Model
		medium domain.Medium
	)
	err := o.stage(ctx, StageLoad, label, func(ctx context.Context) error {
		if err := o.store.Exists(ctx, exp); err != nil {
			return categorize(loadCategory(err), err)
		}
		var err error
		if model, err = o.store.LoadModel(ctx, exp.ModelKey); err != nil {
			return categorize(loadCategory(err), err)
		}
		if medium, err = o.store.LoadMedium(ctx, exp.MediumKey); err != nil {
			return categorize(loadCategory(err), err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	applied, err := o.detector.ApplyMedium(model, medium)
	if err != nil {
		return categorize(domain.CategoryMediumApplyError, fmt.Errorf("apply medium %s to %s: %w", exp.MediumKey, exp.ModelKey, err))
	}

	var baseline solver.Solution
	err = o.stage(ctx, StageBaseline, label, func(ctx context.Context) error {
		var err error
		baseline, err = o.oracle.Optimize(ctx, applied)
		return categorize(domain.CategorySolverError, err)
	})
	if err != nil {
		return err
	}
	row.PreRepairFlux = baseline.ObjectiveValue
	row.PreRepairStatus = baseline.Status
	cls, cat, done := o.classifier.Baseline(exp, baseline, !o.cfg.Screen)
	if done {
		if cat == domain.CategoryUnexpectedBaselineGrowth {
			return categorizef(cat, "baseline objective %g exceeds threshold %g although no growth was predicted",
				baseline.ObjectiveValue, o.classifier.Threshold)
		}
		row.Classification = cls
		return nil
	}

	bank, err := o.loadBank(ctx)
	if err != nil {
		return categorize(loadCategory(err), err)
	}
	row.RepairAttempted = true
	var candidates []solver.Candidate
	err = o.stage(ctx, StageRepair, label, func(ctx context.Context) error {
		var err error
		candidates, err = o.search.Gapfill(ctx, applied, bank)
		return categorize(domain.CategorySolverError, err)
	})
	if err != nil {
		return err
	}
	row.CandidateCount = len(candidates)
	if len(candidates) == 0 || len(candidates[0].Reactions) == 0 {
		row.Classification = domain.ClassRepairFailedNoSolution
		row.ErrorCategory = domain.CategoryRepairNoSolution
		row.ErrorMessage = "repair search found no reaction set"
		return nil
	}

	// The first candidate is authoritative; the rest only count toward CandidateCount.
	rxns := make([]domain.Reaction, 0, len(candidates[0].Reactions))
	for _, id := range candidates[0].Reactions {
		rxn, ok := bank.Reaction(id)
		if !ok {
			return categorizef(domain.CategorySolverError, "candidate reaction %s is not in bank %s", id, bank.ID())
		}
		rxns = append(rxns, rxn)
	}
	repaired, delta := network.AddReactions(applied, rxns, bank)
	row.ReactionsAdded = delta.AddedReactions
	row.AddedDetails = network.Provenance(repaired, delta.AddedReactions)

	var verified solver.Solution
	err = o.stage(ctx, StageVerify, label, func(ctx context.Context) error {
		var err error
		verified, err = o.oracle.Optimize(ctx, repaired)
		return categorize(domain.CategorySolverError, err)
	})
	if err != nil {
		return err
	}
	row.PostRepairFlux = verified.ObjectiveValue
	row.Classification, row.ErrorCategory = o.classifier.Repaired(verified)
	if row.Classification == domain.ClassRepairFailedStillInfeasible {
		row.ErrorMessage = fmt.Sprintf("repaired objective %g (status %s) does not exceed threshold %g",
			verified.ObjectiveValue, verified.Status, o.classifier.Threshold)
		return nil
	}
	if o.cfg.WriteRepairedModels {
		key := o.store.RepairOutputKey(exp.OrgID, exp.Condition, runID)
		err := o.stage(ctx, StagePersist, label, func(ctx context.Context) error {
			_, err := o.store.PutModel(ctx, key, repaired, false)
			return err
		})
		if err != nil {
			o.logger.Warn("write repaired model failed", zap.String("key", key), zap.Error(err))
		} else {
			row.RepairedModelKey = key
		}
	}
	return nil
}

func (o *Orchestrator) stage(ctx context.Context, name, label string, fn func(context.Context) error) error {
	ctx, span := o.tracer.Start(ctx, name, label)
	start := time.Now()
	err := fn(ctx)
	o.metrics.ObserveStage(name, err == nil, time.Since(start))
	span.End(err)
	return err
}

func (o *Orchestrator) loadBank(ctx context.Context) (*domain.Bank, error) {
	o.bankOnce.Do(func() {
		o.bank, o.bankErr = o.store.LoadBank(ctx)
		if o.bankErr == nil {
			o.logger.Info("reaction bank loaded", zap.String("id", o.bank.ID()), zap.Int("reactions", o.bank.Len()))
		}
	})
	return o.bank, o.bankErr
}

func loadCategory(err error) domain.ErrorCategory {
	if errors.Is(err, domain.ErrNotFound) {
		return domain.CategoryMissingInput
	}
	return domain.CategoryLoadError
}

func (o *Orchestrator) logRow(row domain.Outcome) {
	fields := []zap.Field{
		zap.Int("index", row.Index),
		zap.String("org_id", row.OrgID),
		zap.String("condition", row.Condition),
		zap.String("classification", string(row.Classification)),
		zap.Float64("duration_ms", row.DurationMS),
	}
	if row.Classification != domain.ClassError {
		if row.NumReactionsAdded() > 0 {
			fields = append(fields, zap.String("reactions_added", row.ReactionsAddedString()))
		}
		o.logger.Info("experiment recorded", fields...)
		return
	}
	fields = append(fields,
		zap.String("error_category", string(row.ErrorCategory)),
		zap.String("error", row.ErrorMessage))
	o.logger.Warn("experiment failed", fields...)
}
