package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"fluxrepair/internal/core"
	"fluxrepair/internal/ledger"
	"fluxrepair/internal/solver/exec"
	"fluxrepair/internal/worklist"
	"fluxrepair/pkg/domain"
)

func runCMD(a *app) *cobra.Command {
	var runID string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Gap-fill and verify every experiment of a work list",
		Long: `Runs each experiment of the work list: apply the medium to the draft
model, test baseline growth, search the universal bank for a repair when the
model fails to grow on a condition where the organism grows, and verify the
repaired model. One ledger row is written per experiment; the run's tables and
summary are stored under output.prefix.

With --screen no repair is attempted and only baseline growth is reported.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.runBatch(cmd.Context(), cmd.OutOrStdout(), runID)
		},
	}
	f := cmd.Flags()
	f.String("worklist", "", "work list file (CSV or YAML)")
	f.Bool("screen", false, "baseline growth only, no repair")
	f.Int("workers", 1, "experiments processed in parallel")
	f.Float64("threshold", 0.001, "growth threshold; objective values must exceed it")
	f.Bool("write-models", false, "store every repaired model document")
	f.String("metrics-addr", "", "serve Prometheus metrics on this address during the run")
	f.String("trace-file", "", "append stage spans as JSON lines to this file")
	f.StringVar(&runID, "run-id", "", "run identifier (default random UUID)")
	a.bind(f, map[string]string{
		"batch.work_list":              "worklist",
		"batch.screen":                 "screen",
		"batch.workers":                "workers",
		"batch.growth_threshold":       "threshold",
		"output.write_repaired_models": "write-models",
		"metrics.address":              "metrics-addr",
		"output.trace_file":            "trace-file",
	})
	return cmd
}

func (a *app) runBatch(ctx context.Context, out io.Writer, runID string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg := a.cfg
	if cfg.Batch.WorkList == "" {
		return errors.New("a work list is required (--worklist or batch.work_list)")
	}
	if err := cfg.Solver.Validate(); err != nil {
		return err
	}
	exps, err := worklist.LoadFile(cfg.Batch.WorkList)
	if err != nil {
		return err
	}
	if runID == "" {
		runID = uuid.NewString()
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := a.modelStore(ctx)
	if err != nil {
		return err
	}
	sink, err := ledger.OpenStore(ctx, cfg.Ledger)
	if err != nil {
		return fmt.Errorf("open ledger: %w", err)
	}
	l := ledger.New(runID, sink)
	defer func() {
		if err := l.Close(); err != nil {
			a.logger.Warn("close ledger", zap.Error(err))
		}
	}()

	client, err := exec.New(cfg.Solver.Config, a.logger.Named("solver"))
	if err != nil {
		return err
	}
	defer func() { _ = client.Close() }()

	recorder := core.NewPrometheusRecorder()
	opts := []core.Option{core.WithLogger(a.logger), core.WithMetrics(recorder)}
	if cfg.Output.TraceFile != "" {
		f, err := os.OpenFile(cfg.Output.TraceFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return fmt.Errorf("open trace file: %w", err)
		}
		defer func() { _ = f.Close() }()
		opts = append(opts, core.WithTracer(core.NewJSONTracer(f)))
	}
	if cfg.Metrics.Address != "" {
		shutdown := a.serveMetrics(cfg.Metrics.Address, recorder.Handler())
		defer shutdown()
	}

	orch, err := core.New(store, client, client, core.Config{
		GrowthThreshold:     cfg.Batch.GrowthThreshold,
		Workers:             cfg.Batch.Workers,
		Screen:              cfg.Batch.Screen,
		WriteRepairedModels: cfg.Output.WriteRepairedModels,
		SolverTimeout:       cfg.Solver.Timeout,
		Extracellular:       cfg.Batch.Extracellular,
	}, opts...)
	if err != nil {
		return err
	}
	res, err := orch.Run(ctx, l, exps)
	if err != nil {
		return err
	}
	if res.SinkErrors > 0 {
		a.logger.Warn("ledger sink lost rows", zap.Int("rows", res.SinkErrors), zap.String("driver", string(cfg.Ledger.Driver)))
	}

	// Artifacts are written even when the batch was interrupted.
	w := a.writer(store, cfg.Output.RunPrefix(runID))
	infos, err := w.WriteRun(context.WithoutCancel(ctx), res.Summary, res.Rows)
	if err != nil {
		return err
	}
	for _, info := range infos {
		a.logger.Debug("artifact written", zap.String("key", info.Key), zap.Int64("size", info.Size))
	}
	printSummary(out, res)
	fmt.Fprintf(out, "artifacts: %s\n", w.Key(""))
	return ctx.Err()
}

func (a *app) serveMetrics(addr string, handler http.Handler) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", handler)
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("metrics server", zap.Error(err))
		}
	}()
	a.logger.Info("serving metrics", zap.String("addr", addr))
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}

func printSummary(out io.Writer, res core.Result) {
	s := res.Summary
	fmt.Fprintf(out, "run %s: %d experiments in %.1fs\n", res.RunID, s.Total, s.ElapsedSeconds)
	for _, class := range domain.Classifications {
		fmt.Fprintf(out, "  %-34s %d\n", class, s.Classifications[class])
	}
	if len(res.Errors) > 0 {
		fmt.Fprintf(out, "errors: %d\n", len(res.Errors))
		for _, cat := range domain.ErrorCategories {
			if n := s.ErrorCategories[cat]; n > 0 {
				fmt.Fprintf(out, "  %-34s %d\n", cat, n)
			}
		}
	}
	if len(res.Frequencies) > 0 {
		fmt.Fprintf(out, "distinct reactions added: %d\n", s.DistinctAdded)
	}
}
