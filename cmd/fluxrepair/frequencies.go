package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"fluxrepair/internal/ledger"
	"fluxrepair/internal/report"
)

func frequenciesCMD(a *app) *cobra.Command {
	var (
		runID string
		top   int
		store bool
	)
	cmd := &cobra.Command{
		Use:   "frequencies",
		Short: "Recompute reaction frequencies from a persisted ledger",
		Long: `Reads the rows of a run back from the configured ledger backend and prints
how often each reaction was added by a successful repair. Without --run-id the
most recent run is used.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			if a.cfg.Ledger.Driver == ledger.StorageMemory {
				return fmt.Errorf("ledger.driver %s keeps no rows between runs", ledger.StorageMemory)
			}
			src, err := ledger.OpenStore(ctx, a.cfg.Ledger)
			if err != nil {
				return fmt.Errorf("open ledger: %w", err)
			}
			defer func() { _ = src.Close() }()
			rows, err := src.Load(ctx, runID)
			if err != nil {
				return err
			}
			if len(rows) == 0 {
				return fmt.Errorf("no rows recorded for run %q", runID)
			}
			freqs := ledger.Frequencies(rows)
			if top > 0 {
				freqs = ledger.Top(freqs, top)
			}
			if store {
				ms, err := a.modelStore(ctx)
				if err != nil {
					return err
				}
				w := a.writer(ms, a.cfg.Output.RunPrefix(rows[0].RunID))
				if _, err := w.Put(ctx, report.FrequenciesFile, "text/csv", map[string]string{"run-id": rows[0].RunID}, func(b io.Writer) error {
					return report.EncodeFrequencies(b, freqs)
				}); err != nil {
					return err
				}
			}
			return report.EncodeFrequencies(cmd.OutOrStdout(), freqs)
		},
	}
	cmd.Flags().StringVar(&runID, "run-id", "", "run to read (default most recent)")
	cmd.Flags().IntVar(&top, "top", 0, "only the N most frequent reactions")
	cmd.Flags().BoolVar(&store, "store", false, "also rewrite frequencies.csv under output.prefix")
	return cmd
}
