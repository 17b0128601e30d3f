package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"fluxrepair/internal/curation"
	"fluxrepair/internal/ledger"
	"fluxrepair/internal/report"
)

const (
	addedReactionsFile = "added_reactions.csv"
	topAddedFile       = "top_added_reactions.csv"
	correctionsFile    = "model_corrections_log.csv"
)

func addedReactionsCMD(a *app) *cobra.Command {
	var (
		orgs   []string
		prefix string
	)
	cmd := &cobra.Command{
		Use:   "added-reactions",
		Short: "Diff every repaired model against its draft",
		Long: `Lists the reactions each organism's repaired model adds to its draft and
ranks them by the number of models they were added to. Organisms default to
every draft model found under layout.draft_model.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			store, err := a.modelStore(ctx)
			if err != nil {
				return err
			}
			if len(orgs) == 0 {
				if orgs, err = curation.OrganismIDs(ctx, store); err != nil {
					return err
				}
			}
			res, err := curation.DiffRepairs(ctx, store, orgs, a.logger)
			if err != nil {
				return err
			}
			w := a.writer(store, prefix)
			if _, err := w.Put(ctx, addedReactionsFile, "text/csv", nil, func(b io.Writer) error {
				return report.EncodeDerivations(b, res.Derivations)
			}); err != nil {
				return err
			}
			top := ledger.Top(res.Frequencies, w.TopN)
			if _, err := w.Put(ctx, topAddedFile, "text/csv", nil, func(b io.Writer) error {
				return report.EncodeFrequencies(b, top)
			}); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%d repaired models, %d organisms without one\n", len(res.Derivations), len(res.Skipped))
			for _, f := range top {
				fmt.Fprintf(out, "  %-20s %4d  %6.2f%%\n", f.ReactionID, f.Count, f.Percent)
			}
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&orgs, "org", nil, "organism ids (default every draft model)")
	cmd.Flags().StringVar(&prefix, "prefix", "results", "key prefix of the written tables")
	return cmd
}

func addExchangesCMD(a *app) *cobra.Command {
	var (
		missing string
		orgs    []string
		prefix  string
	)
	cmd := &cobra.Command{
		Use:   "add-exchanges",
		Short: "Add missing exchange reactions to repaired models",
		Long: `Adds exchange reactions (and their boundary metabolites) that repaired
models lack. With --missing, a CSV with orgId, compound_id and compound_name
columns decides which exchanges each organism gets; otherwise every selected
organism gets exchanges.compounds. Corrected models are written under
exchanges.output and the original documents are left untouched.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			cfg := a.cfg.Exchanges
			store, err := a.modelStore(ctx)
			if err != nil {
				return err
			}
			var plan curation.MissingExchanges
			switch {
			case missing != "":
				f, err := os.Open(missing)
				if err != nil {
					return err
				}
				plan, err = curation.ParseMissingExchanges(f, cfg.Compounds)
				_ = f.Close()
				if err != nil {
					return err
				}
			default:
				if len(orgs) == 0 {
					if orgs, err = curation.OrganismIDs(ctx, store); err != nil {
						return err
					}
				}
				plan = curation.Uniform(orgs, cfg.Compounds)
			}
			corrector := curation.ExchangeCorrector{Store: store, Compartment: cfg.Compartment, Output: cfg.Output, Logger: a.logger}
			corrs, err := corrector.Correct(ctx, plan)
			if err != nil {
				return err
			}
			w := a.writer(store, prefix)
			info, err := w.Put(ctx, correctionsFile, "text/csv", nil, func(b io.Writer) error {
				return report.EncodeCorrections(b, corrs)
			})
			if err != nil {
				return err
			}
			added := 0
			for _, c := range corrs {
				added += len(c.ExchangesAdded)
			}
			a.logger.Info("exchange correction finished",
				zap.Int("organisms", len(plan.Order)),
				zap.Int("models_corrected", len(corrs)),
				zap.Int("exchanges_added", added),
				zap.String("log", info.Key))
			fmt.Fprintf(cmd.OutOrStdout(), "%d models corrected, %d exchanges added, log %s\n", len(corrs), added, info.Key)
			return nil
		},
	}
	cmd.Flags().StringVar(&missing, "missing", "", "CSV of missing exchanges per organism")
	cmd.Flags().StringSliceVar(&orgs, "org", nil, "organism ids (default every draft model)")
	cmd.Flags().StringVar(&prefix, "prefix", "results", "key prefix of the correction log")
	return cmd
}
