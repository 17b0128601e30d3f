// Command fluxrepair gap-fills and verifies metabolic models over a work list
// of organism and growth-condition experiments.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"fluxrepair/internal/blob"
	"fluxrepair/internal/config"
	"fluxrepair/internal/logging"
	"fluxrepair/internal/modelstore"
	"fluxrepair/internal/report"
)

var exitFunc = os.Exit

func main() {
	if err := newRootCMD().Execute(); err != nil {
		exitFunc(1)
	}
}

// app carries what every subcommand shares once flags are parsed.
type app struct {
	v       *viper.Viper
	cfgPath string
	verbose bool

	cfg    *config.Config
	logger *zap.Logger
}

func newRootCMD() *cobra.Command {
	a := &app{v: viper.New()}
	root := &cobra.Command{
		Use:   "fluxrepair",
		Short: "Batch gap-filling and verification of metabolic models",
		Long: `fluxrepair checks whether draft metabolic models grow on the media of
observed growth experiments, repairs false negatives with reactions from a
universal bank and verifies that the repaired models grow.

Settings come from fluxrepair.yaml (or --config) and FLUXREPAIR_* variables.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.init()
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if a.logger != nil {
				_ = a.logger.Sync()
			}
		},
	}
	root.PersistentFlags().StringVarP(&a.cfgPath, "config", "c", "", "config file (default ./fluxrepair.yaml when present)")
	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "debug logging")
	root.AddCommand(runCMD(a), addedReactionsCMD(a), addExchangesCMD(a), frequenciesCMD(a))
	return root
}

func (a *app) init() error {
	cfg, err := config.Load(a.v, a.cfgPath)
	if err != nil {
		return err
	}
	level := cfg.Log.Level
	if a.verbose {
		level = "debug"
	}
	logger, err := logging.New(level, cfg.Log.Format)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	a.cfg = cfg
	a.logger = logger
	return nil
}

// bind maps config keys to flags so a set flag overrides file and environment.
func (a *app) bind(flags *pflag.FlagSet, keys map[string]string) {
	for key, name := range keys {
		if err := a.v.BindPFlag(key, flags.Lookup(name)); err != nil {
			panic(fmt.Sprintf("bind %s to --%s: %v", key, name, err))
		}
	}
}

func (a *app) modelStore(ctx context.Context) (*modelstore.Store, error) {
	blobs, err := blob.Open(ctx, a.cfg.Blob)
	if err != nil {
		return nil, fmt.Errorf("open blob store: %w", err)
	}
	return modelstore.New(blobs, a.cfg.Layout), nil
}

func (a *app) writer(store *modelstore.Store, prefix string) *report.Writer {
	w := report.NewWriter(store.Blobs(), prefix)
	w.TopN = a.cfg.Output.TopN
	return w
}
