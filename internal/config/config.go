// Package config loads fluxrepair settings from an optional YAML file and
// FLUXREPAIR_* environment variables.
package config

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/spf13/viper"

	"fluxrepair/internal/blob"
	"fluxrepair/internal/ledger"
	"fluxrepair/internal/modelstore"
	"fluxrepair/internal/network"
	"fluxrepair/internal/solver/exec"
)

// EnvPrefix prefixes every environment override, e.g. FLUXREPAIR_BATCH_WORKERS.
const EnvPrefix = "FLUXREPAIR"

// Config holds all configuration of the CLI.
type Config struct {
	Batch     BatchConfig          `mapstructure:"batch"`
	Solver    SolverConfig         `mapstructure:"solver"`
	Blob      blob.Config          `mapstructure:"blob"`
	Layout    modelstore.Layout    `mapstructure:"layout"`
	Ledger    ledger.StorageConfig `mapstructure:"ledger"`
	Output    OutputConfig         `mapstructure:"output"`
	Exchanges ExchangesConfig      `mapstructure:"exchanges"`
	Metrics   MetricsConfig        `mapstructure:"metrics"`
	Log       LogConfig            `mapstructure:"log"`
}

// BatchConfig controls the experiment loop.
type BatchConfig struct {
	WorkList        string   `mapstructure:"work_list"`
	Workers         int      `mapstructure:"workers"`
	GrowthThreshold float64  `mapstructure:"growth_threshold"`
	Screen          bool     `mapstructure:"screen"`
	Extracellular   []string `mapstructure:"extracellular"`
}

// Normalize applies defaults for unset batch values.
func (c BatchConfig) Normalize() BatchConfig {
	if c.Workers <= 0 {
		c.Workers = 1
	}
	if len(c.Extracellular) == 0 {
		c.Extracellular = append([]string(nil), network.DefaultExtracellular...)
	}
	return c
}

// Validate ensures batch settings are usable.
func (c BatchConfig) Validate() error {
	if c.Workers < 1 {
		return fmt.Errorf("batch.workers must be at least 1")
	}
	if !(c.GrowthThreshold > 0) || math.IsInf(c.GrowthThreshold, 1) {
		return fmt.Errorf("batch.growth_threshold must be a positive number, got %g", c.GrowthThreshold)
	}
	return nil
}

// SolverConfig describes the external solver process.
type SolverConfig struct {
	exec.Config `mapstructure:",squash"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

// Validate ensures the solver can be started.
func (c SolverConfig) Validate() error {
	if strings.TrimSpace(c.Command) == "" {
		return fmt.Errorf("solver.command is required")
	}
	if c.Timeout < 0 {
		return fmt.Errorf("solver.timeout cannot be negative")
	}
	return nil
}

// OutputConfig controls where run artifacts go.
type OutputConfig struct {
	// Prefix is the blob key prefix of run artifacts; {run} expands to the run id.
	Prefix              string `mapstructure:"prefix"`
	WriteRepairedModels bool   `mapstructure:"write_repaired_models"`
	TopN                int    `mapstructure:"top_n"`
	// TraceFile receives stage spans as JSON lines when set.
	TraceFile string `mapstructure:"trace_file"`
}

// Normalize applies defaults for unset output values.
func (c OutputConfig) Normalize() OutputConfig {
	c.Prefix = strings.TrimSpace(c.Prefix)
	if c.Prefix == "" {
		c.Prefix = "results/{run}"
	}
	if c.TopN <= 0 {
		c.TopN = 20
	}
	return c
}

// RunPrefix returns the artifact prefix of a run.
func (c OutputConfig) RunPrefix(runID string) string {
	return strings.ReplaceAll(c.Prefix, "{run}", runID)
}

// ExchangesConfig drives exchange correction.
type ExchangesConfig struct {
	Compartment string                 `mapstructure:"compartment"`
	Output      string                 `mapstructure:"output"`
	Compounds   []network.ExchangeSpec `mapstructure:"compounds"`
}

// DefaultCompounds are the trace-metal exchanges commonly missing from draft reconstructions.
var DefaultCompounds = []network.ExchangeSpec{
	{CompoundID: "cpd10515", Name: "Fe2+"},
	{CompoundID: "cpd00244", Name: "Ni2+"},
	{CompoundID: "cpd11574", Name: "Molybdate"},
}

// Normalize applies defaults for unset exchange values.
func (c ExchangesConfig) Normalize() ExchangesConfig {
	if c.Compartment == "" {
		c.Compartment = "e0"
	}
	if c.Output == "" {
		c.Output = "models_missing_exchanges/{org}_gapfilled_corrected.json"
	}
	if len(c.Compounds) == 0 {
		c.Compounds = append([]network.ExchangeSpec(nil), DefaultCompounds...)
	}
	return c
}

// Validate ensures the output template names the organism.
func (c ExchangesConfig) Validate() error {
	if !strings.Contains(c.Output, "{org}") {
		return fmt.Errorf("exchanges.output must contain {org}")
	}
	for _, spec := range c.Compounds {
		if strings.TrimSpace(spec.CompoundID) == "" {
			return fmt.Errorf("exchanges.compounds entries need a compound_id")
		}
	}
	return nil
}

// MetricsConfig enables the Prometheus endpoint.
type MetricsConfig struct {
	Address string `mapstructure:"address"`
}

// LogConfig selects the logger.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Normalize applies defaults for unset log values.
func (c LogConfig) Normalize() LogConfig {
	if c.Level == "" {
		c.Level = "info"
	}
	if c.Format == "" {
		c.Format = "console"
	}
	return c
}

// Validate ensures the log format is known.
func (c LogConfig) Validate() error {
	switch c.Format {
	case "json", "console":
		return nil
	}
	return fmt.Errorf("log.format must be json or console, got %q", c.Format)
}

// Normalize applies every section default.
func (c *Config) Normalize() {
	c.Batch = c.Batch.Normalize()
	c.Layout.Normalize()
	c.Output = c.Output.Normalize()
	c.Exchanges = c.Exchanges.Normalize()
	c.Log = c.Log.Normalize()
	if c.Ledger.Driver == "" {
		c.Ledger.Driver = ledger.StorageMemory
	}
}

// Validate checks the sections every command relies on. The solver section
// is validated by the commands that start a solver.
func (c *Config) Validate() error {
	return errors.Join(
		c.Batch.Validate(),
		c.Layout.Validate(),
		c.Exchanges.Validate(),
		c.Log.Validate(),
	)
}

// SetDefaults registers the default of every key so environment overrides
// apply even without a config file.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("batch.work_list", "")
	v.SetDefault("batch.workers", 1)
	v.SetDefault("batch.growth_threshold", 0.001)
	v.SetDefault("batch.screen", false)
	v.SetDefault("batch.extracellular", network.DefaultExtracellular)
	v.SetDefault("solver.command", "")
	v.SetDefault("solver.args", []string{})
	v.SetDefault("solver.env", []string{})
	v.SetDefault("solver.dir", "")
	v.SetDefault("solver.timeout", 10*time.Minute)
	v.SetDefault("blob.driver", string(blob.DriverFilesystem))
	v.SetDefault("blob.root", ".")
	v.SetDefault("blob.s3.region", "")
	v.SetDefault("blob.s3.bucket", "")
	v.SetDefault("blob.s3.prefix", "")
	v.SetDefault("blob.s3.endpoint", "")
	v.SetDefault("blob.s3.access_key_id", "")
	v.SetDefault("blob.s3.secret_access_key", "")
	v.SetDefault("blob.s3.session_token", "")
	v.SetDefault("blob.s3.path_style", false)
	layout := modelstore.DefaultLayout()
	v.SetDefault("layout.draft_model", layout.DraftModel)
	v.SetDefault("layout.repaired_model", layout.RepairedModel)
	v.SetDefault("layout.medium", layout.Medium)
	v.SetDefault("layout.bank", layout.Bank)
	v.SetDefault("layout.repair_output", layout.RepairOutput)
	v.SetDefault("ledger.driver", string(ledger.StorageMemory))
	v.SetDefault("ledger.sqlite_path", "fluxrepair.db")
	v.SetDefault("ledger.postgres_dsn", "")
	v.SetDefault("ledger.redis.addr", "")
	v.SetDefault("ledger.redis.password", "")
	v.SetDefault("ledger.redis.db", 0)
	v.SetDefault("ledger.redis.stream", "")
	v.SetDefault("ledger.redis.max_len", 0)
	v.SetDefault("output.prefix", "results/{run}")
	v.SetDefault("output.write_repaired_models", false)
	v.SetDefault("output.top_n", 20)
	v.SetDefault("output.trace_file", "")
	v.SetDefault("exchanges.compartment", "e0")
	v.SetDefault("exchanges.output", "models_missing_exchanges/{org}_gapfilled_corrected.json")
	v.SetDefault("metrics.address", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
}

// Load reads the config file at path (optional when empty) into a Config
// using v, which the CLI shares with its flag bindings.
func Load(v *viper.Viper, path string) (*Config, error) {
	if v == nil {
		v = viper.New()
	}
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("fluxrepair")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
