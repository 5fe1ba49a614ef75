// Package config loads the run configuration with flags > environment >
// YAML file > defaults precedence.
package config

import (
	"fmt"
	"strings"

	flag "github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// ThetaStart holds the starting physical parameters for one component.
type ThetaStart struct {
	Grid     []float64 `mapstructure:"grid"`
	Vz       float64   `mapstructure:"vz"`
	Vsini    float64   `mapstructure:"vsini"`
	LogOmega float64   `mapstructure:"logOmega"`
}

// Config is the unified run configuration.
type Config struct {
	// Data locations.
	DataFile     string `mapstructure:"data_file"`
	EmulatorFile string `mapstructure:"emulator_file"`
	PhiFile      string `mapstructure:"phi_file"`
	OutDir       string `mapstructure:"outdir"`

	SpectrumID int `mapstructure:"spectrum_id"`
	OrderID    int `mapstructure:"order_id"`

	// Calibration polynomial.
	ChebDegree int  `mapstructure:"cheb_degree"`
	FixC0      bool `mapstructure:"fix_c0"`

	// Starting parameters for both components.
	Theta  ThetaStart `mapstructure:"theta"`
	Theta2 ThetaStart `mapstructure:"theta2"`

	// How often accumulated state is checkpointed, in evaluations.
	IncrementalSave int `mapstructure:"incremental_save"`

	Debug bool `mapstructure:"debug"`
}

// flagBindings maps viper keys (= env var suffixes = YAML keys) to pflag
// names.
var flagBindings = map[string]string{
	"outdir":           "outdir",
	"incremental_save": "incremental-save",
	"debug":            "debug",
}

// Load reads path and applies environment (STARFIT_*) and flag overrides.
// flagSet may be nil (e.g. in tests that don't set CLI flags).
func Load(path string, flagSet *flag.FlagSet) (*Config, error) {
	v := viper.New()
	v.SetDefault("outdir", "output")
	v.SetDefault("cheb_degree", 4)
	v.SetDefault("fix_c0", true)
	v.SetDefault("incremental_save", 100)
	v.SetDefault("spectrum_id", 0)
	v.SetDefault("order_id", 0)

	v.SetEnvPrefix("STARFIT")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	if flagSet != nil {
		for key, name := range flagBindings {
			if f := flagSet.Lookup(name); f != nil && f.Changed {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("config: binding flag %s: %w", name, err)
				}
			}
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: decoding %s: %w", path, err)
	}
	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func validate(cfg *Config) error {
	if cfg.DataFile == "" {
		return fmt.Errorf("config: data_file is required")
	}
	if cfg.EmulatorFile == "" {
		return fmt.Errorf("config: emulator_file is required")
	}
	if cfg.ChebDegree < 1 {
		return fmt.Errorf("config: cheb_degree must be at least 1, got %d", cfg.ChebDegree)
	}
	if cfg.IncrementalSave < 1 {
		return fmt.Errorf("config: incremental_save must be positive, got %d", cfg.IncrementalSave)
	}
	return nil
}
