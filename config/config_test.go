package config

import (
	"os"
	"path/filepath"
	"testing"

	flag "github.com/spf13/pflag"
	"github.com/stretchr/testify/require"
)

const testConfig = `data_file: data/order22.yaml
emulator_file: data/emulator.yaml
phi_file: data/phi.yaml
cheb_degree: 4
fix_c0: true
theta:
  grid: [6100, 4.2, 0.0]
  vz: 15.5
  vsini: 4.0
  logOmega: -12.8
theta2:
  grid: [5900, 4.3, 0.0]
  vz: 0
  vsini: 6.0
  logOmega: -13.1
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadFileValues(t *testing.T) {
	cfg, err := Load(writeConfig(t, testConfig), nil)
	require.NoError(t, err)
	require.Equal(t, "data/order22.yaml", cfg.DataFile)
	require.Equal(t, 4, cfg.ChebDegree)
	require.True(t, cfg.FixC0)
	require.Equal(t, []float64{6100, 4.2, 0.0}, cfg.Theta.Grid)
	require.Equal(t, 15.5, cfg.Theta.Vz)
	// Defaults fill what the file omits.
	require.Equal(t, "output", cfg.OutDir)
	require.Equal(t, 100, cfg.IncrementalSave)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("STARFIT_OUTDIR", "elsewhere")
	cfg, err := Load(writeConfig(t, testConfig), nil)
	require.NoError(t, err)
	require.Equal(t, "elsewhere", cfg.OutDir)
}

func TestLoadFlagOverride(t *testing.T) {
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	fs.Int("incremental-save", 100, "")
	fs.String("outdir", "", "")
	require.NoError(t, fs.Parse([]string{"--incremental-save=25"}))

	cfg, err := Load(writeConfig(t, testConfig), fs)
	require.NoError(t, err)
	// Changed flags beat the file and defaults; unchanged flags don't.
	require.Equal(t, 25, cfg.IncrementalSave)
	require.Equal(t, "output", cfg.OutDir)
}

func TestLoadValidates(t *testing.T) {
	_, err := Load(writeConfig(t, "emulator_file: e.yaml\n"), nil)
	require.Error(t, err)

	_, err = Load(writeConfig(t, "data_file: d.yaml\nemulator_file: e.yaml\ncheb_degree: 0\n"), nil)
	require.Error(t, err)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"), nil)
	require.Error(t, err)
}
