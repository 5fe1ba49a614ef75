// Command starfit evaluates the binary-star spectral likelihood at the
// configured starting parameters. It wires the data spectrum, the trained
// emulator and the persisted nuisance record into a per-order worker pool
// and reports the log-probability an MCMC driver would see, along with a
// residual plot. Useful as a sanity probe before committing to a long
// sampling run.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	flag "github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/jason-neal/starfit/config"
	"github.com/jason-neal/starfit/diagnostics"
	"github.com/jason-neal/starfit/emulator"
	"github.com/jason-neal/starfit/model"
	"github.com/jason-neal/starfit/pool"
	"github.com/jason-neal/starfit/spectrum"
)

func main() {
	var (
		configPath = flag.String("config", "config.yaml", "run configuration file")
		evals      = flag.Int("evals", 1, "how many likelihood evaluations to run")
		debug      = flag.Bool("debug", false, "enable debug logging")
	)
	flag.Int("incremental-save", 100, "how often to checkpoint progress, in evaluations")
	flag.String("outdir", "", "output directory (overrides config)")
	flag.Parse()

	if err := run(*configPath, *evals, *debug); err != nil {
		fmt.Fprintf(os.Stderr, "starfit: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string, evals int, debug bool) error {
	cfg, err := config.Load(configPath, flag.CommandLine)
	if err != nil {
		return err
	}

	logger, err := newLogger(debug || cfg.Debug)
	if err != nil {
		return err
	}
	defer logger.Sync()

	data, err := spectrum.Load(cfg.DataFile)
	if err != nil {
		return err
	}
	basis, em, fluxcal, err := emulator.Load(cfg.EmulatorFile)
	if err != nil {
		return err
	}
	phi, err := model.LoadPhi(cfg.PhiFile)
	if err != nil {
		return err
	}
	logger.Info("initialized",
		zap.Int("pixels", data.N()),
		zap.Int("eigenspectra", basis.M()),
		zap.Int("spectrum", cfg.SpectrumID),
		zap.Int("order", cfg.OrderID))

	order, err := model.NewOrder(model.OrderParams{
		SpectrumID: cfg.SpectrumID,
		OrderID:    cfg.OrderID,
		Data:       data,
		Basis:      basis,
		Emulator:   em,
		FluxCal:    fluxcal,
		NPoly:      cfg.ChebDegree,
		FixC0:      cfg.FixC0,
		DebugDir:   cfg.OutDir,
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	gridDim := len(cfg.Theta.Grid)
	ncheb := order.Cheb().NCoef()
	p := pool.New([]*model.Order{order}, gridDim, ncheb, cfg.FixC0, logger)
	defer p.Close()
	p.SetRegions(phi.Regions)

	if err := os.MkdirAll(cfg.OutDir, 0o755); err != nil {
		return err
	}
	progress := filepath.Join(cfg.OutDir, "progress.yaml")
	var lastLnp float64
	p.SetCheckpoint(cfg.IncrementalSave, func(n int) error {
		return os.WriteFile(progress, []byte(fmt.Sprintf("evals: %d\nlnprob: %g\n", n, lastLnp)), 0o644)
	})

	params := flatVector(cfg, phi)
	for i := 0; i < evals; i++ {
		lnp, err := p.LogProb(params)
		if err != nil {
			return err
		}
		lastLnp = lnp
		logger.Info("evaluated", zap.Int("eval", i+1), zap.Float64("lnprob", lnp))
	}

	plotPath := filepath.Join(cfg.OutDir, fmt.Sprintf("residuals_s%d_o%d.png", cfg.SpectrumID, cfg.OrderID))
	if err := diagnostics.ResidualPlot(data.Wl, data.Fl, order.ModelFlux(), plotPath); err != nil {
		return err
	}
	logger.Info("wrote residual plot", zap.String("path", plotPath))
	return nil
}

// flatVector assembles the sampler-layout parameter vector from the
// configured starting Theta and the persisted Phi record.
func flatVector(cfg *config.Config, phi *model.Phi) []float64 {
	var v []float64
	for _, t := range []config.ThetaStart{cfg.Theta, cfg.Theta2} {
		v = append(v, t.Grid...)
		v = append(v, t.Vz, t.Vsini, t.LogOmega)
	}
	v = append(v, phi.Cheb...)
	v = append(v, phi.SigAmp, phi.LogAmp, phi.Length)
	return v
}

func newLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
