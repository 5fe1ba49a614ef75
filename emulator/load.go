package emulator

import (
	"fmt"
	"os"

	"gonum.org/v1/gonum/mat"
	"gopkg.in/yaml.v3"
)

type emulatorFile struct {
	Wl           []float64   `yaml:"wl"`
	FluxMean     []float64   `yaml:"flux_mean"`
	FluxStd      []float64   `yaml:"flux_std"`
	Eigenspectra [][]float64 `yaml:"eigenspectra"`
	DV           float64     `yaml:"dv"`
	Axes         [][]float64 `yaml:"axes"`
	Weights      [][]float64 `yaml:"weights"`
	Cov          [][]float64 `yaml:"cov"`
	Flux         []float64   `yaml:"flux,omitempty"`
}

// Load reads a trained emulator exchange file: the PCA basis bundle, the
// per-node weight vectors over a rectilinear grid, the weight covariance
// and optionally per-node bolometric fluxes. Grid training itself is
// upstream tooling's concern.
func Load(path string) (*PCABasis, *GridEmulator, *GridFlux, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("emulator: reading %s: %w", path, err)
	}
	var f emulatorFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, nil, nil, fmt.Errorf("emulator: parsing %s: %w", path, err)
	}
	basis, err := NewPCABasis(f.Wl, f.FluxMean, f.FluxStd, f.Eigenspectra, f.DV)
	if err != nil {
		return nil, nil, nil, err
	}
	m := basis.M()
	if len(f.Cov) != m {
		return nil, nil, nil, fmt.Errorf("emulator: covariance has %d rows, want %d", len(f.Cov), m)
	}
	cov := mat.NewSymDense(m, nil)
	for i, row := range f.Cov {
		if len(row) != m {
			return nil, nil, nil, fmt.Errorf("emulator: covariance row %d has %d entries, want %d", i, len(row), m)
		}
		for j := i; j < m; j++ {
			cov.SetSym(i, j, row[j])
		}
	}
	grid, err := NewGridEmulator(f.Axes, f.Weights, cov)
	if err != nil {
		return nil, nil, nil, err
	}
	var flux *GridFlux
	if len(f.Flux) > 0 {
		if flux, err = NewGridFlux(f.Axes, f.Flux); err != nil {
			return nil, nil, nil, err
		}
	}
	return basis, grid, flux, nil
}
