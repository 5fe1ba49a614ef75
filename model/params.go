// Package model evaluates the Gaussian-process likelihood of a two-component
// (binary star) spectral model against one echelle order, managing the
// propose/accept/reject lifecycle of all derived quantities so an MCMC
// sampler can drive it one scalar log-probability at a time.
package model

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Theta holds the physical parameters of both stellar components. Each
// component has its own emulator grid coordinates, systemic velocity vz
// (km/s), projected rotational velocity vsini (km/s, must be non-negative)
// and base-10 log of the luminosity scaling.
type Theta struct {
	Grid     []float64
	Vz       float64
	Vsini    float64
	LogOmega float64

	Grid2     []float64
	Vz2       float64
	Vsini2    float64
	LogOmega2 float64
}

// Region parameterizes one local line-defect kernel: log10 amplitude,
// central wavelength and velocity width in km/s.
type Region struct {
	LogAmp float64 `yaml:"logAmp"`
	Mu     float64 `yaml:"mu"`
	Sigma  float64 `yaml:"sigma"`
}

// Phi holds the per-order nuisance parameters: the Chebyshev calibration
// coefficients, the three correlated-noise kernel hyperparameters and any
// local regions. SigAmp scales the per-pixel instrument noise; LogAmp and
// Length parameterize the global correlated kernel.
type Phi struct {
	Spectrum int       `yaml:"spectrum"`
	Order    int       `yaml:"order"`
	FixC0    bool      `yaml:"fix_c0"`
	Cheb     []float64 `yaml:"cheb"`
	SigAmp   float64   `yaml:"sigAmp"`
	LogAmp   float64   `yaml:"logAmp"`
	Length   float64   `yaml:"l"`
	Regions  []Region  `yaml:"regions,omitempty"`
}

// LoadPhi reads a persisted nuisance-parameter record.
func LoadPhi(path string) (*Phi, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("model: reading %s: %w", path, err)
	}
	var p Phi
	if err := yaml.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("model: parsing %s: %w", path, err)
	}
	return &p, nil
}

// Save writes the nuisance-parameter record so a later run reproduces the
// identical covariance state.
func (p *Phi) Save(path string) error {
	raw, err := yaml.Marshal(p)
	if err != nil {
		return fmt.Errorf("model: encoding phi: %w", err)
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return fmt.Errorf("model: writing %s: %w", path, err)
	}
	return nil
}

// SplitVector unpacks the sampler's flat parameter vector into Theta and
// Phi. The layout is [grid1, vz1, vsini1, logOmega1, grid2, vz2, vsini2,
// logOmega2, cheb..., sigAmp, logAmp, l] with gridDim coordinates per
// component and ncheb calibration coefficients.
func SplitVector(v []float64, gridDim, ncheb int, fixC0 bool) (Theta, Phi, error) {
	want := 2*(gridDim+3) + ncheb + 3
	if len(v) != want {
		return Theta{}, Phi{}, fmt.Errorf("model: parameter vector has %d entries, want %d", len(v), want)
	}
	i := 0
	take := func(n int) []float64 {
		out := v[i : i+n]
		i += n
		return out
	}
	t := Theta{Grid: take(gridDim)}
	t.Vz, t.Vsini, t.LogOmega = v[i], v[i+1], v[i+2]
	i += 3
	t.Grid2 = take(gridDim)
	t.Vz2, t.Vsini2, t.LogOmega2 = v[i], v[i+1], v[i+2]
	i += 3
	p := Phi{FixC0: fixC0, Cheb: take(ncheb)}
	p.SigAmp, p.LogAmp, p.Length = v[i], v[i+1], v[i+2]
	return t, p, nil
}
