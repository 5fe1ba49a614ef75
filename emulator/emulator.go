// Package emulator defines the PCA spectral-emulator contract the
// likelihood engine consumes: a low-rank basis of eigenspectra on a shared
// high-resolution wavelength grid, plus an interpolator that maps physical
// grid parameters to a mean vector and covariance matrix over the basis
// weights.
//
// How the basis is trained and how raw synthetic grids are parsed is not
// this package's concern; it only fixes the shapes the engine depends on.
package emulator

import (
	"fmt"

	"github.com/jason-neal/starfit/constants"
	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/mat"
)

// ErrOutOfGrid is returned when an interpolation is requested outside the
// trained parameter grid. The emulator never extrapolates. It wraps the
// shared model-error taxonomy so the state machine maps it to a rejected
// proposal rather than a crash.
var ErrOutOfGrid = fmt.Errorf("parameters outside trained grid: %w", constants.ErrModel)

// Emulator interpolates the PCA weight distribution at a physical grid
// point: a length-M mean vector and an M by M covariance over the basis
// weights.
type Emulator interface {
	Interpolate(gridParams []float64) (mu *mat.VecDense, cov *mat.SymDense, err error)
}

// FluxCalibrator interpolates the bolometric flux of a model atmosphere at
// a physical grid point. The binary model uses the ratio of the two
// components' values as its luminosity-ratio scalar.
type FluxCalibrator interface {
	BolometricFlux(gridParams []float64) (float64, error)
}

// PCABasis is the immutable per-order basis bundle: the mean flux, flux
// standard deviation and M eigenspectra, all sampled on a shared
// high-resolution log-lambda wavelength grid with uniform velocity spacing
// DV (km/s per pixel). The real-FFT frequency grid used for rotational
// broadening is precomputed at construction.
type PCABasis struct {
	Wl           []float64
	FluxMean     []float64
	FluxStd      []float64
	Eigenspectra [][]float64
	DV           float64

	freqs []float64
}

// NewPCABasis validates the array shapes and precomputes the FFT frequency
// grid.
func NewPCABasis(wl, fluxMean, fluxStd []float64, eigenspectra [][]float64, dv float64) (*PCABasis, error) {
	npix := len(wl)
	if len(fluxMean) != npix || len(fluxStd) != npix {
		return nil, fmt.Errorf("emulator: basis vectors must match wl length %d: mean=%d std=%d", npix, len(fluxMean), len(fluxStd))
	}
	for i, eig := range eigenspectra {
		if len(eig) != npix {
			return nil, fmt.Errorf("emulator: eigenspectrum %d has length %d, want %d", i, len(eig), npix)
		}
	}
	if dv <= 0 {
		return nil, fmt.Errorf("emulator: velocity spacing must be positive, got %g", dv)
	}
	b := &PCABasis{
		Wl:           wl,
		FluxMean:     fluxMean,
		FluxStd:      fluxStd,
		Eigenspectra: eigenspectra,
		DV:           dv,
	}
	// Real-FFT frequencies in cycles per (km/s), matching the rfftfreq
	// convention: s_i = i / (npix * dv) for i in [0, npix/2].
	fft := fourier.NewFFT(npix)
	b.freqs = make([]float64, npix/2+1)
	for i := range b.freqs {
		b.freqs[i] = fft.Freq(i) / dv
	}
	return b, nil
}

// M returns the number of eigenspectra.
func (b *PCABasis) M() int { return len(b.Eigenspectra) }

// Npix returns the number of high-resolution pixels.
func (b *PCABasis) Npix() int { return len(b.Wl) }

// Freqs returns the precomputed real-FFT frequency grid in 1/(km/s).
func (b *PCABasis) Freqs() []float64 { return b.freqs }

// Rows returns the stacked basis rows in broadening order: mean flux, flux
// std, then each eigenspectrum. The rows alias the basis storage and must
// be treated as read-only.
func (b *PCABasis) Rows() [][]float64 {
	rows := make([][]float64, 0, 2+b.M())
	rows = append(rows, b.FluxMean, b.FluxStd)
	rows = append(rows, b.Eigenspectra...)
	return rows
}
