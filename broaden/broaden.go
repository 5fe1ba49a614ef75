// Package broaden applies the velocity-space transformations that turn the
// high-resolution basis spectra into model spectra on the observed grid:
// relativistic Doppler shift, rotational (vsini) broadening by
// frequency-domain convolution, and spline resampling onto the data
// wavelength grid.
package broaden

import (
	"fmt"
	"math"

	"github.com/jason-neal/starfit/constants"
	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/interp"
)

// VsiniSkipKms is the rotational velocity below which broadening is
// skipped: the kernel width falls below the grid spacing of the synthetic
// library, so the convolution would only add ringing. The unconvolved
// basis is used directly in that regime.
const VsiniSkipKms = 0.2

// DopplerShift returns the wavelength grid shifted by the relativistic
// radial-velocity factor sqrt((c+vz)/(c-vz)). |vz| at or beyond c makes
// the factor non-finite and is a hard model error: a NaN grid would slip
// past every downstream range check, since NaN comparisons are all false.
func DopplerShift(wl []float64, vz float64) ([]float64, error) {
	factor := math.Sqrt((constants.CKms + vz) / (constants.CKms - vz))
	if math.IsNaN(factor) || math.IsInf(factor, 0) || factor == 0 {
		return nil, fmt.Errorf("vz %g km/s is not sublight: %w", vz, constants.ErrModel)
	}
	out := make([]float64, len(wl))
	for i, w := range wl {
		out[i] = w * factor
	}
	return out, nil
}

// Broaden convolves each basis row with the rotational broadening kernel
// for the given vsini (km/s), working in the frequency domain against the
// precomputed real-FFT frequency grid. A negative vsini is a hard model
// error. Below VsiniSkipKms the rows are returned unmodified.
func Broaden(rows [][]float64, freqs []float64, vsini float64) ([][]float64, error) {
	if vsini < 0 {
		return nil, fmt.Errorf("vsini must be non-negative, got %g: %w", vsini, constants.ErrModel)
	}
	if vsini < VsiniSkipKms {
		return rows, nil
	}
	npix := len(rows[0])
	if len(freqs) != npix/2+1 {
		return nil, fmt.Errorf("broaden: frequency grid has %d entries, want %d", len(freqs), npix/2+1)
	}
	taper := rotationalTaper(freqs, vsini)

	fft := fourier.NewFFT(npix)
	out := make([][]float64, len(rows))
	coeff := make([]complex128, npix/2+1)
	for r, row := range rows {
		if len(row) != npix {
			return nil, fmt.Errorf("broaden: row %d has %d pixels, want %d", r, len(row), npix)
		}
		coeff = fft.Coefficients(coeff, row)
		for i := range coeff {
			coeff[i] *= complex(taper[i], 0)
		}
		seq := fft.Sequence(nil, coeff)
		// gonum's FFT pair is unnormalized.
		for i := range seq {
			seq[i] /= float64(npix)
		}
		out[r] = seq
	}
	return out, nil
}

// rotationalTaper is the frequency response of the rotational broadening
// kernel, J1(u)/u - 3cos(u)/(2u^2) + 3sin(u)/(2u^3) with u = 2*pi*vsini*s.
// The zero-frequency (DC) term is 1 by construction, set explicitly to
// avoid the 0/0.
func rotationalTaper(freqs []float64, vsini float64) []float64 {
	sb := make([]float64, len(freqs))
	sb[0] = 1
	for i := 1; i < len(freqs); i++ {
		u := 2 * math.Pi * vsini * freqs[i]
		sb[i] = math.J1(u)/u - 3*math.Cos(u)/(2*u*u) + 3*math.Sin(u)/(2*u*u*u)
	}
	return sb
}

// Resample fits a cubic spline to each row against srcWl and evaluates it
// at dstWl, writing into dst (which must already hold len(rows) slices of
// len(dstWl)). dstWl extending beyond srcWl's support indicates an
// upstream configuration error and fails loudly as a model error; the
// spline is never extrapolated.
func Resample(srcWl []float64, rows [][]float64, dstWl []float64, dst [][]float64) error {
	lo, hi := srcWl[0], srcWl[len(srcWl)-1]
	if math.IsNaN(lo) || math.IsNaN(hi) {
		return fmt.Errorf("source grid endpoints are NaN: %w", constants.ErrModel)
	}
	if dstWl[0] < lo || dstWl[len(dstWl)-1] > hi {
		return fmt.Errorf("data grid (%.2f, %.2f) outside shifted model grid (%.2f, %.2f): %w",
			dstWl[0], dstWl[len(dstWl)-1], lo, hi, constants.ErrModel)
	}
	if len(dst) != len(rows) {
		return fmt.Errorf("broaden: got %d destination rows, want %d", len(dst), len(rows))
	}
	var spline interp.NotAKnotCubic
	for r, row := range rows {
		if err := spline.Fit(srcWl, row); err != nil {
			return fmt.Errorf("broaden: fitting spline to row %d: %w", r, err)
		}
		out := dst[r]
		if len(out) != len(dstWl) {
			return fmt.Errorf("broaden: destination row %d has %d pixels, want %d", r, len(out), len(dstWl))
		}
		for i, w := range dstWl {
			out[i] = spline.Predict(w)
		}
	}
	return nil
}
