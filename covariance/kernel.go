// Package covariance builds the correlated-noise kernel over the data
// wavelength grid and assembles it into the dense per-order covariance
// matrix.
package covariance

import (
	"math"

	"github.com/jason-neal/starfit/constants"
)

// Kernel evaluates the covariance between two wavelength pixels.
type Kernel func(wl0, wl1 float64) float64

// velocityDist is the velocity separation in km/s between two wavelengths,
// measured at their midpoint.
func velocityDist(wl0, wl1 float64) float64 {
	return constants.CKms * 2 * math.Abs(wl0-wl1) / (wl0 + wl1)
}

// Global returns the stationary correlated-noise kernel: a squared
// exponential in velocity space with amplitude amp and length scale l
// (km/s), Hann-tapered to zero at 6 length scales. Correlations beyond six
// length scales are treated as numerically negligible, which is what keeps
// the assembled matrix cheap.
func Global(amp, l float64) Kernel {
	r0 := MaxRadius(l)
	a2 := amp * amp
	return func(wl0, wl1 float64) float64 {
		r := velocityDist(wl0, wl1)
		if r >= r0 {
			return 0
		}
		taper := 0.5 + 0.5*math.Cos(math.Pi*r/r0)
		return taper * a2 * math.Exp(-0.5*r*r/(l*l))
	}
}

// Local returns a line-defect region kernel: a Gaussian of width sigma
// (km/s) in velocity space centred on wavelength mu, tapered to zero once
// either pixel is more than 4 sigma from the centre.
func Local(amp, mu, sigma float64) Kernel {
	r0 := 4 * sigma
	a2 := amp * amp
	return func(wl0, wl1 float64) float64 {
		rx0 := constants.CKms * math.Abs(wl0-mu) / mu
		rx1 := constants.CKms * math.Abs(wl1-mu) / mu
		rTap := math.Max(rx0, rx1)
		if rTap >= r0 {
			return 0
		}
		taper := 0.5 + 0.5*math.Cos(math.Pi*rTap/r0)
		d := constants.CKms * (wl0 - wl1) / mu
		return taper * a2 * math.Exp(-0.5*d*d/(sigma*sigma))
	}
}

// Sum composes kernels additively.
func Sum(kernels ...Kernel) Kernel {
	return func(wl0, wl1 float64) float64 {
		var total float64
		for _, k := range kernels {
			total += k(wl0, wl1)
		}
		return total
	}
}

// MaxRadius is the correlation cutoff radius for a given length scale.
func MaxRadius(l float64) float64 { return 6 * l }
