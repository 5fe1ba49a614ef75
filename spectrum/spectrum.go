// Package spectrum holds the observed echelle-order data and the per-order
// multiplicative calibration polynomial.
package spectrum

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// DataSpectrum is one instrument-calibrated echelle order: wavelength, flux
// and per-pixel uncertainty. The arrays are read-only to the likelihood
// engine; masked pixels are dropped once at construction so the per-step
// hot path never re-masks.
type DataSpectrum struct {
	Wl    []float64
	Fl    []float64
	Sigma []float64
}

// New builds a DataSpectrum from raw arrays, keeping only the pixels where
// mask is true. A nil mask keeps every pixel.
func New(wl, fl, sigma []float64, mask []bool) (*DataSpectrum, error) {
	if len(fl) != len(wl) || len(sigma) != len(wl) {
		return nil, fmt.Errorf("spectrum: array lengths differ: wl=%d fl=%d sigma=%d", len(wl), len(fl), len(sigma))
	}
	if mask != nil && len(mask) != len(wl) {
		return nil, fmt.Errorf("spectrum: mask length %d != %d", len(mask), len(wl))
	}
	d := &DataSpectrum{}
	for i := range wl {
		if mask != nil && !mask[i] {
			continue
		}
		d.Wl = append(d.Wl, wl[i])
		d.Fl = append(d.Fl, fl[i])
		d.Sigma = append(d.Sigma, sigma[i])
	}
	if len(d.Wl) == 0 {
		return nil, fmt.Errorf("spectrum: all %d pixels masked", len(wl))
	}
	// The covariance assembly and resampling both scan the grid in
	// wavelength order.
	for i := 1; i < len(d.Wl); i++ {
		if d.Wl[i] <= d.Wl[i-1] {
			return nil, fmt.Errorf("spectrum: wavelengths not strictly increasing at pixel %d (%g after %g)", i, d.Wl[i], d.Wl[i-1])
		}
	}
	return d, nil
}

// N returns the number of unmasked pixels.
func (d *DataSpectrum) N() int { return len(d.Wl) }

type spectrumFile struct {
	Wl    []float64 `yaml:"wl"`
	Fl    []float64 `yaml:"fl"`
	Sigma []float64 `yaml:"sigma"`
	Mask  []bool    `yaml:"mask,omitempty"`
}

// Load reads one order from a YAML file with wl/fl/sigma (and optional
// mask) arrays.
func Load(path string) (*DataSpectrum, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("spectrum: reading %s: %w", path, err)
	}
	var f spectrumFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("spectrum: parsing %s: %w", path, err)
	}
	return New(f.Wl, f.Fl, f.Sigma, f.Mask)
}
