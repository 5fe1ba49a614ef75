// Package diagnostics captures offline-inspection artifacts for numerical
// failures and fit quality: covariance-matrix dumps when a Cholesky
// factorization fails, and residual plots of the model against the data.
package diagnostics

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/jason-neal/starfit/gonumext"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

// DumpMatrix writes a human-readable summary of a misbehaving matrix to
// dir/name.txt: dimensions, NaN/Inf presence, the diagonal range and the
// upper-left corner. It returns the file path so the error message can
// point at it.
func DumpMatrix(dir, name string, m mat.Matrix, params []float64) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("diagnostics: %w", err)
	}
	path := filepath.Join(dir, name+".txt")
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("diagnostics: %w", err)
	}
	defer f.Close()

	r, c := m.Dims()
	fmt.Fprintf(f, "dims: %d x %d\n", r, c)
	fmt.Fprintf(f, "nan or inf: %v\n", gonumext.NaNOrInf(m))
	if params != nil {
		fmt.Fprintf(f, "parameters: %v\n", params)
	}
	lo, hi := m.At(0, 0), m.At(0, 0)
	for i := 0; i < min(r, c); i++ {
		d := m.At(i, i)
		if d < lo {
			lo = d
		}
		if d > hi {
			hi = d
		}
	}
	fmt.Fprintf(f, "diagonal range: [%.6e, %.6e]\n", lo, hi)
	corner := min(6, min(r, c))
	fmt.Fprintf(f, "upper-left %d x %d corner:\n", corner, corner)
	for i := 0; i < corner; i++ {
		for j := 0; j < corner; j++ {
			fmt.Fprintf(f, "% .6e ", m.At(i, j))
		}
		fmt.Fprintln(f)
	}
	return path, nil
}

// ResidualPlot saves a plot of the observed flux, the net model flux and
// their residual against wavelength.
func ResidualPlot(wl, fl, model []float64, path string) error {
	if len(fl) != len(wl) || len(model) != len(wl) {
		return fmt.Errorf("diagnostics: array lengths differ: wl=%d fl=%d model=%d", len(wl), len(fl), len(model))
	}
	p := plot.New()
	p.Title.Text = "model residuals"
	p.X.Label.Text = "wavelength [A]"
	p.Y.Label.Text = "flux"

	data := make(plotter.XYs, len(wl))
	mdl := make(plotter.XYs, len(wl))
	res := make(plotter.XYs, len(wl))
	for i := range wl {
		data[i] = plotter.XY{X: wl[i], Y: fl[i]}
		mdl[i] = plotter.XY{X: wl[i], Y: model[i]}
		res[i] = plotter.XY{X: wl[i], Y: fl[i] - model[i]}
	}
	for _, series := range []struct {
		name string
		xys  plotter.XYs
	}{{"data", data}, {"model", mdl}, {"residual", res}} {
		line, err := plotter.NewLine(series.xys)
		if err != nil {
			return fmt.Errorf("diagnostics: %w", err)
		}
		p.Add(line)
		p.Legend.Add(series.name, line)
	}
	if err := p.Save(8*vg.Inch, 4*vg.Inch, path); err != nil {
		return fmt.Errorf("diagnostics: %w", err)
	}
	return nil
}
