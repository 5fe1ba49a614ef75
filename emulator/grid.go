package emulator

import (
	"fmt"
	"sort"

	"gonum.org/v1/gonum/mat"
)

// GridEmulator is a concrete Emulator over a rectilinear parameter grid. It
// multilinearly interpolates the weight-mean vectors stored at the grid
// nodes and reports a fixed weight covariance. Queries outside the grid
// return ErrOutOfGrid.
type GridEmulator struct {
	axes    [][]float64 // strictly increasing per-dimension coordinates
	weights [][]float64 // one length-M vector per node, row-major over axes
	cov     *mat.SymDense
	m       int
}

// NewGridEmulator builds a grid emulator. axes holds the strictly
// increasing coordinate values per parameter dimension; weights holds one length-M weight vector
// per grid node, row-major with the last axis varying fastest; cov is the
// (parameter-independent) M by M weight covariance.
func NewGridEmulator(axes [][]float64, weights [][]float64, cov *mat.SymDense) (*GridEmulator, error) {
	nodes := 1
	for d, ax := range axes {
		if len(ax) < 2 {
			return nil, fmt.Errorf("emulator: axis %d needs at least 2 points, got %d", d, len(ax))
		}
		for i := 1; i < len(ax); i++ {
			// Equal neighbors would put a zero-width cell in the
			// interpolation denominator.
			if ax[i] <= ax[i-1] {
				return nil, fmt.Errorf("emulator: axis %d is not strictly increasing at index %d", d, i)
			}
		}
		nodes *= len(ax)
	}
	if len(weights) != nodes {
		return nil, fmt.Errorf("emulator: got %d weight vectors, grid has %d nodes", len(weights), nodes)
	}
	m := len(weights[0])
	for i, w := range weights {
		if len(w) != m {
			return nil, fmt.Errorf("emulator: weight vector %d has length %d, want %d", i, len(w), m)
		}
	}
	if cov.SymmetricDim() != m {
		return nil, fmt.Errorf("emulator: covariance is %d by %d, want %d", cov.SymmetricDim(), cov.SymmetricDim(), m)
	}
	return &GridEmulator{axes: axes, weights: weights, cov: cov, m: m}, nil
}

// Interpolate implements Emulator by multilinear interpolation over the
// grid cell containing params.
func (g *GridEmulator) Interpolate(params []float64) (*mat.VecDense, *mat.SymDense, error) {
	if len(params) != len(g.axes) {
		return nil, nil, fmt.Errorf("emulator: got %d parameters, grid has %d dimensions", len(params), len(g.axes))
	}
	ndim := len(g.axes)
	lower := make([]int, ndim)
	frac := make([]float64, ndim)
	for d, p := range params {
		ax := g.axes[d]
		if p < ax[0] || p > ax[len(ax)-1] {
			return nil, nil, fmt.Errorf("axis %d value %g outside [%g, %g]: %w", d, p, ax[0], ax[len(ax)-1], ErrOutOfGrid)
		}
		i := sort.SearchFloat64s(ax, p)
		if i > 0 {
			i--
		}
		if i == len(ax)-1 {
			i--
		}
		lower[d] = i
		frac[d] = (p - ax[i]) / (ax[i+1] - ax[i])
	}

	mu := mat.NewVecDense(g.m, nil)
	// Accumulate the 2^ndim cell corners weighted by the product of the
	// per-dimension fractions.
	for corner := 0; corner < 1<<ndim; corner++ {
		w := 1.
		flat := 0
		for d := 0; d < ndim; d++ {
			idx := lower[d]
			if corner&(1<<d) != 0 {
				idx++
				w *= frac[d]
			} else {
				w *= 1 - frac[d]
			}
			flat = flat*len(g.axes[d]) + idx
		}
		if w == 0 {
			continue
		}
		node := g.weights[flat]
		for k := 0; k < g.m; k++ {
			mu.SetVec(k, mu.AtVec(k)+w*node[k])
		}
	}

	cov := mat.NewSymDense(g.m, nil)
	cov.CopySym(g.cov)
	return mu, cov, nil
}

// GridFlux is a FluxCalibrator over the same rectilinear grid layout as
// GridEmulator, with one scalar bolometric flux per node.
type GridFlux struct {
	grid *GridEmulator
}

// NewGridFlux wraps per-node scalar fluxes in a FluxCalibrator.
func NewGridFlux(axes [][]float64, flux []float64) (*GridFlux, error) {
	weights := make([][]float64, len(flux))
	for i, f := range flux {
		weights[i] = []float64{f}
	}
	g, err := NewGridEmulator(axes, weights, mat.NewSymDense(1, []float64{0}))
	if err != nil {
		return nil, err
	}
	return &GridFlux{grid: g}, nil
}

// BolometricFlux implements FluxCalibrator.
func (g *GridFlux) BolometricFlux(params []float64) (float64, error) {
	mu, _, err := g.grid.Interpolate(params)
	if err != nil {
		return 0, err
	}
	return mu.AtVec(0), nil
}
