package spectrum

import (
	"fmt"

	"github.com/jason-neal/starfit/gonumext"
)

// Chebyshev is the low-order multiplicative calibration polynomial for one
// echelle order, evaluated on the data wavelength grid. The correction
// vector absorbs instrumental continuum shape that the physical model does
// not describe.
//
// Only the nuisance-parameter update path mutates it; the previous
// correction vector is retained so a rejected proposal can be rolled back
// without re-evaluating the polynomial.
type Chebyshev struct {
	x     []float64 // data wavelengths scaled onto [-1, 1]
	npoly int
	fixC0 bool

	k     []float64 // current correction vector
	kLast []float64 // last accepted correction vector
}

// NewChebyshev sets up a degree-(npoly-1) Chebyshev correction over wl.
// With fixC0 the zeroth (DC) coefficient is pinned to 1 and Update expects
// npoly-1 coefficients for T_1..T_{npoly-1}.
func NewChebyshev(wl []float64, npoly int, fixC0 bool) *Chebyshev {
	if npoly < 1 {
		panic("spectrum: npoly must be at least 1")
	}
	lo, hi := wl[0], wl[len(wl)-1]
	c := &Chebyshev{
		x:     make([]float64, len(wl)),
		npoly: npoly,
		fixC0: fixC0,
		k:     gonumext.Ones(len(wl)),
		kLast: gonumext.Ones(len(wl)),
	}
	for i, w := range wl {
		c.x[i] = 2*(w-lo)/(hi-lo) - 1
	}
	return c
}

// NCoef returns the number of coefficients Update expects.
func (c *Chebyshev) NCoef() int {
	if c.fixC0 {
		return c.npoly - 1
	}
	return c.npoly
}

// FixC0 reports whether the DC coefficient is pinned to 1.
func (c *Chebyshev) FixC0() bool { return c.fixC0 }

// Update recomputes the correction vector from the given coefficients,
// retaining the previous vector for rollback. A coefficient count mismatch
// is a programmer error, not a rejectable proposal.
func (c *Chebyshev) Update(coef []float64) error {
	if len(coef) != c.NCoef() {
		return fmt.Errorf("spectrum: got %d chebyshev coefficients, want %d", len(coef), c.NCoef())
	}
	full := coef
	if c.fixC0 {
		full = append([]float64{1}, coef...)
	}
	c.k, c.kLast = c.kLast, c.k
	for i, x := range c.x {
		// Chebyshev recurrence: T_0 = 1, T_1 = x, T_n = 2x T_{n-1} - T_{n-2}.
		tPrev, t := 1., x
		sum := full[0]
		for j := 1; j < len(full); j++ {
			sum += full[j] * t
			tPrev, t = t, 2*x*t-tPrev
		}
		c.k[i] = sum
	}
	return nil
}

// Revert restores the last accepted correction vector.
func (c *Chebyshev) Revert() {
	c.k, c.kLast = c.kLast, c.k
}

// K returns the current correction vector. Callers must not mutate it.
func (c *Chebyshev) K() []float64 { return c.k }
