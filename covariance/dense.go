package covariance

import "gonum.org/v1/gonum/mat"

// Dense assembles the symmetric kernel matrix over the data wavelength
// grid. Pixel pairs separated by more than maxR km/s are left at zero
// without evaluating the kernel; since the grid is ordered, each row's scan
// stops at the first pixel beyond the cutoff.
func Dense(wls []float64, k Kernel, maxR float64) *mat.SymDense {
	n := len(wls)
	out := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			if velocityDist(wls[i], wls[j]) > maxR {
				break
			}
			out.SetSym(i, j, k(wls[i], wls[j]))
		}
	}
	return out
}
