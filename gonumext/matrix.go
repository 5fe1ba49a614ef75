// Package gonumext collects small matrix helpers on top of gonum that the
// likelihood engine needs in several places.
package gonumext

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// Ones returns a length-n slice filled with ones.
func Ones(n int) []float64 {
	return Full(n, 1.)
}

// Full returns a length-n slice filled with value.
func Full(n int, value float64) []float64 {
	data := make([]float64, n)
	for index := range data {
		data[index] = value
	}
	return data
}

// NaNOrInf checks if there are any NaN or Inf entries in matrix.
func NaNOrInf(matrix mat.Matrix) bool {
	m, n := matrix.Dims()
	for row := 0; row < m; row++ {
		for col := 0; col < n; col++ {
			if math.IsNaN(matrix.At(row, col)) || math.IsInf(matrix.At(row, col), 0) {
				return true
			}
		}
	}
	return false
}

// DiagScaledT returns diag(d) * Rᵀ where R holds m rows of length n, i.e.
// the (n by m) matrix with entry (i, j) = d[i] * rows[j][i]. This is the
// shape of the projected eigenspectra design matrix.
func DiagScaledT(d []float64, rows [][]float64) *mat.Dense {
	n := len(d)
	m := len(rows)
	out := mat.NewDense(n, m, nil)
	for j, row := range rows {
		if len(row) != n {
			panic("gonumext: row length mismatch in DiagScaledT")
		}
		for i := 0; i < n; i++ {
			out.Set(i, j, d[i]*row[i])
		}
	}
	return out
}

// AddDiag adds value[i] to the i-th diagonal entry of the symmetric matrix.
func AddDiag(s *mat.SymDense, values []float64) {
	n := s.SymmetricDim()
	if len(values) != n {
		panic("gonumext: diagonal length mismatch in AddDiag")
	}
	for i := 0; i < n; i++ {
		s.SetSym(i, i, s.At(i, i)+values[i])
	}
}
