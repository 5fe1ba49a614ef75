// Package constants holds the physical constants and the shared error
// taxonomy used across the spectral model.
package constants

import "errors"

// Physical constants.
const (
	// CKms is the speed of light in km/s.
	CKms = 2.99792458e5
)

// ErrModel marks a proposed parameter set that produces an invalid model:
// negative rotational velocities, emulator queries outside the trained
// grid, or a data wavelength grid that falls outside the shifted
// high-resolution grid. Callers at the sampler boundary map it to a
// log-probability of -Inf rather than terminating the run.
var ErrModel = errors.New("invalid model parameters")
