package model_test

import (
	"math"
	"path/filepath"
	"testing"

	"github.com/jason-neal/starfit/constants"
	"github.com/jason-neal/starfit/emulator"
	"github.com/jason-neal/starfit/model"
	"github.com/jason-neal/starfit/spectrum"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"gonum.org/v1/gonum/mat"
)

const (
	fixtureNpix = 512
	fixtureDV   = 2.0 // km/s per pixel
)

// fixtureBasis builds a synthetic PCA basis: a continuum with two
// absorption lines as the mean flux, a flat flux std, and two smooth
// eigenspectra.
func fixtureBasis(t *testing.T) *emulator.PCABasis {
	t.Helper()
	wl := make([]float64, fixtureNpix)
	for i := range wl {
		wl[i] = 5000 * math.Exp(float64(i)*fixtureDV/constants.CKms)
	}
	gauss := func(w, c, s float64) float64 {
		return math.Exp(-0.5 * (w - c) * (w - c) / (s * s))
	}
	fluxMean := make([]float64, fixtureNpix)
	fluxStd := make([]float64, fixtureNpix)
	e0 := make([]float64, fixtureNpix)
	e1 := make([]float64, fixtureNpix)
	for i, w := range wl {
		fluxMean[i] = 1 - 0.5*gauss(w, 5007.5, 0.2) - 0.3*gauss(w, 5009.5, 0.3)
		fluxStd[i] = 0.05
		e0[i] = 0.3 * gauss(w, 5008, 0.25)
		e1[i] = 0.1 * math.Sin(2*math.Pi*w/3)
	}
	basis, err := emulator.NewPCABasis(wl, fluxMean, fluxStd, [][]float64{e0, e1}, fixtureDV)
	require.NoError(t, err)
	return basis
}

func fixtureEmulator(t *testing.T) (*emulator.GridEmulator, *emulator.GridFlux) {
	t.Helper()
	axes := [][]float64{{5000, 7000}, {3.0, 5.0}, {-1.0, 1.0}}
	var weights [][]float64
	var flux []float64
	for _, temp := range axes[0] {
		for _, logg := range axes[1] {
			for _, feh := range axes[2] {
				weights = append(weights, []float64{temp / 10000, 0.1 * (logg + feh)})
				flux = append(flux, temp*temp)
			}
		}
	}
	cov := mat.NewSymDense(2, []float64{1e-4, 0, 0, 1e-4})
	em, err := emulator.NewGridEmulator(axes, weights, cov)
	require.NoError(t, err)
	fc, err := emulator.NewGridFlux(axes, flux)
	require.NoError(t, err)
	return em, fc
}

func truthTheta() model.Theta {
	return model.Theta{
		Grid: []float64{5500, 4.0, 0.0}, Vz: 30, Vsini: 5, LogOmega: 0,
		Grid2: []float64{5600, 4.2, 0.1}, Vz2: -20, Vsini2: 8, LogOmega2: -0.3,
	}
}

func truthPhi() model.Phi {
	return model.Phi{
		FixC0:  true,
		Cheb:   []float64{0.01, -0.005, 0.002},
		SigAmp: 1,
		LogAmp: -8, // effectively a diagonal-only covariance
		Length: 10,
	}
}

// dataGrid is a 50-pixel observed grid strictly inside the shifted basis
// support.
func dataGrid() []float64 {
	wl := make([]float64, 50)
	for i := range wl {
		wl[i] = 5006 + float64(i)*(5011-5006)/49
	}
	return wl
}

// fixtureOrder generates a noiseless synthetic spectrum from the truth
// parameters and returns an order evaluating against it.
func fixtureOrder(t *testing.T) *model.Order {
	t.Helper()
	basis := fixtureBasis(t)
	em, fc := fixtureEmulator(t)
	wl := dataGrid()
	sigma := make([]float64, len(wl))
	for i := range sigma {
		sigma[i] = 0.01
	}

	// First pass with placeholder flux, just to extract the model flux at
	// the truth parameters.
	placeholder, err := spectrum.New(wl, make([]float64, len(wl)), sigma, nil)
	require.NoError(t, err)
	gen, err := model.NewOrder(model.OrderParams{
		Data: placeholder, Basis: basis, Emulator: em, FluxCal: fc,
		NPoly: 4, FixC0: true, DebugDir: t.TempDir(),
	})
	require.NoError(t, err)
	_, err = gen.LogProb(truthTheta(), truthPhi())
	require.NoError(t, err)

	data, err := spectrum.New(wl, gen.ModelFlux(), sigma, nil)
	require.NoError(t, err)
	order, err := model.NewOrder(model.OrderParams{
		Data: data, Basis: basis, Emulator: em, FluxCal: fc,
		NPoly: 4, FixC0: true, DebugDir: t.TempDir(),
	})
	require.NoError(t, err)
	return order
}

func TestLogProbDeterministic(t *testing.T) {
	order := fixtureOrder(t)
	lnp1, err := order.LogProb(truthTheta(), truthPhi())
	require.NoError(t, err)
	require.False(t, math.IsInf(lnp1, 0))

	lnp2, err := order.LogProb(truthTheta(), truthPhi())
	require.NoError(t, err)
	require.Equal(t, lnp1, lnp2, "repeated evaluation must not bleed state")
}

func TestNegativeVsiniRejects(t *testing.T) {
	order := fixtureOrder(t)
	for _, mutate := range []func(*model.Theta){
		func(th *model.Theta) { th.Vsini = -0.1 },
		func(th *model.Theta) { th.Vsini2 = -4 },
	} {
		th := truthTheta()
		mutate(&th)
		lnp, err := order.LogProb(th, truthPhi())
		require.NoError(t, err)
		require.True(t, math.IsInf(lnp, -1))
	}
}

func TestSuperluminalVzRejects(t *testing.T) {
	order := fixtureOrder(t)
	lnpTruth, err := order.LogProb(truthTheta(), truthPhi())
	require.NoError(t, err)

	// |vz| >= c makes the Doppler factor non-finite; a NaN model grid must
	// never reach the likelihood as a finite number.
	for _, vz := range []float64{4e5, -4e5} {
		th := truthTheta()
		th.Vz = vz
		lnp, err := order.LogProb(th, truthPhi())
		require.NoError(t, err)
		require.True(t, math.IsInf(lnp, -1), "vz=%g must be rejected", vz)

		th = truthTheta()
		th.Vz2 = vz
		lnp, err = order.LogProb(th, truthPhi())
		require.NoError(t, err)
		require.True(t, math.IsInf(lnp, -1), "vz2=%g must be rejected", vz)
	}

	// The rejection must leave the accepted snapshot intact.
	lnpAfter, err := order.Evaluate()
	require.NoError(t, err)
	require.Equal(t, lnpTruth, lnpAfter)
}

func TestOutOfGridRejects(t *testing.T) {
	order := fixtureOrder(t)
	th := truthTheta()
	th.Grid = []float64{9000, 4.0, 0.0}
	lnp, err := order.LogProb(th, truthPhi())
	require.NoError(t, err)
	require.True(t, math.IsInf(lnp, -1))
}

func TestResampleOutOfBoundsRejects(t *testing.T) {
	order := fixtureOrder(t)
	th := truthTheta()
	th.Vz = 3000 // shifts the model grid clear of the data grid
	lnp, err := order.LogProb(th, truthPhi())
	require.NoError(t, err)
	require.True(t, math.IsInf(lnp, -1))
}

func TestNonPositiveSigAmpSoftRejects(t *testing.T) {
	order := fixtureOrder(t)
	for _, sigAmp := range []float64{0, -1} {
		phi := truthPhi()
		phi.SigAmp = sigAmp
		lnp, err := order.LogProb(truthTheta(), phi)
		require.NoError(t, err, "soft prior boundary must not raise")
		require.True(t, math.IsInf(lnp, -1))
	}
}

func TestRejectionRestoresSnapshot(t *testing.T) {
	order := fixtureOrder(t)
	lnp1, err := order.LogProb(truthTheta(), truthPhi())
	require.NoError(t, err)

	// Hard rejection: the derived state must roll back so a direct
	// re-evaluation reproduces the accepted likelihood without any update.
	bad := truthTheta()
	bad.Vsini = -1
	_, err = order.LogProb(bad, truthPhi())
	require.NoError(t, err)
	lnp2, err := order.Evaluate()
	require.NoError(t, err)
	require.Equal(t, lnp1, lnp2)

	// Soft rejection must restore both parameter groups the same way.
	phi := truthPhi()
	phi.SigAmp = -2
	_, err = order.LogProb(truthTheta(), phi)
	require.NoError(t, err)
	lnp3, err := order.Evaluate()
	require.NoError(t, err)
	require.Equal(t, lnp1, lnp3)

	// And a subsequent full evaluation behaves as if the rejected
	// proposals never happened.
	lnp4, err := order.LogProb(truthTheta(), truthPhi())
	require.NoError(t, err)
	require.Equal(t, lnp1, lnp4)
}

func TestTruthBeatsPerturbed(t *testing.T) {
	order := fixtureOrder(t)
	lnpTruth, err := order.LogProb(truthTheta(), truthPhi())
	require.NoError(t, err)

	perturbations := map[string]func(*model.Theta, *model.Phi){
		"vz":       func(th *model.Theta, _ *model.Phi) { th.Vz += 5 },
		"vz2":      func(th *model.Theta, _ *model.Phi) { th.Vz2 -= 5 },
		"vsini":    func(th *model.Theta, _ *model.Phi) { th.Vsini += 10 },
		"logOmega": func(th *model.Theta, _ *model.Phi) { th.LogOmega += 0.2 },
		"temp":     func(th *model.Theta, _ *model.Phi) { th.Grid[0] += 500 },
		"cheb0":    func(_ *model.Theta, p *model.Phi) { p.Cheb[0] += 0.1 },
	}
	for name, mutate := range perturbations {
		th, phi := truthTheta(), truthPhi()
		th.Grid = append([]float64(nil), th.Grid...)
		th.Grid2 = append([]float64(nil), th.Grid2...)
		phi.Cheb = append([]float64(nil), phi.Cheb...)
		mutate(&th, &phi)
		lnp, err := order.LogProb(th, phi)
		require.NoError(t, err)
		require.Greater(t, lnpTruth, lnp, "perturbing %s must lower the likelihood", name)
	}
}

func TestBelowThresholdVsiniMatchesUnbroadened(t *testing.T) {
	order := fixtureOrder(t)
	th := truthTheta()
	th.Vsini = 0.1
	lnpA, err := order.LogProb(th, truthPhi())
	require.NoError(t, err)

	th.Vsini = 0.05
	lnpB, err := order.LogProb(th, truthPhi())
	require.NoError(t, err)
	// Below the skip threshold broadening is a no-op, so any sub-threshold
	// vsini yields the identical model.
	require.Equal(t, lnpA, lnpB)
}

func TestPhiRecordRoundTrip(t *testing.T) {
	order := fixtureOrder(t)
	phi := truthPhi()
	phi.Spectrum = 0
	phi.Order = 22
	phi.Regions = []model.Region{{LogAmp: -7, Mu: 5008.2, Sigma: 4}}

	lnp1, err := order.LogProb(truthTheta(), phi)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "phi.yaml")
	require.NoError(t, phi.Save(path))
	loaded, err := model.LoadPhi(path)
	require.NoError(t, err)
	require.Equal(t, &phi, loaded)

	lnp2, err := order.LogProb(truthTheta(), *loaded)
	require.NoError(t, err)
	require.Equal(t, lnp1, lnp2, "reloaded record must reproduce the covariance state")
}

func TestHardRejectionLogsAtWarn(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	basis := fixtureBasis(t)
	em, fc := fixtureEmulator(t)
	wl := dataGrid()
	sigma := make([]float64, len(wl))
	for i := range sigma {
		sigma[i] = 0.01
	}
	data, err := spectrum.New(wl, make([]float64, len(wl)), sigma, nil)
	require.NoError(t, err)
	order, err := model.NewOrder(model.OrderParams{
		Data: data, Basis: basis, Emulator: em, FluxCal: fc,
		NPoly: 4, FixC0: true, Logger: zap.New(core),
	})
	require.NoError(t, err)

	th := truthTheta()
	th.Vsini = -1
	lnp, err := order.LogProb(th, truthPhi())
	require.NoError(t, err)
	require.True(t, math.IsInf(lnp, -1))

	// Hard model rejections are anomalies worth surfacing, unlike the
	// routine soft prior boundary which stays at debug.
	entries := logs.FilterMessage("rejecting stellar parameters").All()
	require.Len(t, entries, 1)
	require.Equal(t, zapcore.WarnLevel, entries[0].Level)

	phi := truthPhi()
	phi.SigAmp = -1
	_, err = order.LogProb(truthTheta(), phi)
	require.NoError(t, err)
	soft := logs.FilterMessage("non-positive sigAmp, rejecting").All()
	require.Len(t, soft, 1)
	require.Equal(t, zapcore.DebugLevel, soft[0].Level)
}

func TestEvaluateBeforeUpdateFails(t *testing.T) {
	basis := fixtureBasis(t)
	em, _ := fixtureEmulator(t)
	wl := dataGrid()
	sigma := make([]float64, len(wl))
	for i := range sigma {
		sigma[i] = 0.01
	}
	data, err := spectrum.New(wl, make([]float64, len(wl)), sigma, nil)
	require.NoError(t, err)
	order, err := model.NewOrder(model.OrderParams{
		Data: data, Basis: basis, Emulator: em, NPoly: 4, FixC0: true,
	})
	require.NoError(t, err)
	_, err = order.Evaluate()
	require.Error(t, err)
}

func TestSplitVector(t *testing.T) {
	v := []float64{
		5500, 4.0, 0.0, 30, 5, 0, // star 1
		5600, 4.2, 0.1, -20, 8, -0.3, // star 2
		0.01, -0.005, 0.002, // cheb
		1, -8, 10, // sigAmp, logAmp, l
	}
	th, phi, err := model.SplitVector(v, 3, 3, true)
	require.NoError(t, err)
	require.Equal(t, truthTheta(), th)
	want := truthPhi()
	require.Equal(t, want.Cheb, phi.Cheb)
	require.Equal(t, want.SigAmp, phi.SigAmp)
	require.Equal(t, want.LogAmp, phi.LogAmp)
	require.Equal(t, want.Length, phi.Length)
	require.True(t, phi.FixC0)

	_, _, err = model.SplitVector(v[:10], 3, 3, true)
	require.Error(t, err)
}
