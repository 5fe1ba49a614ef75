package model

import (
	"errors"
	"fmt"
	"math"

	"github.com/jason-neal/starfit/broaden"
	"github.com/jason-neal/starfit/constants"
	"github.com/jason-neal/starfit/covariance"
	"github.com/jason-neal/starfit/diagnostics"
	"github.com/jason-neal/starfit/emulator"
	"github.com/jason-neal/starfit/gonumext"
	"github.com/jason-neal/starfit/spectrum"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// ErrNotPositiveDefinite marks a covariance matrix that failed Cholesky
// factorization. This is fatal for the run: it indicates a hyperparameter
// pathology or an upstream numerical bug that the sampler cannot route
// around, so it is never converted to a -Inf rejection.
var ErrNotPositiveDefinite = errors.New("covariance matrix not positive definite")

// derived holds one component's broadened and resampled basis on the data
// grid together with its interpolated weight distribution. Two instances
// per component exist at any time: the working copy and the last accepted
// snapshot, swapped (never deep-copied) across proposals.
type derived struct {
	fluxMean []float64
	fluxStd  []float64
	eig      [][]float64
	mu       *mat.VecDense
	cgp      *mat.SymDense
}

func newDerived(m, ndata int) *derived {
	d := &derived{
		fluxMean: make([]float64, ndata),
		fluxStd:  make([]float64, ndata),
		eig:      make([][]float64, m),
	}
	for i := range d.eig {
		d.eig[i] = make([]float64, ndata)
	}
	return d
}

// rows stacks the resample destinations in the same order as
// emulator.PCABasis.Rows.
func (d *derived) rows() [][]float64 {
	rows := make([][]float64, 0, 2+len(d.eig))
	rows = append(rows, d.fluxMean, d.fluxStd)
	rows = append(rows, d.eig...)
	return rows
}

// OrderParams collects the injected collaborators for one echelle order.
type OrderParams struct {
	SpectrumID int
	OrderID    int
	Data       *spectrum.DataSpectrum
	Basis      *emulator.PCABasis
	Emulator   emulator.Emulator
	FluxCal    emulator.FluxCalibrator // optional; luminosity ratio is 1 without it
	NPoly      int                     // number of Chebyshev calibration terms
	FixC0      bool
	DebugDir   string      // where covariance dumps land on factorization failure
	Logger     *zap.Logger // optional
}

// Order evaluates the likelihood for one echelle order. It owns the
// current and last-accepted snapshots of every derived quantity so a
// rejected proposal rolls back in O(1) without recomputation. An Order is
// not safe for concurrent use; the pool package gives each its own worker.
type Order struct {
	spectrumID int
	orderID    int

	data   *spectrum.DataSpectrum
	basis  *emulator.PCABasis
	em     emulator.Emulator
	flux   emulator.FluxCalibrator
	cheb   *spectrum.Chebyshev
	sigma2 []float64

	cur  [2]*derived
	last [2]*derived

	dataMat     *mat.SymDense
	dataMatLast *mat.SymDense

	qq, qqLast         float64
	lnprob, lnprobLast float64
	modelNet           []float64

	debugDir string
	logger   *zap.Logger
}

// NewOrder wires an order evaluator. The data matrix starts as pure
// per-pixel instrument noise until the first nuisance update.
func NewOrder(p OrderParams) (*Order, error) {
	if p.Data == nil || p.Basis == nil || p.Emulator == nil {
		return nil, errors.New("model: data, basis and emulator are required")
	}
	n := p.Data.N()
	logger := p.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	o := &Order{
		spectrumID: p.SpectrumID,
		orderID:    p.OrderID,
		data:       p.Data,
		basis:      p.Basis,
		em:         p.Emulator,
		flux:       p.FluxCal,
		cheb:       spectrum.NewChebyshev(p.Data.Wl, p.NPoly, p.FixC0),
		sigma2:     make([]float64, n),
		qq:         1,
		qqLast:     1,
		lnprob:     math.Inf(-1),
		lnprobLast: math.Inf(-1),
		modelNet:   make([]float64, n),
		debugDir:   p.DebugDir,
		logger: logger.Named("order").With(
			zap.Int("spectrum", p.SpectrumID), zap.Int("order", p.OrderID)),
	}
	for i, s := range p.Data.Sigma {
		o.sigma2[i] = s * s
	}
	m := p.Basis.M()
	for c := 0; c < 2; c++ {
		o.cur[c] = newDerived(m, n)
		o.last[c] = newDerived(m, n)
	}
	o.dataMat = mat.NewSymDense(n, nil)
	gonumext.AddDiag(o.dataMat, o.sigma2)
	o.dataMatLast = mat.NewSymDense(n, nil)
	o.dataMatLast.CopySym(o.dataMat)
	return o, nil
}

// Cheb returns the calibration polynomial owned by this order.
func (o *Order) Cheb() *spectrum.Chebyshev { return o.cheb }

// Data returns the observed order.
func (o *Order) Data() *spectrum.DataSpectrum { return o.data }

// ModelFlux returns a copy of the net model flux from the most recent
// evaluation, for diagnostics.
func (o *Order) ModelFlux() []float64 {
	out := make([]float64, len(o.modelNet))
	copy(out, o.modelNet)
	return out
}

// UpdateTheta recomputes both components' derived state: Doppler shift,
// rotational broadening, resampling onto the data grid, emulator weight
// interpolation, luminosity scaling. On any model error the caller must
// roll back via revertTheta; the last accepted state is never touched.
func (o *Order) UpdateTheta(t Theta) error {
	// Swap in the superseded buffers as the working copy.
	o.cur, o.last = o.last, o.cur
	o.qqLast = o.qq

	rows := o.basis.Rows()
	comps := [2]struct {
		grid                []float64
		vz, vsini, logOmega float64
	}{
		{t.Grid, t.Vz, t.Vsini, t.LogOmega},
		{t.Grid2, t.Vz2, t.Vsini2, t.LogOmega2},
	}
	for c, comp := range comps {
		conv, err := broaden.Broaden(rows, o.basis.Freqs(), comp.vsini)
		if err != nil {
			return fmt.Errorf("star %d: %w", c+1, err)
		}
		shifted, err := broaden.DopplerShift(o.basis.Wl, comp.vz)
		if err != nil {
			return fmt.Errorf("star %d: %w", c+1, err)
		}
		if err := broaden.Resample(shifted, conv, o.data.Wl, o.cur[c].rows()); err != nil {
			return fmt.Errorf("star %d: %w", c+1, err)
		}
		mu, cgp, err := o.em.Interpolate(comp.grid)
		if err != nil {
			return fmt.Errorf("star %d: %w", c+1, err)
		}
		o.cur[c].mu, o.cur[c].cgp = mu, cgp

		omega := math.Pow(10, comp.logOmega)
		floats.Scale(omega, o.cur[c].fluxMean)
		floats.Scale(omega, o.cur[c].fluxStd)
	}

	if o.flux != nil {
		f1, err := o.flux.BolometricFlux(t.Grid)
		if err != nil {
			return fmt.Errorf("star 1 bolometric flux: %w", err)
		}
		f2, err := o.flux.BolometricFlux(t.Grid2)
		if err != nil {
			return fmt.Errorf("star 2 bolometric flux: %w", err)
		}
		o.qq = f2 / f1
	} else {
		o.qq = 1
	}
	return nil
}

// revertTheta restores the last accepted derived state by swapping the
// snapshots back.
func (o *Order) revertTheta() {
	o.cur, o.last = o.last, o.cur
	o.qq = o.qqLast
}

// UpdatePhi rebuilds the noise+GP data matrix from the nuisance
// parameters. A non-positive SigAmp is a soft prior boundary: the proposal
// is rejected (false, nil) without mutating any state and without logging
// an anomaly, since MCMC exploration hits it routinely.
func (o *Order) UpdatePhi(p Phi) (bool, error) {
	if p.SigAmp <= 0 {
		o.logger.Debug("non-positive sigAmp, rejecting", zap.Float64("sigAmp", p.SigAmp))
		return false, nil
	}
	if err := o.cheb.Update(p.Cheb); err != nil {
		return false, err
	}

	kernel := covariance.Global(math.Pow(10, p.LogAmp), p.Length)
	maxR := covariance.MaxRadius(p.Length)
	for _, reg := range p.Regions {
		kernel = covariance.Sum(kernel, covariance.Local(math.Pow(10, reg.LogAmp), reg.Mu, reg.Sigma))
		// Two pixels both within the region taper can sit up to eight
		// sigma apart.
		if r := 8 * reg.Sigma; r > maxR {
			maxR = r
		}
	}
	dataMat := covariance.Dense(o.data.Wl, kernel, maxR)
	diag := make([]float64, len(o.sigma2))
	s2 := p.SigAmp * p.SigAmp
	for i, v := range o.sigma2 {
		diag[i] = s2 * v
	}
	gonumext.AddDiag(dataMat, diag)

	o.dataMatLast = o.dataMat
	o.dataMat = dataMat
	return true, nil
}

// revertPhi restores the last accepted covariance state and calibration.
func (o *Order) revertPhi() {
	o.cheb.Revert()
	o.dataMat, o.dataMatLast = o.dataMatLast, o.dataMat
}

// Evaluate computes the Gaussian log-likelihood of the residual between
// the data flux and the two-component model flux under the combined
// projected-model plus data covariance. Factorization failure dumps the
// offending matrix for offline inspection and propagates as fatal.
func (o *Order) Evaluate() (float64, error) {
	if o.cur[0].mu == nil || o.cur[1].mu == nil {
		return 0, errors.New("model: Evaluate called before a successful UpdateTheta")
	}
	n := o.data.N()
	k := o.cheb.K()

	total := mat.NewDense(n, n, nil)
	modelNet := make([]float64, n)
	for c := 0; c < 2; c++ {
		d := make([]float64, n)
		for i := 0; i < n; i++ {
			d[i] = k[i] * o.cur[c].fluxStd[i]
		}
		// X = diag(cheb * fluxStd) Eᵀ, the projection of the basis
		// weights onto calibrated data-grid fluxes.
		X := gonumext.DiagScaledT(d, o.cur[c].eig)
		var tmp, part mat.Dense
		tmp.Mul(X, o.cur[c].cgp)
		part.Mul(&tmp, X.T())
		total.Add(total, &part)

		var xm mat.VecDense
		xm.MulVec(X, o.cur[c].mu)
		for i := 0; i < n; i++ {
			modelNet[i] += k[i]*o.cur[c].fluxMean[i] - xm.AtVec(i)
		}
	}

	cc := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			cc.SetSym(i, j, total.At(i, j)+o.dataMat.At(i, j))
		}
	}

	var chol mat.Cholesky
	if ok := chol.Factorize(cc); !ok {
		path, derr := diagnostics.DumpMatrix(o.debugDir,
			fmt.Sprintf("cc_spectrum%d_order%d", o.spectrumID, o.orderID), cc, nil)
		if derr != nil {
			o.logger.Error("failed to dump covariance matrix", zap.Error(derr))
		}
		o.logger.Error("covariance matrix failed Cholesky factorization",
			zap.String("dump", path))
		return 0, fmt.Errorf("spectrum %d order %d: %w", o.spectrumID, o.orderID, ErrNotPositiveDefinite)
	}

	r := mat.NewVecDense(n, nil)
	for i := 0; i < n; i++ {
		r.SetVec(i, o.data.Fl[i]-modelNet[i])
	}
	var sol mat.VecDense
	if err := chol.SolveVecTo(&sol, r); err != nil {
		return 0, fmt.Errorf("model: solving factorized system: %w", err)
	}
	// log|CC| from the Cholesky diagonal keeps the determinant stable.
	lnp := -0.5 * (mat.Dot(r, &sol) + chol.LogDet())

	o.lnprobLast = o.lnprob
	o.lnprob = lnp
	copy(o.modelNet, modelNet)
	o.logger.Debug("evaluated likelihood", zap.Float64("lnprob", lnp))
	return lnp, nil
}

// Revert restores both parameter groups to their last accepted snapshots.
// Gibbs-style drivers that separate evaluation from the accept decision
// call UpdateTheta/UpdatePhi/Evaluate directly and Revert on rejection.
func (o *Order) Revert() {
	o.revertTheta()
	o.revertPhi()
	o.lnprob = o.lnprobLast
}

// LogProb is the sampler entry point: update both parameter groups and
// evaluate. Hard model errors and soft prior boundaries both come back as
// -Inf with the pre-proposal snapshots restored; only numerical failures
// and programmer errors surface as errors.
func (o *Order) LogProb(t Theta, p Phi) (float64, error) {
	if err := o.UpdateTheta(t); err != nil {
		o.revertTheta()
		if errors.Is(err, constants.ErrModel) {
			o.logger.Warn("rejecting stellar parameters", zap.Error(err))
			return math.Inf(-1), nil
		}
		return 0, err
	}
	ok, err := o.UpdatePhi(p)
	if err != nil {
		o.revertTheta()
		return 0, err
	}
	if !ok {
		o.revertTheta()
		o.lnprobLast = o.lnprob
		o.lnprob = math.Inf(-1)
		return math.Inf(-1), nil
	}
	lnp, err := o.Evaluate()
	if err != nil {
		return 0, err
	}
	return lnp, nil
}
