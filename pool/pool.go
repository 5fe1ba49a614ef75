// Package pool fans a flat parameter vector out to per-order likelihood
// workers and reduces their results to a single scalar. Each echelle order
// is embarrassingly parallel: one goroutine owns one model.Order
// exclusively, and only parameter vectors in and scalars out cross the
// worker boundary.
package pool

import (
	"fmt"
	"sync"

	"github.com/jason-neal/starfit/model"
	"go.uber.org/zap"
)

// CheckpointFunc is invoked every checkpoint interval with the number of
// evaluations completed so far. A failed checkpoint aborts the run; losing
// at most one interval's work is the point of having it.
type CheckpointFunc func(evals int) error

type request struct {
	params []float64
	resp   chan<- result
}

type result struct {
	index  int
	lnprob float64
	err    error
}

// Pool coordinates the per-order workers.
type Pool struct {
	orders  []*model.Order
	gridDim int
	ncheb   int
	fixC0   bool

	reqs   []chan request
	wg     sync.WaitGroup
	closed bool

	evals      int
	interval   int
	checkpoint CheckpointFunc

	regions []model.Region

	logger *zap.Logger
}

// New starts one worker per order. gridDim and ncheb fix the flat-vector
// layout shared by every order (see model.SplitVector).
func New(orders []*model.Order, gridDim, ncheb int, fixC0 bool, logger *zap.Logger) *Pool {
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Pool{
		orders:  orders,
		gridDim: gridDim,
		ncheb:   ncheb,
		fixC0:   fixC0,
		reqs:    make([]chan request, len(orders)),
		logger:  logger.Named("pool"),
	}
	for i, o := range orders {
		ch := make(chan request)
		p.reqs[i] = ch
		p.wg.Add(1)
		go p.worker(i, o, ch)
	}
	return p
}

func (p *Pool) worker(index int, o *model.Order, reqs <-chan request) {
	defer p.wg.Done()
	for req := range reqs {
		t, phi, err := model.SplitVector(req.params, p.gridDim, p.ncheb, p.fixC0)
		if err != nil {
			req.resp <- result{index: index, err: err}
			continue
		}
		phi.Regions = p.regions
		lnp, err := o.LogProb(t, phi)
		req.resp <- result{index: index, lnprob: lnp, err: err}
	}
}

// SetRegions installs the local-kernel regions applied to every proposal;
// regions are not part of the sampled flat vector.
func (p *Pool) SetRegions(regions []model.Region) {
	p.regions = regions
}

// SetCheckpoint installs fn to run after every `every` evaluations.
func (p *Pool) SetCheckpoint(every int, fn CheckpointFunc) {
	p.interval = every
	p.checkpoint = fn
}

// LogProb evaluates the flat parameter vector on every order concurrently
// and returns the summed log-probability. Any order rejecting the proposal
// makes the sum -Inf; any fatal order error fails the call.
func (p *Pool) LogProb(params []float64) (float64, error) {
	if p.closed {
		return 0, fmt.Errorf("pool: LogProb called after Close")
	}
	resp := make(chan result, len(p.orders))
	for _, ch := range p.reqs {
		ch <- request{params: params, resp: resp}
	}
	// Collect by order index so the reduction order, and hence the float
	// sum, does not depend on worker scheduling.
	lnprobs := make([]float64, len(p.orders))
	var firstErr error
	for range p.orders {
		res := <-resp
		if res.err != nil && firstErr == nil {
			firstErr = res.err
		}
		lnprobs[res.index] = res.lnprob
	}
	if firstErr != nil {
		return 0, firstErr
	}
	total := 0.
	for _, lnp := range lnprobs {
		total += lnp
	}

	p.evals++
	if p.checkpoint != nil && p.interval > 0 && p.evals%p.interval == 0 {
		p.logger.Debug("checkpointing", zap.Int("evals", p.evals))
		if err := p.checkpoint(p.evals); err != nil {
			return 0, fmt.Errorf("pool: checkpoint after %d evaluations: %w", p.evals, err)
		}
	}
	return total, nil
}

// Evals returns the number of completed evaluations.
func (p *Pool) Evals() int { return p.evals }

// Close stops the workers. The pool must not be used afterwards.
func (p *Pool) Close() {
	if p.closed {
		return
	}
	p.closed = true
	for _, ch := range p.reqs {
		close(ch)
	}
	p.wg.Wait()
}
