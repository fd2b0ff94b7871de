package mixedboot

import (
	"fmt"
	"math"
	"math/rand"
	"runtime"
	"sync"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/mat"
)

// ParametricBootstrap runs n simulate-refit cycles against working copies of
// the fitted model m and returns the collected replicate records. The base
// draw source is required; when it supports jump-ahead (implements
// JumpSource) every replicate gets a private, reproducible stream and the
// run parallelizes without locking, otherwise all replicates share src
// behind a mutex held only while drawing.
//
// The records come back in replicate order 1..n regardless of how work was
// scheduled across workers. m itself is never mutated. A failure in any
// single replicate aborts the whole run with a *ReplicateError.
func ParametricBootstrap(src rand.Source, n int, m MixedModel, opts BootstrapOptions) (*BootstrapResult, error) {
	if src == nil {
		return nil, fmt.Errorf("parametric bootstrap: draw source must not be nil")
	}
	if m == nil {
		return nil, fmt.Errorf("parametric bootstrap: model must not be nil")
	}
	if n < 0 {
		return nil, fmt.Errorf("parametric bootstrap: replicate count must be >= 0, got %d", n)
	}

	// Simulation targets: the fitted estimates unless overridden.
	beta := opts.Beta
	if beta == nil {
		beta = append([]float64(nil), m.Coef()...)
	}
	theta := opts.Theta
	if theta == nil {
		theta = append([]float64(nil), m.Theta()...)
	}
	sigma, hasSigma := m.Sigma()
	if !hasSigma {
		sigma = math.NaN()
	}
	if opts.Sigma != nil {
		if !hasSigma {
			return nil, fmt.Errorf("parametric bootstrap: model has no dispersion parameter, sigma cannot be overridden")
		}
		sigma = *opts.Sigma
	}

	br := newBootstrapResult(m, n, hasSigma)
	if len(theta) != br.thetaLen {
		return nil, fmt.Errorf(
			"parametric bootstrap: theta has length %d, index map spans %d positions",
			len(theta), br.thetaLen,
		)
	}
	if n == 0 {
		return br, nil
	}

	// Pick the stream strategy from the source's capabilities.
	var (
		streams []*rand.Rand
		shared  *lockedSource
	)
	if js, ok := src.(JumpSource); ok {
		streams = jumpedStreams(js, n, drawSpacing(m))
	} else {
		shared = &lockedSource{rng: rand.New(src)}
	}

	workers := 1
	if opts.Parallel {
		workers = runtime.GOMAXPROCS(0)
		if workers > n {
			workers = n
		}
	}

	// Progress calls are serialized so the callback needs no locking of
	// its own.
	var progressMu sync.Mutex
	done := 0
	report := func() {
		if opts.Progress == nil {
			return
		}
		progressMu.Lock()
		done++
		opts.Progress(done, n)
		progressMu.Unlock()
	}

	// Fixed pool of workers over a strided index split. Each worker owns a
	// private model copy reused across its replicates; records land in
	// per-index-disjoint slots of the pre-sized Fits slice, so no locking
	// is needed on the way out.
	var g errgroup.Group
	for w := 0; w < workers; w++ {
		w := w
		g.Go(func() error {
			wm := m.Copy()
			for i := w; i < n; i += workers {
				var err error
				if streams != nil {
					err = wm.Simulate(streams[i], beta, sigma, theta)
				} else {
					shared.mu.Lock()
					err = wm.Simulate(shared.rng, beta, sigma, theta)
					shared.mu.Unlock()
				}
				if err != nil {
					return &ReplicateError{Iter: i + 1, Err: fmt.Errorf("simulate: %w", err)}
				}
				if err := wm.Refit(); err != nil {
					return &ReplicateError{Iter: i + 1, Err: fmt.Errorf("refit: %w", err)}
				}
				br.Fits[i] = extractFit(wm)
				report()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return br, nil
}

// newBootstrapResult snapshots the model's static covariance structure into
// a container with room for n records.
func newBootstrapResult(m MixedModel, n int, hasSigma bool) *BootstrapResult {
	tmpl := m.LambdaTemplates()
	lambda := make([]*mat.TriDense, len(tmpl))
	for i, t := range tmpl {
		lambda[i] = cloneTri(t)
	}

	srcInds := m.ThetaIndices()
	inds := make([][]int, len(srcInds))
	thetaLen := 0
	for i, ix := range srcInds {
		inds[i] = append([]int(nil), ix...)
		thetaLen += len(ix)
	}

	fcnames := make([]GroupFactor, 0, len(lambda))
	for _, fc := range m.GroupingFactors() {
		fcnames = append(fcnames, GroupFactor{
			Group:   fc.Group,
			Columns: append([]string(nil), fc.Columns...),
		})
	}

	return &BootstrapResult{
		Fits:      make([]FitRecord, n),
		lambda:    lambda,
		inds:      inds,
		lowerbd:   append([]float64(nil), m.LowerBounds()...),
		fcnames:   fcnames,
		coefnames: append([]string(nil), m.CoefNames()...),
		hasSigma:  hasSigma,
		thetaLen:  thetaLen,
	}
}

// extractFit copies the quantities of interest out of a freshly refit
// working model into an immutable record.
func extractFit(m MixedModel) FitRecord {
	sigma, ok := m.Sigma()
	if !ok {
		sigma = math.NaN()
	}
	return FitRecord{
		Objective: m.Objective(),
		Sigma:     sigma,
		Beta:      append([]float64(nil), m.Coef()...),
		SE:        append([]float64(nil), m.Stderror()...),
		Theta:     append([]float64(nil), m.Theta()...),
	}
}

// cloneTri deep-copies a lower-triangular matrix.
func cloneTri(t *mat.TriDense) *mat.TriDense {
	d, _ := t.Triangle()
	out := mat.NewTriDense(d, mat.Lower, nil)
	for i := 0; i < d; i++ {
		for j := 0; j <= i; j++ {
			out.SetTri(i, j, t.At(i, j))
		}
	}
	return out
}

// installTheta writes replicate i's covariance parameters into the factor
// templates: zero every template, then walk each grouping term's index map
// assigning consecutive theta values into the matching row-major
// lower-triangular positions, advancing a running offset across terms.
// After it returns, the templates reflect replicate i exactly; every reader
// of "current" factor values must install first, and install-then-read is
// one atomic step (no interleaving across replicates).
func (br *BootstrapResult) installTheta(i int) error {
	theta := br.Fits[i].Theta
	if len(theta) != br.thetaLen {
		return fmt.Errorf(
			"replicate %d: theta has length %d, index map spans %d positions",
			i+1, len(theta), br.thetaLen,
		)
	}

	offset := 0
	for t, ix := range br.inds {
		tri := br.lambda[t]
		d, _ := tri.Triangle()
		for r := 0; r < d; r++ {
			for c := 0; c <= r; c++ {
				tri.SetTri(r, c, 0)
			}
		}
		for j, pos := range ix {
			r, c, err := lowerTriCoords(pos, d)
			if err != nil {
				return fmt.Errorf("grouping term %d: %w", t, err)
			}
			tri.SetTri(r, c, theta[offset+j])
		}
		offset += len(ix)
	}
	return nil
}

// lowerTriCoords converts a row-major packed lower-triangular linear
// position into (row, col) for a d-dimensional factor.
func lowerTriCoords(pos, d int) (int, int, error) {
	if pos < 0 || pos >= d*(d+1)/2 {
		return 0, 0, fmt.Errorf("index %d outside lower triangle of dimension %d", pos, d)
	}
	r := 0
	for (r+1)*(r+2)/2 <= pos {
		r++
	}
	return r, pos - r*(r+1)/2, nil
}

// IsSingular reports, per replicate, whether the fit sits on the boundary
// of the parameter space: any theta entry exactly equal to its lower bound.
func (br *BootstrapResult) IsSingular() []bool {
	out := make([]bool, len(br.Fits))
	for i, f := range br.Fits {
		for j, th := range f.Theta {
			if j < len(br.lowerbd) && th == br.lowerbd[j] {
				out[i] = true
				break
			}
		}
	}
	return out
}

// SingularCount returns how many replicates were singular fits.
func (br *BootstrapResult) SingularCount() int {
	count := 0
	for _, s := range br.IsSingular() {
		if s {
			count++
		}
	}
	return count
}
