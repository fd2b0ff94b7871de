// Package mixedboot implements a parametric bootstrap for fitted mixed-effects
// models: simulate a new response from the estimated parameters, refit, and
// collect a compact record per replicate. The collection supports tidy
// (long-format) summaries of the coefficient and variance-component
// distributions, shortest coverage intervals, and singularity diagnostics.
package mixedboot

import (
	"errors"
	"fmt"
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

// MixedModel is the contract a fitted model must satisfy to be bootstrapped.
// The fitting machinery itself (optimizer, factorizations, formula handling)
// stays behind this interface; the bootstrap only simulates, refits, and
// reads results back out.
type MixedModel interface {
	// Copy returns an independent working copy. Simulate and Refit are only
	// ever called on copies, never on the model handed to the driver.
	Copy() MixedModel

	// Number of observations in the response.
	NumObs() int

	// Fixed-effects block: names, estimates, and standard errors, all
	// positionally aligned and of equal length.
	CoefNames() []string
	Coef() []float64
	Stderror() []float64

	// Covariance-parameter block.
	Theta() []float64
	// LowerBounds returns the optimizer's box constraint for each theta
	// position; a fit sitting exactly on a bound is singular.
	LowerBounds() []float64

	// Sigma returns the residual/dispersion standard deviation. The second
	// value is false for model families without a dispersion parameter.
	Sigma() (float64, bool)

	// Objective is the final optimized criterion of the current fit.
	Objective() float64

	// Structural state describing the random-effects covariance factors.
	// LambdaTemplates returns one lower-triangular factor per grouping term;
	// ThetaIndices maps flat theta positions into each template's row-major
	// lower-triangular storage (see installTheta); GroupingFactors names the
	// terms and their random-effect columns in the same order.
	LambdaTemplates() []*mat.TriDense
	ThetaIndices() [][]int
	GroupingFactors() []GroupFactor

	// RandomDrawCounts returns, per grouping term, how many random-effect
	// values a simulation draws (levels times columns). Together with NumObs
	// this bounds the randomness one replicate consumes, which sizes the
	// spacing between jumped streams.
	RandomDrawCounts() []int

	// Simulate overwrites the model's response in place using the given
	// parameters and randomness. sigma is NaN for families without a
	// dispersion parameter.
	Simulate(rng *rand.Rand, beta []float64, sigma float64, theta []float64) error

	// Refit re-optimizes the model for its current response. A failure here
	// is fatal to the whole bootstrap run.
	Refit() error
}

// GroupFactor names one grouping term and its random-effect columns, in
// model order. Used only for labeling output rows.
type GroupFactor struct {
	Group   string
	Columns []string
}

// FitRecord is the compact summary of one replicate's refit. Beta and SE are
// positionally aligned with the container's coefficient names; Theta is
// aligned with the model's parameter index map. Records are written once by
// the driver and never mutated.
type FitRecord struct {
	Objective float64
	// Sigma is NaN when the model has no dispersion parameter.
	Sigma float64
	Beta  []float64
	SE    []float64
	Theta []float64
}

// BootstrapOptions configures a bootstrap run. The zero value requests a
// sequential run using the fitted model's own parameter estimates.
type BootstrapOptions struct {
	// Beta, Sigma, and Theta override the simulation targets; nil means
	// "use the fitted model's estimate". Sigma may only be overridden for
	// models that have a dispersion parameter.
	Beta  []float64
	Sigma *float64
	Theta []float64

	// Parallel runs replicates on a fixed pool of workers (one per
	// available CPU, capped at the replicate count).
	Parallel bool

	// Progress, if non-nil, is called after each completed replicate with
	// the number done so far and the total. Calls are serialized.
	Progress func(done, total int)
}

// BootstrapResult collects the replicate fit records together with a snapshot
// of the original model's covariance structure (factor templates, index maps,
// bounds, naming). It is read-only from the outside; the templates are reused
// internally as scratch when summarizing, so the summarization methods must
// not be called concurrently on the same result.
type BootstrapResult struct {
	Fits []FitRecord

	lambda    []*mat.TriDense
	inds      [][]int
	lowerbd   []float64
	fcnames   []GroupFactor
	coefnames []string
	hasSigma  bool
	thetaLen  int
}

// Len returns the number of replicates.
func (br *BootstrapResult) Len() int { return len(br.Fits) }

// CoefNames returns the fixed-effect coefficient names, aligned with every
// record's Beta and SE vectors.
func (br *BootstrapResult) CoefNames() []string {
	return append([]string(nil), br.coefnames...)
}

// GroupingFactors returns the grouping-term naming in model order.
func (br *BootstrapResult) GroupingFactors() []GroupFactor {
	out := make([]GroupFactor, len(br.fcnames))
	for i, fc := range br.fcnames {
		out[i] = GroupFactor{Group: fc.Group, Columns: append([]string(nil), fc.Columns...)}
	}
	return out
}

// HasSigma reports whether the bootstrapped model has a dispersion parameter.
func (br *BootstrapResult) HasSigma() bool { return br.hasSigma }

// Objectives returns the optimized criterion of each replicate, in order.
func (br *BootstrapResult) Objectives() []float64 {
	out := make([]float64, len(br.Fits))
	for i, f := range br.Fits {
		out[i] = f.Objective
	}
	return out
}

// Tidy row types. Tables are long-format: one row per (replicate, quantity).

// ParamRow is one row of the all-parameters table. Type is "beta", "sigma",
// or "rho". Group and Name are empty where they do not apply: beta rows carry
// only the coefficient in Name, and the residual dispersion row carries
// "residual" in Group with an empty Name.
type ParamRow struct {
	Iter  int
	Type  string
	Group string
	Name  string
	Value float64
}

// BetaRow is one row of the coefficient table.
type BetaRow struct {
	Iter  int
	Coef  string
	Value float64
}

// CoefPvalueRow is one row of the coefficient-p-value table: a Wald z test
// of the replicate estimate against zero.
type CoefPvalueRow struct {
	Iter  int
	Coef  string
	Value float64
	SE    float64
	Z     float64
	P     float64
}

// SigmaRow is one row of the variance-component table: the standard
// deviation attributed to one random-effect column of one grouping term.
type SigmaRow struct {
	Iter   int
	Group  string
	Column string
	Value  float64
}

// ParamInterval is a shortest coverage interval for one parameter of the
// all-parameters table, keyed the same way its rows are.
type ParamInterval struct {
	Type  string
	Group string
	Name  string
	Lower float64
	Upper float64
}

// ErrEmptySample is returned when an interval or quantile is requested from
// an empty sample.
var ErrEmptySample = errors.New("empty sample")

// ReplicateError reports a simulate or refit failure on a single replicate.
// Any replicate failure is fatal to the whole run; there is no partial-result
// recovery.
type ReplicateError struct {
	Iter int // 1-based replicate index
	Err  error
}

func (e *ReplicateError) Error() string {
	return fmt.Sprintf("bootstrap replicate %d: %v", e.Iter, e.Err)
}

func (e *ReplicateError) Unwrap() error { return e.Err }
