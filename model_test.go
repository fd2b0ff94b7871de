package mixedboot

import (
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

// almostEqual compares floats with tolerance
func almostEqual(a, b, tol float64) bool {
	return math.Abs(a-b) <= tol
}

// fakeModel is a deterministic stand-in for a fitted mixed model. Simulate
// draws one normal per observation into the response; Refit derives the
// "estimates" from the response with closed-form arithmetic, so two runs
// fed identical draws produce identical fit records.
type fakeModel struct {
	nobs       int
	coefNames  []string
	baseBeta   []float64
	se         []float64
	baseTheta  []float64
	lower      []float64
	baseSigma  float64
	hasSigma   bool
	lambda     []*mat.TriDense
	inds       [][]int
	groups     []GroupFactor
	drawCounts []int

	// current fit state, overwritten by Refit
	beta      []float64
	theta     []float64
	sigma     float64
	objective float64
	resp      []float64

	// failAt makes the failAt-th Refit call on this copy fail (0 = never).
	failAt int
	refits int
}

// newFakeModel builds a model with one grouping term of two random-effect
// columns, two fixed effects, and a dispersion parameter. theta [1, 0.6,
// 0.8] fills the lower triangle [[1, 0], [0.6, 0.8]].
func newFakeModel() *fakeModel {
	lam := mat.NewTriDense(2, mat.Lower, nil)
	lam.SetTri(0, 0, 1)
	lam.SetTri(1, 0, 0.6)
	lam.SetTri(1, 1, 0.8)
	return &fakeModel{
		nobs:       12,
		coefNames:  []string{"(Intercept)", "days"},
		baseBeta:   []float64{250, 10},
		se:         []float64{6.5, 1.5},
		baseTheta:  []float64{1, 0.6, 0.8},
		lower:      []float64{0, math.Inf(-1), 0},
		baseSigma:  2,
		hasSigma:   true,
		lambda:     []*mat.TriDense{lam},
		inds:       [][]int{{0, 1, 2}},
		groups:     []GroupFactor{{Group: "subj", Columns: []string{"(Intercept)", "days"}}},
		drawCounts: []int{8},
		beta:       []float64{250, 10},
		theta:      []float64{1, 0.6, 0.8},
		sigma:      2,
		objective:  1729.5,
	}
}

func (m *fakeModel) Copy() MixedModel {
	cp := *m
	cp.coefNames = append([]string(nil), m.coefNames...)
	cp.baseBeta = append([]float64(nil), m.baseBeta...)
	cp.se = append([]float64(nil), m.se...)
	cp.baseTheta = append([]float64(nil), m.baseTheta...)
	cp.lower = append([]float64(nil), m.lower...)
	cp.beta = append([]float64(nil), m.beta...)
	cp.theta = append([]float64(nil), m.theta...)
	cp.resp = append([]float64(nil), m.resp...)
	cp.lambda = make([]*mat.TriDense, len(m.lambda))
	for i, t := range m.lambda {
		cp.lambda[i] = cloneTri(t)
	}
	cp.inds = make([][]int, len(m.inds))
	for i, ix := range m.inds {
		cp.inds[i] = append([]int(nil), ix...)
	}
	cp.groups = make([]GroupFactor, len(m.groups))
	for i, g := range m.groups {
		cp.groups[i] = GroupFactor{Group: g.Group, Columns: append([]string(nil), g.Columns...)}
	}
	cp.drawCounts = append([]int(nil), m.drawCounts...)
	cp.refits = 0
	return &cp
}

func (m *fakeModel) NumObs() int                      { return m.nobs }
func (m *fakeModel) CoefNames() []string              { return m.coefNames }
func (m *fakeModel) Coef() []float64                  { return m.beta }
func (m *fakeModel) Stderror() []float64              { return m.se }
func (m *fakeModel) Theta() []float64                 { return m.theta }
func (m *fakeModel) LowerBounds() []float64           { return m.lower }
func (m *fakeModel) Objective() float64               { return m.objective }
func (m *fakeModel) RandomDrawCounts() []int          { return m.drawCounts }
func (m *fakeModel) ThetaIndices() [][]int            { return m.inds }
func (m *fakeModel) GroupingFactors() []GroupFactor   { return m.groups }
func (m *fakeModel) LambdaTemplates() []*mat.TriDense { return m.lambda }

func (m *fakeModel) Sigma() (float64, bool) {
	if !m.hasSigma {
		return 0, false
	}
	return m.sigma, true
}

func (m *fakeModel) Simulate(rng *rand.Rand, beta []float64, sigma float64, theta []float64) error {
	if len(beta) != len(m.baseBeta) {
		return fmt.Errorf("beta has length %d, want %d", len(beta), len(m.baseBeta))
	}
	scale := sigma
	if math.IsNaN(scale) {
		scale = 1
	}
	if m.resp == nil {
		m.resp = make([]float64, m.nobs)
	}
	for i := range m.resp {
		m.resp[i] = beta[0] + scale*rng.NormFloat64()
	}
	return nil
}

func (m *fakeModel) Refit() error {
	m.refits++
	if m.failAt > 0 && m.refits == m.failAt {
		return fmt.Errorf("optimizer did not converge")
	}
	mean := 0.0
	ss := 0.0
	for _, v := range m.resp {
		mean += v
		ss += v * v
	}
	mean /= float64(len(m.resp))
	m.objective = ss
	for j := range m.beta {
		m.beta[j] = m.baseBeta[j] + mean/float64(j+1)
	}
	copy(m.theta, m.baseTheta)
	if m.hasSigma {
		m.sigma = m.baseSigma
	}
	return nil
}
