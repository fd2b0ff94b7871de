package mixedboot

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat/distuv"
)

// --- Tidy summaries below ---
//
// The covariance-factor quantities (standard deviations, correlations) are
// not stored per replicate; they are reconstructed on demand by installing a
// replicate's theta into the shared factor templates and reading row norms
// and row dot products back out. That makes these methods cheap on memory
// but unsafe for concurrent use on one result.

// AllPars returns the all-parameters table: per replicate, one row per
// fixed-effect coefficient, one standard-deviation row per random-effect
// column of every grouping term, one correlation row per column pair within
// a term, and, for models with a dispersion parameter, one residual row.
func (br *BootstrapResult) AllPars() ([]ParamRow, error) {
	rows := make([]ParamRow, 0, br.allParsLen())
	for i, f := range br.Fits {
		iter := i + 1

		for j, name := range br.coefnames {
			rows = append(rows, ParamRow{Iter: iter, Type: "beta", Name: name, Value: f.Beta[j]})
		}

		if err := br.installTheta(i); err != nil {
			return nil, err
		}
		// Multiplier for factor row norms: the replicate dispersion, or 1
		// for families without one (the factors are then already on the
		// response scale).
		mult := f.Sigma
		if !br.hasSigma {
			mult = 1
		}
		for t, fc := range br.fcnames {
			tri := br.lambda[t]
			for j, col := range fc.Columns {
				rows = append(rows, ParamRow{
					Iter:  iter,
					Type:  "sigma",
					Group: fc.Group,
					Name:  col,
					Value: mult * triRowNorm(tri, j),
				})
				for k := 0; k < j; k++ {
					rows = append(rows, ParamRow{
						Iter:  iter,
						Type:  "rho",
						Group: fc.Group,
						Name:  fmt.Sprintf("%s, %s", fc.Columns[k], col),
						Value: triRowCorr(tri, k, j),
					})
				}
			}
		}

		if br.hasSigma {
			rows = append(rows, ParamRow{Iter: iter, Type: "sigma", Group: "residual", Value: f.Sigma})
		}
	}
	return rows, nil
}

// allParsLen computes the exact row count of the all-parameters table so it
// can be allocated in one shot.
func (br *BootstrapResult) allParsLen() int {
	per := len(br.coefnames)
	for _, fc := range br.fcnames {
		nc := len(fc.Columns)
		per += nc + nc*(nc-1)/2
	}
	if br.hasSigma {
		per++
	}
	return per * len(br.Fits)
}

// TidyBeta returns one row per replicate per fixed-effect coefficient.
func (br *BootstrapResult) TidyBeta() []BetaRow {
	rows := make([]BetaRow, 0, len(br.Fits)*len(br.coefnames))
	for i, f := range br.Fits {
		for j, name := range br.coefnames {
			rows = append(rows, BetaRow{Iter: i + 1, Coef: name, Value: f.Beta[j]})
		}
	}
	return rows
}

// CoefPvalues returns per-replicate Wald z statistics and two-sided normal
// p-values for every coefficient.
func (br *BootstrapResult) CoefPvalues() []CoefPvalueRow {
	rows := make([]CoefPvalueRow, 0, len(br.Fits)*len(br.coefnames))
	for i, f := range br.Fits {
		for j, name := range br.coefnames {
			z := f.Beta[j] / f.SE[j]
			rows = append(rows, CoefPvalueRow{
				Iter:  i + 1,
				Coef:  name,
				Value: f.Beta[j],
				SE:    f.SE[j],
				Z:     z,
				P:     2 * distuv.UnitNormal.Survival(math.Abs(z)),
			})
		}
	}
	return rows
}

// TidySigmas returns the per-column standard deviations of every grouping
// term for every replicate.
func (br *BootstrapResult) TidySigmas() ([]SigmaRow, error) {
	perIter := 0
	for _, fc := range br.fcnames {
		perIter += len(fc.Columns)
	}
	rows := make([]SigmaRow, 0, len(br.Fits)*perIter)
	for i, f := range br.Fits {
		if err := br.installTheta(i); err != nil {
			return nil, err
		}
		mult := f.Sigma
		if !br.hasSigma {
			mult = 1
		}
		for t, fc := range br.fcnames {
			tri := br.lambda[t]
			for j, col := range fc.Columns {
				rows = append(rows, SigmaRow{
					Iter:   i + 1,
					Group:  fc.Group,
					Column: col,
					Value:  mult * triRowNorm(tri, j),
				})
			}
		}
	}
	return rows, nil
}

// triRowNorm returns the Euclidean norm of row j of a lower-triangular
// factor. Entries beyond the diagonal are structurally zero.
func triRowNorm(tri triReader, j int) float64 {
	ss := 0.0
	for c := 0; c <= j; c++ {
		v := tri.At(j, c)
		ss += v * v
	}
	return math.Sqrt(ss)
}

// triRowCorr returns the dot product of rows k and j after each is
// normalized to unit length: the correlation implied by the factor. A row
// of zero norm yields NaN.
func triRowCorr(tri triReader, k, j int) float64 {
	nk := triRowNorm(tri, k)
	nj := triRowNorm(tri, j)
	if nk == 0 || nj == 0 {
		return math.NaN()
	}
	dot := 0.0
	for c := 0; c <= k && c <= j; c++ {
		dot += tri.At(k, c) * tri.At(j, c)
	}
	return dot / (nk * nj)
}

// triReader is the read-only surface the row-walk helpers need.
type triReader interface {
	At(i, j int) float64
}
