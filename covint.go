package mixedboot

import (
	"fmt"
	"math"
	"sort"
)

// ShortestCovInt returns the narrowest interval covering at least a
// proportion level of the finite values in v. The input is sorted into a
// copy when it is not already ordered; v itself is never modified.
// Non-finite values are dropped only from the two ends of the sorted order.
// When fewer finite values remain than the window requires, the full
// observed range is returned. Ties between equally narrow windows go to the
// first one found scanning left to right.
func ShortestCovInt(v []float64, level float64) (float64, float64, error) {
	if !(level > 0 && level < 1) {
		return 0, 0, fmt.Errorf("coverage level must be in (0, 1), got %g", level)
	}
	n := len(v)
	if n == 0 {
		return 0, 0, ErrEmptySample
	}

	vv := v
	if !sort.Float64sAreSorted(v) {
		vv = append([]float64(nil), v...)
		sort.Float64s(vv)
	}

	// Window length: the number of order statistics the interval must span.
	ilen := int(math.Ceil(level * float64(n)))

	start, stop := 0, n-1
	for start < n && !isFinite(vv[start]) {
		start++
	}
	for stop >= 0 && !isFinite(vv[stop]) {
		stop--
	}
	if stop-start+1 < ilen {
		return vv[0], vv[n-1], nil
	}

	best := start
	bestWidth := vv[start+ilen-1] - vv[start]
	for j := start + 1; j+ilen-1 <= stop; j++ {
		if w := vv[j+ilen-1] - vv[j]; w < bestWidth {
			best, bestWidth = j, w
		}
	}
	return vv[best], vv[best+ilen-1], nil
}

func isFinite(x float64) bool {
	return !math.IsInf(x, 0) && !math.IsNaN(x)
}

// paramKey identifies one parameter of the all-parameters table.
type paramKey struct {
	Type  string
	Group string
	Name  string
}

// ConfInt computes one shortest coverage interval per distinct parameter of
// the all-parameters table, in first-appearance order.
func (br *BootstrapResult) ConfInt(level float64) ([]ParamInterval, error) {
	if !(level > 0 && level < 1) {
		return nil, fmt.Errorf("coverage level must be in (0, 1), got %g", level)
	}
	rows, err := br.AllPars()
	if err != nil {
		return nil, err
	}

	groups := make(map[paramKey][]float64)
	var order []paramKey
	for _, r := range rows {
		key := paramKey{Type: r.Type, Group: r.Group, Name: r.Name}
		if _, seen := groups[key]; !seen {
			order = append(order, key)
		}
		groups[key] = append(groups[key], r.Value)
	}

	out := make([]ParamInterval, 0, len(order))
	for _, key := range order {
		lo, hi, err := ShortestCovInt(groups[key], level)
		if err != nil {
			return nil, fmt.Errorf("parameter %s %s %s: %w", key.Type, key.Group, key.Name, err)
		}
		out = append(out, ParamInterval{
			Type:  key.Type,
			Group: key.Group,
			Name:  key.Name,
			Lower: lo,
			Upper: hi,
		})
	}
	return out, nil
}
