package mixedboot

import (
	"encoding/csv"
	"fmt"
	"io"
)

// CSV export of the tidy tables in long format, one row per
// (replicate, quantity), suitable for downstream plotting or analysis.

// WriteAllParsCSV writes the all-parameters table to w.
// Columns: Iter, Type, Group, Name, Value.
func (br *BootstrapResult) WriteAllParsCSV(w io.Writer) error {
	rows, err := br.AllPars()
	if err != nil {
		return err
	}

	writer := csv.NewWriter(w)
	if err := writer.Write([]string{"Iter", "Type", "Group", "Name", "Value"}); err != nil {
		return err
	}
	for _, r := range rows {
		record := []string{
			fmt.Sprintf("%d", r.Iter),
			r.Type,
			r.Group,
			r.Name,
			fmt.Sprintf("%g", r.Value),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

// WriteBetaCSV writes the coefficient table to w.
// Columns: Iter, Coef, Value.
func (br *BootstrapResult) WriteBetaCSV(w io.Writer) error {
	writer := csv.NewWriter(w)
	if err := writer.Write([]string{"Iter", "Coef", "Value"}); err != nil {
		return err
	}
	for _, r := range br.TidyBeta() {
		record := []string{
			fmt.Sprintf("%d", r.Iter),
			r.Coef,
			fmt.Sprintf("%g", r.Value),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

// WriteCoefPvaluesCSV writes the coefficient-p-value table to w.
// Columns: Iter, Coef, Value, SE, Z, P.
func (br *BootstrapResult) WriteCoefPvaluesCSV(w io.Writer) error {
	writer := csv.NewWriter(w)
	if err := writer.Write([]string{"Iter", "Coef", "Value", "SE", "Z", "P"}); err != nil {
		return err
	}
	for _, r := range br.CoefPvalues() {
		record := []string{
			fmt.Sprintf("%d", r.Iter),
			r.Coef,
			fmt.Sprintf("%g", r.Value),
			fmt.Sprintf("%g", r.SE),
			fmt.Sprintf("%g", r.Z),
			fmt.Sprintf("%g", r.P),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

// Summary writes a formatted text summary of the bootstrap run: replicate
// count, singular-fit proportion, and shortest coverage intervals for every
// parameter at the given level.
func (br *BootstrapResult) Summary(w io.Writer, level float64) error {
	n := br.Len()
	fmt.Fprintf(w, "Parametric bootstrap with %d replicates\n", n)

	if n > 0 {
		singular := br.SingularCount()
		fmt.Fprintf(w, "Singular fits: %d (%.1f%%)\n", singular, 100*float64(singular)/float64(n))
	}

	intervals, err := br.ConfInt(level)
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "\n%.0f%% shortest coverage intervals:\n", 100*level)
	fmt.Fprintf(w, "%-6s %-12s %-24s %12s %12s\n", "Type", "Group", "Name", "Lower", "Upper")
	for _, ci := range intervals {
		fmt.Fprintf(w, "%-6s %-12s %-24s %12.6f %12.6f\n",
			ci.Type, ci.Group, ci.Name, ci.Lower, ci.Upper)
	}
	return nil
}
