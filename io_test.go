package mixedboot

import (
	"bytes"
	"encoding/csv"
	"strings"
	"testing"
)

func csvRecords(t *testing.T, buf *bytes.Buffer) [][]string {
	t.Helper()
	records, err := csv.NewReader(buf).ReadAll()
	if err != nil {
		t.Fatalf("reading CSV back: %v", err)
	}
	return records
}

func TestWriteAllParsCSV(t *testing.T) {
	br := newTestResult([]FitRecord{{
		Sigma: 2,
		Beta:  []float64{250, 10},
		SE:    []float64{6.5, 1.5},
		Theta: []float64{1, 0.6, 0.8},
	}})

	var buf bytes.Buffer
	if err := br.WriteAllParsCSV(&buf); err != nil {
		t.Fatalf("WriteAllParsCSV failed: %v", err)
	}

	records := csvRecords(t, &buf)
	if len(records) != 7 { // header + 6 rows
		t.Fatalf("got %d CSV records, want 7", len(records))
	}
	if got := strings.Join(records[0], ","); got != "Iter,Type,Group,Name,Value" {
		t.Errorf("header = %q", got)
	}
	if records[1][0] != "1" || records[1][1] != "beta" {
		t.Errorf("first data record = %v", records[1])
	}
}

func TestWriteBetaCSV(t *testing.T) {
	br := newTestResult([]FitRecord{
		{Beta: []float64{1, 2}, SE: []float64{1, 1}, Theta: []float64{0, 0, 0}},
		{Beta: []float64{3, 4}, SE: []float64{1, 1}, Theta: []float64{0, 0, 0}},
	})

	var buf bytes.Buffer
	if err := br.WriteBetaCSV(&buf); err != nil {
		t.Fatalf("WriteBetaCSV failed: %v", err)
	}
	records := csvRecords(t, &buf)
	if len(records) != 5 { // header + 2 replicates * 2 coefficients
		t.Fatalf("got %d CSV records, want 5", len(records))
	}
	if records[2][1] != "days" || records[2][2] != "2" {
		t.Errorf("second data record = %v", records[2])
	}
}

func TestWriteCoefPvaluesCSV(t *testing.T) {
	br := newTestResult([]FitRecord{{
		Beta:  []float64{2, -1},
		SE:    []float64{1, 2},
		Theta: []float64{0, 0, 0},
	}})

	var buf bytes.Buffer
	if err := br.WriteCoefPvaluesCSV(&buf); err != nil {
		t.Fatalf("WriteCoefPvaluesCSV failed: %v", err)
	}
	records := csvRecords(t, &buf)
	if len(records) != 3 {
		t.Fatalf("got %d CSV records, want 3", len(records))
	}
	if records[1][4] != "2" { // z column
		t.Errorf("z column = %q, want \"2\"", records[1][4])
	}
}

func TestSummary(t *testing.T) {
	fits := make([]FitRecord, 4)
	for i := range fits {
		fits[i] = FitRecord{
			Sigma: 2,
			Beta:  []float64{float64(i), 1},
			SE:    []float64{1, 1},
			Theta: []float64{1, 0.6, 0.8},
		}
	}
	fits[3].Theta = []float64{0, 0.6, 0.8} // one singular fit

	br := newTestResult(fits)
	var buf bytes.Buffer
	if err := br.Summary(&buf, 0.95); err != nil {
		t.Fatalf("Summary failed: %v", err)
	}
	out := buf.String()
	for _, want := range []string{
		"4 replicates",
		"Singular fits: 1 (25.0%)",
		"95% shortest coverage intervals",
		"(Intercept)",
		"residual",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("summary missing %q:\n%s", want, out)
		}
	}
}
