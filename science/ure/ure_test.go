package ure

import (
	"math"
	"testing"

	"github.com/fluxnet/ONEFlux-sub001"
)

func TestModelEfficiencyPerfectSelfMatch(t *testing.T) {
	a := []float64{1, 2, 3, 4, 5}
	b := []float64{1, 2, 3, 4, 6}
	mes := ModelEfficiency([][]float64{a, b})
	if math.Abs(mes[0][0]-1.0) > 1e-9 {
		t.Errorf("got ME(a,a) = %v, want 1", mes[0][0])
	}
	if mes[0][1] >= mes[0][0] {
		t.Errorf("expected ME(a,b) < ME(a,a), got %v vs %v", mes[0][1], mes[0][0])
	}
}

func TestSelectReferencePicksBestPredictor(t *testing.T) {
	// c is a copy of a with tiny jitter and b matches a except for an
	// outlier in its last value; a or c should win, never b.
	a := []float64{1, 2, 3, 4, 5, 6, 7, 8}
	b := []float64{1, 2, 3, 4, 5, 6, 7, 20}
	c := []float64{1.01, 2.01, 2.99, 4.02, 5.01, 5.98, 7.02, 8.01}
	ref, err := SelectReference([][]float64{a, b, c})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ref != 0 && ref != 2 {
		t.Errorf("got ref %d, want 0 or 2 (the mutually-consistent pair), not 1 (the outlier)", ref)
	}
}

func TestSelectReferenceSingleGoodColumn(t *testing.T) {
	good := []float64{1, 2, 3, 4}
	bad1 := []float64{1, 2, oneflux.InvalidValue, 4}
	bad2 := []float64{1, oneflux.InvalidValue, 3, 4}
	ref, err := SelectReference([][]float64{bad1, good, bad2})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ref != 1 {
		t.Fatalf("got ref %d, want 1 (the only fully valid column)", ref)
	}
}

func TestSelectReferenceRemapsIndexAfterDroppingBadColumns(t *testing.T) {
	bad := []float64{1, oneflux.InvalidValue, 3, 4, 5}
	good1 := []float64{1, 2, 3, 4, 5}
	good2 := []float64{1.02, 1.98, 3.05, 3.95, 5.03}
	ref, err := SelectReference([][]float64{bad, good1, good2})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ref != 1 && ref != 2 {
		t.Fatalf("got ref %d, want index 1 or 2 (the surviving good columns), not the dropped bad column 0", ref)
	}
}

func TestSelectReferenceAllColumnsBad(t *testing.T) {
	bad1 := []float64{1, oneflux.InvalidValue}
	bad2 := []float64{oneflux.InvalidValue, 2}
	_, err := SelectReference([][]float64{bad1, bad2})
	if err == nil {
		t.Fatal("expected an error when every column has an invalid value at a surviving row")
	}
}

func TestSelectReferenceDropsRowsWhereEveryColumnIsMissing(t *testing.T) {
	// Row 1 is all-missing and must be dropped before bad-column
	// scanning; without that, every column would look bad.
	a := []float64{1, oneflux.InvalidValue, 3, 4}
	b := []float64{1.01, oneflux.InvalidValue, 3.02, 3.99}
	ref, err := SelectReference([][]float64{a, b})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ref != 0 && ref != 1 {
		t.Fatalf("got ref %d, want 0 or 1", ref)
	}
}

func TestNearestRankMatchesOriginalRoundingRule(t *testing.T) {
	values := []float64{10, 20, 30, 40, 50}
	// percentile 50 of 5 values: round(0.5*5) = round(2.5) = 3, then
	// --index -> 2 (0-based) -> v[2] == 30, per the documented history
	// in the original engine's get_percentile_allowing_invalid.
	got := nearestRank(values, 50)
	if got != 30 {
		t.Errorf("got %v, want 30", got)
	}
}

func TestNearestRankClampsAboveRange(t *testing.T) {
	values := []float64{10, 20, 30}
	got := nearestRank(values, 100)
	if got != 30 {
		t.Errorf("got %v, want 30 (last element)", got)
	}
}

func TestNearestRankAllMissingIsInvalid(t *testing.T) {
	values := []float64{oneflux.InvalidValue, oneflux.InvalidValue}
	got := nearestRank(values, 50)
	if !oneflux.IsInvalid(got) {
		t.Error("expected an all-missing input to yield an invalid percentile")
	}
}

func TestNearestRankSkipsMissingValues(t *testing.T) {
	values := []float64{10, oneflux.InvalidValue, 20, 30, 40, 50}
	got := nearestRank(values, 50)
	want := nearestRank([]float64{10, 20, 30, 40, 50}, 50)
	if got != want {
		t.Errorf("got %v, want %v (missing rows excluded before ranking)", got, want)
	}
}

func TestMeanValidOnlyAverage(t *testing.T) {
	values := []float64{10, oneflux.InvalidValue, 30}
	got := Mean(values)
	if math.Abs(got-20.0) > 1e-9 {
		t.Errorf("got %v, want 20", got)
	}
}

func TestMeanAllMissingIsInvalid(t *testing.T) {
	values := []float64{oneflux.InvalidValue, oneflux.InvalidValue}
	if !oneflux.IsInvalid(Mean(values)) {
		t.Error("expected all-missing mean to be invalid")
	}
}

func TestStdDevUsesSampleVariance(t *testing.T) {
	values := []float64{2, 4, 4, 4, 5, 5, 7, 9}
	got := StdDev(values)
	want := 2.1380899353
	if math.Abs(got-want) > 1e-6 {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestStdDevSingleValueIsInvalid(t *testing.T) {
	values := []float64{5, oneflux.InvalidValue}
	if !oneflux.IsInvalid(StdDev(values)) {
		t.Error("expected a single valid value to yield an invalid standard deviation")
	}
}

func TestReduceRowStdErrDividesByFixedCandidateCount(t *testing.T) {
	candidates := make([]float64, CandidateCount)
	for i := range candidates {
		candidates[i] = float64(i + 1)
	}
	env := ReduceRow(candidates)
	sd := StdDev(candidates)
	want := sd / math.Sqrt(float64(CandidateCount))
	if math.Abs(env.StdErr-want) > 1e-9 {
		t.Errorf("got %v, want %v", env.StdErr, want)
	}
}

func TestReduceRowAllMissingYieldsInvalidEnvelope(t *testing.T) {
	candidates := make([]float64, CandidateCount)
	for i := range candidates {
		candidates[i] = oneflux.InvalidValue
	}
	env := ReduceRow(candidates)
	if !oneflux.IsInvalid(env.Mean) || !oneflux.IsInvalid(env.StdErr) {
		t.Error("expected an all-missing row to yield an invalid mean and standard error")
	}
	for _, p := range env.Percentiles {
		if !oneflux.IsInvalid(p) {
			t.Error("expected every percentile to be invalid when every candidate is missing")
		}
	}
}

func TestReduceRowsProducesOnePerRow(t *testing.T) {
	columns := make([][]float64, CandidateCount)
	for c := range columns {
		columns[c] = []float64{float64(c), float64(c) + 1}
	}
	envs := ReduceRows(columns)
	if len(envs) != 2 {
		t.Fatalf("got %d rows, want 2", len(envs))
	}
}

func TestSelectReferenceIdenticalCandidatesTieBreaksOnLowestIndex(t *testing.T) {
	// All 40 candidates equal the same row-varying ramp, so every
	// pairwise Model Efficiency score is 1 and every column's summed
	// score is tied; the lowest index must win deterministically.
	ramp := make([]float64, 10)
	for r := range ramp {
		ramp[r] = float64(r) / 10000
	}
	columns := make([][]float64, CandidateCount)
	for c := range columns {
		columns[c] = append([]float64(nil), ramp...)
	}
	ref, err := SelectReference(columns)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ref != 0 {
		t.Errorf("got ref %d, want 0 (lowest-index tie-break among identical candidates)", ref)
	}

	envs := ReduceRows(columns)
	for row, env := range envs {
		for _, p := range env.Percentiles {
			if math.Abs(p-ramp[row]) > 1e-9 {
				t.Errorf("row %d: got percentile %v, want it to collapse to the ramp value %v", row, p, ramp[row])
			}
		}
		if env.StdErr != 0 {
			t.Errorf("row %d: got StdErr %v, want 0 for identical candidates", row, env.StdErr)
		}
	}
}

func TestSelectCarriesUst50Unmodified(t *testing.T) {
	columns := make([][]float64, CandidateCount)
	for c := range columns {
		columns[c] = []float64{float64(c), float64(c) + 1}
	}
	ust50 := []float64{42, 43}
	sel, err := Select(columns, ust50)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sel.Ust50[0] != 42 || sel.Ust50[1] != 43 {
		t.Errorf("got ust50 %v, want it passed through unchanged", sel.Ust50)
	}
	if len(sel.Envelopes) != 2 {
		t.Errorf("got %d envelopes, want 2", len(sel.Envelopes))
	}
}
