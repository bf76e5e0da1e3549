/*
This file is part of this program.

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with this program.  If not, see <http://www.gnu.org/licenses/>.
*/

// Package qc implements the range-clamp, consistency, spike-detection,
// and night/day classification screening layer applied to a freshly
// parsed Dataset before gap-filling (component E).
package qc

import (
	"errors"
	"math"
	"sort"

	"github.com/Knetic/govaluate"
	"gonum.org/v1/gonum/stat"

	"github.com/fluxnet/ONEFlux-sub001"
)

// errNotNumeric is returned by EvalThreshold when a configured
// expression evaluates to a non-numeric result.
var errNotNumeric = errors.New("qc: threshold expression did not evaluate to a number")

// Thresholds holds the configurable numeric limits every screening
// rule uses. DefaultThresholds reproduces the pipeline's standard
// values; a caller may override individual fields, or override one via
// an Expr evaluated against no variables (a user-configurable
// constant, e.g. "50*1.1") through EvalThreshold.
type Thresholds struct {
	TAMin, TAMax     float64
	VPDMin, VPDMax   float64
	PMin, PMax       float64
	WSMin, WSMax     float64
	SWINMin, SWINMax float64
	LWINMin, LWINMax float64
	PAMin, PAMax     float64

	SWINConsistencyAbs   float64 // swin_check
	SWINConsistencyPot   float64 // rpot_check
	SWINConsistencyRatio float64 // swin_limit

	CrossCheckMinPairs int
	CrossCheckSigma     float64
	CrossCheckResidDist float64
	CrossCheckSigmaMult float64

	SpikeZ          [3]float64
	NEEIsolatedGap  float64
	EnergyIsolatedGap float64

	MarginalWindow int
	SpikeFilter    bool
	QC2Filter      bool
}

// DefaultThresholds returns the pipeline's standard screening
// parameters (spec §4.E).
func DefaultThresholds() Thresholds {
	return Thresholds{
		TAMin: -50, TAMax: 50,
		VPDMin: -5, VPDMax: 120,
		PMin: -0.1, PMax: 200,
		WSMin: 0, WSMax: 40,
		SWINMin: -50, SWINMax: 1400,
		LWINMin: 50, LWINMax: 700,
		PAMin: 70, PAMax: 130,

		SWINConsistencyAbs:   50,
		SWINConsistencyPot:   200,
		SWINConsistencyRatio: 0.15,

		CrossCheckMinPairs:  11000,
		CrossCheckSigma:     0.01,
		CrossCheckResidDist: 50,
		CrossCheckSigmaMult: 5,

		SpikeZ:            [3]float64{4, 5.5, 7},
		NEEIsolatedGap:    6,
		EnergyIsolatedGap: 100,

		MarginalWindow: 2,
	}
}

// EvalThreshold evaluates a govaluate numeric expression with no
// variables, for a user-supplied constant override (e.g. a site wants
// TA's upper clamp raised to "50*1.1" instead of a bare literal).
func EvalThreshold(expr string) (float64, error) {
	e, err := govaluate.NewEvaluableExpression(expr)
	if err != nil {
		return 0, err
	}
	result, err := e.Evaluate(nil)
	if err != nil {
		return 0, err
	}
	f, ok := result.(float64)
	if !ok {
		return 0, errNotNumeric
	}
	return f, nil
}

// clampRow returns v if lo <= v <= hi; if zeroNeg, any v < 0 returns 0
// instead of folding to missing.
func clampRow(v, lo, hi float64, zeroNeg bool) (float64, bool) {
	if zeroNeg && v < 0 {
		return 0, true
	}
	if v < lo || v > hi {
		return 0, false
	}
	return v, true
}

// RangeClamp applies the fixed physical-range clamps to TA, VPD, P,
// WS, SW_IN, LW_IN, and PA. Values outside range become missing;
// VPD/P/SW_IN negatives fold to 0 instead.
func RangeClamp(d *oneflux.Dataset, th Thresholds) {
	type rule struct {
		col            oneflux.Column
		lo, hi         float64
		zeroNegative   bool
	}
	rules := []rule{
		{oneflux.ColTA, th.TAMin, th.TAMax, false},
		{oneflux.ColVPD, th.VPDMin, th.VPDMax, true},
		{oneflux.ColP, th.PMin, th.PMax, true},
		{oneflux.ColWS, th.WSMin, th.WSMax, false},
		{oneflux.ColSWIN, th.SWINMin, th.SWINMax, true},
		{oneflux.ColLWIN, th.LWINMin, th.LWINMax, false},
		{oneflux.ColPA, th.PAMin, th.PAMax, false},
	}
	for _, r := range rules {
		raw := d.Raw(r.col)
		for i, v := range raw {
			if oneflux.IsInvalid(v) {
				continue
			}
			clamped, ok := clampRow(v, r.lo, r.hi, r.zeroNegative)
			if !ok {
				raw[i] = oneflux.InvalidValue
			} else {
				raw[i] = clamped
			}
		}
	}
}

// NegativeMissingPolicy applies the SW_IN/PPFD_IN negative-or-missing
// substitution rule: when swinPot is 0 at a row and any valid reading
// of col exists within the surrounding window, a missing or negative
// reading is set to 0; otherwise it is left/made missing.
func NegativeMissingPolicy(d *oneflux.Dataset, col oneflux.Column, swinPot []float64, halfWindow int) {
	raw := d.Raw(col)
	n := len(raw)
	for i := 0; i < n; i++ {
		if swinPot[i] != 0 {
			continue
		}
		v := raw[i]
		if !oneflux.IsInvalid(v) && v >= 0 {
			continue
		}
		if hasValidNearby(raw, i, halfWindow) {
			raw[i] = 0
		} else {
			raw[i] = oneflux.InvalidValue
		}
	}
}

func hasValidNearby(raw []float64, row, halfWindow int) bool {
	lo := row - halfWindow
	if lo < 0 {
		lo = 0
	}
	hi := row + halfWindow
	if hi >= len(raw) {
		hi = len(raw) - 1
	}
	for i := lo; i <= hi; i++ {
		if i == row {
			continue
		}
		if !oneflux.IsInvalid(raw[i]) {
			return true
		}
	}
	return false
}

// ConsistencyFlag computes the SW_IN (or PPFD, with values pre-scaled
// by 0.5) vs SW_IN_POT consistency flag: 1 when flagged, 0 when
// checked and clean, -1 when the row can't be evaluated (input
// missing).
func ConsistencyFlag(value, swinPot []float64, th Thresholds) []int {
	n := len(value)
	flags := make([]int, n)
	for i := 0; i < n; i++ {
		if oneflux.IsInvalid(value[i]) {
			flags[i] = -1
			continue
		}
		v := value[i]
		pot := swinPot[i]
		diff := v - pot
		if diff <= 0 {
			continue
		}
		if pot == 0 {
			if v > th.SWINConsistencyAbs {
				flags[i] = 1
			}
		} else if diff > th.SWINConsistencyAbs && pot > th.SWINConsistencyPot {
			if (diff / pot) > th.SWINConsistencyRatio {
				flags[i] = 1
			}
		}
	}
	return flags
}

// CrossCheckSWINvsPPFD fits SW_IN = a*PPFD_IN + b by least squares
// over valid pairs (requiring at least th.CrossCheckMinPairs of them),
// and sets both series missing at any row whose residual is both a
// large-distance outlier from the fit line and an outlier in
// standard-deviation units. Returns false (no-op) when there are too
// few paired samples.
func CrossCheckSWINvsPPFD(d *oneflux.Dataset, th Thresholds) bool {
	swin := d.Raw(oneflux.ColSWIN)
	ppfd := d.Raw(oneflux.ColPPFDIN)

	var xs, ys []float64
	var rows []int
	for i := range swin {
		if !oneflux.IsInvalid(swin[i]) && !oneflux.IsInvalid(ppfd[i]) {
			xs = append(xs, ppfd[i])
			ys = append(ys, swin[i])
			rows = append(rows, i)
		}
	}
	if len(xs) < th.CrossCheckMinPairs {
		return false
	}

	alpha, beta := stat.LinearRegression(xs, ys, nil, false)
	residuals := make([]float64, len(xs))
	for i := range xs {
		residuals[i] = ys[i] - (beta*xs[i] + alpha)
	}
	sigma := stat.StdDev(residuals, nil)
	if sigma <= th.CrossCheckSigma {
		return true
	}

	denom := math.Sqrt(1 + beta*beta)
	for i, row := range rows {
		dist := math.Abs(residuals[i]) / denom
		if dist > th.CrossCheckResidDist && math.Abs(residuals[i]) > th.CrossCheckSigmaMult*sigma {
			swin[row] = oneflux.InvalidValue
			ppfd[row] = oneflux.InvalidValue
		}
	}
	return true
}

// UstarFromTau fills USTAR = sqrt(|TAU|/1.2) when USTAR is entirely
// missing and TAU is available, leaving any row whose TAU is missing
// or whose derived USTAR would be NaN as missing.
func UstarFromTau(d *oneflux.Dataset) {
	ustar := d.Raw(oneflux.ColUStar)
	for _, v := range ustar {
		if !oneflux.IsInvalid(v) {
			return // USTAR already has at least one observation
		}
	}
	tau := d.Raw(oneflux.ColTau)
	for i, t := range tau {
		if oneflux.IsInvalid(t) {
			continue
		}
		v := math.Sqrt(math.Abs(t) / 1.2)
		if math.IsNaN(v) {
			continue
		}
		ustar[i] = v
	}
}

// SpikeResult carries, per row, the severest Papale spike level
// reached (0 none, 1/2/3 for z = 4/5.5/7) and whether the row is part
// of a short isolated "island" of valid values surrounded by gaps.
type SpikeResult struct {
	Severity []int
	Marginal []bool
}

// windowSize returns the Papale sliding-window length for a
// resolution: 624 half-hours (13 days) or 312 hours.
func windowSize(hourly bool) int {
	if hourly {
		return 312
	}
	return 624
}

// DetectSpikes runs the Papale median/MAD second-difference spike test
// over non-overlapping windows of values, plus the isolated
// pre/post-gap check against isolatedGapThreshold.
func DetectSpikes(values []float64, hourly bool, isolatedGapThreshold float64, th Thresholds) SpikeResult {
	n := len(values)
	res := SpikeResult{Severity: make([]int, n), Marginal: make([]bool, n)}
	window := windowSize(hourly)
	if window <= 0 || n == 0 {
		return res
	}

	for start := 0; start < n; start += window {
		end := start + window
		if end > n {
			end = n
		}
		flagWindow(values, start, end, th, res.Severity)
	}

	detectIsolatedGapSpikes(values, isolatedGapThreshold, res.Severity)
	detectMarginalIslands(values, th.MarginalWindow, res.Marginal)
	return res
}

func flagWindow(values []float64, start, end int, th Thresholds, severity []int) {
	width := end - start
	if width < 3 {
		return
	}
	diffs := make([]float64, width)
	diffs[0] = math.NaN()
	diffs[width-1] = math.NaN()
	for y := 1; y < width-1; y++ {
		i := start + y
		if oneflux.IsInvalid(values[i-1]) || oneflux.IsInvalid(values[i]) || oneflux.IsInvalid(values[i+1]) {
			diffs[y] = math.NaN()
			continue
		}
		diffs[y] = (values[i] - values[i-1]) - (values[i+1] - values[i])
	}

	m, ok := medianIgnoringNaN(diffs)
	if !ok {
		return
	}
	absDev := make([]float64, width)
	for y, v := range diffs {
		if math.IsNaN(v) {
			absDev[y] = math.NaN()
		} else {
			absDev[y] = math.Abs(v - m)
		}
	}
	mad, ok := medianIgnoringNaN(absDev)
	if !ok {
		return
	}

	for level, z := range th.SpikeZ {
		band := z * mad / 0.6745
		lo, hi := m-band, m+band
		for y, v := range diffs {
			if math.IsNaN(v) {
				continue
			}
			if v < lo || v > hi {
				if severity[start+y] < level+1 {
					severity[start+y] = level + 1
				}
			}
		}
	}
}

// medianIgnoringNaN computes the median of the non-NaN entries of xs,
// leaving xs's own order untouched. ok is false when every entry is NaN.
func medianIgnoringNaN(xs []float64) (float64, bool) {
	clean := make([]float64, 0, len(xs))
	for _, v := range xs {
		if !math.IsNaN(v) {
			clean = append(clean, v)
		}
	}
	if len(clean) == 0 {
		return 0, false
	}
	sort.Float64s(clean)
	mid := len(clean) / 2
	if len(clean)%2 == 1 {
		return clean[mid], true
	}
	return (clean[mid-1] + clean[mid]) / 2, true
}

// detectIsolatedGapSpikes flags a single valid value immediately
// before or after a gap when it differs from its adjacent valid
// neighbour on the side away from the gap by more than threshold.
func detectIsolatedGapSpikes(values []float64, threshold float64, severity []int) {
	n := len(values)
	for i := 2; i < n; i++ {
		if oneflux.IsInvalid(values[i]) && !oneflux.IsInvalid(values[i-1]) && !oneflux.IsInvalid(values[i-2]) {
			if math.Abs(values[i-1]-values[i-2]) > threshold {
				if severity[i-1] < 1 {
					severity[i-1] = 1
				}
			}
		}
	}
	for i := 0; i < n-2; i++ {
		if oneflux.IsInvalid(values[i]) && !oneflux.IsInvalid(values[i+1]) && !oneflux.IsInvalid(values[i+2]) {
			if math.Abs(values[i+1]-values[i+2]) > threshold {
				if severity[i+1] < 1 {
					severity[i+1] = 1
				}
			}
		}
	}
}

// detectMarginalIslands flags a run of 1 or 2 valid values that is
// flanked on both sides by at least `window` missing rows: a
// "marginal" reading too isolated to trust even without a spike.
func detectMarginalIslands(values []float64, window int, marginal []bool) {
	if window <= 0 {
		window = 1
	}
	n := len(values)
	i := 0
	for i < n {
		if oneflux.IsInvalid(values[i]) {
			i++
			continue
		}
		runStart := i
		for i < n && !oneflux.IsInvalid(values[i]) {
			i++
		}
		runLen := i - runStart
		if runLen > 2 {
			continue
		}
		if gapBefore(values, runStart, window) && gapAfter(values, i-1, window) {
			for r := runStart; r < i; r++ {
				marginal[r] = true
			}
		}
	}
}

func gapBefore(values []float64, at, window int) bool {
	if at == 0 {
		return true
	}
	lo := at - window
	if lo < 0 {
		lo = 0
	}
	for i := lo; i < at; i++ {
		if !oneflux.IsInvalid(values[i]) {
			return false
		}
	}
	return true
}

func gapAfter(values []float64, at, window int) bool {
	if at == len(values)-1 {
		return true
	}
	hi := at + window
	if hi >= len(values) {
		hi = len(values) - 1
	}
	for i := at + 1; i <= hi; i++ {
		if !oneflux.IsInvalid(values[i]) {
			return false
		}
	}
	return true
}

// ApplySpikeMask nulls out values flagged at Papale severity >= 1 (or
// marginal) in place, honoring the spike_filter/qc2_filter policy
// toggles: detection always runs and annotates, but masking to missing
// only happens when the corresponding policy is enabled.
func ApplySpikeMask(values []float64, res SpikeResult, th Thresholds) {
	for i := range values {
		if th.SpikeFilter && res.Severity[i] > 0 {
			values[i] = oneflux.InvalidValue
			continue
		}
		if th.QC2Filter && res.Marginal[i] {
			values[i] = oneflux.InvalidValue
		}
	}
}

// NightDayClassification computes night/day membership from
// SW_IN_POT, SW_IN, and PPFD_IN, widened by one row on each side: a
// row is night if itself or either neighbour is night, and day is the
// complement.
func NightDayClassification(swinPot, swin, ppfd []float64) (night, day []bool) {
	n := len(swinPot)
	rawNight := make([]bool, n)
	for i := 0; i < n; i++ {
		isNight := swinPot[i] <= 12.0
		if !oneflux.IsInvalid(swin[i]) {
			isNight = swin[i] < 12.0
		}
		if !oneflux.IsInvalid(ppfd[i]) {
			isNight = ppfd[i] < 25.0
		}
		rawNight[i] = isNight
	}

	night = make([]bool, n)
	day = make([]bool, n)
	for i := 0; i < n; i++ {
		lo, hi := i-1, i+1
		if lo < 0 {
			lo = i
		}
		if hi >= n {
			hi = i
		}
		night[i] = rawNight[lo] || rawNight[i] || rawNight[hi]
		day[i] = !night[i]
	}
	return night, day
}
