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

// Package ure selects, among the 40 u*-threshold candidate series
// produced upstream, the one reference series that best predicts every
// other candidate (Model Efficiency), then reduces all 40 to a
// percentile envelope and uncertainty band per row. It also carries
// the simplified sunset-respiration (SR) aggregator, which rolls up
// reco/reco_n through weekly/monthly/yearly tiers with a valid-count
// averaging rule distinct from the all-or-nothing rule used elsewhere.
package ure

import (
	"errors"
	"math"
	"sort"

	"github.com/fluxnet/ONEFlux-sub001"
)

// CandidateCount is the number of u*-threshold percentile candidates
// carried into reference selection (the 41st, the 50th percentile
// itself, is excluded from this computation).
const CandidateCount = 40

// CandidatePercentiles are the percentile cut points (1.25, 3.75, ...,
// 98.75) each candidate column was filtered at.
var CandidatePercentiles = [CandidateCount]float64{
	1.25, 3.75, 6.25, 8.75, 11.25, 13.75, 16.25, 18.75, 21.25, 23.75,
	26.25, 28.75, 31.25, 33.75, 36.25, 38.75, 41.25, 43.75, 46.25, 48.75,
	51.25, 53.75, 56.25, 58.75, 61.25, 63.75, 66.25, 68.75, 71.25, 73.75,
	76.25, 78.75, 81.25, 83.75, 86.25, 88.75, 91.25, 93.75, 96.25, 98.75,
}

// OutputPercentiles are the seven percentiles reported in the final
// uncertainty envelope for each row.
var OutputPercentiles = [7]float64{5, 16, 25, 50, 75, 84, 95}

var errAllColumnsBad = errors.New("ure: every candidate column has an invalid value at every surviving row")
var errZeroVariance = errors.New("ure: a candidate column has zero variance across surviving rows")

// ModelEfficiency computes mes[a][b] = 1 - (sum_row (x[row][a]-x[row][b])^2 / n) / var(x[.,a])
// over columns, using the population variance of column a (divide by
// n, not n-1). columns must all share the same length and must not
// contain missing values; callers use selectSurvivingRows/dropBadColumns
// to guarantee this before calling in.
func ModelEfficiency(columns [][]float64) [][]float64 {
	n := len(columns)
	mes := make([][]float64, n)
	for a := 0; a < n; a++ {
		mes[a] = make([]float64, n)
	}
	rows := 0
	if n > 0 {
		rows = len(columns[0])
	}
	for a := 0; a < n; a++ {
		mean := 0.0
		for _, v := range columns[a] {
			mean += v
		}
		mean /= float64(rows)
		variance := 0.0
		for _, v := range columns[a] {
			d := v - mean
			variance += d * d
		}
		variance /= float64(rows)
		for b := 0; b < n; b++ {
			sum := 0.0
			for row := 0; row < rows; row++ {
				d := columns[a][row] - columns[b][row]
				sum += d * d
			}
			sum /= float64(rows)
			sum /= variance
			mes[a][b] = 1 - sum
		}
	}
	return mes
}

// SelectReference picks, among columns (one []float64 per candidate,
// equal length, possibly containing oneflux.InvalidValue rows), the
// column index that best predicts every other column under Model
// Efficiency. Rows where every column is invalid are dropped first;
// columns that still carry an invalid value at any surviving row are
// then dropped entirely and excluded from scoring, with the winning
// column's index remapped back to its position in the original
// columns slice. A single surviving column is returned immediately
// without running Model Efficiency. Ties keep the first (lowest
// index) column seen.
func SelectReference(columns [][]float64) (int, error) {
	n := len(columns)
	if n == 0 {
		return -1, errAllColumnsBad
	}
	rows := len(columns[0])

	survivingRows := make([]int, 0, rows)
	for row := 0; row < rows; row++ {
		allMissing := true
		for _, col := range columns {
			if !oneflux.IsInvalid(col[row]) {
				allMissing = false
				break
			}
		}
		if !allMissing {
			survivingRows = append(survivingRows, row)
		}
	}

	badColumn := make([]bool, n)
	for c := 0; c < n; c++ {
		for _, row := range survivingRows {
			if oneflux.IsInvalid(columns[c][row]) {
				badColumn[c] = true
				break
			}
		}
	}

	good := 0
	onlyGood := -1
	for c := 0; c < n; c++ {
		if !badColumn[c] {
			good++
			onlyGood = c
		}
	}
	if good == 0 {
		return -1, errAllColumnsBad
	}
	if good == 1 {
		return onlyGood, nil
	}

	goodIndex := make([]int, 0, good)
	compact := make([][]float64, 0, good)
	for c := 0; c < n; c++ {
		if badColumn[c] {
			continue
		}
		goodIndex = append(goodIndex, c)
		series := make([]float64, len(survivingRows))
		for i, row := range survivingRows {
			series[i] = columns[c][row]
		}
		compact = append(compact, series)
	}

	for _, series := range compact {
		variance := 0.0
		mean := 0.0
		for _, v := range series {
			mean += v
		}
		mean /= float64(len(series))
		for _, v := range series {
			d := v - mean
			variance += d * d
		}
		if variance == 0 {
			return -1, errZeroVariance
		}
	}

	mes := ModelEfficiency(compact)
	mess := make([]float64, good)
	for column := 0; column < good; column++ {
		sum := 0.0
		for row := 0; row < good; row++ {
			sum += mes[row][column]
		}
		mess[column] = sum
	}

	winner := 0
	best := mess[0]
	for i := 1; i < good; i++ {
		if mess[i] > best {
			best = mess[i]
			winner = i
		}
	}
	return goodIndex[winner], nil
}

// nearestRank implements the original engine's percentile algorithm:
// sort the valid values ascending, take index = round(percentile/100*y),
// shift to 0-based, clamp below at 0 and above at the last element.
// This is a nearest-rank percentile, not a linearly interpolated one.
func nearestRank(values []float64, percentile float64) float64 {
	valid := make([]float64, 0, len(values))
	for _, v := range values {
		if !oneflux.IsInvalid(v) {
			valid = append(valid, v)
		}
	}
	y := len(valid)
	if y == 0 {
		return oneflux.InvalidValue
	}
	if y == 1 {
		return valid[0]
	}
	sort.Float64s(valid)
	index := int(math.Floor(percentile/100*float64(y) + 0.5))
	index--
	if index < 0 {
		index = 0
	}
	if index >= y {
		return valid[y-1]
	}
	return valid[index]
}

// Mean is a valid-only average; missing when every value is missing.
func Mean(values []float64) float64 {
	sum := 0.0
	count := 0
	for _, v := range values {
		if !oneflux.IsInvalid(v) {
			sum += v
			count++
		}
	}
	if count == 0 {
		return oneflux.InvalidValue
	}
	mean := sum / float64(count)
	if math.IsNaN(mean) {
		return oneflux.InvalidValue
	}
	return mean
}

// StdDev is the sample standard deviation (divide by valid count - 1)
// over the valid-only subset; missing when fewer than 2 valid values
// or the mean itself is missing.
func StdDev(values []float64) float64 {
	valid := make([]float64, 0, len(values))
	for _, v := range values {
		if !oneflux.IsInvalid(v) {
			valid = append(valid, v)
		}
	}
	if len(valid) < 2 {
		return oneflux.InvalidValue
	}
	allEqual := true
	for _, v := range valid[1:] {
		if v != valid[0] {
			allEqual = false
			break
		}
	}
	if allEqual {
		return 0
	}
	mean := Mean(valid)
	if oneflux.IsInvalid(mean) {
		return oneflux.InvalidValue
	}
	sq := 0.0
	for _, v := range valid {
		d := v - mean
		sq += d * d
	}
	sd := math.Sqrt(sq / float64(len(valid)-1))
	if math.IsNaN(sd) {
		return oneflux.InvalidValue
	}
	return sd
}

// candidateSqrt is sqrt(CandidateCount), the fixed divisor applied to
// StdDev to produce the row uncertainty: the original engine divides
// by this constant regardless of how many of the 40 candidates were
// actually valid at a given row.
var candidateSqrt = math.Sqrt(float64(CandidateCount))

// RowEnvelope is one row's reduction of the 40 candidate series: the
// seven-percentile uncertainty band, the mean across candidates, and
// its standard error.
type RowEnvelope struct {
	Percentiles [7]float64
	Mean        float64
	StdErr      float64
}

// ReduceRow computes the percentile/mean/standard-error envelope for
// one row given its 40 candidate values (oneflux.InvalidValue where a
// candidate is missing at this row).
func ReduceRow(candidates []float64) RowEnvelope {
	var env RowEnvelope
	for i, p := range OutputPercentiles {
		env.Percentiles[i] = nearestRank(candidates, p)
	}
	env.Mean = Mean(candidates)
	if oneflux.IsInvalid(env.Mean) {
		env.StdErr = oneflux.InvalidValue
	} else {
		sd := StdDev(candidates)
		if oneflux.IsInvalid(sd) {
			env.StdErr = oneflux.InvalidValue
		} else {
			env.StdErr = sd / candidateSqrt
		}
	}
	return env
}

// ReduceRows applies ReduceRow to every row of a CandidateCount x rows
// candidate matrix (columns[c][row]).
func ReduceRows(columns [][]float64) []RowEnvelope {
	rows := 0
	if len(columns) > 0 {
		rows = len(columns[0])
	}
	out := make([]RowEnvelope, rows)
	row := make([]float64, len(columns))
	for r := 0; r < rows; r++ {
		for c := range columns {
			row[c] = columns[c][r]
		}
		out[r] = ReduceRow(append([]float64(nil), row...))
	}
	return out
}

// Selection bundles one grouping's full URE output: the
// Model-Efficiency-selected reference column, the percentile/mean/
// standard-error envelope for every row, and the "ust50" passthrough
// series the original engine always carries alongside the selected
// reference for comparison (the u*-threshold-at-50th-percentile
// candidate, outside the 40 scored here).
type Selection struct {
	ReferenceIndex int
	Reference      []float64
	Ust50          []float64
	Envelopes      []RowEnvelope
}

// Select runs the reference-selection and percentile-reduction steps
// together for one grouping (one of hh/dd/ww/mm/yy x y/c). ust50 is
// carried through unmodified; it takes no part in SelectReference or
// ReduceRows.
func Select(columns [][]float64, ust50 []float64) (Selection, error) {
	ref, err := SelectReference(columns)
	if err != nil {
		return Selection{}, err
	}
	return Selection{
		ReferenceIndex: ref,
		Reference:      columns[ref],
		Ust50:          ust50,
		Envelopes:      ReduceRows(columns),
	}, nil
}
