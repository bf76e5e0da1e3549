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

// Package aggregate rolls half-hourly/hourly rows up through daily,
// weekly, monthly, and yearly tiers: means for physical variables,
// sums for precipitation, a QC-fraction collapse rule, and night/day
// partitioned TA statistics.
package aggregate

import (
	"math"

	"github.com/fluxnet/ONEFlux-sub001"
	"github.com/fluxnet/ONEFlux-sub001/internal/calendar"
)

// Kind selects how a column rolls up across sub-periods.
type Kind int

const (
	// Mean: the period value is the arithmetic mean of its sub-rows,
	// valid only if every sub-row is valid.
	Mean Kind = iota
	// Sum: the period value is the arithmetic sum of its sub-rows,
	// valid only if every sub-row is valid (precipitation).
	Sum
)

// Period is one aggregated interval: its [start,end) row range in the
// source resolution, the aggregated value, and whether every
// constituent sub-row was valid.
type Period struct {
	Start, End int
	Value      float64
	Valid      bool
}

// aggregateRange computes one Period over values[start:end] under
// kind's all-or-nothing validity rule.
func aggregateRange(values []float64, start, end int, kind Kind) Period {
	p := Period{Start: start, End: end, Value: oneflux.InvalidValue}
	sum := 0.0
	for i := start; i < end; i++ {
		if oneflux.IsInvalid(values[i]) {
			return p
		}
		sum += values[i]
	}
	n := end - start
	if n == 0 {
		return p
	}
	p.Valid = true
	if kind == Sum {
		p.Value = sum
	} else {
		p.Value = sum / float64(n)
	}
	return p
}

// Daily aggregates values (one row per source row) into one Period per
// calendar day, using kind's validity rule.
func Daily(values []float64, year int, res calendar.Resolution, kind Kind) []Period {
	rpd := calendar.RowsPerDay(res)
	n := calendar.RowsPerYear(year, res)
	days := n / rpd
	out := make([]Period, days)
	for day := 0; day < days; day++ {
		start := day * rpd
		end := start + rpd
		out[day] = aggregateRange(values, start, end, kind)
	}
	return out
}

// periodValues extracts the Value of each Period, with invalid periods
// folded to the sentinel so the result composes with aggregateRange's
// own all-or-nothing rule at the next tier up.
func periodValues(periods []Period) []float64 {
	out := make([]float64, len(periods))
	for i, p := range periods {
		if !p.Valid {
			out[i] = oneflux.InvalidValue
		} else {
			out[i] = p.Value
		}
	}
	return out
}

// Weekly rolls up daily periods into the 51-seven-day-block-plus-
// remainder scheme (spec's Week 52 handling): each of the first 51
// weeks is exactly 7 days, and week 52 (index 51) absorbs whatever
// remains of the year (8 or 9 days depending on DaysInYear).
// Weekly values themselves follow the all-sub-periods-valid-or-missing
// rule over the constituent daily periods.
func Weekly(daily []Period, kind Kind) []Period {
	if len(daily) == 0 {
		return make([]Period, 52)
	}
	dayValues := periodValues(daily)
	out := make([]Period, 52)
	for week := 0; week < 52; week++ {
		start := week * 7
		end := start + 7
		if week == 51 {
			end = len(daily)
		}
		if start > len(daily) {
			start = len(daily)
		}
		if end > len(daily) {
			end = len(daily)
		}
		out[week] = aggregateRange(dayValues, start, end, kind)
		out[week].Start = daily[clampIndex(start, len(daily))].Start
		if end > 0 && end <= len(daily) {
			out[week].End = daily[end-1].End
		}
	}
	return out
}

// Monthly rolls up daily periods into calendar months (Feb may be 29
// days), with the same all-sub-periods-valid-or-missing rule.
func Monthly(daily []Period, year int, kind Kind) []Period {
	ml := calendar.MonthLengths(year)
	dayValues := periodValues(daily)
	out := make([]Period, 12)
	dayIdx := 0
	for m := 0; m < 12; m++ {
		start := dayIdx
		end := start + ml[m]
		out[m] = aggregateRange(dayValues, start, end, kind)
		out[m].Start = daily[start].Start
		out[m].End = daily[end-1].End
		dayIdx = end
	}
	return out
}

// Yearly rolls up daily periods into a single whole-year Period, valid
// only if every daily value was valid (named explicitly for annual P
// in the spec, but the same all-or-nothing rule applies to every
// column at this tier).
func Yearly(daily []Period, kind Kind) Period {
	dayValues := periodValues(daily)
	p := aggregateRange(dayValues, 0, len(dayValues), kind)
	if len(daily) > 0 {
		p.Start = daily[0].Start
		p.End = daily[len(daily)-1].End
	}
	return p
}

func clampIndex(i, n int) int {
	if n == 0 {
		return 0
	}
	if i >= n {
		return n - 1
	}
	return i
}

// CollapseQC implements the QC collapse rule: codes in {0,1} map to 1
// ("good"), any other present code maps to 0, and missing codes stay
// missing. The result composes with Daily/Weekly/Monthly/Yearly(Mean)
// to produce the fraction-of-good-subrows statistic the spec
// describes for daily/weekly/monthly qc columns.
func CollapseQC(codes []float64) []float64 {
	out := make([]float64, len(codes))
	for i, c := range codes {
		if oneflux.IsInvalid(c) {
			out[i] = oneflux.InvalidValue
			continue
		}
		if c == 0 || c == 1 {
			out[i] = 1
		} else {
			out[i] = 0
		}
	}
	return out
}

// NightDayTA partitions TA into per-day night/day means and sample
// standard deviations, using swinPot[row] == 0 to classify a row as
// night. A day-part with no rows of that kind, or any invalid TA
// within it, yields an invalid mean (the same all-or-nothing rule as
// the other aggregates).
type NightDayTA struct {
	NightMean, DayMean     []float64
	NightStdDev, DayStdDev []float64
}

// ComputeNightDayTA computes the per-day partitioned TA statistics for
// one site-year.
func ComputeNightDayTA(ta, swinPot []float64, year int, res calendar.Resolution) NightDayTA {
	rpd := calendar.RowsPerDay(res)
	n := calendar.RowsPerYear(year, res)
	days := n / rpd
	out := NightDayTA{
		NightMean:   make([]float64, days),
		DayMean:     make([]float64, days),
		NightStdDev: make([]float64, days),
		DayStdDev:   make([]float64, days),
	}
	for day := 0; day < days; day++ {
		start := day * rpd
		end := start + rpd
		var nightVals, dayVals []float64
		ok := true
		for i := start; i < end; i++ {
			if oneflux.IsInvalid(ta[i]) || oneflux.IsInvalid(swinPot[i]) {
				ok = false
				continue
			}
			if swinPot[i] == 0 {
				nightVals = append(nightVals, ta[i])
			} else {
				dayVals = append(dayVals, ta[i])
			}
		}
		nm, nsd := meanStdDevOrInvalid(nightVals, ok)
		dm, dsd := meanStdDevOrInvalid(dayVals, ok)
		out.NightMean[day], out.NightStdDev[day] = nm, nsd
		out.DayMean[day], out.DayStdDev[day] = dm, dsd
	}
	return out
}

func meanStdDevOrInvalid(vals []float64, ok bool) (float64, float64) {
	if !ok || len(vals) == 0 {
		return oneflux.InvalidValue, oneflux.InvalidValue
	}
	var sum float64
	for _, v := range vals {
		sum += v
	}
	mean := sum / float64(len(vals))
	if len(vals) < 2 {
		return mean, 0
	}
	var sq float64
	for _, v := range vals {
		d := v - mean
		sq += d * d
	}
	return mean, math.Sqrt(sq / float64(len(vals)-1))
}
