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

package ure

import (
	"github.com/fluxnet/ONEFlux-sub001"
	"github.com/fluxnet/ONEFlux-sub001/internal/calendar"
)

// co2ToCarbon converts a umolCO2 m^-2 s^-1 reco rate, once averaged
// over a day, into g C m^-2 d^-1: 12.011 g/mol * 86400 s/day * 1e-6.
const co2ToCarbon = 1.03772448

// SRPeriod is one reco aggregate at any tier (daily, weekly, monthly,
// yearly): Reco is the mean of the valid sub-periods scaled to g C
// m^-2 d^-1 (not the all-or-nothing rule the other aggregates use),
// and RecoN is the fraction of the underlying half-hourly/hourly rows
// that were valid, averaged across the period.
type SRPeriod struct {
	Reco  float64
	RecoN float64
}

// DailySR reduces a half-hourly/hourly reco series to one SRPeriod per
// day: the mean of whatever sub-rows are valid (missing only if the
// whole day is missing), and the fraction of the day's rows that were
// valid.
func DailySR(reco []float64, rowsPerDay int) []SRPeriod {
	days := len(reco) / rowsPerDay
	out := make([]SRPeriod, days)
	for d := 0; d < days; d++ {
		start := d * rowsPerDay
		sum := 0.0
		valid := 0
		for i := 0; i < rowsPerDay; i++ {
			v := reco[start+i]
			if !oneflux.IsInvalid(v) {
				sum += v
				valid++
			}
		}
		if valid == 0 {
			out[d] = SRPeriod{Reco: oneflux.InvalidValue, RecoN: 0}
			continue
		}
		out[d] = SRPeriod{
			Reco:  (sum / float64(valid)) * co2ToCarbon,
			RecoN: float64(valid) / float64(rowsPerDay),
		}
	}
	return out
}

// aggregateSR reduces a run of SRPeriods the way the original
// WeeklySR/MonthlySR/YearlySR loops do: Reco is the mean over
// whichever sub-periods are valid (INVALID only when none are), and
// RecoN is the sum of the sub-periods' RecoN divided by the full
// nominal length of the period (periodLen), not by how many of those
// sub-periods were actually valid. A day with Reco invalid always
// carries RecoN == 0, so including or excluding it from the RecoN sum
// makes no difference; this mirrors the original's own (perhaps
// unintentional) choice to divide by periodLen in every case.
func aggregateSR(daily []SRPeriod, periodLen int) SRPeriod {
	sum := 0.0
	recoNSum := 0.0
	valid := 0
	for _, d := range daily {
		if !oneflux.IsInvalid(d.Reco) {
			sum += d.Reco
			recoNSum += d.RecoN
			valid++
		}
	}
	if valid == 0 {
		return SRPeriod{Reco: oneflux.InvalidValue, RecoN: 0}
	}
	return SRPeriod{
		Reco:  sum / float64(valid),
		RecoN: recoNSum / float64(periodLen),
	}
}

// WeeklySR rolls daily SR periods up into the 51-seven-day-block-plus-
// remainder scheme (the same week-52 convention as package aggregate):
// each of the first 51 weeks aggregates exactly 7 days with RecoN
// divided by 7, and week 52 (index 51) aggregates whatever remains of
// the year with RecoN divided by that remainder's length.
func WeeklySR(daily []SRPeriod) []SRPeriod {
	out := make([]SRPeriod, 52)
	if len(daily) == 0 {
		return out
	}
	for week := 0; week < 51; week++ {
		start := week * 7
		end := start + 7
		if start > len(daily) {
			start = len(daily)
		}
		if end > len(daily) {
			end = len(daily)
		}
		out[week] = aggregateSR(daily[start:end], 7)
	}
	start := 51 * 7
	if start > len(daily) {
		start = len(daily)
	}
	remainder := len(daily) - start
	out[51] = aggregateSR(daily[start:], remainder)
	return out
}

// MonthlySR rolls daily SR periods up into calendar months, with
// RecoN divided by the calendar length of that month (29 for a leap
// February).
func MonthlySR(daily []SRPeriod, year int) []SRPeriod {
	ml := calendar.MonthLengths(year)
	out := make([]SRPeriod, 12)
	idx := 0
	for m := 0; m < 12; m++ {
		end := idx + ml[m]
		if end > len(daily) {
			end = len(daily)
		}
		out[m] = aggregateSR(daily[idx:end], ml[m])
		idx = end
	}
	return out
}

// YearlySR rolls daily SR periods up into a single whole-year
// SRPeriod, with RecoN divided by the calendar length of the year
// (365 or 366).
func YearlySR(daily []SRPeriod, year int) SRPeriod {
	y := 365
	if calendar.IsLeap(year) {
		y = 366
	}
	return aggregateSR(daily, y)
}
