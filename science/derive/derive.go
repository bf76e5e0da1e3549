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

// Package derive computes the row-level quantities that depend on more
// than one raw/gap-filled column: NEE composition from Fc and storage,
// VPD from TA/RH, a regression-based SW_IN infill from PPFD, and a
// clear-sky LW_IN estimate.
package derive

import (
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/fluxnet/ONEFlux-sub001"
	"github.com/fluxnet/ONEFlux-sub001/internal/calendar"
)

// NEE flag values, matching the composition branch that produced the
// row (spec §4.G): 1 = Fc+Sc (observed storage), 2 = Fc + a
// storage-from-top-of-tower estimate, 3 = Fc alone (Sc negligible).
const (
	NEEFlagFcPlusSc      = 1
	NEEFlagFcPlusStorage = 2
	NEEFlagFcOnly        = 3
)

const (
	neeLowerBound = -80.0
	neeUpperBound = 50.0

	gasConstant  = 8.314 // J / (mol K)
	kelvinOffset = 273.15
)

// NEEResult is the per-row outcome of NEE composition: Value is
// sentinel-encoded, Flag is -1 where NEE is missing and otherwise one
// of the NEEFlag* constants.
type NEEResult struct {
	Value []float64
	Flag  []int
}

// ComposeNEE implements the four-branch NEE composition ladder and
// writes the result into d's NEE column, returning the per-row flag
// alongside it. QC_FOOT = 0 invalidates NEE regardless of which branch
// would otherwise have produced a value.
func ComposeNEE(d *oneflux.Dataset) NEEResult {
	fc := d.Raw(oneflux.ColFC)
	sc := d.Raw(oneflux.ColSC)
	co2 := d.Raw(oneflux.ColCO2)
	pa := d.Raw(oneflux.ColPA)
	ta := d.Raw(oneflux.ColTA)
	qcFoot := d.Raw(oneflux.ColQCFOOT)
	nee := d.Raw(oneflux.ColNEE)

	res := NEEResult{Value: make([]float64, d.Rows), Flag: make([]int, d.Rows)}
	dtSeconds := float64(60 * 60)
	if d.Resolution == calendar.HalfHourly {
		dtSeconds = 30 * 60
	}

	for row := 0; row < d.Rows; row++ {
		res.Value[row] = oneflux.InvalidValue
		res.Flag[row] = -1

		fcv := fc[row]
		if oneflux.IsInvalid(fcv) {
			continue
		}

		if value, ok := composeFcPlusSc(fcv, sc[row], row, &res); ok {
			nee[row] = value
			continue
		}

		if row > 0 {
			height, hasHeight := towerHeightAtRow(d.Details, d.Resolution, row)
			if hasHeight && !oneflux.IsInvalid(co2[row]) && !oneflux.IsInvalid(co2[row-1]) &&
				!oneflux.IsInvalid(pa[row]) && !oneflux.IsInvalid(ta[row]) {
				storage := storageFromTopOfTower(height, pa[row], ta[row], co2[row], co2[row-1], dtSeconds)
				sum := fcv + storage
				if sum > neeLowerBound && sum <= neeUpperBound {
					res.Value[row] = sum
					res.Flag[row] = NEEFlagFcPlusStorage
					nee[row] = sum
					continue
				}
			}
		}

		if scNegligibleAtRow(d.Details, d.Resolution, row) {
			res.Value[row] = fcv
			res.Flag[row] = NEEFlagFcOnly
			nee[row] = fcv
			continue
		}

		nee[row] = oneflux.InvalidValue
	}

	for row := 0; row < d.Rows; row++ {
		if qcFoot[row] == 0 {
			res.Value[row] = oneflux.InvalidValue
			res.Flag[row] = -1
			nee[row] = oneflux.InvalidValue
		}
	}
	return res
}

func composeFcPlusSc(fcv, scv float64, row int, res *NEEResult) (float64, bool) {
	if oneflux.IsInvalid(scv) {
		return 0, false
	}
	sum := fcv + scv
	if sum <= neeLowerBound || sum > neeUpperBound {
		return 0, false
	}
	res.Value[row] = sum
	res.Flag[row] = NEEFlagFcPlusSc
	return sum, true
}

// storageFromTopOfTower estimates single-point storage flux from a
// two-point time derivative of CO2 mixing ratio at the top of the
// tower: the ideal-gas molar density of air (PA in kPa, TA in degC)
// times the tower height times the CO2 mixing-ratio rate of change,
// in umol m^-2 s^-1 to match Fc's units.
func storageFromTopOfTower(heightMeters, paKPa, taC, co2Now, co2Prev, dtSeconds float64) float64 {
	tk := taC + kelvinOffset
	molarDensity := (paKPa * 1000.0) / (gasConstant * tk) // mol air / m^3
	return heightMeters * molarDensity * (co2Now - co2Prev) / dtSeconds
}

func towerHeightAtRow(details oneflux.DatasetDetails, res calendar.Resolution, row int) (float64, bool) {
	if len(details.TowerHeights) == 0 {
		return 0, false
	}
	height := details.TowerHeights[0].Height
	for _, change := range details.TowerHeights {
		r, err := calendar.RowFromTimestamp(change.At, details.Year, res)
		if err != nil || r > row {
			continue
		}
		height = change.Height
	}
	return height, true
}

func scNegligibleAtRow(details oneflux.DatasetDetails, res calendar.Resolution, row int) bool {
	if len(details.ScNegligible) == 0 {
		return false
	}
	negligible := details.ScNegligible[0].Negligible
	for _, change := range details.ScNegligible {
		r, err := calendar.RowFromTimestamp(change.At, details.Year, res)
		if err != nil || r > row {
			continue
		}
		negligible = change.Negligible
	}
	return negligible
}

// VPDFromTaRh computes VPD (hPa) from air temperature (degC) and
// relative humidity (%): 6.11*exp(17.26938818*TA/(237.3+TA))*(1-RH/100).
// Missing when either input is missing.
func VPDFromTaRh(ta, rh []float64) []float64 {
	out := make([]float64, len(ta))
	for i := range ta {
		if oneflux.IsInvalid(ta[i]) || oneflux.IsInvalid(rh[i]) {
			out[i] = oneflux.InvalidValue
			continue
		}
		esat := 6.11 * math.Exp(17.26938818*ta[i]/(237.3+ta[i]))
		out[i] = esat * (1 - rh[i]/100)
	}
	return out
}

// SWInFromPPFDRatio is the fixed fallback ratio used when SW_IN is
// entirely missing for the site-year: SW_IN = 0.52 * PPFD.
const SWInFromPPFDRatio = 0.52

// SWInSlopeTolerance bounds the acceptable regression slope around
// SWInFromPPFDRatio: the fit is rejected outside
// (1/(0.52+0.2), 1/(0.52-0.2)).
const SWInSlopeTolerance = 0.2

// InfillSWINFromPPFD fills missing SW_IN rows from PPFD_IN. When SW_IN
// is fully missing across the dataset it uses the fixed ratio; when
// both are partially present, it linear-regresses SW_IN on PPFD over
// every valid pair and uses the fit only if the slope falls within the
// accepted bound. It reports whether an infill was applied and, when a
// regression ran, whether the slope passed the bound check.
func InfillSWINFromPPFD(d *oneflux.Dataset) (applied bool, slopeAccepted bool) {
	swin := d.Raw(oneflux.ColSWIN)
	ppfd := d.Raw(oneflux.ColPPFDIN)

	swinFullyMissing := true
	for _, v := range swin {
		if !oneflux.IsInvalid(v) {
			swinFullyMissing = false
			break
		}
	}

	if swinFullyMissing {
		any := false
		for i := range swin {
			if !oneflux.IsInvalid(ppfd[i]) {
				swin[i] = SWInFromPPFDRatio * ppfd[i]
				any = true
			}
		}
		return any, true
	}

	var xs, ys []float64
	for i := range swin {
		if !oneflux.IsInvalid(swin[i]) && !oneflux.IsInvalid(ppfd[i]) {
			xs = append(xs, ppfd[i])
			ys = append(ys, swin[i])
		}
	}
	if len(xs) < 2 {
		return false, false
	}

	intercept, slope := stat.LinearRegression(xs, ys, nil, false)
	lower := 1 / (SWInFromPPFDRatio + SWInSlopeTolerance)
	upper := 1 / (SWInFromPPFDRatio - SWInSlopeTolerance)
	if slope < lower || slope > upper {
		return false, false
	}

	any := false
	for i := range swin {
		if oneflux.IsInvalid(swin[i]) && !oneflux.IsInvalid(ppfd[i]) {
			swin[i] = intercept + slope*ppfd[i]
			any = true
		}
	}
	return any, true
}

const (
	stefanBoltzmann  = 5.6696e-8
	vpHPaFloorPascal = 3.3546e-4
)

// LWINClearSky computes the Campbell clear-sky LW_IN estimate (spec
// §4.G): a daily mean fractional-APAR proxy (SW_IN/SW_IN_POT,
// clipped at 0) drives a cloud-cover correction applied to a
// Brunt-style clear-sky emissivity, propagated to night rows via the
// same day's daily mean. Output is clamped to (10, 1000) W/m^2 and
// sentinel wherever TA or VPD is missing.
func LWINClearSky(d *oneflux.Dataset) []float64 {
	swin := d.Raw(oneflux.ColSWIN)
	pot := d.Raw(oneflux.ColSWINPOT)
	ta := d.Raw(oneflux.ColTA)
	vpd := d.Raw(oneflux.ColVPD)

	rowsPerDay := calendar.RowsPerDay(d.Resolution)
	out := make([]float64, d.Rows)
	for i := range out {
		out[i] = oneflux.InvalidValue
	}

	for dayStart := 0; dayStart < d.Rows; dayStart += rowsPerDay {
		dayEnd := dayStart + rowsPerDay
		if dayEnd > d.Rows {
			dayEnd = d.Rows
		}
		fapar := dailyFAPAR(swin[dayStart:dayEnd], pot[dayStart:dayEnd])
		cloudCover := clip(1-(fapar-0.5)/0.4, 0, 1)
		rCloud := 1 + 0.22*cloudCover*cloudCover

		for row := dayStart; row < dayEnd; row++ {
			if oneflux.IsInvalid(ta[row]) || oneflux.IsInvalid(vpd[row]) {
				continue
			}
			tk := ta[row] + kelvinOffset
			esat := 611 * math.Exp(17.27*ta[row]/(ta[row]+kelvinOffset-36))
			vp := esat - 100*vpd[row]
			if vp < vpHPaFloorPascal {
				vp = vpHPaFloorPascal
			}
			epsA := 0.64 * math.Pow(vp/tk, 1.0/7.0)
			lw := rCloud * epsA * stefanBoltzmann * tk * tk * tk * tk
			out[row] = clip(lw, 10, 1000)
		}
	}
	return out
}

// dailyFAPAR averages SW_IN/SW_IN_POT over valid daytime rows of one
// day (SW_IN_POT > 0), clipped at 0; a day with no valid daytime rows
// yields 0.
func dailyFAPAR(swin, pot []float64) float64 {
	var sum float64
	count := 0
	for i := range swin {
		if oneflux.IsInvalid(swin[i]) || oneflux.IsInvalid(pot[i]) || pot[i] <= 0 {
			continue
		}
		ratio := swin[i] / pot[i]
		if ratio < 0 {
			ratio = 0
		}
		sum += ratio
		count++
	}
	if count == 0 {
		return 0
	}
	return sum / float64(count)
}

func clip(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
