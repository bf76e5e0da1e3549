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

// Package solar computes potential (clear-sky, top-of-atmosphere-minus-
// geometry) shortwave radiation, SW_IN_POT, at minute resolution and
// aggregates it to the dataset's resolution, shifted onto true local
// solar time around each day's solar noon (component D).
package solar

import (
	"math"

	"github.com/fluxnet/ONEFlux-sub001"
	"github.com/fluxnet/ONEFlux-sub001/internal/calendar"
)

const (
	minutesPerDay = 1440
	solarConstant = 1376.0
)

// Compute returns the SW_IN_POT series for details.Year at
// details.Resolution: one value per dataset row, always >= 0, aligned
// to true local solar time with a two-sided shift on any day a
// timezone change takes effect.
func Compute(details oneflux.DatasetDetails) []float64 {
	year := details.Year
	longitude := -details.Lon
	zone := 0.0
	if len(details.Timezones) > 0 {
		zone = -details.Timezones[0].UTCOffset
	}

	daysInYear := calendar.DaysInYear(year)
	aggrRows := 30
	if details.Resolution == calendar.Hourly {
		aggrRows = 60
	}
	rowsPerDay := minutesPerDay / aggrRows

	out := make([]float64, 0, daysInYear*rowsPerDay)
	dailyBuf := make([]float64, minutesPerDay)

	tzNext := 0
	if len(details.Timezones) > 1 {
		tzNext = 1
	}

	monthLengths := calendar.MonthLengths(year)

	for dayIdx := 0; dayIdx < daysInYear; dayIdx++ {
		for i := 0; i < minutesPerDay; i++ {
			doy := float64(dayIdx*minutesPerDay+i)/minutesPerDay + 1
			hrs := float64((dayIdx*minutesPerDay+i)%minutesPerDay) / 60.0
			dailyBuf[i] = dailyPotential(details.Lat, doy, hrs)
		}

		month, day := monthDayOfYear(dayIdx+1, monthLengths)

		if tzNext != 0 && tzNext < len(details.Timezones) &&
			details.Timezones[tzNext].At.Month == month && details.Timezones[tzNext].At.Day == day {
			h1, m1, _ := solarNoon(year, month, day, longitude, zone)
			hroz1 := 60*h1 + m1

			zone = -details.Timezones[tzNext].UTCOffset
			newTzMinute := 60*details.Timezones[tzNext].At.Hour + details.Timezones[tzNext].At.Minute
			tzNext++
			if tzNext >= len(details.Timezones) {
				tzNext = 0
			}

			h2, m2, _ := solarNoon(year, month, day, longitude, zone)
			hroz2 := 60*h2 + m2
			shiftByTwo(dailyBuf, hroz1, hroz2, newTzMinute)
		} else {
			h, m, _ := solarNoon(year, month, day, longitude, zone)
			shift(dailyBuf, 60*h+m)
		}

		for i := 0; i < rowsPerDay; i++ {
			sum := 0.0
			for j := 0; j < aggrRows; j++ {
				sum += dailyBuf[i*aggrRows+j]
			}
			out = append(out, sum/float64(aggrRows))
		}
	}

	return out
}

// monthDayOfYear converts a 1-based day-of-year to (month, day), both
// 1-based, given the year's (leap-adjusted) month lengths.
func monthDayOfYear(dayOfYear int, monthLengths [12]int) (month, day int) {
	remaining := dayOfYear
	for m, length := range monthLengths {
		if remaining <= length {
			return m + 1, remaining
		}
		remaining -= length
	}
	return 12, monthLengths[11]
}

// shift slides rpotsDaily (length 1440), whose peak sits at minute 720
// (12:00), so that the peak lands on the solar-noon minute hroz,
// zero-filling the vacated end.
func shift(rpotsDaily []float64, hroz int) {
	if hroz == 720 {
		return
	}
	row := hroz - 720
	if row > 0 {
		for i := 0; i < row; i++ {
			for y := len(rpotsDaily) - 1; y > 0; y-- {
				rpotsDaily[y] = rpotsDaily[y-1]
			}
			rpotsDaily[0] = 0
		}
	} else {
		row = -row
		for i := 0; i < row; i++ {
			for y := 1; y < len(rpotsDaily); y++ {
				rpotsDaily[y-1] = rpotsDaily[y]
			}
			rpotsDaily[len(rpotsDaily)-1] = 0
		}
	}
}

// shiftByTwo blends two independently-shifted copies of rpotsDaily
// (one for solar noon before the timezone change, one for after),
// splicing the post-change copy in starting at newTzMinute. This is
// the two-halves treatment a mid-day timezone change requires.
func shiftByTwo(rpotsDaily []float64, hroz, hroz2, newTzMinute int) {
	shifted2 := make([]float64, len(rpotsDaily))
	copy(shifted2, rpotsDaily)

	if hroz != 720 {
		shift(rpotsDaily, hroz)
	}
	if hroz2 != 720 {
		shift(shifted2, hroz2)
	}

	for i := newTzMinute; i < len(rpotsDaily); i++ {
		rpotsDaily[i] = shifted2[i]
	}
}

// dailyPotential is "rg_pot" (ECOFRUNC.PRO lineage): potential
// radiation at latitude for day-of-year d and local standard time t
// (hours), clipped at 0 below the horizon.
func dailyPotential(latitude, d, t float64) float64 {
	const pi = 3.141592654

	tthet := 2. * pi * (d - 1.) / 365.
	signedLAS := math.Abs(12. - t)
	omega := -15. * signedLAS

	declRad := 0.006918 - 0.399912*math.Cos(tthet) + 0.070257*math.Sin(tthet) -
		0.006758*math.Cos(2*tthet) + 0.000907*math.Sin(2*tthet) -
		0.002697*math.Cos(3*tthet) + 0.00148*math.Sin(3*tthet)
	latRad := latitude * pi / 180.

	thetaRad := math.Acos(math.Sin(declRad)*math.Sin(latRad) + math.Cos(declRad)*math.Cos(latRad)*math.Cos(omega*pi/180.))

	rpot := solarConstant * (1.00011 + 0.034221*math.Cos(tthet) + 0.00128*math.Sin(tthet) +
		0.000719*math.Cos(2*tthet) + 0.000077*math.Sin(2*tthet))
	rpotH := rpot * math.Cos(thetaRad)

	if rpotH > 0 {
		return rpotH
	}
	return 0.0
}

// solarNoon returns the UTC-clock-adjusted solar noon (hour, minute,
// second) at the given date, longitude (west-positive), and zone (UTC
// offset, west-positive), via the NOAA solar-position algorithm.
func solarNoon(year, month, day int, longitude, zone float64) (hour, minute, second int) {
	jd := julianDay(year, month, day)
	t := timeJulianCentury(jd)
	noon := solarNoonUTCMinutes(t, longitude) - 60*zone

	floatHour := noon / 60.0
	hour = int(math.Floor(floatHour))
	floatMinute := 60.0 * (floatHour - math.Floor(floatHour))
	minute = int(math.Floor(floatMinute))
	floatSec := 60.0 * (floatMinute - math.Floor(floatMinute))
	second = int(math.Floor(floatSec + 0.5))
	if second > 59 {
		second = 0
		minute++
	}
	return hour, minute, second
}

func julianDay(year, month, day int) float64 {
	if month <= 2 {
		year--
		month += 12
	}
	a := math.Floor(float64(year) / 100)
	b := 2 - a + math.Floor(a/4)
	return math.Floor(365.25*float64(year+4716)) + math.Floor(30.6001*float64(month+1)) + float64(day) + b - 1524.5
}

func timeJulianCentury(jd float64) float64 { return (jd - 2451545.0) / 36525.0 }

func julianCenturyToJD(t float64) float64 { return t*36525.0 + 2451545.0 }

func geomMeanLongSun(t float64) float64 {
	l0 := 280.46646 + t*(36000.76983+0.0003032*t)
	for l0 > 360.0 {
		l0 -= 360.0
	}
	for l0 < 0.0 {
		l0 += 360.0
	}
	return l0
}

func geomMeanAnomalySun(t float64) float64 {
	return 357.52911 + t*(35999.05029-0.0001537*t)
}

func eccentricityEarthOrbit(t float64) float64 {
	return 0.016708634 - t*(0.000042037+0.0000001267*t)
}

func meanObliquityOfEcliptic(t float64) float64 {
	seconds := 21.448 - t*(46.8150+t*(0.00059-t*(0.001813)))
	return 23.0 + (26.0+(seconds/60.0))/60.0
}

func obliquityCorrection(t float64) float64 {
	e0 := meanObliquityOfEcliptic(t)
	omega := 125.04 - 1934.136*t
	return e0 + 0.00256*math.Cos(degToRad(omega))
}

func equationOfTime(t float64) float64 {
	epsilon := obliquityCorrection(t)
	l0 := geomMeanLongSun(t)
	e := eccentricityEarthOrbit(t)
	m := geomMeanAnomalySun(t)
	y := math.Tan(degToRad(epsilon) / 2.0)
	y *= y

	sin2l0 := math.Sin(2.0 * degToRad(l0))
	sinm := math.Sin(degToRad(m))
	cos2l0 := math.Cos(2.0 * degToRad(l0))
	sin4l0 := math.Sin(4.0 * degToRad(l0))
	sin2m := math.Sin(2.0 * degToRad(m))

	etime := y*sin2l0 - 2.0*e*sinm + 4.0*e*y*sinm*cos2l0 - 0.5*y*y*sin4l0 - 1.25*e*e*sin2m
	return radToDeg(etime) * 4.0
}

func solarNoonUTCMinutes(t, longitude float64) float64 {
	tnoon := timeJulianCentury(julianCenturyToJD(t) + longitude/360.0)
	eqTime := equationOfTime(tnoon)
	noon := 720 + longitude*4 - eqTime

	newt := timeJulianCentury(julianCenturyToJD(t) - 0.5 + noon/1440.0)
	eqTime = equationOfTime(newt)
	return 720 + longitude*4 - eqTime
}

func degToRad(deg float64) float64 { return math.Pi * deg / 180.0 }
func radToDeg(rad float64) float64 { return 180.0 * rad / math.Pi }
