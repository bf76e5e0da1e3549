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

// Package calendar implements leap-year-aware row<->timestamp
// conversion and week/month boundary math (component A).
package calendar

import "fmt"

// Resolution is the dataset's time resolution.
type Resolution int

const (
	HalfHourly Resolution = iota
	Hourly
)

// Side selects whether a row's timestamp label is the interval start or
// the interval end. Row labels are canonically the interval end.
type Side int

const (
	Start Side = iota
	End
)

// Timestamp is an absolute instant specified down to the minute; it
// carries no seconds field and rows always fall on minute boundaries.
type Timestamp struct {
	Year, Month, Day, Hour, Minute int
}

// RowsPerDay returns 48 for half-hourly data, 24 for hourly.
func RowsPerDay(res Resolution) int {
	if res == Hourly {
		return 24
	}
	return 48
}

// minutesPerRow returns 30 for half-hourly data, 60 for hourly.
func minutesPerRow(res Resolution) int {
	return 1440 / RowsPerDay(res)
}

// IsLeap reports whether year is a leap year (Gregorian rule).
func IsLeap(year int) bool {
	return year%4 == 0 && (year%100 != 0 || year%400 == 0)
}

// DaysInYear returns 366 for leap years, 365 otherwise.
func DaysInYear(year int) int {
	if IsLeap(year) {
		return 366
	}
	return 365
}

// RowsPerYear returns the exact row count for year at resolution res.
func RowsPerYear(year int, res Resolution) int {
	return DaysInYear(year) * RowsPerDay(res)
}

// MonthLengths returns the 12 month lengths for year, with a
// leap-adjusted February.
func MonthLengths(year int) [12]int {
	ml := [12]int{31, 28, 31, 30, 31, 30, 31, 31, 30, 31, 30, 31}
	if IsLeap(year) {
		ml[1] = 29
	}
	return ml
}

// dayOfYear returns the 1-based day-of-year index for (month, day) in
// year.
func dayOfYear(month, day, year int) int {
	ml := MonthLengths(year)
	d := day
	for m := 0; m < month-1; m++ {
		d += ml[m]
	}
	return d
}

// monthDayFromDayIndex converts a 0-based day-of-year index back into
// (month, day), both 1-based.
func monthDayFromDayIndex(dayIndex int, year int) (month, day int) {
	ml := MonthLengths(year)
	rem := dayIndex
	for m := 0; m < 12; m++ {
		if rem < ml[m] {
			return m + 1, rem + 1
		}
		rem -= ml[m]
	}
	// Should not happen for a well-formed dayIndex within the year.
	return 12, ml[11]
}

// minutesFromYearStart returns the number of minutes elapsed between
// midnight on Jan 1 of `year` and ts, where ts.Year is either year or
// year+1 (the only cross-year case the calendar has to handle is the
// closed-right boundary at a year's end).
func minutesFromYearStart(ts Timestamp, year int) int {
	total := 0
	for y := year; y < ts.Year; y++ {
		total += DaysInYear(y) * 1440
	}
	doy := dayOfYear(ts.Month, ts.Day, ts.Year)
	total += (doy-1)*1440 + ts.Hour*60 + ts.Minute
	return total
}

// timestampFromMinutes converts minutes-since-midnight-Jan-1-of-year
// into a Timestamp, rolling over into year+1 when m reaches the end of
// the year (the canonical end-of-interval label for the year's last
// row).
func timestampFromMinutes(m int, year int) Timestamp {
	totalMinutes := DaysInYear(year) * 1440
	if m >= totalMinutes {
		rem := m - totalMinutes
		return Timestamp{Year: year + 1, Month: 1, Day: 1, Hour: rem / 60, Minute: rem % 60}
	}
	dayIndex := m / 1440
	rem := m % 1440
	month, day := monthDayFromDayIndex(dayIndex, year)
	return Timestamp{Year: year, Month: month, Day: day, Hour: rem / 60, Minute: rem % 60}
}

// RowFromTimestamp returns the zero-based row index within `year` at
// resolution res whose end-of-interval label is ts. Per the closed-right
// interval convention, the timestamp (year+1, 1, 1, 0, 0) maps to the
// last row of `year`.
func RowFromTimestamp(ts Timestamp, year int, res Resolution) (int, error) {
	m := minutesFromYearStart(ts, year)
	mpr := minutesPerRow(res)
	total := RowsPerYear(year, res)
	if m <= 0 || m > total*mpr {
		return 0, fmt.Errorf("calendar: timestamp %+v is outside year %d", ts, year)
	}
	if m%mpr != 0 {
		return 0, fmt.Errorf("calendar: timestamp %+v does not fall on a %s boundary", ts, res.String())
	}
	return m/mpr - 1, nil
}

// TimestampFromRow returns the interval-start or interval-end label for
// row within `year` at resolution res.
func TimestampFromRow(row int, year int, res Resolution, side Side) Timestamp {
	mpr := minutesPerRow(res)
	var m int
	if side == End {
		m = (row + 1) * mpr
	} else {
		m = row * mpr
	}
	return timestampFromMinutes(m, year)
}

// WeekIndex returns the 0-based week bucket (0..51) row falls in: weeks
// 0-50 are 7 days each, week 51 absorbs the remainder of the year.
func WeekIndex(row int, res Resolution) int {
	day := row / RowsPerDay(res)
	week := day / 7
	if week > 51 {
		week = 51
	}
	return week
}

// WeekBounds returns the [start, end) row range for week (0-based,
// 0..51) within year at resolution res. Week 51 always runs to the end
// of the year, so it absorbs whatever remainder the final 7-day block
// doesn't evenly divide (8 or 9 days depending on DaysInYear).
func WeekBounds(week int, year int, res Resolution) (start, end int) {
	rpd := RowsPerDay(res)
	start = week * 7 * rpd
	if week >= 51 {
		start = 51 * 7 * rpd
		end = RowsPerYear(year, res)
		return
	}
	end = (week + 1) * 7 * rpd
	return
}

// MonthBounds returns the [start, end) row range for calendar month
// (1-12) within year at resolution res.
func MonthBounds(month int, year int, res Resolution) (start, end int) {
	ml := MonthLengths(year)
	rpd := RowsPerDay(res)
	dayStart := 0
	for m := 0; m < month-1; m++ {
		dayStart += ml[m]
	}
	start = dayStart * rpd
	end = (dayStart + ml[month-1]) * rpd
	return
}

func (r Resolution) String() string {
	if r == Hourly {
		return "hourly"
	}
	return "halfhourly"
}
