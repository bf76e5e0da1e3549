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

// Package ddparser reads the dataset-details (DD) key/value header that
// precedes every input CSV: site, year, lat/lon, timezone list, tower
// heights, time resolution, and Sc-negligible intervals (component B).
package ddparser

import (
	"strconv"
	"strings"

	oneflux "github.com/fluxnet/ONEFlux-sub001"
	"github.com/fluxnet/ONEFlux-sub001/internal/calendar"
	"github.com/fluxnet/ONEFlux-sub001/oflxerr"
)

// orderedKeys is the fixed key order the header must follow. "notes" is
// repeatable and may appear zero or more times at its position.
var orderedKeys = []string{"site", "year", "lat", "lon", "timezone", "htower", "timeres", "sc_negl", "notes"}

// Parse reads the DD header from lines, starting at line 0, and returns
// the parsed details plus the number of leading lines that were
// consumed as header. The caller (the CSV record reader) continues
// reading from lines[consumed:].
func Parse(lines []string) (dd oneflux.DatasetDetails, consumed int, err error) {
	dd = oneflux.DatasetDetails{}
	seen := map[string]bool{}
	i := 0

	nextKeyIdx := 0 // index into orderedKeys of the next required (non-notes) key

	for i < len(lines) {
		line := strings.TrimSpace(lines[i])
		if line == "" {
			break
		}
		tokens := strings.Split(line, ",")
		key := strings.ToLower(strings.TrimSpace(tokens[0]))
		values := tokens[1:]

		if key == "notes" && nextKeyIdx == len(orderedKeys)-1 {
			note := strings.TrimSpace(strings.Join(values, ","))
			dd.Notes = append(dd.Notes, note)
			seen["notes"] = true
			i++
			continue
		}

		if nextKeyIdx >= len(orderedKeys) || key != orderedKeys[nextKeyIdx] {
			// Not a recognized key in sequence: the header has ended.
			break
		}

		switch key {
		case "site":
			if len(values) == 0 {
				return dd, i, oflxerr.New(oflxerr.MalformedHeader, "site: missing value")
			}
			dd.Site = strings.TrimSpace(values[0])
		case "year":
			y, perr := strconv.Atoi(strings.TrimSpace(firstOrEmpty(values)))
			if perr != nil {
				return dd, i, oflxerr.Newf(oflxerr.MalformedHeader, "year: unparseable value %q", firstOrEmpty(values)).WithCause(perr)
			}
			dd.Year = y
		case "lat":
			v, perr := strconv.ParseFloat(strings.TrimSpace(firstOrEmpty(values)), 64)
			if perr != nil {
				return dd, i, oflxerr.Newf(oflxerr.MalformedHeader, "lat: unparseable value %q", firstOrEmpty(values)).WithCause(perr)
			}
			dd.Lat = v
		case "lon":
			v, perr := strconv.ParseFloat(strings.TrimSpace(firstOrEmpty(values)), 64)
			if perr != nil {
				return dd, i, oflxerr.Newf(oflxerr.MalformedHeader, "lon: unparseable value %q", firstOrEmpty(values)).WithCause(perr)
			}
			dd.Lon = v
		case "timezone":
			tzs, perr := parseTZChanges(values, dd.Year)
			if perr != nil {
				return dd, i, perr
			}
			dd.Timezones = tzs
		case "htower":
			hs, perr := parseHeightChanges(values, dd.Year)
			if perr != nil {
				return dd, i, perr
			}
			dd.TowerHeights = hs
		case "timeres":
			res, perr := parseTimeRes(firstOrEmpty(values))
			if perr != nil {
				return dd, i, perr
			}
			dd.Resolution = res
		case "sc_negl":
			scs, perr := parseScNeglChanges(values, dd.Year)
			if perr != nil {
				return dd, i, perr
			}
			dd.ScNegligible = scs
		}
		seen[key] = true
		nextKeyIdx++
		i++
	}

	for _, k := range []string{"site", "year", "lat", "lon", "timezone", "htower", "timeres", "sc_negl"} {
		if !seen[k] {
			return dd, i, oflxerr.Newf(oflxerr.MalformedHeader, "missing required DD key %q", k)
		}
	}

	return dd, i, nil
}

func firstOrEmpty(v []string) string {
	if len(v) == 0 {
		return ""
	}
	return v[0]
}

// startOfYear is the default timestamp used when a timezone/htower/
// sc_negl entry omits its timestamp: "entire year starting at the
// first valid row". Row 0's start-of-interval label is Jan 1 00:00
// regardless of the dataset's time resolution, so this doesn't depend
// on timeres (which may not even be parsed yet at this point in the
// header).
func startOfYear(year int) calendar.Timestamp {
	return calendar.Timestamp{Year: year, Month: 1, Day: 1, Hour: 0, Minute: 0}
}

func parseTimestamp12(s string) (calendar.Timestamp, error) {
	s = strings.TrimSpace(s)
	if len(s) != 12 {
		return calendar.Timestamp{}, oflxerr.Newf(oflxerr.MalformedHeader, "timestamp %q is not 12 digits (YYYYMMDDhhmm)", s)
	}
	year, err1 := strconv.Atoi(s[0:4])
	month, err2 := strconv.Atoi(s[4:6])
	day, err3 := strconv.Atoi(s[6:8])
	hour, err4 := strconv.Atoi(s[8:10])
	minute, err5 := strconv.Atoi(s[10:12])
	if err1 != nil || err2 != nil || err3 != nil || err4 != nil || err5 != nil {
		return calendar.Timestamp{}, oflxerr.Newf(oflxerr.MalformedHeader, "timestamp %q has non-numeric fields", s)
	}
	return calendar.Timestamp{Year: year, Month: month, Day: day, Hour: hour, Minute: minute}, nil
}

func parseTZChanges(values []string, year int) ([]oneflux.TZChange, error) {
	if len(values) == 1 {
		v, err := strconv.ParseFloat(strings.TrimSpace(values[0]), 64)
		if err != nil {
			return nil, oflxerr.Newf(oflxerr.MalformedHeader, "timezone: unparseable offset %q", values[0]).WithCause(err)
		}
		return []oneflux.TZChange{{At: startOfYear(year), UTCOffset: v}}, nil
	}
	if len(values) == 0 || len(values)%2 != 0 {
		return nil, oflxerr.Newf(oflxerr.MalformedHeader, "timezone: expected (timestamp,value) pairs or a single value, got %d fields", len(values))
	}
	out := make([]oneflux.TZChange, 0, len(values)/2)
	for i := 0; i < len(values); i += 2 {
		ts, err := parseTimestamp12(values[i])
		if err != nil {
			return nil, err
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(values[i+1]), 64)
		if err != nil {
			return nil, oflxerr.Newf(oflxerr.MalformedHeader, "timezone: unparseable offset %q", values[i+1]).WithCause(err)
		}
		out = append(out, oneflux.TZChange{At: ts, UTCOffset: v})
	}
	return sortedTZ(out), nil
}

func parseHeightChanges(values []string, year int) ([]oneflux.HeightChange, error) {
	if len(values) == 1 {
		v, err := strconv.ParseFloat(strings.TrimSpace(values[0]), 64)
		if err != nil {
			return nil, oflxerr.Newf(oflxerr.MalformedHeader, "htower: unparseable height %q", values[0]).WithCause(err)
		}
		return []oneflux.HeightChange{{At: startOfYear(year), Height: v}}, nil
	}
	if len(values) == 0 || len(values)%2 != 0 {
		return nil, oflxerr.Newf(oflxerr.MalformedHeader, "htower: expected (timestamp,value) pairs or a single value, got %d fields", len(values))
	}
	out := make([]oneflux.HeightChange, 0, len(values)/2)
	for i := 0; i < len(values); i += 2 {
		ts, err := parseTimestamp12(values[i])
		if err != nil {
			return nil, err
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(values[i+1]), 64)
		if err != nil {
			return nil, oflxerr.Newf(oflxerr.MalformedHeader, "htower: unparseable height %q", values[i+1]).WithCause(err)
		}
		out = append(out, oneflux.HeightChange{At: ts, Height: v})
	}
	return out, nil
}

func parseScNeglChanges(values []string, year int) ([]oneflux.ScNeglChange, error) {
	parseFlag := func(s string) (bool, error) {
		s = strings.TrimSpace(s)
		switch s {
		case "0":
			return false, nil
		case "1":
			return true, nil
		default:
			return false, oflxerr.Newf(oflxerr.MalformedHeader, "sc_negl: flag must be 0 or 1, got %q", s)
		}
	}
	if len(values) == 1 {
		v, err := parseFlag(values[0])
		if err != nil {
			return nil, err
		}
		return []oneflux.ScNeglChange{{At: startOfYear(year), Negligible: v}}, nil
	}
	if len(values) == 0 || len(values)%2 != 0 {
		return nil, oflxerr.Newf(oflxerr.MalformedHeader, "sc_negl: expected (timestamp,flag) pairs or a single flag, got %d fields", len(values))
	}
	out := make([]oneflux.ScNeglChange, 0, len(values)/2)
	for i := 0; i < len(values); i += 2 {
		ts, err := parseTimestamp12(values[i])
		if err != nil {
			return nil, err
		}
		v, err := parseFlag(values[i+1])
		if err != nil {
			return nil, err
		}
		out = append(out, oneflux.ScNeglChange{At: ts, Negligible: v})
	}
	return out, nil
}

func parseTimeRes(s string) (calendar.Resolution, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "halfhourly":
		return calendar.HalfHourly, nil
	case "hourly":
		return calendar.Hourly, nil
	case "spot", "quaterhourly", "daily", "monthly":
		return 0, oflxerr.Newf(oflxerr.MalformedHeader, "timeres %q is a recognized resolution but unsupported by the core (only halfhourly and hourly)", s)
	default:
		return 0, oflxerr.Newf(oflxerr.MalformedHeader, "timeres: unknown value %q", s)
	}
}

// sortedTZ returns tzs sorted ascending by timestamp, satisfying the
// "Timezone list is sorted ascending by timestamp" invariant even if
// the header listed entries out of order.
func sortedTZ(tzs []oneflux.TZChange) []oneflux.TZChange {
	out := make([]oneflux.TZChange, len(tzs))
	copy(out, tzs)
	key := func(t calendar.Timestamp) [5]int { return [5]int{t.Year, t.Month, t.Day, t.Hour, t.Minute} }
	for i := 1; i < len(out); i++ {
		for j := i; j > 0; j-- {
			if lessKey(key(out[j].At), key(out[j-1].At)) {
				out[j-1], out[j] = out[j], out[j-1]
			} else {
				break
			}
		}
	}
	return out
}

func lessKey(a, b [5]int) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}
