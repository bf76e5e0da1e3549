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

// Package siteio assembles one site-year's Dataset from a DD header
// plus its CSV body, the combination every cmd/oneflux-* binary needs
// before it can run any science package. It is the one place the DD
// parser, the CSV reader, and the Dataset's column/profile storage
// meet.
package siteio

import (
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/afero"

	oneflux "github.com/fluxnet/ONEFlux-sub001"
	"github.com/fluxnet/ONEFlux-sub001/internal/calendar"
	"github.com/fluxnet/ONEFlux-sub001/internal/csvio"
	"github.com/fluxnet/ONEFlux-sub001/internal/ddparser"
	"github.com/fluxnet/ONEFlux-sub001/oflxerr"
)

// coreColumns lists every Column the header's base names are matched
// against; anything else becomes a profile variable.
var coreColumns = []oneflux.Column{
	oneflux.ColFC, oneflux.ColLE, oneflux.ColH, oneflux.ColCO2, oneflux.ColH2O,
	oneflux.ColUStar, oneflux.ColTau, oneflux.ColSWIN, oneflux.ColPPFDIN,
	oneflux.ColLWIN, oneflux.ColLWINCalc, oneflux.ColTA, oneflux.ColVPD,
	oneflux.ColRH, oneflux.ColPA, oneflux.ColP, oneflux.ColWS, oneflux.ColWD,
	oneflux.ColSWINPOT, oneflux.ColNEE, oneflux.ColQCFOOT, oneflux.ColSC,
	oneflux.ColLWINCalcClearSky,
}

func columnByName(name string) (oneflux.Column, bool) {
	for _, c := range coreColumns {
		if c.String() == name {
			return c, true
		}
	}
	return 0, false
}

// Discover returns every *.csv file under root on fs, sorted
// lexically. Grouping by site and ordering by year happens after
// Load, since the DD header (not the filename) is authoritative for
// site/year identity.
func Discover(fs afero.Fs, root string) ([]string, error) {
	var out []string
	err := afero.Walk(fs, root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		if strings.EqualFold(filepath.Ext(path), ".csv") {
			out = append(out, path)
		}
		return nil
	})
	if err != nil {
		return nil, oflxerr.Newf(oflxerr.Io, "walking %q", root).WithCause(err)
	}
	sort.Strings(out)
	return out, nil
}

// Load reads path on fs as a DD header followed by a column-name line
// and its data rows, and returns the assembled Dataset. Recognized
// base names land in the Dataset's fixed columns; everything else
// (profile variables, and SD/N qualifier companions) lands in profile
// storage keyed by the column's tokenized base name, with a
// "_SD"/"_N" suffix appended to the kind for a qualifier column so it
// never collides with the plain value's own profile slot.
func Load(fs afero.Fs, path string) (*oneflux.Dataset, error) {
	f, err := csvio.OpenWithRetry(fs, path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	raw, err := io.ReadAll(f)
	if err != nil {
		return nil, oflxerr.Newf(oflxerr.Io, "reading %q", path).WithCause(err)
	}
	lines := strings.Split(strings.ReplaceAll(string(raw), "\r\n", "\n"), "\n")

	dd, consumed, err := ddparser.Parse(lines)
	if err != nil {
		return nil, err
	}
	if consumed >= len(lines) {
		return nil, oflxerr.New(oflxerr.MalformedHeader, "file ends after the DD header, no column-name line").WithSite(dd.Site).WithYear(dd.Year)
	}
	header, err := csvio.DiscoverHeader(lines[consumed])
	if err != nil {
		return nil, err
	}

	ds := oneflux.NewDataset(dd, dd.Year, dd.Resolution)
	body := strings.Join(lines[consumed+1:], "\n")
	reader := csvio.NewReader(strings.NewReader(body), header)

	for {
		rec, err := reader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		row, err := rowFromEnd(rec.TimestampEnd, dd.Year, dd.Resolution)
		if err != nil {
			return nil, oflxerr.Newf(oflxerr.SchemaMismatch, "%v", err).WithSite(dd.Site).WithYear(dd.Year)
		}
		if row < 0 || row >= ds.Rows {
			return nil, oflxerr.Newf(oflxerr.InvariantViolation, "row %d from timestamp %q is out of range [0,%d)", row, rec.TimestampEnd, ds.Rows).WithSite(dd.Site).WithYear(dd.Year)
		}
		for i, spec := range header.Columns {
			v := rec.Values[i]
			if spec.Qualifier == csvio.QualNone && len(spec.Indices) == 0 {
				if col, ok := columnByName(spec.Base); ok {
					ds.Raw(col)[row] = v
					continue
				}
			}
			kind := spec.Base
			if spec.Qualifier != csvio.QualNone {
				kind += "_" + spec.Qualifier.String()
			}
			idx := 0
			if len(spec.Indices) > 0 {
				idx = spec.Indices[0]
			}
			ds.Profile(kind, idx)[row] = v
		}
	}
	return ds, nil
}

func rowFromEnd(ts string, year int, res calendar.Resolution) (int, error) {
	t, err := parseTimestamp12(ts)
	if err != nil {
		return 0, err
	}
	return calendar.RowFromTimestamp(t, year, res)
}

func parseTimestamp12(s string) (calendar.Timestamp, error) {
	s = strings.TrimSpace(s)
	if len(s) != 12 {
		return calendar.Timestamp{}, oflxerr.Newf(oflxerr.SchemaMismatch, "timestamp %q is not 12 digits (YYYYMMDDhhmm)", s)
	}
	year, e1 := strconv.Atoi(s[0:4])
	month, e2 := strconv.Atoi(s[4:6])
	day, e3 := strconv.Atoi(s[6:8])
	hour, e4 := strconv.Atoi(s[8:10])
	minute, e5 := strconv.Atoi(s[10:12])
	if e1 != nil || e2 != nil || e3 != nil || e4 != nil || e5 != nil {
		return calendar.Timestamp{}, oflxerr.Newf(oflxerr.SchemaMismatch, "timestamp %q has non-numeric fields", s)
	}
	return calendar.Timestamp{Year: year, Month: month, Day: day, Hour: hour, Minute: minute}, nil
}

// SiteYear identifies one site's one year of a multi-site input
// directory.
type SiteYear struct {
	Site string
	Year int
	Path string
}

// GroupAscending loads the DD header identity (site, year) of every
// path and returns them grouped by site, each group's years sorted
// strictly ascending, matching the pipeline's "years of a site process
// in ascending order" invariant.
func GroupAscending(fs afero.Fs, paths []string) ([]SiteYear, error) {
	out := make([]SiteYear, 0, len(paths))
	for _, p := range paths {
		ds, err := Load(fs, p)
		if err != nil {
			return nil, err
		}
		out = append(out, SiteYear{Site: ds.Details.Site, Year: ds.Details.Year, Path: p})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Site != out[j].Site {
			return out[i].Site < out[j].Site
		}
		return out[i].Year < out[j].Year
	})
	return out, nil
}
