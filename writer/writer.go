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

// Package writer emits one CSV per aggregation tier with a frozen
// column schema (TIMESTAMP_START, TIMESTAMP_END, then every named
// column in caller-given order) plus an "_info.txt" sidecar of
// descriptive headers and a per-site stat block (component J).
// Writers are purely functional: given an in-memory Table they produce
// deterministic byte output and touch nothing else.
package writer

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/spf13/afero"

	"github.com/fluxnet/ONEFlux-sub001/internal/calendar"
	"github.com/fluxnet/ONEFlux-sub001/oflxerr"
)

// Precision selects how a column's values are formatted: physical
// variables carry 3 decimal digits, QC/flag codes use %g (spec §6).
type Precision int

const (
	Physical Precision = iota
	QC
)

// ProfileSuffix builds a profile variable's frozen column name: base,
// its numeric depth/index suffixes, then its role suffix, e.g.
// ProfileSuffix("TS", []int{2}, "f") -> "TS_2_f" and
// ProfileSuffix("SWC", []int{1}, "fqc") -> "SWC_1_fqc".
func ProfileSuffix(base string, indices []int, role string) string {
	var b strings.Builder
	b.WriteString(base)
	for _, i := range indices {
		b.WriteByte('_')
		b.WriteString(strconv.Itoa(i))
	}
	if role != "" {
		b.WriteByte('_')
		b.WriteString(role)
	}
	return b.String()
}

// Column is one frozen-schema output column: its header name, a
// Precision selecting how its cells are formatted, and the row values
// themselves (oneflux.InvalidValue prints the same way as any other
// value, matching the original engine's plain "-9999" cell).
type Column struct {
	Name      string
	Precision Precision
	Values    []float64
}

// Table is everything needed to write one tier's CSV: the row count,
// the calendar year and resolution used to derive TIMESTAMP_START/END
// for each row, and the columns themselves in frozen output order.
type Table struct {
	Year       int
	Resolution calendar.Resolution
	Rows       int
	Columns    []Column
}

func formatTimestamp(ts calendar.Timestamp) string {
	return fmt.Sprintf("%04d%02d%02d%02d%02d", ts.Year, ts.Month, ts.Day, ts.Hour, ts.Minute)
}

func formatValue(v float64, p Precision) string {
	if p == QC {
		return strconv.FormatFloat(v, 'g', -1, 64)
	}
	return strconv.FormatFloat(v, 'f', 3, 64)
}

// WriteCSV writes t to path on fs: a header row of
// TIMESTAMP_START,TIMESTAMP_END,<column names...> followed by one data
// row per t.Rows. Every column must have exactly t.Rows values.
func WriteCSV(fs afero.Fs, path string, t Table) error {
	for _, c := range t.Columns {
		if len(c.Values) != t.Rows {
			return oflxerr.Newf(oflxerr.SchemaMismatch, "column %q has %d values, want %d", c.Name, len(c.Values), t.Rows).WithColumn(c.Name)
		}
	}

	f, err := openForWriteWithRetry(fs, path)
	if err != nil {
		return err
	}
	defer f.Close()

	var b strings.Builder
	b.WriteString("TIMESTAMP_START,TIMESTAMP_END")
	for _, c := range t.Columns {
		b.WriteByte(',')
		b.WriteString(c.Name)
	}
	b.WriteByte('\n')

	for row := 0; row < t.Rows; row++ {
		start := calendar.TimestampFromRow(row, t.Year, t.Resolution, calendar.Start)
		end := calendar.TimestampFromRow(row, t.Year, t.Resolution, calendar.End)
		b.WriteString(formatTimestamp(start))
		b.WriteByte(',')
		b.WriteString(formatTimestamp(end))
		for _, c := range t.Columns {
			b.WriteByte(',')
			b.WriteString(formatValue(c.Values[row], c.Precision))
		}
		b.WriteByte('\n')
	}

	if _, err := f.WriteString(b.String()); err != nil {
		return oflxerr.Newf(oflxerr.Io, "writing %q", path).WithCause(err)
	}
	return nil
}

// InfoStat is one line of the per-site stat block in an _info.txt
// sidecar: a label (e.g. "NEE_filled_pct") and its formatted value.
type InfoStat struct {
	Label string
	Value string
}

// Info is the descriptive sidecar content written alongside a Table's
// CSV: free-form header lines (site identity, processing notes) plus
// the per-site stat block.
type Info struct {
	Headers []string
	Stats   []InfoStat
}

// WriteInfo writes the "_info.txt" sidecar for a table: one header
// line per Info.Headers entry, a blank separator, then one
// "label: value" line per Info.Stats entry.
func WriteInfo(fs afero.Fs, path string, info Info) error {
	f, err := openForWriteWithRetry(fs, path)
	if err != nil {
		return err
	}
	defer f.Close()

	var b strings.Builder
	for _, h := range info.Headers {
		b.WriteString(h)
		b.WriteByte('\n')
	}
	if len(info.Headers) > 0 && len(info.Stats) > 0 {
		b.WriteByte('\n')
	}
	for _, s := range info.Stats {
		b.WriteString(s.Label)
		b.WriteString(": ")
		b.WriteString(s.Value)
		b.WriteByte('\n')
	}

	if _, err := f.WriteString(b.String()); err != nil {
		return oflxerr.Newf(oflxerr.Io, "writing %q", path).WithCause(err)
	}
	return nil
}

// maxCreateAttempts mirrors csvio.OpenWithRetry's bound on the write
// side: a destination directory on a shared filesystem can surface the
// same transient failures a read would.
const maxCreateAttempts = 5

func openForWriteWithRetry(fs afero.Fs, path string) (afero.File, error) {
	var f afero.File
	attempts := 0
	op := func() error {
		attempts++
		var err error
		f, err = fs.Create(path)
		if err != nil && attempts >= maxCreateAttempts {
			return backoff.Permanent(err)
		}
		return err
	}
	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = 30 * time.Second
	if err := backoff.Retry(op, b); err != nil {
		return nil, oflxerr.Newf(oflxerr.Io, "creating %q", path).WithCause(err)
	}
	return f, nil
}
