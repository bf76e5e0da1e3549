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

// Package csvio discovers the column header of an input CSV (after the
// DD header has been consumed by ddparser), tokenizes variable names
// carrying profile indices or qualifier suffixes, and streams row
// vectors with missing-value substitution (component C).
package csvio

import (
	"bufio"
	"io"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/spf13/afero"

	"github.com/fluxnet/ONEFlux-sub001"
	"github.com/fluxnet/ONEFlux-sub001/oflxerr"
)

// Qualifier distinguishes a plain value column from its standard
// deviation or sample-count companion column.
type Qualifier int

const (
	QualNone Qualifier = iota
	QualSD
	QualN
)

func (q Qualifier) String() string {
	switch q {
	case QualSD:
		return "SD"
	case QualN:
		return "N"
	default:
		return ""
	}
}

// ColumnSpec is a tokenized header field: its base variable name, any
// trailing numeric profile indices (e.g. TS_1_2 -> indices [1, 2]), and
// its qualifier suffix.
type ColumnSpec struct {
	Raw       string
	Base      string
	Indices   []int
	Qualifier Qualifier
}

// key returns the (name, indices, attrs) triple used to detect
// duplicate columns.
func (c ColumnSpec) key() string {
	var b strings.Builder
	b.WriteString(c.Base)
	for _, i := range c.Indices {
		b.WriteByte('_')
		b.WriteString(strconv.Itoa(i))
	}
	b.WriteByte('_')
	b.WriteString(c.Qualifier.String())
	return b.String()
}

// ParseColumnName tokenizes a single header field into a ColumnSpec.
// Trailing "_SD" or "_N" segments are consumed as qualifiers first;
// any remaining trailing "_<int>" segments are consumed as profile
// indices, innermost-last (TS_1_2 -> Base "TS", Indices [1, 2]).
func ParseColumnName(raw string) ColumnSpec {
	spec := ColumnSpec{Raw: raw}
	parts := strings.Split(raw, "_")

	if len(parts) > 1 {
		switch parts[len(parts)-1] {
		case "SD":
			spec.Qualifier = QualSD
			parts = parts[:len(parts)-1]
		case "N":
			spec.Qualifier = QualN
			parts = parts[:len(parts)-1]
		}
	}

	var indices []int
	for len(parts) > 1 {
		n, err := strconv.Atoi(parts[len(parts)-1])
		if err != nil {
			break
		}
		indices = append([]int{n}, indices...)
		parts = parts[:len(parts)-1]
	}
	spec.Indices = indices
	spec.Base = strings.Join(parts, "_")
	return spec
}

// Header is the discovered shape of one dataset's data rows: the
// positions of TIMESTAMP_START/TIMESTAMP_END, and the ordered,
// duplicate-checked set of remaining variable columns.
type Header struct {
	TimestampStartCol int
	TimestampEndCol   int
	Columns           []ColumnSpec
}

// DiscoverHeader parses the column-name line (the first non-blank line
// after the DD header) into a Header. TIMESTAMP_START and
// TIMESTAMP_END are required and may appear in either order; every
// other field is tokenized via ParseColumnName, and duplicate (name,
// indices, attrs) triples are rejected.
func DiscoverHeader(line string) (Header, error) {
	fields := strings.Split(line, ",")
	h := Header{TimestampStartCol: -1, TimestampEndCol: -1}
	seen := map[string]bool{}

	for i, raw := range fields {
		name := strings.TrimSpace(raw)
		switch name {
		case "TIMESTAMP_START":
			if h.TimestampStartCol != -1 {
				return h, oflxerr.New(oflxerr.MalformedHeader, "duplicate TIMESTAMP_START column")
			}
			h.TimestampStartCol = i
			continue
		case "TIMESTAMP_END":
			if h.TimestampEndCol != -1 {
				return h, oflxerr.New(oflxerr.MalformedHeader, "duplicate TIMESTAMP_END column")
			}
			h.TimestampEndCol = i
			continue
		}
		spec := ParseColumnName(name)
		k := spec.key()
		if seen[k] {
			return h, oflxerr.Newf(oflxerr.MalformedHeader, "duplicate column %q", name)
		}
		seen[k] = true
		h.Columns = append(h.Columns, spec)
	}

	if h.TimestampStartCol == -1 || h.TimestampEndCol == -1 {
		return h, oflxerr.New(oflxerr.MalformedHeader, "header is missing TIMESTAMP_START or TIMESTAMP_END")
	}
	return h, nil
}

// Record is one tokenized data row: the raw TIMESTAMP_END field (used
// by the caller to compute the dataset row index via calendar) and the
// parsed values for every Header.Columns entry, in order, with missing
// fields substituted by oneflux.InvalidValue.
type Record struct {
	TimestampStart string
	TimestampEnd   string
	Values         []float64
}

// Reader streams Records from a discovered Header over an underlying
// line scanner.
type Reader struct {
	scanner *bufio.Scanner
	header  Header
	lineNo  int
}

// NewReader wraps an already-positioned io.Reader (i.e. the DD header
// and the column-name line have already been consumed by the caller)
// together with the Header discovered from that column-name line.
func NewReader(r io.Reader, header Header) *Reader {
	return &Reader{scanner: bufio.NewScanner(r), header: header}
}

// Next reads and tokenizes the next data row. It returns io.EOF when
// the input is exhausted. Blank lines are skipped.
func (r *Reader) Next() (Record, error) {
	for r.scanner.Scan() {
		r.lineNo++
		line := strings.TrimSpace(r.scanner.Text())
		if line == "" {
			continue
		}
		return r.parseRow(line)
	}
	if err := r.scanner.Err(); err != nil {
		return Record{}, oflxerr.Newf(oflxerr.Io, "reading row %d", r.lineNo).WithCause(err)
	}
	return Record{}, io.EOF
}

func (r *Reader) parseRow(line string) (Record, error) {
	fields := strings.Split(line, ",")
	width := 2 + len(r.header.Columns)
	if len(fields) != width {
		return Record{}, oflxerr.Newf(oflxerr.SchemaMismatch, "row %d: got %d fields, want %d", r.lineNo, len(fields), width)
	}

	rec := Record{
		TimestampStart: strings.TrimSpace(fields[r.header.TimestampStartCol]),
		TimestampEnd:   strings.TrimSpace(fields[r.header.TimestampEndCol]),
		Values:         make([]float64, len(r.header.Columns)),
	}

	col := 0
	for i, raw := range fields {
		if i == r.header.TimestampStartCol || i == r.header.TimestampEndCol {
			continue
		}
		rec.Values[col] = parseValue(raw)
		col++
	}
	return rec, nil
}

// parseValue substitutes oneflux.InvalidValue for a blank, unparseable,
// or NaN field.
func parseValue(raw string) float64 {
	s := strings.TrimSpace(raw)
	if s == "" {
		return oneflux.InvalidValue
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) {
		return oneflux.InvalidValue
	}
	return v
}

// maxOpenAttempts bounds the retrying open below; shared/network
// filesystems can surface transient "resource temporarily
// unavailable" errors on an otherwise-valid path.
const maxOpenAttempts = 5

// OpenWithRetry opens path on fs, retrying transient failures with
// exponential backoff. A context-free caller (file discovery happens
// before any per-site processing context exists) can't cancel this; it
// gives up after maxOpenAttempts.
func OpenWithRetry(fs afero.Fs, path string) (afero.File, error) {
	var f afero.File
	attempts := 0
	op := func() error {
		attempts++
		var err error
		f, err = fs.Open(path)
		if err != nil && attempts >= maxOpenAttempts {
			return backoff.Permanent(err)
		}
		return err
	}
	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = 30 * time.Second
	if err := backoff.Retry(op, b); err != nil {
		return nil, oflxerr.Newf(oflxerr.Io, "opening %q", path).WithCause(err)
	}
	return f, nil
}
