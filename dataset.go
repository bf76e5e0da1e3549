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

// Package oneflux holds the shared data model for the ONEFlux pipeline
// core: the invalid-value sentinel and its typed Optional wrapper, the
// per-site dataset details (DD), and the struct-of-arrays Dataset that
// every downstream stage (QC, MDS, derivations, aggregation, writer)
// reads and mutates.
package oneflux

import (
	"math"

	"github.com/fluxnet/ONEFlux-sub001/internal/calendar"
)

// InvalidValue is the numeric sentinel used internally for "missing".
// Hot loops may read and write it directly for cache density; every
// other caller should go through Optional[float64] so a sentinel is
// never accidentally combined arithmetically with a real value.
const InvalidValue = -9999.0

// IsInvalid reports whether v is the missing-value sentinel or NaN.
// NaN on input is folded to the sentinel by FromSentinel, but this
// helper also recognizes it directly so a stray NaN occurring mid
// computation is still caught before use.
func IsInvalid(v float64) bool {
	return v == InvalidValue || math.IsNaN(v)
}

// Optional is a typed "maybe-double" (and maybe-anything else): the
// public API boundary for values that may be missing, so a caller can
// never accidentally do arithmetic on a raw sentinel.
type Optional[T any] struct {
	value T
	valid bool
}

// Some wraps a present value.
func Some[T any](v T) Optional[T] { return Optional[T]{value: v, valid: true} }

// None returns an absent value of type T.
func None[T any]() Optional[T] { var zero T; return Optional[T]{value: zero, valid: false} }

// Get returns the wrapped value and whether it is present.
func (o Optional[T]) Get() (T, bool) { return o.value, o.valid }

// Valid reports whether o holds a present value.
func (o Optional[T]) Valid() bool { return o.valid }

// OrElse returns the wrapped value, or d if o is absent.
func (o Optional[T]) OrElse(d T) T {
	if o.valid {
		return o.value
	}
	return d
}

// FromSentinel folds the sentinel float64 (and NaN) to None; any other
// value becomes Some.
func FromSentinel(v float64) Optional[float64] {
	if IsInvalid(v) {
		return None[float64]()
	}
	return Some(v)
}

// ToSentinel is the inverse of FromSentinel, for writing back into a
// hot-loop sentinel-encoded array.
func ToSentinel(o Optional[float64]) float64 {
	if !o.Valid() {
		return InvalidValue
	}
	v, _ := o.Get()
	return v
}

// Add2 combines two optionals with f, yielding None if either input is
// absent. This is the standard shape for "arithmetic involving a
// missing value yields missing".
func Add2(a, b Optional[float64], f func(x, y float64) float64) Optional[float64] {
	av, aok := a.Get()
	bv, bok := b.Get()
	if !aok || !bok {
		return None[float64]()
	}
	return Some(f(av, bv))
}

// Column identifies one named field of an observation row.
type Column int

const (
	ColFC Column = iota
	ColLE
	ColH
	ColCO2
	ColH2O
	ColUStar
	ColTau
	ColSWIN
	ColPPFDIN
	ColLWIN
	ColLWINCalc
	ColTA
	ColVPD
	ColRH
	ColPA
	ColP
	ColWS
	ColWD
	ColSWINPOT
	ColNEE
	ColQCFOOT
	ColSC
	ColLWINCalcClearSky
	numColumns
)

var columnNames = [...]string{
	"FC", "LE", "H", "CO2", "H2O", "USTAR", "TAU", "SW_IN", "PPFD_IN",
	"LW_IN", "LW_IN_CALC", "TA", "VPD", "RH", "PA", "P", "WS", "WD",
	"SW_IN_POT", "NEE", "QC_FOOT", "SC", "LW_IN_CALC_CLEARSKY",
}

// String returns the column's canonical variable name.
func (c Column) String() string {
	if c < 0 || int(c) >= len(columnNames) {
		return "?"
	}
	return columnNames[c]
}

// QCCode is the gap-fill quality class stamped on a filled value.
type QCCode int

const (
	QCObserved QCCode = 0
	QCHigh     QCCode = 1
	QCMedium   QCCode = 2
	QCLow      QCCode = 3
)

// GapFillColumn carries the per-row annotations produced by the MDS
// engine for one gap-fillable column: the filled value, its sample
// standard deviation, a quality class, the window half-width that
// produced the fill, the count of similar samples used, and the method
// ordinal that succeeded. All slices are parallel to Dataset.Rows;
// SampleCount starts at 0, the others are sentinel/-1 encoded.
type GapFillColumn struct {
	Filled       []float64 // sentinel-encoded
	StdDev       []float64 // sentinel-encoded
	QC           []int     // -1 means no annotation (row untouched)
	Window       []int     // -1 means no annotation
	SampleCount  []int
	Method       []int // -1 means no annotation; otherwise 1..6
}

// NewGapFillColumn allocates a GapFillColumn for rows rows, with every
// slot initialized to "no annotation yet".
func NewGapFillColumn(rows int) *GapFillColumn {
	g := &GapFillColumn{
		Filled:      make([]float64, rows),
		StdDev:      make([]float64, rows),
		QC:          make([]int, rows),
		Window:      make([]int, rows),
		SampleCount: make([]int, rows),
		Method:      make([]int, rows),
	}
	for i := 0; i < rows; i++ {
		g.Filled[i] = InvalidValue
		g.StdDev[i] = InvalidValue
		g.QC[i] = -1
		g.Window[i] = -1
		g.Method[i] = -1
	}
	return g
}

// TZChange is one entry of the timezone-change list: at the given
// timestamp the UTC offset (hours) changes to UTCOffset.
type TZChange struct {
	At        calendar.Timestamp
	UTCOffset float64
}

// HeightChange is one entry of the tower-height change list.
type HeightChange struct {
	At     calendar.Timestamp
	Height float64
}

// ScNeglChange is one entry of the Sc-negligible flag change list.
type ScNeglChange struct {
	At         calendar.Timestamp
	Negligible bool
}

// DatasetDetails is the parsed "DD" header: site identity, location,
// the ordered timezone/tower-height/Sc-negligible change lists, the
// declared time resolution, and free-form notes preserved through I/O.
type DatasetDetails struct {
	Site         string
	Year         int
	Lat, Lon     float64
	Timezones    []TZChange
	TowerHeights []HeightChange
	Resolution   calendar.Resolution
	ScNegligible []ScNeglChange
	Notes        []string
}

// YearRecord describes one calendar year of a site's record and which
// upstream sources actually had a file for it. A year present in the
// site's year range but missing a source file is still materialized
// (as a Dataset with that source's columns all-missing) so downstream
// aggregation stays aligned on the calendar.
type YearRecord struct {
	Year               int
	HasERA, HasMeteo   bool
	HasNEE, HasEnergy  bool
}

// Dataset owns one site-year's rows, header, gap-fill annotations, and
// profile arrays exclusively; there is no shared mutable state across
// sites. Physical storage is struct-of-arrays keyed by Column, sized by
// Rows, matching the "simple flat arenas" design note.
type Dataset struct {
	Details    DatasetDetails
	Year       int
	Resolution calendar.Resolution
	Rows       int

	values   [numColumns][]float64
	profiles map[string]map[int][]float64

	GapFill map[Column]*GapFillColumn
}

// NewDataset allocates a Dataset for year at resolution res, with every
// column initialized to all-missing and row count fixed by the
// calendar invariant (component A).
func NewDataset(details DatasetDetails, year int, res calendar.Resolution) *Dataset {
	rows := calendar.RowsPerYear(year, res)
	d := &Dataset{
		Details:    details,
		Year:       year,
		Resolution: res,
		Rows:       rows,
		profiles:   map[string]map[int][]float64{},
		GapFill:    map[Column]*GapFillColumn{},
	}
	for c := 0; c < int(numColumns); c++ {
		d.values[c] = newMissingSlice(rows)
	}
	return d
}

func newMissingSlice(n int) []float64 {
	s := make([]float64, n)
	for i := range s {
		s[i] = InvalidValue
	}
	return s
}

// Get returns the value of column c at row, as an Optional.
func (d *Dataset) Get(c Column, row int) Optional[float64] {
	return FromSentinel(d.values[c][row])
}

// Set writes the value of column c at row.
func (d *Dataset) Set(c Column, row int, v Optional[float64]) {
	d.values[c][row] = ToSentinel(v)
}

// Raw returns the sentinel-encoded backing array for column c, for the
// hot loops (QC, MDS, aggregation) that need cache-dense iteration
// rather than per-row Optional boxing.
func (d *Dataset) Raw(c Column) []float64 { return d.values[c] }

// Profile returns the sentinel-encoded backing array for the profile
// variable `kind` (e.g. "TS" or "SWC") at index, allocating it
// all-missing on first use.
func (d *Dataset) Profile(kind string, index int) []float64 {
	m, ok := d.profiles[kind]
	if !ok {
		m = map[int][]float64{}
		d.profiles[kind] = m
	}
	s, ok := m[index]
	if !ok {
		s = newMissingSlice(d.Rows)
		m[index] = s
	}
	return s
}

// ProfileIndices returns the sorted set of indices currently allocated
// for profile variable `kind`.
func (d *Dataset) ProfileIndices(kind string) []int {
	m := d.profiles[kind]
	out := make([]int, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j-1] > out[j]; j-- {
			out[j-1], out[j] = out[j], out[j-1]
		}
	}
	return out
}

// ProfileKinds returns the set of profile variable kinds ("TS", "SWC",
// ...) that have at least one allocated index.
func (d *Dataset) ProfileKinds() []string {
	out := make([]string, 0, len(d.profiles))
	for k := range d.profiles {
		out = append(out, k)
	}
	return out
}

// GapFillFor returns the GapFillColumn for c, allocating it on first
// use.
func (d *Dataset) GapFillFor(c Column) *GapFillColumn {
	g, ok := d.GapFill[c]
	if !ok {
		g = NewGapFillColumn(d.Rows)
		d.GapFill[c] = g
	}
	return g
}
