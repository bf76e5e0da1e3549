package oneflux

import (
	"testing"

	"github.com/fluxnet/ONEFlux-sub001/internal/calendar"
)

func TestOptionalRoundTrip(t *testing.T) {
	o := FromSentinel(12.5)
	if !o.Valid() {
		t.Fatal("expected valid")
	}
	if v, _ := o.Get(); v != 12.5 {
		t.Errorf("got %v, want 12.5", v)
	}
	if ToSentinel(o) != 12.5 {
		t.Errorf("ToSentinel round-trip failed")
	}

	missing := FromSentinel(InvalidValue)
	if missing.Valid() {
		t.Error("expected invalid for sentinel")
	}
	nan := FromSentinel(notANumber())
	if nan.Valid() {
		t.Error("expected NaN to fold to invalid")
	}
	if ToSentinel(None[float64]()) != InvalidValue {
		t.Error("ToSentinel(None) should be the sentinel")
	}
}

func notANumber() float64 {
	var x float64
	return x / x
}

func TestAdd2PropagatesMissing(t *testing.T) {
	sum := func(a, b float64) float64 { return a + b }
	if v := Add2(Some(1.0), Some(2.0), sum); !v.Valid() {
		t.Fatal("expected valid result")
	} else if x, _ := v.Get(); x != 3.0 {
		t.Errorf("got %v, want 3.0", x)
	}
	if v := Add2(Some(1.0), None[float64](), sum); v.Valid() {
		t.Error("expected missing to propagate")
	}
}

func TestNewDatasetAllocatesAllMissing(t *testing.T) {
	d := NewDataset(DatasetDetails{Site: "US-TST", Year: 2010}, 2010, calendar.HalfHourly)
	if d.Rows != 17520 {
		t.Fatalf("got %d rows, want 17520", d.Rows)
	}
	if v := d.Get(ColTA, 0); v.Valid() {
		t.Error("expected TA to start all-missing")
	}
	d.Set(ColTA, 0, Some(10.0))
	if v := d.Get(ColTA, 0); !v.Valid() {
		t.Fatal("expected TA[0] to be set")
	} else if x, _ := v.Get(); x != 10.0 {
		t.Errorf("got %v, want 10.0", x)
	}
}

func TestProfileArraysAllocateLazily(t *testing.T) {
	d := NewDataset(DatasetDetails{}, 2010, calendar.HalfHourly)
	ts2 := d.Profile("TS", 2)
	if len(ts2) != d.Rows {
		t.Fatalf("got len %d, want %d", len(ts2), d.Rows)
	}
	ts2[0] = 15.0
	if got := d.Profile("TS", 2)[0]; got != 15.0 {
		t.Errorf("profile array not persisted, got %v", got)
	}
	if idx := d.ProfileIndices("TS"); len(idx) != 1 || idx[0] != 2 {
		t.Errorf("got indices %v, want [2]", idx)
	}
}

func TestGapFillForAllocatesNoAnnotation(t *testing.T) {
	d := NewDataset(DatasetDetails{}, 2010, calendar.HalfHourly)
	g := d.GapFillFor(ColTA)
	if g.QC[0] != -1 || g.Method[0] != -1 || g.Window[0] != -1 {
		t.Error("expected fresh GapFillColumn to have no annotation")
	}
}
