package derive

import (
	"math"
	"testing"

	"github.com/fluxnet/ONEFlux-sub001"
	"github.com/fluxnet/ONEFlux-sub001/internal/calendar"
)

func newTestDataset() *oneflux.Dataset {
	details := oneflux.DatasetDetails{Year: 2010}
	return oneflux.NewDataset(details, 2010, calendar.HalfHourly)
}

func TestComposeNEEUsesFcPlusScWhenValid(t *testing.T) {
	d := newTestDataset()
	d.Raw(oneflux.ColFC)[10] = 5.0
	d.Raw(oneflux.ColSC)[10] = 1.0
	for i := range d.Raw(oneflux.ColQCFOOT) {
		d.Raw(oneflux.ColQCFOOT)[i] = 1
	}
	res := ComposeNEE(d)
	if res.Flag[10] != NEEFlagFcPlusSc {
		t.Fatalf("got flag %d, want %d", res.Flag[10], NEEFlagFcPlusSc)
	}
	if res.Value[10] != 6.0 {
		t.Fatalf("got NEE %v, want 6.0", res.Value[10])
	}
	if d.Raw(oneflux.ColNEE)[10] != 6.0 {
		t.Error("expected NEE column to be written")
	}
}

func TestComposeNEERejectsOutOfRangeSum(t *testing.T) {
	d := newTestDataset()
	d.Raw(oneflux.ColFC)[10] = 40.0
	d.Raw(oneflux.ColSC)[10] = 40.0 // sum 80 > 50, branch 1 must reject
	for i := range d.Raw(oneflux.ColQCFOOT) {
		d.Raw(oneflux.ColQCFOOT)[i] = 1
	}
	res := ComposeNEE(d)
	if res.Flag[10] == NEEFlagFcPlusSc {
		t.Fatal("expected branch 1 to reject an out-of-range sum")
	}
}

func TestComposeNEEFallsBackToStorageFromTopOfTower(t *testing.T) {
	d := newTestDataset()
	d.Details.TowerHeights = []oneflux.HeightChange{{
		At:     calendar.Timestamp{Year: 2010, Month: 1, Day: 1},
		Height: 30,
	}}
	for i := range d.Raw(oneflux.ColQCFOOT) {
		d.Raw(oneflux.ColQCFOOT)[i] = 1
	}
	d.Raw(oneflux.ColFC)[11] = 2.0
	// SC left missing so branch 1 can't apply.
	d.Raw(oneflux.ColCO2)[10] = 400.0
	d.Raw(oneflux.ColCO2)[11] = 400.2
	d.Raw(oneflux.ColPA)[11] = 95.0
	d.Raw(oneflux.ColTA)[11] = 20.0

	res := ComposeNEE(d)
	if res.Flag[11] != NEEFlagFcPlusStorage {
		t.Fatalf("got flag %d, want %d (storage estimate)", res.Flag[11], NEEFlagFcPlusStorage)
	}
}

func TestComposeNEEUsesFcOnlyWhenScNegligible(t *testing.T) {
	d := newTestDataset()
	d.Details.ScNegligible = []oneflux.ScNeglChange{{
		At:         calendar.Timestamp{Year: 2010, Month: 1, Day: 1},
		Negligible: true,
	}}
	for i := range d.Raw(oneflux.ColQCFOOT) {
		d.Raw(oneflux.ColQCFOOT)[i] = 1
	}
	d.Raw(oneflux.ColFC)[10] = 3.5
	res := ComposeNEE(d)
	if res.Flag[10] != NEEFlagFcOnly {
		t.Fatalf("got flag %d, want %d", res.Flag[10], NEEFlagFcOnly)
	}
	if res.Value[10] != 3.5 {
		t.Errorf("got %v, want 3.5", res.Value[10])
	}
}

func TestComposeNEEMissingWhenNoBranchApplies(t *testing.T) {
	d := newTestDataset()
	for i := range d.Raw(oneflux.ColQCFOOT) {
		d.Raw(oneflux.ColQCFOOT)[i] = 1
	}
	d.Raw(oneflux.ColFC)[10] = 3.5 // no Sc, no height, not Sc-negligible
	res := ComposeNEE(d)
	if res.Flag[10] != -1 {
		t.Fatalf("got flag %d, want -1 (missing)", res.Flag[10])
	}
	if !oneflux.IsInvalid(res.Value[10]) {
		t.Error("expected NEE to remain missing")
	}
}

func TestComposeNEEQCFootZeroInvalidatesRegardlessOfBranch(t *testing.T) {
	d := newTestDataset()
	d.Details.ScNegligible = []oneflux.ScNeglChange{{
		At:         calendar.Timestamp{Year: 2010, Month: 1, Day: 1},
		Negligible: true,
	}}
	d.Raw(oneflux.ColFC)[10] = 3.5
	d.Raw(oneflux.ColQCFOOT)[10] = 0 // bad footprint
	res := ComposeNEE(d)
	if res.Flag[10] != -1 || !oneflux.IsInvalid(res.Value[10]) {
		t.Error("expected QC_FOOT=0 to invalidate NEE even though branch 3 would apply")
	}
}

func TestVPDFromTaRhMatchesFormula(t *testing.T) {
	ta := []float64{20.0}
	rh := []float64{50.0}
	got := VPDFromTaRh(ta, rh)
	esat := 6.11 * math.Exp(17.26938818*20.0/(237.3+20.0))
	want := esat * 0.5
	if math.Abs(got[0]-want) > 1e-9 {
		t.Errorf("got %v, want %v", got[0], want)
	}
}

func TestVPDFromTaRhMissingWhenInputMissing(t *testing.T) {
	ta := []float64{oneflux.InvalidValue}
	rh := []float64{50.0}
	got := VPDFromTaRh(ta, rh)
	if !oneflux.IsInvalid(got[0]) {
		t.Error("expected missing TA to propagate to missing VPD")
	}
}

func TestInfillSWINFromPPFDUsesFixedRatioWhenFullyMissing(t *testing.T) {
	d := newTestDataset()
	d.Raw(oneflux.ColPPFDIN)[0] = 100.0
	applied, accepted := InfillSWINFromPPFD(d)
	if !applied || !accepted {
		t.Fatal("expected the fixed-ratio fallback to apply")
	}
	want := SWInFromPPFDRatio * 100.0
	if d.Raw(oneflux.ColSWIN)[0] != want {
		t.Errorf("got %v, want %v", d.Raw(oneflux.ColSWIN)[0], want)
	}
}

func TestInfillSWINFromPPFDRegressesWhenSlopeWithinBound(t *testing.T) {
	// The literal spec bound (1/(0.52+0.2), 1/(0.52-0.2)) only admits a
	// SW_IN-on-PPFD slope around 1.4-3.1, not the realistic ~0.52
	// physical ratio (see DESIGN.md); this exercises the threshold
	// logic with a synthetic in-bound slope.
	d := newTestDataset()
	for i := 0; i < 10; i++ {
		d.Raw(oneflux.ColPPFDIN)[i] = float64(100 * (i + 1))
		d.Raw(oneflux.ColSWIN)[i] = 2.0 * float64(100*(i+1))
	}
	d.Raw(oneflux.ColPPFDIN)[20] = 500.0 // SW_IN missing here, to be infilled
	applied, accepted := InfillSWINFromPPFD(d)
	if !applied || !accepted {
		t.Fatal("expected the regression fit to apply")
	}
	got := d.Raw(oneflux.ColSWIN)[20]
	if math.Abs(got-1000.0) > 5.0 {
		t.Errorf("got %v, want ~1000 from the slope-2.0 fit", got)
	}
}

func TestInfillSWINFromPPFDRejectsRealisticPhysicalSlope(t *testing.T) {
	// A realistic SW_IN = 0.52*PPFD relationship produces a slope of
	// 0.52, which falls outside the literal spec bound; per the URE
	// SR-divisor precedent this is reproduced as-is rather than
	// "corrected", and documented in DESIGN.md.
	d := newTestDataset()
	for i := 0; i < 10; i++ {
		d.Raw(oneflux.ColPPFDIN)[i] = float64(100 * (i + 1))
		d.Raw(oneflux.ColSWIN)[i] = 0.52 * float64(100*(i+1))
	}
	d.Raw(oneflux.ColPPFDIN)[20] = 500.0
	applied, accepted := InfillSWINFromPPFD(d)
	if applied || accepted {
		t.Fatal("expected the realistic 0.52 slope to be rejected under the literal bound")
	}
	if !oneflux.IsInvalid(d.Raw(oneflux.ColSWIN)[20]) {
		t.Error("expected row 20 to remain missing after a rejected fit")
	}
}

func TestLWINClearSkyClampedAndMissingWithoutInputs(t *testing.T) {
	d := newTestDataset()
	d.Raw(oneflux.ColTA)[0] = 15.0
	d.Raw(oneflux.ColVPD)[0] = 8.0
	d.Raw(oneflux.ColSWIN)[20] = 400.0
	d.Raw(oneflux.ColSWINPOT)[20] = 500.0

	out := LWINClearSky(d)
	if oneflux.IsInvalid(out[0]) == false && (out[0] < 10 || out[0] > 1000) {
		t.Errorf("got %v, want clamped to [10,1000]", out[0])
	}
	if !oneflux.IsInvalid(out[1]) {
		t.Error("expected row without TA/VPD to remain missing")
	}
}

func TestDailyFAPARZeroWhenNoDaytimeRows(t *testing.T) {
	swin := make([]float64, 48)
	pot := make([]float64, 48)
	for i := range swin {
		swin[i] = oneflux.InvalidValue
		pot[i] = 0
	}
	got := dailyFAPAR(swin, pot)
	if got != 0 {
		t.Errorf("got %v, want 0", got)
	}
}
