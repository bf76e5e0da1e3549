package ure

import (
	"math"
	"testing"

	"github.com/fluxnet/ONEFlux-sub001"
)

func TestDailySRAveragesValidSubRowsAndScalesToCarbon(t *testing.T) {
	reco := make([]float64, 48)
	for i := range reco {
		reco[i] = 10.0
	}
	reco[0] = oneflux.InvalidValue
	daily := DailySR(reco, 48)
	if len(daily) != 1 {
		t.Fatalf("got %d days, want 1", len(daily))
	}
	want := 10.0 * co2ToCarbon
	if math.Abs(daily[0].Reco-want) > 1e-9 {
		t.Errorf("got reco %v, want %v", daily[0].Reco, want)
	}
	wantN := 47.0 / 48.0
	if math.Abs(daily[0].RecoN-wantN) > 1e-9 {
		t.Errorf("got reco_n %v, want %v", daily[0].RecoN, wantN)
	}
}

func TestDailySRWholeDayMissingIsInvalid(t *testing.T) {
	reco := make([]float64, 48)
	for i := range reco {
		reco[i] = oneflux.InvalidValue
	}
	daily := DailySR(reco, 48)
	if !oneflux.IsInvalid(daily[0].Reco) {
		t.Error("expected a fully missing day to yield an invalid reco")
	}
	if daily[0].RecoN != 0 {
		t.Errorf("got reco_n %v, want 0", daily[0].RecoN)
	}
}

func TestWeeklySRDividesRecoNBySeven(t *testing.T) {
	daily := make([]SRPeriod, 365)
	for i := range daily {
		daily[i] = SRPeriod{Reco: 2.0, RecoN: 1.0}
	}
	weekly := WeeklySR(daily)
	if len(weekly) != 52 {
		t.Fatalf("got %d weeks, want 52", len(weekly))
	}
	if math.Abs(weekly[0].RecoN-1.0) > 1e-9 {
		t.Errorf("got week 0 reco_n %v, want 1.0 (sum of 7 ones / 7)", weekly[0].RecoN)
	}
	if math.Abs(weekly[0].Reco-2.0) > 1e-9 {
		t.Errorf("got week 0 reco %v, want 2.0", weekly[0].Reco)
	}
}

func TestWeeklySRLastWeekDividesByRemainderLength(t *testing.T) {
	daily := make([]SRPeriod, 365) // 51*7 + 8
	for i := range daily {
		daily[i] = SRPeriod{Reco: 3.0, RecoN: 1.0}
	}
	weekly := WeeklySR(daily)
	if math.Abs(weekly[51].RecoN-1.0) > 1e-9 {
		t.Errorf("got remainder week reco_n %v, want 1.0 (sum of 8 ones / 8)", weekly[51].RecoN)
	}
}

func TestWeeklySRTreatsInvalidDaysAsExcludedFromMean(t *testing.T) {
	daily := make([]SRPeriod, 7)
	for i := range daily {
		daily[i] = SRPeriod{Reco: 4.0, RecoN: 1.0}
	}
	daily[0] = SRPeriod{Reco: oneflux.InvalidValue, RecoN: 0}
	weekly := WeeklySR(daily)
	if math.Abs(weekly[0].Reco-4.0) > 1e-9 {
		t.Errorf("got reco %v, want 4.0 (mean of the 6 valid days)", weekly[0].Reco)
	}
	wantN := 6.0 / 7.0
	if math.Abs(weekly[0].RecoN-wantN) > 1e-9 {
		t.Errorf("got reco_n %v, want %v", weekly[0].RecoN, wantN)
	}
}

func TestMonthlySRFebLeapYearDividesByTwentyNine(t *testing.T) {
	daily := make([]SRPeriod, 366)
	for i := range daily {
		daily[i] = SRPeriod{Reco: 1.0, RecoN: 1.0}
	}
	monthly := MonthlySR(daily, 2012)
	if math.Abs(monthly[1].RecoN-1.0) > 1e-9 {
		t.Errorf("got Feb reco_n %v, want 1.0 (sum of 29 ones / 29)", monthly[1].RecoN)
	}
}

func TestYearlySRDividesByCalendarYearLength(t *testing.T) {
	daily := make([]SRPeriod, 365)
	for i := range daily {
		daily[i] = SRPeriod{Reco: 5.0, RecoN: 1.0}
	}
	yearly := YearlySR(daily, 2011)
	if math.Abs(yearly.RecoN-1.0) > 1e-9 {
		t.Errorf("got reco_n %v, want 1.0", yearly.RecoN)
	}
	if math.Abs(yearly.Reco-5.0) > 1e-9 {
		t.Errorf("got reco %v, want 5.0", yearly.Reco)
	}

	leapDaily := make([]SRPeriod, 366)
	for i := range leapDaily {
		leapDaily[i] = SRPeriod{Reco: 5.0, RecoN: 1.0}
	}
	leapYearly := YearlySR(leapDaily, 2012)
	if math.Abs(leapYearly.RecoN-1.0) > 1e-9 {
		t.Errorf("got leap-year reco_n %v, want 1.0", leapYearly.RecoN)
	}
}

func TestYearlySRAllDaysMissingIsInvalid(t *testing.T) {
	daily := make([]SRPeriod, 365)
	for i := range daily {
		daily[i] = SRPeriod{Reco: oneflux.InvalidValue, RecoN: 0}
	}
	yearly := YearlySR(daily, 2011)
	if !oneflux.IsInvalid(yearly.Reco) {
		t.Error("expected an all-missing year to be invalid")
	}
}
