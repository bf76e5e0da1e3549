package ddparser

import (
	"strings"
	"testing"

	"github.com/fluxnet/ONEFlux-sub001/internal/calendar"
)

func splitLines(s string) []string {
	return strings.Split(strings.TrimRight(s, "\n"), "\n")
}

func TestParseScenario1Header(t *testing.T) {
	header := "site,US-TST\nyear,2010\nlat,40.0\nlon,-105.0\ntimezone,201001010000,-7\nhtower,201001010000,3.0\ntimeres,halfhourly\nsc_negl,0\nTIMESTAMP_START,TIMESTAMP_END,TA\n"
	dd, consumed, err := Parse(splitLines(header))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if consumed != 8 {
		t.Errorf("consumed = %d, want 8", consumed)
	}
	if dd.Site != "US-TST" || dd.Year != 2010 || dd.Lat != 40.0 || dd.Lon != -105.0 {
		t.Errorf("got %+v", dd)
	}
	if dd.Resolution != calendar.HalfHourly {
		t.Errorf("got resolution %v, want halfhourly", dd.Resolution)
	}
	if len(dd.Timezones) != 1 || dd.Timezones[0].UTCOffset != -7 {
		t.Errorf("got timezones %+v", dd.Timezones)
	}
	if len(dd.ScNegligible) != 1 || dd.ScNegligible[0].Negligible != false {
		t.Errorf("got sc_negl %+v", dd.ScNegligible)
	}
}

func TestParseMissingKeyFails(t *testing.T) {
	header := "site,US-TST\nyear,2010\nlat,40.0\n"
	_, _, err := Parse(splitLines(header))
	if err == nil {
		t.Fatal("expected error for missing keys")
	}
}

func TestParseUnknownTimeresFails(t *testing.T) {
	header := "site,US-TST\nyear,2010\nlat,40.0\nlon,-105.0\ntimezone,-7\nhtower,3.0\ntimeres,daily\nsc_negl,0\n"
	_, _, err := Parse(splitLines(header))
	if err == nil {
		t.Fatal("expected error for unsupported timeres")
	}
}

func TestParseMultipleNotesAndTZChanges(t *testing.T) {
	header := "site,US-TST\nyear,2010\nlat,40.0\nlon,-105.0\n" +
		"timezone,201001010000,-7,201006010000,-6\nhtower,3.0\ntimeres,halfhourly\nsc_negl,0\n" +
		"notes,first note\nnotes,second note\n"
	dd, _, err := Parse(splitLines(header))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(dd.Timezones) != 2 {
		t.Fatalf("got %d timezone entries, want 2", len(dd.Timezones))
	}
	if len(dd.Notes) != 2 || dd.Notes[0] != "first note" || dd.Notes[1] != "second note" {
		t.Errorf("got notes %+v", dd.Notes)
	}
}

func TestParseOmittedTimestampDefaultsToStartOfYear(t *testing.T) {
	header := "site,US-TST\nyear,2010\nlat,40.0\nlon,-105.0\ntimezone,-7\nhtower,3.0\ntimeres,hourly\nsc_negl,1\n"
	dd, _, err := Parse(splitLines(header))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := calendar.Timestamp{Year: 2010, Month: 1, Day: 1, Hour: 0, Minute: 0}
	if dd.Timezones[0].At != want {
		t.Errorf("got %+v, want %+v", dd.Timezones[0].At, want)
	}
	if !dd.ScNegligible[0].Negligible {
		t.Error("expected sc_negl flag true")
	}
}
