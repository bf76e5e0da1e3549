package main

import (
	"strings"
	"testing"

	"github.com/spf13/afero"

	"github.com/fluxnet/ONEFlux-sub001/config"
	"github.com/fluxnet/ONEFlux-sub001/progress"
)

const fixtureCSV = `site,US-Tst
year,2010
lat,40.5
lon,-105.2
timezone,-7
htower,10
timeres,halfhourly
sc_negl,1
TIMESTAMP_START,TIMESTAMP_END,TA,VPD,RH,PA,WS,SW_IN,LW_IN,PPFD_IN
201001010000,201001010030,12.5,10,60,95,2,100,300,200
201001010030,201001010100,,10,60,95,2,,300,210
201001010100,201001010130,12.7,,61,95,2,120,300,220
`

func writeFixture(t *testing.T, fs afero.Fs, path string) {
	t.Helper()
	if err := afero.WriteFile(fs, path, []byte(fixtureCSV), 0o644); err != nil {
		t.Fatalf("unexpected error writing fixture: %v", err)
	}
}

func TestRunWithFSRejectsMissingPaths(t *testing.T) {
	fs := afero.NewMemMapFs()
	err := runWithFS(fs, config.RunConfig{}, progress.New(false))
	if err == nil {
		t.Fatal("expected an error when input/output paths are unset")
	}
}

func TestRunWithFSFillsMissingMeteoRows(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeFixture(t, fs, "/in/site.csv")

	rc := config.RunConfig{InputPath: "/in", OutputPath: "/out"}
	reporter := progress.New(false)
	if err := runWithFS(fs, rc, reporter); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if reporter.Processed() != 1 || reporter.Skipped() != 0 {
		t.Fatalf("got processed=%d skipped=%d, want 1/0", reporter.Processed(), reporter.Skipped())
	}

	data, err := afero.ReadFile(fs, "/out/US-Tst_2010_meteo.csv")
	if err != nil {
		t.Fatalf("unexpected error reading output: %v", err)
	}
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	header := strings.Split(lines[0], ",")
	if !contains(header, "TA_f") || !contains(header, "TA_fqc") || !contains(header, "VPD_f") {
		t.Fatalf("got header %v, want TA_f/TA_fqc/VPD_f columns", header)
	}

	taCol := indexOf(header, "TA_f")
	row1 := strings.Split(lines[2], ",") // second data row: TA was blank
	if row1[taCol] == "-9999.000" {
		t.Errorf("got TA_f %q for a missing row, want an MDS-filled value", row1[taCol])
	}

	info, err := afero.ReadFile(fs, "/out/US-Tst_2010_meteo_info.txt")
	if err != nil {
		t.Fatalf("unexpected error reading info sidecar: %v", err)
	}
	if !strings.Contains(string(info), "rows_still_unfilled") {
		t.Errorf("got info %q, want an unfilled-row count", string(info))
	}
}

func contains(xs []string, want string) bool {
	for _, x := range xs {
		if x == want {
			return true
		}
	}
	return false
}

func indexOf(xs []string, want string) int {
	for i, x := range xs {
		if x == want {
			return i
		}
	}
	return -1
}
