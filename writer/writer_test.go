package writer

import (
	"strings"
	"testing"

	"github.com/spf13/afero"

	"github.com/fluxnet/ONEFlux-sub001/internal/calendar"
)

func TestProfileSuffixBuildsFrozenColumnNames(t *testing.T) {
	if got := ProfileSuffix("TS", []int{2}, "f"); got != "TS_2_f" {
		t.Errorf("got %q, want TS_2_f", got)
	}
	if got := ProfileSuffix("SWC", []int{1}, "fqc"); got != "SWC_1_fqc" {
		t.Errorf("got %q, want SWC_1_fqc", got)
	}
	if got := ProfileSuffix("TA", nil, "f"); got != "TA_f" {
		t.Errorf("got %q, want TA_f", got)
	}
}

func TestWriteCSVHeaderAndFirstRow(t *testing.T) {
	fs := afero.NewMemMapFs()
	tbl := Table{
		Year:       2010,
		Resolution: calendar.HalfHourly,
		Rows:       2,
		Columns: []Column{
			{Name: "TA_f", Precision: Physical, Values: []float64{12.3456, -9999}},
			{Name: "TA_fqc", Precision: QC, Values: []float64{1, 0}},
		},
	}
	if err := WriteCSV(fs, "/out/site_2010.csv", tbl); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	data, err := afero.ReadFile(fs, "/out/site_2010.csv")
	if err != nil {
		t.Fatalf("unexpected error reading back: %v", err)
	}
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	if lines[0] != "TIMESTAMP_START,TIMESTAMP_END,TA_f,TA_fqc" {
		t.Errorf("got header %q", lines[0])
	}
	if len(lines) != 3 {
		t.Fatalf("got %d lines, want 3 (header + 2 rows)", len(lines))
	}
	if !strings.HasSuffix(lines[1], ",12.346,1") {
		t.Errorf("got row 1 %q, want 3-decimal physical value and %%g qc code", lines[1])
	}
	if !strings.HasSuffix(lines[2], ",-9999.000,0") {
		t.Errorf("got row 2 %q, want the sentinel printed at 3 decimals like any other value", lines[2])
	}
}

func TestWriteCSVRejectsColumnLengthMismatch(t *testing.T) {
	fs := afero.NewMemMapFs()
	tbl := Table{
		Year: 2010, Resolution: calendar.HalfHourly, Rows: 3,
		Columns: []Column{{Name: "TA_f", Precision: Physical, Values: []float64{1, 2}}},
	}
	if err := WriteCSV(fs, "/out/bad.csv", tbl); err == nil {
		t.Fatal("expected a schema-mismatch error for a short column")
	}
}

func TestWriteInfoHeadersAndStats(t *testing.T) {
	fs := afero.NewMemMapFs()
	info := Info{
		Headers: []string{"site: US-XYZ", "year: 2010"},
		Stats:   []InfoStat{{Label: "NEE_filled_pct", Value: "92.3"}},
	}
	if err := WriteInfo(fs, "/out/site_2010_info.txt", info); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	data, err := afero.ReadFile(fs, "/out/site_2010_info.txt")
	if err != nil {
		t.Fatalf("unexpected error reading back: %v", err)
	}
	want := "site: US-XYZ\nyear: 2010\n\nNEE_filled_pct: 92.3\n"
	if string(data) != want {
		t.Errorf("got %q, want %q", string(data), want)
	}
}
