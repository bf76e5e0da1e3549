package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"

	"github.com/fluxnet/ONEFlux-sub001"
	"github.com/fluxnet/ONEFlux-sub001/internal/calendar"
)

func TestRegisterFlagsDefaultsResolve(t *testing.T) {
	cfg := New()
	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	cfg.RegisterFlags(flags)

	rc := cfg.Resolve()
	if rc.MarginalsWindow != 7 {
		t.Errorf("got marginals_window %d, want default 7", rc.MarginalsWindow)
	}
	if rc.SpikesWindow != 13 {
		t.Errorf("got spikes_window %d, want default 13", rc.SpikesWindow)
	}
	if rc.QC2Filter || rc.All {
		t.Error("expected boolean flags to default false")
	}
}

func TestRegisterFlagsParsedOverridesResolve(t *testing.T) {
	cfg := New()
	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	cfg.RegisterFlags(flags)

	if err := flags.Parse([]string{"-input_path=/data/in", "-marginals_window=21", "-all"}); err != nil {
		t.Fatalf("unexpected parse error: %v", err)
	}
	rc := cfg.Resolve()
	if rc.InputPath != "/data/in" {
		t.Errorf("got input_path %q, want /data/in", rc.InputPath)
	}
	if rc.MarginalsWindow != 21 {
		t.Errorf("got marginals_window %d, want 21", rc.MarginalsWindow)
	}
	if !rc.All {
		t.Error("expected -all to resolve true")
	}
}

func TestRegisterFlagsEnvironmentOverride(t *testing.T) {
	cfg := New()
	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	t.Setenv("ONEFLUX_OUTPUT_PATH", "/data/out")
	cfg.RegisterFlags(flags)

	rc := cfg.Resolve()
	if rc.OutputPath != "/data/out" {
		t.Errorf("got output_path %q, want env override /data/out", rc.OutputPath)
	}
}

func TestLoadSiteDefaultsDecodesTowerHeightsAndScNegligible(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "defaults.toml")
	contents := `
[[tower_height]]
height = 30.5
[tower_height.at]
year = 2005
month = 1
day = 1

[[sc_negligible]]
negligible = true
[sc_negligible.at]
year = 2005
month = 1
day = 1
`
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("unexpected error writing fixture: %v", err)
	}

	sd, err := LoadSiteDefaults(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(sd.TowerHeights) != 1 || sd.TowerHeights[0].Height != 30.5 {
		t.Fatalf("got %+v, want one 30.5m tower height entry", sd.TowerHeights)
	}
	if len(sd.ScNegligible) != 1 || !sd.ScNegligible[0].Negligible {
		t.Fatalf("got %+v, want one negligible=true entry", sd.ScNegligible)
	}
}

func TestLoadSiteDefaultsMissingFileIsAnIoError(t *testing.T) {
	_, err := LoadSiteDefaults("/does/not/exist.toml")
	if err == nil {
		t.Fatal("expected an error for a missing site-defaults file")
	}
}

func TestSiteDefaultsApplyToPrependsAheadOfDDHeaderEntries(t *testing.T) {
	sd := SiteDefaults{
		TowerHeights: []struct {
			At     timestampSpec `toml:"at"`
			Height float64       `toml:"height"`
		}{{At: timestampSpec{Year: 2005, Month: 1, Day: 1}, Height: 20}},
	}
	details := oneflux.DatasetDetails{
		Year: 2005,
		TowerHeights: []oneflux.HeightChange{
			{At: calendar.Timestamp{Year: 2005, Month: 6, Day: 1}, Height: 30},
		},
	}
	out := sd.ApplyTo(details)
	if len(out.TowerHeights) != 2 {
		t.Fatalf("got %d tower height entries, want 2", len(out.TowerHeights))
	}
	if out.TowerHeights[0].Height != 20 || out.TowerHeights[1].Height != 30 {
		t.Errorf("got %+v, want the default entry first and the DD header entry second", out.TowerHeights)
	}
}
