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

// Command oneflux-qc is the qc_auto-equivalent binary: range clamps,
// the SW_IN/PPFD consistency and cross-checks, USTAR-from-TAU
// recovery, and Papale spike detection over every site-year found under
// -input_path. Night/day classification is not run by this binary.
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	oneflux "github.com/fluxnet/ONEFlux-sub001"
	"github.com/fluxnet/ONEFlux-sub001/config"
	"github.com/fluxnet/ONEFlux-sub001/internal/calendar"
	"github.com/fluxnet/ONEFlux-sub001/internal/siteio"
	"github.com/fluxnet/ONEFlux-sub001/oflxerr"
	"github.com/fluxnet/ONEFlux-sub001/progress"
	"github.com/fluxnet/ONEFlux-sub001/science/qc"
	"github.com/fluxnet/ONEFlux-sub001/science/solar"
	"github.com/fluxnet/ONEFlux-sub001/writer"
)

func main() {
	cfg := config.New()
	root := &cobra.Command{
		Use:   "oneflux-qc",
		Short: "Range/spike/consistency screening over flux-tower half-hourly or hourly data.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cfg)
		},
	}
	cfg.RegisterFlags(root.Flags())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cfg *config.Cfg) error {
	if err := cfg.LoadConfigFile(); err != nil {
		return err
	}
	rc := cfg.Resolve()
	reporter := progress.New(false)
	if err := runWithFS(afero.NewOsFs(), rc, reporter); err != nil {
		return err
	}
	if reporter.Processed() == 0 && reporter.Skipped() > 0 {
		return oflxerr.New(oflxerr.InsufficientData, "every discovered site-year failed screening")
	}
	return nil
}

// runWithFS is the filesystem-parameterized body of run, so tests can
// drive it over an afero.MemMapFs.
func runWithFS(fs afero.Fs, rc config.RunConfig, reporter *progress.Reporter) error {
	if rc.InputPath == "" || rc.OutputPath == "" {
		return oflxerr.New(oflxerr.Io, "-input_path and -output_path are both required")
	}
	if err := fs.MkdirAll(rc.OutputPath, 0o755); err != nil {
		return oflxerr.Newf(oflxerr.Io, "creating output directory %q", rc.OutputPath).WithCause(err)
	}

	paths, err := siteio.Discover(fs, rc.InputPath)
	if err != nil {
		return err
	}
	groups, err := siteio.GroupAscending(fs, paths)
	if err != nil {
		return err
	}

	th := thresholdsFor(rc)
	for _, sy := range groups {
		reporter.SiteStart(sy.Site, sy.Year)
		if err := processSiteYear(fs, sy, th, rc); err != nil {
			if oe, ok := err.(*oflxerr.Error); ok {
				reporter.SiteFailed(oe.WithSite(sy.Site).WithYear(sy.Year))
				continue
			}
			return err
		}
		reporter.SiteDone(sy.Site, sy.Year)
	}
	reporter.Summary()
	return nil
}

// thresholdsFor layers the run's config overrides onto the default
// screening thresholds: the marginal-island window and the two filter
// toggles are the only config values applied. spikes_window is not
// read; the spike window stays at the qc package's fixed default.
func thresholdsFor(rc config.RunConfig) qc.Thresholds {
	th := qc.DefaultThresholds()
	if rc.MarginalsWindow > 0 {
		th.MarginalWindow = rc.MarginalsWindow
	}
	th.QC2Filter = rc.QC2Filter
	th.SpikeFilter = !rc.NoSpikeFilter
	return th
}

func processSiteYear(fs afero.Fs, sy siteio.SiteYear, th qc.Thresholds, rc config.RunConfig) error {
	ds, err := siteio.Load(fs, sy.Path)
	if err != nil {
		return err
	}

	pot := solar.Compute(ds.Details)
	copy(ds.Raw(oneflux.ColSWINPOT), pot)

	qc.RangeClamp(ds, th)
	qc.UstarFromTau(ds)
	qc.NegativeMissingPolicy(ds, oneflux.ColSWIN, pot, 2)
	qc.NegativeMissingPolicy(ds, oneflux.ColPPFDIN, pot, 2)
	qc.CrossCheckSWINvsPPFD(ds, th)

	swinFlags := qc.ConsistencyFlag(ds.Raw(oneflux.ColSWIN), pot, th)

	hourly := ds.Resolution == calendar.Hourly
	neeSpikes := qc.DetectSpikes(ds.Raw(oneflux.ColNEE), hourly, th.NEEIsolatedGap, th)
	qc.ApplySpikeMask(ds.Raw(oneflux.ColNEE), neeSpikes, th)

	return writeScreened(fs, sy, ds, pot, swinFlags, neeSpikes, rc)
}

var outputColumns = []struct {
	name string
	col  oneflux.Column
}{
	{"TA", oneflux.ColTA}, {"VPD", oneflux.ColVPD}, {"P", oneflux.ColP},
	{"WS", oneflux.ColWS}, {"SW_IN", oneflux.ColSWIN}, {"LW_IN", oneflux.ColLWIN},
	{"PA", oneflux.ColPA}, {"USTAR", oneflux.ColUStar}, {"NEE", oneflux.ColNEE},
}

func writeScreened(fs afero.Fs, sy siteio.SiteYear, ds *oneflux.Dataset, pot []float64, swinFlags []int, neeSpikes qc.SpikeResult, rc config.RunConfig) error {
	table := writer.Table{Year: ds.Year, Resolution: ds.Resolution, Rows: ds.Rows}
	for _, c := range outputColumns {
		table.Columns = append(table.Columns, writer.Column{
			Name: c.name, Precision: writer.Physical, Values: append([]float64(nil), ds.Raw(c.col)...),
		})
	}
	table.Columns = append(table.Columns,
		writer.Column{Name: "SW_IN_POT", Precision: writer.Physical, Values: pot},
		writer.Column{Name: writer.ProfileSuffix("SW_IN", nil, "ssitc"), Precision: writer.QC, Values: intsToFloats(swinFlags)},
		writer.Column{Name: writer.ProfileSuffix("NEE", nil, "spike"), Precision: writer.QC, Values: intsToFloats(neeSpikes.Severity)},
	)

	stem := sy.Site + "_" + strconv.Itoa(sy.Year) + "_qc"
	if err := writer.WriteCSV(fs, filepath.Join(rc.OutputPath, stem+".csv"), table); err != nil {
		return err
	}
	info := writer.Info{
		Headers: []string{"site: " + sy.Site, "year: " + strconv.Itoa(sy.Year)},
		Stats: []writer.InfoStat{
			{Label: "nee_spikes_flagged", Value: strconv.Itoa(countPositive(neeSpikes.Severity))},
			{Label: "sw_in_consistency_flagged", Value: strconv.Itoa(countPositive(swinFlags))},
		},
	}
	return writer.WriteInfo(fs, filepath.Join(rc.OutputPath, stem+"_info.txt"), info)
}

func intsToFloats(xs []int) []float64 {
	out := make([]float64, len(xs))
	for i, v := range xs {
		out[i] = float64(v)
	}
	return out
}

func countPositive(xs []int) int {
	n := 0
	for _, v := range xs {
		if v > 0 {
			n++
		}
	}
	return n
}
