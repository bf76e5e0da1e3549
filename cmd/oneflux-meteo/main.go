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

// Command oneflux-meteo is the meteo_proc-equivalent binary: it infills
// SW_IN from PPFD, recomputes VPD from TA/RH and a clear-sky LW_IN
// estimate, then runs the MDS gap-filling ladder over every
// meteorological driver for each site-year found under -input_path.
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
	"github.com/fluxnet/ONEFlux-sub001/science/derive"
	"github.com/fluxnet/ONEFlux-sub001/science/mds"
	"github.com/fluxnet/ONEFlux-sub001/science/solar"
	"github.com/fluxnet/ONEFlux-sub001/writer"
)

func main() {
	cfg := config.New()
	root := &cobra.Command{
		Use:   "oneflux-meteo",
		Short: "MDS gap-filling of meteorological drivers over flux-tower data.",
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
		return oflxerr.New(oflxerr.InsufficientData, "every discovered site-year failed gap-filling")
	}
	return nil
}

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

	for _, sy := range groups {
		reporter.SiteStart(sy.Site, sy.Year)
		if err := processSiteYear(fs, sy, rc); err != nil {
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

// meteoVar is one gap-fillable driver: its output base name and
// Dataset column.
type meteoVar struct {
	name string
	col  oneflux.Column
}

var meteoVars = []meteoVar{
	{"SW_IN", oneflux.ColSWIN},
	{"TA", oneflux.ColTA},
	{"VPD", oneflux.ColVPD},
	{"RH", oneflux.ColRH},
	{"PA", oneflux.ColPA},
	{"WS", oneflux.ColWS},
	{"LW_IN", oneflux.ColLWIN},
}

func processSiteYear(fs afero.Fs, sy siteio.SiteYear, rc config.RunConfig) error {
	ds, err := siteio.Load(fs, sy.Path)
	if err != nil {
		return err
	}

	pot := solar.Compute(ds.Details)
	copy(ds.Raw(oneflux.ColSWINPOT), pot)

	derive.InfillSWINFromPPFD(ds)
	mergeDerivedVPD(ds)
	lwCalc := derive.LWINClearSky(ds)
	copy(ds.Raw(oneflux.ColLWINCalc), lwCalc)

	swin := ds.Raw(oneflux.ColSWIN)
	ta := ds.Raw(oneflux.ColTA)
	vpd := ds.Raw(oneflux.ColVPD)
	tol := mds.DefaultTolerances()
	half := ds.Resolution == calendar.HalfHourly

	results := make(map[oneflux.Column]*mds.Result, len(meteoVars))
	for _, v := range meteoVars {
		drivers := mds.Drivers{Val1: swin}
		if v.col != oneflux.ColTA {
			drivers.Val2 = ta
		}
		if v.col != oneflux.ColVPD {
			drivers.Val3 = vpd
		}
		opts := mds.Options{Tolerances: tol, HalfHourly: half}
		results[v.col] = mds.Fill(ds.Raw(v.col), drivers, opts)
	}

	return writeFilled(fs, sy, ds, results, rc)
}

// mergeDerivedVPD fills any row whose VPD is missing with the
// TA/RH-derived estimate, leaving an already-observed VPD untouched.
func mergeDerivedVPD(ds *oneflux.Dataset) {
	derived := derive.VPDFromTaRh(ds.Raw(oneflux.ColTA), ds.Raw(oneflux.ColRH))
	vpd := ds.Raw(oneflux.ColVPD)
	for i, v := range vpd {
		if oneflux.IsInvalid(v) && !oneflux.IsInvalid(derived[i]) {
			vpd[i] = derived[i]
		}
	}
}

func writeFilled(fs afero.Fs, sy siteio.SiteYear, ds *oneflux.Dataset, results map[oneflux.Column]*mds.Result, rc config.RunConfig) error {
	table := writer.Table{Year: ds.Year, Resolution: ds.Resolution, Rows: ds.Rows}
	unfilled := 0

	for _, v := range meteoVars {
		observed := ds.Raw(v.col)
		res := results[v.col]
		filled := make([]float64, ds.Rows)
		qcCode := make([]float64, ds.Rows)
		for row := 0; row < ds.Rows; row++ {
			if !oneflux.IsInvalid(observed[row]) {
				filled[row] = observed[row]
				qcCode[row] = 0
				continue
			}
			filled[row] = res.Filled[row]
			if res.QC[row] < 0 {
				qcCode[row] = oneflux.InvalidValue
				unfilled++
			} else {
				qcCode[row] = float64(res.QC[row])
			}
		}
		table.Columns = append(table.Columns,
			writer.Column{Name: writer.ProfileSuffix(v.name, nil, "f"), Precision: writer.Physical, Values: filled},
			writer.Column{Name: writer.ProfileSuffix(v.name, nil, "fqc"), Precision: writer.QC, Values: qcCode},
		)
	}
	table.Columns = append(table.Columns,
		writer.Column{Name: "SW_IN_POT", Precision: writer.Physical, Values: append([]float64(nil), ds.Raw(oneflux.ColSWINPOT)...)},
		writer.Column{Name: "LW_IN_CALC", Precision: writer.Physical, Values: append([]float64(nil), ds.Raw(oneflux.ColLWINCalc)...)},
	)

	stem := sy.Site + "_" + strconv.Itoa(sy.Year) + "_meteo"
	if err := writer.WriteCSV(fs, filepath.Join(rc.OutputPath, stem+".csv"), table); err != nil {
		return err
	}
	info := writer.Info{
		Headers: []string{"site: " + sy.Site, "year: " + strconv.Itoa(sy.Year)},
		Stats:   []writer.InfoStat{{Label: "rows_still_unfilled", Value: strconv.Itoa(unfilled)}},
	}
	return writer.WriteInfo(fs, filepath.Join(rc.OutputPath, stem+"_info.txt"), info)
}
