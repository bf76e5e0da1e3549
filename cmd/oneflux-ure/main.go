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

// Command oneflux-ure is the ure-equivalent binary: given, per
// site-year, forty already-computed u*-threshold candidate series of
// a target flux (grouped "y" per-year-thresholded, and "c"
// whole-record-thresholded), it selects a Model-Efficiency reference
// and reduces all forty to a percentile/uncertainty envelope at every
// aggregation tier (half-hourly/hourly, daily, weekly, monthly,
// yearly), plus the simplified sunset-respiration aggregator for a
// reco/reco_n candidate pair.
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"sync"

	"github.com/ctessum/requestcache"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	oneflux "github.com/fluxnet/ONEFlux-sub001"
	"github.com/fluxnet/ONEFlux-sub001/config"
	"github.com/fluxnet/ONEFlux-sub001/internal/calendar"
	"github.com/fluxnet/ONEFlux-sub001/internal/siteio"
	"github.com/fluxnet/ONEFlux-sub001/oflxerr"
	"github.com/fluxnet/ONEFlux-sub001/progress"
	"github.com/fluxnet/ONEFlux-sub001/science/aggregate"
	"github.com/fluxnet/ONEFlux-sub001/science/ure"
	"github.com/fluxnet/ONEFlux-sub001/writer"
)

func main() {
	cfg := config.New()
	root := &cobra.Command{
		Use:   "oneflux-ure",
		Short: "Model-Efficiency reference selection and percentile envelope over 40 u*-threshold candidates.",
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
		return oflxerr.New(oflxerr.InsufficientData, "every discovered site-year failed reference selection")
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
		if err := processSiteYear(fs, sy, rc, reporter); err != nil {
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

// targetBase is the flux variable URE selects a reference for; the
// candidate columns carrying it are named "<targetBase>_<grouping>_<n>"
// for n in [1,40] plus the ust50 passthrough at n=50.
const targetBase = "NEE"

var groupings = []string{"y", "c"}

// The five aggregation tiers URE reports a percentile/uncertainty
// envelope at.
const (
	tierHH = "hh"
	tierDD = "dd"
	tierWW = "ww"
	tierMM = "mm"
	tierYY = "yy"
)

func processSiteYear(fs afero.Fs, sy siteio.SiteYear, rc config.RunConfig, reporter *progress.Reporter) error {
	ds, err := siteio.Load(fs, sy.Path)
	if err != nil {
		return err
	}

	cache := newCandidateCache(ds)
	written := 0
	for _, grouping := range groupings {
		if !hasCandidates(ds, targetBase+"_"+grouping) {
			continue
		}
		n, err := processGrouping(fs, sy, ds, cache, grouping, rc, reporter)
		if err != nil {
			return err
		}
		written += n
	}
	if written == 0 {
		return oflxerr.Newf(oflxerr.InsufficientData, "no tier of any candidate grouping had enough data for reference selection").WithSite(sy.Site).WithYear(sy.Year)
	}
	return nil
}

// hasCandidates reports whether kind's first candidate column carries
// at least one observed value, the cheapest signal that the grouping
// is actually present in this site-year's file rather than silently
// scoring forty all-missing profile slots.
func hasCandidates(ds *oneflux.Dataset, kind string) bool {
	for _, v := range ds.Profile(kind, 1) {
		if !oneflux.IsInvalid(v) {
			return true
		}
	}
	return false
}

// candidateRequest identifies one (grouping, tier, candidate index)
// reduction: extract the candidate's half-hourly/hourly series from
// the dataset's profile storage, then aggregate it to the requested
// tier. Every grouping/tier pair needs the same 40 extractions, so a
// memoized, deduplicated, concurrency-safe cache (the same
// requestcache pattern the teacher uses for its NetCDF source-receptor
// reads) avoids recomputing an identical aggregation twice.
type candidateRequest struct {
	grouping string
	tier     string
	index    int
}

type candidateCache struct {
	ds    *oneflux.Dataset
	once  sync.Once
	cache *requestcache.Cache
}

func newCandidateCache(ds *oneflux.Dataset) *candidateCache {
	return &candidateCache{ds: ds}
}

func (c *candidateCache) series(grouping, tier string, index int) ([]float64, error) {
	c.once.Do(func() {
		c.cache = requestcache.NewCache(func(ctx context.Context, request interface{}) (interface{}, error) {
			r := request.(candidateRequest)
			return c.compute(r.grouping, r.tier, r.index)
		}, runtime.GOMAXPROCS(-1), requestcache.Deduplicate(), requestcache.Memory(200))
	})
	req := c.cache.NewRequest(context.Background(),
		candidateRequest{grouping: grouping, tier: tier, index: index},
		fmt.Sprintf("%s_%s_%d", grouping, tier, index),
	)
	result, err := req.Result()
	if err != nil {
		return nil, err
	}
	return result.([]float64), nil
}

func (c *candidateCache) compute(grouping, tier string, index int) ([]float64, error) {
	kind := targetBase + "_" + grouping
	hh := c.ds.Profile(kind, index)
	if tier == tierHH {
		return hh, nil
	}
	daily := aggregate.Daily(hh, c.ds.Year, c.ds.Resolution, aggregate.Mean)
	if tier == tierDD {
		return periodValues(daily), nil
	}
	if tier == tierWW {
		return periodValues(aggregate.Weekly(daily, aggregate.Mean)), nil
	}
	if tier == tierMM {
		return periodValues(aggregate.Monthly(daily, c.ds.Year, aggregate.Mean)), nil
	}
	return []float64{aggregate.Yearly(daily, aggregate.Mean).Value}, nil
}

func periodValues(periods []aggregate.Period) []float64 {
	out := make([]float64, len(periods))
	for i, p := range periods {
		if p.Valid {
			out[i] = p.Value
		} else {
			out[i] = oneflux.InvalidValue
		}
	}
	return out
}

var tiers = []string{tierHH, tierDD, tierWW, tierMM, tierYY}

// processGrouping writes one output file per tier that has enough
// surviving data for reference selection, returning how many tiers
// succeeded. A tier failing with InsufficientData (too few overlapping
// rows, or zero variance once rows are dropped) is reported as a
// warning and skipped rather than aborting the whole site-year, since
// the five tiers are otherwise independent of each other.
func processGrouping(fs afero.Fs, sy siteio.SiteYear, ds *oneflux.Dataset, cache *candidateCache, grouping string, rc config.RunConfig, reporter *progress.Reporter) (int, error) {
	kind := targetBase + "_" + grouping
	written := 0

	// Dataset.Profile allocates a grouping's backing slice on first
	// access and is not itself safe for concurrent callers; touching
	// every candidate index once here, single-threaded, guarantees the
	// per-tier goroutines below only ever hit already-allocated slices.
	for i := 1; i <= ure.CandidateCount; i++ {
		ds.Profile(kind, i)
	}
	ds.Profile(kind, 50)

	for _, tier := range tiers {
		candidates := make([][]float64, ure.CandidateCount)
		type result struct {
			idx    int
			series []float64
			err    error
		}
		results := make(chan result, ure.CandidateCount)
		for i := 1; i <= ure.CandidateCount; i++ {
			go func(i int) {
				series, err := cache.series(grouping, tier, i)
				results <- result{idx: i, series: series, err: err}
			}(i)
		}
		var reduceErr error
		for n := 0; n < ure.CandidateCount; n++ {
			r := <-results
			if r.err != nil && reduceErr == nil {
				reduceErr = r.err
			}
			candidates[r.idx-1] = r.series
		}
		if reduceErr != nil {
			return 0, oflxerr.Newf(oflxerr.InvariantViolation, "reducing %s/%s/%s candidates: %v", sy.Site, grouping, tier, reduceErr).WithSite(sy.Site).WithYear(sy.Year)
		}

		ust50, err := cache.series(grouping, tier, 50)
		if err != nil {
			return 0, err
		}

		selection, err := ure.Select(candidates, ust50)
		if err != nil {
			reporter.Warn(oflxerr.Newf(oflxerr.InsufficientData, "%s/%s/%s: %v", sy.Site, grouping, tier, err).WithSite(sy.Site).WithYear(sy.Year))
			continue
		}
		if err := writeSelection(fs, sy, ds, kind, grouping, tier, selection, rc); err != nil {
			return written, err
		}
		written++
	}
	return written, nil
}

func writeSelection(fs afero.Fs, sy siteio.SiteYear, ds *oneflux.Dataset, kind, grouping, tier string, sel ure.Selection, rc config.RunConfig) error {
	rows := len(sel.Reference)
	year, res := ds.Year, ds.Resolution
	if tier != tierHH {
		// internal/calendar only models half-hourly/hourly resolutions,
		// so a dd/ww/mm/yy tier's TIMESTAMP_START/END columns are not
		// meaningful calendar dates here; row order (day/week/month
		// index, or the single yearly row) is the authoritative key for
		// these tiers, matching aggregate.Daily/Weekly/Monthly/Yearly's
		// own row-indexed contract.
		res = calendar.HalfHourly
	}
	table := writer.Table{Year: year, Resolution: res, Rows: rows}
	table.Columns = append(table.Columns,
		writer.Column{Name: writer.ProfileSuffix(kind, nil, "ref"), Precision: writer.Physical, Values: sel.Reference},
		writer.Column{Name: writer.ProfileSuffix(kind, nil, "ust50"), Precision: writer.Physical, Values: sel.Ust50},
	)
	for i, p := range ure.OutputPercentiles {
		values := make([]float64, rows)
		for row, env := range sel.Envelopes {
			values[row] = env.Percentiles[i]
		}
		table.Columns = append(table.Columns, writer.Column{
			Name: writer.ProfileSuffix(kind, nil, strconv.Itoa(int(p))), Precision: writer.Physical, Values: values,
		})
	}
	mean := make([]float64, rows)
	stderr := make([]float64, rows)
	for row, env := range sel.Envelopes {
		mean[row] = env.Mean
		stderr[row] = env.StdErr
	}
	table.Columns = append(table.Columns,
		writer.Column{Name: writer.ProfileSuffix(kind, nil, "mean"), Precision: writer.Physical, Values: mean},
		writer.Column{Name: writer.ProfileSuffix(kind, nil, "se"), Precision: writer.Physical, Values: stderr},
	)

	stem := sy.Site + "_" + strconv.Itoa(sy.Year) + "_" + grouping + "_" + tier + "_ure"
	if err := writer.WriteCSV(fs, filepath.Join(rc.OutputPath, stem+".csv"), table); err != nil {
		return err
	}
	info := writer.Info{
		Headers: []string{"site: " + sy.Site, "year: " + strconv.Itoa(sy.Year), "grouping: " + grouping, "tier: " + tier},
		Stats:   []writer.InfoStat{{Label: "reference_index", Value: strconv.Itoa(sel.ReferenceIndex + 1)}},
	}
	return writer.WriteInfo(fs, filepath.Join(rc.OutputPath, stem+"_info.txt"), info)
}
