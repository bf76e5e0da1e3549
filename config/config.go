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

// Package config resolves command-line flags, an optional config file,
// and ONEFLUX_-prefixed environment variables into a typed RunConfig,
// the way inmaputil.Cfg wraps *viper.Viper and resolves it into typed
// arguments ahead of a run. It also loads the optional TOML
// site-defaults file layering default tower height / Sc-negligible
// intervals ahead of per-dataset DD headers.
package config

import (
	"github.com/BurntSushi/toml"
	"github.com/lnashier/viper"
	"github.com/spf13/pflag"

	"github.com/fluxnet/ONEFlux-sub001"
	"github.com/fluxnet/ONEFlux-sub001/internal/calendar"
	"github.com/fluxnet/ONEFlux-sub001/oflxerr"
)

// envPrefix is the prefix environment-variable overrides are read
// under, e.g. ONEFLUX_INPUT_PATH.
const envPrefix = "ONEFLUX"

// Cfg wraps a *viper.Viper the way inmaputil.Cfg does: flags are
// registered once via RegisterFlags and bound into viper keys, then
// Resolve reads the merged (flag > env > config file > default)
// values into a typed RunConfig.
type Cfg struct {
	*viper.Viper
}

// New builds an empty Cfg ready for RegisterFlags.
func New() *Cfg {
	return &Cfg{Viper: viper.New()}
}

// RegisterFlags declares every flag spec.md's CLI surface and
// SPEC_FULL.md's Configuration section name onto flags, then binds
// each into cfg's viper keys and sets the ONEFLUX_ environment
// prefix. Call once per cobra.Command, mirroring
// inmaputil.InitializeConfig's per-subcommand flag/viper binding loop.
func (cfg *Cfg) RegisterFlags(flags *pflag.FlagSet) {
	flags.String("input_path", "", "directory containing input CSV files")
	flags.String("output_path", "", "directory to write output CSV files")
	flags.String("config", "", "optional configuration file")
	flags.String("site_defaults", "", "optional TOML file of default tower height / Sc-negligible intervals")
	flags.Int("marginals_window", 7, "QC marginal-island window: missing rows required on each side of a 1-2 value island")
	flags.Int("spikes_window", 13, "spike-detection window, in rows")
	flags.Bool("qc2_filter", false, "apply the QC2 quality filter")
	flags.Bool("no_spike_filter", false, "disable spike-based filtering")
	flags.Int("doy", 0, "restrict processing to a single day-of-year (0 = disabled)")

	flags.Bool("db", false, "run the db processing step")
	flags.Bool("graph", false, "emit graph output")
	flags.Bool("ustar", false, "run the u* filtering step")
	flags.Bool("nee", false, "run NEE composition")
	flags.Bool("energy", false, "run energy-balance derivations")
	flags.Bool("meteo", false, "run meteorological gap-filling")
	flags.Bool("sr", false, "run the sunset-respiration aggregator")
	flags.Bool("solar", false, "run the SW_IN_POT solar geometry step")
	flags.Bool("all", false, "run every step")

	cfg.SetEnvPrefix(envPrefix)
	cfg.AutomaticEnv()
	flags.VisitAll(func(f *pflag.Flag) {
		cfg.BindPFlag(f.Name, f)
	})
}

// LoadConfigFile reads cfg's "config" key, if set, into viper on top
// of the already-bound flag defaults, mirroring inmaputil's
// setConfig.
func (cfg *Cfg) LoadConfigFile() error {
	path := cfg.GetString("config")
	if path == "" {
		return nil
	}
	cfg.SetConfigFile(path)
	if err := cfg.ReadInConfig(); err != nil {
		return oflxerr.Newf(oflxerr.Io, "reading configuration file %q", path).WithCause(err)
	}
	return nil
}

// RunConfig is the resolved, typed set of parameters a pipeline run
// needs, mirroring the typed arguments inmaputil resolves a *viper.Viper
// into before calling into the inmap package.
type RunConfig struct {
	InputPath  string
	OutputPath string

	MarginalsWindow int
	SpikesWindow    int
	QC2Filter       bool
	NoSpikeFilter   bool
	DOY             int

	DB, Graph, Ustar, NEE, Energy, Meteo, SR, Solar, All bool
}

// Resolve reads cfg's merged (flag > env > config file > default)
// values into a RunConfig.
func (cfg *Cfg) Resolve() RunConfig {
	return RunConfig{
		InputPath:       cfg.GetString("input_path"),
		OutputPath:      cfg.GetString("output_path"),
		MarginalsWindow: cfg.GetInt("marginals_window"),
		SpikesWindow:    cfg.GetInt("spikes_window"),
		QC2Filter:       cfg.GetBool("qc2_filter"),
		NoSpikeFilter:   cfg.GetBool("no_spike_filter"),
		DOY:             cfg.GetInt("doy"),
		DB:              cfg.GetBool("db"),
		Graph:           cfg.GetBool("graph"),
		Ustar:           cfg.GetBool("ustar"),
		NEE:             cfg.GetBool("nee"),
		Energy:          cfg.GetBool("energy"),
		Meteo:           cfg.GetBool("meteo"),
		SR:              cfg.GetBool("sr"),
		Solar:           cfg.GetBool("solar"),
		All:             cfg.GetBool("all"),
	}
}

// timestampSpec is a site-defaults interval boundary spelled out field
// by field in TOML rather than as a packed YYYYMMDDhhmm string, since
// the site-defaults file is hand-authored per site ahead of any DD
// header.
type timestampSpec struct {
	Year, Month, Day, Hour, Minute int
}

func (t timestampSpec) timestamp() calendar.Timestamp {
	return calendar.Timestamp{Year: t.Year, Month: t.Month, Day: t.Day, Hour: t.Hour, Minute: t.Minute}
}

// SiteDefaults is the decoded shape of an optional "-site_defaults="
// TOML file: default tower-height and Sc-negligible change lists
// applied ahead of (and overridden by) whatever a given site-year's DD
// header specifies.
type SiteDefaults struct {
	TowerHeights []struct {
		At     timestampSpec `toml:"at"`
		Height float64       `toml:"height"`
	} `toml:"tower_height"`
	ScNegligible []struct {
		At         timestampSpec `toml:"at"`
		Negligible bool          `toml:"negligible"`
	} `toml:"sc_negligible"`
}

// LoadSiteDefaults decodes path as TOML into a SiteDefaults.
func LoadSiteDefaults(path string) (SiteDefaults, error) {
	var sd SiteDefaults
	if _, err := toml.DecodeFile(path, &sd); err != nil {
		return sd, oflxerr.Newf(oflxerr.Io, "reading site defaults %q", path).WithCause(err)
	}
	return sd, nil
}

// ApplyTo layers sd's tower-height and Sc-negligible intervals ahead of
// details' own (details' own entries, which came from the DD header,
// are appended after and therefore win wherever intervals overlap, by
// the last-match-wins convention science/derive already applies when
// walking these change lists).
func (sd SiteDefaults) ApplyTo(details oneflux.DatasetDetails) oneflux.DatasetDetails {
	var heights []oneflux.HeightChange
	for _, h := range sd.TowerHeights {
		heights = append(heights, oneflux.HeightChange{At: h.At.timestamp(), Height: h.Height})
	}
	details.TowerHeights = append(heights, details.TowerHeights...)

	var negl []oneflux.ScNeglChange
	for _, n := range sd.ScNegligible {
		negl = append(negl, oneflux.ScNeglChange{At: n.At.timestamp(), Negligible: n.Negligible})
	}
	details.ScNegligible = append(negl, details.ScNegligible...)
	return details
}
