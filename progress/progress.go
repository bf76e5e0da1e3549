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

// Package progress prints the scrolling per-step progress lines and the
// final per-run summary required by the pipeline's user-visible
// behaviour, on top of a structured logrus logger.
package progress

import (
	"os"

	"github.com/sirupsen/logrus"

	"github.com/fluxnet/ONEFlux-sub001/oflxerr"
)

// Reporter wraps a *logrus.Logger with the step/summary vocabulary the
// pipeline's stderr output uses.
type Reporter struct {
	log        *logrus.Logger
	processed  int
	skipped    int
}

// New builds a Reporter. When jsonOutput is true (typically because
// stderr is not a terminal, matching the teacher's batch-mode logging
// convention) records are emitted as JSON lines; otherwise a compact
// text formatter is used.
func New(jsonOutput bool) *Reporter {
	l := logrus.New()
	l.Out = os.Stderr
	if jsonOutput {
		l.Formatter = &logrus.JSONFormatter{}
	} else {
		l.Formatter = &logrus.TextFormatter{DisableColors: true, FullTimestamp: false}
	}
	return &Reporter{log: l}
}

// Step prints a scrolling line such as "- gapfilling TA...ok (12 values
// unfilled)".
func (r *Reporter) Step(action, target, outcome string, detail string) {
	line := "- " + action + " " + target + "..." + outcome
	if detail != "" {
		line += " (" + detail + ")"
	}
	r.log.Info(line)
}

// SiteStart logs the beginning of a site-year's processing.
func (r *Reporter) SiteStart(site string, year int) {
	r.log.WithFields(logrus.Fields{"site": site, "year": year}).Info("processing site-year")
}

// SiteDone records that a site-year completed successfully.
func (r *Reporter) SiteDone(site string, year int) {
	r.processed++
	r.log.WithFields(logrus.Fields{"site": site, "year": year}).Info("site-year complete")
}

// SiteFailed logs a fatal, per-site-year abort and records it as
// skipped. InsufficientData errors should be reported through Warn
// instead, since the pipeline downgrades them and continues.
func (r *Reporter) SiteFailed(err *oflxerr.Error) {
	r.skipped++
	r.log.WithFields(logrus.Fields{
		"kind": err.Kind.String(), "site": err.Site, "year": err.Year,
		"row": err.Row, "column": err.Column,
	}).Error(err.Error())
}

// Warn logs a downgraded InsufficientData condition; the site-year
// continues processing with the affected variable left all-missing.
func (r *Reporter) Warn(err *oflxerr.Error) {
	r.log.WithFields(logrus.Fields{
		"kind": err.Kind.String(), "site": err.Site, "year": err.Year,
		"row": err.Row, "column": err.Column,
	}).Warn(err.Error())
}

// Summary prints the final "N processed, M skipped" line, matching the
// original qc_auto/meteo_proc binaries' closing report.
func (r *Reporter) Summary() {
	r.log.WithFields(logrus.Fields{
		"processed": r.processed, "skipped": r.skipped,
	}).Infof("done: %d processed, %d skipped", r.processed, r.skipped)
}

// Processed returns the number of site-years that completed successfully.
func (r *Reporter) Processed() int { return r.processed }

// Skipped returns the number of site-years aborted by a fatal error.
func (r *Reporter) Skipped() int { return r.skipped }
