// Copyright 2025 KrakLabs
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.
//
// For commercial licensing, contact: licensing@kraklabs.com
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/schollz/progressbar/v3"

	"github.com/kraklabs/stackqc/pkg/pipeline"
	"github.com/kraklabs/stackqc/pkg/stats"
)

// ProgressConfig determines if and how progress bars are drawn.
type ProgressConfig struct {
	// Enabled is false with --json, -q, or when stderr is not a TTY.
	Enabled bool
	Writer  io.Writer
	NoColor bool
}

// NewProgressConfig derives the progress settings from the global flags.
func NewProgressConfig(globals GlobalFlags) ProgressConfig {
	enabled := !globals.Quiet && isatty.IsTerminal(os.Stderr.Fd())

	return ProgressConfig{
		Enabled: enabled,
		Writer:  os.Stderr,
		NoColor: globals.NoColor,
	}
}

// NewProgressBar returns a row progress bar for one file, or nil when
// progress is disabled.
func NewProgressBar(cfg ProgressConfig, total int64, description string) *progressbar.ProgressBar {
	if !cfg.Enabled {
		return nil
	}

	return progressbar.NewOptions64(total,
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetWriter(cfg.Writer),
		progressbar.OptionShowCount(),
		progressbar.OptionSetPredictTime(true),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionClearOnFinish(),
		progressbar.OptionSetWidth(40),
		progressbar.OptionEnableColorCodes(!cfg.NoColor),
		progressbar.OptionThrottle(65*time.Millisecond),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "=",
			SaucerHead:    ">",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
	)
}

// NewSpinner returns an indeterminate spinner, or nil when progress is
// disabled.
func NewSpinner(cfg ProgressConfig, description string) *progressbar.ProgressBar {
	if !cfg.Enabled {
		return nil
	}

	return progressbar.NewOptions(-1,
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetWriter(cfg.Writer),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionClearOnFinish(),
		progressbar.OptionEnableColorCodes(!cfg.NoColor),
	)
}

// runProgress turns pipeline progress into a per-file bar on a terminal, or
// into a periodic pipeline.progress log line otherwise. It is only called
// from the pipeline's Run goroutine.
type runProgress struct {
	cfg    ProgressConfig
	logger *slog.Logger
	now    func() time.Time
	every  time.Duration

	bar     *progressbar.ProgressBar
	file    string
	lastLog time.Time
}

func newRunProgress(cfg ProgressConfig, logger *slog.Logger, every time.Duration) *runProgress {
	return &runProgress{cfg: cfg, logger: logger, now: time.Now, every: every}
}

// Update implements the pipeline.OnProgress callback.
func (r *runProgress) Update(p pipeline.Progress) {
	if !r.cfg.Enabled {
		r.logLine(p.Stats)
		return
	}

	if p.File != r.file {
		r.finishBar()
		r.file = p.File
		if p.File != "" {
			r.bar = NewProgressBar(r.cfg, p.FileRows, filepath.Base(p.File))
		}
	}
	if r.bar != nil {
		_ = r.bar.Set64(p.FileRowsDone)
		r.bar.Describe(fmt.Sprintf("%s  %.0f samples/s", filepath.Base(p.File), p.Stats.Throughput()))
	}
}

// Finish clears any bar left on screen.
func (r *runProgress) Finish() {
	r.finishBar()
	r.file = ""
}

func (r *runProgress) finishBar() {
	if r.bar != nil {
		_ = r.bar.Finish()
		r.bar = nil
	}
}

func (r *runProgress) logLine(st *stats.Stats) {
	if st == nil || r.logger == nil {
		return
	}
	now := r.now()
	if !r.lastLog.IsZero() && now.Sub(r.lastLog) < r.every {
		return
	}
	r.lastLog = now
	r.logger.Info("pipeline.progress",
		"files_done", st.ProcessedFiles,
		"files_total", st.TotalFiles,
		"percent", fmt.Sprintf("%.1f", st.FileProgress()),
		"samples", st.ProcessedSamples,
		"throughput_sps", fmt.Sprintf("%.1f", st.Throughput()),
		"elapsed", FormatDuration(st.Elapsed(now)),
	)
}
