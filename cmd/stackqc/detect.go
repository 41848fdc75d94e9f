// Copyright 2025 KrakLabs
// SPDX-License-Identifier: AGPL-3.0-or-later

package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	flag "github.com/spf13/pflag"

	"github.com/kraklabs/stackqc/internal/errors"
	"github.com/kraklabs/stackqc/internal/output"
	"github.com/kraklabs/stackqc/internal/ui"
	"github.com/kraklabs/stackqc/pkg/readiness"
)

// FileReport is the readiness of one input file.
type FileReport struct {
	Path   string `json:"path"`
	Ready  bool   `json:"ready"`
	State  string `json:"state"`
	Reason string `json:"reason"`
}

// ScanReport is one line of `stackqc detect --watch --json`.
type ScanReport struct {
	Time    time.Time `json:"time"`
	Ready   int       `json:"ready"`
	Pending int       `json:"pending"`
	// NewlyReady lists files that became ready since the previous scan.
	NewlyReady []string `json:"newly_ready,omitempty"`
}

func runDetect(args []string, configPath string, globals GlobalFlags) {
	fs := flag.NewFlagSet("detect", flag.ExitOnError)
	dataDir := fs.String("data-dir", "", "Input directory (overrides data_dir)")
	pattern := fs.String("pattern", "", "File glob (overrides file_pattern)")
	window := fs.Duration("stability-window", -1, "Stability window (default: stability_window_seconds)")
	interval := fs.Duration("interval", 5*time.Second, "Time between scans")
	watch := fs.Bool("watch", false, "Keep scanning until interrupted")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: stackqc detect [options]

Reports which files in the data directory are ready to be processed. A file
is ready once it has been unchanged for the stability window and its Parquet
footer and schema can be read.

Without --watch, files are observed until every one of them has settled
(ready or invalid) and a report is printed. With --watch, a summary line is
printed after every scan.

Options:
`)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(errors.ExitInput)
	}

	cfg, err := LoadConfig(configPath)
	if err != nil {
		errors.FatalError(errors.NewConfigError("Cannot load configuration", err.Error(), "", err), globals.JSON)
	}
	if *dataDir != "" {
		cfg.DataDir = *dataDir
	}
	if *pattern != "" {
		cfg.FilePattern = *pattern
	}
	if *window >= 0 {
		cfg.StabilityWindowSeconds = window.Seconds()
	}
	if cfg.DataDir == "" {
		errors.FatalError(errors.NewConfigError("No data directory configured", "data_dir is empty", "Pass --data-dir or set data_dir", nil), globals.JSON)
	}
	if st, err := os.Stat(cfg.DataDir); err != nil || !st.IsDir() {
		errors.FatalError(errors.NewNotFoundError("Data directory not found", cfg.DataDir, "Check data_dir"), globals.JSON)
	}
	if *interval <= 0 {
		errors.FatalError(errors.NewInputError("Invalid --interval", interval.String(), "Use a positive duration such as 5s"), globals.JSON)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	if globals.Verbose > 0 {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	r := &detectRunner{
		detector: readiness.New(seconds(cfg.StabilityWindowSeconds), readiness.WithLogger(logger)),
		dir:      cfg.DataDir,
		pattern:  cfg.FilePattern,
		interval: *interval,
		now:      time.Now,
		wait:     sleepCtx,
	}

	if *watch {
		err = r.Watch(ctx, func(rep ScanReport) {
			if globals.JSON {
				_ = output.JSONLine(rep)
				return
			}
			fmt.Printf("%s  ready %s  pending %s\n", rep.Time.Format(time.TimeOnly), ui.CountText(int64(rep.Ready)), ui.CountText(int64(rep.Pending)))
			for _, p := range rep.NewlyReady {
				fmt.Printf("  %s %s\n", ui.Green.Sprint("+"), p)
			}
		})
		if err != nil && ctx.Err() == nil {
			errors.FatalError(errors.NewInternalError("Scan failed", err.Error(), "", err), globals.JSON)
		}
		return
	}

	spinner := NewSpinner(NewProgressConfig(globals), "waiting for files to settle")
	if spinner != nil {
		r.onScan = func() { _ = spinner.Add(1) }
	}
	reports, err := r.Once(ctx)
	if spinner != nil {
		_ = spinner.Finish()
	}
	if err != nil {
		errors.FatalError(errors.NewInternalError("Scan failed", err.Error(), "", err), globals.JSON)
	}

	if globals.JSON {
		_ = output.JSON(reports)
		return
	}
	printDetect(os.Stdout, cfg.DataDir, reports)
}

// detectRunner drives a readiness.Detector outside a pipeline.
type detectRunner struct {
	detector *readiness.Detector
	dir      string
	pattern  string
	interval time.Duration
	now      func() time.Time
	wait     func(ctx context.Context, d time.Duration) error
	onScan   func()
}

// Once scans until no file is still settling, or until the stability window
// plus two intervals has passed, and returns the last status of every file.
func (r *detectRunner) Once(ctx context.Context) ([]FileReport, error) {
	deadline := r.now().Add(r.detector.Window() + 2*r.interval)
	for {
		ready, pending, err := r.detector.Scan(r.dir, r.pattern)
		if err != nil {
			return nil, err
		}
		if r.onScan != nil {
			r.onScan()
		}
		if !settling(pending) || !r.now().Before(deadline) {
			return buildReports(ready, pending), nil
		}
		if err := r.wait(ctx, r.interval); err != nil {
			return buildReports(ready, pending), nil
		}
	}
}

// Watch scans every interval until ctx ends.
func (r *detectRunner) Watch(ctx context.Context, emit func(ScanReport)) error {
	seen := make(map[string]struct{})
	for {
		ready, pending, err := r.detector.Scan(r.dir, r.pattern)
		if err != nil {
			return err
		}
		rep := ScanReport{Time: r.now(), Ready: len(ready), Pending: len(pending)}
		current := make(map[string]struct{}, len(ready))
		for _, p := range ready {
			current[p] = struct{}{}
			if _, ok := seen[p]; !ok {
				rep.NewlyReady = append(rep.NewlyReady, p)
			}
		}
		seen = current
		emit(rep)

		if err := r.wait(ctx, r.interval); err != nil {
			return err
		}
	}
}

func settling(pending map[string]readiness.Status) bool {
	for _, st := range pending {
		switch st.State {
		case readiness.StateFirstDetected, readiness.StateChanging, readiness.StateStablePending:
			return true
		}
	}
	return false
}

func buildReports(ready []string, pending map[string]readiness.Status) []FileReport {
	out := make([]FileReport, 0, len(ready)+len(pending))
	for _, p := range ready {
		out = append(out, FileReport{Path: p, Ready: true, State: readiness.StateReady.String(), Reason: readiness.ReasonReady})
	}
	for p, st := range pending {
		out = append(out, FileReport{Path: p, State: st.State.String(), Reason: st.Reason})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

func printDetect(w io.Writer, dir string, reports []FileReport) {
	ui.Header(w, "File Readiness")
	fmt.Fprintf(w, "%s %s\n\n", ui.Label("Data Dir:"), ui.DimText(dir))
	if len(reports) == 0 {
		fmt.Fprintln(w, "No matching files.")
		return
	}

	ready := 0
	for _, r := range reports {
		mark := ui.Yellow.Sprint("…")
		switch {
		case r.Ready:
			mark = ui.Green.Sprint("✓")
			ready++
		case r.State == readiness.StateInvalid.String():
			mark = ui.Red.Sprint("✗")
		}
		fmt.Fprintf(w, "  %s %-15s %-28s %s\n", mark, r.State, r.Reason, r.Path)
	}
	fmt.Fprintf(w, "\n%d of %d files ready\n", ready, len(reports))
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
