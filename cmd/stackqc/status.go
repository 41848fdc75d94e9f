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
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	flag "github.com/spf13/pflag"

	"github.com/kraklabs/stackqc/internal/errors"
	"github.com/kraklabs/stackqc/internal/output"
	"github.com/kraklabs/stackqc/internal/ui"
	"github.com/kraklabs/stackqc/pkg/checkpoint"
	"github.com/kraklabs/stackqc/pkg/stats"
)

// StatusResult is the checkpoint summary printed by `stackqc status`.
type StatusResult struct {
	OutputDir      string       `json:"output_dir"`
	Checkpoint     string       `json:"checkpoint"`
	ProcessedFiles int          `json:"processed_files"`
	LastUpdate     *time.Time   `json:"last_update,omitempty"`
	SuccessRate    float64      `json:"success_rate"`
	Running        bool         `json:"running"`
	RunnerPID      int          `json:"runner_pid,omitempty"`
	RunningFor     string       `json:"running_for,omitempty"`
	Stats          *stats.Stats `json:"stats,omitempty"`
	Files          []string     `json:"files,omitempty"`
}

// runStatus executes the 'status' command. It reads the checkpoint without
// taking the run lock, so it works while a processor is running.
//
// Flags:
//   - --files: also list the checkpointed files
//
// Examples:
//
//	stackqc status
//	stackqc --json status --files
func runStatus(args []string, configPath string, globals GlobalFlags) {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	listFiles := fs.Bool("files", false, "List checkpointed files")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: stackqc status [options]

Shows how many files the checkpoint records as processed and the counters
of the run that saved it.

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
	if cfg.OutputDir == "" {
		errors.FatalError(errors.NewConfigError(
			"No output directory configured",
			"output_dir is empty",
			"Set output_dir in "+DefaultConfigFile+" or STACKQC_OUTPUT_DIR",
			nil,
		), globals.JSON)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ctx := context.Background()
	store, err := cfg.OpenStore(ctx, logger)
	if err != nil {
		errors.FatalError(errors.NewNetworkError("Cannot open checkpoint store", err.Error(), "", err), globals.JSON)
	}
	defer func() { _ = closeStore(store) }()

	result, err := collectStatus(ctx, cfg.OutputDir, store, *listFiles)
	if err != nil {
		errors.FatalError(errors.NewCheckpointError("Cannot read checkpoint", err.Error(), "", err), globals.JSON)
	}

	if globals.JSON {
		_ = output.JSON(result)
		return
	}
	printStatus(os.Stdout, result)
}

func collectStatus(ctx context.Context, outputDir string, store checkpoint.Store, withFiles bool) (*StatusResult, error) {
	cp, err := store.Load(ctx)
	if err != nil {
		return nil, err
	}

	result := &StatusResult{
		OutputDir:      outputDir,
		Checkpoint:     store.Location(),
		ProcessedFiles: len(cp.ProcessedFiles),
		Stats:          cp.Stats,
	}
	if !cp.LastUpdate.IsZero() {
		t := cp.LastUpdate
		result.LastUpdate = &t
	}
	if cp.Stats != nil {
		result.SuccessRate = cp.Stats.SuccessRate()
	}
	if withFiles {
		result.Files = cp.ProcessedFiles
	}

	lock := &RunLock{path: filepath.Join(outputDir, LockFileName)}
	if info := lock.Holder(); info != nil {
		result.Running = true
		result.RunnerPID = info.PID
		result.RunningFor = FormatDuration(time.Since(info.StartedAt))
	}
	return result, nil
}

func printStatus(w io.Writer, r *StatusResult) {
	const width = 18

	ui.Header(w, "stackqc Status")
	ui.Field(w, width, "Output Dir:", ui.DimText(r.OutputDir))
	ui.Field(w, width, "Checkpoint:", ui.DimText(r.Checkpoint))
	if r.Running {
		ui.Field(w, width, "Processor:", ui.Green.Sprintf("running (pid %d, %s)", r.RunnerPID, r.RunningFor))
	} else {
		ui.Field(w, width, "Processor:", "not running")
	}

	if r.LastUpdate == nil {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "No checkpoint yet. Run 'stackqc run' to start processing.")
		return
	}
	ui.Field(w, width, "Last Update:", r.LastUpdate.Local().Format(time.RFC3339))
	ui.Field(w, width, "Processed Files:", ui.CountText(int64(r.ProcessedFiles)))

	if st := r.Stats; st != nil {
		fmt.Fprintln(w)
		ui.SubHeader(w, "Last Run:")
		ui.Field(w, width, "  Run ID:", st.RunID)
		ui.Field(w, width, "  Samples:", st.ProcessedSamples)
		ui.Field(w, width, "  Success Rate:", ui.RateText(r.SuccessRate))
		ui.Field(w, width, "  Throughput:", fmt.Sprintf("%.1f samples/s", st.Throughput()))
		if st.FailedFiles > 0 {
			ui.Field(w, width, "  Failed Files:", ui.Red.Sprint(st.FailedFiles))
		}
		for _, rc := range st.TopReasons(3) {
			ui.Field(w, width, "  "+rc.Reason+":", rc.Count)
		}
	}

	if len(r.Files) > 0 {
		fmt.Fprintln(w)
		ui.SubHeader(w, "Files:")
		for _, f := range r.Files {
			fmt.Fprintf(w, "  %s\n", f)
		}
	}
}
