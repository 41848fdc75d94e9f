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

	flag "github.com/spf13/pflag"

	"github.com/kraklabs/stackqc/internal/errors"
	"github.com/kraklabs/stackqc/internal/output"
	"github.com/kraklabs/stackqc/internal/ui"
	"github.com/kraklabs/stackqc/pkg/checkpoint"
)

func runReset(args []string, configPath string, globals GlobalFlags) {
	fs := flag.NewFlagSet("reset", flag.ExitOnError)
	confirm := fs.Bool("yes", false, "Confirm the reset (required)")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: stackqc reset --yes

Clears the checkpoint so the next run reprocesses every file. Output files
already written are left in place and will be overwritten.

WARNING: the processed-file list cannot be recovered!

Options:
`)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(errors.ExitInput)
	}

	if !*confirm {
		errors.FatalError(errors.NewInputError(
			"Reset not confirmed",
			"This deletes the list of processed files",
			"Run 'stackqc reset --yes'",
		), globals.JSON)
	}

	cfg, err := LoadConfig(configPath)
	if err != nil {
		errors.FatalError(errors.NewConfigError("Cannot load configuration", err.Error(), "", err), globals.JSON)
	}
	if cfg.OutputDir == "" {
		errors.FatalError(errors.NewConfigError("No output directory configured", "output_dir is empty", "", nil), globals.JSON)
	}

	lock, err := NewRunLock(cfg.OutputDir)
	if err != nil {
		errors.FatalError(errors.NewPermissionError("Cannot use output directory", cfg.OutputDir, "", err), globals.JSON)
	}
	acquired, err := lock.TryAcquire()
	if err != nil {
		errors.FatalError(errors.NewPermissionError("Cannot lock output directory", lock.Path(), "", err), globals.JSON)
	}
	if !acquired {
		errors.FatalError(errors.NewLockedError(
			"Cannot reset while a processor is running",
			"The output directory is locked by another stackqc process",
			"Stop the processor first",
		), globals.JSON)
	}
	defer lock.Release()

	ctx := context.Background()
	store, err := cfg.OpenStore(ctx, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		lock.Release()
		errors.FatalError(errors.NewNetworkError("Cannot open checkpoint store", err.Error(), "", err), globals.JSON)
	}
	defer func() { _ = closeStore(store) }()

	cleared, err := clearCheckpoint(ctx, store)
	if err != nil {
		lock.Release()
		errors.FatalError(errors.NewCheckpointError("Failed to clear checkpoint", store.Location(), "", err), globals.JSON)
	}

	if globals.JSON {
		_ = output.JSON(map[string]any{"checkpoint": store.Location(), "cleared_files": cleared})
		return
	}
	if globals.Quiet {
		return
	}
	if cleared == 0 {
		ui.Infof("Checkpoint was already empty (%s)", store.Location())
		return
	}
	ui.Successf("Checkpoint cleared (%s)", store.Location())
	ui.Warningf("%d processed files will be reprocessed by the next run", cleared)
	fmt.Println()
	fmt.Println("Next steps:")
	fmt.Println("  stackqc run    Reprocess every ready file")
}

// clearCheckpoint empties store and returns how many processed files it held.
func clearCheckpoint(ctx context.Context, store checkpoint.Store) (int, error) {
	cp, err := store.Load(ctx)
	if err != nil {
		return 0, err
	}
	if err := store.Clear(ctx); err != nil {
		return 0, err
	}
	return len(cp.ProcessedFiles), nil
}
