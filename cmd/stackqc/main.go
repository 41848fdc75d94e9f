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

// Package main implements the stackqc CLI, which classifies code samples
// from Parquet files against a remote inference service.
//
// Usage:
//
//	stackqc init                 Write a default stackqc.yaml
//	stackqc run                  Process ready files, then keep polling
//	stackqc run --once           Process ready files and exit
//	stackqc status [--json]      Show checkpoint progress
//	stackqc detect [--watch]     Report file readiness in the data directory
//	stackqc reset --yes          Clear the checkpoint
package main

import (
	"fmt"
	"os"

	flag "github.com/spf13/pflag"

	"github.com/kraklabs/stackqc/internal/errors"
	"github.com/kraklabs/stackqc/internal/ui"
)

// Version information (set via ldflags during build)
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// GlobalFlags are accepted before the command name.
type GlobalFlags struct {
	JSON    bool
	Quiet   bool
	NoColor bool
	Verbose int
}

func main() {
	var globals GlobalFlags
	showVersion := flag.Bool("version", false, "Show version and exit")
	configPath := flag.StringP("config", "c", "", "Path to the config file (default: ./"+DefaultConfigFile+")")
	flag.BoolVar(&globals.JSON, "json", false, "Machine-readable output")
	flag.BoolVarP(&globals.Quiet, "quiet", "q", false, "Suppress progress output")
	flag.BoolVar(&globals.NoColor, "no-color", false, "Disable colored output")
	flag.CountVarP(&globals.Verbose, "verbose", "v", "Increase log verbosity (-v info, -vv debug)")

	// Flags after the command name belong to the command.
	flag.CommandLine.SetInterspersed(false)

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, `stackqc - quality classification for code sample datasets

stackqc watches a directory of Parquet files, sends each sample's content to
a text-classification service and writes labeled copies of the files to an
output directory. Progress is checkpointed, so a restarted processor skips
files it already finished.

Usage:
  stackqc [global options] <command> [options]

Commands:
  init      Write a default stackqc.yaml
  run       Process files (polls for new files until interrupted)
  status    Show checkpoint progress
  detect    Report which input files are ready to process
  reset     Clear the checkpoint (destructive!)

Global Options:
`)
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, `
Examples:
  stackqc init --data-dir /data/stack --output-dir /data/out
  stackqc run
  stackqc run --once --format jsonl
  stackqc --json status
  stackqc detect --watch

Environment Variables:
  STACKQC_API_URL      Inference service URL (overrides api_url)
  STACKQC_DATA_DIR     Input directory (overrides data_dir)
  STACKQC_OUTPUT_DIR   Output directory (overrides output_dir)
  STACKQC_REDIS_URL    Redis URL for the checkpoint (overrides checkpoint.redis_url)

For detailed command help: stackqc <command> --help
`)
	}

	flag.Parse()

	if globals.JSON {
		globals.Quiet = true
	}
	ui.InitColors(globals.NoColor || globals.JSON)

	if *showVersion {
		fmt.Printf("stackqc version %s\n", version)
		fmt.Printf("commit: %s\n", commit)
		fmt.Printf("built: %s\n", date)
		os.Exit(0)
	}

	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		os.Exit(errors.ExitInput)
	}

	command, cmdArgs := args[0], args[1:]
	switch command {
	case "init":
		runInit(cmdArgs, *configPath, globals)
	case "run":
		runRun(cmdArgs, *configPath, globals)
	case "status":
		runStatus(cmdArgs, *configPath, globals)
	case "detect":
		runDetect(cmdArgs, *configPath, globals)
	case "reset":
		runReset(cmdArgs, *configPath, globals)
	case "version":
		fmt.Printf("stackqc version %s\n", version)
	default:
		errors.FatalError(errors.NewInputError(
			fmt.Sprintf("Unknown command: %s", command),
			"",
			"Run 'stackqc --help' to list the available commands",
		), globals.JSON)
	}
}
