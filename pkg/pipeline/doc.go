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

// Package pipeline runs the unattended classification loop for stackqc.
//
// A Pipeline watches a data directory for Parquet files, waits until each
// file has stopped changing, streams its rows through the remote classifier
// and writes one labeled artifact per input file. Completed files are
// recorded in a checkpoint so a restarted process picks up where the last
// one stopped.
//
// # Run Loop
//
// Run walks through the following states until its context is cancelled:
//
//  1. Init: create the output directory, probe the inference service and
//     load the checkpoint. A failed probe is the only fatal error.
//  2. Scan: ask the readiness detector which files are READY and drop the
//     ones already completed.
//  3. Process: handle the remaining files one at a time. Within a file the
//     rows are read in bounded chunks; each chunk is split into batches that
//     run concurrently, limited by a semaphore shared by the whole process.
//  4. Idle: when a round completes nothing, sleep for the poll interval and
//     scan again.
//  5. Shutdown: a deferred finalizer always saves the checkpoint and
//     returns the run summary.
//
// # Failure Handling
//
// Request failures never stop a file: the client substitutes sentinel
// results and the samples are written as invalid. A file that cannot be
// read (missing columns, corrupt pages) is logged and either retried on a
// later scan or marked complete, depending on Config.OnCorrupt.
//
// # Quick Start
//
//	cfg := pipeline.DefaultConfig()
//	cfg.DataDir = "/data/the-stack"
//	cfg.OutputDir = "/data/labeled"
//	cfg.APIURL = "http://localhost:8000"
//
//	p, err := pipeline.New(cfg, logger)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer p.Close()
//
//	result, err := p.Run(ctx)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	fmt.Printf("Processed %d files, %d samples\n",
//	    result.Stats.ProcessedFiles, result.Stats.ProcessedSamples)
package pipeline
