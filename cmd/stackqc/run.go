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
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	flag "github.com/spf13/pflag"

	"github.com/kraklabs/stackqc/internal/errors"
	"github.com/kraklabs/stackqc/internal/output"
	"github.com/kraklabs/stackqc/internal/ui"
	"github.com/kraklabs/stackqc/pkg/pipeline"
	"github.com/kraklabs/stackqc/pkg/stats"
)

// runFlags are the command-line overrides of `stackqc run`.
type runFlags struct {
	dataDir, outputDir, apiURL, format string
	maxConcurrent, batchSize           int
	stabilityWindow, pollInterval      time.Duration
	once, noResume, debug              bool
	logLevel, logFormat, metricsAddr   string
}

// runRun executes the 'run' command: it processes every ready file in the
// data directory and, unless --once is given, keeps polling for new files
// until SIGINT or SIGTERM. The checkpoint is saved on the way out, so a
// later run resumes where this one stopped.
func runRun(args []string, configPath string, globals GlobalFlags) {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	var f runFlags
	fs.StringVar(&f.dataDir, "data-dir", "", "Input directory (overrides data_dir)")
	fs.StringVar(&f.outputDir, "output-dir", "", "Output directory (overrides output_dir)")
	fs.StringVar(&f.apiURL, "api-url", "", "Inference service URL (overrides api_url)")
	fs.StringVar(&f.format, "format", "", "Output format: parquet or jsonl")
	fs.IntVar(&f.maxConcurrent, "max-concurrent", 0, "Maximum in-flight predict requests")
	fs.IntVar(&f.batchSize, "batch-size", 0, "Texts per predict request")
	fs.DurationVar(&f.stabilityWindow, "stability-window", 0, "How long a file must stay unchanged before it is read")
	fs.DurationVar(&f.pollInterval, "poll-interval", 0, "Sleep between scans when no file is ready")
	fs.BoolVar(&f.once, "once", false, "Exit after the ready files are processed instead of polling")
	fs.BoolVar(&f.noResume, "no-resume", false, "Ignore the existing checkpoint and reprocess every file")
	fs.BoolVar(&f.debug, "debug", false, "Enable debug logging")
	fs.StringVar(&f.logLevel, "log-level", "", "Log level: debug, info, warn, error")
	fs.StringVar(&f.logFormat, "log-format", "", "Log format: text or json")
	fs.StringVar(&f.metricsAddr, "metrics-addr", "", "Listen address for /metrics, /healthz and /status (empty to disable)")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: stackqc run [options]

Classifies every ready Parquet file in the data directory and writes
processed_<name>.<format> files to the output directory. Files still being
written are skipped until they have been unchanged for the stability window.

Options:
`)
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, `
Examples:
  stackqc run
  stackqc run --once --format jsonl
  stackqc run --metrics-addr :9090 --log-format json
`)
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(errors.ExitInput)
	}

	cfg, err := LoadConfig(configPath)
	if err != nil {
		errors.FatalError(errors.NewConfigError(
			"Cannot load configuration",
			err.Error(),
			"Fix the file or run 'stackqc init' to write a fresh one",
			err,
		), globals.JSON)
	}
	f.apply(fs, cfg)

	if err := cfg.Validate(); err != nil {
		errors.FatalError(errors.NewConfigError("Invalid configuration", err.Error(), "", err), globals.JSON)
	}
	pcfg := cfg.ToPipeline()
	pcfg.Once = f.once
	if !cfg.Resume && !globals.Quiet {
		ui.Warning("Resume is off: checkpointed files will be processed again")
	}
	if err := pcfg.Validate(); err != nil {
		errors.FatalError(errors.NewConfigError(
			"Invalid configuration",
			err.Error(),
			"Set the missing values in "+DefaultConfigFile+", via STACKQC_* variables or flags",
			err,
		), globals.JSON)
	}

	lock, err := NewRunLock(pcfg.OutputDir)
	if err != nil {
		errors.FatalError(errors.NewPermissionError("Cannot use output directory", pcfg.OutputDir, "Check the directory permissions", err), globals.JSON)
	}
	acquired, err := lock.TryAcquire()
	if err != nil {
		errors.FatalError(errors.NewPermissionError("Cannot lock output directory", lock.Path(), "Check the directory permissions", err), globals.JSON)
	}
	if !acquired {
		cause := "Another stackqc process is writing to " + pcfg.OutputDir
		if info := lock.Holder(); info != nil {
			cause = fmt.Sprintf("Process %d has been running for %s", info.PID, FormatDuration(time.Since(info.StartedAt)))
		}
		errors.FatalError(errors.NewLockedError("Output directory is in use", cause, "Stop the other processor or choose another output_dir"), globals.JSON)
	}
	defer lock.Release()

	logFile, err := openLogFile(pcfg.OutputDir)
	if err != nil {
		lock.Release()
		errors.FatalError(errors.NewPermissionError("Cannot open log file", pcfg.OutputDir, "Check the directory permissions", err), globals.JSON)
	}
	defer func() { _ = logFile.Close() }()

	logger, err := newLogger(io.MultiWriter(os.Stderr, logFile), cfg.LogLevel, cfg.LogFormat, f.debug, globals.Verbose)
	if err != nil {
		lock.Release()
		errors.FatalError(errors.NewConfigError("Invalid log settings", err.Error(), "", err), globals.JSON)
	}
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	code := execute(ctx, logger, cfg, pcfg, globals)
	if code != errors.ExitSuccess {
		stop()
		lock.Release()
		_ = logFile.Close()
		os.Exit(code)
	}
}

// apply copies the flags that were set on the command line into cfg.
func (f *runFlags) apply(fs *flag.FlagSet, cfg *Config) {
	if fs.Changed("data-dir") {
		cfg.DataDir = f.dataDir
	}
	if fs.Changed("output-dir") {
		cfg.OutputDir = f.outputDir
	}
	if fs.Changed("api-url") {
		cfg.APIURL = f.apiURL
	}
	if fs.Changed("format") {
		cfg.OutputFormat = f.format
	}
	if fs.Changed("max-concurrent") {
		cfg.MaxConcurrent = f.maxConcurrent
	}
	if fs.Changed("batch-size") {
		cfg.BatchSize = f.batchSize
	}
	if fs.Changed("stability-window") {
		cfg.StabilityWindowSeconds = f.stabilityWindow.Seconds()
	}
	if fs.Changed("poll-interval") {
		cfg.PollIntervalSeconds = f.pollInterval.Seconds()
	}
	if f.noResume {
		cfg.Resume = false
	}
	if fs.Changed("log-level") {
		cfg.LogLevel = f.logLevel
	}
	if fs.Changed("log-format") {
		cfg.LogFormat = f.logFormat
	}
	if fs.Changed("metrics-addr") {
		cfg.MetricsAddr = f.metricsAddr
	}
}

// execute runs the pipeline and prints the summary. It returns the exit
// code instead of exiting so deferred cleanup in runRun still happens.
func execute(ctx context.Context, logger *slog.Logger, cfg *Config, pcfg pipeline.Config, globals GlobalFlags) int {
	store, err := cfg.OpenStore(ctx, logger)
	if err != nil {
		return errors.Write(os.Stderr, errors.NewNetworkError(
			"Cannot open checkpoint store",
			err.Error(),
			"Check checkpoint.redis_url or switch checkpoint.backend to file",
			err,
		), globals.JSON)
	}

	p, err := pipeline.New(pcfg, logger, pipeline.WithStore(store))
	if err != nil {
		_ = closeStore(store)
		return errors.Write(os.Stderr, errors.NewConfigError("Cannot start pipeline", err.Error(), "", err), globals.JSON)
	}
	defer func() { _ = p.Close() }()

	if cfg.MetricsAddr != "" {
		srv := &http.Server{Addr: cfg.MetricsAddr, Handler: pipeline.NewOpsRouter(p), ReadHeaderTimeout: 5 * time.Second}
		go func() {
			logger.Info("ops.http.start", "addr", cfg.MetricsAddr)
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Warn("ops.http.error", "err", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	progress := newRunProgress(NewProgressConfig(globals), logger, 30*time.Second)
	p.OnProgress(progress.Update)

	res, err := p.Run(ctx)
	progress.Finish()
	if err != nil {
		return errors.Write(os.Stderr, runError(err, pcfg), globals.JSON)
	}

	if globals.JSON {
		_ = output.JSON(newRunSummary(res))
	} else {
		printResult(os.Stdout, res)
	}
	return errors.ExitSuccess
}

func closeStore(store any) error {
	if c, ok := store.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// runError maps a fatal Run error to a user error.
func runError(err error, pcfg pipeline.Config) *errors.UserError {
	if stderrors.Is(err, pipeline.ErrHealthCheck) {
		return errors.NewNetworkError(
			"Inference service is not ready",
			err.Error(),
			fmt.Sprintf("Check that the classifier at %s is running and its model is loaded", pcfg.APIURL),
			err,
		)
	}
	if stderrors.Is(err, os.ErrPermission) {
		return errors.NewPermissionError("Cannot write to output directory", pcfg.OutputDir, "Check the directory permissions", err)
	}
	return errors.NewInternalError("Run failed", err.Error(), "", err)
}

// RunSummary is the --json form of a finished run.
type RunSummary struct {
	RunID              string              `json:"run_id"`
	Interrupted        bool                `json:"interrupted"`
	DurationSeconds    float64             `json:"duration_seconds"`
	CompletedFiles     int                 `json:"completed_files"`
	CheckpointLocation string              `json:"checkpoint_location"`
	SuccessRate        float64             `json:"success_rate"`
	ThroughputSPS      float64             `json:"throughput_sps"`
	Stats              *stats.Stats        `json:"stats"`
	TopReasons         []stats.ReasonCount `json:"top_reasons,omitempty"`
}

func newRunSummary(res *pipeline.Result) RunSummary {
	return RunSummary{
		RunID:              res.RunID,
		Interrupted:        res.Interrupted,
		DurationSeconds:    res.Duration.Seconds(),
		CompletedFiles:     res.Completed,
		CheckpointLocation: res.CheckpointLocation,
		SuccessRate:        res.Stats.SuccessRate(),
		ThroughputSPS:      res.Stats.Throughput(),
		Stats:              res.Stats,
		TopReasons:         res.Stats.TopReasons(5),
	}
}

// printResult writes the end-of-run summary.
func printResult(w io.Writer, res *pipeline.Result) {
	st := res.Stats
	const width = 20

	fmt.Fprintln(w)
	if res.Interrupted {
		ui.Header(w, "Processing Interrupted")
	} else {
		ui.Header(w, "Processing Complete")
	}
	ui.Field(w, width, "Run ID:", res.RunID)
	ui.Field(w, width, "Files Processed:", ui.CountText(int64(st.ProcessedFiles)))
	if st.SkippedFiles > 0 {
		ui.Field(w, width, "Files Skipped:", st.SkippedFiles)
	}
	if st.FailedFiles > 0 {
		ui.Field(w, width, "Files Failed:", ui.Red.Sprint(st.FailedFiles))
	}
	if st.EmptyFiles > 0 {
		ui.Field(w, width, "Empty Files:", st.EmptyFiles)
	}
	ui.Field(w, width, "Samples:", ui.CountText(st.ProcessedSamples))
	ui.Field(w, width, "Valid:", st.SuccessfulSamples)
	ui.Field(w, width, "Invalid:", st.FailedSamples)
	if st.RequestFailures > 0 {
		ui.Field(w, width, "Request Failures:", st.RequestFailures)
	}
	ui.Field(w, width, "Success Rate:", ui.RateText(st.SuccessRate()))
	ui.Field(w, width, "Throughput:", fmt.Sprintf("%.1f samples/s", st.Throughput()))
	ui.Field(w, width, "Elapsed:", FormatDuration(res.Duration))

	if reasons := st.TopReasons(5); len(reasons) > 0 {
		fmt.Fprintln(w)
		ui.SubHeader(w, "Invalid Predictions:")
		for _, rc := range reasons {
			fmt.Fprintf(w, "  %-24s %d\n", rc.Reason, rc.Count)
		}
	}

	fmt.Fprintln(w)
	fmt.Fprintf(w, "Checkpoint: %s (%d files)\n", ui.DimText(res.CheckpointLocation), res.Completed)
}
