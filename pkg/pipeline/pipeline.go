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

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/kraklabs/stackqc/pkg/checkpoint"
	"github.com/kraklabs/stackqc/pkg/inference"
	"github.com/kraklabs/stackqc/pkg/readiness"
	"github.com/kraklabs/stackqc/pkg/source"
	"github.com/kraklabs/stackqc/pkg/stats"
	"github.com/kraklabs/stackqc/pkg/validate"
)

// ErrHealthCheck wraps the startup probe failure that aborts a run.
var ErrHealthCheck = errors.New("inference health check failed")

// Progress is reported after every chunk and every finished file.
type Progress struct {
	// File is the absolute path of the file being processed, empty between files.
	File string
	// FileRows is the footer row count of File.
	FileRows int64
	// FileRowsDone is the number of rows of File read so far.
	FileRowsDone int64
	// Stats is a copy of the run counters.
	Stats *stats.Stats
}

// Result summarizes a run.
type Result struct {
	RunID string
	Stats *stats.Stats
	// Completed is the number of files in the checkpoint at shutdown,
	// including those completed by earlier runs.
	Completed int
	// Interrupted is true when the run stopped because its context ended.
	Interrupted bool
	Duration    time.Duration
	// CheckpointLocation is where the final checkpoint was written.
	CheckpointLocation string
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithStore replaces the default file checkpoint store.
func WithStore(store checkpoint.Store) Option {
	return func(p *Pipeline) { p.store = store }
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

// WithDetector replaces the readiness detector built from Config.
func WithDetector(d *readiness.Detector) Option {
	return func(p *Pipeline) { p.detector = d }
}

// Pipeline is the orchestrator. Run must be called at most once.
type Pipeline struct {
	cfg       Config
	logger    *slog.Logger
	now       func() time.Time
	client    *inference.Client
	limiter   *inference.Limiter
	batcher   *inference.Batcher
	validator *validate.Validator
	detector  *readiness.Detector
	store     checkpoint.Store

	// Owned by the Run goroutine.
	stats      *stats.Stats
	completed  map[string]struct{}
	resumed    map[string]struct{}
	failed     map[string]struct{}
	skipped    map[string]struct{}
	sinceSave  int
	onProgress func(Progress)

	snapshot atomic.Pointer[stats.Stats]
}

// New validates cfg and wires the pipeline components.
func New(cfg Config, logger *slog.Logger, opts ...Option) (*Pipeline, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	client, err := inference.NewClient(inference.Config{
		BaseURL:    cfg.APIURL,
		Timeout:    cfg.Timeout,
		ErrorLabel: cfg.ErrorLabel,
		Retry:      cfg.Retry,
	}, logger)
	if err != nil {
		return nil, err
	}

	p := &Pipeline{
		cfg:       cfg,
		logger:    logger,
		now:       time.Now,
		client:    client,
		limiter:   inference.NewLimiter(cfg.MaxConcurrent),
		batcher:   inference.NewBatcher(cfg.BatchSize, cfg.MaxRequestBytes),
		validator: validate.New(cfg.KnownLabels...),
		completed: make(map[string]struct{}),
		resumed:   make(map[string]struct{}),
		failed:    make(map[string]struct{}),
		skipped:   make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.store == nil {
		p.store = checkpoint.NewFileStore(cfg.OutputDir, logger)
	}
	if p.detector == nil {
		p.detector = readiness.New(cfg.StabilityWindow,
			readiness.WithClock(p.now),
			readiness.WithLogger(logger),
		)
	}
	p.stats = stats.New(p.now())
	p.snapshot.Store(p.stats.Clone())
	return p, nil
}

// OnProgress registers a callback invoked from the Run goroutine.
func (p *Pipeline) OnProgress(fn func(Progress)) { p.onProgress = fn }

// Snapshot returns the latest published copy of the run counters. It is safe
// to call from any goroutine.
func (p *Pipeline) Snapshot() *stats.Stats { return p.snapshot.Load() }

// Store returns the checkpoint store.
func (p *Pipeline) Store() checkpoint.Store { return p.store }

// Close releases the checkpoint store if it holds a connection.
func (p *Pipeline) Close() error {
	if c, ok := p.store.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// Candidates filters ready files down to the ones this run still has to
// process: not checkpointed, not completed earlier in this run and, in Once
// mode, not already failed in this run. Order is preserved.
func (p *Pipeline) Candidates(ready []string) []string {
	out := make([]string, 0, len(ready))
	for _, path := range ready {
		if _, done := p.completed[path]; done {
			if _, ok := p.resumed[path]; ok {
				p.skipped[path] = struct{}{}
			}
			p.detector.MarkDone(path)
			continue
		}
		if _, failed := p.failed[path]; failed && p.cfg.Once {
			continue
		}
		out = append(out, path)
	}
	return out
}

// Run processes files until ctx is cancelled or, in Once mode, until no
// pending files remain. The checkpoint is saved on every exit path once
// the health probe has passed.
func (p *Pipeline) Run(ctx context.Context) (result *Result, err error) {
	start := p.now()
	p.stats = stats.New(start)
	p.publish("", 0, 0)
	logger := p.logger.With("run_id", p.stats.RunID)

	if err := os.MkdirAll(p.cfg.OutputDir, 0755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}

	health, err := p.client.Health(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrHealthCheck, err)
	}
	logger.Info("pipeline.health.ok", "api_url", p.client.BaseURL(), "status", health.Status, "model_loaded", health.ModelLoaded)

	p.loadCheckpoint(ctx, logger)

	logger.Info("pipeline.start",
		"data_dir", p.cfg.DataDir,
		"output_dir", p.cfg.OutputDir,
		"max_concurrent", p.cfg.MaxConcurrent,
		"batch_size", p.cfg.BatchSize,
		"chunk_rows", p.cfg.ChunkRows(),
		"stability_window", p.cfg.StabilityWindow,
		"resume", p.cfg.Resume,
		"checkpointed_files", len(p.completed),
	)

	defer func() {
		p.stats.CurrentFile = ""
		p.saveCheckpoint(ctx, logger)
		p.publish("", 0, 0)
		result = &Result{
			RunID:              p.stats.RunID,
			Stats:              p.stats.Clone(),
			Completed:          len(p.completed),
			Interrupted:        ctx.Err() != nil,
			Duration:           p.now().Sub(start),
			CheckpointLocation: p.store.Location(),
		}
		logger.Info("pipeline.complete",
			"processed_files", p.stats.ProcessedFiles,
			"failed_files", p.stats.FailedFiles,
			"processed_samples", p.stats.ProcessedSamples,
			"success_rate", p.stats.SuccessRate(),
			"throughput_sps", p.stats.Throughput(),
			"interrupted", result.Interrupted,
			"duration_ms", result.Duration.Milliseconds(),
		)
	}()

	for ctx.Err() == nil {
		ready, pending, err := p.detector.Scan(p.cfg.DataDir, p.cfg.FilePattern)
		if err != nil {
			logger.Error("pipeline.scan.error", "data_dir", p.cfg.DataDir, "err", err)
		}
		candidates := p.Candidates(ready)
		p.stats.SkippedFiles = len(p.skipped)
		p.stats.TotalFiles = p.stats.ProcessedFiles + len(candidates)
		setPendingFiles(len(pending))
		logger.Debug("pipeline.scan", "ready", len(ready), "candidates", len(candidates), "pending", len(pending))

		completedThisRound := 0
		for _, path := range candidates {
			if ctx.Err() != nil {
				break
			}
			if p.processFile(ctx, logger, path) {
				completedThisRound++
			}
		}

		if ctx.Err() != nil {
			break
		}
		if completedThisRound > 0 {
			continue
		}
		if p.cfg.Once && len(candidates) == 0 && !inTransition(pending) {
			logger.Info("pipeline.once.done")
			break
		}

		logger.Debug("pipeline.idle", "poll_interval", p.cfg.PollInterval)
		select {
		case <-ctx.Done():
		case <-time.After(p.cfg.PollInterval):
		}
	}
	return nil, nil
}

func (p *Pipeline) loadCheckpoint(ctx context.Context, logger *slog.Logger) {
	if !p.cfg.Resume {
		logger.Info("checkpoint.resume.disabled", "location", p.store.Location())
		return
	}
	cp, err := p.store.Load(ctx)
	if err != nil {
		logger.Warn("checkpoint.load.error", "location", p.store.Location(), "err", err)
		return
	}
	for path := range cp.Set() {
		p.completed[path] = struct{}{}
		p.resumed[path] = struct{}{}
	}
	if cp.Stats != nil {
		logger.Info("checkpoint.resume",
			"files", len(p.completed),
			"previous_run_id", cp.Stats.RunID,
			"previous_samples", cp.Stats.ProcessedSamples,
			"last_update", cp.LastUpdate,
		)
	}
}

func (p *Pipeline) saveCheckpoint(ctx context.Context, logger *slog.Logger) {
	cp := checkpoint.New(p.completed, p.stats, p.now())
	if err := p.store.Save(context.WithoutCancel(ctx), cp); err != nil {
		recordCheckpointSave(err)
		logger.Error("checkpoint.save.error", "location", p.store.Location(), "err", err)
		return
	}
	recordCheckpointSave(nil)
	p.sinceSave = 0
	logger.Debug("checkpoint.saved", "location", p.store.Location(), "files", len(cp.ProcessedFiles))
}

// markComplete records a finished file and saves the checkpoint every
// CheckpointEvery files.
func (p *Pipeline) markComplete(ctx context.Context, logger *slog.Logger, path string) {
	p.completed[path] = struct{}{}
	delete(p.failed, path)
	p.detector.MarkDone(path)
	p.sinceSave++
	if p.sinceSave >= p.cfg.CheckpointEvery {
		p.saveCheckpoint(ctx, logger)
	}
}

func (p *Pipeline) publish(file string, fileRows, fileDone int64) {
	snap := p.stats.Clone()
	p.snapshot.Store(snap)
	if p.onProgress != nil {
		p.onProgress(Progress{File: file, FileRows: fileRows, FileRowsDone: fileDone, Stats: snap})
	}
}

// inTransition reports whether any pending file may still become ready
// without outside intervention.
func inTransition(pending map[string]readiness.Status) bool {
	for _, st := range pending {
		switch st.State {
		case readiness.StateFirstDetected, readiness.StateChanging, readiness.StateStablePending:
			return true
		}
	}
	return false
}

func isStructural(err error) bool {
	return errors.Is(err, source.ErrMissingColumns) || errors.Is(err, source.ErrCorrupt)
}

func baseName(path string) string { return filepath.Base(path) }
