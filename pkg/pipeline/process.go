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
	"io"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/kraklabs/stackqc/pkg/inference"
	"github.com/kraklabs/stackqc/pkg/sink"
	"github.com/kraklabs/stackqc/pkg/source"
	"github.com/kraklabs/stackqc/pkg/stats"
)

// processFile streams one file through the classifier and reports whether it
// was completed. Sample counters reach the run stats only once the artifact
// is committed.
func (p *Pipeline) processFile(ctx context.Context, logger *slog.Logger, path string) bool {
	start := p.now()
	log := logger.With("file", baseName(path))
	p.stats.CurrentFile = baseName(path)

	stream, err := source.Open(path, source.Options{ChunkRows: p.cfg.ChunkRows()})
	if err != nil {
		return p.handleFailure(ctx, log, path, err)
	}
	defer func() { _ = stream.Close() }()

	w, err := sink.Create(p.cfg.OutputDir, path, p.cfg.OutputFormat)
	if err != nil {
		return p.handleFailure(ctx, log, path, err)
	}
	log.Info("pipeline.file.start", "rows", stream.Total(), "output", w.Path())
	p.publish(path, stream.Total(), 0)
	tally := &stats.Stats{}

	for {
		if ctx.Err() != nil {
			_ = w.Abort()
			p.stats.CurrentFile = ""
			log.Warn("pipeline.file.interrupted", "rows_done", stream.Offset(), "rows", stream.Total())
			return false
		}

		chunk, err := stream.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			_ = w.Abort()
			return p.handleFailure(ctx, log, path, err)
		}

		results, err := p.inferChunk(ctx, chunk.Texts())
		if err != nil {
			_ = w.Abort()
			p.stats.CurrentFile = ""
			log.Warn("pipeline.file.interrupted", "rows_done", chunk.Offset, "rows", stream.Total(), "err", err)
			return false
		}

		rows := sink.Merge(chunk.Records, results, p.validator, p.now())
		if err := w.Write(rows); err != nil {
			_ = w.Abort()
			return p.handleFailure(ctx, log, path, err)
		}
		recordChunk(tally, chunk, rows, results)
		log.Debug("pipeline.chunk.done", "seq", chunk.Seq, "rows", chunk.RowsRead, "dropped", chunk.Dropped)
		p.publish(path, stream.Total(), stream.Offset())
	}

	if err := w.Commit(); err != nil {
		return p.handleFailure(ctx, log, path, err)
	}

	elapsed := p.now().Sub(start)
	p.stats.AddSamples(tally)
	p.stats.AddProcessingTime(elapsed)
	p.stats.ProcessedFiles++
	p.stats.CurrentFile = ""
	outcome := outcomeCompleted
	if w.Count() == 0 {
		p.stats.EmptyFiles++
		outcome = outcomeEmpty
	}
	observeFile(outcome, elapsed)
	p.markComplete(ctx, log, path)

	throughput := 0.0
	if elapsed > 0 {
		throughput = float64(w.Count()) / elapsed.Seconds()
	}
	log.Info("pipeline.file.complete",
		"samples", w.Count(),
		"rows", stream.Total(),
		"output", w.Path(),
		"duration_ms", elapsed.Milliseconds(),
		"throughput_sps", throughput,
		"files_done", p.stats.ProcessedFiles,
		"files_total", p.stats.TotalFiles,
	)
	p.publish("", 0, 0)
	return true
}

// inferChunk classifies texts in batches. Batches are submitted in order,
// each after taking a slot from the shared limiter, and run concurrently.
// Results are stored by span so they line up with texts. An error means
// ctx ended before every batch was submitted; batches already in flight are
// waited for either way.
func (p *Pipeline) inferChunk(ctx context.Context, texts []string) ([]inference.Result, error) {
	results := make([]inference.Result, len(texts))
	spans := p.batcher.Split(texts)

	var g errgroup.Group
	var submitErr error
	for _, span := range spans {
		if err := ctx.Err(); err != nil {
			submitErr = err
			break
		}
		if err := p.limiter.Acquire(ctx); err != nil {
			submitErr = err
			break
		}
		g.Go(func() error {
			defer p.limiter.Release()
			batch := p.client.Predict(ctx, texts[span.Start:span.End], p.cfg.TopK, p.cfg.Threshold)
			copy(results[span.Start:span.End], batch)
			return nil
		})
	}
	_ = g.Wait()
	return results, submitErr
}

func recordChunk(tally *stats.Stats, chunk *source.Chunk, rows []sink.OutputRecord, results []inference.Result) {
	tally.TotalSamples += int64(chunk.RowsRead)
	for i := range rows {
		tally.RecordSample(rows[i].PredictionValid, rows[i].PredictionError, results[i].Failed)
		tally.BytesProcessed += int64(len(chunk.Records[i].Text))
		recordSample(rows[i].PredictionValid, rows[i].PredictionError)
	}
	recordDropped(chunk.Dropped)
}

// handleFailure applies the corrupt-file policy and reports whether the file
// counts as completed.
func (p *Pipeline) handleFailure(ctx context.Context, log *slog.Logger, path string, err error) bool {
	p.stats.FailedFiles++
	p.stats.CurrentFile = ""
	observeFile(outcomeFailed, 0)

	structural := isStructural(err)
	if structural && p.cfg.OnCorrupt == OnCorruptComplete {
		log.Error("pipeline.file.failed", "policy", OnCorruptComplete, "err", err)
		p.markComplete(ctx, log, path)
		p.publish("", 0, 0)
		return true
	}

	p.failed[path] = struct{}{}
	log.Error("pipeline.file.failed", "policy", OnCorruptRetry, "structural", structural, "err", err)
	p.publish("", 0, 0)
	return false
}
