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
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	outcomeCompleted = "completed"
	outcomeEmpty     = "empty"
	outcomeFailed    = "failed"
)

// metricsPipeline holds Prometheus metrics for the orchestration loop.
type metricsPipeline struct {
	once sync.Once

	files           *prometheus.CounterVec
	samples         *prometheus.CounterVec
	invalid         *prometheus.CounterVec
	dropped         prometheus.Counter
	checkpointSaves *prometheus.CounterVec
	pendingFiles    prometheus.Gauge
	fileDuration    prometheus.Histogram
}

var pipeMetrics metricsPipeline

func (m *metricsPipeline) init() {
	m.once.Do(func() {
		m.files = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "stackqc_files_total", Help: "Input files handled, by outcome"}, []string{"outcome"})
		m.samples = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "stackqc_samples_total", Help: "Classified samples, by validity"}, []string{"valid"})
		m.invalid = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "stackqc_invalid_predictions_total", Help: "Invalid predictions, by reason code"}, []string{"reason"})
		m.dropped = prometheus.NewCounter(prometheus.CounterOpts{Name: "stackqc_dropped_rows_total", Help: "Rows skipped because their content was empty"})
		m.checkpointSaves = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "stackqc_checkpoint_saves_total", Help: "Checkpoint saves, by result"}, []string{"result"})
		m.pendingFiles = prometheus.NewGauge(prometheus.GaugeOpts{Name: "stackqc_pending_files", Help: "Files seen in the data dir that are not ready yet"})

		buckets := []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200, 3600}
		m.fileDuration = prometheus.NewHistogram(prometheus.HistogramOpts{Name: "stackqc_file_seconds", Help: "Time to process one input file", Buckets: buckets})

		prometheus.MustRegister(
			m.files, m.samples, m.invalid, m.dropped,
			m.checkpointSaves, m.pendingFiles, m.fileDuration,
		)
	})
}

func setPendingFiles(n int) { pipeMetrics.init(); pipeMetrics.pendingFiles.Set(float64(n)) }

func recordDropped(n int) { pipeMetrics.init(); pipeMetrics.dropped.Add(float64(n)) }

func recordSample(valid bool, reason string) {
	pipeMetrics.init()
	if valid {
		pipeMetrics.samples.WithLabelValues("true").Inc()
		return
	}
	pipeMetrics.samples.WithLabelValues("false").Inc()
	pipeMetrics.invalid.WithLabelValues(reason).Inc()
}

func recordCheckpointSave(err error) {
	pipeMetrics.init()
	if err != nil {
		pipeMetrics.checkpointSaves.WithLabelValues("error").Inc()
		return
	}
	pipeMetrics.checkpointSaves.WithLabelValues("ok").Inc()
}

func observeFile(outcome string, d time.Duration) {
	pipeMetrics.init()
	pipeMetrics.files.WithLabelValues(outcome).Inc()
	if outcome != outcomeFailed {
		pipeMetrics.fileDuration.Observe(d.Seconds())
	}
}
