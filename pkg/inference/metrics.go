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

package inference

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// metricsInference holds Prometheus metrics for calls to the inference service.
type metricsInference struct {
	once sync.Once

	requests        *prometheus.CounterVec
	retries         prometheus.Counter
	sentinelResults prometheus.Counter
	malformedItems  prometheus.Counter
	inFlight        prometheus.Gauge
	requestDuration prometheus.Histogram
}

var infMetrics metricsInference

func (m *metricsInference) init() {
	m.once.Do(func() {
		m.requests = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "stackqc_inference_requests_total", Help: "Predict calls by outcome"}, []string{"outcome"})
		m.retries = prometheus.NewCounter(prometheus.CounterOpts{Name: "stackqc_inference_retries_total", Help: "Predict calls retried after a retryable failure"})
		m.sentinelResults = prometheus.NewCounter(prometheus.CounterOpts{Name: "stackqc_inference_sentinel_results_total", Help: "Texts that received a sentinel result because the call failed"})
		m.malformedItems = prometheus.NewCounter(prometheus.CounterOpts{Name: "stackqc_inference_malformed_items_total", Help: "Response items that could not be decoded"})
		m.inFlight = prometheus.NewGauge(prometheus.GaugeOpts{Name: "stackqc_inference_in_flight", Help: "Predict calls currently outstanding"})

		buckets := []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30}
		m.requestDuration = prometheus.NewHistogram(prometheus.HistogramOpts{Name: "stackqc_inference_request_seconds", Help: "Duration of a single predict call", Buckets: buckets})

		prometheus.MustRegister(
			m.requests, m.retries, m.sentinelResults, m.malformedItems,
			m.inFlight, m.requestDuration,
		)
	})
}

// record helpers - used by Client and Limiter
func observeRequest(d time.Duration, err error) {
	infMetrics.init()
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	infMetrics.requests.WithLabelValues(outcome).Inc()
	infMetrics.requestDuration.Observe(d.Seconds())
}
func recordRetry() { infMetrics.init(); infMetrics.retries.Inc() }
func recordSentinels(n int) { infMetrics.init(); infMetrics.sentinelResults.Add(float64(n)) }
func recordMalformedItems(n int) { infMetrics.init(); infMetrics.malformedItems.Add(float64(n)) }
func setInFlight(n int64) { infMetrics.init(); infMetrics.inFlight.Set(float64(n)) }
