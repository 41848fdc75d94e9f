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
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kraklabs/stackqc/pkg/stats"
)

// StatusResponse is the body of GET /status.
type StatusResponse struct {
	Stats       *stats.Stats        `json:"stats"`
	SuccessRate float64             `json:"success_rate"`
	FilePercent float64             `json:"file_percent"`
	Elapsed     string              `json:"elapsed"`
	InFlight    int64               `json:"in_flight"`
	TopReasons  []stats.ReasonCount `json:"top_reasons,omitempty"`
}

// NewOpsRouter builds the operational HTTP surface of a running pipeline:
//
//	GET /metrics   Prometheus exposition
//	GET /healthz   liveness
//	GET /status    JSON snapshot of the run counters
func NewOpsRouter(p *Pipeline) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Handle("/metrics", promhttp.Handler())
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok\n"))
	})
	r.Get("/status", func(w http.ResponseWriter, _ *http.Request) {
		snap := p.Snapshot()
		resp := StatusResponse{
			Stats:       snap,
			SuccessRate: snap.SuccessRate(),
			FilePercent: snap.FileProgress(),
			Elapsed:     snap.Elapsed(p.now()).Round(time.Second).String(),
			InFlight:    p.limiter.InFlight(),
			TopReasons:  snap.TopReasons(5),
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	})
	return r
}
