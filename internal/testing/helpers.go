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

package testing

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/parquet-go/parquet-go"
)

// Sample mirrors the input file schema.
type Sample struct {
	BlobID   string `parquet:"blob_id,optional"`
	Path     string `parquet:"path,optional"`
	RepoName string `parquet:"repo_name,optional"`
	Language string `parquet:"language,optional"`
	Size     int64  `parquet:"size,optional"`
	Ext      string `parquet:"ext,optional"`
	Content  string `parquet:"content,optional"`
}

// Samples returns n rows of small Go snippets with distinct blob ids.
//
// Example:
//
//	rows := testing.Samples(3)
//	rows[1].Content = "   " // becomes a dropped row
func Samples(n int) []Sample {
	rows := make([]Sample, n)
	for i := range rows {
		content := fmt.Sprintf("package main\n\nfunc f%d() int { return %d }\n", i, i)
		rows[i] = Sample{
			BlobID:   fmt.Sprintf("blob-%04d", i),
			Path:     fmt.Sprintf("src/f%d.go", i),
			RepoName: "kraklabs/example",
			Language: "Go",
			Size:     int64(len(content)),
			Ext:      "go",
			Content:  content,
		}
	}
	return rows
}

// WriteSamples writes rows to dir/name and returns the absolute path.
func WriteSamples(t *testing.T, dir, name string, rows []Sample) string {
	t.Helper()
	return WriteParquet(t, dir, name, rows)
}

// WriteParquet writes rows of any struct type to dir/name and returns the
// absolute path.
func WriteParquet[T any](t *testing.T, dir, name string, rows []T) string {
	t.Helper()

	path, err := filepath.Abs(filepath.Join(dir, name))
	if err != nil {
		t.Fatalf("resolve fixture path: %v", err)
	}
	if err := parquet.WriteFile(path, rows); err != nil {
		t.Fatalf("failed to write parquet fixture: %v", err)
	}
	return path
}

// PredictMode selects how PredictServer answers /predict.
type PredictMode int32

const (
	ModeObjects PredictMode = iota
	ModePairs
	ModeServerError
	ModeGarbage
)

// PredictServer is a fake inference service.
type PredictServer struct {
	*httptest.Server

	mode      atomic.Int32
	unhealthy atomic.Bool
	requests  atomic.Int64
	finished  atomic.Int64
	texts     atomic.Int64
	delay     atomic.Int64

	mu        sync.Mutex
	queries   []string
	onRequest func(n int64)
}

// NewPredictServer starts a fake inference service that is closed when the
// test finishes.
func NewPredictServer(t *testing.T, mode PredictMode) *PredictServer {
	t.Helper()

	s := &PredictServer{}
	s.mode.Store(int32(mode))

	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/predict", s.handlePredict)
	s.Server = httptest.NewServer(mux)
	t.Cleanup(s.Close)
	return s
}

// SetMode changes the response mode for later requests.
func (s *PredictServer) SetMode(mode PredictMode) { s.mode.Store(int32(mode)) }

// SetUnhealthy makes /health answer 503.
func (s *PredictServer) SetUnhealthy(v bool) { s.unhealthy.Store(v) }

// SetDelay makes every /predict call wait d before answering.
func (s *PredictServer) SetDelay(d time.Duration) { s.delay.Store(int64(d)) }

// OnRequest registers fn to run when the nth /predict call arrives, before
// it is answered.
func (s *PredictServer) OnRequest(fn func(n int64)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onRequest = fn
}

// Finished returns the number of /predict calls that got past the delay.
func (s *PredictServer) Finished() int64 { return s.finished.Load() }

// Requests returns the number of /predict calls received.
func (s *PredictServer) Requests() int64 { return s.requests.Load() }

// Texts returns the total number of texts received by /predict.
func (s *PredictServer) Texts() int64 { return s.texts.Load() }

// Queries returns the raw query string of every /predict call.
func (s *PredictServer) Queries() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.queries...)
}

func (s *PredictServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if s.unhealthy.Load() {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"status":"unhealthy","model_loaded":false}`))
		return
	}
	_, _ = w.Write([]byte(`{"status":"healthy","model_loaded":true}`))
}

func (s *PredictServer) handlePredict(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var texts []string
	if err := json.NewDecoder(r.Body).Decode(&texts); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	n := s.requests.Add(1)
	s.texts.Add(int64(len(texts)))
	s.mu.Lock()
	s.queries = append(s.queries, r.URL.RawQuery)
	hook := s.onRequest
	s.mu.Unlock()

	if hook != nil {
		hook(n)
	}
	if d := time.Duration(s.delay.Load()); d > 0 {
		time.Sleep(d)
	}
	s.finished.Add(1)

	switch PredictMode(s.mode.Load()) {
	case ModeServerError:
		http.Error(w, "model crashed", http.StatusInternalServerError)
		return
	case ModeGarbage:
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"oops":`))
		return
	}

	out := make([]any, len(texts))
	for i, text := range texts {
		labels, scores := Classify(text)
		if PredictMode(s.mode.Load()) == ModePairs {
			out[i] = []any{labels, scores}
		} else {
			out[i] = map[string]any{"labels": labels, "scores": scores}
		}
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(out)
}

// Classify is the deterministic labeling used by PredictServer: texts that
// mention "TODO" are low quality, everything else is high quality.
func Classify(text string) ([]string, []float64) {
	if strings.Contains(text, "TODO") {
		return []string{"__label__0", "__label__1"}, []float64{0.9, 0.1}
	}
	return []string{"__label__1", "__label__0"}, []float64{0.8, 0.2}
}
