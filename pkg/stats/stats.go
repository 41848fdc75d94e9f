// Copyright 2026 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package stats holds the processing counters for a classification run.
//
// A Stats value is owned by the pipeline goroutine and passed explicitly to
// whatever needs it. Other goroutines only ever see copies made with Clone.
package stats

import (
	"maps"
	"sort"
	"time"

	"github.com/google/uuid"
)

// Stats are the aggregate counters of one run. They are embedded in every
// checkpoint so the last known state survives a restart.
type Stats struct {
	// RunID identifies the process run that produced these counters.
	RunID string `json:"run_id"`
	// StartTime is when the run began.
	StartTime time.Time `json:"start_time"`
	// CurrentFile is the base name of the file being processed, if any.
	CurrentFile string `json:"current_file"`

	TotalFiles     int `json:"total_files"`
	ProcessedFiles int `json:"processed_files"`
	SkippedFiles   int `json:"skipped_files"`
	FailedFiles    int `json:"failed_files"`
	EmptyFiles     int `json:"empty_files"`

	TotalSamples      int64 `json:"total_samples"`
	ProcessedSamples  int64 `json:"processed_samples"`
	SuccessfulSamples int64 `json:"successful_samples"`
	FailedSamples     int64 `json:"failed_samples"`
	// RequestFailures counts samples that received a sentinel result because
	// the inference call itself failed. They are also counted in FailedSamples.
	RequestFailures int64 `json:"request_failures"`
	BytesProcessed  int64 `json:"bytes_processed"`

	// ProcessingSeconds is time spent inside files, excluding idle polling.
	ProcessingSeconds float64 `json:"processing_time"`
	ThroughputSPS     float64 `json:"throughput_sps"`

	// InvalidReasons counts invalid predictions by reason code.
	InvalidReasons map[string]int64 `json:"invalid_reasons,omitempty"`
}

// New returns zeroed counters for a fresh run started at now.
func New(now time.Time) *Stats {
	return &Stats{
		RunID:          uuid.NewString(),
		StartTime:      now,
		InvalidReasons: make(map[string]int64),
	}
}

// RecordSample counts one classified sample. An empty reason means the
// prediction was valid.
func (s *Stats) RecordSample(valid bool, reason string, requestFailed bool) {
	s.ProcessedSamples++
	if requestFailed {
		s.RequestFailures++
	}
	if valid {
		s.SuccessfulSamples++
		return
	}
	s.FailedSamples++
	if s.InvalidReasons == nil {
		s.InvalidReasons = make(map[string]int64)
	}
	s.InvalidReasons[reason]++
}

// AddProcessingTime accumulates time spent on a file and refreshes throughput.
func (s *Stats) AddProcessingTime(d time.Duration) {
	s.ProcessingSeconds += d.Seconds()
	s.ThroughputSPS = s.Throughput()
}

// Throughput returns processed samples per second of processing time.
func (s *Stats) Throughput() float64 {
	if s.ProcessingSeconds <= 0 {
		return 0
	}
	return float64(s.ProcessedSamples) / s.ProcessingSeconds
}

// SuccessRate returns the percentage of processed samples with a valid prediction.
func (s *Stats) SuccessRate() float64 {
	if s.ProcessedSamples == 0 {
		return 0
	}
	return float64(s.SuccessfulSamples) / float64(s.ProcessedSamples) * 100
}

// FileProgress returns processed files as a percentage of files discovered.
func (s *Stats) FileProgress() float64 {
	if s.TotalFiles == 0 {
		return 0
	}
	return float64(s.ProcessedFiles) / float64(s.TotalFiles) * 100
}

// Elapsed returns wall time since the run started.
func (s *Stats) Elapsed(now time.Time) time.Duration {
	if s.StartTime.IsZero() {
		return 0
	}
	return now.Sub(s.StartTime)
}

// AddSamples adds the sample counters and invalid reasons of o to s. File
// counters and timing are left alone.
func (s *Stats) AddSamples(o *Stats) {
	s.TotalSamples += o.TotalSamples
	s.ProcessedSamples += o.ProcessedSamples
	s.SuccessfulSamples += o.SuccessfulSamples
	s.FailedSamples += o.FailedSamples
	s.RequestFailures += o.RequestFailures
	s.BytesProcessed += o.BytesProcessed
	if len(o.InvalidReasons) > 0 && s.InvalidReasons == nil {
		s.InvalidReasons = make(map[string]int64, len(o.InvalidReasons))
	}
	for r, n := range o.InvalidReasons {
		s.InvalidReasons[r] += n
	}
}

// Clone returns a deep copy safe to hand to another goroutine.
func (s *Stats) Clone() *Stats {
	if s == nil {
		return nil
	}
	c := *s
	c.InvalidReasons = maps.Clone(s.InvalidReasons)
	return &c
}

// ReasonCount is one entry of the invalid-reason histogram.
type ReasonCount struct {
	Reason string `json:"reason"`
	Count  int64  `json:"count"`
}

// TopReasons returns invalid reasons ordered by count, highest first.
// A limit of zero or less returns all of them.
func (s *Stats) TopReasons(limit int) []ReasonCount {
	out := make([]ReasonCount, 0, len(s.InvalidReasons))
	for r, n := range s.InvalidReasons {
		out = append(out, ReasonCount{Reason: r, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Reason < out[j].Reason
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}
