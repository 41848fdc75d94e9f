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
	"errors"
	"fmt"
	"time"

	"github.com/kraklabs/stackqc/pkg/inference"
	"github.com/kraklabs/stackqc/pkg/sink"
	"github.com/kraklabs/stackqc/pkg/source"
	"github.com/kraklabs/stackqc/pkg/validate"
)

// Corrupt-file policies.
const (
	// OnCorruptRetry leaves a failed file eligible for a later scan.
	OnCorruptRetry = "retry"
	// OnCorruptComplete marks a failed file complete without output.
	OnCorruptComplete = "complete"
)

// Config is the validated runtime configuration of a Pipeline.
type Config struct {
	DataDir     string
	OutputDir   string
	FilePattern string
	APIURL      string

	MaxConcurrent       int
	BatchSize           int
	MaxRequestBytes     int
	BufferingMultiplier int
	Timeout             time.Duration
	Retry               inference.RetryConfig

	TopK      int
	Threshold float64

	KnownLabels []string
	ErrorLabel  string

	StabilityWindow time.Duration
	PollInterval    time.Duration

	Resume          bool
	CheckpointEvery int
	OnCorrupt       string
	OutputFormat    string

	// Once stops the run after the first round with no pending files.
	Once bool
}

// DefaultConfig returns the defaults for every optional setting.
func DefaultConfig() Config {
	return Config{
		FilePattern:         "*.parquet",
		MaxConcurrent:       50,
		BatchSize:           200,
		MaxRequestBytes:     8 << 20,
		BufferingMultiplier: 2,
		Timeout:             30 * time.Second,
		Retry:               inference.DefaultRetryConfig(),
		TopK:                2,
		Threshold:           0.0,
		KnownLabels:         append([]string(nil), validate.DefaultLabels...),
		ErrorLabel:          inference.DefaultErrorLabel,
		StabilityWindow:     30 * time.Second,
		PollInterval:        30 * time.Second,
		Resume:              true,
		CheckpointEvery:     5,
		OnCorrupt:           OnCorruptRetry,
		OutputFormat:        sink.FormatParquet,
	}
}

// Validate checks ranges and enums and normalizes the output format.
func (c *Config) Validate() error {
	var errs []error
	if c.DataDir == "" {
		errs = append(errs, errors.New("data_dir is required"))
	}
	if c.OutputDir == "" {
		errs = append(errs, errors.New("output_dir is required"))
	}
	if c.APIURL == "" {
		errs = append(errs, errors.New("api_url is required"))
	}
	if c.FilePattern == "" {
		c.FilePattern = "*.parquet"
	}
	if c.MaxConcurrent < 1 {
		errs = append(errs, fmt.Errorf("max_concurrent must be >= 1, got %d", c.MaxConcurrent))
	}
	if c.BatchSize < 1 {
		errs = append(errs, fmt.Errorf("batch_size must be >= 1, got %d", c.BatchSize))
	}
	if c.MaxRequestBytes < 0 {
		errs = append(errs, fmt.Errorf("max_request_bytes must be >= 0, got %d", c.MaxRequestBytes))
	}
	if c.BufferingMultiplier < 1 {
		errs = append(errs, fmt.Errorf("buffering_multiplier must be >= 1, got %d", c.BufferingMultiplier))
	}
	if c.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("timeout must be positive, got %s", c.Timeout))
	}
	if c.TopK < 1 {
		errs = append(errs, fmt.Errorf("top_k must be >= 1, got %d", c.TopK))
	}
	if c.Threshold < 0 || c.Threshold > 1 {
		errs = append(errs, fmt.Errorf("threshold must be within [0, 1], got %g", c.Threshold))
	}
	if len(c.KnownLabels) == 0 {
		errs = append(errs, errors.New("known_labels must not be empty"))
	}
	if c.StabilityWindow < 0 {
		errs = append(errs, fmt.Errorf("stability_window must be >= 0, got %s", c.StabilityWindow))
	}
	if c.PollInterval <= 0 {
		errs = append(errs, fmt.Errorf("poll_interval must be positive, got %s", c.PollInterval))
	}
	if c.CheckpointEvery < 1 {
		errs = append(errs, fmt.Errorf("checkpoint_every must be >= 1, got %d", c.CheckpointEvery))
	}
	switch c.OnCorrupt {
	case "":
		c.OnCorrupt = OnCorruptRetry
	case OnCorruptRetry, OnCorruptComplete:
	default:
		errs = append(errs, fmt.Errorf("on_corrupt must be %q or %q, got %q", OnCorruptRetry, OnCorruptComplete, c.OnCorrupt))
	}
	format, err := sink.ParseFormat(c.OutputFormat)
	if err != nil {
		errs = append(errs, err)
	} else {
		c.OutputFormat = format
	}
	return errors.Join(errs...)
}

// ChunkRows is the number of rows read from a file at a time.
func (c *Config) ChunkRows() int {
	return source.ChunkRows(c.MaxConcurrent, c.BatchSize, c.BufferingMultiplier)
}
