// Copyright 2025 KrakLabs
// SPDX-License-Identifier: AGPL-3.0-or-later

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/kraklabs/stackqc/pkg/checkpoint"
	"github.com/kraklabs/stackqc/pkg/inference"
	"github.com/kraklabs/stackqc/pkg/pipeline"
)

// DefaultConfigFile is read from the working directory when --config is not given.
const DefaultConfigFile = "stackqc.yaml"

// Checkpoint backends.
const (
	BackendFile  = "file"
	BackendRedis = "redis"
)

// Config is the on-disk form of the configuration. Durations are plain
// seconds so the file stays readable.
type Config struct {
	DataDir     string `yaml:"data_dir"`
	OutputDir   string `yaml:"output_dir"`
	FilePattern string `yaml:"file_pattern"`
	APIURL      string `yaml:"api_url"`

	MaxConcurrent       int     `yaml:"max_concurrent"`
	BatchSize           int     `yaml:"batch_size"`
	MaxRequestBytes     int     `yaml:"max_request_bytes"`
	BufferingMultiplier int     `yaml:"buffering_multiplier"`
	TimeoutSeconds      float64 `yaml:"timeout_seconds"`

	TopK        int      `yaml:"top_k"`
	Threshold   float64  `yaml:"threshold"`
	KnownLabels []string `yaml:"known_labels"`
	ErrorLabel  string   `yaml:"error_label"`

	StabilityWindowSeconds float64 `yaml:"stability_window_seconds"`
	PollIntervalSeconds    float64 `yaml:"poll_interval_seconds"`

	Resume          bool   `yaml:"resume"`
	CheckpointEvery int    `yaml:"checkpoint_every"`
	OnCorrupt       string `yaml:"on_corrupt"`
	OutputFormat    string `yaml:"output_format"`

	Retry      RetryConfig      `yaml:"retry"`
	Checkpoint CheckpointConfig `yaml:"checkpoint"`

	MetricsAddr string `yaml:"metrics_addr"`
	LogLevel    string `yaml:"log_level"`
	LogFormat   string `yaml:"log_format"`
}

// RetryConfig configures retries of failed predict calls.
type RetryConfig struct {
	MaxAttempts int `yaml:"max_attempts"`
	BaseDelayMS int `yaml:"base_delay_ms"`
	MaxDelayMS  int `yaml:"max_delay_ms"`
}

// CheckpointConfig selects where the checkpoint lives.
type CheckpointConfig struct {
	Backend  string `yaml:"backend"`
	RedisURL string `yaml:"redis_url"`
	RedisKey string `yaml:"redis_key"`
}

// DefaultConfig mirrors pipeline.DefaultConfig in file form.
func DefaultConfig() *Config {
	d := pipeline.DefaultConfig()
	return &Config{
		FilePattern:            d.FilePattern,
		MaxConcurrent:          d.MaxConcurrent,
		BatchSize:              d.BatchSize,
		MaxRequestBytes:        d.MaxRequestBytes,
		BufferingMultiplier:    d.BufferingMultiplier,
		TimeoutSeconds:         d.Timeout.Seconds(),
		TopK:                   d.TopK,
		Threshold:              d.Threshold,
		KnownLabels:            d.KnownLabels,
		ErrorLabel:             d.ErrorLabel,
		StabilityWindowSeconds: d.StabilityWindow.Seconds(),
		PollIntervalSeconds:    d.PollInterval.Seconds(),
		Resume:                 d.Resume,
		CheckpointEvery:        d.CheckpointEvery,
		OnCorrupt:              d.OnCorrupt,
		OutputFormat:           d.OutputFormat,
		Retry: RetryConfig{
			MaxAttempts: d.Retry.MaxAttempts,
			BaseDelayMS: int(d.Retry.InitialBackoff.Milliseconds()),
			MaxDelayMS:  int(d.Retry.MaxBackoff.Milliseconds()),
		},
		Checkpoint: CheckpointConfig{Backend: BackendFile},
		LogLevel:   "info",
		LogFormat:  "text",
	}
}

// LoadConfig reads path over the defaults and applies STACKQC_* overrides.
// An empty path means ./stackqc.yaml, which may be absent; an explicit path
// must exist.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	explicit := path != ""
	if !explicit {
		path = DefaultConfigFile
	}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist) && !explicit:
	default:
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	cfg.applyEnv(os.Getenv)
	return cfg, nil
}

func (c *Config) applyEnv(getenv func(string) string) {
	if v := getenv("STACKQC_API_URL"); v != "" {
		c.APIURL = v
	}
	if v := getenv("STACKQC_DATA_DIR"); v != "" {
		c.DataDir = v
	}
	if v := getenv("STACKQC_OUTPUT_DIR"); v != "" {
		c.OutputDir = v
	}
	if v := getenv("STACKQC_REDIS_URL"); v != "" {
		c.Checkpoint.RedisURL = v
	}
}

// ToPipeline converts the file form to the runtime form. The result still
// needs pipeline.Config.Validate.
func (c *Config) ToPipeline() pipeline.Config {
	return pipeline.Config{
		DataDir:             c.DataDir,
		OutputDir:           c.OutputDir,
		FilePattern:         c.FilePattern,
		APIURL:              c.APIURL,
		MaxConcurrent:       c.MaxConcurrent,
		BatchSize:           c.BatchSize,
		MaxRequestBytes:     c.MaxRequestBytes,
		BufferingMultiplier: c.BufferingMultiplier,
		Timeout:             seconds(c.TimeoutSeconds),
		Retry: inference.RetryConfig{
			MaxAttempts:    c.Retry.MaxAttempts,
			InitialBackoff: time.Duration(c.Retry.BaseDelayMS) * time.Millisecond,
			MaxBackoff:     time.Duration(c.Retry.MaxDelayMS) * time.Millisecond,
			Multiplier:     2.0,
		},
		TopK:            c.TopK,
		Threshold:       c.Threshold,
		KnownLabels:     c.KnownLabels,
		ErrorLabel:      c.ErrorLabel,
		StabilityWindow: seconds(c.StabilityWindowSeconds),
		PollInterval:    seconds(c.PollIntervalSeconds),
		Resume:          c.Resume,
		CheckpointEvery: c.CheckpointEvery,
		OnCorrupt:       c.OnCorrupt,
		OutputFormat:    c.OutputFormat,
	}
}

// Validate checks the settings that live outside pipeline.Config.
func (c *Config) Validate() error {
	var errs []error
	switch c.Checkpoint.Backend {
	case "", BackendFile:
	case BackendRedis:
		if c.Checkpoint.RedisURL == "" {
			errs = append(errs, errors.New("checkpoint.redis_url is required when checkpoint.backend is redis"))
		}
	default:
		errs = append(errs, fmt.Errorf("checkpoint.backend must be %q or %q, got %q", BackendFile, BackendRedis, c.Checkpoint.Backend))
	}
	if _, err := parseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	switch strings.ToLower(c.LogFormat) {
	case "", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log_format must be text or json, got %q", c.LogFormat))
	}
	return errors.Join(errs...)
}

// OpenStore builds the configured checkpoint store. A redis store is pinged
// so a bad URL fails before any file is processed.
func (c *Config) OpenStore(ctx context.Context, logger *slog.Logger) (checkpoint.Store, error) {
	if c.Checkpoint.Backend != BackendRedis {
		return checkpoint.NewFileStore(c.OutputDir, logger), nil
	}

	store, err := checkpoint.NewRedisStore(c.Checkpoint.RedisURL, c.Checkpoint.RedisKey, logger)
	if err != nil {
		return nil, err
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := store.Ping(pingCtx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return store, nil
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
