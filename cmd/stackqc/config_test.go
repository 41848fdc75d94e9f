// Copyright 2025 KrakLabs
// SPDX-License-Identifier: AGPL-3.0-or-later

package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kraklabs/stackqc/pkg/checkpoint"
	"github.com/kraklabs/stackqc/pkg/sink"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "stackqc.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadConfig_MissingDefaultFileUsesDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoadConfig_MissingExplicitFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoadConfig_OverridesOnlyGivenKeys(t *testing.T) {
	path := writeConfig(t, `
data_dir: /data/in
output_dir: /data/out
api_url: http://gpu-1:8000
batch_size: 64
resume: false
known_labels: ["good", "bad", "ugly"]
retry:
  max_attempts: 5
checkpoint:
  backend: redis
  redis_url: redis://localhost:6379/0
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "/data/in", cfg.DataDir)
	assert.Equal(t, 64, cfg.BatchSize)
	assert.False(t, cfg.Resume)
	assert.Equal(t, []string{"good", "bad", "ugly"}, cfg.KnownLabels)
	assert.Equal(t, 5, cfg.Retry.MaxAttempts)
	assert.Equal(t, 200, cfg.Retry.BaseDelayMS, "unset nested keys keep their default")
	assert.Equal(t, BackendRedis, cfg.Checkpoint.Backend)

	def := DefaultConfig()
	assert.Equal(t, def.MaxConcurrent, cfg.MaxConcurrent)
	assert.Equal(t, def.StabilityWindowSeconds, cfg.StabilityWindowSeconds)
	assert.Equal(t, def.OutputFormat, cfg.OutputFormat)
}

func TestLoadConfig_InvalidYAML(t *testing.T) {
	path := writeConfig(t, "batch_size: [not, a, number]\n")
	_, err := LoadConfig(path)
	assert.ErrorContains(t, err, "parse")
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	path := writeConfig(t, "api_url: http://from-file:8000\ndata_dir: /from/file\n")
	t.Setenv("STACKQC_API_URL", "http://from-env:8000")
	t.Setenv("STACKQC_OUTPUT_DIR", "/from/env")
	t.Setenv("STACKQC_REDIS_URL", "redis://cache:6379/1")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "http://from-env:8000", cfg.APIURL)
	assert.Equal(t, "/from/file", cfg.DataDir)
	assert.Equal(t, "/from/env", cfg.OutputDir)
	assert.Equal(t, "redis://cache:6379/1", cfg.Checkpoint.RedisURL)
}

func TestToPipeline(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DataDir = "/in"
	cfg.OutputDir = "/out"
	cfg.APIURL = "http://localhost:8000"
	cfg.TimeoutSeconds = 1.5
	cfg.StabilityWindowSeconds = 0
	cfg.PollIntervalSeconds = 2
	cfg.OutputFormat = "json"
	cfg.Retry = RetryConfig{MaxAttempts: 4, BaseDelayMS: 50, MaxDelayMS: 400}

	p := cfg.ToPipeline()
	require.NoError(t, p.Validate())

	assert.Equal(t, 1500*time.Millisecond, p.Timeout)
	assert.Equal(t, time.Duration(0), p.StabilityWindow)
	assert.Equal(t, 2*time.Second, p.PollInterval)
	assert.Equal(t, sink.FormatJSONL, p.OutputFormat)
	assert.Equal(t, 4, p.Retry.MaxAttempts)
	assert.Equal(t, 50*time.Millisecond, p.Retry.InitialBackoff)
	assert.Equal(t, 400*time.Millisecond, p.Retry.MaxBackoff)
	assert.Equal(t, cfg.KnownLabels, p.KnownLabels)
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults", func(*Config) {}, ""},
		{"redis without url", func(c *Config) { c.Checkpoint.Backend = BackendRedis }, "redis_url is required"},
		{"redis with url", func(c *Config) {
			c.Checkpoint.Backend = BackendRedis
			c.Checkpoint.RedisURL = "redis://localhost:6379"
		}, ""},
		{"unknown backend", func(c *Config) { c.Checkpoint.Backend = "s3" }, "checkpoint.backend"},
		{"bad log level", func(c *Config) { c.LogLevel = "loud" }, "log_level"},
		{"bad log format", func(c *Config) { c.LogFormat = "xml" }, "log_format"},
		{"uppercase json format", func(c *Config) { c.LogFormat = "JSON" }, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestOpenStore(t *testing.T) {
	cfg := DefaultConfig()
	cfg.OutputDir = t.TempDir()

	store, err := cfg.OpenStore(context.Background(), quietLogger())
	require.NoError(t, err)
	fs, ok := store.(*checkpoint.FileStore)
	require.True(t, ok)
	assert.Equal(t, filepath.Join(cfg.OutputDir, checkpoint.FileName), fs.Path())

	cfg.Checkpoint.Backend = BackendRedis
	cfg.Checkpoint.RedisURL = "not-a-url"
	_, err = cfg.OpenStore(context.Background(), quietLogger())
	assert.Error(t, err)
}
