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

package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"text/template"

	flag "github.com/spf13/pflag"

	"github.com/kraklabs/stackqc/internal/errors"
	"github.com/kraklabs/stackqc/internal/ui"
)

const configTemplate = `# stackqc configuration.
# Every value below is the default unless noted. STACKQC_API_URL,
# STACKQC_DATA_DIR, STACKQC_OUTPUT_DIR and STACKQC_REDIS_URL override the
# matching keys; command-line flags override both.

# Directory scanned for input files (required).
data_dir: {{q .DataDir}}
# Where processed_<name>.<format>, the checkpoint and processing.log go (required).
output_dir: {{q .OutputDir}}
file_pattern: {{q .FilePattern}}

# Inference service root; POST /predict and GET /health are appended (required).
api_url: {{q .APIURL}}
# Upper bound on in-flight predict requests across the whole process.
max_concurrent: {{.MaxConcurrent}}
# Texts per request, and the request body size cap in bytes.
batch_size: {{.BatchSize}}
max_request_bytes: {{.MaxRequestBytes}}
# Rows read per chunk = max_concurrent * batch_size * buffering_multiplier.
buffering_multiplier: {{.BufferingMultiplier}}
timeout_seconds: {{.TimeoutSeconds}}
retry:
  max_attempts: {{.Retry.MaxAttempts}}
  base_delay_ms: {{.Retry.BaseDelayMS}}
  max_delay_ms: {{.Retry.MaxDelayMS}}

top_k: {{.TopK}}
threshold: {{.Threshold}}
known_labels:
{{- range .KnownLabels}}
  - {{q .}}
{{- end}}
# Label written for samples whose request failed.
error_label: {{q .ErrorLabel}}

# A file is read only after it has been unchanged this long.
stability_window_seconds: {{.StabilityWindowSeconds}}
poll_interval_seconds: {{.PollIntervalSeconds}}

resume: {{.Resume}}
# Save the checkpoint after this many completed files.
checkpoint_every: {{.CheckpointEvery}}
# retry: try a corrupt file again on the next scan; complete: give up on it.
on_corrupt: {{.OnCorrupt}}
# parquet or jsonl
output_format: {{.OutputFormat}}

checkpoint:
  # file: <output_dir>/processing_checkpoint.json; redis: one key in redis.
  backend: {{.Checkpoint.Backend}}
  redis_url: {{q .Checkpoint.RedisURL}}
  redis_key: {{q .Checkpoint.RedisKey}}

# Serves /metrics, /healthz and /status while running, e.g. ":9090".
metrics_addr: {{q .MetricsAddr}}
log_level: {{.LogLevel}}
# text or json
log_format: {{.LogFormat}}
`

var configTmpl = template.Must(template.New("config").Funcs(template.FuncMap{
	"q": strconv.Quote,
}).Parse(configTemplate))

// renderConfig returns cfg as a commented YAML document.
func renderConfig(cfg *Config) ([]byte, error) {
	var buf bytes.Buffer
	if err := configTmpl.Execute(&buf, cfg); err != nil {
		return nil, fmt.Errorf("render config: %w", err)
	}
	return buf.Bytes(), nil
}

// writeConfigFile writes cfg to path, refusing to replace an existing file
// unless force is set.
func writeConfigFile(path string, cfg *Config, force bool) error {
	if _, err := os.Stat(path); err == nil && !force {
		return os.ErrExist
	}
	data, err := renderConfig(cfg)
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	return os.WriteFile(path, data, 0644)
}

// runInit executes the 'init' command, writing a commented stackqc.yaml.
//
// Examples:
//
//	stackqc init --data-dir /data/stack --output-dir /data/out
//	stackqc init --api-url http://gpu-1:8000 --force
func runInit(args []string, configPath string, globals GlobalFlags) {
	fs := flag.NewFlagSet("init", flag.ExitOnError)
	force := fs.Bool("force", false, "Overwrite an existing config file")
	dataDir := fs.String("data-dir", "", "Input directory")
	outputDir := fs.String("output-dir", "", "Output directory")
	apiURL := fs.String("api-url", "http://localhost:8000", "Inference service URL")
	format := fs.String("format", "", "Output format: parquet or jsonl")
	redisURL := fs.String("redis-url", "", "Keep the checkpoint in redis at this URL")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: stackqc init [options]

Writes a commented configuration file with every default spelled out.

Options:
`)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(errors.ExitInput)
	}

	path := configPath
	if path == "" {
		path = DefaultConfigFile
	}

	cfg := DefaultConfig()
	cfg.DataDir = *dataDir
	cfg.OutputDir = *outputDir
	cfg.APIURL = *apiURL
	if *format != "" {
		cfg.OutputFormat = *format
	}
	if *redisURL != "" {
		cfg.Checkpoint.Backend = BackendRedis
		cfg.Checkpoint.RedisURL = *redisURL
	}

	if err := writeConfigFile(path, cfg, *force); err != nil {
		if os.IsExist(err) {
			errors.FatalError(errors.NewInputError(
				fmt.Sprintf("%s already exists", path),
				"",
				"Use --force to overwrite it",
			), globals.JSON)
		}
		errors.FatalError(errors.NewPermissionError("Cannot write config file", path, "", err), globals.JSON)
	}

	if globals.Quiet {
		return
	}
	ui.Successf("Wrote %s", path)
	fmt.Println()
	fmt.Println("Next steps:")
	if cfg.DataDir == "" || cfg.OutputDir == "" {
		fmt.Println("  Set data_dir and output_dir in", path)
	}
	fmt.Println("  stackqc detect    Check which input files are ready")
	fmt.Println("  stackqc run       Start processing")
}
