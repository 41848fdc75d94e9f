// Copyright 2026 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package output writes the machine-readable (--json) form of CLI results.
//
// Single results are pretty-printed:
//
//	output.JSON(statusResult)
//
// Streams, such as `stackqc detect --watch --json`, emit one compact object
// per line so they can be piped into jq:
//
//	output.JSONLine(report)
package output

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
)

// JSON writes data to stdout with two-space indentation.
func JSON(data any) error {
	return JSONTo(os.Stdout, data)
}

func JSONTo(w io.Writer, data any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(data); err != nil {
		return fmt.Errorf("encode json: %w", err)
	}
	return nil
}

// JSONLine writes data to stdout as one compact line.
func JSONLine(data any) error {
	return JSONLineTo(os.Stdout, data)
}

func JSONLineTo(w io.Writer, data any) error {
	if err := json.NewEncoder(w).Encode(data); err != nil {
		return fmt.Errorf("encode json: %w", err)
	}
	return nil
}
