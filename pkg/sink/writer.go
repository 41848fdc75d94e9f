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

package sink

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/parquet-go/parquet-go"
)

// Output formats.
const (
	FormatParquet = "parquet"
	FormatJSONL   = "jsonl"
)

// ErrUnknownFormat is returned for an unsupported output format.
var ErrUnknownFormat = errors.New("unknown output format")

// ParseFormat normalizes a configured format name. "json" is accepted as an
// alias of jsonl.
func ParseFormat(s string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", FormatParquet:
		return FormatParquet, nil
	case FormatJSONL, "json", "ndjson":
		return FormatJSONL, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownFormat, s)
	}
}

// OutputName returns the artifact file name for an input file.
func OutputName(inputPath, format string) string {
	base := filepath.Base(inputPath)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	return "processed_" + stem + "." + format
}

// Writer streams output rows for one input file.
type Writer interface {
	// Write appends rows in order.
	Write(rows []OutputRecord) error
	// Commit flushes and moves the artifact to its final name.
	Commit() error
	// Abort discards everything written so far.
	Abort() error
	// Path is the final artifact path.
	Path() string
	// Count is the number of rows written.
	Count() int64
}

// Create opens a writer for the artifact of inputPath inside dir.
func Create(dir, inputPath, format string) (Writer, error) {
	format, err := ParseFormat(format)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}

	final := filepath.Join(dir, OutputName(inputPath, format))
	tmp := final + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return nil, fmt.Errorf("create temp artifact: %w", err)
	}

	base := tempFile{f: f, tmp: tmp, final: final}
	if format == FormatJSONL {
		bw := bufio.NewWriterSize(f, 256*1024)
		return &jsonlWriter{tempFile: base, buf: bw, enc: json.NewEncoder(bw)}, nil
	}
	return &parquetWriter{tempFile: base, pw: parquet.NewGenericWriter[OutputRecord](f)}, nil
}

// tempFile is the part shared by both formats: the .tmp file and its rename.
type tempFile struct {
	f     *os.File
	tmp   string
	final string
	count int64
	done  bool
}

func (t *tempFile) Path() string { return t.final }
func (t *tempFile) Count() int64 { return t.count }

func (t *tempFile) commit() error {
	if err := t.f.Sync(); err != nil {
		_ = t.f.Close()
		_ = os.Remove(t.tmp)
		return fmt.Errorf("sync artifact: %w", err)
	}
	if err := t.f.Close(); err != nil {
		_ = os.Remove(t.tmp)
		return fmt.Errorf("close artifact: %w", err)
	}
	if err := os.Rename(t.tmp, t.final); err != nil {
		_ = os.Remove(t.tmp)
		return fmt.Errorf("rename artifact: %w", err)
	}
	t.done = true
	return nil
}

func (t *tempFile) abort() error {
	if t.done {
		return nil
	}
	t.done = true
	_ = t.f.Close()
	if err := os.Remove(t.tmp); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove temp artifact: %w", err)
	}
	return nil
}

type parquetWriter struct {
	tempFile
	pw *parquet.GenericWriter[OutputRecord]
}

func (w *parquetWriter) Write(rows []OutputRecord) error {
	if len(rows) == 0 {
		return nil
	}
	n, err := w.pw.Write(rows)
	w.count += int64(n)
	if err != nil {
		return fmt.Errorf("write parquet rows: %w", err)
	}
	// One row group per chunk keeps the writer's buffers bounded by a chunk.
	if err := w.pw.Flush(); err != nil {
		return fmt.Errorf("flush parquet row group: %w", err)
	}
	return nil
}

func (w *parquetWriter) Commit() error {
	if w.done {
		return errors.New("artifact already closed")
	}
	if err := w.pw.Close(); err != nil {
		_ = w.abort()
		return fmt.Errorf("close parquet writer: %w", err)
	}
	return w.commit()
}

func (w *parquetWriter) Abort() error { return w.abort() }

type jsonlWriter struct {
	tempFile
	buf *bufio.Writer
	enc *json.Encoder
}

func (w *jsonlWriter) Write(rows []OutputRecord) error {
	for i := range rows {
		if err := w.enc.Encode(&rows[i]); err != nil {
			return fmt.Errorf("write jsonl row: %w", err)
		}
		w.count++
	}
	if err := w.buf.Flush(); err != nil {
		return fmt.Errorf("flush jsonl: %w", err)
	}
	return nil
}

func (w *jsonlWriter) Commit() error {
	if w.done {
		return errors.New("artifact already closed")
	}
	if err := w.buf.Flush(); err != nil {
		_ = w.abort()
		return fmt.Errorf("flush jsonl: %w", err)
	}
	return w.commit()
}

func (w *jsonlWriter) Abort() error { return w.abort() }

// ReadFile loads an artifact written by a Writer. The format is taken from
// the file extension.
func ReadFile(path string) ([]OutputRecord, error) {
	if strings.HasSuffix(path, "."+FormatJSONL) {
		return readJSONL(path)
	}
	rows, err := parquet.ReadFile[OutputRecord](path)
	if err != nil {
		return nil, fmt.Errorf("read parquet artifact: %w", err)
	}
	return rows, nil
}

func readJSONL(path string) ([]OutputRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open artifact: %w", err)
	}
	defer func() { _ = f.Close() }()

	var rows []OutputRecord
	dec := json.NewDecoder(f)
	for dec.More() {
		var r OutputRecord
		if err := dec.Decode(&r); err != nil {
			return nil, fmt.Errorf("decode jsonl row %d: %w", len(rows), err)
		}
		rows = append(rows, r)
	}
	return rows, nil
}
