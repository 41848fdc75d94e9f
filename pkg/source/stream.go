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

// Package source streams samples out of Parquet input files.
//
// Files are never loaded whole. Open validates the footer (required columns
// and row count) before any row data is touched, and Next returns bounded
// chunks of preprocessed records until io.EOF.
package source

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/parquet-go/parquet-go"
)

var (
	// ErrMissingColumns is returned when a file lacks a required column.
	ErrMissingColumns = errors.New("missing required columns")
	// ErrCorrupt is returned when a file cannot be decoded.
	ErrCorrupt = errors.New("corrupt parquet file")
)

// Options controls how a Stream reads a file.
type Options struct {
	// Required columns; defaults to DefaultRequired.
	Required []string
	// ChunkRows is the number of rows read per chunk; see ChunkRows.
	ChunkRows int
}

// Stream yields chunks of records from a single file. It is not safe for
// concurrent use and cannot be rewound.
type Stream struct {
	path      string
	file      *os.File
	reader    *parquet.GenericReader[Row]
	total     int64
	offset    int64
	chunkRows int
	seq       int
	done      bool
}

// Probe checks that path is a readable Parquet file carrying the required
// columns and returns its row count. Only the footer is read.
func Probe(path string, required ...string) (int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	pf, err := openFooter(f, parquet.SkipPageIndex(true), parquet.SkipBloomFilters(true))
	if err != nil {
		return 0, err
	}
	if missing := missingColumns(pf.Schema(), required); len(missing) > 0 {
		return 0, fmt.Errorf("%w: %s", ErrMissingColumns, strings.Join(missing, ","))
	}
	return pf.NumRows(), nil
}

// Open prepares a stream over path. A file with zero rows yields a stream
// that is immediately exhausted.
func Open(path string, opts Options) (s *Stream, err error) {
	required := opts.Required
	if len(required) == 0 {
		required = DefaultRequired
	}
	chunkRows := opts.ChunkRows
	if chunkRows <= 0 {
		chunkRows = ChunkRows(1, 1, 1)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}

	pf, err := openFooter(f)
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	if missing := missingColumns(pf.Schema(), required); len(missing) > 0 {
		_ = f.Close()
		return nil, fmt.Errorf("%w: %s", ErrMissingColumns, strings.Join(missing, ","))
	}

	s = &Stream{
		path:      path,
		file:      f,
		total:     pf.NumRows(),
		chunkRows: chunkRows,
	}
	if s.total == 0 {
		s.done = true
		return s, nil
	}

	// The generic reader panics when the file schema cannot be converted to Row.
	defer func() {
		if r := recover(); r != nil {
			_ = f.Close()
			s = nil
			err = fmt.Errorf("%w: %s: %v", ErrCorrupt, path, r)
		}
	}()
	s.reader = parquet.NewGenericReader[Row](f)
	return s, nil
}

// Total returns the row count recorded in the file footer.
func (s *Stream) Total() int64 { return s.total }

// Empty reports whether the file holds no rows at all.
func (s *Stream) Empty() bool { return s.total == 0 }

// Offset returns the number of rows consumed so far.
func (s *Stream) Offset() int64 { return s.offset }

// Next returns the next chunk, or io.EOF once every row has been read.
func (s *Stream) Next() (chunk *Chunk, err error) {
	if s.done {
		return nil, io.EOF
	}

	defer func() {
		if r := recover(); r != nil {
			s.done = true
			chunk = nil
			err = fmt.Errorf("%w: %s: %v", ErrCorrupt, s.path, r)
		}
	}()

	rows := make([]Row, s.chunkRows)
	n := 0
	for n < len(rows) {
		m, rerr := s.reader.Read(rows[n:])
		n += m
		if rerr != nil {
			if errors.Is(rerr, io.EOF) {
				s.done = true
				break
			}
			s.done = true
			return nil, fmt.Errorf("%w: read %s: %v", ErrCorrupt, s.path, rerr)
		}
		if m == 0 {
			break
		}
	}
	if s.offset+int64(n) >= s.total {
		s.done = true
	}
	if n == 0 {
		return nil, io.EOF
	}

	records, dropped := Preprocess(rows[:n], s.offset)
	chunk = &Chunk{
		Seq:      s.seq,
		Offset:   s.offset,
		RowsRead: n,
		Dropped:  dropped,
		Records:  records,
	}
	s.seq++
	s.offset += int64(n)
	return chunk, nil
}

// Close releases the underlying file.
func (s *Stream) Close() error {
	var errs []error
	if s.reader != nil {
		errs = append(errs, s.reader.Close())
		s.reader = nil
	}
	if s.file != nil {
		errs = append(errs, s.file.Close())
		s.file = nil
	}
	return errors.Join(errs...)
}

func openFooter(f *os.File, opts ...parquet.FileOption) (*parquet.File, error) {
	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", f.Name(), err)
	}
	pf, err := parquet.OpenFile(f, info.Size(), opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorrupt, f.Name(), err)
	}
	return pf, nil
}

func missingColumns(schema *parquet.Schema, required []string) []string {
	var missing []string
	for _, col := range required {
		if _, ok := schema.Lookup(col); !ok {
			missing = append(missing, col)
		}
	}
	return missing
}
