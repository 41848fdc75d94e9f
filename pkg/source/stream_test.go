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

package source

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	qctesting "github.com/kraklabs/stackqc/internal/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type noContent struct {
	BlobID string `parquet:"blob_id"`
	Path   string `parquet:"path"`
}

func readAll(t *testing.T, s *Stream) []*Chunk {
	t.Helper()
	var chunks []*Chunk
	for {
		c, err := s.Next()
		if errors.Is(err, io.EOF) {
			return chunks
		}
		require.NoError(t, err)
		chunks = append(chunks, c)
	}
}

func TestProbe(t *testing.T) {
	dir := t.TempDir()
	good := qctesting.WriteSamples(t, dir, "good.parquet", qctesting.Samples(5))
	bad := qctesting.WriteParquet(t, dir, "bad.parquet", []noContent{{BlobID: "a", Path: "b"}})
	junk := filepath.Join(dir, "junk.parquet")
	require.NoError(t, os.WriteFile(junk, []byte("definitely not parquet"), 0644))

	rows, err := Probe(good, DefaultRequired...)
	require.NoError(t, err)
	assert.Equal(t, int64(5), rows)

	_, err = Probe(bad, DefaultRequired...)
	assert.ErrorIs(t, err, ErrMissingColumns)

	_, err = Probe(junk, DefaultRequired...)
	assert.ErrorIs(t, err, ErrCorrupt)

	_, err = Probe(filepath.Join(dir, "missing.parquet"))
	assert.Error(t, err)
}

func TestStream_ChunksInOrder(t *testing.T) {
	path := qctesting.WriteSamples(t, t.TempDir(), "part.parquet", qctesting.Samples(25))

	s, err := Open(path, Options{ChunkRows: 10})
	require.NoError(t, err)
	defer func() { _ = s.Close() }()
	assert.Equal(t, int64(25), s.Total())
	assert.False(t, s.Empty())

	chunks := readAll(t, s)
	require.Len(t, chunks, 3)
	assert.Equal(t, []int{10, 10, 5}, []int{chunks[0].RowsRead, chunks[1].RowsRead, chunks[2].RowsRead})
	assert.Equal(t, []int64{0, 10, 20}, []int64{chunks[0].Offset, chunks[1].Offset, chunks[2].Offset})

	var idx int64
	for _, c := range chunks {
		for _, rec := range c.Records {
			assert.Equal(t, idx, rec.Index)
			assert.Equal(t, rec.Row.BlobID, qctesting.Samples(25)[idx].BlobID)
			idx++
		}
	}
	assert.Equal(t, int64(25), s.Offset())

	_, err = s.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestStream_DropsEmptyContent(t *testing.T) {
	rows := qctesting.Samples(4)
	rows[1].Content = "  \n\t "
	rows[3].Content = ""
	rows[2].Content = "\n  x := 1  \n"
	path := qctesting.WriteSamples(t, t.TempDir(), "part.parquet", rows)

	s, err := Open(path, Options{ChunkRows: 100})
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	chunks := readAll(t, s)
	require.Len(t, chunks, 1)
	c := chunks[0]
	assert.Equal(t, 4, c.RowsRead)
	assert.Equal(t, 2, c.Dropped)
	require.Len(t, c.Records, 2)
	assert.Equal(t, int64(2), c.Records[1].Index)
	assert.Equal(t, "x := 1", c.Records[1].Text)
	assert.Equal(t, "\n  x := 1  \n", c.Records[1].Row.Content)
	assert.Equal(t, []string{c.Records[0].Text, "x := 1"}, c.Texts())
}

func TestStream_ZeroRows(t *testing.T) {
	path := qctesting.WriteSamples(t, t.TempDir(), "empty.parquet", []qctesting.Sample{})

	s, err := Open(path, Options{ChunkRows: 10})
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	assert.True(t, s.Empty())
	_, err = s.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestStream_MissingColumnFailsFast(t *testing.T) {
	path := qctesting.WriteParquet(t, t.TempDir(), "bad.parquet", []noContent{{BlobID: "a"}})

	s, err := Open(path, Options{})
	assert.Nil(t, s)
	assert.ErrorIs(t, err, ErrMissingColumns)
	assert.Contains(t, err.Error(), "content")
}

func TestChunkRows(t *testing.T) {
	tests := []struct {
		name                     string
		concurrency, batch, mult int
		want                     int
	}{
		{"defaults", 50, 200, 2, 20000},
		{"single", 1, 1, 1, 1},
		{"clamps zeros", 0, 0, 0, 1},
		{"clamps negative multiplier", 4, 10, -3, 40},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ChunkRows(tt.concurrency, tt.batch, tt.mult))
		})
	}
}

func TestPreprocess(t *testing.T) {
	rows := []Row{{Content: " a "}, {Content: ""}, {Content: "b"}}
	records, dropped := Preprocess(rows, 100)
	assert.Equal(t, 1, dropped)
	require.Len(t, records, 2)
	assert.Equal(t, Record{Index: 100, Text: "a", Row: rows[0]}, records[0])
	assert.Equal(t, int64(102), records[1].Index)
}
