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
	"strings"
)

// ContentColumn is the column holding the text to classify.
const ContentColumn = "content"

// DefaultRequired lists the columns a file must carry to be processed.
var DefaultRequired = []string{ContentColumn}

// Row is one sample as stored in an input file. Columns absent from the file
// decode as zero values; only the required columns are enforced.
type Row struct {
	BlobID   string `parquet:"blob_id,optional" json:"blob_id"`
	Path     string `parquet:"path,optional" json:"path"`
	RepoName string `parquet:"repo_name,optional" json:"repo_name"`
	Language string `parquet:"language,optional" json:"language"`
	Size     int64  `parquet:"size,optional" json:"size"`
	Ext      string `parquet:"ext,optional" json:"ext"`
	Content  string `parquet:"content,optional" json:"content"`
}

// Record is a preprocessed sample ready for inference. Text is the trimmed
// content; Row keeps the original values for the output merge.
type Record struct {
	// Index is the row position within the source file.
	Index int64
	Text  string
	Row   Row
}

// Chunk is a bounded slice of consecutive rows from one file.
type Chunk struct {
	// Seq numbers chunks from zero within a stream.
	Seq int
	// Offset is the file row index of the first row read into this chunk.
	Offset int64
	// RowsRead counts rows taken from the file, including dropped ones.
	RowsRead int
	// Dropped counts rows whose content was empty after trimming.
	Dropped int
	Records []Record
}

// Texts returns the cleaned text of every record in order.
func (c *Chunk) Texts() []string {
	texts := make([]string, len(c.Records))
	for i := range c.Records {
		texts[i] = c.Records[i].Text
	}
	return texts
}

// Preprocess trims the content of each row and drops rows left empty.
// offset is the file row index of rows[0].
func Preprocess(rows []Row, offset int64) ([]Record, int) {
	records := make([]Record, 0, len(rows))
	dropped := 0
	for i, row := range rows {
		text := strings.TrimSpace(row.Content)
		if text == "" {
			dropped++
			continue
		}
		records = append(records, Record{
			Index: offset + int64(i),
			Text:  text,
			Row:   row,
		})
	}
	return records, dropped
}

// ChunkRows sizes a read chunk so that one chunk can keep every concurrency
// slot busy for bufferMultiplier rounds of batches.
func ChunkRows(concurrency, batchSize, bufferMultiplier int) int {
	if concurrency < 1 {
		concurrency = 1
	}
	if batchSize < 1 {
		batchSize = 1
	}
	if bufferMultiplier < 1 {
		bufferMultiplier = 1
	}
	return concurrency * batchSize * bufferMultiplier
}
