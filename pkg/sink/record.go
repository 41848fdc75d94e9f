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

// Package sink writes classified samples to output artifacts.
//
// Each input file produces exactly one artifact, processed_<stem>.parquet or
// processed_<stem>.jsonl, in the output directory. Rows are written to
// <name>.tmp as chunks complete and the file is renamed into place only on
// Commit, so a crash never leaves a truncated artifact under the final name.
package sink

import (
	"time"
	"unicode/utf8"

	"github.com/kraklabs/stackqc/pkg/inference"
	"github.com/kraklabs/stackqc/pkg/source"
	"github.com/kraklabs/stackqc/pkg/validate"
)

// OutputRecord is one classified sample.
type OutputRecord struct {
	BlobID   string `parquet:"blob_id" json:"blob_id"`
	Path     string `parquet:"path" json:"path"`
	RepoName string `parquet:"repo_name" json:"repo_name"`
	Language string `parquet:"language" json:"language"`
	Size     int64  `parquet:"size" json:"size"`
	Ext      string `parquet:"ext" json:"ext"`

	QualityLabels     []string  `parquet:"quality_labels,list" json:"quality_labels"`
	QualityScores     []float64 `parquet:"quality_scores,list" json:"quality_scores"`
	QualityPrediction string    `parquet:"quality_prediction" json:"quality_prediction"`
	QualityConfidence float64   `parquet:"quality_confidence" json:"quality_confidence"`

	PredictionValid bool `parquet:"prediction_valid" json:"prediction_valid"`
	// PredictionError is the validator reason code, null when valid.
	PredictionError string `parquet:"prediction_error,optional" json:"prediction_error,omitempty"`

	// ContentLength is the length of the original content in characters.
	ContentLength int64 `parquet:"content_length" json:"content_length"`
	// ProcessedAt is an RFC 3339 UTC timestamp.
	ProcessedAt string `parquet:"processed_at" json:"processed_at"`
}

// Merge pairs records with their inference results, validates each result
// and returns the output rows in record order. len(results) must equal
// len(records).
func Merge(records []source.Record, results []inference.Result, v *validate.Validator, now time.Time) []OutputRecord {
	ts := now.UTC().Format(time.RFC3339Nano)
	out := make([]OutputRecord, len(records))
	for i := range records {
		res := &results[i]
		valid, reason := v.Validate(res)
		label, score := res.Top()
		row := records[i].Row

		out[i] = OutputRecord{
			BlobID:            row.BlobID,
			Path:              row.Path,
			RepoName:          row.RepoName,
			Language:          row.Language,
			Size:              row.Size,
			Ext:               row.Ext,
			QualityLabels:     res.Labels,
			QualityScores:     res.Scores,
			QualityPrediction: label,
			QualityConfidence: score,
			PredictionValid:   valid,
			PredictionError:   reason,
			ContentLength:     int64(utf8.RuneCountInString(row.Content)),
			ProcessedAt:       ts,
		}
	}
	return out
}
