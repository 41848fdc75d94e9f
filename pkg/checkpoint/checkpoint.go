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

// Package checkpoint persists which input files a run has completed so a
// restarted processor skips them.
//
// A checkpoint is a single JSON document that is replaced as a whole on every
// save. Two backends exist: a file next to the output artifacts and a redis
// key for processors whose output directory is not durable.
//
// Resume is by identity only. A file whose contents change after it was
// checkpointed under the same path is not processed again.
package checkpoint

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"time"

	"github.com/kraklabs/stackqc/pkg/stats"
)

// FileName is the checkpoint document name inside the output directory.
const FileName = "processing_checkpoint.json"

// Checkpoint is the persisted progress of a processor.
type Checkpoint struct {
	// ProcessedFiles are absolute input paths whose output has been written.
	ProcessedFiles []string     `json:"processed_files"`
	LastUpdate     time.Time    `json:"last_update"`
	Stats          *stats.Stats `json:"stats,omitempty"`
}

// Store loads and saves checkpoints.
//
// Load treats a missing or unreadable document as an empty checkpoint and
// only returns an error when the backend itself cannot be reached.
type Store interface {
	Load(ctx context.Context) (*Checkpoint, error)
	Save(ctx context.Context, cp *Checkpoint) error
	Clear(ctx context.Context) error
	// Location describes where the checkpoint lives, for logs.
	Location() string
}

// Contains reports whether path has been completed.
func (c *Checkpoint) Contains(path string) bool {
	return slices.Contains(c.ProcessedFiles, path)
}

// Set returns the completed paths as a set.
func (c *Checkpoint) Set() map[string]struct{} {
	set := make(map[string]struct{}, len(c.ProcessedFiles))
	for _, p := range c.ProcessedFiles {
		set[p] = struct{}{}
	}
	return set
}

// New builds a checkpoint from a completed set, sorted for stable output.
func New(completed map[string]struct{}, st *stats.Stats, now time.Time) *Checkpoint {
	files := make([]string, 0, len(completed))
	for p := range completed {
		files = append(files, p)
	}
	slices.Sort(files)
	return &Checkpoint{ProcessedFiles: files, LastUpdate: now.UTC(), Stats: st.Clone()}
}

func encode(cp *Checkpoint) ([]byte, error) {
	if cp.ProcessedFiles == nil {
		cp.ProcessedFiles = []string{}
	}
	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal checkpoint: %w", err)
	}
	return data, nil
}

func decode(data []byte) (*Checkpoint, error) {
	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("parse checkpoint: %w", err)
	}
	if cp.ProcessedFiles == nil {
		cp.ProcessedFiles = []string{}
	}
	return &cp, nil
}

func empty() *Checkpoint {
	return &Checkpoint{ProcessedFiles: []string{}}
}
