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

package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// FileStore keeps the checkpoint in a JSON file.
type FileStore struct {
	path   string
	logger *slog.Logger
}

// NewFileStore creates a store for dir/processing_checkpoint.json.
func NewFileStore(dir string, logger *slog.Logger) *FileStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &FileStore{path: filepath.Join(dir, FileName), logger: logger}
}

// Path returns the checkpoint file path.
func (s *FileStore) Path() string { return s.path }

// Location implements Store.
func (s *FileStore) Location() string { return s.path }

// Load reads the checkpoint file.
func (s *FileStore) Load(_ context.Context) (*Checkpoint, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return empty(), nil
		}
		s.logger.Warn("checkpoint.load.unreadable", "path", s.path, "err", err)
		return empty(), nil
	}

	cp, err := decode(data)
	if err != nil {
		s.logger.Warn("checkpoint.load.corrupt", "path", s.path, "err", err)
		return empty(), nil
	}
	s.logger.Info("checkpoint.loaded", "path", s.path, "processed_files", len(cp.ProcessedFiles))
	return cp, nil
}

// Save writes the checkpoint atomically (temp file + rename).
func (s *FileStore) Save(_ context.Context, cp *Checkpoint) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("create checkpoint dir: %w", err)
	}

	data, err := encode(cp)
	if err != nil {
		return err
	}

	tmpPath := s.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("write checkpoint temp: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("rename checkpoint: %w", err)
	}
	return nil
}

// Clear removes the checkpoint file.
func (s *FileStore) Clear(_ context.Context) error {
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove checkpoint: %w", err)
	}
	return nil
}
