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

	"github.com/redis/go-redis/v9"
)

// DefaultRedisKey is used when no key is configured.
const DefaultRedisKey = "stackqc:checkpoint"

// RedisStore keeps the checkpoint document under a single redis key. SET
// replaces the value atomically, so a reader never sees a partial document.
type RedisStore struct {
	client *redis.Client
	key    string
	logger *slog.Logger
}

// NewRedisStore connects to redisURL (redis://host:port/db).
func NewRedisStore(redisURL, key string, logger *slog.Logger) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	if key == "" {
		key = DefaultRedisKey
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisStore{client: redis.NewClient(opts), key: key, logger: logger}, nil
}

// Location implements Store.
func (s *RedisStore) Location() string {
	return fmt.Sprintf("redis://%s/%s", s.client.Options().Addr, s.key)
}

// Ping checks the connection.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Load reads the checkpoint key. A missing key or an undecodable value yields
// an empty checkpoint; a connection failure is returned.
func (s *RedisStore) Load(ctx context.Context) (*Checkpoint, error) {
	data, err := s.client.Get(ctx, s.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return empty(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("get checkpoint: %w", err)
	}

	cp, err := decode(data)
	if err != nil {
		s.logger.Warn("checkpoint.load.corrupt", "key", s.key, "err", err)
		return empty(), nil
	}
	s.logger.Info("checkpoint.loaded", "key", s.key, "processed_files", len(cp.ProcessedFiles))
	return cp, nil
}

// Save replaces the checkpoint key.
func (s *RedisStore) Save(ctx context.Context, cp *Checkpoint) error {
	data, err := encode(cp)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, s.key, data, 0).Err(); err != nil {
		return fmt.Errorf("set checkpoint: %w", err)
	}
	return nil
}

// Clear deletes the checkpoint key.
func (s *RedisStore) Clear(ctx context.Context) error {
	if err := s.client.Del(ctx, s.key).Err(); err != nil {
		return fmt.Errorf("delete checkpoint: %w", err)
	}
	return nil
}

// Close closes the redis connection pool.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
