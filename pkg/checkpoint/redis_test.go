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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// setupRedis spins up a Redis container and returns a connected store.
func setupRedis(t *testing.T, key string) *RedisStore {
	t.Helper()
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(30 * time.Second),
	}
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, container.Terminate(ctx)) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "6379")
	require.NoError(t, err)

	store, err := NewRedisStore("redis://"+host+":"+port.Port(), key, quietLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestRedisStore_RoundTrip(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	store := setupRedis(t, "")
	ctx := context.Background()
	require.NoError(t, store.Ping(ctx))

	cp, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, cp.ProcessedFiles)

	want := sampleCheckpoint()
	require.NoError(t, store.Save(ctx, want))

	got, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, want.ProcessedFiles, got.ProcessedFiles)
	assert.Equal(t, want.Stats.SuccessfulSamples, got.Stats.SuccessfulSamples)

	require.NoError(t, store.Clear(ctx))
	got, err = store.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, got.ProcessedFiles)
}

func TestRedisStore_CorruptValue(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	store := setupRedis(t, "qc:test")
	ctx := context.Background()

	require.NoError(t, store.client.Set(ctx, "qc:test", "garbage", 0).Err())
	cp, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, cp.ProcessedFiles)
	assert.Contains(t, store.Location(), "/qc:test")
}

func TestNewRedisStore_BadURL(t *testing.T) {
	_, err := NewRedisStore("http://not-redis", "", nil)
	assert.Error(t, err)
}
