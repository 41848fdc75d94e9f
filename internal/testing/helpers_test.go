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

package testing

import (
	"bytes"
	"encoding/json"
	"net/http"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/parquet-go/parquet-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteSamples(t *testing.T) {
	path := WriteSamples(t, t.TempDir(), "part.parquet", Samples(4))

	rows, err := parquet.ReadFile[Sample](path)
	require.NoError(t, err)
	require.Len(t, rows, 4)
	assert.Equal(t, "blob-0002", rows[2].BlobID)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Positive(t, info.Size())
}

func TestPredictServer_Objects(t *testing.T) {
	srv := NewPredictServer(t, ModeObjects)

	body, _ := json.Marshal([]string{"a", "TODO b"})
	resp, err := http.Post(srv.URL+"/predict?k=2&threshold=0", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out []map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.Len(t, out, 2)
	assert.Equal(t, "__label__0", out[1]["labels"].([]any)[0])
	assert.Equal(t, int64(1), srv.Requests())
	assert.Equal(t, int64(2), srv.Texts())
	assert.Equal(t, []string{"k=2&threshold=0"}, srv.Queries())
}

func TestPredictServer_Health(t *testing.T) {
	srv := NewPredictServer(t, ModeObjects)

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	srv.SetUnhealthy(true)
	resp, err = http.Get(srv.URL + "/health")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestPredictServer_DelayAndHook(t *testing.T) {
	srv := NewPredictServer(t, ModeObjects)
	srv.SetDelay(20 * time.Millisecond)
	var seen atomic.Int64
	srv.OnRequest(func(n int64) { seen.Store(n) })

	body, _ := json.Marshal([]string{"a"})
	start := time.Now()
	resp, err := http.Post(srv.URL+"/predict", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	_ = resp.Body.Close()

	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
	assert.Equal(t, int64(1), seen.Load())
	assert.Equal(t, int64(1), srv.Finished())
}
