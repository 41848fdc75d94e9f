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

package inference

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	qctesting "github.com/kraklabs/stackqc/internal/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestClient(t *testing.T, baseURL string, attempts int) *Client {
	t.Helper()
	c, err := NewClient(Config{
		BaseURL: baseURL,
		Timeout: 2 * time.Second,
		Retry: RetryConfig{
			MaxAttempts:    attempts,
			InitialBackoff: time.Millisecond,
			MaxBackoff:     5 * time.Millisecond,
			Multiplier:     2,
		},
	}, quietLogger())
	require.NoError(t, err)
	return c
}

func assertSentinels(t *testing.T, results []Result, n int) {
	t.Helper()
	require.Len(t, results, n)
	for i, r := range results {
		assert.True(t, r.Failed, "result %d should be a sentinel", i)
		assert.Equal(t, []string{DefaultErrorLabel}, r.Labels)
		assert.Equal(t, []float64{0.0}, r.Scores)
	}
}

func TestPredict_ResponseShapes(t *testing.T) {
	for _, mode := range []qctesting.PredictMode{qctesting.ModeObjects, qctesting.ModePairs} {
		t.Run(fmt.Sprintf("mode_%d", mode), func(t *testing.T) {
			srv := qctesting.NewPredictServer(t, mode)
			c := newTestClient(t, srv.URL, 1)

			texts := []string{"func ok() {}", "// TODO fix", "x := 1"}
			results := c.Predict(context.Background(), texts, 2, 0.0)

			require.Len(t, results, 3)
			for i, text := range texts {
				labels, scores := qctesting.Classify(text)
				assert.Equal(t, labels, results[i].Labels, "labels for %q", text)
				assert.Equal(t, scores, results[i].Scores)
				assert.False(t, results[i].Failed)
			}
			assert.Equal(t, []string{"k=2&threshold=0"}, srv.Queries())
		})
	}
}

func TestPredict_ServerErrorReturnsSentinels(t *testing.T) {
	srv := qctesting.NewPredictServer(t, qctesting.ModeServerError)
	c := newTestClient(t, srv.URL, 1)

	results := c.Predict(context.Background(), []string{"a", "b", "c"}, 2, 0.0)

	assertSentinels(t, results, 3)
	assert.Equal(t, int64(1), srv.Requests())
}

func TestPredict_RetriesServerErrors(t *testing.T) {
	srv := qctesting.NewPredictServer(t, qctesting.ModeServerError)
	c := newTestClient(t, srv.URL, 3)

	results := c.Predict(context.Background(), []string{"a", "b"}, 2, 0.0)

	assertSentinels(t, results, 2)
	assert.Equal(t, int64(3), srv.Requests())
}

func TestPredict_RecoversAfterTransientFailure(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`[{"labels":["__label__1"],"scores":[0.7]}]`))
	}))
	defer srv.Close()
	c := newTestClient(t, srv.URL, 3)

	results := c.Predict(context.Background(), []string{"a"}, 2, 0.0)

	require.Len(t, results, 1)
	assert.False(t, results[0].Failed)
	assert.Equal(t, []string{"__label__1"}, results[0].Labels)
	assert.Equal(t, int32(2), calls.Load())
}

func TestPredict_GarbageBodyIsNotRetried(t *testing.T) {
	srv := qctesting.NewPredictServer(t, qctesting.ModeGarbage)
	c := newTestClient(t, srv.URL, 3)

	results := c.Predict(context.Background(), []string{"a", "b"}, 2, 0.0)

	assertSentinels(t, results, 2)
	assert.Equal(t, int64(1), srv.Requests())
}

func TestPredict_LengthMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[{"labels":["__label__1"],"scores":[0.7]}]`))
	}))
	defer srv.Close()
	c := newTestClient(t, srv.URL, 1)

	assertSentinels(t, c.Predict(context.Background(), []string{"a", "b"}, 2, 0.0), 2)
}

func TestPredict_MalformedItemsArePerItem(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[
			{"labels":["__label__1","__label__0"],"scores":[0.6,0.4]},
			42,
			["only-one"],
			[["__label__0"],[0.9]],
			{"labels":"__label__1","scores":[0.5]}
		]`))
	}))
	defer srv.Close()
	c := newTestClient(t, srv.URL, 1)

	results := c.Predict(context.Background(), []string{"a", "b", "c", "d", "e"}, 2, 0.0)

	require.Len(t, results, 5)
	assert.False(t, results[0].Failed)
	assert.True(t, results[1].Failed)
	assert.True(t, results[2].Failed)
	assert.Equal(t, Result{Labels: []string{"__label__0"}, Scores: []float64{0.9}}, results[3])
	assert.False(t, results[4].Failed)
	assert.Nil(t, results[4].Labels, "a non-list labels field decodes to nil")
	assert.Equal(t, []float64{0.5}, results[4].Scores)
}

func TestPredict_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c := newTestClient(t, url, 2)
	assertSentinels(t, c.Predict(context.Background(), []string{"a", "b", "c"}, 2, 0.0), 3)
}

func TestPredict_CancelledContextStopsRetries(t *testing.T) {
	srv := qctesting.NewPredictServer(t, qctesting.ModeServerError)
	c := newTestClient(t, srv.URL, 5)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	results := c.Predict(ctx, []string{"a"}, 2, 0.0)

	assertSentinels(t, results, 1)
	assert.Equal(t, int64(1), srv.Requests(), "the request on the wire is still sent, but not retried")
}

func TestPredict_Empty(t *testing.T) {
	srv := qctesting.NewPredictServer(t, qctesting.ModeObjects)
	c := newTestClient(t, srv.URL, 1)

	assert.Empty(t, c.Predict(context.Background(), nil, 2, 0.0))
	assert.Zero(t, srv.Requests())
}

func TestPredict_CustomErrorLabel(t *testing.T) {
	srv := qctesting.NewPredictServer(t, qctesting.ModeServerError)
	c, err := NewClient(Config{BaseURL: srv.URL, ErrorLabel: "__label__0", Retry: RetryConfig{MaxAttempts: 1}}, quietLogger())
	require.NoError(t, err)

	results := c.Predict(context.Background(), []string{"a"}, 2, 0.0)
	require.Len(t, results, 1)
	assert.Equal(t, []string{"__label__0"}, results[0].Labels)
	assert.Equal(t, "__label__0", c.ErrorLabel())
}

func TestHealth(t *testing.T) {
	srv := qctesting.NewPredictServer(t, qctesting.ModeObjects)
	c := newTestClient(t, srv.URL, 1)

	h, err := c.Health(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "healthy", h.Status)
	require.NotNil(t, h.ModelLoaded)
	assert.True(t, *h.ModelLoaded)

	srv.SetUnhealthy(true)
	_, err = c.Health(context.Background())
	assert.ErrorIs(t, err, ErrUnhealthy)
}

func TestHealth_ModelNotLoaded(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"starting","model_loaded":false}`))
	}))
	defer srv.Close()
	c := newTestClient(t, srv.URL, 1)

	_, err := c.Health(context.Background())
	assert.ErrorIs(t, err, ErrUnhealthy)
}

func TestHealth_PlainTextOK(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("OK"))
	}))
	defer srv.Close()
	c := newTestClient(t, srv.URL, 1)

	h, err := c.Health(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "OK", h.Status)
}

func TestHealth_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c := newTestClient(t, url, 1)
	_, err := c.Health(context.Background())
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrUnhealthy))
}

func TestNewClient_Validation(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		wantErr bool
	}{
		{"http", "http://localhost:8000", false},
		{"https trailing slash", "https://classifier.internal/", false},
		{"no scheme", "localhost:8000", true},
		{"ftp", "ftp://host", true},
		{"empty", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := NewClient(Config{BaseURL: tt.url}, nil)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.NotContains(t, c.BaseURL()[len("https://"):], "//")
			assert.Equal(t, DefaultErrorLabel, c.ErrorLabel())
		})
	}
}

func TestIsRetryableError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"429", &StatusError{StatusCode: 429}, true},
		{"503", &StatusError{StatusCode: 503}, true},
		{"400", &StatusError{StatusCode: 400}, false},
		{"malformed", fmt.Errorf("%w: bad json", ErrMalformedResponse), false},
		{"unexpected eof", fmt.Errorf("read response: %w", io.ErrUnexpectedEOF), true},
		{"connection refused text", errors.New("dial tcp: connection refused"), true},
		{"other", errors.New("boom"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, isRetryableError(tt.err))
		})
	}
}

func TestComputeBackoffWithJitter(t *testing.T) {
	for attempt := 0; attempt < 8; attempt++ {
		d := computeBackoffWithJitter(100*time.Millisecond, attempt, 2, time.Second)
		assert.GreaterOrEqual(t, d, time.Duration(0))
		assert.LessOrEqual(t, d, time.Second)
	}
}
