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

// Package inference talks to the remote text-classification service.
//
// The service exposes two endpoints:
//
//	POST /predict?k=<top-k>&threshold=<cutoff>   body: ["text", ...]
//	GET  /health                                  {"status": "...", "model_loaded": true}
//
// Predict never fails: any transport error, non-2xx status or undecodable
// body is turned into one sentinel Result per submitted text, so callers
// always get len(texts) results in input order. Health is the only call
// whose error is meant to stop a run.
package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// ErrUnhealthy is returned by Health when the service is up but not serving.
var ErrUnhealthy = errors.New("inference service unhealthy")

// maxErrorBody caps how much of an error response is kept for logging.
const maxErrorBody = 512

// StatusError is a non-2xx response from the service.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("inference API error (status %d): %s", e.StatusCode, e.Body)
}

// Config configures a Client.
type Config struct {
	// BaseURL is the service root, e.g. http://localhost:8000.
	BaseURL string
	// Timeout bounds a single HTTP call, including reading the body.
	Timeout time.Duration
	// ErrorLabel is the label carried by sentinel results.
	ErrorLabel string
	Retry      RetryConfig
	// HTTPClient overrides the default client; Timeout is ignored when set.
	HTTPClient *http.Client
}

// Health is the payload of GET /health.
type Health struct {
	Status      string `json:"status"`
	ModelLoaded *bool  `json:"model_loaded,omitempty"`
}

// Client calls the inference service.
type Client struct {
	baseURL    string
	errorLabel string
	http       *http.Client
	retry      RetryConfig
	logger     *slog.Logger
}

// NewClient creates a client for cfg.BaseURL.
func NewClient(cfg Config, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	u, err := url.Parse(strings.TrimSpace(cfg.BaseURL))
	if err != nil {
		return nil, fmt.Errorf("parse service url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("service url %q: scheme must be http or https", cfg.BaseURL)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("service url %q: missing host", cfg.BaseURL)
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	errorLabel := cfg.ErrorLabel
	if errorLabel == "" {
		errorLabel = DefaultErrorLabel
	}

	return &Client{
		baseURL:    strings.TrimRight(u.String(), "/"),
		errorLabel: errorLabel,
		http:       httpClient,
		retry:      cfg.Retry.withDefaults(),
		logger:     logger,
	}, nil
}

// ErrorLabel returns the label used for sentinel results.
func (c *Client) ErrorLabel() string { return c.errorLabel }

// BaseURL returns the normalized service root.
func (c *Client) BaseURL() string { return c.baseURL }

// Health probes GET /health. A transport error, a non-200 status or an
// explicit model_loaded=false is reported as an error.
func (c *Client) Health(ctx context.Context) (*Health, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("health request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return nil, fmt.Errorf("read health response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d: %s", ErrUnhealthy, resp.StatusCode, truncate(body))
	}

	h := &Health{}
	if err := json.Unmarshal(body, h); err != nil {
		// Some deployments answer with plain text; a 200 is enough.
		h.Status = strings.TrimSpace(truncate(body))
		return h, nil
	}
	if h.ModelLoaded != nil && !*h.ModelLoaded {
		return h, fmt.Errorf("%w: model not loaded", ErrUnhealthy)
	}
	return h, nil
}

// Predict classifies texts and returns exactly len(texts) results in input
// order.
//
// The HTTP call runs detached from ctx cancellation so a request already on
// the wire is never aborted; ctx only stops further retry attempts.
func (c *Client) Predict(ctx context.Context, texts []string, k int, threshold float64) []Result {
	if len(texts) == 0 {
		return []Result{}
	}
	reqCtx := context.WithoutCancel(ctx)

	var lastErr error
	maxAttempts := c.retry.MaxAttempts
attempts:
	for attempt := 0; attempt < maxAttempts; attempt++ {
		start := time.Now()
		results, malformed, err := c.predictOnce(reqCtx, texts, k, threshold)
		observeRequest(time.Since(start), err)
		if err == nil {
			if malformed > 0 {
				recordMalformedItems(malformed)
				c.logger.Warn("inference.predict.malformed_items", "batch_size", len(texts), "malformed", malformed)
			}
			return results
		}

		lastErr = err
		if attempt == maxAttempts-1 || !isRetryableError(err) || ctx.Err() != nil {
			break
		}

		sleep := computeBackoffWithJitter(c.retry.InitialBackoff, attempt, c.retry.Multiplier, c.retry.MaxBackoff)
		recordRetry()
		c.logger.Warn("inference.retry", "batch_size", len(texts), "attempt", attempt+1, "sleep_ms", sleep.Milliseconds(), "err", err)
		select {
		case <-ctx.Done():
			break attempts
		case <-time.After(sleep):
		}
	}

	c.logger.Error("inference.predict.failed", "batch_size", len(texts), "err", lastErr)
	recordSentinels(len(texts))
	return c.sentinels(len(texts))
}

func (c *Client) predictOnce(ctx context.Context, texts []string, k int, threshold float64) ([]Result, int, error) {
	payload, err := json.Marshal(texts)
	if err != nil {
		return nil, 0, fmt.Errorf("marshal request: %w", err)
	}

	q := url.Values{}
	q.Set("k", strconv.Itoa(k))
	q.Set("threshold", strconv.FormatFloat(threshold, 'f', -1, 64))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/predict?"+q.Encode(), bytes.NewReader(payload))
	if err != nil {
		return nil, 0, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("predict request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, 0, &StatusError{StatusCode: resp.StatusCode, Body: truncate(body)}
	}

	return decodeResults(body, len(texts), c.errorLabel)
}

func (c *Client) sentinels(n int) []Result {
	out := make([]Result, n)
	for i := range out {
		out[i] = Sentinel(c.errorLabel)
	}
	return out
}

// isRetryableError classifies predict failures: network/timeout errors and
// HTTP 429/5xx are retryable, malformed bodies and other statuses are not.
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrMalformedResponse) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode == http.StatusTooManyRequests || se.StatusCode >= 500
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return true
	}
	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, s := range []string{"timeout", "temporarily unavailable", "connection refused", "connection reset"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

func truncate(b []byte) string {
	if len(b) > maxErrorBody {
		return string(b[:maxErrorBody]) + "..."
	}
	return string(b)
}
