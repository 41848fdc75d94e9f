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
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// DefaultErrorLabel marks results that were substituted after a failed call.
const DefaultErrorLabel = "__label__error"

// ErrMalformedResponse is returned when the response body cannot be mapped
// onto the submitted batch.
var ErrMalformedResponse = errors.New("malformed inference response")

// Result is the canonical prediction for one text. Labels and Scores are nil
// when the service returned something other than a list for that field.
type Result struct {
	Labels []string  `json:"labels"`
	Scores []float64 `json:"scores"`
	// Failed marks a sentinel substituted for a failed or malformed prediction.
	Failed bool `json:"-"`
}

// Sentinel returns the placeholder result used when no prediction is available.
func Sentinel(errorLabel string) Result {
	return Result{
		Labels: []string{errorLabel},
		Scores: []float64{0.0},
		Failed: true,
	}
}

// Top returns the first label and its score, or zero values when empty.
func (r Result) Top() (string, float64) {
	if len(r.Labels) == 0 {
		return "", 0
	}
	if len(r.Scores) == 0 {
		return r.Labels[0], 0
	}
	return r.Labels[0], r.Scores[0]
}

// decodeResults maps a /predict response body onto want results. The body
// must be a JSON array with one entry per text; entries that cannot be
// decoded become sentinels and are counted in malformed.
func decodeResults(body []byte, want int, errorLabel string) (results []Result, malformed int, err error) {
	var items []json.RawMessage
	if err := json.Unmarshal(body, &items); err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if len(items) != want {
		return nil, 0, fmt.Errorf("%w: got %d results for %d texts", ErrMalformedResponse, len(items), want)
	}

	results = make([]Result, want)
	for i, raw := range items {
		r, err := decodeItem(raw)
		if err != nil {
			results[i] = Sentinel(errorLabel)
			malformed++
			continue
		}
		results[i] = r
	}
	return results, malformed, nil
}

// decodeItem accepts either {"labels": [...], "scores": [...]} or
// [labels, scores].
func decodeItem(raw json.RawMessage) (Result, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return Result{}, errors.New("empty item")
	}

	switch raw[0] {
	case '{':
		var obj struct {
			Labels json.RawMessage `json:"labels"`
			Scores json.RawMessage `json:"scores"`
		}
		if err := json.Unmarshal(raw, &obj); err != nil {
			return Result{}, err
		}
		if obj.Labels == nil {
			return Result{}, errors.New("object item without labels")
		}
		return Result{Labels: decodeStrings(obj.Labels), Scores: decodeFloats(obj.Scores)}, nil

	case '[':
		var pair []json.RawMessage
		if err := json.Unmarshal(raw, &pair); err != nil {
			return Result{}, err
		}
		if len(pair) != 2 {
			return Result{}, fmt.Errorf("pair item with %d elements", len(pair))
		}
		return Result{Labels: decodeStrings(pair[0]), Scores: decodeFloats(pair[1])}, nil

	default:
		return Result{}, fmt.Errorf("unexpected item starting with %q", raw[0])
	}
}

func isArray(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) > 0 && raw[0] == '['
}

func decodeStrings(raw json.RawMessage) []string {
	if !isArray(raw) {
		return nil
	}
	out := []string{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil
	}
	return out
}

func decodeFloats(raw json.RawMessage) []float64 {
	if !isArray(raw) {
		return nil
	}
	out := []float64{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil
	}
	return out
}
