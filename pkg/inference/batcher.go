// Copyright 2025 KrakLabs
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//
// SPDX-License-Identifier: Apache-2.0

package inference

// jsonOverhead approximates the bytes a string adds to a JSON array beyond
// its own length: two quotes and a comma.
const jsonOverhead = 3

// Span is a half-open range [Start, End) of texts sent as one request.
type Span struct {
	Start int
	End   int
}

// Len returns the number of texts in the span.
func (s Span) Len() int { return s.End - s.Start }

// Batcher splits texts into request batches bounded by item count and
// approximate payload size.
type Batcher struct {
	maxItems int
	maxBytes int // Soft limit; a single oversize text still gets its own batch
}

// NewBatcher creates a new batcher. A non-positive maxBytes disables the
// size limit.
func NewBatcher(maxItems, maxBytes int) *Batcher {
	if maxItems < 1 {
		maxItems = 1
	}
	return &Batcher{
		maxItems: maxItems,
		maxBytes: maxBytes,
	}
}

// Split returns consecutive spans covering texts in order.
func (b *Batcher) Split(texts []string) []Span {
	if len(texts) == 0 {
		return nil
	}

	var spans []Span
	start := 0
	size := 2 // enclosing brackets

	for i, text := range texts {
		textSize := len(text) + jsonOverhead
		count := i - start

		wouldExceedSize := b.maxBytes > 0 && size+textSize > b.maxBytes
		wouldExceedItems := count >= b.maxItems

		if count > 0 && (wouldExceedSize || wouldExceedItems) {
			spans = append(spans, Span{Start: start, End: i})
			start = i
			size = 2
		}
		size += textSize
	}

	return append(spans, Span{Start: start, End: len(texts)})
}
