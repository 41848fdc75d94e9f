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

// Package testing provides fixtures for stackqc tests.
//
// # Quick Start
//
// Write a Parquet input file and start a fake inference service:
//
//	func TestMyFeature(t *testing.T) {
//	    dir := t.TempDir()
//	    path := qctesting.WriteSamples(t, dir, "part-0000.parquet", qctesting.Samples(10))
//
//	    srv := qctesting.NewPredictServer(t, qctesting.ModeObjects)
//	    // point the client at srv.URL ...
//	}
//
// # Fake Inference Service
//
// PredictServer answers GET /health and POST /predict the way the real
// classifier does. The mode selects the response encoding or a failure:
//   - ModeObjects: [{"labels": [...], "scores": [...]}, ...]
//   - ModePairs: [[labels, scores], ...]
//   - ModeServerError: HTTP 500 for every predict call
//   - ModeGarbage: a body that is not JSON
//
// Requests and Texts report how much traffic the server has seen, which is
// how resume tests assert that nothing was sent.
//
// SetDelay slows every predict call down and OnRequest runs a callback as
// the nth call arrives, so a test can cancel a run while batches are in
// flight. Finished counts the calls that ran to completion.
//
// # Parquet Fixtures
//
// WriteSamples writes rows with the full input schema. WriteParquet accepts
// any struct type, for files with missing or unusual columns.
package testing
