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

package ui

import (
	"bytes"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
)

func noColor(t *testing.T) {
	t.Helper()
	original := color.NoColor
	color.NoColor = true
	t.Cleanup(func() { color.NoColor = original })
}

func TestInitColors(t *testing.T) {
	original := color.NoColor
	defer func() { color.NoColor = original }()

	for _, v := range []bool{false, true} {
		InitColors(v)
		assert.Equal(t, v, color.NoColor)
	}
}

func TestRateText(t *testing.T) {
	noColor(t)

	tests := []struct {
		pct  float64
		want string
	}{
		{100, "100.0%"},
		{95, "95.0%"},
		{80.04, "80.0%"},
		{0, "0.0%"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, RateText(tt.pct))
	}
}

func TestHeaderUnderlinesRunes(t *testing.T) {
	noColor(t)

	var buf bytes.Buffer
	Header(&buf, "Résumé")
	assert.Equal(t, "Résumé\n======\n", buf.String())
}

func TestField(t *testing.T) {
	noColor(t)

	var buf bytes.Buffer
	Field(&buf, 10, "Files:", 7)
	Field(&buf, 10, "Rate:", "98.0%")
	assert.Equal(t, "Files:     7\nRate:      98.0%\n", buf.String())
}

func TestInlineHelpers(t *testing.T) {
	noColor(t)

	assert.Equal(t, "Output dir:", Label("Output dir:"))
	assert.Equal(t, "/data/out", DimText("/data/out"))
	assert.Equal(t, "42", CountText(42))
	assert.Equal(t, "0", CountText(0))
	assert.Equal(t, "", Label(""))
}

func TestMessageFunctionsDoNotPanic(t *testing.T) {
	noColor(t)

	assert.NotPanics(t, func() {
		Successf("%d files", 3)
		Warning("interrupted")
		Warningf("%d failed", 1)
		Infof("%s", "scanning")
	})
}
