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

// Package ui renders human-readable stackqc output.
//
// Colors follow --no-color and NO_COLOR:
//   - Red: errors, failed files, low success rates
//   - Yellow: warnings, interrupted runs
//   - Green: completions, healthy rates
//   - Cyan: info and counts
//   - Bold: headers and labels
//   - Dim: paths
package ui

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
)

var (
	Red    = color.New(color.FgRed)
	Yellow = color.New(color.FgYellow)
	Green  = color.New(color.FgGreen)
	Cyan   = color.New(color.FgCyan)
	Bold   = color.New(color.Bold)
	Dim    = color.New(color.Faint)
)

// Success-rate thresholds used by RateText.
const (
	GoodRate = 95.0
	FairRate = 80.0
)

// InitColors applies the --no-color flag. Call it once after flag parsing.
func InitColors(noColor bool) {
	color.NoColor = noColor
}

// Successf prints "✓ msg" in green.
func Successf(format string, args ...any) {
	_, _ = Green.Printf("✓ "+format+"\n", args...)
}

// Warning prints "⚠ msg" in yellow.
func Warning(msg string) {
	_, _ = Yellow.Println("⚠ " + msg)
}

func Warningf(format string, args ...any) {
	_, _ = Yellow.Printf("⚠ "+format+"\n", args...)
}

// Infof prints "ℹ msg" in cyan.
func Infof(format string, args ...any) {
	_, _ = Cyan.Printf("ℹ "+format+"\n", args...)
}

// Header writes a bold title underlined with '='.
func Header(w io.Writer, text string) {
	_, _ = Bold.Fprintln(w, text)
	fmt.Fprintln(w, strings.Repeat("=", len([]rune(text))))
}

// SubHeader writes a bold title.
func SubHeader(w io.Writer, text string) {
	_, _ = Bold.Fprintln(w, text)
}

// Field writes "label value" with the label padded to width.
func Field(w io.Writer, width int, label string, value any) {
	fmt.Fprintf(w, "%s %v\n", Label(fmt.Sprintf("%-*s", width, label)), value)
}

func Label(text string) string {
	return Bold.Sprint(text)
}

func DimText(text string) string {
	return Dim.Sprint(text)
}

func CountText(count int64) string {
	return Cyan.Sprint(count)
}

// RateText formats a percentage, green at GoodRate or above, yellow at
// FairRate or above, red below.
func RateText(pct float64) string {
	s := fmt.Sprintf("%.1f%%", pct)
	switch {
	case pct >= GoodRate:
		return Green.Sprint(s)
	case pct >= FairRate:
		return Yellow.Sprint(s)
	default:
		return Red.Sprint(s)
	}
}
