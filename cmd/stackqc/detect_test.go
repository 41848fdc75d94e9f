// Copyright 2025 KrakLabs
// SPDX-License-Identifier: AGPL-3.0-or-later

package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	qctesting "github.com/kraklabs/stackqc/internal/testing"
	"github.com/kraklabs/stackqc/internal/ui"
	"github.com/kraklabs/stackqc/pkg/readiness"
)

func newTestRunner(dir string, wait func(context.Context, time.Duration) error) *detectRunner {
	return &detectRunner{
		detector: readiness.New(0),
		dir:      dir,
		pattern:  "*.parquet",
		interval: time.Hour,
		now:      time.Now,
		wait:     wait,
	}
}

func TestDetectRunner_OnceSettlesEveryFile(t *testing.T) {
	dir := t.TempDir()
	good := qctesting.WriteSamples(t, dir, "part-0000.parquet", qctesting.Samples(3))
	bad := filepath.Join(dir, "part-0001.parquet")
	require.NoError(t, os.WriteFile(bad, []byte("not parquet at all"), 0644))

	waits := 0
	r := newTestRunner(dir, func(context.Context, time.Duration) error { waits++; return nil })
	scans := 0
	r.onScan = func() { scans++ }

	reports, err := r.Once(context.Background())
	require.NoError(t, err)
	require.Len(t, reports, 2)

	assert.Equal(t, FileReport{Path: good, Ready: true, State: "READY", Reason: readiness.ReasonReady}, reports[0])
	assert.Equal(t, bad, reports[1].Path)
	assert.False(t, reports[1].Ready)
	assert.Equal(t, "INVALID", reports[1].State)
	assert.Equal(t, readiness.ReasonParseError, reports[1].Reason)

	assert.Equal(t, 2, scans, "first sighting, then the probe")
	assert.Equal(t, 1, waits)
}

func TestDetectRunner_OnceStopsWhenCancelled(t *testing.T) {
	dir := t.TempDir()
	qctesting.WriteSamples(t, dir, "part-0000.parquet", qctesting.Samples(1))

	r := newTestRunner(dir, func(ctx context.Context, _ time.Duration) error { return context.Canceled })
	reports, err := r.Once(context.Background())
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.Equal(t, "FIRST_DETECTED", reports[0].State)
}

func TestDetectRunner_WatchReportsNewlyReady(t *testing.T) {
	dir := t.TempDir()
	first := qctesting.WriteSamples(t, dir, "part-0000.parquet", qctesting.Samples(2))

	var second string
	calls := 0
	stop := errors.New("stop")
	r := newTestRunner(dir, func(context.Context, time.Duration) error {
		calls++
		switch calls {
		case 2:
			second = qctesting.WriteSamples(t, dir, "part-0001.parquet", qctesting.Samples(2))
		case 4:
			return stop
		}
		return nil
	})

	var reps []ScanReport
	err := r.Watch(context.Background(), func(rep ScanReport) { reps = append(reps, rep) })
	require.ErrorIs(t, err, stop)
	require.Len(t, reps, 4)

	assert.Equal(t, 0, reps[0].Ready)
	assert.Equal(t, 1, reps[0].Pending)

	assert.Equal(t, []string{first}, reps[1].NewlyReady)
	assert.Empty(t, reps[2].NewlyReady, "already reported files are not repeated")
	assert.Equal(t, 1, reps[2].Pending)

	assert.Equal(t, []string{second}, reps[3].NewlyReady)
	assert.Equal(t, 2, reps[3].Ready)
}

func TestBuildReports_SortedByPath(t *testing.T) {
	reports := buildReports(
		[]string{"/d/c.parquet", "/d/a.parquet"},
		map[string]readiness.Status{
			"/d/b.parquet": {State: readiness.StateStablePending, Reason: "waiting_stability_12s"},
		},
	)
	require.Len(t, reports, 3)
	assert.Equal(t, "/d/a.parquet", reports[0].Path)
	assert.Equal(t, "/d/b.parquet", reports[1].Path)
	assert.Equal(t, "STABLE_PENDING", reports[1].State)
	assert.Equal(t, "/d/c.parquet", reports[2].Path)
	assert.True(t, reports[2].Ready)
}

func TestSettling(t *testing.T) {
	assert.False(t, settling(nil))
	assert.False(t, settling(map[string]readiness.Status{"a": {State: readiness.StateInvalid}}))
	assert.True(t, settling(map[string]readiness.Status{
		"a": {State: readiness.StateInvalid},
		"b": {State: readiness.StateChanging},
	}))
}

func TestPrintDetect(t *testing.T) {
	ui.InitColors(true)

	var buf bytes.Buffer
	printDetect(&buf, "/data", nil)
	assert.Contains(t, buf.String(), "No matching files.")

	buf.Reset()
	printDetect(&buf, "/data", []FileReport{
		{Path: "/data/a.parquet", Ready: true, State: "READY", Reason: "ready"},
		{Path: "/data/b.parquet", State: "INVALID", Reason: "parse_error"},
	})
	out := buf.String()
	assert.Contains(t, out, "File Readiness")
	assert.Contains(t, out, "/data/b.parquet")
	assert.Contains(t, out, "1 of 2 files ready")
}

func TestSleepCtx(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, sleepCtx(ctx, time.Hour), context.Canceled)
	assert.NoError(t, sleepCtx(context.Background(), time.Millisecond))
}
