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

// Package readiness decides when an input file has stopped changing and can
// be read safely.
//
// A producer may still be appending to a file when it first shows up in the
// data directory. The Detector keeps the size and modification time it last
// saw for every path and only reports a file READY once both have stayed put
// for the stability window and a structural probe of the file succeeds.
//
// State per file:
//
//	UNSEEN -> FIRST_DETECTED -> (CHANGING <-> STABLE_PENDING) -> READY | INVALID
//	READY -> DONE (after MarkDone)
//
// A Detector is not safe for concurrent use.
package readiness

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/kraklabs/stackqc/pkg/source"
)

// State is the discovery state of one input file.
type State int

const (
	StateUnseen State = iota
	StateFirstDetected
	StateChanging
	StateStablePending
	StateReady
	StateInvalid
	StateDone
)

func (s State) String() string {
	switch s {
	case StateUnseen:
		return "UNSEEN"
	case StateFirstDetected:
		return "FIRST_DETECTED"
	case StateChanging:
		return "CHANGING"
	case StateStablePending:
		return "STABLE_PENDING"
	case StateReady:
		return "READY"
	case StateInvalid:
		return "INVALID"
	case StateDone:
		return "DONE"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Reason codes reported in Status.Reason.
const (
	ReasonFileNotExists  = "file_not_exists"
	ReasonEmptyFile      = "empty_file"
	ReasonFirstDetection = "first_detection"
	ReasonStillChanging  = "still_changing"
	ReasonReady          = "ready"
	ReasonDone           = "done"
	ReasonMissingColumns = "missing_columns"
	ReasonParseError     = "parse_error"

	waitingPrefix = "waiting_stability_"
)

// Status is the outcome of one readiness check.
type Status struct {
	Ready  bool
	State  State
	Reason string
	// Err carries the probe failure when State is StateInvalid after a probe.
	Err error
}

// FileState is what the Detector remembers about a path between checks.
type FileState struct {
	Size          int64
	ModTime       time.Time
	FirstObserved time.Time
	State         State
}

// ProbeFunc validates a file structurally without reading its rows.
type ProbeFunc func(path string) error

// Option configures a Detector.
type Option func(*Detector)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(d *Detector) { d.now = now }
}

// WithProbe replaces the default Parquet footer probe.
func WithProbe(probe ProbeFunc) Option {
	return func(d *Detector) { d.probe = probe }
}

// WithRequiredColumns sets the columns the default probe insists on.
func WithRequiredColumns(cols ...string) Option {
	return func(d *Detector) { d.required = cols }
}

// WithLogger sets the logger used for state transitions.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Detector) { d.logger = logger }
}

// Detector tracks file stability across polls.
type Detector struct {
	window   time.Duration
	now      func() time.Time
	probe    ProbeFunc
	required []string
	logger   *slog.Logger
	states   map[string]*FileState
}

// New creates a Detector with the given stability window.
func New(window time.Duration, opts ...Option) *Detector {
	d := &Detector{
		window:   window,
		now:      time.Now,
		required: source.DefaultRequired,
		states:   make(map[string]*FileState),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.logger == nil {
		d.logger = slog.Default()
	}
	if d.probe == nil {
		required := d.required
		d.probe = func(path string) error {
			_, err := source.Probe(path, required...)
			return err
		}
	}
	return d
}

// Window returns the stability window.
func (d *Detector) Window() time.Duration { return d.window }

// Check advances the state machine for path and reports whether the file
// can be read now.
func (d *Detector) Check(path string) Status {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		delete(d.states, path)
		return Status{State: StateInvalid, Reason: ReasonFileNotExists}
	}
	if info.Size() == 0 {
		delete(d.states, path)
		return Status{State: StateInvalid, Reason: ReasonEmptyFile}
	}

	now := d.now()
	st, ok := d.states[path]
	if !ok {
		d.states[path] = &FileState{
			Size:          info.Size(),
			ModTime:       info.ModTime(),
			FirstObserved: now,
			State:         StateFirstDetected,
		}
		d.logger.Debug("readiness.first_detection", "path", path, "size", info.Size())
		return Status{State: StateFirstDetected, Reason: ReasonFirstDetection}
	}

	if st.State == StateDone {
		return Status{State: StateDone, Reason: ReasonDone}
	}

	if st.Size != info.Size() || !st.ModTime.Equal(info.ModTime()) {
		st.Size = info.Size()
		st.ModTime = info.ModTime()
		st.FirstObserved = now
		st.State = StateChanging
		d.logger.Debug("readiness.changing", "path", path, "size", info.Size())
		return Status{State: StateChanging, Reason: ReasonStillChanging}
	}

	if st.State == StateReady {
		return Status{Ready: true, State: StateReady, Reason: ReasonReady}
	}

	if elapsed := now.Sub(st.FirstObserved); elapsed < d.window {
		st.State = StateStablePending
		remaining := int(math.Ceil((d.window - elapsed).Seconds()))
		return Status{State: StateStablePending, Reason: fmt.Sprintf("%s%ds", waitingPrefix, remaining)}
	}

	if err := d.probe(path); err != nil {
		st.State = StateInvalid
		reason := ReasonParseError
		if errors.Is(err, source.ErrMissingColumns) {
			reason = ReasonMissingColumns
		}
		d.logger.Warn("readiness.probe.failed", "path", path, "reason", reason, "err", err)
		return Status{State: StateInvalid, Reason: reason, Err: err}
	}

	st.State = StateReady
	d.logger.Info("readiness.ready", "path", path, "size", info.Size())
	return Status{Ready: true, State: StateReady, Reason: ReasonReady}
}

// MarkDone records that path has been fully processed. It stays DONE until
// it disappears from the directory.
func (d *Detector) MarkDone(path string) {
	if st, ok := d.states[path]; ok {
		st.State = StateDone
		return
	}
	d.states[path] = &FileState{State: StateDone, FirstObserved: d.now()}
}

// State returns the cached state for path, or StateUnseen.
func (d *Detector) State(path string) State {
	if st, ok := d.states[path]; ok {
		return st.State
	}
	return StateUnseen
}

// Tracked returns the number of paths with cached state.
func (d *Detector) Tracked() int { return len(d.states) }

// Scan checks every file in dir matching pattern and returns the ready ones
// as absolute paths in lexical order. Cached state for files that have left
// the directory is dropped afterwards.
func (d *Detector) Scan(dir, pattern string) ([]string, map[string]Status, error) {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return nil, nil, fmt.Errorf("resolve data dir: %w", err)
	}
	matches, err := filepath.Glob(filepath.Join(absDir, pattern))
	if err != nil {
		return nil, nil, fmt.Errorf("glob %q: %w", pattern, err)
	}

	var ready []string
	pending := make(map[string]Status)
	for _, path := range matches {
		st := d.Check(path)
		if st.Ready {
			ready = append(ready, path)
			continue
		}
		if st.State != StateDone && st.Reason != ReasonFileNotExists {
			pending[path] = st
		}
	}
	d.Cleanup(absDir)
	return ready, pending, nil
}

// Cleanup forgets every cached path under dir that no longer exists and
// returns how many entries were dropped.
func (d *Detector) Cleanup(dir string) int {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return 0
	}
	entries, err := os.ReadDir(absDir)
	if err != nil {
		return 0
	}
	present := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		present[filepath.Join(absDir, e.Name())] = struct{}{}
	}

	removed := 0
	for path := range d.states {
		if filepath.Dir(path) != absDir {
			continue
		}
		if _, ok := present[path]; !ok {
			delete(d.states, path)
			removed++
		}
	}
	if removed > 0 {
		d.logger.Debug("readiness.cleanup", "dir", absDir, "removed", removed)
	}
	return removed
}
