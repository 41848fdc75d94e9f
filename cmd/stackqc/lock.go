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

package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// LockFileName is the run lock inside the output directory.
const LockFileName = ".stackqc.lock"

// RunLock keeps two processors from sharing one output directory.
type RunLock struct {
	path string
	file *os.File
}

// LockInfo describes the current lock holder.
type LockInfo struct {
	PID       int       `json:"pid"`
	StartedAt time.Time `json:"started_at"`
}

// NewRunLock returns the lock for outputDir, creating the directory.
func NewRunLock(outputDir string) (*RunLock, error) {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	return &RunLock{path: filepath.Join(outputDir, LockFileName)}, nil
}

// Path returns the lock file path.
func (l *RunLock) Path() string { return l.path }

// TryAcquire takes the lock without blocking. It returns false when another
// process (or another RunLock in this process) holds it.
func (l *RunLock) TryAcquire() (bool, error) {
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return false, fmt.Errorf("open lock file: %w", err)
	}

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		_ = f.Close()
		if err == syscall.EWOULDBLOCK {
			return false, nil
		}
		return false, fmt.Errorf("flock: %w", err)
	}

	if err := f.Truncate(0); err != nil {
		l.unlock(f)
		return false, fmt.Errorf("truncate lock file: %w", err)
	}
	if _, err := fmt.Fprintf(f, "%d %d\n", os.Getpid(), time.Now().Unix()); err != nil {
		l.unlock(f)
		return false, fmt.Errorf("write lock file: %w", err)
	}

	l.file = f
	return true, nil
}

// Release clears the holder record and drops the lock.
func (l *RunLock) Release() {
	if l.file == nil {
		return
	}
	_ = l.file.Truncate(0)
	l.unlock(l.file)
	l.file = nil
}

func (l *RunLock) unlock(f *os.File) {
	_ = syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
	_ = f.Close()
}

// Info returns the recorded holder, or nil when the lock was released
// cleanly or never taken.
func (l *RunLock) Info() (*LockInfo, error) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	if strings.TrimSpace(string(data)) == "" {
		return nil, nil
	}

	var pid int
	var ts int64
	if _, err := fmt.Sscanf(string(data), "%d %d", &pid, &ts); err != nil {
		return nil, fmt.Errorf("parse lock info: %w", err)
	}
	return &LockInfo{PID: pid, StartedAt: time.Unix(ts, 0)}, nil
}

// Holder returns the live lock holder. A record left behind by a process
// that no longer exists is ignored.
func (l *RunLock) Holder() *LockInfo {
	info, err := l.Info()
	if err != nil || info == nil {
		return nil
	}
	proc, err := os.FindProcess(info.PID)
	if err != nil {
		return nil
	}
	// Signal 0 checks existence without delivering anything.
	if err := proc.Signal(syscall.Signal(0)); err != nil {
		return nil
	}
	return info
}

// FormatDuration formats d as "42s", "3m 7s" or "2h 15m".
func FormatDuration(d time.Duration) string {
	if d < time.Minute {
		return strconv.Itoa(int(d.Seconds())) + "s"
	}
	if d < time.Hour {
		return strconv.Itoa(int(d.Minutes())) + "m " + strconv.Itoa(int(d.Seconds())%60) + "s"
	}
	return strconv.Itoa(int(d.Hours())) + "h " + strconv.Itoa(int(d.Minutes())%60) + "m"
}
