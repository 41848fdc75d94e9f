// Copyright 2026 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package errors carries user-facing CLI errors for stackqc.
//
// A UserError says what went wrong, why, and how to fix it, and maps to a
// process exit code:
//
//	err := errors.NewNetworkError(
//	    "Cannot reach the inference service",
//	    "GET http://localhost:8000/health: connection refused",
//	    "Start the classifier or point api_url at a running instance",
//	    cause,
//	)
//	errors.FatalError(err, false)
//
// Rendered on a terminal:
//
//	Error: Cannot reach the inference service
//	Cause: GET http://localhost:8000/health: connection refused
//	Fix:   Start the classifier or point api_url at a running instance
//
// With --json the same error is written to stderr as
// {"error": ..., "cause": ..., "fix": ..., "exit_code": 3}.
package errors

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
)

// Exit codes.
const (
	ExitSuccess = 0
	// ExitConfig is a missing, unreadable or invalid configuration.
	ExitConfig = 1
	// ExitCheckpoint is a checkpoint store that cannot be read or written.
	ExitCheckpoint = 2
	// ExitNetwork is an unreachable or unhealthy inference service or redis.
	ExitNetwork = 3
	// ExitInput is a bad command line.
	ExitInput = 4
	// ExitPermission is a directory that cannot be created or written.
	ExitPermission = 5
	// ExitNotFound is a missing data directory or checkpoint.
	ExitNotFound = 6
	// ExitLocked means another processor holds the output directory.
	ExitLocked = 7
	// ExitInternal signals a bug.
	ExitInternal = 10
)

// UserError is an error with a message, a cause and a suggested fix.
type UserError struct {
	Message  string
	Cause    string
	Fix      string
	ExitCode int
	// Err is the wrapped error, if any.
	Err error
}

func (e *UserError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *UserError) Unwrap() error { return e.Err }

func newUserError(code int, msg, cause, fix string, err error) *UserError {
	return &UserError{Message: msg, Cause: cause, Fix: fix, ExitCode: code, Err: err}
}

// NewConfigError reports a configuration problem.
func NewConfigError(msg, cause, fix string, err error) *UserError {
	return newUserError(ExitConfig, msg, cause, fix, err)
}

// NewCheckpointError reports a checkpoint store failure.
func NewCheckpointError(msg, cause, fix string, err error) *UserError {
	return newUserError(ExitCheckpoint, msg, cause, fix, err)
}

// NewNetworkError reports an unreachable remote dependency.
func NewNetworkError(msg, cause, fix string, err error) *UserError {
	return newUserError(ExitNetwork, msg, cause, fix, err)
}

// NewInputError reports invalid arguments. It never wraps an error.
func NewInputError(msg, cause, fix string) *UserError {
	return newUserError(ExitInput, msg, cause, fix, nil)
}

// NewPermissionError reports a filesystem permission failure.
func NewPermissionError(msg, cause, fix string, err error) *UserError {
	return newUserError(ExitPermission, msg, cause, fix, err)
}

// NewNotFoundError reports a missing resource. It never wraps an error.
func NewNotFoundError(msg, cause, fix string) *UserError {
	return newUserError(ExitNotFound, msg, cause, fix, nil)
}

// NewLockedError reports that another processor owns the output directory.
func NewLockedError(msg, cause, fix string) *UserError {
	return newUserError(ExitLocked, msg, cause, fix, nil)
}

// NewInternalError reports an unexpected failure.
func NewInternalError(msg, cause, fix string, err error) *UserError {
	return newUserError(ExitInternal, msg, cause, fix, err)
}

var (
	colorError = color.New(color.FgRed, color.Bold)
	colorCause = color.New(color.FgYellow)
	colorFix   = color.New(color.FgGreen)
)

// Format renders the error for a terminal. Empty Cause and Fix lines are
// omitted. NO_COLOR and noColor both disable color.
func (e *UserError) Format(noColor bool) string {
	originalNoColor := color.NoColor
	defer func() { color.NoColor = originalNoColor }()
	if noColor || os.Getenv("NO_COLOR") != "" {
		color.NoColor = true
	}

	var out strings.Builder
	out.WriteString(colorError.Sprint("Error: "))
	out.WriteString(e.Message)
	out.WriteString("\n")
	if e.Cause != "" {
		out.WriteString(colorCause.Sprint("Cause: "))
		out.WriteString(e.Cause)
		out.WriteString("\n")
	}
	if e.Fix != "" {
		out.WriteString(colorFix.Sprint("Fix:   "))
		out.WriteString(e.Fix)
		out.WriteString("\n")
	}
	return out.String()
}

// ErrorJSON is the --json form of a UserError.
type ErrorJSON struct {
	Error    string `json:"error"`
	Cause    string `json:"cause,omitempty"`
	Fix      string `json:"fix,omitempty"`
	ExitCode int    `json:"exit_code"`
}

// ToJSON converts the error to its --json form.
func (e *UserError) ToJSON() ErrorJSON {
	return ErrorJSON{Error: e.Message, Cause: e.Cause, Fix: e.Fix, ExitCode: e.ExitCode}
}

// ExitCode returns the exit code carried by err. Errors that are not a
// UserError map to ExitInternal; nil maps to ExitSuccess.
func ExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var ue *UserError
	if stderrors.As(err, &ue) {
		return ue.ExitCode
	}
	return ExitInternal
}

// Write renders err to w and returns the exit code to use.
func Write(w io.Writer, err error, jsonOutput bool) int {
	if err == nil {
		return ExitSuccess
	}
	var ue *UserError
	if !stderrors.As(err, &ue) {
		if jsonOutput {
			_ = json.NewEncoder(w).Encode(ErrorJSON{Error: err.Error(), ExitCode: ExitInternal})
		} else {
			fmt.Fprintf(w, "Error: %v\n", err)
		}
		return ExitInternal
	}

	if jsonOutput {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		_ = enc.Encode(ue.ToJSON())
	} else {
		fmt.Fprint(w, ue.Format(false))
	}
	return ue.ExitCode
}

// FatalError writes err to stderr and exits with its code. It returns
// without exiting when err is nil.
func FatalError(err error, jsonOutput bool) {
	if err == nil {
		return
	}
	os.Exit(Write(os.Stderr, err, jsonOutput))
}
