// Copyright 2026 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package validate checks inference results before they are written out.
//
// A failed check is not an error: it produces a stable reason code that ends
// up next to the prediction in the output record, so downstream consumers can
// filter or aggregate on it.
package validate

import (
	"strings"

	"github.com/kraklabs/stackqc/pkg/inference"
)

// Reason codes, in the order the checks run.
const (
	ReasonNotList             = "invalid_format_not_list"
	ReasonLengthMismatch      = "length_mismatch"
	ReasonEmptyPrediction     = "empty_prediction"
	ReasonInvalidLabel        = "invalid_label"
	ReasonTooManyUniqueLabels = "too_many_unique_labels"
	ReasonScoresNotDescending = "scores_not_descending"
	ReasonException           = "validation_exception"
)

// LabelPrefix is the fastText label prefix. Some servers strip it.
const LabelPrefix = "__label__"

// MaxUniqueLabels is the number of distinct labels a binary classifier may return.
const MaxUniqueLabels = 2

// DefaultLabels is the known label set of the binary quality model.
var DefaultLabels = []string{"__label__0", "__label__1"}

// Validator checks results against a known label set.
type Validator struct {
	known map[string]struct{}
}

// New creates a validator. With no labels, DefaultLabels is used.
func New(known ...string) *Validator {
	if len(known) == 0 {
		known = DefaultLabels
	}
	v := &Validator{known: make(map[string]struct{}, len(known))}
	for _, l := range known {
		v.known[normalize(l)] = struct{}{}
	}
	return v
}

// Known reports whether label belongs to the known set.
func (v *Validator) Known(label string) bool {
	_, ok := v.known[normalize(label)]
	return ok
}

// Validate returns whether r is usable and, if not, the first failing check's
// reason code. It never panics.
func (v *Validator) Validate(r *inference.Result) (valid bool, reason string) {
	defer func() {
		if p := recover(); p != nil {
			valid, reason = false, ReasonException
		}
	}()

	if r.Labels == nil || r.Scores == nil {
		return false, ReasonNotList
	}
	if len(r.Labels) != len(r.Scores) {
		return false, ReasonLengthMismatch
	}
	if len(r.Labels) == 0 {
		return false, ReasonEmptyPrediction
	}

	unique := make(map[string]struct{}, len(r.Labels))
	for _, l := range r.Labels {
		if !v.Known(l) {
			return false, ReasonInvalidLabel
		}
		unique[normalize(l)] = struct{}{}
	}
	if len(unique) > MaxUniqueLabels {
		return false, ReasonTooManyUniqueLabels
	}

	for i := 1; i < len(r.Scores); i++ {
		if r.Scores[i] > r.Scores[i-1] {
			return false, ReasonScoresNotDescending
		}
	}
	return true, ""
}

func normalize(label string) string {
	return strings.TrimPrefix(strings.TrimSpace(label), LabelPrefix)
}
