// Copyright 2026 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package validate

import (
	"testing"

	"github.com/kraklabs/stackqc/pkg/inference"
	"github.com/stretchr/testify/assert"
)

func TestValidate(t *testing.T) {
	v := New()

	tests := []struct {
		name   string
		result inference.Result
		valid  bool
		reason string
	}{
		{
			name:   "valid pair",
			result: inference.Result{Labels: []string{"__label__1", "__label__0"}, Scores: []float64{0.8, 0.2}},
			valid:  true,
		},
		{
			name:   "valid single",
			result: inference.Result{Labels: []string{"__label__0"}, Scores: []float64{0.51}},
			valid:  true,
		},
		{
			name:   "equal scores are non-increasing",
			result: inference.Result{Labels: []string{"__label__1", "__label__0"}, Scores: []float64{0.5, 0.5}},
			valid:  true,
		},
		{
			name:   "stripped labels",
			result: inference.Result{Labels: []string{"1", "0"}, Scores: []float64{0.6, 0.4}},
			valid:  true,
		},
		{
			name:   "labels not a list",
			result: inference.Result{Scores: []float64{0.5}},
			reason: ReasonNotList,
		},
		{
			name:   "scores not a list",
			result: inference.Result{Labels: []string{"__label__1"}},
			reason: ReasonNotList,
		},
		{
			name:   "length mismatch",
			result: inference.Result{Labels: []string{"__label__1", "__label__0"}, Scores: []float64{0.9}},
			reason: ReasonLengthMismatch,
		},
		{
			name:   "empty",
			result: inference.Result{Labels: []string{}, Scores: []float64{}},
			reason: ReasonEmptyPrediction,
		},
		{
			name:   "unknown label",
			result: inference.Result{Labels: []string{"__label__2"}, Scores: []float64{0.9}},
			reason: ReasonInvalidLabel,
		},
		{
			name:   "sentinel",
			result: inference.Sentinel(inference.DefaultErrorLabel),
			reason: ReasonInvalidLabel,
		},
		{
			name:   "scores ascending",
			result: inference.Result{Labels: []string{"__label__0", "__label__1"}, Scores: []float64{0.3, 0.6}},
			reason: ReasonScoresNotDescending,
		},
		{
			name:   "mismatch wins over empty",
			result: inference.Result{Labels: []string{}, Scores: []float64{0.1}},
			reason: ReasonLengthMismatch,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			valid, reason := v.Validate(&tt.result)
			assert.Equal(t, tt.valid, valid)
			assert.Equal(t, tt.reason, reason)
		})
	}
}

func TestValidate_CustomLabelSet(t *testing.T) {
	v := New("label_0", "label_1")

	valid, reason := v.Validate(&inference.Result{
		Labels: []string{"label_0", "label_1"},
		Scores: []float64{0.3, 0.6},
	})
	assert.False(t, valid)
	assert.Equal(t, ReasonScoresNotDescending, reason)

	valid, reason = v.Validate(&inference.Result{
		Labels: []string{"label_1", "label_0"},
		Scores: []float64{0.6, 0.3},
	})
	assert.True(t, valid)
	assert.Empty(t, reason)

	assert.False(t, v.Known("__label__1"))
}

func TestValidate_TooManyUniqueLabels(t *testing.T) {
	v := New("__label__0", "__label__1", "__label__2")

	valid, reason := v.Validate(&inference.Result{
		Labels: []string{"__label__2", "__label__1", "__label__0"},
		Scores: []float64{0.5, 0.3, 0.2},
	})
	assert.False(t, valid)
	assert.Equal(t, ReasonTooManyUniqueLabels, reason)

	valid, _ = v.Validate(&inference.Result{
		Labels: []string{"__label__2", "__label__2", "__label__0"},
		Scores: []float64{0.5, 0.3, 0.2},
	})
	assert.True(t, valid)
}

func TestValidate_RecoversFromPanic(t *testing.T) {
	valid, reason := New().Validate(nil)
	assert.False(t, valid)
	assert.Equal(t, ReasonException, reason)
}

// A result is valid exactly when every individual rule holds.
func TestValidate_ValidIffAllRulesHold(t *testing.T) {
	v := New()
	labels := [][]string{nil, {}, {"__label__0"}, {"__label__1", "__label__0"}, {"__label__0", "__label__x"}}
	scores := [][]float64{nil, {}, {0.7}, {0.7, 0.3}, {0.3, 0.7}}

	for _, ls := range labels {
		for _, ss := range scores {
			r := inference.Result{Labels: ls, Scores: ss}
			valid, reason := v.Validate(&r)

			want := ls != nil && ss != nil && len(ls) == len(ss) && len(ls) > 0
			for _, l := range ls {
				want = want && v.Known(l)
			}
			for i := 1; i < len(ss); i++ {
				want = want && ss[i] <= ss[i-1]
			}
			assert.Equal(t, want, valid, "labels=%v scores=%v", ls, ss)
			assert.Equal(t, valid, reason == "")
		}
	}
}
