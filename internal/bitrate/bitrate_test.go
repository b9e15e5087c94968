package bitrate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestComputeVideoBitrateReferenceCase checks the 700MB/1h/128kbps
// case against the closed-form math.
func TestComputeVideoBitrateReferenceCase(t *testing.T) {
	calc := New(0, 0)

	kbps, err := calc.ComputeVideoBitrate(TargetBytesFromMB(700), 3600, []int{128})
	require.NoError(t, err)

	// total = 700*2^20*8 bits, audio = 128000*3600 bits.
	budgetBits := float64(700*1024*1024*8 - 128000*3600)
	want := int(budgetBits / (3600 * 1000.0))
	assert.Equal(t, want, kbps)
	assert.Positive(t, kbps)
}

// TestComputeVideoBitrateFitsBudget verifies the implied output size
// (video + audio bits, excluding overhead) stays within the target
// for a spread of feasible inputs.
func TestComputeVideoBitrateFitsBudget(t *testing.T) {
	calc := New(0.02, 50)

	cases := []struct {
		name     string
		targetMB float64
		duration float64
		audio    []int
	}{
		{"movie single track", 1400, 7200, []int{192}},
		{"episode dual track", 350, 1800, []int{128, 256}},
		{"short clip", 25, 60, []int{96}},
		{"no audio", 100, 600, nil},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			target := TargetBytesFromMB(tc.targetMB)
			kbps, err := calc.ComputeVideoBitrate(target, tc.duration, tc.audio)
			require.NoError(t, err)
			require.Positive(t, kbps)

			videoBits := float64(kbps) * 1000 * tc.duration
			audioBits := 0.0
			for _, a := range tc.audio {
				audioBits += float64(a) * 1000 * tc.duration
			}
			assert.LessOrEqual(t, videoBits+audioBits, float64(target)*8)
		})
	}
}

// TestComputeVideoBitrateInfeasibleTarget checks the audio-only
// budget violation is an error, never a zero or negative bitrate.
func TestComputeVideoBitrateInfeasibleTarget(t *testing.T) {
	calc := New(0, 0)

	// 10MB target, one hour of 320kbps audio needs ~137MB.
	_, err := calc.ComputeVideoBitrate(TargetBytesFromMB(10), 3600, []int{320})
	require.ErrorIs(t, err, ErrTargetTooSmall)
}

// TestComputeVideoBitrateOverheadCanMakeInfeasible checks the
// overhead reservation participates in the feasibility test.
func TestComputeVideoBitrateOverheadCanMakeInfeasible(t *testing.T) {
	noOverhead := New(0, 0)
	heavyOverhead := New(0.5, 0)

	target := TargetBytesFromMB(60)
	_, err := noOverhead.ComputeVideoBitrate(target, 3600, []int{128})
	require.NoError(t, err)

	_, err = heavyOverhead.ComputeVideoBitrate(target, 3600, []int{128})
	require.ErrorIs(t, err, ErrTargetTooSmall)
}

// TestComputeVideoBitrateClampsToMinimum verifies the floor clamp.
func TestComputeVideoBitrateClampsToMinimum(t *testing.T) {
	calc := New(0, 400)

	// Feasible but tiny video budget: should clamp up to 400.
	kbps, err := calc.ComputeVideoBitrate(TargetBytesFromMB(60), 3600, []int{128})
	require.NoError(t, err)
	assert.Equal(t, 400, kbps)
}

// TestComputeVideoBitrateRejectsBadInputs covers invalid arguments.
func TestComputeVideoBitrateRejectsBadInputs(t *testing.T) {
	calc := New(0, 0)

	_, err := calc.ComputeVideoBitrate(0, 3600, []int{128})
	assert.Error(t, err)

	_, err = calc.ComputeVideoBitrate(TargetBytesFromMB(700), 0, []int{128})
	assert.Error(t, err)

	_, err = calc.ComputeVideoBitrate(TargetBytesFromMB(700), 3600, []int{-1})
	assert.Error(t, err)
}

// TestNewSubstitutesDefaults checks constructor sanitization.
func TestNewSubstitutesDefaults(t *testing.T) {
	calc := New(-0.5, -10)
	assert.Zero(t, calc.OverheadFactor)
	assert.Equal(t, DefaultMinVideoKbps, calc.MinVideoKbps)

	calc = New(1.5, 0)
	assert.Zero(t, calc.OverheadFactor)
}
