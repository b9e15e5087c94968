package estimate

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedRunner records invocations and fails on demand.
type scriptedRunner struct {
	calls   [][]string
	failOn  string
	failErr error
}

func (s *scriptedRunner) Run(_ context.Context, name string, args ...string) (commandResult, error) {
	s.calls = append(s.calls, append([]string{name}, args...))
	if s.failOn != "" && name == s.failOn {
		return commandResult{ExitCode: 1, Stderr: "boom"}, s.failErr
	}
	return commandResult{}, nil
}

// sampleSizer converts the RF passed on the last encode into a fake
// sample size: higher RF yields smaller output, mimicking a real
// encoder's monotonic behavior.
func sampleSizer(runner *scriptedRunner, duration float64) func(string) (int64, error) {
	return func(string) (int64, error) {
		last := runner.calls[len(runner.calls)-1]
		rf := 0.0
		for i, a := range last {
			if a == "-q" && i+1 < len(last) {
				rf, _ = strconv.ParseFloat(last[i+1], 64)
			}
		}
		// Full-size video bytes shrink linearly from 900MB at RF 18
		// to 100MB at RF 40; the sample is 5% of that.
		fullBytes := (900 - (rf-18)/(40-18)*800) * 1024 * 1024
		return int64(fullBytes * samplePercent), nil
	}
}

// TestEstimateRFConverges verifies bisection lands inside the ±5%
// window for a reachable target.
func TestEstimateRFConverges(t *testing.T) {
	runner := &scriptedRunner{}
	duration := 3600.0
	e := NewEstimatorForTests("ffmpeg", "HandBrakeCLI", runner, sampleSizer(runner, duration), func(string) error { return nil })

	rf, err := e.EstimateRF(context.Background(), Request{
		InputPath:         "/in/movie.mkv",
		DurationSeconds:   duration,
		TargetSizeBytes:   500 * 1024 * 1024,
		AudioBitratesKbps: []int{128},
		WorkDir:           t.TempDir(),
	})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, rf, rfLow)
	assert.LessOrEqual(t, rf, rfHigh)

	// First call extracts the sample with ffmpeg stream copy.
	require.NotEmpty(t, runner.calls)
	first := runner.calls[0]
	assert.Equal(t, "ffmpeg", first[0])
	assert.Contains(t, strings.Join(first, " "), "-c copy")

	// At least one HandBrakeCLI sample encode followed.
	encodes := 0
	for _, call := range runner.calls[1:] {
		if call[0] == "HandBrakeCLI" {
			encodes++
		}
	}
	assert.Greater(t, encodes, 0)
	assert.LessOrEqual(t, encodes, maxIterations)
}

// TestEstimateRFSampleWindow checks the extracted sample is 5% of the
// duration starting at the middle.
func TestEstimateRFSampleWindow(t *testing.T) {
	runner := &scriptedRunner{}
	e := NewEstimatorForTests("ffmpeg", "HandBrakeCLI", runner, sampleSizer(runner, 1000), func(string) error { return nil })

	_, err := e.EstimateRF(context.Background(), Request{
		InputPath:       "/in/clip.mkv",
		DurationSeconds: 1000,
		TargetSizeBytes: 400 * 1024 * 1024,
		WorkDir:         t.TempDir(),
	})
	require.NoError(t, err)

	joined := strings.Join(runner.calls[0], " ")
	assert.Contains(t, joined, "-ss 475.000")
	assert.Contains(t, joined, "-t 50.000")
}

// TestEstimateRFSampleCarriesAudioSettings checks sample encodes apply
// the configured audio encoder and per-track bitrates, so sample sizes
// reflect what the final encode would produce.
func TestEstimateRFSampleCarriesAudioSettings(t *testing.T) {
	runner := &scriptedRunner{}
	e := NewEstimatorForTests("ffmpeg", "HandBrakeCLI", runner, sampleSizer(runner, 3600), func(string) error { return nil })

	_, err := e.EstimateRF(context.Background(), Request{
		InputPath:         "/in/movie.mkv",
		DurationSeconds:   3600,
		TargetSizeBytes:   500 * 1024 * 1024,
		AudioBitratesKbps: []int{128, 256},
		AudioEncoder:      "av_aac",
		WorkDir:           t.TempDir(),
	})
	require.NoError(t, err)

	var encode []string
	for _, call := range runner.calls {
		if call[0] == "HandBrakeCLI" {
			encode = call
			break
		}
	}
	require.NotNil(t, encode)
	joined := strings.Join(encode, " ")
	assert.Contains(t, joined, "-B 128,256")
	assert.Contains(t, joined, "-E av_aac")
}

// TestEstimateRFSampleCopyAudioOmitsBitrates checks copy-mode audio
// never gets -B on sample encodes.
func TestEstimateRFSampleCopyAudioOmitsBitrates(t *testing.T) {
	runner := &scriptedRunner{}
	e := NewEstimatorForTests("ffmpeg", "HandBrakeCLI", runner, sampleSizer(runner, 3600), func(string) error { return nil })

	_, err := e.EstimateRF(context.Background(), Request{
		InputPath:         "/in/movie.mkv",
		DurationSeconds:   3600,
		TargetSizeBytes:   500 * 1024 * 1024,
		AudioBitratesKbps: []int{128},
		AudioEncoder:      "copy",
		WorkDir:           t.TempDir(),
	})
	require.NoError(t, err)

	for _, call := range runner.calls {
		if call[0] == "HandBrakeCLI" {
			assert.NotContains(t, call, "-B")
		}
	}
}

// TestEstimateRFExtractionFailure checks ffmpeg failures stop the run.
func TestEstimateRFExtractionFailure(t *testing.T) {
	runner := &scriptedRunner{failOn: "ffmpeg", failErr: errors.New("exit status 1")}
	e := NewEstimatorForTests("ffmpeg", "HandBrakeCLI", runner, func(string) (int64, error) { return 0, nil }, func(string) error { return nil })

	_, err := e.EstimateRF(context.Background(), Request{
		InputPath:       "/in/clip.mkv",
		DurationSeconds: 1000,
		TargetSizeBytes: 1 << 20,
		WorkDir:         t.TempDir(),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "extract sample")
}

// TestEstimateRFRejectsBadInputs covers argument validation.
func TestEstimateRFRejectsBadInputs(t *testing.T) {
	e := NewEstimatorForTests("ffmpeg", "HandBrakeCLI", &scriptedRunner{}, nil, func(string) error { return nil })

	_, err := e.EstimateRF(context.Background(), Request{DurationSeconds: 0, TargetSizeBytes: 1})
	assert.Error(t, err)

	_, err = e.EstimateRF(context.Background(), Request{DurationSeconds: 10, TargetSizeBytes: 0})
	assert.Error(t, err)
}
