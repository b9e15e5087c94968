// Package estimate derives a constant-quality RF value that lands an
// encode near a target output size, by encoding a short sample of the
// source at candidate RF values and extrapolating.
package estimate

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"media-encoder/internal/domain"
)

const (
	// samplePercent is the fraction of the source encoded per probe,
	// taken from the middle of the file.
	samplePercent = 0.05
	// rfLow and rfHigh bound the bisection. Lower RF means higher
	// quality and larger output.
	rfLow  = 18.0
	rfHigh = 40.0
	// maxIterations caps the bisection; each iteration is a real
	// sample encode.
	maxIterations = 10
	// sizeTolerance accepts extrapolated sizes within ±5% of target.
	sizeTolerance = 0.05
)

// Request describes one RF estimation run.
type Request struct {
	InputPath         string
	DurationSeconds   float64
	TargetSizeBytes   int64
	AudioBitratesKbps []int
	Preset            *domain.Preset
	VideoEncoder      string
	AudioEncoder      string
	// WorkDir hosts the temporary sample files.
	WorkDir string
}

// commandResult is an internal process execution response.
type commandResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// commandRunner abstracts process execution for testability.
type commandRunner interface {
	Run(ctx context.Context, name string, args ...string) (commandResult, error)
}

// execRunner executes commands via os/exec.
type execRunner struct{}

// Run executes one command and captures stdout/stderr and exit code.
func (r *execRunner) Run(ctx context.Context, name string, args ...string) (commandResult, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	result := commandResult{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		ExitCode: 0,
	}
	if err != nil {
		result.ExitCode = -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
		}
		return result, err
	}

	return result, nil
}

// Estimator runs the sample-extract and sample-encode loop.
type Estimator struct {
	ffmpegPath    string
	handbrakePath string
	runner        commandRunner
	fileSize      func(path string) (int64, error)
	remove        func(path string) error
}

// NewEstimator constructs the production estimator using tools on
// PATH.
func NewEstimator() *Estimator {
	return &Estimator{
		ffmpegPath:    "ffmpeg",
		handbrakePath: "HandBrakeCLI",
		runner:        &execRunner{},
		fileSize:      statSize,
		remove:        os.Remove,
	}
}

// EstimateRF returns an RF value whose extrapolated total output size
// (scaled sample video + audio budget) falls within tolerance of the
// target, or the best bisection result after maxIterations.
func (e *Estimator) EstimateRF(ctx context.Context, req Request) (float64, error) {
	if req.DurationSeconds <= 0 {
		return 0, fmt.Errorf("estimate rf: invalid duration %.3fs", req.DurationSeconds)
	}
	if req.TargetSizeBytes <= 0 {
		return 0, fmt.Errorf("estimate rf: invalid target size %d", req.TargetSizeBytes)
	}

	sampleDuration := req.DurationSeconds * samplePercent
	sampleStart := (req.DurationSeconds - sampleDuration) / 2

	samplePath := filepath.Join(req.WorkDir, "rf-sample-source.mkv")
	encodedPath := filepath.Join(req.WorkDir, "rf-sample-encoded.mkv")
	defer func() {
		_ = e.remove(samplePath)
		_ = e.remove(encodedPath)
	}()

	extractArgs := []string{
		"-y",
		"-ss", fmt.Sprintf("%.3f", sampleStart),
		"-i", req.InputPath,
		"-t", fmt.Sprintf("%.3f", sampleDuration),
		"-c", "copy",
		samplePath,
	}
	if res, err := e.runner.Run(ctx, e.ffmpegPath, extractArgs...); err != nil {
		return 0, fmt.Errorf("estimate rf: extract sample (exit=%d): %w", res.ExitCode, err)
	}

	audioBytes := 0.0
	for _, kbps := range req.AudioBitratesKbps {
		audioBytes += float64(kbps) * 1000 / 8 * req.DurationSeconds
	}

	lower, upper := rfLow, rfHigh
	rf := (lower + upper) / 2
	target := float64(req.TargetSizeBytes)

	for i := 0; i < maxIterations; i++ {
		if err := e.encodeSample(ctx, req, samplePath, encodedPath, rf); err != nil {
			return 0, err
		}

		sampleBytes, err := e.fileSize(encodedPath)
		if err != nil {
			return 0, fmt.Errorf("estimate rf: sample output missing: %w", err)
		}

		estimated := float64(sampleBytes)*(req.DurationSeconds/sampleDuration) + audioBytes
		if estimated >= target*(1-sizeTolerance) && estimated <= target*(1+sizeTolerance) {
			break
		}

		if estimated > target {
			// Too large: raise RF (lower quality).
			lower = rf
		} else {
			upper = rf
		}
		rf = (lower + upper) / 2

		_ = e.remove(encodedPath)
	}

	return math.Round(rf*100) / 100, nil
}

// encodeSample runs one HandBrakeCLI probe encode at the given RF.
func (e *Estimator) encodeSample(ctx context.Context, req Request, samplePath, encodedPath string, rf float64) error {
	args := []string{
		"-i", samplePath,
		"-o", encodedPath,
		"-q", fmt.Sprintf("%.2f", rf),
	}
	if req.Preset != nil {
		args = append(args,
			"--preset-import-file", req.Preset.Path,
			"-Z", req.Preset.Name,
		)
	} else {
		args = append(args, "--all-subtitles")
	}
	if req.VideoEncoder != "" {
		args = append(args, "-e", req.VideoEncoder)
	}
	// Samples must carry the final encode's audio settings; the audio
	// budget is added separately during extrapolation.
	if req.AudioEncoder != "" && req.AudioEncoder != "copy" {
		if len(req.AudioBitratesKbps) > 0 {
			values := make([]string, len(req.AudioBitratesKbps))
			for i, v := range req.AudioBitratesKbps {
				values[i] = strconv.Itoa(v)
			}
			args = append(args, "-B", strings.Join(values, ","))
		}
		args = append(args, "-E", req.AudioEncoder)
	}

	if res, err := e.runner.Run(ctx, e.handbrakePath, args...); err != nil {
		return fmt.Errorf("estimate rf: sample encode at RF %.2f (exit=%d): %w", rf, res.ExitCode, err)
	}
	return nil
}

// statSize returns the file size via os.Stat.
func statSize(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// NewEstimatorForTests constructs an estimator with injectable
// dependencies.
func NewEstimatorForTests(
	ffmpegPath string,
	handbrakePath string,
	runner commandRunner,
	fileSize func(string) (int64, error),
	remove func(string) error,
) *Estimator {
	return &Estimator{
		ffmpegPath:    ffmpegPath,
		handbrakePath: handbrakePath,
		runner:        runner,
		fileSize:      fileSize,
		remove:        remove,
	}
}
