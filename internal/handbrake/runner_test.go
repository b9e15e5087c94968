package handbrake

import (
	"context"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"media-encoder/internal/domain"
)

// shRunner builds a runner that executes a shell script instead of
// the real encoder binary.
func shRunner(t *testing.T) *Runner {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell-backed runner tests require a POSIX shell")
	}
	return NewRunnerWithBinary("sh")
}

// TestRunnerStreamsProgress verifies progress markers are surfaced
// incrementally, including carriage-return separated updates.
func TestRunnerStreamsProgress(t *testing.T) {
	r := shRunner(t)

	var got []float64
	err := r.Run(context.Background(), RunRequest{
		Args: []string{"-c", `printf 'Encoding: task 1 of 1, 12.50 %%\rEncoding: task 1 of 1, 75.00 %%\n'`},
		OnProgress: func(p float64) {
			got = append(got, p)
		},
	})
	require.NoError(t, err)
	assert.Equal(t, []float64{12.5, 75}, got)
}

// TestRunnerSkipsUnparseableLines checks drift tolerance: unknown
// lines reach OnOutput but never OnProgress.
func TestRunnerSkipsUnparseableLines(t *testing.T) {
	r := shRunner(t)

	var lines []string
	var progress []float64
	err := r.Run(context.Background(), RunRequest{
		Args: []string{"-c", `printf 'Muxing: this may take awhile...\nEncoding: task 1 of 1, 50.00 %%\n'`},
		OnOutput: func(line string) {
			lines = append(lines, line)
		},
		OnProgress: func(p float64) {
			progress = append(progress, p)
		},
	})
	require.NoError(t, err)
	assert.Len(t, lines, 2)
	assert.Equal(t, []float64{50}, progress)
}

// TestRunnerReportsExitError checks nonzero exits carry stderr text.
func TestRunnerReportsExitError(t *testing.T) {
	r := shRunner(t)

	err := r.Run(context.Background(), RunRequest{
		Args: []string{"-c", `echo 'No title found.' >&2; exit 3`},
	})
	var exitErr *ExitError
	require.ErrorAs(t, err, &exitErr)
	assert.Equal(t, 3, exitErr.ExitCode)
	assert.Contains(t, exitErr.Stderr, "No title found.")
}

// TestRunnerReportsLaunchError checks a missing binary is a
// LaunchError, not an ExitError.
func TestRunnerReportsLaunchError(t *testing.T) {
	r := NewRunnerWithBinary("definitely-not-a-real-encoder-binary")

	err := r.Run(context.Background(), RunRequest{Args: []string{"-h"}})
	var launchErr *LaunchError
	require.ErrorAs(t, err, &launchErr)
}

// TestRunnerCancellation checks context cancellation terminates the
// process and reports the context error.
func TestRunnerCancellation(t *testing.T) {
	r := shRunner(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- r.Run(ctx, RunRequest{Args: []string{"-c", "sleep 30"}})
	}()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("runner did not stop after cancellation")
	}
}

// TestWithPriorityPrefix checks the nice prefix mapping.
func TestWithPriorityPrefix(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("priority prefix is Unix-only")
	}

	name, args := withPriority("HandBrakeCLI", []string{"-i", "a"}, domain.PriorityLow)
	assert.Equal(t, "nice", name)
	assert.Equal(t, []string{"-n", "19", "HandBrakeCLI", "-i", "a"}, args)

	name, args = withPriority("HandBrakeCLI", []string{"-i", "a"}, domain.PriorityBelowNormal)
	assert.Equal(t, "nice", name)
	assert.Equal(t, "10", args[1])

	name, _ = withPriority("HandBrakeCLI", nil, domain.PriorityNormal)
	assert.Equal(t, "HandBrakeCLI", name)
}
