package handbrake

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	goruntime "runtime"
	"strings"
	"sync"

	"media-encoder/internal/domain"
)

// stderrTailLines bounds how much stderr is kept for failure reports.
const stderrTailLines = 40

// LaunchError reports that the encoder binary could not be started.
type LaunchError struct {
	Tool string
	Err  error
}

// Error formats the launch failure.
func (e *LaunchError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("launch %s: %v", e.Tool, e.Err)
}

// Unwrap exposes the underlying error for errors.Is / errors.As.
func (e *LaunchError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// ExitError reports a nonzero encoder exit with captured stderr.
type ExitError struct {
	ExitCode int
	Stderr   string
}

// Error formats the exit failure.
func (e *ExitError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("encoder exited with code %d", e.ExitCode)
}

// RunRequest describes one supervised encoder invocation.
type RunRequest struct {
	Args     []string
	Priority domain.Priority

	// OnProgress receives percent-complete updates as they are
	// parsed from the live output stream.
	OnProgress func(percent float64)
	// OnOutput receives every output line for display/logging.
	OnOutput func(line string)
}

// Runner spawns HandBrakeCLI and streams its progress output without
// waiting for process exit. One Run call supervises one process.
type Runner struct {
	binary string
}

// NewRunner uses the HandBrakeCLI binary found on PATH.
func NewRunner() *Runner {
	return &Runner{binary: "HandBrakeCLI"}
}

// NewRunnerWithBinary overrides the encoder binary (tests, portable
// installs).
func NewRunnerWithBinary(binary string) *Runner {
	return &Runner{binary: binary}
}

// Run launches the encoder and blocks until it exits or ctx is
// cancelled. Progress lines are surfaced incrementally from a
// dedicated reader; cancellation terminates the process immediately.
func (r *Runner) Run(ctx context.Context, req RunRequest) error {
	name, argv := withPriority(r.binary, req.Args, req.Priority)
	cmd := exec.CommandContext(ctx, name, argv...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return &LaunchError{Tool: r.binary, Err: err}
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return &LaunchError{Tool: r.binary, Err: err}
	}

	if err := cmd.Start(); err != nil {
		return &LaunchError{Tool: r.binary, Err: err}
	}

	var wg sync.WaitGroup
	var tail []string
	var tailMu sync.Mutex

	wg.Add(2)
	go func() {
		defer wg.Done()
		scanner := bufio.NewScanner(stdout)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		scanner.Split(scanProgressLines)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}
			if req.OnOutput != nil {
				req.OnOutput(line)
			}
			if percent, ok := ParseProgress(line); ok && req.OnProgress != nil {
				req.OnProgress(percent)
			}
		}
	}()
	go func() {
		defer wg.Done()
		scanner := bufio.NewScanner(stderr)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := scanner.Text()
			tailMu.Lock()
			tail = append(tail, line)
			if len(tail) > stderrTailLines {
				tail = tail[1:]
			}
			tailMu.Unlock()
		}
	}()

	wg.Wait()
	err = cmd.Wait()

	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			tailMu.Lock()
			captured := strings.Join(tail, "\n")
			tailMu.Unlock()
			return &ExitError{ExitCode: exitErr.ExitCode(), Stderr: captured}
		}
		return &LaunchError{Tool: r.binary, Err: err}
	}
	return nil
}

// withPriority prepends a nice prefix on Unix-like systems. Windows
// spawns at default priority.
func withPriority(binary string, args []string, priority domain.Priority) (string, []string) {
	if goruntime.GOOS == "windows" {
		return binary, args
	}

	var niceValue string
	switch priority {
	case domain.PriorityBelowNormal:
		niceValue = "10"
	case domain.PriorityLow:
		niceValue = "19"
	default:
		return binary, args
	}

	return "nice", append([]string{"-n", niceValue, binary}, args...)
}

// scanProgressLines splits on \n and also on the bare \r HandBrakeCLI
// uses to redraw its in-place progress line.
func scanProgressLines(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		return i + 1, data[:i], nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}
