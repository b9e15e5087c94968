// Package probe wraps the external mediainfo and mkvpropedit tools
// and exposes probed media metadata as flat structures.
package probe

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"media-encoder/internal/domain"
)

// ProbeError reports an unreadable or unparseable media file.
type ProbeError struct {
	Path    string
	Message string
	Err     error
}

// Error formats probe failures with the offending file path.
func (e *ProbeError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("probe %s: %s", e.Path, e.Message)
}

// Unwrap exposes the underlying error for errors.Is / errors.As.
func (e *ProbeError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
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

// Prober inspects media files through mediainfo and refreshes stale
// container statistics through mkvpropedit.
type Prober struct {
	mediainfoPath   string
	mkvpropeditPath string
	runner          commandRunner
}

// NewProber constructs the production prober using tools on PATH.
func NewProber() *Prober {
	return &Prober{
		mediainfoPath:   "mediainfo",
		mkvpropeditPath: "mkvpropedit",
		runner:          &execRunner{},
	}
}

// miReport mirrors the subset of mediainfo --Output=JSON we consume.
type miReport struct {
	Media struct {
		Track []miTrack `json:"track"`
	} `json:"media"`
}

// miTrack is one mediainfo track record; all values arrive as strings.
type miTrack struct {
	Type           string `json:"@type"`
	Format         string `json:"Format"`
	Duration       string `json:"Duration"`
	BitRate        string `json:"BitRate"`
	Channels       string `json:"Channels"`
	Language       string `json:"Language"`
	LanguageString string `json:"Language/String"`
	Title          string `json:"Title"`
	FileSize       string `json:"FileSize"`
}

// Probe runs mediainfo on path and returns the parsed stream list.
func (p *Prober) Probe(ctx context.Context, path string) (domain.MediaInfo, error) {
	res, err := p.runner.Run(ctx, p.mediainfoPath, "--Output=JSON", path)
	if err != nil {
		return domain.MediaInfo{}, &ProbeError{
			Path:    path,
			Message: fmt.Sprintf("mediainfo failed (exit=%d): %s", res.ExitCode, strings.TrimSpace(res.Stderr)),
			Err:     err,
		}
	}

	var report miReport
	if err := json.Unmarshal([]byte(res.Stdout), &report); err != nil {
		return domain.MediaInfo{}, &ProbeError{
			Path:    path,
			Message: "mediainfo output is not valid JSON",
			Err:     err,
		}
	}

	info := domain.MediaInfo{Path: path}
	haveGeneral := false
	audioIdx, videoIdx, subIdx := 0, 0, 0
	for _, t := range report.Media.Track {
		switch t.Type {
		case "General":
			haveGeneral = true
			info.DurationSeconds = parseFloat(t.Duration)
			info.SizeBytes = int64(parseFloat(t.FileSize))
		case "Video":
			info.Tracks = append(info.Tracks, domain.MediaTrack{
				Index:       videoIdx,
				Kind:        domain.TrackKindVideo,
				Codec:       t.Format,
				BitrateKbps: bpsToKbps(t.BitRate),
			})
			videoIdx++
		case "Audio":
			info.Tracks = append(info.Tracks, domain.MediaTrack{
				Index:       audioIdx,
				Kind:        domain.TrackKindAudio,
				Codec:       t.Format,
				Language:    firstNonEmpty(t.LanguageString, t.Language),
				Title:       strings.TrimSpace(t.Title),
				Channels:    int(parseFloat(t.Channels)),
				BitrateKbps: bpsToKbps(t.BitRate),
			})
			audioIdx++
		case "Text":
			info.Tracks = append(info.Tracks, domain.MediaTrack{
				Index:    subIdx,
				Kind:     domain.TrackKindSubtitle,
				Codec:    t.Format,
				Language: firstNonEmpty(t.LanguageString, t.Language),
			})
			subIdx++
		}
	}

	if !haveGeneral {
		return domain.MediaInfo{}, &ProbeError{
			Path:    path,
			Message: "mediainfo output has no General track",
		}
	}
	if info.DurationSeconds <= 0 {
		return domain.MediaInfo{}, &ProbeError{
			Path:    path,
			Message: "media duration is missing or zero",
		}
	}

	return info, nil
}

// RefreshStatistics rewrites track statistics tags with mkvpropedit.
// The tool is run twice: the first pass computes statistics that only
// land consistently after a second write.
func (p *Prober) RefreshStatistics(ctx context.Context, path string) error {
	for pass := 0; pass < 2; pass++ {
		res, err := p.runner.Run(ctx, p.mkvpropeditPath, path, "--add-track-statistics-tags")
		if err != nil {
			return &ProbeError{
				Path:    path,
				Message: fmt.Sprintf("mkvpropedit failed (exit=%d): %s", res.ExitCode, strings.TrimSpace(res.Stderr)),
				Err:     err,
			}
		}
	}
	return nil
}

// EnsureStatistics probes path and, when bitrate metadata is missing,
// refreshes statistics and re-probes. Up to two refresh attempts.
func (p *Prober) EnsureStatistics(ctx context.Context, path string) (domain.MediaInfo, error) {
	info, err := p.Probe(ctx, path)
	if err != nil {
		return domain.MediaInfo{}, err
	}

	for attempt := 0; attempt < 2 && info.MissingBitrates(); attempt++ {
		if err := p.RefreshStatistics(ctx, path); err != nil {
			return info, err
		}
		info, err = p.Probe(ctx, path)
		if err != nil {
			return domain.MediaInfo{}, err
		}
	}
	return info, nil
}

// parseFloat converts mediainfo's string numbers; "N/A" and malformed
// values collapse to zero.
func parseFloat(s string) float64 {
	s = strings.TrimSpace(s)
	if s == "" || strings.EqualFold(s, "n/a") {
		return 0
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return v
}

// bpsToKbps converts a bits-per-second string to whole kbps.
func bpsToKbps(s string) int {
	return int(parseFloat(s) / 1000)
}

// firstNonEmpty returns the first non-blank candidate.
func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

// NewProberForTests constructs a prober with injectable dependencies.
func NewProberForTests(mediainfoPath, mkvpropeditPath string, runner commandRunner) *Prober {
	return &Prober{
		mediainfoPath:   mediainfoPath,
		mkvpropeditPath: mkvpropeditPath,
		runner:          runner,
	}
}
