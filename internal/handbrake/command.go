// Package handbrake builds HandBrakeCLI invocations and supervises
// the encoder process, streaming its progress output.
package handbrake

import (
	"fmt"
	"strconv"
	"strings"

	"media-encoder/internal/domain"
)

// ConfigError reports an invalid or ambiguous encode configuration.
type ConfigError struct {
	Message string
}

// Error returns the configuration problem description.
func (e *ConfigError) Error() string {
	if e == nil {
		return ""
	}
	return "config: " + e.Message
}

// Overrides are user-selected settings layered on top of the preset.
// Flags appended after -Z win inside HandBrakeCLI, which is how an
// override beats a preset value for the same setting.
type Overrides struct {
	VideoEncoder string
	AudioEncoder string
	MultiPass    bool
}

// hardwareEncoders never honor multi-pass; the flag is omitted for
// them entirely.
var hardwareEncoders = map[string]bool{
	"nvenc_h264":       true,
	"nvenc_h265":       true,
	"nvenc_h265_10bit": true,
	"vt_h264":          true,
	"vt_h265":          true,
	"vt_h265_10bit":    true,
}

// IsHardwareEncoder reports whether the encoder runs on dedicated
// hardware rather than the CPU.
func IsHardwareEncoder(name string) bool {
	return hardwareEncoders[name]
}

// ParseAudioBitrates parses a comma-separated kbps list such as
// "128,256". An empty spec yields nil; malformed values are a
// ConfigError.
func ParseAudioBitrates(spec string) ([]int, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return nil, nil
	}

	parts := strings.Split(spec, ",")
	out := make([]int, 0, len(parts))
	for _, part := range parts {
		v, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil || v <= 0 {
			return nil, &ConfigError{
				Message: fmt.Sprintf("invalid audio bitrate value %q in %q", strings.TrimSpace(part), spec),
			}
		}
		out = append(out, v)
	}
	return out, nil
}

// BuildArgs maps a job, an optional preset, and user overrides to the
// ordered HandBrakeCLI argument list. Pure and deterministic.
func BuildArgs(job domain.EncodeJob, preset *domain.Preset, o Overrides) ([]string, error) {
	selected, err := selectedBitrates(job)
	if err != nil {
		return nil, err
	}

	args := []string{
		"-i", job.SourcePath,
		"-o", job.OutputPath,
	}

	if preset != nil {
		args = append(args,
			"--preset-import-file", preset.Path,
			"-Z", preset.Name,
		)
	}

	switch job.Mode {
	case domain.EncodeModeQuality:
		args = append(args, "-q", strconv.FormatFloat(job.Quality, 'f', 2, 64))
	case domain.EncodeModeBitrate:
		args = append(args, "-b", strconv.Itoa(job.VideoBitrateKbps))
		if !IsHardwareEncoder(o.VideoEncoder) {
			if o.MultiPass {
				args = append(args, "--multi-pass")
			} else {
				args = append(args, "--no-multi-pass")
			}
		}
	default:
		return nil, &ConfigError{Message: fmt.Sprintf("unknown encode mode %q", job.Mode)}
	}

	// Without a preset there is nothing selecting subtitles, so keep
	// them all.
	if preset == nil {
		args = append(args, "--all-subtitles")
	}

	if enc := strings.TrimSpace(o.VideoEncoder); enc != "" {
		args = append(args, "-e", enc)
	}

	if len(job.AudioTracks) > 0 {
		oneBased := make([]string, len(job.AudioTracks))
		for i, idx := range job.AudioTracks {
			oneBased[i] = strconv.Itoa(idx + 1)
		}
		args = append(args, "-a", strings.Join(oneBased, ","))
	}

	audioEncoder := strings.TrimSpace(o.AudioEncoder)
	if len(selected) > 0 && audioEncoder != "" && audioEncoder != "copy" {
		values := make([]string, len(selected))
		for i, v := range selected {
			values[i] = strconv.Itoa(v)
		}
		args = append(args, "-B", strings.Join(values, ","))
	}

	if audioEncoder != "" {
		args = append(args, "-E", audioEncoder)
	}

	return args, nil
}

// selectedBitrates validates the per-track bitrate assignment. With
// several selected tracks the bitrate count must match exactly; a
// single selected track takes the first value.
func selectedBitrates(job domain.EncodeJob) ([]int, error) {
	bitrates := job.AudioBitratesKbps
	tracks := job.AudioTracks

	if len(bitrates) == 0 || len(tracks) == 0 {
		return nil, nil
	}
	if len(tracks) > 1 && len(bitrates) != len(tracks) {
		return nil, &ConfigError{
			Message: fmt.Sprintf("%d audio bitrate value(s) for %d selected track(s): assignment is ambiguous",
				len(bitrates), len(tracks)),
		}
	}
	if len(tracks) == 1 {
		return bitrates[:1], nil
	}
	return bitrates, nil
}
