// Package bitrate derives an average video bitrate from a target
// output size, the media duration, and the audio bit budget.
package bitrate

import (
	"errors"
	"fmt"
)

// ErrTargetTooSmall is returned when the target size cannot cover the
// audio tracks plus container overhead.
var ErrTargetTooSmall = errors.New("target size is smaller than the audio-only requirement")

// DefaultMinVideoKbps is the floor applied to computed bitrates when
// the calculator is constructed with a non-positive minimum.
const DefaultMinVideoKbps = 100

// Calc computes target-size video bitrates. The overhead factor and
// minimum clamp are heuristics and deliberately configurable.
type Calc struct {
	// OverheadFactor is the fraction of the total target budget
	// reserved for container overhead, in [0, 1).
	OverheadFactor float64
	// MinVideoKbps is the lowest bitrate ever returned.
	MinVideoKbps int
}

// New builds a calculator, substituting defaults for invalid values.
func New(overheadFactor float64, minVideoKbps int) Calc {
	if overheadFactor < 0 || overheadFactor >= 1 {
		overheadFactor = 0
	}
	if minVideoKbps <= 0 {
		minVideoKbps = DefaultMinVideoKbps
	}
	return Calc{OverheadFactor: overheadFactor, MinVideoKbps: minVideoKbps}
}

// ComputeVideoBitrate returns the video bitrate in kbps that fits the
// selected audio tracks and the video stream into targetSizeBytes.
//
// totalBits = targetSizeBytes*8
// audioBits = Σ(audioKbps*1000*duration)
// videoBits = totalBits − audioBits − OverheadFactor*totalBits
// kbps      = videoBits / (duration*1000)
func (c Calc) ComputeVideoBitrate(targetSizeBytes int64, durationSeconds float64, audioBitratesKbps []int) (int, error) {
	if targetSizeBytes <= 0 {
		return 0, fmt.Errorf("invalid target size: %d bytes", targetSizeBytes)
	}
	if durationSeconds <= 0 {
		return 0, fmt.Errorf("invalid duration: %.3fs", durationSeconds)
	}

	audioBits := 0.0
	for _, kbps := range audioBitratesKbps {
		if kbps < 0 {
			return 0, fmt.Errorf("invalid audio bitrate: %d kbps", kbps)
		}
		audioBits += float64(kbps) * 1000 * durationSeconds
	}

	totalBits := float64(targetSizeBytes) * 8
	videoBits := totalBits - audioBits - c.OverheadFactor*totalBits
	if videoBits <= 0 {
		return 0, fmt.Errorf("%w: target=%d bytes, audio needs %.0f bits over %.1fs",
			ErrTargetTooSmall, targetSizeBytes, audioBits, durationSeconds)
	}

	kbps := int(videoBits / (durationSeconds * 1000))
	if kbps < c.MinVideoKbps {
		kbps = c.MinVideoKbps
	}
	return kbps, nil
}

// TargetBytesFromMB converts a user-facing megabyte target to bytes.
// The original tool treated 1 MB as 2^20 bytes.
func TargetBytesFromMB(mb float64) int64 {
	return int64(mb * 1024 * 1024)
}
