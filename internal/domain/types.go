package domain

// JobStatus tracks the lifecycle state of one batch encode job.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusSucceeded JobStatus = "succeeded"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// Terminal reports whether a status admits no further transitions.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusSucceeded, JobStatusFailed, JobStatusCancelled:
		return true
	default:
		return false
	}
}

// EncodeMode selects how the video rate parameter is derived.
type EncodeMode string

const (
	// EncodeModeBitrate computes an average video bitrate from the
	// target size and passes it via HandBrakeCLI -b.
	EncodeModeBitrate EncodeMode = "bitrate"
	// EncodeModeQuality passes a constant-quality RF value via -q.
	EncodeModeQuality EncodeMode = "quality"
)

// Priority is the OS scheduling priority applied to encoder processes.
type Priority string

const (
	PriorityNormal      Priority = "normal"
	PriorityBelowNormal Priority = "below-normal"
	PriorityLow         Priority = "low"
)

// EncodeJob is one file's encode request and its lifecycle state.
type EncodeJob struct {
	ID              string     `json:"id"`
	SourcePath      string     `json:"sourcePath"`
	OutputPath      string     `json:"outputPath"`
	TargetSizeBytes int64      `json:"targetSizeBytes"`
	Mode            EncodeMode `json:"mode"`

	// VideoBitrateKbps is filled by the runner in bitrate mode;
	// Quality is the RF value used in quality mode.
	VideoBitrateKbps int     `json:"videoBitrateKbps,omitempty"`
	Quality          float64 `json:"quality,omitempty"`

	// AudioTracks holds 0-based probe indices of the selected audio
	// tracks in selection order; AudioBitratesKbps is order-matched.
	AudioTracks       []int `json:"audioTracks"`
	AudioBitratesKbps []int `json:"audioBitratesKbps"`

	DurationSeconds float64   `json:"durationSeconds"`
	PresetName      string    `json:"presetName,omitempty"`
	Priority        Priority  `json:"priority"`
	DeleteSource    bool      `json:"deleteSource"`
	Status          JobStatus `json:"status"`
	Progress        float64   `json:"progress"`
	Error           string    `json:"error,omitempty"`
}

// Settings contains user-selectable runtime configuration.
type Settings struct {
	DestinationDir    string   `json:"destinationDir"`
	PresetDir         string   `json:"presetDir"`
	TargetSizeMB      float64  `json:"targetSizeMB"`
	AudioBitrates     string   `json:"audioBitrates"` // comma-separated kbps, e.g. "128,256"
	VideoEncoder      string   `json:"videoEncoder"`
	AudioEncoder      string   `json:"audioEncoder"`
	ProcessPriority   Priority `json:"processPriority"`
	VariableBitrate   bool     `json:"variableBitrate"`
	MultiPass         bool     `json:"multiPass"`
	DeleteSource      bool     `json:"deleteSource"`
	PerFileOutputOnly bool     `json:"perFileOutputOnly"`
	MaxConcurrent     int      `json:"maxConcurrent"`
	ContainerOverhead float64  `json:"containerOverhead"`
	MinVideoKbps      int      `json:"minVideoKbps"`
}
