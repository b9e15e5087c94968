package config

import (
	"os"
	"path/filepath"

	"media-encoder/internal/bitrate"
	"media-encoder/internal/domain"
)

// DefaultSettings returns baseline local configuration for first launch.
func DefaultSettings() domain.Settings {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		homeDir = "."
	}

	return domain.Settings{
		DestinationDir:    filepath.Join(homeDir, "Videos", "Encoded"),
		PresetDir:         filepath.Join(homeDir, ".media-encoder", "presets"),
		TargetSizeMB:      700,
		AudioBitrates:     "160",
		VideoEncoder:      "x265",
		AudioEncoder:      "av_aac",
		ProcessPriority:   domain.PriorityNormal,
		VariableBitrate:   false,
		MultiPass:         false,
		DeleteSource:      false,
		PerFileOutputOnly: false,
		MaxConcurrent:     1,
		ContainerOverhead: 0,
		MinVideoKbps:      bitrate.DefaultMinVideoKbps,
	}
}

// DefaultDatabasePath places the settings database under the user's
// config directory, next to the preset directory.
func DefaultDatabasePath() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		homeDir = "."
	}
	return filepath.Join(homeDir, ".media-encoder", "settings.db")
}
