// Package diagnostics runs startup checks for external tools and
// configured directories.
package diagnostics

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"media-encoder/internal/domain"
)

// Checker validates external tools and required filesystem paths.
type Checker struct {
	lookPath   func(string) (string, error)
	stat       func(string) (os.FileInfo, error)
	readDir    func(string) ([]os.DirEntry, error)
	mkdirAll   func(string, os.FileMode) error
	createTemp func(string, string) (*os.File, error)
	remove     func(string) error
}

// NewChecker builds a checker using real OS dependencies.
func NewChecker() *Checker {
	return &Checker{
		lookPath:   exec.LookPath,
		stat:       os.Stat,
		readDir:    os.ReadDir,
		mkdirAll:   os.MkdirAll,
		createTemp: os.CreateTemp,
		remove:     os.Remove,
	}
}

// Run executes all startup checks and returns a combined report.
// HandBrakeCLI and mediainfo are mandatory; mkvpropedit and ffmpeg
// only degrade optional features, so their absence is a warning.
func (c *Checker) Run(settings domain.Settings) domain.DiagnosticReport {
	items := []domain.DiagnosticItem{
		c.checkTool("HandBrakeCLI", true, "Encoding cannot run without HandBrakeCLI."),
		c.checkTool("mediainfo", true, "Media files cannot be inspected without MediaInfo."),
		c.checkTool("mkvpropedit", false, "Track statistics refresh for MKV files will be skipped."),
		c.checkTool("ffmpeg", false, "Constant-quality RF estimation will be unavailable."),
		c.checkPresetDir(settings.PresetDir),
		c.checkDestinationDir(settings.DestinationDir),
	}

	hasFailures := false
	for _, item := range items {
		if item.Status == domain.DiagnosticStatusFail {
			hasFailures = true
			break
		}
	}

	return domain.DiagnosticReport{
		GeneratedAt: time.Now().UTC(),
		HasFailures: hasFailures,
		Items:       items,
	}
}

// checkTool verifies a CLI executable is on PATH.
func (c *Checker) checkTool(name string, required bool, consequence string) domain.DiagnosticItem {
	path, err := c.lookPath(name)
	if err != nil {
		status := domain.DiagnosticStatusWarn
		if required {
			status = domain.DiagnosticStatusFail
		}
		return domain.DiagnosticItem{
			ID:      "tool_" + strings.ToLower(name),
			Name:    name,
			Status:  status,
			Message: fmt.Sprintf("Tool not found in PATH: %s", name),
			Hint:    consequence + " Install it and ensure the binary is available on PATH.",
		}
	}

	return domain.DiagnosticItem{
		ID:      "tool_" + strings.ToLower(name),
		Name:    name,
		Status:  domain.DiagnosticStatusPass,
		Message: fmt.Sprintf("Found at %s", path),
	}
}

// checkPresetDir validates the preset directory and reports whether it
// holds any preset files. An empty directory is usable, so it warns.
func (c *Checker) checkPresetDir(presetDir string) domain.DiagnosticItem {
	item := domain.DiagnosticItem{
		ID:   "preset_dir",
		Name: "Preset directory",
	}

	if strings.TrimSpace(presetDir) == "" {
		item.Status = domain.DiagnosticStatusWarn
		item.Message = "Preset directory is not set."
		item.Hint = "Encoding will use HandBrake defaults until a preset directory is configured."
		return item
	}

	info, err := c.stat(presetDir)
	if err != nil {
		item.Status = domain.DiagnosticStatusWarn
		if errors.Is(err, os.ErrNotExist) {
			item.Message = fmt.Sprintf("Preset directory does not exist: %s", presetDir)
		} else {
			item.Message = fmt.Sprintf("Cannot access preset directory: %s", presetDir)
		}
		item.Hint = "Export presets from HandBrake as JSON files into this directory."
		return item
	}

	if !info.IsDir() {
		item.Status = domain.DiagnosticStatusFail
		item.Message = fmt.Sprintf("Preset path is not a directory: %s", presetDir)
		item.Hint = "Point the preset directory setting at a folder of HandBrake JSON exports."
		return item
	}

	entries, err := c.readDir(presetDir)
	if err != nil {
		item.Status = domain.DiagnosticStatusFail
		item.Message = fmt.Sprintf("Cannot read preset directory: %s", presetDir)
		item.Hint = "Check permissions for the preset directory."
		return item
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if strings.EqualFold(filepath.Ext(entry.Name()), ".json") {
			item.Status = domain.DiagnosticStatusPass
			item.Message = fmt.Sprintf("Preset directory is valid: %s", presetDir)
			return item
		}
	}

	item.Status = domain.DiagnosticStatusWarn
	item.Message = fmt.Sprintf("No preset files found in directory: %s", presetDir)
	item.Hint = "Export presets from HandBrake as JSON files, named after the preset."
	return item
}

// checkDestinationDir validates destination existence and write access.
func (c *Checker) checkDestinationDir(destinationDir string) domain.DiagnosticItem {
	item := domain.DiagnosticItem{
		ID:   "destination_dir",
		Name: "Destination directory",
	}

	if strings.TrimSpace(destinationDir) == "" {
		item.Status = domain.DiagnosticStatusFail
		item.Message = "Destination directory is empty."
		item.Hint = "Set a destination directory where encoded files can be written."
		return item
	}

	if err := c.mkdirAll(destinationDir, 0o755); err != nil {
		item.Status = domain.DiagnosticStatusFail
		item.Message = fmt.Sprintf("Cannot create destination directory: %s", destinationDir)
		item.Hint = "Choose a writable location or adjust filesystem permissions."
		return item
	}

	tmpFile, err := c.createTemp(destinationDir, ".write-check-*")
	if err != nil {
		item.Status = domain.DiagnosticStatusFail
		item.Message = fmt.Sprintf("Destination directory is not writable: %s", destinationDir)
		item.Hint = "Choose a writable directory for encoded output."
		return item
	}

	tmpPath := tmpFile.Name()
	_ = tmpFile.Close()
	_ = c.remove(tmpPath)

	item.Status = domain.DiagnosticStatusPass
	item.Message = fmt.Sprintf("Writable directory: %s", destinationDir)
	return item
}

// NewCheckerForTests creates a checker with injectable dependencies.
func NewCheckerForTests(
	lookPath func(string) (string, error),
	stat func(string) (os.FileInfo, error),
	readDir func(string) ([]os.DirEntry, error),
	mkdirAll func(string, os.FileMode) error,
	createTemp func(string, string) (*os.File, error),
	remove func(string) error,
) *Checker {
	return &Checker{
		lookPath:   lookPath,
		stat:       stat,
		readDir:    readDir,
		mkdirAll:   mkdirAll,
		createTemp: createTemp,
		remove:     remove,
	}
}

// IsNotExist reports whether error represents file-not-found.
func IsNotExist(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}
