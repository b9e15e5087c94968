// Package preset loads HandBrake preset documents from a directory
// and keeps them fresh while the application runs. The preset schema
// is externally owned; only the declared preset name is inspected.
package preset

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"media-encoder/internal/domain"
)

// PresetError reports one malformed or misnamed preset file. It is
// per-file and never fatal to the rest of the directory.
type PresetError struct {
	File    string
	Message string
	Err     error
}

// Error formats preset failures with the offending file path.
func (e *PresetError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("preset %s: %s", e.File, e.Message)
}

// Unwrap exposes the underlying error for errors.Is / errors.As.
func (e *PresetError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// LoadIssue is a reported, skipped preset file.
type LoadIssue struct {
	File   string `json:"file"`
	Reason string `json:"reason"`
}

// document mirrors the outer shell of a HandBrake preset export.
type document struct {
	PresetList []struct {
		PresetName string `json:"PresetName"`
	} `json:"PresetList"`
}

// LoadAll scans dir non-recursively for *.json preset files. Invalid
// files are skipped and reported as issues; valid ones load normally.
// The returned map is keyed by preset name.
func LoadAll(dir string) (map[string]domain.Preset, []LoadIssue, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, nil, fmt.Errorf("read preset directory %s: %w", dir, err)
	}

	presets := make(map[string]domain.Preset)
	var issues []LoadIssue
	for _, entry := range entries {
		if entry.IsDir() || !strings.EqualFold(filepath.Ext(entry.Name()), ".json") {
			continue
		}

		path := filepath.Join(dir, entry.Name())
		p, err := loadOne(path)
		if err != nil {
			issues = append(issues, LoadIssue{File: path, Reason: err.Error()})
			continue
		}
		presets[p.Name] = p
	}

	return presets, issues, nil
}

// Names returns the preset names sorted for stable UI listings.
func Names(presets map[string]domain.Preset) []string {
	names := make([]string, 0, len(presets))
	for name := range presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// loadOne parses a single preset file and validates that the declared
// preset name matches the file's base name.
func loadOne(path string) (domain.Preset, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return domain.Preset{}, &PresetError{
			File:    path,
			Message: "cannot read preset file",
			Err:     err,
		}
	}

	var doc document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return domain.Preset{}, &PresetError{
			File:    path,
			Message: "preset file is not valid JSON",
			Err:     err,
		}
	}
	if len(doc.PresetList) == 0 || strings.TrimSpace(doc.PresetList[0].PresetName) == "" {
		return domain.Preset{}, &PresetError{
			File:    path,
			Message: "preset document declares no PresetName",
		}
	}

	declared := doc.PresetList[0].PresetName
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	if declared != base {
		return domain.Preset{}, &PresetError{
			File:    path,
			Message: fmt.Sprintf("declared preset name %q does not match file name %q", declared, base),
		}
	}

	return domain.Preset{Name: declared, Path: path, Raw: raw}, nil
}
