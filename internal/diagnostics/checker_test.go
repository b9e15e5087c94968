package diagnostics

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"media-encoder/internal/domain"
)

// TestCheckerRunAllPass validates happy-path diagnostics report.
func TestCheckerRunAllPass(t *testing.T) {
	root := t.TempDir()
	presetDir := filepath.Join(root, "presets")
	if err := os.MkdirAll(presetDir, 0o755); err != nil {
		t.Fatalf("mkdir presets: %v", err)
	}
	if err := os.WriteFile(filepath.Join(presetDir, "HQ 1080p.json"), []byte("{}"), 0o644); err != nil {
		t.Fatalf("write preset: %v", err)
	}

	checker := NewCheckerForTests(
		func(name string) (string, error) { return "/usr/local/bin/" + name, nil },
		os.Stat,
		os.ReadDir,
		os.MkdirAll,
		os.CreateTemp,
		os.Remove,
	)

	report := checker.Run(domain.Settings{
		PresetDir:      presetDir,
		DestinationDir: filepath.Join(root, "output"),
	})

	if report.HasFailures {
		t.Fatalf("expected no failures, got %+v", report.Items)
	}
}

// TestCheckerRunMissingToolsAndPaths validates failure reporting and
// the required/optional tool split.
func TestCheckerRunMissingToolsAndPaths(t *testing.T) {
	checker := NewCheckerForTests(
		func(string) (string, error) { return "", errors.New("not found") },
		os.Stat,
		os.ReadDir,
		os.MkdirAll,
		os.CreateTemp,
		os.Remove,
	)

	report := checker.Run(domain.Settings{
		PresetDir:      "/path/that/does/not/exist",
		DestinationDir: "",
	})

	if !report.HasFailures {
		t.Fatal("expected failures")
	}

	assertStatusByID(t, report, "tool_handbrakecli", domain.DiagnosticStatusFail)
	assertStatusByID(t, report, "tool_mediainfo", domain.DiagnosticStatusFail)
	assertStatusByID(t, report, "tool_mkvpropedit", domain.DiagnosticStatusWarn)
	assertStatusByID(t, report, "tool_ffmpeg", domain.DiagnosticStatusWarn)
	assertStatusByID(t, report, "preset_dir", domain.DiagnosticStatusWarn)
	assertStatusByID(t, report, "destination_dir", domain.DiagnosticStatusFail)
}

// TestCheckerRunEmptyPresetDirectoryWarns validates the preset check
// treats an empty directory as usable but incomplete.
func TestCheckerRunEmptyPresetDirectoryWarns(t *testing.T) {
	root := t.TempDir()
	presetDir := filepath.Join(root, "presets")
	if err := os.MkdirAll(presetDir, 0o755); err != nil {
		t.Fatalf("mkdir presets: %v", err)
	}
	if err := os.WriteFile(filepath.Join(presetDir, "README.txt"), []byte("no presets"), 0o644); err != nil {
		t.Fatalf("write readme: %v", err)
	}

	checker := NewCheckerForTests(
		func(name string) (string, error) { return "/usr/local/bin/" + name, nil },
		os.Stat,
		os.ReadDir,
		os.MkdirAll,
		os.CreateTemp,
		os.Remove,
	)
	report := checker.Run(domain.Settings{
		PresetDir:      presetDir,
		DestinationDir: filepath.Join(root, "output"),
	})

	assertStatusByID(t, report, "preset_dir", domain.DiagnosticStatusWarn)
	if report.HasFailures {
		t.Fatalf("warnings must not count as failures, got %+v", report.Items)
	}
}

// TestCheckerRunPresetPathIsFileFails validates the preset check
// rejects a file where a directory is expected.
func TestCheckerRunPresetPathIsFileFails(t *testing.T) {
	root := t.TempDir()
	presetPath := filepath.Join(root, "presets.json")
	if err := os.WriteFile(presetPath, []byte("{}"), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}

	checker := NewCheckerForTests(
		func(name string) (string, error) { return "/usr/local/bin/" + name, nil },
		os.Stat,
		os.ReadDir,
		os.MkdirAll,
		os.CreateTemp,
		os.Remove,
	)
	report := checker.Run(domain.Settings{
		PresetDir:      presetPath,
		DestinationDir: filepath.Join(root, "output"),
	})

	assertStatusByID(t, report, "preset_dir", domain.DiagnosticStatusFail)
}

// assertStatusByID checks status for one diagnostic item by ID.
func assertStatusByID(t *testing.T, report domain.DiagnosticReport, id string, want domain.DiagnosticStatus) {
	t.Helper()
	for _, item := range report.Items {
		if item.ID == id {
			if item.Status != want {
				t.Fatalf("item %s: got %s, want %s", id, item.Status, want)
			}
			return
		}
	}
	t.Fatalf("diagnostic item not found: %s", id)
}
