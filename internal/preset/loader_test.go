package preset

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writePreset creates a preset file declaring the given internal name.
func writePreset(t *testing.T, dir, fileName, declaredName string) string {
	t.Helper()
	body := `{"PresetList":[{"PresetName":"` + declaredName + `","VideoEncoder":"x265"}],"VersionMajor":54}`
	path := filepath.Join(dir, fileName)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

// TestLoadAllAcceptsValidPresets checks name-consistent files load.
func TestLoadAllAcceptsValidPresets(t *testing.T) {
	dir := t.TempDir()
	writePreset(t, dir, "Fast 1080p.json", "Fast 1080p")
	writePreset(t, dir, "Anime.json", "Anime")

	presets, issues, err := LoadAll(dir)
	require.NoError(t, err)
	assert.Empty(t, issues)
	require.Len(t, presets, 2)
	assert.Equal(t, []string{"Anime", "Fast 1080p"}, Names(presets))
	assert.Equal(t, filepath.Join(dir, "Anime.json"), presets["Anime"].Path)
	assert.NotEmpty(t, presets["Anime"].Raw)
}

// TestLoadAllRejectsNameMismatch checks foo.json declaring "bar" is
// skipped and reported while other presets still load.
func TestLoadAllRejectsNameMismatch(t *testing.T) {
	dir := t.TempDir()
	writePreset(t, dir, "foo.json", "bar")
	writePreset(t, dir, "ok.json", "ok")

	presets, issues, err := LoadAll(dir)
	require.NoError(t, err)
	require.Len(t, issues, 1)
	assert.Contains(t, issues[0].Reason, `"bar"`)
	assert.Contains(t, issues[0].File, "foo.json")

	require.Len(t, presets, 1)
	assert.Contains(t, presets, "ok")
}

// TestLoadAllRejectsMalformedJSON checks parse failures are per-file.
func TestLoadAllRejectsMalformedJSON(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.json"), []byte("{nope"), 0o644))
	writePreset(t, dir, "ok.json", "ok")

	presets, issues, err := LoadAll(dir)
	require.NoError(t, err)
	assert.Len(t, issues, 1)
	assert.Len(t, presets, 1)
}

// TestLoadAllIgnoresNonJSONAndDirs checks the non-recursive scan.
func TestLoadAllIgnoresNonJSONAndDirs(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "nested"), 0o755))
	writePreset(t, dir, filepath.Join("nested", "hidden.json"), "hidden")
	writePreset(t, dir, "top.json", "top")

	presets, issues, err := LoadAll(dir)
	require.NoError(t, err)
	assert.Empty(t, issues)
	assert.Equal(t, []string{"top"}, Names(presets))
}

// TestLoadAllMissingDirectory checks the directory error path.
func TestLoadAllMissingDirectory(t *testing.T) {
	_, _, err := LoadAll(filepath.Join(t.TempDir(), "absent"))
	assert.Error(t, err)
}

// TestWatcherSignalsOnPresetWrite verifies the debounce callback.
func TestWatcherSignalsOnPresetWrite(t *testing.T) {
	dir := t.TempDir()
	changed := make(chan struct{}, 1)

	w, err := NewWatcher(dir, func() {
		select {
		case changed <- struct{}{}:
		default:
		}
	})
	require.NoError(t, err)
	defer w.Close()

	writePreset(t, dir, "new.json", "new")

	select {
	case <-changed:
	case <-time.After(5 * time.Second):
		t.Fatal("watcher never signalled a preset change")
	}
}

// TestWatcherIgnoresUnrelatedFiles verifies non-JSON writes do not
// trigger a reload.
func TestWatcherIgnoresUnrelatedFiles(t *testing.T) {
	dir := t.TempDir()
	changed := make(chan struct{}, 1)

	w, err := NewWatcher(dir, func() {
		select {
		case changed <- struct{}{}:
		default:
		}
	})
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "readme.md"), []byte("x"), 0o644))

	select {
	case <-changed:
		t.Fatal("watcher signalled for a non-preset file")
	case <-time.After(1 * time.Second):
	}
}
