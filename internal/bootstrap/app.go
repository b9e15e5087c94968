// Package bootstrap assembles the application: persisted settings,
// presets, the job queue, the batch runner, and the desktop UI shell.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	goruntime "runtime"
	"strings"
	"sync"

	"github.com/wailsapp/wails/v2"
	"github.com/wailsapp/wails/v2/pkg/options"
	"github.com/wailsapp/wails/v2/pkg/options/assetserver"

	"media-encoder/internal/bitrate"
	"media-encoder/internal/config"
	"media-encoder/internal/diagnostics"
	"media-encoder/internal/domain"
	"media-encoder/internal/estimate"
	"media-encoder/internal/handbrake"
	"media-encoder/internal/jobs"
	"media-encoder/internal/preset"
	"media-encoder/internal/probe"

	wailsruntime "github.com/wailsapp/wails/v2/pkg/runtime"
)

var mediaDialogFilter = []wailsruntime.FileFilter{
	{
		DisplayName: "Media files",
		Pattern:     "*.mkv;*.mp4;*.m4v;*.mov;*.avi;*.wmv;*.ts;*.m2ts;*.webm",
	},
	{
		DisplayName: "All files",
		Pattern:     "*",
	},
}

// mediaProber isolates media inspection behind an interface.
type mediaProber interface {
	EnsureStatistics(ctx context.Context, path string) (domain.MediaInfo, error)
}

// rfEstimator isolates RF estimation behind an interface.
type rfEstimator interface {
	EstimateRF(ctx context.Context, req estimate.Request) (float64, error)
}

// encoderRunner isolates encoder process supervision behind an
// interface.
type encoderRunner interface {
	Run(ctx context.Context, req handbrake.RunRequest) error
}

// EnqueueRequest is the UI payload for adding one file to the queue.
// Track selection and duration come from a prior probe of the file.
type EnqueueRequest struct {
	SourcePath      string  `json:"sourcePath"`
	DurationSeconds float64 `json:"durationSeconds"`
	AudioTracks     []int   `json:"audioTracks"`
	PresetName      string  `json:"presetName"`
}

// App wires configuration, presets, the job queue, and UI runtime
// callbacks.
type App struct {
	Store       config.Store
	Queue       *jobs.Queue
	Diagnostics domain.DiagnosticReport

	assets    fs.FS
	checker   *diagnostics.Checker
	prober    mediaProber
	estimator rfEstimator
	encoder   encoderRunner
	logger    *slog.Logger
	bus       *jobs.EventBus

	mu           sync.Mutex
	settings     domain.Settings
	presets      map[string]domain.Preset
	presetIssues []preset.LoadIssue
	watcher      *preset.Watcher
	runner       *jobs.Runner
	runtimeCtx   context.Context
	pumpCancel   func()
}

// New builds the application with persisted settings and startup
// diagnostics.
func New() (*App, error) {
	return NewWithAssets(nil)
}

// NewWithAssets builds the application and optionally configures
// embedded frontend assets.
func NewWithAssets(assets fs.FS) (*App, error) {
	store, err := config.NewSQLiteStore(config.DefaultDatabasePath())
	if err != nil {
		return nil, fmt.Errorf("open settings store: %w", err)
	}

	settings, err := store.Load()
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}

	checker := diagnostics.NewChecker()

	app := &App{
		Store:       store,
		Queue:       jobs.NewQueue(),
		Diagnostics: checker.Run(settings),
		assets:      assets,
		checker:     checker,
		prober:      probe.NewProber(),
		estimator:   estimate.NewEstimator(),
		encoder:     handbrake.NewRunner(),
		logger:      slog.Default(),
		bus:         jobs.NewEventBus(1000),
		settings:    settings,
	}
	app.runner = app.newRunner(settings)
	app.reloadPresetsLocked(settings.PresetDir)
	app.restartWatcherLocked(settings.PresetDir)

	return app, nil
}

// Run starts the Wails desktop application and binds backend methods.
func (a *App) Run() error {
	assetOptions := &assetserver.Options{}
	if a.assets != nil {
		assetOptions.Assets = a.assets
	} else {
		assetOptions.Handler = http.FileServer(http.Dir("./frontend"))
	}

	return wails.Run(&options.App{
		Title:       "Media Encoder",
		Width:       1280,
		Height:      820,
		AssetServer: assetOptions,
		OnStartup:   a.Startup,
		OnShutdown:  a.Shutdown,
		Bind:        []interface{}{a},
	})
}

// Startup stores the Wails runtime context and begins forwarding job
// events to the frontend.
func (a *App) Startup(ctx context.Context) {
	events, cancel := a.bus.Subscribe()

	a.mu.Lock()
	a.runtimeCtx = ctx
	a.pumpCancel = cancel
	a.mu.Unlock()

	go func() {
		for event := range events {
			wailsruntime.EventsEmit(ctx, "encode:event", event)
		}
	}()
}

// Shutdown cancels all work and detaches from the UI runtime.
func (a *App) Shutdown(ctx context.Context) {
	a.mu.Lock()
	runner := a.runner
	watcher := a.watcher
	cancel := a.pumpCancel
	a.runtimeCtx = nil
	a.pumpCancel = nil
	a.mu.Unlock()

	if runner != nil {
		runner.CancelAll()
	}
	if watcher != nil {
		_ = watcher.Close()
	}
	if cancel != nil {
		cancel()
	}
}

// GetDiagnostics returns the latest cached diagnostics report.
func (a *App) GetDiagnostics() domain.DiagnosticReport {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.Diagnostics
}

// RefreshDiagnostics reloads settings and reruns dependency checks.
func (a *App) RefreshDiagnostics() (domain.DiagnosticReport, error) {
	settings, err := a.Store.Load()
	if err != nil {
		return domain.DiagnosticReport{}, fmt.Errorf("load settings: %w", err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.settings = settings
	a.Diagnostics = a.checker.Run(settings)
	return a.Diagnostics, nil
}

// GetSettings loads and returns the latest persisted settings.
func (a *App) GetSettings() (domain.Settings, error) {
	settings, err := a.Store.Load()
	if err != nil {
		return domain.Settings{}, fmt.Errorf("load settings: %w", err)
	}

	a.mu.Lock()
	a.settings = settings
	a.mu.Unlock()

	return settings, nil
}

// SaveSettings validates, normalizes, and persists settings, then
// refreshes diagnostics and presets.
func (a *App) SaveSettings(settings domain.Settings) (domain.Settings, error) {
	normalized, err := normalizeSettings(settings)
	if err != nil {
		return domain.Settings{}, err
	}
	if err := a.Store.Save(normalized); err != nil {
		return domain.Settings{}, fmt.Errorf("save settings: %w", err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	presetDirChanged := a.settings.PresetDir != normalized.PresetDir
	a.settings = normalized
	a.Diagnostics = a.checker.Run(normalized)
	if presetDirChanged {
		a.reloadPresetsLocked(normalized.PresetDir)
		a.restartWatcherLocked(normalized.PresetDir)
	}

	return normalized, nil
}

// ListPresets returns the loaded preset names, sorted.
func (a *App) ListPresets() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return preset.Names(a.presets)
}

// PresetIssues returns the files skipped during the last preset load.
func (a *App) PresetIssues() []preset.LoadIssue {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]preset.LoadIssue(nil), a.presetIssues...)
}

// ReloadPresets rescans the preset directory on demand.
func (a *App) ReloadPresets() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.reloadPresetsLocked(a.settings.PresetDir)
	return preset.Names(a.presets)
}

// ProbeMediaFile inspects one media file, refreshing container
// statistics when bitrate metadata is missing.
func (a *App) ProbeMediaFile(path string) (domain.MediaInfo, error) {
	return a.prober.EnsureStatistics(context.Background(), strings.TrimSpace(path))
}

// EnqueueFile adds one probed file to the batch queue using the
// current settings for target size, encoders, and priority.
func (a *App) EnqueueFile(req EnqueueRequest) (domain.EncodeJob, error) {
	source := strings.TrimSpace(req.SourcePath)
	if source == "" {
		return domain.EncodeJob{}, fmt.Errorf("source path is empty")
	}
	if req.DurationSeconds <= 0 {
		return domain.EncodeJob{}, fmt.Errorf("unknown duration for %s: probe the file first", source)
	}

	a.mu.Lock()
	settings := a.settings
	_, presetKnown := a.presets[req.PresetName]
	a.mu.Unlock()

	if req.PresetName != "" && !presetKnown {
		return domain.EncodeJob{}, &handbrake.ConfigError{
			Message: fmt.Sprintf("preset %q is not loaded", req.PresetName),
		}
	}

	audioBitrates, err := handbrake.ParseAudioBitrates(settings.AudioBitrates)
	if err != nil {
		return domain.EncodeJob{}, err
	}
	if len(req.AudioTracks) > 1 && len(audioBitrates) != len(req.AudioTracks) {
		return domain.EncodeJob{}, &handbrake.ConfigError{
			Message: fmt.Sprintf("%d audio bitrate value(s) for %d selected track(s): assignment is ambiguous",
				len(audioBitrates), len(req.AudioTracks)),
		}
	}

	mode := domain.EncodeModeBitrate
	if settings.VariableBitrate {
		mode = domain.EncodeModeQuality
	}

	job := domain.EncodeJob{
		SourcePath:        source,
		OutputPath:        resolveOutputPath(source, settings),
		TargetSizeBytes:   bitrate.TargetBytesFromMB(settings.TargetSizeMB),
		Mode:              mode,
		AudioTracks:       append([]int(nil), req.AudioTracks...),
		AudioBitratesKbps: audioBitrates,
		DurationSeconds:   req.DurationSeconds,
		PresetName:        req.PresetName,
		Priority:          settings.ProcessPriority,
		DeleteSource:      settings.DeleteSource,
	}
	return a.Queue.Enqueue(job), nil
}

// ListJobs returns a snapshot of the queue in order.
func (a *App) ListJobs() []domain.EncodeJob {
	return a.Queue.Snapshot()
}

// RemoveJob deletes a job that has not started yet.
func (a *App) RemoveJob(id string) error {
	return a.Queue.RemovePending(id)
}

// StartBatch begins processing the queue in the background. The
// runner is rebuilt so concurrency and bitrate settings changed since
// the last batch take effect.
func (a *App) StartBatch() error {
	a.mu.Lock()
	if a.runner.IsActive() {
		a.mu.Unlock()
		return jobs.ErrBatchAlreadyRunning
	}
	settings := a.settings
	runner := a.newRunner(settings)
	a.runner = runner
	a.mu.Unlock()

	go func() {
		if err := runner.Start(context.Background()); err != nil && !errors.Is(err, context.Canceled) {
			a.logger.Error("batch run", "error", err)
		}
	}()
	return nil
}

// IsEncoding reports whether a batch is currently processing.
func (a *App) IsEncoding() bool {
	a.mu.Lock()
	runner := a.runner
	a.mu.Unlock()
	return runner.IsActive()
}

// CancelJob cancels one running or pending job.
func (a *App) CancelJob(id string) error {
	a.mu.Lock()
	runner := a.runner
	a.mu.Unlock()
	return runner.CancelJob(id)
}

// CancelAll cancels every running and pending job.
func (a *App) CancelAll() {
	a.mu.Lock()
	runner := a.runner
	a.mu.Unlock()
	runner.CancelAll()
}

// JobEvents returns all events with sequence greater than sinceSeq.
func (a *App) JobEvents(sinceSeq int64) []jobs.Event {
	return a.bus.Since(sinceSeq)
}

// PickInputFiles opens a native file dialog for media selection.
func (a *App) PickInputFiles() ([]string, error) {
	ctx, err := a.runtimeContext()
	if err != nil {
		return nil, err
	}

	paths, err := wailsruntime.OpenMultipleFilesDialog(ctx, wailsruntime.OpenDialogOptions{
		Title:   "Select media files",
		Filters: mediaDialogFilter,
	})
	if err != nil {
		return nil, err
	}

	out := make([]string, 0, len(paths))
	for _, p := range paths {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out, nil
}

// PickDestinationDirectory opens a native directory picker for output.
func (a *App) PickDestinationDirectory() (string, error) {
	ctx, err := a.runtimeContext()
	if err != nil {
		return "", err
	}

	path, err := wailsruntime.OpenDirectoryDialog(ctx, wailsruntime.OpenDialogOptions{
		Title: "Select destination directory",
	})
	if err != nil {
		return "", err
	}

	return strings.TrimSpace(path), nil
}

// PickPresetDirectory opens a native directory picker for presets.
func (a *App) PickPresetDirectory() (string, error) {
	ctx, err := a.runtimeContext()
	if err != nil {
		return "", err
	}

	path, err := wailsruntime.OpenDirectoryDialog(ctx, wailsruntime.OpenDialogOptions{
		Title: "Select preset directory",
	})
	if err != nil {
		return "", err
	}

	return strings.TrimSpace(path), nil
}

// OpenOutputFolder opens the given path (or the configured destination
// directory) in the platform file manager.
func (a *App) OpenOutputFolder(path string) error {
	target := strings.TrimSpace(path)
	if target == "" {
		a.mu.Lock()
		target = a.settings.DestinationDir
		a.mu.Unlock()
	}
	if target == "" {
		return fmt.Errorf("output path is empty")
	}

	info, err := os.Stat(target)
	if err != nil {
		return fmt.Errorf("resolve output path: %w", err)
	}

	openPath := target
	if !info.IsDir() {
		openPath = filepath.Dir(target)
	}

	return openInFileManager(openPath)
}

// newRunner builds a batch runner from the given settings. Callers
// hold the lock or own the App exclusively.
func (a *App) newRunner(settings domain.Settings) *jobs.Runner {
	return jobs.NewRunner(a.Queue, a.bus, a.encoder, jobs.Options{
		MaxConcurrent: settings.MaxConcurrent,
		Calc:          bitrate.New(settings.ContainerOverhead, settings.MinVideoKbps),
		ArgsFor:       a.argsFor,
		EstimateRF:    a.estimateJobRF,
		Logger:        a.logger,
	})
}

// argsFor resolves the job's preset and current encoder overrides into
// a HandBrakeCLI argument list.
func (a *App) argsFor(job domain.EncodeJob) ([]string, error) {
	p, settings, err := a.jobPreset(job)
	if err != nil {
		return nil, err
	}

	return handbrake.BuildArgs(job, p, handbrake.Overrides{
		VideoEncoder: settings.VideoEncoder,
		AudioEncoder: settings.AudioEncoder,
		MultiPass:    settings.MultiPass,
	})
}

// estimateJobRF runs sample-based RF estimation for quality-mode jobs.
func (a *App) estimateJobRF(ctx context.Context, job domain.EncodeJob) (float64, error) {
	p, settings, err := a.jobPreset(job)
	if err != nil {
		return 0, err
	}

	return a.estimator.EstimateRF(ctx, estimate.Request{
		InputPath:         job.SourcePath,
		DurationSeconds:   job.DurationSeconds,
		TargetSizeBytes:   job.TargetSizeBytes,
		AudioBitratesKbps: job.AudioBitratesKbps,
		Preset:            p,
		VideoEncoder:      settings.VideoEncoder,
		AudioEncoder:      settings.AudioEncoder,
		WorkDir:           os.TempDir(),
	})
}

// jobPreset looks up the job's preset under the lock and returns it
// with the settings in effect.
func (a *App) jobPreset(job domain.EncodeJob) (*domain.Preset, domain.Settings, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if job.PresetName == "" {
		return nil, a.settings, nil
	}
	p, ok := a.presets[job.PresetName]
	if !ok {
		return nil, a.settings, &handbrake.ConfigError{
			Message: fmt.Sprintf("preset %q is not loaded", job.PresetName),
		}
	}
	return &p, a.settings, nil
}

// reloadPresetsLocked rescans the preset directory. A missing or
// unreadable directory clears the preset list without failing.
func (a *App) reloadPresetsLocked(dir string) {
	if strings.TrimSpace(dir) == "" {
		a.presets = map[string]domain.Preset{}
		a.presetIssues = nil
		return
	}

	presets, issues, err := preset.LoadAll(dir)
	if err != nil {
		a.logger.Warn("preset scan failed", "dir", dir, "error", err)
		a.presets = map[string]domain.Preset{}
		a.presetIssues = nil
		return
	}

	for _, issue := range issues {
		a.logger.Warn("preset skipped", "file", issue.File, "reason", issue.Reason)
	}
	a.presets = presets
	a.presetIssues = issues
}

// restartWatcherLocked replaces the preset directory watcher.
func (a *App) restartWatcherLocked(dir string) {
	if a.watcher != nil {
		_ = a.watcher.Close()
		a.watcher = nil
	}
	if strings.TrimSpace(dir) == "" {
		return
	}

	watcher, err := preset.NewWatcher(dir, func() {
		a.mu.Lock()
		a.reloadPresetsLocked(dir)
		names := preset.Names(a.presets)
		ctx := a.runtimeCtx
		a.mu.Unlock()

		if ctx != nil {
			wailsruntime.EventsEmit(ctx, "presets:changed", names)
		}
	})
	if err != nil {
		a.logger.Warn("preset watcher unavailable", "dir", dir, "error", err)
		return
	}
	a.watcher = watcher
}

// runtimeContext returns the Wails runtime context for dialog APIs.
func (a *App) runtimeContext() (context.Context, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.runtimeCtx == nil {
		return nil, fmt.Errorf("runtime context is not initialized")
	}
	return a.runtimeCtx, nil
}

// resolveOutputPath places the encoded file in the destination
// directory (or next to the source) as Matroska, avoiding a collision
// with the source file itself.
func resolveOutputPath(source string, settings domain.Settings) string {
	dir := settings.DestinationDir
	if settings.PerFileOutputOnly || strings.TrimSpace(dir) == "" {
		dir = filepath.Dir(source)
	}

	base := strings.TrimSuffix(filepath.Base(source), filepath.Ext(source))
	out := filepath.Join(dir, base+".mkv")
	if out == source {
		out = filepath.Join(dir, base+".encoded.mkv")
	}
	return out
}

// normalizeSettings trims user inputs, validates the audio bitrate
// list, and clamps numeric fields to usable values.
func normalizeSettings(settings domain.Settings) (domain.Settings, error) {
	settings.DestinationDir = strings.TrimSpace(settings.DestinationDir)
	settings.PresetDir = strings.TrimSpace(settings.PresetDir)
	settings.AudioBitrates = strings.TrimSpace(settings.AudioBitrates)
	settings.VideoEncoder = strings.TrimSpace(settings.VideoEncoder)
	settings.AudioEncoder = strings.TrimSpace(settings.AudioEncoder)

	if _, err := handbrake.ParseAudioBitrates(settings.AudioBitrates); err != nil {
		return domain.Settings{}, err
	}

	if settings.TargetSizeMB <= 0 {
		settings.TargetSizeMB = config.DefaultSettings().TargetSizeMB
	}
	if settings.MaxConcurrent < 1 {
		settings.MaxConcurrent = 1
	}
	if settings.ContainerOverhead < 0 || settings.ContainerOverhead >= 1 {
		settings.ContainerOverhead = 0
	}
	if settings.MinVideoKbps <= 0 {
		settings.MinVideoKbps = bitrate.DefaultMinVideoKbps
	}

	switch settings.ProcessPriority {
	case domain.PriorityNormal, domain.PriorityBelowNormal, domain.PriorityLow:
	default:
		settings.ProcessPriority = domain.PriorityNormal
	}

	return settings, nil
}

// openInFileManager launches the platform file explorer for the path.
func openInFileManager(path string) error {
	var cmd *exec.Cmd
	switch goruntime.GOOS {
	case "darwin":
		cmd = exec.Command("open", path)
	case "windows":
		cmd = exec.Command("explorer", filepath.Clean(path))
	default:
		cmd = exec.Command("xdg-open", path)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("launch file manager: %w", err)
	}
	return nil
}
