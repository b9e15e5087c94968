package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"media-encoder/internal/bitrate"
	"media-encoder/internal/config"
	"media-encoder/internal/domain"
	"media-encoder/internal/estimate"
	"media-encoder/internal/handbrake"
	"media-encoder/internal/jobs"
	"media-encoder/internal/preset"
	"media-encoder/internal/probe"
)

var encodeCmd = &cobra.Command{
	Use:   "encode [files...]",
	Short: "Probe and encode media files to a target size",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runEncode,
}

func init() {
	flags := encodeCmd.Flags()
	flags.String("dest", "", "destination directory (default: persisted setting)")
	flags.String("preset-dir", "", "HandBrake preset directory")
	flags.String("preset", "", "preset name to apply")
	flags.Float64("target-mb", 0, "target output size in MB")
	flags.String("audio-bitrates", "", "comma-separated audio bitrates in kbps")
	flags.String("video-encoder", "", "HandBrake video encoder (x264, x265, nvenc_h265, ...)")
	flags.String("audio-encoder", "", "HandBrake audio encoder (av_aac, opus, copy, ...)")
	flags.Bool("multi-pass", false, "enable multi-pass encoding")
	flags.Bool("variable-bitrate", false, "constant-quality mode with RF estimation")
	flags.Bool("delete-source", false, "delete source files after a successful encode")
	flags.Bool("per-file-output", false, "write output next to each source file")
	flags.Int("concurrency", 0, "simultaneous encodes")
	flags.String("priority", "", "process priority (normal, below-normal, low)")

	rootCmd.AddCommand(encodeCmd)
}

func runEncode(cmd *cobra.Command, args []string) error {
	store, err := config.NewSQLiteStore(config.DefaultDatabasePath())
	if err != nil {
		return err
	}
	defer store.Close()

	settings, err := store.Load()
	if err != nil {
		return err
	}
	settings, err = applyFlagOverrides(cmd, settings)
	if err != nil {
		return err
	}

	audioBitrates, err := handbrake.ParseAudioBitrates(settings.AudioBitrates)
	if err != nil {
		return err
	}

	presetName, _ := cmd.Flags().GetString("preset")
	selected, err := resolvePreset(settings.PresetDir, presetName)
	if err != nil {
		return err
	}

	overrides := handbrake.Overrides{
		VideoEncoder: settings.VideoEncoder,
		AudioEncoder: settings.AudioEncoder,
		MultiPass:    settings.MultiPass,
	}
	estimator := estimate.NewEstimator()

	queue := jobs.NewQueue()
	bus := jobs.NewEventBus(10000)
	runner := jobs.NewRunner(queue, bus, handbrake.NewRunner(), jobs.Options{
		MaxConcurrent: settings.MaxConcurrent,
		Calc:          bitrate.New(settings.ContainerOverhead, settings.MinVideoKbps),
		ArgsFor: func(job domain.EncodeJob) ([]string, error) {
			return handbrake.BuildArgs(job, selected, overrides)
		},
		EstimateRF: func(ctx context.Context, job domain.EncodeJob) (float64, error) {
			return estimator.EstimateRF(ctx, estimate.Request{
				InputPath:         job.SourcePath,
				DurationSeconds:   job.DurationSeconds,
				TargetSizeBytes:   job.TargetSizeBytes,
				AudioBitratesKbps: job.AudioBitratesKbps,
				Preset:            selected,
				VideoEncoder:      settings.VideoEncoder,
				AudioEncoder:      settings.AudioEncoder,
				WorkDir:           os.TempDir(),
			})
		},
		Logger: slog.Default(),
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	probeFailures := enqueueSources(ctx, queue, probe.NewProber(), args, settings, audioBitrates, presetName)

	events, unsubscribe := bus.Subscribe()
	printerDone := make(chan struct{})
	go func() {
		defer close(printerDone)
		printEvents(events)
	}()

	runErr := runner.Start(ctx)
	unsubscribe()
	<-printerDone

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return runErr
	}

	failed := probeFailures
	for _, job := range queue.Snapshot() {
		if job.Status == domain.JobStatusFailed {
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d job(s) failed", failed)
	}
	if errors.Is(runErr, context.Canceled) {
		return fmt.Errorf("interrupted")
	}
	return nil
}

// sourceProber matches the probing surface the encode command needs.
type sourceProber interface {
	EnsureStatistics(ctx context.Context, path string) (domain.MediaInfo, error)
}

// enqueueSources probes each source and queues the encodable ones.
// Per-file failures are reported and counted, never aborting the rest
// of the batch.
func enqueueSources(ctx context.Context, queue *jobs.Queue, prober sourceProber, sources []string, settings domain.Settings, audioBitrates []int, presetName string) int {
	mode := domain.EncodeModeBitrate
	if settings.VariableBitrate {
		mode = domain.EncodeModeQuality
	}

	failed := 0
	for _, source := range sources {
		if ctx.Err() != nil {
			break
		}

		info, err := prober.EnsureStatistics(ctx, source)
		if err != nil {
			failed++
			fmt.Printf("failed    %s: %v\n", source, err)
			continue
		}

		tracks := make([]int, 0, len(info.AudioTracks()))
		for _, t := range info.AudioTracks() {
			tracks = append(tracks, t.Index)
		}
		if len(tracks) > 1 && len(audioBitrates) != len(tracks) {
			failed++
			fmt.Printf("failed    %s: %d audio bitrate value(s) for %d track(s): assignment is ambiguous\n",
				source, len(audioBitrates), len(tracks))
			continue
		}

		queue.Enqueue(domain.EncodeJob{
			SourcePath:        source,
			OutputPath:        outputPath(source, settings),
			TargetSizeBytes:   bitrate.TargetBytesFromMB(settings.TargetSizeMB),
			Mode:              mode,
			AudioTracks:       tracks,
			AudioBitratesKbps: audioBitrates,
			DurationSeconds:   info.DurationSeconds,
			PresetName:        presetName,
			Priority:          settings.ProcessPriority,
			DeleteSource:      settings.DeleteSource,
		})
		fmt.Printf("queued %s (%.0fs, %d audio track(s))\n", source, info.DurationSeconds, len(tracks))
	}
	return failed
}

// applyFlagOverrides layers explicitly-set flags over stored settings.
func applyFlagOverrides(cmd *cobra.Command, settings domain.Settings) (domain.Settings, error) {
	flags := cmd.Flags()

	if flags.Changed("dest") {
		settings.DestinationDir, _ = flags.GetString("dest")
	}
	if flags.Changed("preset-dir") {
		settings.PresetDir, _ = flags.GetString("preset-dir")
	}
	if flags.Changed("target-mb") {
		settings.TargetSizeMB, _ = flags.GetFloat64("target-mb")
	}
	if flags.Changed("audio-bitrates") {
		settings.AudioBitrates, _ = flags.GetString("audio-bitrates")
	}
	if flags.Changed("video-encoder") {
		settings.VideoEncoder, _ = flags.GetString("video-encoder")
	}
	if flags.Changed("audio-encoder") {
		settings.AudioEncoder, _ = flags.GetString("audio-encoder")
	}
	if flags.Changed("multi-pass") {
		settings.MultiPass, _ = flags.GetBool("multi-pass")
	}
	if flags.Changed("variable-bitrate") {
		settings.VariableBitrate, _ = flags.GetBool("variable-bitrate")
	}
	if flags.Changed("delete-source") {
		settings.DeleteSource, _ = flags.GetBool("delete-source")
	}
	if flags.Changed("per-file-output") {
		settings.PerFileOutputOnly, _ = flags.GetBool("per-file-output")
	}
	if flags.Changed("concurrency") {
		settings.MaxConcurrent, _ = flags.GetInt("concurrency")
	}
	if flags.Changed("priority") {
		raw, _ := flags.GetString("priority")
		switch p := domain.Priority(raw); p {
		case domain.PriorityNormal, domain.PriorityBelowNormal, domain.PriorityLow:
			settings.ProcessPriority = p
		default:
			return domain.Settings{}, fmt.Errorf("unknown priority %q", raw)
		}
	}

	if settings.TargetSizeMB <= 0 {
		return domain.Settings{}, fmt.Errorf("target size must be positive, got %.1f MB", settings.TargetSizeMB)
	}
	if settings.MaxConcurrent < 1 {
		settings.MaxConcurrent = 1
	}
	return settings, nil
}

// resolvePreset loads the named preset from the preset directory.
func resolvePreset(dir, name string) (*domain.Preset, error) {
	if name == "" {
		return nil, nil
	}
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("preset %q requested but no preset directory is configured", name)
	}

	presets, issues, err := preset.LoadAll(dir)
	if err != nil {
		return nil, err
	}
	for _, issue := range issues {
		slog.Warn("preset skipped", "file", issue.File, "reason", issue.Reason)
	}

	p, ok := presets[name]
	if !ok {
		return nil, fmt.Errorf("preset %q not found in %s (available: %s)",
			name, dir, strings.Join(preset.Names(presets), ", "))
	}
	return &p, nil
}

// outputPath mirrors the desktop app's output placement rules.
func outputPath(source string, settings domain.Settings) string {
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

// printEvents renders the event stream for terminal consumption.
// Progress is reduced to every tenth percent step to keep output sane.
func printEvents(events <-chan jobs.Event) {
	for event := range events {
		switch event.Type {
		case jobs.EventTypeStatus:
			fmt.Printf("%-9s %s\n", event.Status, event.SourcePath)
		case jobs.EventTypeProgress:
			if int(event.Progress)%10 == 0 {
				fmt.Printf("%3.0f%%      %s\n", event.Progress, event.SourcePath)
			}
		case jobs.EventTypeWarning:
			fmt.Printf("warning   %s: %s\n", event.SourcePath, event.Message)
		case jobs.EventTypeError:
			fmt.Printf("failed    %s: %s\n", event.SourcePath, event.Message)
			if event.Stderr != "" {
				fmt.Println(event.Stderr)
			}
		case jobs.EventTypeSummary:
			fmt.Println(event.Message)
		}
	}
}
