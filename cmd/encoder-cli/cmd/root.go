// Package cmd implements the headless CLI commands for media-encoder.
package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

// rootCmd represents the base command when called without subcommands.
var rootCmd = &cobra.Command{
	Use:   "encoder-cli",
	Short: "Batch media encoding without the desktop UI",
	Long: `encoder-cli runs the media-encoder pipeline headlessly: it probes
media files with MediaInfo, derives a video bitrate (or estimates a
constant-quality RF value) for a target output size, and encodes the
batch with HandBrakeCLI.

Settings persisted by the desktop application are used as defaults;
flags override them for one run.`,
	SilenceUsage:  true,
	SilenceErrors: false,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().String("log-level", "warn", "log level (debug, info, warn, error)")

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, _ []string) error {
		level, _ := cmd.Flags().GetString("log-level")
		return initLogging(level)
	}
}

// initLogging installs a text slog handler at the requested level.
func initLogging(level string) error {
	var l slog.Level
	switch strings.ToLower(level) {
	case "debug":
		l = slog.LevelDebug
	case "info":
		l = slog.LevelInfo
	case "warn", "warning":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		return fmt.Errorf("unknown log level %q", level)
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: l})))
	return nil
}
