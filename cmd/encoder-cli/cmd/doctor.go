package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"media-encoder/internal/config"
	"media-encoder/internal/diagnostics"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check external tools and configured directories",
	RunE:  runDoctor,
}

func init() {
	rootCmd.AddCommand(doctorCmd)
}

func runDoctor(_ *cobra.Command, _ []string) error {
	store, err := config.NewSQLiteStore(config.DefaultDatabasePath())
	if err != nil {
		return err
	}
	defer store.Close()

	settings, err := store.Load()
	if err != nil {
		return err
	}

	report := diagnostics.NewChecker().Run(settings)
	for _, item := range report.Items {
		fmt.Printf("[%-4s] %-22s %s\n", item.Status, item.Name, item.Message)
		if item.Hint != "" {
			fmt.Printf("       %s\n", item.Hint)
		}
	}

	if report.HasFailures {
		return fmt.Errorf("diagnostics reported failures")
	}
	return nil
}
