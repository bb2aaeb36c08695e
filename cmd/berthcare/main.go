package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

var configFile string

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "berthcare",
	Short: "BerthCare - home care visit documentation backend",
	Long: `BerthCare is the backend for point-of-care visit documentation:
caregiver identity and sessions, zone-scoped client records and care
plans, the visit lifecycle, and voice/SMS alert escalation.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"BerthCare version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "optional YAML config overlay")

	rootCmd.AddCommand(serverCmd)
	rootCmd.AddCommand(migrateCmd)
}
