package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/linkwatcher/beacon/internal/api"
)

var (
	// Version information (set via ldflags)
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"

	// Global flags
	dataDir    string
	listenAddr string
)

var rootCmd = &cobra.Command{
	Use:   "beacon",
	Short: "Beacon - live visitor analytics for LinkWatcher",
	Long: `Beacon is the self-hosted analytics core behind the LinkWatcher dashboard.

It provides:
  - A browser collector script with batched, lossless delivery
  - A batch ingestion endpoint with session liveness tracking
  - A live "active users" view computed on demand
  - A real-time event stream for dashboards

Get started:
  beacon init     # Prepare the data directory and database
  beacon serve    # Start the server`,
	Run: func(cmd *cobra.Command, args []string) {
		// Default behavior: run serve command
		serveCmd.Run(cmd, args)
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("beacon %s (commit %s, built %s)\n", Version, Commit, BuildDate)
	},
}

func init() {
	// Set version in API package for /api/version endpoint
	api.Version = Version

	// Global flags available to all commands
	rootCmd.PersistentFlags().StringVarP(&dataDir, "data", "d", "./data", "Data directory for the database")
	rootCmd.PersistentFlags().StringVarP(&listenAddr, "listen", "l", ":3456", "Address to listen on")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
