// Package cmd implements the CLI commands for combatlog: running the
// live telemetry aggregator, browsing stored encounters, and raw access
// to the metrics database.
package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/adrg/xdg"
	"github.com/spf13/cobra"

	"github.com/pable/combatlog/internal/report"
)

// dbPath is the file path to the SQLite database, set via the --db flag.
var dbPath string

// silent suppresses verbose column explanations when true, set via the
// --silent flag.
var silent bool

// rootCmd is the top-level cobra command for the combatlog CLI.
var rootCmd = &cobra.Command{
	Use:   "combatlog",
	Short: "Real-time combat telemetry engine",
	Long:  "Aggregate decoded game-server packets into live encounter statistics and browse persisted encounters.",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		report.Verbose = !silent
	},
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	defaultDB := filepath.Join(xdg.DataHome, "combatlog", "encounters.db")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", defaultDB, "path to SQLite database")
	rootCmd.PersistentFlags().BoolVarP(&silent, "silent", "s", false, "hide column explanations before each table")

	rootCmd.AddCommand(liveCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(playersCmd)
	rootCmd.AddCommand(favCmd)
	rootCmd.AddCommand(sqlCmd)
	rootCmd.AddCommand(dropCmd)
	rootCmd.AddCommand(shellCmd)
}

// newLogger builds the process logger; diagnostics go to stderr so they
// never interleave with table output on stdout.
func newLogger() *slog.Logger {
	level := slog.LevelInfo
	if os.Getenv("COMBATLOG_DEBUG") != "" {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
