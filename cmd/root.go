// Package cmd implements the recorder CLI using cobra, grounded on
// firestige-Otus/cmd/root.go's rootCmd/persistent-flags/exitWithError
// shape.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	configFile string
	socketPath string
)

var rootCmd = &cobra.Command{
	Use:   "recorder",
	Short: "DDS Recorder — records DDS samples to a chunked log or relational store",
	Long: `recorder is a DDS pub/sub recorder: it ingests samples from a DDS
domain, buffers and routes them through a four-state machine (RUNNING,
PAUSED, SUSPENDED, STOPPED), and persists them to an append-only output
container.

Commands:
  record    run the recorder daemon in the foreground
  status    query a running daemon over its local control socket
  validate  load and validate a configuration file without starting anything`,
	Version: "0.1.0",
}

// Execute runs the root command; called once from main.main.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "/etc/recorder/config.yaml",
		"config file path")
	rootCmd.PersistentFlags().StringVarP(&socketPath, "socket", "s", "/var/run/recorder.sock",
		"daemon control socket path")

	rootCmd.AddCommand(recordCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(validateCmd)
}

// exitWithCode prints msg/err to stderr and exits with code, matching the
// process exit codes of SPEC_FULL.md §0 (10 bad argument, 11 missing
// required argument, 20 runtime failure).
func exitWithCode(code int, msg string, err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s: %v\n", msg, err)
	} else {
		fmt.Fprintf(os.Stderr, "Error: %s\n", msg)
	}
	os.Exit(code)
}
