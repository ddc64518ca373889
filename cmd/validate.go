package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/otusdds/recorder/internal/config"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a recorder configuration file",
	Long: `Load and validate a recorder configuration file without starting
the daemon. Exits 20 and prints the failing rule on an invalid config.`,
	Run: func(cmd *cobra.Command, args []string) {
		runValidate()
	},
}

func runValidate() {
	cfg, err := config.Load(configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "INVALID: %v\n", err)
		os.Exit(20)
	}

	fmt.Printf("VALID: container=%s initial-state=%s buffer-size=%d\n",
		cfg.Recorder.Output.Container, cfg.Recorder.InitialState, cfg.Recorder.BufferSize)
}
