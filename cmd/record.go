package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/otusdds/recorder/internal/daemon"
	"github.com/otusdds/recorder/internal/ingress"
)

var recordCmd = &cobra.Command{
	Use:   "record",
	Short: "Run the recorder daemon in the foreground",
	Long: `Run the recorder daemon: load configuration, build the
Controller/Handler/Writer/CommandReceiver graph, install signal handling,
and block until a shutdown signal, a close command, or a fatal error.

DDS transport is not implemented by this binary (SPEC_FULL.md §4
Non-goals); record starts with no ingress attached, which is still useful
for driving the recorder purely from its command plane (status/start/
pause/stop via UDS or Kafka) in combination with an external adapter
implementing ingress.DDSIngress.`,
	Run: func(cmd *cobra.Command, args []string) {
		runRecord()
	},
}

var pidFile string

func init() {
	recordCmd.Flags().StringVarP(&pidFile, "pidfile", "p", "/var/run/recorder.pid",
		"PID file path")
}

func runRecord() {
	// No production DDS transport ships with this binary (SPEC_FULL.md
	// §4); record runs the full component graph with the ingress slot
	// empty, controllable entirely through its command plane.
	var in ingress.DDSIngress
	var reg ingress.TypeRegistry

	d, err := daemon.New(configFile, socketPath, pidFile, in, reg)
	if err != nil {
		exitWithCode(20, "failed to construct daemon", err)
	}

	if err := d.Start(); err != nil {
		exitWithCode(20, "failed to start daemon", err)
	}

	if err := d.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "recorder exited: %v\n", err)
		os.Exit(20)
	}
}
