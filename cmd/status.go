package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/otusdds/recorder/internal/command"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Query a running recorder daemon for its state",
	Long: `Query the recorder daemon over its local control socket for the
current state and cumulative bytes written.`,
	Run: func(cmd *cobra.Command, args []string) {
		runStatus()
	},
}

func runStatus() {
	out, err := command.QueryStatus(socketPath)
	if err != nil {
		exitWithCode(20, "failed to query daemon status", err)
	}

	body, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		exitWithCode(20, "failed to format status", err)
	}
	fmt.Println(string(body))
}
