// Package main is the entry point for the DDS recorder.
package main

import (
	"fmt"
	"os"

	"github.com/otusdds/recorder/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		// Subcommands exit on their own runtime failures (code 20), so an
		// error reaching here is a command-line error.
		os.Exit(10)
	}
}
