// Command coordinatord runs one session coordinator instance: it serves
// the control-plane-facing /internal/* API and the client/sandbox
// WebSocket endpoint for a single session.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

var rootCmd = &cobra.Command{
	Use:     "coordinatord",
	Short:   "Session coordinator daemon",
	Long:    "coordinatord brokers one session between its human participants and its ephemeral sandbox.",
	Version: version,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
