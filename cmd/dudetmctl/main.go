// Command dudetmctl creates, inspects, and serves metrics for a
// dudetm pool file standalone, outside the STM engine's own process.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Version information (set via ldflags during build)
	Version = "dev"
	Commit  = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "dudetmctl",
	Short:   "Operator tooling for a dudetm NVM pool file",
	Long:    `dudetmctl creates, inspects, and recovers a dudetm pool file and can serve its measurement hooks over HTTP, independent of any STM engine process.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("dudetmctl version %s\nCommit: %s\n", Version, Commit))
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(inspectCmd)
	rootCmd.AddCommand(serveMetricsCmd)
}
