package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nvmstm/dudetm/corepersist"
)

var inspectCmd = &cobra.Command{
	Use:   "inspect <path>",
	Short: "Open a pool (recovering if needed) and print its cursors",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := args[0]
		// Options.Small only sizes a freshly created pool; an existing
		// pool file is always reopened at its actual on-disk size, so
		// this inspects a pool created with --small just as safely.
		c, err := corepersist.Open(path, corepersist.Options{})
		if err != nil {
			return fmt.Errorf("inspect: %w", err)
		}
		defer c.NVLogSave()

		stats := c.Stats()
		out := cmd.OutOrStdout()
		fmt.Fprintln(out, "pool:", path)
		fmt.Fprintf(out, "persist   : block=%d offset=%d timestamp=%d\n",
			stats.PersistBlock, stats.PersistOffset, stats.PersistTimestamp)
		fmt.Fprintf(out, "reproduce : block=%d offset=%d timestamp=%d\n",
			stats.ReproduceBlock, stats.ReproduceOffset, stats.ReproduceTimestamp)
		return nil
	},
}
