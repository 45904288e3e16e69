package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nvmstm/dudetm/corepersist"
	"github.com/nvmstm/dudetm/internal/corelog"
)

var initSmall bool

var initCmd = &cobra.Command{
	Use:   "init <path>",
	Short: "Create a fresh dudetm pool file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := args[0]
		c, err := corepersist.Open(path, corepersist.Options{Small: initSmall})
		if err != nil {
			return fmt.Errorf("init: %w", err)
		}
		if err := c.NVLogSave(); err != nil {
			return fmt.Errorf("init: closing pool: %w", err)
		}
		corelog.WithComponent("dudetmctl").Info().Str("path", path).Msg("pool initialized")
		return nil
	},
}

func init() {
	initCmd.Flags().BoolVar(&initSmall, "small", false, "use the 128 MiB small-pool mode instead of 1 GiB")
}
