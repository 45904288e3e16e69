package main

import (
	"fmt"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/nvmstm/dudetm/corepersist"
	"github.com/nvmstm/dudetm/internal/corelog"
)

var serveMetricsCmd = &cobra.Command{
	Use:   "serve-metrics <pool-path> <addr>",
	Short: "Open a pool and serve its measurement hooks at /metrics",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		path, addr := args[0], args[1]
		c, err := corepersist.Open(path, corepersist.Options{MeasurementEnabled: true})
		if err != nil {
			return fmt.Errorf("serve-metrics: %w", err)
		}

		mux := http.NewServeMux()
		mux.Handle("/metrics", c.Hooks().Handler())

		corelog.WithComponent("dudetmctl").Info().Str("addr", addr).Msg("serving metrics")
		return http.ListenAndServe(addr, mux)
	},
}
