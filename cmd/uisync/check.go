package main

import (
	"github.com/spf13/cobra"
)

func checkConfigCmd() *cobra.Command {
	var flags configFlags

	cmd := &cobra.Command{
		Use:   "check-config",
		Short: "Validate the configuration and print the effective settings",
		Long: `Load uisync.json, apply the flags and validate the result
without starting the server.

Examples:
  uisync check-config
  uisync check-config --config deploy/uisync.json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.load(cmd)
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			source := cfg.Path()
			if source == "" {
				source = "defaults"
			}
			success(w, "configuration is valid (%s)", source)
			info(w, "address:        %s", cfg.Server.Address)
			info(w, "endpoint:       %s", cfg.Server.Path)
			if cfg.Server.WebSocketPath != "" {
				info(w, "websocket:      %s", cfg.Server.WebSocketPath)
			}
			if cfg.Server.Compress {
				info(w, "compression:    gzip")
			}
			info(w, "session idle:   %s (sweep every %s)", cfg.Session.IdleTimeout, cfg.Session.SweepInterval)
			if cfg.Static.Dir != "" {
				info(w, "static files:   %s", cfg.StaticDir())
			}
			if cfg.Metrics.Enabled {
				info(w, "metrics:        %s", cfg.Metrics.Path)
			}
			info(w, "log:            %s, %s", cfg.Log.Level, cfg.Log.Format)
			return nil
		},
	}

	flags.register(cmd)
	return cmd
}
