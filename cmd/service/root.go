package main

import (
	"github.com/spf13/cobra"
)

// newRootCmd returns the service command. Running it without a subcommand serves.
func newRootCmd() *cobra.Command {
	serve := newServeCmd()
	root := &cobra.Command{
		Use:           "garden-weather-service",
		Short:         "Keeps garden weather fresh and pushes updates to websocket clients",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          serve.RunE,
	}
	root.AddCommand(serve, newWeatherCmd())
	return root
}
