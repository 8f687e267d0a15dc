// Package app provides the entry point for the toolgate command-line
// application.
package app

import (
	"github.com/spf13/cobra"

	"github.com/stacklok/toolgate/pkg/logger"
)

var rootCmd = &cobra.Command{
	Use:               "toolgate",
	DisableAutoGenTag: true,
	Short:             "Toolgate is an access-control gateway for tool servers",
	Long: `Toolgate sits in front of tool servers and enforces access control on
every call: bearer-token authentication (local JWT verification or remote
introspection), sliding-window rate limiting, RBAC with per-tenant
isolation policies, and encrypted storage with rotation for the
credentials each tenant uses to reach its downstream API.`,
	Run: func(cmd *cobra.Command, _ []string) {
		// If no subcommand is provided, print help
		if err := cmd.Help(); err != nil {
			logger.Errorf("Error displaying help: %v", err)
		}
	},
}

// NewRootCmd creates a new root command for the toolgate CLI.
func NewRootCmd() *cobra.Command {
	rootCmd.AddCommand(serveCmd())
	return rootCmd
}
