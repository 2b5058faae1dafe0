package main

import (
	"github.com/spf13/cobra"
)

func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "userauth",
		Short: "User accounts API: registration, verification, sessions, password reset",
		// running without a subcommand starts the server
		RunE:          runServe,
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	cmd.AddCommand(NewServeCmd())
	cmd.AddCommand(NewMigrateCmd())

	return cmd
}
