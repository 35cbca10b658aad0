package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

// version is set via -ldflags "-X .../commands.version=..." at build
// time; it stays "dev" for local builds.
var version = "dev"

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the mcp-gateway version",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), version)
			return nil
		},
	}
}
