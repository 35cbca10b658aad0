// Package commands wires the mcp-gateway binary's cobra command tree.
package commands

import (
	"github.com/spf13/cobra"
)

const helpTemplate = `MCP Gateway & Registry - routes and catalogs Model Context Protocol servers.
{{if .UseLine}}
Usage: {{.UseLine}}
{{end}}{{if .HasAvailableLocalFlags}}
Flags:
{{.LocalFlags.FlagUsages | trimTrailingWhitespaces}}
{{end}}{{if .HasAvailableSubCommands}}
Available Commands:
{{range .Commands}}{{if .IsAvailableCommand}}  {{rpad .Name .NamePadding}} {{.Short}}
{{end}}{{end}}{{end}}
`

// Root returns the mcp-gateway binary's root command.
func Root() *cobra.Command {
	cmd := &cobra.Command{
		Use:              "mcp-gateway",
		Short:            "Route, authenticate, and catalog Model Context Protocol servers",
		TraverseChildren: true,
	}
	cmd.SetHelpTemplate(helpTemplate)

	cmd.AddCommand(newServeCommand())
	cmd.AddCommand(newVersionCommand())
	return cmd
}
