package cli

import (
	"github.com/spf13/cobra"
)

func NewMCPCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Run the MCP server on stdin/stdout",
		Long: `Run the MCP server over stdio for local agent integrations.
All tool calls act on behalf of --owner (default $MCP_OWNER_ID). Logs go to stderr.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext(cmd.Context())
			defer cancel()

			application, err := loadApp(ctx)
			if err != nil {
				return err
			}
			defer application.Close()

			owner, err := ownerFlag(cmd, application.Config)
			if err != nil {
				return err
			}
			return application.MCPServer().ServeStdio(ctx, owner)
		},
	}
	cmd.Flags().String("owner", "", "caller identity for every tool call (default $MCP_OWNER_ID)")
	return cmd
}
