package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/markdave123-py/knowledge-mcp/internal/app"
	"github.com/markdave123-py/knowledge-mcp/internal/config"
	"github.com/markdave123-py/knowledge-mcp/internal/core"
)

func NewRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "knowledge-mcp",
		Short: "Multi-tenant document ingestion and semantic retrieval",
		Long: `knowledge-mcp stores documents in per-user knowledge sets, embeds them in chunks and answers
similarity queries over REST, MCP (stdio or streamable HTTP) and this CLI.

Configuration comes from the environment and an optional .env file.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(NewServeCommand())
	rootCmd.AddCommand(NewMCPCommand())
	rootCmd.AddCommand(NewMigrateCommand())
	rootCmd.AddCommand(NewIngestCommand())
	rootCmd.AddCommand(NewQueryCommand())

	return rootCmd
}

// Execute runs the root command
func Execute() {
	if err := NewRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", core.UserMessage(err))
		os.Exit(1)
	}
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

// loadApp reads configuration, sets up logging and builds the application.
func loadApp(ctx context.Context) (*app.App, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, err
	}
	app.SetupLogging(cfg.LogLevel, cfg.LogFormat)
	return app.NewApp(ctx, cfg)
}

// ownerFlag resolves --owner, falling back to MCP_OWNER_ID.
func ownerFlag(cmd *cobra.Command, cfg *config.Config) (string, error) {
	owner, _ := cmd.Flags().GetString("owner")
	if owner == "" {
		owner = cfg.MCPOwnerID
	}
	if owner == "" {
		return "", &core.AuthenticationError{Reason: "pass --owner or set MCP_OWNER_ID"}
	}
	return owner, nil
}
