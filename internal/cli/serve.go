package cli

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

const shutdownGrace = 15 * time.Second

func NewServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the REST API and the streamable HTTP MCP endpoint",
		Long: `Serve the REST API under /api and the MCP streamable HTTP transport at /mcp on $PORT.
Every request must carry the caller identity (IDENTITY_HEADER, or a bearer token when JWT_SECRET is set).`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
}

func runServe(parent context.Context) error {
	ctx, cancel := signalContext(parent)
	defer cancel()

	application, err := loadApp(ctx)
	if err != nil {
		return err
	}
	defer application.Close()

	server := application.HTTPServer()
	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down...")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancelShutdown()
	return server.Shutdown(shutdownCtx)
}
