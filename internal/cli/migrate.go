package cli

import (
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/markdave123-py/knowledge-mcp/internal/app"
	"github.com/markdave123-py/knowledge-mcp/internal/config"
	db "github.com/markdave123-py/knowledge-mcp/internal/core/database"
)

func NewMigrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations and create the vector index",
		Long: `Apply pending schema migrations to $DATABASE_URL and create the HNSW index for $EMBED_DIM.
The server also migrates on startup; this command is for deploy pipelines.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadStoreConfig()
			if err != nil {
				return err
			}
			app.SetupLogging(cfg.LogLevel, cfg.LogFormat)

			if err := db.MigrateURL(cmd.Context(), cfg.DatabaseURL, cfg.EmbedDim); err != nil {
				return err
			}
			log.Info().Int("dim", cfg.EmbedDim).Msg("database is up to date")
			return nil
		},
	}
}
