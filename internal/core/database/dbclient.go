package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/markdave123-py/knowledge-mcp/internal/config"
	"github.com/markdave123-py/knowledge-mcp/internal/core"
)

var errDuplicateKey = errors.New("duplicate key")

// DbClient is a KnowledgeStore that owns pooled resources.
type DbClient interface {
	core.KnowledgeStore
	Close() error
}

// NewStore opens the backend selected by STORE_BACKEND.
func NewStore(ctx context.Context, cfg *config.Config) (DbClient, error) {
	if cfg == nil {
		return nil, fmt.Errorf("database client configuration is nil")
	}
	switch cfg.StoreBackend {
	case "memory":
		log.Warn().Msg("using the in-memory knowledge store; data is lost on restart")
		return NewMemoryClient(), nil
	case "postgres", "":
		c, err := NewDatabaseClient(ctx, cfg.DatabaseURL, cfg.DBTimeout, cfg.DBMaxConns, cfg.EmbedDim)
		if err != nil {
			return nil, err
		}
		log.Info().Int("dim", cfg.EmbedDim).Int("max_conns", cfg.DBMaxConns).Msg("database initialized and ready")
		return c, nil
	}
	return nil, &core.ConfigurationError{Key: "STORE_BACKEND", Reason: fmt.Sprintf("unknown backend %q", cfg.StoreBackend)}
}
