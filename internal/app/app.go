package app

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	mcpapi "github.com/markdave123-py/knowledge-mcp/internal/api/mcp"
	"github.com/markdave123-py/knowledge-mcp/internal/config"
	"github.com/markdave123-py/knowledge-mcp/internal/core"
	db "github.com/markdave123-py/knowledge-mcp/internal/core/database"
	"github.com/markdave123-py/knowledge-mcp/internal/core/ingestion_engine"
	"github.com/markdave123-py/knowledge-mcp/internal/core/llm"
	objectclient "github.com/markdave123-py/knowledge-mcp/internal/core/object-client"
	"github.com/markdave123-py/knowledge-mcp/internal/services"
)

// App owns every long-lived dependency. Front-ends are built from it on demand.
type App struct {
	Config   *config.Config
	Store    db.DbClient
	Archive  core.ObjectClient
	Embedder *llm.Client
	Ingestor *ingestion_engine.DocumentIngestor
	Service  *services.KnowledgeService

	closeEmbedder func()
}

func NewApp(ctx context.Context, cfg *config.Config) (*App, error) {
	appCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	store, err := db.NewStore(appCtx, cfg)
	if err != nil {
		return nil, err
	}

	embedder, closeEmbedder, err := llm.NewEmbedder(appCtx, cfg)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("couldn't initialize the embedder: %w", err)
	}

	var archive core.ObjectClient
	if cfg.ArchiveEnabled() {
		s3, err := objectclient.NewS3Client(appCtx, cfg)
		if err != nil {
			closeEmbedder()
			_ = store.Close()
			return nil, err
		}
		archive = s3
		log.Info().Str("bucket", cfg.BucketName).Msg("object client initialized and ready")
	} else {
		log.Info().Msg("raw upload archive disabled")
	}

	useReadability := false
	extractor := ingestion_engine.NewExtractor(useReadability)
	ingestor := ingestion_engine.NewDocumentIngestor(store, archive, embedder, extractor, ingestion_engine.IngestConfigFrom(cfg))

	return &App{
		Config:        cfg,
		Store:         store,
		Archive:       archive,
		Embedder:      embedder,
		Ingestor:      ingestor,
		Service:       services.NewKnowledgeService(store, archive, ingestor),
		closeEmbedder: closeEmbedder,
	}, nil
}

// MCPServer builds the MCP front-end over the shared service.
func (a *App) MCPServer() *mcpapi.Server {
	return mcpapi.New(a.Service)
}

// HTTPServer builds the REST + streamable MCP front-end.
func (a *App) HTTPServer() *Server {
	return NewServer(a.Config, a.Service, a.MCPServer())
}

func (a *App) Close() {
	if a.closeEmbedder != nil {
		a.closeEmbedder()
	}
	if a.Store != nil {
		_ = a.Store.Close()
	}
}
