package app

import (
	"context"
	stdlog "log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog/log"

	"github.com/markdave123-py/knowledge-mcp/internal/api/handlers"
	mcpapi "github.com/markdave123-py/knowledge-mcp/internal/api/mcp"
	appMiddleware "github.com/markdave123-py/knowledge-mcp/internal/api/middlewares"
	"github.com/markdave123-py/knowledge-mcp/internal/config"
	"github.com/markdave123-py/knowledge-mcp/internal/services"
)

// apiTimeout bounds every REST call; ingestion carries its own shorter deadline.
const apiTimeout = 6 * time.Minute

// Server wraps the HTTP server instance and its handlers.
type Server struct {
	httpServer *http.Server
}

// NewServer builds and wires all routes.
func NewServer(cfg *config.Config, svc *services.KnowledgeService, mcpSrv *mcpapi.Server) *Server {
	httpSrv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           NewRouter(cfg, svc, mcpSrv),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return &Server{httpServer: httpSrv}
}

// NewRouter returns the chi router serving /healthz, /api and /mcp.
func NewRouter(cfg *config.Config, svc *services.KnowledgeService, mcpSrv *mcpapi.Server) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestLogger(&middleware.DefaultLogFormatter{
		Logger:  stdlog.New(log.Logger, "", 0),
		NoColor: true,
	}))
	r.Use(middleware.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", cfg.IdentityHeader, "Mcp-Session-Id", "Mcp-Protocol-Version"},
		ExposedHeaders:   []string{"Mcp-Session-Id"},
		AllowCredentials: true,
	}))

	r.Get("/healthz", handlers.Health)

	identity := appMiddleware.Identity(appMiddleware.IdentityConfig{
		Header:    cfg.IdentityHeader,
		JWTSecret: cfg.JWTSecret,
	})

	r.Route("/api", func(api chi.Router) {
		api.Use(identity)
		api.Use(middleware.Timeout(apiTimeout))
		handlers.Mount(api, svc)
	})

	if mcpSrv != nil {
		r.Group(func(protected chi.Router) {
			protected.Use(identity)
			protected.Handle("/mcp", mcpSrv.HTTPHandler("/mcp"))
		})
	}
	return r
}

// Start runs the HTTP server until Shutdown is called.
func (s *Server) Start() error {
	log.Info().Str("addr", s.httpServer.Addr).Msg("HTTP server listening")
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	log.Info().Msg("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}
