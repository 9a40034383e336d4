package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/markdave123-py/knowledge-mcp/internal/services"
)

// Mount registers the knowledge-set routes on r. Callers install the identity middleware.
func Mount(r chi.Router, svc *services.KnowledgeService) {
	sets := NewKnowledgeSetHandler(svc)
	files := NewFileHandler(svc)
	query := NewQueryHandler(svc)

	r.Route("/knowledge-sets", func(ks chi.Router) {
		ks.Post("/", sets.Create)
		ks.Get("/", sets.List)

		ks.Route("/{setID}", func(one chi.Router) {
			one.Delete("/", sets.Delete)
			one.Post("/query", query.Query)

			one.Get("/files", files.List)
			one.Post("/files", files.Ingest)
			one.Get("/files/{fileID}", files.Get)
			one.Get("/files/{fileID}/raw", files.Raw)
			one.Delete("/files/{fileID}", files.Delete)
		})
	})
}

// Health answers liveness probes.
func Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
