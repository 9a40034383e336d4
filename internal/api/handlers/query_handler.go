package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	middleware "github.com/markdave123-py/knowledge-mcp/internal/api/middlewares"
	"github.com/markdave123-py/knowledge-mcp/internal/services"
)

type QueryHandler struct {
	svc *services.KnowledgeService
}

func NewQueryHandler(svc *services.KnowledgeService) *QueryHandler {
	return &QueryHandler{svc: svc}
}

type QueryRequest struct {
	QueryText string `json:"query_text"`
	TopK      int    `json:"top_k,omitempty"`
}

// Query returns the chunks most similar to query_text, best first.
func (h *QueryHandler) Query(w http.ResponseWriter, r *http.Request) {
	var req QueryRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	matches, err := h.svc.Query(r.Context(), middleware.OwnerFromContext(r.Context()), chi.URLParam(r, "setID"), req.QueryText, req.TopK)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, matches)
}
