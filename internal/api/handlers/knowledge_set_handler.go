package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	middleware "github.com/markdave123-py/knowledge-mcp/internal/api/middlewares"
	"github.com/markdave123-py/knowledge-mcp/internal/services"
)

type KnowledgeSetHandler struct {
	svc *services.KnowledgeService
}

func NewKnowledgeSetHandler(svc *services.KnowledgeService) *KnowledgeSetHandler {
	return &KnowledgeSetHandler{svc: svc}
}

type createSetRequest struct {
	KnowledgeSetID string `json:"knowledge_set_id"`
}

func (h *KnowledgeSetHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createSetRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	ks, err := h.svc.CreateKnowledgeSet(r.Context(), middleware.OwnerFromContext(r.Context()), req.KnowledgeSetID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, ks)
}

func (h *KnowledgeSetHandler) List(w http.ResponseWriter, r *http.Request) {
	sets, err := h.svc.ListKnowledgeSets(r.Context(), middleware.OwnerFromContext(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sets)
}

func (h *KnowledgeSetHandler) Delete(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.DeleteKnowledgeSet(r.Context(), middleware.OwnerFromContext(r.Context()), chi.URLParam(r, "setID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
