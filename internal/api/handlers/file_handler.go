package handlers

import (
	"context"
	"errors"
	"io"
	"mime"
	"net/http"
	"path/filepath"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	middleware "github.com/markdave123-py/knowledge-mcp/internal/api/middlewares"
	"github.com/markdave123-py/knowledge-mcp/internal/core"
	"github.com/markdave123-py/knowledge-mcp/internal/models"
	"github.com/markdave123-py/knowledge-mcp/internal/services"
)

const (
	maxUploadBytes = 64 << 20 // 64 MB
	ingestTimeout  = 5 * time.Minute
)

type FileHandler struct {
	svc *services.KnowledgeService
}

func NewFileHandler(svc *services.KnowledgeService) *FileHandler {
	return &FileHandler{svc: svc}
}

type ingestRequest struct {
	Filename string `json:"filename"`
	Content  string `json:"content"`
}

// Ingest accepts either a multipart "file" field or a JSON body with base64 content.
// New files and versions answer 201; duplicates answer 200.
func (h *FileHandler) Ingest(w http.ResponseWriter, r *http.Request) {
	owner := middleware.OwnerFromContext(r.Context())
	setID := chi.URLParam(r, "setID")
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)

	filename, data, err := readUpload(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), ingestTimeout)
	defer cancel()

	res, err := h.svc.Ingest(ctx, owner, setID, filename, data)
	if err != nil {
		writeError(w, r, err)
		return
	}
	status := http.StatusCreated
	if res.IsDuplicate {
		status = http.StatusOK
	}
	writeJSON(w, status, res)
}

func readUpload(r *http.Request) (string, []byte, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType != "multipart/form-data" {
		var req ingestRequest
		if err := decodeJSON(r, &req); err != nil {
			return "", nil, err
		}
		data, err := services.DecodeContent(req.Content)
		if err != nil {
			return "", nil, err
		}
		return req.Filename, data, nil
	}

	if err := r.ParseMultipartForm(32 << 20); err != nil {
		return "", nil, uploadErr(err)
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		return "", nil, &core.InvalidArgumentError{Field: "file", Reason: err.Error()}
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return "", nil, uploadErr(err)
	}
	// Strip any client-side path components.
	return filepath.Base(header.Filename), data, nil
}

func uploadErr(err error) error {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return &core.InvalidArgumentError{Field: "file", Reason: "exceeds " + strconv.FormatInt(tooLarge.Limit, 10) + " bytes"}
	}
	return &core.InvalidArgumentError{Field: "file", Reason: err.Error()}
}

func includeText(r *http.Request) bool {
	v, _ := strconv.ParseBool(r.URL.Query().Get("include_text"))
	return v
}

func (h *FileHandler) List(w http.ResponseWriter, r *http.Request) {
	files, err := h.svc.ListFiles(r.Context(), middleware.OwnerFromContext(r.Context()), chi.URLParam(r, "setID"), includeText(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if files == nil {
		files = []models.FileRecord{}
	}
	writeJSON(w, http.StatusOK, files)
}

func (h *FileHandler) Get(w http.ResponseWriter, r *http.Request) {
	f, err := h.svc.GetFile(r.Context(), middleware.OwnerFromContext(r.Context()), chi.URLParam(r, "setID"), chi.URLParam(r, "fileID"), includeText(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, f)
}

// Raw streams the archived original upload.
func (h *FileHandler) Raw(w http.ResponseWriter, r *http.Request) {
	f, data, err := h.svc.RawFile(r.Context(), middleware.OwnerFromContext(r.Context()), chi.URLParam(r, "setID"), chi.URLParam(r, "fileID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	contentType := mime.TypeByExtension(filepath.Ext(f.Metadata.Filename))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": f.Metadata.Filename}))
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (h *FileHandler) Delete(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.DeleteFile(r.Context(), middleware.OwnerFromContext(r.Context()), chi.URLParam(r, "setID"), chi.URLParam(r, "fileID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
