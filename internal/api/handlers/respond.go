package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/markdave123-py/knowledge-mcp/internal/core"
)

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Msg("failed to write response")
	}
}

// writeError renders err as {"error":{"kind","message"}} with the matching status code.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := core.KindOf(err)
	status := statusFor(err, kind)
	if status >= http.StatusInternalServerError {
		log.Error().Err(err).Str("kind", kind).Str("path", r.URL.Path).Msg("request failed")
	}
	writeJSON(w, status, errorBody{Error: errorDetail{Kind: kind, Message: core.UserMessage(err)}})
}

func statusFor(err error, kind string) int {
	switch kind {
	case core.KindAuthentication:
		return http.StatusUnauthorized
	case core.KindNotFound:
		return http.StatusNotFound
	case core.KindInvalidArgument:
		return http.StatusBadRequest
	case core.KindExtraction:
		return http.StatusUnprocessableEntity
	case core.KindEmbedding:
		var embErr *core.EmbeddingError
		if errors.As(err, &embErr) && embErr.Kind.Retryable() {
			return http.StatusServiceUnavailable
		}
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return &core.InvalidArgumentError{Field: "body", Reason: err.Error()}
	}
	return nil
}
