package app

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markdave123-py/knowledge-mcp/internal/config"
)

func memoryConfig(t *testing.T) *config.Config {
	t.Helper()
	t.Setenv("STORE_BACKEND", "memory")
	t.Setenv("EMBED_PROVIDER", "openai")
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("EMBED_DIM", "8")
	t.Setenv("REDIS_URL", "")
	t.Setenv("BUCKET_NAME", "")
	cfg, err := config.LoadConfig()
	require.NoError(t, err)
	return cfg
}

func TestNewApp_MemoryBackend(t *testing.T) {
	a, err := NewApp(t.Context(), memoryConfig(t))
	require.NoError(t, err)
	t.Cleanup(a.Close)

	assert.Nil(t, a.Archive)
	assert.Equal(t, 8, a.Embedder.Dimension())
	require.NotNil(t, a.Service)
}

func TestRouter(t *testing.T) {
	a, err := NewApp(t.Context(), memoryConfig(t))
	require.NoError(t, err)
	t.Cleanup(a.Close)
	h := NewRouter(a.Config, a.Service, a.MCPServer())

	tests := []struct {
		name     string
		method   string
		path     string
		body     string
		owner    string
		wantCode int
	}{
		{"health is public", http.MethodGet, "/healthz", "", "", http.StatusOK},
		{"api requires identity", http.MethodGet, "/api/knowledge-sets", "", "", http.StatusUnauthorized},
		{"mcp requires identity", http.MethodPost, "/mcp", `{}`, "", http.StatusUnauthorized},
		{"create set", http.MethodPost, "/api/knowledge-sets", `{"knowledge_set_id":"docs"}`, "alice", http.StatusCreated},
		{"list sets", http.MethodGet, "/api/knowledge-sets", "", "alice", http.StatusOK},
		{"unknown route", http.MethodGet, "/api/nope", "", "alice", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, strings.NewReader(tt.body))
			req.Header.Set("Content-Type", "application/json")
			if tt.owner != "" {
				req.Header.Set(a.Config.IdentityHeader, tt.owner)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, tt.wantCode, rec.Code, rec.Body.String())
		})
	}
}

func TestMCPOverHTTP_Initialize(t *testing.T) {
	a, err := NewApp(t.Context(), memoryConfig(t))
	require.NoError(t, err)
	t.Cleanup(a.Close)
	h := NewRouter(a.Config, a.Service, a.MCPServer())

	body := `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2025-03-26","capabilities":{},"clientInfo":{"name":"test","version":"0"}}}`
	req := httptest.NewRequest(http.MethodPost, "/mcp", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/event-stream")
	req.Header.Set(a.Config.IdentityHeader, "alice")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), "knowledge-mcp")
}
