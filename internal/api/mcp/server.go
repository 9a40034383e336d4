package mcp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	mcpsrv "github.com/mark3labs/mcp-go/server"
	"github.com/rs/zerolog/log"

	middleware "github.com/markdave123-py/knowledge-mcp/internal/api/middlewares"
	"github.com/markdave123-py/knowledge-mcp/internal/core"
	"github.com/markdave123-py/knowledge-mcp/internal/services"
)

const (
	serverName    = "knowledge-mcp"
	serverVersion = "1.0.0"
)

const instructions = `You are connected to a knowledge base server.

Documents are grouped into knowledge sets. Create a set, ingest files into it (content is base64), then query it
with natural language to retrieve the most relevant text chunks. Re-ingesting a file with the same name creates a new
version and replaces its chunks; ingesting identical content again is detected as a duplicate.`

// Server exposes the knowledge service as MCP tools. The caller identity always comes from
// the transport: the HTTP identity middleware, or the configured owner for stdio.
type Server struct {
	mcp *mcpsrv.MCPServer
	svc *services.KnowledgeService
}

func New(svc *services.KnowledgeService) *Server {
	s := &Server{svc: svc}
	s.mcp = mcpsrv.NewMCPServer(
		serverName,
		serverVersion,
		mcpsrv.WithInstructions(instructions),
		mcpsrv.WithToolCapabilities(false),
		mcpsrv.WithRecovery(),
	)
	for _, t := range s.tools() {
		s.mcp.AddTool(t.Tool, t.Handler)
	}
	return s
}

// HTTPHandler returns a Streamable HTTP handler. It must sit behind middleware.Identity.
func (s *Server) HTTPHandler(endpoint string) http.Handler {
	return mcpsrv.NewStreamableHTTPServer(s.mcp,
		mcpsrv.WithEndpointPath(endpoint),
		mcpsrv.WithHTTPContextFunc(func(ctx context.Context, r *http.Request) context.Context {
			return middleware.WithOwner(ctx, middleware.OwnerFromContext(r.Context()))
		}),
	)
}

// ServeStdio runs the server over stdin/stdout until ctx is cancelled. Every call acts as ownerID.
func (s *Server) ServeStdio(ctx context.Context, ownerID string) error {
	if ownerID == "" {
		return &core.ConfigurationError{Key: "MCP_OWNER_ID", Reason: "is required for the stdio transport"}
	}
	srv := mcpsrv.NewStdioServer(s.mcp)
	srv.SetContextFunc(func(ctx context.Context) context.Context {
		return middleware.WithOwner(ctx, ownerID)
	})
	log.Info().Str("owner_id", ownerID).Msg("mcp server listening on stdio")
	if err := srv.Listen(ctx, os.Stdin, os.Stdout); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, context.Canceled) {
			return nil
		}
		return fmt.Errorf("mcp stdio server error: %w", err)
	}
	return nil
}

func (s *Server) tools() []mcpsrv.ServerTool {
	return []mcpsrv.ServerTool{
		s.toolCreateKnowledgeSet(),
		s.toolListKnowledgeSets(),
		s.toolDeleteKnowledgeSet(),
		s.toolIngestFile(),
		s.toolQueryKnowledgeSet(),
		s.toolListFiles(),
		s.toolDeleteFile(),
	}
}

// resultErr renders err as "kind: message" with IsError set.
func resultErr(tool string, err error) *mcplib.CallToolResult {
	kind := core.KindOf(err)
	if kind == core.KindInternal || kind == core.KindStore {
		log.Error().Err(err).Str("tool", tool).Msg("mcp tool failed")
	}
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{mcplib.NewTextContent(fmt.Sprintf("%s: %s", kind, core.UserMessage(err)))},
		IsError: true,
	}
}

func resultJSON(tool string, v any) (*mcplib.CallToolResult, error) {
	res, err := mcplib.NewToolResultJSON(v)
	if err != nil {
		return resultErr(tool, err), nil
	}
	return res, nil
}

// stringArg extracts a named string argument. Returns ("", false) when absent or not a string.
func stringArg(req mcplib.CallToolRequest, name string) (string, bool) {
	args := req.GetArguments()
	if args == nil {
		return "", false
	}
	v, ok := args[name]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// intArg extracts a named int argument. JSON numbers arrive as float64.
func intArg(req mcplib.CallToolRequest, name string, defaultVal int) int {
	switch n := req.GetArguments()[name].(type) {
	case float64:
		return int(n)
	case int:
		return n
	}
	return defaultVal
}

func boolArg(req mcplib.CallToolRequest, name string) bool {
	b, _ := req.GetArguments()[name].(bool)
	return b
}

func owner(ctx context.Context) string {
	return middleware.OwnerFromContext(ctx)
}
