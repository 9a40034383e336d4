package mcp

import (
	"context"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	mcpsrv "github.com/mark3labs/mcp-go/server"

	"github.com/markdave123-py/knowledge-mcp/internal/core"
	"github.com/markdave123-py/knowledge-mcp/internal/models"
)

func setIDOption() mcplib.ToolOption {
	return mcplib.WithString("knowledge_set_id",
		mcplib.Description("Identifier of the knowledge set."),
		mcplib.Required(),
	)
}

func requiredArg(req mcplib.CallToolRequest, name string) (string, error) {
	v, ok := stringArg(req, name)
	if !ok || v == "" {
		return "", &core.InvalidArgumentError{Field: name, Reason: "is required"}
	}
	return v, nil
}

// ─── knowledge sets ─────────────────────────────────────────────────────────

func (s *Server) toolCreateKnowledgeSet() mcpsrv.ServerTool {
	tool := mcplib.NewTool("create_knowledge_set",
		mcplib.WithDescription("Create a knowledge set. Creating a set that already exists returns it unchanged."),
		mcplib.WithIdempotentHintAnnotation(true),
		setIDOption(),
	)
	return mcpsrv.ServerTool{Tool: tool, Handler: s.handleCreateKnowledgeSet}
}

func (s *Server) handleCreateKnowledgeSet(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	const name = "create_knowledge_set"
	setID, err := requiredArg(req, "knowledge_set_id")
	if err != nil {
		return resultErr(name, err), nil
	}
	ks, err := s.svc.CreateKnowledgeSet(ctx, owner(ctx), setID)
	if err != nil {
		return resultErr(name, err), nil
	}
	return resultJSON(name, ks)
}

func (s *Server) toolListKnowledgeSets() mcpsrv.ServerTool {
	tool := mcplib.NewTool("list_knowledge_sets",
		mcplib.WithDescription("List your knowledge sets with their creation times."),
		mcplib.WithReadOnlyHintAnnotation(true),
	)
	return mcpsrv.ServerTool{Tool: tool, Handler: s.handleListKnowledgeSets}
}

func (s *Server) handleListKnowledgeSets(ctx context.Context, _ mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	const name = "list_knowledge_sets"
	sets, err := s.svc.ListKnowledgeSets(ctx, owner(ctx))
	if err != nil {
		return resultErr(name, err), nil
	}
	if sets == nil {
		sets = []models.KnowledgeSet{}
	}
	return resultJSON(name, sets)
}

func (s *Server) toolDeleteKnowledgeSet() mcpsrv.ServerTool {
	tool := mcplib.NewTool("delete_knowledge_set",
		mcplib.WithDescription("Delete a knowledge set with all of its files and chunks. Deleting a missing set is reported, not an error."),
		mcplib.WithDestructiveHintAnnotation(true),
		setIDOption(),
	)
	return mcpsrv.ServerTool{Tool: tool, Handler: s.handleDeleteKnowledgeSet}
}

func (s *Server) handleDeleteKnowledgeSet(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	const name = "delete_knowledge_set"
	setID, err := requiredArg(req, "knowledge_set_id")
	if err != nil {
		return resultErr(name, err), nil
	}
	res, err := s.svc.DeleteKnowledgeSet(ctx, owner(ctx), setID)
	if err != nil {
		return resultErr(name, err), nil
	}
	return resultJSON(name, res)
}

// ─── ingestion and retrieval ────────────────────────────────────────────────

func (s *Server) toolIngestFile() mcpsrv.ServerTool {
	tool := mcplib.NewTool("ingest_file",
		mcplib.WithDescription(`Ingest a file into a knowledge set.

The file is converted to text, chunked and embedded. Uploading a filename that already exists creates
a new version and replaces the old chunks. Uploading identical content reports the existing file as a
duplicate. Supported types include txt, md, html, csv, json, xlsx, pdf, docx, odt, rtf and pptx.`),
		setIDOption(),
		mcplib.WithString("filename",
			mcplib.Description("File name including its extension, e.g. report.pdf."),
			mcplib.Required(),
		),
		mcplib.WithString("content",
			mcplib.Description("Raw file bytes, base64 encoded."),
			mcplib.Required(),
		),
	)
	return mcpsrv.ServerTool{Tool: tool, Handler: s.handleIngestFile}
}

func (s *Server) handleIngestFile(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	const name = "ingest_file"
	setID, err := requiredArg(req, "knowledge_set_id")
	if err != nil {
		return resultErr(name, err), nil
	}
	filename, err := requiredArg(req, "filename")
	if err != nil {
		return resultErr(name, err), nil
	}
	content, _ := stringArg(req, "content")

	res, err := s.svc.IngestBase64(ctx, owner(ctx), setID, filename, content)
	if err != nil {
		return resultErr(name, err), nil
	}
	return resultJSON(name, res)
}

func (s *Server) toolQueryKnowledgeSet() mcpsrv.ServerTool {
	tool := mcplib.NewTool("query_knowledge_set",
		mcplib.WithDescription("Return the text chunks most similar to the query, best match first. Scores range up to 1."),
		mcplib.WithReadOnlyHintAnnotation(true),
		setIDOption(),
		mcplib.WithString("query_text",
			mcplib.Description("Natural-language query."),
			mcplib.Required(),
		),
		mcplib.WithNumber("top_k",
			mcplib.Description("Maximum number of chunks to return (1-100). Defaults to the server setting."),
		),
	)
	return mcpsrv.ServerTool{Tool: tool, Handler: s.handleQueryKnowledgeSet}
}

func (s *Server) handleQueryKnowledgeSet(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	const name = "query_knowledge_set"
	setID, err := requiredArg(req, "knowledge_set_id")
	if err != nil {
		return resultErr(name, err), nil
	}
	queryText, _ := stringArg(req, "query_text")

	matches, err := s.svc.Query(ctx, owner(ctx), setID, queryText, intArg(req, "top_k", 0))
	if err != nil {
		return resultErr(name, err), nil
	}
	if matches == nil {
		matches = []models.ChunkMatch{}
	}
	return resultJSON(name, matches)
}

// ─── files ──────────────────────────────────────────────────────────────────

func (s *Server) toolListFiles() mcpsrv.ServerTool {
	tool := mcplib.NewTool("list_files",
		mcplib.WithDescription("List the latest version of every file in a knowledge set."),
		mcplib.WithReadOnlyHintAnnotation(true),
		setIDOption(),
		mcplib.WithBoolean("include_text",
			mcplib.Description("Include the full extracted text of each file. Defaults to false."),
		),
	)
	return mcpsrv.ServerTool{Tool: tool, Handler: s.handleListFiles}
}

func (s *Server) handleListFiles(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	const name = "list_files"
	setID, err := requiredArg(req, "knowledge_set_id")
	if err != nil {
		return resultErr(name, err), nil
	}
	files, err := s.svc.ListFiles(ctx, owner(ctx), setID, boolArg(req, "include_text"))
	if err != nil {
		return resultErr(name, err), nil
	}
	if files == nil {
		files = []models.FileRecord{}
	}
	return resultJSON(name, files)
}

func (s *Server) toolDeleteFile() mcpsrv.ServerTool {
	tool := mcplib.NewTool("delete_file",
		mcplib.WithDescription("Delete one file and its chunks. Deleting a missing file is reported, not an error."),
		mcplib.WithDestructiveHintAnnotation(true),
		setIDOption(),
		mcplib.WithString("file_id",
			mcplib.Description("Identifier of the file, as returned by ingest_file or list_files."),
			mcplib.Required(),
		),
	)
	return mcpsrv.ServerTool{Tool: tool, Handler: s.handleDeleteFile}
}

func (s *Server) handleDeleteFile(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	const name = "delete_file"
	setID, err := requiredArg(req, "knowledge_set_id")
	if err != nil {
		return resultErr(name, err), nil
	}
	fileID, err := requiredArg(req, "file_id")
	if err != nil {
		return resultErr(name, err), nil
	}
	res, err := s.svc.DeleteFile(ctx, owner(ctx), setID, fileID)
	if err != nil {
		return resultErr(name, err), nil
	}
	return resultJSON(name, res)
}
