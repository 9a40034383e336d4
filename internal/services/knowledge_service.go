package services

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"

	"github.com/markdave123-py/knowledge-mcp/internal/core"
	"github.com/markdave123-py/knowledge-mcp/internal/core/ingestion_engine"
	objectclient "github.com/markdave123-py/knowledge-mcp/internal/core/object-client"
	"github.com/markdave123-py/knowledge-mcp/internal/models"
)

// MaxTopK bounds the number of matches a single query may return.
const MaxTopK = 100

// knowledgeSetIDRule keeps ids usable as URL path segments and object-key prefixes.
const knowledgeSetIDRule = "required,max=128,printascii,excludesall=/\\?#"

// KnowledgeService is the single entry point shared by the REST, MCP and CLI front-ends.
// Every method takes the caller identity explicitly; it never comes from request payloads.
type KnowledgeService struct {
	store    core.KnowledgeStore
	archive  core.ObjectClient
	ingestor *ingestion_engine.DocumentIngestor
	validate *validator.Validate
}

func NewKnowledgeService(store core.KnowledgeStore, archive core.ObjectClient, ing *ingestion_engine.DocumentIngestor) *KnowledgeService {
	return &KnowledgeService{
		store:    store,
		archive:  archive,
		ingestor: ing,
		validate: validator.New(),
	}
}

func requireOwner(ownerID string) error {
	if strings.TrimSpace(ownerID) == "" {
		return &core.AuthenticationError{Reason: "missing caller identity"}
	}
	return nil
}

func (s *KnowledgeService) checkSetID(setID string) error {
	if err := s.validate.Var(setID, knowledgeSetIDRule); err != nil {
		return &core.InvalidArgumentError{Field: "knowledge_set_id", Reason: "must be 1-128 printable characters without / ? # or \\"}
	}
	return nil
}

// CreateKnowledgeSet is idempotent: an existing set is returned unchanged.
func (s *KnowledgeService) CreateKnowledgeSet(ctx context.Context, ownerID, setID string) (*models.KnowledgeSet, error) {
	if err := requireOwner(ownerID); err != nil {
		return nil, err
	}
	if err := s.checkSetID(setID); err != nil {
		return nil, err
	}
	ks, err := s.store.CreateKnowledgeSet(ctx, ownerID, setID)
	if err != nil {
		return nil, err
	}
	log.Info().Str("owner_id", ownerID).Str("knowledge_set_id", setID).Msg("knowledge set ready")
	return ks, nil
}

func (s *KnowledgeService) ListKnowledgeSets(ctx context.Context, ownerID string) ([]models.KnowledgeSet, error) {
	if err := requireOwner(ownerID); err != nil {
		return nil, err
	}
	return s.store.ListKnowledgeSets(ctx, ownerID)
}

// DeleteKnowledgeSet removes the set with all files and chunks. An absent set is reported,
// not treated as an error.
func (s *KnowledgeService) DeleteKnowledgeSet(ctx context.Context, ownerID, setID string) (*models.DeleteResult, error) {
	if err := requireOwner(ownerID); err != nil {
		return nil, err
	}
	if err := s.checkSetID(setID); err != nil {
		return nil, err
	}
	deleted, err := s.store.DeleteKnowledgeSet(ctx, ownerID, setID)
	if err != nil {
		return nil, err
	}
	if !deleted {
		return &models.DeleteResult{Deleted: false, Detail: fmt.Sprintf("knowledge set %q did not exist", setID)}, nil
	}
	s.purgeArchive(ctx, objectclient.SetPrefix(ownerID, setID))
	log.Info().Str("owner_id", ownerID).Str("knowledge_set_id", setID).Msg("knowledge set deleted")
	return &models.DeleteResult{Deleted: true, Detail: fmt.Sprintf("knowledge set %q deleted with all files and chunks", setID)}, nil
}

// ListFiles returns the latest version of every file. Extracted text is dropped unless includeText.
func (s *KnowledgeService) ListFiles(ctx context.Context, ownerID, setID string, includeText bool) ([]models.FileRecord, error) {
	if err := requireOwner(ownerID); err != nil {
		return nil, err
	}
	files, err := s.store.ListFiles(ctx, ownerID, setID)
	if err != nil {
		return nil, err
	}
	if !includeText {
		for i := range files {
			files[i].Metadata.ExtractedText = ""
		}
	}
	return files, nil
}

func (s *KnowledgeService) GetFile(ctx context.Context, ownerID, setID, fileID string, includeText bool) (*models.FileRecord, error) {
	if err := requireOwner(ownerID); err != nil {
		return nil, err
	}
	f, err := s.store.GetFile(ctx, ownerID, setID, fileID)
	if err != nil {
		return nil, err
	}
	if !includeText {
		f.Metadata.ExtractedText = ""
	}
	return f, nil
}

// RawFile returns the record and the archived original bytes of one file version.
func (s *KnowledgeService) RawFile(ctx context.Context, ownerID, setID, fileID string) (*models.FileRecord, []byte, error) {
	f, err := s.GetFile(ctx, ownerID, setID, fileID, false)
	if err != nil {
		return nil, nil, err
	}
	if s.archive == nil {
		return nil, nil, &core.NotFoundError{Resource: "raw upload", ID: fileID}
	}
	if _, ok := f.Metadata.Extra["storage_url"]; !ok {
		return nil, nil, &core.NotFoundError{Resource: "raw upload", ID: fileID}
	}
	data, err := s.archive.GetFile(ctx, objectclient.FileKey(ownerID, setID, fileID, f.Metadata.Filename))
	if err != nil {
		return nil, nil, fmt.Errorf("fetch raw upload %s: %w", fileID, err)
	}
	return f, data, nil
}

// DeleteFile removes one file version and its chunks. An absent file is reported, not an error.
func (s *KnowledgeService) DeleteFile(ctx context.Context, ownerID, setID, fileID string) (*models.DeleteResult, error) {
	if err := requireOwner(ownerID); err != nil {
		return nil, err
	}
	if strings.TrimSpace(fileID) == "" {
		return nil, &core.InvalidArgumentError{Field: "file_id", Reason: "is required"}
	}
	deleted, err := s.store.DeleteFile(ctx, ownerID, setID, fileID)
	if err != nil {
		return nil, err
	}
	if !deleted {
		return &models.DeleteResult{Deleted: false, Detail: fmt.Sprintf("file %q was not found in knowledge set %q; nothing to delete", fileID, setID)}, nil
	}
	s.purgeArchive(ctx, objectclient.FilePrefix(ownerID, setID, fileID))
	log.Info().Str("owner_id", ownerID).Str("knowledge_set_id", setID).Str("file_id", fileID).Msg("file deleted")
	return &models.DeleteResult{Deleted: true, Detail: fmt.Sprintf("file %q deleted with its chunks", fileID)}, nil
}

// Ingest stores raw file bytes in the set.
func (s *KnowledgeService) Ingest(ctx context.Context, ownerID, setID, filename string, data []byte) (*models.IngestResult, error) {
	if err := requireOwner(ownerID); err != nil {
		return nil, err
	}
	return s.ingestor.Ingest(ctx, ownerID, setID, filename, data)
}

// IngestBase64 decodes wire content before ingesting it.
func (s *KnowledgeService) IngestBase64(ctx context.Context, ownerID, setID, filename, content string) (*models.IngestResult, error) {
	data, err := DecodeContent(content)
	if err != nil {
		return nil, err
	}
	return s.Ingest(ctx, ownerID, setID, filename, data)
}

// Query returns the topK chunks most similar to queryText. topK <= 0 uses the default; it is capped at MaxTopK.
func (s *KnowledgeService) Query(ctx context.Context, ownerID, setID, queryText string, topK int) ([]models.ChunkMatch, error) {
	if err := requireOwner(ownerID); err != nil {
		return nil, err
	}
	return s.ingestor.Query(ctx, ownerID, setID, queryText, min(topK, MaxTopK))
}

// DecodeContent accepts standard or URL-safe base64, padded or not.
func DecodeContent(content string) ([]byte, error) {
	content = strings.TrimSpace(content)
	for _, enc := range []*base64.Encoding{base64.StdEncoding, base64.RawStdEncoding, base64.URLEncoding, base64.RawURLEncoding} {
		if data, err := enc.DecodeString(content); err == nil {
			return data, nil
		}
	}
	return nil, &core.InvalidArgumentError{Field: "content", Reason: "is not valid base64"}
}

func (s *KnowledgeService) purgeArchive(ctx context.Context, prefix string) {
	if s.archive == nil {
		return
	}
	if err := s.archive.DeletePrefix(ctx, prefix); err != nil {
		log.Warn().Err(err).Str("prefix", prefix).Msg("archive cleanup failed")
	}
}
