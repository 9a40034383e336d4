package ingestion_engine

import (
	"bytes"
	"context"
	"fmt"
	"mime"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/markdave123-py/knowledge-mcp/internal/core"
	"github.com/markdave123-py/knowledge-mcp/internal/core/chunker"
	objectclient "github.com/markdave123-py/knowledge-mcp/internal/core/object-client"
	"github.com/markdave123-py/knowledge-mcp/internal/models"
)

// DocumentIngestor drives ingestion and retrieval for every front-end:
//
// store:     persistence for knowledge sets, file versions and chunk vectors.
// archive:   optional object storage for raw uploads (nil disables archiving).
// embedder:  retrying embedding client.
// extractor: converts raw bytes to text by extension.
// chunker:   configured chunk strategy.
// fallback:  character strategy used when the configured one fails at runtime.
// cfg:       runtime tuning knobs.
type DocumentIngestor struct {
	store     core.KnowledgeStore
	archive   core.ObjectClient
	embedder  core.Embedder
	extractor core.DocumentExtractor
	chunker   chunker.Chunker
	fallback  chunker.Chunker
	cfg       *IngestConfig
	newID     func() string
}

func NewDocumentIngestor(store core.KnowledgeStore, archive core.ObjectClient, emb core.Embedder, extractor core.DocumentExtractor, cfg *IngestConfig) *DocumentIngestor {
	cfg = cfg.withDefaults()
	return &DocumentIngestor{
		store:     store,
		archive:   archive,
		embedder:  emb,
		extractor: extractor,
		chunker: chunker.New(chunker.Options{
			Strategy:      cfg.Strategy,
			ChunkSize:     cfg.ChunkSize,
			ChunkOverlap:  cfg.ChunkOverlap,
			TokenEncoding: cfg.TokenEncoding,
			Embedder:      emb,
		}),
		fallback: chunker.NewCharacter(cfg.ChunkSize, cfg.ChunkOverlap),
		cfg:      cfg,
		newID:    uuid.NewString,
	}
}

// decision is the outcome of comparing an upload against what the set already holds.
//
// existing: the latest record with identical bytes (Duplicate only).
// previous: the latest record for the same filename (NewVersion only).
type decision struct {
	outcome  models.IngestOutcome
	existing *models.FileRecord
	previous *models.FileRecord
}

// decide picks Duplicate, NewVersion or NewFile. Identical bytes win over a filename match.
func (i *DocumentIngestor) decide(ctx context.Context, ownerID, setID, filename, contentHash string) (decision, error) {
	existing, err := i.store.FindFileByContentHash(ctx, ownerID, setID, contentHash)
	if err != nil {
		return decision{}, err
	}
	if existing != nil {
		return decision{outcome: models.OutcomeDuplicate, existing: existing}, nil
	}

	previous, err := i.store.GetLatestVersionInfo(ctx, ownerID, setID, filename)
	if err != nil {
		return decision{}, err
	}
	if previous != nil {
		return decision{outcome: models.OutcomeNewVersion, previous: previous}, nil
	}
	return decision{outcome: models.OutcomeNewFile}, nil
}

// Ingest stores one uploaded file: duplicate detection, version superseding, extraction,
// chunking, embedding and persistence, in that order. Calls for the same filename or the
// same content in one set are serialised.
func (i *DocumentIngestor) Ingest(ctx context.Context, ownerID, setID, filename string, data []byte) (*models.IngestResult, error) {
	if ownerID == "" {
		return nil, &core.AuthenticationError{Reason: "missing caller identity"}
	}
	if setID == "" {
		return nil, &core.InvalidArgumentError{Field: "knowledge_set_id", Reason: "is required"}
	}
	filename = strings.TrimSpace(filename)
	ext := strings.TrimPrefix(filepath.Ext(filename), ".")
	if filename == "" || ext == "" {
		return nil, &core.InvalidArgumentError{Field: "filename", Reason: "must include an extension"}
	}

	started := time.Now()
	logger := log.With().
		Str("owner_id", ownerID).
		Str("knowledge_set_id", setID).
		Str("filename", filename).
		Logger()

	contentHash := ContentHash(data)

	unlock, err := i.store.LockIngestion(ctx, ownerID, setID, filename, contentHash)
	if err != nil {
		return nil, err
	}
	defer unlock()

	d, err := i.decide(ctx, ownerID, setID, filename, contentHash)
	if err != nil {
		return nil, err
	}
	logger.Info().Str("decision", string(d.outcome)).Msg("ingestion started")

	if d.outcome == models.OutcomeDuplicate {
		count, err := i.store.CountChunksForFile(ctx, ownerID, setID, d.existing.FileID)
		if err != nil {
			return nil, err
		}
		existingID := d.existing.FileID
		return &models.IngestResult{
			FileID:         existingID,
			Filename:       d.existing.Metadata.Filename,
			ChunksCreated:  count,
			Message:        fmt.Sprintf("Identical content already ingested as %q (file_id %s); no new chunks were created.", d.existing.Metadata.Filename, existingID),
			IsDuplicate:    true,
			ExistingFileID: &existingID,
			Version:        d.existing.Metadata.Version,
			Outcome:        models.OutcomeDuplicate,
		}, nil
	}

	version := 1
	var previousID *string
	if d.previous != nil {
		version = d.previous.Metadata.Version + 1
		prev := d.previous.FileID
		previousID = &prev
		if err := i.store.MarkPreviousVersionAsOld(ctx, ownerID, setID, prev); err != nil {
			return nil, err
		}
		logger.Info().Str("previous_file_id", prev).Int("previous_version", d.previous.Metadata.Version).Msg("previous version superseded")
	}

	fileID := i.newID()
	logger = logger.With().Str("file_id", fileID).Int("version", version).Logger()

	extracted, err := i.extractor.Extract(ctx, data, ext)
	if err != nil {
		logger.Error().Err(err).Msg("extraction failed")
		return nil, err
	}

	extra := map[string]any{
		"extension":  ext,
		"size_bytes": len(data),
		"size":       humanize.Bytes(uint64(len(data))),
		"text_chars": utf8.RuneCountInString(extracted.Text),
	}
	for k, v := range extracted.Metadata {
		extra["meta_"+k] = v
	}
	archivedKey, url := i.archiveUpload(ctx, ownerID, setID, fileID, filename, ext, data)
	if url != "" {
		extra["storage_url"] = url
	}

	meta := models.FileMetadata{
		Filename:              filename,
		Title:                 extracted.Title,
		ExtractedText:         extracted.Text,
		ContentHash:           contentHash,
		Version:               version,
		PreviousVersionFileID: previousID,
		IsLatestVersion:       true,
		Extra:                 extra,
	}
	if _, err := i.store.CreateFile(ctx, ownerID, setID, fileID, meta); err != nil {
		i.discardArchived(ctx, archivedKey)
		return nil, err
	}

	chunks, strategy := i.chunk(ctx, extracted.Text)

	texts := make([]string, len(chunks))
	for n, ch := range chunks {
		texts[n] = ch.Text
	}
	vectors, err := i.embedder.EmbedBatch(ctx, texts, i.cfg.BatchSize)
	if err != nil {
		logger.Error().Err(err).Int("chunks", len(chunks)).Msg("embedding failed")
		return nil, err
	}

	entries := make([]models.ChunkEntry, len(chunks))
	for n, ch := range chunks {
		entries[n] = models.ChunkEntry{
			ChunkID:   fmt.Sprintf("%s_chunk_%d", fileID, n),
			FileID:    fileID,
			Embedding: vectors[n],
			Text:      ch.Text,
			Offset:    ch.Offset,
			Extra: map[string]any{
				"index":    n,
				"length":   utf8.RuneCountInString(ch.Text),
				"strategy": string(strategy),
			},
		}
	}
	if err := i.store.UpsertChunks(ctx, ownerID, setID, fileID, entries); err != nil {
		return nil, err
	}

	logger.Info().
		Int("chunks", len(entries)).
		Str("strategy", string(strategy)).
		Dur("took", time.Since(started)).
		Msg("ingestion finished")

	res := &models.IngestResult{
		FileID:        fileID,
		Filename:      filename,
		ChunksCreated: len(entries),
		Version:       version,
		Outcome:       d.outcome,
	}
	if d.outcome == models.OutcomeNewVersion {
		res.Message = fmt.Sprintf("Updated %q to version %d; %d chunks created.", filename, version, len(entries))
	} else {
		res.Message = fmt.Sprintf("Ingested %q; %d chunks created.", filename, len(entries))
	}
	return res, nil
}

// chunk runs the configured strategy and falls back to character chunking when it fails.
func (i *DocumentIngestor) chunk(ctx context.Context, text string) ([]chunker.Chunk, chunker.Strategy) {
	chunks, err := i.chunker.Chunk(ctx, text)
	if err == nil {
		return chunks, i.chunker.Strategy()
	}
	log.Warn().Err(err).Str("strategy", string(i.chunker.Strategy())).Msg("chunking failed, using character fallback")
	chunks, _ = i.fallback.Chunk(ctx, text)
	return chunks, i.fallback.Strategy()
}

// archiveUpload stores the raw bytes best-effort and returns the object key and URL.
// Both are empty when archiving is disabled or the upload failed.
func (i *DocumentIngestor) archiveUpload(ctx context.Context, ownerID, setID, fileID, filename, ext string, data []byte) (string, string) {
	if i.archive == nil {
		return "", ""
	}
	contentType := mime.TypeByExtension("." + ext)
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	key := objectclient.FileKey(ownerID, setID, fileID, filename)
	url, err := i.archive.UploadFile(ctx, key, bytes.NewReader(data), contentType)
	if err != nil {
		log.Warn().Err(err).Str("key", key).Msg("raw upload archive failed")
		return "", ""
	}
	return key, url
}

// discardArchived removes an object whose file record was never written.
func (i *DocumentIngestor) discardArchived(ctx context.Context, key string) {
	if key == "" {
		return
	}
	if err := i.archive.DeleteFile(ctx, key); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("orphaned archive object not removed")
	}
}

// Query embeds queryText and returns the topK most similar chunks in the set.
// A non-positive topK uses the configured default.
func (i *DocumentIngestor) Query(ctx context.Context, ownerID, setID, queryText string, topK int) ([]models.ChunkMatch, error) {
	if ownerID == "" {
		return nil, &core.AuthenticationError{Reason: "missing caller identity"}
	}
	if setID == "" {
		return nil, &core.InvalidArgumentError{Field: "knowledge_set_id", Reason: "is required"}
	}
	if strings.TrimSpace(queryText) == "" {
		return nil, &core.InvalidArgumentError{Field: "query_text", Reason: "must not be empty"}
	}
	if topK <= 0 {
		topK = i.cfg.TopK
	}

	embed := i.embedder.Embed
	if qe, ok := i.embedder.(core.QueryEmbedder); ok {
		embed = qe.EmbedQuery
	}
	vec, err := embed(ctx, queryText)
	if err != nil {
		return nil, err
	}
	matches, err := i.store.QueryChunks(ctx, ownerID, setID, vec, topK)
	if err != nil {
		return nil, err
	}
	log.Debug().
		Str("owner_id", ownerID).
		Str("knowledge_set_id", setID).
		Int("results", len(matches)).
		Msg("query served")
	return matches, nil
}
