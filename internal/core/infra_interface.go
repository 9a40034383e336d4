package core

import (
	"context"
	"io"

	"github.com/markdave123-py/knowledge-mcp/internal/models"
)

// KnowledgeStore defines every persistence operation the ingestion and query paths need.
// Every call is scoped by ownerID; no operation reads or writes across owners.
type KnowledgeStore interface {
	CreateKnowledgeSet(ctx context.Context, ownerID, setID string) (*models.KnowledgeSet, error)
	ListKnowledgeSets(ctx context.Context, ownerID string) ([]models.KnowledgeSet, error)
	// DeleteKnowledgeSet cascades to files and chunks. Reports false when the set was already absent.
	DeleteKnowledgeSet(ctx context.Context, ownerID, setID string) (bool, error)

	// CreateFile fails with *NotFoundError when the knowledge set does not exist.
	CreateFile(ctx context.Context, ownerID, setID, fileID string, meta models.FileMetadata) (*models.FileRecord, error)
	// FindFileByContentHash only considers latest versions. Returns nil, nil when nothing matches.
	FindFileByContentHash(ctx context.Context, ownerID, setID, contentHash string) (*models.FileRecord, error)
	// GetLatestVersionInfo returns the record with is_latest_version = true, or nil, nil.
	GetLatestVersionInfo(ctx context.Context, ownerID, setID, filename string) (*models.FileRecord, error)
	// MarkPreviousVersionAsOld flips is_latest_version to false and deletes the file's chunks atomically.
	MarkPreviousVersionAsOld(ctx context.Context, ownerID, setID, fileID string) error
	GetFile(ctx context.Context, ownerID, setID, fileID string) (*models.FileRecord, error)
	// ListFiles returns the latest version of every file in the set.
	ListFiles(ctx context.Context, ownerID, setID string) ([]models.FileRecord, error)
	// DeleteFile cascades to chunks. Reports false when the file was already absent.
	DeleteFile(ctx context.Context, ownerID, setID, fileID string) (bool, error)

	CountChunksForFile(ctx context.Context, ownerID, setID, fileID string) (int, error)
	// UpsertChunks overwrites rows that share (owner, set, file, chunk_id). All or nothing.
	UpsertChunks(ctx context.Context, ownerID, setID, fileID string, chunks []models.ChunkEntry) error
	// QueryChunks ranks chunks by 1 - cosine distance, descending, ties by chunk_id.
	QueryChunks(ctx context.Context, ownerID, setID string, embedding []float32, topK int) ([]models.ChunkMatch, error)

	// LockIngestion serialises the decide-supersede-create sequence for one content hash and
	// one filename. The hash is always locked before the filename, so two ingestions never wait
	// on each other in opposite order. The returned func releases both and must always be called.
	LockIngestion(ctx context.Context, ownerID, setID, filename, contentHash string) (unlock func(), err error)
}

// ObjectClient is the raw upload archive. Keys come from the object-client key helpers.
type ObjectClient interface {
	UploadFile(ctx context.Context, key string, data io.Reader, contentType string) (url string, err error)
	DeleteFile(ctx context.Context, key string) error
	DeletePrefix(ctx context.Context, prefix string) error
	GetFile(ctx context.Context, key string) ([]byte, error)
}
