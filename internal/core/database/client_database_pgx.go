package db

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/pgvector/pgvector-go"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/semaphore"

	"github.com/markdave123-py/knowledge-mcp/internal/core"
	"github.com/markdave123-py/knowledge-mcp/internal/models"
)

const (
	pgForeignKeyViolation = "23503"
	lockWaitTimeout       = 5 * time.Minute
)

// DatabaseClient is the Postgres KnowledgeStore.
//
// db:        shared connection pool.
// timeout:   bound applied to every statement.
// lockSlots: caps the pool connections pinned by ingestion locks at half the pool,
// so store calls made while a lock is held always find a free connection.
type DatabaseClient struct {
	db        *sqlx.DB
	timeout   time.Duration
	lockSlots *semaphore.Weighted
}

// NewDatabaseClient opens a pool of maxConns connections, applies migrations and ensures the
// vector index for dim.
func NewDatabaseClient(ctx context.Context, databaseURL string, timeout time.Duration, maxConns, dim int) (*DatabaseClient, error) {
	if databaseURL == "" {
		return nil, &core.ConfigurationError{Key: "DATABASE_URL", Reason: "is required"}
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if maxConns < 4 {
		maxConns = 4
	}

	db, err := sqlx.Open("pgx", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	db.SetMaxOpenConns(maxConns)
	db.SetMaxIdleConns(maxConns / 2)
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetConnMaxIdleTime(10 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	if err := Migrate(ctx, db.DB, false); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := EnsureVectorIndex(ctx, db.DB, dim); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &DatabaseClient{
		db:        db,
		timeout:   timeout,
		lockSlots: semaphore.NewWeighted(int64(maxConns / 2)),
	}, nil
}

func (c *DatabaseClient) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

func (c *DatabaseClient) bounded(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, c.timeout)
}

type setRow struct {
	OwnerID        string    `db:"owner_id"`
	KnowledgeSetID string    `db:"knowledge_set_id"`
	CreatedAt      time.Time `db:"created_at"`
}

type fileRow struct {
	OwnerID               string         `db:"owner_id"`
	KnowledgeSetID        string         `db:"knowledge_set_id"`
	FileID                string         `db:"file_id"`
	Filename              string         `db:"filename"`
	Title                 string         `db:"title"`
	ExtractedText         string         `db:"extracted_text"`
	ContentHash           string         `db:"content_hash"`
	Version               int            `db:"version"`
	PreviousVersionFileID sql.NullString `db:"previous_version_file_id"`
	IsLatestVersion       bool           `db:"is_latest_version"`
	Extra                 []byte         `db:"extra"`
	CreatedAt             time.Time      `db:"created_at"`
}

const fileColumns = `owner_id, knowledge_set_id, file_id, filename, title, extracted_text, content_hash,
	version, previous_version_file_id, is_latest_version, extra, created_at`

func (r fileRow) record() (*models.FileRecord, error) {
	rec := &models.FileRecord{
		OwnerID:        r.OwnerID,
		KnowledgeSetID: r.KnowledgeSetID,
		FileID:         r.FileID,
		CreatedAt:      r.CreatedAt,
		Metadata: models.FileMetadata{
			Filename:        r.Filename,
			Title:           r.Title,
			ExtractedText:   r.ExtractedText,
			ContentHash:     r.ContentHash,
			Version:         r.Version,
			IsLatestVersion: r.IsLatestVersion,
		},
	}
	if r.PreviousVersionFileID.Valid {
		prev := r.PreviousVersionFileID.String
		rec.Metadata.PreviousVersionFileID = &prev
	}
	if len(r.Extra) > 0 {
		if err := json.Unmarshal(r.Extra, &rec.Metadata.Extra); err != nil {
			return nil, fmt.Errorf("decode file extra: %w", err)
		}
	}
	return rec, nil
}

func storeErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &core.StoreError{Op: op, Err: err}
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgForeignKeyViolation
}

// requireSet returns *NotFoundError when the set does not exist for ownerID.
func requireSet(ctx context.Context, q sqlx.QueryerContext, ownerID, setID string) error {
	var exists bool
	err := sqlx.GetContext(ctx, q, &exists,
		`SELECT EXISTS (SELECT 1 FROM knowledge_sets WHERE owner_id = $1 AND knowledge_set_id = $2)`,
		ownerID, setID)
	if err != nil {
		return storeErr("check knowledge set", err)
	}
	if !exists {
		return &core.NotFoundError{Resource: "knowledge set", ID: setID}
	}
	return nil
}

func (c *DatabaseClient) CreateKnowledgeSet(ctx context.Context, ownerID, setID string) (*models.KnowledgeSet, error) {
	ctx, cancel := c.bounded(ctx)
	defer cancel()

	// ON CONFLICT DO UPDATE makes RETURNING yield the existing row, keeping creation idempotent.
	const q = `
		INSERT INTO knowledge_sets (owner_id, knowledge_set_id)
		VALUES ($1, $2)
		ON CONFLICT (owner_id, knowledge_set_id) DO UPDATE SET owner_id = EXCLUDED.owner_id
		RETURNING owner_id, knowledge_set_id, created_at`
	var row setRow
	if err := c.db.GetContext(ctx, &row, q, ownerID, setID); err != nil {
		return nil, storeErr("create knowledge set", err)
	}
	return &models.KnowledgeSet{OwnerID: row.OwnerID, KnowledgeSetID: row.KnowledgeSetID, CreatedAt: row.CreatedAt}, nil
}

func (c *DatabaseClient) ListKnowledgeSets(ctx context.Context, ownerID string) ([]models.KnowledgeSet, error) {
	ctx, cancel := c.bounded(ctx)
	defer cancel()

	var rows []setRow
	err := c.db.SelectContext(ctx, &rows, `
		SELECT owner_id, knowledge_set_id, created_at
		FROM knowledge_sets
		WHERE owner_id = $1
		ORDER BY created_at, knowledge_set_id`, ownerID)
	if err != nil {
		return nil, storeErr("list knowledge sets", err)
	}
	out := make([]models.KnowledgeSet, 0, len(rows))
	for _, r := range rows {
		out = append(out, models.KnowledgeSet{OwnerID: r.OwnerID, KnowledgeSetID: r.KnowledgeSetID, CreatedAt: r.CreatedAt})
	}
	return out, nil
}

func (c *DatabaseClient) DeleteKnowledgeSet(ctx context.Context, ownerID, setID string) (bool, error) {
	ctx, cancel := c.bounded(ctx)
	defer cancel()

	res, err := c.db.ExecContext(ctx,
		`DELETE FROM knowledge_sets WHERE owner_id = $1 AND knowledge_set_id = $2`, ownerID, setID)
	if err != nil {
		return false, storeErr("delete knowledge set", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (c *DatabaseClient) CreateFile(ctx context.Context, ownerID, setID, fileID string, meta models.FileMetadata) (*models.FileRecord, error) {
	ctx, cancel := c.bounded(ctx)
	defer cancel()

	extra, err := json.Marshal(nonNilMap(meta.Extra))
	if err != nil {
		return nil, fmt.Errorf("encode file extra: %w", err)
	}

	q := `
		INSERT INTO files (owner_id, knowledge_set_id, file_id, filename, title, extracted_text, content_hash,
			version, previous_version_file_id, is_latest_version, extra)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11::jsonb)
		RETURNING ` + fileColumns
	var row fileRow
	err = c.db.GetContext(ctx, &row, q,
		ownerID, setID, fileID, meta.Filename, meta.Title, meta.ExtractedText, meta.ContentHash,
		meta.Version, meta.PreviousVersionFileID, meta.IsLatestVersion, string(extra))
	if isForeignKeyViolation(err) {
		return nil, &core.NotFoundError{Resource: "knowledge set", ID: setID}
	}
	if err != nil {
		return nil, storeErr("create file", err)
	}
	return row.record()
}

func (c *DatabaseClient) FindFileByContentHash(ctx context.Context, ownerID, setID, contentHash string) (*models.FileRecord, error) {
	ctx, cancel := c.bounded(ctx)
	defer cancel()

	if err := requireSet(ctx, c.db, ownerID, setID); err != nil {
		return nil, err
	}
	return c.getOne(ctx, "find file by hash", `
		SELECT `+fileColumns+` FROM files
		WHERE owner_id = $1 AND knowledge_set_id = $2 AND content_hash = $3 AND is_latest_version
		LIMIT 1`, ownerID, setID, contentHash)
}

func (c *DatabaseClient) GetLatestVersionInfo(ctx context.Context, ownerID, setID, filename string) (*models.FileRecord, error) {
	ctx, cancel := c.bounded(ctx)
	defer cancel()

	if err := requireSet(ctx, c.db, ownerID, setID); err != nil {
		return nil, err
	}
	return c.getOne(ctx, "get latest version", `
		SELECT `+fileColumns+` FROM files
		WHERE owner_id = $1 AND knowledge_set_id = $2 AND filename = $3 AND is_latest_version`,
		ownerID, setID, filename)
}

func (c *DatabaseClient) GetFile(ctx context.Context, ownerID, setID, fileID string) (*models.FileRecord, error) {
	ctx, cancel := c.bounded(ctx)
	defer cancel()

	if err := requireSet(ctx, c.db, ownerID, setID); err != nil {
		return nil, err
	}
	rec, err := c.getOne(ctx, "get file", `
		SELECT `+fileColumns+` FROM files
		WHERE owner_id = $1 AND knowledge_set_id = $2 AND file_id = $3`, ownerID, setID, fileID)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, &core.NotFoundError{Resource: "file", ID: fileID}
	}
	return rec, nil
}

// getOne returns nil, nil when the query matches nothing.
func (c *DatabaseClient) getOne(ctx context.Context, op, q string, args ...any) (*models.FileRecord, error) {
	var row fileRow
	err := c.db.GetContext(ctx, &row, q, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storeErr(op, err)
	}
	return row.record()
}

func (c *DatabaseClient) MarkPreviousVersionAsOld(ctx context.Context, ownerID, setID, fileID string) error {
	ctx, cancel := c.bounded(ctx)
	defer cancel()

	tx, err := c.db.BeginTxx(ctx, nil)
	if err != nil {
		return storeErr("begin tx", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		UPDATE files SET is_latest_version = FALSE
		WHERE owner_id = $1 AND knowledge_set_id = $2 AND file_id = $3`, ownerID, setID, fileID)
	if err != nil {
		return storeErr("mark previous version", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &core.NotFoundError{Resource: "file", ID: fileID}
	}
	if _, err := tx.ExecContext(ctx, `
		DELETE FROM chunks
		WHERE owner_id = $1 AND knowledge_set_id = $2 AND file_id = $3`, ownerID, setID, fileID); err != nil {
		return storeErr("delete previous chunks", err)
	}
	return storeErr("commit mark previous version", tx.Commit())
}

func (c *DatabaseClient) ListFiles(ctx context.Context, ownerID, setID string) ([]models.FileRecord, error) {
	ctx, cancel := c.bounded(ctx)
	defer cancel()

	if err := requireSet(ctx, c.db, ownerID, setID); err != nil {
		return nil, err
	}
	var rows []fileRow
	err := c.db.SelectContext(ctx, &rows, `
		SELECT `+fileColumns+` FROM files
		WHERE owner_id = $1 AND knowledge_set_id = $2 AND is_latest_version
		ORDER BY filename, created_at`, ownerID, setID)
	if err != nil {
		return nil, storeErr("list files", err)
	}
	out := make([]models.FileRecord, 0, len(rows))
	for _, r := range rows {
		rec, err := r.record()
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, nil
}

func (c *DatabaseClient) DeleteFile(ctx context.Context, ownerID, setID, fileID string) (bool, error) {
	ctx, cancel := c.bounded(ctx)
	defer cancel()

	res, err := c.db.ExecContext(ctx, `
		DELETE FROM files
		WHERE owner_id = $1 AND knowledge_set_id = $2 AND file_id = $3`, ownerID, setID, fileID)
	if err != nil {
		return false, storeErr("delete file", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (c *DatabaseClient) CountChunksForFile(ctx context.Context, ownerID, setID, fileID string) (int, error) {
	ctx, cancel := c.bounded(ctx)
	defer cancel()

	if err := requireSet(ctx, c.db, ownerID, setID); err != nil {
		return 0, err
	}
	var n int
	err := c.db.GetContext(ctx, &n, `
		SELECT count(*) FROM chunks
		WHERE owner_id = $1 AND knowledge_set_id = $2 AND file_id = $3`, ownerID, setID, fileID)
	if err != nil {
		return 0, storeErr("count chunks", err)
	}
	return n, nil
}

// UpsertChunks writes every chunk in a single transaction.
func (c *DatabaseClient) UpsertChunks(ctx context.Context, ownerID, setID, fileID string, chunks []models.ChunkEntry) error {
	if len(chunks) == 0 {
		return nil
	}
	ctx, cancel := c.bounded(ctx)
	defer cancel()

	tx, err := c.db.BeginTxx(ctx, nil)
	if err != nil {
		return storeErr("begin tx", err)
	}
	defer func() { _ = tx.Rollback() }()

	const q = `
		INSERT INTO chunks (owner_id, knowledge_set_id, file_id, chunk_id, embedding, embedding_dim, text, chunk_offset, extra)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9::jsonb)
		ON CONFLICT (owner_id, knowledge_set_id, file_id, chunk_id) DO UPDATE SET
			embedding = EXCLUDED.embedding,
			embedding_dim = EXCLUDED.embedding_dim,
			text = EXCLUDED.text,
			chunk_offset = EXCLUDED.chunk_offset,
			extra = EXCLUDED.extra`
	stmt, err := tx.PrepareContext(ctx, q)
	if err != nil {
		return storeErr("prepare upsert chunks", err)
	}
	defer stmt.Close()

	for i := range chunks {
		ch := &chunks[i]
		extra, err := json.Marshal(nonNilMap(ch.Extra))
		if err != nil {
			return fmt.Errorf("encode chunk extra: %w", err)
		}
		_, err = stmt.ExecContext(ctx,
			ownerID, setID, fileID, ch.ChunkID, pgvector.NewVector(ch.Embedding), len(ch.Embedding),
			ch.Text, ch.Offset, string(extra))
		if isForeignKeyViolation(err) {
			return &core.NotFoundError{Resource: "file", ID: fileID}
		}
		if err != nil {
			return storeErr("upsert chunk", err)
		}
	}
	return storeErr("commit upsert chunks", tx.Commit())
}

type matchRow struct {
	FileID  string  `db:"file_id"`
	ChunkID string  `db:"chunk_id"`
	Text    string  `db:"text"`
	Offset  int     `db:"chunk_offset"`
	Extra   []byte  `db:"extra"`
	Score   float64 `db:"score"`
}

func (c *DatabaseClient) QueryChunks(ctx context.Context, ownerID, setID string, embedding []float32, topK int) ([]models.ChunkMatch, error) {
	ctx, cancel := c.bounded(ctx)
	defer cancel()

	if err := requireSet(ctx, c.db, ownerID, setID); err != nil {
		return nil, err
	}
	if len(embedding) == 0 || topK <= 0 {
		return []models.ChunkMatch{}, nil
	}

	// The cast expression must match the partial HNSW index built by EnsureVectorIndex.
	q := fmt.Sprintf(`
		SELECT file_id, chunk_id, text, chunk_offset, extra,
			1 - ((embedding::vector(%[1]d)) <=> $3::vector(%[1]d)) AS score
		FROM chunks
		WHERE owner_id = $1 AND knowledge_set_id = $2 AND embedding_dim = %[1]d
		ORDER BY (embedding::vector(%[1]d)) <=> $3::vector(%[1]d), chunk_id
		LIMIT $4`, len(embedding))

	var rows []matchRow
	if err := c.db.SelectContext(ctx, &rows, q, ownerID, setID, pgvector.NewVector(embedding), topK); err != nil {
		return nil, storeErr("query chunks", err)
	}

	out := make([]models.ChunkMatch, 0, len(rows))
	for _, r := range rows {
		m := models.ChunkMatch{
			FileID:   r.FileID,
			ChunkID:  r.ChunkID,
			Score:    r.Score,
			Metadata: models.ChunkMetadata{Text: r.Text, Offset: r.Offset},
		}
		if len(r.Extra) > 0 {
			if err := json.Unmarshal(r.Extra, &m.Metadata.Extra); err != nil {
				return nil, fmt.Errorf("decode chunk extra: %w", err)
			}
		}
		out = append(out, m)
	}
	return out, nil
}

// LockIngestion takes session advisory locks on the content hash and then the filename, both
// on one dedicated connection. Waiters queue on lockSlots before touching the pool. The returned
// func releases the locks, the connection and the slot.
func (c *DatabaseClient) LockIngestion(ctx context.Context, ownerID, setID, filename, contentHash string) (func(), error) {
	ctx, cancel := context.WithTimeout(ctx, lockWaitTimeout)
	defer cancel()

	if err := c.lockSlots.Acquire(ctx, 1); err != nil {
		return nil, storeErr("wait for lock slot", err)
	}
	conn, err := c.db.Connx(ctx)
	if err != nil {
		c.lockSlots.Release(1)
		return nil, storeErr("acquire lock connection", err)
	}
	release := func() {
		unlockCtx, cancel := context.WithTimeout(context.Background(), c.timeout)
		defer cancel()
		if _, err := conn.ExecContext(unlockCtx, `SELECT pg_advisory_unlock_all()`); err != nil {
			// Closing the session releases the locks server-side as well.
			log.Warn().Err(err).Str("filename", filename).Msg("advisory unlock failed")
			_ = conn.Raw(func(any) error { return driver.ErrBadConn })
		}
		_ = conn.Close()
		c.lockSlots.Release(1)
	}

	scope := ownerID + "\x00" + setID + "\x00"
	for _, key := range []string{scope + "hash\x00" + contentHash, scope + "file\x00" + filename} {
		if _, err := conn.ExecContext(ctx, `SELECT pg_advisory_lock(hashtextextended($1, 0))`, key); err != nil {
			release()
			return nil, storeErr("lock ingestion", err)
		}
	}

	var once sync.Once
	return func() { once.Do(release) }, nil
}

func nonNilMap(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

var _ core.KnowledgeStore = (*DatabaseClient)(nil)
