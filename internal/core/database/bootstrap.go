package db

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"time"

	"github.com/pressly/goose/v3"
	"github.com/rs/zerolog/log"

	"github.com/markdave123-py/knowledge-mcp/internal/core"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// pgvector's HNSW index supports at most this many dimensions.
const maxIndexedDim = 2000

func init() {
	goose.SetBaseFS(migrationsFS)
	if err := goose.SetDialect("postgres"); err != nil {
		panic(err)
	}
}

// Migrate applies every pending schema migration.
func Migrate(ctx context.Context, db *sql.DB, verbose bool) error {
	if !verbose {
		goose.SetLogger(goose.NopLogger())
	} else {
		goose.SetLogger(gooseLogger{})
	}

	ctxBoot, cancel := context.WithTimeout(ctx, 3*time.Minute)
	defer cancel()
	if err := goose.UpContext(ctxBoot, db, "migrations"); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

// EnsureVectorIndex creates the cosine HNSW index for vectors of length dim. The embedding
// column is untyped, so the index is an expression index restricted to rows of that length.
func EnsureVectorIndex(ctx context.Context, db *sql.DB, dim int) error {
	if dim <= 0 {
		return nil
	}
	if dim > maxIndexedDim {
		log.Warn().Int("dim", dim).Msg("embedding dimension too large for an HNSW index, queries will scan")
		return nil
	}

	ctxIdx, cancel := context.WithTimeout(ctx, 10*time.Minute)
	defer cancel()
	q := fmt.Sprintf(`
		CREATE INDEX IF NOT EXISTS chunks_embedding_hnsw_%[1]d
		ON chunks USING hnsw ((embedding::vector(%[1]d)) vector_cosine_ops)
		WHERE embedding_dim = %[1]d`, dim)
	if _, err := db.ExecContext(ctxIdx, q); err != nil {
		return fmt.Errorf("create vector index: %w", err)
	}
	return nil
}

type gooseLogger struct{}

func (gooseLogger) Fatalf(format string, v ...any) { log.Fatal().Msgf(format, v...) }
func (gooseLogger) Printf(format string, v ...any) { log.Info().Msgf(format, v...) }

// MigrateURL opens databaseURL, applies migrations verbosely and ensures the vector index.
func MigrateURL(ctx context.Context, databaseURL string, dim int) error {
	if databaseURL == "" {
		return &core.ConfigurationError{Key: "DATABASE_URL", Reason: "is required"}
	}
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer db.Close()

	if err := Migrate(ctx, db, true); err != nil {
		return err
	}
	return EnsureVectorIndex(ctx, db, dim)
}
