package ingestion_engine

import (
	"github.com/markdave123-py/knowledge-mcp/internal/config"
	"github.com/markdave123-py/knowledge-mcp/internal/core/chunker"
)

// IngestConfig tunes chunking, embedding and retrieval.
//
// ChunkSize:     chunk budget in the unit of the chosen strategy (runes or tokens).
// ChunkOverlap:  amount carried from the end of one chunk into the next, same unit.
// Strategy:      chunking strategy; unusable strategies fall back to character.
// TokenEncoding: tiktoken encoding for the token strategy.
// BatchSize:     how many chunks are embedded concurrently.
// TopK:          default number of query results.
type IngestConfig struct {
	ChunkSize     int
	ChunkOverlap  int
	Strategy      chunker.Strategy
	TokenEncoding string
	BatchSize     int
	TopK          int
}

// IngestConfigFrom maps process configuration onto the ingestion knobs.
func IngestConfigFrom(cfg *config.Config) *IngestConfig {
	strategy, err := chunker.ParseStrategy(cfg.ChunkStrategy)
	if err != nil {
		strategy = chunker.StrategyCharacter
	}
	return &IngestConfig{
		ChunkSize:     cfg.ChunkSize,
		ChunkOverlap:  cfg.ChunkOverlap,
		Strategy:      strategy,
		TokenEncoding: cfg.TokenEncoding,
		BatchSize:     cfg.EmbedBatchSize,
		TopK:          cfg.QueryTopK,
	}
}

func (c *IngestConfig) withDefaults() *IngestConfig {
	out := IngestConfig{}
	if c != nil {
		out = *c
	}
	if out.ChunkSize <= 0 {
		out.ChunkSize = 1000
	}
	if out.ChunkOverlap < 0 || out.ChunkOverlap >= out.ChunkSize {
		out.ChunkOverlap = out.ChunkSize / 5
	}
	if out.Strategy == "" {
		out.Strategy = chunker.StrategyCharacter
	}
	if out.BatchSize <= 0 {
		out.BatchSize = 16
	}
	if out.TopK <= 0 {
		out.TopK = 5
	}
	return &out
}
