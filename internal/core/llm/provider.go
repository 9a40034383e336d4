package llm

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/markdave123-py/knowledge-mcp/internal/config"
	"github.com/markdave123-py/knowledge-mcp/internal/core"
)

// NewEmbedder builds the configured provider and wraps it in the retrying Client.
// The returned close func releases the provider and cache connections.
func NewEmbedder(ctx context.Context, cfg *config.Config) (*Client, func(), error) {
	var (
		provider core.EmbeddingProvider
		closers  []func() error
	)
	switch cfg.EmbedProvider {
	case "openai":
		provider = NewOpenAIEmbedder(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.EmbedModel, cfg.EmbedDim)
	case "azure":
		provider = NewAzureEmbedder(cfg.AzureAPIKey, cfg.AzureEndpoint, cfg.EmbedModel, cfg.EmbedDim)
	case "gemini":
		g, err := NewGeminiEmbedder(ctx, cfg.GeminiAPIKey, cfg.EmbedModel)
		if err != nil {
			return nil, nil, fmt.Errorf("couldn't initialize the gemini embedder: %w", err)
		}
		provider = g
		closers = append(closers, g.Close)
	default:
		return nil, nil, &core.ConfigurationError{Key: "EMBED_PROVIDER", Reason: fmt.Sprintf("unknown provider %q", cfg.EmbedProvider)}
	}

	opts := Options{
		Dimension:   cfg.EmbedDim,
		MaxAttempts: cfg.EmbedMaxAttempts,
		BackoffBase: cfg.EmbedBackoffBase,
		Timeout:     cfg.EmbedTimeout,
		RateLimit:   cfg.EmbedRateLimit,
		BatchSize:   cfg.EmbedBatchSize,
	}
	if cfg.RedisURL != "" {
		cache, err := NewRedisCache(ctx, cfg.RedisURL, cfg.EmbedCacheTTL)
		if err != nil {
			// The cache is optional; embeddings still work without it.
			log.Warn().Err(err).Msg("embedding cache unavailable, continuing without it")
		} else {
			opts.Cache = cache
			closers = append(closers, cache.Close)
		}
	}

	log.Info().
		Str("provider", provider.Name()).
		Str("model", provider.Model()).
		Int("dim", cfg.EmbedDim).
		Bool("cache", opts.Cache != nil).
		Msg("embedding client ready")

	closeAll := func() {
		for _, c := range closers {
			_ = c()
		}
	}
	return NewClient(provider, opts), closeAll, nil
}
