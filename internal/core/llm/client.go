package llm

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/markdave123-py/knowledge-mcp/internal/core"
)

const maxBackoff = 30 * time.Second

// Options tunes the retrying embedding client.
//
// Dimension:   expected vector length; any other length is a malformed response.
// MaxAttempts: total tries per text, including the first.
// BackoffBase: delay before the second attempt; doubles per attempt, plus jitter, capped at 30s.
// Timeout:     per-attempt deadline.
// RateLimit:   requests per second across all callers; 0 disables limiting.
// BatchSize:   default group size for EmbedBatch.
// Cache:       optional vector cache consulted before the provider.
type Options struct {
	Dimension   int
	MaxAttempts int
	BackoffBase time.Duration
	Timeout     time.Duration
	RateLimit   float64
	BatchSize   int
	Cache       VectorCache
}

// Client wraps an EmbeddingProvider with retry, classification, rate limiting and caching.
type Client struct {
	provider core.EmbeddingProvider
	opts     Options
	limiter  *rate.Limiter
	sleep    func(ctx context.Context, d time.Duration) error
}

func NewClient(provider core.EmbeddingProvider, opts Options) *Client {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.BackoffBase <= 0 {
		opts.BackoffBase = 500 * time.Millisecond
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 16
	}
	c := &Client{provider: provider, opts: opts, sleep: sleepCtx}
	if opts.RateLimit > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), max(1, int(opts.RateLimit)))
	}
	return c
}

func (c *Client) Dimension() int { return c.opts.Dimension }

// Embed returns the document vector for text, retrying transient provider failures.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	return c.embed(ctx, text, false)
}

// EmbedQuery returns the search-query vector for text. Providers without a query mode
// answer with their document vector.
func (c *Client) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return c.embed(ctx, text, true)
}

func (c *Client) embed(ctx context.Context, text string, query bool) ([]float32, error) {
	qp, hasQueryMode := c.provider.(core.QueryEmbedder)
	query = query && hasQueryMode
	cacheModel := c.provider.Model()
	if query {
		cacheModel += "#query"
	}
	if c.opts.Cache != nil {
		if vec, ok := c.opts.Cache.Get(ctx, cacheModel, text); ok && c.validDim(vec) {
			return vec, nil
		}
	}

	var lastErr error
	for attempt := 0; attempt < c.opts.MaxAttempts; attempt++ {
		if attempt > 0 {
			delay := c.backoff(attempt - 1)
			kind, _ := classify(lastErr)
			log.Warn().
				Err(lastErr).
				Str("provider", c.provider.Name()).
				Int("attempt", attempt).
				Str("kind", string(kind)).
				Dur("delay", delay).
				Msg("embedding attempt failed, retrying")
			if err := c.sleep(ctx, delay); err != nil {
				return nil, c.wrap(lastErr, attempt)
			}
		}

		call := c.provider.Embed
		if query {
			call = qp.EmbedQuery
		}
		vec, err := c.attempt(ctx, call, text)
		if err == nil {
			if !c.validDim(vec) {
				return nil, &core.EmbeddingError{
					Kind:     core.EmbeddingMalformed,
					Provider: c.provider.Name(),
					Attempts: attempt + 1,
					Err:      fmt.Errorf("got %d dimensions, want %d", len(vec), c.opts.Dimension),
				}
			}
			if c.opts.Cache != nil {
				c.opts.Cache.Set(ctx, cacheModel, text, vec)
			}
			return vec, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return nil, c.wrap(err, attempt+1)
		}
		if kind, _ := classify(err); !kind.Retryable() {
			return nil, c.wrap(err, attempt+1)
		}
	}
	return nil, c.wrap(lastErr, c.opts.MaxAttempts)
}

func (c *Client) attempt(ctx context.Context, call func(context.Context, string) ([]float32, error), text string) ([]float32, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}
	cctx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()
	return call(cctx, text)
}

// EmbedBatch embeds texts concurrently in groups of batchSize and returns vectors in input order.
func (c *Client) EmbedBatch(ctx context.Context, texts []string, batchSize int) ([][]float32, error) {
	if batchSize <= 0 {
		batchSize = c.opts.BatchSize
	}
	out := make([][]float32, len(texts))
	for start := 0; start < len(texts); start += batchSize {
		end := min(start+batchSize, len(texts))
		g, gctx := errgroup.WithContext(ctx)
		for i := start; i < end; i++ {
			g.Go(func() error {
				vec, err := c.Embed(gctx, texts[i])
				if err != nil {
					return err
				}
				out[i] = vec
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (c *Client) validDim(vec []float32) bool {
	return c.opts.Dimension <= 0 || len(vec) == c.opts.Dimension
}

func (c *Client) backoff(attempt int) time.Duration {
	d := c.opts.BackoffBase << attempt
	if d <= 0 || d > maxBackoff {
		d = maxBackoff
	}
	jitter := time.Duration(rand.Int64N(int64(c.opts.BackoffBase)))
	return min(d+jitter, maxBackoff)
}

func (c *Client) wrap(err error, attempts int) error {
	kind, code := classify(err)
	return &core.EmbeddingError{
		Kind:       kind,
		Provider:   c.provider.Name(),
		StatusCode: code,
		Attempts:   attempts,
		Err:        err,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

var (
	_ core.Embedder      = (*Client)(nil)
	_ core.QueryEmbedder = (*Client)(nil)
)
