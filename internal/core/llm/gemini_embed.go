package llm

import (
	"context"
	"errors"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/markdave123-py/knowledge-mcp/internal/core"
)

type GeminiEmbedder struct {
	client    *genai.Client
	modelName string
}

func NewGeminiEmbedder(ctx context.Context, apiKey, modelName string) (*GeminiEmbedder, error) {
	cl, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, err
	}
	if modelName == "" {
		modelName = "text-embedding-004"
	}
	return &GeminiEmbedder{client: cl, modelName: modelName}, nil
}

func (g *GeminiEmbedder) Close() error {
	if g.client != nil {
		return g.client.Close()
	}
	return nil
}

func (g *GeminiEmbedder) Name() string  { return "gemini" }
func (g *GeminiEmbedder) Model() string { return g.modelName }

func (g *GeminiEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return g.embed(ctx, text, genai.TaskTypeRetrievalDocument)
}

// EmbedQuery encodes a search query for retrieval against documents from Embed.
func (g *GeminiEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return g.embed(ctx, text, genai.TaskTypeRetrievalQuery)
}

func (g *GeminiEmbedder) embed(ctx context.Context, text string, task genai.TaskType) ([]float32, error) {
	em := g.client.EmbeddingModel(g.modelName)
	em.TaskType = task

	resp, err := em.EmbedContent(ctx, genai.Text(text))
	if err != nil {
		return nil, err
	}
	if resp.Embedding == nil {
		return nil, errors.New("empty embedding response")
	}
	return resp.Embedding.Values, nil
}

var (
	_ core.EmbeddingProvider = (*GeminiEmbedder)(nil)
	_ core.QueryEmbedder     = (*GeminiEmbedder)(nil)
)
