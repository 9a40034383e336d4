package llm

import (
	"context"
	"errors"

	"github.com/sashabaranov/go-openai"

	"github.com/markdave123-py/knowledge-mcp/internal/core"
)

// OpenAIEmbedder calls the OpenAI (or Azure OpenAI) embeddings endpoint for one text at a time.
type OpenAIEmbedder struct {
	client    *openai.Client
	name      string
	modelName string
	dim       int
}

// NewOpenAIEmbedder targets api.openai.com, or baseURL when set (OpenAI-compatible servers).
func NewOpenAIEmbedder(apiKey, baseURL, modelName string, dim int) *OpenAIEmbedder {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	if modelName == "" {
		modelName = string(openai.SmallEmbedding3)
	}
	return &OpenAIEmbedder{client: openai.NewClientWithConfig(cfg), name: "openai", modelName: modelName, dim: dim}
}

// NewAzureEmbedder targets an Azure OpenAI resource; modelName is the deployment name.
func NewAzureEmbedder(apiKey, endpoint, modelName string, dim int) *OpenAIEmbedder {
	cfg := openai.DefaultAzureConfig(apiKey, endpoint)
	if modelName == "" {
		modelName = string(openai.SmallEmbedding3)
	}
	return &OpenAIEmbedder{client: openai.NewClientWithConfig(cfg), name: "azure", modelName: modelName, dim: dim}
}

func (o *OpenAIEmbedder) Name() string  { return o.name }
func (o *OpenAIEmbedder) Model() string { return o.modelName }

func (o *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	req := openai.EmbeddingRequest{
		Input: []string{text},
		Model: openai.EmbeddingModel(o.modelName),
	}
	// ada-002 rejects the dimensions parameter.
	if o.dim > 0 && o.modelName != string(openai.AdaEmbeddingV2) {
		req.Dimensions = o.dim
	}

	resp, err := o.client.CreateEmbeddings(ctx, req)
	if err != nil {
		return nil, err
	}
	if len(resp.Data) == 0 {
		return nil, errors.New("empty embedding response")
	}
	return resp.Data[0].Embedding, nil
}

var _ core.EmbeddingProvider = (*OpenAIEmbedder)(nil)
