package rag

import (
	"context"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
)

// Embedder turns texts into vectors. A nil embedder is valid: the
// service then indexes without vectors and search falls back to
// keyword matching.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float64, error)
}

const defaultEmbeddingModel = "text-embedding-3-small"

// OpenAIEmbedder embeds through an OpenAI-compatible embeddings
// endpoint.
type OpenAIEmbedder struct {
	client *openai.Client
	model  string
}

// NewOpenAIEmbedder builds an embedder for the given API key. An
// empty model selects text-embedding-3-small; a base URL points the
// client at a compatible server.
func NewOpenAIEmbedder(apiKey, baseURL, model string) *OpenAIEmbedder {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	if model == "" {
		model = defaultEmbeddingModel
	}
	return &OpenAIEmbedder{client: openai.NewClientWithConfig(cfg), model: model}
}

// Embed implements Embedder. Output order matches input order.
func (e *OpenAIEmbedder) Embed(ctx context.Context, texts []string) ([][]float64, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: texts,
		Model: openai.EmbeddingModel(e.model),
	})
	if err != nil {
		return nil, fmt.Errorf("create embeddings: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("embeddings: got %d vectors for %d texts", len(resp.Data), len(texts))
	}
	out := make([][]float64, len(texts))
	for _, d := range resp.Data {
		vec := make([]float64, len(d.Embedding))
		for i, v := range d.Embedding {
			vec[i] = float64(v)
		}
		out[d.Index] = vec
	}
	return out, nil
}
