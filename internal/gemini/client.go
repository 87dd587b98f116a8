// Package gemini is a model host adapter backed by the Google GenAI SDK.
//
// It is the alternative to the default Ollama host for embedding and
// generation. Vision enrichment is not offered here: the enrichment stage
// depends on the explicit GPU unload contract of a locally hosted model,
// which a remote API does not expose.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"google.golang.org/genai"
)

// ErrService indicates the Gemini API returned an error.
var ErrService = errors.New("gemini service error")

// Client wraps a genai.Client. Safe for concurrent use.
type Client struct {
	genai  *genai.Client
	logger *slog.Logger
}

// NewClient creates a Gemini client with the given API key.
func NewClient(ctx context.Context, apiKey string, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}

	c, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: apiKey})
	if err != nil {
		return nil, fmt.Errorf("creating genai client: %w", err)
	}

	return &Client{genai: c, logger: logger}, nil
}

// TextEmbedder binds the client to an embedding model and output dimension.
// The dimension must match the vector column in the database schema.
type TextEmbedder struct {
	client *Client
	model  string
	dim    int32
}

// NewTextEmbedder creates an embedder for the given model and dimension.
func (c *Client) NewTextEmbedder(model string, dim int32) *TextEmbedder {
	return &TextEmbedder{client: c, model: model, dim: dim}
}

// Embed returns the embedding vector for the given text, truncated to the
// configured output dimensionality.
func (e *TextEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	dim := e.dim
	result, err := e.client.genai.Models.EmbedContent(ctx, e.model, genai.Text(text),
		&genai.EmbedContentConfig{
			OutputDimensionality: &dim,
			TaskType:             "RETRIEVAL_DOCUMENT",
		})
	if err != nil {
		return nil, fmt.Errorf("%w: embed: %v", ErrService, err)
	}
	if len(result.Embeddings) == 0 || len(result.Embeddings[0].Values) == 0 {
		return nil, fmt.Errorf("%w: empty embedding returned", ErrService)
	}
	return result.Embeddings[0].Values, nil
}

// TextGenerator binds the client to a generation model.
type TextGenerator struct {
	client *Client
	model  string
}

// NewTextGenerator creates a generator for the given model.
func (c *Client) NewTextGenerator(model string) *TextGenerator {
	return &TextGenerator{client: c, model: model}
}

// Generate runs a single completion for the given prompt.
func (g *TextGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	result, err := g.client.genai.Models.GenerateContent(ctx, g.model, genai.Text(prompt), nil)
	if err != nil {
		return "", fmt.Errorf("%w: generate: %v", ErrService, err)
	}
	return result.Text(), nil
}
