package ollama

import "context"

// TextEmbedder binds a Client to an embedding model name so consumers can
// depend on a one-method embedding interface.
type TextEmbedder struct {
	client *Client
	model  string
}

// NewTextEmbedder creates an embedder for the given model.
func (c *Client) NewTextEmbedder(model string) *TextEmbedder {
	return &TextEmbedder{client: c, model: model}
}

// Embed returns the embedding vector for the given text.
func (e *TextEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return e.client.Embed(ctx, e.model, text)
}

// Model returns the bound model name, used for the post-stage unload signal.
func (e *TextEmbedder) Model() string { return e.model }

// TextGenerator binds a Client to a generation model name.
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
	return g.client.Generate(ctx, g.model, prompt, nil, nil)
}
