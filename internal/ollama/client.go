// Package ollama is an HTTP adapter for an Ollama-compatible model host.
//
// It covers the three operations the ingestion and retrieval pipelines need:
// text generation (optionally with image payloads for vision models),
// embeddings, and an explicit model unload. Unload issues a generate request
// with keep_alive=0, which tells the host to evict the model from GPU memory
// immediately; the vision stage uses this to hand the GPU back before the
// embedding model loads.
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// ErrService indicates the model host is unreachable or returned a
// non-success response.
var ErrService = errors.New("ollama service error")

// Default configuration values.
const (
	DefaultBaseURL = "http://localhost:11434"
	DefaultTimeout = 20 * time.Minute // local models on busy GPUs are slow
)

// Config holds client configuration.
type Config struct {
	// BaseURL is the Ollama API base URL (default: http://localhost:11434).
	BaseURL string

	// Timeout is the per-request timeout (default: 20m).
	Timeout time.Duration
}

// Client talks to an Ollama-compatible host. Safe for concurrent use.
type Client struct {
	httpClient *http.Client
	baseURL    string
	logger     *slog.Logger
}

// GenerateOptions holds sampling options passed through to the model.
type GenerateOptions struct {
	Temperature float64 `json:"temperature"`
}

type generateRequest struct {
	Model     string           `json:"model"`
	Prompt    string           `json:"prompt"`
	Stream    bool             `json:"stream"`
	Images    []string         `json:"images,omitempty"`
	Options   *GenerateOptions `json:"options,omitempty"`
	KeepAlive *int             `json:"keep_alive,omitempty"`
}

type generateResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

type embedRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type embedResponse struct {
	Embedding []float32 `json:"embedding"`
}

// NewClient creates a new Ollama client.
func NewClient(cfg Config, logger *slog.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		baseURL:    cfg.BaseURL,
		logger:     logger,
	}
}

// Generate runs a single non-streaming completion. images carries base64
// payloads for vision models; opts may be nil for model defaults.
func (c *Client) Generate(ctx context.Context, model, prompt string, images []string, opts *GenerateOptions) (string, error) {
	reqBody := generateRequest{
		Model:   model,
		Prompt:  prompt,
		Stream:  false,
		Images:  images,
		Options: opts,
	}

	var resp generateResponse
	if err := c.post(ctx, "/api/generate", reqBody, &resp); err != nil {
		return "", err
	}
	return resp.Response, nil
}

// Embed returns the embedding vector for the given text.
func (c *Client) Embed(ctx context.Context, model, text string) ([]float32, error) {
	var resp embedResponse
	if err := c.post(ctx, "/api/embeddings", embedRequest{Model: model, Prompt: text}, &resp); err != nil {
		return nil, err
	}
	if len(resp.Embedding) == 0 {
		return nil, fmt.Errorf("%w: empty embedding returned", ErrService)
	}
	return resp.Embedding, nil
}

// Unload asks the host to evict the model from GPU memory immediately.
// Best effort: callers log failures but never fail a pipeline on them.
func (c *Client) Unload(ctx context.Context, model string) error {
	zero := 0
	reqBody := generateRequest{
		Model:     model,
		Prompt:    "",
		Stream:    false,
		KeepAlive: &zero,
	}

	var resp generateResponse
	if err := c.post(ctx, "/api/generate", reqBody, &resp); err != nil {
		return fmt.Errorf("unloading model %q: %w", model, err)
	}
	c.logger.Debug("model unloaded", "model", model)
	return nil
}

// post sends a JSON request and decodes the JSON response into out.
func (c *Client) post(ctx context.Context, path string, body, out any) error {
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(jsonBody))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrService, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		msg, readErr := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if readErr != nil {
			msg = []byte("(unreadable body)")
		}
		return fmt.Errorf("%w: %s status %d: %s", ErrService, path, resp.StatusCode, string(msg))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decoding %s response: %v", ErrService, path, err)
	}
	return nil
}
