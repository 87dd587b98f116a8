package config

import (
	"fmt"
	"net/url"
	"slices"
)

// Validate validates configuration values.
// Returns sentinel errors that can be checked with errors.Is().
func (c *Config) Validate() error {
	if c == nil {
		return ErrConfigNil
	}

	// 1. Provider validation
	switch c.Provider {
	case ProviderOllama:
		if c.OllamaHost == "" {
			return fmt.Errorf("%w: ollama_host cannot be empty", ErrMissingOllamaHost)
		}
		if _, err := url.ParseRequestURI(c.OllamaHost); err != nil {
			return fmt.Errorf("%w: %q: %v", ErrMissingOllamaHost, c.OllamaHost, err)
		}
	case ProviderGemini:
		if c.GeminiAPIKey == "" {
			return fmt.Errorf("%w: GEMINI_API_KEY environment variable is required for the gemini provider",
				ErrMissingAPIKey)
		}
	default:
		return fmt.Errorf("%w: %q, must be one of: ollama, gemini", ErrInvalidProvider, c.Provider)
	}

	// 2. Extraction service validation. A missing endpoint fails the process
	// at startup rather than the first document mid-pipeline.
	if c.ExtractorURL == "" {
		return fmt.Errorf("%w: extractor_url cannot be empty", ErrMissingExtractorURL)
	}
	if _, err := url.ParseRequestURI(c.ExtractorURL); err != nil {
		return fmt.Errorf("%w: %q: %v", ErrMissingExtractorURL, c.ExtractorURL, err)
	}

	// 3. Embedding dimension must match the vector column in the schema.
	// pgvector supports up to 16000 dimensions.
	if c.EmbeddingDim < 1 || c.EmbeddingDim > 16000 {
		return fmt.Errorf("%w: must be between 1 and 16000, got %d", ErrInvalidEmbeddingDim, c.EmbeddingDim)
	}

	// 4. Chunking validation: overlap must leave room for new content in
	// every chunk or the splitter cannot make progress.
	if c.MaxChars < 100 {
		return fmt.Errorf("%w: max_chars must be at least 100, got %d", ErrInvalidChunking, c.MaxChars)
	}
	if c.Overlap < 0 || c.Overlap >= c.MaxChars {
		return fmt.Errorf("%w: overlap must be in [0, max_chars), got overlap=%d max_chars=%d",
			ErrInvalidChunking, c.Overlap, c.MaxChars)
	}

	// 5. PostgreSQL configuration validation
	if c.PostgresHost == "" {
		return fmt.Errorf("%w: host cannot be empty", ErrInvalidPostgresHost)
	}
	if c.PostgresPort < 1 || c.PostgresPort > 65535 {
		return fmt.Errorf("%w: must be between 1 and 65535, got %d", ErrInvalidPostgresPort, c.PostgresPort)
	}
	if c.PostgresDBName == "" {
		return fmt.Errorf("%w: database name cannot be empty", ErrInvalidPostgresDBName)
	}

	// Modern SSL modes only; allow/prefer are deprecated and MITM vulnerable.
	validSSLModes := []string{"disable", "require", "verify-ca", "verify-full"}
	if !slices.Contains(validSSLModes, c.PostgresSSLMode) {
		return fmt.Errorf("%w: %q is not valid, must be one of: %v",
			ErrInvalidPostgresSSLMode, c.PostgresSSLMode, validSSLModes)
	}

	return nil
}

// ValidateVision checks that the configured provider can run the vision
// enrichment stage. The Gemini provider covers embedding and generation only;
// vision enrichment requires the Ollama host because it relies on the
// keep_alive unload contract for the shared GPU model.
func (c *Config) ValidateVision() error {
	if c.Provider != ProviderOllama {
		return fmt.Errorf("%w: %q (use --skip-vision or the ollama provider)", ErrVisionUnsupported, c.Provider)
	}
	return nil
}
