// Package config provides application configuration management with
// multi-source priority.
//
// Configuration sources (highest to lowest priority):
//  1. Environment variables (runtime override)
//  2. Config file (~/.vitalia/config.yaml or ./config.yaml)
//  3. Default values
//
// Main configuration categories:
//   - Model hosts: Ollama base URL, model names for embedding, generation
//     and vision, optional Gemini provider
//   - Extraction: partition service endpoint and timeout scaling
//   - Storage: PostgreSQL connection settings
//   - Chunking: default chunk size and overlap
//   - Serve: HTTP listen address, rate limiting, worker pool size
//
// Security: passwords and API keys are never logged; see MarshalJSON.
// Validation is fail-fast at startup so a missing endpoint surfaces as a
// configuration error before any document is touched.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strconv"

	"github.com/spf13/viper"
)

var (
	// ErrConfigNil indicates the configuration is nil.
	ErrConfigNil = errors.New("configuration is nil")

	// ErrMissingOllamaHost indicates the Ollama base URL is unset or invalid.
	ErrMissingOllamaHost = errors.New("missing or invalid Ollama host")

	// ErrMissingExtractorURL indicates the partition service endpoint is unset.
	ErrMissingExtractorURL = errors.New("missing extraction service URL")

	// ErrInvalidProvider indicates the model provider is not supported.
	ErrInvalidProvider = errors.New("invalid provider")

	// ErrMissingAPIKey indicates a required API key is missing.
	ErrMissingAPIKey = errors.New("missing API key")

	// ErrInvalidEmbeddingDim indicates the embedding dimension is out of range.
	ErrInvalidEmbeddingDim = errors.New("invalid embedding dimension")

	// ErrInvalidChunking indicates chunk size/overlap values are inconsistent.
	ErrInvalidChunking = errors.New("invalid chunking configuration")

	// ErrInvalidPostgresHost indicates the PostgreSQL host is invalid.
	ErrInvalidPostgresHost = errors.New("invalid PostgreSQL host")

	// ErrInvalidPostgresPort indicates the PostgreSQL port is out of range.
	ErrInvalidPostgresPort = errors.New("invalid PostgreSQL port")

	// ErrInvalidPostgresDBName indicates the PostgreSQL database name is invalid.
	ErrInvalidPostgresDBName = errors.New("invalid PostgreSQL database name")

	// ErrInvalidPostgresSSLMode indicates the PostgreSQL SSL mode is invalid.
	ErrInvalidPostgresSSLMode = errors.New("invalid PostgreSQL SSL mode")

	// ErrVisionUnsupported indicates the selected provider cannot run the
	// vision enrichment stage.
	ErrVisionUnsupported = errors.New("provider does not support vision enrichment")
)

// Model provider identifiers used in Config.Provider.
const (
	ProviderOllama = "ollama"
	ProviderGemini = "gemini"
)

// Chunking defaults, matching the ingestion contract.
const (
	DefaultMaxChars = 2000
	DefaultOverlap  = 300
)

// DefaultEmbeddingDim is the vector dimensionality pinned by the database
// schema. nomic-embed-text outputs 768 dimensions; changing the embedding
// model requires a migration of the document_chunks.embedding column.
const DefaultEmbeddingDim = 768

// Config stores application configuration.
// SECURITY: sensitive fields are explicitly masked in MarshalJSON().
type Config struct {
	// Model host configuration
	Provider        string `mapstructure:"provider" json:"provider"` // "ollama" (default) or "gemini"
	OllamaHost      string `mapstructure:"ollama_host" json:"ollama_host"`
	EmbeddingModel  string `mapstructure:"embedding_model" json:"embedding_model"`
	GenerationModel string `mapstructure:"generation_model" json:"generation_model"`
	VisionModel     string `mapstructure:"vision_model" json:"vision_model"`
	GeminiAPIKey    string `mapstructure:"gemini_api_key" json:"gemini_api_key"` // SENSITIVE: masked in MarshalJSON
	EmbeddingDim    int    `mapstructure:"embedding_dim" json:"embedding_dim"`

	// Extraction service configuration
	ExtractorURL string `mapstructure:"extractor_url" json:"extractor_url"`

	// Chunking defaults (overridable per ingest run)
	MaxChars int `mapstructure:"max_chars" json:"max_chars"`
	Overlap  int `mapstructure:"overlap" json:"overlap"`

	// Storage configuration
	PostgresHost     string `mapstructure:"postgres_host" json:"postgres_host"`
	PostgresPort     int    `mapstructure:"postgres_port" json:"postgres_port"`
	PostgresUser     string `mapstructure:"postgres_user" json:"postgres_user"`
	PostgresPassword string `mapstructure:"postgres_password" json:"postgres_password"` // SENSITIVE: masked in MarshalJSON
	PostgresDBName   string `mapstructure:"postgres_db_name" json:"postgres_db_name"`
	PostgresSSLMode  string `mapstructure:"postgres_ssl_mode" json:"postgres_ssl_mode"`

	// Serve mode configuration
	ListenAddr  string `mapstructure:"listen_addr" json:"listen_addr"`
	RateBurst   int    `mapstructure:"rate_burst" json:"rate_burst"`
	WorkerCount int    `mapstructure:"worker_count" json:"worker_count"`
}

// Load loads configuration.
// Priority: environment variables > configuration file > default values.
func Load() (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("getting user home directory: %w", err)
	}

	configDir := filepath.Join(home, ".vitalia")
	if err := os.MkdirAll(configDir, 0o750); err != nil {
		return nil, fmt.Errorf("creating config directory: %w", err)
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configDir)
	v.AddConfigPath(".")

	setDefaults(v)
	bindEnvVariables(v)

	if err := v.ReadInConfig(); err != nil {
		// Configuration file not found is not an error, use default values
		var configNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &configNotFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		slog.Debug("configuration file not found, using default values",
			"search_paths", []string{configDir, "."})
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	// DATABASE_URL overrides the individual postgres_* fields when set.
	if err := cfg.parseDatabaseURL(); err != nil {
		return nil, fmt.Errorf("parsing DATABASE_URL: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets all default configuration values.
func setDefaults(v *viper.Viper) {
	v.SetDefault("provider", ProviderOllama)
	v.SetDefault("ollama_host", "http://localhost:11434")
	v.SetDefault("embedding_model", "nomic-embed-text")
	v.SetDefault("generation_model", "llama3.1")
	v.SetDefault("vision_model", "llava")
	v.SetDefault("embedding_dim", DefaultEmbeddingDim)

	v.SetDefault("extractor_url", "http://localhost:8002/general/v0/general")

	v.SetDefault("max_chars", DefaultMaxChars)
	v.SetDefault("overlap", DefaultOverlap)

	v.SetDefault("postgres_host", "localhost")
	v.SetDefault("postgres_port", 5432)
	v.SetDefault("postgres_user", "vitalia")
	v.SetDefault("postgres_password", "vitalia_dev_password")
	v.SetDefault("postgres_db_name", "vitalia")
	v.SetDefault("postgres_ssl_mode", "disable")

	v.SetDefault("listen_addr", ":8080")
	v.SetDefault("rate_burst", 60)
	v.SetDefault("worker_count", 2)
}

// bindEnvVariables binds environment variables explicitly.
func bindEnvVariables(v *viper.Viper) {
	// Hardcoded keys cannot fail to bind; a panic here is a bug, not a
	// runtime error.
	mustBind := func(key, envVar string) {
		if err := v.BindEnv(key, envVar); err != nil {
			panic(fmt.Sprintf("BUG: failed to bind %q to %q: %v", key, envVar, err))
		}
	}

	mustBind("provider", "VITALIA_PROVIDER")
	mustBind("ollama_host", "VITALIA_OLLAMA_HOST")
	mustBind("embedding_model", "VITALIA_EMBEDDING_MODEL")
	mustBind("generation_model", "VITALIA_GENERATION_MODEL")
	mustBind("vision_model", "VITALIA_VISION_MODEL")
	mustBind("gemini_api_key", "GEMINI_API_KEY")
	mustBind("extractor_url", "UNSTRUCTURED_API_URL")
	mustBind("listen_addr", "VITALIA_LISTEN_ADDR")
	mustBind("rate_burst", "VITALIA_RATE_BURST")
	mustBind("worker_count", "VITALIA_WORKER_COUNT")
}

// parseDatabaseURL applies DATABASE_URL (if set) over the postgres_* fields.
func (c *Config) parseDatabaseURL() error {
	raw := os.Getenv("DATABASE_URL")
	if raw == "" {
		return nil
	}

	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid DATABASE_URL: %w", err)
	}
	if u.Scheme != "postgres" && u.Scheme != "postgresql" {
		return fmt.Errorf("unsupported DATABASE_URL scheme: %s", u.Scheme)
	}

	c.PostgresHost = u.Hostname()
	if p := u.Port(); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil {
			return fmt.Errorf("invalid DATABASE_URL port: %w", err)
		}
		c.PostgresPort = port
	}
	if u.User != nil {
		c.PostgresUser = u.User.Username()
		if pw, ok := u.User.Password(); ok {
			c.PostgresPassword = pw
		}
	}
	if name := filepath.Base(u.Path); name != "" && name != "/" && name != "." {
		c.PostgresDBName = name
	}
	if mode := u.Query().Get("sslmode"); mode != "" {
		c.PostgresSSLMode = mode
	}
	return nil
}

// DatabaseURL returns the postgres:// connection URL assembled from the
// individual fields. Used by both the pgx pool and golang-migrate.
func (c *Config) DatabaseURL() string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(c.PostgresUser, c.PostgresPassword),
		Host:   fmt.Sprintf("%s:%d", c.PostgresHost, c.PostgresPort),
		Path:   "/" + c.PostgresDBName,
	}
	q := url.Values{}
	q.Set("sslmode", c.PostgresSSLMode)
	u.RawQuery = q.Encode()
	return u.String()
}

// maskedValue is the placeholder for masked sensitive data.
const maskedValue = "████████"

// maskSecret masks a secret string for safe logging. Secrets of 8 characters
// or fewer are fully masked to prevent substring matching; longer secrets
// keep the first and last two characters for debug utility.
func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 8 {
		return maskedValue
	}
	return s[:2] + "<" + maskedValue + ">" + s[len(s)-2:]
}

// MarshalJSON implements json.Marshaler with explicit sensitive field masking.
// When adding new sensitive fields, update this method.
func (c Config) MarshalJSON() ([]byte, error) {
	type alias Config
	a := alias(c)
	a.PostgresPassword = maskSecret(a.PostgresPassword)
	a.GeminiAPIKey = maskSecret(a.GeminiAPIKey)
	data, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	return data, nil
}

// String implements Stringer to prevent accidental printing of secrets.
func (c Config) String() string {
	data, err := c.MarshalJSON()
	if err != nil {
		return fmt.Sprintf("Config{error: %v}", err)
	}
	return string(data)
}
