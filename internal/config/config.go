// Package config loads searchbridge configuration from an optional YAML file
// with environment variable overrides. Every recognized option has a
// SEARCHBRIDGE_* environment knob; env always wins over file values.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/searchbridge/searchbridge/internal/apperr"
)

// defaultAPISecretSentinel is the placeholder shipped in example configs.
// Deployments must replace it; validation rejects it outright.
const defaultAPISecretSentinel = "change-me-searchbridge-api-secret-0000"

// Config is the root configuration for both the API server and the worker.
type Config struct {
	Environment string        `yaml:"environment"`
	Server      ServerConfig  `yaml:"server"`
	Logging     LoggingConfig `yaml:"logging"`
	Auth        AuthConfig    `yaml:"auth"`
	Embedder    EmbedConfig   `yaml:"embedder"`
	Vector      VectorConfig  `yaml:"vector_store"`
	BM25        BM25Config    `yaml:"bm25"`
	Chunking    ChunkConfig   `yaml:"chunking"`
	Search      SearchConfig  `yaml:"search"`
	Queue       QueueConfig   `yaml:"queue"`
	Database    DBConfig      `yaml:"database"`
	Crawler     CrawlerConfig `yaml:"crawler"`
	TestMode    bool          `yaml:"test_mode"`
}

type ServerConfig struct {
	Host        string   `yaml:"host"`
	Port        int      `yaml:"port"`
	CORSOrigins []string `yaml:"cors_origins"`
	// AllowWildcardCORS permits "*" origins in production. Off by default.
	AllowWildcardCORS bool `yaml:"allow_wildcard_cors"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type AuthConfig struct {
	// APISecret authenticates search API callers (bearer token).
	APISecret string `yaml:"api_secret"`
	// WebhookSecret signs crawler webhook payloads (HMAC-SHA256).
	WebhookSecret string `yaml:"webhook_secret"`
}

type EmbedConfig struct {
	URL       string        `yaml:"url"`
	APIKey    string        `yaml:"api_key"`
	Model     string        `yaml:"model"`
	VectorDim int           `yaml:"vector_dim"`
	Timeout   time.Duration `yaml:"timeout"`
	// CacheSize is the LRU capacity for query embedding reuse. 0 disables.
	CacheSize int `yaml:"cache_size"`
}

type VectorConfig struct {
	Host       string        `yaml:"host"`
	Port       int           `yaml:"port"`
	APIKey     string        `yaml:"api_key"`
	UseTLS     bool          `yaml:"use_tls"`
	Collection string        `yaml:"collection"`
	Timeout    time.Duration `yaml:"timeout"`
}

type BM25Config struct {
	K1 float64 `yaml:"k1"`
	B  float64 `yaml:"b"`
	// IndexPath is the snapshot file; the lock file is IndexPath + ".lock".
	IndexPath   string        `yaml:"index_path"`
	LockTimeout time.Duration `yaml:"lock_timeout"`
}

type ChunkConfig struct {
	MaxTokens     int    `yaml:"max_tokens"`
	OverlapTokens int    `yaml:"overlap_tokens"`
	Encoding      string `yaml:"encoding"`
}

type SearchConfig struct {
	RRFK int `yaml:"rrf_k"`
}

type QueueConfig struct {
	URL        string        `yaml:"url"`
	JobTimeout time.Duration `yaml:"indexing_job_timeout"`
	// Concurrency bounds parallel pipelines within one batch.
	Concurrency int `yaml:"concurrency"`
}

type CrawlerConfig struct {
	// URL is the scraping service API base, used by the rescraper.
	URL     string        `yaml:"url"`
	APIKey  string        `yaml:"api_key"`
	Timeout time.Duration `yaml:"timeout"`
}

type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Name     string `yaml:"name"`
	SSLMode  string `yaml:"ssl_mode"`
	Schema   string `yaml:"schema"`
}

// Default returns the built-in defaults before file and env overlays.
func Default() *Config {
	return &Config{
		Environment: "development",
		Server: ServerConfig{
			Host:        "0.0.0.0",
			Port:        8080,
			CORSOrigins: []string{"http://localhost:3000"},
		},
		Logging: LoggingConfig{Level: "info", Format: "json"},
		Embedder: EmbedConfig{
			URL:       "http://localhost:8081",
			Model:     "BAAI/bge-small-en-v1.5",
			VectorDim: 384,
			Timeout:   30 * time.Second,
			CacheSize: 512,
		},
		Vector: VectorConfig{
			Host:       "localhost",
			Port:       6334,
			Collection: "scraped_pages",
			Timeout:    60 * time.Second,
		},
		BM25: BM25Config{
			K1:          1.5,
			B:           0.75,
			IndexPath:   "data/bm25_index.bin",
			LockTimeout: 30 * time.Second,
		},
		Chunking: ChunkConfig{
			MaxTokens:     256,
			OverlapTokens: 50,
			Encoding:      "cl100k_base",
		},
		Search: SearchConfig{RRFK: 60},
		Queue: QueueConfig{
			URL:         "redis://localhost:6379/0",
			JobTimeout:  10 * time.Minute,
			Concurrency: 8,
		},
		Crawler: CrawlerConfig{
			URL:     "http://localhost:3002",
			Timeout: 60 * time.Second,
		},
		Database: DBConfig{
			Host:    "localhost",
			Port:    5432,
			User:    "searchbridge",
			Name:    "searchbridge",
			SSLMode: "disable",
			Schema:  "webhook",
		},
	}
}

// Load builds the configuration: defaults, then the YAML file at path (if
// non-empty and present), then environment overrides, then validation.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, apperr.Wrap(apperr.CodeConfigInvalid, err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, apperr.Wrap(apperr.CodeConfigInvalid, err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overlays SEARCHBRIDGE_* environment variables.
func (c *Config) applyEnv() {
	c.Environment = getEnv("SEARCHBRIDGE_ENV", c.Environment)

	c.Server.Host = getEnv("SEARCHBRIDGE_HOST", c.Server.Host)
	c.Server.Port = getEnvInt("SEARCHBRIDGE_PORT", c.Server.Port)
	c.Server.CORSOrigins = getEnvSlice("SEARCHBRIDGE_CORS_ORIGINS", c.Server.CORSOrigins)
	c.Server.AllowWildcardCORS = getEnvBool("SEARCHBRIDGE_ALLOW_WILDCARD_CORS", c.Server.AllowWildcardCORS)

	c.Logging.Level = getEnv("SEARCHBRIDGE_LOG_LEVEL", c.Logging.Level)
	c.Logging.Format = getEnv("SEARCHBRIDGE_LOG_FORMAT", c.Logging.Format)

	c.Auth.APISecret = getEnv("SEARCHBRIDGE_API_SECRET", c.Auth.APISecret)
	c.Auth.WebhookSecret = getEnv("SEARCHBRIDGE_WEBHOOK_SECRET", c.Auth.WebhookSecret)

	c.Embedder.URL = getEnv("SEARCHBRIDGE_EMBEDDER_URL", c.Embedder.URL)
	c.Embedder.APIKey = getEnv("SEARCHBRIDGE_EMBEDDER_API_KEY", c.Embedder.APIKey)
	c.Embedder.Model = getEnv("SEARCHBRIDGE_EMBEDDING_MODEL", c.Embedder.Model)
	c.Embedder.VectorDim = getEnvInt("SEARCHBRIDGE_VECTOR_DIM", c.Embedder.VectorDim)
	c.Embedder.Timeout = getEnvDuration("SEARCHBRIDGE_EMBEDDER_TIMEOUT", c.Embedder.Timeout)
	c.Embedder.CacheSize = getEnvInt("SEARCHBRIDGE_EMBEDDER_CACHE_SIZE", c.Embedder.CacheSize)

	c.Vector.Host = getEnv("SEARCHBRIDGE_VECTOR_STORE_HOST", c.Vector.Host)
	c.Vector.Port = getEnvInt("SEARCHBRIDGE_VECTOR_STORE_PORT", c.Vector.Port)
	c.Vector.APIKey = getEnv("SEARCHBRIDGE_VECTOR_STORE_API_KEY", c.Vector.APIKey)
	c.Vector.UseTLS = getEnvBool("SEARCHBRIDGE_VECTOR_STORE_TLS", c.Vector.UseTLS)
	c.Vector.Collection = getEnv("SEARCHBRIDGE_COLLECTION_NAME", c.Vector.Collection)
	c.Vector.Timeout = getEnvDuration("SEARCHBRIDGE_VECTOR_STORE_TIMEOUT", c.Vector.Timeout)

	c.BM25.K1 = getEnvFloat("SEARCHBRIDGE_BM25_K1", c.BM25.K1)
	c.BM25.B = getEnvFloat("SEARCHBRIDGE_BM25_B", c.BM25.B)
	c.BM25.IndexPath = getEnv("SEARCHBRIDGE_BM25_INDEX_PATH", c.BM25.IndexPath)
	c.BM25.LockTimeout = getEnvDuration("SEARCHBRIDGE_BM25_LOCK_TIMEOUT", c.BM25.LockTimeout)

	c.Chunking.MaxTokens = getEnvInt("SEARCHBRIDGE_MAX_CHUNK_TOKENS", c.Chunking.MaxTokens)
	c.Chunking.OverlapTokens = getEnvInt("SEARCHBRIDGE_CHUNK_OVERLAP_TOKENS", c.Chunking.OverlapTokens)
	c.Chunking.Encoding = getEnv("SEARCHBRIDGE_CHUNK_ENCODING", c.Chunking.Encoding)

	c.Search.RRFK = getEnvInt("SEARCHBRIDGE_RRF_K", c.Search.RRFK)

	c.Queue.URL = getEnv("SEARCHBRIDGE_QUEUE_URL", c.Queue.URL)
	c.Queue.JobTimeout = getEnvDuration("SEARCHBRIDGE_INDEXING_JOB_TIMEOUT", c.Queue.JobTimeout)
	c.Queue.Concurrency = getEnvInt("SEARCHBRIDGE_QUEUE_CONCURRENCY", c.Queue.Concurrency)

	c.Crawler.URL = getEnv("SEARCHBRIDGE_CRAWLER_URL", c.Crawler.URL)
	c.Crawler.APIKey = getEnv("SEARCHBRIDGE_CRAWLER_API_KEY", c.Crawler.APIKey)
	c.Crawler.Timeout = getEnvDuration("SEARCHBRIDGE_CRAWLER_TIMEOUT", c.Crawler.Timeout)

	c.Database.Host = getEnv("SEARCHBRIDGE_DB_HOST", c.Database.Host)
	c.Database.Port = getEnvInt("SEARCHBRIDGE_DB_PORT", c.Database.Port)
	c.Database.User = getEnv("SEARCHBRIDGE_DB_USER", c.Database.User)
	c.Database.Password = getEnv("SEARCHBRIDGE_DB_PASSWORD", c.Database.Password)
	c.Database.Name = getEnv("SEARCHBRIDGE_DB_NAME", c.Database.Name)
	c.Database.SSLMode = getEnv("SEARCHBRIDGE_DB_SSL_MODE", c.Database.SSLMode)
	c.Database.Schema = getEnv("SEARCHBRIDGE_DB_SCHEMA", c.Database.Schema)

	c.TestMode = getEnvBool("SEARCHBRIDGE_TEST_MODE", c.TestMode)
}

// Validate enforces the secret-strength and CORS rules. Test mode skips the
// secret checks because stubbed services never see real traffic.
func (c *Config) Validate() error {
	if !c.TestMode {
		if len(c.Auth.APISecret) < 32 {
			return apperr.New(apperr.CodeConfigInvalid,
				"api_secret must be at least 32 characters", nil)
		}
		if c.Auth.APISecret == defaultAPISecretSentinel {
			return apperr.New(apperr.CodeConfigInvalid,
				"api_secret must be changed from the default value", nil)
		}
		if l := len(c.Auth.WebhookSecret); l < 16 || l > 256 {
			return apperr.New(apperr.CodeConfigInvalid,
				"webhook_secret must be between 16 and 256 characters", nil)
		}
		if strings.TrimSpace(c.Auth.WebhookSecret) != c.Auth.WebhookSecret {
			return apperr.New(apperr.CodeConfigInvalid,
				"webhook_secret must not have leading or trailing whitespace", nil)
		}
	}

	if c.IsProduction() && !c.Server.AllowWildcardCORS {
		for _, origin := range c.Server.CORSOrigins {
			if origin == "*" {
				return apperr.New(apperr.CodeConfigInvalid,
					"wildcard CORS origin is not allowed in production", nil)
			}
		}
	}

	if c.Embedder.VectorDim <= 0 {
		return apperr.New(apperr.CodeConfigInvalid, "vector_dim must be positive", nil)
	}
	if c.Chunking.OverlapTokens >= c.Chunking.MaxTokens {
		return apperr.New(apperr.CodeConfigInvalid,
			"chunk_overlap_tokens must be smaller than max_chunk_tokens", nil)
	}

	return nil
}

// IsProduction reports whether the environment is production.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Environment, "production")
}

// DatabaseDSN renders the Postgres connection string.
func (c *Config) DatabaseDSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s search_path=%s",
		c.Database.Host, c.Database.Port, c.Database.User, c.Database.Password,
		c.Database.Name, c.Database.SSLMode, c.Database.Schema)
}

// ServerAddress renders the host:port listen address.
func (c *Config) ServerAddress() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
		// Bare integers are treated as seconds for container-env convenience.
		if n, err := strconv.Atoi(v); err == nil {
			return time.Duration(n) * time.Second
		}
	}
	return fallback
}

func getEnvSlice(key string, fallback []string) []string {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				out = append(out, trimmed)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return fallback
}
