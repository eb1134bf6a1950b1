// Package config loads and validates application configuration from
// environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration.
type Config struct {
	// Server settings.
	Port                int
	ReadTimeout         time.Duration
	WriteTimeout        time.Duration
	RequestDeadline     time.Duration // per-request budget; sub-retrievals inherit it
	MaxRequestBodyBytes int64

	// Corpus store. Empty DATABASE_URL selects the in-memory store,
	// optionally seeded from CorpusPath (a JSON incident export).
	DatabaseURL string
	CorpusPath  string

	// Qdrant settings. Empty URL selects the in-process vector index.
	QdrantURL        string
	QdrantAPIKey     string
	QdrantCollection string

	// Gemini provider settings (embeddings and generation).
	GeminiAPIKey        string
	EmbeddingProvider   string // "auto", "genai", or "noop"
	EmbeddingModel      string
	EmbeddingDimensions int // Vector dimensions; immutable once the corpus is built.
	GenerationModel     string
	MaxOutputTokens     int

	// Embedding cache. Redis when REDIS_URL is set, in-memory otherwise.
	RedisURL      string
	EmbedCacheTTL time.Duration

	// Outbound provider gate (token bucket over embed + generate calls).
	ProviderRPS     float64
	ProviderBurst   int
	ProviderBacklog int

	// Inbound rate limiting (per-IP token buckets on the HTTP surface).
	RateLimitEnabled bool

	// Feedback sink. Set KIOKU_FEEDBACK_DB= (empty) to disable the sink;
	// the feedback endpoint then answers 503.
	FeedbackDB           string
	FeedbackBufferSize   int
	FeedbackFlushTimeout time.Duration

	// Ingestion worker pool size.
	IngestWorkers int

	// MCP transport at /mcp.
	MCPEnabled bool

	// OTEL settings.
	OTELEndpoint string
	OTELInsecure bool
	ServiceName  string

	// Operational settings.
	LogLevel             string
	ShutdownHTTPTimeout  time.Duration
	ShutdownDrainTimeout time.Duration
}

// Load reads configuration from environment variables with sensible
// defaults. Every malformed variable is reported, not just the first.
func Load() (Config, error) {
	var errs []error
	collectInt := func(key string, def int) int {
		v, err := envInt(key, def)
		if err != nil {
			errs = append(errs, err)
		}
		return v
	}
	collectBool := func(key string, def bool) bool {
		v, err := envBool(key, def)
		if err != nil {
			errs = append(errs, err)
		}
		return v
	}
	collectFloat := func(key string, def float64) float64 {
		v, err := envFloat(key, def)
		if err != nil {
			errs = append(errs, err)
		}
		return v
	}
	collectDuration := func(key string, def time.Duration) time.Duration {
		v, err := envDuration(key, def)
		if err != nil {
			errs = append(errs, err)
		}
		return v
	}

	cfg := Config{
		Port:                 collectInt("KIOKU_PORT", 8080),
		ReadTimeout:          collectDuration("KIOKU_READ_TIMEOUT", 30*time.Second),
		WriteTimeout:         collectDuration("KIOKU_WRITE_TIMEOUT", 30*time.Second),
		RequestDeadline:      collectDuration("KIOKU_REQUEST_DEADLINE", 10*time.Second),
		MaxRequestBodyBytes:  int64(collectInt("KIOKU_MAX_REQUEST_BODY_BYTES", 4*1024*1024)),
		DatabaseURL:          envStr("DATABASE_URL", ""),
		CorpusPath:           envStr("KIOKU_CORPUS_PATH", ""),
		QdrantURL:            envStr("QDRANT_URL", ""),
		QdrantAPIKey:         envStr("QDRANT_API_KEY", ""),
		QdrantCollection:     envStr("KIOKU_QDRANT_COLLECTION", "kioku_incidents"),
		GeminiAPIKey:         envStr("GEMINI_API_KEY", ""),
		EmbeddingProvider:    envStr("KIOKU_EMBEDDING_PROVIDER", "auto"),
		EmbeddingModel:       envStr("KIOKU_EMBEDDING_MODEL", "gemini-embedding-001"),
		EmbeddingDimensions:  collectInt("KIOKU_EMBEDDING_DIMENSIONS", 768),
		GenerationModel:      envStr("KIOKU_GENERATION_MODEL", "gemini-2.0-flash"),
		MaxOutputTokens:      collectInt("KIOKU_MAX_OUTPUT_TOKENS", 1024),
		RedisURL:             envStr("REDIS_URL", ""),
		EmbedCacheTTL:        collectDuration("KIOKU_EMBED_CACHE_TTL", time.Hour),
		ProviderRPS:          collectFloat("KIOKU_PROVIDER_RPS", 5),
		ProviderBurst:        collectInt("KIOKU_PROVIDER_BURST", 10),
		ProviderBacklog:      collectInt("KIOKU_PROVIDER_BACKLOG", 32),
		RateLimitEnabled:     collectBool("KIOKU_RATE_LIMIT_ENABLED", true),
		FeedbackDB:           envStrOpt("KIOKU_FEEDBACK_DB", "kioku_feedback.db"),
		FeedbackBufferSize:   collectInt("KIOKU_FEEDBACK_BUFFER_SIZE", 256),
		FeedbackFlushTimeout: collectDuration("KIOKU_FEEDBACK_FLUSH_TIMEOUT", 2*time.Second),
		IngestWorkers:        collectInt("KIOKU_INGEST_WORKERS", 4),
		MCPEnabled:           collectBool("KIOKU_MCP_ENABLED", true),
		OTELEndpoint:         envStr("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		OTELInsecure:         collectBool("OTEL_EXPORTER_OTLP_INSECURE", false),
		ServiceName:          envStr("OTEL_SERVICE_NAME", "kioku"),
		LogLevel:             envStr("KIOKU_LOG_LEVEL", "info"),
		ShutdownHTTPTimeout:  collectDuration("KIOKU_SHUTDOWN_HTTP_TIMEOUT", 10*time.Second),
		ShutdownDrainTimeout: collectDuration("KIOKU_SHUTDOWN_DRAIN_TIMEOUT", 10*time.Second),
	}

	if len(errs) > 0 {
		return Config{}, errors.Join(errs...)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints that defaults alone cannot
// guarantee once the environment overrides them.
func (c Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("config: KIOKU_PORT must be in 1..65535, got %d", c.Port)
	}
	if c.EmbeddingDimensions <= 0 {
		return fmt.Errorf("config: KIOKU_EMBEDDING_DIMENSIONS must be positive")
	}
	if c.MaxRequestBodyBytes <= 0 {
		return fmt.Errorf("config: KIOKU_MAX_REQUEST_BODY_BYTES must be positive")
	}
	if c.RequestDeadline <= 0 {
		return fmt.Errorf("config: KIOKU_REQUEST_DEADLINE must be positive")
	}
	if c.ProviderRPS <= 0 {
		return fmt.Errorf("config: KIOKU_PROVIDER_RPS must be positive")
	}
	if c.ProviderBurst < 1 {
		return fmt.Errorf("config: KIOKU_PROVIDER_BURST must be at least 1")
	}
	if c.ProviderBacklog < 0 {
		return fmt.Errorf("config: KIOKU_PROVIDER_BACKLOG must be non-negative")
	}
	if c.IngestWorkers < 1 {
		return fmt.Errorf("config: KIOKU_INGEST_WORKERS must be at least 1")
	}
	switch c.EmbeddingProvider {
	case "auto", "genai", "noop":
	default:
		return fmt.Errorf("config: KIOKU_EMBEDDING_PROVIDER must be auto, genai, or noop, got %q", c.EmbeddingProvider)
	}
	return nil
}

func envStr(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

// envStrOpt distinguishes unset (use the default) from set-but-empty (an
// explicit opt-out) for optional paths.
func envStrOpt(key, defaultVal string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s=%q is not a valid integer", key, v)
	}
	return n, nil
}

func envBool(key string, defaultVal bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s=%q is not a valid boolean", key, v)
	}
	return b, nil
}

func envFloat(key string, defaultVal float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s=%q is not a valid number", key, v)
	}
	return f, nil
}

func envDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s=%q is not a valid duration", key, v)
	}
	return d, nil
}
