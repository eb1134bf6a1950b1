package kioku

import "log/slog"

// Option configures an App.
type Option func(*resolvedOptions)

// resolvedOptions holds all extension points after applying defaults.
// Unexported — callers use the With* functions.
type resolvedOptions struct {
	port        int
	databaseURL string
	corpusPath  string
	logger      *slog.Logger
	version     string
	embedder    Embedder
	vectorIndex VectorIndex
	generator   Generator
}

// WithPort overrides the TCP port from config (KIOKU_PORT env var).
func WithPort(port int) Option {
	return func(o *resolvedOptions) { o.port = port }
}

// WithDatabaseURL overrides the corpus database connection string from
// config (DATABASE_URL env var). Empty selects the in-memory store.
func WithDatabaseURL(url string) Option {
	return func(o *resolvedOptions) { o.databaseURL = url }
}

// WithCorpusPath overrides the seed file path from config
// (KIOKU_CORPUS_PATH env var). The file is a JSON incident export; it is
// ingested through the full pipeline on startup, so schema-invalid
// records are quarantined rather than loaded.
func WithCorpusPath(path string) Option {
	return func(o *resolvedOptions) { o.corpusPath = path }
}

// WithLogger sets the structured logger for the App.
// If not set, the default slog logger is used.
func WithLogger(logger *slog.Logger) Option {
	return func(o *resolvedOptions) { o.logger = logger }
}

// WithVersion sets the version string reported in the health endpoint and logs.
func WithVersion(version string) Option {
	return func(o *resolvedOptions) { o.version = version }
}

// WithEmbedder replaces the config-selected embedding provider
// (Gemini/noop). The provided implementation must satisfy the Embedder
// interface; it is used for both query-side and document-side embedding
// and still runs behind the engine's outbound gate and embed cache.
func WithEmbedder(e Embedder) Option {
	return func(o *resolvedOptions) { o.embedder = e }
}

// WithVectorIndex replaces the config-selected vector index (Qdrant or
// in-memory) for both retrieval and ingest. Only the last call wins.
func WithVectorIndex(idx VectorIndex) Option {
	return func(o *resolvedOptions) { o.vectorIndex = idx }
}

// WithGenerator replaces the config-selected generative provider. The
// generator only ever sees fully rendered prompts with incident context —
// never a bare user query — and still runs behind the engine's outbound
// gate. Only the last call wins.
func WithGenerator(g Generator) Option {
	return func(o *resolvedOptions) { o.generator = g }
}
