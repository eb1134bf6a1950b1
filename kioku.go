// Package kioku is the public API for embedding the Kioku incident
// retrieval engine.
//
// Consumers import this package to run the engine inside their own
// process, swapping providers without forking it:
//
//	app, err := kioku.New(
//	    kioku.WithVersion(version),
//	    kioku.WithLogger(logger),
//	    kioku.WithEmbedder(myEmbedder),
//	)
//	if err != nil { ... }
//	if err := app.Run(ctx); err != nil { ... }
//
// The import graph enforces a strict no-cycle rule: kioku (root) imports
// internal/*, but internal/* never imports kioku (root). Public types
// (IndexPoint, IndexHit, IndexFilter) are standalone structs with no
// internal imports; the adapters live here because this is the only file
// that sees both sides of the boundary.
package kioku

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/joho/godotenv"
	mcpserver "github.com/mark3labs/mcp-go/server"
	"github.com/pgvector/pgvector-go"

	"github.com/ashita-ai/kioku/api"
	"github.com/ashita-ai/kioku/internal/config"
	"github.com/ashita-ai/kioku/internal/corpus"
	"github.com/ashita-ai/kioku/internal/embedding"
	"github.com/ashita-ai/kioku/internal/feedback"
	"github.com/ashita-ai/kioku/internal/generate"
	"github.com/ashita-ai/kioku/internal/ingest"
	"github.com/ashita-ai/kioku/internal/mcp"
	"github.com/ashita-ai/kioku/internal/model"
	"github.com/ashita-ai/kioku/internal/rag"
	"github.com/ashita-ai/kioku/internal/ratelimit"
	"github.com/ashita-ai/kioku/internal/relevance"
	"github.com/ashita-ai/kioku/internal/retrieval"
	"github.com/ashita-ai/kioku/internal/router"
	"github.com/ashita-ai/kioku/internal/server"
	"github.com/ashita-ai/kioku/internal/sparse"
	"github.com/ashita-ai/kioku/internal/telemetry"
	"github.com/ashita-ai/kioku/internal/vector"
	"github.com/ashita-ai/kioku/migrations"
)

// App is the Kioku server lifecycle. Construct with New(), run with Run().
// App has no public fields — use New() options to configure it.
type App struct {
	cfg          config.Config
	pg           *corpus.PostgresStore // nil when running on the in-memory store
	cache        *embedding.Cache
	qdrantIndex  *vector.QdrantIndex // nil when Qdrant is not configured
	sink         *feedback.Sink      // nil when the feedback sink is disabled
	feedbackDB   *feedback.Store     // nil when the feedback sink is disabled
	limiter      ratelimit.Limiter
	srv          *server.Server
	otelShutdown telemetry.Shutdown
	logger       *slog.Logger
	version      string
}

// New initialises the Kioku engine. It connects to the corpus store, runs
// migrations, bootstraps the indexes, seeds the corpus, and wires all
// subsystems into a ready-to-run App. It does NOT start any goroutines or
// accept HTTP connections — call Run().
func New(opts ...Option) (*App, error) {
	o := resolvedOptions{}
	for _, fn := range opts {
		fn(&o)
	}

	logger := o.logger
	if logger == nil {
		logger = slog.Default()
	}

	// Load .env file if present (non-fatal; production won't have one).
	_ = godotenv.Load()

	// Load configuration (env vars), then apply option overrides.
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if o.port != 0 {
		cfg.Port = o.port
	}
	if o.databaseURL != "" {
		cfg.DatabaseURL = o.databaseURL
	}
	if o.corpusPath != "" {
		cfg.CorpusPath = o.corpusPath
	}
	version := o.version
	if version == "" {
		version = "dev"
	}

	logger.Info("kioku starting", "version", version, "port", cfg.Port)

	otelShutdown, err := telemetry.Init(context.Background(), cfg.OTELEndpoint, cfg.ServiceName, version, cfg.OTELInsecure)
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}

	// Corpus store: Postgres when configured, in-memory otherwise.
	var store corpus.Store
	var pg *corpus.PostgresStore
	if cfg.DatabaseURL != "" {
		pg, err = corpus.NewPostgresStore(context.Background(), cfg.DatabaseURL, logger)
		if err != nil {
			_ = otelShutdown(context.Background())
			return nil, fmt.Errorf("corpus store: %w", err)
		}
		if err := pg.RunMigrations(context.Background(), migrations.FS); err != nil {
			pg.Close()
			_ = otelShutdown(context.Background())
			return nil, fmt.Errorf("migrations: %w", err)
		}
		store = pg
		logger.Info("corpus store: postgres")
	} else {
		store = corpus.NewMemoryStore()
		logger.Info("corpus store: in-memory (no DATABASE_URL)")
	}

	// Embedding provider — external override takes priority over config.
	var provider embedding.Provider
	var embedderDesc string
	if o.embedder != nil {
		provider = &embedderAdapter{e: o.embedder}
		embedderDesc = fmt.Sprintf("external (%d dims)", o.embedder.Dimensions())
		logger.Info("embedding provider: external", "dimensions", o.embedder.Dimensions())
	} else {
		provider, embedderDesc = newEmbeddingProvider(cfg, logger)
	}

	// One gate fronts every outbound provider call; embeds and generations
	// share the quota because they share the API key.
	gate := ratelimit.NewGate(cfg.ProviderRPS, cfg.ProviderBurst, cfg.ProviderBacklog)
	gated := embedding.NewGated(provider, gate)

	// Embed cache wraps the gate so a hit never spends a token.
	var cacheStore embedding.CacheStore
	if cfg.RedisURL != "" {
		cacheStore, err = embedding.NewRedisCacheStore(cfg.RedisURL)
		if err != nil {
			closePg(pg)
			_ = otelShutdown(context.Background())
			return nil, fmt.Errorf("embed cache: %w", err)
		}
		logger.Info("embed cache: redis")
	} else {
		cacheStore = embedding.NewMemoryCacheStore()
		logger.Info("embed cache: in-memory (no REDIS_URL)")
	}
	embedder := embedding.NewCache(gated, cacheStore, cfg.EmbeddingModel, cfg.EmbedCacheTTL, logger)

	// Vector index — external override, then Qdrant, then in-memory.
	var index vector.Index
	var qdrantIndex *vector.QdrantIndex
	switch {
	case o.vectorIndex != nil:
		index = &indexAdapter{idx: o.vectorIndex}
		logger.Info("vector index: external")
	case cfg.QdrantURL != "":
		qdrantIndex, err = vector.NewQdrantIndex(vector.QdrantConfig{
			URL:        cfg.QdrantURL,
			APIKey:     cfg.QdrantAPIKey,
			Collection: cfg.QdrantCollection,
			Dims:       uint64(cfg.EmbeddingDimensions), //nolint:gosec // validated positive in config.Validate
		}, logger)
		if err != nil {
			_ = embedder.Close()
			closePg(pg)
			_ = otelShutdown(context.Background())
			return nil, fmt.Errorf("qdrant: %w", err)
		}
		if err := qdrantIndex.EnsureCollection(context.Background()); err != nil {
			_ = qdrantIndex.Close()
			_ = embedder.Close()
			closePg(pg)
			_ = otelShutdown(context.Background())
			return nil, fmt.Errorf("qdrant ensure collection: %w", err)
		}
		index = qdrantIndex
		logger.Info("vector index: qdrant", "collection", cfg.QdrantCollection)
	default:
		index = vector.NewMemoryIndex()
		logger.Info("vector index: in-memory (no QDRANT_URL)")
	}

	// Corpus manager over store + both indexes; Bootstrap replays the
	// store into the indexes so a restart recovers the full corpus.
	mgr := corpus.NewManager(store, index, sparse.NewIndex(), embedder, logger)
	if err := mgr.Bootstrap(context.Background()); err != nil {
		closeIndexes(qdrantIndex, embedder)
		closePg(pg)
		_ = otelShutdown(context.Background())
		return nil, fmt.Errorf("corpus bootstrap: %w", err)
	}

	// Ingestion pipeline, then the optional seed file through it.
	pipe := ingest.New(mgr, embedder, cfg.IngestWorkers, logger)
	if cfg.CorpusPath != "" {
		report, err := seedCorpus(context.Background(), pipe, cfg.CorpusPath)
		if err != nil {
			closeIndexes(qdrantIndex, embedder)
			closePg(pg)
			_ = otelShutdown(context.Background())
			return nil, fmt.Errorf("corpus seed: %w", err)
		}
		logger.Info("corpus seeded",
			"path", cfg.CorpusPath,
			"total", report.Total,
			"ingested", report.Ingested,
			"updated", report.Updated,
			"quarantined", report.Quarantined,
		)
	}

	// Generator — external override takes priority over config.
	var gen generate.Generator
	var generatorDesc string
	if o.generator != nil {
		gen = generate.NewGated(o.generator, gate)
		generatorDesc = "external"
		logger.Info("generator: external")
	} else {
		gen, generatorDesc = newGenerator(cfg, gate, logger)
	}

	svc := rag.New(
		router.New(mgr, logger),
		retrieval.New(embedder, index, mgr, logger),
		relevance.NewValidator(logger),
		gen,
		mgr,
		logger,
	)

	// Feedback sink (optional; empty path disables it and the HTTP
	// endpoint answers 503).
	var sink *feedback.Sink
	var fbStore *feedback.Store
	if cfg.FeedbackDB != "" {
		fbStore, err = feedback.Open(cfg.FeedbackDB)
		if err != nil {
			closeIndexes(qdrantIndex, embedder)
			closePg(pg)
			_ = otelShutdown(context.Background())
			return nil, fmt.Errorf("feedback store: %w", err)
		}
		sink = feedback.NewSink(fbStore, logger, cfg.FeedbackBufferSize, cfg.FeedbackFlushTimeout)
		logger.Info("feedback sink", "path", cfg.FeedbackDB, "buffer", cfg.FeedbackBufferSize)
	} else {
		logger.Info("feedback sink: disabled (no KIOKU_FEEDBACK_DB)")
	}

	// Inbound rate limiter.
	var limiter ratelimit.Limiter
	if cfg.RateLimitEnabled {
		limiter = ratelimit.NewMemoryLimiter()
		logger.Info("rate limiting: memory (in-process token buckets)")
	} else {
		limiter = ratelimit.NoopLimiter{}
		logger.Info("rate limiting: disabled")
	}

	// MCP server (optional).
	var mcpServer *mcpserver.MCPServer
	if cfg.MCPEnabled {
		mcpServer = mcp.New(svc, mgr, logger, version).MCPServer()
		logger.Info("mcp: enabled at /mcp")
	} else {
		logger.Info("mcp: disabled")
	}

	srv := server.New(server.ServerConfig{
		RAG:                 svc,
		Corpus:              mgr,
		Ingestor:            pipe,
		Sink:                sink,
		Limiter:             limiter,
		MCPServer:           mcpServer,
		Logger:              logger,
		Port:                cfg.Port,
		ReadTimeout:         cfg.ReadTimeout,
		WriteTimeout:        cfg.WriteTimeout,
		RequestDeadline:     cfg.RequestDeadline,
		Version:             version,
		MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
		OpenAPISpec:         api.OpenAPISpec,
		EmbedderDesc:        embedderDesc,
		GeneratorDesc:       generatorDesc,
	})

	return &App{
		cfg:          cfg,
		pg:           pg,
		cache:        embedder,
		qdrantIndex:  qdrantIndex,
		sink:         sink,
		feedbackDB:   fbStore,
		limiter:      limiter,
		srv:          srv,
		otelShutdown: otelShutdown,
		logger:       logger,
		version:      version,
	}, nil
}

// Run starts the feedback sink and the HTTP server, then blocks until ctx
// is cancelled or a fatal server error occurs. On return, Shutdown is
// called automatically — callers should not call Shutdown separately.
func (a *App) Run(ctx context.Context) error {
	if a.sink != nil {
		a.sink.Start(ctx)
	}

	errCh := make(chan error, 1)
	go func() {
		if err := a.srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}

	return a.Shutdown(context.Background())
}

// Shutdown performs a two-phase graceful shutdown: (1) stop accepting
// HTTP requests and drain in-flight, (2) flush buffered feedback to
// SQLite. It then closes the limiter, the embed cache, the vector index,
// the stores, and the OTEL provider.
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("kioku shutting down")

	// Phase 1: HTTP drain.
	httpCtx, httpCancel := contextWithOptionalTimeout(ctx, a.cfg.ShutdownHTTPTimeout)
	if err := a.srv.Shutdown(httpCtx); err != nil {
		a.logger.Error("http shutdown error", "error", err)
	}
	httpCancel()

	// Phase 2: feedback drain.
	if a.sink != nil {
		drainCtx, drainCancel := contextWithOptionalTimeout(ctx, a.cfg.ShutdownDrainTimeout)
		a.sink.Drain(drainCtx)
		drainCancel()
		if n := a.sink.Len(); n > 0 {
			a.logger.Error("feedback drain incomplete — unflushed records will be lost",
				"remaining_records", n,
				"configured_timeout", a.cfg.ShutdownDrainTimeout,
			)
		}
	}

	// Cleanup.
	_ = a.limiter.Close()
	_ = a.cache.Close()
	if a.qdrantIndex != nil {
		_ = a.qdrantIndex.Close()
	}
	if a.feedbackDB != nil {
		_ = a.feedbackDB.Close()
	}
	if a.pg != nil {
		a.pg.Close()
	}
	_ = a.otelShutdown(context.Background())

	a.logger.Info("kioku stopped")
	return nil
}

// ── Provider selection ──────────────────────────────────────────────────────

func newEmbeddingProvider(cfg config.Config, logger *slog.Logger) (embedding.Provider, string) {
	dims := cfg.EmbeddingDimensions

	switch cfg.EmbeddingProvider {
	case "genai":
		if cfg.GeminiAPIKey == "" {
			logger.Error("GEMINI_API_KEY required when KIOKU_EMBEDDING_PROVIDER=genai")
			return embedding.NewNoopProvider(dims), "noop"
		}
		p, err := embedding.NewGenAIProvider(context.Background(), cfg.GeminiAPIKey, cfg.EmbeddingModel, dims, logger)
		if err != nil {
			logger.Error("genai embedding provider init failed", "error", err)
			return embedding.NewNoopProvider(dims), "noop"
		}
		logger.Info("embedding provider: genai", "model", cfg.EmbeddingModel, "dimensions", dims)
		return p, fmt.Sprintf("%s (%d dims)", cfg.EmbeddingModel, dims)
	case "noop":
		logger.Info("embedding provider: noop (dense retrieval disabled)")
		return embedding.NewNoopProvider(dims), "noop"
	case "auto":
		fallthrough
	default:
		if cfg.GeminiAPIKey != "" {
			p, err := embedding.NewGenAIProvider(context.Background(), cfg.GeminiAPIKey, cfg.EmbeddingModel, dims, logger)
			if err != nil {
				logger.Error("genai embedding provider init failed", "error", err)
				return embedding.NewNoopProvider(dims), "noop"
			}
			logger.Info("embedding provider: genai (auto-detected)", "model", cfg.EmbeddingModel, "dimensions", dims)
			return p, fmt.Sprintf("%s (%d dims)", cfg.EmbeddingModel, dims)
		}
		logger.Warn("no embedding provider available, using noop (dense retrieval disabled)")
		return embedding.NewNoopProvider(dims), "noop"
	}
}

func newGenerator(cfg config.Config, gate *ratelimit.Gate, logger *slog.Logger) (generate.Generator, string) {
	if cfg.GeminiAPIKey == "" {
		logger.Warn("no generative provider available (GEMINI_API_KEY unset) — hybrid answers degrade to the top incident's own resolution")
		return unavailableGenerator{}, "fallback"
	}
	g, err := generate.NewGenAIGenerator(context.Background(), cfg.GeminiAPIKey, cfg.GenerationModel, cfg.MaxOutputTokens, logger)
	if err != nil {
		logger.Error("genai generator init failed", "error", err)
		return unavailableGenerator{}, "fallback"
	}
	logger.Info("generator: genai", "model", cfg.GenerationModel, "max_tokens", cfg.MaxOutputTokens)
	return generate.NewGated(g, gate), cfg.GenerationModel
}

// unavailableGenerator stands in when no generative provider is
// configured. Every call reports unavailable, so the pipeline answers
// with the top admitted incident's own resolution: degraded, but still
// grounded in the corpus.
type unavailableGenerator struct{}

func (unavailableGenerator) Generate(context.Context, string) (string, error) {
	return "", model.NewError(model.KindUnavailable, "no generative provider configured")
}

// ── Adapters (defined here because this file imports both sides) ────────────

// embedderAdapter lifts a public Embedder into the internal provider
// interface, converting []float32 to pgvector.Vector at the boundary.
type embedderAdapter struct {
	e Embedder
}

func (a *embedderAdapter) Embed(ctx context.Context, text string) (pgvector.Vector, error) {
	vec, err := a.e.Embed(ctx, text)
	if err != nil {
		return pgvector.Vector{}, err
	}
	return pgvector.NewVector(vec), nil
}

func (a *embedderAdapter) EmbedBatch(ctx context.Context, texts []string) ([]pgvector.Vector, error) {
	vecs, err := a.e.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, err
	}
	out := make([]pgvector.Vector, len(vecs))
	for i, v := range vecs {
		out[i] = pgvector.NewVector(v)
	}
	return out, nil
}

func (a *embedderAdapter) Dimensions() int {
	return a.e.Dimensions()
}

// indexAdapter lifts a public VectorIndex into the internal index
// interface. Converts between public IndexPoint/IndexHit/IndexFilter and
// internal vector types.
type indexAdapter struct {
	idx VectorIndex
}

func (a *indexAdapter) Upsert(ctx context.Context, points []vector.Point) error {
	out := make([]IndexPoint, len(points))
	for i, p := range points {
		out[i] = IndexPoint{ID: p.ID, Vector: p.Vector, Payload: p.Payload}
	}
	return a.idx.Upsert(ctx, out)
}

func (a *indexAdapter) Delete(ctx context.Context, ids []string) error {
	return a.idx.Delete(ctx, ids)
}

func (a *indexAdapter) Query(ctx context.Context, embedding []float32, topK int, filter vector.Filter) ([]vector.Hit, error) {
	hits, err := a.idx.Query(ctx, embedding, topK, IndexFilter{
		Tags:     filter.Tags,
		Category: filter.Category,
		Priority: filter.Priority,
	})
	if err != nil {
		return nil, err
	}
	out := make([]vector.Hit, len(hits))
	for i, h := range hits {
		out[i] = vector.Hit{ID: h.ID, Score: h.Score}
	}
	return out, nil
}

func (a *indexAdapter) Count(ctx context.Context) (uint64, error) {
	return a.idx.Count(ctx)
}

func (a *indexAdapter) Healthy(ctx context.Context) error {
	return a.idx.Healthy(ctx)
}

// ── Helpers ──────────────────────────────────────────────────────────────────

func seedCorpus(ctx context.Context, pipe *ingest.Pipeline, path string) (model.IngestReport, error) {
	f, err := os.Open(path)
	if err != nil {
		return model.IngestReport{}, err
	}
	defer func() { _ = f.Close() }()
	return pipe.RunSource(ctx, ingest.NewJSONSource(f))
}

func closePg(pg *corpus.PostgresStore) {
	if pg != nil {
		pg.Close()
	}
}

func closeIndexes(qdrantIndex *vector.QdrantIndex, cache *embedding.Cache) {
	if qdrantIndex != nil {
		_ = qdrantIndex.Close()
	}
	_ = cache.Close()
}

func contextWithOptionalTimeout(parent context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(parent)
	}
	return context.WithTimeout(parent, timeout)
}
