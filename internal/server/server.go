package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/ashita-ai/kioku/internal/corpus"
	"github.com/ashita-ai/kioku/internal/feedback"
	"github.com/ashita-ai/kioku/internal/ingest"
	"github.com/ashita-ai/kioku/internal/rag"
	"github.com/ashita-ai/kioku/internal/ratelimit"
)

// Server is the Kioku HTTP server.
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	logger     *slog.Logger
}

// Handler returns the root HTTP handler for use in tests.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// ServerConfig holds all dependencies and configuration for creating a Server.
// Optional fields (nil-safe): Ingestor, Sink, Limiter, MCPServer, OpenAPISpec.
type ServerConfig struct {
	// Required dependencies.
	RAG    *rag.Service
	Corpus *corpus.Manager
	Logger *slog.Logger

	// Optional dependencies (nil = disabled).
	Ingestor  *ingest.Pipeline
	Sink      *feedback.Sink
	Limiter   ratelimit.Limiter
	MCPServer *mcpserver.MCPServer

	// HTTP server settings.
	Port                int
	ReadTimeout         time.Duration
	WriteTimeout        time.Duration
	RequestDeadline     time.Duration
	Version             string
	MaxRequestBodyBytes int64

	// Optional embedded assets.
	OpenAPISpec []byte

	// Component descriptions surfaced by /v1/stats.
	EmbedderDesc  string
	GeneratorDesc string
}

// New creates a new HTTP server with all routes configured.
func New(cfg ServerConfig) *Server {
	h := NewHandlers(HandlersDeps{
		RAG:                 cfg.RAG,
		Corpus:              cfg.Corpus,
		Ingestor:            cfg.Ingestor,
		Sink:                cfg.Sink,
		Logger:              cfg.Logger,
		Version:             cfg.Version,
		MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
		OpenAPISpec:         cfg.OpenAPISpec,
		EmbedderDesc:        cfg.EmbedderDesc,
		GeneratorDesc:       cfg.GeneratorDesc,
	})

	// Request ID extractor for rate limit error responses.
	reqIDFunc := func(r *http.Request) string {
		return RequestIDFromContext(r.Context())
	}

	// Rate limit rules, one bucket family per endpoint class. Queries fan
	// out to the embedding provider, so they get the widest budget; ingest
	// writes embed every record and stays the tightest.
	queryRL := ratelimit.Middleware(cfg.Limiter, ratelimit.Rule{
		Name: "query", RPS: 2, Burst: 30,
	}, ratelimit.IPKeyFunc, reqIDFunc)
	feedbackRL := ratelimit.Middleware(cfg.Limiter, ratelimit.Rule{
		Name: "feedback", RPS: 1, Burst: 10,
	}, ratelimit.IPKeyFunc, reqIDFunc)
	ingestRL := ratelimit.Middleware(cfg.Limiter, ratelimit.Rule{
		Name: "ingest", RPS: 0.5, Burst: 5,
	}, ratelimit.IPKeyFunc, reqIDFunc)

	mux := http.NewServeMux()

	// Query pipeline.
	mux.Handle("POST /v1/query", queryRL(http.HandlerFunc(h.HandleQuery)))

	// Feedback capture.
	mux.Handle("POST /v1/feedback", feedbackRL(http.HandlerFunc(h.HandleFeedback)))

	// Corpus ingestion and lookup.
	mux.Handle("POST /v1/incidents", ingestRL(http.HandlerFunc(h.HandleIngest)))
	mux.Handle("GET /v1/incidents/{id}", queryRL(http.HandlerFunc(h.HandleGetIncident)))

	// Corpus and pipeline statistics.
	mux.Handle("GET /v1/stats", queryRL(http.HandlerFunc(h.HandleStats)))

	// MCP StreamableHTTP transport (no rate limit — sessions are stateful
	// and the tools call the same pipeline the HTTP handlers do).
	if cfg.MCPServer != nil {
		mcpHTTP := mcpserver.NewStreamableHTTPServer(cfg.MCPServer)
		mux.Handle("/mcp", mcpHTTP)
	}

	// OpenAPI spec (no rate limit).
	mux.HandleFunc("GET /openapi.yaml", h.HandleOpenAPISpec)

	// Health (no rate limit).
	mux.HandleFunc("GET /health", h.HandleHealth)

	// Middleware chain (outermost executes first):
	// request ID → security headers → tracing → logging → deadline → recovery → handler.
	var handler http.Handler = mux
	handler = recoveryMiddleware(cfg.Logger, handler)
	handler = deadlineMiddleware(cfg.RequestDeadline, handler)
	handler = loggingMiddleware(cfg.Logger, handler)
	handler = tracingMiddleware(handler)
	handler = securityHeadersMiddleware(handler)
	handler = requestIDMiddleware(handler)

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      handler,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		},
		handler:  handler,
		logger:   cfg.Logger,
	}
}

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("http server shutting down")
	return s.httpServer.Shutdown(ctx)
}
