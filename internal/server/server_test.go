package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	mcpclient "github.com/mark3labs/mcp-go/client"
	mcplib "github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/kioku/internal/corpus"
	"github.com/ashita-ai/kioku/internal/feedback"
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
	"github.com/ashita-ai/kioku/internal/testutil"
)

// env is a full server wired over the in-memory stack: real pipeline,
// real sink, fakes only at the provider boundaries.
type env struct {
	ts    *httptest.Server
	mgr   *corpus.Manager
	index *testutil.FlakyIndex
	gen   *testutil.ScriptedGenerator
	sink  *feedback.Sink
}

func newEnv(t *testing.T, incidents []*model.Incident, opts ...func(*server.ServerConfig)) *env {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	logger := testutil.TestLogger()

	e := &env{
		index: testutil.NewFlakyIndex(),
		gen:   &testutil.ScriptedGenerator{Answer: "Fix Suggestion: see the cited incident."},
	}
	emb := &testutil.HashEmbedder{Dims: 32}
	e.mgr = corpus.NewManager(corpus.NewMemoryStore(), e.index, sparse.NewIndex(), emb, logger)
	for _, in := range incidents {
		require.NoError(t, e.mgr.Add(ctx, in))
	}

	svc := rag.New(
		router.New(e.mgr, logger),
		retrieval.New(emb, e.index, e.mgr, logger),
		relevance.NewValidator(logger),
		e.gen,
		e.mgr,
		logger,
	)

	store, err := feedback.Open(filepath.Join(t.TempDir(), "feedback.db"))
	require.NoError(t, err)
	e.sink = feedback.NewSink(store, logger, 16, 50*time.Millisecond)
	e.sink.Start(ctx)

	mcpSrv := mcp.New(svc, e.mgr, logger, "test")

	cfg := server.ServerConfig{
		RAG:                 svc,
		Corpus:              e.mgr,
		Logger:              logger,
		Ingestor:            ingest.New(e.mgr, emb, 2, logger),
		Sink:                e.sink,
		Limiter:             ratelimit.NoopLimiter{},
		MCPServer:           mcpSrv.MCPServer(),
		ReadTimeout:         5 * time.Second,
		WriteTimeout:        10 * time.Second,
		RequestDeadline:     5 * time.Second,
		Version:             "test",
		MaxRequestBodyBytes: 1 << 20,
		OpenAPISpec:         []byte("openapi: 3.0.3\ninfo:\n  title: kioku\n"),
		EmbedderDesc:        "hash (32 dims)",
		GeneratorDesc:       "scripted",
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	srv := server.New(cfg)
	e.ts = httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		e.ts.Close()
		cancel()
		e.sink.Drain(context.Background())
		_ = store.Close()
	})
	return e
}

func seedIncidents() []*model.Incident {
	return []*model.Incident{
		{
			ID:          "JSP-1000",
			Title:       "UPI timeout on Axis Bank",
			Description: "UPI collect requests routed through Axis Bank timed out after 30 seconds during the evening peak, leaving payments pending.",
			Resolution:  "Raised the collect timeout to 90 seconds and enabled automatic retry.",
			Tags:        []string{"upi", "timeout"},
			CreatedAt:   time.Date(2026, 3, 2, 11, 0, 0, 0, time.UTC),
			ResolvedBy:  "oncall@example.com",
		},
		{
			ID:          "JSP-1052",
			Title:       "Webhook SSL failure",
			Description: "Payment status callbacks to the merchant endpoint failed the TLS handshake after the intermediate certificate expired.",
			Resolution:  "Renewed the intermediate certificate and replayed the failed callbacks.",
			Tags:        []string{"webhook", "ssl"},
			CreatedAt:   time.Date(2026, 3, 4, 9, 30, 0, 0, time.UTC),
			ResolvedBy:  "oncall@example.com",
		},
	}
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	return resp
}

func decodeEnvelope(t *testing.T, resp *http.Response, data any) model.ResponseMeta {
	t.Helper()
	defer func() { _ = resp.Body.Close() }()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	var envelope struct {
		Data json.RawMessage    `json:"data"`
		Meta model.ResponseMeta `json:"meta"`
	}
	require.NoError(t, json.Unmarshal(raw, &envelope), "body: %s", raw)
	if data != nil {
		require.NoError(t, json.Unmarshal(envelope.Data, data), "data: %s", envelope.Data)
	}
	return envelope.Meta
}

func decodeError(t *testing.T, resp *http.Response) model.ErrorDetail {
	t.Helper()
	defer func() { _ = resp.Body.Close() }()
	var envelope model.APIError
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&envelope))
	return envelope.Error
}

func TestHealthEndpoint(t *testing.T) {
	e := newEnv(t, seedIncidents())

	resp, err := http.Get(e.ts.URL + "/health")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var health model.HealthResponse
	meta := decodeEnvelope(t, resp, &health)
	assert.Equal(t, "healthy", health.Status)
	assert.Equal(t, "test", health.Version)
	assert.Equal(t, 2, health.CorpusSize)
	assert.Equal(t, "ok", health.Components["corpus"])
	assert.Equal(t, "ok", health.Components["vector"])
	assert.Equal(t, "ok", health.Components["feedback"])
	assert.NotEmpty(t, meta.RequestID)
}

func TestHealthDegradedWhenVectorDown(t *testing.T) {
	e := newEnv(t, seedIncidents())
	e.index.HealthyErr = errors.New("qdrant unreachable")

	resp, err := http.Get(e.ts.URL + "/health")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode, "a degraded service still serves")

	var health model.HealthResponse
	decodeEnvelope(t, resp, &health)
	assert.Equal(t, "degraded", health.Status)
	assert.Equal(t, "down", health.Components["vector"])
	assert.Equal(t, "ok", health.Components["corpus"])
}

func TestQueryEndToEnd(t *testing.T) {
	e := newEnv(t, seedIncidents())
	e.gen.Answer = "Fix Suggestion: raise the UPI collect timeout to 90 seconds as resolved in JSP-1000."

	resp := postJSON(t, e.ts.URL+"/v1/query", model.QueryRequest{Query: "UPI timeout"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))

	var rr model.RAGResponse
	meta := decodeEnvelope(t, resp, &rr)
	assert.Equal(t, model.StrategyHybridRAG, rr.Strategy)
	assert.Equal(t, []string{"JSP-1000"}, rr.Sources)
	assert.Greater(t, rr.ConfidenceScore, 0.0)
	assert.Less(t, rr.ConfidenceScore, 1.0)
	assert.NotEmpty(t, rr.RetrievedIncidents)
	assert.NotEmpty(t, meta.RequestID)
	assert.Equal(t, int64(1), e.gen.Calls.Load())
}

func TestQueryExactIDShortCircuit(t *testing.T) {
	e := newEnv(t, seedIncidents())

	resp := postJSON(t, e.ts.URL+"/v1/query", model.QueryRequest{Query: "JSP-1052"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var rr model.RAGResponse
	decodeEnvelope(t, resp, &rr)
	assert.Equal(t, model.StrategyExactIDLookup, rr.Strategy)
	assert.Equal(t, 1.0, rr.ConfidenceScore)
	assert.Equal(t, []string{"JSP-1052"}, rr.Sources)
	assert.Equal(t, int64(0), e.gen.Calls.Load(), "exact-id lookups must not generate")
}

func TestQueryRefusalReturns200(t *testing.T) {
	e := newEnv(t, seedIncidents())

	resp := postJSON(t, e.ts.URL+"/v1/query", model.QueryRequest{Query: "how to bake a cake"})
	assert.Equal(t, http.StatusOK, resp.StatusCode, "refusals are answers, not errors")

	var rr model.RAGResponse
	decodeEnvelope(t, resp, &rr)
	assert.Equal(t, model.StrategyRefusal, rr.Strategy)
	assert.Equal(t, model.StatusRefused, rr.Metadata.Status)
	assert.Zero(t, rr.ConfidenceScore)
}

func TestQueryOmitsSourcesOnRequest(t *testing.T) {
	e := newEnv(t, seedIncidents())
	e.gen.Answer = "Fix Suggestion: raise the collect timeout as resolved in JSP-1000."
	includeSources := false

	resp := postJSON(t, e.ts.URL+"/v1/query", model.QueryRequest{
		Query:          "UPI timeout",
		IncludeSources: &includeSources,
	})
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var rr model.RAGResponse
	decodeEnvelope(t, resp, &rr)
	assert.Empty(t, rr.Sources)
	assert.NotEmpty(t, rr.RetrievedIncidents)
}

func TestQueryValidation(t *testing.T) {
	e := newEnv(t, seedIncidents())

	tests := []struct {
		name    string
		body    string
		status  int
		errText string
	}{
		{
			name:    "empty query",
			body:    `{"query": "  "}`,
			status:  http.StatusBadRequest,
			errText: "query is required",
		},
		{
			name:    "query too long",
			body:    `{"query": "` + strings.Repeat("x", model.MaxQueryLen+1) + `"}`,
			status:  http.StatusBadRequest,
			errText: "maximum length",
		},
		{
			name:    "malformed json",
			body:    `{"query": `,
			status:  http.StatusBadRequest,
			errText: "",
		},
		{
			name:    "unknown field",
			body:    `{"query": "UPI timeout", "top_k": 5}`,
			status:  http.StatusBadRequest,
			errText: "unknown field",
		},
		{
			name:    "max_incidents out of range",
			body:    `{"query": "UPI timeout", "max_incidents": 100}`,
			status:  http.StatusBadRequest,
			errText: "max_incidents",
		},
		{
			name:    "confidence_threshold out of range",
			body:    `{"query": "UPI timeout", "confidence_threshold": 1.5}`,
			status:  http.StatusBadRequest,
			errText: "confidence_threshold",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := http.Post(e.ts.URL+"/v1/query", "application/json", strings.NewReader(tt.body))
			require.NoError(t, err)
			assert.Equal(t, tt.status, resp.StatusCode)

			detail := decodeError(t, resp)
			assert.Equal(t, model.ErrCodeInvalidInput, detail.Code)
			if tt.errText != "" {
				assert.Contains(t, detail.Message, tt.errText)
			}
		})
	}
}

func TestGetIncident(t *testing.T) {
	e := newEnv(t, seedIncidents())

	resp, err := http.Get(e.ts.URL + "/v1/incidents/JSP-1052")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var in model.Incident
	decodeEnvelope(t, resp, &in)
	assert.Equal(t, "JSP-1052", in.ID)
	assert.Equal(t, "Webhook SSL failure", in.Title)
}

func TestGetIncidentNotFound(t *testing.T) {
	e := newEnv(t, seedIncidents())

	resp, err := http.Get(e.ts.URL + "/v1/incidents/JSP-9999")
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	detail := decodeError(t, resp)
	assert.Equal(t, model.ErrCodeNotFound, detail.Code)
}

func TestIngestBatch(t *testing.T) {
	e := newEnv(t, nil)

	good := model.Incident{
		ID:          "JSP-3001",
		Title:       "Refund webhook retries exhausted",
		Description: "Refund status webhooks to the merchant kept failing with 502 until the retry budget was exhausted and refunds showed as pending.",
		Resolution:  "Fixed the merchant endpoint health check and replayed the dead-lettered webhooks.",
		Tags:        []string{"refund", "webhook"},
		CreatedAt:   time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC),
		ResolvedBy:  "oncall@example.com",
	}
	bad := model.Incident{
		ID:          "JSP-3002",
		Title:       "too short",
		Description: "also too short",
		Resolution:  "short",
		Tags:        []string{"x"},
		CreatedAt:   time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC),
		ResolvedBy:  "oncall@example.com",
	}

	resp := postJSON(t, e.ts.URL+"/v1/incidents", model.IngestRequest{Incidents: []model.Incident{good, bad}})
	assert.Equal(t, http.StatusOK, resp.StatusCode, "a batch with quarantines still reports 200")

	var report model.IngestReport
	decodeEnvelope(t, resp, &report)
	assert.Equal(t, 2, report.Total)
	assert.Equal(t, 1, report.Ingested)
	assert.Equal(t, 1, report.Quarantined)
	require.Len(t, report.Failures, 1)
	assert.Equal(t, "JSP-3002", report.Failures[0].ID)
	assert.NotEmpty(t, report.Failures[0].Reason)

	// The ingested record is immediately queryable.
	got, err := http.Get(e.ts.URL + "/v1/incidents/JSP-3001")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, got.StatusCode)
	var in model.Incident
	decodeEnvelope(t, got, &in)
	assert.Equal(t, "JSP-3001", in.ID)
}

func TestIngestRejectsEmptyBatch(t *testing.T) {
	e := newEnv(t, nil)

	resp := postJSON(t, e.ts.URL+"/v1/incidents", model.IngestRequest{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	detail := decodeError(t, resp)
	assert.Equal(t, model.ErrCodeInvalidInput, detail.Code)
	assert.Contains(t, detail.Message, "non-empty")
}

func TestFeedbackRoundTrip(t *testing.T) {
	e := newEnv(t, seedIncidents())

	resp := postJSON(t, e.ts.URL+"/v1/feedback", model.FeedbackRequest{
		Query:    "UPI timeout",
		ResultID: "JSP-1000",
		Rating:   5,
		Helpful:  true,
		Text:     "the suggested timeout bump matched our fix",
	})
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var fb model.FeedbackResponse
	decodeEnvelope(t, resp, &fb)
	_, err := uuid.Parse(fb.FeedbackID)
	assert.NoError(t, err, "feedback_id should be a valid UUID")

	// The record lands in the store once the sink flushes.
	e.sink.Drain(context.Background())
	assert.Zero(t, e.sink.Len())
}

func TestFeedbackRejectsBadRating(t *testing.T) {
	e := newEnv(t, seedIncidents())

	resp := postJSON(t, e.ts.URL+"/v1/feedback", model.FeedbackRequest{
		Query:    "UPI timeout",
		ResultID: "JSP-1000",
		Rating:   9,
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	detail := decodeError(t, resp)
	assert.Contains(t, detail.Message, "rating")
}

func TestFeedbackUnavailableWithoutSink(t *testing.T) {
	e := newEnv(t, nil, func(cfg *server.ServerConfig) { cfg.Sink = nil })

	resp := postJSON(t, e.ts.URL+"/v1/feedback", model.FeedbackRequest{
		Query:    "UPI timeout",
		ResultID: "JSP-1000",
		Rating:   3,
	})
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	detail := decodeError(t, resp)
	assert.Equal(t, model.ErrCodeUnavailable, detail.Code)
}

func TestStatsTracksQueries(t *testing.T) {
	e := newEnv(t, seedIncidents())
	e.gen.Answer = "Fix Suggestion: raise the collect timeout as resolved in JSP-1000."

	for _, q := range []string{"JSP-1052", "UPI timeout", "how to bake a cake"} {
		resp := postJSON(t, e.ts.URL+"/v1/query", model.QueryRequest{Query: q})
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		_ = resp.Body.Close()
	}

	resp, err := http.Get(e.ts.URL + "/v1/stats")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var stats model.StatsResponse
	decodeEnvelope(t, resp, &stats)
	assert.Equal(t, 2, stats.LiveIncidents)
	assert.Equal(t, 2, stats.SparseDocuments)
	assert.Equal(t, 2, stats.VectorPoints)
	assert.Positive(t, stats.VocabularyTerms)
	assert.Equal(t, int64(2), stats.QueriesServed)
	assert.Equal(t, int64(1), stats.Refusals)
	assert.Zero(t, stats.DegradedServes)
}

func TestOpenAPISpecServed(t *testing.T) {
	e := newEnv(t, nil)

	resp, err := http.Get(e.ts.URL + "/openapi.yaml")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/yaml", resp.Header.Get("Content-Type"))

	body, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(body), "openapi:")
}

func TestSecurityHeadersAndRequestID(t *testing.T) {
	e := newEnv(t, nil)

	req, _ := http.NewRequest(http.MethodGet, e.ts.URL+"/health", nil)
	req.Header.Set("X-Request-ID", "caller-supplied-id")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)

	assert.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", resp.Header.Get("X-Frame-Options"))
	assert.Equal(t, "caller-supplied-id", resp.Header.Get("X-Request-ID"))

	meta := decodeEnvelope(t, resp, nil)
	assert.Equal(t, "caller-supplied-id", meta.RequestID, "the envelope echoes the request id")
}

func TestRateLimitExceeded(t *testing.T) {
	limiter := ratelimit.NewMemoryLimiter()
	t.Cleanup(func() { _ = limiter.Close() })
	e := newEnv(t, nil, func(cfg *server.ServerConfig) { cfg.Limiter = limiter })

	var limited *http.Response
	for range 40 {
		resp, err := http.Get(e.ts.URL + "/v1/stats")
		require.NoError(t, err)
		if resp.StatusCode == http.StatusTooManyRequests {
			limited = resp
			break
		}
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		_ = resp.Body.Close()
	}
	require.NotNil(t, limited, "the query bucket must exhaust within the burst")

	assert.NotEmpty(t, limited.Header.Get("Retry-After"))
	detail := decodeError(t, limited)
	assert.Equal(t, model.ErrCodeRateLimited, detail.Code)
}

func TestMethodNotAllowed(t *testing.T) {
	e := newEnv(t, nil)

	resp, err := http.Get(e.ts.URL + "/v1/query")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestUnknownRouteReturns404(t *testing.T) {
	e := newEnv(t, nil)

	resp, err := http.Get(e.ts.URL + "/v1/unknown")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func newMCPClient(t *testing.T, e *env) *mcpclient.Client {
	t.Helper()
	c, err := mcpclient.NewStreamableHttpClient(e.ts.URL + "/mcp")
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	_, err = c.Initialize(context.Background(), mcplib.InitializeRequest{
		Params: mcplib.InitializeParams{
			ClientInfo: mcplib.Implementation{Name: "test-client", Version: "1.0"},
		},
	})
	require.NoError(t, err)
	return c
}

func TestMCPInitialize(t *testing.T) {
	e := newEnv(t, seedIncidents())

	c, err := mcpclient.NewStreamableHttpClient(e.ts.URL + "/mcp")
	require.NoError(t, err)
	defer func() { _ = c.Close() }()

	initResult, err := c.Initialize(context.Background(), mcplib.InitializeRequest{
		Params: mcplib.InitializeParams{
			ClientInfo: mcplib.Implementation{Name: "test-client", Version: "1.0"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "kioku", initResult.ServerInfo.Name)
	assert.Equal(t, "test", initResult.ServerInfo.Version)
}

func TestMCPListTools(t *testing.T) {
	e := newEnv(t, seedIncidents())
	c := newMCPClient(t, e)

	toolsResult, err := c.ListTools(context.Background(), mcplib.ListToolsRequest{})
	require.NoError(t, err)
	assert.Len(t, toolsResult.Tools, 2)

	toolNames := make(map[string]bool)
	for _, tool := range toolsResult.Tools {
		toolNames[tool.Name] = true
	}
	assert.True(t, toolNames["kioku_query"], "expected kioku_query tool")
	assert.True(t, toolNames["kioku_get_incident"], "expected kioku_get_incident tool")
}

func TestMCPQueryTool(t *testing.T) {
	e := newEnv(t, seedIncidents())
	e.gen.Answer = "Fix Suggestion: raise the UPI collect timeout to 90 seconds as resolved in JSP-1000."
	c := newMCPClient(t, e)

	result, err := c.CallTool(context.Background(), mcplib.CallToolRequest{
		Params: mcplib.CallToolParams{
			Name: "kioku_query",
			Arguments: map[string]any{
				"query": "UPI timeout",
			},
		},
	})
	require.NoError(t, err)
	require.False(t, result.IsError, "query tool returned error: %v", result.Content)
	require.NotEmpty(t, result.Content)

	text, ok := result.Content[0].(mcplib.TextContent)
	require.True(t, ok)
	var rr model.RAGResponse
	require.NoError(t, json.Unmarshal([]byte(text.Text), &rr))
	assert.Equal(t, model.StrategyHybridRAG, rr.Strategy)
	assert.Equal(t, []string{"JSP-1000"}, rr.Sources)
}

func TestMCPGetIncidentTool(t *testing.T) {
	e := newEnv(t, seedIncidents())
	c := newMCPClient(t, e)

	result, err := c.CallTool(context.Background(), mcplib.CallToolRequest{
		Params: mcplib.CallToolParams{
			Name: "kioku_get_incident",
			Arguments: map[string]any{
				"id": "JSP-1052",
			},
		},
	})
	require.NoError(t, err)
	require.False(t, result.IsError)

	text, ok := result.Content[0].(mcplib.TextContent)
	require.True(t, ok)
	var in model.Incident
	require.NoError(t, json.Unmarshal([]byte(text.Text), &in))
	assert.Equal(t, "JSP-1052", in.ID)
}

func TestMCPListResources(t *testing.T) {
	e := newEnv(t, seedIncidents())
	c := newMCPClient(t, e)

	resourcesResult, err := c.ListResources(context.Background(), mcplib.ListResourcesRequest{})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, len(resourcesResult.Resources), 1, "expected at least corpus/stats")
}
