package server

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/ashita-ai/kioku/internal/corpus"
	"github.com/ashita-ai/kioku/internal/feedback"
	"github.com/ashita-ai/kioku/internal/ingest"
	"github.com/ashita-ai/kioku/internal/model"
	"github.com/ashita-ai/kioku/internal/rag"
)

// Handlers holds HTTP handler dependencies.
type Handlers struct {
	rag      *rag.Service
	corpus   *corpus.Manager
	ingestor *ingest.Pipeline
	sink     *feedback.Sink
	logger   *slog.Logger

	startedAt           time.Time
	version             string
	maxRequestBodyBytes int64
	openapiSpec         []byte

	// Provider identities shown on /health. Providers have no probe of
	// their own; health reports what is wired, not a live round trip.
	embedderDesc  string
	generatorDesc string

	mu            sync.Mutex
	degradedSince time.Time
}

// HandlersDeps holds all dependencies for constructing Handlers.
// Optional (nil-safe): Ingestor, Sink, OpenAPISpec.
type HandlersDeps struct {
	RAG      *rag.Service
	Corpus   *corpus.Manager
	Ingestor *ingest.Pipeline
	Sink     *feedback.Sink
	Logger   *slog.Logger

	Version             string
	MaxRequestBodyBytes int64
	OpenAPISpec         []byte
	EmbedderDesc        string
	GeneratorDesc       string
}

// NewHandlers creates a new Handlers with all dependencies.
func NewHandlers(d HandlersDeps) *Handlers {
	return &Handlers{
		rag:                 d.RAG,
		corpus:              d.Corpus,
		ingestor:            d.Ingestor,
		sink:                d.Sink,
		logger:              d.Logger,
		startedAt:           time.Now(),
		version:             d.Version,
		maxRequestBodyBytes: d.MaxRequestBodyBytes,
		openapiSpec:         d.OpenAPISpec,
		embedderDesc:        d.EmbedderDesc,
		generatorDesc:       d.GeneratorDesc,
	}
}

// HandleQuery handles POST /v1/query. Refusals and degraded serves are
// well-formed 200 responses; only malformed input and hard pipeline
// failures map to error statuses.
func (h *Handlers) HandleQuery(w http.ResponseWriter, r *http.Request) {
	var req model.QueryRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	if err := req.Validate(); err != nil {
		writeModelError(w, r, err)
		return
	}

	ragReq := rag.Request{
		Query:          req.Query,
		IncludeSources: req.WantSources(),
		MaxIncidents:   req.MaxIncidents,
	}
	if req.ConfidenceThreshold != nil {
		ragReq.ConfidenceThreshold = *req.ConfidenceThreshold
	}

	resp, err := h.rag.Query(r.Context(), ragReq)
	if err != nil {
		writeModelError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, resp)
}

// HandleFeedback handles POST /v1/feedback. The record is buffered for
// the background writer; the returned id is assigned before the row is
// durable.
func (h *Handlers) HandleFeedback(w http.ResponseWriter, r *http.Request) {
	if h.sink == nil {
		writeError(w, r, http.StatusServiceUnavailable, model.ErrCodeUnavailable, "feedback sink not configured")
		return
	}

	var req model.FeedbackRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}

	id, err := h.sink.Append(r.Context(), model.Feedback{
		Query:    req.Query,
		ResultID: req.ResultID,
		Rating:   req.Rating,
		Helpful:  req.Helpful,
		Text:     req.Text,
	})
	if err != nil {
		writeModelError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, model.FeedbackResponse{FeedbackID: id.String()})
}

// HandleIngest handles POST /v1/incidents. The batch runs synchronously;
// the report carries per-record quarantine reasons, so a 200 can still
// contain failures.
func (h *Handlers) HandleIngest(w http.ResponseWriter, r *http.Request) {
	if h.ingestor == nil {
		writeError(w, r, http.StatusServiceUnavailable, model.ErrCodeUnavailable, "ingestion not configured")
		return
	}

	var req model.IngestRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	if err := req.Validate(); err != nil {
		writeModelError(w, r, err)
		return
	}

	records := make([]*model.Incident, len(req.Incidents))
	for i := range req.Incidents {
		records[i] = &req.Incidents[i]
	}

	report, err := h.ingestor.Run(r.Context(), records)
	if err != nil {
		writeModelError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, report)
}

// HandleGetIncident handles GET /v1/incidents/{id}.
func (h *Handlers) HandleGetIncident(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "incident id is required")
		return
	}

	in, err := h.corpus.Get(r.Context(), id)
	if err != nil {
		writeModelError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, in)
}

// HandleStats handles GET /v1/stats.
func (h *Handlers) HandleStats(w http.ResponseWriter, r *http.Request) {
	count, err := h.corpus.Count(r.Context())
	if err != nil {
		writeModelError(w, r, err)
		return
	}

	sparseStats := h.corpus.Snapshot().Stats()

	points := 0
	if n, err := h.corpus.Vector().Count(r.Context()); err == nil {
		points = int(n)
	} else {
		h.logger.Warn("stats: vector count failed", "error", err)
	}

	counters := h.rag.Counters()
	writeJSON(w, r, http.StatusOK, model.StatsResponse{
		LiveIncidents:   count,
		VectorPoints:    points,
		SparseDocuments: sparseStats.Docs,
		VocabularyTerms: sparseStats.Terms,
		SnapshotBuiltAt: sparseStats.BuiltAt,
		QueriesServed:   counters.ExactIDLookups + counters.HybridQueries,
		Refusals:        counters.Refusals,
		DegradedServes:  counters.DegradedRuns,
	})
}

// HandleHealth handles GET /health. The corpus store is the one hard
// dependency: when it is down the service is unhealthy and returns 503.
// A down vector index or feedback store only degrades, because queries
// still run on the surviving arms.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	httpStatus := http.StatusOK
	components := map[string]string{
		"sparse":    "ok",
		"embedder":  h.embedderDesc,
		"generator": h.generatorDesc,
	}

	corpusSize := 0
	if n, err := h.corpus.Count(r.Context()); err != nil {
		components["corpus"] = "down"
		status = "unhealthy"
		httpStatus = http.StatusServiceUnavailable
	} else {
		components["corpus"] = "ok"
		corpusSize = n
	}

	if err := h.corpus.Vector().Healthy(r.Context()); err != nil {
		components["vector"] = "down"
		if status == "healthy" {
			status = "degraded"
		}
	} else {
		components["vector"] = "ok"
	}

	if h.sink != nil {
		if err := h.sink.Ping(r.Context()); err != nil {
			components["feedback"] = "down"
			if status == "healthy" {
				status = "degraded"
			}
		} else {
			components["feedback"] = "ok"
		}
	}

	resp := model.HealthResponse{
		Status:     status,
		Version:    h.version,
		Components: components,
		CorpusSize: corpusSize,
		Uptime:     int64(time.Since(h.startedAt).Seconds()),
	}
	if since := h.trackDegraded(status); !since.IsZero() {
		resp.DegradedFor = int64(time.Since(since).Seconds())
	}

	writeJSON(w, r, httpStatus, resp)
}

// trackDegraded remembers when the status first left healthy and forgets
// it on recovery, so DegradedFor spans the whole incident rather than one
// probe interval.
func (h *Handlers) trackDegraded(status string) time.Time {
	h.mu.Lock()
	defer h.mu.Unlock()
	if status == "healthy" {
		h.degradedSince = time.Time{}
	} else if h.degradedSince.IsZero() {
		h.degradedSince = time.Now()
	}
	return h.degradedSince
}

// HandleOpenAPISpec serves the embedded OpenAPI specification.
func (h *Handlers) HandleOpenAPISpec(w http.ResponseWriter, r *http.Request) {
	if len(h.openapiSpec) == 0 {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "application/yaml")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(h.openapiSpec)
}
