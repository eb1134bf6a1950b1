package model

import (
	"strings"
	"time"
)

// Request size limits. Queries longer than MaxQueryLen are rejected before
// sanitisation rather than silently truncated to something the caller
// never asked.
const (
	MaxQueryLen     = 2000
	MaxIncidentsCap = 20
	MaxBatchSize    = 1000
)

// APIResponse is the standard response envelope for all HTTP API responses.
type APIResponse struct {
	Data any          `json:"data,omitempty"`
	Meta ResponseMeta `json:"meta"`
}

// APIError is the standard error response envelope.
type APIError struct {
	Error ErrorDetail  `json:"error"`
	Meta  ResponseMeta `json:"meta"`
}

// ResponseMeta contains request metadata included in every response.
type ResponseMeta struct {
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
}

// ErrorDetail describes an API error.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// ErrorCode constants for standard API error codes.
const (
	ErrCodeInvalidInput  = "INVALID_INPUT"
	ErrCodeNotFound      = "NOT_FOUND"
	ErrCodeRateLimited   = "RATE_LIMITED"
	ErrCodeUnavailable   = "SERVICE_UNAVAILABLE"
	ErrCodeInternalError = "INTERNAL_ERROR"
)

// QueryRequest is the request body for POST /v1/query.
type QueryRequest struct {
	Query string `json:"query"`
	// IncludeSources defaults to true; callers opt out explicitly.
	IncludeSources *bool `json:"include_sources,omitempty"`
	// MaxIncidents caps retrieved_incidents below the strategy's top_k.
	// Zero means use the strategy default.
	MaxIncidents int `json:"max_incidents,omitempty"`
	// ConfidenceThreshold overrides the default confidence floor. Nil
	// means use the strategy default.
	ConfidenceThreshold *float64 `json:"confidence_threshold,omitempty"`
}

// Validate checks bounds on a query request.
func (r *QueryRequest) Validate() error {
	if strings.TrimSpace(r.Query) == "" {
		return NewError(KindInvalidInput, "query is required")
	}
	if len(r.Query) > MaxQueryLen {
		return Errorf(KindInvalidInput, "query exceeds maximum length of %d characters", MaxQueryLen)
	}
	if r.MaxIncidents < 0 || r.MaxIncidents > MaxIncidentsCap {
		return Errorf(KindInvalidInput, "max_incidents must be between 0 and %d", MaxIncidentsCap)
	}
	if r.ConfidenceThreshold != nil && (*r.ConfidenceThreshold < 0 || *r.ConfidenceThreshold > 1) {
		return NewError(KindInvalidInput, "confidence_threshold must be between 0 and 1")
	}
	return nil
}

// WantSources reports whether the caller asked for cited sources.
func (r *QueryRequest) WantSources() bool {
	return r.IncludeSources == nil || *r.IncludeSources
}

// FeedbackRequest is the request body for POST /v1/feedback.
type FeedbackRequest struct {
	Query    string `json:"query"`
	ResultID string `json:"result_id"`
	Rating   int    `json:"rating"`
	Helpful  bool   `json:"helpful"`
	Text     string `json:"feedback_text,omitempty"`
}

// FeedbackResponse is the response for POST /v1/feedback.
type FeedbackResponse struct {
	FeedbackID string `json:"feedback_id"`
}

// IngestRequest is the request body for POST /v1/incidents.
type IngestRequest struct {
	Incidents []Incident `json:"incidents"`
}

// Validate checks batch bounds; per-record validation happens inside the
// ingest pipeline so one bad record quarantines instead of failing the batch.
func (r *IngestRequest) Validate() error {
	if len(r.Incidents) == 0 {
		return NewError(KindInvalidInput, "incidents must be non-empty")
	}
	if len(r.Incidents) > MaxBatchSize {
		return Errorf(KindInvalidInput, "batch exceeds maximum size of %d records", MaxBatchSize)
	}
	return nil
}

// IngestReport summarises one batch ingest. Total always equals
// Ingested + Updated + Quarantined + unchanged re-ingests.
type IngestReport struct {
	Total       int             `json:"total"`
	Ingested    int             `json:"ingested"`
	Updated     int             `json:"updated"`
	Quarantined int             `json:"quarantined"`
	Failures    []IngestFailure `json:"failures,omitempty"`
}

// IngestFailure names a quarantined record, the stage it failed at, and why.
type IngestFailure struct {
	ID     string      `json:"id"`
	Stage  IngestState `json:"stage"`
	Reason string      `json:"reason"`
}

// StatsResponse is the response for GET /v1/stats.
type StatsResponse struct {
	LiveIncidents   int       `json:"live_incidents"`
	VectorPoints    int       `json:"vector_points"`
	SparseDocuments int       `json:"sparse_documents"`
	VocabularyTerms int       `json:"vocabulary_terms"`
	SnapshotBuiltAt time.Time `json:"snapshot_built_at"`
	QueriesServed   int64     `json:"queries_served"`
	Refusals        int64     `json:"refusals"`
	DegradedServes  int64     `json:"degraded_serves"`
}

// HealthResponse is the response for GET /health.
type HealthResponse struct {
	Status      string            `json:"status"`
	Version     string            `json:"version"`
	Components  map[string]string `json:"components"`
	CorpusSize  int               `json:"corpus_size"`
	Uptime      int64             `json:"uptime_seconds"`
	DegradedFor int64             `json:"degraded_for_seconds,omitempty"`
}
