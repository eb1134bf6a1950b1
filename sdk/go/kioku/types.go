package kioku

import (
	"time"

	"github.com/google/uuid"
)

// Incident mirrors the server's incident record for API consumers. It
// omits the embedding (internal to the server); the server re-derives it
// on ingest.
type Incident struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Resolution  string    `json:"resolution"`
	Tags        []string  `json:"tags"`
	CreatedAt   time.Time `json:"created_at"`
	ResolvedBy  string    `json:"resolved_by"`
	Category    string    `json:"category,omitempty"`
	Priority    string    `json:"priority,omitempty"`
}

// Strategy identifies the pipeline path that produced a response.
type Strategy string

const (
	StrategyExactIDLookup Strategy = "exact_id_lookup"
	StrategyHybridRAG     Strategy = "hybrid_rag"
	StrategyRefusal       Strategy = "refusal"
)

// Status reflects the health of the pipeline run behind a response.
// Refused and degraded responses still arrive as HTTP 200; branch on
// this field, not the status code.
type Status string

const (
	StatusOK       Status = "ok"
	StatusRefused  Status = "refused"
	StatusDegraded Status = "degraded"
)

// RefusalReason explains why the pipeline declined to answer.
type RefusalReason string

const (
	RefusalNoCandidates        RefusalReason = "no_candidates"
	RefusalInsufficientOverlap RefusalReason = "insufficient_semantic_overlap"
	RefusalOutOfDomain         RefusalReason = "out_of_domain"
)

// QueryRequest is the body of POST /v1/query. Only Query is required.
type QueryRequest struct {
	Query string `json:"query"`

	// IncludeSources defaults to true when nil.
	IncludeSources *bool `json:"include_sources,omitempty"`

	// MaxIncidents caps retrieved incidents; zero means server default.
	MaxIncidents int `json:"max_incidents,omitempty"`

	// ConfidenceThreshold overrides the server's refusal floor when set.
	ConfidenceThreshold *float64 `json:"confidence_threshold,omitempty"`
}

// PriorityDetails records the entity comparison behind a priority boost.
type PriorityDetails struct {
	QueryMerchant     string `json:"query_merchant,omitempty"`
	QueryGateway      string `json:"query_gateway,omitempty"`
	CandidateMerchant string `json:"candidate_merchant,omitempty"`
	CandidateGateway  string `json:"candidate_gateway,omitempty"`
	MerchantMatch     bool   `json:"merchant_match"`
	GatewayMatch      bool   `json:"gateway_match"`
}

// RetrievedIncident is one retrieved incident with its full score
// breakdown. Score mirrors FusedScore.
type RetrievedIncident struct {
	ID              string          `json:"id"`
	Title           string          `json:"title"`
	Description     string          `json:"description"`
	Resolution      string          `json:"resolution"`
	Tags            []string        `json:"tags"`
	Category        string          `json:"category,omitempty"`
	Priority        string          `json:"priority,omitempty"`
	Score           float64         `json:"score"`
	FusedScore      float64         `json:"fused_score"`
	SemanticScore   float64         `json:"semantic_score"`
	BM25Score       float64         `json:"bm25_score"`
	TFIDFScore      float64         `json:"tfidf_score"`
	MatchType       string          `json:"match_type"`
	PriorityDetails PriorityDetails `json:"priority_details"`
}

// ResponseMetadata carries the run health attached to every answer.
type ResponseMetadata struct {
	ConfidenceLevel    string        `json:"confidence_level"`
	IncidentsRetrieved int           `json:"incidents_retrieved"`
	Status             Status        `json:"status"`
	Reason             RefusalReason `json:"reason,omitempty"`
}

// RAGResponse is the answer to a query. Refusals are well-formed
// RAGResponses with Strategy "refusal" and ConfidenceScore 0.
type RAGResponse struct {
	Query              string              `json:"query"`
	GeneratedAnswer    string              `json:"generated_answer"`
	RetrievedIncidents []RetrievedIncident `json:"retrieved_incidents"`
	Sources            []string            `json:"sources"`
	ConfidenceScore    float64             `json:"confidence_score"`
	QueryComplexity    string              `json:"query_complexity"`
	ExecutionTimeMS    float64             `json:"execution_time_ms"`
	Strategy           Strategy            `json:"rag_strategy"`
	Metadata           ResponseMetadata    `json:"metadata"`
}

// Refused reports whether the server declined to answer the query.
func (r *RAGResponse) Refused() bool {
	return r.Metadata.Status == StatusRefused
}

// FeedbackRequest is the body of POST /v1/feedback.
type FeedbackRequest struct {
	Query    string `json:"query"`
	ResultID string `json:"result_id"`
	Rating   int    `json:"rating"`
	Helpful  bool   `json:"helpful"`
	Text     string `json:"feedback_text,omitempty"`
}

// FeedbackResponse acknowledges an accepted feedback record.
type FeedbackResponse struct {
	FeedbackID uuid.UUID `json:"feedback_id"`
}

// IngestFailure names one quarantined record and why it was rejected.
type IngestFailure struct {
	ID     string `json:"id"`
	Stage  string `json:"stage"`
	Reason string `json:"reason"`
}

// IngestReport summarizes one ingestion batch. Quarantined records are
// itemized in Failures; the rest of the batch still lands.
type IngestReport struct {
	Total       int             `json:"total"`
	Ingested    int             `json:"ingested"`
	Updated     int             `json:"updated"`
	Quarantined int             `json:"quarantined"`
	Failures    []IngestFailure `json:"failures,omitempty"`
}

// StatsResponse is the corpus and traffic snapshot from GET /v1/stats.
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

// HealthResponse reports component health. Status is "healthy",
// "degraded", or "unhealthy"; Components maps component name to state.
type HealthResponse struct {
	Status      string            `json:"status"`
	Version     string            `json:"version"`
	Components  map[string]string `json:"components"`
	CorpusSize  int               `json:"corpus_size"`
	Uptime      int64             `json:"uptime_seconds"`
	DegradedFor int64             `json:"degraded_for_seconds,omitempty"`
}
