package model

// Strategy identifies the pipeline path that produced a response.
type Strategy string

const (
	StrategyExactIDLookup Strategy = "exact_id_lookup"
	StrategyHybridRAG     Strategy = "hybrid_rag"
	StrategyRefusal       Strategy = "refusal"
)

// RefusalReason explains why the pipeline declined to answer.
type RefusalReason string

const (
	RefusalNoCandidates        RefusalReason = "no_candidates"
	RefusalInsufficientOverlap RefusalReason = "insufficient_semantic_overlap"
	RefusalOutOfDomain         RefusalReason = "out_of_domain"
)

// Status reflects the health of the pipeline run behind a response.
type Status string

const (
	StatusOK       Status = "ok"
	StatusRefused  Status = "refused"
	StatusDegraded Status = "degraded"
)

// Confidence level bucket boundaries.
const (
	confidenceLow  = 0.3
	confidenceHigh = 0.7
)

// ConfidenceLevel buckets a confidence score for callers that route on
// coarse levels rather than raw floats: <0.3 low, <0.7 medium, else high.
func ConfidenceLevel(score float64) string {
	switch {
	case score < confidenceLow:
		return "low"
	case score < confidenceHigh:
		return "medium"
	default:
		return "high"
	}
}

// RetrievedIncident is the caller-facing view of one retrieved incident:
// the payload fields plus the full score breakdown. Score mirrors
// FusedScore for consumers that predate the per-signal fields.
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
	MatchType       MatchType       `json:"match_type"`
	PriorityDetails PriorityDetails `json:"priority_details"`
}

// ResponseMetadata is the metadata sub-object on every response.
type ResponseMetadata struct {
	ConfidenceLevel    string        `json:"confidence_level"`
	IncidentsRetrieved int           `json:"incidents_retrieved"`
	Status             Status        `json:"status"`
	Reason             RefusalReason `json:"reason,omitempty"`
}

// RAGResponse is the answer to one query. Every query gets one, including
// refusals: a refusal is a well-formed response with confidence 0, empty
// sources, and the reason in metadata.
type RAGResponse struct {
	Query              string              `json:"query"`
	GeneratedAnswer    string              `json:"generated_answer"`
	RetrievedIncidents []RetrievedIncident `json:"retrieved_incidents"`
	Sources            []string            `json:"sources"`
	ConfidenceScore    float64             `json:"confidence_score"`
	QueryComplexity    Complexity          `json:"query_complexity"`
	ExecutionTimeMS    float64             `json:"execution_time_ms"`
	Strategy           Strategy            `json:"rag_strategy"`
	Metadata           ResponseMetadata    `json:"metadata"`
}

// NewRefusal builds the canonical refusal response for a query.
func NewRefusal(query string, complexity Complexity, reason RefusalReason, answer string) *RAGResponse {
	return &RAGResponse{
		Query:              query,
		GeneratedAnswer:    answer,
		RetrievedIncidents: []RetrievedIncident{},
		Sources:            []string{},
		ConfidenceScore:    0,
		QueryComplexity:    complexity,
		Strategy:           StrategyRefusal,
		Metadata: ResponseMetadata{
			ConfidenceLevel:    ConfidenceLevel(0),
			IncidentsRetrieved: 0,
			Status:             StatusRefused,
			Reason:             reason,
		},
	}
}
