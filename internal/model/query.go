package model

import "strings"

// Complexity classifies a query and fixes its retrieval parameters.
type Complexity string

const (
	// ComplexityExactID means the query names a specific incident id.
	// Retrieval is a direct lookup, no ranking.
	ComplexityExactID Complexity = "exact_id"

	// ComplexitySimple is a short, single-intent troubleshooting query.
	ComplexitySimple Complexity = "simple"

	// ComplexityComplex is an analytical query asking for patterns or
	// causes across incidents; it needs a wider evidence set.
	ComplexityComplex Complexity = "complex"

	// ComplexityOutOfDomain means the query has nothing to do with the
	// corpus. The pipeline refuses without touching retrieval.
	ComplexityOutOfDomain Complexity = "out_of_domain"
)

// TopK is the number of incidents retrieval returns for this complexity.
func (c Complexity) TopK() int {
	switch c {
	case ComplexityExactID:
		return 1
	case ComplexityComplex:
		return 8
	default:
		return 3
	}
}

// ConfidenceFloor is the minimum confidence a response at this complexity
// must carry before grounding checks may still refuse it.
func (c Complexity) ConfidenceFloor() float64 {
	if c == ComplexityExactID {
		return 0.1
	}
	return 0.3
}

// Classification is the router's verdict on a raw query.
type Classification struct {
	Complexity Complexity `json:"complexity"`
	// IncidentID is set only for exact_id queries: the id extracted from
	// the text and verified live in the corpus.
	IncidentID string `json:"incident_id,omitempty"`
}

// MatchType labels how a retrieval candidate earned its rank.
type MatchType string

const (
	MatchExactID                MatchType = "EXACT_ID"
	MatchPerfectMerchantGateway MatchType = "PERFECT_MERCHANT_GATEWAY_MATCH"
	MatchMerchant               MatchType = "MERCHANT_ID_MATCH"
	MatchGateway                MatchType = "PAYMENT_GATEWAY_MATCH"
	MatchSemantic               MatchType = "SEMANTIC_MATCH"
)

// DegradedSuffix marks candidates ranked while one retrieval arm was down.
const DegradedSuffix = "_DEGRADED"

// Degraded returns the match type with the degraded marker appended.
func (m MatchType) Degraded() MatchType {
	if strings.HasSuffix(string(m), DegradedSuffix) {
		return m
	}
	return m + DegradedSuffix
}

// IsDegraded reports whether the match type carries the degraded marker.
func (m MatchType) IsDegraded() bool {
	return strings.HasSuffix(string(m), DegradedSuffix)
}

// PriorityDetails records the entity comparison behind a priority boost so
// callers can see why a candidate outranked a semantically closer one.
type PriorityDetails struct {
	QueryMerchant     string `json:"query_merchant,omitempty"`
	QueryGateway      string `json:"query_gateway,omitempty"`
	CandidateMerchant string `json:"candidate_merchant,omitempty"`
	CandidateGateway  string `json:"candidate_gateway,omitempty"`
	MerchantMatch     bool   `json:"merchant_match"`
	GatewayMatch      bool   `json:"gateway_match"`
}

// RetrievalCandidate is one fused, boosted result from hybrid retrieval.
// All scores live in [0,1]; FusedScore is authoritative for ordering.
type RetrievalCandidate struct {
	IncidentID      string          `json:"incident_id"`
	SemanticScore   float64         `json:"semantic_score"`
	BM25Score       float64         `json:"bm25_score"`
	TFIDFScore      float64         `json:"tfidf_score"`
	FusedScore      float64         `json:"fused_score"`
	MatchType       MatchType       `json:"match_type"`
	PriorityDetails PriorityDetails `json:"priority_details"`

	// Incident carries the hydrated corpus record. Nil until hydration.
	Incident *Incident `json:"-"`
}
