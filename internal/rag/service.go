// Package rag orchestrates the query pipeline: sanitise, classify,
// retrieve, validate, generate. Refusals and degraded answers are values,
// not errors; the only errors a caller sees are internal faults.
package rag

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/ashita-ai/kioku/internal/generate"
	"github.com/ashita-ai/kioku/internal/model"
	"github.com/ashita-ai/kioku/internal/relevance"
	"github.com/ashita-ai/kioku/internal/retrieval"
	"github.com/ashita-ai/kioku/internal/retry"
	"github.com/ashita-ai/kioku/internal/telemetry"
)

const (
	// degradationFactor scales confidence when retrieval ranked with an
	// arm down.
	degradationFactor = 0.6

	// fallbackConfidenceCap bounds confidence when the generator stayed
	// down and the answer is the top incident's own resolution.
	fallbackConfidenceCap = 0.6

	// hybridConfidenceCap keeps full confidence exclusive to exact-id
	// lookups: a hybrid answer is never a certainty, however strong the
	// match.
	hybridConfidenceCap = 0.99
)

// Router classifies a query and picks the retrieval strategy.
type Router interface {
	Classify(ctx context.Context, text string) model.Classification
}

// Retriever runs hybrid retrieval for a query.
type Retriever interface {
	Retrieve(ctx context.Context, query string, topK int) (retrieval.Result, error)
}

// Validator decides whether a candidate set may reach the generator.
type Validator interface {
	Validate(query string, candidates []model.RetrievalCandidate) relevance.Verdict
}

// Corpus is the direct-fetch surface for exact-id lookups.
type Corpus interface {
	Get(ctx context.Context, id string) (*model.Incident, error)
}

// Request is one query with its caller-supplied bounds.
type Request struct {
	Query string

	// IncludeSources controls whether cited incident ids are returned.
	IncludeSources bool

	// MaxIncidents is an upper bound on returned incidents; the router
	// may request fewer. Zero means the complexity default.
	MaxIncidents int

	// ConfidenceThreshold refuses answers scoring below it. Zero means
	// the complexity floor.
	ConfidenceThreshold float64
}

// Counters are the running per-strategy totals, surfaced on the stats
// endpoint and observed by the otel callback.
type Counters struct {
	ExactIDLookups int64 `json:"exact_id_lookups"`
	HybridQueries  int64 `json:"hybrid_queries"`
	Refusals       int64 `json:"refusals"`
	DegradedRuns   int64 `json:"degraded_runs"`
}

// Service runs the full pipeline for one query at a time. Safe for
// concurrent use.
type Service struct {
	router    Router
	retriever Retriever
	validator Validator
	generator generate.Generator
	corpus    Corpus
	logger    *slog.Logger

	exactID      atomic.Int64
	hybrid       atomic.Int64
	refused      atomic.Int64
	degradedRuns atomic.Int64

	duration metric.Float64Histogram
}

// New wires the pipeline stages and registers the query metrics.
func New(router Router, retriever Retriever, validator Validator, gen generate.Generator, corpus Corpus, logger *slog.Logger) *Service {
	s := &Service{
		router:    router,
		retriever: retriever,
		validator: validator,
		generator: gen,
		corpus:    corpus,
		logger:    logger,
	}

	meter := telemetry.Meter("kioku/rag")
	dur, _ := meter.Float64Histogram("kioku.rag.duration",
		metric.WithDescription("Time to answer one query (ms)"),
		metric.WithUnit("ms"),
	)
	s.duration = dur
	_, _ = meter.Int64ObservableCounter("kioku.rag.queries",
		metric.WithDescription("Queries answered, by strategy"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(s.exactID.Load(), metric.WithAttributes(attribute.String("strategy", string(model.StrategyExactIDLookup))))
			o.Observe(s.hybrid.Load(), metric.WithAttributes(attribute.String("strategy", string(model.StrategyHybridRAG))))
			o.Observe(s.refused.Load(), metric.WithAttributes(attribute.String("strategy", string(model.StrategyRefusal))))
			return nil
		}),
	)
	_, _ = meter.Int64ObservableCounter("kioku.rag.degraded_runs",
		metric.WithDescription("Answers produced with a retrieval arm or the generator down"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(s.degradedRuns.Load())
			return nil
		}),
	)
	return s
}

// Counters returns the running per-strategy totals.
func (s *Service) Counters() Counters {
	return Counters{
		ExactIDLookups: s.exactID.Load(),
		HybridQueries:  s.hybrid.Load(),
		Refusals:       s.refused.Load(),
		DegradedRuns:   s.degradedRuns.Load(),
	}
}

// Query answers one request. Every outcome, including refusals and
// degraded answers, is a well-formed response; an error means the request
// context died or the corpus store failed.
func (s *Service) Query(ctx context.Context, req Request) (*model.RAGResponse, error) {
	start := time.Now()

	sanitized := generate.SanitizeQuery(req.Query)
	if sanitized != strings.TrimSpace(req.Query) {
		s.logger.Debug("query sanitised", "raw", req.Query, "sanitized", sanitized)
	}

	class := s.router.Classify(ctx, sanitized)

	switch class.Complexity {
	case model.ComplexityExactID:
		return s.exactLookup(ctx, req, class.IncidentID, start)
	case model.ComplexityOutOfDomain:
		return s.refuse(ctx, req, class.Complexity, model.RefusalOutOfDomain, start), nil
	}

	topK := class.Complexity.TopK()
	if req.MaxIncidents > 0 && req.MaxIncidents < topK {
		topK = req.MaxIncidents
	}

	result, err := s.retriever.Retrieve(ctx, sanitized, topK)
	if err != nil {
		return nil, fmt.Errorf("rag: retrieve: %w", err)
	}

	verdict := s.validator.Validate(sanitized, result.Candidates)
	if !verdict.Admitted {
		return s.refuse(ctx, req, class.Complexity, verdict.Reason, start), nil
	}

	confidence := math.Min(verdict.TopFused, verdict.BestComposite)
	if result.Degraded {
		confidence *= degradationFactor
	}
	if confidence < 0 {
		confidence = 0
	}
	if confidence >= 1 {
		confidence = hybridConfidenceCap
	}

	threshold := req.ConfidenceThreshold
	if threshold <= 0 {
		threshold = class.Complexity.ConfidenceFloor()
	}
	if confidence < threshold {
		s.logger.Info("confidence below threshold, refusing",
			"confidence", confidence,
			"threshold", threshold,
			"top_fused", verdict.TopFused,
			"best_composite", verdict.BestComposite,
		)
		return s.refuse(ctx, req, class.Complexity, model.RefusalInsufficientOverlap, start), nil
	}

	incidents := make([]model.RetrievedIncident, len(result.Candidates))
	for i, c := range result.Candidates {
		incidents[i] = retrievedFromCandidate(c)
	}

	prompt := generate.ForComplexity(class.Complexity).Render(sanitized, generate.BuildContext(incidents))
	var answer string
	genErr := retry.Do(ctx, func() error {
		text, err := s.generator.Generate(ctx, prompt)
		if err != nil {
			return err
		}
		answer = text
		return nil
	})

	degraded := result.Degraded
	if genErr != nil {
		answer = generate.FallbackSuggestion(incidents[0])
		confidence = math.Min(confidence, fallbackConfidenceCap)
		degraded = true
		s.logger.Warn("generation failed, answering with top resolution", "error", genErr)
	}

	status := model.StatusOK
	if degraded {
		status = model.StatusDegraded
		s.degradedRuns.Add(1)
	}

	resp := &model.RAGResponse{
		Query:              req.Query,
		GeneratedAnswer:    answer,
		RetrievedIncidents: incidents,
		Sources:            []string{},
		ConfidenceScore:    confidence,
		QueryComplexity:    class.Complexity,
		Strategy:           model.StrategyHybridRAG,
		Metadata: model.ResponseMetadata{
			ConfidenceLevel:    model.ConfidenceLevel(confidence),
			IncidentsRetrieved: len(incidents),
			Status:             status,
		},
	}
	if req.IncludeSources {
		resp.Sources = citedSources(answer, incidents)
	}
	s.hybrid.Add(1)
	s.finish(ctx, resp, start)
	return resp, nil
}

// exactLookup answers an exact-id query straight from the corpus: no
// retrieval, no validation, no generator call.
func (s *Service) exactLookup(ctx context.Context, req Request, id string, start time.Time) (*model.RAGResponse, error) {
	in, err := s.corpus.Get(ctx, id)
	if err != nil {
		if model.KindOf(err) == model.KindNotFound {
			// The router verified the id moments ago; it can only have
			// been deleted in between.
			s.logger.Warn("exact id no longer in corpus", "id", id)
			return s.refuse(ctx, req, model.ComplexityExactID, model.RefusalNoCandidates, start), nil
		}
		return nil, fmt.Errorf("rag: exact lookup %s: %w", id, err)
	}

	retrieved := model.RetrievedIncident{
		ID:          in.ID,
		Title:       in.Title,
		Description: in.Description,
		Resolution:  in.Resolution,
		Tags:        in.Tags,
		Category:    in.Category,
		Priority:    in.Priority,
		Score:       1,
		FusedScore:  1,
		MatchType:   model.MatchExactID,
	}

	resp := &model.RAGResponse{
		Query:              req.Query,
		GeneratedAnswer:    exactAnswer(in),
		RetrievedIncidents: []model.RetrievedIncident{retrieved},
		Sources:            []string{},
		ConfidenceScore:    1,
		QueryComplexity:    model.ComplexityExactID,
		Strategy:           model.StrategyExactIDLookup,
		Metadata: model.ResponseMetadata{
			ConfidenceLevel:    model.ConfidenceLevel(1),
			IncidentsRetrieved: 1,
			Status:             model.StatusOK,
		},
	}
	if req.IncludeSources {
		resp.Sources = []string{in.ID}
	}
	s.exactID.Add(1)
	s.finish(ctx, resp, start)
	return resp, nil
}

func (s *Service) refuse(ctx context.Context, req Request, complexity model.Complexity, reason model.RefusalReason, start time.Time) *model.RAGResponse {
	resp := model.NewRefusal(req.Query, complexity, reason, refusalAnswer(reason))
	s.refused.Add(1)
	s.finish(ctx, resp, start)
	return resp
}

func (s *Service) finish(ctx context.Context, resp *model.RAGResponse, start time.Time) {
	resp.ExecutionTimeMS = float64(time.Since(start)) / float64(time.Millisecond)
	s.duration.Record(ctx, resp.ExecutionTimeMS,
		metric.WithAttributes(attribute.String("strategy", string(resp.Strategy))))
	s.logger.Info("query answered",
		"strategy", resp.Strategy,
		"complexity", resp.QueryComplexity,
		"confidence", resp.ConfidenceScore,
		"incidents", resp.Metadata.IncidentsRetrieved,
		"status", resp.Metadata.Status,
		"reason", resp.Metadata.Reason,
		"duration_ms", resp.ExecutionTimeMS,
	)
}

// retrievedFromCandidate maps a hydrated pipeline candidate to the
// caller-facing view.
func retrievedFromCandidate(c model.RetrievalCandidate) model.RetrievedIncident {
	in := c.Incident
	return model.RetrievedIncident{
		ID:              in.ID,
		Title:           in.Title,
		Description:     in.Description,
		Resolution:      in.Resolution,
		Tags:            in.Tags,
		Category:        in.Category,
		Priority:        in.Priority,
		Score:           c.FusedScore,
		FusedScore:      c.FusedScore,
		SemanticScore:   c.SemanticScore,
		BM25Score:       c.BM25Score,
		TFIDFScore:      c.TFIDFScore,
		MatchType:       c.MatchType,
		PriorityDetails: c.PriorityDetails,
	}
}

// citedSources returns the retrieved ids the answer actually cites, in
// rank order. An answer that cites nothing has no sources.
func citedSources(answer string, incidents []model.RetrievedIncident) []string {
	sources := make([]string, 0, len(incidents))
	for _, in := range incidents {
		if strings.Contains(answer, in.ID) {
			sources = append(sources, in.ID)
		}
	}
	return sources
}

// exactAnswer formats an incident fetched by id. Built from the record
// alone so the exact-id path never touches the generative provider.
func exactAnswer(in *model.Incident) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Incident %s: %s\n\n", in.ID, in.Title)
	fmt.Fprintf(&b, "Description: %s\n\n", in.Description)
	fmt.Fprintf(&b, "Resolution: %s\n\n", in.Resolution)
	fmt.Fprintf(&b, "Resolved by: %s on %s\n", in.ResolvedBy, in.CreatedAt.Format("2006-01-02"))
	fmt.Fprintf(&b, "Tags: %s", strings.Join(in.Tags, ", "))
	return b.String()
}

func refusalAnswer(reason model.RefusalReason) string {
	if reason == model.RefusalOutOfDomain {
		return "This question is outside the payments incident knowledge base. " +
			"Ask about payment, gateway, or integration issues, or name a specific incident id."
	}
	return "No relevant past incidents found for this specific issue. " +
		"Please consult your team or documentation, and document the fix once you have one."
}
