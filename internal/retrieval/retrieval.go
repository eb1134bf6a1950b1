// Package retrieval runs the hybrid search behind every non-trivial query:
// a dense arm (embed, then vector index) and two sparse arms (BM25 and
// tf-idf over the published snapshot) fan out concurrently, rendezvous,
// and fuse into one ranked candidate list. A failed arm degrades the
// ranking instead of failing the request; only the loss of every arm
// yields an empty list, which the caller turns into a refusal.
package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/pgvector/pgvector-go"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"

	"github.com/ashita-ai/kioku/internal/entity"
	"github.com/ashita-ai/kioku/internal/model"
	"github.com/ashita-ai/kioku/internal/sparse"
	"github.com/ashita-ai/kioku/internal/telemetry"
	"github.com/ashita-ai/kioku/internal/vector"
)

// Fusion weights. The dense signal dominates; BM25 carries exact keyword
// agreement and tf-idf breaks ties between lexically similar candidates.
// When an arm is down its weight is redistributed over the survivors, so
// fused scores stay on the same [0,1] scale the confidence thresholds are
// calibrated against.
const (
	semanticWeight = 0.6
	bm25Weight     = 0.3
	tfidfWeight    = 0.1
)

// Priority boosts. A candidate naming the same merchant or gateway as the
// query outranks a semantically closer one; the caps keep the tiers from
// inverting (a gateway-only match can never outrank a merchant match at
// the same base score).
const (
	boostMerchantGateway = 2.5
	boostMerchant        = 2.0
	boostGateway         = 1.5

	capMerchantGateway = 1.00
	capMerchant        = 0.95
	capGateway         = 0.85
)

// Each arm over-fetches so fusion sees candidates that only one arm found.
const overfetchFactor = 2

// Embedder is the query-side dense dependency. Production wraps the
// provider in the content-addressed cache; tests inject a deterministic
// stand-in.
type Embedder interface {
	Embed(ctx context.Context, text string) (pgvector.Vector, error)
}

// Corpus supplies the sparse snapshot and hydrates fused candidates.
type Corpus interface {
	Snapshot() *sparse.Snapshot
	Get(ctx context.Context, id string) (*model.Incident, error)
}

// Result is one retrieval outcome: ranked candidates plus degradation
// state. Degraded means an arm failed and ranking ran on the surviving
// signals; the orchestrator caps confidence accordingly.
type Result struct {
	Candidates []model.RetrievalCandidate
	Degraded   bool
}

// Retriever fuses the three search arms. Safe for concurrent use.
type Retriever struct {
	embed  Embedder
	index  vector.Index
	corpus Corpus
	logger *slog.Logger

	duration    metric.Float64Histogram
	armFailures metric.Int64Counter
}

func New(embed Embedder, index vector.Index, corpus Corpus, logger *slog.Logger) *Retriever {
	meter := telemetry.Meter("kioku/retrieval")
	dur, _ := meter.Float64Histogram("kioku.retrieval.duration",
		metric.WithDescription("Time to run hybrid retrieval (ms)"),
		metric.WithUnit("ms"),
	)
	failures, _ := meter.Int64Counter("kioku.retrieval.arm_failures",
		metric.WithDescription("Retrieval arm failures by arm"),
	)
	return &Retriever{
		embed:       embed,
		index:       index,
		corpus:      corpus,
		logger:      logger,
		duration:    dur,
		armFailures: failures,
	}
}

// Retrieve runs the three arms for the query, fuses and boosts the union,
// and returns the top-k candidates in rank order. Arm failures degrade;
// the only error returned is a dead request context.
func (r *Retriever) Retrieve(ctx context.Context, query string, topK int) (Result, error) {
	start := time.Now()
	fetch := overfetchFactor * topK
	snap := r.corpus.Snapshot()

	var (
		dense      []vector.Hit
		bm25Hits   []sparse.Hit
		tfidfHits  []sparse.Hit
		denseErr   error
		sparseDown bool
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		vec, err := r.embed.Embed(gctx, query)
		if err != nil {
			denseErr = fmt.Errorf("retrieval: embed query: %w", err)
			return nil
		}
		hits, err := r.index.Query(gctx, vec.Slice(), fetch, vector.Filter{})
		if err != nil {
			denseErr = fmt.Errorf("retrieval: dense search: %w", err)
			return nil
		}
		dense = hits
		return nil
	})
	g.Go(func() error {
		if snap == nil {
			sparseDown = true
			return nil
		}
		bm25Hits = snap.SearchBM25(query, fetch)
		return nil
	})
	g.Go(func() error {
		if snap != nil {
			tfidfHits = snap.SearchTFIDF(query, fetch)
		}
		return nil
	})
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	degraded := false
	if denseErr != nil {
		degraded = true
		r.armFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("arm", "dense")))
		r.logger.Warn("retrieval: dense arm failed, ranking on sparse signals", "error", denseErr)
	}
	if sparseDown {
		degraded = true
		r.armFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("arm", "sparse")))
		r.logger.Warn("retrieval: sparse snapshot unavailable, ranking on dense signal only")
	}
	if denseErr != nil && sparseDown {
		r.logger.Error("retrieval: every arm failed", "error", denseErr)
		return Result{Degraded: true}, nil
	}

	candidates := r.fuse(ctx, query, dense, bm25Hits, tfidfHits, denseErr != nil, sparseDown)

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].FusedScore != candidates[j].FusedScore {
			return candidates[i].FusedScore > candidates[j].FusedScore
		}
		if candidates[i].SemanticScore != candidates[j].SemanticScore {
			return candidates[i].SemanticScore > candidates[j].SemanticScore
		}
		return candidates[i].IncidentID < candidates[j].IncidentID
	})
	if len(candidates) > topK {
		candidates = candidates[:topK]
	}

	r.duration.Record(ctx, float64(time.Since(start).Milliseconds()),
		metric.WithAttributes(attribute.Bool("degraded", degraded)))

	return Result{Candidates: candidates, Degraded: degraded}, nil
}

// fuse union-merges the per-arm hits, hydrates each candidate from the
// corpus, and applies fusion weights plus entity boosts. Ids the corpus no
// longer knows (index drift) are dropped with a warning. A dead arm's
// weight is spread over the live arms: sparse-only ranks on the two
// lexical signals alone, dense-only on the semantic score alone.
func (r *Retriever) fuse(ctx context.Context, query string, dense []vector.Hit, bm25Hits, tfidfHits []sparse.Hit, denseDown, sparseDown bool) []model.RetrievalCandidate {
	semW, bmW, tfW := semanticWeight, bm25Weight, tfidfWeight
	switch {
	case denseDown:
		scale := 1 / (bm25Weight + tfidfWeight)
		semW, bmW, tfW = 0, bm25Weight*scale, tfidfWeight*scale
	case sparseDown:
		semW, bmW, tfW = 1, 0, 0
	}
	degraded := denseDown || sparseDown

	type partial struct {
		semantic, bm25, tfidf float64
	}
	scores := make(map[string]*partial, len(dense)+len(bm25Hits)+len(tfidfHits))
	at := func(id string) *partial {
		p, ok := scores[id]
		if !ok {
			p = &partial{}
			scores[id] = p
		}
		return p
	}
	for _, h := range dense {
		at(h.ID).semantic = clamp01(h.Score)
	}
	for _, h := range bm25Hits {
		at(h.ID).bm25 = h.Score
	}
	for _, h := range tfidfHits {
		at(h.ID).tfidf = h.Score
	}

	queryMerchant := entity.Merchant(query)
	queryGateway := entity.Gateway(query)

	candidates := make([]model.RetrievalCandidate, 0, len(scores))
	for id, p := range scores {
		in, err := r.corpus.Get(ctx, id)
		if err != nil {
			r.logger.Warn("retrieval: candidate missing from corpus, dropping", "id", id, "error", err)
			continue
		}

		c := model.RetrievalCandidate{
			IncidentID:    id,
			SemanticScore: p.semantic,
			BM25Score:     p.bm25,
			TFIDFScore:    p.tfidf,
			FusedScore:    semW*p.semantic + bmW*p.bm25 + tfW*p.tfidf,
			Incident:      in,
		}
		boost(&c, queryMerchant, queryGateway)
		if degraded {
			c.MatchType = c.MatchType.Degraded()
		}
		candidates = append(candidates, c)
	}
	return candidates
}

// boost applies the entity priority tiers and records the comparison that
// justified them.
func boost(c *model.RetrievalCandidate, queryMerchant, queryGateway string) {
	text := c.Incident.EntityText()
	d := model.PriorityDetails{
		QueryMerchant:     queryMerchant,
		QueryGateway:      queryGateway,
		CandidateMerchant: entity.Merchant(text),
		CandidateGateway:  entity.Gateway(text),
	}
	d.MerchantMatch = queryMerchant != "" && queryMerchant == d.CandidateMerchant
	d.GatewayMatch = queryGateway != "" && queryGateway == d.CandidateGateway

	switch {
	case d.MerchantMatch && d.GatewayMatch:
		c.FusedScore = min(c.FusedScore*boostMerchantGateway, capMerchantGateway)
		c.MatchType = model.MatchPerfectMerchantGateway
	case d.MerchantMatch:
		c.FusedScore = min(c.FusedScore*boostMerchant, capMerchant)
		c.MatchType = model.MatchMerchant
	case d.GatewayMatch:
		c.FusedScore = min(c.FusedScore*boostGateway, capGateway)
		c.MatchType = model.MatchGateway
	default:
		c.MatchType = model.MatchSemantic
	}
	c.PriorityDetails = d
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
