// Package ingest drives incident records from external sources into the
// corpus. Each record walks a fixed state machine (new → validated →
// normalised → embedded → upserted → indexed → live); a failure at any
// stage quarantines the record with the stage and reason, never the
// batch. Batches are idempotent on id: unchanged content is a no-op,
// changed content takes the update path.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"

	"github.com/ashita-ai/kioku/internal/embedding"
	"github.com/ashita-ai/kioku/internal/model"
	"github.com/ashita-ai/kioku/internal/telemetry"
)

// defaultWorkers bounds the batch worker pool when the caller does not
// configure one. Ingest shares the embedding provider with the query
// path, so the pool stays small enough not to starve live queries.
const defaultWorkers = 4

// Corpus is the slice of the corpus manager the pipeline writes through.
// All index consistency (store, vector, sparse) lives behind it.
type Corpus interface {
	Get(ctx context.Context, id string) (*model.Incident, error)
	Add(ctx context.Context, in *model.Incident) error
	Update(ctx context.Context, in *model.Incident) error
}

// Source yields candidate incident records from one external format.
// Sources skip rows that cannot possibly become records (no title or
// description); everything else is handed to the pipeline, which
// validates and quarantines properly.
type Source interface {
	// Load parses the source and returns candidates in input order.
	Load() ([]*model.Incident, error)
	// Name identifies the source in logs.
	Name() string
}

// Pipeline runs batches of records through the ingest state machine on a
// bounded worker pool. Safe for concurrent use; the corpus manager
// serialises the actual writes.
type Pipeline struct {
	corpus  Corpus
	embed   embedding.Provider
	logger  *slog.Logger
	workers int

	records  metric.Int64Counter
	duration metric.Float64Histogram
}

// New wires a pipeline over the corpus and the shared embedding provider.
// workers bounds batch concurrency; values below one fall back to the
// default pool size.
func New(corpus Corpus, embed embedding.Provider, workers int, logger *slog.Logger) *Pipeline {
	if workers < 1 {
		workers = defaultWorkers
	}
	p := &Pipeline{
		corpus:  corpus,
		embed:   embed,
		logger:  logger,
		workers: workers,
	}

	meter := telemetry.Meter("kioku/ingest")
	records, _ := meter.Int64Counter("kioku.ingest.records",
		metric.WithDescription("Records processed, by outcome"),
	)
	p.records = records
	dur, _ := meter.Float64Histogram("kioku.ingest.batch.duration",
		metric.WithDescription("Time to ingest one batch (ms)"),
		metric.WithUnit("ms"),
	)
	p.duration = dur
	return p
}

// RunSource loads a source and ingests everything it yields.
func (p *Pipeline) RunSource(ctx context.Context, src Source) (model.IngestReport, error) {
	records, err := src.Load()
	if err != nil {
		return model.IngestReport{}, err
	}
	p.logger.Info("ingest source loaded", "source", src.Name(), "records", len(records))
	return p.Run(ctx, records)
}

// Run ingests one batch. Record failures quarantine the record and never
// abort the batch; the returned error is non-nil only when the context
// was cancelled, in which case the report covers the records that
// completed.
func (p *Pipeline) Run(ctx context.Context, records []*model.Incident) (model.IngestReport, error) {
	start := time.Now()
	report := model.IngestReport{Total: len(records)}
	if len(records) == 0 {
		return report, nil
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers)

	for _, in := range records {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			res := p.process(gctx, in)
			p.records.Add(gctx, 1, metric.WithAttributes(attribute.String("outcome", res.outcome.String())))

			mu.Lock()
			defer mu.Unlock()
			switch res.outcome {
			case outcomeIngested:
				report.Ingested++
			case outcomeUpdated:
				report.Updated++
			case outcomeQuarantined:
				report.Quarantined++
				report.Failures = append(report.Failures, res.failure)
			}
			return nil
		})
	}
	err := g.Wait()

	// Workers append failures in completion order; report them stably.
	sort.Slice(report.Failures, func(i, j int) bool {
		return report.Failures[i].ID < report.Failures[j].ID
	})

	elapsed := float64(time.Since(start)) / float64(time.Millisecond)
	p.duration.Record(ctx, elapsed)
	p.logger.Info("ingest batch finished",
		"total", report.Total,
		"ingested", report.Ingested,
		"updated", report.Updated,
		"quarantined", report.Quarantined,
		"duration_ms", elapsed,
	)
	if err != nil {
		return report, fmt.Errorf("ingest: batch aborted: %w", err)
	}
	return report, nil
}

// outcome is what became of one record.
type outcome int

const (
	outcomeIngested outcome = iota
	outcomeUpdated
	outcomeUnchanged
	outcomeQuarantined
)

func (o outcome) String() string {
	switch o {
	case outcomeIngested:
		return "ingested"
	case outcomeUpdated:
		return "updated"
	case outcomeUnchanged:
		return "unchanged"
	case outcomeQuarantined:
		return "quarantined"
	default:
		return "unknown"
	}
}

type result struct {
	outcome outcome
	failure model.IngestFailure // set when quarantined
}

// record tracks one incident's walk through the pipeline states.
type record struct {
	in    *model.Incident
	state model.IngestState
}

// advanceTo walks the record forward until it reaches target. The chain
// is strictly forward, so walking past a terminal state stops; reaching
// target twice is a no-op, which keeps the duplicate-retry path honest.
func (r *record) advanceTo(target model.IngestState) {
	for r.state != target {
		next, err := r.state.Advance()
		if err != nil || next == r.state {
			return
		}
		r.state = next
	}
}

// process walks a single record to live or quarantined.
func (p *Pipeline) process(ctx context.Context, in *model.Incident) result {
	rec := record{in: in, state: model.StateNew}

	if err := in.Validate(); err != nil {
		return p.quarantine(&rec, model.StateValidated, err)
	}
	rec.advanceTo(model.StateValidated)

	normalise(in)
	rec.advanceTo(model.StateNormalised)

	return p.store(ctx, &rec, true)
}

// store decides between insert, update, and no-op against the record
// currently in the corpus, embedding first when the text changed.
// retryDup allows one reconcile pass when two records with the same id
// race within a batch and the loser must re-read the winner. A corpus
// read failure is attributed to the embed stage, the stage the lookup
// feeds.
func (p *Pipeline) store(ctx context.Context, rec *record, retryDup bool) result {
	in := rec.in

	existing, err := p.lookup(ctx, in.ID)
	if err != nil {
		return p.quarantine(rec, model.StateEmbedded, err)
	}
	if existing != nil && contentEqual(in, existing) {
		p.logger.Debug("ingest record unchanged", "id", in.ID)
		return result{outcome: outcomeUnchanged}
	}

	// Unchanged text keeps the stored embedding even when metadata moved.
	if existing != nil && in.Embedding == nil && in.TextEqual(existing) {
		in.Embedding = existing.Embedding
	}
	if in.Embedding == nil {
		vecs, err := p.embed.EmbedBatch(ctx, []string{in.TrainingText()})
		if err != nil {
			return p.quarantine(rec, model.StateEmbedded, fmt.Errorf("ingest: embed %s: %w", in.ID, err))
		}
		if len(vecs) != 1 {
			return p.quarantine(rec, model.StateEmbedded,
				model.Errorf(model.KindInternal, "ingest: embedder returned %d vectors for one text", len(vecs)))
		}
		in.Embedding = &vecs[0]
	}
	rec.advanceTo(model.StateEmbedded)

	if existing == nil {
		if err := p.corpus.Add(ctx, in); err != nil {
			if retryDup && model.KindOf(err) == model.KindInvalidInput {
				return p.store(ctx, rec, false)
			}
			return p.quarantine(rec, model.StateUpserted, err)
		}
		p.finish(rec)
		return result{outcome: outcomeIngested}
	}

	if err := p.corpus.Update(ctx, in); err != nil {
		return p.quarantine(rec, model.StateUpserted, err)
	}
	p.finish(rec)
	return result{outcome: outcomeUpdated}
}

// finish advances through upserted and indexed to live. The corpus
// manager performs the vector upsert and sparse publish as one write, so
// the two stages complete together.
func (p *Pipeline) finish(rec *record) {
	rec.advanceTo(model.StateLive)
	p.logger.Debug("ingest record live", "id", rec.in.ID, "state", string(rec.state))
}

func (p *Pipeline) quarantine(rec *record, stage model.IngestState, err error) result {
	rec.state = model.StateQuarantined
	p.logger.Warn("ingest record quarantined",
		"id", rec.in.ID,
		"stage", string(stage),
		"error", err,
	)
	return result{
		outcome: outcomeQuarantined,
		failure: model.IngestFailure{ID: rec.in.ID, Stage: stage, Reason: err.Error()},
	}
}

func (p *Pipeline) lookup(ctx context.Context, id string) (*model.Incident, error) {
	in, err := p.corpus.Get(ctx, id)
	if err != nil {
		if model.KindOf(err) == model.KindNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("ingest: corpus read %s: %w", id, err)
	}
	return in, nil
}

// normalise canonicalises a validated record in place: surrounding
// whitespace is stripped, tags are lowercased and deduplicated in first
// occurrence order, and created_at is pinned to UTC. Re-ingests compare
// normalised against normalised, so canonicalisation is what makes the
// unchanged no-op reliable.
func normalise(in *model.Incident) {
	in.ID = strings.TrimSpace(in.ID)
	in.Title = strings.TrimSpace(in.Title)
	in.Description = strings.TrimSpace(in.Description)
	in.Resolution = strings.TrimSpace(in.Resolution)
	in.ResolvedBy = strings.TrimSpace(in.ResolvedBy)
	in.Category = strings.TrimSpace(in.Category)
	in.Priority = strings.TrimSpace(in.Priority)
	in.CreatedAt = in.CreatedAt.UTC()

	seen := make(map[string]bool, len(in.Tags))
	tags := in.Tags[:0]
	for _, t := range in.Tags {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		tags = append(tags, t)
	}
	in.Tags = tags
}

// contentEqual reports whether a re-ingested record matches the stored
// one across every caller-visible field.
func contentEqual(a, b *model.Incident) bool {
	if !a.TextEqual(b) {
		return false
	}
	if len(a.Tags) != len(b.Tags) {
		return false
	}
	for i := range a.Tags {
		if a.Tags[i] != b.Tags[i] {
			return false
		}
	}
	return a.CreatedAt.Equal(b.CreatedAt) &&
		a.ResolvedBy == b.ResolvedBy &&
		a.Category == b.Category &&
		a.Priority == b.Priority
}
