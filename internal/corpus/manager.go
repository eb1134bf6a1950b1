package corpus

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/ashita-ai/kioku/internal/embedding"
	"github.com/ashita-ai/kioku/internal/model"
	"github.com/ashita-ai/kioku/internal/sparse"
	"github.com/ashita-ai/kioku/internal/vector"
)

// bootstrapEmbedBatch bounds how many texts go to the embedding provider
// in one call during startup recovery.
const bootstrapEmbedBatch = 64

// Manager owns corpus mutations and keeps the derived indexes consistent
// with the store. Write order is fixed: store (source of truth), then
// vector upsert, then sparse snapshot publish. A crash between store
// write and publish is recovered by Bootstrap, which rebuilds the derived
// state from the store.
//
// Mutations are serialised; reads go straight to the store and to the
// lock-free sparse snapshot.
type Manager struct {
	store   Store
	vectors vector.Index
	sparse  *sparse.Index
	embed   embedding.Provider
	logger  *slog.Logger

	mu sync.Mutex // serialises mutations and bootstrap
}

// NewManager wires the store, the two derived indexes, and the embedder.
func NewManager(store Store, vectors vector.Index, sparseIdx *sparse.Index, embed embedding.Provider, logger *slog.Logger) *Manager {
	return &Manager{
		store:   store,
		vectors: vectors,
		sparse:  sparseIdx,
		embed:   embed,
		logger:  logger,
	}
}

// Bootstrap loads the corpus and rebuilds the derived indexes. Incidents
// without a stored embedding are embedded now and the vectors written
// back, so the next restart skips them. Safe to call on an empty store.
func (m *Manager) Bootstrap(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	all, err := m.store.All(ctx)
	if err != nil {
		return err
	}

	var missing []*model.Incident
	for _, in := range all {
		if in.Embedding == nil {
			missing = append(missing, in)
		}
	}
	for start := 0; start < len(missing); start += bootstrapEmbedBatch {
		end := min(start+bootstrapEmbedBatch, len(missing))
		batch := missing[start:end]

		texts := make([]string, len(batch))
		for i, in := range batch {
			texts[i] = in.TrainingText()
		}
		vecs, err := m.embed.EmbedBatch(ctx, texts)
		if err != nil {
			return fmt.Errorf("corpus: embed %d incidents during bootstrap: %w", len(batch), err)
		}
		for i, in := range batch {
			in.Embedding = &vecs[i]
			if err := m.store.Put(ctx, in); err != nil {
				return err
			}
		}
	}

	points := make([]vector.Point, len(all))
	for i, in := range all {
		points[i] = vector.PointFromIncident(in, *in.Embedding)
	}
	if err := m.vectors.Upsert(ctx, points); err != nil {
		return fmt.Errorf("corpus: vector upsert during bootstrap: %w", err)
	}

	docs := make([]sparse.Document, len(all))
	for i, in := range all {
		docs[i] = sparse.Document{ID: in.ID, Text: in.TrainingText()}
	}
	m.sparse.Rebuild(docs)

	m.logger.Info("corpus bootstrapped", "incidents", len(all), "embedded", len(missing))
	return nil
}

// Add validates and publishes a new incident. Duplicate ids are rejected;
// re-ingesting an existing record goes through Update.
func (m *Manager) Add(ctx context.Context, in *model.Incident) error {
	if err := in.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, err := m.store.Get(ctx, in.ID); err == nil {
		return model.Errorf(model.KindInvalidInput, "corpus: incident %s already exists", in.ID)
	} else if model.KindOf(err) != model.KindNotFound {
		return err
	}

	if err := m.ensureEmbedding(ctx, in); err != nil {
		return err
	}
	if err := m.store.Put(ctx, in); err != nil {
		return err
	}
	return m.publish(ctx, in)
}

// Update replaces an existing incident. The text fields are compared
// against the stored record: unchanged text keeps the stored embedding,
// changed text is re-embedded.
func (m *Manager) Update(ctx context.Context, in *model.Incident) error {
	if err := in.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	current, err := m.store.Get(ctx, in.ID)
	if err != nil {
		return err
	}

	if in.Embedding == nil && in.TextEqual(current) {
		in.Embedding = current.Embedding
	}
	if err := m.ensureEmbedding(ctx, in); err != nil {
		return err
	}
	if err := m.store.Put(ctx, in); err != nil {
		return err
	}
	return m.publish(ctx, in)
}

// Delete tombstones an incident: removed from the store, the vector
// index, and the next sparse snapshot, in that order.
func (m *Manager) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.store.Delete(ctx, id); err != nil {
		return err
	}
	if err := m.vectors.Delete(ctx, []string{id}); err != nil {
		return fmt.Errorf("corpus: vector delete %s: %w", id, err)
	}
	m.sparse.Patch(nil, []string{id})
	return nil
}

// Get returns the incident or a KindNotFound error.
func (m *Manager) Get(ctx context.Context, id string) (*model.Incident, error) {
	return m.store.Get(ctx, id)
}

// Has reports whether id is live in the corpus. Store failures read as
// absent; the router treats an unverifiable id as prose.
func (m *Manager) Has(ctx context.Context, id string) bool {
	_, err := m.store.Get(ctx, id)
	if err == nil {
		return true
	}
	if model.KindOf(err) != model.KindNotFound {
		m.logger.Warn("corpus lookup failed", "incident_id", id, "error", err)
	}
	return false
}

// AllIDs returns every live incident id, sorted.
func (m *Manager) AllIDs(ctx context.Context) ([]string, error) {
	return m.store.IDs(ctx)
}

// Count returns the number of live incidents.
func (m *Manager) Count(ctx context.Context) (int, error) {
	return m.store.Count(ctx)
}

// Tags returns every distinct tag across live incidents, lowercased and
// sorted. The router harvests these as domain anchor terms; callers cache
// the result rather than calling per query.
func (m *Manager) Tags(ctx context.Context) ([]string, error) {
	all, err := m.store.All(ctx)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool)
	for _, in := range all {
		for _, tag := range in.Tags {
			tag = strings.ToLower(strings.TrimSpace(tag))
			if tag != "" {
				seen[tag] = true
			}
		}
	}
	tags := make([]string, 0, len(seen))
	for tag := range seen {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags, nil
}

// Snapshot returns the published sparse snapshot. Callers load it once
// per query so both lexical scores come from the same corpus view.
func (m *Manager) Snapshot() *sparse.Snapshot {
	return m.sparse.Snapshot()
}

// Vector returns the dense index, for health checks and stats.
func (m *Manager) Vector() vector.Index {
	return m.vectors
}

func (m *Manager) ensureEmbedding(ctx context.Context, in *model.Incident) error {
	if in.Embedding != nil {
		return nil
	}
	vecs, err := m.embed.EmbedBatch(ctx, []string{in.TrainingText()})
	if err != nil {
		return fmt.Errorf("corpus: embed incident %s: %w", in.ID, err)
	}
	if len(vecs) != 1 {
		return model.Errorf(model.KindInternal, "corpus: embedder returned %d vectors for one text", len(vecs))
	}
	in.Embedding = &vecs[0]
	return nil
}

// publish pushes an already-stored incident into the derived indexes:
// vector upsert first, then the sparse snapshot including it.
func (m *Manager) publish(ctx context.Context, in *model.Incident) error {
	if err := m.vectors.Upsert(ctx, []vector.Point{vector.PointFromIncident(in, *in.Embedding)}); err != nil {
		return fmt.Errorf("corpus: vector upsert %s: %w", in.ID, err)
	}
	m.sparse.Patch([]sparse.Document{{ID: in.ID, Text: in.TrainingText()}}, nil)
	return nil
}

// AuditReport is the result of a membership sweep across the store and
// both derived indexes.
type AuditReport struct {
	Incidents    int    `json:"incidents"`
	VectorPoints uint64 `json:"vector_points"`
	SparseDocs   int    `json:"sparse_docs"`

	// Live incidents absent from an index.
	MissingVector []string `json:"missing_vector,omitempty"`
	MissingSparse []string `json:"missing_sparse,omitempty"`

	// Indexed ids that are no longer live.
	OrphanVector []string `json:"orphan_vector,omitempty"`
	OrphanSparse []string `json:"orphan_sparse,omitempty"`
}

// Clean reports whether every live incident is in both indexes and
// nothing else is.
func (r AuditReport) Clean() bool {
	return len(r.MissingVector) == 0 && len(r.MissingSparse) == 0 &&
		len(r.OrphanVector) == 0 && len(r.OrphanSparse) == 0 &&
		uint64(r.Incidents) == r.VectorPoints && //nolint:gosec // counts are non-negative
		r.Incidents == r.SparseDocs
}

// idLister is implemented by vector indexes that can enumerate their
// membership (the in-process one). Backends that cannot are audited by
// count only.
type idLister interface {
	IDs() []string
}

// AuditSweep verifies that corpus membership and index membership agree,
// in both directions. Findings are reported, not repaired; repair is a
// Bootstrap.
func (m *Manager) AuditSweep(ctx context.Context) (AuditReport, error) {
	ids, err := m.store.IDs(ctx)
	if err != nil {
		return AuditReport{}, err
	}

	rep := AuditReport{Incidents: len(ids)}
	live := make(map[string]bool, len(ids))
	for _, id := range ids {
		live[id] = true
	}

	snap := m.sparse.Snapshot()
	rep.SparseDocs = snap.Stats().Docs
	for _, id := range ids {
		if !snap.Has(id) {
			rep.MissingSparse = append(rep.MissingSparse, id)
		}
	}
	for _, id := range snap.IDs() {
		if !live[id] {
			rep.OrphanSparse = append(rep.OrphanSparse, id)
		}
	}

	rep.VectorPoints, err = m.vectors.Count(ctx)
	if err != nil {
		return rep, fmt.Errorf("corpus: vector count during audit: %w", err)
	}
	if lister, ok := m.vectors.(idLister); ok {
		indexed := make(map[string]bool)
		for _, id := range lister.IDs() {
			indexed[id] = true
			if !live[id] {
				rep.OrphanVector = append(rep.OrphanVector, id)
			}
		}
		for _, id := range ids {
			if !indexed[id] {
				rep.MissingVector = append(rep.MissingVector, id)
			}
		}
	}

	if !rep.Clean() {
		m.logger.Warn("corpus audit found drift",
			"incidents", rep.Incidents,
			"vector_points", rep.VectorPoints,
			"sparse_docs", rep.SparseDocs,
			"missing_vector", len(rep.MissingVector),
			"missing_sparse", len(rep.MissingSparse),
			"orphan_vector", len(rep.OrphanVector),
			"orphan_sparse", len(rep.OrphanSparse),
		)
	}
	return rep, nil
}
