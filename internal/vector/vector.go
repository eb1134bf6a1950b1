// Package vector provides the dense retrieval index: approximate
// nearest-neighbour search over incident embeddings, with payload
// filtering. The production backend is Qdrant; MemoryIndex serves
// single-process deployments and tests.
package vector

import (
	"context"
	"math"
	"sort"
	"sync"

	"github.com/pgvector/pgvector-go"

	"github.com/ashita-ai/kioku/internal/model"
)

// Point is one incident's entry in the index: its embedding plus the
// payload consumers read back. The incident id is carried in the payload
// because backends may require their own point id format.
type Point struct {
	ID      string
	Vector  []float32
	Payload map[string]any
}

// PointFromIncident builds the index point for an incident.
func PointFromIncident(in *model.Incident, vec pgvector.Vector) Point {
	return Point{ID: in.ID, Vector: vec.Slice(), Payload: in.VectorPayload()}
}

// Hit is an incident id with its raw cosine similarity. The caller
// hydrates full incidents from the corpus manager (source of truth).
type Hit struct {
	ID    string
	Score float64
}

// Filter restricts a query to points whose payload matches. Zero value
// matches everything. Tags is any-of; Category and Priority are exact.
type Filter struct {
	Tags     []string
	Category string
	Priority string
}

// Empty reports whether the filter matches everything.
func (f Filter) Empty() bool {
	return len(f.Tags) == 0 && f.Category == "" && f.Priority == ""
}

// Index is the interface for dense vector indexes.
// Implementations must be safe for concurrent use.
type Index interface {
	// Upsert inserts or replaces points. Upserting an existing id is an
	// overwrite, never a duplicate.
	Upsert(ctx context.Context, points []Point) error

	// Delete removes points by incident id. Missing ids are not an error.
	Delete(ctx context.Context, ids []string) error

	// Query returns up to topK incident ids ranked by cosine similarity
	// to the embedding, restricted by filter.
	Query(ctx context.Context, embedding []float32, topK int, filter Filter) ([]Hit, error)

	// Count returns the number of live points.
	Count(ctx context.Context) (uint64, error)

	// Healthy returns nil if the index is reachable.
	Healthy(ctx context.Context) error
}

// MemoryIndex is a brute-force cosine index. Exact rather than
// approximate, which is fine at corpus scale; it exists so the engine
// runs without external infrastructure.
type MemoryIndex struct {
	mu     sync.RWMutex
	points map[string]Point
}

// NewMemoryIndex creates an empty in-process index.
func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{points: make(map[string]Point)}
}

// Upsert inserts or replaces points by incident id.
func (m *MemoryIndex) Upsert(_ context.Context, points []Point) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range points {
		vec := make([]float32, len(p.Vector))
		copy(vec, p.Vector)
		m.points[p.ID] = Point{ID: p.ID, Vector: vec, Payload: p.Payload}
	}
	return nil
}

// Delete removes points by incident id.
func (m *MemoryIndex) Delete(_ context.Context, ids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		delete(m.points, id)
	}
	return nil
}

// Query scores every stored point against the embedding and returns the
// topK best matches. Ties break on id ascending so results are stable.
func (m *MemoryIndex) Query(_ context.Context, embedding []float32, topK int, filter Filter) ([]Hit, error) {
	if topK <= 0 {
		return nil, nil
	}

	m.mu.RLock()
	hits := make([]Hit, 0, len(m.points))
	for id, p := range m.points {
		if !matchesFilter(p.Payload, filter) {
			continue
		}
		score := cosine(embedding, p.Vector)
		if math.IsNaN(score) {
			continue
		}
		hits = append(hits, Hit{ID: id, Score: score})
	}
	m.mu.RUnlock()

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].ID < hits[j].ID
	})
	if len(hits) > topK {
		hits = hits[:topK]
	}
	return hits, nil
}

// Count returns the number of live points.
func (m *MemoryIndex) Count(_ context.Context) (uint64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return uint64(len(m.points)), nil
}

// Healthy always succeeds; the index lives in process.
func (m *MemoryIndex) Healthy(_ context.Context) error { return nil }

// IDs returns every stored incident id, sorted. The corpus audit sweep
// uses this to detect membership drift.
func (m *MemoryIndex) IDs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.points))
	for id := range m.points {
		ids = append(ids, id)
	}
	model.SortIncidentIDs(ids)
	return ids
}

func matchesFilter(payload map[string]any, f Filter) bool {
	if f.Empty() {
		return true
	}
	if f.Category != "" {
		if got, _ := payload["category"].(string); got != f.Category {
			return false
		}
	}
	if f.Priority != "" {
		if got, _ := payload["priority"].(string); got != f.Priority {
			return false
		}
	}
	if len(f.Tags) > 0 {
		tags, _ := payload["tags"].([]string)
		if !anyTagMatch(tags, f.Tags) {
			return false
		}
	}
	return true
}

func anyTagMatch(have, want []string) bool {
	for _, w := range want {
		for _, h := range have {
			if h == w {
				return true
			}
		}
	}
	return false
}

// cosine returns the cosine similarity of a and b, NaN when either has
// zero norm or lengths differ.
func cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return math.NaN()
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return math.NaN()
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
