package corpus

import (
	"context"
	"sync"

	"github.com/ashita-ai/kioku/internal/model"
)

// MemoryStore keeps the corpus in process memory. The default store when
// DATABASE_URL is not configured; incidents survive only as long as the
// process, so deployments that need durability use PostgresStore.
type MemoryStore struct {
	mu        sync.RWMutex
	incidents map[string]*model.Incident
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{incidents: make(map[string]*model.Incident)}
}

// Get returns a copy of the incident or KindNotFound.
func (s *MemoryStore) Get(_ context.Context, id string) (*model.Incident, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	in, ok := s.incidents[id]
	if !ok {
		return nil, notFound(id)
	}
	return in.Clone(), nil
}

// Put inserts or replaces an incident. The store keeps its own copy.
func (s *MemoryStore) Put(_ context.Context, in *model.Incident) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.incidents[in.ID] = in.Clone()
	return nil
}

// Delete removes an incident or returns KindNotFound.
func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.incidents[id]; !ok {
		return notFound(id)
	}
	delete(s.incidents, id)
	return nil
}

// All returns copies of every incident, ordered by id.
func (s *MemoryStore) All(_ context.Context) ([]*model.Incident, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.incidents))
	for id := range s.incidents {
		ids = append(ids, id)
	}
	model.SortIncidentIDs(ids)

	out := make([]*model.Incident, len(ids))
	for i, id := range ids {
		out[i] = s.incidents[id].Clone()
	}
	return out, nil
}

// IDs returns every incident id, sorted.
func (s *MemoryStore) IDs(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.incidents))
	for id := range s.incidents {
		ids = append(ids, id)
	}
	model.SortIncidentIDs(ids)
	return ids, nil
}

// Count returns the number of stored incidents.
func (s *MemoryStore) Count(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.incidents), nil
}
