// Package corpus owns the canonical incident store and the lifecycle
// that keeps the derived indexes consistent with it. Every mutation goes
// through the Manager: store write first (source of truth), then vector
// upsert, then sparse snapshot publish. The sparse index is derived
// state; a crash mid-publish is recovered on restart by rebuilding it
// from the store.
package corpus

import (
	"context"

	"github.com/ashita-ai/kioku/internal/model"
)

// Store persists incidents. Implementations must be safe for concurrent
// use. Only live incidents are ever stored: pipeline intermediate states
// never reach the store.
type Store interface {
	// Get returns the incident or a KindNotFound error.
	Get(ctx context.Context, id string) (*model.Incident, error)

	// Put inserts or replaces an incident.
	Put(ctx context.Context, in *model.Incident) error

	// Delete removes an incident or returns KindNotFound.
	Delete(ctx context.Context, id string) error

	// All returns every incident ordered by id.
	All(ctx context.Context) ([]*model.Incident, error)

	// IDs returns every incident id, sorted.
	IDs(ctx context.Context) ([]string, error)

	// Count returns the number of stored incidents.
	Count(ctx context.Context) (int, error)
}

func notFound(id string) error {
	return model.Errorf(model.KindNotFound, "corpus: incident %s not found", id)
}
