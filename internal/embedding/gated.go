package embedding

import (
	"context"

	"github.com/pgvector/pgvector-go"

	"github.com/ashita-ai/kioku/internal/ratelimit"
)

// Gated fronts a Provider with the outbound provider gate. Each network
// call spends one token; a batch is one call. Cache layers wrap the gate,
// not the other way around, so hits never spend tokens.
type Gated struct {
	provider Provider
	gate     *ratelimit.Gate
}

// NewGated wraps provider with gate.
func NewGated(provider Provider, gate *ratelimit.Gate) *Gated {
	return &Gated{provider: provider, gate: gate}
}

// Dimensions returns the wrapped provider's vector size.
func (g *Gated) Dimensions() int { return g.provider.Dimensions() }

// Embed waits for a token, then delegates.
func (g *Gated) Embed(ctx context.Context, text string) (pgvector.Vector, error) {
	if err := g.gate.Acquire(ctx); err != nil {
		return pgvector.Vector{}, err
	}
	return g.provider.Embed(ctx, text)
}

// EmbedBatch waits for a token, then delegates.
func (g *Gated) EmbedBatch(ctx context.Context, texts []string) ([]pgvector.Vector, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if err := g.gate.Acquire(ctx); err != nil {
		return nil, err
	}
	return g.provider.EmbedBatch(ctx, texts)
}
