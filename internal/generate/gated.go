package generate

import (
	"context"

	"github.com/ashita-ai/kioku/internal/ratelimit"
)

// GatedGenerator fronts a Generator with the outbound provider gate, so
// generation and embedding calls draw from one shared quota budget.
type GatedGenerator struct {
	generator Generator
	gate      *ratelimit.Gate
}

// NewGated wraps generator with gate.
func NewGated(generator Generator, gate *ratelimit.Gate) *GatedGenerator {
	return &GatedGenerator{generator: generator, gate: gate}
}

// Generate waits for a token, then delegates.
func (g *GatedGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	if err := g.gate.Acquire(ctx); err != nil {
		return "", err
	}
	return g.generator.Generate(ctx, prompt)
}
