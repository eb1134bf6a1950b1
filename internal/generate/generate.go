// Package generate turns admitted retrieval candidates into grounded
// answers. It owns the prompt templates, the context builder, query
// sanitisation, and the Gemini-backed Generator. The generator is never
// handed a query without incident context.
package generate

import (
	"context"
	"fmt"
	"strings"

	"github.com/ashita-ai/kioku/internal/model"
)

// Generator produces an answer from a fully rendered prompt.
// Implementations must be safe for concurrent use.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// FallbackSuggestion is the rule-based answer used when the generative
// provider stays down after retries: the top admitted incident's own
// resolution, attributed. Degraded but still grounded in the corpus.
func FallbackSuggestion(in model.RetrievedIncident) string {
	resolution := strings.TrimSpace(model.Truncate(in.Resolution, model.PayloadTextLimit))
	return fmt.Sprintf("Based on resolved incident %s: %s", in.ID, resolution)
}
