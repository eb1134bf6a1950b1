package kioku

import "context"

// Embedder generates vector embeddings from text.
// When provided via WithEmbedder, replaces the config-selected Gemini/noop
// provider. Uses []float32 (not pgvector.Vector) to avoid forcing the
// pgvector dependency on external consumers. App.New() wraps it in an
// adapter for internal use.
//
// By convention Embed carries query-side semantics and EmbedBatch carries
// document-side semantics; asymmetric providers rely on this split.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
}

// VectorIndex is a dense retrieval index over incident embeddings.
// When provided via WithVectorIndex, replaces the config-selected Qdrant
// or in-memory index. Query returns incident IDs + scores; the engine
// hydrates full incidents from the corpus store.
type VectorIndex interface {
	// Upsert inserts or replaces points. Upserting an existing id is an
	// overwrite, never a duplicate.
	Upsert(ctx context.Context, points []IndexPoint) error

	// Delete removes points by incident id. Missing ids are not an error.
	Delete(ctx context.Context, ids []string) error

	// Query returns up to topK incident ids ranked by cosine similarity
	// to the embedding, restricted by filter.
	Query(ctx context.Context, embedding []float32, topK int, filter IndexFilter) ([]IndexHit, error)

	// Count returns the number of live points.
	Count(ctx context.Context) (uint64, error)

	// Healthy returns nil if the index is reachable.
	Healthy(ctx context.Context) error
}

// Generator produces a grounded answer from a fully rendered prompt.
// When provided via WithGenerator, replaces the config-selected Gemini
// generator. The prompt always embeds the retrieved incident context;
// implementations must be safe for concurrent use.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}
