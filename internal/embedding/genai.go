package embedding

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"github.com/pgvector/pgvector-go"
	"google.golang.org/genai"

	"github.com/ashita-ai/kioku/internal/model"
)

// DefaultModel is the Gemini embedding model.
const DefaultModel = "gemini-embedding-001"

// DefaultDimensions is the vector size gemini-embedding-001 produces.
const DefaultDimensions = 768

// GenAIProvider generates embeddings through the Gemini API. Queries are
// embedded with the retrieval-query task type, documents with
// retrieval-document, so the two sides of the same corpus meet in a
// shared vector space.
type GenAIProvider struct {
	client *genai.Client
	model  string
	dims   int
	logger *slog.Logger
}

// NewGenAIProvider creates a Gemini-backed provider. dims must match the
// dimensionality the configured model emits; every response is checked
// against it.
func NewGenAIProvider(ctx context.Context, apiKey, modelName string, dims int, logger *slog.Logger) (*GenAIProvider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("embedding: api key is required")
	}
	if modelName == "" {
		modelName = DefaultModel
	}
	if dims <= 0 {
		dims = DefaultDimensions
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: apiKey})
	if err != nil {
		return nil, fmt.Errorf("embedding: create client: %w", err)
	}
	return &GenAIProvider{client: client, model: modelName, dims: dims, logger: logger}, nil
}

// Model returns the configured model name.
func (p *GenAIProvider) Model() string { return p.model }

// Dimensions returns the embedding vector size.
func (p *GenAIProvider) Dimensions() int { return p.dims }

// Embed generates one query-side embedding.
func (p *GenAIProvider) Embed(ctx context.Context, text string) (pgvector.Vector, error) {
	vecs, err := p.embed(ctx, []string{text}, "RETRIEVAL_QUERY")
	if err != nil {
		return pgvector.Vector{}, err
	}
	return vecs[0], nil
}

// EmbedBatch generates document-side embeddings in one API call.
func (p *GenAIProvider) EmbedBatch(ctx context.Context, texts []string) ([]pgvector.Vector, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	return p.embed(ctx, texts, "RETRIEVAL_DOCUMENT")
}

func (p *GenAIProvider) embed(ctx context.Context, texts []string, task string) ([]pgvector.Vector, error) {
	contents := make([]*genai.Content, len(texts))
	for i, text := range texts {
		contents[i] = genai.NewContentFromText(text, genai.RoleUser)
	}

	result, err := p.client.Models.EmbedContent(ctx, p.model, contents, &genai.EmbedContentConfig{
		TaskType: task,
	})
	if err != nil {
		return nil, model.WrapError(model.ProviderErrorKind(err), "embedding: embed content", err)
	}
	if len(result.Embeddings) != len(texts) {
		return nil, model.Errorf(model.KindInternal,
			"embedding: got %d embeddings for %d inputs", len(result.Embeddings), len(texts))
	}

	vecs := make([]pgvector.Vector, len(texts))
	for i, emb := range result.Embeddings {
		got := 0
		if emb != nil {
			got = len(emb.Values)
		}
		if got != p.dims {
			return nil, model.Errorf(model.KindInternal,
				"embedding: vector %d has dimension %d, want %d", i, got, p.dims)
		}
		vecs[i] = pgvector.NewVector(normalizeL2(emb.Values))
	}
	p.logger.Debug("generated embeddings", "model", p.model, "task", task, "count", len(texts))
	return vecs, nil
}

// normalizeL2 scales v to unit length in place. Consumers fuse cosine
// scores across providers, so vectors must be unit-norm regardless of
// what the API returns; a zero vector passes through unchanged.
func normalizeL2(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return v
	}
	inv := 1 / math.Sqrt(sum)
	for i := range v {
		v[i] = float32(float64(v[i]) * inv)
	}
	return v
}
