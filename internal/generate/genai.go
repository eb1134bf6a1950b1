package generate

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"google.golang.org/genai"

	"github.com/ashita-ai/kioku/internal/model"
)

// DefaultGenerationModel is the Gemini chat model answers come from.
const DefaultGenerationModel = "gemini-2.0-flash"

// DefaultMaxOutputTokens bounds answer length. Complex analyses need more
// room than one-sentence fixes; the cap covers both.
const DefaultMaxOutputTokens = 1024

// Generation parameters are fixed, not configurable: low temperature keeps
// answers anchored to the supplied context.
const (
	genTemperature = 0.2
	genTopP        = 0.8
	genTopK        = 40
)

// GenAIGenerator produces answers through the Gemini API.
type GenAIGenerator struct {
	client    *genai.Client
	model     string
	maxTokens int32
	logger    *slog.Logger
}

// NewGenAIGenerator creates a Gemini-backed generator.
func NewGenAIGenerator(ctx context.Context, apiKey, modelName string, maxTokens int, logger *slog.Logger) (*GenAIGenerator, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("generate: api key is required")
	}
	if modelName == "" {
		modelName = DefaultGenerationModel
	}
	if maxTokens <= 0 {
		maxTokens = DefaultMaxOutputTokens
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: apiKey})
	if err != nil {
		return nil, fmt.Errorf("generate: create client: %w", err)
	}
	return &GenAIGenerator{
		client:    client,
		model:     modelName,
		maxTokens: int32(maxTokens), //nolint:gosec // bounded by config validation
		logger:    logger,
	}, nil
}

// Model returns the configured model name.
func (g *GenAIGenerator) Model() string { return g.model }

// Generate sends the rendered prompt and returns the model's text.
func (g *GenAIGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	contents := []*genai.Content{{
		Parts: []*genai.Part{{Text: prompt}},
		Role:  "user",
	}}
	config := &genai.GenerateContentConfig{
		Temperature:     genai.Ptr(float32(genTemperature)),
		TopP:            genai.Ptr(float32(genTopP)),
		TopK:            genai.Ptr(float32(genTopK)),
		MaxOutputTokens: g.maxTokens,
	}

	resp, err := g.client.Models.GenerateContent(ctx, g.model, contents, config)
	if err != nil {
		return "", model.WrapError(model.ProviderErrorKind(err), "generate: generate content", err)
	}

	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", model.NewError(model.KindUnavailable, "generate: empty response from model")
	}
	g.logger.Debug("generated answer",
		"model", g.model,
		"prompt_chars", len(prompt),
		"answer_chars", len(text),
	)
	return text, nil
}
