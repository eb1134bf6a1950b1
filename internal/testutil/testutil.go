// Package testutil provides deterministic fakes for the engine's provider
// boundaries: an offline embedder with usable geometry, a vector index
// with failure injection, and a scripted generator that counts its calls.
// Tests assemble real internal components around these fakes so pipeline
// behaviour is exercised end to end without network access.
package testutil

import (
	"context"
	"hash/fnv"
	"log/slog"
	"math"
	"os"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/pgvector/pgvector-go"

	"github.com/ashita-ai/kioku/internal/vector"
)

var tokenRe = regexp.MustCompile(`[a-z0-9]+`)

// HashEmbedder embeds text as the L2-normalised sum of per-token feature
// vectors. Each token seeds a small generator that fills a pseudo-random
// vector, so texts sharing tokens land proportionally close while
// unrelated texts stay near-orthogonal. Deterministic across runs.
type HashEmbedder struct {
	Dims int

	// Err, when set, is returned by every call. Used to exercise the
	// degraded dense-arm paths.
	Err error

	// Calls counts texts embedded, across Embed and EmbedBatch.
	Calls atomic.Int64
}

func (e *HashEmbedder) Embed(_ context.Context, text string) (pgvector.Vector, error) {
	if e.Err != nil {
		return pgvector.Vector{}, e.Err
	}
	e.Calls.Add(1)
	return e.vec(text), nil
}

func (e *HashEmbedder) EmbedBatch(_ context.Context, texts []string) ([]pgvector.Vector, error) {
	if e.Err != nil {
		return nil, e.Err
	}
	e.Calls.Add(int64(len(texts)))
	out := make([]pgvector.Vector, len(texts))
	for i, t := range texts {
		out[i] = e.vec(t)
	}
	return out, nil
}

func (e *HashEmbedder) Dimensions() int { return e.Dims }

func (e *HashEmbedder) vec(text string) pgvector.Vector {
	acc := make([]float64, e.Dims)
	for _, tok := range tokenRe.FindAllString(strings.ToLower(text), -1) {
		h := fnv.New64a()
		_, _ = h.Write([]byte(tok))
		x := h.Sum64()
		for i := range acc {
			x = x*6364136223846793005 + 1442695040888963407
			acc[i] += float64(int32(x>>33)) / float64(math.MaxInt32)
		}
	}

	var norm float64
	for _, v := range acc {
		norm += v * v
	}
	out := make([]float32, e.Dims)
	if norm > 0 {
		norm = math.Sqrt(norm)
		for i, v := range acc {
			out[i] = float32(v / norm)
		}
	}
	return pgvector.NewVector(out)
}

// FlakyIndex is a MemoryIndex with per-operation failure injection.
type FlakyIndex struct {
	*vector.MemoryIndex

	QueryErr   error
	UpsertErr  error
	HealthyErr error

	QueryCalls atomic.Int64
}

func NewFlakyIndex() *FlakyIndex {
	return &FlakyIndex{MemoryIndex: vector.NewMemoryIndex()}
}

func (f *FlakyIndex) Query(ctx context.Context, embedding []float32, topK int, filter vector.Filter) ([]vector.Hit, error) {
	f.QueryCalls.Add(1)
	if f.QueryErr != nil {
		return nil, f.QueryErr
	}
	return f.MemoryIndex.Query(ctx, embedding, topK, filter)
}

func (f *FlakyIndex) Upsert(ctx context.Context, points []vector.Point) error {
	if f.UpsertErr != nil {
		return f.UpsertErr
	}
	return f.MemoryIndex.Upsert(ctx, points)
}

func (f *FlakyIndex) Healthy(ctx context.Context) error {
	if f.HealthyErr != nil {
		return f.HealthyErr
	}
	return f.MemoryIndex.Healthy(ctx)
}

// ScriptedGenerator returns a fixed answer (or error) and records every
// prompt. The call counter backs the no-generation invariants: refusals
// and exact-id lookups must never reach the generative provider.
type ScriptedGenerator struct {
	Answer string
	Err    error

	Calls atomic.Int64

	mu      sync.Mutex
	prompts []string
}

func (g *ScriptedGenerator) Generate(_ context.Context, prompt string) (string, error) {
	g.Calls.Add(1)
	g.mu.Lock()
	g.prompts = append(g.prompts, prompt)
	g.mu.Unlock()
	if g.Err != nil {
		return "", g.Err
	}
	return g.Answer, nil
}

// Prompts returns a copy of every prompt seen so far.
func (g *ScriptedGenerator) Prompts() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.prompts...)
}

// LastPrompt returns the most recent prompt, or "".
func (g *ScriptedGenerator) LastPrompt() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.prompts) == 0 {
		return ""
	}
	return g.prompts[len(g.prompts)-1]
}

// TestLogger returns a logger configured for test output (warns only).
func TestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}
