package vector

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/kioku/internal/model"
)

func TestParseQdrantURL(t *testing.T) {
	tests := []struct {
		name    string
		rawURL  string
		host    string
		port    int
		tls     bool
		wantErr bool
	}{
		{
			name:   "https cloud URL with REST port",
			rawURL: "https://xyz.cloud.qdrant.io:6333",
			host:   "xyz.cloud.qdrant.io",
			port:   6334, // REST 6333 → gRPC 6334
			tls:    true,
		},
		{
			name:   "https cloud URL with gRPC port",
			rawURL: "https://xyz.cloud.qdrant.io:6334",
			host:   "xyz.cloud.qdrant.io",
			port:   6334,
			tls:    true,
		},
		{
			name:   "http local URL",
			rawURL: "http://localhost:6333",
			host:   "localhost",
			port:   6334,
			tls:    false,
		},
		{
			name:   "http no port defaults to 6334",
			rawURL: "http://qdrant.internal",
			host:   "qdrant.internal",
			port:   6334,
			tls:    false,
		},
		{
			name:   "custom port preserved",
			rawURL: "https://qdrant.example.com:9334",
			host:   "qdrant.example.com",
			port:   9334,
			tls:    true,
		},
		{
			name:    "empty URL",
			rawURL:  "",
			wantErr: true,
		},
		{
			name:    "no scheme no host",
			rawURL:  "not-a-url",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			host, port, tls, err := parseQdrantURL(tt.rawURL)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.host, host)
			assert.Equal(t, tt.port, port)
			assert.Equal(t, tt.tls, tls)
		})
	}
}

func TestPointIDDeterministic(t *testing.T) {
	a := pointID("JSP-1001")
	b := pointID("JSP-1001")
	c := pointID("JSP-1002")

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)

	parsed, err := uuid.Parse(a)
	require.NoError(t, err)
	assert.EqualValues(t, 5, parsed.Version(), "name-based ids must be UUIDv5")
}

func TestBuildConditions(t *testing.T) {
	assert.Empty(t, buildConditions(Filter{}))
	assert.Len(t, buildConditions(Filter{Tags: []string{"upi"}}), 1)
	assert.Len(t, buildConditions(Filter{Tags: []string{"upi", "wallet"}}), 1)
	assert.Len(t, buildConditions(Filter{Category: "payments"}), 1)
	assert.Len(t, buildConditions(Filter{
		Tags:     []string{"upi"},
		Category: "payments",
		Priority: "high",
	}), 3)
}

func TestToQdrantPayloadWidensStringSlices(t *testing.T) {
	out := toQdrantPayload(map[string]any{
		"id":   "JSP-1001",
		"tags": []string{"upi", "timeout"},
	})

	assert.Equal(t, "JSP-1001", out["id"].GetStringValue())
	list := out["tags"].GetListValue()
	require.NotNil(t, list)
	require.Len(t, list.Values, 2)
	assert.Equal(t, "upi", list.Values[0].GetStringValue())
}

func TestPointFromIncident(t *testing.T) {
	in := &model.Incident{
		ID:          "JSP-1001",
		Title:       "UPI payment timeout",
		Description: strings.Repeat("d", 600),
		Resolution:  "restart the collector",
		Tags:        []string{"upi"},
		CreatedAt:   time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		ResolvedBy:  "oncall@example.com",
	}
	vec := pgvector.NewVector([]float32{0.1, 0.2})

	p := PointFromIncident(in, vec)
	assert.Equal(t, "JSP-1001", p.ID)
	assert.Equal(t, []float32{0.1, 0.2}, p.Vector)
	assert.Equal(t, "JSP-1001", p.Payload["id"])
	assert.Len(t, p.Payload["description"], model.PayloadTextLimit, "payload text is truncated")
}

func seedMemoryIndex(t *testing.T) *MemoryIndex {
	t.Helper()
	idx := NewMemoryIndex()
	err := idx.Upsert(context.Background(), []Point{
		{ID: "JSP-1", Vector: []float32{1, 0}, Payload: map[string]any{"tags": []string{"upi"}, "category": "payments"}},
		{ID: "JSP-2", Vector: []float32{0.9, 0.1}, Payload: map[string]any{"tags": []string{"wallet"}, "category": "payments"}},
		{ID: "JSP-3", Vector: []float32{0, 1}, Payload: map[string]any{"tags": []string{"webhook"}, "category": "integrations"}},
	})
	require.NoError(t, err)
	return idx
}

func TestMemoryIndexQueryRanksByCosine(t *testing.T) {
	idx := seedMemoryIndex(t)

	hits, err := idx.Query(context.Background(), []float32{1, 0}, 10, Filter{})
	require.NoError(t, err)
	require.Len(t, hits, 3)

	assert.Equal(t, "JSP-1", hits[0].ID)
	assert.InDelta(t, 1.0, hits[0].Score, 1e-9)
	assert.Equal(t, "JSP-2", hits[1].ID)
	assert.Equal(t, "JSP-3", hits[2].ID)
	assert.InDelta(t, 0.0, hits[2].Score, 1e-9)
}

func TestMemoryIndexQueryTopK(t *testing.T) {
	idx := seedMemoryIndex(t)

	hits, err := idx.Query(context.Background(), []float32{1, 0}, 2, Filter{})
	require.NoError(t, err)
	assert.Len(t, hits, 2)

	hits, err = idx.Query(context.Background(), []float32{1, 0}, 0, Filter{})
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestMemoryIndexQueryFilters(t *testing.T) {
	idx := seedMemoryIndex(t)
	ctx := context.Background()

	hits, err := idx.Query(ctx, []float32{1, 0}, 10, Filter{Tags: []string{"upi", "webhook"}})
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "JSP-1", hits[0].ID)
	assert.Equal(t, "JSP-3", hits[1].ID)

	hits, err = idx.Query(ctx, []float32{1, 0}, 10, Filter{Category: "integrations"})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "JSP-3", hits[0].ID)

	hits, err = idx.Query(ctx, []float32{1, 0}, 10, Filter{Category: "payments", Tags: []string{"webhook"}})
	require.NoError(t, err)
	assert.Empty(t, hits, "conditions are conjunctive")
}

func TestMemoryIndexUpsertOverwrites(t *testing.T) {
	idx := seedMemoryIndex(t)
	ctx := context.Background()

	err := idx.Upsert(ctx, []Point{{ID: "JSP-3", Vector: []float32{1, 0}, Payload: map[string]any{}}})
	require.NoError(t, err)

	n, err := idx.Count(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)

	hits, err := idx.Query(ctx, []float32{1, 0}, 1, Filter{})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	// JSP-1 and JSP-3 now tie at 1.0; id ascending breaks the tie.
	assert.Equal(t, "JSP-1", hits[0].ID)
}

func TestMemoryIndexDelete(t *testing.T) {
	idx := seedMemoryIndex(t)
	ctx := context.Background()

	require.NoError(t, idx.Delete(ctx, []string{"JSP-2", "missing"}))

	n, err := idx.Count(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)
	assert.Equal(t, []string{"JSP-1", "JSP-3"}, idx.IDs())
}

func TestMemoryIndexSkipsZeroNormVectors(t *testing.T) {
	idx := NewMemoryIndex()
	ctx := context.Background()
	require.NoError(t, idx.Upsert(ctx, []Point{
		{ID: "JSP-1", Vector: []float32{0, 0}, Payload: map[string]any{}},
	}))

	hits, err := idx.Query(ctx, []float32{1, 0}, 10, Filter{})
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestMemoryIndexHealthy(t *testing.T) {
	idx := NewMemoryIndex()
	assert.NoError(t, idx.Healthy(context.Background()))
}
