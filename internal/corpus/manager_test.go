package corpus

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pgvector/pgvector-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/kioku/internal/model"
	"github.com/ashita-ai/kioku/internal/sparse"
	"github.com/ashita-ai/kioku/internal/vector"
)

// countingEmbedder returns deterministic vectors and counts how many
// texts it was asked to embed.
type countingEmbedder struct {
	dims  int
	texts atomic.Int64
}

func (e *countingEmbedder) vec(text string) pgvector.Vector {
	v := make([]float32, e.dims)
	v[0] = 1
	v[1] = float32(len(text)%7) / 7
	return pgvector.NewVector(v)
}

func (e *countingEmbedder) Embed(_ context.Context, text string) (pgvector.Vector, error) {
	e.texts.Add(1)
	return e.vec(text), nil
}

func (e *countingEmbedder) EmbedBatch(_ context.Context, texts []string) ([]pgvector.Vector, error) {
	e.texts.Add(int64(len(texts)))
	out := make([]pgvector.Vector, len(texts))
	for i, t := range texts {
		out[i] = e.vec(t)
	}
	return out, nil
}

func (e *countingEmbedder) Dimensions() int { return e.dims }

type managerFixture struct {
	manager  *Manager
	store    *MemoryStore
	vectors  *vector.MemoryIndex
	embedder *countingEmbedder
}

func newManagerFixture(t *testing.T) *managerFixture {
	t.Helper()
	f := &managerFixture{
		store:    NewMemoryStore(),
		vectors:  vector.NewMemoryIndex(),
		embedder: &countingEmbedder{dims: 4},
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	f.manager = NewManager(f.store, f.vectors, sparse.NewIndex(), f.embedder, logger)
	return f
}

func testIncident(id string) *model.Incident {
	return &model.Incident{
		ID:          id,
		Title:       "UPI payment timeout at checkout",
		Description: "Payments through the UPI collector time out after the bank-side switch flips to the backup region.",
		Resolution:  "Restart the UPI collector and replay the stuck callbacks.",
		Tags:        []string{"upi", "timeout"},
		CreatedAt:   time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
		ResolvedBy:  "oncall@example.com",
	}
}

func TestAddPublishesEverywhere(t *testing.T) {
	f := newManagerFixture(t)
	ctx := context.Background()

	require.NoError(t, f.manager.Add(ctx, testIncident("JSP-1001")))

	got, err := f.manager.Get(ctx, "JSP-1001")
	require.NoError(t, err)
	require.NotNil(t, got.Embedding, "embedding is persisted with the record")

	assert.True(t, f.manager.Snapshot().Has("JSP-1001"))
	n, err := f.vectors.Count(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	ids, err := f.manager.AllIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"JSP-1001"}, ids)

	assert.EqualValues(t, 1, f.embedder.texts.Load())
}

func TestAddRejectsDuplicateID(t *testing.T) {
	f := newManagerFixture(t)
	ctx := context.Background()

	require.NoError(t, f.manager.Add(ctx, testIncident("JSP-1001")))
	err := f.manager.Add(ctx, testIncident("JSP-1001"))
	require.Error(t, err)
	assert.Equal(t, model.KindInvalidInput, model.KindOf(err))
	assert.EqualValues(t, 1, f.embedder.texts.Load(), "duplicate is rejected before embedding")
}

func TestAddValidatesSchema(t *testing.T) {
	f := newManagerFixture(t)

	bad := testIncident("JSP-1001")
	bad.Resolution = "too short"
	err := f.manager.Add(context.Background(), bad)
	require.Error(t, err)
	assert.Equal(t, model.KindSchema, model.KindOf(err))
}

func TestUpdateKeepsEmbeddingWhenTextUnchanged(t *testing.T) {
	f := newManagerFixture(t)
	ctx := context.Background()

	require.NoError(t, f.manager.Add(ctx, testIncident("JSP-1001")))
	require.EqualValues(t, 1, f.embedder.texts.Load())

	upd := testIncident("JSP-1001")
	upd.Tags = []string{"upi", "timeout", "collector"}
	require.NoError(t, f.manager.Update(ctx, upd))

	assert.EqualValues(t, 1, f.embedder.texts.Load(), "unchanged text must not re-embed")

	got, err := f.manager.Get(ctx, "JSP-1001")
	require.NoError(t, err)
	assert.Len(t, got.Tags, 3)
	assert.NotNil(t, got.Embedding)
}

func TestUpdateReembedsWhenTextChanges(t *testing.T) {
	f := newManagerFixture(t)
	ctx := context.Background()

	require.NoError(t, f.manager.Add(ctx, testIncident("JSP-1001")))

	upd := testIncident("JSP-1001")
	upd.Description = "The UPI collector wedges when the primary bank endpoint flaps; callbacks pile up unacknowledged."
	require.NoError(t, f.manager.Update(ctx, upd))

	assert.EqualValues(t, 2, f.embedder.texts.Load())
}

func TestUpdateMissingIncident(t *testing.T) {
	f := newManagerFixture(t)
	err := f.manager.Update(context.Background(), testIncident("JSP-9999"))
	require.Error(t, err)
	assert.Equal(t, model.KindNotFound, model.KindOf(err))
}

func TestDeleteTombstonesEverywhere(t *testing.T) {
	f := newManagerFixture(t)
	ctx := context.Background()

	require.NoError(t, f.manager.Add(ctx, testIncident("JSP-1001")))
	require.NoError(t, f.manager.Add(ctx, testIncident("JSP-1002")))

	require.NoError(t, f.manager.Delete(ctx, "JSP-1001"))

	n, err := f.manager.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.False(t, f.manager.Snapshot().Has("JSP-1001"))
	assert.True(t, f.manager.Snapshot().Has("JSP-1002"))

	vn, err := f.vectors.Count(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, vn)

	err = f.manager.Delete(ctx, "JSP-1001")
	require.Error(t, err)
	assert.Equal(t, model.KindNotFound, model.KindOf(err))
}

func TestBootstrapRebuildsDerivedState(t *testing.T) {
	f := newManagerFixture(t)
	ctx := context.Background()

	// Seed the store directly, as if a previous process wrote it: two
	// records without embeddings and one with.
	for i := 1; i <= 2; i++ {
		in := testIncident(fmt.Sprintf("JSP-100%d", i))
		require.NoError(t, f.store.Put(ctx, in))
	}
	withVec := testIncident("JSP-1003")
	vec := f.embedder.vec(withVec.TrainingText())
	withVec.Embedding = &vec
	require.NoError(t, f.store.Put(ctx, withVec))

	require.NoError(t, f.manager.Bootstrap(ctx))

	assert.EqualValues(t, 2, f.embedder.texts.Load(), "only records without stored embeddings are embedded")

	snap := f.manager.Snapshot()
	assert.Equal(t, 3, snap.Stats().Docs)
	n, err := f.vectors.Count(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)

	// The fresh embeddings were written back for the next restart.
	got, err := f.store.Get(ctx, "JSP-1001")
	require.NoError(t, err)
	assert.NotNil(t, got.Embedding)
}

func TestBootstrapEmptyStore(t *testing.T) {
	f := newManagerFixture(t)
	require.NoError(t, f.manager.Bootstrap(context.Background()))
	assert.Equal(t, 0, f.manager.Snapshot().Stats().Docs)
}

func TestAuditSweepClean(t *testing.T) {
	f := newManagerFixture(t)
	ctx := context.Background()

	require.NoError(t, f.manager.Add(ctx, testIncident("JSP-1001")))
	require.NoError(t, f.manager.Add(ctx, testIncident("JSP-1002")))

	rep, err := f.manager.AuditSweep(ctx)
	require.NoError(t, err)
	assert.True(t, rep.Clean())
	assert.Equal(t, 2, rep.Incidents)
	assert.EqualValues(t, 2, rep.VectorPoints)
	assert.Equal(t, 2, rep.SparseDocs)
}

func TestAuditSweepDetectsDrift(t *testing.T) {
	f := newManagerFixture(t)
	ctx := context.Background()

	require.NoError(t, f.manager.Add(ctx, testIncident("JSP-1001")))
	require.NoError(t, f.manager.Add(ctx, testIncident("JSP-1002")))

	// Simulate drift behind the manager's back: a vector point lost and a
	// stale document lingering in the sparse snapshot.
	require.NoError(t, f.vectors.Delete(ctx, []string{"JSP-1002"}))
	f.manager.sparse.Patch([]sparse.Document{{ID: "JSP-9999", Text: "stale document"}}, nil)

	rep, err := f.manager.AuditSweep(ctx)
	require.NoError(t, err)
	assert.False(t, rep.Clean())
	assert.Equal(t, []string{"JSP-1002"}, rep.MissingVector)
	assert.Equal(t, []string{"JSP-9999"}, rep.OrphanSparse)
	assert.Empty(t, rep.MissingSparse)
	assert.Empty(t, rep.OrphanVector)
}

func TestHas(t *testing.T) {
	f := newManagerFixture(t)
	ctx := context.Background()

	require.NoError(t, f.manager.Add(ctx, testIncident("JSP-1001")))
	assert.True(t, f.manager.Has(ctx, "JSP-1001"))
	assert.False(t, f.manager.Has(ctx, "JSP-2222"))
}

func TestTagsDistinctSorted(t *testing.T) {
	f := newManagerFixture(t)
	ctx := context.Background()

	a := testIncident("JSP-1001")
	a.Tags = []string{"UPI", "timeout"}
	b := testIncident("JSP-1002")
	b.Tags = []string{"webhook", "timeout", " upi "}
	require.NoError(t, f.manager.Add(ctx, a))
	require.NoError(t, f.manager.Add(ctx, b))

	tags, err := f.manager.Tags(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"timeout", "upi", "webhook"}, tags)
}
