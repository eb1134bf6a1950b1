package embedding

import (
	"context"
	"errors"
	"hash/fnv"
	"io"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/pgvector/pgvector-go"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// countingProvider returns deterministic unit vectors derived from the
// text and counts provider traffic.
type countingProvider struct {
	dims    int
	calls   atomic.Int64
	release chan struct{} // when non-nil, Embed blocks until closed
}

func hashVec(text string, dims int) []float32 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(text))
	seed := h.Sum64()
	vec := make([]float32, dims)
	var norm float64
	for i := range vec {
		seed = seed*6364136223846793005 + 1442695040888963407
		vec[i] = float32(int64(seed>>33)) / float32(math.MaxInt32)
		norm += float64(vec[i]) * float64(vec[i])
	}
	inv := 1 / math.Sqrt(norm)
	for i := range vec {
		vec[i] = float32(float64(vec[i]) * inv)
	}
	return vec
}

func (p *countingProvider) Embed(_ context.Context, text string) (pgvector.Vector, error) {
	if p.release != nil {
		<-p.release
	}
	p.calls.Add(1)
	return pgvector.NewVector(hashVec("q:"+text, p.dims)), nil
}

func (p *countingProvider) EmbedBatch(_ context.Context, texts []string) ([]pgvector.Vector, error) {
	p.calls.Add(1)
	vecs := make([]pgvector.Vector, len(texts))
	for i, text := range texts {
		vecs[i] = pgvector.NewVector(hashVec("d:"+text, p.dims))
	}
	return vecs, nil
}

func (p *countingProvider) Dimensions() int { return p.dims }

func newTestCache(t *testing.T, p Provider) *Cache {
	t.Helper()
	store := NewMemoryCacheStore()
	t.Cleanup(func() { _ = store.Close() })
	return NewCache(p, store, "test-model", time.Hour, discardLogger())
}

func TestCacheHitSkipsProvider(t *testing.T) {
	provider := &countingProvider{dims: 8}
	cache := newTestCache(t, provider)
	ctx := context.Background()

	first, err := cache.Embed(ctx, "upi timeout on checkout")
	require.NoError(t, err)
	assert.EqualValues(t, 1, provider.calls.Load())

	second, err := cache.Embed(ctx, "upi timeout on checkout")
	require.NoError(t, err)
	assert.EqualValues(t, 1, provider.calls.Load(), "second embed must be served from cache")
	assert.Equal(t, first.Slice(), second.Slice())

	st := cache.Stats()
	assert.EqualValues(t, 1, st.Hits)
	assert.EqualValues(t, 1, st.Misses)
}

func TestCacheNormalisesWhitespaceInKey(t *testing.T) {
	provider := &countingProvider{dims: 8}
	cache := newTestCache(t, provider)
	ctx := context.Background()

	_, err := cache.Embed(ctx, "upi   timeout\n on checkout")
	require.NoError(t, err)
	_, err = cache.Embed(ctx, "upi timeout on checkout")
	require.NoError(t, err)
	assert.EqualValues(t, 1, provider.calls.Load())
}

func TestCacheQueryAndDocumentSidesDoNotCollide(t *testing.T) {
	provider := &countingProvider{dims: 8}
	cache := newTestCache(t, provider)
	ctx := context.Background()

	q, err := cache.Embed(ctx, "wallet debit stuck")
	require.NoError(t, err)
	docs, err := cache.EmbedBatch(ctx, []string{"wallet debit stuck"})
	require.NoError(t, err)

	assert.EqualValues(t, 2, provider.calls.Load())
	assert.NotEqual(t, q.Slice(), docs[0].Slice())
}

func TestCacheSingleflightCollapsesConcurrentMisses(t *testing.T) {
	provider := &countingProvider{dims: 8, release: make(chan struct{})}
	cache := newTestCache(t, provider)

	const workers = 10
	var wg sync.WaitGroup
	errs := make([]error, workers)
	for i := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = cache.Embed(context.Background(), "same query text")
		}()
	}
	time.Sleep(50 * time.Millisecond) // let every worker reach the flight
	close(provider.release)
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}
	assert.EqualValues(t, 1, provider.calls.Load())
}

func TestCacheBatchEmbedsOnlyMisses(t *testing.T) {
	provider := &countingProvider{dims: 8}
	cache := newTestCache(t, provider)
	ctx := context.Background()

	_, err := cache.EmbedBatch(ctx, []string{"doc one"})
	require.NoError(t, err)
	require.EqualValues(t, 1, provider.calls.Load())

	vecs, err := cache.EmbedBatch(ctx, []string{"doc one", "doc two"})
	require.NoError(t, err)
	require.Len(t, vecs, 2)
	assert.EqualValues(t, 2, provider.calls.Load(), "one more call for the single miss")

	again, err := cache.EmbedBatch(ctx, []string{"doc one", "doc two"})
	require.NoError(t, err)
	assert.EqualValues(t, 2, provider.calls.Load())
	assert.Equal(t, vecs[1].Slice(), again[1].Slice())
}

type brokenStore struct{}

func (brokenStore) Get(context.Context, string) ([]float32, bool, error) {
	return nil, false, errors.New("store down")
}
func (brokenStore) Set(context.Context, string, []float32, time.Duration) error {
	return errors.New("store down")
}
func (brokenStore) Close() error { return nil }

func TestCacheStoreFailureDegradesToPassThrough(t *testing.T) {
	provider := &countingProvider{dims: 8}
	cache := NewCache(provider, brokenStore{}, "test-model", time.Hour, discardLogger())
	ctx := context.Background()

	_, err := cache.Embed(ctx, "query")
	require.NoError(t, err)
	_, err = cache.Embed(ctx, "query")
	require.NoError(t, err)
	assert.EqualValues(t, 2, provider.calls.Load())
}

func TestMemoryCacheStoreExpiry(t *testing.T) {
	store := NewMemoryCacheStore()
	defer func() { _ = store.Close() }()
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "k", []float32{1, 2}, time.Millisecond))
	time.Sleep(5 * time.Millisecond)
	_, ok, err := store.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.Set(ctx, "k2", []float32{3}, time.Hour))
	vec, ok, err := store.Get(ctx, "k2")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []float32{3}, vec)
	assert.Equal(t, 2, store.Len())

	store.sweep(time.Now())
	assert.Equal(t, 1, store.Len())
}

func TestRedisCacheStoreRoundTrip(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := NewRedisCacheStoreFromClient(rdb)
	defer func() { _ = store.Close() }()
	ctx := context.Background()

	_, ok, err := store.Get(ctx, "embedding:missing")
	require.NoError(t, err)
	assert.False(t, ok)

	want := []float32{0.25, -0.5, 1}
	require.NoError(t, store.Set(ctx, "embedding:abc", want, time.Hour))

	got, ok, err := store.Get(ctx, "embedding:abc")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, want, got)

	mr.FastForward(2 * time.Hour)
	_, ok, err = store.Get(ctx, "embedding:abc")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestNewRedisCacheStoreBadURL(t *testing.T) {
	_, err := NewRedisCacheStore("://nope")
	require.Error(t, err)
}

func TestCacheKeyScoping(t *testing.T) {
	a := cacheKey("model-a", "q", "text")
	b := cacheKey("model-b", "q", "text")
	c := cacheKey("model-a", "d", "text")
	assert.NotEqual(t, a, b)
	assert.NotEqual(t, a, c)
	assert.True(t, len(a) > len("embedding:"))
	assert.Contains(t, a, "embedding:")
}

func TestNoopProvider(t *testing.T) {
	p := NewNoopProvider(4)
	assert.Equal(t, 4, p.Dimensions())

	vec, err := p.Embed(context.Background(), "anything")
	require.NoError(t, err)
	assert.Equal(t, []float32{0, 0, 0, 0}, vec.Slice())

	vecs, err := p.EmbedBatch(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	require.Len(t, vecs, 2)
}

func TestNormalizeL2(t *testing.T) {
	vec := normalizeL2([]float32{3, 4})
	assert.InDelta(t, 0.6, float64(vec[0]), 1e-6)
	assert.InDelta(t, 0.8, float64(vec[1]), 1e-6)

	zero := normalizeL2([]float32{0, 0})
	assert.Equal(t, []float32{0, 0}, zero)
}
