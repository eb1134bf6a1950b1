package embedding

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pgvector/pgvector-go"
	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/blake2b"
	"golang.org/x/sync/singleflight"
)

// DefaultCacheTTL keeps vectors warm for an hour. Embeddings for a given
// (model, text) pair are immutable, so the TTL only bounds memory, not
// staleness.
const DefaultCacheTTL = time.Hour

// CacheStore persists cached vectors under opaque keys.
type CacheStore interface {
	Get(ctx context.Context, key string) ([]float32, bool, error)
	Set(ctx context.Context, key string, vec []float32, ttl time.Duration) error
	Close() error
}

// CacheStats counts cache traffic since startup.
type CacheStats struct {
	Hits   int64 `json:"hits"`
	Misses int64 `json:"misses"`
}

// Cache wraps a Provider with a content-addressed vector cache. A hit
// never touches the network. Concurrent misses for the same key collapse
// into a single provider call via singleflight. Store failures degrade to
// pass-through with a warning; they never fail an embed.
type Cache struct {
	provider Provider
	store    CacheStore
	scope    string
	ttl      time.Duration
	group    singleflight.Group
	logger   *slog.Logger

	hits   atomic.Int64
	misses atomic.Int64
}

// NewCache fronts provider with store. scope is the model id; it is baked
// into every key so switching models never serves stale vectors.
func NewCache(provider Provider, store CacheStore, scope string, ttl time.Duration, logger *slog.Logger) *Cache {
	if ttl < DefaultCacheTTL {
		ttl = DefaultCacheTTL
	}
	return &Cache{provider: provider, store: store, scope: scope, ttl: ttl, logger: logger}
}

// Dimensions returns the wrapped provider's vector size.
func (c *Cache) Dimensions() int { return c.provider.Dimensions() }

// Stats returns hit and miss counts.
func (c *Cache) Stats() CacheStats {
	return CacheStats{Hits: c.hits.Load(), Misses: c.misses.Load()}
}

// Close releases the backing store.
func (c *Cache) Close() error { return c.store.Close() }

// Embed returns the cached query vector or embeds and caches it.
func (c *Cache) Embed(ctx context.Context, text string) (pgvector.Vector, error) {
	key := cacheKey(c.scope, "q", text)
	if vec, ok := c.lookup(ctx, key); ok {
		return pgvector.NewVector(vec), nil
	}

	v, err, _ := c.group.Do(key, func() (any, error) {
		// A sibling flight may have populated the store between our miss
		// and acquiring the flight.
		if vec, ok := c.lookup(ctx, key); ok {
			return vec, nil
		}
		c.misses.Add(1)
		got, err := c.provider.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		vec := got.Slice()
		c.put(ctx, key, vec)
		return vec, nil
	})
	if err != nil {
		return pgvector.Vector{}, err
	}
	return pgvector.NewVector(v.([]float32)), nil
}

// EmbedBatch returns cached document vectors where present and embeds the
// rest in one provider call.
func (c *Cache) EmbedBatch(ctx context.Context, texts []string) ([]pgvector.Vector, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	vecs := make([]pgvector.Vector, len(texts))
	keys := make([]string, len(texts))
	var missIdx []int
	for i, text := range texts {
		keys[i] = cacheKey(c.scope, "d", text)
		if vec, ok := c.lookup(ctx, keys[i]); ok {
			vecs[i] = pgvector.NewVector(vec)
			continue
		}
		missIdx = append(missIdx, i)
	}
	if len(missIdx) == 0 {
		return vecs, nil
	}
	c.misses.Add(int64(len(missIdx)))

	missTexts := make([]string, len(missIdx))
	for j, i := range missIdx {
		missTexts[j] = texts[i]
	}
	fresh, err := c.provider.EmbedBatch(ctx, missTexts)
	if err != nil {
		return nil, err
	}
	if len(fresh) != len(missIdx) {
		return nil, fmt.Errorf("embedding: provider returned %d vectors for %d misses", len(fresh), len(missIdx))
	}
	for j, i := range missIdx {
		vecs[i] = fresh[j]
		c.put(ctx, keys[i], fresh[j].Slice())
	}
	return vecs, nil
}

func (c *Cache) lookup(ctx context.Context, key string) ([]float32, bool) {
	vec, ok, err := c.store.Get(ctx, key)
	if err != nil {
		c.logger.Warn("embedding cache read failed", "error", err)
		return nil, false
	}
	if ok {
		c.hits.Add(1)
	}
	return vec, ok
}

func (c *Cache) put(ctx context.Context, key string, vec []float32) {
	if err := c.store.Set(ctx, key, vec, c.ttl); err != nil {
		c.logger.Warn("embedding cache write failed", "error", err)
	}
}

// cacheKey derives the content address. The scope (model id) and side
// (query vs document task type) are hashed with the whitespace-normalised
// text; the two sides embed differently and must never share an entry.
func cacheKey(scope, side, text string) string {
	normalised := strings.Join(strings.Fields(text), " ")
	sum := blake2b.Sum256([]byte(scope + "\x00" + side + "\x00" + normalised))
	return "embedding:" + hex.EncodeToString(sum[:])
}

// MemoryCacheStore is the default in-process backend: a TTL map swept by
// a background janitor.
type MemoryCacheStore struct {
	mu      sync.RWMutex
	entries map[string]memoryCacheEntry

	stop chan struct{}
	wg   sync.WaitGroup
	once sync.Once
}

type memoryCacheEntry struct {
	vec       []float32
	expiresAt time.Time
}

// NewMemoryCacheStore creates the store and starts its sweep goroutine.
func NewMemoryCacheStore() *MemoryCacheStore {
	s := &MemoryCacheStore{
		entries: make(map[string]memoryCacheEntry),
		stop:    make(chan struct{}),
	}
	s.wg.Add(1)
	go s.sweepLoop()
	return s
}

func (s *MemoryCacheStore) sweepLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.sweep(time.Now())
		case <-s.stop:
			return
		}
	}
}

func (s *MemoryCacheStore) sweep(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, e := range s.entries {
		if now.After(e.expiresAt) {
			delete(s.entries, key)
		}
	}
}

// Get returns a copy of the cached vector, expiring lazily.
func (s *MemoryCacheStore) Get(_ context.Context, key string) ([]float32, bool, error) {
	s.mu.RLock()
	e, ok := s.entries[key]
	s.mu.RUnlock()
	if !ok || time.Now().After(e.expiresAt) {
		return nil, false, nil
	}
	out := make([]float32, len(e.vec))
	copy(out, e.vec)
	return out, true, nil
}

// Set stores a copy of vec under key.
func (s *MemoryCacheStore) Set(_ context.Context, key string, vec []float32, ttl time.Duration) error {
	cp := make([]float32, len(vec))
	copy(cp, vec)
	s.mu.Lock()
	s.entries[key] = memoryCacheEntry{vec: cp, expiresAt: time.Now().Add(ttl)}
	s.mu.Unlock()
	return nil
}

// Close stops the sweep goroutine.
func (s *MemoryCacheStore) Close() error {
	s.once.Do(func() { close(s.stop) })
	s.wg.Wait()
	return nil
}

// Len reports live entries, for stats and tests.
func (s *MemoryCacheStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// RedisCacheStore shares cached vectors across replicas. Vectors are
// stored as JSON arrays, which keeps entries inspectable with redis-cli.
type RedisCacheStore struct {
	rdb *redis.Client
}

// NewRedisCacheStore connects to the redis instance at url
// (redis://host:port/db form).
func NewRedisCacheStore(url string) (*RedisCacheStore, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("embedding: parse redis url: %w", err)
	}
	return &RedisCacheStore{rdb: redis.NewClient(opt)}, nil
}

// NewRedisCacheStoreFromClient wraps an existing client; tests use this
// with miniredis.
func NewRedisCacheStoreFromClient(rdb *redis.Client) *RedisCacheStore {
	return &RedisCacheStore{rdb: rdb}
}

// Get fetches and decodes the vector at key.
func (s *RedisCacheStore) Get(ctx context.Context, key string) ([]float32, bool, error) {
	raw, err := s.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("embedding: redis get: %w", err)
	}
	var vec []float32
	if err := json.Unmarshal(raw, &vec); err != nil {
		return nil, false, fmt.Errorf("embedding: decode cached vector: %w", err)
	}
	return vec, true, nil
}

// Set stores vec at key with the given TTL.
func (s *RedisCacheStore) Set(ctx context.Context, key string, vec []float32, ttl time.Duration) error {
	raw, err := json.Marshal(vec)
	if err != nil {
		return fmt.Errorf("embedding: encode vector: %w", err)
	}
	if err := s.rdb.Set(ctx, key, raw, ttl).Err(); err != nil {
		return fmt.Errorf("embedding: redis set: %w", err)
	}
	return nil
}

// Close releases the client.
func (s *RedisCacheStore) Close() error { return s.rdb.Close() }

// Ping verifies connectivity, for health checks.
func (s *RedisCacheStore) Ping(ctx context.Context) error {
	if err := s.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("embedding: redis ping: %w", err)
	}
	return nil
}
