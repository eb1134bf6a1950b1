package embedding

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/kioku/internal/model"
	"github.com/ashita-ai/kioku/internal/ratelimit"
)

func TestGatedPassesThroughWithinBudget(t *testing.T) {
	provider := &countingProvider{dims: 8}
	gated := NewGated(provider, ratelimit.NewGate(100, 5, 2))
	ctx := context.Background()

	vec, err := gated.Embed(ctx, "upi timeout on checkout")
	require.NoError(t, err)
	assert.Len(t, vec.Slice(), 8)
	assert.Equal(t, 8, gated.Dimensions())
	assert.EqualValues(t, 1, provider.calls.Load())
}

func TestGatedRejectionNeverReachesProvider(t *testing.T) {
	provider := &countingProvider{dims: 8}
	// Burst 1 with no backlog: the second call sheds instead of queueing.
	gated := NewGated(provider, ratelimit.NewGate(0.1, 1, 0))
	ctx := context.Background()

	_, err := gated.Embed(ctx, "first spends the only token")
	require.NoError(t, err)

	_, err = gated.Embed(ctx, "second must shed")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ratelimit.ErrLimited))
	assert.Equal(t, model.KindRateLimited, model.KindOf(err))
	assert.EqualValues(t, 1, provider.calls.Load(), "a shed call must not reach the provider")
}

func TestGatedBatchSpendsOneToken(t *testing.T) {
	provider := &countingProvider{dims: 8}
	gated := NewGated(provider, ratelimit.NewGate(0.1, 1, 0))
	ctx := context.Background()

	vecs, err := gated.EmbedBatch(ctx, []string{"a", "b", "c"})
	require.NoError(t, err)
	assert.Len(t, vecs, 3)

	_, err = gated.Embed(ctx, "token already spent by the batch")
	assert.Equal(t, model.KindRateLimited, model.KindOf(err))
}

func TestGatedEmptyBatchSkipsGate(t *testing.T) {
	provider := &countingProvider{dims: 8}
	gated := NewGated(provider, ratelimit.NewGate(0.1, 1, 0))
	ctx := context.Background()

	vecs, err := gated.EmbedBatch(ctx, nil)
	require.NoError(t, err)
	assert.Nil(t, vecs)

	// The no-op batch spent nothing, so the single token is still there.
	_, err = gated.Embed(ctx, "still within budget")
	require.NoError(t, err)
}
