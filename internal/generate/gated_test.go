package generate

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/kioku/internal/model"
	"github.com/ashita-ai/kioku/internal/ratelimit"
	"github.com/ashita-ai/kioku/internal/testutil"
)

func TestGatedGeneratorPassesThroughWithinBudget(t *testing.T) {
	inner := &testutil.ScriptedGenerator{Answer: "restart the webhook consumer"}
	gated := NewGated(inner, ratelimit.NewGate(100, 2, 1))

	answer, err := gated.Generate(context.Background(), "prompt")
	require.NoError(t, err)
	assert.Equal(t, "restart the webhook consumer", answer)
	assert.EqualValues(t, 1, inner.Calls.Load())
}

func TestGatedGeneratorRejectionNeverReachesModel(t *testing.T) {
	inner := &testutil.ScriptedGenerator{Answer: "ok"}
	gated := NewGated(inner, ratelimit.NewGate(0.1, 1, 0))
	ctx := context.Background()

	_, err := gated.Generate(ctx, "first spends the only token")
	require.NoError(t, err)

	_, err = gated.Generate(ctx, "second must shed")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ratelimit.ErrLimited))
	assert.Equal(t, model.KindRateLimited, model.KindOf(err))
	assert.EqualValues(t, 1, inner.Calls.Load(), "a shed call must not reach the model")
}
