package ratelimit

import (
	"context"
	"testing"
	"time"

	"aegis/internal/statestore"

	"github.com/stretchr/testify/assert"
)

func TestPostLimiter_ConsumeWithinBudget(t *testing.T) {
	p := NewPostLimiter(statestore.NewMemoryStore())
	ctx := context.Background()

	for i := 0; i < DefaultCategoryBudgets[CategoryStats]; i++ {
		assert.True(t, p.Consume(ctx, CategoryStats))
	}
	assert.False(t, p.Consume(ctx, CategoryStats), "category budget exhausted")
}

func TestPostLimiter_EmergencyBypassesCategoryBudget(t *testing.T) {
	p := NewPostLimiter(statestore.NewMemoryStore())
	ctx := context.Background()

	for i := 0; i < DefaultCategoryBudgets[CategoryStats]; i++ {
		p.Consume(ctx, CategoryStats)
	}
	assert.True(t, p.Consume(ctx, CategoryEmergency), "emergency posts must never be blocked by a category budget")
}

func TestPostLimiter_TotalCapBlocksEvenUnexhaustedCategory(t *testing.T) {
	p := NewPostLimiter(statestore.NewMemoryStore())
	p.totalCap = 2
	ctx := context.Background()

	assert.True(t, p.Consume(ctx, CategoryHealth))
	assert.True(t, p.Consume(ctx, CategoryHealth))
	assert.False(t, p.Consume(ctx, CategoryStats), "total monthly cap reached, even in an unexhausted category")
}

func TestPostLimiter_UnknownCategoryRejected(t *testing.T) {
	p := NewPostLimiter(statestore.NewMemoryStore())
	assert.False(t, p.Consume(context.Background(), PostCategory("unknown")))
}

func TestPostLimiter_MonthlyRolloverResetsIdempotently(t *testing.T) {
	p := NewPostLimiter(statestore.NewMemoryStore())
	ctx := context.Background()

	january := time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC)
	p.now = func() time.Time { return january }
	p.Consume(ctx, CategoryHealth)
	p.Consume(ctx, CategoryHealth)

	february := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	p.now = func() time.Time { return february }

	state := p.load(ctx)
	assert.Equal(t, 0, state.Used[CategoryHealth], "usage must reset on calendar rollover")

	// A second load in the same new month must be a no-op, not a second
	// reset that wipes usage just recorded in February.
	p.Consume(ctx, CategoryHealth)
	state = p.load(ctx)
	assert.Equal(t, 1, state.Used[CategoryHealth])
}

func TestPostLimiter_Allow_DoesNotMutateState(t *testing.T) {
	p := NewPostLimiter(statestore.NewMemoryStore())
	ctx := context.Background()

	assert.True(t, p.Allow(ctx, CategoryProof))
	assert.True(t, p.Allow(ctx, CategoryProof), "Allow must not consume budget")
	state := p.load(ctx)
	assert.Equal(t, 0, state.Used[CategoryProof])
}
