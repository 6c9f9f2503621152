package repository

import (
	"context"
	"testing"
	"time"

	"AlphaBlend/internal/domain/models"
	"AlphaBlend/pkg/cache"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCacheStateStore_SaveLoad(t *testing.T) {
	mc := cache.NewMemoryCache()
	defer mc.Close()
	store := NewCacheStateStore(mc, 0)
	ctx := context.Background()

	st, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Nil(t, st, "no snapshot yet")

	at := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	in := &models.MetaAllocatorState{
		Weights: map[string]map[string]float64{"BTCUSDT": {"trend": 0.6, "carry": 0.4}},
		Performance: map[string]models.PodPerformance{
			"trend": {TotalPnL: 12.5, TradeCount: 4},
		},
		Returns:       map[string][]float64{"trend": {0.1, -0.05}},
		LastUpdate:    at,
		LastRebalance: at,
	}
	require.NoError(t, store.Save(ctx, in))

	out, err := store.Load(ctx)
	require.NoError(t, err)
	require.NotNil(t, out)
	assert.Equal(t, in.Weights, out.Weights)
	assert.Equal(t, in.Returns, out.Returns)
	assert.InDelta(t, 12.5, out.Performance["trend"].TotalPnL, 1e-12)
	assert.True(t, at.Equal(out.LastRebalance))

	ok, err := mc.Exists(ctx, allocatorLockKey)
	require.NoError(t, err)
	assert.False(t, ok, "lock released after save")
}

func TestCacheStateStore_SkipsWhenLocked(t *testing.T) {
	mc := cache.NewMemoryCache()
	defer mc.Close()
	store := NewCacheStateStore(mc, 0)
	ctx := context.Background()

	held, err := mc.TryLock(ctx, allocatorLockKey, time.Minute)
	require.NoError(t, err)
	require.True(t, held)

	require.NoError(t, store.Save(ctx, &models.MetaAllocatorState{}))
	st, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Nil(t, st)
}
