package pods

import (
	"context"
	"testing"

	"AlphaBlend/internal/domain/models"
	"AlphaBlend/pkg/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func trendConfig() config.TrendConfig {
	return config.TrendConfig{
		Enabled:             true,
		Lookback:            20,
		ATRMultiplier:       1.5,
		MinBreakoutStrength: 0.5,
		MaxHoldBars:         48,
		MinATRPct:           0.001,
	}
}

// rising returns n closes 100, 101, ... which with a 0.5 spread gives ATR 1.5.
func rising(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = 100 + float64(i)
	}
	return out
}

func TestTrendPod_Breakout(t *testing.T) {
	p, err := NewTrendPod(trendConfig(), nil)
	require.NoError(t, err)
	assert.Equal(t, 22, p.WarmupBars())

	series := rising(59)
	for i, s := range feed(p, "BTCUSDT", series, 0.5) {
		assert.Nilf(t, s, "unexpected signal on bar %d", i)
	}

	rollingHigh := series[len(series)-1] + 0.5
	last := rollingHigh + 3*1.5
	sig, err := p.Compute(context.Background(), bar(last, 0.5), ctxAt("BTCUSDT", 59))
	require.NoError(t, err)
	require.NotNil(t, sig)

	assert.Greater(t, sig.Signal, 0.0)
	assert.GreaterOrEqual(t, sig.Confidence, 0.6)
	assert.InDelta(t, 0.775, sig.Confidence, 1e-6)
	assert.InDelta(t, 0.7, sig.Signal, 1e-6)
	assert.Equal(t, "breakout", sig.Metadata["phase"])
	assert.Equal(t, "BTCUSDT", sig.Symbol)
	assert.Equal(t, TrendPodName, sig.Pod)
	assert.NotEmpty(t, sig.ID)
}

func TestTrendPod_NoSignalBeforeWarmup(t *testing.T) {
	p, err := NewTrendPod(trendConfig(), nil)
	require.NoError(t, err)

	// A huge jump inside the warm-up window must still be ignored.
	series := rising(p.WarmupBars() - 1)
	series[len(series)-1] += 50
	for i, s := range feed(p, "ETHUSDT", series, 0.5) {
		assert.Nilf(t, s, "bar %d", i)
	}
}

func TestTrendPod_ContinuationAndExhaustion(t *testing.T) {
	cfg := trendConfig()
	cfg.MaxHoldBars = 4
	p, err := NewTrendPod(cfg, nil)
	require.NoError(t, err)

	series := rising(59)
	feed(p, "SOLUSDT", series, 0.5)
	ctx := context.Background()

	breakout, err := p.Compute(ctx, bar(163, 0.5), ctxAt("SOLUSDT", 59))
	require.NoError(t, err)
	require.NotNil(t, breakout)

	var prev *models.AlphaSignal
	for i := 0; i < 3; i++ {
		s, err := p.Compute(ctx, bar(163.5, 0.5), ctxAt("SOLUSDT", 60+i))
		require.NoError(t, err)
		require.NotNil(t, s)
		assert.Equal(t, "continuation", s.Metadata["phase"])
		assert.Greater(t, s.Signal, 0.0)
		assert.Less(t, s.Signal, breakout.Signal)
		if prev != nil {
			assert.Less(t, s.Signal, prev.Signal, "continuation decays with trend age")
		}
		prev = s
	}

	exhaustion, err := p.Compute(ctx, bar(155, 0.5), ctxAt("SOLUSDT", 63))
	require.NoError(t, err)
	require.NotNil(t, exhaustion)
	assert.Equal(t, "exhaustion", exhaustion.Metadata["phase"])
	assert.Less(t, exhaustion.Signal, 0.0)
	assert.Less(t, exhaustion.Confidence, breakout.Confidence)
}

func TestTrendPod_LowVolatilityFloor(t *testing.T) {
	cfg := trendConfig()
	cfg.MinATRPct = 0.5
	p, err := NewTrendPod(cfg, nil)
	require.NoError(t, err)

	series := append(rising(59), 200)
	for _, s := range feed(p, "BTCUSDT", series, 0.5) {
		assert.Nil(t, s)
	}
}

func TestTrendPod_SymbolsAreIndependent(t *testing.T) {
	p, err := NewTrendPod(trendConfig(), nil)
	require.NoError(t, err)

	feed(p, "A", rising(59), 0.5)
	feed(p, "B", rising(5), 0.5)

	s, err := p.Compute(context.Background(), bar(163, 0.5), ctxAt("B", 6))
	require.NoError(t, err)
	assert.Nil(t, s, "B is still warming up")
	assert.Equal(t, 2, p.states.size())
}

func TestTrendPod_Config(t *testing.T) {
	cfg := trendConfig()
	cfg.Lookback = 1
	_, err := NewTrendPod(cfg, nil)
	assert.ErrorIs(t, err, models.ErrConfiguration)

	cfg = trendConfig()
	cfg.MaxHoldBars = 0
	_, err = NewTrendPod(cfg, nil)
	assert.ErrorIs(t, err, models.ErrConfiguration)
}
