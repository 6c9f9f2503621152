package pods

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"AlphaBlend/internal/domain/models"
	"AlphaBlend/pkg/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func boostedConfig() config.GradientBoostedConfig {
	return config.GradientBoostedConfig{
		Enabled:            true,
		MinConfidence:      0.25,
		MaxMissingFeatures: 3,
		ModelTimeout:       50 * time.Millisecond,
		HistoryBars:        64,
	}
}

func zigzag(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = 100 + 0.3*float64(i) + 1.5*math.Sin(float64(i))
	}
	return out
}

// warm feeds all but the last close and returns the pod ready for one more tick.
func warm(t *testing.T, p *BoostedPod, closes []float64) {
	t.Helper()
	for i, c := range closes[:len(closes)-1] {
		s, err := p.Compute(context.Background(), bar(c, 0.5), ctxAt("BTCUSDT", i))
		require.NoError(t, err)
		if i < p.WarmupBars()-1 {
			require.Nil(t, s, "bar %d", i)
		}
	}
}

func TestBoostedPod_UsesModel(t *testing.T) {
	model := &fakeModel{pred: models.ModelPrediction{Prediction: 0.01, Confidence: 0.7, ModelName: "lgbm_btc"}}
	p, err := NewBoostedPod(boostedConfig(), model, nil)
	require.NoError(t, err)

	closes := zigzag(40)
	warm(t, p, closes)
	s, err := p.Compute(context.Background(), bar(closes[39], 0.5), ctxAt("BTCUSDT", 39))
	require.NoError(t, err)
	require.NotNil(t, s)

	assert.Equal(t, "model", s.Metadata["mode"])
	assert.Equal(t, "lgbm_btc", s.Metadata["model_name"])
	assert.Equal(t, "medium", s.Metadata["confidence_bucket"])
	assert.InDelta(t, 0.5, s.Signal, 1e-12)
	assert.InDelta(t, 0.7, s.Confidence, 1e-12)
	assert.Equal(t, 40-p.WarmupBars()+1, model.calls)
}

func TestBoostedPod_FallbackOnModelError(t *testing.T) {
	cfg := boostedConfig()
	cfg.MinConfidence = 0
	model := &fakeModel{err: models.ErrModelServiceUnavailable}
	p, err := NewBoostedPod(cfg, model, nil)
	require.NoError(t, err)

	closes := zigzag(40)
	warm(t, p, closes)
	s, err := p.Compute(context.Background(), bar(closes[39], 0.5), ctxAt("BTCUSDT", 39))
	require.NoError(t, err)
	require.NotNil(t, s)
	assert.Equal(t, "fallback", s.Metadata["mode"])
	assert.LessOrEqual(t, s.Confidence, 0.7)
}

func TestBoostedPod_SlowModelTimesOut(t *testing.T) {
	cfg := boostedConfig()
	cfg.MinConfidence = 0
	model := &fakeModel{block: true}
	p, err := NewBoostedPod(cfg, model, nil)
	require.NoError(t, err)

	closes := zigzag(32)
	warm(t, p, closes)

	start := time.Now()
	s, err := p.Compute(context.Background(), bar(closes[31], 0.5), ctxAt("BTCUSDT", 31))
	require.NoError(t, err)
	assert.Less(t, time.Since(start), time.Second)
	if s != nil {
		assert.Equal(t, "fallback", s.Metadata["mode"])
	}
}

func TestBoostedPod_InvalidFeatures(t *testing.T) {
	p, err := NewBoostedPod(boostedConfig(), nil, nil)
	require.NoError(t, err)
	closes := zigzag(40)
	warm(t, p, closes)

	f := bar(closes[39], 0.5)
	f.Extra = map[string]float64{"oi_change": math.NaN()}
	_, err = p.Compute(context.Background(), f, ctxAt("BTCUSDT", 39))
	assert.ErrorIs(t, err, models.ErrInvalidFeature)

	cfg := boostedConfig()
	cfg.MaxMissingFeatures = 1
	strict, err := NewBoostedPod(cfg, nil, nil)
	require.NoError(t, err)
	warm(t, strict, closes)
	noVolume := models.Features{Close: closes[39], High: closes[39] + 0.5, Low: closes[39] - 0.5}
	_, err = strict.Compute(context.Background(), noVolume, ctxAt("BTCUSDT", 39))
	assert.ErrorIs(t, err, models.ErrInvalidFeature)
}

func TestFallbackHeuristic(t *testing.T) {
	vec := map[string]float64{
		FeatRSI14: 20,
		FeatRet5:  0.01,
		FeatRet1:  0.01,
		FeatVol10: 0.01,
		FeatVol30: 0.01,
	}
	sig, conf := fallbackHeuristic(vec, 1)
	assert.InDelta(t, 0.7, sig, 1e-12)
	assert.InDelta(t, 0.58, conf, 1e-12)

	vec[FeatVol10] = 0.02
	sig, conf = fallbackHeuristic(vec, 0.5)
	assert.InDelta(t, 0.5, sig, 1e-12)
	assert.InDelta(t, 0.25, conf, 1e-12)
}

func TestFeatureQuality(t *testing.T) {
	assert.InDelta(t, 1.0, featureQuality(map[string]float64{FeatRSI14: 50}, 0), 1e-12)
	assert.InDelta(t, 0.75, featureQuality(map[string]float64{FeatRSI14: 2}, 2), 1e-12)
	assert.InDelta(t, 0.1, featureQuality(nil, 20), 1e-12)
}

func TestBoostedPod_Initialize(t *testing.T) {
	p, err := NewBoostedPod(boostedConfig(), &fakeModel{healthy: false}, nil)
	require.NoError(t, err)
	assert.NoError(t, p.Initialize(context.Background()))

	_, err = NewBoostedPod(config.GradientBoostedConfig{}, nil, nil)
	assert.True(t, errors.Is(err, models.ErrConfiguration))
}

func TestPodPerformanceAccumulation(t *testing.T) {
	p, err := NewTrendPod(trendConfig(), nil)
	require.NoError(t, err)

	for _, pnl := range []float64{10, -5, 20} {
		p.UpdatePerformance(pnl, t0)
	}
	perf := p.Performance()
	assert.Equal(t, TrendPodName, perf.Pod)
	assert.InDelta(t, 25, perf.TotalPnL, 1e-12)
	assert.Equal(t, 3, perf.TradeCount)
	assert.InDelta(t, 5, perf.MaxDrawdown, 1e-12)
	assert.InDelta(t, 2.0/3.0, perf.WinRate, 1e-12)
	assert.Equal(t, t0, perf.LastUpdate)
}
