package allocator

import (
	"math/rand"
	"sync"
	"testing"
	"time"

	"AlphaBlend/internal/domain/models"
	"AlphaBlend/pkg/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func defaultConfig() config.AllocatorConfig {
	return config.AllocatorConfig{
		UpdateFrequency:        24 * time.Hour,
		MinPodWeight:           0.05,
		MaxPodWeight:           0.5,
		PerformanceWindowDays:  30,
		SamplesPerDay:          1,
		RegretCap:              0.15,
		DiversificationPenalty: 0.1,
		LearningRate:           0.01,
		RebalanceThreshold:     0.05,
	}
}

func newTestAllocator(t *testing.T, pods ...string) (*MetaAllocator, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC)}
	a, err := NewMetaAllocator(defaultConfig(), WithClock(clock.Now))
	require.NoError(t, err)
	for _, p := range pods {
		a.RegisterPod(p)
	}
	return a, clock
}

func TestNewMetaAllocator_RejectsBadBounds(t *testing.T) {
	cfg := defaultConfig()
	cfg.MinPodWeight, cfg.MaxPodWeight = 0.6, 0.4
	_, err := NewMetaAllocator(cfg)
	assert.ErrorIs(t, err, models.ErrConfiguration)

	cfg = defaultConfig()
	cfg.UpdateFrequency = 0
	_, err = NewMetaAllocator(cfg)
	assert.ErrorIs(t, err, models.ErrConfiguration)
}

func TestWeightsFor_SeedsEqualAndIsIdempotent(t *testing.T) {
	a, _ := newTestAllocator(t, "trend", "meanrev", "vol", "gbm")

	w1 := a.WeightsFor("BTCUSDT")
	w2 := a.WeightsFor("BTCUSDT")
	assert.Equal(t, w1, w2)
	for _, v := range w1 {
		assert.InDelta(t, 0.25, v, 1e-12)
	}

	// The returned map is a copy.
	w1["trend"] = 0.9
	assert.InDelta(t, 0.25, a.WeightsFor("BTCUSDT")["trend"], 1e-12)

	empty, _ := newTestAllocator(t)
	assert.Empty(t, empty.WeightsFor("BTCUSDT"))
}

func TestWeightsFor_SeedRespectsMaxWeight(t *testing.T) {
	a, _ := newTestAllocator(t, "solo")
	assert.Equal(t, map[string]float64{"solo": 0.5}, a.WeightsFor("BTCUSDT"))

	b, _ := newTestAllocator(t, "a", "b", "c")
	for _, v := range b.WeightsFor("BTCUSDT") {
		assert.InDelta(t, 1.0/3, v, 1e-12)
	}
}

func TestHysteresis_SmallDriftNotCommitted(t *testing.T) {
	a, clock := newTestAllocator(t, "a", "b")
	a.WeightsFor("BTCUSDT")
	require.NoError(t, a.ResetWeights(map[string]float64{"a": 0.52, "b": 0.48}))

	// Too little history to score: the target is 0.5/0.5, a 2% move.
	clock.Advance(25 * time.Hour)
	a.UpdatePnL(map[string]float64{"a": 0.01, "b": -0.01})

	assert.Equal(t, map[string]float64{"a": 0.52, "b": 0.48}, a.WeightsFor("BTCUSDT"))
}

func TestHysteresis_LargeDriftCommitted(t *testing.T) {
	a, clock := newTestAllocator(t, "a", "b")
	a.WeightsFor("BTCUSDT")
	require.NoError(t, a.ResetWeights(map[string]float64{"a": 0.6, "b": 0.4}))

	clock.Advance(25 * time.Hour)
	a.UpdatePnL(map[string]float64{"a": 0.01, "b": -0.01})

	w := a.WeightsFor("BTCUSDT")
	assert.InDelta(t, 0.5, w["a"], 1e-12)
	assert.InDelta(t, 0.5, w["b"], 1e-12)
}

func TestUpdatePnL_WaitsForInterval(t *testing.T) {
	a, clock := newTestAllocator(t, "a", "b")
	a.WeightsFor("BTCUSDT")
	require.NoError(t, a.ResetWeights(map[string]float64{"a": 0.9, "b": 0.1}))

	clock.Advance(time.Hour)
	a.UpdatePnL(map[string]float64{"a": 0.01})
	assert.InDelta(t, 0.9, a.WeightsFor("BTCUSDT")["a"], 1e-12, "interval has not elapsed")

	assert.False(t, a.MaybeRebalance(clock.Now()))
	clock.Advance(24 * time.Hour)
	assert.True(t, a.MaybeRebalance(clock.Now()))
	assert.InDelta(t, 0.5, a.WeightsFor("BTCUSDT")["a"], 1e-12)
}

func TestWeightInvariant(t *testing.T) {
	pods := []string{"trend", "meanrev", "vol", "gbm", "carry"}
	a, clock := newTestAllocator(t, pods...)
	symbols := []string{"BTCUSDT", "ETHUSDT", "SOLUSDT"}
	for _, s := range symbols {
		a.WeightsFor(s)
	}

	rng := rand.New(rand.NewSource(7))
	skill := map[string]float64{"trend": 0.004, "meanrev": -0.002, "vol": 0.001, "gbm": 0.008, "carry": -0.006}
	for day := 0; day < 90; day++ {
		clock.Advance(24 * time.Hour)
		pnl := make(map[string]float64, len(pods))
		for _, p := range pods {
			pnl[p] = skill[p] + 0.01*rng.NormFloat64()
		}
		a.UpdatePnL(pnl)

		if day < 5 {
			continue
		}
		cfg := defaultConfig()
		for _, s := range symbols {
			w := a.WeightsFor(s)
			require.Len(t, w, len(pods))
			assert.LessOrEqual(t, sum(w), 1+1e-9)
			for p, v := range w {
				assert.GreaterOrEqualf(t, v, cfg.MinPodWeight-1e-9, "day %d %s/%s", day, s, p)
				assert.LessOrEqualf(t, v, cfg.MaxPodWeight+1e-9, "day %d %s/%s", day, s, p)
			}
		}
	}

	w := a.WeightsFor("BTCUSDT")
	assert.Greater(t, w["gbm"], w["carry"], "the better pod ends up with more weight")
}

func TestResetWeights(t *testing.T) {
	a, _ := newTestAllocator(t, "a", "b")
	a.WeightsFor("X")
	a.WeightsFor("Y")

	err := a.ResetWeights(map[string]float64{"a": 0.7, "zzz": 0.3})
	assert.ErrorIs(t, err, models.ErrUnknownPod)

	err = a.ResetWeights(map[string]float64{"a": -1})
	assert.ErrorIs(t, err, models.ErrConfiguration)

	require.NoError(t, a.ResetWeights(map[string]float64{"a": 0.7, "b": 0.3}))
	assert.Equal(t, map[string]float64{"a": 0.7, "b": 0.3}, a.WeightsFor("X"))
	assert.Equal(t, map[string]float64{"a": 0.7, "b": 0.3}, a.WeightsFor("Y"))
}

func TestResetWeights_SeedsNewSymbolsUntilRebalance(t *testing.T) {
	a, clock := newTestAllocator(t, "a", "b")
	a.WeightsFor("X")

	err := a.ResetWeights(map[string]float64{"a": 0.8, "b": 0.4})
	assert.ErrorIs(t, err, models.ErrConfiguration, "sum above 1")
	assert.InDelta(t, 0.5, a.WeightsFor("X")["a"], 1e-12)

	require.NoError(t, a.ResetWeights(map[string]float64{"a": 0.7, "b": 0.3}))
	assert.Equal(t, map[string]float64{"a": 0.7, "b": 0.3}, a.WeightsFor("NEW"))

	clock.Advance(25 * time.Hour)
	a.UpdatePnL(map[string]float64{"a": 0.01, "b": -0.01})
	assert.InDelta(t, 0.5, a.WeightsFor("LATER")["a"], 1e-12, "a committed rebalance ends the override")

	require.NoError(t, a.ResetWeights(map[string]float64{"a": 0.6, "b": 0.4}))
	a.RegisterPod("c")
	w := a.WeightsFor("AFTER_REGISTER")
	require.Len(t, w, 3)
	assert.InDelta(t, 1.0, sum(w), 1e-9)
}

func TestRegisterAndRemovePod(t *testing.T) {
	a, _ := newTestAllocator(t, "a", "b")
	a.WeightsFor("X")

	a.RegisterPod("c")
	w := a.WeightsFor("X")
	require.Len(t, w, 3)
	assert.InDelta(t, 1.0, sum(w), 1e-9)

	a.RemovePod("a")
	w = a.WeightsFor("X")
	assert.NotContains(t, w, "a")
	assert.Equal(t, []string{"b", "c"}, a.Pods())
}

func TestUpdatePnL_IgnoresUnknownPods(t *testing.T) {
	a, _ := newTestAllocator(t, "a")
	a.UpdatePnL(map[string]float64{"a": 1, "ghost": 5})

	perf := a.Performance()
	assert.Contains(t, perf, "a")
	assert.NotContains(t, perf, "ghost")
	assert.Equal(t, 1, perf["a"].TradeCount)
}

func TestSnapshotRestore(t *testing.T) {
	a, clock := newTestAllocator(t, "a", "b")
	a.WeightsFor("BTCUSDT")
	for i := 0; i < 8; i++ {
		clock.Advance(time.Hour)
		a.UpdatePnL(map[string]float64{"a": 0.02, "b": -0.01})
	}
	snap := a.Snapshot()
	require.Len(t, snap.Returns["a"], 8)

	b, _ := newTestAllocator(t, "a", "b")
	b.Restore(snap)
	assert.Equal(t, a.WeightsFor("BTCUSDT"), b.WeightsFor("BTCUSDT"))
	assert.Equal(t, a.Scores(), b.Scores())
	assert.Equal(t, a.Performance()["a"].TradeCount, b.Performance()["a"].TradeCount)

	// Snapshot is a copy.
	snap.Weights["BTCUSDT"]["a"] = 42
	assert.NotEqual(t, 42.0, a.WeightsFor("BTCUSDT")["a"])
}

func TestConcurrentReadersSeeWholeVectors(t *testing.T) {
	a, clock := newTestAllocator(t, "a", "b", "c")
	a.WeightsFor("BTCUSDT")

	var wg sync.WaitGroup
	stop := make(chan struct{})
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				w := a.WeightsFor("BTCUSDT")
				s := sum(w)
				if s < 1-1e-9 || s > 1+1e-9 {
					t.Errorf("torn weight vector %v", w)
					return
				}
			}
		}()
	}
	for i := 0; i < 50; i++ {
		clock.Advance(25 * time.Hour)
		a.UpdatePnL(map[string]float64{"a": 0.01 * float64(i%3), "b": -0.005, "c": 0.002})
	}
	close(stop)
	wg.Wait()
}
