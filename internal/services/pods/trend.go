package pods

import (
	"context"
	"math"

	"AlphaBlend/internal/domain/models"
	domsvc "AlphaBlend/internal/domain/service"
	"AlphaBlend/internal/services/features"
	"AlphaBlend/pkg/config"
	"AlphaBlend/pkg/logger"
)

const TrendPodName = "trend_breakout"

type trendDirection int

const (
	trendNeutral trendDirection = iota
	trendUp
	trendDown
)

func (d trendDirection) String() string {
	switch d {
	case trendUp:
		return "up"
	case trendDown:
		return "down"
	default:
		return "neutral"
	}
}

type trendState struct {
	history     *features.History
	direction   trendDirection
	barsInTrend int
	level       float64 // breakout level recorded at trend entry
}

// TrendPod follows range breakouts measured in ATR units and tracks the
// resulting trend until it is exhausted or too old.
type TrendPod struct {
	base
	cfg    config.TrendConfig
	states *arena[trendState]
}

func NewTrendPod(cfg config.TrendConfig, l *logger.Logger) (*TrendPod, error) {
	if cfg.Lookback < 2 {
		return nil, configErr(TrendPodName, "lookback must be >= 2, got %d", cfg.Lookback)
	}
	if cfg.ATRMultiplier <= 0 {
		return nil, configErr(TrendPodName, "atr multiplier must be positive")
	}
	if cfg.MaxHoldBars < 2 {
		return nil, configErr(TrendPodName, "max hold bars must be >= 2, got %d", cfg.MaxHoldBars)
	}

	p := &TrendPod{cfg: cfg}
	// ATR needs lookback+1 completed bars before the current one.
	p.setup(TrendPodName, cfg.Lookback+2, cfg.Enabled, l)
	capacity := 2 * (cfg.Lookback + 2)
	p.states = newArena(func() *trendState {
		return &trendState{history: features.NewHistory(capacity)}
	})
	return p, nil
}

func (p *TrendPod) Compute(_ context.Context, f models.Features, mc models.MarketContext) (*models.AlphaSignal, error) {
	st := p.states.get(mc.Symbol)
	st.history.Push(features.BarFrom(f, mc.Timestamp))

	n := st.history.Len()
	if n < p.warmup {
		return nil, nil
	}

	highs, lows, closes := st.history.Highs(), st.history.Lows(), st.history.Closes()
	price := closes[n-1]
	atr, ok := features.ATR(highs[:n-1], lows[:n-1], closes[:n-1], p.cfg.Lookback)
	if !ok || price <= 0 || atr/price < p.cfg.MinATRPct {
		return nil, nil
	}

	recentHigh := features.Highest(highs[:n-1], p.cfg.Lookback)
	recentLow := features.Lowest(lows[:n-1], p.cfg.Lookback)
	band := atr * p.cfg.ATRMultiplier
	upLevel := recentHigh + band
	downLevel := recentLow - band

	if st.direction != trendNeutral {
		st.barsInTrend++
	}

	meta := map[string]any{
		"atr":         atr,
		"recent_high": recentHigh,
		"recent_low":  recentLow,
	}
	vol := atr / price

	minMove := p.cfg.MinBreakoutStrength * atr
	switch {
	case price >= upLevel+minMove:
		return p.breakout(mc, st, trendUp, (price-upLevel)/atr, upLevel, vol, meta), nil
	case price <= downLevel-minMove:
		return p.breakout(mc, st, trendDown, (downLevel-price)/atr, downLevel, vol, meta), nil
	}

	if st.direction == trendNeutral {
		return nil, nil
	}
	if st.barsInTrend > p.cfg.MaxHoldBars {
		p.reset(st)
		return nil, nil
	}

	dir := 1.0
	if st.direction == trendDown {
		dir = -1
	}
	reversal := st.level - dir*0.5*band
	reversed := dir*(price-reversal) < 0
	meta["trend"] = st.direction.String()
	meta["bars_in_trend"] = st.barsInTrend
	meta["breakout_level"] = st.level

	if reversed {
		if st.barsInTrend > p.cfg.MaxHoldBars/2 {
			meta["phase"] = "exhaustion"
			p.reset(st)
			return p.signal(mc, -dir*0.25, 0.35, vol, meta), nil
		}
		// Failed breakout: price fell back before the trend matured.
		p.reset(st)
		return nil, nil
	}

	age := float64(st.barsInTrend) / float64(p.cfg.MaxHoldBars)
	decay := math.Max(0, 1-age)
	meta["phase"] = "continuation"
	return p.signal(mc, dir*0.3*decay, 0.3+0.3*decay, vol, meta), nil
}

func (p *TrendPod) breakout(mc models.MarketContext, st *trendState, dir trendDirection, strength, level, vol float64, meta map[string]any) *models.AlphaSignal {
	if st.direction != dir {
		st.direction = dir
		st.barsInTrend = 0
		st.level = level
	}

	conf := math.Min(0.95, 0.55+0.15*strength)
	if st.barsInTrend > p.cfg.MaxHoldBars {
		conf *= 0.5
	}
	sig := math.Min(1, 0.4+0.2*strength)
	if dir == trendDown {
		sig = -sig
	}

	meta["phase"] = "breakout"
	meta["trend"] = dir.String()
	meta["strength"] = strength
	meta["breakout_level"] = level
	meta["bars_in_trend"] = st.barsInTrend
	return p.signal(mc, sig, conf, vol, meta)
}

func (p *TrendPod) reset(st *trendState) {
	st.direction = trendNeutral
	st.barsInTrend = 0
	st.level = 0
}

var _ domsvc.Pod = (*TrendPod)(nil)
