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

const VolRegimePodName = "volatility_regime"

type Regime string

const (
	RegimeLow           Regime = "low"
	RegimeHigh          Regime = "high"
	RegimeTransitioning Regime = "transitioning"
)

// minVolSamples is how many realized-vol observations the percentile needs
// before the regime label means anything.
const minVolSamples = 20

type volRegimeState struct {
	history     *features.History
	vols        *features.Ring[float64]
	regime      Regime
	persistence int
	pending     Regime
	pendingBars int
	prevGap     float64
}

// VolRegimePod switches sub-strategy on the realized-volatility percentile:
// mean reversion when quiet, breakout when volatile, small momentum in between.
type VolRegimePod struct {
	base
	cfg    config.VolRegimeConfig
	states *arena[volRegimeState]
}

func NewVolRegimePod(cfg config.VolRegimeConfig, l *logger.Logger) (*VolRegimePod, error) {
	switch {
	case cfg.VolWindow < 2, cfg.PercentileWindow < 2, cfg.BreakoutBars < 2:
		return nil, configErr(VolRegimePodName, "windows must be >= 2")
	case cfg.ShortMA < 1 || cfg.LongMA <= cfg.ShortMA:
		return nil, configErr(VolRegimePodName, "need 1 <= short ma (%d) < long ma (%d)", cfg.ShortMA, cfg.LongMA)
	case cfg.LowPercentile < 0 || cfg.HighPercentile > 1 || cfg.LowPercentile >= cfg.HighPercentile:
		return nil, configErr(VolRegimePodName, "need 0 <= low (%.2f) < high (%.2f) <= 1", cfg.LowPercentile, cfg.HighPercentile)
	case cfg.RegimePersistence < 1:
		return nil, configErr(VolRegimePodName, "regime persistence must be >= 1")
	}

	samples := min(minVolSamples, cfg.PercentileWindow)
	warmup := max(cfg.VolWindow+samples, cfg.LongMA, cfg.BreakoutBars+1)

	p := &VolRegimePod{cfg: cfg}
	p.setup(VolRegimePodName, warmup, cfg.Enabled, l)
	capacity := 2 * warmup
	p.states = newArena(func() *volRegimeState {
		return &volRegimeState{
			history: features.NewHistory(capacity),
			vols:    features.NewRing[float64](cfg.PercentileWindow),
			regime:  RegimeTransitioning,
		}
	})
	return p, nil
}

func (p *VolRegimePod) Compute(_ context.Context, f models.Features, mc models.MarketContext) (*models.AlphaSignal, error) {
	st := p.states.get(mc.Symbol)
	st.history.Push(features.BarFrom(f, mc.Timestamp))

	closes := st.history.Closes()
	vol, ok := features.RealizedVolatility(features.LogReturns(closes), p.cfg.VolWindow, 1)
	if !ok {
		return nil, nil
	}
	pct := features.PercentileRank(st.vols.Values(), vol)
	st.vols.Push(vol)

	if st.history.Len() < p.warmup {
		return nil, nil
	}

	p.classify(st, pct)

	var (
		sig  float64
		sub  string
		meta = map[string]any{
			"regime":      string(st.regime),
			"percentile":  pct,
			"persistence": st.persistence,
			"realized":    vol,
		}
	)
	switch st.regime {
	case RegimeLow:
		sig, sub = p.lowVol(st, closes, meta)
	case RegimeHigh:
		sig, sub = p.highVol(st, closes, vol)
	default:
		sig, sub = p.transition(closes, vol)
	}
	if sig == 0 {
		return nil, nil
	}
	meta["strategy"] = sub

	extremity := math.Abs(pct-0.5) * 2
	conf := 0.5 + math.Min(0.2, float64(st.persistence)*0.02) + extremity*0.2
	if st.regime == RegimeTransitioning {
		conf *= 0.6
	}
	conf = math.Min(0.95, conf)
	if conf < p.cfg.MinConfidence {
		return nil, nil
	}
	return p.signal(mc, sig, conf, vol, meta), nil
}

// classify applies the persistence hysteresis: a new label must be observed
// RegimePersistence times in a row before it replaces the current one.
func (p *VolRegimePod) classify(st *volRegimeState, pct float64) {
	raw := RegimeTransitioning
	switch {
	case pct <= p.cfg.LowPercentile:
		raw = RegimeLow
	case pct >= p.cfg.HighPercentile:
		raw = RegimeHigh
	}

	if raw == st.regime {
		st.persistence++
		st.pending = ""
		st.pendingBars = 0
		return
	}
	if raw == st.pending {
		st.pendingBars++
	} else {
		st.pending = raw
		st.pendingBars = 1
	}
	if st.pendingBars >= p.cfg.RegimePersistence {
		st.regime = raw
		st.persistence = 1
		st.pending = ""
		st.pendingBars = 0
	}
}

func (p *VolRegimePod) lowVol(st *volRegimeState, closes []float64, meta map[string]any) (float64, string) {
	z, longMA, _, ok := features.ZScore(closes, p.cfg.LongMA)
	shortMA, _ := features.SMA(closes, p.cfg.ShortMA)
	gap := 0.0
	if longMA > 0 {
		gap = math.Abs(shortMA-longMA) / longMA
	}
	converging := gap < st.prevGap
	st.prevGap = gap
	meta["z_score"] = z

	if !ok || math.Abs(z) < p.cfg.ZScoreThreshold {
		return 0, ""
	}
	strength := math.Min(1, 0.4+0.2*(math.Abs(z)-p.cfg.ZScoreThreshold))
	if converging {
		strength = math.Min(1, strength*1.1)
	} else {
		strength *= 0.8
	}
	return -sign(z) * strength, "mean_reversion"
}

func (p *VolRegimePod) highVol(st *volRegimeState, closes []float64, vol float64) (float64, string) {
	n := st.history.Len()
	highs, lows := st.history.Highs(), st.history.Lows()
	hi := features.Highest(highs[:n-1], p.cfg.BreakoutBars)
	lo := features.Lowest(lows[:n-1], p.cfg.BreakoutBars)
	price := closes[n-1]
	unit := math.Max(vol, 1e-6) * price

	switch {
	case price > hi:
		return math.Min(1, 0.5+0.25*(price-hi)/unit), "range_breakout"
	case price < lo:
		return -math.Min(1, 0.5+0.25*(lo-price)/unit), "range_breakout"
	}

	shortMA, _ := features.SMA(closes, p.cfg.ShortMA)
	longMA, _ := features.SMA(closes, p.cfg.LongMA)
	switch {
	case shortMA > longMA && price > shortMA:
		return 0.35, "ma_trend"
	case shortMA < longMA && price < shortMA:
		return -0.35, "ma_trend"
	}
	return 0, ""
}

func (p *VolRegimePod) transition(closes []float64, vol float64) (float64, string) {
	mom, ok := features.Momentum(closes, p.cfg.ShortMA)
	if !ok || vol <= 0 {
		return 0, ""
	}
	scaled := models.Clamp(mom/(vol*math.Sqrt(float64(p.cfg.ShortMA))), -1, 1)
	sig := 0.3 * scaled
	if math.Abs(sig) < 0.05 {
		return 0, ""
	}
	return sig, "momentum"
}

var _ domsvc.Pod = (*VolRegimePod)(nil)
