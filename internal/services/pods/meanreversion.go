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

const MeanReversionPodName = "mean_reversion"

// minFadeConfidence is the lowest confidence the pod ever emits. A configured
// MinConfidence can only raise it.
const minFadeConfidence = 0.3

type meanReversionState struct {
	history    *features.History
	position   float64 // -1, 0, +1: direction of the last emitted fade
	barsHeld   int
	shortAbove bool
	seenMA     bool
}

// MeanReversionPod fades z-score extremes of price against its long moving
// average, backing off when the funding rate says the move is real.
type MeanReversionPod struct {
	base
	cfg     config.MeanReversionConfig
	minConf float64
	states  *arena[meanReversionState]
}

func NewMeanReversionPod(cfg config.MeanReversionConfig, l *logger.Logger) (*MeanReversionPod, error) {
	if cfg.ShortPeriod < 2 || cfg.LongPeriod <= cfg.ShortPeriod {
		return nil, configErr(MeanReversionPodName, "need 2 <= short (%d) < long (%d)", cfg.ShortPeriod, cfg.LongPeriod)
	}
	if cfg.ZScoreThreshold <= 0 {
		return nil, configErr(MeanReversionPodName, "z-score threshold must be positive")
	}
	if cfg.MaxHoldingPeriod <= 0 {
		return nil, configErr(MeanReversionPodName, "max holding period must be positive")
	}

	p := &MeanReversionPod{cfg: cfg, minConf: max(minFadeConfidence, cfg.MinConfidence)}
	p.setup(MeanReversionPodName, cfg.LongPeriod, cfg.Enabled, l)
	capacity := 2 * cfg.LongPeriod
	p.states = newArena(func() *meanReversionState {
		return &meanReversionState{history: features.NewHistory(capacity)}
	})
	return p, nil
}

func (p *MeanReversionPod) Compute(_ context.Context, f models.Features, mc models.MarketContext) (*models.AlphaSignal, error) {
	st := p.states.get(mc.Symbol)
	st.history.Push(features.BarFrom(f, mc.Timestamp))
	if st.history.Len() < p.warmup {
		return nil, nil
	}

	closes := st.history.Closes()
	shortMA, _ := features.SMA(closes, p.cfg.ShortPeriod)
	z, longMA, std, ok := features.ZScore(closes, p.cfg.LongPeriod)

	crossUp := st.seenMA && !st.shortAbove && shortMA > longMA
	crossDown := st.seenMA && st.shortAbove && shortMA < longMA
	st.shortAbove = shortMA > longMA
	st.seenMA = true

	if !ok {
		return nil, nil
	}

	if st.position != 0 {
		st.barsHeld++
		if math.Abs(z) < 0.5 || st.barsHeld > p.cfg.MaxHoldingPeriod {
			st.position = 0
			st.barsHeld = 0
		}
	}

	price := closes[len(closes)-1]
	divergence := (shortMA - longMA) / longMA
	meta := map[string]any{
		"z_score":    z,
		"short_ma":   shortMA,
		"long_ma":    longMA,
		"divergence": divergence,
	}
	vol := std / price
	absZ := math.Abs(z)
	dir := -sign(z)

	if absZ >= p.cfg.ZScoreThreshold {
		excess := absZ - p.cfg.ZScoreThreshold
		conf, filtered := p.fadeConfidence(absZ, f.FundingRate, dir)
		if filtered {
			meta["funding_filtered"] = true
		}

		strength := math.Min(1, 0.5+0.25*excess)
		strength *= math.Min(1.5, 1+10*math.Abs(divergence))

		if st.position != dir {
			st.position = dir
			st.barsHeld = 0
		} else if float64(st.barsHeld) > 0.7*float64(p.cfg.MaxHoldingPeriod) {
			strength *= 0.5
			meta["hold_discount"] = true
		}
		meta["bars_held"] = st.barsHeld

		if conf < p.minConf {
			return nil, nil
		}
		return p.signal(mc, dir*math.Min(1, strength), conf, vol, meta), nil
	}

	// Weaker entry: a fresh MA crossover pointing the same way as the fade.
	if absZ > 1 && ((crossUp && dir > 0) || (crossDown && dir < 0)) {
		meta["crossover"] = true
		if 0.4 < p.minConf {
			return nil, nil
		}
		return p.signal(mc, dir*0.3, 0.4, vol, meta), nil
	}
	return nil, nil
}

// fadeConfidence grows with the z-score excess over the threshold, capped at
// 0.9, and is cut to 30% when funding of more than FundingThreshold points the
// same way as the fade.
func (p *MeanReversionPod) fadeConfidence(absZ, funding, dir float64) (float64, bool) {
	conf := math.Min(0.9, 0.5+0.2*(absZ-p.cfg.ZScoreThreshold))
	if math.Abs(funding) > p.cfg.FundingThreshold && sign(funding) == dir {
		return conf * 0.3, true
	}
	return conf, false
}

var _ domsvc.Pod = (*MeanReversionPod)(nil)
