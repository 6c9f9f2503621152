package pods

import (
	"context"
	"fmt"
	"math"
	"time"

	"AlphaBlend/internal/domain/models"
	domsvc "AlphaBlend/internal/domain/service"
	"AlphaBlend/internal/services/features"
	"AlphaBlend/pkg/config"
	"AlphaBlend/pkg/logger"
)

const BoostedPodName = "gradient_boosted"

// Feature names sent to the model service.
const (
	FeatRet1         = "ret_1"
	FeatRet5         = "ret_5"
	FeatRet20        = "ret_20"
	FeatVol10        = "vol_10"
	FeatVol30        = "vol_30"
	FeatRSI14        = "rsi_14"
	FeatRSI28        = "rsi_28"
	FeatSkew20       = "skew_20"
	FeatKurt20       = "kurt_20"
	FeatFundingRate  = "funding_rate"
	FeatBasis        = "basis"
	FeatVolumeRatio  = "volume_ratio"
	FeatVolumeTrend  = "volume_trend"
	FeatHourOfDay    = "hour_of_day"
	FeatDayOfWeek    = "day_of_week"
	boostedWarmup    = 31
	predictionScale  = 50.0 // model predicts next-bar return; 0.02 maps to a full signal
)

type boostedState struct {
	history *features.History
}

// BoostedPod engineers a tabular feature vector and scores it with the
// external gradient-boosted model, falling back to a local heuristic when
// the model service cannot answer in time.
type BoostedPod struct {
	base
	cfg    config.GradientBoostedConfig
	model  domsvc.ModelService
	states *arena[boostedState]
}

// NewBoostedPod builds the pod. model may be nil, in which case every tick
// uses the fallback heuristic.
func NewBoostedPod(cfg config.GradientBoostedConfig, model domsvc.ModelService, l *logger.Logger) (*BoostedPod, error) {
	if cfg.ModelTimeout <= 0 {
		return nil, configErr(BoostedPodName, "model timeout must be positive")
	}
	if cfg.MaxMissingFeatures < 0 {
		return nil, configErr(BoostedPodName, "max missing features must be >= 0")
	}
	capacity := max(cfg.HistoryBars, 2*boostedWarmup)

	p := &BoostedPod{cfg: cfg, model: model}
	p.setup(BoostedPodName, boostedWarmup, cfg.Enabled, l)
	p.states = newArena(func() *boostedState {
		return &boostedState{history: features.NewHistory(capacity)}
	})
	return p, nil
}

// Initialize probes the model service once so a missing model shows up in
// the logs at boot rather than on the first tick.
func (p *BoostedPod) Initialize(ctx context.Context) error {
	if p.model == nil {
		p.logger.Warn("no model service configured, running on fallback heuristic")
		return nil
	}
	if !p.model.HealthCheck(ctx) {
		p.logger.Warn("model service not healthy at startup, fallback heuristic will be used until it recovers")
	}
	return nil
}

func (p *BoostedPod) Compute(ctx context.Context, f models.Features, mc models.MarketContext) (*models.AlphaSignal, error) {
	st := p.states.get(mc.Symbol)
	st.history.Push(features.BarFrom(f, mc.Timestamp))
	if st.history.Len() < p.warmup {
		return nil, nil
	}

	vec, missing := p.buildFeatures(st.history, f, mc.Timestamp)
	if err := p.validate(vec, missing); err != nil {
		return nil, err
	}
	vol := vec[FeatVol10]

	meta := map[string]any{
		"missing_features": missing,
		"feature_count":    len(vec),
	}

	var sig, conf float64
	pred, err := p.predict(ctx, mc, vec)
	if err == nil {
		sig = models.Clamp(pred.Prediction*predictionScale, -1, 1)
		conf = models.Clamp(pred.Confidence, 0, 1)
		meta["mode"] = "model"
		meta["model_name"] = pred.ModelName
		meta["prediction"] = pred.Prediction
	} else {
		p.logger.Warn("model service unavailable, using fallback heuristic",
			logger.String("symbol", mc.Symbol),
			logger.Error(err),
		)
		quality := featureQuality(vec, missing)
		sig, conf = fallbackHeuristic(vec, quality)
		meta["mode"] = "fallback"
		meta["feature_quality"] = quality
	}
	meta["confidence_bucket"] = models.ConfidenceBucket(conf)

	if conf < p.cfg.MinConfidence || sig == 0 {
		return nil, nil
	}
	return p.signal(mc, sig, conf, vol, meta), nil
}

func (p *BoostedPod) predict(ctx context.Context, mc models.MarketContext, vec map[string]float64) (models.ModelPrediction, error) {
	if p.model == nil {
		return models.ModelPrediction{}, fmt.Errorf("%w: no model service configured", models.ErrModelServiceUnavailable)
	}
	ctx, cancel := context.WithTimeout(ctx, p.cfg.ModelTimeout)
	defer cancel()
	pred, err := p.model.Predict(ctx, mc.Symbol, vec, mc.Timestamp)
	if err != nil {
		return pred, err
	}
	if math.IsNaN(pred.Prediction) || math.IsInf(pred.Prediction, 0) {
		return pred, fmt.Errorf("%w: non-finite prediction", models.ErrModelServiceUnavailable)
	}
	return pred, nil
}

// buildFeatures returns the engineered vector and the number of features
// that could not be computed. Missing features are left out of the map.
func (p *BoostedPod) buildFeatures(h *features.History, f models.Features, ts time.Time) (map[string]float64, int) {
	closes := h.Closes()
	returns := features.LogReturns(closes)
	vec := make(map[string]float64, 16+len(f.Extra))
	missing := 0
	put := func(name string, v float64, ok bool) {
		if !ok {
			missing++
			return
		}
		vec[name] = v
	}

	for _, r := range []struct {
		name string
		n    int
	}{{FeatRet1, 1}, {FeatRet5, 5}, {FeatRet20, 20}} {
		v, ok := features.Momentum(closes, r.n)
		put(r.name, v, ok)
	}

	v, ok := features.RealizedVolatility(returns, 10, 1)
	put(FeatVol10, v, ok)
	v, ok = features.RealizedVolatility(returns, 30, 1)
	put(FeatVol30, v, ok)
	v, ok = features.RSI(closes, 14)
	put(FeatRSI14, v, ok)
	v, ok = features.RSI(closes, 28)
	put(FeatRSI28, v, ok)
	v, ok = features.Skewness(returns, 20)
	put(FeatSkew20, v, ok)
	v, ok = features.ExcessKurtosis(returns, 20)
	put(FeatKurt20, v, ok)

	vec[FeatFundingRate] = f.FundingRate
	vec[FeatBasis] = f.Basis
	put(FeatVolumeRatio, safeRatio(f.Volume, f.AvgVolume), f.AvgVolume > 0)
	put(FeatVolumeTrend, safeRatio(f.Volume, f.PrevVolume)-1, f.PrevVolume > 0)

	if ts.IsZero() {
		missing += 2
	} else {
		ts = ts.UTC()
		vec[FeatHourOfDay] = float64(ts.Hour())
		vec[FeatDayOfWeek] = float64(ts.Weekday())
	}

	for k, v := range f.Extra {
		if _, taken := vec[k]; !taken {
			vec[k] = v
		}
	}
	return vec, missing
}

func (p *BoostedPod) validate(vec map[string]float64, missing int) error {
	for name, v := range vec {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: %s is not finite", models.ErrInvalidFeature, name)
		}
	}
	if missing > p.cfg.MaxMissingFeatures {
		return fmt.Errorf("%w: %d features missing, at most %d allowed",
			models.ErrInvalidFeature, missing, p.cfg.MaxMissingFeatures)
	}
	return nil
}

// fallbackHeuristic combines RSI extremes, 5-bar momentum and a
// volatility-conditioned 1-bar rule. Confidence is scaled by quality.
func fallbackHeuristic(vec map[string]float64, quality float64) (float64, float64) {
	sig := 0.0
	if rsi, ok := vec[FeatRSI14]; ok {
		switch {
		case rsi < 30:
			sig += 0.4
		case rsi > 70:
			sig -= 0.4
		}
	}
	if mom, ok := vec[FeatRet5]; ok {
		sig += models.Clamp(mom*20, -0.3, 0.3)
	}
	ret1, ok1 := vec[FeatRet1]
	v10, ok2 := vec[FeatVol10]
	v30, ok3 := vec[FeatVol30]
	if ok1 && ok2 && ok3 {
		if v10 > 1.2*v30 {
			// Volatility expanding: fade the last bar.
			sig -= models.Clamp(ret1*10, -0.2, 0.2)
		} else {
			sig += models.Clamp(ret1*10, -0.2, 0.2)
		}
	}
	sig = models.Clamp(sig, -1, 1)
	conf := (0.3 + 0.4*math.Abs(sig)) * quality
	return sig, conf
}

// featureQuality starts at 1 and loses 0.1 per missing feature and 0.05 per
// extreme value, floored at 0.1.
func featureQuality(vec map[string]float64, missing int) float64 {
	extremes := 0
	if v, ok := vec[FeatRet1]; ok && math.Abs(v) > 0.2 {
		extremes++
	}
	if v, ok := vec[FeatRSI14]; ok && (v < 5 || v > 95) {
		extremes++
	}
	if v, ok := vec[FeatSkew20]; ok && math.Abs(v) > 3 {
		extremes++
	}
	if v, ok := vec[FeatKurt20]; ok && v > 10 {
		extremes++
	}
	if v, ok := vec[FeatVolumeRatio]; ok && v > 10 {
		extremes++
	}
	q := 1 - 0.1*float64(missing) - 0.05*float64(extremes)
	return math.Max(0.1, q)
}

func safeRatio(a, b float64) float64 {
	if b == 0 {
		return 0
	}
	return a / b
}

var (
	_ domsvc.Pod         = (*BoostedPod)(nil)
	_ domsvc.Initializer = (*BoostedPod)(nil)
)
