package allocator

import (
	"math"
	"sort"

	"AlphaBlend/internal/services/features"
)

const (
	minScoredSamples   = 5
	consistencySamples = 10
	recentSamples      = 5
	concentrationLimit = 0.4
	scoreFloor         = 0.1
)

// podMetrics is the allocator's view of one pod. Every derived field is
// recomputed from the return window on each update.
type podMetrics struct {
	returns     *features.Ring[float64]
	regret      *features.Ring[float64]
	volatility  float64
	sharpe      float64
	maxDrawdown float64
	winRate     float64
}

func newPodMetrics(window int) *podMetrics {
	return &podMetrics{
		returns: features.NewRing[float64](window),
		regret:  features.NewRing[float64](window),
	}
}

func (m *podMetrics) recompute(periodsPerYear float64) {
	r := m.returns.Values()
	m.volatility = features.Volatility(r)
	m.sharpe = features.Sharpe(r, periodsPerYear)
	m.maxDrawdown = features.MaxDrawdownFraction(r)
	m.winRate = 0
	if len(r) > 0 {
		wins := 0
		for _, v := range r {
			if v > 0 {
				wins++
			}
		}
		m.winRate = float64(wins) / float64(len(r))
	}
}

func (m *podMetrics) windowRegret() float64 {
	total := 0.0
	for _, v := range m.regret.Values() {
		total += v
	}
	return total
}

type scoreParams struct {
	regretCap    float64
	learningRate float64
}

// score is the composite performance score of one pod, floored at 0.1.
// Pods with fewer than five samples score a flat 1.0.
func score(m *podMetrics, p scoreParams) float64 {
	n := m.returns.Len()
	if n < minScoredSamples {
		return 1.0
	}

	s := 1.0
	if m.sharpe > 0 {
		s += 0.3 * m.sharpe
	}
	if m.sharpe < -1 {
		s *= 0.5
	}
	s += (m.winRate - 0.5) * 0.5
	if m.maxDrawdown > 0.10 {
		s *= 1 - m.maxDrawdown
	}
	if n >= consistencySamples {
		s += 0.15 * (1 - m.volatility)
	}

	r := m.returns.Values()
	s += 10 * features.Mean(r, recentSamples)

	if regret := m.windowRegret(); p.regretCap > 0 && regret > p.regretCap {
		s *= math.Exp(-p.learningRate * (regret - p.regretCap) / p.regretCap)
	}

	if math.IsNaN(s) || s < scoreFloor {
		return scoreFloor
	}
	return s
}

type weightParams struct {
	min, max float64
	penalty  float64
}

// computeWeights turns pod scores into a weight vector: normalize, clamp to
// [min,max], shrink anything above the concentration limit, renormalize, then
// project back into the bounds. The result sums to min(1, n*max) and every
// weight lies in [min,max]. When n*min > 1 the bounds cannot all hold and the
// vector falls back to equal weights.
func computeWeights(pods []string, scores map[string]float64, p weightParams) map[string]float64 {
	n := len(pods)
	out := make(map[string]float64, n)
	if n == 0 {
		return out
	}
	if float64(n)*p.min > 1+1e-12 {
		return equalWeights(pods)
	}

	total := 0.0
	for _, pod := range pods {
		total += scores[pod]
	}
	if total <= 0 {
		out = equalWeights(pods)
	} else {
		for _, pod := range pods {
			out[pod] = scores[pod] / total
		}
	}

	for _, pod := range pods {
		out[pod] = clamp(out[pod], p.min, p.max)
	}
	for _, pod := range pods {
		if out[pod] > concentrationLimit {
			out[pod] *= 1 - p.penalty
		}
	}

	sum := 0.0
	for _, pod := range pods {
		sum += out[pod]
	}
	if sum <= 0 {
		out = equalWeights(pods)
	} else {
		for _, pod := range pods {
			out[pod] /= sum
		}
	}

	return project(pods, out, p.min, p.max)
}

// project finds the shift lambda for which sum(clamp(w+lambda, lo, hi))
// equals min(1, n*hi). Vectors already inside the bounds come back unchanged.
func project(pods []string, w map[string]float64, lo, hi float64) map[string]float64 {
	n := float64(len(pods))
	target := math.Min(1, n*hi)

	within := true
	sum := 0.0
	for _, pod := range pods {
		if w[pod] < lo-1e-12 || w[pod] > hi+1e-12 {
			within = false
		}
		sum += w[pod]
	}
	if within && math.Abs(sum-target) < 1e-12 {
		return w
	}

	total := func(lambda float64) float64 {
		s := 0.0
		for _, pod := range pods {
			s += clamp(w[pod]+lambda, lo, hi)
		}
		return s
	}
	left, right := -1-hi, 1+hi
	for i := 0; i < 200; i++ {
		mid := (left + right) / 2
		if total(mid) < target {
			left = mid
		} else {
			right = mid
		}
	}

	out := make(map[string]float64, len(pods))
	for _, pod := range pods {
		out[pod] = clamp(w[pod]+right, lo, hi)
	}
	return out
}

func equalWeights(pods []string) map[string]float64 {
	out := make(map[string]float64, len(pods))
	for _, pod := range pods {
		out[pod] = 1 / float64(len(pods))
	}
	return out
}

// exceeds reports whether any pod moves by more than threshold.
func exceeds(current, target map[string]float64, threshold float64) bool {
	for pod, w := range target {
		if math.Abs(w-current[pod]) > threshold {
			return true
		}
	}
	for pod, w := range current {
		if _, ok := target[pod]; !ok && w > threshold {
			return true
		}
	}
	return false
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
