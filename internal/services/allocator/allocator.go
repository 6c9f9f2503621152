package allocator

import (
	"fmt"
	"maps"
	"math"
	"slices"
	"sync"
	"time"

	"AlphaBlend/internal/domain/models"
	"AlphaBlend/internal/domain/repository"
	domsvc "AlphaBlend/internal/domain/service"
	"AlphaBlend/pkg/config"
	"AlphaBlend/pkg/logger"
)

// Option configures MetaAllocator.
type Option func(*MetaAllocator)

// WithClock replaces time.Now. Tests drive rebalances through it.
func WithClock(now func() time.Time) Option {
	return func(a *MetaAllocator) { a.now = now }
}

func WithLogger(l *logger.Logger) Option {
	return func(a *MetaAllocator) {
		if l != nil {
			a.logger = l
		}
	}
}

func WithMetrics(m repository.Metrics) Option {
	return func(a *MetaAllocator) { a.metrics = m }
}

// MetaAllocator assigns per-symbol pod weights from realized pod P&L.
//
// Weights are read through WeightsFor and replaced only by a rebalance,
// ResetWeights or Restore. Every write swaps in a complete map for a symbol,
// so readers never observe a half-updated vector.
type MetaAllocator struct {
	cfg            config.AllocatorConfig
	window         int
	periodsPerYear float64
	now            func() time.Time
	logger         *logger.Logger
	metrics        repository.Metrics

	mu            sync.RWMutex
	pods          []string
	weights       map[string]map[string]float64
	override      map[string]float64
	podMetrics    map[string]*podMetrics
	performance   map[string]models.PodPerformance
	lastUpdate    time.Time
	lastRebalance time.Time
}

func NewMetaAllocator(cfg config.AllocatorConfig, opts ...Option) (*MetaAllocator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrConfiguration, err)
	}
	if cfg.UpdateFrequency <= 0 || cfg.PerformanceWindowDays <= 0 || cfg.SamplesPerDay <= 0 {
		return nil, fmt.Errorf("%w: update frequency and performance window must be positive", models.ErrConfiguration)
	}
	if cfg.MaxPodWeight <= 0 || cfg.MaxPodWeight > 1 || cfg.MinPodWeight < 0 {
		return nil, fmt.Errorf("%w: pod weight bounds must satisfy 0 <= min <= max <= 1", models.ErrConfiguration)
	}

	a := &MetaAllocator{
		cfg:            cfg,
		window:         cfg.PerformanceWindowDays * cfg.SamplesPerDay,
		periodsPerYear: 365 * float64(cfg.SamplesPerDay),
		now:            time.Now,
		logger:         logger.Nop(),
		weights:        make(map[string]map[string]float64),
		podMetrics:     make(map[string]*podMetrics),
		performance:    make(map[string]models.PodPerformance),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.lastRebalance = a.now()
	return a, nil
}

// RegisterPod makes a pod eligible for weight. Existing symbols are
// re-weighted immediately so the new pod does not sit at zero until the
// next scheduled rebalance.
func (a *MetaAllocator) RegisterPod(name string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if slices.Contains(a.pods, name) {
		return
	}
	a.pods = append(a.pods, name)
	if _, ok := a.podMetrics[name]; !ok {
		a.podMetrics[name] = newPodMetrics(a.window)
	}
	if _, ok := a.performance[name]; !ok {
		a.performance[name] = models.PodPerformance{Pod: name}
	}
	if float64(len(a.pods))*a.cfg.MinPodWeight > 1 {
		a.logger.Warn("min pod weight infeasible for pod count, falling back to equal weights",
			logger.Int("pods", len(a.pods)),
			logger.Float64("min_pod_weight", a.cfg.MinPodWeight),
		)
	}
	a.rebalanceLocked(true)
}

// RemovePod drops a pod from every weight vector. Its history is kept so a
// re-registered pod resumes where it left off.
func (a *MetaAllocator) RemovePod(name string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	idx := slices.Index(a.pods, name)
	if idx < 0 {
		return
	}
	a.pods = slices.Delete(a.pods, idx, idx+1)
	a.rebalanceLocked(true)
}

// Pods returns the registered pod names in registration order.
func (a *MetaAllocator) Pods() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return slices.Clone(a.pods)
}

// WeightsFor returns a copy of the symbol's weights. Unseen symbols are
// seeded with the active manual override, or else with equal weights
// projected into [MinPodWeight, MaxPodWeight].
func (a *MetaAllocator) WeightsFor(symbol string) map[string]float64 {
	a.mu.RLock()
	w, ok := a.weights[symbol]
	a.mu.RUnlock()
	if ok {
		return maps.Clone(w)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if w, ok := a.weights[symbol]; ok {
		return maps.Clone(w)
	}
	if len(a.pods) == 0 {
		return map[string]float64{}
	}
	seed := a.seedLocked()
	a.weights[symbol] = seed
	return maps.Clone(seed)
}

func (a *MetaAllocator) seedLocked() map[string]float64 {
	if a.override != nil {
		return maps.Clone(a.override)
	}
	eq := equalWeights(a.pods)
	if float64(len(a.pods))*a.cfg.MinPodWeight > 1+1e-12 {
		return eq
	}
	return project(a.pods, eq, a.cfg.MinPodWeight, a.cfg.MaxPodWeight)
}

// UpdatePnL records realized P&L per pod and rebalances when the update
// interval has elapsed. Reports for unregistered pods are ignored.
func (a *MetaAllocator) UpdatePnL(podPnL map[string]float64) {
	now := a.now()

	a.mu.Lock()
	best := math.Inf(-1)
	for pod, pnl := range podPnL {
		if _, ok := a.podMetrics[pod]; ok && !math.IsInf(pnl, 0) && pnl > best {
			best = pnl
		}
	}
	for _, pod := range sortedKeys(podPnL) {
		pnl := podPnL[pod]
		m, ok := a.podMetrics[pod]
		if !ok {
			a.logger.Warn("pnl for unknown pod ignored", logger.String("pod", pod))
			continue
		}
		if math.IsNaN(pnl) || math.IsInf(pnl, 0) {
			a.logger.Warn("non-finite pnl ignored", logger.String("pod", pod))
			continue
		}
		m.returns.Push(pnl)
		m.regret.Push(best - pnl)
		m.recompute(a.periodsPerYear)

		perf := a.performance[pod]
		perf.Pod = pod
		perf.Record(pnl, now)
		a.performance[pod] = perf
	}
	a.lastUpdate = now
	a.mu.Unlock()

	a.MaybeRebalance(now)
}

// MaybeRebalance runs a rebalance pass if UpdateFrequency has elapsed since
// the last one. It reports whether a pass ran.
func (a *MetaAllocator) MaybeRebalance(now time.Time) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if now.Sub(a.lastRebalance) < a.cfg.UpdateFrequency {
		return false
	}
	a.lastRebalance = now
	a.rebalanceLocked(false)
	return true
}

// Rebalance forces a pass regardless of the interval and returns how many
// symbols had new weights committed.
func (a *MetaAllocator) Rebalance() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.lastRebalance = a.now()
	return a.rebalanceLocked(false)
}

func (a *MetaAllocator) rebalanceLocked(force bool) int {
	if force {
		a.override = nil
	}
	if len(a.weights) == 0 {
		return 0
	}
	target := a.targetLocked()

	committed := 0
	for _, symbol := range sortedKeys(a.weights) {
		current := a.weights[symbol]
		if !force && !exceeds(current, target, a.cfg.RebalanceThreshold) {
			continue
		}
		a.weights[symbol] = maps.Clone(target)
		committed++
		if a.metrics != nil {
			for pod, w := range target {
				a.metrics.RecordWeight(symbol, pod, w)
			}
		}
	}
	if a.metrics != nil {
		a.metrics.RecordRebalance(committed)
	}
	if committed > 0 {
		a.override = nil
		a.logger.Info("allocator weights committed",
			logger.Int("symbols", committed),
			logger.Any("weights", target),
			logger.Bool("forced", force),
		)
	}
	return committed
}

func (a *MetaAllocator) targetLocked() map[string]float64 {
	sp := scoreParams{regretCap: a.cfg.RegretCap, learningRate: a.cfg.LearningRate}
	scores := make(map[string]float64, len(a.pods))
	for _, pod := range a.pods {
		scores[pod] = score(a.podMetrics[pod], sp)
	}
	return computeWeights(a.pods, scores, weightParams{
		min:     a.cfg.MinPodWeight,
		max:     a.cfg.MaxPodWeight,
		penalty: a.cfg.DiversificationPenalty,
	})
}

// ResetWeights overwrites every known symbol's weights with w and keeps w as
// the seed for symbols first seen afterwards, until the next rebalance
// commits or the pod set changes. Pods must be registered, weights finite and
// non-negative, and the total at most 1. The [MinPodWeight, MaxPodWeight]
// bounds are not applied to a manual override.
func (a *MetaAllocator) ResetWeights(w map[string]float64) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	total := 0.0
	for pod, v := range w {
		if !slices.Contains(a.pods, pod) {
			return fmt.Errorf("%w: %s", models.ErrUnknownPod, pod)
		}
		if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: weight for %s must be finite and non-negative", models.ErrConfiguration, pod)
		}
		total += v
	}
	if total > 1+1e-9 {
		return fmt.Errorf("%w: weights sum to %.4f, more than 1", models.ErrConfiguration, total)
	}
	a.override = maps.Clone(w)
	for symbol := range a.weights {
		a.weights[symbol] = maps.Clone(w)
	}
	a.logger.Info("allocator weights reset", logger.Int("symbols", len(a.weights)), logger.Any("weights", w))
	return nil
}

// Scores returns each registered pod's current composite score.
func (a *MetaAllocator) Scores() map[string]float64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	sp := scoreParams{regretCap: a.cfg.RegretCap, learningRate: a.cfg.LearningRate}
	out := make(map[string]float64, len(a.pods))
	for _, pod := range a.pods {
		out[pod] = score(a.podMetrics[pod], sp)
	}
	return out
}

// Performance returns a copy of the per-pod realized P&L records.
func (a *MetaAllocator) Performance() map[string]models.PodPerformance {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return maps.Clone(a.performance)
}

// Snapshot returns a deep copy of the allocator state.
func (a *MetaAllocator) Snapshot() *models.MetaAllocatorState {
	a.mu.RLock()
	defer a.mu.RUnlock()
	st := &models.MetaAllocatorState{
		Weights:       make(map[string]map[string]float64, len(a.weights)),
		Performance:   maps.Clone(a.performance),
		Returns:       make(map[string][]float64, len(a.podMetrics)),
		Regret:        make(map[string][]float64, len(a.podMetrics)),
		LastUpdate:    a.lastUpdate,
		LastRebalance: a.lastRebalance,
	}
	for symbol, w := range a.weights {
		st.Weights[symbol] = maps.Clone(w)
	}
	for pod, m := range a.podMetrics {
		st.Returns[pod] = m.returns.Values()
		st.Regret[pod] = m.regret.Values()
	}
	return st
}

// Restore replaces the allocator state with a snapshot. Pod metrics are
// rebuilt from the stored return windows.
func (a *MetaAllocator) Restore(st *models.MetaAllocatorState) {
	if st == nil {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	a.weights = make(map[string]map[string]float64, len(st.Weights))
	a.override = nil
	for symbol, w := range st.Weights {
		a.weights[symbol] = maps.Clone(w)
	}
	for pod, perf := range st.Performance {
		a.performance[pod] = perf
	}
	for pod, returns := range st.Returns {
		m := newPodMetrics(a.window)
		for _, r := range returns {
			m.returns.Push(r)
		}
		for _, r := range st.Regret[pod] {
			m.regret.Push(r)
		}
		m.recompute(a.periodsPerYear)
		a.podMetrics[pod] = m
	}
	a.lastUpdate = st.LastUpdate
	if !st.LastRebalance.IsZero() {
		a.lastRebalance = st.LastRebalance
	}

	// Snapshots taken under a different pod set are re-weighted right away.
	var target map[string]float64
	for symbol, w := range a.weights {
		if samePods(w, a.pods) {
			continue
		}
		if target == nil {
			target = a.targetLocked()
		}
		a.weights[symbol] = maps.Clone(target)
	}
}

func samePods(w map[string]float64, pods []string) bool {
	if len(w) != len(pods) {
		return false
	}
	for _, pod := range pods {
		if _, ok := w[pod]; !ok {
			return false
		}
	}
	return true
}

var _ domsvc.WeightSource = (*MetaAllocator)(nil)
