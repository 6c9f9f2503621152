package usecase

import (
	"context"
	"errors"
	"fmt"
	"math"
	"runtime/debug"
	"slices"
	"sync"
	"time"

	"AlphaBlend/internal/domain/models"
	domrepo "AlphaBlend/internal/domain/repository"
	domsvc "AlphaBlend/internal/domain/service"
	"AlphaBlend/pkg/logger"

	"github.com/google/uuid"
)

// PodRegistry owns the pod set, fans feature updates out to enabled pods and
// blends their signals with the weights supplied by the allocator.
type PodRegistry struct {
	weights domsvc.WeightSource
	metrics domrepo.Metrics
	logger  *logger.Logger
	now     func() time.Time

	mu    sync.RWMutex
	pods  map[string]domsvc.Pod
	order []string
}

func NewPodRegistry(weights domsvc.WeightSource, metrics domrepo.Metrics, l *logger.Logger) *PodRegistry {
	if l == nil {
		l = logger.Nop()
	}
	if metrics == nil {
		metrics = nopMetrics{}
	}
	return &PodRegistry{
		weights: weights,
		metrics: metrics,
		logger:  l,
		now:     time.Now,
		pods:    make(map[string]domsvc.Pod),
	}
}

// Register adds a pod and announces it to the allocator.
func (r *PodRegistry) Register(p domsvc.Pod) error {
	if p == nil || p.Name() == "" {
		return fmt.Errorf("%w: pod must have a name", models.ErrConfiguration)
	}
	r.mu.Lock()
	if _, ok := r.pods[p.Name()]; ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", models.ErrDuplicatePod, p.Name())
	}
	r.pods[p.Name()] = p
	r.order = append(r.order, p.Name())
	r.mu.Unlock()

	r.weights.RegisterPod(p.Name())
	r.logger.Info("pod registered",
		logger.String("pod", p.Name()),
		logger.Int("warmup_bars", p.WarmupBars()),
		logger.Bool("enabled", p.Enabled()),
	)
	return nil
}

func (r *PodRegistry) Unregister(name string) error {
	r.mu.Lock()
	if _, ok := r.pods[name]; !ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", models.ErrUnknownPod, name)
	}
	delete(r.pods, name)
	r.order = slices.DeleteFunc(r.order, func(n string) bool { return n == name })
	r.mu.Unlock()

	r.weights.RemovePod(name)
	r.logger.Info("pod unregistered", logger.String("pod", name))
	return nil
}

// Pods returns the registered pods in registration order.
func (r *PodRegistry) Pods() []domsvc.Pod {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domsvc.Pod, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.pods[name])
	}
	return out
}

func (r *PodRegistry) Pod(name string) (domsvc.Pod, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.pods[name]
	return p, ok
}

func (r *PodRegistry) SetEnabled(name string, enabled bool) error {
	p, ok := r.Pod(name)
	if !ok {
		return fmt.Errorf("%w: %s", models.ErrUnknownPod, name)
	}
	p.SetEnabled(enabled)
	r.logger.Info("pod toggled", logger.String("pod", name), logger.Bool("enabled", enabled))
	return nil
}

// Initialize runs every pod's Initialize hook. All pods are attempted; the
// joined error names each failing pod.
func (r *PodRegistry) Initialize(ctx context.Context) error {
	var errs []error
	for _, p := range r.Pods() {
		in, ok := p.(domsvc.Initializer)
		if !ok {
			continue
		}
		if err := in.Initialize(ctx); err != nil {
			errs = append(errs, fmt.Errorf("initialize %s: %w", p.Name(), err))
		}
	}
	return errors.Join(errs...)
}

func (r *PodRegistry) Cleanup(ctx context.Context) error {
	var errs []error
	for _, p := range r.Pods() {
		c, ok := p.(domsvc.Cleaner)
		if !ok {
			continue
		}
		if err := c.Cleanup(ctx); err != nil {
			errs = append(errs, fmt.Errorf("cleanup %s: %w", p.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// ComputeSignals runs every enabled pod on the update concurrently. A pod that
// fails or panics is logged and abstains; the others still contribute.
// Signals are returned in registration order.
func (r *PodRegistry) ComputeSignals(ctx context.Context, symbol string, f models.Features, mc models.MarketContext) []*models.AlphaSignal {
	if mc.Symbol == "" {
		mc.Symbol = symbol
	}
	if mc.Timestamp.IsZero() {
		mc.Timestamp = r.now()
	}

	pods := r.Pods()
	results := make([]*models.AlphaSignal, len(pods))
	var wg sync.WaitGroup
	for i, p := range pods {
		if !p.Enabled() {
			continue
		}
		wg.Add(1)
		go func(i int, p domsvc.Pod) {
			defer wg.Done()
			sig, err := r.computeOne(ctx, p, f, mc)
			if err != nil {
				r.reportFailure(p.Name(), symbol, err)
				return
			}
			if sig == nil {
				return
			}
			sig.Symbol = symbol
			sig.Timestamp = mc.Timestamp
			sig.Pod = p.Name()
			r.metrics.RecordSignal(sig.Pod, symbol, sig.Signal, sig.Confidence)
			results[i] = sig
		}(i, p)
	}
	wg.Wait()

	return slices.DeleteFunc(results, func(s *models.AlphaSignal) bool { return s == nil })
}

func (r *PodRegistry) computeOne(ctx context.Context, p domsvc.Pod, f models.Features, mc models.MarketContext) (sig *models.AlphaSignal, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("pod panicked",
				logger.String("pod", p.Name()),
				logger.Any("panic", rec),
				logger.String("stack", string(debug.Stack())),
			)
			sig, err = nil, fmt.Errorf("%w: %s panicked: %v", models.ErrPodComputeFailure, p.Name(), rec)
		}
	}()

	start := time.Now()
	sig, err = p.Compute(ctx, f, mc)
	r.metrics.RecordLatency("pod_compute_"+p.Name(), time.Since(start).Seconds())
	if err != nil {
		if errors.Is(err, models.ErrInvalidFeature) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %s: %w", models.ErrPodComputeFailure, p.Name(), err)
	}
	if sig != nil && (math.IsNaN(sig.Signal) || math.IsNaN(sig.Confidence)) {
		return nil, fmt.Errorf("%w: %s produced a NaN signal", models.ErrPodComputeFailure, p.Name())
	}
	return sig, nil
}

func (r *PodRegistry) reportFailure(pod, symbol string, err error) {
	kind := "compute"
	if errors.Is(err, models.ErrInvalidFeature) {
		kind = "invalid_feature"
		r.logger.Warn("pod skipped tick on invalid features",
			logger.String("pod", pod), logger.String("symbol", symbol), logger.Error(err))
	} else {
		r.logger.Error("pod compute failed",
			logger.String("pod", pod), logger.String("symbol", symbol), logger.Error(err))
	}
	r.metrics.RecordPodError(pod, kind)
}

// BlendSignals combines pod signals for symbol with the allocator's weights.
//
//	signal     = Σ(s·c·w) / Σ(c·w)
//	confidence = Σ(c·w) / Σ(w)
//	attribution[pod] = s·w
//
// Only signals from registered, enabled pods count. When the contributing
// weight is zero the result is a neutral decision with zero confidence.
func (r *PodRegistry) BlendSignals(signals []*models.AlphaSignal, symbol string) *models.BlendedSignal {
	weights := r.weights.WeightsFor(symbol)
	out := &models.BlendedSignal{
		ID:          uuid.NewString(),
		Symbol:      symbol,
		Timestamp:   r.now(),
		Attribution: make(map[string]float64, len(signals)),
		Weights:     weights,
	}

	var totalW, totalCW, totalSCW float64
	for _, s := range signals {
		if s == nil || !r.active(s.Pod) {
			continue
		}
		w := weights[s.Pod]
		if w <= 0 {
			continue
		}
		totalW += w
		totalCW += s.Confidence * w
		totalSCW += s.Signal * s.Confidence * w
		out.Attribution[s.Pod] += s.Signal * w
		out.Signals = append(out.Signals, s)
	}
	if len(out.Signals) > 0 && !out.Signals[0].Timestamp.IsZero() {
		out.Timestamp = out.Signals[0].Timestamp
	}

	if totalW <= 0 {
		return out
	}
	if totalCW > 0 {
		out.Signal = models.Clamp(totalSCW/totalCW, -1, 1)
	}
	out.Confidence = models.Clamp(totalCW/totalW, 0, 1)
	return out
}

func (r *PodRegistry) active(name string) bool {
	p, ok := r.Pod(name)
	return ok && p.Enabled()
}

// UpdatePerformance fans realized P&L out to each pod's local record and to
// the allocator. Entries for unknown pods are dropped with a warning.
func (r *PodRegistry) UpdatePerformance(podPnL map[string]float64) {
	now := r.now()
	known := make(map[string]float64, len(podPnL))
	for name, pnl := range podPnL {
		p, ok := r.Pod(name)
		if !ok {
			r.logger.Warn("pnl reported for unknown pod", logger.String("pod", name))
			continue
		}
		if math.IsNaN(pnl) || math.IsInf(pnl, 0) {
			r.logger.Warn("non-finite pnl ignored", logger.String("pod", name))
			continue
		}
		if u, ok := p.(domsvc.PerformanceUpdater); ok {
			u.UpdatePerformance(pnl, now)
		}
		known[name] = pnl
	}
	if len(known) > 0 {
		r.weights.UpdatePnL(known)
	}
}
