package usecase

import (
	"context"
	"fmt"
	"sync"
	"time"

	"AlphaBlend/internal/domain/models"
	domrepo "AlphaBlend/internal/domain/repository"
	"AlphaBlend/pkg/logger"
)

const defaultSinkTimeout = 2 * time.Second

// EngineOption configures DecisionEngine.
type EngineOption func(*DecisionEngine)

// WithSinks appends decision sinks. Nil sinks are skipped.
func WithSinks(sinks ...domrepo.DecisionSink) EngineOption {
	return func(e *DecisionEngine) {
		for _, s := range sinks {
			if s != nil {
				e.sinks = append(e.sinks, s)
			}
		}
	}
}

func WithSinkTimeout(d time.Duration) EngineOption {
	return func(e *DecisionEngine) {
		if d > 0 {
			e.sinkTimeout = d
		}
	}
}

// DecisionEngine turns one feature update into one blended decision and
// delivers it to every sink. Updates for the same symbol are serialized
// because pod state is per symbol.
type DecisionEngine struct {
	registry    *PodRegistry
	metrics     domrepo.Metrics
	logger      *logger.Logger
	sinks       []domrepo.DecisionSink
	sinkTimeout time.Duration

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

func NewDecisionEngine(registry *PodRegistry, metrics domrepo.Metrics, l *logger.Logger, opts ...EngineOption) *DecisionEngine {
	if l == nil {
		l = logger.Nop()
	}
	if metrics == nil {
		metrics = nopMetrics{}
	}
	e := &DecisionEngine{
		registry:    registry,
		metrics:     metrics,
		logger:      l,
		sinkTimeout: defaultSinkTimeout,
		locks:       make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Process runs every enabled pod on the update, blends the result and fans the
// decision out to the sinks. Only invalid input is an error; pod and sink
// failures degrade the decision but never fail it.
func (e *DecisionEngine) Process(ctx context.Context, u models.FeatureUpdate) (*models.BlendedSignal, error) {
	if u.Symbol == "" {
		return nil, fmt.Errorf("%w: symbol is required", models.ErrInvalidFeature)
	}
	if err := u.Features.CheckFinite(); err != nil {
		return nil, err
	}
	if u.Features.Close <= 0 {
		return nil, fmt.Errorf("%w: close must be positive", models.ErrInvalidFeature)
	}

	start := time.Now()
	lock := e.symbolLock(u.Symbol)
	lock.Lock()
	signals := e.registry.ComputeSignals(ctx, u.Symbol, u.Features, u.Context())
	decision := e.registry.BlendSignals(signals, u.Symbol)
	lock.Unlock()

	if !u.Timestamp.IsZero() {
		decision.Timestamp = u.Timestamp
	}
	e.metrics.RecordBlend(u.Symbol, decision.Signal, decision.Confidence, len(decision.Signals))
	e.metrics.RecordLatency("decision", time.Since(start).Seconds())
	e.logger.Debug("decision blended",
		logger.String("symbol", u.Symbol),
		logger.Float64("signal", decision.Signal),
		logger.Float64("confidence", decision.Confidence),
		logger.Int("contributors", len(decision.Signals)),
	)

	e.deliver(ctx, decision)
	return decision, nil
}

// ReportPnL forwards realized P&L to the pods and the allocator.
func (e *DecisionEngine) ReportPnL(r models.PnLReport) {
	e.registry.UpdatePerformance(r.PnL)
}

func (e *DecisionEngine) Registry() *PodRegistry { return e.registry }

func (e *DecisionEngine) deliver(ctx context.Context, d *models.BlendedSignal) {
	for _, s := range e.sinks {
		sctx, cancel := context.WithTimeout(ctx, e.sinkTimeout)
		err := s.Deliver(sctx, d)
		cancel()
		if err != nil {
			e.metrics.RecordSinkError(s.Name())
			e.logger.Warn("decision sink failed",
				logger.String("sink", s.Name()),
				logger.String("symbol", d.Symbol),
				logger.Error(err),
			)
		}
	}
}

func (e *DecisionEngine) symbolLock(symbol string) *sync.Mutex {
	e.locksMu.Lock()
	defer e.locksMu.Unlock()
	l, ok := e.locks[symbol]
	if !ok {
		l = &sync.Mutex{}
		e.locks[symbol] = l
	}
	return l
}
