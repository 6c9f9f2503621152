package pods

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"AlphaBlend/internal/domain/models"
	"AlphaBlend/pkg/logger"
)

// arena holds one state value per symbol. The mutex only guards the map;
// a state value is touched by one Compute call for its symbol at a time.
type arena[S any] struct {
	mu    sync.Mutex
	items map[string]*S
	init  func() *S
}

func newArena[S any](init func() *S) *arena[S] {
	return &arena[S]{items: make(map[string]*S), init: init}
}

func (a *arena[S]) get(symbol string) *S {
	a.mu.Lock()
	defer a.mu.Unlock()
	s, ok := a.items[symbol]
	if !ok {
		s = a.init()
		a.items[symbol] = s
	}
	return s
}

func (a *arena[S]) size() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.items)
}

// base carries what every pod shares: identity, the enabled flag and the
// local performance record.
type base struct {
	name    string
	warmup  int
	enabled atomic.Bool
	logger  *logger.Logger

	perfMu sync.Mutex
	perf   models.PodPerformance
}

func (b *base) setup(name string, warmup int, enabled bool, l *logger.Logger) {
	if l == nil {
		l = logger.Nop()
	}
	b.name = name
	b.warmup = warmup
	b.logger = l.With(logger.String("pod", name))
	b.enabled.Store(enabled)
	b.perf.Pod = name
}

func (b *base) Name() string       { return b.name }
func (b *base) WarmupBars() int    { return b.warmup }
func (b *base) Enabled() bool      { return b.enabled.Load() }
func (b *base) SetEnabled(on bool) { b.enabled.Store(on) }

func (b *base) Performance() models.PodPerformance {
	b.perfMu.Lock()
	defer b.perfMu.Unlock()
	return b.perf
}

func (b *base) UpdatePerformance(pnl float64, at time.Time) {
	b.perfMu.Lock()
	defer b.perfMu.Unlock()
	b.perf.Record(pnl, at)
}

func (b *base) signal(mc models.MarketContext, sig, conf, vol float64, meta map[string]any) *models.AlphaSignal {
	s := models.NewAlphaSignal(b.name, sig, conf, vol, meta)
	s.Symbol = mc.Symbol
	s.Timestamp = mc.Timestamp
	return s
}

func configErr(pod, format string, a ...any) error {
	return fmt.Errorf("%w: %s: %s", models.ErrConfiguration, pod, fmt.Sprintf(format, a...))
}

func sign(v float64) float64 {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	default:
		return 0
	}
}
