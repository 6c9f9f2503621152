package service

import (
	"context"
	"time"

	"AlphaBlend/internal/domain/models"
)

// Pod is an independent strategy module. Compute returns (nil, nil) when the
// pod has no opinion: not enough history, or a result below its confidence floor.
// Compute is not safe for concurrent calls on the same symbol.
type Pod interface {
	Name() string
	WarmupBars() int
	Enabled() bool
	SetEnabled(enabled bool)
	Compute(ctx context.Context, f models.Features, mc models.MarketContext) (*models.AlphaSignal, error)
}

// Initializer is implemented by pods that need setup before the first Compute.
type Initializer interface {
	Initialize(ctx context.Context) error
}

// Cleaner is implemented by pods holding resources.
type Cleaner interface {
	Cleanup(ctx context.Context) error
}

// PerformanceReporter exposes a pod's local P&L record.
type PerformanceReporter interface {
	Performance() models.PodPerformance
}

// PerformanceUpdater accepts realized P&L for a pod.
type PerformanceUpdater interface {
	UpdatePerformance(pnl float64, at time.Time)
}

// WeightSource supplies per-symbol pod weights and consumes realized P&L.
type WeightSource interface {
	WeightsFor(symbol string) map[string]float64
	UpdatePnL(podPnL map[string]float64)
	RegisterPod(name string)
	RemovePod(name string)
}
