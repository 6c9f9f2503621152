package repository

import (
	"context"

	"AlphaBlend/internal/domain/models"
)

// DecisionSink receives every blended decision. Sinks must not block for long;
// errors are logged by the caller and never fail the decision.
type DecisionSink interface {
	Name() string
	Deliver(ctx context.Context, d *models.BlendedSignal) error
}

// DecisionStore persists decisions for later analysis.
type DecisionStore interface {
	DecisionSink
	Init(ctx context.Context) error
	Recent(ctx context.Context, symbol string, limit int) ([]*models.BlendedSignal, error)
	Health(ctx context.Context) error
}

// StateStore keeps allocator snapshots across restarts.
type StateStore interface {
	Save(ctx context.Context, state *models.MetaAllocatorState) error
	Load(ctx context.Context) (*models.MetaAllocatorState, error)
}

// Metrics is the observability sink for the decision pipeline.
type Metrics interface {
	RecordSignal(pod, symbol string, signal, confidence float64)
	RecordBlend(symbol string, signal, confidence float64, contributors int)
	RecordPodError(pod, kind string)
	RecordWeight(symbol, pod string, weight float64)
	RecordRebalance(committed int)
	RecordModelCall(outcome string, seconds float64)
	RecordSinkError(sink string)
	RecordIngestError(kind string)
	RecordLatency(op string, seconds float64)
}
