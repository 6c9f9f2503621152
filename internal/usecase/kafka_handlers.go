package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"AlphaBlend/internal/domain/models"
	domrepo "AlphaBlend/internal/domain/repository"
	pkgkafka "AlphaBlend/pkg/kafka"
)

// UpdateProcessor turns a feature update into a decision. Both the engine and
// the ingest pipeline in front of it satisfy it.
type UpdateProcessor interface {
	Process(ctx context.Context, u models.FeatureUpdate) (*models.BlendedSignal, error)
}

// KafkaFeaturesHandler feeds feature updates from Kafka into the engine.
type KafkaFeaturesHandler struct {
	topic   string
	proc    UpdateProcessor
	metrics domrepo.Metrics
}

func NewKafkaFeaturesHandler(topic string, proc UpdateProcessor, metrics domrepo.Metrics) *KafkaFeaturesHandler {
	if metrics == nil {
		metrics = nopMetrics{}
	}
	return &KafkaFeaturesHandler{topic: topic, proc: proc, metrics: metrics}
}

func (h *KafkaFeaturesHandler) Topic() string { return h.topic }

// incoming message schema: FeatureUpdate, with an optional epoch "t" (s or ms)
// used when "timestamp" is absent.
func (h *KafkaFeaturesHandler) Handle(ctx context.Context, b []byte) error {
	var m struct {
		models.FeatureUpdate
		T int64 `json:"t"`
	}
	if err := json.Unmarshal(b, &m); err != nil {
		h.metrics.RecordIngestError("consumer_unmarshal")
		return fmt.Errorf("decode feature update: %w", err)
	}
	u := m.FeatureUpdate
	if u.Timestamp.IsZero() && m.T > 0 {
		u.Timestamp = epoch(m.T)
	}
	if !u.Timestamp.IsZero() {
		h.metrics.RecordLatency("ingest_e2e", time.Since(u.Timestamp).Seconds())
	}

	// Invalid or throttled updates will not get better on retry; drop them.
	_, _ = h.proc.Process(ctx, u)
	return nil
}

// KafkaPnLHandler applies realized P&L reports from Kafka.
type KafkaPnLHandler struct {
	topic   string
	engine  *DecisionEngine
	metrics domrepo.Metrics
}

func NewKafkaPnLHandler(topic string, engine *DecisionEngine, metrics domrepo.Metrics) *KafkaPnLHandler {
	if metrics == nil {
		metrics = nopMetrics{}
	}
	return &KafkaPnLHandler{topic: topic, engine: engine, metrics: metrics}
}

func (h *KafkaPnLHandler) Topic() string { return h.topic }

// incoming message schema: {pnl: {pod: value}, timestamp}
func (h *KafkaPnLHandler) Handle(_ context.Context, b []byte) error {
	var r models.PnLReport
	if err := json.Unmarshal(b, &r); err != nil {
		h.metrics.RecordIngestError("consumer_unmarshal")
		return fmt.Errorf("decode pnl report: %w", err)
	}
	if len(r.PnL) == 0 {
		return nil
	}
	h.engine.ReportPnL(r)
	return nil
}

func epoch(t int64) time.Time {
	if t > 1e11 { // ms
		return time.UnixMilli(t).UTC()
	}
	return time.Unix(t, 0).UTC()
}

var (
	_ pkgkafka.MessageHandler = (*KafkaFeaturesHandler)(nil)
	_ pkgkafka.MessageHandler = (*KafkaPnLHandler)(nil)
)
