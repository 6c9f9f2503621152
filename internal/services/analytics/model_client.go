package analytics

import (
	"context"
	"time"

	"AlphaBlend/internal/domain/models"
	domrepo "AlphaBlend/internal/domain/repository"
	domsvc "AlphaBlend/internal/domain/service"
	"AlphaBlend/pkg/config"
)

// HTTPModelService talks to the gradient-boosted model server:
//
//	POST /predict {symbol, features, timestamp}
//	GET  /health
type HTTPModelService struct {
	base    *HTTPServiceBase
	metrics domrepo.Metrics
	now     func() time.Time
}

func NewHTTPModelService(cfg config.ModelServiceConfig, metrics domrepo.Metrics) *HTTPModelService {
	return &HTTPModelService{
		base:    NewHTTPServiceBase("model-service", cfg),
		metrics: metrics,
		now:     time.Now,
	}
}

type predictRequest struct {
	Symbol    string             `json:"symbol"`
	Features  map[string]float64 `json:"features"`
	Timestamp string             `json:"timestamp"`
}

// predictResponse keeps the timestamp as text: the server emits ISO-8601
// without a zone.
type predictResponse struct {
	Symbol     string         `json:"symbol"`
	Prediction float64        `json:"prediction"`
	Confidence float64        `json:"confidence"`
	ModelName  string         `json:"model_name"`
	Timestamp  string         `json:"timestamp"`
	Metadata   map[string]any `json:"metadata"`
}

type healthResponse struct {
	Status       string `json:"status"`
	ModelsLoaded int    `json:"models_loaded"`
	Service      string `json:"service"`
}

func (s *HTTPModelService) Predict(ctx context.Context, symbol string, features map[string]float64, ts time.Time) (models.ModelPrediction, error) {
	if ts.IsZero() {
		ts = s.now()
	}
	req := predictRequest{Symbol: symbol, Features: features, Timestamp: ts.UTC().Format(time.RFC3339Nano)}

	var resp predictResponse
	start := time.Now()
	outcome, err := s.base.PostJSON(ctx, "/predict", req, &resp)
	if s.metrics != nil {
		s.metrics.RecordModelCall(outcome, time.Since(start).Seconds())
	}
	if err != nil {
		return models.ModelPrediction{}, err
	}
	pred := models.ModelPrediction{
		Symbol:     resp.Symbol,
		Prediction: resp.Prediction,
		Confidence: resp.Confidence,
		ModelName:  resp.ModelName,
		Timestamp:  parseTimestamp(resp.Timestamp, ts),
		Metadata:   resp.Metadata,
	}
	if pred.Symbol == "" {
		pred.Symbol = symbol
	}
	return pred, nil
}

var timestampLayouts = []string{time.RFC3339Nano, "2006-01-02T15:04:05.999999999", "2006-01-02 15:04:05"}

func parseTimestamp(s string, fallback time.Time) time.Time {
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return fallback
}

// Health probes GET /health. It never returns an error; an unreachable
// service is reported as unhealthy.
func (s *HTTPModelService) Health(ctx context.Context) models.ModelHealth {
	h := models.ModelHealth{CheckedAt: s.now(), Status: "unreachable"}
	var resp healthResponse
	if _, err := s.base.GetJSON(ctx, "/health", &resp); err == nil {
		h.Status = resp.Status
		h.ModelsLoaded = resp.ModelsLoaded
		h.Healthy = resp.Status == "healthy"
	}
	h.Breaker = s.base.BreakerState()
	return h
}

func (s *HTTPModelService) HealthCheck(ctx context.Context) bool {
	return s.Health(ctx).Healthy
}

var _ domsvc.ModelService = (*HTTPModelService)(nil)
