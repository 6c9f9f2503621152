package service

import (
	"context"
	"time"

	"AlphaBlend/internal/domain/models"
)

// ModelService scores a feature vector with an externally served model.
// Implementations must honour ctx cancellation.
type ModelService interface {
	Predict(ctx context.Context, symbol string, features map[string]float64, ts time.Time) (models.ModelPrediction, error)
	HealthCheck(ctx context.Context) bool
}
