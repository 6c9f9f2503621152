package models

import "time"

// ModelPrediction is the model service answer for one feature vector.
type ModelPrediction struct {
	Symbol     string         `json:"symbol"`
	Prediction float64        `json:"prediction"`
	Confidence float64        `json:"confidence"`
	ModelName  string         `json:"model_name"`
	Timestamp  time.Time      `json:"timestamp"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// ConfidenceBucket mirrors the buckets the model service reports.
func ConfidenceBucket(conf float64) string {
	switch {
	case conf >= 0.8:
		return "high"
	case conf >= 0.6:
		return "medium"
	case conf >= 0.4:
		return "low"
	default:
		return "very_low"
	}
}

// ModelHealth is the result of the model service health probe.
type ModelHealth struct {
	Healthy      bool      `json:"healthy"`
	Status       string    `json:"status"`
	ModelsLoaded int       `json:"models_loaded"`
	CheckedAt    time.Time `json:"checked_at"`
	Breaker      string    `json:"breaker,omitempty"`
}
