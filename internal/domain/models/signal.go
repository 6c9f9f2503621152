package models

import (
	"time"

	"github.com/google/uuid"
)

// AlphaSignal is one pod's opinion about one symbol at one instant.
// Signal is in [-1, 1] (sign is direction), Confidence in [0, 1].
type AlphaSignal struct {
	ID         string         `json:"id"`
	Symbol     string         `json:"symbol"`
	Timestamp  time.Time      `json:"timestamp"`
	Signal     float64        `json:"signal"`
	Confidence float64        `json:"confidence"`
	Volatility float64        `json:"volatility"`
	Pod        string         `json:"pod"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// NewAlphaSignal builds a signal with a fresh ID and both values clamped to their ranges.
func NewAlphaSignal(pod string, signal, confidence, volatility float64, meta map[string]any) *AlphaSignal {
	return &AlphaSignal{
		ID:         uuid.NewString(),
		Signal:     Clamp(signal, -1, 1),
		Confidence: Clamp(confidence, 0, 1),
		Volatility: volatility,
		Pod:        pod,
		Metadata:   meta,
	}
}

// BlendedSignal is the weighted combination of every contributing pod signal.
type BlendedSignal struct {
	ID          string             `json:"id"`
	Symbol      string             `json:"symbol"`
	Timestamp   time.Time          `json:"timestamp"`
	Signal      float64            `json:"signal"`
	Confidence  float64            `json:"confidence"`
	Attribution map[string]float64 `json:"attribution"`
	Weights     map[string]float64 `json:"weights"`
	Signals     []*AlphaSignal     `json:"signals,omitempty"`
}

// Neutral reports whether downstream risk logic should treat the decision as "no trade".
func (b *BlendedSignal) Neutral() bool {
	return b.Confidence == 0
}

// Direction is +1, -1 or 0.
func (b *BlendedSignal) Direction() int {
	switch {
	case b.Signal > 0:
		return 1
	case b.Signal < 0:
		return -1
	default:
		return 0
	}
}

// Clamp bounds v to [lo, hi].
func Clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
