package models

import (
	"fmt"
	"math"
	"time"
)

// Features is one bar of market data for one symbol plus the derivatives
// data the pods look at.
type Features struct {
	Open        float64            `json:"open" validate:"gte=0"`
	High        float64            `json:"high" validate:"gte=0"`
	Low         float64            `json:"low" validate:"gte=0"`
	Close       float64            `json:"close" validate:"gt=0"`
	Volume      float64            `json:"volume" validate:"gte=0"`
	FundingRate float64            `json:"funding_rate"`
	Basis       float64            `json:"basis"`
	AvgVolume   float64            `json:"avg_volume" validate:"gte=0"`
	PrevVolume  float64            `json:"prev_volume" validate:"gte=0"`
	Extra       map[string]float64 `json:"extra,omitempty"`
}

// MarketContext carries the identity of the update.
type MarketContext struct {
	Symbol    string    `json:"symbol"`
	Timestamp time.Time `json:"timestamp"`
}

// FeatureUpdate is the inbound message on both the HTTP and Kafka paths.
type FeatureUpdate struct {
	Symbol    string    `json:"symbol" validate:"required"`
	Timestamp time.Time `json:"timestamp"`
	Features  Features  `json:"features" validate:"required"`
}

// Context returns the market context of the update.
func (u *FeatureUpdate) Context() MarketContext {
	return MarketContext{Symbol: u.Symbol, Timestamp: u.Timestamp}
}

// CheckFinite rejects NaN and infinite prices. Zero volume fields are allowed.
func (f Features) CheckFinite() error {
	vals := map[string]float64{
		"open": f.Open, "high": f.High, "low": f.Low, "close": f.Close,
		"volume": f.Volume, "funding_rate": f.FundingRate, "basis": f.Basis,
		"avg_volume": f.AvgVolume, "prev_volume": f.PrevVolume,
	}
	for name, v := range vals {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: %s is not finite", ErrInvalidFeature, name)
		}
	}
	for name, v := range f.Extra {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: extra.%s is not finite", ErrInvalidFeature, name)
		}
	}
	return nil
}

// Bar returns the OHLC values, falling back to Close for missing high/low/open.
func (f Features) Bar() (open, high, low, close float64) {
	open, high, low, close = f.Open, f.High, f.Low, f.Close
	if open == 0 {
		open = close
	}
	if high == 0 {
		high = close
	}
	if low == 0 {
		low = close
	}
	return
}
