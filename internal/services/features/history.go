package features

import (
	"time"

	"AlphaBlend/internal/domain/models"
)

// Bar is one OHLCV observation kept in pod history.
type Bar struct {
	Time   time.Time
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume float64
}

// BarFrom converts an inbound feature update into a Bar.
func BarFrom(f models.Features, at time.Time) Bar {
	o, h, l, c := f.Bar()
	return Bar{Time: at, Open: o, High: h, Low: l, Close: c, Volume: f.Volume}
}

// Ring is a bounded FIFO buffer. Once full, every Push evicts the oldest value.
type Ring[T any] struct {
	cap  int
	vals []T
}

func NewRing[T any](capacity int) *Ring[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Ring[T]{cap: capacity, vals: make([]T, 0, capacity)}
}

func (r *Ring[T]) Push(v T) {
	if len(r.vals) == r.cap {
		copy(r.vals, r.vals[1:])
		r.vals[len(r.vals)-1] = v
		return
	}
	r.vals = append(r.vals, v)
}

func (r *Ring[T]) Len() int { return len(r.vals) }

func (r *Ring[T]) Cap() int { return r.cap }

// Values returns a copy, oldest first.
func (r *Ring[T]) Values() []T {
	out := make([]T, len(r.vals))
	copy(out, r.vals)
	return out
}

// Last returns the newest value. ok is false when empty.
func (r *Ring[T]) Last() (v T, ok bool) {
	if len(r.vals) == 0 {
		return v, false
	}
	return r.vals[len(r.vals)-1], true
}

// History is the capped bar buffer every pod keeps per symbol.
type History struct {
	*Ring[Bar]
}

func NewHistory(capacity int) *History {
	return &History{Ring: NewRing[Bar](capacity)}
}

func (h *History) Closes() []float64 { return h.column(func(b Bar) float64 { return b.Close }) }
func (h *History) Highs() []float64  { return h.column(func(b Bar) float64 { return b.High }) }
func (h *History) Lows() []float64   { return h.column(func(b Bar) float64 { return b.Low }) }
func (h *History) Volumes() []float64 {
	return h.column(func(b Bar) float64 { return b.Volume })
}

func (h *History) column(get func(Bar) float64) []float64 {
	out := make([]float64, len(h.vals))
	for i, b := range h.vals {
		out[i] = get(b)
	}
	return out
}
