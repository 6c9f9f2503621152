package usecase

import (
	"context"
	"errors"
	"maps"
	"sync"
	"sync/atomic"
	"time"

	"AlphaBlend/internal/domain/models"
)

// stubPod returns a fixed signal, error or panic on every Compute.
type stubPod struct {
	name    string
	signal  *models.AlphaSignal
	err     error
	panics  bool
	enabled atomic.Bool
	calls   atomic.Int32

	mu  sync.Mutex
	pnl []float64
}

func newStubPod(name string, sig, conf float64) *stubPod {
	p := &stubPod{name: name, signal: &models.AlphaSignal{Signal: sig, Confidence: conf}}
	p.enabled.Store(true)
	return p
}

func failingPod(name string, err error) *stubPod {
	p := &stubPod{name: name, err: err}
	p.enabled.Store(true)
	return p
}

func panickingPod(name string) *stubPod {
	p := &stubPod{name: name, panics: true}
	p.enabled.Store(true)
	return p
}

func (p *stubPod) Name() string       { return p.name }
func (p *stubPod) WarmupBars() int    { return 0 }
func (p *stubPod) Enabled() bool      { return p.enabled.Load() }
func (p *stubPod) SetEnabled(on bool) { p.enabled.Store(on) }

func (p *stubPod) Compute(context.Context, models.Features, models.MarketContext) (*models.AlphaSignal, error) {
	p.calls.Add(1)
	if p.panics {
		panic("boom")
	}
	if p.err != nil {
		return nil, p.err
	}
	if p.signal == nil {
		return nil, nil
	}
	s := *p.signal
	return &s, nil
}

func (p *stubPod) UpdatePerformance(pnl float64, _ time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pnl = append(p.pnl, pnl)
}

// fixedWeights is a WeightSource with preset weights for every symbol.
type fixedWeights struct {
	mu         sync.Mutex
	weights    map[string]float64
	registered []string
	removed    []string
	pnl        []map[string]float64
}

func (w *fixedWeights) WeightsFor(string) map[string]float64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return maps.Clone(w.weights)
}

func (w *fixedWeights) UpdatePnL(p map[string]float64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.pnl = append(w.pnl, maps.Clone(p))
}

func (w *fixedWeights) RegisterPod(name string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.registered = append(w.registered, name)
}

func (w *fixedWeights) RemovePod(name string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.removed = append(w.removed, name)
}

// recordingMetrics counts the calls the tests care about.
type recordingMetrics struct {
	nopMetrics
	mu        sync.Mutex
	podErrors map[string]string
	sinkErrs  []string
	blends    int
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{podErrors: map[string]string{}}
}

func (m *recordingMetrics) RecordPodError(pod, kind string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.podErrors[pod] = kind
}

func (m *recordingMetrics) RecordSinkError(sink string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sinkErrs = append(m.sinkErrs, sink)
}

func (m *recordingMetrics) RecordBlend(string, float64, float64, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blends++
}

type memorySink struct {
	name string
	err  error
	mu   sync.Mutex
	got  []*models.BlendedSignal
}

func (s *memorySink) Name() string { return s.name }

func (s *memorySink) Deliver(_ context.Context, d *models.BlendedSignal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.got = append(s.got, d)
	return s.err
}

// blockingSink waits for the delivery context to end.
type blockingSink struct{}

func (blockingSink) Name() string { return "blocking" }

func (blockingSink) Deliver(ctx context.Context, _ *models.BlendedSignal) error {
	<-ctx.Done()
	return ctx.Err()
}

var errSinkDown = errors.New("sink down")

func validUpdate(symbol string) models.FeatureUpdate {
	return models.FeatureUpdate{
		Symbol:    symbol,
		Timestamp: time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC),
		Features:  models.Features{Open: 100, High: 101, Low: 99, Close: 100.5, Volume: 10},
	}
}
