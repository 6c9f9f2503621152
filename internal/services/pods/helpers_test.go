package pods

import (
	"context"
	"time"

	"AlphaBlend/internal/domain/models"
	domsvc "AlphaBlend/internal/domain/service"
)

var t0 = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func ctxAt(symbol string, i int) models.MarketContext {
	return models.MarketContext{Symbol: symbol, Timestamp: t0.Add(time.Duration(i) * time.Hour)}
}

func bar(close, spread float64) models.Features {
	return models.Features{
		Open:       close,
		High:       close + spread,
		Low:        close - spread,
		Close:      close,
		Volume:     1000,
		AvgVolume:  1000,
		PrevVolume: 1000,
	}
}

// feed runs every close through the pod and returns the signals in order.
func feed(p domsvc.Pod, symbol string, closes []float64, spread float64) []*models.AlphaSignal {
	out := make([]*models.AlphaSignal, len(closes))
	for i, c := range closes {
		s, err := p.Compute(context.Background(), bar(c, spread), ctxAt(symbol, i))
		if err != nil {
			panic(err)
		}
		out[i] = s
	}
	return out
}

type fakeModel struct {
	pred    models.ModelPrediction
	err     error
	block   bool
	calls   int
	healthy bool
}

func (m *fakeModel) Predict(ctx context.Context, symbol string, _ map[string]float64, _ time.Time) (models.ModelPrediction, error) {
	m.calls++
	if m.block {
		<-ctx.Done()
		return models.ModelPrediction{}, ctx.Err()
	}
	if m.err != nil {
		return models.ModelPrediction{}, m.err
	}
	p := m.pred
	p.Symbol = symbol
	return p, nil
}

func (m *fakeModel) HealthCheck(context.Context) bool { return m.healthy }
