package models

import (
	"math"
	"time"
)

// PodPerformance is the running realized-P&L record of one pod.
// MaxDrawdown is the largest peak-to-trough decline of cumulative P&L, in P&L units.
type PodPerformance struct {
	Pod         string    `json:"pod"`
	TotalPnL    float64   `json:"total_pnl"`
	TradeCount  int       `json:"trade_count"`
	Wins        int       `json:"wins"`
	WinRate     float64   `json:"win_rate"`
	SharpeRatio float64   `json:"sharpe_ratio"`
	MaxDrawdown float64   `json:"max_drawdown"`
	PeakPnL     float64   `json:"peak_pnl"`
	SumSquares  float64   `json:"sum_squares"`
	LastUpdate  time.Time `json:"last_update"`
}

// Record folds one realized P&L observation into the record.
func (p *PodPerformance) Record(pnl float64, at time.Time) {
	p.TotalPnL += pnl
	p.TradeCount++
	p.SumSquares += pnl * pnl
	if pnl > 0 {
		p.Wins++
	}
	p.WinRate = float64(p.Wins) / float64(p.TradeCount)

	if p.TotalPnL > p.PeakPnL {
		p.PeakPnL = p.TotalPnL
	}
	if dd := p.PeakPnL - p.TotalPnL; dd > p.MaxDrawdown {
		p.MaxDrawdown = dd
	}

	p.SharpeRatio = 0
	if n := float64(p.TradeCount); p.TradeCount > 1 {
		mean := p.TotalPnL / n
		variance := (p.SumSquares - n*mean*mean) / (n - 1)
		if variance > 1e-12 {
			p.SharpeRatio = mean / math.Sqrt(variance)
		}
	}
	p.LastUpdate = at
}

// MetaAllocatorState is a point-in-time copy of everything the allocator owns.
type MetaAllocatorState struct {
	Weights       map[string]map[string]float64 `json:"weights"`
	Performance   map[string]PodPerformance     `json:"performance"`
	Returns       map[string][]float64          `json:"returns,omitempty"`
	Regret        map[string][]float64          `json:"regret,omitempty"`
	LastUpdate    time.Time                     `json:"last_update"`
	LastRebalance time.Time                     `json:"last_rebalance"`
}

// PnLReport carries realized P&L per pod for one settlement interval.
type PnLReport struct {
	PnL       map[string]float64 `json:"pnl" validate:"required,min=1"`
	Timestamp time.Time          `json:"timestamp"`
}
