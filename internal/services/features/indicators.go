package features

import (
	"math"
	"slices"
	"sort"

	"github.com/markcheno/go-talib"
	"gonum.org/v1/gonum/stat"
)

// ATR is the Wilder average true range of the last period bars. It needs
// period+1 bars because the first true range has no previous close.
func ATR(highs, lows, closes []float64, period int) (float64, bool) {
	n := len(closes)
	if period < 1 || n <= period || len(highs) != n || len(lows) != n {
		return 0, false
	}
	out := talib.Atr(highs, lows, closes, period)
	return out[n-1], true
}

// SMA is the simple average of the last period values.
func SMA(vals []float64, period int) (float64, bool) {
	if period < 1 || len(vals) < period {
		return 0, false
	}
	out := talib.Sma(vals, period)
	return out[len(out)-1], true
}

// StdDev is the population standard deviation of the last period values.
func StdDev(vals []float64, period int) (float64, bool) {
	if period < 2 || len(vals) < period {
		return 0, false
	}
	out := talib.StdDev(vals, period, 1)
	return out[len(out)-1], true
}

// RSI is Wilder's relative strength index in [0, 100].
func RSI(closes []float64, period int) (float64, bool) {
	if period < 2 || len(closes) <= period {
		return 0, false
	}
	out := talib.Rsi(closes, period)
	return out[len(out)-1], true
}

// ZScore is (last - mean) / std over the last period values. ok is false when
// the window is flat.
func ZScore(vals []float64, period int) (z, mean, std float64, ok bool) {
	mean, ok1 := SMA(vals, period)
	std, ok2 := StdDev(vals, period)
	if !ok1 || !ok2 || std < 1e-12 {
		return 0, mean, std, false
	}
	return (vals[len(vals)-1] - mean) / std, mean, std, true
}

// LogReturns computes r_t = ln(C_t / C_{t-1}). Non-positive prices yield 0.
func LogReturns(closes []float64) []float64 {
	if len(closes) < 2 {
		return nil
	}
	out := make([]float64, 0, len(closes)-1)
	for i := 1; i < len(closes); i++ {
		prev, cur := closes[i-1], closes[i]
		if prev <= 0 || cur <= 0 {
			out = append(out, 0)
			continue
		}
		out = append(out, math.Log(cur/prev))
	}
	return out
}

// RealizedVolatility is the sample std-dev of the last window returns scaled
// by sqrt(barsPerYear). Pass barsPerYear=1 for per-bar volatility.
func RealizedVolatility(returns []float64, window int, barsPerYear float64) (float64, bool) {
	if window < 2 || len(returns) < window {
		return 0, false
	}
	_, std := stat.MeanStdDev(returns[len(returns)-window:], nil)
	if math.IsNaN(std) {
		return 0, false
	}
	return std * math.Sqrt(barsPerYear), true
}

// Skewness of the last window values. Zero for a flat window.
func Skewness(vals []float64, window int) (float64, bool) {
	if window < 3 || len(vals) < window {
		return 0, false
	}
	s := stat.Skew(vals[len(vals)-window:], nil)
	if math.IsNaN(s) || math.IsInf(s, 0) {
		return 0, true
	}
	return s, true
}

// ExcessKurtosis of the last window values. Zero for a flat window.
func ExcessKurtosis(vals []float64, window int) (float64, bool) {
	if window < 4 || len(vals) < window {
		return 0, false
	}
	k := stat.ExKurtosis(vals[len(vals)-window:], nil)
	if math.IsNaN(k) || math.IsInf(k, 0) {
		return 0, true
	}
	return k, true
}

// PercentileRank is the fraction of history values less than or equal to v.
func PercentileRank(history []float64, v float64) float64 {
	if len(history) == 0 {
		return 0.5
	}
	sorted := slices.Clone(history)
	sort.Float64s(sorted)
	return stat.CDF(v, stat.Empirical, sorted, nil)
}

// Sharpe is mean/std of returns annualized by sqrt(periodsPerYear).
// Zero when fewer than two returns or no dispersion.
func Sharpe(returns []float64, periodsPerYear float64) float64 {
	if len(returns) < 2 {
		return 0
	}
	mean, std := stat.MeanStdDev(returns, nil)
	if std < 1e-12 || math.IsNaN(std) {
		return 0
	}
	return mean / std * math.Sqrt(periodsPerYear)
}

// Volatility is the sample std-dev of returns, zero below two samples.
func Volatility(returns []float64) float64 {
	if len(returns) < 2 {
		return 0
	}
	return stat.StdDev(returns, nil)
}

// MaxDrawdownFraction walks an additive equity curve starting at 1.0 and
// returns the largest peak-to-trough decline as a fraction of the peak.
func MaxDrawdownFraction(returns []float64) float64 {
	equity, peak, maxDD := 1.0, 1.0, 0.0
	for _, r := range returns {
		equity += r
		if equity > peak {
			peak = equity
		}
		if peak > 0 {
			if dd := (peak - equity) / peak; dd > maxDD {
				maxDD = dd
			}
		}
	}
	return maxDD
}

// Momentum is last/close[n bars ago] - 1.
func Momentum(closes []float64, n int) (float64, bool) {
	if n < 1 || len(closes) <= n {
		return 0, false
	}
	prev := closes[len(closes)-1-n]
	if prev <= 0 {
		return 0, false
	}
	return closes[len(closes)-1]/prev - 1, true
}

// Highest and Lowest over the last n values.
func Highest(vals []float64, n int) float64 { return slices.Max(tail(vals, n)) }
func Lowest(vals []float64, n int) float64  { return slices.Min(tail(vals, n)) }

// Mean of the last n values.
func Mean(vals []float64, n int) float64 { return stat.Mean(tail(vals, n), nil) }

func tail(vals []float64, n int) []float64 {
	if n <= 0 || n > len(vals) {
		return vals
	}
	return vals[len(vals)-n:]
}
