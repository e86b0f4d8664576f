package features

import (
	"fmt"
	"math"

	"SignalFlow/internal/domain/models"
)

// atrHorizon is the number of bars a realized-volatility ATR estimate spans.
const atrHorizon = 14

// ComputeLogReturns computes log returns r_t = ln(P_t / P_{t-1}).
// It returns a slice of length len(prices)-1, or nil if insufficient data.
func ComputeLogReturns(prices []float64) []float64 {
	if len(prices) < 2 {
		return nil
	}
	out := make([]float64, 0, len(prices)-1)
	for i := 1; i < len(prices); i++ {
		prev := prices[i-1]
		cur := prices[i]
		if prev <= 0 || cur <= 0 {
			out = append(out, 0)
			continue
		}
		out = append(out, math.Log(cur/prev))
	}
	return out
}

// RealizedVolatility is the sample standard deviation of the last window
// returns, per bar. Returns 0 when there is not enough data.
func RealizedVolatility(logReturns []float64, window int) float64 {
	if window <= 1 || len(logReturns) < window {
		return 0
	}
	sum := 0.0
	sum2 := 0.0
	for i := len(logReturns) - window; i < len(logReturns); i++ {
		r := logReturns[i]
		sum += r
		sum2 += r * r
	}
	n := float64(window)
	mean := sum / n
	variance := (sum2 - n*mean*mean) / (n - 1)
	if variance < 0 {
		variance = 0
	}
	return math.Sqrt(variance)
}

// Volatility returns the ATR from features, or an estimate from the realized
// volatility of the price path when no ATR was supplied.
func Volatility(f *models.AggregatedFeatures) (models.VolatilityContext, error) {
	if atr, ok := f.Value(MetricATR); ok && atr > 0 {
		return models.VolatilityContext{ATR: atr, Source: "atr"}, nil
	}
	returns := ComputeLogReturns(f.Prices)
	sigma := RealizedVolatility(returns, len(returns))
	if sigma > 0 {
		last := f.Prices[len(f.Prices)-1]
		return models.VolatilityContext{
			ATR:    last * sigma * math.Sqrt(atrHorizon),
			Source: "realized",
		}, nil
	}
	return models.VolatilityContext{}, fmt.Errorf("%w: no volatility measure for %s", models.ErrDataInsufficient, f.Symbol)
}
