package models

import (
	"math"
	"time"
)

// IndicatorSample is one timestamped reading of named metrics for a symbol.
type IndicatorSample struct {
	Symbol    string             `json:"symbol"`
	Timestamp time.Time          `json:"timestamp"`
	Metrics   map[string]float64 `json:"metrics"`
}

// Valid reports whether the sample has a symbol, a timestamp and only finite values.
func (s *IndicatorSample) Valid() bool {
	if s == nil || s.Symbol == "" || s.Timestamp.IsZero() || len(s.Metrics) == 0 {
		return false
	}
	for _, v := range s.Metrics {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// AggregatedFeatures is a per-cycle reduction of samples. Snapshot is set
// when it was built from a single sample instead of a window.
type AggregatedFeatures struct {
	Symbol      string             `json:"symbol"`
	WindowStart time.Time          `json:"window_start"`
	WindowEnd   time.Time          `json:"window_end"`
	Values      map[string]float64 `json:"values"`
	SampleCount int                `json:"sample_count"`
	Snapshot    bool               `json:"snapshot"`
	// Prices is the ordered price path inside the window, used for the
	// realized volatility fallback.
	Prices []float64 `json:"-"`
}

// Value returns the aggregate for metric and whether it is present.
func (f *AggregatedFeatures) Value(metric string) (float64, bool) {
	if f == nil || f.Values == nil {
		return 0, false
	}
	v, ok := f.Values[metric]
	if !ok || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

// VolatilityContext is the move-size measure used to place targets.
type VolatilityContext struct {
	ATR    float64 `json:"atr"`
	Source string  `json:"source"`
}
