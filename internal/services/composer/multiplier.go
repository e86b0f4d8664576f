package composer

import (
	"math"

	"SignalFlow/internal/domain/models"
	"SignalFlow/pkg/config"
)

// Factors are the three strength components; Multiplier is their product.
type Factors struct {
	Volume      float64 `json:"volume"`
	Flow        float64 `json:"flow"`
	Positioning float64 `json:"positioning"`
}

func (f Factors) Multiplier() float64 {
	return f.Volume * f.Flow * f.Positioning
}

// StrengthFactors derives each factor from features. A missing metric
// contributes 1.0.
func StrengthFactors(dir models.Direction, f *models.AggregatedFeatures, rules *config.SymbolRules) Factors {
	m := rules.Multiplier
	out := Factors{Volume: 1, Flow: 1, Positioning: 1}

	if v, ok := f.Value(m.VolumeMetric); ok {
		switch {
		case v > m.VolumeHigh:
			out.Volume = 1.3
		case v > m.VolumeMid:
			out.Volume = 1.15
		}
	}
	if v, ok := f.Value(m.FlowMetric); ok {
		aligned := v * dir.Sign()
		switch {
		case aligned > m.FlowVeryStrong:
			out.Flow = 1.4
		case aligned > m.FlowStrong:
			out.Flow = 1.2
		}
	}
	if v, ok := f.Value(m.PositioningMetric); ok {
		switch mag := math.Abs(v); {
		case mag > m.PositioningLarge:
			out.Positioning = 1.15
		case mag > m.PositioningModerate:
			out.Positioning = 1.08
		}
	}
	return out
}

// TTLMinutes maps a multiplier to a time-to-live. Extended-hold symbols
// ignore the multiplier.
func TTLMinutes(multiplier float64, rules *config.SymbolRules) int {
	if rules.Class == config.ClassExtendedHold {
		return rules.TTL.ExtendedHoldMinutes
	}
	buckets := rules.TTL.Buckets
	ttl := buckets[0].Minutes
	for _, b := range buckets {
		if multiplier >= b.MinMultiplier {
			ttl = b.Minutes
		}
	}
	return ttl
}

// Targets places the target range and invalidation bound around entry.
// The range widens with the multiplier; invalidation does not.
func Targets(dir models.Direction, entry, atr, multiplier float64, rules *config.SymbolRules) (targetMin, targetMax, invalidation float64) {
	t := rules.Targets
	near := atr * t.MinATR * multiplier
	far := atr * t.MaxATR * multiplier
	stop := atr * t.InvalidationATR
	if dir == models.Sell {
		return entry - far, entry - near, entry + stop
	}
	return entry + near, entry + far, entry - stop
}
