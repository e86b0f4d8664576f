package composer

import (
	"fmt"
	"math"
	"sync"

	"SignalFlow/pkg/config"
)

// Confidence interpolates score linearly from [MinScoreThreshold,
// MaxScoreThreshold] onto [Confidence.Min, Confidence.Max], clamped.
func Confidence(score float64, rules *config.SymbolRules) float64 {
	lo, hi := rules.MinScoreThreshold, rules.MaxScoreThreshold
	cmin, cmax := rules.Confidence.Min, rules.Confidence.Max
	t := (score - lo) / (hi - lo)
	c := cmin + t*(cmax-cmin)
	return math.Max(cmin, math.Min(cmax, c))
}

// DispersionReport describes the spread of recent confidences.
type DispersionReport struct {
	Count      int      `json:"count"`
	Std        float64  `json:"std"`
	Range      float64  `json:"range"`
	ModeShare  float64  `json:"mode_share"`
	Compressed bool     `json:"compressed"`
	Findings   []string `json:"findings,omitempty"`
}

// ConfidenceMonitor keeps the trailing confidences of terminal signals and
// flags compression once the window is full.
type ConfidenceMonitor struct {
	mu     sync.Mutex
	values []float64
	next   int
	full   bool
}

func NewConfidenceMonitor(window int) *ConfidenceMonitor {
	if window < 2 {
		window = 2
	}
	return &ConfidenceMonitor{values: make([]float64, window)}
}

func (m *ConfidenceMonitor) Add(c float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[m.next] = c
	m.next = (m.next + 1) % len(m.values)
	if m.next == 0 {
		m.full = true
	}
}

func (m *ConfidenceMonitor) snapshot() []float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.full {
		return append([]float64(nil), m.values...)
	}
	return append([]float64(nil), m.values[:m.next]...)
}

// Check evaluates the window against the dispersion settings in rules.
// Compressed is only reported for a full window.
func (m *ConfidenceMonitor) Check(rules *config.SymbolRules) DispersionReport {
	vals := m.snapshot()
	r := Dispersion(vals)
	if len(vals) < len(m.values) {
		return r
	}
	d := rules.Dispersion
	if r.Std <= d.Floor {
		r.Findings = append(r.Findings, fmt.Sprintf("std %.4f at or below floor %.4f", r.Std, d.Floor))
	}
	if r.Range < d.MinRange {
		r.Findings = append(r.Findings, fmt.Sprintf("range %.4f below %.4f", r.Range, d.MinRange))
	}
	if r.ModeShare > d.MaxModeShare {
		r.Findings = append(r.Findings, fmt.Sprintf("%.0f%% of values identical", r.ModeShare*100))
	}
	r.Compressed = len(r.Findings) > 0
	return r
}

// Dispersion computes population std-dev, range and the share of the most
// common value rounded to two decimals.
func Dispersion(vals []float64) DispersionReport {
	r := DispersionReport{Count: len(vals)}
	if len(vals) == 0 {
		return r
	}
	lo, hi, sum := vals[0], vals[0], 0.0
	counts := make(map[int64]int, len(vals))
	best := 0
	for _, v := range vals {
		sum += v
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
		k := int64(math.Round(v * 100))
		counts[k]++
		if counts[k] > best {
			best = counts[k]
		}
	}
	mean := sum / float64(len(vals))
	ss := 0.0
	for _, v := range vals {
		ss += (v - mean) * (v - mean)
	}
	r.Std = math.Sqrt(ss / float64(len(vals)))
	r.Range = hi - lo
	r.ModeShare = float64(best) / float64(len(vals))
	return r
}
