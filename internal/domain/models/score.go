package models

import "time"

type Direction string

const (
	Buy  Direction = "BUY"
	Sell Direction = "SELL"
)

// Sign is +1 for BUY and -1 for SELL.
func (d Direction) Sign() float64 {
	if d == Sell {
		return -1
	}
	return 1
}

func (d Direction) Opposite() Direction {
	if d == Sell {
		return Buy
	}
	return Sell
}

func (d Direction) Valid() bool { return d == Buy || d == Sell }

// NoTradeScore is the weighted score forced by a divergence.
const NoTradeScore = -1.0

// Reject reasons for evaluations that produce no signal.
const (
	RejectDivergence     = "divergence"
	RejectConfluence     = "confluence_ratio"
	RejectBelowThreshold = "score_below_threshold"
	RejectAmbiguous      = "ambiguous"
	RejectInsufficient   = "data_insufficient"
	RejectStale          = "data_stale"
	RejectNoVolatility   = "no_volatility"
)

// ScoreResult is the outcome of scoring one direction.
type ScoreResult struct {
	Direction          Direction `json:"direction"`
	PrimaryAligned     int       `json:"primary_aligned"`
	PrimaryTotal       int       `json:"primary_total"`
	WeightedScore      float64   `json:"weighted_score"`
	Components         []string  `json:"components"`
	Opposing           []string  `json:"opposing,omitempty"`
	Missing            []string  `json:"missing,omitempty"`
	DivergenceDetected bool      `json:"divergence_detected"`
	Threshold          float64   `json:"threshold"`
	Accepted           bool      `json:"accepted"`
	RejectReason       string    `json:"reject_reason,omitempty"`
}

// Ratio returns PrimaryAligned / PrimaryTotal, or 0 without primaries.
func (r *ScoreResult) Ratio() float64 {
	if r.PrimaryTotal == 0 {
		return 0
	}
	return float64(r.PrimaryAligned) / float64(r.PrimaryTotal)
}

// Decision is the result of scoring both directions in one cycle.
// Best is nil when no signal should be composed.
type Decision struct {
	Buy    ScoreResult  `json:"buy"`
	Sell   ScoreResult  `json:"sell"`
	Best   *ScoreResult `json:"best,omitempty"`
	Reason string       `json:"reason,omitempty"`
}

// ComposeInput carries everything the composer reads besides rules.
type ComposeInput struct {
	Symbol        string
	Score         ScoreResult
	Features      *AggregatedFeatures
	Volatility    VolatilityContext
	EntryPrice    float64
	ConfigVersion int64
	Now           time.Time
}
