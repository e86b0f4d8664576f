package scoring

import (
	"math"

	domsvc "SignalFlow/internal/domain/service"
	"SignalFlow/internal/domain/models"
	"SignalFlow/pkg/config"
)

// Alignment of one indicator toward a direction.
type Alignment int

const (
	Neutral Alignment = iota
	Supports
	Opposes
)

func (a Alignment) String() string {
	switch a {
	case Supports:
		return "supports"
	case Opposes:
		return "opposes"
	default:
		return "neutral"
	}
}

// scoreEpsilon absorbs float summation error in threshold comparisons.
const scoreEpsilon = 1e-9

// Classify applies the alignment test of rule to value for dir.
func Classify(rule config.IndicatorRule, dir models.Direction, value float64) Alignment {
	d := (value - rule.Reference) * float64(rule.Polarity)
	if rule.Mode != config.ModeConfirming {
		d *= dir.Sign()
	}
	switch {
	case d > rule.AlignAbove:
		return Supports
	case d < -rule.OpposeAbove:
		return Opposes
	default:
		return Neutral
	}
}

type Scorer struct{}

func NewScorer() *Scorer { return &Scorer{} }

// Score evaluates dir. A single opposing primary forces NoTradeScore no
// matter how many others align. Missing metrics never align.
func (s *Scorer) Score(dir models.Direction, f *models.AggregatedFeatures, rules *config.SymbolRules, threshold float64) models.ScoreResult {
	res := models.ScoreResult{Direction: dir, Threshold: threshold, Components: []string{}}

	for _, rule := range rules.Indicators {
		primary := rule.Role == config.RolePrimary
		if primary {
			res.PrimaryTotal++
		}
		v, ok := f.Value(rule.Metric)
		if !ok {
			res.Missing = append(res.Missing, rule.Metric)
			continue
		}
		switch Classify(rule, dir, v) {
		case Supports:
			res.WeightedScore += rule.Weight
			res.Components = append(res.Components, rule.Metric)
			if primary {
				res.PrimaryAligned++
			}
		case Opposes:
			if primary {
				res.Opposing = append(res.Opposing, rule.Metric)
				res.DivergenceDetected = true
			}
		}
	}

	switch {
	case res.DivergenceDetected:
		res.WeightedScore = models.NoTradeScore
		res.RejectReason = models.RejectDivergence
	case res.PrimaryTotal == 0 || res.Ratio()+scoreEpsilon < rules.ConfluenceRatio:
		res.RejectReason = models.RejectConfluence
	case res.WeightedScore+scoreEpsilon < threshold:
		res.RejectReason = models.RejectBelowThreshold
	default:
		res.Accepted = true
	}
	return res
}

// Decide scores both directions with the symbol's own threshold. When both
// accept within DeltaMargin of each other the cycle is ambiguous.
func (s *Scorer) Decide(f *models.AggregatedFeatures, rules *config.SymbolRules) models.Decision {
	d := models.Decision{
		Buy:  s.Score(models.Buy, f, rules, rules.MinScoreThreshold),
		Sell: s.Score(models.Sell, f, rules, rules.MinScoreThreshold),
	}
	switch {
	case d.Buy.Accepted && d.Sell.Accepted:
		if math.Abs(d.Buy.WeightedScore-d.Sell.WeightedScore) <= rules.DeltaMargin {
			d.Reason = models.RejectAmbiguous
			return d
		}
		if d.Buy.WeightedScore > d.Sell.WeightedScore {
			d.Best = pick(d.Buy)
		} else {
			d.Best = pick(d.Sell)
		}
	case d.Buy.Accepted:
		d.Best = pick(d.Buy)
	case d.Sell.Accepted:
		d.Best = pick(d.Sell)
	default:
		d.Reason = rejectReason(d.Buy, d.Sell)
	}
	return d
}

func pick(r models.ScoreResult) *models.ScoreResult { return &r }

// rejectReason picks the most informative reason across both sides.
func rejectReason(buy, sell models.ScoreResult) string {
	rank := map[string]int{
		models.RejectBelowThreshold: 3,
		models.RejectConfluence:     2,
		models.RejectDivergence:     1,
	}
	if rank[sell.RejectReason] > rank[buy.RejectReason] {
		return sell.RejectReason
	}
	return buy.RejectReason
}

var _ domsvc.Scorer = (*Scorer)(nil)
