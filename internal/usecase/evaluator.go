package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"SignalFlow/internal/domain/models"
	domrepo "SignalFlow/internal/domain/repository"
	domsvc "SignalFlow/internal/domain/service"
	"SignalFlow/internal/services/features"
	"SignalFlow/pkg/config"
)

// Evaluation describes one idle-cycle decision for a symbol.
type Evaluation struct {
	Symbol        string           `json:"symbol"`
	At            time.Time        `json:"at"`
	ConfigVersion int64            `json:"config_version"`
	Decision      *models.Decision `json:"decision,omitempty"`
	SampleCount   int              `json:"sample_count"`
	Snapshot      bool             `json:"snapshot"`
	Outcome       string           `json:"outcome"`
	Signal        *models.Signal   `json:"-"`
}

// Evaluation outcomes besides the reject reasons.
const (
	OutcomeSignal        = "signal"
	OutcomeConfigInvalid = "config_invalid"
	OutcomeError         = "error"
)

// Evaluator runs Aggregator, Scorer and Composer for one symbol against one
// snapshot. It holds no per-symbol state.
type Evaluator struct {
	features domsvc.FeatureSource
	scorer   domsvc.Scorer
	composer domsvc.Composer
	prices   domrepo.PriceFeed
	now      func() time.Time
}

func NewEvaluator(fs domsvc.FeatureSource, scorer domsvc.Scorer, comp domsvc.Composer, prices domrepo.PriceFeed) *Evaluator {
	return &Evaluator{features: fs, scorer: scorer, composer: comp, prices: prices, now: time.Now}
}

// Evaluate returns a signal only for an accepted, unambiguous decision with
// a fresh entry price and a volatility measure. The returned error is
// non-nil for ConfigInvalid and price feed failures.
func (e *Evaluator) Evaluate(ctx context.Context, symbol string, snap *config.Snapshot) (Evaluation, error) {
	ev := Evaluation{Symbol: symbol, At: e.now(), ConfigVersion: snap.Version}

	rules, err := snap.Rules(symbol)
	if err != nil {
		ev.Outcome = OutcomeConfigInvalid
		return ev, models.NewEngineError(models.ErrConfigInvalid, symbol, err)
	}

	f, err := e.features.Features(symbol, snap.Engine.Window)
	if err != nil {
		switch {
		case errors.Is(err, models.ErrDataStale):
			ev.Outcome = models.RejectStale
		default:
			ev.Outcome = models.RejectInsufficient
		}
		return ev, nil
	}
	ev.SampleCount = f.SampleCount
	ev.Snapshot = f.Snapshot

	d := e.scorer.Decide(f, rules)
	ev.Decision = &d
	if d.Best == nil {
		ev.Outcome = d.Reason
		return ev, nil
	}

	quote, err := e.prices.Quote(ctx, symbol)
	if err != nil {
		ev.Outcome = OutcomeError
		return ev, fmt.Errorf("entry price: %w", err)
	}
	if !quote.Usable(ev.At, snap.Engine.PriceFreshness) {
		ev.Outcome = models.RejectStale
		return ev, nil
	}

	vol, err := features.Volatility(f)
	if err != nil {
		ev.Outcome = models.RejectNoVolatility
		return ev, nil
	}

	sig, err := e.composer.Compose(models.ComposeInput{
		Symbol:        symbol,
		Score:         *d.Best,
		Features:      f,
		Volatility:    vol,
		EntryPrice:    quote.Price,
		ConfigVersion: snap.Version,
		Now:           ev.At,
	}, rules)
	if err != nil {
		ev.Outcome = OutcomeError
		return ev, err
	}
	ev.Outcome = OutcomeSignal
	ev.Signal = sig
	return ev, nil
}
