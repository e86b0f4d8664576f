package composer

import (
	"fmt"

	"github.com/google/uuid"

	domsvc "SignalFlow/internal/domain/service"
	"SignalFlow/internal/domain/models"
	"SignalFlow/pkg/config"
)

type Composer struct {
	newID func() string
}

type Option func(*Composer)

// WithIDGenerator replaces the uuid generator.
func WithIDGenerator(fn func() string) Option {
	return func(c *Composer) { c.newID = fn }
}

func NewComposer(opts ...Option) *Composer {
	c := &Composer{newID: uuid.NewString}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Compose builds an ACTIVE signal from an accepted score. The returned
// signal has passed Validate.
func (c *Composer) Compose(in models.ComposeInput, rules *config.SymbolRules) (*models.Signal, error) {
	sc := in.Score
	if !sc.Accepted {
		if sc.DivergenceDetected {
			return nil, models.NewEngineError(models.ErrDivergenceRejected, in.Symbol, nil)
		}
		return nil, fmt.Errorf("compose %s: score not accepted (%s)", in.Symbol, sc.RejectReason)
	}
	if !(in.EntryPrice > 0) {
		return nil, models.NewEngineError(models.ErrDataStale, in.Symbol, fmt.Errorf("no entry price"))
	}
	if !(in.Volatility.ATR > 0) {
		return nil, models.NewEngineError(models.ErrDataInsufficient, in.Symbol, fmt.Errorf("no volatility measure"))
	}

	factors := StrengthFactors(sc.Direction, in.Features, rules)
	mult := factors.Multiplier()
	tMin, tMax, inval := Targets(sc.Direction, in.EntryPrice, in.Volatility.ATR, mult, rules)

	sig := &models.Signal{
		ID:                c.newID(),
		Symbol:            in.Symbol,
		Direction:         sc.Direction,
		EntryPrice:        in.EntryPrice,
		Confidence:        Confidence(sc.WeightedScore, rules),
		TargetMin:         tMin,
		TargetMax:         tMax,
		InvalidationPrice: inval,
		Multiplier:        mult,
		TTLMinutes:        TTLMinutes(mult, rules),
		Score:             sc.WeightedScore,
		Threshold:         sc.Threshold,
		Components:        append([]string(nil), sc.Components...),
		ConfigVersion:     in.ConfigVersion,
		WinOn:             rules.Targets.WinOn,
		CreatedAt:         in.Now,
		State:             models.StateActive,
		HighestSeen:       in.EntryPrice,
		LowestSeen:        in.EntryPrice,
	}
	if err := sig.Validate(); err != nil {
		return nil, fmt.Errorf("compose %s: %w", in.Symbol, err)
	}
	return sig, nil
}

var _ domsvc.Composer = (*Composer)(nil)
