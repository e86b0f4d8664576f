package models

import (
	"errors"
	"fmt"
)

var (
	// ErrDataInsufficient means fewer than two qualifying samples were in the
	// window. Callers fall back to the latest single sample.
	ErrDataInsufficient = errors.New("data insufficient")
	// ErrDataStale means the freshest available data is older than its bound.
	ErrDataStale = errors.New("data stale")
	// ErrDivergenceRejected is a deliberate no-trade decision, not a fault.
	ErrDivergenceRejected = errors.New("divergence rejected")
	// ErrConfigInvalid pauses the affected symbol until a valid snapshot arrives.
	ErrConfigInvalid = errors.New("config invalid")
	// ErrExternalTimeout is retried with backoff, then escalates to ErrDataStale.
	ErrExternalTimeout = errors.New("external timeout")

	ErrSignalTerminal = errors.New("signal already terminal")
	ErrSignalActive   = errors.New("symbol already has an active signal")
)

// EngineError attaches the failing symbol and a taxonomy kind to an error.
type EngineError struct {
	Kind   error
	Symbol string
	Err    error
}

func NewEngineError(kind error, symbol string, err error) *EngineError {
	return &EngineError{Kind: kind, Symbol: symbol, Err: err}
}

func (e *EngineError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %v", e.Symbol, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %v", e.Symbol, e.Kind, e.Err)
}

func (e *EngineError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// KindOf returns the taxonomy name of err for metrics labels.
func KindOf(err error) string {
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, ErrDataInsufficient):
		return "data_insufficient"
	case errors.Is(err, ErrDataStale):
		return "data_stale"
	case errors.Is(err, ErrDivergenceRejected):
		return "divergence"
	case errors.Is(err, ErrConfigInvalid):
		return "config_invalid"
	case errors.Is(err, ErrExternalTimeout):
		return "external_timeout"
	default:
		return "internal"
	}
}
