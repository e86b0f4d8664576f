package models

import (
	"fmt"
	"math"
	"time"
)

type SignalState string

const (
	StateActive    SignalState = "ACTIVE"
	StateWin       SignalState = "WIN"
	StateLoss      SignalState = "LOSS"
	StateCancelled SignalState = "CANCELLED"
	StateExpired   SignalState = "EXPIRED"
)

func (s SignalState) Terminal() bool {
	switch s {
	case StateWin, StateLoss, StateCancelled, StateExpired:
		return true
	}
	return false
}

// Terminal reason codes.
const (
	ReasonTargetReached       = "target_reached"
	ReasonInvalidated         = "invalidated"
	ReasonDivergence          = "divergence"
	ReasonScoreBelowThreshold = "score_below_threshold"
	ReasonStaleData           = "stale_data"
	ReasonTTLElapsed          = "ttl_elapsed"
	ReasonTTLElapsedStale     = "ttl_elapsed_stale"
)

// Signal is a directional call owned by one symbol worker until terminal.
type Signal struct {
	ID                string      `json:"id"`
	Symbol            string      `json:"symbol"`
	Direction         Direction   `json:"direction"`
	EntryPrice        float64     `json:"entry_price"`
	Confidence        float64     `json:"confidence"`
	TargetMin         float64     `json:"target_min"`
	TargetMax         float64     `json:"target_max"`
	InvalidationPrice float64     `json:"invalidation_price"`
	Multiplier        float64     `json:"multiplier"`
	TTLMinutes        int         `json:"ttl_minutes"`
	Score             float64     `json:"score"`
	Threshold         float64     `json:"threshold"`
	Components        []string    `json:"components"`
	ConfigVersion     int64       `json:"config_version"`
	WinOn             string      `json:"win_on,omitempty"`
	CreatedAt         time.Time   `json:"created_at"`
	State             SignalState `json:"state"`
	TerminalReason    string      `json:"terminal_reason,omitempty"`
	ExitPrice         float64     `json:"exit_price,omitempty"`
	TerminalAt        time.Time   `json:"terminal_at,omitempty"`
	HighestSeen       float64     `json:"highest_seen"`
	LowestSeen        float64     `json:"lowest_seen"`
	TargetZoneAlerted bool        `json:"target_zone_alerted"`
	LastRecheck       time.Time   `json:"last_recheck,omitempty"`
}

// ExpiresAt is CreatedAt plus the TTL.
func (s *Signal) ExpiresAt() time.Time {
	return s.CreatedAt.Add(time.Duration(s.TTLMinutes) * time.Minute)
}

// Validate enforces the construction-time invariants.
func (s *Signal) Validate() error {
	switch {
	case s.ID == "" || s.Symbol == "":
		return fmt.Errorf("signal requires id and symbol")
	case !s.Direction.Valid():
		return fmt.Errorf("invalid direction %q", s.Direction)
	case !(s.EntryPrice > 0):
		return fmt.Errorf("entry price must be positive")
	case !(s.TargetMin < s.TargetMax):
		return fmt.Errorf("target_min %.8f must be below target_max %.8f", s.TargetMin, s.TargetMax)
	case math.IsNaN(s.Multiplier) || s.Multiplier < 1.0:
		return fmt.Errorf("multiplier %.4f below 1.0", s.Multiplier)
	case s.Confidence < 0 || s.Confidence > 1 || math.IsNaN(s.Confidence):
		return fmt.Errorf("confidence %.4f outside [0,1]", s.Confidence)
	case s.TTLMinutes <= 0:
		return fmt.Errorf("ttl must be positive")
	}
	if s.Direction == Buy && !(s.TargetMin > s.EntryPrice && s.InvalidationPrice < s.EntryPrice) {
		return fmt.Errorf("buy targets must sit above entry and invalidation below")
	}
	if s.Direction == Sell && !(s.TargetMax < s.EntryPrice && s.InvalidationPrice > s.EntryPrice) {
		return fmt.Errorf("sell targets must sit below entry and invalidation above")
	}
	return nil
}

// Observe folds a price into the reporting extremes.
func (s *Signal) Observe(price float64) {
	if price > s.HighestSeen {
		s.HighestSeen = price
	}
	if s.LowestSeen == 0 || price < s.LowestSeen {
		s.LowestSeen = price
	}
}

// Terminate moves an ACTIVE signal to a terminal state exactly once.
func (s *Signal) Terminate(state SignalState, reason string, exit float64, at time.Time) error {
	if s.State.Terminal() {
		return fmt.Errorf("%w: %s is %s", ErrSignalTerminal, s.ID, s.State)
	}
	if !state.Terminal() {
		return fmt.Errorf("invalid terminal state %q", state)
	}
	if reason == "" {
		return fmt.Errorf("terminal reason required")
	}
	s.State = state
	s.TerminalReason = reason
	s.ExitPrice = exit
	s.TerminalAt = at
	return nil
}

// PnLPercent is the signed move from entry to exit in the signal's favour.
func (s *Signal) PnLPercent() float64 {
	if s.EntryPrice == 0 || s.ExitPrice == 0 {
		return 0
	}
	return (s.ExitPrice - s.EntryPrice) / s.EntryPrice * 100 * s.Direction.Sign()
}

// Clone returns a copy that shares no slices with s.
func (s *Signal) Clone() *Signal {
	c := *s
	c.Components = append([]string(nil), s.Components...)
	return &c
}
