package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// OutcomeRecord is the append-only ledger row for one terminal signal.
type OutcomeRecord struct {
	SignalID       string    `json:"signal_id"`
	Symbol         string    `json:"symbol"`
	Direction      string    `json:"direction"`
	EntryPrice     float64   `json:"entry_price"`
	ExitPrice      float64   `json:"exit_price"`
	Confidence     float64   `json:"confidence"`
	Multiplier     float64   `json:"multiplier"`
	TTLMinutes     int32     `json:"ttl_minutes"`
	State          string    `json:"state"`
	PnLPercent     float64   `json:"pnl_percent"`
	Score          float64   `json:"score"`
	Threshold      float64   `json:"threshold"`
	ConfigVersion  int64     `json:"config_version"`
	HighestSeen    float64   `json:"highest_seen"`
	LowestSeen     float64   `json:"lowest_seen"`
	CreatedAt      time.Time `json:"created_at"`
	TerminalAt     time.Time `json:"terminal_at"`
	TerminalReason string    `json:"terminal_reason"`
}

// NewOutcomeRecord builds the record from the signal's realized exit.
// Extremes are carried as separate columns and never used as the exit.
func NewOutcomeRecord(s *Signal) OutcomeRecord {
	pnl := decimal.NewFromFloat(s.PnLPercent()).Round(4)
	pf, _ := pnl.Float64()
	return OutcomeRecord{
		SignalID:       s.ID,
		Symbol:         s.Symbol,
		Direction:      string(s.Direction),
		EntryPrice:     s.EntryPrice,
		ExitPrice:      s.ExitPrice,
		Confidence:     s.Confidence,
		Multiplier:     s.Multiplier,
		TTLMinutes:     int32(s.TTLMinutes),
		State:          string(s.State),
		PnLPercent:     pf,
		Score:          s.Score,
		Threshold:      s.Threshold,
		ConfigVersion:  s.ConfigVersion,
		HighestSeen:    s.HighestSeen,
		LowestSeen:     s.LowestSeen,
		CreatedAt:      s.CreatedAt.UTC(),
		TerminalAt:     s.TerminalAt.UTC(),
		TerminalReason: s.TerminalReason,
	}
}
