package models

import "time"

// PeriodStats summarizes terminal outcomes over one lookback period.
// WinRate counts only WIN and LOSS; CANCELLED and EXPIRED are excluded.
// TotalPnL and AvgPnL cover every record.
type PeriodStats struct {
	Period    string  `json:"period"`
	Total     int     `json:"total"`
	Wins      int     `json:"wins"`
	Losses    int     `json:"losses"`
	Cancelled int     `json:"cancelled"`
	Expired   int     `json:"expired"`
	WinRate   float64 `json:"win_rate"`
	TotalPnL  float64 `json:"total_pnl"`
	AvgPnL    float64 `json:"avg_pnl"`
}

type StatsReport struct {
	GeneratedAt time.Time     `json:"generated_at"`
	Symbol      string        `json:"symbol,omitempty"`
	Periods     []PeriodStats `json:"periods"`
}
