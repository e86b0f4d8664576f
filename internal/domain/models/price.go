package models

import (
	"math"
	"time"
)

type PriceQuote struct {
	Symbol    string    `json:"symbol"`
	Price     float64   `json:"price"`
	Timestamp time.Time `json:"timestamp"`
	Source    string    `json:"source"`
}

// Usable reports whether the quote is well formed and no older than maxAge.
func (q *PriceQuote) Usable(now time.Time, maxAge time.Duration) bool {
	if q == nil || q.Timestamp.IsZero() {
		return false
	}
	if math.IsNaN(q.Price) || math.IsInf(q.Price, 0) || q.Price <= 0 {
		return false
	}
	return now.Sub(q.Timestamp) <= maxAge
}
