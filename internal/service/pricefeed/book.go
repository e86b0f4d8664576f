package pricefeed

import (
	"sync"

	"SignalFlow/internal/domain/models"
)

// QuoteBook keeps the newest quote per symbol.
type QuoteBook struct {
	mu     sync.RWMutex
	quotes map[string]models.PriceQuote
}

func NewQuoteBook() *QuoteBook {
	return &QuoteBook{quotes: make(map[string]models.PriceQuote)}
}

// Update stores q unless an equal or newer quote is already held.
func (b *QuoteBook) Update(q *models.PriceQuote) bool {
	if q == nil || q.Symbol == "" {
		return false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if cur, ok := b.quotes[q.Symbol]; ok && !q.Timestamp.After(cur.Timestamp) {
		return false
	}
	b.quotes[q.Symbol] = *q
	return true
}

func (b *QuoteBook) Get(symbol string) (*models.PriceQuote, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	q, ok := b.quotes[symbol]
	if !ok {
		return nil, false
	}
	return &q, true
}
