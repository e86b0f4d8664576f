package pricefeed

import (
	"context"
	"errors"
	"fmt"
	"time"

	"SignalFlow/internal/domain/models"
	drepo "SignalFlow/internal/domain/repository"
	"SignalFlow/pkg/retry"
)

// Fetcher pulls one quote on demand.
type Fetcher interface {
	Fetch(ctx context.Context, symbol string) (*models.PriceQuote, error)
}

// Feed serves quotes from the streaming book and falls back to a bounded,
// retried REST fetch when the book is missing or older than maxAge.
type Feed struct {
	book    *QuoteBook
	fetcher Fetcher
	policy  retry.Policy
	maxAge  time.Duration
	now     func() time.Time
}

func NewFeed(book *QuoteBook, fetcher Fetcher, policy retry.Policy, maxAge time.Duration) *Feed {
	return &Feed{book: book, fetcher: fetcher, policy: policy, maxAge: maxAge, now: time.Now}
}

// Quote never blocks past the policy budget. Exhausted timeouts escalate to
// ErrDataStale and still match ErrExternalTimeout.
func (f *Feed) Quote(ctx context.Context, symbol string) (*models.PriceQuote, error) {
	cached, ok := f.book.Get(symbol)
	if ok && cached.Usable(f.now(), f.maxAge) {
		return cached, nil
	}
	if f.fetcher == nil {
		if ok {
			return cached, nil
		}
		return nil, models.NewEngineError(models.ErrDataStale, symbol, fmt.Errorf("no quote received"))
	}

	var got *models.PriceQuote
	err := retry.Do(ctx, f.policy, func(ctx context.Context) error {
		q, err := f.fetcher.Fetch(ctx, symbol)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				return fmt.Errorf("%w: %v", models.ErrExternalTimeout, err)
			}
			return err
		}
		got = q
		return nil
	})
	if err != nil {
		return nil, models.NewEngineError(models.ErrDataStale, symbol, err)
	}
	f.book.Update(got)
	return got, nil
}

var _ drepo.PriceFeed = (*Feed)(nil)
