package usecase

import (
	"context"

	"SignalFlow/internal/domain/models"
	drepo "SignalFlow/internal/domain/repository"
	"SignalFlow/pkg/logger"
)

// QuoteSink receives every streamed quote.
type QuoteSink interface {
	Update(q *models.PriceQuote) bool
}

// QuoteCollector keeps the quote book current from the live stream.
type QuoteCollector struct {
	stream  drepo.QuoteStream
	sink    QuoteSink
	symbols []string
	metrics drepo.Metrics
	log     *logger.Logger
}

func NewQuoteCollector(stream drepo.QuoteStream, sink QuoteSink, symbols []string, metrics drepo.Metrics, lgr *logger.Logger) *QuoteCollector {
	return &QuoteCollector{stream: stream, sink: sink, symbols: symbols, metrics: metrics, log: lgr}
}

func (c *QuoteCollector) IsConnected() bool {
	return c.stream.IsConnected()
}

func (c *QuoteCollector) Start(ctx context.Context) error {
	if err := c.stream.Connect(ctx); err != nil {
		return err
	}
	if err := c.stream.Subscribe(ctx, c.symbols); err != nil {
		return err
	}
	go c.consume(ctx)
	return nil
}

// consume re-reads after every reconnect since Read channels close with the
// connection.
func (c *QuoteCollector) consume(ctx context.Context) {
	for ctx.Err() == nil {
		qCh, errCh := c.stream.Read(ctx)
		c.drain(ctx, qCh, errCh)
		if ctx.Err() != nil {
			return
		}
		c.metrics.RecordError("stream")
		if err := c.stream.Reconnect(ctx); err != nil {
			c.log.Warn("price stream reconnect failed", logger.Error(err))
		}
	}
}

func (c *QuoteCollector) drain(ctx context.Context, qCh <-chan *models.PriceQuote, errCh <-chan error) {
	for {
		select {
		case <-ctx.Done():
			return
		case err, ok := <-errCh:
			if ok && err != nil {
				c.log.Warn("price stream error", logger.Error(err))
			}
			return
		case q, ok := <-qCh:
			if !ok {
				return
			}
			if q == nil {
				continue
			}
			if c.sink.Update(q) {
				c.metrics.RecordLastPrice(q.Symbol, q.Price)
			}
		}
	}
}

func (c *QuoteCollector) Stop() error { return c.stream.Close() }
