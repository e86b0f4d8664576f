package pricefeed

import (
	"context"
	"fmt"
	"time"

	"SignalFlow/internal/domain/models"
	xhttp "SignalFlow/pkg/http"
)

// RESTPoller fetches a single quote over HTTP:
// GET <url>?symbol=S -> {"symbol":S,"price":P,"t":<ms>}
type RESTPoller struct {
	url    string
	apiKey string
	client *xhttp.Client
}

func NewRESTPoller(url, apiKey string, timeout time.Duration) *RESTPoller {
	return &RESTPoller{url: url, apiKey: apiKey, client: xhttp.NewClient(xhttp.WithTimeout(timeout))}
}

func (p *RESTPoller) Fetch(ctx context.Context, symbol string) (*models.PriceQuote, error) {
	var body struct {
		Symbol string  `json:"symbol"`
		Price  float64 `json:"price"`
		T      int64   `json:"t"`
	}
	opts := &xhttp.RequestOptions{
		Method:      xhttp.MethodGet,
		URL:         p.url,
		QueryParams: map[string][]string{"symbol": {symbol}},
	}
	if p.apiKey != "" {
		opts.Headers = map[string]string{"X-API-Key": p.apiKey}
	}
	if err := p.client.SendAndParse(ctx, opts, &body); err != nil {
		return nil, fmt.Errorf("quote %s: %w", symbol, err)
	}
	return &models.PriceQuote{
		Symbol:    symbol,
		Price:     body.Price,
		Timestamp: time.UnixMilli(body.T).UTC(),
		Source:    "rest",
	}, nil
}
