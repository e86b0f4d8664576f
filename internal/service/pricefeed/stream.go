package pricefeed

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"SignalFlow/internal/domain/models"
	drepo "SignalFlow/internal/domain/repository"
	"SignalFlow/pkg/logger"

	"github.com/gorilla/websocket"
)

// StreamClient is a QuoteStream over a trade websocket that speaks
// {"type":"subscribe","symbol":S} and pushes {"type":"trade","data":[...]}.
type StreamClient struct {
	apiKey         string
	websocketURL   string
	reconnectDelay time.Duration
	pingInterval   time.Duration
	log            *logger.Logger

	mu        sync.Mutex
	conn      *websocket.Conn
	connected bool
	symbols   []string
}

func NewStreamClient(apiKey, websocketURL string, reconnectDelay, pingInterval time.Duration, lgr *logger.Logger) *StreamClient {
	return &StreamClient{
		apiKey:         apiKey,
		websocketURL:   websocketURL,
		reconnectDelay: reconnectDelay,
		pingInterval:   pingInterval,
		log:            lgr,
	}
}

func (c *StreamClient) Connect(ctx context.Context) error {
	u := c.websocketURL
	if c.apiKey != "" {
		u = fmt.Sprintf("%s?token=%s", u, c.apiKey)
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u, nil)
	if err != nil {
		return fmt.Errorf("price stream connect: %w", err)
	}
	c.mu.Lock()
	c.conn = conn
	c.connected = true
	c.mu.Unlock()
	c.log.Info("price stream connected", logger.String("url", c.websocketURL))
	return nil
}

// Subscribe remembers symbols so Reconnect can resubscribe them.
func (c *StreamClient) Subscribe(ctx context.Context, symbols []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil || !c.connected {
		return fmt.Errorf("price stream not connected")
	}
	for _, s := range symbols {
		msg := map[string]string{"type": "subscribe", "symbol": s}
		if err := c.conn.WriteJSON(msg); err != nil {
			return fmt.Errorf("subscribe %s: %w", s, err)
		}
	}
	c.symbols = append([]string(nil), symbols...)
	c.log.Info("price stream subscribed", logger.Strings("symbols", symbols))
	return nil
}

type wireTrade struct {
	S string  `json:"s"`
	P float64 `json:"p"`
	T int64   `json:"t"` // ms
}

type wireMessage struct {
	Type string      `json:"type"`
	Data []wireTrade `json:"data"`
}

func (m wireMessage) quotes() []*models.PriceQuote {
	if m.Type != "trade" {
		return nil
	}
	out := make([]*models.PriceQuote, 0, len(m.Data))
	for _, d := range m.Data {
		out = append(out, &models.PriceQuote{
			Symbol:    d.S,
			Price:     d.P,
			Timestamp: time.UnixMilli(d.T).UTC(),
			Source:    "stream",
		})
	}
	return out
}

func (c *StreamClient) current() *websocket.Conn {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn
}

// Read streams quotes until the connection fails or ctx ends.
func (c *StreamClient) Read(ctx context.Context) (<-chan *models.PriceQuote, <-chan error) {
	quotes := make(chan *models.PriceQuote, 1024)
	errs := make(chan error, 1)
	conn := c.current()

	go func() {
		ticker := time.NewTicker(c.pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.mu.Lock()
				if c.conn == conn && conn != nil {
					_ = conn.WriteMessage(websocket.PingMessage, nil)
				}
				c.mu.Unlock()
			}
		}
	}()

	go func() {
		defer close(quotes)
		defer close(errs)
		if conn == nil {
			errs <- fmt.Errorf("price stream conn nil")
			return
		}
		for {
			if ctx.Err() != nil {
				return
			}
			_, b, err := conn.ReadMessage()
			if err != nil {
				errs <- fmt.Errorf("price stream read: %w", err)
				return
			}
			var m wireMessage
			if err := json.Unmarshal(b, &m); err != nil {
				continue
			}
			for _, q := range m.quotes() {
				select {
				case quotes <- q:
				default:
					// drop on backpressure; only the latest price matters
				}
			}
		}
	}()

	return quotes, errs
}

func (c *StreamClient) Reconnect(ctx context.Context) error {
	_ = c.Close()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(c.reconnectDelay):
	}
	if err := c.Connect(ctx); err != nil {
		return err
	}
	c.mu.Lock()
	symbols := c.symbols
	c.mu.Unlock()
	return c.Subscribe(ctx, symbols)
}

func (c *StreamClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = false
	if c.conn != nil {
		err := c.conn.Close()
		c.conn = nil
		return err
	}
	return nil
}

func (c *StreamClient) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

var _ drepo.QuoteStream = (*StreamClient)(nil)
