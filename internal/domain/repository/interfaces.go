package repository

import (
	"context"
	"time"

	"SignalFlow/internal/domain/models"
)

// QuoteStream is a live price connection.
type QuoteStream interface {
	Connect(ctx context.Context) error
	Subscribe(ctx context.Context, symbols []string) error
	Read(ctx context.Context) (<-chan *models.PriceQuote, <-chan error)
	Reconnect(ctx context.Context) error
	Close() error
	IsConnected() bool
}

// PriceFeed returns the current price for a symbol. Implementations bound
// their own I/O and return ErrExternalTimeout or ErrDataStale on failure.
type PriceFeed interface {
	Quote(ctx context.Context, symbol string) (*models.PriceQuote, error)
}

// OutcomeLedger is the append-only terminal signal sink. Record reports
// false when the signal id was already present.
type OutcomeLedger interface {
	Init(ctx context.Context) error
	Record(ctx context.Context, rec models.OutcomeRecord) (bool, error)
	Exists(ctx context.Context, signalID string) (bool, error)
	Recent(ctx context.Context, symbol string, limit int) ([]models.OutcomeRecord, error)
	Since(ctx context.Context, symbol string, from time.Time) ([]models.OutcomeRecord, error)
	Health(ctx context.Context) error
	Close() error
}

// Notifier delivers one event to an external sink.
type Notifier interface {
	Name() string
	Notify(ctx context.Context, ev *models.Event) error
}

// EventPublisher accepts events without blocking the caller.
type EventPublisher interface {
	Publish(ctx context.Context, ev *models.Event)
}

// SignalStore persists the signal a symbol owns so it survives a restart.
// A stored signal may already be terminal when its ledger write failed.
type SignalStore interface {
	SaveActive(ctx context.Context, sig *models.Signal) error
	GetActive(ctx context.Context, symbol string) (*models.Signal, error)
	DeleteActive(ctx context.Context, symbol string) error
	LoadActive(ctx context.Context) ([]*models.Signal, error)
}

// OwnershipLease grants one engine instance exclusive ownership of a symbol.
type OwnershipLease interface {
	Acquire(ctx context.Context, symbol string) (bool, error)
	Renew(ctx context.Context, symbol string) (bool, error)
	Release(ctx context.Context, symbol string) error
}

type Metrics interface {
	RecordEvaluation(symbol, outcome string)
	RecordSignalCreated(symbol, direction string, confidence float64)
	RecordTerminal(symbol, state, reason string)
	SetActive(symbol string, active bool)
	SetPaused(symbol string, paused bool)
	RecordError(kind string)
	RecordLastPrice(symbol string, price float64)
	RecordLatency(op string, seconds float64)
}
