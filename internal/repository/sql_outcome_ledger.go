package repository

import (
	"context"
	"fmt"
	"time"

	"SignalFlow/internal/domain/models"
	domrepo "SignalFlow/internal/domain/repository"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

func init() {
	sqlx.BindDriver("sqlite", sqlx.QUESTION)
}

// outcomeRow stores timestamps as unix milliseconds so the same schema
// works on sqlite and postgres.
type outcomeRow struct {
	SignalID       string  `db:"signal_id"`
	Symbol         string  `db:"symbol"`
	Direction      string  `db:"direction"`
	EntryPrice     float64 `db:"entry_price"`
	ExitPrice      float64 `db:"exit_price"`
	Confidence     float64 `db:"confidence"`
	Multiplier     float64 `db:"multiplier"`
	TTLMinutes     int32   `db:"ttl_minutes"`
	State          string  `db:"state"`
	PnLPercent     float64 `db:"pnl_percent"`
	Score          float64 `db:"score"`
	Threshold      float64 `db:"threshold"`
	ConfigVersion  int64   `db:"config_version"`
	HighestSeen    float64 `db:"highest_seen"`
	LowestSeen     float64 `db:"lowest_seen"`
	CreatedAt      int64   `db:"created_at"`
	TerminalAt     int64   `db:"terminal_at"`
	TerminalReason string  `db:"terminal_reason"`
}

func toRow(r models.OutcomeRecord) outcomeRow {
	return outcomeRow{
		SignalID: r.SignalID, Symbol: r.Symbol, Direction: r.Direction,
		EntryPrice: r.EntryPrice, ExitPrice: r.ExitPrice,
		Confidence: r.Confidence, Multiplier: r.Multiplier, TTLMinutes: r.TTLMinutes,
		State: r.State, PnLPercent: r.PnLPercent, Score: r.Score, Threshold: r.Threshold,
		ConfigVersion: r.ConfigVersion, HighestSeen: r.HighestSeen, LowestSeen: r.LowestSeen,
		CreatedAt: r.CreatedAt.UnixMilli(), TerminalAt: r.TerminalAt.UnixMilli(),
		TerminalReason: r.TerminalReason,
	}
}

func (r outcomeRow) record() models.OutcomeRecord {
	return models.OutcomeRecord{
		SignalID: r.SignalID, Symbol: r.Symbol, Direction: r.Direction,
		EntryPrice: r.EntryPrice, ExitPrice: r.ExitPrice,
		Confidence: r.Confidence, Multiplier: r.Multiplier, TTLMinutes: r.TTLMinutes,
		State: r.State, PnLPercent: r.PnLPercent, Score: r.Score, Threshold: r.Threshold,
		ConfigVersion: r.ConfigVersion, HighestSeen: r.HighestSeen, LowestSeen: r.LowestSeen,
		CreatedAt: time.UnixMilli(r.CreatedAt).UTC(), TerminalAt: time.UnixMilli(r.TerminalAt).UTC(),
		TerminalReason: r.TerminalReason,
	}
}

const outcomeColumns = `signal_id, symbol, direction, entry_price, exit_price, confidence,
	multiplier, ttl_minutes, state, pnl_percent, score, threshold, config_version,
	highest_seen, lowest_seen, created_at, terminal_at, terminal_reason`

// SQLOutcomeLedger is the OutcomeLedger on sqlite (modernc) or postgres.
type SQLOutcomeLedger struct {
	db    *sqlx.DB
	table string
}

// OpenSQLOutcomeLedger opens driver "sqlite" or "postgres".
func OpenSQLOutcomeLedger(driver, dsn, table string) (*SQLOutcomeLedger, error) {
	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s ledger: %w", driver, err)
	}
	if driver == "sqlite" {
		// one writer keeps sqlite from returning SQLITE_BUSY under load
		db.SetMaxOpenConns(1)
	}
	return &SQLOutcomeLedger{db: db, table: table}, nil
}

func NewSQLOutcomeLedger(db *sqlx.DB, table string) *SQLOutcomeLedger {
	return &SQLOutcomeLedger{db: db, table: table}
}

func (l *SQLOutcomeLedger) Init(ctx context.Context) error {
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	signal_id TEXT PRIMARY KEY,
	symbol TEXT NOT NULL,
	direction TEXT NOT NULL,
	entry_price DOUBLE PRECISION NOT NULL,
	exit_price DOUBLE PRECISION NOT NULL,
	confidence DOUBLE PRECISION NOT NULL,
	multiplier DOUBLE PRECISION NOT NULL,
	ttl_minutes INTEGER NOT NULL,
	state TEXT NOT NULL,
	pnl_percent DOUBLE PRECISION NOT NULL,
	score DOUBLE PRECISION NOT NULL,
	threshold DOUBLE PRECISION NOT NULL,
	config_version BIGINT NOT NULL,
	highest_seen DOUBLE PRECISION NOT NULL,
	lowest_seen DOUBLE PRECISION NOT NULL,
	created_at BIGINT NOT NULL,
	terminal_at BIGINT NOT NULL,
	terminal_reason TEXT NOT NULL
)`, l.table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_symbol_terminal_at ON %s (symbol, terminal_at)`, l.table, l.table),
	}
	for _, s := range stmts {
		if _, err := l.db.ExecContext(ctx, s); err != nil {
			return fmt.Errorf("init ledger: %w", err)
		}
	}
	return nil
}

// Record inserts once per signal id; a duplicate reports false.
func (l *SQLOutcomeLedger) Record(ctx context.Context, rec models.OutcomeRecord) (bool, error) {
	q := fmt.Sprintf(`INSERT INTO %s (%s) VALUES (
	:signal_id, :symbol, :direction, :entry_price, :exit_price, :confidence,
	:multiplier, :ttl_minutes, :state, :pnl_percent, :score, :threshold, :config_version,
	:highest_seen, :lowest_seen, :created_at, :terminal_at, :terminal_reason
) ON CONFLICT (signal_id) DO NOTHING`, l.table, outcomeColumns)
	res, err := l.db.NamedExecContext(ctx, q, toRow(rec))
	if err != nil {
		return false, fmt.Errorf("insert outcome: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert outcome: %w", err)
	}
	return n == 1, nil
}

func (l *SQLOutcomeLedger) Exists(ctx context.Context, signalID string) (bool, error) {
	var n int
	q := l.db.Rebind(fmt.Sprintf(`SELECT COUNT(1) FROM %s WHERE signal_id = ?`, l.table))
	if err := l.db.GetContext(ctx, &n, q, signalID); err != nil {
		return false, fmt.Errorf("outcome exists: %w", err)
	}
	return n > 0, nil
}

// Recent returns the newest records first. An empty symbol means all.
func (l *SQLOutcomeLedger) Recent(ctx context.Context, symbol string, limit int) ([]models.OutcomeRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	q := fmt.Sprintf(`SELECT %s FROM %s`, outcomeColumns, l.table)
	args := []interface{}{}
	if symbol != "" {
		q += ` WHERE symbol = ?`
		args = append(args, symbol)
	}
	q += ` ORDER BY terminal_at DESC LIMIT ?`
	args = append(args, limit)
	return l.query(ctx, q, args...)
}

// Since returns records terminated at or after from, oldest first.
func (l *SQLOutcomeLedger) Since(ctx context.Context, symbol string, from time.Time) ([]models.OutcomeRecord, error) {
	q := fmt.Sprintf(`SELECT %s FROM %s WHERE terminal_at >= ?`, outcomeColumns, l.table)
	args := []interface{}{from.UnixMilli()}
	if symbol != "" {
		q += ` AND symbol = ?`
		args = append(args, symbol)
	}
	q += ` ORDER BY terminal_at ASC`
	return l.query(ctx, q, args...)
}

func (l *SQLOutcomeLedger) query(ctx context.Context, q string, args ...interface{}) ([]models.OutcomeRecord, error) {
	var rows []outcomeRow
	if err := l.db.SelectContext(ctx, &rows, l.db.Rebind(q), args...); err != nil {
		return nil, fmt.Errorf("query outcomes: %w", err)
	}
	out := make([]models.OutcomeRecord, len(rows))
	for i, r := range rows {
		out[i] = r.record()
	}
	return out, nil
}

func (l *SQLOutcomeLedger) Health(ctx context.Context) error { return l.db.PingContext(ctx) }

func (l *SQLOutcomeLedger) Close() error { return l.db.Close() }

var _ domrepo.OutcomeLedger = (*SQLOutcomeLedger)(nil)
