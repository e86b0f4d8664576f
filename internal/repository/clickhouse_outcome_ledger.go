package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"SignalFlow/internal/domain/models"
	domrepo "SignalFlow/internal/domain/repository"
	pkgch "SignalFlow/pkg/clickhouse"
	applogger "SignalFlow/pkg/logger"
)

// CHOutcomeLedger is the OutcomeLedger on ClickHouse. The table is a
// ReplacingMergeTree keyed by signal_id, and reads use FINAL, so a racing
// duplicate insert collapses into one row.
type CHOutcomeLedger struct {
	client *pkgch.Client
	db     *sql.DB
	table  string
	l      *applogger.Logger
}

func NewCHOutcomeLedger(ch *pkgch.Client, table string, l *applogger.Logger) *CHOutcomeLedger {
	return &CHOutcomeLedger{client: ch, db: ch.DB(), table: table, l: l}
}

func (s *CHOutcomeLedger) Init(ctx context.Context) error {
	return s.client.InitSchema(ctx, []string{fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	signal_id String,
	symbol LowCardinality(String),
	direction LowCardinality(String),
	entry_price Float64,
	exit_price Float64,
	confidence Float64,
	multiplier Float64,
	ttl_minutes Int32,
	state LowCardinality(String),
	pnl_percent Float64,
	score Float64,
	threshold Float64,
	config_version Int64,
	highest_seen Float64,
	lowest_seen Float64,
	created_at DateTime64(3, 'UTC'),
	terminal_at DateTime64(3, 'UTC'),
	terminal_reason LowCardinality(String)
) ENGINE = ReplacingMergeTree
ORDER BY (signal_id)`, s.table)})
}

func (s *CHOutcomeLedger) Record(ctx context.Context, rec models.OutcomeRecord) (bool, error) {
	exists, err := s.Exists(ctx, rec.SignalID)
	if err != nil {
		return false, err
	}
	if exists {
		return false, nil
	}
	q := fmt.Sprintf("INSERT INTO %s (%s) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)", s.table, outcomeColumns)
	_, err = s.db.ExecContext(ctx, q,
		rec.SignalID, rec.Symbol, rec.Direction, rec.EntryPrice, rec.ExitPrice, rec.Confidence,
		rec.Multiplier, rec.TTLMinutes, rec.State, rec.PnLPercent, rec.Score, rec.Threshold,
		rec.ConfigVersion, rec.HighestSeen, rec.LowestSeen, rec.CreatedAt, rec.TerminalAt, rec.TerminalReason,
	)
	if err != nil {
		if s.l != nil {
			s.l.Error("clickhouse outcome insert error",
				applogger.String("signal_id", rec.SignalID),
				applogger.String("symbol", rec.Symbol),
				applogger.Error(err),
			)
		}
		return false, fmt.Errorf("insert outcome: %w", err)
	}
	return true, nil
}

func (s *CHOutcomeLedger) Exists(ctx context.Context, signalID string) (bool, error) {
	var n uint64
	q := fmt.Sprintf("SELECT count() FROM %s WHERE signal_id = ?", s.table)
	if err := s.db.QueryRowContext(ctx, q, signalID).Scan(&n); err != nil {
		return false, fmt.Errorf("outcome exists: %w", err)
	}
	return n > 0, nil
}

func (s *CHOutcomeLedger) Recent(ctx context.Context, symbol string, limit int) ([]models.OutcomeRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	q := fmt.Sprintf("SELECT %s FROM %s FINAL", outcomeColumns, s.table)
	args := []interface{}{}
	if symbol != "" {
		q += " WHERE symbol = ?"
		args = append(args, symbol)
	}
	q += " ORDER BY terminal_at DESC LIMIT ?"
	args = append(args, limit)
	return s.query(ctx, q, args...)
}

func (s *CHOutcomeLedger) Since(ctx context.Context, symbol string, from time.Time) ([]models.OutcomeRecord, error) {
	q := fmt.Sprintf("SELECT %s FROM %s FINAL WHERE terminal_at >= ?", outcomeColumns, s.table)
	args := []interface{}{from.UTC()}
	if symbol != "" {
		q += " AND symbol = ?"
		args = append(args, symbol)
	}
	q += " ORDER BY terminal_at ASC"
	return s.query(ctx, q, args...)
}

func (s *CHOutcomeLedger) query(ctx context.Context, q string, args ...interface{}) ([]models.OutcomeRecord, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query outcomes: %w", err)
	}
	defer rows.Close()

	var out []models.OutcomeRecord
	for rows.Next() {
		var r models.OutcomeRecord
		if err := rows.Scan(&r.SignalID, &r.Symbol, &r.Direction, &r.EntryPrice, &r.ExitPrice, &r.Confidence,
			&r.Multiplier, &r.TTLMinutes, &r.State, &r.PnLPercent, &r.Score, &r.Threshold,
			&r.ConfigVersion, &r.HighestSeen, &r.LowestSeen, &r.CreatedAt, &r.TerminalAt, &r.TerminalReason); err != nil {
			return nil, fmt.Errorf("scan outcome: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	return out, nil
}

func (s *CHOutcomeLedger) Health(ctx context.Context) error { return s.client.Health(ctx) }

// Close is a no-op; the client is owned by the caller.
func (s *CHOutcomeLedger) Close() error { return nil }

var _ domrepo.OutcomeLedger = (*CHOutcomeLedger)(nil)
