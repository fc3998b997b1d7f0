package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"MirrorTrader/internal/domain/models"
	"MirrorTrader/internal/domain/repository"
)

// TradeLedgerSchema returns the idempotent DDL for the trade ledger table.
// ReplacingMergeTree keyed on (id) with updated_at as the version column:
// the open row and the later closed row collapse to the terminal state.
func TradeLedgerSchema(table string) []string {
	return []string{fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
    id          String,
    stream_id   String,
    trader_id   String,
    symbol      LowCardinality(String),
    direction   LowCardinality(String),
    entry_time  DateTime64(3),
    entry_price Float64,
    exit_time   Nullable(DateTime64(3)),
    exit_price  Nullable(Float64),
    size        Float64,
    pnl         Nullable(Float64),
    result      LowCardinality(String),
    signals     String,
    updated_at  DateTime64(3)
) ENGINE = ReplacingMergeTree(updated_at)
ORDER BY (stream_id, id)`, table)}
}

// ClickHouseTradeStore is the durable trade ledger. Writes are append-only;
// the engine collapses open/closed versions of the same trade.
type ClickHouseTradeStore struct {
	db    *sql.DB
	table string
}

// NewClickHouseTradeStore creates the ledger store on an existing pool.
func NewClickHouseTradeStore(db *sql.DB, table string) repository.TradeStore {
	return &ClickHouseTradeStore{db: db, table: table}
}

func (s *ClickHouseTradeStore) Save(ctx context.Context, t *models.Trade) error {
	signals, err := json.Marshal(t.Signals)
	if err != nil {
		return fmt.Errorf("marshal signals: %w", err)
	}

	var exitTime *time.Time
	var exitPrice, pnl *float64
	if t.ExitTime != nil {
		exitTime = t.ExitTime
	}
	if t.ExitPrice != nil {
		exitPrice = t.ExitPrice
	}
	if t.Pnl != nil {
		pnl = t.Pnl
	}

	q := fmt.Sprintf(`INSERT INTO %s
(id, stream_id, trader_id, symbol, direction, entry_time, entry_price, exit_time, exit_price, size, pnl, result, signals, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, s.table)
	_, err = s.db.ExecContext(ctx, q,
		t.ID,
		t.StreamID,
		t.TraderID,
		t.Symbol,
		string(t.Direction),
		t.EntryTime,
		t.EntryPrice,
		exitTime,
		exitPrice,
		t.Size,
		pnl,
		string(t.Result),
		string(signals),
		time.Now(),
	)
	if err != nil {
		return fmt.Errorf("insert trade: %w", err)
	}
	return nil
}

func (s *ClickHouseTradeStore) Load(ctx context.Context, streamID string, limit int) ([]*models.Trade, error) {
	if limit <= 0 {
		limit = 100
	}
	// FINAL forces version collapse so replayed rows yield one trade each
	q := fmt.Sprintf(`SELECT id, stream_id, trader_id, symbol, direction, entry_time, entry_price, exit_time, exit_price, size, pnl, result, signals
FROM %s FINAL WHERE stream_id = ? ORDER BY entry_time DESC LIMIT ?`, s.table)
	rows, err := s.db.QueryContext(ctx, q, streamID, limit)
	if err != nil {
		return nil, fmt.Errorf("query trades: %w", err)
	}
	defer rows.Close()

	var trades []*models.Trade
	for rows.Next() {
		var (
			t         models.Trade
			direction string
			result    string
			exitTime  sql.NullTime
			exitPrice sql.NullFloat64
			pnl       sql.NullFloat64
			signals   string
		)
		if err := rows.Scan(
			&t.ID, &t.StreamID, &t.TraderID, &t.Symbol, &direction,
			&t.EntryTime, &t.EntryPrice, &exitTime, &exitPrice,
			&t.Size, &pnl, &result, &signals,
		); err != nil {
			return nil, fmt.Errorf("scan trade: %w", err)
		}
		t.Direction = models.Direction(direction)
		t.Result = models.TradeResult(result)
		if exitTime.Valid {
			v := exitTime.Time
			t.ExitTime = &v
		}
		if exitPrice.Valid {
			v := exitPrice.Float64
			t.ExitPrice = &v
		}
		if pnl.Valid {
			v := pnl.Float64
			t.Pnl = &v
		}
		if signals != "" {
			if err := json.Unmarshal([]byte(signals), &t.Signals); err != nil {
				return nil, fmt.Errorf("unmarshal signals: %w", err)
			}
		}
		trades = append(trades, &t)
	}
	return trades, rows.Err()
}

func (s *ClickHouseTradeStore) Health(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *ClickHouseTradeStore) Close() error {
	return nil // pool owned by pkg/clickhouse
}
