package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/rustyeddy/tradeguard/broker"
	"github.com/rustyeddy/tradeguard/risk"
)

type SQLite struct {
	db *sql.DB
}

var (
	_ Journal = (*SQLite)(nil)
	_ Querier = (*SQLite)(nil)
)

func NewSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}

	if _, err := db.Exec(Schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &SQLite{db: db}, nil
}

func (j *SQLite) RecordEvent(ctx context.Context, ev risk.Event) error {
	payload, err := json.Marshal(ev.Payload)
	if err != nil {
		return fmt.Errorf("encode payload for %s: %w", ev.ID, err)
	}
	_, err = j.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO risk_events
		(event_id, time, day, kind, message, payload)
		VALUES (?, ?, ?, ?, ?, ?)`,
		ev.ID, ev.Time.UTC(), ev.Day, string(ev.Kind), ev.Message, string(payload),
	)
	return err
}

// RecordDeal ignores deal ids it has already stored.
func (j *SQLite) RecordDeal(ctx context.Context, d broker.Deal) error {
	_, err := j.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO deals
		(deal_id, ticket, symbol, direction, volume, open_price, close_price, close_time, profit, comment)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, int64(d.Ticket), d.Symbol, d.Direction.String(), d.Volume,
		d.OpenPrice, d.ClosePrice, d.CloseTime.UTC(), d.Profit, d.Comment,
	)
	return err
}

func (j *SQLite) Close() error {
	return j.db.Close()
}
