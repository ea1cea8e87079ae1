package journal

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rustyeddy/tradeguard/broker"
	"github.com/rustyeddy/tradeguard/market"
	"github.com/rustyeddy/tradeguard/risk"
)

// ListEvents returns events whose time is within [start, end), oldest first.
func (j *SQLite) ListEvents(ctx context.Context, start, end time.Time) ([]risk.Event, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT event_id, time, day, kind, message, payload
		FROM risk_events
		WHERE time >= ? AND time < ?
		ORDER BY time ASC, event_id ASC`, start.UTC(), end.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []risk.Event
	for rows.Next() {
		var (
			ev      risk.Event
			kind    string
			payload string
		)
		if err := rows.Scan(&ev.ID, &ev.Time, &ev.Day, &kind, &ev.Message, &payload); err != nil {
			return nil, err
		}
		ev.Kind = risk.EventKind(kind)
		if payload != "" && payload != "null" {
			if err := json.Unmarshal([]byte(payload), &ev.Payload); err != nil {
				return nil, fmt.Errorf("decode payload of %s: %w", ev.ID, err)
			}
		}
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// ListDeals returns deals whose close_time is within [start, end).
func (j *SQLite) ListDeals(ctx context.Context, start, end time.Time) ([]broker.Deal, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT deal_id, ticket, symbol, direction, volume, open_price, close_price, close_time, profit, comment
		FROM deals
		WHERE close_time >= ? AND close_time < ?
		ORDER BY close_time ASC, deal_id ASC`, start.UTC(), end.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []broker.Deal
	for rows.Next() {
		var (
			d      broker.Deal
			ticket int64
			dir    string
		)
		if err := rows.Scan(&d.ID, &ticket, &d.Symbol, &dir, &d.Volume,
			&d.OpenPrice, &d.ClosePrice, &d.CloseTime, &d.Profit, &d.Comment); err != nil {
			return nil, err
		}
		d.Ticket = broker.Ticket(ticket)
		d.Direction, _ = market.ParseDirection(dir)
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// DaySummary condenses one window: deal count and realized total, the number
// of accepted trades, and the last halt event if no reset followed it.
func (j *SQLite) DaySummary(ctx context.Context, w risk.Window) (Summary, error) {
	var s Summary

	deals, err := j.ListDeals(ctx, w.Start, w.End)
	if err != nil {
		return s, fmt.Errorf("day summary deals: %w", err)
	}
	for _, d := range deals {
		s.Realized += d.Profit
	}
	s.Deals = len(deals)

	events, err := j.ListEvents(ctx, w.Start, w.End)
	if err != nil {
		return s, fmt.Errorf("day summary events: %w", err)
	}
	for i := range events {
		switch {
		case events[i].Kind == risk.TradeAccepted:
			s.Trades++
		case events[i].Kind.IsHalt():
			ev := events[i]
			s.LastHalt = &ev
			s.Reset = false
		case events[i].Kind == risk.DayReset && s.LastHalt != nil:
			s.Reset = true
		}
	}
	if s.Reset {
		s.LastHalt = nil
	}
	return s, nil
}
