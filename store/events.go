package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/BiscuitNick/chainequity-sub000/token"
)

// Event is a persisted contract event. Optional columns (addresses, amount,
// gas fields) are empty strings when NULL.
type Event struct {
	ID          int64  `json:"id"`
	BlockNumber uint64 `json:"blockNumber"`
	LogIndex    uint32 `json:"logIndex"`
	TxHash      string `json:"transactionHash"`
	Type        string `json:"eventType"`
	From        string `json:"fromAddress,omitempty"`
	To          string `json:"toAddress,omitempty"`
	Amount      string `json:"amount,omitempty"`
	Data        string `json:"data,omitempty"`
	GasUsed     string `json:"gasUsed,omitempty"`
	GasPrice    string `json:"gasPrice,omitempty"`
	Timestamp   uint64 `json:"timestamp"`
}

const eventColumns = `id, block_number, log_index, transaction_hash, event_type,
	from_address, to_address, amount, data, gas_used, gas_price, timestamp`

// InsertEvent persists ev. Duplicate (transaction_hash, log_index) pairs are
// ignored; the return value reports whether a new row was written.
func (s *Store) InsertEvent(ctx context.Context, ev Event) (bool, error) {
	return insertEvent(ctx, s.db, ev)
}

// InsertEvent is the transactional form of Store.InsertEvent.
func (t *Tx) InsertEvent(ctx context.Context, ev Event) (bool, error) {
	return insertEvent(ctx, t.tx, ev)
}

func insertEvent(ctx context.Context, q querier, ev Event) (bool, error) {
	if !token.ValidEventType(ev.Type) {
		return false, fmt.Errorf("%w: %q", ErrInvalidEventType, ev.Type)
	}
	res, err := q.ExecContext(ctx, `
		INSERT OR IGNORE INTO events
			(block_number, log_index, transaction_hash, event_type,
			 from_address, to_address, amount, data, gas_used, gas_price, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.BlockNumber, ev.LogIndex, strings.ToLower(ev.TxHash), ev.Type,
		nullable(strings.ToLower(ev.From)), nullable(strings.ToLower(ev.To)),
		nullable(ev.Amount), nullable(ev.Data),
		nullable(ev.GasUsed), nullable(ev.GasPrice), ev.Timestamp)
	if err != nil {
		return false, fmt.Errorf("store: insert event: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("store: insert event: %w", err)
	}
	return n > 0, nil
}

// GetEventsByBlockRange returns events with from <= block_number <= to in
// ascending (block_number, id) order.
func (s *Store) GetEventsByBlockRange(ctx context.Context, from, to uint64) ([]Event, error) {
	return s.queryEvents(ctx, `
		SELECT `+eventColumns+` FROM events
		WHERE block_number BETWEEN ? AND ?
		ORDER BY block_number ASC, id ASC`, from, to)
}

// GetEventsByType returns the most recent events of one type, descending.
func (s *Store) GetEventsByType(ctx context.Context, eventType string, limit int) ([]Event, error) {
	if !token.ValidEventType(eventType) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidEventType, eventType)
	}
	return s.queryEvents(ctx, `
		SELECT `+eventColumns+` FROM events
		WHERE event_type = ?
		ORDER BY block_number DESC, id DESC
		LIMIT ?`, eventType, limitOrAll(limit))
}

// GetEventsByTypes returns the most recent events matching any of the given
// types, descending.
func (s *Store) GetEventsByTypes(ctx context.Context, eventTypes []string, limit int) ([]Event, error) {
	if len(eventTypes) == 0 {
		return nil, nil
	}
	args := make([]any, 0, len(eventTypes)+1)
	for _, typ := range eventTypes {
		if !token.ValidEventType(typ) {
			return nil, fmt.Errorf("%w: %q", ErrInvalidEventType, typ)
		}
		args = append(args, typ)
	}
	args = append(args, limitOrAll(limit))
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(eventTypes)), ",")
	return s.queryEvents(ctx, `
		SELECT `+eventColumns+` FROM events
		WHERE event_type IN (`+placeholders+`)
		ORDER BY block_number DESC, id DESC
		LIMIT ?`, args...)
}

// GetEventsByAddress returns events where either side matches addr,
// descending.
func (s *Store) GetEventsByAddress(ctx context.Context, addr string, limit int) ([]Event, error) {
	addr = strings.ToLower(addr)
	return s.queryEvents(ctx, `
		SELECT `+eventColumns+` FROM events
		WHERE from_address = ? OR to_address = ?
		ORDER BY block_number DESC, id DESC
		LIMIT ?`, addr, addr, limitOrAll(limit))
}

// GetTransfersByAddress returns every Transfer touching addr in ascending
// order, for balance-history replay.
func (s *Store) GetTransfersByAddress(ctx context.Context, addr string) ([]Event, error) {
	addr = strings.ToLower(addr)
	return s.queryEvents(ctx, `
		SELECT `+eventColumns+` FROM events
		WHERE event_type = ? AND (from_address = ? OR to_address = ?)
		ORDER BY block_number ASC, id ASC`, token.TypeTransfer, addr, addr)
}

// GetEventsPaged returns events in descending order with limit and offset.
func (s *Store) GetEventsPaged(ctx context.Context, limit, offset int) ([]Event, error) {
	if offset < 0 {
		offset = 0
	}
	return s.queryEvents(ctx, `
		SELECT `+eventColumns+` FROM events
		ORDER BY block_number DESC, id DESC
		LIMIT ? OFFSET ?`, limitOrAll(limit), offset)
}

// GetMintBurnTransfers returns Transfers with a zero or missing side in
// ascending order, for supply accounting.
func (s *Store) GetMintBurnTransfers(ctx context.Context) ([]Event, error) {
	zero := zeroAddressHex
	return s.queryEvents(ctx, `
		SELECT `+eventColumns+` FROM events
		WHERE event_type = ?
		  AND (from_address IS NULL OR from_address = ? OR to_address IS NULL OR to_address = ?)
		ORDER BY block_number ASC, id ASC`, token.TypeTransfer, zero, zero)
}

// CountEvents returns the total number of persisted events.
func (s *Store) CountEvents(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM events`).Scan(&n); err != nil {
		return 0, fmt.Errorf("store: count events: %w", err)
	}
	return n, nil
}

const zeroAddressHex = "0x0000000000000000000000000000000000000000"

func (s *Store) queryEvents(ctx context.Context, query string, args ...any) ([]Event, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: query events: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: scan events: %w", err)
	}
	return out, nil
}

func scanEvent(rows *sql.Rows) (Event, error) {
	var ev Event
	var from, to, amount, data, gasU, gasP sql.NullString
	if err := rows.Scan(&ev.ID, &ev.BlockNumber, &ev.LogIndex, &ev.TxHash, &ev.Type,
		&from, &to, &amount, &data, &gasU, &gasP, &ev.Timestamp); err != nil {
		return Event{}, fmt.Errorf("store: scan event: %w", err)
	}
	ev.From, ev.To = from.String, to.String
	ev.Amount, ev.Data = amount.String, data.String
	ev.GasUsed, ev.GasPrice = gasU.String, gasP.String
	return ev, nil
}
