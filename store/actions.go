package store

import (
	"context"
	"fmt"
	"strings"
)

// CorporateAction is a durable record of a split, symbol change, or name
// change. For StockSplit, OldValue holds the per-split multiplier and
// NewValue the resulting cumulative multiplier, both in basis points.
type CorporateAction struct {
	ID          int64  `json:"id"`
	ActionType  string `json:"actionType"`
	BlockNumber uint64 `json:"blockNumber"`
	TxHash      string `json:"transactionHash"`
	OldValue    string `json:"oldValue"`
	NewValue    string `json:"newValue"`
	Timestamp   uint64 `json:"timestamp"`
}

func validActionType(s string) bool {
	switch s {
	case ActionStockSplit, ActionSymbolChange, ActionNameChange:
		return true
	}
	return false
}

// InsertCorporateAction appends an action record.
func (s *Store) InsertCorporateAction(ctx context.Context, a CorporateAction) error {
	return insertCorporateAction(ctx, s.db, a)
}

// InsertCorporateAction is the transactional form of
// Store.InsertCorporateAction.
func (t *Tx) InsertCorporateAction(ctx context.Context, a CorporateAction) error {
	return insertCorporateAction(ctx, t.tx, a)
}

func insertCorporateAction(ctx context.Context, q querier, a CorporateAction) error {
	if !validActionType(a.ActionType) {
		return fmt.Errorf("%w: %q", ErrInvalidActionType, a.ActionType)
	}
	_, err := q.ExecContext(ctx, `
		INSERT INTO corporate_actions
			(action_type, block_number, transaction_hash, old_value, new_value, timestamp)
		VALUES (?, ?, ?, ?, ?, ?)`,
		a.ActionType, a.BlockNumber, strings.ToLower(a.TxHash),
		nullable(a.OldValue), nullable(a.NewValue), a.Timestamp)
	if err != nil {
		return fmt.Errorf("store: insert corporate action: %w", err)
	}
	return nil
}

// GetCorporateActions returns actions in descending (block_number, id)
// order. An empty actionType returns every type.
func (s *Store) GetCorporateActions(ctx context.Context, actionType string, limit int) ([]CorporateAction, error) {
	query := `
		SELECT id, action_type, block_number, transaction_hash,
		       COALESCE(old_value, ''), COALESCE(new_value, ''), timestamp
		FROM corporate_actions`
	args := []any{}
	if actionType != "" {
		if !validActionType(actionType) {
			return nil, fmt.Errorf("%w: %q", ErrInvalidActionType, actionType)
		}
		query += ` WHERE action_type = ?`
		args = append(args, actionType)
	}
	query += ` ORDER BY block_number DESC, id DESC LIMIT ?`
	args = append(args, limitOrAll(limit))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: query corporate actions: %w", err)
	}
	defer rows.Close()

	var out []CorporateAction
	for rows.Next() {
		var a CorporateAction
		if err := rows.Scan(&a.ID, &a.ActionType, &a.BlockNumber, &a.TxHash,
			&a.OldValue, &a.NewValue, &a.Timestamp); err != nil {
			return nil, fmt.Errorf("store: scan corporate action: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: scan corporate actions: %w", err)
	}
	return out, nil
}
