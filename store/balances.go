package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// Balance is the cached current balance of one holder, in pre-multiplier raw
// units.
type Balance struct {
	Address              string `json:"address"`
	Balance              string `json:"balance"`
	LastUpdatedBlock     uint64 `json:"lastUpdatedBlock"`
	LastUpdatedTimestamp uint64 `json:"lastUpdatedTimestamp"`
}

// UpsertBalance overwrites the balance row for addr. The balance must be a
// canonical non-negative decimal string.
func (s *Store) UpsertBalance(ctx context.Context, addr, balance string, block, ts uint64) error {
	return upsertBalance(ctx, s.db, addr, balance, block, ts)
}

// UpsertBalance is the transactional form of Store.UpsertBalance.
func (t *Tx) UpsertBalance(ctx context.Context, addr, balance string, block, ts uint64) error {
	return upsertBalance(ctx, t.tx, addr, balance, block, ts)
}

func upsertBalance(ctx context.Context, q querier, addr, balance string, block, ts uint64) error {
	if !validBalance(balance) {
		return fmt.Errorf("%w: %q", ErrInvalidBalance, balance)
	}
	_, err := q.ExecContext(ctx, `
		INSERT INTO balances (address, balance, last_updated_block, last_updated_timestamp)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (address) DO UPDATE SET
			balance                = excluded.balance,
			last_updated_block     = excluded.last_updated_block,
			last_updated_timestamp = excluded.last_updated_timestamp`,
		strings.ToLower(addr), balance, block, ts)
	if err != nil {
		return fmt.Errorf("store: upsert balance: %w", err)
	}
	return nil
}

// validBalance accepts canonical decimal strings: digits only, no leading
// zeros (except "0" itself), no sign.
func validBalance(s string) bool {
	if s == "" {
		return false
	}
	if s != "0" && s[0] == '0' {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

// GetBalance returns the balance row for addr, or nil when absent.
func (s *Store) GetBalance(ctx context.Context, addr string) (*Balance, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT address, balance, last_updated_block, last_updated_timestamp
		FROM balances WHERE address = ?`, strings.ToLower(addr))

	var b Balance
	err := row.Scan(&b.Address, &b.Balance, &b.LastUpdatedBlock, &b.LastUpdatedTimestamp)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: get balance: %w", err)
	}
	return &b, nil
}

// GetAllBalances returns holders with balance > 0 sorted by balance
// descending, ties broken by address ascending. Canonical decimal strings
// order numerically by (length, lexicographic). limit <= 0 returns all rows.
func (s *Store) GetAllBalances(ctx context.Context, limit int) ([]Balance, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT address, balance, last_updated_block, last_updated_timestamp
		FROM balances
		WHERE balance != '0'
		ORDER BY LENGTH(balance) DESC, balance DESC, address ASC
		LIMIT ?`, limitOrAll(limit))
	if err != nil {
		return nil, fmt.Errorf("store: query balances: %w", err)
	}
	defer rows.Close()

	var out []Balance
	for rows.Next() {
		var b Balance
		if err := rows.Scan(&b.Address, &b.Balance, &b.LastUpdatedBlock, &b.LastUpdatedTimestamp); err != nil {
			return nil, fmt.Errorf("store: scan balance: %w", err)
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: scan balances: %w", err)
	}
	return out, nil
}

// CountHolders returns the number of addresses with a positive balance.
func (s *Store) CountHolders(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM balances WHERE balance != '0'`).Scan(&n); err != nil {
		return 0, fmt.Errorf("store: count holders: %w", err)
	}
	return n, nil
}
