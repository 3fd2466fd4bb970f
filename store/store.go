// Package store persists the indexed view of the ChainEquity token: every
// decoded contract event, the cached per-holder balances, corporate actions,
// and sync metadata. It is backed by SQLite in WAL mode so the single writer
// (the indexer) runs alongside concurrent HTTP readers.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

// Metadata keys recognized by the indexer and the cap-table engine.
const (
	MetaLastSyncedBlock = "last_synced_block"
	MetaSplitMultiplier = "split_multiplier"
	MetaTokenSymbol     = "token_symbol"
	MetaTokenName       = "token_name"
)

// Corporate action types, as persisted in the action_type column.
const (
	ActionStockSplit   = "StockSplit"
	ActionSymbolChange = "SymbolChange"
	ActionNameChange   = "NameChange"
)

var (
	ErrInvalidEventType  = errors.New("store: invalid event type")
	ErrInvalidActionType = errors.New("store: invalid action type")
	ErrInvalidBalance    = errors.New("store: invalid balance")
	ErrMetadataNotFound  = errors.New("store: metadata key not found")
)

// querier is satisfied by both *sql.DB and *sql.Tx so every statement is
// written once and runs either standalone or inside a transaction.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store is the durable event/balance/action/metadata store. Callers outside
// the indexer must treat it as read-only.
type Store struct {
	db *sql.DB
}

// Open creates or opens the SQLite database at path, enables WAL journaling,
// and applies the schema. The parent directory is created if missing.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("store: create directory: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: ping database: %w", err)
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying pool, checkpointing the WAL sidecars.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping verifies the database is reachable. Used by health checks.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Tx groups writes that must commit atomically. It exposes the same write
// operations as Store, bound to one transaction.
type Tx struct {
	tx *sql.Tx
}

// RunInTransaction runs fn inside a single transaction. All writes issued
// through the supplied Tx commit together or roll back together; fn's error
// is propagated after rollback.
func (s *Store) RunInTransaction(ctx context.Context, fn func(tx *Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&Tx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit transaction: %w", err)
	}
	return nil
}

// nullable maps an empty string to SQL NULL.
func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// limitOrAll translates "0 or negative means unbounded" into SQLite's
// negative LIMIT convention.
func limitOrAll(limit int) int {
	if limit <= 0 {
		return -1
	}
	return limit
}
