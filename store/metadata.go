package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"
)

// SetMetadata stores or replaces a metadata key.
func (s *Store) SetMetadata(ctx context.Context, key, value string) error {
	return setMetadata(ctx, s.db, key, value)
}

// SetMetadata is the transactional form of Store.SetMetadata.
func (t *Tx) SetMetadata(ctx context.Context, key, value string) error {
	return setMetadata(ctx, t.tx, key, value)
}

func setMetadata(ctx context.Context, q querier, key, value string) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO metadata (key, value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			updated_at = excluded.updated_at`,
		key, value, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("store: set metadata %q: %w", key, err)
	}
	return nil
}

// GetMetadata returns the value for key, or ErrMetadataNotFound.
func (s *Store) GetMetadata(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM metadata WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("%w: %q", ErrMetadataNotFound, key)
	}
	if err != nil {
		return "", fmt.Errorf("store: get metadata %q: %w", key, err)
	}
	return value, nil
}

// GetLastSyncedBlock returns the persisted sync cursor, or 0 when the
// store has never completed a sync pass.
func (s *Store) GetLastSyncedBlock(ctx context.Context) (uint64, error) {
	value, err := s.GetMetadata(ctx, MetaLastSyncedBlock)
	if errors.Is(err, ErrMetadataNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	n, err := strconv.ParseUint(value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("store: parse last synced block %q: %w", value, err)
	}
	return n, nil
}

// SetLastSyncedBlock is the transactional form used at the end of a
// sync pass commit.
func (t *Tx) SetLastSyncedBlock(ctx context.Context, block uint64) error {
	return t.SetMetadata(ctx, MetaLastSyncedBlock, strconv.FormatUint(block, 10))
}
