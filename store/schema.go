package store

// schemaSQL is applied on every Open; all statements are idempotent. Events
// are unique on (transaction_hash, log_index) so re-running any sync range is
// a no-op, and ordered scans use the (block_number, id) index.
const schemaSQL = `
CREATE TABLE IF NOT EXISTS events (
    id               INTEGER PRIMARY KEY AUTOINCREMENT,
    block_number     INTEGER NOT NULL,
    log_index        INTEGER NOT NULL,
    transaction_hash TEXT    NOT NULL,
    event_type       TEXT    NOT NULL,
    from_address     TEXT,
    to_address       TEXT,
    amount           TEXT,
    data             TEXT,
    gas_used         TEXT,
    gas_price        TEXT,
    timestamp        INTEGER NOT NULL,
    UNIQUE (transaction_hash, log_index)
);

CREATE INDEX IF NOT EXISTS idx_events_block ON events (block_number, id);
CREATE INDEX IF NOT EXISTS idx_events_type  ON events (event_type, block_number DESC);
CREATE INDEX IF NOT EXISTS idx_events_from  ON events (from_address);
CREATE INDEX IF NOT EXISTS idx_events_to    ON events (to_address);

CREATE TABLE IF NOT EXISTS balances (
    address                TEXT PRIMARY KEY,
    balance                TEXT    NOT NULL,
    last_updated_block     INTEGER NOT NULL,
    last_updated_timestamp INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS corporate_actions (
    id               INTEGER PRIMARY KEY AUTOINCREMENT,
    action_type      TEXT    NOT NULL,
    block_number     INTEGER NOT NULL,
    transaction_hash TEXT    NOT NULL,
    old_value        TEXT,
    new_value        TEXT,
    timestamp        INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_actions_type ON corporate_actions (action_type, block_number DESC);

CREATE TABLE IF NOT EXISTS metadata (
    key        TEXT PRIMARY KEY,
    value      TEXT    NOT NULL,
    updated_at INTEGER NOT NULL
);
`
