package postgres

import (
	"context"
	"fmt"
)

const ddl = `
-- Processed DAT files, keyed by bare filename
CREATE TABLE IF NOT EXISTS processed_files (
    filename TEXT PRIMARY KEY,
    processed_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

-- Mirror of the transmission audit log, one row per attempt
CREATE TABLE IF NOT EXISTS transmissions (
    id UUID PRIMARY KEY,
    batch_id UUID NOT NULL,
    attempt INT NOT NULL,
    status VARCHAR(10) NOT NULL,
    filename TEXT NOT NULL,
    ledger_date DATE,
    record_count INT NOT NULL DEFAULT 0,
    total_amount NUMERIC(20,2) NOT NULL DEFAULT 0,
    endpoint TEXT NOT NULL,
    response_code INT,
    response_body TEXT,
    error_message TEXT,
    duration_ms BIGINT NOT NULL DEFAULT 0,
    attempted_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_transmissions_filename ON transmissions(filename);
CREATE INDEX IF NOT EXISTS idx_transmissions_attempted_at ON transmissions(attempted_at);
`

// EnsureSchema creates tables if they don't exist
func (db *DB) EnsureSchema(ctx context.Context) error {
	if _, err := db.Pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}
