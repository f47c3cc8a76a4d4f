package postgres

import (
	"context"
	"fmt"

	"github.com/aqlanhadi/datsync/dedup"
)

// IsProcessed reports whether filename is in processed_files.
func (db *DB) IsProcessed(ctx context.Context, filename string) (bool, error) {
	var exists bool
	err := db.Pool.QueryRow(ctx, `
		SELECT EXISTS(SELECT 1 FROM processed_files WHERE filename = $1)
	`, filename).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check processed file: %w", err)
	}
	return exists, nil
}

// MarkProcessed inserts filename. ON CONFLICT DO NOTHING makes the insert
// the atomic claim: only one concurrent caller sees a row affected.
func (db *DB) MarkProcessed(ctx context.Context, filename string) (bool, error) {
	tag, err := db.Pool.Exec(ctx, `
		INSERT INTO processed_files (filename) VALUES ($1)
		ON CONFLICT (filename) DO NOTHING
	`, filename)
	if err != nil {
		return false, fmt.Errorf("failed to mark processed file: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// List returns every processed filename in name order.
func (db *DB) List(ctx context.Context) ([]string, error) {
	rows, err := db.Pool.Query(ctx, `SELECT filename FROM processed_files ORDER BY filename`)
	if err != nil {
		return nil, fmt.Errorf("failed to list processed files: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan processed file: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// Forget removes filename so the next normal run picks it up again.
func (db *DB) Forget(ctx context.Context, filename string) error {
	if _, err := db.Pool.Exec(ctx, `DELETE FROM processed_files WHERE filename = $1`, filename); err != nil {
		return fmt.Errorf("failed to forget processed file: %w", err)
	}
	return nil
}

var (
	_ dedup.Store     = (*DB)(nil)
	_ dedup.Lister    = (*DB)(nil)
	_ dedup.Forgetter = (*DB)(nil)
)
