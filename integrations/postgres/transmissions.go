package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/aqlanhadi/datsync/transmit"
)

// RecordTransmission mirrors one audit entry. Replaying the same entry is a
// no-op. Text parameters are cast server side.
func (db *DB) RecordTransmission(ctx context.Context, e transmit.Entry) error {
	var ledgerDate any
	if _, err := time.Parse("2006-01-02", e.Date); err == nil {
		ledgerDate = e.Date
	}
	total := e.TotalAmount
	if total == "" {
		total = "0"
	}
	var code any
	if e.ResponseCode != 0 {
		code = e.ResponseCode
	}

	_, err := db.Pool.Exec(ctx, `
		INSERT INTO transmissions (
			id, batch_id, attempt, status, filename, ledger_date, record_count,
			total_amount, endpoint, response_code, response_body, error_message,
			duration_ms, attempted_at
		) VALUES (
			$1::text::uuid, $2::text::uuid, $3, $4, $5, $6::text::date, $7,
			$8::text::numeric, $9, $10, $11, $12, $13, $14
		)
		ON CONFLICT (id) DO NOTHING
	`, e.ID, e.BatchID, e.Attempt, string(e.Status), e.Filename, ledgerDate, e.RecordCount,
		total, e.Endpoint, code, e.ResponseBody, e.Error,
		e.DurationMS, e.Timestamp)
	if err != nil {
		return fmt.Errorf("failed to record transmission: %w", err)
	}
	return nil
}

var _ transmit.Sink = (*DB)(nil)
