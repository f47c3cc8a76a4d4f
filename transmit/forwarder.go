// Package transmit delivers per-date ledger batches to the accounting
// endpoint and keeps an append-only audit trail of every attempt.
package transmit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/aqlanhadi/datsync/extractor/common"
	"github.com/aqlanhadi/datsync/ledger"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const (
	maxResponseBytes = 64 << 10
	maxStoredBody    = 4 << 10
)

var (
	ErrNoEndpoint = errors.New("transmission endpoint is not configured")
	ErrExhausted  = errors.New("transmission failed after all attempts")
)

// Outcome summarizes one batch delivery across its attempts.
type Outcome struct {
	BatchID  string
	Filename string
	Date     string
	Records  int
	Attempts int
	Status   Status
	Entries  []Entry
}

type Forwarder struct {
	cfg    Config
	client *http.Client
	audit  *AuditLog
	sinks  []Sink
	log    zerolog.Logger
	now    func() time.Time
}

func New(cfg Config, audit *AuditLog, log zerolog.Logger, sinks ...Sink) (*Forwarder, error) {
	if cfg.Endpoint == "" {
		return nil, ErrNoEndpoint
	}
	if cfg.Attempts < 1 {
		cfg.Attempts = 1
	}
	return &Forwarder{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		audit:  audit,
		sinks:  sinks,
		log:    log,
		now:    time.Now,
	}, nil
}

// BuildPayload renders records as the ledger CSV and wraps it with its
// metadata. The total is the exact decimal sum.
func (f *Forwarder) BuildPayload(filename, date string, records []common.Record) (Payload, error) {
	var buf bytes.Buffer
	if err := ledger.WriteCSV(&buf, records); err != nil {
		return Payload{}, fmt.Errorf("render csv: %w", err)
	}

	total := decimal.Zero
	for _, r := range records {
		total = total.Add(r.Amount)
	}

	return Payload{
		Filename:    filename,
		Date:        date,
		RecordCount: len(records),
		CSVData:     buf.String(),
		Metadata: Metadata{
			Source:      f.cfg.Source,
			GeneratedAt: f.now().UTC(),
			TotalAmount: json.Number(common.FormatAmount(total)),
		},
	}, nil
}

// Send posts the batch, retrying up to the configured number of attempts.
// Every attempt is audited. A non-nil error wrapping ErrExhausted means
// the batch was not delivered; the ledger is unaffected either way.
func (f *Forwarder) Send(ctx context.Context, filename, date string, records []common.Record) (Outcome, error) {
	payload, err := f.BuildPayload(filename, date, records)
	if err != nil {
		return Outcome{}, err
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return Outcome{}, fmt.Errorf("encode payload: %w", err)
	}

	out := Outcome{
		BatchID:  uuid.NewString(),
		Filename: filename,
		Date:     date,
		Records:  len(records),
		Status:   StatusError,
	}
	log := f.log.With().Str("batch_id", out.BatchID).Str("filename", filename).Logger()

	var lastErr error
	for attempt := 1; attempt <= f.cfg.Attempts; attempt++ {
		if attempt > 1 {
			if err := sleep(ctx, f.cfg.Delay); err != nil {
				lastErr = err
				break
			}
		}

		entry := f.attempt(ctx, body, payload)
		entry.BatchID = out.BatchID
		entry.Attempt = attempt
		f.record(ctx, entry)

		out.Attempts = attempt
		out.Status = entry.Status
		out.Entries = append(out.Entries, entry)

		if entry.Status == StatusSuccess {
			log.Info().Int("attempt", attempt).Int("records", len(records)).
				Str("total", entry.TotalAmount).Msg("batch delivered")
			return out, nil
		}

		lastErr = errors.New(entry.Error)
		log.Warn().Int("attempt", attempt).Int("max_attempts", f.cfg.Attempts).
			Str("status", string(entry.Status)).Int("response_code", entry.ResponseCode).
			Str("error", entry.Error).Msg("delivery attempt failed")
	}

	log.Error().Int("attempts", out.Attempts).Err(lastErr).Msg("batch not delivered")
	return out, fmt.Errorf("%w: %s: %v", ErrExhausted, filename, lastErr)
}

func (f *Forwarder) attempt(ctx context.Context, body []byte, p Payload) Entry {
	entry := Entry{
		ID:          uuid.NewString(),
		Filename:    p.Filename,
		Date:        p.Date,
		RecordCount: p.RecordCount,
		TotalAmount: p.Metadata.TotalAmount.String(),
		Endpoint:    f.cfg.Endpoint,
		Timestamp:   f.now().UTC(),
	}
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		entry.Status = StatusError
		entry.Error = err.Error()
		entry.DurationMS = time.Since(start).Milliseconds()
		return entry
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/plain")

	resp, err := f.client.Do(req)
	if err != nil {
		entry.Status = StatusError
		entry.Error = err.Error()
		entry.DurationMS = time.Since(start).Milliseconds()
		return entry
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	entry.DurationMS = time.Since(start).Milliseconds()
	entry.ResponseCode = resp.StatusCode
	entry.ResponseBody = responseText(raw)
	entry.ResponseHeaders = map[string]string{}
	for _, h := range []string{"Content-Type", "X-Request-Id", "Date"} {
		if v := resp.Header.Get(h); v != "" {
			entry.ResponseHeaders[h] = v
		}
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		entry.Status = StatusSuccess
		return entry
	}
	entry.Status = StatusFailed
	entry.Error = fmt.Sprintf("unexpected status %d", resp.StatusCode)
	return entry
}

func (f *Forwarder) record(ctx context.Context, e Entry) {
	if f.audit != nil {
		if err := f.audit.Append(e); err != nil {
			f.log.Error().Err(err).Str("entry_id", e.ID).Msg("audit append failed")
		}
	}
	for _, s := range f.sinks {
		if err := s.RecordTransmission(ctx, e); err != nil {
			f.log.Warn().Err(err).Str("entry_id", e.ID).Msg("transmission sink failed")
		}
	}
}

// responseText compacts JSON bodies and truncates anything long.
func responseText(raw []byte) string {
	raw = bytes.TrimSpace(raw)
	if json.Valid(raw) {
		var buf bytes.Buffer
		if err := json.Compact(&buf, raw); err == nil {
			raw = buf.Bytes()
		}
	}
	if len(raw) > maxStoredBody {
		raw = raw[:maxStoredBody]
	}
	return string(raw)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
