package transmit

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aqlanhadi/datsync/extractor/common"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRecords() []common.Record {
	return []common.Record{
		{Date: "2025-07-10", Time: "14:30:22", Amount: decimal.RequireFromString("150.40"), MobileNumber: "0917123456", TransactionID: "AB12345"},
		{Date: "2025-07-10", Time: "15:00:00", Amount: decimal.RequireFromString("0.05"), MobileNumber: "0917000000"},
	}
}

type memorySink struct {
	mu      sync.Mutex
	entries []Entry
}

func (s *memorySink) RecordTransmission(_ context.Context, e Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, e)
	return nil
}

func newForwarder(t *testing.T, endpoint string, attempts int, sinks ...Sink) (*Forwarder, *AuditLog) {
	t.Helper()
	audit, err := OpenAuditLog(t.TempDir())
	require.NoError(t, err)

	cfg := DefaultConfig()
	cfg.Endpoint = endpoint
	cfg.Attempts = attempts
	cfg.Delay = time.Millisecond
	cfg.Timeout = 2 * time.Second

	fwd, err := New(cfg, audit, zerolog.Nop(), sinks...)
	require.NoError(t, err)
	fwd.now = func() time.Time { return time.Date(2025, 7, 11, 9, 0, 0, 0, time.UTC) }
	return fwd, audit
}

func TestNew_RequiresEndpoint(t *testing.T) {
	_, err := New(DefaultConfig(), nil, zerolog.Nop())
	assert.ErrorIs(t, err, ErrNoEndpoint)
}

func TestSend_SuccessFirstAttempt(t *testing.T) {
	var got Payload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{ "accepted": true }`))
	}))
	defer srv.Close()

	sink := &memorySink{}
	fwd, audit := newForwarder(t, srv.URL, 3, sink)

	out, err := fwd.Send(context.Background(), "20250710.csv", "2025-07-10", testRecords())
	require.NoError(t, err)

	assert.Equal(t, StatusSuccess, out.Status)
	assert.Equal(t, 1, out.Attempts)
	assert.Equal(t, "20250710.csv", got.Filename)
	assert.Equal(t, "2025-07-10", got.Date)
	assert.Equal(t, 2, got.RecordCount)
	assert.Equal(t, "150.45", got.Metadata.TotalAmount.String())
	assert.Equal(t, "datsync", got.Metadata.Source)
	assert.True(t, strings.HasPrefix(got.CSVData, "Transaction Date,Transaction Time,Amount,Mobile Number,Transaction ID\n"))
	assert.Contains(t, got.CSVData, "2025-07-10,15:00:00,0.05,0917000000,N/A")

	entries, err := audit.Read("20250711")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, out.BatchID, entries[0].BatchID)
	assert.Equal(t, 200, entries[0].ResponseCode)
	assert.Equal(t, `{"accepted":true}`, entries[0].ResponseBody)
	assert.Equal(t, "application/json", entries[0].ResponseHeaders["Content-Type"])

	require.Len(t, sink.entries, 1)
	assert.Equal(t, entries[0].ID, sink.entries[0].ID)
}

func TestSend_RetriesThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	fwd, audit := newForwarder(t, srv.URL, 3)
	out, err := fwd.Send(context.Background(), "20250710.csv", "2025-07-10", testRecords())
	require.NoError(t, err)

	assert.Equal(t, 2, out.Attempts)
	assert.Equal(t, StatusFailed, out.Entries[0].Status)
	assert.Equal(t, 503, out.Entries[0].ResponseCode)
	assert.Equal(t, StatusSuccess, out.Entries[1].Status)

	entries, err := audit.Read("20250711")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, 1, entries[0].Attempt)
	assert.Equal(t, 2, entries[1].Attempt)
	assert.Equal(t, entries[0].BatchID, entries[1].BatchID)
	assert.NotEqual(t, entries[0].ID, entries[1].ID)
}

func TestSend_AllAttemptsFail(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	fwd, audit := newForwarder(t, srv.URL, 3)
	out, err := fwd.Send(context.Background(), "20250710.csv", "2025-07-10", testRecords())
	require.ErrorIs(t, err, ErrExhausted)

	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, 3, out.Attempts)
	assert.Equal(t, StatusFailed, out.Status)

	entries, err := audit.Read("20250711")
	require.NoError(t, err)
	assert.Len(t, entries, 3)
}

func TestSend_StatusCodes(t *testing.T) {
	tests := []struct {
		code   int
		status Status
	}{
		{http.StatusOK, StatusSuccess},
		{http.StatusAccepted, StatusSuccess},
		{http.StatusNotFound, StatusFailed},
		{http.StatusBadGateway, StatusFailed},
	}

	for _, tt := range tests {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tt.code)
		}))

		fwd, _ := newForwarder(t, srv.URL, 1)
		out, err := fwd.Send(context.Background(), "20250710.csv", "2025-07-10", testRecords())
		srv.Close()

		assert.Equal(t, tt.status, out.Status, "code %d", tt.code)
		assert.Equal(t, tt.code, out.Entries[0].ResponseCode)
		if tt.status == StatusSuccess {
			assert.NoError(t, err)
		} else {
			assert.ErrorIs(t, err, ErrExhausted)
		}
	}
}

func TestSend_TransportErrorIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	fwd, _ := newForwarder(t, url, 2)
	out, err := fwd.Send(context.Background(), "20250710.csv", "2025-07-10", testRecords())
	require.ErrorIs(t, err, ErrExhausted)
	assert.Equal(t, StatusError, out.Status)
	assert.Equal(t, 2, out.Attempts)
	assert.NotEmpty(t, out.Entries[0].Error)
	assert.Zero(t, out.Entries[0].ResponseCode)
}

func TestSend_ContextCancelledStopsRetrying(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	fwd, _ := newForwarder(t, srv.URL, 5)
	fwd.cfg.Delay = time.Hour

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	out, err := fwd.Send(ctx, "20250710.csv", "2025-07-10", testRecords())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrExhausted))
	assert.Equal(t, 1, out.Attempts)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestAuditLog_WritesHumanLog(t *testing.T) {
	dir := t.TempDir()
	audit, err := OpenAuditLog(dir)
	require.NoError(t, err)

	e := Entry{
		ID: "a", BatchID: "b", Attempt: 1, Status: StatusFailed,
		Filename: "20250710.csv", Date: "2025-07-10", RecordCount: 2, TotalAmount: "150.45",
		Endpoint: "http://example.invalid", ResponseCode: 500, Error: "unexpected status 500",
		Timestamp: time.Date(2025, 7, 11, 9, 0, 0, 0, time.UTC),
	}
	require.NoError(t, audit.Append(e))

	text, err := os.ReadFile(filepath.Join(dir, "transmission_20250711.log"))
	require.NoError(t, err)
	assert.Contains(t, string(text), "transmission attempt")
	assert.Contains(t, string(text), "status=FAILED")
	assert.Contains(t, string(text), "filename=20250710.csv")

	jsonl, err := os.ReadFile(filepath.Join(dir, "transmission_20250711.jsonl"))
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(string(jsonl), "\n"))
}

func TestAuditLog_ReadMissingDay(t *testing.T) {
	audit, err := OpenAuditLog(t.TempDir())
	require.NoError(t, err)

	entries, err := audit.Read("19990101")
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestAuditLog_ReadSkipsBadLines(t *testing.T) {
	dir := t.TempDir()
	audit, err := OpenAuditLog(dir)
	require.NoError(t, err)
	require.NoError(t, audit.Append(Entry{ID: "x", Status: StatusSuccess, Timestamp: time.Date(2025, 7, 11, 0, 0, 0, 0, time.UTC)}))

	f, err := os.OpenFile(filepath.Join(dir, "transmission_20250711.jsonl"), os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	f.WriteString("{not json\n")
	f.Close()

	entries, err := audit.Read("20250711")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "x", entries[0].ID)
}

func TestResponseText_Truncates(t *testing.T) {
	long := strings.Repeat("a", maxStoredBody+100)
	assert.Len(t, responseText([]byte(long)), maxStoredBody)
	assert.Equal(t, "plain", responseText([]byte("  plain\n")))
}

func TestLoadConfig(t *testing.T) {
	viper.Reset()
	defer viper.Reset()

	cfg := LoadConfig()
	assert.True(t, cfg.Enabled)
	assert.Equal(t, 30*time.Second, cfg.Timeout)
	assert.Equal(t, 3, cfg.Attempts)
	assert.Equal(t, time.Second, cfg.Delay)

	viper.Set("transmit.enabled", false)
	viper.Set("transmit.endpoint", "http://accounting.local/ingest")
	viper.Set("transmit.attempts", 5)
	viper.Set("transmit.delay", "250ms")
	viper.Set("paths.audit_dir", "/tmp/audit")

	cfg = LoadConfig()
	assert.False(t, cfg.Enabled)
	assert.Equal(t, "http://accounting.local/ingest", cfg.Endpoint)
	assert.Equal(t, 5, cfg.Attempts)
	assert.Equal(t, 250*time.Millisecond, cfg.Delay)
	assert.Equal(t, "/tmp/audit", cfg.AuditDir)
}
