package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/aqlanhadi/datsync/dedup"
	"github.com/aqlanhadi/datsync/extractor"
	"github.com/aqlanhadi/datsync/ledger"
	"github.com/aqlanhadi/datsync/pipeline"
	"github.com/aqlanhadi/datsync/transmit"
	"github.com/rs/zerolog"
)

const testDAT = "000123|TRXCOPY|20250710 00000000000000015040 0917123456 20250710AB12345 AUTH CANCELLED 20250710143022 POS TERMINAL 01\n" +
	"000125|HEADER|20250710 BATCH START\n" +
	"000127|TRXCOPY|garbage text AUTH CANCELLED 20250710111111 POS\n"

type staticAllowList struct {
	allowed map[string]bool
	err     error
}

func (s staticAllowList) Allowed(_ context.Context, ip string) (bool, error) {
	return s.allowed[ip], s.err
}

type testEnv struct {
	server *Server
	input  string
	ledger *ledger.Ledger
	audit  *transmit.AuditLog
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	root := t.TempDir()
	input := filepath.Join(root, "inbox")
	if err := os.MkdirAll(input, 0o755); err != nil {
		t.Fatal(err)
	}

	ex, err := extractor.New(extractor.DefaultConfig(), zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	l, err := ledger.New(filepath.Join(root, "ledgers"), zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	audit, err := transmit.OpenAuditLog(filepath.Join(root, "audit"))
	if err != nil {
		t.Fatal(err)
	}
	runner := pipeline.New(pipeline.Config{InputDir: input, LockFile: filepath.Join(root, "run.lock")},
		ex, dedup.NewMemoryStore(), l, zerolog.Nop())

	deps := Deps{Extractor: ex, Ledger: l, Audit: audit, Runner: runner}
	return &testEnv{
		server: New(DefaultConfig(), deps, zerolog.Nop()),
		input:  input,
		ledger: l,
		audit:  audit,
	}
}

func (e *testEnv) do(req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(w, req)
	return w
}

func uploadRequest(t *testing.T, filename, content string) *http.Request {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		t.Fatal(err)
	}
	part.Write([]byte(content))
	writer.Close()

	req := httptest.NewRequest(http.MethodPost, "/extract", body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return req
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Port != ":8080" {
		t.Errorf("Expected port ':8080', got '%s'", cfg.Port)
	}
}

func TestHealthEndpoint(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(httptest.NewRequest(http.MethodGet, "/health", nil))
	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}

	var response map[string]string
	if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if response["status"] != "ok" {
		t.Errorf("Expected status 'ok', got '%s'", response["status"])
	}
}

func TestExtractEndpoint_MethodNotAllowed(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(httptest.NewRequest(http.MethodGet, "/extract", nil))
	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("Expected status 405, got %d", w.Code)
	}
}

func TestExtractEndpoint_NoFile(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodPost, "/extract", nil)
	req.Header.Set("Content-Type", "multipart/form-data")

	w := env.do(req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", w.Code)
	}
}

func TestExtractEndpoint_DryRun(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(uploadRequest(t, "upload.DAT", testDAT))
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", w.Code, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Expected Content-Type 'application/json', got '%s'", ct)
	}

	var res extractor.Result
	if err := json.NewDecoder(w.Body).Decode(&res); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if len(res.Records) != 1 {
		t.Fatalf("Expected 1 record, got %d", len(res.Records))
	}
	if res.Records[0].TransactionID != "AB12345" {
		t.Errorf("Expected transaction id 'AB12345', got '%s'", res.Records[0].TransactionID)
	}
	if res.Stats.TotalLines != 3 || res.Stats.NoMarker != 1 || res.Stats.ProcessingErrors != 1 {
		t.Errorf("Unexpected stats: %+v", res.Stats)
	}

	if dates, _ := env.ledger.Dates(); len(dates) != 0 {
		t.Errorf("Expected dry run to leave ledgers untouched, got %v", dates)
	}
}

func TestExtractEndpoint_NonDATContent(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(uploadRequest(t, "notes.txt", "nothing to see here"))
	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}
}

func TestLedgerEndpoints(t *testing.T) {
	env := newTestEnv(t)
	ex, err := extractor.New(extractor.DefaultConfig(), zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	extracted, err := ex.ExtractBytes("seed.DAT", []byte(testDAT))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.ledger.Accumulate(extracted.Records); err != nil {
		t.Fatal(err)
	}

	w := env.do(httptest.NewRequest(http.MethodGet, "/ledgers", nil))
	var list []ledgerInfo
	if err := json.NewDecoder(w.Body).Decode(&list); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if len(list) != 1 || list[0].Date != "20250710" || list[0].File != "20250710.csv" {
		t.Errorf("Unexpected ledger list: %+v", list)
	}

	w = env.do(httptest.NewRequest(http.MethodGet, "/ledgers/20250710", nil))
	var contents ledger.Contents
	if err := json.NewDecoder(w.Body).Decode(&contents); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if len(contents.Records) != 1 {
		t.Errorf("Expected 1 record, got %d", len(contents.Records))
	}

	w = env.do(httptest.NewRequest(http.MethodGet, "/ledgers/20250710?format=csv", nil))
	if ct := w.Header().Get("Content-Type"); ct != "text/csv" {
		t.Errorf("Expected Content-Type 'text/csv', got '%s'", ct)
	}
	if !strings.HasPrefix(w.Body.String(), "Transaction Date,Transaction Time,Amount,Mobile Number,Transaction ID\n") {
		t.Errorf("Unexpected csv body: %q", w.Body.String())
	}

	if w := env.do(httptest.NewRequest(http.MethodGet, "/ledgers/20240101", nil)); w.Code != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", w.Code)
	}
	if w := env.do(httptest.NewRequest(http.MethodGet, "/ledgers/2025-07-10", nil)); w.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", w.Code)
	}
}

func TestTransmissionsEndpoint(t *testing.T) {
	env := newTestEnv(t)
	entry := transmit.Entry{
		ID: "e1", BatchID: "b1", Attempt: 1, Status: transmit.StatusSuccess,
		Filename: "20250710.csv", Date: "2025-07-10", Timestamp: time.Date(2025, 7, 11, 8, 0, 0, 0, time.UTC),
	}
	if err := env.audit.Append(entry); err != nil {
		t.Fatal(err)
	}

	w := env.do(httptest.NewRequest(http.MethodGet, "/transmissions/20250711", nil))
	var entries []transmit.Entry
	if err := json.NewDecoder(w.Body).Decode(&entries); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if len(entries) != 1 || entries[0].ID != "e1" {
		t.Errorf("Unexpected entries: %+v", entries)
	}

	if w := env.do(httptest.NewRequest(http.MethodGet, "/transmissions/bad", nil)); w.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", w.Code)
	}
}

func TestRunEndpoint(t *testing.T) {
	env := newTestEnv(t)
	if err := os.WriteFile(filepath.Join(env.input, "batch.DAT"), []byte(testDAT), 0o644); err != nil {
		t.Fatal(err)
	}

	w := env.do(httptest.NewRequest(http.MethodPost, "/run", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", w.Code, w.Body.String())
	}
	var sum pipeline.Summary
	if err := json.NewDecoder(w.Body).Decode(&sum); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if sum.FilesProcessed != 1 || sum.RecordsNew != 1 {
		t.Errorf("Unexpected summary: %+v", sum)
	}

	w = env.do(httptest.NewRequest(http.MethodPost, "/run", nil))
	if err := json.NewDecoder(w.Body).Decode(&sum); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if sum.FilesSkipped != 1 || sum.RecordsNew != 0 {
		t.Errorf("Expected second run to skip, got %+v", sum)
	}
}

func TestRunEndpoint_MissingSourceDir(t *testing.T) {
	env := newTestEnv(t)
	if err := os.RemoveAll(env.input); err != nil {
		t.Fatal(err)
	}

	if w := env.do(httptest.NewRequest(http.MethodPost, "/run", nil)); w.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected status 503, got %d", w.Code)
	}
}

func TestAllowList(t *testing.T) {
	env := newTestEnv(t)
	env.server.deps.AllowList = staticAllowList{allowed: map[string]bool{"10.0.0.7": true}}

	req := httptest.NewRequest(http.MethodGet, "/ledgers", nil)
	if w := env.do(req); w.Code != http.StatusForbidden {
		t.Errorf("Expected status 403, got %d", w.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/ledgers", nil)
	req.RemoteAddr = "10.0.0.7:5555"
	if w := env.do(req); w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}

	if w := env.do(httptest.NewRequest(http.MethodGet, "/health", nil)); w.Code != http.StatusOK {
		t.Errorf("Expected health to stay open, got %d", w.Code)
	}

	env.server.deps.AllowList = staticAllowList{err: errors.New("binary missing")}
	if w := env.do(httptest.NewRequest(http.MethodGet, "/ledgers", nil)); w.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected status 503, got %d", w.Code)
	}
}

func TestRequestID(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(httptest.NewRequest(http.MethodGet, "/health", nil))
	if w.Header().Get("X-Request-ID") == "" {
		t.Error("Expected a generated X-Request-ID header")
	}

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-ID", "req-42")
	if w := env.do(req); w.Header().Get("X-Request-ID") != "req-42" {
		t.Errorf("Expected X-Request-ID 'req-42', got '%s'", w.Header().Get("X-Request-ID"))
	}
}

func TestRecovery(t *testing.T) {
	h := recovery(zerolog.Nop())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	if w.Code != http.StatusInternalServerError {
		t.Errorf("Expected status 500, got %d", w.Code)
	}
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "[::1]:8080"
	if ip := clientIP(req); ip != "::1" {
		t.Errorf("Expected '::1', got '%s'", ip)
	}

	req.RemoteAddr = "unix"
	if ip := clientIP(req); ip != "unix" {
		t.Errorf("Expected 'unix', got '%s'", ip)
	}
}
