package transmit

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const auditPrefix = "transmission_"

// AuditLog appends every attempt to two per-day files in dir: a
// human-readable .log and a line-delimited .jsonl.
type AuditLog struct {
	dir string
	mu  sync.Mutex
}

func OpenAuditLog(dir string) (*AuditLog, error) {
	if dir == "" {
		return nil, errors.New("audit directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create audit directory: %w", err)
	}
	return &AuditLog{dir: dir}, nil
}

func (a *AuditLog) paths(stamp string) (text, jsonl string) {
	base := filepath.Join(a.dir, auditPrefix+stamp)
	return base + ".log", base + ".jsonl"
}

// Append writes e to the files of the day it was attempted on.
func (a *AuditLog) Append(e Entry) error {
	line, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode audit entry: %w", err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	textPath, jsonPath := a.paths(e.Timestamp.UTC().Format("20060102"))

	if err := appendLine(jsonPath, line); err != nil {
		return fmt.Errorf("append %s: %w", jsonPath, err)
	}

	tf, err := os.OpenFile(textPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("append %s: %w", textPath, err)
	}
	defer tf.Close()

	human := zerolog.New(zerolog.ConsoleWriter{Out: tf, NoColor: true, TimeFormat: time.RFC3339})
	ev := human.WithLevel(levelFor(e.Status)).
		Time(zerolog.TimestampFieldName, e.Timestamp).
		Str("status", string(e.Status)).
		Str("filename", e.Filename).
		Str("date", e.Date).
		Int("attempt", e.Attempt).
		Int("records", e.RecordCount).
		Str("total", e.TotalAmount).
		Str("endpoint", e.Endpoint).
		Int64("duration_ms", e.DurationMS).
		Str("batch_id", e.BatchID)
	if e.ResponseCode != 0 {
		ev = ev.Int("response_code", e.ResponseCode)
	}
	if e.ResponseBody != "" {
		ev = ev.Str("response", e.ResponseBody)
	}
	if e.Error != "" {
		ev = ev.Str("error", e.Error)
	}
	ev.Msg("transmission attempt")
	return tf.Sync()
}

func levelFor(s Status) zerolog.Level {
	switch s {
	case StatusSuccess:
		return zerolog.InfoLevel
	case StatusFailed:
		return zerolog.WarnLevel
	default:
		return zerolog.ErrorLevel
	}
}

func appendLine(path string, line []byte) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		return err
	}
	return f.Sync()
}

// Read returns the entries attempted on the YYYYMMDD day, oldest first.
// Lines that do not decode are skipped.
func (a *AuditLog) Read(stamp string) ([]Entry, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	_, jsonPath := a.paths(stamp)
	f, err := os.Open(jsonPath)
	if os.IsNotExist(err) {
		return []Entry{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}
	defer f.Close()

	entries := []Entry{}
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 4<<20)
	for sc.Scan() {
		var e Entry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			continue
		}
		entries = append(entries, e)
	}
	return entries, sc.Err()
}
