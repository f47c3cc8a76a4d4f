// Package ledger keeps one CSV file per transaction date.
//
// Files are append-only. Rows already present (by transaction id, mobile,
// amount and time) are skipped when appending, and duplicates that slipped
// in are dropped again when a file is read back.
package ledger

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/aqlanhadi/datsync/extractor/common"
	"github.com/rs/zerolog"
	"github.com/spf13/viper"
)

// Header is the fixed first row of every ledger file.
var Header = []string{"Transaction Date", "Transaction Time", "Amount", "Mobile Number", "Transaction ID"}

// NA stands in for empty values.
const NA = "N/A"

const fileExt = ".csv"

func LoadConfig() string {
	return viper.GetString("paths.ledger_dir")
}

type Ledger struct {
	dir string
	log zerolog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func New(dir string, log zerolog.Logger) (*Ledger, error) {
	if dir == "" {
		return nil, errors.New("ledger directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create ledger directory: %w", err)
	}
	return &Ledger{
		dir:   dir,
		log:   log.With().Str("component", "ledger").Logger(),
		locks: map[string]*sync.Mutex{},
	}, nil
}

func (l *Ledger) Dir() string { return l.dir }

// Path is the ledger file for a YYYYMMDD stamp.
func (l *Ledger) Path(stamp string) string {
	return filepath.Join(l.dir, stamp+fileExt)
}

func (l *Ledger) lock(stamp string) func() {
	l.mu.Lock()
	m, ok := l.locks[stamp]
	if !ok {
		m = &sync.Mutex{}
		l.locks[stamp] = m
	}
	l.mu.Unlock()

	m.Lock()
	return m.Unlock
}

// Batch is what one accumulation pass added to one daily ledger.
type Batch struct {
	Stamp    string          `json:"stamp"`
	Date     string          `json:"date"`
	Path     string          `json:"path"`
	Records  []common.Record `json:"records"`
	Existing int             `json:"existing"`
	Skipped  int             `json:"skipped_duplicates"`
}

// Filename is the ledger's base name, e.g. 20250710.csv.
func (b Batch) Filename() string {
	return b.Stamp + fileExt
}

// Accumulate groups records by date and appends the ones each daily ledger
// does not hold yet. Batches come back in date order, including dates where
// nothing new was added.
func (l *Ledger) Accumulate(records []common.Record) ([]Batch, error) {
	groups := map[string][]common.Record{}
	var stamps []string
	for _, r := range records {
		stamp := r.DateStamp()
		if stamp == "" {
			l.log.Warn().Str("date", r.Date).Str("source", r.Source).Int("line", r.Line).Msg("record without usable date skipped")
			continue
		}
		if _, ok := groups[stamp]; !ok {
			stamps = append(stamps, stamp)
		}
		groups[stamp] = append(groups[stamp], r)
	}
	sort.Strings(stamps)

	batches := make([]Batch, 0, len(stamps))
	for _, stamp := range stamps {
		b, err := l.appendDay(stamp, groups[stamp])
		if err != nil {
			return batches, err
		}
		batches = append(batches, b)
	}
	return batches, nil
}

func (l *Ledger) appendDay(stamp string, records []common.Record) (Batch, error) {
	unlock := l.lock(stamp)
	defer unlock()

	path := l.Path(stamp)
	batch := Batch{Stamp: stamp, Date: records[0].Date, Path: path}

	existing, err := l.load(stamp)
	if err != nil {
		return batch, err
	}
	batch.Existing = len(existing.Records)

	seen := make(map[common.Key]struct{}, len(existing.Records)+len(records))
	for _, r := range existing.Records {
		seen[r.Key()] = struct{}{}
	}

	fresh := make([]common.Record, 0, len(records))
	for _, r := range records {
		k := r.Key()
		if _, dup := seen[k]; dup {
			batch.Skipped++
			continue
		}
		seen[k] = struct{}{}
		fresh = append(fresh, r)
	}
	batch.Records = fresh

	if len(fresh) == 0 {
		return batch, nil
	}
	if err := appendRows(path, fresh); err != nil {
		return batch, fmt.Errorf("append %s: %w", path, err)
	}

	l.log.Debug().
		Str("ledger", filepath.Base(path)).
		Int("appended", len(fresh)).
		Int("existing", batch.Existing).
		Int("skipped_duplicates", batch.Skipped).
		Msg("ledger updated")
	return batch, nil
}

func appendRows(path string, records []common.Record) error {
	info, statErr := os.Stat(path)
	needHeader := os.IsNotExist(statErr) || (statErr == nil && info.Size() == 0)
	needNewline := statErr == nil && info.Size() > 0 && !endsWithNewline(path, info.Size())

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	if needNewline {
		if _, err := f.WriteString("\n"); err != nil {
			return err
		}
	}

	w := csv.NewWriter(f)
	if needHeader {
		if err := w.Write(Header); err != nil {
			return err
		}
	}
	for _, r := range records {
		if err := w.Write(Row(r)); err != nil {
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return err
	}
	return f.Sync()
}

func endsWithNewline(path string, size int64) bool {
	f, err := os.Open(path)
	if err != nil {
		return true
	}
	defer f.Close()

	b := make([]byte, 1)
	if _, err := f.ReadAt(b, size-1); err != nil {
		return true
	}
	return b[0] == '\n'
}

// Row renders a record as ledger columns.
func Row(r common.Record) []string {
	return []string{
		orNA(r.Date),
		orNA(r.Time),
		common.FormatAmount(r.Amount),
		orNA(r.MobileNumber),
		orNA(r.TransactionID),
	}
}

func orNA(s string) string {
	if strings.TrimSpace(s) == "" {
		return NA
	}
	return s
}

func fromNA(s string) string {
	s = strings.TrimSpace(s)
	if s == NA {
		return ""
	}
	return s
}

// WriteCSV writes the header then one row per record.
func WriteCSV(w io.Writer, records []common.Record) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Header); err != nil {
		return err
	}
	for _, r := range records {
		if err := cw.Write(Row(r)); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// Dates lists the stamps of every ledger file, oldest first.
func (l *Ledger) Dates() ([]string, error) {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		return nil, fmt.Errorf("read ledger directory: %w", err)
	}

	var stamps []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.EqualFold(filepath.Ext(name), fileExt) {
			continue
		}
		stamps = append(stamps, strings.TrimSuffix(name, filepath.Ext(name)))
	}
	sort.Strings(stamps)
	return stamps, nil
}
