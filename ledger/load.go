package ledger

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/aqlanhadi/datsync/extractor/common"
)

var (
	ErrNotFound     = errors.New("ledger not found")
	ErrInvalidStamp = errors.New("ledger date must be YYYYMMDD")
)

// ValidStamp reports whether s is an eight digit YYYYMMDD stamp.
func ValidStamp(s string) bool {
	if len(s) != 8 {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// Contents is a daily ledger as read back from disk.
type Contents struct {
	Records    []common.Record `json:"records"`
	Corrupt    int             `json:"corrupt_rows"`
	Duplicates int             `json:"duplicate_rows"`
}

// Load reads the ledger for stamp, dropping duplicate and unparseable rows.
func (l *Ledger) Load(stamp string) (Contents, error) {
	if !ValidStamp(stamp) {
		return Contents{Records: []common.Record{}}, fmt.Errorf("%w: %q", ErrInvalidStamp, stamp)
	}
	unlock := l.lock(stamp)
	defer unlock()

	if _, err := os.Stat(l.Path(stamp)); os.IsNotExist(err) {
		return Contents{Records: []common.Record{}}, fmt.Errorf("%w: %s", ErrNotFound, stamp)
	}
	return l.load(stamp)
}

func (l *Ledger) load(stamp string) (Contents, error) {
	path := l.Path(stamp)
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return Contents{Records: []common.Record{}}, nil
	}
	if err != nil {
		return Contents{}, fmt.Errorf("open ledger: %w", err)
	}
	defer f.Close()

	c, err := parse(f)
	if err != nil {
		return c, fmt.Errorf("read %s: %w", path, err)
	}
	if c.Corrupt > 0 {
		l.log.Warn().Str("ledger", path).Int("corrupt_rows", c.Corrupt).Msg("unparseable ledger rows ignored")
	}
	return c, nil
}

// parse reads one CSV record per physical line. Ledger fields never hold
// newlines, so a malformed line, such as one with an unbalanced quote, is
// counted as a single corrupt row and cannot swallow the lines after it.
func parse(r io.Reader) (Contents, error) {
	br := bufio.NewReader(r)

	c := Contents{Records: []common.Record{}}
	seen := map[common.Key]struct{}{}

	first := true
	for {
		line, err := br.ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return c, err
		}
		eof := err != nil

		line = strings.TrimRight(line, "\r\n")
		if strings.TrimSpace(line) != "" {
			c.add(line, first, seen)
			first = false
		}
		if eof {
			break
		}
	}
	return c, nil
}

func (c *Contents) add(line string, first bool, seen map[common.Key]struct{}) {
	cr := csv.NewReader(strings.NewReader(line))
	cr.FieldsPerRecord = -1

	row, err := cr.Read()
	if err != nil {
		c.Corrupt++
		return
	}
	if first && isHeader(row) {
		return
	}

	rec, ok := parseRow(row)
	if !ok {
		c.Corrupt++
		return
	}
	k := rec.Key()
	if _, dup := seen[k]; dup {
		c.Duplicates++
		return
	}
	seen[k] = struct{}{}
	c.Records = append(c.Records, rec)
}

func isHeader(row []string) bool {
	if len(row) != len(Header) {
		return false
	}
	for i, h := range Header {
		if !strings.EqualFold(strings.TrimSpace(row[i]), h) {
			return false
		}
	}
	return true
}

func parseRow(row []string) (common.Record, bool) {
	if len(row) != len(Header) {
		return common.Record{}, false
	}
	date := fromNA(row[0])
	if date == "" {
		return common.Record{}, false
	}
	amount, err := common.ParseAmount(row[2])
	if err != nil {
		return common.Record{}, false
	}
	return common.Record{
		Date:          date,
		Time:          fromNA(row[1]),
		Amount:        amount,
		MobileNumber:  fromNA(row[3]),
		TransactionID: fromNA(row[4]),
	}, true
}
