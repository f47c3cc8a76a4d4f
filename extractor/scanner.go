package extractor

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"iter"
	"os"
	"path/filepath"
	"strings"

	"github.com/aqlanhadi/datsync/extractor/common"
)

// Reason classifies why a candidate line produced no record.
type Reason string

const (
	ReasonStructural    Reason = "structural"
	ReasonInvalidAmount Reason = "invalid_amount"
	ReasonMissingMobile Reason = "missing_mobile"
)

// LineError describes a line that passed both filters but was dropped.
type LineError struct {
	File   string
	Line   int
	Reason Reason
	Err    error
}

func (e *LineError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s:%d: %s: %v", e.File, e.Line, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s:%d: %s", e.File, e.Line, e.Reason)
}

func (e *LineError) Unwrap() error { return e.Err }

var errNoShape = errors.New("line matches no record shape")

// Source is a re-openable DAT input. Opening it again yields the same lines.
type Source interface {
	Name() string
	Open() (io.ReadCloser, error)
}

// FileSource reads a DAT file from disk.
type FileSource string

func (f FileSource) Name() string                 { return filepath.Base(string(f)) }
func (f FileSource) Open() (io.ReadCloser, error) { return os.Open(string(f)) }

// BytesSource serves an in-memory DAT payload, e.g. an upload.
type BytesSource struct {
	Filename string
	Data     []byte
}

func (b BytesSource) Name() string { return b.Filename }
func (b BytesSource) Open() (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(b.Data)), nil
}

// Scanner walks one DAT source line by line. Only the current line is held
// in memory. Use it like bufio.Scanner:
//
//	sc := ex.Scan(src)
//	defer sc.Close()
//	for sc.Next() {
//		if sc.Failure() != nil {
//			continue
//		}
//		rec := sc.Record()
//	}
type Scanner struct {
	ex  *Extractor
	src Source

	rc      io.ReadCloser
	r       *bufio.Reader
	buf     []byte
	opened  bool
	done    bool
	err     error
	lineNo  int
	logged  int
	stats   Stats
	record  common.Record
	failure *LineError
}

// Scan returns a scanner over src. The source is opened on the first Next.
func (e *Extractor) Scan(src Source) *Scanner {
	return &Scanner{ex: e, src: src, stats: newStats(src.Name())}
}

func (s *Scanner) open() bool {
	s.opened = true
	rc, err := s.src.Open()
	if err != nil {
		s.err = fmt.Errorf("open %s: %w", s.src.Name(), err)
		s.done = true
		return false
	}
	s.rc = rc
	size := 64 * 1024
	if size > s.ex.cfg.MaxLineBytes {
		size = s.ex.cfg.MaxLineBytes
	}
	s.r = bufio.NewReaderSize(rc, size)
	return true
}

// readLine returns the next line without its terminator. A line longer
// than MaxLineBytes is consumed up to its newline and reported as tooLong
// with no content.
func (s *Scanner) readLine() (line []byte, tooLong bool, err error) {
	s.buf = s.buf[:0]
	got := false
	for {
		frag, isPrefix, err := s.r.ReadLine()
		if err != nil {
			if errors.Is(err, io.EOF) && got {
				return s.buf, tooLong, nil
			}
			return nil, false, err
		}
		got = true
		if !tooLong {
			if len(s.buf)+len(frag) > s.ex.cfg.MaxLineBytes {
				tooLong = true
				s.buf = s.buf[:0]
			} else {
				s.buf = append(s.buf, frag...)
			}
		}
		if !isPrefix {
			return s.buf, tooLong, nil
		}
	}
}

// Next advances to the next extracted record or dropped candidate line.
// It returns false at end of input or on a read error.
func (s *Scanner) Next() bool {
	if s.done {
		return false
	}
	if !s.opened && !s.open() {
		return false
	}

	s.record = common.Record{}
	s.failure = nil

	for {
		line, tooLong, err := s.readLine()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				s.err = fmt.Errorf("read %s line %d: %w", s.src.Name(), s.lineNo+1, err)
			}
			break
		}
		s.lineNo++
		s.stats.TotalLines++

		if tooLong {
			s.stats.TooLong++
			s.ex.log.Warn().
				Str("file", s.src.Name()).
				Int("line", s.lineNo).
				Int("max_line_bytes", s.ex.cfg.MaxLineBytes).
				Msg("over-long line skipped")
			continue
		}

		rec, lerr, ok := s.ex.classify(line, s.src.Name(), s.lineNo, &s.stats)
		if !ok {
			continue
		}
		if lerr != nil {
			s.failure = lerr
			s.logFailure(lerr)
			return true
		}
		s.record = rec
		return true
	}

	s.finish()
	return false
}

func (s *Scanner) finish() {
	s.done = true
	s.stats.log(s.ex.log)
	s.Close()
}

func (s *Scanner) logFailure(lerr *LineError) {
	if s.logged >= s.ex.cfg.MaxLoggedErrors {
		return
	}
	s.logged++
	s.ex.log.Warn().
		Str("file", lerr.File).
		Int("line", lerr.Line).
		Str("reason", string(lerr.Reason)).
		AnErr("cause", lerr.Err).
		Msg("dropped candidate line")
}

// Record is the record produced by the last Next, zero when Failure is set.
func (s *Scanner) Record() common.Record { return s.record }

// Failure is non-nil when the last Next stopped on a dropped line.
func (s *Scanner) Failure() *LineError { return s.failure }

// Err reports the first fatal error: the source could not be opened or read.
// Over-long lines are not errors; they are counted in Stats.TooLong.
func (s *Scanner) Err() error { return s.err }

// Stats returns the counters gathered so far.
func (s *Scanner) Stats() Stats { return s.stats }

func (s *Scanner) Close() error {
	if s.rc == nil {
		return nil
	}
	err := s.rc.Close()
	s.rc = nil
	return err
}

// All adapts the scanner to range-over-func. Dropped lines are yielded as
// *LineError; a fatal error is yielded last.
func (s *Scanner) All() iter.Seq2[common.Record, error] {
	return func(yield func(common.Record, error) bool) {
		defer s.Close()
		for s.Next() {
			if f := s.Failure(); f != nil {
				if !yield(common.Record{}, f) {
					return
				}
				continue
			}
			if !yield(s.Record(), nil) {
				return
			}
		}
		if err := s.Err(); err != nil {
			yield(common.Record{}, err)
		}
	}
}

// classify runs the filters and shapes over one line. ok is false when the
// line was filtered out before shape matching.
func (e *Extractor) classify(line []byte, file string, lineNo int, stats *Stats) (common.Record, *LineError, bool) {
	line = bytes.TrimRight(line, "\r")

	if !bytes.Contains(line, e.marker) {
		stats.NoMarker++
		return common.Record{}, nil, false
	}

	loc := e.status.FindSubmatchIndex(line)
	if loc == nil {
		stats.NoAuthMatch++
		return common.Record{}, nil, false
	}

	text := string(line)
	segment := text[:loc[0]]
	timestamp := ""
	if loc[2] >= 0 {
		timestamp = text[loc[2]:loc[3]]
	}

	shape, tok, matched := matchShapes(e.shapes, segment)
	if !matched {
		stats.ProcessingErrors++
		return common.Record{}, &LineError{File: file, Line: lineNo, Reason: ReasonStructural, Err: errNoShape}, true
	}

	amount, err := common.ParseMinorUnits(tok.AmountRaw)
	if err != nil {
		stats.InvalidRecords++
		return common.Record{}, &LineError{File: file, Line: lineNo, Reason: ReasonInvalidAmount, Err: err}, true
	}

	mobile := strings.TrimSpace(tok.MobileRaw)
	if mobile == "" {
		stats.InvalidRecords++
		return common.Record{}, &LineError{File: file, Line: lineNo, Reason: ReasonMissingMobile}, true
	}

	// The status timestamp carries the date and time; the shape's own date
	// token stands in when the timestamp is too short.
	dateTok, timeTok := tok.DateRaw, ""
	if len(timestamp) >= 8 {
		dateTok, timeTok = timestamp[:8], timestamp[8:]
	}

	stats.ShapeMatches[shape.Name]++
	stats.SuccessfulMatches++

	return common.Record{
		Date:          common.NormalizeDate(dateTok),
		Time:          common.NormalizeTime(timeTok),
		Amount:        amount,
		MobileNumber:  mobile,
		TransactionID: e.transactionID(text, tok.DateRaw),
		Source:        file,
		Line:          lineNo,
		Shape:         shape.Name,
	}, nil, true
}

// transactionID finds the first occurrence of dateRaw in the full line that
// is directly followed by an id run, and returns that run.
func (e *Extractor) transactionID(line, dateRaw string) string {
	if dateRaw == "" {
		return ""
	}
	for offset := 0; offset < len(line); {
		i := strings.Index(line[offset:], dateRaw)
		if i < 0 {
			return ""
		}
		after := offset + i + len(dateRaw)
		if id := e.idRun.FindString(line[after:]); id != "" {
			return strings.TrimSpace(id)
		}
		offset += i + 1
	}
	return ""
}
