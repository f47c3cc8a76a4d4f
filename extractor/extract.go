// Package extractor pulls transaction records out of DAT files.
//
// Each line goes through two cheap filters (marker substring, then the
// status anchor) before the ordered record shapes are tried.
package extractor

import (
	"bytes"
	"fmt"
	"regexp"

	"github.com/aqlanhadi/datsync/extractor/common"
	"github.com/rs/zerolog"
)

type Extractor struct {
	cfg    Config
	log    zerolog.Logger
	marker []byte
	status *regexp.Regexp
	idRun  *regexp.Regexp
	shapes []Shape
}

// New compiles cfg. The status pattern needs at least one capture group
// holding the 14 digit timestamp.
func New(cfg Config, log zerolog.Logger) (*Extractor, error) {
	if cfg.Marker == "" {
		return nil, fmt.Errorf("extractor marker must not be empty")
	}

	status, err := regexp.Compile(cfg.StatusPattern)
	if err != nil {
		return nil, fmt.Errorf("status pattern: %w", err)
	}
	if status.NumSubexp() < 1 {
		return nil, fmt.Errorf("status pattern must capture the timestamp")
	}

	idRun, err := regexp.Compile(`^(?:` + cfg.TransactionIDPattern + `)`)
	if err != nil {
		return nil, fmt.Errorf("transaction id pattern: %w", err)
	}

	shapes, err := compileShapes(cfg.Shapes)
	if err != nil {
		return nil, err
	}

	if cfg.MaxLineBytes <= 0 {
		cfg.MaxLineBytes = defaultMaxLineBytes
	}
	if cfg.MaxLoggedErrors < 0 {
		cfg.MaxLoggedErrors = 0
	}

	return &Extractor{
		cfg:    cfg,
		log:    log.With().Str("component", "extractor").Logger(),
		marker: []byte(cfg.Marker),
		status: status,
		idRun:  idRun,
		shapes: shapes,
	}, nil
}

// Result is a fully drained source.
type Result struct {
	Records []common.Record `json:"records"`
	Stats   Stats           `json:"stats"`
}

// Extract drains src. Dropped lines are only counted; the returned error is
// set when the source could not be opened or read.
func (e *Extractor) Extract(src Source) (Result, error) {
	sc := e.Scan(src)
	defer sc.Close()

	records := []common.Record{}
	for sc.Next() {
		if sc.Failure() != nil {
			continue
		}
		records = append(records, sc.Record())
	}

	return Result{Records: records, Stats: sc.Stats()}, sc.Err()
}

// ExtractFile is Extract over a file path.
func (e *Extractor) ExtractFile(path string) (Result, error) {
	return e.Extract(FileSource(path))
}

// ExtractBytes is Extract over an in-memory payload.
func (e *Extractor) ExtractBytes(filename string, data []byte) (Result, error) {
	return e.Extract(BytesSource{Filename: filename, Data: bytes.Clone(data)})
}
