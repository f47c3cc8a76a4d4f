package extractor

import (
	"github.com/rs/zerolog"
)

// Stats are the per-file counters emitted once a file has been scanned.
type Stats struct {
	File              string         `json:"file"`
	TotalLines        int            `json:"total_lines"`
	NoMarker          int            `json:"skipped_no_marker"`
	NoAuthMatch       int            `json:"skipped_no_auth_match"`
	TooLong           int            `json:"skipped_too_long"`
	ShapeMatches      map[string]int `json:"shape_matches"`
	SuccessfulMatches int            `json:"successful_matches"`
	ProcessingErrors  int            `json:"processing_errors"`
	InvalidRecords    int            `json:"invalid_records"`
}

func newStats(file string) Stats {
	return Stats{File: file, ShapeMatches: map[string]int{}}
}

// Failures is every line that passed both filters but produced no record.
func (s Stats) Failures() int {
	return s.ProcessingErrors + s.InvalidRecords
}

func (s Stats) log(log zerolog.Logger) {
	shapes := zerolog.Dict()
	for name, n := range s.ShapeMatches {
		shapes = shapes.Int(name, n)
	}

	log.Info().
		Str("file", s.File).
		Int("total_lines", s.TotalLines).
		Int("skipped_no_marker", s.NoMarker).
		Int("skipped_no_auth_match", s.NoAuthMatch).
		Int("skipped_too_long", s.TooLong).
		Dict("shape_matches", shapes).
		Int("successful_matches", s.SuccessfulMatches).
		Int("processing_errors", s.ProcessingErrors).
		Int("invalid_records", s.InvalidRecords).
		Msg("file processed")
}
