// Package pipeline wires discovery, extraction, accumulation and
// forwarding into a single run.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/aqlanhadi/datsync/dedup"
	"github.com/aqlanhadi/datsync/extractor"
	"github.com/aqlanhadi/datsync/extractor/common"
	"github.com/aqlanhadi/datsync/ledger"
	"github.com/aqlanhadi/datsync/transmit"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

var (
	ErrSourceDirMissing = errors.New("source directory does not exist")
	ErrTransmitDisabled = errors.New("transmission is disabled")
)

// Sender delivers one daily batch.
type Sender interface {
	Send(ctx context.Context, filename, date string, records []common.Record) (transmit.Outcome, error)
}

// Downloader fetches new DAT files into the input directory.
type Downloader interface {
	Trigger(ctx context.Context) error
}

type Runner struct {
	cfg        Config
	extractor  *extractor.Extractor
	store      dedup.Store
	ledger     *ledger.Ledger
	sender     Sender
	downloader Downloader
	log        zerolog.Logger
}

type Option func(*Runner)

// WithSender enables forwarding of new records after accumulation.
func WithSender(s Sender) Option {
	return func(r *Runner) { r.sender = s }
}

func WithDownloader(d Downloader) Option {
	return func(r *Runner) { r.downloader = d }
}

func New(cfg Config, ex *extractor.Extractor, store dedup.Store, l *ledger.Ledger, log zerolog.Logger, opts ...Option) *Runner {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	r := &Runner{
		cfg:       cfg,
		extractor: ex,
		store:     store,
		ledger:    l,
		log:       log.With().Str("component", "pipeline").Logger(),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Config returns a copy of the runner's configuration.
func (r *Runner) Config() Config { return r.cfg }

// FileResult is the outcome of a single source file within a run.
type FileResult struct {
	Name    string          `json:"name"`
	Skipped bool            `json:"skipped"`
	Stats   extractor.Stats `json:"stats"`
	Error   string          `json:"error,omitempty"`

	records []common.Record
	failed  bool
}

type BatchSummary struct {
	Date       string `json:"date"`
	Filename   string `json:"filename"`
	New        int    `json:"new"`
	Existing   int    `json:"existing"`
	Duplicates int    `json:"duplicates"`
	Delivered  bool   `json:"delivered"`
	Attempts   int    `json:"attempts"`
}

type Summary struct {
	RunID                  string         `json:"run_id"`
	StartedAt              time.Time      `json:"started_at"`
	FinishedAt             time.Time      `json:"finished_at"`
	FilesFound             int            `json:"files_found"`
	FilesProcessed         int            `json:"files_processed"`
	FilesSkipped           int            `json:"files_skipped"`
	FilesFailed            int            `json:"files_failed"`
	RecordsExtracted       int            `json:"records_extracted"`
	RecordsNew             int            `json:"records_new"`
	DuplicatesSkipped      int            `json:"duplicates_skipped"`
	LineFailures           int            `json:"line_failures"`
	TransmissionsAttempted int            `json:"transmissions_attempted"`
	TransmissionsSucceeded int            `json:"transmissions_succeeded"`
	Files                  []FileResult   `json:"files"`
	Batches                []BatchSummary `json:"batches"`
}

// Run processes every unprocessed DAT file in the input directory. Only a
// missing input directory, lock contention or a ledger write failure
// return an error; per-file and per-line problems end up in the summary.
func (r *Runner) Run(ctx context.Context) (Summary, error) {
	sum := Summary{RunID: uuid.NewString(), StartedAt: time.Now().UTC()}
	log := r.log.With().Str("run_id", sum.RunID).Logger()

	if r.cfg.Download && r.downloader != nil {
		if err := r.downloader.Trigger(ctx); err != nil {
			log.Warn().Err(err).Msg("download trigger failed")
		}
	}

	info, err := os.Stat(r.cfg.InputDir)
	if err != nil || !info.IsDir() {
		return sum, fmt.Errorf("%w: %s", ErrSourceDirMissing, r.cfg.InputDir)
	}

	if r.cfg.LockFile != "" {
		lock, err := AcquireLock(r.cfg.LockFile)
		if err != nil {
			return sum, err
		}
		defer func() {
			if err := lock.Release(); err != nil {
				log.Warn().Err(err).Msg("lock release failed")
			}
		}()
	}

	names, err := Discover(r.cfg.InputDir)
	if err != nil {
		return sum, err
	}
	sum.FilesFound = len(names)

	results := make([]FileResult, len(names))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.Workers)
	for i, name := range names {
		g.Go(func() error {
			results[i] = r.processFile(gctx, log, name)
			return gctx.Err()
		})
	}
	if err := g.Wait(); err != nil {
		return sum, err
	}

	claimed := r.claim(ctx, log, results)

	var records []common.Record
	for _, fr := range results {
		switch {
		case fr.Skipped:
			sum.FilesSkipped++
		case fr.failed:
			sum.FilesFailed++
		default:
			sum.FilesProcessed++
			sum.RecordsExtracted += len(fr.records)
			sum.LineFailures += fr.Stats.Failures()
			records = append(records, fr.records...)
		}
	}
	sum.Files = results

	batches, err := r.ledger.Accumulate(records)
	if err != nil {
		r.release(ctx, log, claimed)
		return sum, fmt.Errorf("accumulate: %w", err)
	}

	for _, b := range batches {
		bs := BatchSummary{
			Date:       b.Date,
			Filename:   b.Filename(),
			New:        len(b.Records),
			Existing:   b.Existing,
			Duplicates: b.Skipped,
		}
		sum.RecordsNew += bs.New
		sum.DuplicatesSkipped += bs.Duplicates

		if r.sender != nil && bs.New > 0 {
			sum.TransmissionsAttempted++
			out, err := r.sender.Send(ctx, bs.Filename, b.Date, b.Records)
			bs.Attempts = out.Attempts
			if err == nil {
				bs.Delivered = true
				sum.TransmissionsSucceeded++
			}
		}
		sum.Batches = append(sum.Batches, bs)
	}

	sum.FinishedAt = time.Now().UTC()
	log.Info().
		Int("files_found", sum.FilesFound).
		Int("files_processed", sum.FilesProcessed).
		Int("files_skipped", sum.FilesSkipped).
		Int("files_failed", sum.FilesFailed).
		Int("records_extracted", sum.RecordsExtracted).
		Int("records_new", sum.RecordsNew).
		Int("duplicates_skipped", sum.DuplicatesSkipped).
		Int("transmissions_attempted", sum.TransmissionsAttempted).
		Int("transmissions_succeeded", sum.TransmissionsSucceeded).
		Dur("elapsed", sum.FinishedAt.Sub(sum.StartedAt)).
		Msg("run complete")

	return sum, nil
}

// claim marks every extracted file processed before its records reach the
// ledger. A file some other run already claimed is turned into a skip and
// its records are dropped. The names newly added by this run are returned.
func (r *Runner) claim(ctx context.Context, log zerolog.Logger, results []FileResult) []string {
	var claimed []string
	for i := range results {
		fr := &results[i]
		if fr.Skipped || fr.failed {
			continue
		}
		added, err := r.store.MarkProcessed(ctx, fr.Name)
		if err != nil {
			log.Error().Err(err).Str("file", fr.Name).Msg("mark processed failed")
			fr.failed = true
			fr.Error = err.Error()
			fr.records = nil
			continue
		}
		if added {
			claimed = append(claimed, fr.Name)
			continue
		}
		if !r.cfg.ProcessAll {
			log.Warn().Str("file", fr.Name).Msg("file already claimed by another run")
			fr.Skipped = true
			fr.records = nil
		}
	}
	return claimed
}

// release drops this run's claims after a failed accumulation so the files
// are picked up again. Stores without Forget keep them marked.
func (r *Runner) release(ctx context.Context, log zerolog.Logger, names []string) {
	if len(names) == 0 {
		return
	}
	fg, ok := r.store.(dedup.Forgetter)
	if !ok {
		log.Warn().Strs("files", names).Msg("store cannot forget, files stay marked processed")
		return
	}
	for _, name := range names {
		if err := fg.Forget(ctx, name); err != nil {
			log.Error().Err(err).Str("file", name).Msg("releasing claim failed")
		}
	}
}

func (r *Runner) processFile(ctx context.Context, log zerolog.Logger, name string) FileResult {
	fr := FileResult{Name: name}

	if !r.cfg.ProcessAll {
		done, err := r.store.IsProcessed(ctx, name)
		if err != nil {
			log.Error().Err(err).Str("file", name).Msg("processed check failed")
			fr.failed = true
			fr.Error = err.Error()
			return fr
		}
		if done {
			log.Debug().Str("file", name).Msg("already processed")
			fr.Skipped = true
			return fr
		}
	}

	res, err := r.extractor.ExtractFile(filepath.Join(r.cfg.InputDir, name))
	fr.Stats = res.Stats
	if err != nil {
		log.Error().Err(err).Str("file", name).Msg("file extraction failed")
		fr.failed = true
		fr.Error = err.Error()
		return fr
	}
	fr.records = res.Records
	return fr
}

// Retransmit sends the whole ledger of one YYYYMMDD day again.
func (r *Runner) Retransmit(ctx context.Context, stamp string) (transmit.Outcome, error) {
	if r.sender == nil {
		return transmit.Outcome{}, ErrTransmitDisabled
	}
	contents, err := r.ledger.Load(stamp)
	if err != nil {
		return transmit.Outcome{}, err
	}
	if len(contents.Records) == 0 {
		return transmit.Outcome{}, fmt.Errorf("ledger %s holds no records", stamp)
	}
	return r.sender.Send(ctx, ledger.Batch{Stamp: stamp}.Filename(), contents.Records[0].Date, contents.Records)
}

// Discover lists the DAT files directly inside dir, by name.
func Discover(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read source directory: %w", err)
	}

	var names []string
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		if strings.EqualFold(filepath.Ext(e.Name()), ".dat") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}
