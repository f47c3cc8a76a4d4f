// Package api serves the operator dashboard: dry-run extraction, ledger
// and audit read-back, and on-demand runs.
package api

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/aqlanhadi/datsync/extractor"
	"github.com/aqlanhadi/datsync/hooks"
	"github.com/aqlanhadi/datsync/ledger"
	"github.com/aqlanhadi/datsync/logger"
	"github.com/aqlanhadi/datsync/pipeline"
	"github.com/aqlanhadi/datsync/transmit"
	"github.com/rs/zerolog"
	"github.com/spf13/viper"
)

const maxUploadBytes = 32 << 20

type Config struct {
	Port string
}

func DefaultConfig() Config {
	return Config{Port: ":8080"}
}

func LoadConfig() Config {
	cfg := DefaultConfig()
	if p := viper.GetString("server.port"); p != "" {
		cfg.Port = p
	}
	return cfg
}

// Deps are the components the handlers read from. Nil members disable the
// routes that need them.
type Deps struct {
	Extractor *extractor.Extractor
	Ledger    *ledger.Ledger
	Audit     *transmit.AuditLog
	Runner    *pipeline.Runner
	AllowList hooks.AllowList
}

type Server struct {
	config Config
	deps   Deps
	log    zerolog.Logger
	mux    *http.ServeMux
}

func New(cfg Config, deps Deps, log zerolog.Logger) *Server {
	if deps.AllowList == nil {
		deps.AllowList = hooks.AllowAll{}
	}
	s := &Server{
		config: cfg,
		deps:   deps,
		log:    log.With().Str("component", "api").Logger(),
		mux:    http.NewServeMux(),
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("POST /extract", s.handleExtract)
	s.mux.HandleFunc("GET /ledgers", s.handleLedgers)
	s.mux.HandleFunc("GET /ledgers/{date}", s.handleLedger)
	s.mux.HandleFunc("GET /transmissions/{date}", s.handleTransmissions)
	s.mux.HandleFunc("POST /run", s.handleRun)
}

// Handler returns the routes wrapped in recovery, request logging and the
// allow-list gate.
func (s *Server) Handler() http.Handler {
	return recovery(s.log)(
		requestLogger(s.log)(
			allowList(s.deps.AllowList)(s.mux),
		),
	)
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.config.Port,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("port", s.config.Port).Msg("starting API server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.log.Info().Msg("shutting down API server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleExtract runs a dry extraction over an uploaded DAT file. Nothing
// is written to the ledgers or the processed-file set.
func (s *Server) handleExtract(w http.ResponseWriter, r *http.Request) {
	if s.deps.Extractor == nil {
		writeError(w, http.StatusServiceUnavailable, "extractor unavailable")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, "could not parse multipart form: "+err.Error())
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "could not get uploaded file: "+err.Error())
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "could not read file: "+err.Error())
		return
	}

	res, err := s.deps.Extractor.ExtractBytes(header.Filename, data)
	if err != nil {
		log := logger.FromContext(r.Context())
		log.Warn().Err(err).Str("file", header.Filename).Msg("dry-run extraction failed")
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type ledgerInfo struct {
	Date string `json:"date"`
	File string `json:"file"`
}

func (s *Server) handleLedgers(w http.ResponseWriter, r *http.Request) {
	if s.deps.Ledger == nil {
		writeError(w, http.StatusServiceUnavailable, "ledger unavailable")
		return
	}
	stamps, err := s.deps.Ledger.Dates()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	out := make([]ledgerInfo, 0, len(stamps))
	for _, st := range stamps {
		out = append(out, ledgerInfo{Date: st, File: ledger.Batch{Stamp: st}.Filename()})
	}
	writeJSON(w, http.StatusOK, out)
}

// handleLedger returns one day as JSON, or as the CSV file itself with
// ?format=csv.
func (s *Server) handleLedger(w http.ResponseWriter, r *http.Request) {
	if s.deps.Ledger == nil {
		writeError(w, http.StatusServiceUnavailable, "ledger unavailable")
		return
	}
	stamp := r.PathValue("date")
	contents, err := s.deps.Ledger.Load(stamp)
	switch {
	case errors.Is(err, ledger.ErrInvalidStamp):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, ledger.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if r.URL.Query().Get("format") == "csv" {
		var buf bytes.Buffer
		if err := ledger.WriteCSV(&buf, contents.Records); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("Content-Disposition", `attachment; filename="`+stamp+`.csv"`)
		w.Write(buf.Bytes())
		return
	}
	writeJSON(w, http.StatusOK, contents)
}

func (s *Server) handleTransmissions(w http.ResponseWriter, r *http.Request) {
	if s.deps.Audit == nil {
		writeError(w, http.StatusServiceUnavailable, "audit log unavailable")
		return
	}
	stamp := r.PathValue("date")
	if !ledger.ValidStamp(stamp) {
		writeError(w, http.StatusBadRequest, ledger.ErrInvalidStamp.Error())
		return
	}
	entries, err := s.deps.Audit.Read(stamp)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	if s.deps.Runner == nil {
		writeError(w, http.StatusServiceUnavailable, "runner unavailable")
		return
	}
	sum, err := s.deps.Runner.Run(r.Context())
	switch {
	case errors.Is(err, pipeline.ErrLocked):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, pipeline.ErrSourceDirMissing):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	case err != nil:
		log := logger.FromContext(r.Context())
		log.Error().Err(err).Msg("run failed")
		writeError(w, http.StatusInternalServerError, err.Error())
	default:
		writeJSON(w, http.StatusOK, sum)
	}
}
