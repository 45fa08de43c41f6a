package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"

	"github.com/ari/llm-ledger/internal/config"
	"github.com/ari/llm-ledger/internal/metrics"
	"github.com/ari/llm-ledger/internal/tracker"
)

// Archive receives every call recorded through the API
type Archive interface {
	Archive(rec tracker.CallRecord)
}

// Server exposes a ledger over HTTP for dashboards and remote producers
type Server struct {
	ledger  *tracker.Ledger
	metrics *metrics.Registry
	archive Archive
	logger  *slog.Logger
}

// New creates a server. reg may be nil, in which case /metrics is not
// served and requests are not instrumented.
func New(ledger *tracker.Ledger, reg *metrics.Registry, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		ledger:  ledger,
		metrics: reg,
		logger:  logger,
	}
}

// SetArchive forwards recorded calls to a to as well as the ledger
func (s *Server) SetArchive(a Archive) {
	s.archive = a
}

// Handler returns the API routes
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	s.handle(mux, "GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	s.handle(mux, "POST /v1/calls", s.HandleRecord)
	s.handle(mux, "GET /v1/summary", s.handleSession)
	s.handle(mux, "GET /v1/summary/conversations/{id}", s.handleConversation)
	s.handle(mux, "GET /v1/summary/providers/{provider}", s.handleProvider)
	s.handle(mux, "GET /v1/summary/callers/{caller}", s.handleCaller)
	s.handle(mux, "GET /v1/observability", s.handleReport)
	s.handle(mux, "GET /v1/observability/{agent}", s.handleAgent)
	s.handle(mux, "POST /v1/reset", s.handleReset)

	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics.Handler())
	}
	return mux
}

func (s *Server) handle(mux *http.ServeMux, pattern string, fn http.HandlerFunc) {
	var h http.Handler = fn
	if s.metrics != nil {
		h = s.metrics.InstrumentHandler(pattern, h)
	}
	mux.Handle(pattern, h)
}

// HandleRecord appends one call to the ledger. The body uses the call log
// line format; success defaults to true when omitted.
func (s *Server) HandleRecord(w http.ResponseWriter, r *http.Request) {
	var entry tracker.CallLogEntry
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&entry); err != nil {
		http.Error(w, "invalid json: "+err.Error(), http.StatusBadRequest)
		return
	}

	if err := entry.Validate(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	rec := s.ledger.Record(entry.Provider, entry.Model, entry.Caller, entry.Options()...)
	if s.archive != nil {
		s.archive.Archive(rec)
	}

	s.logger.Debug("call recorded via api",
		"caller", rec.Caller,
		"model", rec.Model,
		"cost_usd", rec.EstimatedCostUSD)

	writeJSON(w, http.StatusCreated, rec)
}

func (s *Server) handleSession(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.ledger.SessionSummary())
}

func (s *Server) handleConversation(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.ledger.ConversationSummary(r.PathValue("id")))
}

func (s *Server) handleProvider(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.ledger.ProviderSummary(r.PathValue("provider")))
}

func (s *Server) handleCaller(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.ledger.CallerSummary(r.PathValue("caller")))
}

func (s *Server) handleReport(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.ledger.ObservabilityReport())
}

// Unknown agents get a zeroed snapshot, not a 404
func (s *Server) handleAgent(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.ledger.AgentObservability(r.PathValue("agent")))
}

func (s *Server) handleReset(w http.ResponseWriter, _ *http.Request) {
	s.ledger.Reset()
	s.logger.Info("ledger reset via api")
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		http.Error(w, "failed to marshal", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(b)
}

// Run serves the API on cfg.Addr until ctx is cancelled, then shuts down
// gracefully within cfg.ShutdownTimeout
func (s *Server) Run(ctx context.Context, cfg config.ServerConfig) error {
	ln, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", cfg.Addr, err)
	}
	return s.Serve(ctx, ln, cfg)
}

// Serve is Run on an existing listener
func (s *Server) Serve(ctx context.Context, ln net.Listener, cfg config.ServerConfig) error {
	srv := &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("dashboard api listening", "addr", ln.Addr().String())
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.logger.Info("shutting down dashboard api")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}
	return nil
}
