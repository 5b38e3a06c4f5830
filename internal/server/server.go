// Package server exposes session analysis, playback, and verdict history over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"typewitness/internal/analysis"
	"typewitness/internal/clipboard"
	"typewitness/internal/config"
	"typewitness/internal/health"
	"typewitness/internal/logging"
	"typewitness/internal/metrics"
	"typewitness/internal/playback"
	"typewitness/internal/session"
	"typewitness/internal/store"
)

// History is the subset of the store the server needs.
type History interface {
	SaveAnalysis(ctx context.Context, rec *store.AnalysisRecord) error
	LatestAnalysis(ctx context.Context, sessionID string) (*store.AnalysisRecord, error)
	ListAnalyses(ctx context.Context, limit int) ([]store.AnalysisRecord, error)
	Ping(ctx context.Context) error
}

// Server serves the HTTP API.
type Server struct {
	router   *chi.Mux
	cfg      config.ServerConfig
	history  History
	ledger   []clipboard.Option
	ledgerMu sync.RWMutex
	log      *logging.Logger
	health   *health.Checker
	metrics  *metrics.ServerMetrics
}

// Option configures a Server.
type Option func(*Server)

// WithHistory attaches analysis persistence.
func WithHistory(h History) Option {
	return func(s *Server) { s.history = h }
}

// WithLedgerOptions configures the ledger built for every request.
func WithLedgerOptions(opts ...clipboard.Option) Option {
	return func(s *Server) { s.ledger = opts }
}

// WithMetrics records API metrics in reg instead of a private registry.
func WithMetrics(reg *metrics.Registry) Option {
	return func(s *Server) { s.metrics = metrics.NewServerMetrics(reg) }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.log = l
		}
	}
}

// New builds the router.
func New(cfg config.ServerConfig, opts ...Option) *Server {
	s := &Server{
		router: chi.NewRouter(),
		cfg:    cfg,
		log:    logging.Discard(),
		health: health.NewChecker(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.WithComponent("server")
	if s.metrics == nil {
		s.metrics = metrics.NewServerMetrics(metrics.NewRegistry("typewitness"))
	}
	if s.history != nil {
		s.health.Register("history", true, health.DatabaseCheck(s.history.Ping))
	}

	s.router.Use(middleware.RequestID)
	s.router.Use(s.requestLogger)
	s.router.Use(middleware.Recoverer)

	s.router.Get("/health", s.liveness)
	s.router.Method(http.MethodGet, "/ready", s.health.ReadinessHandler())
	s.router.Method(http.MethodGet, "/metrics", s.metrics.Registry().HTTPHandler())
	s.router.Route("/api/v1", func(r chi.Router) {
		r.Post("/analyze", s.analyze)
		r.Post("/playback", s.playback)
		r.Get("/analyses", s.listAnalyses)
		r.Get("/sessions/{sessionID}/analysis", s.latestAnalysis)
	})

	return s
}

// SetLedgerOptions replaces the ledger options used by later requests.
func (s *Server) SetLedgerOptions(opts ...clipboard.Option) {
	s.ledgerMu.Lock()
	s.ledger = opts
	s.ledgerMu.Unlock()
}

func (s *Server) newLedger() *clipboard.Ledger {
	s.ledgerMu.RLock()
	defer s.ledgerMu.RUnlock()
	return clipboard.NewLedger(s.ledger...)
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.cfg.Addr,
		Handler:      s.router,
		ReadTimeout:  time.Duration(s.cfg.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(s.cfg.WriteTimeoutSec) * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("API server starting", "addr", s.cfg.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	s.log.Info("API server stopped")
	return nil
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ctx := logging.ContextWithRequestID(r.Context(), middleware.GetReqID(r.Context()))
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		s.metrics.InFlight.Inc()
		next.ServeHTTP(ww, r.WithContext(ctx))
		s.metrics.InFlight.Dec()

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		s.metrics.ObserveRequest(r.Method, route, ww.Status())

		s.log.WithContext(ctx).Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
		)
	})
}

func (s *Server) liveness(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) analyze(w http.ResponseWriter, r *http.Request) {
	p, ok := s.readPayload(w, r)
	if !ok {
		return
	}

	start := time.Now()
	a := analysis.Analyze(p.Events, p.EditorHTML,
		analysis.WithLedger(s.newLedger()))
	s.metrics.ObserveAnalysis(string(a.Verdict), len(p.Events), time.Since(start))

	if s.history != nil {
		rec, err := store.NewRecord(p, a, "")
		if err == nil {
			err = s.history.SaveAnalysis(r.Context(), rec)
		}
		if err != nil {
			s.log.WithContext(r.Context()).Error("persist analysis failed", "session_id", p.SessionID, "error", err)
			writeError(w, http.StatusInternalServerError, "failed to persist analysis")
			return
		}
		w.Header().Set("X-Analysis-Id", rec.ID)
	}

	w.Header().Set("X-Session-Id", p.SessionID)
	writeJSON(w, http.StatusOK, a)
}

func (s *Server) playback(w http.ResponseWriter, r *http.Request) {
	p, ok := s.readPayload(w, r)
	if !ok {
		return
	}

	start := time.Now()
	snaps := playback.FromEvents(p.Events, p.EditorHTML, s.newLedger())
	s.metrics.ObservePlayback(len(p.Events), time.Since(start))
	w.Header().Set("X-Session-Id", p.SessionID)
	writeJSON(w, http.StatusOK, snaps)
}

func (s *Server) listAnalyses(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeError(w, http.StatusServiceUnavailable, "analysis history is disabled")
		return
	}

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid limit %q", v))
			return
		}
		limit = n
	}

	records, err := s.history.ListAnalyses(r.Context(), limit)
	if err != nil {
		s.log.WithContext(r.Context()).Error("list analyses failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list analyses")
		return
	}
	writeJSON(w, http.StatusOK, records)
}

func (s *Server) latestAnalysis(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeError(w, http.StatusServiceUnavailable, "analysis history is disabled")
		return
	}

	sessionID := chi.URLParam(r, "sessionID")
	rec, err := s.history.LatestAnalysis(r.Context(), sessionID)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, fmt.Sprintf("no analysis for session %s", sessionID))
		return
	}
	if err != nil {
		s.log.WithContext(r.Context()).Error("get analysis failed", "session_id", sessionID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load analysis")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// readPayload decodes the request body, writing the error response itself
// when it fails.
func (s *Server) readPayload(w http.ResponseWriter, r *http.Request) (*session.Payload, bool) {
	limit := s.cfg.MaxBodyBytes
	if limit <= 0 {
		limit = session.MaxPayloadBytes
	}

	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, limit))
	if err != nil {
		var tooLarge *http.MaxBytesError
		s.metrics.RejectedTotal.Inc()
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("payload exceeds %d bytes", limit))
			return nil, false
		}
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return nil, false
	}

	p, err := session.Parse(data)
	if err != nil {
		s.metrics.RejectedTotal.Inc()
		writeError(w, http.StatusBadRequest, err.Error())
		return nil, false
	}
	return p, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
