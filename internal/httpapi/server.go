// Package httpapi is the optional ops HTTP surface: /healthz, /metrics, and
// a thin JSON wrapper over datasource.Manager.GetData for smoke-testing,
// grounded on the teacher's internal/interfaces/http server (gorilla/mux
// router, request-ID middleware, structured access logging).
package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"github.com/terrylica/kline-fcp/internal/datasource"
	"github.com/terrylica/kline-fcp/internal/obsmetrics"
)

// Server is a local-only HTTP server exposing operational endpoints.
type Server struct {
	router  *mux.Router
	server  *http.Server
	manager *datasource.Manager
	metrics *obsmetrics.Registry
}

// Config controls the listener and request handling.
type Config struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// DefaultConfig returns sane local-only defaults.
func DefaultConfig() Config {
	return Config{
		Addr:         "127.0.0.1:8090",
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

// New builds a Server. manager and metrics may both be non-nil; metrics is
// optional (a nil registry disables /metrics, returning 404).
func New(cfg Config, manager *datasource.Manager, metrics *obsmetrics.Registry) *Server {
	router := mux.NewRouter()
	s := &Server{router: router, manager: manager, metrics: metrics}

	router.Use(s.requestIDMiddleware)
	router.Use(s.accessLogMiddleware)

	router.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet)
	if metrics != nil {
		router.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)
	}
	router.HandleFunc("/v1/klines", s.handleKlines).Methods(http.MethodGet)
	router.NotFoundHandler = http.HandlerFunc(s.handleNotFound)

	s.server = &http.Server{
		Addr:         cfg.Addr,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	return s
}

// ListenAndServe starts the server; it blocks until Shutdown or a listen
// error.
func (s *Server) ListenAndServe() error {
	log.Info().Str("addr", s.server.Addr).Msg("httpapi: listening")
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

type requestIDKey struct{}

func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := uuid.New().String()
		w.Header().Set("X-Request-ID", id)
		ctx := context.WithValue(r.Context(), requestIDKey{}, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (sw *statusWriter) WriteHeader(code int) {
	sw.status = code
	sw.ResponseWriter.WriteHeader(code)
}

func (s *Server) accessLogMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		log.Info().
			Str("request_id", fmt.Sprint(r.Context().Value(requestIDKey{}))).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", sw.status).
			Dur("duration", time.Since(start)).
			Msg("httpapi: request")
	})
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"time":   time.Now().UTC(),
	})
}

func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusNotFound, map[string]any{"error": "not_found", "path": r.URL.Path})
}

// handleKlines is a thin operational smoke-test endpoint, not a redesign of
// the library's one-callable contract: GET /v1/klines?symbol=&market=&interval=&start=&end=
func (s *Server) handleKlines(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	symbol, market, interval := q.Get("symbol"), q.Get("market"), q.Get("interval")
	startMS, err1 := strconv.ParseInt(q.Get("start"), 10, 64)
	endMS, err2 := strconv.ParseInt(q.Get("end"), 10, 64)
	if symbol == "" || market == "" || interval == "" || err1 != nil || err2 != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "missing or invalid query parameters"})
		return
	}

	frame, err := s.manager.GetData(r.Context(), datasource.Request{
		Symbol:   symbol,
		Market:   market,
		Interval: interval,
		Start:    time.UnixMilli(startMS).UTC(),
		End:      time.UnixMilli(endMS).UTC(),
	}, datasource.DefaultOptions())
	if err != nil {
		var dsErr *datasource.Error
		status := http.StatusInternalServerError
		if asDatasourceErr(err, &dsErr) {
			status = statusForErrorKind(dsErr.Kind)
		}
		writeJSON(w, status, map[string]any{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, frame)
}

func asDatasourceErr(err error, out **datasource.Error) bool {
	de, ok := err.(*datasource.Error)
	if ok {
		*out = de
	}
	return ok
}

func statusForErrorKind(kind datasource.ErrorKind) int {
	switch kind {
	case datasource.ErrorUserInput:
		return http.StatusBadRequest
	case datasource.ErrorRateLimited:
		return http.StatusTooManyRequests
	case datasource.ErrorCancelled:
		return http.StatusRequestTimeout
	default:
		return http.StatusBadGateway
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
