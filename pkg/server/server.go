// Package server exposes session hosting over HTTP. Clients open a session,
// submit turns and mode transitions, and read back decisions and state.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/jingkaihe/skillgate/pkg/audit"
	"github.com/jingkaihe/skillgate/pkg/logger"
	"github.com/jingkaihe/skillgate/pkg/mode"
	"github.com/jingkaihe/skillgate/pkg/presenter"
	"github.com/jingkaihe/skillgate/pkg/session"
	"github.com/pkg/errors"
)

// Error kinds returned in error bodies.
const (
	KindInvalidRequest = "invalid_request"
	KindNotFound       = "not_found"
	KindConflict       = "conflict"
	KindModeBleed      = "mode_bleed"
	KindUnknownMode    = "unknown_mode"
	KindUnavailable    = "unavailable"
	KindInternal       = "internal"
)

const shutdownTimeout = 30 * time.Second

// Server serves the session API
type Server struct {
	router  *mux.Router
	manager *session.Manager
	lister  audit.Lister
	server  *http.Server
}

// Option configures a Server.
type Option func(*Server)

// WithAuditLister enables GET /sessions/{id}/transitions/audit backed by the
// persisted transition log.
func WithAuditLister(l audit.Lister) Option {
	return func(s *Server) { s.lister = l }
}

// New creates a server hosting sessions through manager.
func New(manager *session.Manager, opts ...Option) *Server {
	s := &Server{
		router:  mux.NewRouter(),
		manager: manager,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("/sessions", s.handleCreateSession).Methods("POST")
	s.router.HandleFunc("/sessions", s.handleListSessions).Methods("GET")
	s.router.HandleFunc("/sessions/{id}", s.handleGetSession).Methods("GET")
	s.router.HandleFunc("/sessions/{id}", s.handleDeleteSession).Methods("DELETE")
	s.router.HandleFunc("/sessions/{id}/turns", s.handleTurn).Methods("POST")
	s.router.HandleFunc("/sessions/{id}/transitions", s.handleTransition).Methods("POST")
	s.router.HandleFunc("/sessions/{id}/transitions/audit", s.handleAudit).Methods("GET")
	s.router.HandleFunc("/modes", s.handleModes).Methods("GET")
	s.router.HandleFunc("/skills", s.handleSkills).Methods("GET")

	s.router.Use(s.loggingMiddleware)
}

// Handler returns the HTTP handler, for embedding or tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(rw, r)

		logger.G(r.Context()).WithFields(map[string]any{
			"method":      r.Method,
			"path":        r.URL.Path,
			"status":      rw.statusCode,
			"duration":    time.Since(start),
			"remote_addr": r.RemoteAddr,
		}).Debug("HTTP request")
	})
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Start serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context, addr string) error {
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	presenter.Info("Serving sessions on http://" + addr)

	select {
	case err := <-errCh:
		if err != nil {
			return errors.Wrapf(err, "failed to serve on %s", addr)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return s.server.Shutdown(shutdownCtx)
}

func writeJSON(ctx context.Context, w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.G(ctx).WithError(err).Error("failed to encode JSON response")
	}
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

func writeError(ctx context.Context, w http.ResponseWriter, err error) {
	status, kind := classify(err)
	if status >= http.StatusInternalServerError {
		logger.G(ctx).WithError(err).Error("request failed")
	}
	writeJSON(ctx, w, status, ErrorResponse{Error: err.Error(), Kind: kind})
}

func classify(err error) (int, string) {
	var invalid *invalidRequestError
	switch {
	case errors.As(err, &invalid):
		return http.StatusBadRequest, KindInvalidRequest
	case errors.Is(err, session.ErrSessionNotFound):
		return http.StatusNotFound, KindNotFound
	case errors.Is(err, session.ErrSessionExists):
		return http.StatusConflict, KindConflict
	case errors.Is(err, mode.ErrUnknownMode):
		return http.StatusBadRequest, KindUnknownMode
	case errors.Is(err, mode.ErrModeBleed):
		return http.StatusUnprocessableEntity, KindModeBleed
	case errors.Is(err, errNoAuditLog):
		return http.StatusNotImplemented, KindUnavailable
	default:
		return http.StatusInternalServerError, KindInternal
	}
}

type invalidRequestError struct {
	msg string
}

func (e *invalidRequestError) Error() string { return e.msg }

func invalidf(format string, args ...any) error {
	return &invalidRequestError{msg: fmt.Sprintf(format, args...)}
}

var errNoAuditLog = errors.New("no persistent audit log configured")

// maxBodyBytes caps request bodies; larger bodies are rejected as invalid.
const maxBodyBytes = 1 << 20

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return invalidf("invalid request body: %v", err)
	}
	return nil
}
