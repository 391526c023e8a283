// Package gateway is the HTTP and websocket surface of the earshot service.
//
// It exposes the recognition core over a versioned REST API plus two
// websocket endpoints for real-time use:
//
//	GET  /healthz                       liveness probe
//	GET  /readyz                        readiness probe
//	GET  /metrics                       Prometheus scrape endpoint
//	POST /v1/sessions                   start a recognition session
//	GET  /v1/sessions                   list sessions
//	GET  /v1/sessions/{id}              session statistics
//	GET  /v1/sessions/{id}/levels       recent audio level snapshot
//	POST /v1/sessions/{id}/stop         stop, returns the final summary
//	POST /v1/sessions/{id}/recap        natural-language recap via the LLM
//	DELETE /v1/sessions/{id}            stop and evict
//	GET  /v1/sessions/{id}/audio        websocket: binary PCM16 ingestion
//	GET  /v1/sessions/{id}/events       websocket: recognition event stream
//	PUT  /v1/threshold                  retune the similarity threshold
//	POST /v1/profiles                   enroll a speaker (multipart WAV clips)
//	GET  /v1/profiles                   list profile summaries
//	GET  /v1/profiles/lookup?name=      name lookup with phonetic fallback
//	GET  /v1/profiles/search?q=         search profiles
//	GET  /v1/profiles/{id}              fetch one profile
//	PUT  /v1/profiles/{id}              re-enroll (replaces embeddings)
//	PATCH /v1/profiles/{id}             rename
//	DELETE /v1/profiles/{id}            remove
//	POST /v1/identify                   one-shot clip identification
//	/mcp                                MCP streamable HTTP (when mounted)
//
// The gateway holds no recognition state of its own; everything is delegated
// to the app layer.
package gateway

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/earshot-audio/earshot/internal/app"
	"github.com/earshot-audio/earshot/internal/config"
	"github.com/earshot-audio/earshot/internal/observe"
	"github.com/earshot-audio/earshot/internal/profile"
	"github.com/earshot-audio/earshot/internal/recognition"
)

// shutdownTimeout bounds the graceful drain when Run's context is cancelled.
const shutdownTimeout = 5 * time.Second

// Server serves the earshot API.
type Server struct {
	cfg config.ServerConfig
	app *app.App

	checkers []Checker
	mcp      http.Handler

	mu      sync.Mutex
	httpSrv *http.Server
}

// Option configures a [Server].
type Option func(*Server)

// WithReadiness adds a readiness checker evaluated by /readyz on top of the
// built-in profile store check.
func WithReadiness(c Checker) Option {
	return func(s *Server) { s.checkers = append(s.checkers, c) }
}

// WithMCP mounts a streamable-HTTP MCP handler at /mcp.
func WithMCP(h http.Handler) Option {
	return func(s *Server) { s.mcp = h }
}

// New creates a Server for the given app. The server is inert until Run is
// called (or its Handler is mounted elsewhere, as tests do).
func New(cfg config.ServerConfig, application *app.App, opts ...Option) *Server {
	s := &Server{
		cfg: cfg,
		app: application,
		checkers: []Checker{{
			Name: "profile_store",
			Check: func(ctx context.Context) error {
				_, err := application.Store().List(ctx)
				return err
			},
		}},
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Handler returns the full route table wrapped in the observability
// middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.HandleFunc("GET /readyz", s.handleReadyz)
	mux.Handle("GET /metrics", promhttp.Handler())

	mux.HandleFunc("POST /v1/sessions", s.handleCreateSession)
	mux.HandleFunc("GET /v1/sessions", s.handleListSessions)
	mux.HandleFunc("GET /v1/sessions/{id}", s.handleSessionStats)
	mux.HandleFunc("GET /v1/sessions/{id}/levels", s.handleSessionLevels)
	mux.HandleFunc("POST /v1/sessions/{id}/stop", s.handleStopSession)
	mux.HandleFunc("POST /v1/sessions/{id}/recap", s.handleSessionRecap)
	mux.HandleFunc("DELETE /v1/sessions/{id}", s.handleRemoveSession)
	mux.HandleFunc("GET /v1/sessions/{id}/audio", s.handleSessionAudio)
	mux.HandleFunc("GET /v1/sessions/{id}/events", s.handleSessionEvents)
	mux.HandleFunc("PUT /v1/threshold", s.handleSetThreshold)

	mux.HandleFunc("POST /v1/profiles", s.handleEnrollProfile)
	mux.HandleFunc("GET /v1/profiles", s.handleListProfiles)
	mux.HandleFunc("GET /v1/profiles/lookup", s.handleLookupProfile)
	mux.HandleFunc("GET /v1/profiles/search", s.handleSearchProfiles)
	mux.HandleFunc("GET /v1/profiles/{id}", s.handleGetProfile)
	mux.HandleFunc("PUT /v1/profiles/{id}", s.handleReEnrollProfile)
	mux.HandleFunc("PATCH /v1/profiles/{id}", s.handleRenameProfile)
	mux.HandleFunc("DELETE /v1/profiles/{id}", s.handleRemoveProfile)
	mux.HandleFunc("POST /v1/identify", s.handleIdentify)

	if s.mcp != nil {
		mux.Handle("/mcp", s.mcp)
	}

	return observe.Middleware(s.app.Metrics())(mux)
}

// Run listens on the configured address and serves until ctx is cancelled,
// then drains in-flight requests. TLS is enabled when the config carries
// certificate paths.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.ListenAddr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.mu.Lock()
	s.httpSrv = srv
	s.mu.Unlock()

	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("gateway: listen %s: %w", s.cfg.ListenAddr, err)
	}
	if s.cfg.TLS != nil {
		cert, err := tls.LoadX509KeyPair(s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
		if err != nil {
			ln.Close()
			return fmt.Errorf("gateway: load TLS keypair: %w", err)
		}
		ln = tls.NewListener(ln, &tls.Config{
			Certificates: []tls.Certificate{cert},
			MinVersion:   tls.VersionTLS12,
		})
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	slog.Info("gateway listening", "addr", ln.Addr().String(), "tls", s.cfg.TLS != nil)

	select {
	case <-ctx.Done():
		shutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutCtx); err != nil {
			return fmt.Errorf("gateway: shutdown: %w", err)
		}
		return nil
	case err := <-errCh:
		return fmt.Errorf("gateway: serve: %w", err)
	}
}

// Close stops the server immediately, dropping any in-flight requests. Run's
// graceful path is preferred; Close is the hard stop.
func (s *Server) Close() error {
	s.mu.Lock()
	srv := s.httpSrv
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Close()
}

// errorBody is the JSON error envelope every non-2xx response carries.
type errorBody struct {
	Error string `json:"error"`
}

// respondJSON encodes v with the given status code. Encoding failures are
// logged, not surfaced; headers are already gone by then.
func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("gateway: encode response", "err", err)
	}
}

// respondError writes the JSON error envelope.
func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, errorBody{Error: msg})
}

// respondDomainError maps a domain error onto its HTTP status and writes it.
func respondDomainError(w http.ResponseWriter, err error) {
	respondError(w, statusFor(err), err.Error())
}

// statusFor maps domain errors onto HTTP status codes. Unrecognized errors
// are internal.
func statusFor(err error) int {
	switch {
	case errors.Is(err, profile.ErrNotFound),
		errors.Is(err, app.ErrSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, profile.ErrDuplicateID),
		errors.Is(err, recognition.ErrNoProfiles),
		errors.Is(err, recognition.ErrSessionClosed):
		return http.StatusConflict
	case errors.Is(err, profile.ErrInsufficientEnrollment),
		errors.Is(err, recognition.ErrInsufficientAudio):
		return http.StatusBadRequest
	case errors.Is(err, app.ErrNoRecapProvider):
		return http.StatusNotImplemented
	default:
		return http.StatusInternalServerError
	}
}
