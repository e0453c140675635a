// Package httpapi exposes the daemon's runs, sessions, spec generation, and
// model-policy state over HTTP: a JSON request/response surface plus
// Server-Sent Events for run and session event streams. Routing is plain
// stdlib net/http, with no third-party router.
package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/agentharness/agentd/internal/observability"
	"github.com/agentharness/agentd/internal/store"
)

// RunStarter drives a created run to completion in the background.
type RunStarter interface {
	StartRun(runID string) error
}

// SessionTurnStarter drives a session's pending turn to completion in the
// background.
type SessionTurnStarter interface {
	StartTurn(sessionID, turnID string) error
}

// SpecGenerator synthesizes a spec document from a one-line prompt.
type SpecGenerator interface {
	Generate(ctx context.Context, workspacePath, specName, prompt string) (string, error)
}

// Dependencies wires everything the HTTP surface needs. Runner, SessionRunner,
// SpecGen, and Models are nil-able: routes that need an unconfigured
// dependency answer 500 rather than panicking, mirroring the reference
// server's "not configured" responses.
type Dependencies struct {
	Store         *store.Store
	AuthToken     string
	Runner        RunStarter
	SessionRunner SessionTurnStarter
	SpecGen       SpecGenerator
	Models        ModelService
	Metrics       *observability.Metrics
	Logger        *slog.Logger
}

// Server is the HTTP surface over a Store and the engines that act on it.
type Server struct {
	store         *store.Store
	authToken     string
	runner        RunStarter
	sessionRunner SessionTurnStarter
	specGen       SpecGenerator
	models        ModelService
	metrics       *observability.Metrics
	logger        *slog.Logger
}

// New returns a Server. Call Handler to obtain the http.Handler to serve.
func New(deps Dependencies) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		store:         deps.Store,
		authToken:     strings.TrimSpace(deps.AuthToken),
		runner:        deps.Runner,
		sessionRunner: deps.SessionRunner,
		specGen:       deps.SpecGen,
		models:        deps.Models,
		metrics:       deps.Metrics,
		logger:        logger,
	}
}

// Handler builds the full routed, middleware-wrapped HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.HandleFunc("GET /hello", s.handleHello)

	mux.HandleFunc("GET /v1/runs", s.handleListRuns)
	mux.HandleFunc("POST /v1/runs", s.handleCreateRun)
	mux.HandleFunc("GET /v1/runs/{run_id}", s.handleGetRun)
	mux.HandleFunc("GET /v1/runs/{run_id}/events", s.handleRunEvents)
	mux.HandleFunc("POST /v1/runs/{run_id}/approve", s.handleApproveRun)
	mux.HandleFunc("POST /v1/runs/{run_id}/cancel", s.handleCancelRun)
	mux.HandleFunc("GET /v1/runs/{run_id}/export", s.handleExportRun)

	mux.HandleFunc("GET /v1/sessions", s.handleListSessions)
	mux.HandleFunc("POST /v1/sessions", s.handleCreateSession)
	mux.HandleFunc("GET /v1/sessions/{session_id}", s.handleGetSession)
	mux.HandleFunc("POST /v1/sessions/{session_id}/mode", s.handleSessionMode)
	mux.HandleFunc("POST /v1/sessions/{session_id}/messages", s.handleSessionMessage)
	mux.HandleFunc("POST /v1/sessions/{session_id}/approve", s.handleSessionApprove)
	mux.HandleFunc("POST /v1/sessions/{session_id}/cancel", s.handleSessionCancel)
	mux.HandleFunc("POST /v1/sessions/{session_id}/attachments", s.handleSessionAttachment)
	mux.HandleFunc("GET /v1/sessions/{session_id}/events", s.handleSessionEvents)
	mux.HandleFunc("POST /v1/sessions/{session_id}/turns/{turn_id}/retry", s.handleSessionRetry)

	mux.HandleFunc("POST /v1/specs/generate", s.handleGenerateSpec)

	mux.HandleFunc("GET /v1/models", s.handleListModels)
	mux.HandleFunc("GET /v1/model-policy", s.handleGetModelPolicy)
	mux.HandleFunc("POST /v1/model-policy", s.handleSetModelPolicy)

	mux.HandleFunc("GET /v1/workspace/tree", s.handleWorkspaceTree)

	var handler http.Handler = mux
	handler = s.authMiddleware(handler)
	handler = s.loggingMiddleware(mux, handler)
	handler = s.recoverMiddleware(handler)
	handler = corsMiddleware(handler)
	return handler
}

// corsMiddleware allows any origin to call the API with GET/POST/OPTIONS and
// the two headers the clients actually send, matching the reference
// server's permissive CORS policy (this daemon has no browser session
// concept to protect against cross-origin reads).
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// recoverMiddleware turns a handler panic into a 500 instead of taking down
// the listener goroutine.
func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("http handler panic", "error", rec, "path", r.URL.Path)
				http.Error(w, "internal error", http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// authMiddleware enforces Authorization: Bearer <token> when an auth token
// is configured; an empty token disables auth entirely (local/dev use).
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.authToken == "" {
			next.ServeHTTP(w, r)
			return
		}
		header := r.Header.Get("Authorization")
		const prefix = "bearer "
		if !strings.HasPrefix(strings.ToLower(header), prefix) || strings.TrimSpace(header[len(prefix):]) != s.authToken {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// loggingMiddleware logs each request's outcome and records the Prometheus
// HTTP duration/count metrics, keyed by the mux's matched route pattern
// rather than raw path so per-run and per-session IDs don't explode the
// metric's cardinality. routes resolves the pattern via mux.Handler, which
// performs the same match the mux itself is about to do for dispatch.
func (s *Server) loggingMiddleware(routes *http.ServeMux, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapped, r)
		duration := time.Since(start)

		_, pattern := routes.Handler(r)
		if pattern == "" {
			pattern = r.Method + " " + r.URL.Path
		}
		status := strconv.Itoa(wrapped.status)
		if s.metrics != nil {
			s.metrics.HTTPRequestCounter.WithLabelValues(r.Method, pattern, status).Inc()
			s.metrics.HTTPRequestDuration.WithLabelValues(r.Method, pattern, status).Observe(duration.Seconds())
		}
		s.logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", wrapped.status,
			"duration", duration,
			"remote_addr", r.RemoteAddr,
		)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (rec *statusRecorder) WriteHeader(status int) {
	rec.status = status
	rec.ResponseWriter.WriteHeader(status)
}
