// Package api exposes the HTTP surface: auth, search, scan control, the
// live websocket feed, and operational endpoints.
package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/nightglass/darkmon/internal/alert"
	"github.com/nightglass/darkmon/internal/auth"
	"github.com/nightglass/darkmon/internal/index"
	"github.com/nightglass/darkmon/internal/live"
	"github.com/nightglass/darkmon/internal/metrics"
	"github.com/nightglass/darkmon/internal/monitor"
	"github.com/nightglass/darkmon/internal/scheduler"
	"github.com/nightglass/darkmon/internal/users"
)

type ctxKey string

const usernameKey ctxKey = "username"

// Server wires handlers to their collaborators.
type Server struct {
	router     chi.Router
	logger     *zap.Logger
	tokens     *auth.TokenManager
	users      *users.Service
	sched      *scheduler.Scheduler
	idx        *index.Index
	snapshots  monitor.SnapshotStore
	keywords   monitor.KeywordStore
	findings   monitor.FindingStore
	alerts     monitor.AlertStore
	dispatcher *alert.Dispatcher
	hub        *live.Hub
	clock      monitor.Clock
	idGen      monitor.IDGenerator
}

// Deps gathers the server's collaborators.
type Deps struct {
	Logger     *zap.Logger
	Tokens     *auth.TokenManager
	Users      *users.Service
	Scheduler  *scheduler.Scheduler
	Index      *index.Index
	Snapshots  monitor.SnapshotStore
	Keywords   monitor.KeywordStore
	Findings   monitor.FindingStore
	Alerts     monitor.AlertStore
	Dispatcher *alert.Dispatcher
	Hub        *live.Hub
	Clock      monitor.Clock
	IDGen      monitor.IDGenerator
}

// NewServer builds the router with the standard middleware stack.
func NewServer(deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		logger:     logger,
		tokens:     deps.Tokens,
		users:      deps.Users,
		sched:      deps.Scheduler,
		idx:        deps.Index,
		snapshots:  deps.Snapshots,
		keywords:   deps.Keywords,
		findings:   deps.Findings,
		alerts:     deps.Alerts,
		dispatcher: deps.Dispatcher,
		hub:        deps.Hub,
		clock:      deps.Clock,
		idGen:      deps.IDGen,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware)

	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.Timeout(60 * time.Second))
		r.Post("/auth/signup", s.handleSignup)
		r.Post("/auth/login", s.handleLogin)

		r.Group(func(r chi.Router) {
			r.Use(s.requireAuth)
			r.Post("/search", s.handleSearch)
			r.Post("/scan", s.handleScan)
			r.Get("/scan/{jobID}", s.handleJobStatus)
			r.Post("/scan/{jobID}/cancel", s.handleCancel)
		})
	})

	r.Get("/ws/live", s.handleLiveFeed)

	s.router = r
	return s
}

// Handler returns the root http.Handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// requestLogger logs one line per request with latency and status.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info("http request",
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

// requireAuth validates the bearer token and stashes the username in the
// request context.
func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		username, err := s.tokens.Verify(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid or expired token")
			return
		}
		ctx := context.WithValue(r.Context(), usernameKey, username)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func usernameFrom(ctx context.Context) string {
	if v, ok := ctx.Value(usernameKey).(string); ok {
		return v
	}
	return ""
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReadyz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
