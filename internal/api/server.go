// Package api provides the HTTP server for Limber.
// It exposes the progression engine as a JSON API under /api/users/{userID}.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/limber-app/limber/internal/app/engagement"
	"github.com/limber-app/limber/internal/domain"
	"github.com/limber-app/limber/internal/health"
)

// DefaultRequestTimeout bounds a single request.
const DefaultRequestTimeout = 30 * time.Second

var validate = validator.New()

// Server is the Limber HTTP API server.
type Server struct {
	engine         *engagement.Engine
	inbox          *engagement.Inbox // nil disables /events
	health         *health.Checker   // nil reports a static ok
	metricsEnabled bool
	timeout        time.Duration
	logger         *slog.Logger
}

// NewServer creates a new API server.
func NewServer(engine *engagement.Engine, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		engine:  engine,
		timeout: DefaultRequestTimeout,
		logger:  logger.With("component", "api"),
	}
}

// EnableMetrics enables the /metrics Prometheus endpoint.
func (s *Server) EnableMetrics() { s.metricsEnabled = true }

// SetInbox enables the event inbox endpoint.
func (s *Server) SetInbox(in *engagement.Inbox) { s.inbox = in }

// SetHealth makes /health report the checker's latest results.
func (s *Server) SetHealth(c *health.Checker) { s.health = c }

// SetTimeout overrides the per-request timeout.
func (s *Server) SetTimeout(d time.Duration) {
	if d > 0 {
		s.timeout = d
	}
}

// Handler returns the chi router with all routes mounted.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(s.timeout))
	r.Use(corsMiddleware)

	r.Get("/health", s.handleHealth)

	if s.metricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}

	r.Route("/api/users/{userID}", func(r chi.Router) {
		r.Use(requireUserID)

		r.Post("/sessions", s.handleLogSession)
		r.Get("/progress", s.handleProgress)

		r.Route("/streak", func(r chi.Router) {
			r.Get("/", s.handleStreak)
			r.Post("/freeze", s.handleFreeze)
			r.Post("/check", s.handleCheckStreak)
			r.Post("/reset", s.handleResetStreak)
		})

		r.Route("/challenges", func(r chi.Router) {
			r.Get("/", s.handleChallenges)
			r.Post("/refresh", s.handleRefreshChallenges)
			r.Post("/{id}/claim", s.handleClaim)
		})

		r.Route("/rewards", func(r chi.Router) {
			r.Get("/", s.handleRewards)
			r.Post("/{id}/use", s.handleUseReward)
			r.Post("/{id}/refill", s.handleRefillReward)
			r.Put("/{id}/setting", s.handleRewardSetting)
		})

		if s.inbox != nil {
			r.Get("/events", s.handleEvents)
		}
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.health == nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}
	status, code := "ok", http.StatusOK
	if !s.health.IsHealthy() {
		status, code = "degraded", http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]interface{}{
		"status": status,
		"checks": s.health.Statuses(),
	})
}

// requireUserID rejects ids that are empty or unreasonably long.
func requireUserID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := validate.Var(chi.URLParam(r, "userID"), "required,max=128,printascii"); err != nil {
			writeError(w, http.StatusBadRequest, "invalid user id")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]interface{}{
		"error": map[string]interface{}{
			"message": msg,
			"type":    "error",
		},
	})
}

// statusFor maps engine errors to HTTP status codes.
func statusFor(err error) int {
	var verrs validator.ValidationErrors
	switch {
	case errors.As(err, &verrs),
		errors.Is(err, domain.ErrInvalidDate),
		errors.Is(err, domain.ErrUserIDRequired):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrRewardNotFound),
		errors.Is(err, domain.ErrChallengeNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrTooManyConflicts):
		return http.StatusConflict
	case errors.Is(err, domain.ErrStoreUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeEngineError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"request_id", middleware.GetReqID(r.Context()),
			"error", err,
		)
	}
	writeError(w, status, err.Error())
}

// corsMiddleware adds CORS headers for local development.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}
