package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/gojob/email-sender/internal/auth"
	"github.com/gojob/email-sender/internal/pkg/logger"
)

// Handlers groups the route handlers the API server mounts.
type Handlers struct {
	Emails   *EmailHandler
	Tracking *TrackingHandler
	Settings *SettingsHandler
	Health   *HealthChecker
}

// SetupRoutes configures the API router. Tracking routes and /health are
// public; everything else under /api needs a bearer token.
func SetupRoutes(h Handlers, authManager *auth.Manager, corsOrigins []string) *chi.Mux {
	r := baseRouter()

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   corsOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Route("/health", h.Health.Routes)

	r.Route("/api", func(r chi.Router) {
		r.Route("/emails", func(r chi.Router) {
			h.Tracking.Routes(r)
			r.Group(func(r chi.Router) {
				r.Use(authManager.RequireAuth)
				h.Emails.Routes(r)
			})
		})
		r.Group(func(r chi.Router) {
			r.Use(authManager.RequireAuth)
			r.Route("/settings", h.Settings.Routes)
		})
	})

	return r
}

// SetupTrackingRoutes configures the standalone tracking listener: the
// pixel, the click redirect and health probes only.
func SetupTrackingRoutes(t *TrackingHandler, health *HealthChecker) *chi.Mux {
	r := baseRouter()
	r.Route("/health", health.Routes)
	r.Route("/api/emails", t.Routes)
	return r
}

func baseRouter() *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	return r
}

// requestLogger logs the route pattern rather than the path, which would
// carry recipient addresses on tracking requests.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)

		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		logger.Debug("http request",
			"method", r.Method,
			"route", route,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
