// Package router wires the auth endpoints, their middleware chains and
// the health probes into one http.Handler.
package router

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/classlane/portal-auth-service/internal/domain"
	"github.com/classlane/portal-auth-service/internal/http/handler"
	"github.com/classlane/portal-auth-service/internal/http/middleware"
	"github.com/classlane/portal-auth-service/internal/http/response"
)

type Dependencies struct {
	AuthHandler      *handler.AuthHandler
	AuthStack        *middleware.AuthStack
	AuthRateLimiter  func(http.Handler) http.Handler
	AuthRateLimitRPM int
	Readiness        func() error
	EnableOTelHTTP   bool
}

func NewRouter(dep Dependencies) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(dep.AuthStack.DetectPortal)
	r.Use(middleware.StructuredRequestLogger)
	r.Use(middleware.SecurityHeaders)

	authLimiter := dep.AuthRateLimiter
	if authLimiter == nil {
		rpm := dep.AuthRateLimitRPM
		if rpm <= 0 {
			rpm = 30
		}
		authLimiter = middleware.NewRateLimiter(
			middleware.NewLocalLimiter(), rpm, time.Minute, middleware.FailClosed, "auth",
		).Middleware()
	}

	r.Get("/health/live", func(w http.ResponseWriter, r *http.Request) {
		response.JSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/health/ready", func(w http.ResponseWriter, r *http.Request) {
		if dep.Readiness != nil {
			if err := dep.Readiness(); err != nil {
				response.Error(w, r, http.StatusServiceUnavailable, "DEPENDENCY_UNREADY", "dependencies are not ready", nil)
				return
			}
		}
		response.JSON(w, r, http.StatusOK, map[string]string{"status": "ready"})
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			r.With(authLimiter).Get("/google/login", dep.AuthHandler.GoogleLogin)
			r.With(authLimiter).Get("/google/callback", dep.AuthHandler.GoogleCallback)
			r.With(authLimiter).Post("/refresh", dep.AuthHandler.Refresh)
			r.Group(func(r chi.Router) {
				r.Use(dep.AuthStack.RequireAuth)
				r.Post("/logout", dep.AuthHandler.Logout)
				r.Post("/logout-all", dep.AuthHandler.LogoutAll)
				r.With(middleware.RequireRole(domain.RoleAdmin)).Get("/stats", dep.AuthHandler.Stats)
			})
		})

		r.Group(func(r chi.Router) {
			r.Use(dep.AuthStack.RequireAuth)
			r.Get("/me", dep.AuthHandler.Me)
			r.Get("/me/sessions", dep.AuthHandler.Sessions)
			r.Delete("/me/sessions/{session_id}", dep.AuthHandler.RevokeSession)
		})
	})

	var h http.Handler = r
	if dep.EnableOTelHTTP {
		h = otelhttp.NewHandler(r, "http.server")
	}
	return h
}
