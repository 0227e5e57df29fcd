package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/classlane/portal-auth-service/internal/domain"
	"github.com/classlane/portal-auth-service/internal/http/response"
	"github.com/classlane/portal-auth-service/internal/observability"
	"github.com/classlane/portal-auth-service/internal/portal"
	"github.com/classlane/portal-auth-service/internal/security"
	"github.com/classlane/portal-auth-service/internal/service"
)

type contextKey string

const (
	identityContextKey contextKey = "identity"
	portalContextKey   contextKey = "portal"
	sessionContextKey  contextKey = "session"
)

// AuthStack is the request-facing entry point of the auth core. Per
// request it resolves the portal first and from then on touches only that
// portal's credential carriers, so one portal's cookies can never
// authenticate the other.
type AuthStack struct {
	detector *portal.Detector
	verifier *service.Verifier
	tokens   *service.TokenService
	sessions *service.SessionService
	secure   bool
}

func NewAuthStack(detector *portal.Detector, verifier *service.Verifier, tokens *service.TokenService, sessions *service.SessionService, secureCookies bool) *AuthStack {
	return &AuthStack{
		detector: detector,
		verifier: verifier,
		tokens:   tokens,
		sessions: sessions,
		secure:   secureCookies,
	}
}

// DetectPortal resolves the portal from request signals and stores it in
// the context. It runs on every route, authenticated or not.
func (a *AuthStack) DetectPortal(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p := a.detector.Detect(portal.Signals{
			Host:    r.Host,
			Origin:  r.Header.Get("Origin"),
			Referer: r.Header.Get("Referer"),
		})
		ctx := context.WithValue(r.Context(), portalContextKey, p)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireAuth authenticates the request with the detected portal's access
// carrier. An expired access credential is renewed in-flight from the same
// portal's refresh carrier; the renewed credential is set on the response
// so the client converges without a round trip.
func (a *AuthStack) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p := PortalFromContext(r.Context())
		names := p.Carriers()

		raw := security.GetCookie(r, names.Access)
		if raw == "" {
			auth := r.Header.Get("Authorization")
			if strings.HasPrefix(strings.ToLower(auth), "bearer ") {
				raw = strings.TrimSpace(auth[7:])
			}
		}

		var user *domain.User
		switch {
		case raw == "":
			user = a.renewFromRefresh(w, r, p)
		default:
			var err error
			user, err = a.verifier.Verify(r.Context(), raw)
			switch {
			case err == nil:
			case errors.Is(err, service.ErrExpiredCredential):
				user = a.renewFromRefresh(w, r, p)
			case errors.Is(err, service.ErrProviderUnavailable):
				response.RetryableUnavailable(w, r, "identity provider unavailable")
				return
			default:
				user = nil
			}
		}
		if user == nil {
			response.Unauthenticated(w, r)
			return
		}

		ctx := context.WithValue(r.Context(), identityContextKey, user)

		// The session rides along on its own carrier. A dead or absent
		// session does not fail the request; the access credential already
		// authenticated it.
		if sid := security.GetCookie(r, portal.LegacyCarrier); sid != "" {
			if view, err := a.sessions.Validate(ctx, sid); err == nil && view != nil {
				ctx = context.WithValue(ctx, sessionContextKey, view)
			}
		}

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// renewFromRefresh mints a new access credential from the portal's
// refresh carrier and returns the authenticated identity, or nil.
func (a *AuthStack) renewFromRefresh(w http.ResponseWriter, r *http.Request, p portal.Portal) *domain.User {
	names := p.Carriers()
	refreshRaw := security.GetCookie(r, names.Refresh)
	if refreshRaw == "" {
		return nil
	}
	access, user, err := a.tokens.Refresh(r.Context(), refreshRaw)
	if err != nil {
		return nil
	}
	security.SetAuthCookie(w, names.Access, access, a.tokens.AccessTTL(), a.secure)
	observability.Audit(r, "access_token_renewed", "user_id", user.ID, "portal", p.String())
	return user
}

// RequireRole gates a route on the authenticated identity's current role.
func RequireRole(role string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, ok := IdentityFromContext(r.Context())
			if !ok {
				response.Unauthenticated(w, r)
				return
			}
			if user.Role != role {
				response.Error(w, r, http.StatusForbidden, "FORBIDDEN", "insufficient role", map[string]string{"required": role})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func IdentityFromContext(ctx context.Context) (*domain.User, bool) {
	u, ok := ctx.Value(identityContextKey).(*domain.User)
	return u, ok
}

// PortalFromContext returns the detected portal, defaulting to the
// primary portal when detection never ran.
func PortalFromContext(ctx context.Context) portal.Portal {
	if p, ok := ctx.Value(portalContextKey).(portal.Portal); ok {
		return p
	}
	return portal.Teacher
}

func SessionFromContext(ctx context.Context) (*service.SessionView, bool) {
	v, ok := ctx.Value(sessionContextKey).(*service.SessionView)
	return v, ok
}
