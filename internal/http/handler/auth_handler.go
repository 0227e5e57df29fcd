// Package handler exposes the auth core over HTTP. Handlers stay thin:
// portal and identity come from middleware context, everything else is a
// service call plus cookie plumbing.
package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/classlane/portal-auth-service/internal/http/middleware"
	"github.com/classlane/portal-auth-service/internal/http/response"
	"github.com/classlane/portal-auth-service/internal/observability"
	"github.com/classlane/portal-auth-service/internal/portal"
	"github.com/classlane/portal-auth-service/internal/security"
	"github.com/classlane/portal-auth-service/internal/service"
)

const oauthStateCookie = "oauth_state"

type AuthHandler struct {
	auth     *service.AuthService
	tokens   *service.TokenService
	sessions *service.SessionService
	secure   bool
}

func NewAuthHandler(auth *service.AuthService, tokens *service.TokenService, sessions *service.SessionService, secureCookies bool) *AuthHandler {
	return &AuthHandler{auth: auth, tokens: tokens, sessions: sessions, secure: secureCookies}
}

// GoogleLogin starts the provider redirect flow. The state nonce rides in
// a short-lived cookie and is checked on callback.
func (h *AuthHandler) GoogleLogin(w http.ResponseWriter, r *http.Request) {
	state := uuid.NewString()
	security.SetAuthCookie(w, oauthStateCookie, state, 10*time.Minute, h.secure)
	http.Redirect(w, r, h.auth.GoogleLoginURL(state), http.StatusTemporaryRedirect)
}

// GoogleCallback finishes the login for the detected portal: exchanges the
// code, provisions the identity if needed, mints the token pair, creates
// the session and sets the portal-scoped carriers.
func (h *AuthHandler) GoogleCallback(w http.ResponseWriter, r *http.Request) {
	state := r.URL.Query().Get("state")
	if state == "" || state != security.GetCookie(r, oauthStateCookie) {
		response.Error(w, r, http.StatusBadRequest, "INVALID_STATE", "oauth state mismatch", nil)
		return
	}
	security.ClearAuthCookie(w, oauthStateCookie, h.secure)

	code := r.URL.Query().Get("code")
	if code == "" {
		response.Error(w, r, http.StatusBadRequest, "MISSING_CODE", "authorization code required", nil)
		return
	}

	p := middleware.PortalFromContext(r.Context())
	result, err := h.auth.LoginWithGoogleCode(r.Context(), code, p, service.TokenMetadata{
		UserAgent: r.UserAgent(),
		IP:        clientIP(r),
	})
	if err != nil {
		if errors.Is(err, service.ErrEmailNotVerified) {
			response.Error(w, r, http.StatusForbidden, "EMAIL_NOT_VERIFIED", "provider email is not verified", nil)
			return
		}
		observability.Audit(r, "login_failed", "portal", p.String(), "error", err.Error())
		response.Error(w, r, http.StatusBadGateway, "LOGIN_FAILED", "provider login failed", nil)
		return
	}

	names := p.Carriers()
	security.SetAuthCookie(w, names.Access, result.Pair.Access, h.tokens.AccessTTL(), h.secure)
	security.SetAuthCookie(w, names.Refresh, result.Pair.Refresh, h.tokens.RefreshTTL(), h.secure)
	security.SetAuthCookie(w, portal.LegacyCarrier, result.Session.ID, h.sessions.TTL(), h.secure)
	observability.Audit(r, "login", "user_id", result.User.ID, "portal", p.String(), "session_id", result.Session.ID)

	response.JSON(w, r, http.StatusOK, map[string]any{
		"user": map[string]any{
			"id":    result.User.ID,
			"email": result.User.Email,
			"name":  result.User.Name,
			"role":  result.User.Role,
		},
		"session_id": result.Session.ID,
		"portal":     p.String(),
	})
}

// Refresh exchanges the portal's refresh carrier for a fresh access
// credential. The refresh credential itself stays valid.
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	p := middleware.PortalFromContext(r.Context())
	names := p.Carriers()
	raw := security.GetCookie(r, names.Refresh)
	if raw == "" {
		response.Unauthenticated(w, r)
		return
	}
	access, user, err := h.tokens.Refresh(r.Context(), raw)
	if err != nil {
		security.ClearAuthCookie(w, names.Refresh, h.secure)
		response.Unauthenticated(w, r)
		return
	}
	security.SetAuthCookie(w, names.Access, access, h.tokens.AccessTTL(), h.secure)
	observability.Audit(r, "token_refreshed", "user_id", user.ID, "portal", p.String())
	response.JSON(w, r, http.StatusOK, map[string]any{"portal": p.String()})
}

// Logout ends the current login on the detected portal and clears its
// carriers. Replaying a logout is harmless.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	p := middleware.PortalFromContext(r.Context())
	names := p.Carriers()

	sessionID := security.GetCookie(r, portal.LegacyCarrier)
	recordID := ""
	if raw := security.GetCookie(r, names.Refresh); raw != "" {
		// An unparseable refresh credential has no revocable record.
		recordID, _ = h.tokens.RefreshRecordID(raw)
	}
	if err := h.auth.Logout(r.Context(), sessionID, recordID); err != nil {
		response.Error(w, r, http.StatusInternalServerError, "LOGOUT_FAILED", "could not end the login", nil)
		return
	}

	security.ClearAuthCookie(w, names.Access, h.secure)
	security.ClearAuthCookie(w, names.Refresh, h.secure)
	security.ClearAuthCookie(w, portal.LegacyCarrier, h.secure)
	if user, ok := middleware.IdentityFromContext(r.Context()); ok {
		observability.Audit(r, "logout", "user_id", user.ID, "portal", p.String())
	}
	response.NoContent(w)
}

// LogoutAll ends every login of the authenticated identity, both portals.
func (h *AuthHandler) LogoutAll(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.IdentityFromContext(r.Context())
	if !ok {
		response.Unauthenticated(w, r)
		return
	}
	if err := h.auth.LogoutAll(r.Context(), user.ID); err != nil {
		response.Error(w, r, http.StatusInternalServerError, "LOGOUT_FAILED", "could not end the logins", nil)
		return
	}
	p := middleware.PortalFromContext(r.Context())
	names := p.Carriers()
	security.ClearAuthCookie(w, names.Access, h.secure)
	security.ClearAuthCookie(w, names.Refresh, h.secure)
	security.ClearAuthCookie(w, portal.LegacyCarrier, h.secure)
	observability.Audit(r, "logout_all", "user_id", user.ID)
	response.NoContent(w)
}

// Me returns the fresh identity loaded during verification.
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.IdentityFromContext(r.Context())
	if !ok {
		response.Unauthenticated(w, r)
		return
	}
	response.JSON(w, r, http.StatusOK, map[string]any{
		"id":         user.ID,
		"email":      user.Email,
		"name":       user.Name,
		"role":       user.Role,
		"is_student": user.IsStudent,
		"portal":     middleware.PortalFromContext(r.Context()).String(),
	})
}

// Sessions lists the identity's sessions across both portals.
func (h *AuthHandler) Sessions(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.IdentityFromContext(r.Context())
	if !ok {
		response.Unauthenticated(w, r)
		return
	}
	views, err := h.sessions.ListUserSessions(user.ID)
	if err != nil {
		response.Error(w, r, http.StatusInternalServerError, "SESSIONS_UNAVAILABLE", "could not list sessions", nil)
		return
	}
	response.JSON(w, r, http.StatusOK, map[string]any{"sessions": views})
}

// RevokeSession invalidates one of the identity's own sessions.
func (h *AuthHandler) RevokeSession(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.IdentityFromContext(r.Context())
	if !ok {
		response.Unauthenticated(w, r)
		return
	}
	sessionID := chi.URLParam(r, "session_id")
	views, err := h.sessions.ListUserSessions(user.ID)
	if err != nil {
		response.Error(w, r, http.StatusInternalServerError, "SESSIONS_UNAVAILABLE", "could not load sessions", nil)
		return
	}
	owned := false
	for _, v := range views {
		if v.ID == sessionID {
			owned = true
			break
		}
	}
	if !owned {
		response.Error(w, r, http.StatusNotFound, "SESSION_NOT_FOUND", "no such session", nil)
		return
	}
	if err := h.sessions.Invalidate(r.Context(), sessionID); err != nil {
		response.Error(w, r, http.StatusInternalServerError, "REVOKE_FAILED", "could not revoke the session", nil)
		return
	}
	observability.Audit(r, "session_revoked", "user_id", user.ID, "session_id", sessionID)
	response.NoContent(w)
}

// Stats exposes aggregate session counts for operational visibility.
func (h *AuthHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.sessions.Stats()
	if err != nil {
		response.Error(w, r, http.StatusInternalServerError, "STATS_UNAVAILABLE", "could not compute stats", nil)
		return
	}
	response.JSON(w, r, http.StatusOK, stats)
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return fwd
	}
	return r.RemoteAddr
}
