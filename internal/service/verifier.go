package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/classlane/portal-auth-service/internal/domain"
	"github.com/classlane/portal-auth-service/internal/observability"
	"github.com/classlane/portal-auth-service/internal/provider"
	"github.com/classlane/portal-auth-service/internal/repository"
	"github.com/classlane/portal-auth-service/internal/security"
)

// TokenKind is resolved once per presented token; each verification arm is
// then a plain function of the raw token.
type TokenKind int

const (
	TokenKindDev TokenKind = iota
	TokenKindSelfIssued
	TokenKindExternal
)

func (k TokenKind) String() string {
	switch k {
	case TokenKindDev:
		return "dev"
	case TokenKindSelfIssued:
		return "self_issued"
	default:
		return "external"
	}
}

// DevTokenPrefix marks the development bypass token. The prefix check runs
// before every other branch so the bypass can never be reached when the
// runtime is not in development mode.
const DevTokenPrefix = "dev-token-"

// devUser is the synthetic identity returned by the development bypass.
var devUser = domain.User{
	ID:       1,
	Email:    "dev@localhost",
	Name:     "Development User",
	Role:     domain.RoleAdmin,
	IsActive: true,
}

// Verifier turns a presented access credential into a fresh identity or a
// typed failure.
type Verifier struct {
	jwtMgr          *security.JWTManager
	users           repository.UserRepository
	idp             provider.TokenVerifier
	devMode         bool
	providerTimeout time.Duration
}

func NewVerifier(jwtMgr *security.JWTManager, users repository.UserRepository, idp provider.TokenVerifier, devMode bool, providerTimeout time.Duration) *Verifier {
	if providerTimeout <= 0 {
		providerTimeout = 5 * time.Second
	}
	return &Verifier{
		jwtMgr:          jwtMgr,
		users:           users,
		idp:             idp,
		devMode:         devMode,
		providerTimeout: providerTimeout,
	}
}

// Classify decides which verification arm handles the token. A token whose
// unverified issuer claim matches ours is treated as self-issued; the
// issuer peek is only a routing hint, never an authorization input.
func (v *Verifier) Classify(raw string) TokenKind {
	if strings.HasPrefix(raw, DevTokenPrefix) {
		return TokenKindDev
	}
	if security.PeekIssuer(raw) == v.jwtMgr.Issuer() {
		return TokenKindSelfIssued
	}
	return TokenKindExternal
}

// Verify dispatches on token kind. The self-issued arm's signature
// failures are non-terminal by policy: a token that merely looks like ours
// may still be a provider token, so it falls through to the external arm.
// Expiry of a token that parsed as ours is terminal and surfaced as
// ErrExpiredCredential so the caller can attempt a refresh.
func (v *Verifier) Verify(ctx context.Context, raw string) (*domain.User, error) {
	if raw == "" {
		return nil, ErrInvalidCredential
	}
	kind := v.Classify(raw)
	switch kind {
	case TokenKindDev:
		u, err := v.verifyDev()
		observability.RecordVerify(ctx, kind.String(), outcome(err))
		return u, err
	case TokenKindSelfIssued:
		u, err := v.verifySelfIssued(raw)
		if err == nil || !errors.Is(err, errFallthrough) {
			observability.RecordVerify(ctx, kind.String(), outcome(err))
			return u, err
		}
		kind = TokenKindExternal
		fallthrough
	default:
		u, err := v.verifyExternal(ctx, raw)
		observability.RecordVerify(ctx, kind.String(), outcome(err))
		return u, err
	}
}

// verifyDev only ever succeeds in development mode. In any other runtime
// the token is invalid outright, with no further dispatch.
func (v *Verifier) verifyDev() (*domain.User, error) {
	if !v.devMode {
		return nil, ErrInvalidCredential
	}
	u := devUser
	return &u, nil
}

// errFallthrough is internal to the dispatcher: the self-issued arm could
// not claim the token, try the external arm.
var errFallthrough = errors.New("not a self-issued token")

func (v *Verifier) verifySelfIssued(raw string) (*domain.User, error) {
	claims, err := v.jwtMgr.ParseAccessToken(raw)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredCredential
		}
		return nil, errFallthrough
	}
	userID, err := claims.UserID()
	if err != nil {
		return nil, ErrInvalidCredential
	}
	// The token's cached role is never trusted for authorization; the
	// identity is re-loaded so role and active-flag are current.
	user, err := v.users.FindByID(userID)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, ErrInvalidCredential
		}
		return nil, fmt.Errorf("load identity: %w", err)
	}
	if !user.IsActive {
		return nil, ErrInvalidCredential
	}
	return user, nil
}

func (v *Verifier) verifyExternal(ctx context.Context, raw string) (*domain.User, error) {
	if v.idp == nil {
		return nil, ErrInvalidCredential
	}
	ctx, cancel := context.WithTimeout(ctx, v.providerTimeout)
	defer cancel()
	claims, err := v.idp.VerifyToken(ctx, raw)
	if err != nil {
		switch {
		case errors.Is(err, provider.ErrUnavailable),
			errors.Is(err, context.DeadlineExceeded):
			return nil, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
		default:
			return nil, ErrInvalidCredential
		}
	}
	if !claims.EmailVerified {
		return nil, ErrInvalidCredential
	}
	user, err := v.users.FindOrCreateByEmail(&domain.User{
		Email:    claims.Email,
		Name:     claims.Name,
		Role:     domain.RoleTeacher,
		IsActive: true,
	})
	if err != nil {
		return nil, fmt.Errorf("provision identity: %w", err)
	}
	if !user.IsActive {
		return nil, ErrInvalidCredential
	}
	return user, nil
}

func outcome(err error) string {
	if err == nil {
		return "success"
	}
	switch {
	case errors.Is(err, ErrExpiredCredential):
		return "expired"
	case errors.Is(err, ErrProviderUnavailable):
		return "provider_unavailable"
	case errors.Is(err, ErrInvalidCredential):
		return "invalid"
	default:
		return "error"
	}
}
