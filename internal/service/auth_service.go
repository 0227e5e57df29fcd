package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/classlane/portal-auth-service/internal/domain"
	"github.com/classlane/portal-auth-service/internal/portal"
	"github.com/classlane/portal-auth-service/internal/provider"
	"github.com/classlane/portal-auth-service/internal/repository"
)

var ErrEmailNotVerified = errors.New("provider email not verified")

type LoginResult struct {
	User    *domain.User
	Pair    *TokenPair
	Session *domain.Session
}

// AuthService composes the login and logout flows: one verified provider
// identity in, one token pair plus one session out.
type AuthService struct {
	exchanger provider.CodeExchanger
	users     repository.UserRepository
	tokens    *TokenService
	sessions  *SessionService
}

func NewAuthService(exchanger provider.CodeExchanger, users repository.UserRepository, tokens *TokenService, sessions *SessionService) *AuthService {
	return &AuthService{exchanger: exchanger, users: users, tokens: tokens, sessions: sessions}
}

func (s *AuthService) GoogleLoginURL(state string) string {
	return s.exchanger.AuthCodeURL(state)
}

// LoginWithGoogleCode finishes the redirect flow for the given portal. The
// session and the refresh record it creates are independent: revoking one
// later does not end the other.
func (s *AuthService) LoginWithGoogleCode(ctx context.Context, code string, p portal.Portal, meta TokenMetadata) (*LoginResult, error) {
	tok, err := s.exchanger.Exchange(ctx, code)
	if err != nil {
		return nil, err
	}
	claims, err := s.exchanger.FetchUserInfo(ctx, tok)
	if err != nil {
		return nil, err
	}
	if !claims.EmailVerified {
		return nil, ErrEmailNotVerified
	}
	user, err := s.users.FindOrCreateByEmail(&domain.User{
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
	meta.LoginMethod = "google"
	pair, err := s.tokens.IssuePair(user, p, meta)
	if err != nil {
		return nil, err
	}
	session, err := s.sessions.Create(user.ID, p, meta)
	if err != nil {
		return nil, err
	}
	return &LoginResult{User: user, Pair: pair, Session: session}, nil
}

// Logout ends one login: the session is invalidated and the refresh
// record revoked. Both halves are idempotent, so replayed logouts are
// harmless.
func (s *AuthService) Logout(ctx context.Context, sessionID, refreshRecordID string) error {
	var errs []error
	if sessionID != "" {
		if err := s.sessions.Invalidate(ctx, sessionID); err != nil {
			errs = append(errs, err)
		}
	}
	if refreshRecordID != "" {
		if err := s.tokens.Revoke(ctx, refreshRecordID); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// LogoutAll ends every login of the identity across both portals.
func (s *AuthService) LogoutAll(ctx context.Context, userID uint) error {
	var errs []error
	if _, err := s.sessions.InvalidateAllForUser(ctx, userID); err != nil {
		errs = append(errs, err)
	}
	if _, err := s.tokens.RevokeAll(ctx, userID); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// LogoutPortal ends the identity's logins on a single portal, optionally
// keeping the current session alive.
func (s *AuthService) LogoutPortal(ctx context.Context, userID uint, p portal.Portal, exceptSessionID string) error {
	var errs []error
	if _, err := s.sessions.InvalidateAllForPortal(ctx, userID, p, exceptSessionID); err != nil {
		errs = append(errs, err)
	}
	if _, err := s.tokens.RevokeAllForPortal(ctx, userID, p); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
