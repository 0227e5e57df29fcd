package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/classlane/portal-auth-service/internal/domain"
	"github.com/classlane/portal-auth-service/internal/observability"
	"github.com/classlane/portal-auth-service/internal/portal"
	"github.com/classlane/portal-auth-service/internal/repository"
	"github.com/classlane/portal-auth-service/internal/security"
)

// TokenMetadata is the free-form context recorded with a refresh token.
type TokenMetadata struct {
	UserAgent   string
	IP          string
	LoginMethod string
}

type TokenPair struct {
	Access          string
	Refresh         string
	RefreshRecordID string
}

// TokenService mints access and refresh credentials and mediates refresh
// and revocation. Refresh tokens are deliberately not rotated on use: a
// token stays valid until its own expiry or explicit revocation. Closing
// the replay window with rotate-on-use is a known product decision that
// has not been taken.
type TokenService struct {
	jwtMgr     *security.JWTManager
	tokens     repository.RefreshTokenRepository
	users      repository.UserRepository
	pepper     []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
}

func NewTokenService(jwtMgr *security.JWTManager, tokens repository.RefreshTokenRepository, users repository.UserRepository, pepper []byte, accessTTL, refreshTTL time.Duration) *TokenService {
	return &TokenService{
		jwtMgr:     jwtMgr,
		tokens:     tokens,
		users:      users,
		pepper:     pepper,
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
	}
}

func (s *TokenService) AccessTTL() time.Duration  { return s.accessTTL }
func (s *TokenService) RefreshTTL() time.Duration { return s.refreshTTL }

// IssueAccessToken signs a stateless, short-lived access credential.
func (s *TokenService) IssueAccessToken(user *domain.User, p portal.Portal) (string, error) {
	return s.jwtMgr.SignAccessToken(user.ID, user.Role, p.String(), s.accessTTL)
}

// IssueRefreshToken mints a signed refresh credential and persists its
// record. The record id is embedded as the token's jti, and the row keeps
// only a hash of the full signed string.
func (s *TokenService) IssueRefreshToken(user *domain.User, p portal.Portal, meta TokenMetadata) (refresh string, recordID string, err error) {
	recordID = uuid.NewString()
	refresh, err = s.jwtMgr.SignRefreshToken(user.ID, recordID, p.String(), s.refreshTTL)
	if err != nil {
		return "", "", fmt.Errorf("sign refresh token: %w", err)
	}
	record := &domain.RefreshToken{
		ID:          recordID,
		UserID:      user.ID,
		TokenHash:   security.HashRefreshToken(refresh, s.pepper),
		ExpiresAt:   time.Now().Add(s.refreshTTL),
		UserAgent:   meta.UserAgent,
		IP:          meta.IP,
		LoginMethod: meta.LoginMethod,
		Portal:      p.String(),
	}
	if err := s.tokens.Create(record); err != nil {
		return "", "", fmt.Errorf("persist refresh token record: %w", err)
	}
	return refresh, recordID, nil
}

func (s *TokenService) IssuePair(user *domain.User, p portal.Portal, meta TokenMetadata) (*TokenPair, error) {
	access, err := s.IssueAccessToken(user, p)
	if err != nil {
		return nil, fmt.Errorf("sign access token: %w", err)
	}
	refresh, recordID, err := s.IssueRefreshToken(user, p, meta)
	if err != nil {
		return nil, err
	}
	return &TokenPair{Access: access, Refresh: refresh, RefreshRecordID: recordID}, nil
}

// Refresh validates a presented refresh credential against its persisted
// record and mints a new access credential. The refresh credential itself
// is left as-is and remains usable.
func (s *TokenService) Refresh(ctx context.Context, raw string) (access string, user *domain.User, err error) {
	access, user, err = s.refresh(raw)
	observability.RecordRefresh(ctx, refreshOutcome(err))
	return access, user, err
}

func (s *TokenService) refresh(raw string) (string, *domain.User, error) {
	claims, err := s.jwtMgr.ParseRefreshToken(raw)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", nil, ErrRefreshExpired
		}
		return "", nil, ErrRefreshInvalid
	}

	record, err := s.tokens.FindByID(claims.ID)
	if err != nil {
		if errors.Is(err, repository.ErrRefreshTokenNotFound) {
			return "", nil, ErrRefreshInvalid
		}
		return "", nil, fmt.Errorf("load refresh record: %w", err)
	}
	// Hash mismatch means the record id was replayed with a different
	// secret; treat as forgery.
	if security.HashRefreshToken(raw, s.pepper) != record.TokenHash {
		return "", nil, ErrRefreshInvalid
	}
	if record.RevokedAt != nil {
		return "", nil, ErrRefreshRevoked
	}
	now := time.Now()
	if !record.ExpiresAt.After(now) {
		// The record is dead weight; removing it here saves the sweeper a
		// row. Failure is harmless.
		if delErr := s.tokens.DeleteByID(record.ID); delErr != nil {
			slog.Warn("delete expired refresh record", "record_id", record.ID, "error", delErr)
		}
		return "", nil, ErrRefreshExpired
	}

	user, err := s.users.FindByID(record.UserID)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return "", nil, ErrRefreshInvalid
		}
		return "", nil, fmt.Errorf("load identity: %w", err)
	}
	if !user.IsActive {
		return "", nil, ErrRefreshInvalid
	}

	if err := s.tokens.TouchLastUsed(record.ID, now); err != nil {
		slog.Warn("touch refresh record", "record_id", record.ID, "error", err)
	}
	access, err := s.jwtMgr.SignAccessToken(user.ID, user.Role, record.Portal, s.accessTTL)
	if err != nil {
		return "", nil, fmt.Errorf("sign access token: %w", err)
	}
	return access, user, nil
}

// RefreshRecordID extracts the persisted record id from a signed refresh
// credential without consulting the store. Used at logout to find the
// record to revoke.
func (s *TokenService) RefreshRecordID(raw string) (string, error) {
	claims, err := s.jwtMgr.ParseRefreshToken(raw)
	if err != nil {
		return "", ErrRefreshInvalid
	}
	return claims.ID, nil
}

// Revoke marks a single refresh record revoked. Revoking twice is a no-op.
func (s *TokenService) Revoke(ctx context.Context, recordID string) error {
	changed, err := s.tokens.Revoke(recordID)
	if err != nil {
		return err
	}
	if changed {
		observability.RecordRevocation(ctx, "single", 1)
	}
	return nil
}

func (s *TokenService) RevokeAll(ctx context.Context, userID uint) (int64, error) {
	n, err := s.tokens.RevokeAllForUser(userID)
	if err != nil {
		return n, err
	}
	observability.RecordRevocation(ctx, "all", n)
	return n, nil
}

func (s *TokenService) RevokeAllForPortal(ctx context.Context, userID uint, p portal.Portal) (int64, error) {
	n, err := s.tokens.RevokeAllForPortal(userID, p.String())
	if err != nil {
		return n, err
	}
	observability.RecordRevocation(ctx, "portal", n)
	return n, nil
}

func refreshOutcome(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ErrRefreshExpired):
		return "expired"
	case errors.Is(err, ErrRefreshRevoked):
		return "revoked"
	case errors.Is(err, ErrRefreshInvalid):
		return "invalid"
	default:
		return "error"
	}
}
