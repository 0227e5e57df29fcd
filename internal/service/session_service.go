package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/classlane/portal-auth-service/internal/domain"
	"github.com/classlane/portal-auth-service/internal/observability"
	"github.com/classlane/portal-auth-service/internal/portal"
	"github.com/classlane/portal-auth-service/internal/repository"
)

// extendThreshold is the remaining lifetime below which validation
// auto-extends a session.
const extendThreshold = 2 * time.Hour

type SessionView struct {
	ID             string     `json:"id"`
	UserID         uint       `json:"user_id"`
	Portal         string     `json:"portal"`
	CreatedAt      time.Time  `json:"created_at"`
	LastAccessedAt time.Time  `json:"last_accessed_at"`
	ExpiresAt      time.Time  `json:"expires_at"`
	IsActive       bool       `json:"is_active"`
	InvalidatedAt  *time.Time `json:"invalidated_at,omitempty"`
	UserAgent      string     `json:"user_agent"`
	IP             string     `json:"ip"`
	LoginMethod    string     `json:"login_method"`
}

func viewOf(s *domain.Session) *SessionView {
	return &SessionView{
		ID:             s.ID,
		UserID:         s.UserID,
		Portal:         s.Portal,
		CreatedAt:      s.CreatedAt,
		LastAccessedAt: s.LastAccessedAt,
		ExpiresAt:      s.ExpiresAt,
		IsActive:       s.IsActive,
		InvalidatedAt:  s.InvalidatedAt,
		UserAgent:      s.UserAgent,
		IP:             s.IP,
		LoginMethod:    s.LoginMethod,
	}
}

// SessionService owns the login-session lifecycle. Sessions and refresh
// tokens are independent entities: either can outlive the other, and each
// has its own revocation path.
type SessionService struct {
	sessions repository.SessionRepository
	tokens   repository.RefreshTokenRepository
	cleanup  *CleanupPolicy
	dead     DeadSessionCache
	ttl      time.Duration
}

func NewSessionService(sessions repository.SessionRepository, tokens repository.RefreshTokenRepository, cleanup *CleanupPolicy, dead DeadSessionCache, ttl time.Duration) *SessionService {
	if cleanup == nil {
		cleanup = DefaultCleanupPolicy()
	}
	if dead == nil {
		dead = NewInMemoryDeadSessionCache()
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &SessionService{sessions: sessions, tokens: tokens, cleanup: cleanup, dead: dead, ttl: ttl}
}

func (s *SessionService) TTL() time.Duration { return s.ttl }

func (s *SessionService) Create(userID uint, p portal.Portal, meta TokenMetadata) (*domain.Session, error) {
	now := time.Now()
	session := &domain.Session{
		ID:             uuid.NewString(),
		UserID:         userID,
		Portal:         p.String(),
		IsActive:       true,
		LastAccessedAt: now,
		ExpiresAt:      now.Add(s.ttl),
		UserAgent:      meta.UserAgent,
		IP:             meta.IP,
		LoginMethod:    meta.LoginMethod,
	}
	if err := s.sessions.Create(session); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	return session, nil
}

// Validate loads a session and returns a view of it, or nil when the
// session is absent or not live. A nil view means "not authenticated",
// never an error. Dead sessions are left in place for the garbage
// collector so the invalidation audit trail survives a grace period.
func (s *SessionService) Validate(ctx context.Context, id string) (*SessionView, error) {
	if hit, err := s.dead.Contains(ctx, id); err != nil {
		slog.Warn("dead session cache lookup", "error", err)
	} else if hit {
		observability.RecordSessionValidation(ctx, "cached_dead")
		return nil, nil
	}

	session, err := s.sessions.FindByID(id)
	if err != nil {
		if errors.Is(err, repository.ErrSessionNotFound) {
			s.markDead(ctx, id)
			observability.RecordSessionValidation(ctx, "not_found")
			return nil, nil
		}
		observability.RecordSessionValidation(ctx, "error")
		return nil, fmt.Errorf("load session: %w", err)
	}

	if s.cleanup.ShouldRun() {
		s.opportunisticCleanup(ctx, session.UserID)
	}

	now := time.Now()
	if !session.Live(now) {
		s.markDead(ctx, id)
		observability.RecordSessionValidation(ctx, "not_live")
		return nil, nil
	}

	// Extension writes an absolute now+TTL, so concurrent validations of
	// the same session converge instead of compounding.
	if session.ExpiresAt.Sub(now) < extendThreshold {
		until := now.Add(s.ttl)
		if err := s.sessions.ExtendExpiry(session.ID, until); err != nil {
			slog.Warn("extend session expiry", "session_id", session.ID, "error", err)
		} else {
			session.ExpiresAt = until
		}
	}
	if err := s.sessions.Touch(session.ID, now); err != nil {
		slog.Warn("touch session", "session_id", session.ID, "error", err)
	}
	session.LastAccessedAt = now
	observability.RecordSessionValidation(ctx, "valid")
	return viewOf(session), nil
}

// opportunisticCleanup amortizes expiry cleanup across normal validation
// traffic. Failures are logged and swallowed; this is an optimization, not
// a correctness requirement.
func (s *SessionService) opportunisticCleanup(ctx context.Context, userID uint) {
	limit := s.cleanup.BatchSize()
	if n, err := s.sessions.DeleteExpiredForUser(userID, limit); err != nil {
		slog.Warn("opportunistic session cleanup", "user_id", userID, "error", err)
	} else {
		observability.RecordSweep(ctx, "opportunistic", "session", n)
	}
	if n, err := s.tokens.DeleteExpiredForUser(userID, limit); err != nil {
		slog.Warn("opportunistic refresh token cleanup", "user_id", userID, "error", err)
	} else {
		observability.RecordSweep(ctx, "opportunistic", "refresh_token", n)
	}
}

// markDead is best effort. A cache failure only costs a database read on
// the next replay.
func (s *SessionService) markDead(ctx context.Context, id string) {
	if err := s.dead.Mark(ctx, id, deadSessionCacheTTL); err != nil {
		slog.Warn("dead session cache mark", "error", err)
	}
}

// Invalidate soft-ends a session. Calling it twice is the same as once.
func (s *SessionService) Invalidate(ctx context.Context, id string) error {
	changed, err := s.sessions.Invalidate(id)
	if err != nil {
		return fmt.Errorf("invalidate session: %w", err)
	}
	if changed {
		s.markDead(ctx, id)
		observability.RecordRevocation(ctx, "session", 1)
	}
	return nil
}

func (s *SessionService) InvalidateAllForUser(ctx context.Context, userID uint) (int64, error) {
	n, err := s.sessions.InvalidateAllForUser(userID)
	if err != nil {
		return n, fmt.Errorf("invalidate sessions: %w", err)
	}
	observability.RecordRevocation(ctx, "session_all", n)
	return n, nil
}

// InvalidateAllForPortal ends a user's sessions on one portal only,
// optionally sparing the current session.
func (s *SessionService) InvalidateAllForPortal(ctx context.Context, userID uint, p portal.Portal, exceptID string) (int64, error) {
	n, err := s.sessions.InvalidateAllForPortal(userID, p.String(), exceptID)
	if err != nil {
		return n, fmt.Errorf("invalidate portal sessions: %w", err)
	}
	observability.RecordRevocation(ctx, "session_portal", n)
	return n, nil
}

func (s *SessionService) ListUserSessions(userID uint) ([]SessionView, error) {
	sessions, err := s.sessions.ListByUserID(userID)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	views := make([]SessionView, 0, len(sessions))
	for i := range sessions {
		views = append(views, *viewOf(&sessions[i]))
	}
	return views, nil
}

func (s *SessionService) Stats() (*repository.SessionStats, error) {
	return s.sessions.Stats()
}
